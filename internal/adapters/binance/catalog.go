package binance

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/arbelos/usdm/internal/numeric"
	"github.com/arbelos/usdm/internal/schema"
)

// deniedSymbols lists contracts excluded from the catalog: delisted or
// otherwise untradeable perpetuals that the exchangeInfo payload still
// advertises.
var deniedSymbols = map[string]struct{}{
	"BTSUSDT":   {},
	"TOMOUSDT":  {},
	"SCUSDT":    {},
	"HNTUSDT":   {},
	"SRMUSDT":   {},
	"FTTUSDT":   {},
	"RAYUSDT":   {},
	"CVCUSDT":   {},
	"COCOSUSDT": {},
	"STRAXUSDT": {},
	"DGBUSDT":   {},
	"ANTUSDT":   {},
	"CTKUSDT":   {},
}

// stableAssets valuate 1:1 against USDT when converting balances.
var stableAssets = map[string]struct{}{
	"USDT":  {},
	"USDC":  {},
	"FDUSD": {},
}

func symbolDenied(symbol string) bool {
	_, ok := deniedSymbols[strings.ToUpper(strings.TrimSpace(symbol))]
	return ok
}

func assetStable(asset string) bool {
	_, ok := stableAssets[strings.ToUpper(strings.TrimSpace(asset))]
	return ok
}

// buildCatalog filters denylisted contracts out of the raw market list and
// folds the leverage brackets into each entry's limits.
func buildCatalog(markets []schema.Market, brackets map[string]schema.LeverageLimits) []schema.Market {
	out := make([]schema.Market, 0, len(markets))
	for _, market := range markets {
		if symbolDenied(market.Symbol) {
			continue
		}
		if limits, ok := brackets[market.Symbol]; ok {
			market.Limits.Leverage = limits
		}
		out = append(out, market)
	}
	return out
}

// mergeTickers combines the 24h statistics, latest trade prices, best
// bid/ask, and mark/index snapshots into per-symbol tickers, keyed by venue
// symbol. The price snapshot is fresher than the 24h lastPrice and wins when
// present.
func mergeTickers(day map[string]schema.Ticker, prices map[string]decimal.Decimal, book map[string]bookTickerEntry, premium map[string]premiumIndexEntry) map[string]schema.Ticker {
	out := make(map[string]schema.Ticker, len(day))
	for symbol, ticker := range day {
		if price, ok := prices[symbol]; ok && price.Sign() > 0 {
			ticker.Last = price
		}
		if entry, ok := book[symbol]; ok {
			ticker.Bid = numeric.ParseOrZero(entry.BidPrice)
			ticker.Ask = numeric.ParseOrZero(entry.AskPrice)
		}
		if entry, ok := premium[symbol]; ok {
			ticker.Mark = numeric.ParseOrZero(entry.MarkPrice)
			ticker.Index = numeric.ParseOrZero(entry.IndexPrice)
			ticker.FundingRate = numeric.ParseOrZero(entry.LastFundingRate)
		}
		out[symbol] = ticker
	}
	return out
}
