package binance

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/arbelos/usdm/errs"
	"github.com/arbelos/usdm/internal/schema"
	"github.com/arbelos/usdm/internal/store"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func btcMarket() schema.Market {
	return schema.Market{
		ID:     "BTC/USDT:USDT",
		Symbol: "BTCUSDT",
		Base:   "BTC",
		Quote:  "USDT",
		Active: true,
		Precision: schema.MarketPrecision{
			Amount: dec("0.1"),
			Price:  dec("0.01"),
		},
		Limits: schema.MarketLimits{
			Amount:      schema.AmountLimits{Min: dec("0.1"), Max: dec("100")},
			MinNotional: dec("5"),
			Leverage:    schema.LeverageLimits{Min: 1, Max: 125},
		},
	}
}

func ethMarket() schema.Market {
	return schema.Market{
		ID:     "ETH/USDT:USDT",
		Symbol: "ETHUSDT",
		Base:   "ETH",
		Quote:  "USDT",
		Active: true,
		Precision: schema.MarketPrecision{
			Amount: dec("0.001"),
			Price:  dec("0.1"),
		},
		Limits: schema.MarketLimits{
			Amount:      schema.AmountLimits{Min: dec("0.001")},
			MinNotional: dec("10"),
			Leverage:    schema.LeverageLimits{Min: 1, Max: 100},
		},
	}
}

// newTestFormatter wires a formatter over a seeded store with sequential
// client IDs so payloads are comparable.
func newTestFormatter(markets ...schema.Market) (*Formatter, *store.Store) {
	st := store.New()
	st.ReplaceMarkets(markets)
	f := NewFormatter(st)
	seq := 0
	f.newID = func() string {
		seq++
		return fmt.Sprintf("cid-%d", seq)
	}
	return f, st
}

func fieldOrFatal(t *testing.T, p *schema.PayloadOrder, key string) string {
	t.Helper()
	v, ok := p.Get(key)
	if !ok {
		t.Fatalf("expected field %q in payload %v", key, p.Keys())
	}
	return v
}

func TestFormatSimpleOversizeLotSplit(t *testing.T) {
	f, _ := newTestFormatter(btcMarket())

	payloads, err := f.FormatSimple(schema.SimpleIntent{
		Symbol: "BTCUSDT",
		Type:   schema.OrderTypeMarket,
		Side:   schema.OrderSideBuy,
		Amount: dec("250.35"),
	})
	if err != nil {
		t.Fatalf("format simple: %v", err)
	}
	if len(payloads) != 4 {
		t.Fatalf("expected 3 equal lots plus remainder, got %d payloads", len(payloads))
	}
	for i := 0; i < 3; i++ {
		if got := fieldOrFatal(t, payloads[i], "quantity"); got != "83.4" {
			t.Fatalf("lot %d: expected quantity 83.4, got %s", i, got)
		}
	}
	if got := fieldOrFatal(t, payloads[3], "quantity"); got != "0.15" {
		t.Fatalf("remainder lot: expected 0.15, got %s", got)
	}

	// The snapped lots plus the raw remainder must reconstruct the request.
	var sum decimal.Decimal
	for _, p := range payloads {
		sum = sum.Add(dec(fieldOrFatal(t, p, "quantity")))
	}
	if !sum.Equal(dec("250.35")) {
		t.Fatalf("lot quantities must sum to the requested amount, got %s", sum)
	}

	seen := map[string]bool{}
	for _, p := range payloads {
		id := p.ClientID()
		if id == "" || seen[id] {
			t.Fatalf("client IDs must be unique and non-empty, got %q", id)
		}
		seen[id] = true
	}
}

func TestFormatSimpleLimitDefaults(t *testing.T) {
	f, _ := newTestFormatter(btcMarket())

	payloads, err := f.FormatSimple(schema.SimpleIntent{
		Symbol: "BTCUSDT",
		Type:   schema.OrderTypeLimit,
		Side:   schema.OrderSideSell,
		Price:  dec("50000.128"),
		Amount: dec("1.25"),
	})
	if err != nil {
		t.Fatalf("format simple: %v", err)
	}
	if len(payloads) != 1 {
		t.Fatalf("expected a single payload, got %d", len(payloads))
	}
	p := payloads[0]
	if got := fieldOrFatal(t, p, "price"); got != "50000.12" {
		t.Fatalf("expected price snapped to 50000.12, got %s", got)
	}
	if got := fieldOrFatal(t, p, "quantity"); got != "1.2" {
		t.Fatalf("expected quantity snapped to 1.2, got %s", got)
	}
	if got := fieldOrFatal(t, p, "timeInForce"); got != "GTC" {
		t.Fatalf("expected GTC default, got %s", got)
	}
	if got := fieldOrFatal(t, p, "side"); got != "SELL" {
		t.Fatalf("expected SELL, got %s", got)
	}
	if got := fieldOrFatal(t, p, "positionSide"); got != "BOTH" {
		t.Fatalf("one-way accounts place on BOTH, got %s", got)
	}
}

func TestFormatSimpleTriggerClosesPosition(t *testing.T) {
	f, _ := newTestFormatter(btcMarket())

	payloads, err := f.FormatSimple(schema.SimpleIntent{
		Symbol: "BTCUSDT",
		Type:   schema.OrderTypeStopLoss,
		Side:   schema.OrderSideSell,
		Price:  dec("48000.5"),
		Amount: dec("1"),
	})
	if err != nil {
		t.Fatalf("format simple: %v", err)
	}
	p := payloads[0]
	if got := fieldOrFatal(t, p, "type"); got != "STOP_MARKET" {
		t.Fatalf("expected STOP_MARKET, got %s", got)
	}
	if got := fieldOrFatal(t, p, "stopPrice"); got != "48000.50" {
		t.Fatalf("trigger price must land on the price tick, got %s", got)
	}
	if got := fieldOrFatal(t, p, "closePosition"); got != "true" {
		t.Fatalf("expected closePosition=true, got %s", got)
	}
	if p.Has("quantity") {
		t.Fatalf("close-position triggers must not carry quantity")
	}
	if p.Has("reduceOnly") {
		t.Fatalf("close-position triggers must not carry reduceOnly")
	}
}

func TestFormatSimpleStopPricesSnapToTick(t *testing.T) {
	f, _ := newTestFormatter(btcMarket())

	payloads, err := f.FormatSimple(schema.SimpleIntent{
		Symbol: "BTCUSDT",
		Type:   schema.OrderTypeStopLoss,
		Side:   schema.OrderSideSell,
		Price:  dec("95.123456"),
		Amount: dec("1"),
	})
	if err != nil {
		t.Fatalf("format simple: %v", err)
	}
	if got := fieldOrFatal(t, payloads[0], "stopPrice"); got != "95.12" {
		t.Fatalf("off-tick trigger price must snap down to the tick, got %s", got)
	}

	payloads, err = f.FormatSimple(schema.SimpleIntent{
		Symbol:   "BTCUSDT",
		Type:     schema.OrderTypeMarket,
		Side:     schema.OrderSideBuy,
		Amount:   dec("1"),
		StopLoss: dec("48000.009"),
	})
	if err != nil {
		t.Fatalf("format simple: %v", err)
	}
	if len(payloads) != 2 {
		t.Fatalf("expected entry plus attached stop, got %d payloads", len(payloads))
	}
	if got := fieldOrFatal(t, payloads[1], "stopPrice"); got != "48000.00" {
		t.Fatalf("attached stop price must snap down to the tick, got %s", got)
	}
}

func TestFormatSimpleAttachedStopHedgeMode(t *testing.T) {
	f, st := newTestFormatter(btcMarket())
	st.SetHedged(true)

	payloads, err := f.FormatSimple(schema.SimpleIntent{
		Symbol:   "BTCUSDT",
		Type:     schema.OrderTypeLimit,
		Side:     schema.OrderSideBuy,
		Price:    dec("50000"),
		Amount:   dec("1"),
		StopLoss: dec("48000"),
	})
	if err != nil {
		t.Fatalf("format simple: %v", err)
	}
	if len(payloads) != 2 {
		t.Fatalf("expected entry plus attached stop, got %d payloads", len(payloads))
	}

	entry, stop := payloads[0], payloads[1]
	if got := fieldOrFatal(t, entry, "positionSide"); got != "LONG" {
		t.Fatalf("hedged buy entry targets LONG, got %s", got)
	}
	if got := fieldOrFatal(t, stop, "side"); got != "SELL" {
		t.Fatalf("attached stop flips the order side, got %s", got)
	}
	if got := fieldOrFatal(t, stop, "positionSide"); got != "SHORT" {
		t.Fatalf("attached stop position side derives from the original side with the trigger flip, got %s", got)
	}
	if got := fieldOrFatal(t, stop, "type"); got != "STOP_MARKET" {
		t.Fatalf("expected STOP_MARKET, got %s", got)
	}
	if got := fieldOrFatal(t, stop, "closePosition"); got != "true" {
		t.Fatalf("expected closePosition=true, got %s", got)
	}
	if entry.ClientID() == stop.ClientID() {
		t.Fatalf("attached stop must carry its own client ID")
	}
}

func TestFormatTrailingStop(t *testing.T) {
	f, st := newTestFormatter(btcMarket())
	st.SetTicker(schema.Ticker{Symbol: "BTCUSDT", Last: dec("1000")})
	st.ReplacePositions([]schema.Position{{
		Symbol:    "BTCUSDT",
		Side:      schema.PositionSideLong,
		Contracts: dec("2.5"),
	}})

	payloads, err := f.FormatSimple(schema.SimpleIntent{
		Symbol: "BTCUSDT",
		Type:   schema.OrderTypeTrailingStopLoss,
		Side:   schema.OrderSideSell,
		Price:  dec("980"),
	})
	if err != nil {
		t.Fatalf("format trailing: %v", err)
	}
	p := payloads[0]
	if got := fieldOrFatal(t, p, "type"); got != "TRAILING_STOP_MARKET" {
		t.Fatalf("expected TRAILING_STOP_MARKET, got %s", got)
	}
	if got := fieldOrFatal(t, p, "callbackRate"); got != "2" {
		t.Fatalf("expected callback rate 2 for a 2%% distance, got %s", got)
	}
	if got := fieldOrFatal(t, p, "quantity"); got != "2.5" {
		t.Fatalf("trailing stop sizes to the open position, got %s", got)
	}
	if got := fieldOrFatal(t, p, "priceProtect"); got != "true" {
		t.Fatalf("expected priceProtect=true, got %s", got)
	}
}

func TestFormatTrailingRequiresTickerAndPosition(t *testing.T) {
	f, st := newTestFormatter(btcMarket())

	intent := schema.SimpleIntent{
		Symbol: "BTCUSDT",
		Type:   schema.OrderTypeTrailingStopLoss,
		Side:   schema.OrderSideSell,
		Price:  dec("980"),
	}
	if _, err := f.FormatSimple(intent); !errs.HasCode(err, errs.CodeTickerNotFound) {
		t.Fatalf("expected ticker_not_found, got %v", err)
	}

	st.SetTicker(schema.Ticker{Symbol: "BTCUSDT", Last: dec("1000")})
	if _, err := f.FormatSimple(intent); !errs.HasCode(err, errs.CodePositionNotFound) {
		t.Fatalf("expected position_not_found, got %v", err)
	}
}

func TestFormatSplitEqualWeights(t *testing.T) {
	f, st := newTestFormatter(ethMarket())
	st.SetTicker(schema.Ticker{Symbol: "ETHUSDT", Last: dec("105")})

	payloads, err := f.FormatSplit(schema.SplitIntent{
		Symbol:    "ETHUSDT",
		Side:      schema.OrderSideBuy,
		Type:      schema.OrderTypeLimit,
		Amount:    dec("99.75"),
		Orders:    5,
		FromPrice: dec("100"),
		ToPrice:   dec("110"),
		FromScale: dec("1"),
		ToScale:   dec("1"),
	})
	if err != nil {
		t.Fatalf("format split: %v", err)
	}
	if len(payloads) != 5 {
		t.Fatalf("expected 5 rungs, got %d", len(payloads))
	}

	wantPrices := []string{"100.0", "102.5", "105.0", "107.5", "110.0"}
	for i, p := range payloads {
		if got := fieldOrFatal(t, p, "price"); got != wantPrices[i] {
			t.Fatalf("rung %d: expected price %s, got %s", i, wantPrices[i], got)
		}
		if got := fieldOrFatal(t, p, "quantity"); got != "0.190" {
			t.Fatalf("rung %d: expected quantity 0.190, got %s", i, got)
		}
		if got := fieldOrFatal(t, p, "timeInForce"); got != "GTC" {
			t.Fatalf("rung %d: expected GTC, got %s", i, got)
		}
		if got := fieldOrFatal(t, p, "reduceOnly"); got != "false" {
			t.Fatalf("rung %d: expected reduceOnly=false, got %s", i, got)
		}
	}
}

func TestFormatSplitWeightedRungs(t *testing.T) {
	f, st := newTestFormatter(ethMarket())
	st.SetTicker(schema.Ticker{Symbol: "ETHUSDT", Last: dec("105")})

	payloads, err := f.FormatSplit(schema.SplitIntent{
		Symbol:    "ETHUSDT",
		Side:      schema.OrderSideBuy,
		Type:      schema.OrderTypeLimit,
		Amount:    dec("1050"),
		Orders:    3,
		FromPrice: dec("100"),
		ToPrice:   dec("110"),
		FromScale: dec("1"),
		ToScale:   dec("3"),
	})
	if err != nil {
		t.Fatalf("format split: %v", err)
	}
	// totalQty = 1050/105 = 10; weights 1,2,3 over sum 6.
	wantQty := []string{"1.666", "3.333", "5.000"}
	for i, p := range payloads {
		if got := fieldOrFatal(t, p, "quantity"); got != wantQty[i] {
			t.Fatalf("rung %d: expected quantity %s, got %s", i, wantQty[i], got)
		}
	}
}

func TestFormatSplitInfeasibleWithoutAutoAdjust(t *testing.T) {
	market := ethMarket()
	market.Limits.Amount.Min = dec("1")
	f, st := newTestFormatter(market)
	st.SetTicker(schema.Ticker{Symbol: "ETHUSDT", Last: dec("105")})

	_, err := f.FormatSplit(schema.SplitIntent{
		Symbol:    "ETHUSDT",
		Side:      schema.OrderSideBuy,
		Type:      schema.OrderTypeLimit,
		Amount:    dec("99.75"),
		Orders:    5,
		FromPrice: dec("100"),
		ToPrice:   dec("110"),
		FromScale: dec("1"),
		ToScale:   dec("1"),
	})
	if !errs.HasCode(err, errs.CodeScaleInfeasible) {
		t.Fatalf("expected scale_infeasible, got %v", err)
	}
}

func TestFormatSplitAutoAdjustReducesRungCount(t *testing.T) {
	market := ethMarket()
	market.Limits.Amount.Min = dec("0.22")
	f, st := newTestFormatter(market)
	st.SetTicker(schema.Ticker{Symbol: "ETHUSDT", Last: dec("105")})

	payloads, err := f.FormatSplit(schema.SplitIntent{
		Symbol:       "ETHUSDT",
		Side:         schema.OrderSideBuy,
		Type:         schema.OrderTypeLimit,
		Amount:       dec("99.75"),
		Orders:       5,
		FromPrice:    dec("100"),
		ToPrice:      dec("110"),
		FromScale:    dec("1"),
		ToScale:      dec("1"),
		AutoReAdjust: true,
	})
	if err != nil {
		t.Fatalf("expected auto-adjust to find a feasible count: %v", err)
	}
	// 0.95/5 = 0.19 misses the 0.22 minimum; 0.95/4 = 0.2375 clears it.
	if len(payloads) != 4 {
		t.Fatalf("expected 4 rungs after adjustment, got %d", len(payloads))
	}
}

func TestFormatSplitAutoAdjustExhausted(t *testing.T) {
	market := ethMarket()
	market.Limits.Amount.Min = dec("1")
	f, st := newTestFormatter(market)
	st.SetTicker(schema.Ticker{Symbol: "ETHUSDT", Last: dec("105")})

	_, err := f.FormatSplit(schema.SplitIntent{
		Symbol:       "ETHUSDT",
		Side:         schema.OrderSideBuy,
		Type:         schema.OrderTypeLimit,
		Amount:       dec("99.75"),
		Orders:       5,
		FromPrice:    dec("100"),
		ToPrice:      dec("110"),
		FromScale:    dec("1"),
		ToScale:      dec("1"),
		AutoReAdjust: true,
	})
	if !errs.HasCode(err, errs.CodeScaleInfeasible) {
		t.Fatalf("expected scale_infeasible after exhausting candidates, got %v", err)
	}
}

func TestFormatSplitPromotesThinRungs(t *testing.T) {
	f, st := newTestFormatter(ethMarket())
	st.SetTicker(schema.Ticker{Symbol: "ETHUSDT", Last: dec("105")})

	// totalQty = 53.55/105 = 0.51, so each of 5 rungs carries 0.102. At 100
	// and 102.5 the rung notional sits under 1.05x the 10 minimum and gets
	// promoted to 1.1x; from 105 upward it clears the guard unchanged.
	payloads, err := f.FormatSplit(schema.SplitIntent{
		Symbol:    "ETHUSDT",
		Side:      schema.OrderSideBuy,
		Type:      schema.OrderTypeLimit,
		Amount:    dec("53.55"),
		Orders:    5,
		FromPrice: dec("100"),
		ToPrice:   dec("110"),
		FromScale: dec("1"),
		ToScale:   dec("1"),
	})
	if err != nil {
		t.Fatalf("format split: %v", err)
	}
	wantQty := []string{"0.110", "0.107", "0.102", "0.102", "0.102"}
	for i, p := range payloads {
		if got := fieldOrFatal(t, p, "quantity"); got != wantQty[i] {
			t.Fatalf("rung %d: expected quantity %s, got %s", i, wantQty[i], got)
		}
	}
}

func TestFormatUpdateBuildsReplacement(t *testing.T) {
	f, _ := newTestFormatter(btcMarket())

	newPrice := dec("51000")
	payload, err := f.FormatUpdate(schema.UpdateIntent{
		Order: schema.Order{
			ID:        "orig-1",
			Symbol:    "BTCUSDT",
			Type:      schema.OrderTypeLimit,
			Side:      schema.OrderSideBuy,
			Price:     dec("50000"),
			Amount:    dec("2"),
			Filled:    dec("0.5"),
			Remaining: dec("1.5"),
		},
		Update: schema.OrderUpdate{Price: &newPrice},
	})
	if err != nil {
		t.Fatalf("format update: %v", err)
	}
	if got := fieldOrFatal(t, payload, "price"); got != "51000.00" {
		t.Fatalf("expected updated price, got %s", got)
	}
	if got := fieldOrFatal(t, payload, "quantity"); got != "1.5" {
		t.Fatalf("replacement sizes to the unfilled remainder, got %s", got)
	}
	if payload.ClientID() == "orig-1" {
		t.Fatalf("replacement must carry a fresh client ID")
	}
}

func TestFormatSimpleUnknownMarket(t *testing.T) {
	f, _ := newTestFormatter(btcMarket())
	_, err := f.FormatSimple(schema.SimpleIntent{Symbol: "XRPUSDT", Type: schema.OrderTypeMarket, Side: schema.OrderSideBuy, Amount: dec("1")})
	if !errs.HasCode(err, errs.CodeMarketNotFound) {
		t.Fatalf("expected market_not_found, got %v", err)
	}
}
