package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/arbelos/usdm/errs"
	"github.com/arbelos/usdm/internal/numeric"
	"github.com/arbelos/usdm/internal/schema"
)

type exchangeInfoResponse struct {
	Symbols []exchangeInfoSymbol `json:"symbols"`
}

type exchangeInfoSymbol struct {
	Symbol       string               `json:"symbol"`
	Status       string               `json:"status"`
	BaseAsset    string               `json:"baseAsset"`
	QuoteAsset   string               `json:"quoteAsset"`
	MarginAsset  string               `json:"marginAsset"`
	ContractType string               `json:"contractType"`
	Filters      []exchangeInfoFilter `json:"filters"`
}

type exchangeInfoFilter struct {
	FilterType  string `json:"filterType"`
	TickSize    string `json:"tickSize"`
	MinQty      string `json:"minQty"`
	MaxQty      string `json:"maxQty"`
	StepSize    string `json:"stepSize"`
	MinNotional string `json:"notional"`
}

type leverageBracketEntry struct {
	Symbol   string `json:"symbol"`
	Brackets []struct {
		Bracket         int `json:"bracket"`
		InitialLeverage int `json:"initialLeverage"`
	} `json:"brackets"`
}

type ticker24hEntry struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	PriceChangePercent string `json:"priceChangePercent"`
	Volume             string `json:"volume"`
	QuoteVolume        string `json:"quoteVolume"`
}

type priceTickerEntry struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

type bookTickerEntry struct {
	Symbol   string `json:"symbol"`
	BidPrice string `json:"bidPrice"`
	AskPrice string `json:"askPrice"`
}

type premiumIndexEntry struct {
	Symbol          string `json:"symbol"`
	MarkPrice       string `json:"markPrice"`
	IndexPrice      string `json:"indexPrice"`
	LastFundingRate string `json:"lastFundingRate"`
}

type accountResponse struct {
	TotalWalletBalance    string            `json:"totalWalletBalance"`
	TotalUnrealizedProfit string            `json:"totalUnrealizedProfit"`
	AvailableBalance      string            `json:"availableBalance"`
	Assets                []accountAsset    `json:"assets"`
	Positions             []accountPosition `json:"positions"`
}

type accountAsset struct {
	Asset         string `json:"asset"`
	WalletBalance string `json:"walletBalance"`
}

type accountPosition struct {
	Symbol           string `json:"symbol"`
	PositionSide     string `json:"positionSide"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	Leverage         string `json:"leverage"`
	UnrealizedProfit string `json:"unrealizedProfit"`
	LiquidationPrice string `json:"liquidationPrice"`
}

type balanceEntry struct {
	Asset            string `json:"asset"`
	Balance          string `json:"balance"`
	AvailableBalance string `json:"availableBalance"`
	CrossUnPnl       string `json:"crossUnPnl"`
}

type openOrderEntry struct {
	ClientOrderID string `json:"clientOrderId"`
	OrderID       int64  `json:"orderId"`
	Symbol        string `json:"symbol"`
	Status        string `json:"status"`
	Type          string `json:"type"`
	Side          string `json:"side"`
	Price         string `json:"price"`
	StopPrice     string `json:"stopPrice"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	ReduceOnly    bool   `json:"reduceOnly"`
}

type positionModeResponse struct {
	DualSidePosition bool `json:"dualSidePosition"`
}

type listenKeyResponse struct {
	ListenKey string `json:"listenKey"`
}

type orderAck struct {
	ClientOrderID string `json:"clientOrderId"`
	OrderID       int64  `json:"orderId"`
	Symbol        string `json:"symbol"`
	Status        string `json:"status"`
}

// batchOrderResult is one element of the batch-orders response: either an
// order acknowledgement or an inline {code,msg} error.
type batchOrderResult struct {
	ClientOrderID string `json:"clientOrderId"`
	OrderID       int64  `json:"orderId"`
	Code          int    `json:"code"`
	Msg           string `json:"msg"`
}

// FetchMarkets loads the contract catalog, keeping only USDT-margined
// perpetuals that are actively trading.
func (c *RestClient) FetchMarkets(ctx context.Context) ([]schema.Market, error) {
	body, err := c.doPublic(ctx, c.opts.exchangeInfoEndpoint(), nil)
	if err != nil {
		return nil, fmt.Errorf("request exchangeInfo: %w", err)
	}
	var payload exchangeInfoResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode exchangeInfo: %w", err)
	}
	markets := make([]schema.Market, 0, len(payload.Symbols))
	for _, sym := range payload.Symbols {
		if !strings.EqualFold(strings.TrimSpace(sym.ContractType), "PERPETUAL") {
			continue
		}
		if !strings.EqualFold(strings.TrimSpace(sym.MarginAsset), "USDT") {
			continue
		}
		markets = append(markets, buildMarket(sym))
	}
	return markets, nil
}

func buildMarket(sym exchangeInfoSymbol) schema.Market {
	base := strings.ToUpper(strings.TrimSpace(sym.BaseAsset))
	quote := strings.ToUpper(strings.TrimSpace(sym.QuoteAsset))
	margin := strings.ToUpper(strings.TrimSpace(sym.MarginAsset))
	market := schema.Market{
		ID:     schema.UnifiedID(base, quote, margin),
		Symbol: strings.ToUpper(strings.TrimSpace(sym.Symbol)),
		Base:   base,
		Quote:  quote,
		Active: strings.EqualFold(sym.Status, "TRADING"),
	}
	for _, filter := range sym.Filters {
		switch strings.ToUpper(strings.TrimSpace(filter.FilterType)) {
		case "PRICE_FILTER":
			market.Precision.Price = numeric.ParseOrZero(filter.TickSize)
		case "LOT_SIZE":
			market.Precision.Amount = numeric.ParseOrZero(filter.StepSize)
			market.Limits.Amount.Min = numeric.ParseOrZero(filter.MinQty)
			market.Limits.Amount.Max = numeric.ParseOrZero(filter.MaxQty)
		case "MIN_NOTIONAL":
			market.Limits.MinNotional = numeric.ParseOrZero(filter.MinNotional)
		}
	}
	market.Limits.Leverage = schema.LeverageLimits{Min: 1, Max: 1}
	return market
}

// FetchLeverageBrackets returns the max initial leverage per venue symbol.
func (c *RestClient) FetchLeverageBrackets(ctx context.Context) (map[string]schema.LeverageLimits, error) {
	body, err := c.doSigned(ctx, http.MethodGet, c.opts.bracketEndpoint(), nil)
	if err != nil {
		return nil, fmt.Errorf("request leverage brackets: %w", err)
	}
	var payload []leverageBracketEntry
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode leverage brackets: %w", err)
	}
	out := make(map[string]schema.LeverageLimits, len(payload))
	for _, entry := range payload {
		limits := schema.LeverageLimits{Min: 1, Max: 1}
		for _, bracket := range entry.Brackets {
			if bracket.InitialLeverage > limits.Max {
				limits.Max = bracket.InitialLeverage
			}
		}
		out[strings.ToUpper(strings.TrimSpace(entry.Symbol))] = limits
	}
	return out, nil
}

// FetchTickers24h returns last price, percentage, and volume per symbol.
func (c *RestClient) FetchTickers24h(ctx context.Context) (map[string]schema.Ticker, error) {
	body, err := c.doPublic(ctx, c.opts.ticker24hEndpoint(), nil)
	if err != nil {
		return nil, fmt.Errorf("request 24h tickers: %w", err)
	}
	var payload []ticker24hEntry
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode 24h tickers: %w", err)
	}
	out := make(map[string]schema.Ticker, len(payload))
	for _, entry := range payload {
		symbol := strings.ToUpper(strings.TrimSpace(entry.Symbol))
		out[symbol] = schema.Ticker{
			Symbol:      symbol,
			Last:        numeric.ParseOrZero(entry.LastPrice),
			Percentage:  numeric.ParseOrZero(entry.PriceChangePercent),
			Volume:      numeric.ParseOrZero(entry.Volume),
			QuoteVolume: numeric.ParseOrZero(entry.QuoteVolume),
		}
	}
	return out, nil
}

// FetchPriceTickers returns the latest trade price per symbol.
func (c *RestClient) FetchPriceTickers(ctx context.Context) (map[string]decimal.Decimal, error) {
	body, err := c.doPublic(ctx, c.opts.tickerPriceEndpoint(), nil)
	if err != nil {
		return nil, fmt.Errorf("request price tickers: %w", err)
	}
	var payload []priceTickerEntry
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode price tickers: %w", err)
	}
	out := make(map[string]decimal.Decimal, len(payload))
	for _, entry := range payload {
		out[strings.ToUpper(strings.TrimSpace(entry.Symbol))] = numeric.ParseOrZero(entry.Price)
	}
	return out, nil
}

// FetchBookTickers returns best bid and ask per symbol.
func (c *RestClient) FetchBookTickers(ctx context.Context) (map[string]bookTickerEntry, error) {
	body, err := c.doPublic(ctx, c.opts.bookTickerEndpoint(), nil)
	if err != nil {
		return nil, fmt.Errorf("request book tickers: %w", err)
	}
	var payload []bookTickerEntry
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode book tickers: %w", err)
	}
	out := make(map[string]bookTickerEntry, len(payload))
	for _, entry := range payload {
		out[strings.ToUpper(strings.TrimSpace(entry.Symbol))] = entry
	}
	return out, nil
}

// FetchPremiumIndex returns mark price, index price, and funding rate per symbol.
func (c *RestClient) FetchPremiumIndex(ctx context.Context) (map[string]premiumIndexEntry, error) {
	body, err := c.doPublic(ctx, c.opts.premiumIndexEndpoint(), nil)
	if err != nil {
		return nil, fmt.Errorf("request premium index: %w", err)
	}
	var payload []premiumIndexEntry
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode premium index: %w", err)
	}
	out := make(map[string]premiumIndexEntry, len(payload))
	for _, entry := range payload {
		out[strings.ToUpper(strings.TrimSpace(entry.Symbol))] = entry
	}
	return out, nil
}

// FetchAccount returns the combined balance and position snapshot.
func (c *RestClient) FetchAccount(ctx context.Context) (accountResponse, error) {
	var empty accountResponse
	body, err := c.doSigned(ctx, http.MethodGet, c.opts.accountEndpoint(), nil)
	if err != nil {
		return empty, fmt.Errorf("request account: %w", err)
	}
	var payload accountResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return empty, fmt.Errorf("decode account: %w", err)
	}
	return payload, nil
}

// FetchBalance returns the per-asset wallet balances without the position
// detail the account endpoint carries.
func (c *RestClient) FetchBalance(ctx context.Context) ([]balanceEntry, error) {
	body, err := c.doSigned(ctx, http.MethodGet, c.opts.balanceEndpoint(), nil)
	if err != nil {
		return nil, fmt.Errorf("request balance: %w", err)
	}
	var payload []balanceEntry
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode balance: %w", err)
	}
	return payload, nil
}

// FetchOpenOrders returns every open order on the account.
func (c *RestClient) FetchOpenOrders(ctx context.Context) ([]openOrderEntry, error) {
	body, err := c.doSigned(ctx, http.MethodGet, c.opts.openOrdersEndpoint(), nil)
	if err != nil {
		return nil, fmt.Errorf("request open orders: %w", err)
	}
	var payload []openOrderEntry
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode open orders: %w", err)
	}
	return payload, nil
}

// FetchPositionMode reports whether the account runs in hedge mode.
func (c *RestClient) FetchPositionMode(ctx context.Context) (bool, error) {
	body, err := c.doSigned(ctx, http.MethodGet, c.opts.positionModeEndpoint(), nil)
	if err != nil {
		return false, fmt.Errorf("request position mode: %w", err)
	}
	var payload positionModeResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return false, fmt.Errorf("decode position mode: %w", err)
	}
	return payload.DualSidePosition, nil
}

// SetPositionMode switches the account between hedge and one-way mode.
func (c *RestClient) SetPositionMode(ctx context.Context, hedged bool) error {
	params := url.Values{}
	params.Set("dualSidePosition", strconv.FormatBool(hedged))
	if _, err := c.doSigned(ctx, http.MethodPost, c.opts.positionModeEndpoint(), params); err != nil {
		return fmt.Errorf("set position mode: %w", err)
	}
	return nil
}

// SetLeverage configures the initial leverage for one symbol.
func (c *RestClient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(strings.TrimSpace(symbol)))
	params.Set("leverage", strconv.Itoa(leverage))
	if _, err := c.doSigned(ctx, http.MethodPost, c.opts.leverageEndpoint(), params); err != nil {
		return fmt.Errorf("set leverage: %w", err)
	}
	return nil
}

// PlaceOrder submits a single payload via the order endpoint.
func (c *RestClient) PlaceOrder(ctx context.Context, payload *schema.PayloadOrder) (orderAck, error) {
	var empty orderAck
	params := url.Values{}
	for _, key := range payload.Keys() {
		value, _ := payload.Get(key)
		params.Set(key, value)
	}
	body, err := c.doSigned(ctx, http.MethodPost, c.opts.orderEndpoint(), params)
	if err != nil {
		return empty, err
	}
	var ack orderAck
	if err := json.Unmarshal(body, &ack); err != nil {
		return empty, fmt.Errorf("decode order ack: %w", err)
	}
	return ack, nil
}

// PlaceBatch submits up to five payloads via the batch endpoint and returns
// one outcome per payload in submission order.
func (c *RestClient) PlaceBatch(ctx context.Context, payloads []*schema.PayloadOrder) ([]schema.BatchOutcome, error) {
	encoded, err := json.Marshal(payloads)
	if err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}
	params := url.Values{}
	params.Set("batchOrders", string(encoded))
	body, err := c.doSigned(ctx, http.MethodPost, c.opts.batchOrdersEndpoint(), params)
	if err != nil {
		return nil, err
	}
	var results []batchOrderResult
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, fmt.Errorf("decode batch response: %w", err)
	}
	outcomes := make([]schema.BatchOutcome, 0, len(payloads))
	for i, payload := range payloads {
		outcome := schema.BatchOutcome{ClientID: payload.ClientID()}
		if i < len(results) {
			result := results[i]
			if result.Msg != "" {
				outcome.Err = errs.New(errs.CodeVenue,
					errs.WithRawCode(strconv.Itoa(result.Code)),
					errs.WithRawMessage(result.Msg))
			}
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

// CancelOrder cancels one order by its client ID.
func (c *RestClient) CancelOrder(ctx context.Context, symbol, clientID string) error {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(strings.TrimSpace(symbol)))
	params.Set("origClientOrderId", strings.TrimSpace(clientID))
	if _, err := c.doSigned(ctx, http.MethodDelete, c.opts.orderEndpoint(), params); err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	return nil
}

// CancelBatch cancels up to ten orders on one symbol by client ID.
func (c *RestClient) CancelBatch(ctx context.Context, symbol string, clientIDs []string) error {
	encoded, err := json.Marshal(clientIDs)
	if err != nil {
		return fmt.Errorf("encode cancel batch: %w", err)
	}
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(strings.TrimSpace(symbol)))
	params.Set("origClientOrderIdList", string(encoded))
	if _, err := c.doSigned(ctx, http.MethodDelete, c.opts.batchOrdersEndpoint(), params); err != nil {
		return fmt.Errorf("cancel batch: %w", err)
	}
	return nil
}

// CancelAllOrders cancels every open order on one symbol.
func (c *RestClient) CancelAllOrders(ctx context.Context, symbol string) error {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(strings.TrimSpace(symbol)))
	if _, err := c.doSigned(ctx, http.MethodDelete, c.opts.allOrdersEndpoint(), params); err != nil {
		return fmt.Errorf("cancel all orders: %w", err)
	}
	return nil
}

// FetchKlines returns up to limit OHLCV bars for one symbol and interval.
func (c *RestClient) FetchKlines(ctx context.Context, symbol, interval string, limit int) ([]schema.Kline, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(strings.TrimSpace(symbol)))
	params.Set("interval", strings.TrimSpace(interval))
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	body, err := c.doPublic(ctx, c.opts.klinesEndpoint(), params)
	if err != nil {
		return nil, fmt.Errorf("request klines: %w", err)
	}
	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}
	klines := make([]schema.Kline, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		var openTime int64
		if err := json.Unmarshal(row[0], &openTime); err != nil {
			continue
		}
		klines = append(klines, schema.Kline{
			OpenTime: openTime,
			Open:     rawDecimal(row[1]),
			High:     rawDecimal(row[2]),
			Low:      rawDecimal(row[3]),
			Close:    rawDecimal(row[4]),
			Volume:   rawDecimal(row[5]),
		})
	}
	return klines, nil
}

func rawDecimal(raw json.RawMessage) decimal.Decimal {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return decimal.Zero
	}
	return numeric.ParseOrZero(s)
}

// CreateListenKey acquires a user-data stream token.
func (c *RestClient) CreateListenKey(ctx context.Context) (string, error) {
	if !c.hasCredentials() {
		return "", errs.New(errs.CodeInvalid, errs.WithMessage("missing api credentials for listen key"))
	}
	reqCtx, cancel := context.WithTimeout(ctx, c.opts.httpTimeoutDuration())
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.opts.listenKeyEndpoint(), nil)
	if err != nil {
		return "", fmt.Errorf("create listen key request: %w", err)
	}
	req.Header.Set("X-MBX-APIKEY", c.opts.Config.APIKey)
	body, err := c.execute(req)
	if err != nil {
		return "", fmt.Errorf("request listen key: %w", err)
	}
	var payload listenKeyResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("decode listen key: %w", err)
	}
	if strings.TrimSpace(payload.ListenKey) == "" {
		return "", errs.New(errs.CodeVenue, errs.WithMessage("empty listen key"))
	}
	return payload.ListenKey, nil
}

// KeepAliveListenKey renews the user-data stream token.
func (c *RestClient) KeepAliveListenKey(ctx context.Context, listenKey string) error {
	if strings.TrimSpace(listenKey) == "" {
		return errs.New(errs.CodeInvalid, errs.WithMessage("empty listen key for keepalive"))
	}
	reqCtx, cancel := context.WithTimeout(ctx, c.opts.httpTimeoutDuration())
	defer cancel()
	params := url.Values{}
	params.Set("listenKey", strings.TrimSpace(listenKey))
	endpoint := c.opts.listenKeyEndpoint() + "?" + params.Encode()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPut, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create keepalive request: %w", err)
	}
	req.Header.Set("X-MBX-APIKEY", c.opts.Config.APIKey)
	if _, err := c.execute(req); err != nil {
		return fmt.Errorf("keepalive listen key: %w", err)
	}
	return nil
}
