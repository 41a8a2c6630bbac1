package binance

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc"

	"github.com/arbelos/usdm/errs"
	"github.com/arbelos/usdm/internal/events"
	"github.com/arbelos/usdm/internal/numeric"
	"github.com/arbelos/usdm/internal/observability"
	"github.com/arbelos/usdm/internal/schema"
	"github.com/arbelos/usdm/internal/store"
)

// cancelBatchLimit is the venue cap on origClientOrderIdList entries.
const cancelBatchLimit = 10

// Adapter is the USDT-M perpetual trading adapter. It owns the market
// catalog, the local account projection, the order pipeline, and the private
// user-data stream. Construct with New, bring up with Start, release with
// Close.
type Adapter struct {
	opts    Options
	store   *store.Store
	emitter *events.Emitter
	metrics *adapterMetrics

	rest      *RestClient // market data and account, paced at 3 rps
	orderRest *RestClient // order placement and cancellation, unpaced

	formatter *Formatter
	queue     *Queue
	stream    *UserStream

	cancel context.CancelFunc
	tasks  conc.WaitGroup
}

// New wires an adapter from options. Nothing touches the network until Start.
func New(opts Options) *Adapter {
	opts = withDefaults(opts)
	st := store.New()
	emitter := events.NewEmitter()
	metrics := newAdapterMetrics()
	rest := NewRestClient(opts)
	orderRest := NewOrderRestClient(opts)

	a := &Adapter{
		opts:      opts,
		store:     st,
		emitter:   emitter,
		metrics:   metrics,
		rest:      rest,
		orderRest: orderRest,
		formatter: NewFormatter(st),
		queue:     NewQueue(orderRest, emitter, metrics),
		stream:    NewUserStream(opts, rest, st, emitter, metrics),
	}
	return a
}

// Store exposes the read side of the account projection.
func (a *Adapter) Store() *store.Store { return a.store }

// Events exposes the adapter's event emitter for subscription.
func (a *Adapter) Events() *events.Emitter { return a.emitter }

// Start performs the bootstrap sequence: market catalog, ticker snapshot,
// private stream, position mode, account tick loop, and the open-order
// snapshot. Each step aborts promptly when ctx is cancelled.
func (a *Adapter) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if err := a.loadMarkets(ctx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.loadTickers(ctx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	a.tasks.Go(func() { a.stream.Run(runCtx) })

	hedged, err := a.rest.FetchPositionMode(ctx)
	if err != nil {
		return fmt.Errorf("position mode: %w", err)
	}
	a.store.SetHedged(hedged)
	if err := ctx.Err(); err != nil {
		return err
	}

	a.tick(ctx)
	a.tasks.Go(func() { a.tickLoop(runCtx) })

	orders, err := a.rest.FetchOpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("open orders: %w", err)
	}
	snapshot := make([]schema.Order, 0, len(orders))
	for _, entry := range orders {
		snapshot = append(snapshot, orderFromOpenEntry(entry))
	}
	a.store.ReplaceOrders(snapshot)

	observability.Log().Info("adapter started",
		observability.Field{Key: "markets", Value: len(a.store.Markets())},
		observability.Field{Key: "openOrders", Value: len(snapshot)},
		observability.Field{Key: "hedged", Value: hedged})
	a.emitter.Emit(events.TopicInfo, fmt.Sprintf("started: %d markets, %d open orders, hedged=%t",
		len(a.store.Markets()), len(snapshot), hedged))
	return nil
}

// Close stops background tasks and releases the queue and emitter. Safe to
// call once after Start.
func (a *Adapter) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	a.queue.Close()
	a.tasks.Wait()
	a.emitter.Close()
}

func (a *Adapter) loadMarkets(ctx context.Context) error {
	markets, err := a.rest.FetchMarkets(ctx)
	if err != nil {
		return fmt.Errorf("markets: %w", err)
	}
	brackets, err := a.rest.FetchLeverageBrackets(ctx)
	if err != nil {
		return fmt.Errorf("leverage brackets: %w", err)
	}
	a.store.ReplaceMarkets(buildCatalog(markets, brackets))
	return nil
}

func (a *Adapter) loadTickers(ctx context.Context) error {
	day, err := a.rest.FetchTickers24h(ctx)
	if err != nil {
		return fmt.Errorf("tickers: %w", err)
	}
	prices, err := a.rest.FetchPriceTickers(ctx)
	if err != nil {
		return fmt.Errorf("price tickers: %w", err)
	}
	book, err := a.rest.FetchBookTickers(ctx)
	if err != nil {
		return fmt.Errorf("book tickers: %w", err)
	}
	premium, err := a.rest.FetchPremiumIndex(ctx)
	if err != nil {
		return fmt.Errorf("premium index: %w", err)
	}
	a.store.ReplaceTickers(mergeTickers(day, prices, book, premium))
	return nil
}

func (a *Adapter) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(a.opts.tickIntervalDuration())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.tick(ctx)
		}
	}
}

// tick refreshes the balance and position projection from the account
// endpoint. On error the previous snapshot stays in place.
func (a *Adapter) tick(ctx context.Context) {
	account, err := a.rest.FetchAccount(ctx)
	if err != nil {
		a.reportError(fmt.Errorf("account refresh: %w", err))
		return
	}

	balance := schema.Balance{
		Free: numeric.ParseOrZero(account.AvailableBalance),
		UPnl: numeric.ParseOrZero(account.TotalUnrealizedProfit),
	}
	for _, asset := range account.Assets {
		wallet := numeric.ParseOrZero(asset.WalletBalance)
		if wallet.Sign() == 0 {
			continue
		}
		usd, err := a.valuate(asset.Asset, wallet)
		if err != nil {
			a.reportError(err)
			continue
		}
		balance.Assets = append(balance.Assets, schema.BalanceAsset{
			Symbol:        strings.ToUpper(strings.TrimSpace(asset.Asset)),
			WalletBalance: wallet,
			USDValue:      usd,
		})
	}
	balance.RecomputeTotal()
	balance.Used = balance.Total.Sub(balance.Free)
	if balance.Used.Sign() < 0 {
		balance.Used = decimal.Zero
	}
	a.store.SetBalance(balance)

	positions := make([]schema.Position, 0, len(account.Positions))
	for _, entry := range account.Positions {
		contracts := numeric.ParseOrZero(entry.PositionAmt)
		if contracts.Sign() == 0 {
			continue
		}
		symbol := strings.ToUpper(strings.TrimSpace(entry.Symbol))
		if !a.store.HasMarket(symbol) {
			continue
		}
		entryPrice := numeric.ParseOrZero(entry.EntryPrice)
		upnl := numeric.ParseOrZero(entry.UnrealizedProfit)
		leverage, _ := strconv.Atoi(strings.TrimSpace(entry.Leverage))
		contracts = contracts.Abs()
		positions = append(positions, schema.Position{
			Symbol:           symbol,
			Side:             decodeSlotSide(entry.PositionSide, entry.PositionAmt),
			EntryPrice:       entryPrice,
			Contracts:        contracts,
			Notional:         contracts.Mul(entryPrice).Add(upnl).Abs(),
			Leverage:         leverage,
			UnrealizedPnl:    upnl,
			LiquidationPrice: numeric.ParseOrZero(entry.LiquidationPrice),
		})
	}
	a.store.ReplacePositions(positions)
}

// valuate converts one wallet asset into USD terms. Stablecoins pass through
// 1:1; everything else marks against the asset's USDT contract.
func (a *Adapter) valuate(asset string, wallet decimal.Decimal) (decimal.Decimal, error) {
	asset = strings.ToUpper(strings.TrimSpace(asset))
	if assetStable(asset) {
		return wallet, nil
	}
	ticker, ok := a.store.Ticker(asset + "USDT")
	if !ok {
		return decimal.Zero, errs.TickerNotFound(asset + "USDT")
	}
	return wallet.Mul(ticker.Last), nil
}

// PlaceOrder formats one placement intent and runs the resulting payloads
// through the dispatch queue, returning the client IDs accepted by the venue.
func (a *Adapter) PlaceOrder(ctx context.Context, intent schema.SimpleIntent) ([]string, error) {
	payloads, err := a.formatter.FormatSimple(intent)
	if err != nil {
		a.reportError(err)
		return nil, err
	}
	return a.submit(ctx, payloads)
}

// PlaceSplit formats a ladder intent and dispatches the rung payloads.
func (a *Adapter) PlaceSplit(ctx context.Context, intent schema.SplitIntent) ([]string, error) {
	payloads, err := a.formatter.FormatSplit(intent)
	if err != nil {
		a.reportError(err)
		return nil, err
	}
	return a.submit(ctx, payloads)
}

// UpdateOrders amends open orders as cancel plus re-place, since the venue
// lacks an amend call for the covered order types.
func (a *Adapter) UpdateOrders(ctx context.Context, intents []schema.UpdateIntent) ([]string, error) {
	payloads := make([]*schema.PayloadOrder, 0, len(intents))
	for _, intent := range intents {
		payload, err := a.formatter.FormatUpdate(intent)
		if err != nil {
			a.reportError(err)
			return nil, err
		}
		if err := a.orderRest.CancelOrder(ctx, intent.Order.Symbol, intent.Order.ID); err != nil {
			a.reportError(fmt.Errorf("cancel %s: %w", intent.Order.ID, err))
			return nil, err
		}
		a.store.RemoveOrder(intent.Order.ID)
		payloads = append(payloads, payload)
	}
	return a.submit(ctx, payloads)
}

func (a *Adapter) submit(ctx context.Context, payloads []*schema.PayloadOrder) ([]string, error) {
	if len(payloads) == 0 {
		return nil, nil
	}
	a.queue.Enqueue(payloads)
	if err := a.queue.Wait(ctx); err != nil {
		return nil, err
	}
	return a.queue.DrainResults(), nil
}

// CancelOrders cancels the given client IDs on one symbol, chunked to the
// venue's batch limit.
func (a *Adapter) CancelOrders(ctx context.Context, symbol string, clientIDs []string) error {
	for len(clientIDs) > 0 {
		chunk := clientIDs
		if len(chunk) > cancelBatchLimit {
			chunk = chunk[:cancelBatchLimit]
		}
		if err := a.orderRest.CancelBatch(ctx, symbol, chunk); err != nil {
			a.reportError(fmt.Errorf("cancel batch: %w", err))
			return err
		}
		for _, id := range chunk {
			a.store.RemoveOrder(id)
		}
		clientIDs = clientIDs[len(chunk):]
	}
	return nil
}

// CancelAllOrders cancels every open order on one symbol.
func (a *Adapter) CancelAllOrders(ctx context.Context, symbol string) error {
	if err := a.orderRest.CancelAllOrders(ctx, symbol); err != nil {
		a.reportError(fmt.Errorf("cancel all: %w", err))
		return err
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	for _, order := range a.store.Orders() {
		if order.Symbol == symbol {
			a.store.RemoveOrder(order.ID)
		}
	}
	return nil
}

// SetLeverage validates the requested leverage against the catalog brackets
// and applies it on the venue.
func (a *Adapter) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	market, ok := a.store.Market(symbol)
	if !ok {
		return errs.MarketNotFound(symbol)
	}
	limits := market.Limits.Leverage
	if leverage < limits.Min || (limits.Max > 0 && leverage > limits.Max) {
		return errs.New(errs.CodeInvalid,
			errs.WithMessage(fmt.Sprintf("leverage %d outside [%d, %d] for %s",
				leverage, limits.Min, limits.Max, market.Symbol)))
	}
	if err := a.rest.SetLeverage(ctx, market.Symbol, leverage); err != nil {
		a.reportError(fmt.Errorf("set leverage: %w", err))
		return err
	}
	return nil
}

// SetHedgedMode switches the account position mode. The venue rejects the
// switch while positions are open, so the call is refused locally first.
func (a *Adapter) SetHedgedMode(ctx context.Context, hedged bool) error {
	if a.store.Hedged() == hedged {
		return nil
	}
	if len(a.store.Positions()) > 0 {
		err := errs.New(errs.CodeInvalid,
			errs.WithMessage("cannot change position mode with open positions"))
		a.reportError(err)
		return err
	}
	if err := a.rest.SetPositionMode(ctx, hedged); err != nil {
		a.reportError(fmt.Errorf("set position mode: %w", err))
		return err
	}
	a.store.SetHedged(hedged)
	return nil
}

// Klines fetches recent OHLCV bars for a catalog symbol.
func (a *Adapter) Klines(ctx context.Context, symbol, interval string, limit int) ([]schema.Kline, error) {
	market, ok := a.store.Market(symbol)
	if !ok {
		return nil, errs.MarketNotFound(symbol)
	}
	return a.rest.FetchKlines(ctx, market.Symbol, interval, limit)
}

func (a *Adapter) reportError(err error) {
	if err == nil {
		return
	}
	observability.Log().Error("adapter", observability.Field{Key: "error", Value: err.Error()})
	a.emitter.Emit(events.TopicError, err.Error())
}
