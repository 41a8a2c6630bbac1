package binance

import (
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/arbelos/usdm/errs"
	"github.com/arbelos/usdm/internal/numeric"
	"github.com/arbelos/usdm/internal/schema"
)

// minNotionalGuard is the threshold below which split slices are promoted,
// and minNotionalPromote the factor applied when promoting.
var (
	minNotionalGuard   = decimal.NewFromFloat(1.05)
	minNotionalPromote = decimal.NewFromFloat(1.1)
)

// accountView is the read-only store surface the formatter depends on.
type accountView interface {
	Market(key string) (schema.Market, bool)
	Ticker(symbol string) (schema.Ticker, bool)
	Position(symbol string, side schema.PositionSide) (schema.Position, bool)
	Hedged() bool
}

// Formatter translates placement intents into venue-shaped payloads honoring
// the market catalog's precision, size, and notional constraints. Pure except
// for client ID generation.
type Formatter struct {
	view  accountView
	newID func() string
}

// NewFormatter constructs a formatter over the given account view.
func NewFormatter(view accountView) *Formatter {
	return &Formatter{view: view, newID: uuid.NewString}
}

func venueSide(side schema.OrderSide) string {
	if side == schema.OrderSideBuy {
		return "BUY"
	}
	return "SELL"
}

func venueOrderType(typ schema.OrderType) string {
	switch typ {
	case schema.OrderTypeMarket:
		return "MARKET"
	case schema.OrderTypeLimit:
		return "LIMIT"
	case schema.OrderTypeStopLoss:
		return "STOP_MARKET"
	case schema.OrderTypeTakeProfit:
		return "TAKE_PROFIT_MARKET"
	case schema.OrderTypeTrailingStopLoss:
		return "TRAILING_STOP_MARKET"
	}
	return strings.ToUpper(string(typ))
}

func isTriggerType(typ schema.OrderType) bool {
	switch typ {
	case schema.OrderTypeStopLoss, schema.OrderTypeTakeProfit, schema.OrderTypeTrailingStopLoss:
		return true
	}
	return false
}

// positionSide resolves the venue positionSide field: BOTH when not hedged;
// LONG for buys and SHORT for sells when hedged, flipped for trigger types
// and reduce-only intents because those close the opposite slot.
func (f *Formatter) positionSide(side schema.OrderSide, typ schema.OrderType, reduceOnly bool) string {
	if !f.view.Hedged() {
		return "BOTH"
	}
	ps := "SHORT"
	if side == schema.OrderSideBuy {
		ps = "LONG"
	}
	if isTriggerType(typ) || reduceOnly {
		if ps == "LONG" {
			return "SHORT"
		}
		return "LONG"
	}
	return ps
}

// FormatSimple converts one simple intent into one or more payloads: lot
// splits above the venue max size, plus attached stop-loss and take-profit
// triggers when requested. Client IDs are assigned last and never reused.
func (f *Formatter) FormatSimple(intent schema.SimpleIntent) ([]*schema.PayloadOrder, error) {
	market, ok := f.view.Market(intent.Symbol)
	if !ok {
		return nil, errs.MarketNotFound(intent.Symbol)
	}
	if intent.Type == schema.OrderTypeTrailingStopLoss {
		return f.formatTrailing(market, intent)
	}

	ps := f.positionSide(intent.Side, intent.Type, intent.ReduceOnly)

	base := schema.NewPayloadOrder()
	base.Set("symbol", market.Symbol)
	base.Set("side", venueSide(intent.Side))
	base.Set("positionSide", ps)
	base.Set("type", venueOrderType(intent.Type))

	trigger := intent.Type == schema.OrderTypeStopLoss || intent.Type == schema.OrderTypeTakeProfit
	if trigger {
		base.Set("stopPrice", numeric.Format(intent.Price, market.Precision.Price))
		base.Set("closePosition", "true")
	} else {
		if intent.Type == schema.OrderTypeLimit {
			base.Set("price", numeric.Format(intent.Price, market.Precision.Price))
			tif := intent.TimeInForce
			if tif == "" {
				tif = schema.TimeInForceGTC
			}
			base.Set("timeInForce", string(tif))
		}
		if intent.ReduceOnly {
			base.Set("reduceOnly", "true")
		}
	}

	payloads := make([]*schema.PayloadOrder, 0, 2)
	if trigger {
		payloads = append(payloads, base)
	} else {
		payloads = append(payloads, f.lotSplit(base, market, intent.Amount)...)
	}

	if intent.StopLoss.Sign() > 0 {
		payloads = append(payloads, f.attachedTrigger(market, intent, schema.OrderTypeStopLoss, intent.StopLoss))
	}
	if intent.TakeProfit.Sign() > 0 {
		payloads = append(payloads, f.attachedTrigger(market, intent, schema.OrderTypeTakeProfit, intent.TakeProfit))
	}

	for _, payload := range payloads {
		payload.Set("newClientOrderId", f.newID())
	}
	return payloads, nil
}

// lotSplit divides an oversized quantity into equal snapped lots plus a raw
// remainder lot, all sharing the request skeleton.
func (f *Formatter) lotSplit(base *schema.PayloadOrder, market schema.Market, amount decimal.Decimal) []*schema.PayloadOrder {
	maxAmount := market.Limits.Amount.Max
	if maxAmount.Sign() <= 0 || amount.Cmp(maxAmount) <= 0 {
		single := clonePayload(base)
		single.Set("quantity", numeric.Format(amount, market.Precision.Amount))
		return []*schema.PayloadOrder{single}
	}

	lots := amount.Div(maxAmount).Ceil().IntPart()
	perLot := numeric.SnapToStep(amount.Div(decimal.NewFromInt(lots)), market.Precision.Amount)
	perLotStr := perLot.StringFixed(numeric.ScaleFromStep(market.Precision.Amount.String()))

	out := make([]*schema.PayloadOrder, 0, lots+1)
	for i := int64(0); i < lots; i++ {
		lot := clonePayload(base)
		lot.Set("quantity", perLotStr)
		out = append(out, lot)
	}
	remainder := amount.Sub(perLot.Mul(decimal.NewFromInt(lots)))
	if remainder.Sign() > 0 {
		lot := clonePayload(base)
		lot.Set("quantity", remainder.String())
		out = append(out, lot)
	}
	return out
}

// attachedTrigger builds the close-position stop payload that rides along a
// primary order: opposite side, trigger flip of the primary position side.
func (f *Formatter) attachedTrigger(market schema.Market, intent schema.SimpleIntent, typ schema.OrderType, stopPrice decimal.Decimal) *schema.PayloadOrder {
	payload := schema.NewPayloadOrder()
	payload.Set("symbol", market.Symbol)
	payload.Set("side", venueSide(intent.Side.Opposite()))
	payload.Set("positionSide", f.positionSide(intent.Side, typ, false))
	payload.Set("type", venueOrderType(typ))
	payload.Set("stopPrice", numeric.Format(stopPrice, market.Precision.Price))
	payload.Set("closePosition", "true")
	return payload
}

// formatTrailing emits a trailing stop sized to the open position on the
// opposite position side, with the callback rate derived from the distance
// between the intent price and the last trade.
func (f *Formatter) formatTrailing(market schema.Market, intent schema.SimpleIntent) ([]*schema.PayloadOrder, error) {
	ticker, ok := f.view.Ticker(market.Symbol)
	if !ok || ticker.Last.Sign() <= 0 {
		return nil, errs.TickerNotFound(market.Symbol)
	}
	posSide := schema.PositionSideLong
	if intent.Side == schema.OrderSideBuy {
		posSide = schema.PositionSideShort
	}
	position, ok := f.view.Position(market.Symbol, posSide)
	if !ok {
		return nil, errs.PositionNotFound(market.Symbol)
	}

	priceDistance := numeric.SnapToStep(ticker.Last.Sub(intent.Price).Abs(), market.Precision.Price)
	callbackRate := priceDistance.Mul(decimal.NewFromInt(100)).Div(ticker.Last).Round(1)

	payload := schema.NewPayloadOrder()
	payload.Set("symbol", market.Symbol)
	payload.Set("side", venueSide(intent.Side))
	payload.Set("positionSide", f.positionSide(intent.Side, intent.Type, intent.ReduceOnly))
	payload.Set("type", venueOrderType(schema.OrderTypeTrailingStopLoss))
	payload.Set("quantity", numeric.Format(position.Contracts, market.Precision.Amount))
	payload.Set("callbackRate", callbackRate.String())
	payload.Set("priceProtect", "true")
	payload.Set("newClientOrderId", f.newID())
	return []*schema.PayloadOrder{payload}, nil
}

// FormatSplit lays a ladder of limit orders between FromPrice and ToPrice,
// distributing the quote amount across linearly weighted rungs.
func (f *Formatter) FormatSplit(intent schema.SplitIntent) ([]*schema.PayloadOrder, error) {
	market, ok := f.view.Market(intent.Symbol)
	if !ok {
		return nil, errs.MarketNotFound(intent.Symbol)
	}
	if _, ok := f.view.Ticker(market.Symbol); !ok {
		return nil, errs.TickerNotFound(market.Symbol)
	}
	if intent.Orders < 2 {
		return nil, errs.New(errs.CodeInvalid, errs.WithMessage("split requires at least 2 orders"))
	}

	avgPrice := intent.FromPrice.Add(intent.ToPrice).Div(decimal.NewFromInt(2))
	if avgPrice.Sign() <= 0 {
		return nil, errs.New(errs.CodeInvalid, errs.WithMessage("split prices must be positive"))
	}
	totalQty := intent.Amount.Div(avgPrice)

	n := intent.Orders
	if !f.splitFeasible(market, intent, totalQty, n) {
		if !intent.AutoReAdjust {
			return nil, errs.New(errs.CodeScaleInfeasible, errs.WithMessage("Scale too extreme"))
		}
		adjusted := n - 1
		for ; adjusted >= 3; adjusted-- {
			if f.splitFeasible(market, intent, totalQty, adjusted) {
				break
			}
		}
		if adjusted < 3 {
			return nil, errs.New(errs.CodeScaleInfeasible, errs.WithMessage("cannot split"))
		}
		n = adjusted
		if !f.splitFeasible(market, intent, totalQty, n) {
			return nil, errs.New(errs.CodeScaleInfeasible, errs.WithMessage("Scale too extreme"))
		}
	}

	weights, weightSum := splitWeights(intent.FromScale, intent.ToScale, n)
	priceStep := intent.ToPrice.Sub(intent.FromPrice).Div(decimal.NewFromInt(int64(n - 1)))
	minNotional := market.Limits.MinNotional

	payloads := make([]*schema.PayloadOrder, 0, n)
	for i := 0; i < n; i++ {
		size := totalQty.Mul(weights[i]).Div(weightSum)
		price := intent.FromPrice.Add(priceStep.Mul(decimal.NewFromInt(int64(i))))
		if minNotional.Sign() > 0 && size.Mul(price).Cmp(minNotionalGuard.Mul(minNotional)) < 0 {
			size = minNotionalPromote.Mul(minNotional).Div(price)
		}
		payload := schema.NewPayloadOrder()
		payload.Set("symbol", market.Symbol)
		payload.Set("side", venueSide(intent.Side))
		payload.Set("positionSide", f.positionSide(intent.Side, intent.Type, false))
		payload.Set("type", venueOrderType(schema.OrderTypeLimit))
		payload.Set("quantity", numeric.Format(size, market.Precision.Amount))
		payload.Set("price", numeric.Format(price, market.Precision.Price))
		payload.Set("timeInForce", string(schema.TimeInForceGTC))
		payload.Set("reduceOnly", "false")
		payload.Set("newClientOrderId", f.newID())
		payloads = append(payloads, payload)
	}
	return payloads, nil
}

// splitFeasible checks the smallest ladder slice against the venue minimum
// size and notional for a candidate rung count.
func (f *Formatter) splitFeasible(market schema.Market, intent schema.SplitIntent, totalQty decimal.Decimal, n int) bool {
	_, weightSum := splitWeights(intent.FromScale, intent.ToScale, n)
	if weightSum.Sign() <= 0 {
		return false
	}
	lowestSize := intent.FromScale.Div(weightSum).Mul(totalQty)
	if market.Limits.Amount.Min.Sign() > 0 && lowestSize.Cmp(market.Limits.Amount.Min) < 0 {
		return false
	}
	if market.Limits.MinNotional.Sign() > 0 && lowestSize.Mul(intent.FromPrice).Cmp(market.Limits.MinNotional) < 0 {
		return false
	}
	return true
}

// splitWeights returns the linear rung weights and their sum for n rungs.
func splitWeights(fromScale, toScale decimal.Decimal, n int) ([]decimal.Decimal, decimal.Decimal) {
	weights := make([]decimal.Decimal, n)
	sum := decimal.Zero
	if fromScale.Equal(toScale) || n == 1 {
		for i := range weights {
			weights[i] = fromScale
			sum = sum.Add(fromScale)
		}
		return weights, sum
	}
	span := toScale.Sub(fromScale)
	den := decimal.NewFromInt(int64(n - 1))
	for i := range weights {
		w := fromScale.Add(span.Mul(decimal.NewFromInt(int64(i))).Div(den))
		weights[i] = w
		sum = sum.Add(w)
	}
	return weights, sum
}

// FormatUpdate builds the replacement payload for an order amendment. The
// venue lacks amend for the covered order types, so the caller cancels the
// original and places this payload.
func (f *Formatter) FormatUpdate(intent schema.UpdateIntent) (*schema.PayloadOrder, error) {
	market, ok := f.view.Market(intent.Order.Symbol)
	if !ok {
		return nil, errs.MarketNotFound(intent.Order.Symbol)
	}
	price := intent.Order.Price
	if intent.Update.Price != nil {
		price = *intent.Update.Price
	}
	amount := intent.Order.Remaining
	if intent.Update.Amount != nil {
		amount = *intent.Update.Amount
	}

	payload := schema.NewPayloadOrder()
	payload.Set("symbol", market.Symbol)
	payload.Set("side", venueSide(intent.Order.Side))
	payload.Set("positionSide", f.positionSide(intent.Order.Side, intent.Order.Type, intent.Order.ReduceOnly))
	payload.Set("type", venueOrderType(intent.Order.Type))
	payload.Set("quantity", numeric.Format(amount, market.Precision.Amount))
	if intent.Order.Type == schema.OrderTypeLimit {
		payload.Set("price", numeric.Format(price, market.Precision.Price))
		payload.Set("timeInForce", string(schema.TimeInForceGTC))
	}
	if intent.Order.ReduceOnly {
		payload.Set("reduceOnly", "true")
	}
	payload.Set("newClientOrderId", f.newID())
	return payload, nil
}

func clonePayload(base *schema.PayloadOrder) *schema.PayloadOrder {
	out := schema.NewPayloadOrder()
	for _, key := range base.Keys() {
		value, _ := base.Get(key)
		out.Set(key, value)
	}
	return out
}
