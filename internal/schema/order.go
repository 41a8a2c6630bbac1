package schema

import "github.com/shopspring/decimal"

// OrderStatus enumerates the lifecycle states tracked in the store.
type OrderStatus string

const (
	OrderStatusOpen     OrderStatus = "open"
	OrderStatusClosed   OrderStatus = "closed"
	OrderStatusCanceled OrderStatus = "canceled"
)

// OrderType enumerates the placement order types handled by the formatter.
type OrderType string

const (
	OrderTypeMarket           OrderType = "market"
	OrderTypeLimit            OrderType = "limit"
	OrderTypeStopLoss         OrderType = "stop_loss"
	OrderTypeTakeProfit       OrderType = "take_profit"
	OrderTypeTrailingStopLoss OrderType = "trailing_stop_loss"
)

// OrderSide enumerates trade directions.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Opposite returns the other trade direction.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// TimeInForce enumerates supported order durations.
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
	TimeInForceFOK TimeInForce = "FOK"
	TimeInForceGTX TimeInForce = "GTX"
)

// Order is the store projection of one venue order.
// Invariant: Filled.Add(Remaining) equals Amount.
type Order struct {
	ID         string // client-assigned identifier
	OrderID    string // venue-assigned identifier
	Status     OrderStatus
	Symbol     string
	Type       OrderType
	Side       OrderSide
	Price      decimal.Decimal
	Amount     decimal.Decimal
	Filled     decimal.Decimal
	Remaining  decimal.Decimal
	ReduceOnly bool
}

// FillRecord describes one execution folded out of the private stream.
type FillRecord struct {
	Symbol      string
	ClientID    string
	Side        OrderSide
	Price       decimal.Decimal
	Amount      decimal.Decimal
	Notional    decimal.Decimal
	RealizedPnl decimal.Decimal
	Commission  *decimal.Decimal // nil when the venue omits the field
	ReduceOnly  bool
	Maker       bool
}

// BatchOutcome reports the terminal result for one dispatched payload.
type BatchOutcome struct {
	ClientID string
	Err      error
}
