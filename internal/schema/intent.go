package schema

import (
	"bytes"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// SimpleIntent describes one high-level placement request, optionally with
// attached stop-loss and take-profit triggers.
type SimpleIntent struct {
	Symbol      string
	Type        OrderType
	Side        OrderSide
	Price       decimal.Decimal
	Amount      decimal.Decimal
	TimeInForce TimeInForce
	ReduceOnly  bool
	StopLoss    decimal.Decimal // zero when absent
	TakeProfit  decimal.Decimal // zero when absent
}

// SplitIntent distributes a quote-denominated amount across a ladder of
// limit orders between FromPrice and ToPrice, weighted linearly from
// FromScale to ToScale.
type SplitIntent struct {
	Symbol       string
	Side         OrderSide
	Type         OrderType
	Amount       decimal.Decimal // quote currency
	Orders       int
	FromPrice    decimal.Decimal
	ToPrice      decimal.Decimal
	FromScale    decimal.Decimal
	ToScale      decimal.Decimal
	AutoReAdjust bool
}

// OrderUpdate carries the mutable fields of an order amendment.
type OrderUpdate struct {
	Price  *decimal.Decimal
	Amount *decimal.Decimal
}

// UpdateIntent amends one open order. The venue lacks amend for the covered
// order types, so updates become a cancel plus a fresh payload.
type UpdateIntent struct {
	Order  Order
	Update OrderUpdate
}

// PayloadOrder is one venue-shaped order request: an ordered mapping of
// venue field names to string values, carrying its own client ID.
type PayloadOrder struct {
	keys   []string
	values map[string]string
}

// NewPayloadOrder returns an empty payload.
func NewPayloadOrder() *PayloadOrder {
	return &PayloadOrder{values: make(map[string]string)}
}

// Set stores a field, preserving first-set ordering.
func (p *PayloadOrder) Set(key, value string) {
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
}

// Get returns the value for key and whether it is present.
func (p *PayloadOrder) Get(key string) (string, bool) {
	v, ok := p.values[key]
	return v, ok
}

// Has reports whether key is present.
func (p *PayloadOrder) Has(key string) bool {
	_, ok := p.values[key]
	return ok
}

// Keys returns the field names in insertion order.
func (p *PayloadOrder) Keys() []string {
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

// ClientID returns the locally generated client order identifier.
func (p *PayloadOrder) ClientID() string {
	return p.values["newClientOrderId"]
}

// Len returns the number of fields set.
func (p *PayloadOrder) Len() int {
	return len(p.keys)
}

// MarshalJSON renders the payload as a JSON object preserving field order,
// the shape the batch-orders endpoint expects per element.
func (p *PayloadOrder) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range p.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(p.values[key])
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
