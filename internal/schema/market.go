// Package schema defines the unified account and market data model shared across the adapter.
package schema

import "github.com/shopspring/decimal"

// MarketPrecision carries price and amount step sizes for a contract.
type MarketPrecision struct {
	Amount decimal.Decimal
	Price  decimal.Decimal
}

// AmountLimits bounds the order quantity accepted by the venue.
type AmountLimits struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

// LeverageLimits bounds the leverage configurable for a contract.
type LeverageLimits struct {
	Min int
	Max int
}

// MarketLimits aggregates venue-imposed order constraints.
type MarketLimits struct {
	Amount      AmountLimits
	MinNotional decimal.Decimal
	Leverage    LeverageLimits
}

// Market describes one perpetual contract. Immutable after catalog load.
type Market struct {
	ID        string // unified "base/quote:margin" identifier
	Symbol    string // venue symbol, e.g. BTCUSDT
	Base      string
	Quote     string
	Active    bool
	Precision MarketPrecision
	Limits    MarketLimits
}

// UnifiedID builds the composite market identifier from its currencies.
func UnifiedID(base, quote, margin string) string {
	return base + "/" + quote + ":" + margin
}
