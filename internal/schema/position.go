package schema

import "github.com/shopspring/decimal"

// PositionSide enumerates position directions. Contracts stay non-negative;
// direction is encoded here.
type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
)

// Position is the store projection of one open position.
type Position struct {
	Symbol           string
	Side             PositionSide
	EntryPrice       decimal.Decimal
	Contracts        decimal.Decimal
	Notional         decimal.Decimal
	Leverage         int
	UnrealizedPnl    decimal.Decimal
	LiquidationPrice decimal.Decimal
}
