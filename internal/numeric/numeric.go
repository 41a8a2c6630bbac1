// Package numeric provides decimal step and precision helpers shared across the adapter.
package numeric

import (
	"strings"

	"github.com/shopspring/decimal"
)

// SnapToStep floors value toward zero onto a multiple of step.
// A zero or negative step returns the value unchanged.
func SnapToStep(value, step decimal.Decimal) decimal.Decimal {
	if step.Sign() <= 0 {
		return value
	}
	steps := value.Div(step).Truncate(0)
	return steps.Mul(step)
}

// ScaleFromStep derives the effective fractional precision from a decimal "step" string.
func ScaleFromStep(step string) int32 {
	step = strings.TrimSpace(step)
	if step == "" {
		return 0
	}
	idx := strings.IndexByte(step, '.')
	if idx < 0 {
		return 0
	}
	frac := strings.TrimRight(step[idx+1:], "0")
	return int32(len(frac))
}

// Parse converts a decimal string into a decimal. On failure it returns (0, false).
func Parse(s string) (decimal.Decimal, bool) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return decimal.Zero, false
	}
	dec, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, false
	}
	return dec, true
}

// ParseOrZero converts a decimal string, treating blanks and garbage as zero.
func ParseOrZero(s string) decimal.Decimal {
	dec, ok := Parse(s)
	if !ok {
		return decimal.Zero
	}
	return dec
}

// Format renders a decimal snapped to step as a plain string suitable for venue payloads.
func Format(value, step decimal.Decimal) string {
	snapped := SnapToStep(value, step)
	scale := ScaleFromStep(step.String())
	return snapped.StringFixed(scale)
}
