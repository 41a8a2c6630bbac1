// Package errs provides structured error types and helpers for the usdm adapter.
package errs

import (
	"errors"
	"strconv"
	"strings"
)

// Code identifies an adapter error category.
type Code string

const (
	// CodeMarketNotFound indicates the requested symbol is absent from the catalog.
	CodeMarketNotFound Code = "market_not_found"
	// CodeTickerNotFound indicates no ticker is loaded for the requested symbol.
	CodeTickerNotFound Code = "ticker_not_found"
	// CodePositionNotFound indicates no open position matches the request.
	CodePositionNotFound Code = "position_not_found"
	// CodeScaleInfeasible indicates a split intent cannot satisfy venue minimums.
	CodeScaleInfeasible Code = "scale_infeasible"
	// CodeVenue indicates an exchange-side rejection carrying a raw code and message.
	CodeVenue Code = "venue_error"
	// CodeNetwork indicates a network transport failure.
	CodeNetwork Code = "network"
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
)

// E captures structured error information produced across the adapter.
type E struct {
	Code    Code
	HTTP    int
	RawCode string
	RawMsg  string
	Message string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the given code.
func New(code Code, opts ...Option) *E {
	e := &E{Code: code}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithHTTP records the associated HTTP status code.
func WithHTTP(status int) Option {
	return func(e *E) {
		e.HTTP = status
	}
}

// WithRawCode captures the raw venue error code.
func WithRawCode(code string) Option {
	trimmed := strings.TrimSpace(code)
	return func(e *E) {
		e.RawCode = trimmed
	}
}

// WithRawMessage captures the raw venue error message.
func WithRawMessage(msg string) Option {
	return func(e *E) {
		e.RawMsg = msg
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.HTTP > 0 {
		parts = append(parts, "http="+strconv.Itoa(e.HTTP))
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.RawCode != "" {
		parts = append(parts, "raw_code="+strconv.Quote(e.RawCode))
	}
	if e.RawMsg != "" {
		parts = append(parts, "raw_msg="+strconv.Quote(e.RawMsg))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// Is matches envelopes by code so callers can use errors.Is with sentinel envelopes.
func (e *E) Is(target error) bool {
	if e == nil {
		return false
	}
	var other *E
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

// MarketNotFound returns a standardized error for an unknown symbol.
func MarketNotFound(symbol string) *E {
	return New(CodeMarketNotFound, WithMessage("market not found: "+strings.TrimSpace(symbol)))
}

// TickerNotFound returns a standardized error for a missing ticker.
func TickerNotFound(symbol string) *E {
	return New(CodeTickerNotFound, WithMessage("ticker not found: "+strings.TrimSpace(symbol)))
}

// PositionNotFound returns a standardized error for a missing position.
func PositionNotFound(symbol string) *E {
	return New(CodePositionNotFound, WithMessage("position not found: "+strings.TrimSpace(symbol)))
}

// HasCode reports whether err carries the provided adapter code.
func HasCode(err error, code Code) bool {
	var e *E
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == code
}
