package schema

import "github.com/shopspring/decimal"

// Ticker carries the latest market snapshot for one symbol.
// OpenInterest stays zero when the venue omits it.
type Ticker struct {
	Symbol       string
	Bid          decimal.Decimal
	Ask          decimal.Decimal
	Last         decimal.Decimal
	Mark         decimal.Decimal
	Index        decimal.Decimal
	Percentage   decimal.Decimal
	FundingRate  decimal.Decimal
	Volume       decimal.Decimal
	QuoteVolume  decimal.Decimal
	OpenInterest decimal.Decimal
}

// Kline is one OHLCV bar returned by the klines endpoint.
type Kline struct {
	OpenTime int64
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Close    decimal.Decimal
	Volume   decimal.Decimal
}
