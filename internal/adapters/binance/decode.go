package binance

import (
	"strconv"
	"strings"

	"github.com/arbelos/usdm/internal/numeric"
	"github.com/arbelos/usdm/internal/schema"
)

func orderSideFromVenue(side string) schema.OrderSide {
	if strings.EqualFold(strings.TrimSpace(side), "SELL") {
		return schema.OrderSideSell
	}
	return schema.OrderSideBuy
}

func orderTypeFromVenue(typ string) schema.OrderType {
	switch strings.ToUpper(strings.TrimSpace(typ)) {
	case "LIMIT":
		return schema.OrderTypeLimit
	case "STOP", "STOP_MARKET":
		return schema.OrderTypeStopLoss
	case "TAKE_PROFIT", "TAKE_PROFIT_MARKET":
		return schema.OrderTypeTakeProfit
	case "TRAILING_STOP_MARKET":
		return schema.OrderTypeTrailingStopLoss
	default:
		return schema.OrderTypeMarket
	}
}

func formatOrderID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// orderFromOpenEntry converts a REST open-order row into the stored shape.
// Zero limit prices fall back to the trigger price, matching the stream path.
func orderFromOpenEntry(entry openOrderEntry) schema.Order {
	price := numeric.ParseOrZero(entry.Price)
	if price.Sign() == 0 {
		price = numeric.ParseOrZero(entry.StopPrice)
	}
	amount := numeric.ParseOrZero(entry.OrigQty)
	filled := numeric.ParseOrZero(entry.ExecutedQty)
	return schema.Order{
		ID:         entry.ClientOrderID,
		OrderID:    formatOrderID(entry.OrderID),
		Status:     schema.OrderStatusOpen,
		Symbol:     strings.ToUpper(strings.TrimSpace(entry.Symbol)),
		Type:       orderTypeFromVenue(entry.Type),
		Side:       orderSideFromVenue(entry.Side),
		Price:      price,
		Amount:     amount,
		Filled:     filled,
		Remaining:  amount.Sub(filled),
		ReduceOnly: entry.ReduceOnly,
	}
}
