package binance

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/arbelos/usdm/internal/schema"
)

var (
	attrSymbol = attribute.Key("symbol")
	attrResult = attribute.Key("result")
	attrSide   = attribute.Key("side")
)

type adapterMetrics struct {
	ordersDispatched metric.Int64Counter
	orderFailures    metric.Int64Counter
	fills            metric.Int64Counter
	queueDepth       metric.Int64Gauge
	streamReconnects metric.Int64Counter
	streamLatency    metric.Float64Histogram
}

func newAdapterMetrics() *adapterMetrics {
	meter := otel.Meter("adapter.usdm")

	am := &adapterMetrics{}

	am.ordersDispatched, _ = meter.Int64Counter("usdm_orders_dispatched",
		metric.WithDescription("Order payloads dispatched to the venue"),
		metric.WithUnit("{order}"))

	am.orderFailures, _ = meter.Int64Counter("usdm_order_failures",
		metric.WithDescription("Order payloads rejected by the venue"),
		metric.WithUnit("{order}"))

	am.fills, _ = meter.Int64Counter("usdm_fills",
		metric.WithDescription("Fill events received on the user stream"),
		metric.WithUnit("{fill}"))

	am.queueDepth, _ = meter.Int64Gauge("usdm_queue_depth",
		metric.WithDescription("Payloads waiting in the dispatch queue"),
		metric.WithUnit("{order}"))

	am.streamReconnects, _ = meter.Int64Counter("usdm_stream_reconnects",
		metric.WithDescription("User-data stream reconnect attempts"),
		metric.WithUnit("{reconnect}"))

	am.streamLatency, _ = meter.Float64Histogram("usdm_stream_latency",
		metric.WithDescription("One-way latency estimated from stream pings"),
		metric.WithUnit("ms"))

	return am
}

func (am *adapterMetrics) recordQueueDepth(depth int) {
	if am == nil || am.queueDepth == nil {
		return
	}
	am.queueDepth.Record(context.Background(), int64(depth))
}

func (am *adapterMetrics) recordDispatch(outcomes []schema.BatchOutcome) {
	if am == nil || am.ordersDispatched == nil || am.orderFailures == nil {
		return
	}
	ctx := context.Background()
	for _, outcome := range outcomes {
		if outcome.Err != nil {
			am.orderFailures.Add(ctx, 1, metric.WithAttributes(
				attrResult.String("rejected")))
			continue
		}
		am.ordersDispatched.Add(ctx, 1, metric.WithAttributes(
			attrResult.String("accepted")))
	}
}

func (am *adapterMetrics) recordFill(fill schema.FillRecord) {
	if am == nil || am.fills == nil {
		return
	}
	am.fills.Add(context.Background(), 1, metric.WithAttributes(
		attrSymbol.String(strings.ToUpper(fill.Symbol)),
		attrSide.String(string(fill.Side))))
}

func (am *adapterMetrics) recordStreamReconnect() {
	if am == nil || am.streamReconnects == nil {
		return
	}
	am.streamReconnects.Add(context.Background(), 1)
}

func (am *adapterMetrics) recordStreamLatency(ms int64) {
	if am == nil || am.streamLatency == nil {
		return
	}
	am.streamLatency.Record(context.Background(), float64(ms))
}
