package binance

import (
	"testing"
	"time"

	"github.com/arbelos/usdm/internal/events"
	"github.com/arbelos/usdm/internal/schema"
	"github.com/arbelos/usdm/internal/store"
)

func newTestStream() (*UserStream, *store.Store, *events.Emitter) {
	st := store.New()
	emitter := events.NewEmitter()
	s := NewUserStream(Options{}, nil, st, emitter, nil)
	return s, st, emitter
}

func TestHandleMessagePingLatency(t *testing.T) {
	s, st, _ := newTestStream()

	sentAt := time.Unix(1_700_000_000, 0)
	s.clock = func() time.Time { return sentAt.Add(80 * time.Millisecond) }

	rearm := s.handleMessage([]byte(`{"id":42,"result":["btcusdt@depth"]}`), sentAt)
	if !rearm {
		t.Fatalf("ping echo must rearm the timer")
	}
	// 80ms round trip yields a 40ms one-way estimate.
	if got := st.Latency(); got != 40 {
		t.Fatalf("expected 40ms latency, got %d", got)
	}
}

func TestHandleMessagePingEchoBeforeSendIgnored(t *testing.T) {
	s, st, _ := newTestStream()
	s.clock = time.Now

	if rearm := s.handleMessage([]byte(`{"id":42}`), time.Time{}); !rearm {
		t.Fatalf("echo still rearms even when the send time is unknown")
	}
	if got := st.Latency(); got != 0 {
		t.Fatalf("latency must stay untouched without a send time, got %d", got)
	}
}

func TestHandleMessageMalformedDropped(t *testing.T) {
	s, _, _ := newTestStream()
	if rearm := s.handleMessage([]byte(`{not json`), time.Time{}); rearm {
		t.Fatalf("malformed frames must not rearm the ping timer")
	}
	// Unknown event types are ignored without panicking.
	if rearm := s.handleMessage([]byte(`{"e":"MARGIN_CALL"}`), time.Time{}); rearm {
		t.Fatalf("unknown events must not rearm the ping timer")
	}
}

func TestHandleMessageNumericEventTime(t *testing.T) {
	s, st, _ := newTestStream()

	// Live frames always carry the numeric "E" event-time key alongside the
	// lowercase "e" event type; the header decode must accept both.
	frame := []byte(`{"e":"ORDER_TRADE_UPDATE","E":1700000000000,"o":{"s":"BTCUSDT","c":"cid-11","S":"BUY","o":"LIMIT","X":"NEW","q":"1","z":"0","p":"100"}}`)
	s.handleMessage(frame, time.Time{})

	if _, ok := st.Order("cid-11"); !ok {
		t.Fatalf("frame with event time must not be dropped")
	}
}

func TestAccountUpdateAppliesSlots(t *testing.T) {
	s, st, emitter := newTestStream()

	st.ReplacePositions([]schema.Position{{
		Symbol:     "BTCUSDT",
		Side:       schema.PositionSideLong,
		EntryPrice: dec("100"),
		Contracts:  dec("1"),
	}})
	st.SetBalance(schema.Balance{Assets: []schema.BalanceAsset{
		{Symbol: "USDT", WalletBalance: dec("1000"), USDValue: dec("1000")},
	}})

	updates, cancel := emitter.Subscribe(events.TopicPositionUpdate, 4)
	defer cancel()

	frame := []byte(`{
		"e":"ACCOUNT_UPDATE","E":1700000000000,
		"a":{
			"B":[{"a":"USDT","wb":"1200.50"}],
			"P":[{"s":"BTCUSDT","pa":"2","ep":"110","up":"15","ps":"BOTH"}]
		}
	}`)
	s.handleMessage(frame, time.Time{})

	p, ok := st.Position("BTCUSDT", schema.PositionSideLong)
	if !ok {
		t.Fatalf("expected position present")
	}
	if !p.EntryPrice.Equal(dec("110")) || !p.Contracts.Equal(dec("2")) || !p.UnrealizedPnl.Equal(dec("15")) {
		t.Fatalf("position slot not applied: %+v", p)
	}

	b := st.Balance()
	if !b.Assets[0].WalletBalance.Equal(dec("1200.50")) {
		t.Fatalf("balance slot not applied: %+v", b.Assets[0])
	}
	if !b.Total.Equal(dec("1200.50")) {
		t.Fatalf("expected total recomputed to 1200.50, got %s", b.Total)
	}

	select {
	case evt := <-updates:
		slots, ok := evt.Payload.([]positionSlot)
		if !ok || len(slots) != 1 {
			t.Fatalf("expected raw position slots on positionUpdate, got %T", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for positionUpdate")
	}
}

func TestAccountUpdateShortSlotFromSignedAmount(t *testing.T) {
	s, st, _ := newTestStream()
	st.ReplacePositions([]schema.Position{{
		Symbol: "ETHUSDT",
		Side:   schema.PositionSideShort,
	}})

	frame := []byte(`{"e":"ACCOUNT_UPDATE","a":{"P":[{"s":"ETHUSDT","pa":"-3","ep":"200","up":"-10","ps":"BOTH"}]}}`)
	s.handleMessage(frame, time.Time{})

	p, ok := st.Position("ETHUSDT", schema.PositionSideShort)
	if !ok {
		t.Fatalf("expected short position present")
	}
	if !p.Contracts.Equal(dec("3")) {
		t.Fatalf("contracts must be stored unsigned, got %s", p.Contracts)
	}
}

func TestOrderTradeUpdateEmitsFill(t *testing.T) {
	s, st, emitter := newTestStream()
	st.UpsertOrder(schema.Order{ID: "cid-7", Symbol: "BTCUSDT", Status: schema.OrderStatusOpen})

	fills, cancel := emitter.Subscribe(events.TopicFill, 4)
	defer cancel()

	frame := []byte(`{
		"e":"ORDER_TRADE_UPDATE","E":1700000000123,"T":1700000000120,
		"o":{
			"s":"BTCUSDT","c":"cid-7","S":"SELL","o":"LIMIT","X":"FILLED",
			"q":"2","z":"2","l":"0.5","ap":"50000","rp":"12.5","n":"0.02",
			"m":true,"R":true,"i":8886774
		}
	}`)
	s.handleMessage(frame, time.Time{})

	select {
	case evt := <-fills:
		fill, ok := evt.Payload.(schema.FillRecord)
		if !ok {
			t.Fatalf("unexpected fill payload: %T", evt.Payload)
		}
		if fill.ClientID != "cid-7" || fill.Symbol != "BTCUSDT" {
			t.Fatalf("fill identity wrong: %+v", fill)
		}
		if fill.Side != schema.OrderSideSell {
			t.Fatalf("expected sell fill, got %s", fill.Side)
		}
		if !fill.Price.Equal(dec("50000")) || !fill.Amount.Equal(dec("0.5")) {
			t.Fatalf("fill price/amount wrong: %+v", fill)
		}
		if !fill.Notional.Equal(dec("25000")) {
			t.Fatalf("expected notional 25000, got %s", fill.Notional)
		}
		if !fill.RealizedPnl.Equal(dec("12.5")) {
			t.Fatalf("expected realized pnl 12.5, got %s", fill.RealizedPnl)
		}
		if !fill.Maker || !fill.ReduceOnly {
			t.Fatalf("maker and reduceOnly flags lost: %+v", fill)
		}
		if fill.Commission == nil || !fill.Commission.Equal(dec("0.02")) {
			t.Fatalf("expected commission 0.02, got %v", fill.Commission)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for fill")
	}

	// A FILLED terminal state also removes the order from the store.
	if _, ok := st.Order("cid-7"); ok {
		t.Fatalf("filled order must leave the open set")
	}
}

func TestOrderTradeUpdateCommissionOmitted(t *testing.T) {
	s, _, emitter := newTestStream()

	fills, cancel := emitter.Subscribe(events.TopicFill, 4)
	defer cancel()

	frame := []byte(`{"e":"ORDER_TRADE_UPDATE","o":{"s":"BTCUSDT","c":"cid-8","S":"BUY","X":"PARTIALLY_FILLED","l":"1","ap":"100","rp":"0"}}`)
	s.handleMessage(frame, time.Time{})

	select {
	case evt := <-fills:
		fill := evt.Payload.(schema.FillRecord)
		if fill.Commission != nil {
			t.Fatalf("absent commission field must stay nil, got %v", fill.Commission)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for fill")
	}
}

func TestOrderTradeUpdateNewUpsertsOrder(t *testing.T) {
	s, st, _ := newTestStream()

	// Trigger orders report a zero limit price; the stop price stands in.
	frame := []byte(`{
		"e":"ORDER_TRADE_UPDATE",
		"o":{
			"s":"BTCUSDT","c":"cid-9","S":"SELL","o":"STOP_MARKET","X":"NEW",
			"q":"1.5","z":"0","p":"0","sp":"48000","R":true,"i":1234
		}
	}`)
	s.handleMessage(frame, time.Time{})

	order, ok := st.Order("cid-9")
	if !ok {
		t.Fatalf("expected order upserted on NEW")
	}
	if order.Status != schema.OrderStatusOpen {
		t.Fatalf("expected open status, got %s", order.Status)
	}
	if order.Type != schema.OrderTypeStopLoss {
		t.Fatalf("expected stop_loss type, got %s", order.Type)
	}
	if !order.Price.Equal(dec("48000")) {
		t.Fatalf("expected stop price fallback, got %s", order.Price)
	}
	if !order.Remaining.Equal(dec("1.5")) {
		t.Fatalf("expected remaining 1.5, got %s", order.Remaining)
	}
	if order.OrderID != "1234" {
		t.Fatalf("expected venue order id carried over, got %s", order.OrderID)
	}
}

func TestOrderTradeUpdateCanceledRemovesOrder(t *testing.T) {
	s, st, _ := newTestStream()
	st.UpsertOrder(schema.Order{ID: "cid-10", Symbol: "BTCUSDT", Status: schema.OrderStatusOpen})

	frame := []byte(`{"e":"ORDER_TRADE_UPDATE","o":{"s":"BTCUSDT","c":"cid-10","S":"BUY","X":"CANCELED"}}`)
	s.handleMessage(frame, time.Time{})

	if _, ok := st.Order("cid-10"); ok {
		t.Fatalf("canceled order must leave the open set")
	}
}
