package binance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	json "github.com/goccy/go-json"

	"github.com/arbelos/usdm/internal/events"
	"github.com/arbelos/usdm/internal/numeric"
	"github.com/arbelos/usdm/internal/observability"
	"github.com/arbelos/usdm/internal/schema"
	"github.com/arbelos/usdm/internal/store"
)

// pingID tags the application-level ping so the echo can be matched.
const pingID = 42

const maxReconnectInterval = 30 * time.Second

// userDataHeader peeks at a frame before the full decode. The EventTime field
// exists so the numeric "E" key cannot bind case-insensitively to EventType.
type userDataHeader struct {
	ID        int    `json:"id"`
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
}

type accountUpdateEvent struct {
	EventType string            `json:"e"`
	EventTime int64             `json:"E"`
	Data      accountUpdateData `json:"a"`
}

type accountUpdateData struct {
	Balances  []balanceSlot  `json:"B"`
	Positions []positionSlot `json:"P"`
}

type balanceSlot struct {
	Asset         string `json:"a"`
	WalletBalance string `json:"wb"`
}

type positionSlot struct {
	Symbol        string `json:"s"`
	PositionAmt   string `json:"pa"`
	EntryPrice    string `json:"ep"`
	UnrealizedPnl string `json:"up"`
	PositionSide  string `json:"ps"`
}

type orderTradeUpdateEvent struct {
	EventType string         `json:"e"`
	EventTime int64          `json:"E"`
	Order     orderTradeSlot `json:"o"`
}

type orderTradeSlot struct {
	Symbol        string  `json:"s"`
	ClientOrderID string  `json:"c"`
	Side          string  `json:"S"`
	OrderType     string  `json:"o"`
	Quantity      string  `json:"q"`
	Price         string  `json:"p"`
	AvgPrice      string  `json:"ap"`
	StopPrice     string  `json:"sp"`
	Status        string  `json:"X"`
	OrderID       int64   `json:"i"`
	LastFilled    string  `json:"l"`
	CumFilled     string  `json:"z"`
	Commission    *string `json:"n"`
	Maker         bool    `json:"m"`
	ReduceOnly    bool    `json:"R"`
	RealizedPnl   string  `json:"rp"`
}

type pingRequest struct {
	ID     int    `json:"id"`
	Method string `json:"method"`
}

// UserStream maintains the keep-alive user-data websocket and folds live
// fill, order-lifecycle, position, and balance events into the store. It is
// parameterized by the store writer and the event emitter rather than the
// adapter itself, so no back-reference cycle exists.
type UserStream struct {
	opts    Options
	rest    *RestClient
	store   *store.Store
	emitter *events.Emitter
	metrics *adapterMetrics
	clock   func() time.Time
}

// NewUserStream constructs the private stream component.
func NewUserStream(opts Options, rest *RestClient, st *store.Store, emitter *events.Emitter, metrics *adapterMetrics) *UserStream {
	return &UserStream{
		opts:    withDefaults(opts),
		rest:    rest,
		store:   st,
		emitter: emitter,
		metrics: metrics,
		clock:   time.Now,
	}
}

// Run acquires a listen key, consumes the stream, and reconnects with
// exponential backoff until the context is cancelled.
func (s *UserStream) Run(ctx context.Context) {
	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.MaxInterval = maxReconnectInterval
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		listenKey, err := s.rest.CreateListenKey(ctx)
		if err != nil {
			s.reportError(fmt.Errorf("listen key: %w", err))
			if s.pause(ctx, backoffCfg) {
				return
			}
			continue
		}
		backoffCfg.Reset()
		err = s.consume(ctx, listenKey)
		if errors.Is(err, context.Canceled) {
			return
		}
		if err != nil {
			s.reportError(fmt.Errorf("user stream: %w", err))
		}
		if s.metrics != nil {
			s.metrics.recordStreamReconnect()
		}
		if s.pause(ctx, backoffCfg) {
			return
		}
	}
}

// pause sleeps for the next backoff interval, reporting context cancellation.
func (s *UserStream) pause(ctx context.Context, cfg *backoff.ExponentialBackOff) bool {
	sleep := cfg.NextBackOff()
	if sleep == backoff.Stop {
		sleep = maxReconnectInterval
	}
	select {
	case <-ctx.Done():
		return true
	case <-time.After(sleep):
		return false
	}
}

// consume owns one websocket session: a reader goroutine feeds the message
// channel while the session loop multiplexes messages, the listen-key
// keep-alive, and the ping rearm timer.
func (s *UserStream) consume(ctx context.Context, listenKey string) error {
	base := strings.TrimSuffix(s.opts.websocketURL(), "/")
	url := base + "/" + strings.TrimSpace(listenKey)
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer func() {
		_ = conn.Close(websocket.StatusNormalClosure, "shutdown")
	}()

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	msgs := make(chan []byte, 16)
	readErr := make(chan error, 1)
	go func() {
		defer close(msgs)
		for {
			msgType, data, err := conn.Read(sessionCtx)
			if err != nil {
				readErr <- err
				return
			}
			if msgType != websocket.MessageText {
				continue
			}
			select {
			case msgs <- data:
			case <-sessionCtx.Done():
				return
			}
		}
	}()

	keepAlive := time.NewTicker(s.opts.listenKeyKeepAliveDuration())
	defer keepAlive.Stop()

	pingTimer := time.NewTimer(0) // immediate first ping on open
	defer pingTimer.Stop()

	var pingSentAt time.Time

	for {
		select {
		case <-ctx.Done():
			return context.Canceled
		case err := <-readErr:
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return context.Canceled
			}
			return fmt.Errorf("read %s: %w", url, err)
		case <-keepAlive.C:
			if err := s.rest.KeepAliveListenKey(ctx, listenKey); err != nil {
				s.reportError(fmt.Errorf("listen key keepalive: %w", err))
			}
		case <-pingTimer.C:
			ping, err := json.Marshal(pingRequest{ID: pingID, Method: "LIST_SUBSCRIPTIONS"})
			if err != nil {
				break
			}
			pingSentAt = s.clock()
			writeCtx, writeCancel := context.WithTimeout(sessionCtx, 5*time.Second)
			err = conn.Write(writeCtx, websocket.MessageText, ping)
			writeCancel()
			if err != nil {
				s.reportError(fmt.Errorf("write ping: %w", err))
			}
		case data, ok := <-msgs:
			if !ok {
				msgs = nil // reader exited; wait for the error
				continue
			}
			if s.handleMessage(data, pingSentAt) {
				pingTimer.Reset(s.opts.pingIntervalDuration())
			}
		}
	}
}

// handleMessage decodes one frame. Malformed frames are silently dropped.
// It reports whether the frame was the ping echo, which rearms the timer.
func (s *UserStream) handleMessage(data []byte, pingSentAt time.Time) bool {
	var header userDataHeader
	if err := json.Unmarshal(data, &header); err != nil {
		return false
	}
	if header.ID == pingID {
		if !pingSentAt.IsZero() {
			latency := s.clock().Sub(pingSentAt) / 2
			ms := latency.Round(time.Millisecond).Milliseconds()
			s.store.SetLatency(ms)
			if s.metrics != nil {
				s.metrics.recordStreamLatency(ms)
			}
		}
		return true
	}
	switch header.EventType {
	case "ACCOUNT_UPDATE":
		var event accountUpdateEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return false
		}
		s.handleAccountUpdate(event)
	case "ORDER_TRADE_UPDATE":
		var event orderTradeUpdateEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return false
		}
		s.handleOrderTradeUpdate(event)
	default:
		observability.Log().Debug("user stream event ignored",
			observability.Field{Key: "type", Value: header.EventType})
	}
	return false
}

// decodeSlotSide maps the venue ps field onto the stored position side.
// BOTH (one-way accounts) derives the side from the signed position amount.
func decodeSlotSide(ps, positionAmt string) schema.PositionSide {
	switch strings.ToUpper(strings.TrimSpace(ps)) {
	case "LONG":
		return schema.PositionSideLong
	case "SHORT":
		return schema.PositionSideShort
	}
	if numeric.ParseOrZero(positionAmt).Sign() < 0 {
		return schema.PositionSideShort
	}
	return schema.PositionSideLong
}

func (s *UserStream) handleAccountUpdate(event accountUpdateEvent) {
	s.emitter.Emit(events.TopicPositionUpdate, event.Data.Positions)

	for _, slot := range event.Data.Positions {
		symbol := strings.ToUpper(strings.TrimSpace(slot.Symbol))
		if symbol == "" {
			continue
		}
		side := decodeSlotSide(slot.PositionSide, slot.PositionAmt)
		s.store.ApplyPositionSlot(symbol,
			side,
			numeric.ParseOrZero(slot.EntryPrice),
			numeric.ParseOrZero(slot.PositionAmt),
			numeric.ParseOrZero(slot.UnrealizedPnl))
	}
	for _, slot := range event.Data.Balances {
		asset := strings.ToUpper(strings.TrimSpace(slot.Asset))
		if asset == "" {
			continue
		}
		s.store.ApplyBalanceSlot(asset, numeric.ParseOrZero(slot.WalletBalance))
	}
}

func (s *UserStream) handleOrderTradeUpdate(event orderTradeUpdateEvent) {
	slot := event.Order
	status := strings.ToUpper(strings.TrimSpace(slot.Status))

	if status == "PARTIALLY_FILLED" || status == "FILLED" {
		amount := numeric.ParseOrZero(slot.LastFilled)
		price := numeric.ParseOrZero(slot.AvgPrice)
		fill := schema.FillRecord{
			Symbol:      strings.ToUpper(strings.TrimSpace(slot.Symbol)),
			ClientID:    slot.ClientOrderID,
			Side:        orderSideFromVenue(slot.Side),
			Price:       price,
			Amount:      amount,
			Notional:    amount.Mul(price),
			RealizedPnl: numeric.ParseOrZero(slot.RealizedPnl),
			ReduceOnly:  slot.ReduceOnly,
			Maker:       slot.Maker,
		}
		if slot.Commission != nil {
			commission := numeric.ParseOrZero(*slot.Commission)
			fill.Commission = &commission
		}
		s.emitter.Emit(events.TopicFill, fill)
		if s.metrics != nil {
			s.metrics.recordFill(fill)
		}
	}

	switch status {
	case "NEW":
		price := numeric.ParseOrZero(slot.Price)
		if price.Sign() == 0 {
			price = numeric.ParseOrZero(slot.StopPrice)
		}
		amount := numeric.ParseOrZero(slot.Quantity)
		filled := numeric.ParseOrZero(slot.CumFilled)
		s.store.UpsertOrder(schema.Order{
			ID:         slot.ClientOrderID,
			OrderID:    formatOrderID(slot.OrderID),
			Status:     schema.OrderStatusOpen,
			Symbol:     strings.ToUpper(strings.TrimSpace(slot.Symbol)),
			Type:       orderTypeFromVenue(slot.OrderType),
			Side:       orderSideFromVenue(slot.Side),
			Price:      price,
			Amount:     amount,
			Filled:     filled,
			Remaining:  amount.Sub(filled),
			ReduceOnly: slot.ReduceOnly,
		})
	case "CANCELED", "FILLED", "EXPIRED":
		s.store.RemoveOrder(slot.ClientOrderID)
	}
}

func (s *UserStream) reportError(err error) {
	if err == nil {
		return
	}
	observability.Log().Error("user stream", observability.Field{Key: "error", Value: err.Error()})
	s.emitter.Emit(events.TopicError, err.Error())
}
