// Package store holds the process-local projection of the trader's account.
package store

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/arbelos/usdm/internal/schema"
)

// Store is the mutable local projection: markets, tickers, positions, balance,
// open orders, and adapter settings. Single-writer convention: the adapter and
// its private stream write, everyone else reads. Updates replace sub-values
// rather than mutate shared state in place.
type Store struct {
	mu sync.RWMutex

	marketsByID     map[string]schema.Market
	marketsBySymbol map[string]schema.Market
	tickers         map[string]schema.Ticker
	positions       []schema.Position
	balance         schema.Balance
	orders          map[string]schema.Order

	hedged    bool
	latencyMS int64

	marketsLoaded bool
	tickersLoaded bool
	ordersLoaded  bool
}

// New constructs an empty store.
func New() *Store {
	return &Store{
		marketsByID:     make(map[string]schema.Market),
		marketsBySymbol: make(map[string]schema.Market),
		tickers:         make(map[string]schema.Ticker),
		orders:          make(map[string]schema.Order),
	}
}

// ReplaceMarkets swaps the full market catalog.
func (s *Store) ReplaceMarkets(markets []schema.Market) {
	byID := make(map[string]schema.Market, len(markets))
	bySymbol := make(map[string]schema.Market, len(markets))
	for _, m := range markets {
		byID[m.ID] = m
		bySymbol[m.Symbol] = m
	}
	s.mu.Lock()
	s.marketsByID = byID
	s.marketsBySymbol = bySymbol
	s.marketsLoaded = true
	s.mu.Unlock()
}

// Market returns the catalog entry for a unified id or venue symbol.
func (s *Store) Market(key string) (schema.Market, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m, ok := s.marketsByID[key]; ok {
		return m, true
	}
	m, ok := s.marketsBySymbol[key]
	return m, ok
}

// Markets returns a copy of the catalog.
func (s *Store) Markets() []schema.Market {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]schema.Market, 0, len(s.marketsByID))
	for _, m := range s.marketsByID {
		out = append(out, m)
	}
	return out
}

// HasMarket reports whether the venue symbol is in the catalog.
func (s *Store) HasMarket(symbol string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.marketsBySymbol[symbol]
	return ok
}

// ReplaceTickers swaps the full ticker set.
func (s *Store) ReplaceTickers(tickers map[string]schema.Ticker) {
	copied := make(map[string]schema.Ticker, len(tickers))
	for symbol, t := range tickers {
		copied[symbol] = t
	}
	s.mu.Lock()
	s.tickers = copied
	s.tickersLoaded = true
	s.mu.Unlock()
}

// SetTicker upserts one ticker.
func (s *Store) SetTicker(ticker schema.Ticker) {
	s.mu.Lock()
	s.tickers[ticker.Symbol] = ticker
	s.mu.Unlock()
}

// Ticker returns the ticker for a venue symbol.
func (s *Store) Ticker(symbol string) (schema.Ticker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tickers[symbol]
	return t, ok
}

// ReplacePositions swaps the open position set.
func (s *Store) ReplacePositions(positions []schema.Position) {
	copied := make([]schema.Position, len(positions))
	copy(copied, positions)
	s.mu.Lock()
	s.positions = copied
	s.mu.Unlock()
}

// Positions returns a copy of the open positions.
func (s *Store) Positions() []schema.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]schema.Position, len(s.positions))
	copy(out, s.positions)
	return out
}

// Position locates an open position by venue symbol and side.
func (s *Store) Position(symbol string, side schema.PositionSide) (schema.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.positions {
		if p.Symbol == symbol && p.Side == side {
			return p, true
		}
	}
	return schema.Position{}, false
}

// ApplyPositionSlot folds one ACCOUNT_UPDATE position slot into an existing
// position. Slots for unknown (symbol, side) pairs are ignored.
func (s *Store) ApplyPositionSlot(symbol string, side schema.PositionSide, entryPrice, contracts, upnl decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.positions {
		if p.Symbol != symbol || p.Side != side {
			continue
		}
		p.EntryPrice = entryPrice
		p.Contracts = contracts.Abs()
		p.UnrealizedPnl = upnl
		p.Notional = contracts.Abs().Mul(entryPrice).Add(upnl).Abs()
		s.positions[i] = p
		return
	}
}

// SetBalance replaces the balance projection.
func (s *Store) SetBalance(balance schema.Balance) {
	balance.Assets = append([]schema.BalanceAsset(nil), balance.Assets...)
	s.mu.Lock()
	s.balance = balance
	s.mu.Unlock()
}

// ApplyBalanceSlot updates one asset's wallet balance and recomputes totals.
// Unknown assets are ignored; USD values scale with the wallet delta so the
// total stays consistent between tick refreshes.
func (s *Store) ApplyBalanceSlot(asset string, walletBalance decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, entry := range s.balance.Assets {
		if entry.Symbol != asset {
			continue
		}
		if entry.WalletBalance.Sign() != 0 {
			rate := entry.USDValue.Div(entry.WalletBalance)
			entry.USDValue = walletBalance.Mul(rate)
		} else {
			entry.USDValue = walletBalance
		}
		entry.WalletBalance = walletBalance
		s.balance.Assets[i] = entry
		s.balance.RecomputeTotal()
		return
	}
}

// Balance returns a copy of the balance projection.
func (s *Store) Balance() schema.Balance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.balance
	out.Assets = append([]schema.BalanceAsset(nil), s.balance.Assets...)
	return out
}

// UpsertOrder inserts or replaces an order keyed by client ID.
func (s *Store) UpsertOrder(order schema.Order) {
	s.mu.Lock()
	s.orders[order.ID] = order
	s.mu.Unlock()
}

// RemoveOrder deletes an order by client ID.
func (s *Store) RemoveOrder(clientID string) {
	s.mu.Lock()
	delete(s.orders, clientID)
	s.mu.Unlock()
}

// Order returns an open order by client ID.
func (s *Store) Order(clientID string) (schema.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[clientID]
	return o, ok
}

// Orders returns a copy of the open order set.
func (s *Store) Orders() []schema.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]schema.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	return out
}

// ReplaceOrders swaps the open order set.
func (s *Store) ReplaceOrders(orders []schema.Order) {
	copied := make(map[string]schema.Order, len(orders))
	for _, o := range orders {
		copied[o.ID] = o
	}
	s.mu.Lock()
	s.orders = copied
	s.ordersLoaded = true
	s.mu.Unlock()
}

// SetHedged records the account position mode.
func (s *Store) SetHedged(hedged bool) {
	s.mu.Lock()
	s.hedged = hedged
	s.mu.Unlock()
}

// Hedged reports whether the account runs in hedge mode.
func (s *Store) Hedged() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hedged
}

// SetLatency records the measured stream latency in milliseconds.
func (s *Store) SetLatency(ms int64) {
	s.mu.Lock()
	s.latencyMS = ms
	s.mu.Unlock()
}

// Latency returns the last measured stream latency in milliseconds.
func (s *Store) Latency() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latencyMS
}

// Loaded reports bootstrap progress: markets, tickers, and orders.
func (s *Store) Loaded() (markets, tickers, orders bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.marketsLoaded, s.tickersLoaded, s.ordersLoaded
}
