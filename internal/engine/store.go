package engine

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"go-signal/internal/model"
)

// Store is a thread-safe in-memory view of the latest cycle per symbol and
// the most recent events across all symbols.
type Store struct {
	mu        sync.RWMutex
	symbols   map[string]SymbolSnapshot
	events    []model.Event // recent events (capped)
	maxEvents int
}

// SymbolSnapshot holds the latest state for a single symbol.
type SymbolSnapshot struct {
	Symbol     string              `json:"symbol"`
	Metrics    model.CandleMetrics `json:"metrics"`
	Score      model.ScoreResult   `json:"score"`
	Position   model.Position      `json:"position"`
	Unrealized decimal.Decimal     `json:"unrealized"`
	LastEvent  *model.Event        `json:"lastEvent,omitempty"`
	LastError  string              `json:"lastError,omitempty"`
	HasCycle   bool                `json:"hasCycle"`
	UpdatedAt  time.Time           `json:"updatedAt"`
}

// StoreSnapshot is a point-in-time copy of all store data.
type StoreSnapshot struct {
	Symbols []SymbolSnapshot `json:"symbols"`
	Events  []model.Event    `json:"events"`
}

// NewStore creates an empty store keeping at most maxEvents events.
func NewStore(maxEvents int) *Store {
	if maxEvents <= 0 {
		maxEvents = 200
	}
	return &Store{
		symbols:   make(map[string]SymbolSnapshot),
		maxEvents: maxEvents,
	}
}

// RecordCycle stores the outcome of a successful cycle.
func (s *Store) RecordCycle(res CycleResult, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := SymbolSnapshot{
		Symbol:     res.Symbol,
		Metrics:    res.Metrics,
		Score:      res.Score,
		Position:   res.Position,
		Unrealized: res.Unrealized,
		HasCycle:   true,
		UpdatedAt:  at,
	}
	if len(res.Events) > 0 {
		last := res.Events[len(res.Events)-1]
		snap.LastEvent = &last
	}
	s.symbols[res.Symbol] = snap
}

// RecordError marks a failed cycle without discarding the last good state.
func (s *Store) RecordError(symbol string, err error, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.symbols[symbol]
	snap.Symbol = symbol
	snap.LastError = err.Error()
	snap.UpdatedAt = at
	s.symbols[symbol] = snap
}

// SetPosition replaces the stored position of symbol, e.g. after a manual close.
func (s *Store) SetPosition(symbol string, pos model.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.symbols[symbol]
	snap.Symbol = symbol
	snap.Position = pos
	if pos.IsFlat() {
		snap.Unrealized = decimal.Zero
	}
	s.symbols[symbol] = snap
}

// AddEvents appends events, keeping the newest maxEvents.
func (s *Store) AddEvents(list []model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, list...)
	if len(s.events) > s.maxEvents {
		s.events = s.events[len(s.events)-s.maxEvents:]
	}
}

// RecentEvents returns up to n of the newest events, optionally filtered by symbol.
func (s *Store) RecentEvents(symbol string, n int) []model.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Event, 0, len(s.events))
	for _, ev := range s.events {
		if symbol != "" && ev.Symbol != symbol {
			continue
		}
		out = append(out, ev)
	}
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

// Symbol returns the snapshot of one symbol, if any.
func (s *Store) Symbol(symbol string) (SymbolSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.symbols[symbol]
	return snap, ok
}

// Snapshot returns a point-in-time copy of all state data, symbols sorted.
func (s *Store) Snapshot() StoreSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	symbols := make([]SymbolSnapshot, 0, len(s.symbols))
	for _, snap := range s.symbols {
		symbols = append(symbols, snap)
	}
	sort.Slice(symbols, func(i, j int) bool {
		return symbols[i].Symbol < symbols[j].Symbol
	})

	events := make([]model.Event, len(s.events))
	copy(events, s.events)

	return StoreSnapshot{
		Symbols: symbols,
		Events:  events,
	}
}
