package structure

import "wyckoff-signal-engine/internal/market"

// Store is the per-symbol arena owning bars, pivots, and the active trading
// range. Downstream stages (phase events, patterns, signals) reference this
// data by index, which keeps the object graph acyclic: nothing holds a
// back-reference into the store.
//
// A Store is confined to its symbol's worker goroutine and needs no locking.
type Store struct {
	Symbol string

	bars   []market.Bar
	pivots []Pivot
	tr     *TradingRange
	cycle  int
}

// NewStore creates an empty arena for one symbol.
func NewStore(symbol string) *Store {
	return &Store{Symbol: symbol}
}

// AppendBar adds a validated bar and returns its index.
func (s *Store) AppendBar(bar market.Bar) int {
	s.bars = append(s.bars, bar)
	return len(s.bars) - 1
}

// Bars returns the full bar slice. Callers must treat it as read-only.
func (s *Store) Bars() []market.Bar {
	return s.bars
}

// Bar returns the bar at idx.
func (s *Store) Bar(idx int) market.Bar {
	return s.bars[idx]
}

// BarCount returns the number of ingested bars.
func (s *Store) BarCount() int {
	return len(s.bars)
}

// AddPivots appends newly confirmed pivots.
func (s *Store) AddPivots(pivots []Pivot) {
	s.pivots = append(s.pivots, pivots...)
}

// Pivots returns all pivots confirmed so far in the current cycle.
func (s *Store) Pivots() []Pivot {
	return s.pivots
}

// Range returns the active trading range, or nil before one forms.
func (s *Store) Range() *TradingRange {
	return s.tr
}

// SetRange installs or replaces the active trading range.
func (s *Store) SetRange(tr *TradingRange) {
	s.tr = tr
}

// Cycle returns the current range-cycle counter. It increments on every
// invalidation and scopes campaigns and phase events.
func (s *Store) Cycle() int {
	return s.cycle
}

// InvalidateRange destroys the active range and starts a new cycle. Pivots
// confirmed in the dead cycle are discarded so the next range is built from
// post-invalidation structure only.
func (s *Store) InvalidateRange() {
	s.tr = nil
	s.pivots = s.pivots[:0]
	s.cycle++
}
