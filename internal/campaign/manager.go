package campaign

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"wyckoff-signal-engine/internal/signals"
)

// Status is a campaign's aggregate state over its signals.
type Status string

const (
	StatusOpen   Status = "OPEN"   // at least one non-terminal signal, none filled (or a stop hit)
	StatusFilled Status = "FILLED" // any signal filled and none stopped
	StatusClosed Status = "CLOSED" // every signal terminal
)

var (
	// ErrSignalNotFound is returned for updates to unknown signal ids.
	ErrSignalNotFound = errors.New("signal not found in any campaign")
	// ErrCampaignClosed marks an attach to a campaign that already closed.
	ErrCampaignClosed = errors.New("campaign already closed")
)

// Campaign groups all signals generated from one (symbol, range-cycle) pair.
// A signal belongs to at most one campaign.
type Campaign struct {
	ID       uuid.UUID         `json:"id"`
	Symbol   string            `json:"symbol"`
	Cycle    int               `json:"cycle"`
	Signals  []*signals.Signal `json:"signals"`
	Status   Status            `json:"status"`
	OpenBar  int               `json:"open_bar"`
	CloseBar int               `json:"close_bar"` // -1 while open
	OpenedAt time.Time         `json:"opened_at"`
}

// SignalIDs returns the ordered ids of the campaign's signals.
func (c *Campaign) SignalIDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(c.Signals))
	for i, s := range c.Signals {
		ids[i] = s.ID
	}
	return ids
}

// Manager tracks campaign lifecycles across symbols. It is shared between
// symbol workers and the correlation gate, so all access is lock-guarded.
type Manager struct {
	mu     sync.RWMutex
	logger zerolog.Logger

	// active campaign per symbol; a symbol has at most one open campaign.
	active map[string]*Campaign
	closed []*Campaign
	byID   map[uuid.UUID]*Campaign
}

// NewManager creates a campaign manager.
func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{
		logger: logger.With().Str("component", "CampaignManager").Logger(),
		active: make(map[string]*Campaign),
		byID:   make(map[uuid.UUID]*Campaign),
	}
}

// Attach assigns an approved signal to its (symbol, cycle) campaign, opening
// a new campaign when the cycle has none yet. A new cycle after invalidation
// always opens a new campaign.
func (m *Manager) Attach(sig *signals.Signal, cycle, barIdx int) (*Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.active[sig.Symbol]
	if c != nil && c.Cycle != cycle {
		// Stale campaign from a dead cycle still open: signals must all be
		// terminal before the worker starts a new cycle's campaign.
		if c.Status != StatusClosed {
			m.expireLocked(c, barIdx)
		}
		c = nil
	}

	if c == nil {
		c = &Campaign{
			ID:       uuid.New(),
			Symbol:   sig.Symbol,
			Cycle:    cycle,
			Status:   StatusOpen,
			OpenBar:  barIdx,
			CloseBar: -1,
			OpenedAt: time.Now(),
		}
		m.active[sig.Symbol] = c
		m.byID[c.ID] = c
		m.logger.Info().
			Str("symbol", sig.Symbol).
			Str("campaign_id", c.ID.String()).
			Int("cycle", cycle).
			Msg("campaign opened")
	}
	if c.Status == StatusClosed {
		return nil, fmt.Errorf("%w: %s", ErrCampaignClosed, c.ID)
	}

	id := c.ID
	sig.CampaignID = &id
	c.Signals = append(c.Signals, sig)
	m.logger.Info().
		Str("symbol", sig.Symbol).
		Str("campaign_id", c.ID.String()).
		Str("signal_id", sig.ID.String()).
		Str("pattern", string(sig.Detection.Kind)).
		Msg("signal attached to campaign")
	return c, nil
}

// UpdateSignal transitions a campaign signal's status and recomputes the
// campaign's aggregate. barIdx records the close bar if the campaign ends.
func (m *Manager) UpdateSignal(id uuid.UUID, to signals.Status, barIdx int) (*Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.byID {
		for _, s := range c.Signals {
			if s.ID != id {
				continue
			}
			if err := s.Transition(to); err != nil {
				return nil, err
			}
			m.recomputeLocked(c, barIdx)
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrSignalNotFound, id)
}

// Campaign returns a campaign by id.
func (m *Manager) Campaign(id uuid.UUID) (*Campaign, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byID[id]
	return c, ok
}

// Active returns the open campaign for a symbol, if any.
func (m *Manager) Active(symbol string) (*Campaign, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.active[symbol]
	return c, ok
}

// OpenSymbols returns the symbols that currently have an open campaign,
// excluding the given symbol. The correlation gate checks new signals
// against these.
func (m *Manager) OpenSymbols(except string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.active))
	for sym, c := range m.active {
		if sym == except || c.Status == StatusClosed {
			continue
		}
		out = append(out, sym)
	}
	return out
}

// All returns every campaign, open and closed.
func (m *Manager) All() []*Campaign {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Campaign, 0, len(m.byID))
	for _, c := range m.byID {
		out = append(out, c)
	}
	return out
}

// recomputeLocked applies the aggregate status rules: FILLED when any signal
// is filled and none stopped; CLOSED only when every signal is terminal.
func (m *Manager) recomputeLocked(c *Campaign, barIdx int) {
	allTerminal := true
	anyFilled := false
	anyStopped := false
	for _, s := range c.Signals {
		if !s.Status.Terminal() {
			allTerminal = false
		}
		if s.Status == signals.StatusFilled {
			anyFilled = true
		}
		if s.Status == signals.StatusStopped {
			anyStopped = true
		}
	}

	switch {
	case allTerminal && len(c.Signals) > 0:
		c.Status = StatusClosed
		c.CloseBar = barIdx
		delete(m.active, c.Symbol)
		m.closed = append(m.closed, c)
		m.logger.Info().
			Str("symbol", c.Symbol).
			Str("campaign_id", c.ID.String()).
			Int("close_bar", barIdx).
			Msg("campaign closed")
	case anyFilled && !anyStopped:
		c.Status = StatusFilled
	default:
		c.Status = StatusOpen
	}
}

// expireLocked force-expires the open signals of a stale campaign so the
// aggregate can close. Walks each signal through its remaining legal states.
func (m *Manager) expireLocked(c *Campaign, barIdx int) {
	for _, s := range c.Signals {
		if s.Status.Terminal() {
			continue
		}
		switch s.Status {
		case signals.StatusPending:
			_ = s.Transition(signals.StatusRejected)
		default:
			_ = s.Transition(signals.StatusExpired)
		}
	}
	m.recomputeLocked(c, barIdx)
}
