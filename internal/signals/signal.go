package signals

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"wyckoff-signal-engine/internal/confidence"
	"wyckoff-signal-engine/internal/patterns"
)

// Status is a signal's lifecycle state.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
	StatusFilled    Status = "FILLED"
	StatusStopped   Status = "STOPPED"
	StatusTargetHit Status = "TARGET_HIT"
	StatusExpired   Status = "EXPIRED"
)

// Terminal reports whether a status ends the signal's lifecycle.
func (s Status) Terminal() bool {
	switch s {
	case StatusRejected, StatusStopped, StatusTargetHit, StatusExpired:
		return true
	}
	return false
}

// validTransitions is the signal status state machine. REJECTED is reachable
// only from PENDING; EXPIRED covers both never-filled and timed-out fills.
var validTransitions = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusRejected},
	StatusApproved: {StatusFilled, StatusExpired},
	StatusFilled:   {StatusStopped, StatusTargetHit, StatusExpired},
}

// ErrInvalidTransition marks a status change the state machine forbids,
// including any transition out of a terminal status. It is a state-invariant
// violation: fatal for the symbol's worker.
var ErrInvalidTransition = errors.New("invalid signal status transition")

// Direction is the trade side a signal implies.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// Signal is a validated, scored pattern detection mapped to tradeable fields.
// Signals are never deleted; they move only through the status machine.
type Signal struct {
	ID        uuid.UUID          `json:"id"`
	Symbol    string             `json:"symbol"`
	Detection patterns.Detection `json:"detection"`
	Direction Direction          `json:"direction"`

	EntryPrice      float64 `json:"entry_price"`
	StopLoss        float64 `json:"stop_loss"`
	TargetPrice     float64 `json:"target_price"`
	SecondaryTarget float64 `json:"secondary_target,omitempty"` // 0 when unset
	RMultiple       float64 `json:"r_multiple"`

	ConfidenceScore      float64               `json:"confidence_score"`
	ConfidenceComponents confidence.Components `json:"confidence_components"`

	CampaignID *uuid.UUID `json:"campaign_id,omitempty"`
	Status     Status     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Transition moves the signal to a new status, enforcing the state machine.
// Duplicate terminal transitions are invalid, not idempotent.
func (s *Signal) Transition(to Status) error {
	for _, allowed := range validTransitions[s.Status] {
		if allowed == to {
			s.Status = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s (signal %s)", ErrInvalidTransition, s.Status, to, s.ID)
}
