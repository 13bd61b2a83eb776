package confidence

import (
	"errors"
	"fmt"
	"math"

	"wyckoff-signal-engine/internal/patterns"
)

// Components breaks a score into its weighted dimensions for auditing.
type Components struct {
	Pattern   float64  `json:"pattern"`
	Phase     float64  `json:"phase"`
	Volume    float64  `json:"volume"`
	Penalty   float64  `json:"penalty"` // total subtracted fraction
	Overall   float64  `json:"overall"`
	Penalties []string `json:"penalties,omitempty"` // names of applied penalties
}

// Weights holds the per-dimension weights. They must sum to 1.
type Weights struct {
	Pattern float64 `json:"pattern"`
	Phase   float64 `json:"phase"`
	Volume  float64 `json:"volume"`
}

var ErrBadWeights = errors.New("confidence weights must be positive and sum to 1")

// Validate checks the weight invariants.
func (w Weights) Validate() error {
	if w.Pattern < 0 || w.Phase < 0 || w.Volume < 0 {
		return ErrBadWeights
	}
	if math.Abs(w.Pattern+w.Phase+w.Volume-1) > 1e-9 {
		return fmt.Errorf("%w: got %.4f", ErrBadWeights, w.Pattern+w.Phase+w.Volume)
	}
	return nil
}

// Penalty is one situational reduction: when its condition holds for a
// detection, SubtractPct is removed from the overall score.
type Penalty struct {
	Name        string
	SubtractPct float64 // e.g. 5 removes 0.05 from the score
	Applies     func(det *patterns.Detection) bool
}

// Rejection reports a score below the configured floor. Recorded, not a fault.
type Rejection struct {
	Kind       patterns.Kind
	Score      float64
	Floor      float64
	Components Components
}

func (r *Rejection) String() string {
	return fmt.Sprintf("%s below confidence floor: %.4f < %.4f", r.Kind, r.Score, r.Floor)
}

// Scorer combines per-dimension confidences into one score and enforces the
// floor. The floor check always runs after penalties.
type Scorer struct {
	weights   Weights
	floor     float64
	penalties []Penalty
}

// NewScorer creates a scorer. Invalid weights or a floor outside (0, 1] are
// configuration errors and refuse construction.
func NewScorer(weights Weights, floor float64, penalties []Penalty) (*Scorer, error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	if floor <= 0 || floor > 1 {
		return nil, fmt.Errorf("confidence floor %.4f outside (0, 1]", floor)
	}
	return &Scorer{weights: weights, floor: floor, penalties: penalties}, nil
}

// Floor returns the configured minimum score.
func (s *Scorer) Floor() float64 {
	return s.floor
}

// Score computes the weighted overall confidence for a detection, applies
// penalties, and rejects scores below the floor. Exactly one of the returns
// is nil.
func (s *Scorer) Score(det *patterns.Detection) (*Components, *Rejection) {
	c := Components{
		Pattern: det.PatternConfidence,
		Phase:   det.PhaseConfidence,
		Volume:  det.VolumeConfidence,
	}
	overall := s.weights.Pattern*c.Pattern +
		s.weights.Phase*c.Phase +
		s.weights.Volume*c.Volume

	for _, p := range s.penalties {
		if p.Applies != nil && p.Applies(det) {
			overall -= p.SubtractPct / 100
			c.Penalty += p.SubtractPct / 100
			c.Penalties = append(c.Penalties, p.Name)
		}
	}
	if overall < 0 {
		overall = 0
	}
	c.Overall = overall

	// Mandatory: the floor is checked after penalties, never before.
	if overall < s.floor {
		return nil, &Rejection{Kind: det.Kind, Score: overall, Floor: s.floor, Components: c}
	}
	return &c, nil
}
