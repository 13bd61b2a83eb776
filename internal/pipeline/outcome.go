package pipeline

import (
	"context"

	"github.com/google/uuid"

	"wyckoff-signal-engine/internal/patterns"
	"wyckoff-signal-engine/internal/phase"
	"wyckoff-signal-engine/internal/signals"
)

// RejectionStage identifies which pipeline stage rejected a candidate.
type RejectionStage string

const (
	StageValidation  RejectionStage = "VALIDATION"
	StageConfidence  RejectionStage = "CONFIDENCE"
	StageCorrelation RejectionStage = "CORRELATION"
)

// CandidateRejection is the observable record of a rejected candidate.
// Every rejection produces one; "no candidate" produces none. This is what
// distinguishes the two for audit and backtesting.
type CandidateRejection struct {
	Stage   RejectionStage `json:"stage"`
	Pattern patterns.Kind  `json:"pattern"`
	Code    string         `json:"code"`
	Reason  string         `json:"reason"`

	// Confidence-stage detail.
	Score float64 `json:"score,omitempty"`
	Floor float64 `json:"floor,omitempty"`

	// Correlation-stage detail.
	Correlation      float64   `json:"correlation,omitempty"`
	ConflictSymbol   string    `json:"conflict_symbol,omitempty"`
	ConflictCampaign uuid.UUID `json:"conflict_campaign,omitempty"`
}

// BarOutcome is the pipeline's per-bar output record. The campaign context
// is an explicit field here, not ambient state: it is what the correlation
// gate and the audit trail see.
type BarOutcome struct {
	Symbol   string `json:"symbol"`
	BarIndex int    `json:"bar_index"`
	BarTime  int64  `json:"bar_time"`
	Cycle    int    `json:"cycle"`

	Phase            phase.Phase          `json:"phase"`
	PhaseTransition  *phase.Transition    `json:"phase_transition,omitempty"`
	RangeInvalidated bool                 `json:"range_invalidated,omitempty"`
	Events           []patterns.Detection `json:"events,omitempty"`     // SC/AR/ST audit records
	Detections       []patterns.Detection `json:"detections,omitempty"` // tradeable-kind detections
	Rejections       []CandidateRejection `json:"rejections,omitempty"`
	Signals          []*signals.Signal    `json:"signals,omitempty"` // approved this bar

	CampaignID *uuid.UUID `json:"campaign_id,omitempty"`
}

// Interesting reports whether the outcome carries anything beyond "bar
// processed": sinks may skip persisting quiet bars.
func (o *BarOutcome) Interesting() bool {
	return o.PhaseTransition != nil || o.RangeInvalidated ||
		len(o.Events) > 0 || len(o.Detections) > 0 ||
		len(o.Rejections) > 0 || len(o.Signals) > 0
}

// OutcomeSink receives every bar outcome for audit persistence. The pipeline
// itself is storage-free; a sink failure is logged, never retried.
type OutcomeSink interface {
	Record(ctx context.Context, outcome *BarOutcome) error
}

// NopSink discards outcomes.
type NopSink struct{}

func (NopSink) Record(context.Context, *BarOutcome) error { return nil }
