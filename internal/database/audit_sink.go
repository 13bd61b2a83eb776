package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"wyckoff-signal-engine/internal/campaign"
	"wyckoff-signal-engine/internal/pipeline"
	"wyckoff-signal-engine/internal/signals"
)

// AuditSink persists pipeline bar outcomes to PostgreSQL. Quiet bars are
// skipped; replayed bars upsert into the same rows so the trail stays
// idempotent.
type AuditSink struct {
	repo      *Repository
	campaigns *campaign.Manager
}

// NewAuditSink creates an outcome sink over the repository. The campaign
// manager supplies the aggregate campaign state for upserts.
func NewAuditSink(repo *Repository, campaigns *campaign.Manager) *AuditSink {
	return &AuditSink{repo: repo, campaigns: campaigns}
}

// Record implements pipeline.OutcomeSink.
func (s *AuditSink) Record(ctx context.Context, outcome *pipeline.BarOutcome) error {
	if !outcome.Interesting() {
		return nil
	}

	rec := &OutcomeRecord{
		Symbol:           outcome.Symbol,
		BarIndex:         outcome.BarIndex,
		BarTime:          outcome.BarTime,
		Cycle:            outcome.Cycle,
		Phase:            string(outcome.Phase),
		RangeInvalidated: outcome.RangeInvalidated,
		CampaignID:       outcome.CampaignID,
	}
	if outcome.PhaseTransition != nil {
		from := string(outcome.PhaseTransition.From)
		rec.PhaseFrom = &from
	}
	if len(outcome.Events) > 0 {
		data, err := json.Marshal(outcome.Events)
		if err != nil {
			return fmt.Errorf("marshal events: %w", err)
		}
		rec.Events = data
	}
	if len(outcome.Detections) > 0 {
		data, err := json.Marshal(outcome.Detections)
		if err != nil {
			return fmt.Errorf("marshal detections: %w", err)
		}
		rec.Detections = data
	}
	if err := s.repo.InsertOutcome(ctx, rec); err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}

	if t := outcome.PhaseTransition; t != nil {
		if err := s.repo.InsertPhaseTransition(ctx, outcome.Symbol, t.Cycle,
			string(t.From), string(t.To), t.BarIndex); err != nil {
			return fmt.Errorf("insert phase transition: %w", err)
		}
	}

	for i := range outcome.Rejections {
		if err := s.recordRejection(ctx, outcome, &outcome.Rejections[i]); err != nil {
			return err
		}
	}
	for _, sig := range outcome.Signals {
		if err := s.recordSignal(ctx, outcome, sig); err != nil {
			return err
		}
	}
	if outcome.CampaignID != nil {
		if err := s.recordCampaign(ctx, *outcome.CampaignID); err != nil {
			return err
		}
	}
	return nil
}

func (s *AuditSink) recordRejection(ctx context.Context, outcome *pipeline.BarOutcome, rej *pipeline.CandidateRejection) error {
	rec := &RejectionRecord{
		Symbol:   outcome.Symbol,
		BarIndex: outcome.BarIndex,
		Cycle:    outcome.Cycle,
		Stage:    string(rej.Stage),
		Pattern:  string(rej.Pattern),
		Code:     rej.Code,
		Reason:   rej.Reason,
	}
	switch rej.Stage {
	case pipeline.StageConfidence:
		score, floor := rej.Score, rej.Floor
		rec.Score, rec.Floor = &score, &floor
	case pipeline.StageCorrelation:
		corr := rej.Correlation
		rec.Correlation = &corr
		if rej.ConflictSymbol != "" {
			sym := rej.ConflictSymbol
			rec.ConflictSymbol = &sym
		}
		if rej.ConflictCampaign != uuid.Nil {
			id := rej.ConflictCampaign
			rec.ConflictCampaign = &id
		}
	}
	if err := s.repo.InsertRejection(ctx, rec); err != nil {
		return fmt.Errorf("insert rejection: %w", err)
	}
	return nil
}

func (s *AuditSink) recordSignal(ctx context.Context, outcome *pipeline.BarOutcome, sig *signals.Signal) error {
	components, err := json.Marshal(sig.ConfidenceComponents)
	if err != nil {
		return fmt.Errorf("marshal components: %w", err)
	}
	rec := &SignalRecord{
		ID:          sig.ID,
		Symbol:      sig.Symbol,
		Pattern:     string(sig.Detection.Kind),
		Direction:   string(sig.Direction),
		EntryPrice:  sig.EntryPrice,
		StopLoss:    sig.StopLoss,
		TargetPrice: sig.TargetPrice,
		RMultiple:   sig.RMultiple,
		Confidence:  sig.ConfidenceScore,
		Components:  components,
		Status:      string(sig.Status),
		CampaignID:  sig.CampaignID,
		BarIndex:    sig.Detection.BarIndex,
		Cycle:       outcome.Cycle,
		CreatedAt:   sig.CreatedAt,
	}
	if sig.SecondaryTarget != 0 {
		st := sig.SecondaryTarget
		rec.SecondaryTarget = &st
	}
	if err := s.repo.UpsertSignal(ctx, rec); err != nil {
		return fmt.Errorf("upsert signal: %w", err)
	}
	return nil
}

func (s *AuditSink) recordCampaign(ctx context.Context, id uuid.UUID) error {
	c, ok := s.campaigns.Campaign(id)
	if !ok {
		return nil
	}
	rec := &CampaignRecord{
		ID:       c.ID,
		Symbol:   c.Symbol,
		Cycle:    c.Cycle,
		Status:   string(c.Status),
		OpenBar:  c.OpenBar,
		OpenedAt: c.OpenedAt,
	}
	if c.CloseBar >= 0 {
		cb := c.CloseBar
		rec.CloseBar = &cb
	}
	if err := s.repo.UpsertCampaign(ctx, rec); err != nil {
		return fmt.Errorf("upsert campaign: %w", err)
	}
	return nil
}
