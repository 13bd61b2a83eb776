package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Repository provides data access methods for the audit trail
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck performs a database health check
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// ============================================================================
// SIGNALS
// ============================================================================

// SignalRecord is the persisted form of an approved signal.
type SignalRecord struct {
	ID              uuid.UUID       `json:"id"`
	Symbol          string          `json:"symbol"`
	Pattern         string          `json:"pattern"`
	Direction       string          `json:"direction"`
	EntryPrice      float64         `json:"entry_price"`
	StopLoss        float64         `json:"stop_loss"`
	TargetPrice     float64         `json:"target_price"`
	SecondaryTarget *float64        `json:"secondary_target,omitempty"`
	RMultiple       float64         `json:"r_multiple"`
	Confidence      float64         `json:"confidence"`
	Components      json.RawMessage `json:"components,omitempty"`
	Status          string          `json:"status"`
	CampaignID      *uuid.UUID      `json:"campaign_id,omitempty"`
	BarIndex        int             `json:"bar_index"`
	Cycle           int             `json:"cycle"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// UpsertSignal inserts a signal or refreshes its status on replay. The UUID
// is assigned by the pipeline, so replaying the same bar stream lands on the
// same row.
func (r *Repository) UpsertSignal(ctx context.Context, rec *SignalRecord) error {
	query := `
		INSERT INTO signals (id, symbol, pattern, direction, entry_price, stop_loss, target_price,
		                     secondary_target, r_multiple, confidence, components, status, campaign_id,
		                     bar_index, cycle, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, campaign_id = EXCLUDED.campaign_id
	`
	_, err := r.db.Pool.Exec(
		ctx, query,
		rec.ID, rec.Symbol, rec.Pattern, rec.Direction, rec.EntryPrice, rec.StopLoss,
		rec.TargetPrice, rec.SecondaryTarget, rec.RMultiple, rec.Confidence, rec.Components,
		rec.Status, rec.CampaignID, rec.BarIndex, rec.Cycle, rec.CreatedAt,
	)
	return err
}

// UpdateSignalStatus moves a persisted signal to a new status.
func (r *Repository) UpdateSignalStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := r.db.Pool.Exec(ctx, `UPDATE signals SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("signal %s not found", id)
	}
	return nil
}

// GetSignalByID retrieves a signal by ID
func (r *Repository) GetSignalByID(ctx context.Context, id uuid.UUID) (*SignalRecord, error) {
	query := `
		SELECT id, symbol, pattern, direction, entry_price, stop_loss, target_price,
		       secondary_target, r_multiple, confidence, components, status, campaign_id,
		       bar_index, cycle, created_at, updated_at
		FROM signals
		WHERE id = $1
	`
	rec := &SignalRecord{}
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&rec.ID, &rec.Symbol, &rec.Pattern, &rec.Direction, &rec.EntryPrice, &rec.StopLoss,
		&rec.TargetPrice, &rec.SecondaryTarget, &rec.RMultiple, &rec.Confidence, &rec.Components,
		&rec.Status, &rec.CampaignID, &rec.BarIndex, &rec.Cycle, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// GetSignals retrieves signals with optional symbol and status filters,
// newest first.
func (r *Repository) GetSignals(ctx context.Context, symbol, status string, limit int) ([]*SignalRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, symbol, pattern, direction, entry_price, stop_loss, target_price,
		       secondary_target, r_multiple, confidence, components, status, campaign_id,
		       bar_index, cycle, created_at, updated_at
		FROM signals
		WHERE ($1 = '' OR symbol = $1)
		  AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`
	rows, err := r.db.Pool.Query(ctx, query, symbol, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SignalRecord
	for rows.Next() {
		rec := &SignalRecord{}
		if err := rows.Scan(
			&rec.ID, &rec.Symbol, &rec.Pattern, &rec.Direction, &rec.EntryPrice, &rec.StopLoss,
			&rec.TargetPrice, &rec.SecondaryTarget, &rec.RMultiple, &rec.Confidence, &rec.Components,
			&rec.Status, &rec.CampaignID, &rec.BarIndex, &rec.Cycle, &rec.CreatedAt, &rec.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ============================================================================
// CAMPAIGNS
// ============================================================================

// CampaignRecord is the persisted form of a campaign.
type CampaignRecord struct {
	ID       uuid.UUID `json:"id"`
	Symbol   string    `json:"symbol"`
	Cycle    int       `json:"cycle"`
	Status   string    `json:"status"`
	OpenBar  int       `json:"open_bar"`
	CloseBar *int      `json:"close_bar,omitempty"`
	OpenedAt time.Time `json:"opened_at"`
}

// UpsertCampaign inserts or refreshes a campaign row.
func (r *Repository) UpsertCampaign(ctx context.Context, rec *CampaignRecord) error {
	query := `
		INSERT INTO campaigns (id, symbol, cycle, status, open_bar, close_bar, opened_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, close_bar = EXCLUDED.close_bar
	`
	_, err := r.db.Pool.Exec(
		ctx, query,
		rec.ID, rec.Symbol, rec.Cycle, rec.Status, rec.OpenBar, rec.CloseBar, rec.OpenedAt,
	)
	return err
}

// GetCampaigns retrieves campaigns, optionally filtered by symbol and status.
func (r *Repository) GetCampaigns(ctx context.Context, symbol, status string, limit int) ([]*CampaignRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, symbol, cycle, status, open_bar, close_bar, opened_at
		FROM campaigns
		WHERE ($1 = '' OR symbol = $1)
		  AND ($2 = '' OR status = $2)
		ORDER BY opened_at DESC
		LIMIT $3
	`
	rows, err := r.db.Pool.Query(ctx, query, symbol, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*CampaignRecord
	for rows.Next() {
		rec := &CampaignRecord{}
		if err := rows.Scan(&rec.ID, &rec.Symbol, &rec.Cycle, &rec.Status,
			&rec.OpenBar, &rec.CloseBar, &rec.OpenedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ============================================================================
// BAR OUTCOMES AND REJECTIONS
// ============================================================================

// OutcomeRecord is one persisted pipeline bar outcome.
type OutcomeRecord struct {
	Symbol           string          `json:"symbol"`
	BarIndex         int             `json:"bar_index"`
	BarTime          int64           `json:"bar_time"`
	Cycle            int             `json:"cycle"`
	Phase            string          `json:"phase"`
	PhaseFrom        *string         `json:"phase_from,omitempty"`
	RangeInvalidated bool            `json:"range_invalidated"`
	Events           json.RawMessage `json:"events,omitempty"`
	Detections       json.RawMessage `json:"detections,omitempty"`
	CampaignID       *uuid.UUID      `json:"campaign_id,omitempty"`
}

// InsertOutcome writes a bar outcome row. Replays of the same (symbol, bar)
// are ignored so a reprocessed stream does not duplicate the trail.
func (r *Repository) InsertOutcome(ctx context.Context, rec *OutcomeRecord) error {
	query := `
		INSERT INTO bar_outcomes (symbol, bar_index, bar_time, cycle, phase, phase_from,
		                          range_invalidated, events, detections, campaign_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (symbol, bar_index) DO NOTHING
	`
	_, err := r.db.Pool.Exec(
		ctx, query,
		rec.Symbol, rec.BarIndex, rec.BarTime, rec.Cycle, rec.Phase, rec.PhaseFrom,
		rec.RangeInvalidated, rec.Events, rec.Detections, rec.CampaignID,
	)
	return err
}

// RejectionRecord is one persisted candidate rejection.
type RejectionRecord struct {
	Symbol           string     `json:"symbol"`
	BarIndex         int        `json:"bar_index"`
	Cycle            int        `json:"cycle"`
	Stage            string     `json:"stage"`
	Pattern          string     `json:"pattern"`
	Code             string     `json:"code"`
	Reason           string     `json:"reason"`
	Score            *float64   `json:"score,omitempty"`
	Floor            *float64   `json:"floor,omitempty"`
	Correlation      *float64   `json:"correlation,omitempty"`
	ConflictSymbol   *string    `json:"conflict_symbol,omitempty"`
	ConflictCampaign *uuid.UUID `json:"conflict_campaign,omitempty"`
}

// InsertRejection writes one candidate rejection row.
func (r *Repository) InsertRejection(ctx context.Context, rec *RejectionRecord) error {
	query := `
		INSERT INTO candidate_rejections (symbol, bar_index, cycle, stage, pattern, code, reason,
		                                  score, floor_value, correlation, conflict_symbol, conflict_campaign)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.db.Pool.Exec(
		ctx, query,
		rec.Symbol, rec.BarIndex, rec.Cycle, rec.Stage, rec.Pattern, rec.Code, rec.Reason,
		rec.Score, rec.Floor, rec.Correlation, rec.ConflictSymbol, rec.ConflictCampaign,
	)
	return err
}

// GetRejections retrieves recent candidate rejections for a symbol.
func (r *Repository) GetRejections(ctx context.Context, symbol string, limit int) ([]*RejectionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT symbol, bar_index, cycle, stage, pattern, code, reason,
		       score, floor_value, correlation, conflict_symbol, conflict_campaign
		FROM candidate_rejections
		WHERE ($1 = '' OR symbol = $1)
		ORDER BY id DESC
		LIMIT $2
	`
	rows, err := r.db.Pool.Query(ctx, query, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*RejectionRecord
	for rows.Next() {
		rec := &RejectionRecord{}
		if err := rows.Scan(&rec.Symbol, &rec.BarIndex, &rec.Cycle, &rec.Stage, &rec.Pattern,
			&rec.Code, &rec.Reason, &rec.Score, &rec.Floor, &rec.Correlation,
			&rec.ConflictSymbol, &rec.ConflictCampaign); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// InsertPhaseTransition writes one phase transition row.
func (r *Repository) InsertPhaseTransition(ctx context.Context, symbol string, cycle int, from, to string, barIndex int) error {
	query := `
		INSERT INTO phase_transitions (symbol, cycle, phase_from, phase_to, bar_index)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.Pool.Exec(ctx, query, symbol, cycle, from, to, barIndex)
	return err
}
