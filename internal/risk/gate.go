package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"wyckoff-signal-engine/internal/campaign"
)

// Rejection records a gate block: the conflicting campaign and the
// correlation that exceeded the heat threshold.
type Rejection struct {
	Symbol           string
	ConflictSymbol   string
	ConflictCampaign uuid.UUID
	Correlation      float64
	Threshold        float64
}

func (r *Rejection) String() string {
	return fmt.Sprintf("correlation gate blocked %s: %.5f with %s (campaign %s) exceeds %.2f",
		r.Symbol, r.Correlation, r.ConflictSymbol, r.ConflictCampaign, r.Threshold)
}

// GateConfig holds correlation gate tunables.
type GateConfig struct {
	HeatThreshold     float64       // maximum tolerated pairwise correlation
	Window            int           // returns per series
	RecomputeInterval time.Duration // matrix refresh cadence
}

// Gate blocks a pending signal's approval when its symbol is too correlated
// with any already-open campaign. The matrix is refreshed on a fixed cadence,
// not per check.
type Gate struct {
	cfg       GateConfig
	matrix    *Matrix
	campaigns *campaign.Manager
	provider  ReturnsProvider
}

// NewGate creates a correlation gate, applying defaults for zero config values.
func NewGate(cfg GateConfig, campaigns *campaign.Manager, provider ReturnsProvider) *Gate {
	if cfg.HeatThreshold <= 0 {
		cfg.HeatThreshold = 0.6
	}
	if cfg.Window <= 0 {
		cfg.Window = 50
	}
	if cfg.RecomputeInterval <= 0 {
		cfg.RecomputeInterval = time.Minute
	}
	return &Gate{
		cfg:       cfg,
		matrix:    NewMatrix(),
		campaigns: campaigns,
		provider:  provider,
	}
}

// Matrix exposes the gate's correlation matrix.
func (g *Gate) Matrix() *Matrix {
	return g.matrix
}

// Check evaluates a pending signal's symbol against every open campaign.
// Exactly the threshold passes; anything strictly above blocks. Self
// correlation (the diagonal) is excluded. A nil return approves.
//
// The cadence recompute only covers symbols that already have open campaigns,
// so a candidate's first signal arrives before its matrix row exists; Check
// rebuilds the matrix once when a pair is missing rather than skipping the
// comparison.
func (g *Gate) Check(symbol string) *Rejection {
	open := g.campaigns.OpenSymbols(symbol)
	if len(open) == 0 {
		return nil
	}
	recomputed := false
	for _, other := range open {
		corr, ok := g.matrix.Correlation(symbol, other)
		if !ok && !recomputed {
			g.Recompute(symbol)
			recomputed = true
			corr, ok = g.matrix.Correlation(symbol, other)
		}
		if !ok {
			continue // campaign opened mid-recompute; next check scores it
		}
		if corr > g.cfg.HeatThreshold {
			rej := &Rejection{
				Symbol:         symbol,
				ConflictSymbol: other,
				Correlation:    corr,
				Threshold:      g.cfg.HeatThreshold,
			}
			if c, found := g.campaigns.Active(other); found {
				rej.ConflictCampaign = c.ID
			}
			return rej
		}
	}
	return nil
}

// Recompute refreshes the matrix for all symbols with open campaigns plus
// the candidate symbols passed in.
func (g *Gate) Recompute(extra ...string) {
	symbols := g.campaigns.OpenSymbols("")
	for _, sym := range extra {
		if !contains(symbols, sym) {
			symbols = append(symbols, sym)
		}
	}
	g.matrix.Recompute(g.provider, symbols, g.cfg.Window)
}

// Run recomputes the matrix on the configured cadence until ctx is done.
func (g *Gate) Run(ctx context.Context) {
	ticker := time.NewTicker(g.cfg.RecomputeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			g.Recompute()
		case <-ctx.Done():
			return
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
