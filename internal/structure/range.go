package structure

import (
	"errors"
	"fmt"
)

// BreakSide identifies which boundary a price violated.
type BreakSide string

const (
	BreakNone       BreakSide = ""
	BreakSupport    BreakSide = "SUPPORT"
	BreakResistance BreakSide = "RESISTANCE"
)

var errInvertedRange = errors.New("range support at or above resistance")

// TradingRange is a support/resistance structure built from pivot clusters.
// Boundaries tighten as confirming pivots arrive until the range is frozen
// (markup/markdown beginning). Indices refer to the owning Store.
type TradingRange struct {
	SupportCluster    *PriceCluster
	ResistanceCluster *PriceCluster
	StartBar          int
	EndBar            int
	Cycle             int
	Frozen            bool
}

// Support returns the range's support price.
func (tr *TradingRange) Support() float64 {
	return tr.SupportCluster.Level()
}

// Resistance returns the range's resistance price.
func (tr *TradingRange) Resistance() float64 {
	return tr.ResistanceCluster.Level()
}

// Mid returns the range midpoint.
func (tr *TradingRange) Mid() float64 {
	return (tr.Support() + tr.Resistance()) / 2
}

// Width returns resistance minus support.
func (tr *TradingRange) Width() float64 {
	return tr.Resistance() - tr.Support()
}

// WidthPct returns the range width as a percentage of the midpoint.
func (tr *TradingRange) WidthPct() float64 {
	mid := tr.Mid()
	if mid == 0 {
		return 0
	}
	return tr.Width() / mid * 100
}

// Duration returns the number of bars the range has spanned.
func (tr *TradingRange) Duration() int {
	return tr.EndBar - tr.StartBar + 1
}

// Violated reports whether a close breaches a boundary plus the creek
// tolerance. Violations inside the ice tolerance are tests, not invalidation.
func (tr *TradingRange) Violated(close, creekTolerancePct float64) BreakSide {
	if close < tr.Support()*(1-creekTolerancePct/100) {
		return BreakSupport
	}
	if close > tr.Resistance()*(1+creekTolerancePct/100) {
		return BreakResistance
	}
	return BreakNone
}

// Invalidated reports whether a close breaches the wider ice tolerance,
// ending the range cycle.
func (tr *TradingRange) Invalidated(close, iceTolerancePct float64) BreakSide {
	if close < tr.Support()*(1-iceTolerancePct/100) {
		return BreakSupport
	}
	if close > tr.Resistance()*(1+iceTolerancePct/100) {
		return BreakResistance
	}
	return BreakNone
}

func (tr *TradingRange) validate() error {
	if tr.Support() >= tr.Resistance() {
		return fmt.Errorf("%w: support=%.8f resistance=%.8f",
			errInvertedRange, tr.Support(), tr.Resistance())
	}
	return nil
}

// RangeBuilderConfig holds range construction tunables.
type RangeBuilderConfig struct {
	ClusterTolerancePct float64 // pivot grouping tolerance
	MinPivotsPerSide    int     // minimum pivots per side before a range exists
}

// RangeBuilder clusters pivots into trading ranges. Returning no range when
// fewer than the minimum pivots exist is expected, not an error.
type RangeBuilder struct {
	cfg RangeBuilderConfig
}

// NewRangeBuilder creates a range builder, applying defaults for zero values.
func NewRangeBuilder(cfg RangeBuilderConfig) *RangeBuilder {
	if cfg.ClusterTolerancePct <= 0 {
		cfg.ClusterTolerancePct = 0.5
	}
	if cfg.MinPivotsPerSide < 2 {
		cfg.MinPivotsPerSide = 2
	}
	return &RangeBuilder{cfg: cfg}
}

// Build constructs the current trading range from the pivot arena, or
// returns (nil, false) when the pivots do not yet define one.
func (rb *RangeBuilder) Build(pivots []Pivot, cycle, endBar int) (*TradingRange, bool) {
	lows := clusterPivots(pivots, PivotLow, rb.cfg.ClusterTolerancePct)
	highs := clusterPivots(pivots, PivotHigh, rb.cfg.ClusterTolerancePct)

	support := rb.dominant(lows)
	resistance := rb.dominant(highs)
	if support == nil || resistance == nil {
		return nil, false
	}
	if support.Size() < rb.cfg.MinPivotsPerSide || resistance.Size() < rb.cfg.MinPivotsPerSide {
		return nil, false
	}

	tr := &TradingRange{
		SupportCluster:    support,
		ResistanceCluster: resistance,
		StartBar:          rb.firstBar(pivots, support, resistance),
		EndBar:            endBar,
		Cycle:             cycle,
	}
	if tr.validate() != nil {
		return nil, false
	}
	return tr, true
}

// Refresh tightens an existing range against the latest pivots. Frozen
// ranges only advance their end bar.
func (rb *RangeBuilder) Refresh(tr *TradingRange, pivots []Pivot, endBar int) *TradingRange {
	if tr.Frozen {
		tr.EndBar = endBar
		return tr
	}
	rebuilt, ok := rb.Build(pivots, tr.Cycle, endBar)
	if !ok {
		tr.EndBar = endBar
		return tr
	}
	rebuilt.StartBar = tr.StartBar
	return rebuilt
}

// dominant picks the cluster with the most pivots, preferring the earlier
// cluster on ties.
func (rb *RangeBuilder) dominant(clusters []*PriceCluster) *PriceCluster {
	var best *PriceCluster
	for _, c := range clusters {
		if best == nil || c.Size() > best.Size() {
			best = c
		}
	}
	return best
}

func (rb *RangeBuilder) firstBar(pivots []Pivot, clusters ...*PriceCluster) int {
	first := -1
	for _, c := range clusters {
		for _, idx := range c.PivotIndexes {
			bar := pivots[idx].BarIndex
			if first == -1 || bar < first {
				first = bar
			}
		}
	}
	if first < 0 {
		return 0
	}
	return first
}
