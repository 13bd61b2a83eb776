package structure

import (
	"math"
	"testing"
)

func rangePivots(lows, highs []float64) []Pivot {
	var out []Pivot
	bar := 0
	for _, p := range lows {
		out = append(out, Pivot{BarIndex: bar, Price: p, Type: PivotLow, Seq: len(out)})
		bar += 5
	}
	for _, p := range highs {
		out = append(out, Pivot{BarIndex: bar, Price: p, Type: PivotHigh, Seq: len(out)})
		bar += 5
	}
	return out
}

func buildRange(t *testing.T, lows, highs []float64) *TradingRange {
	t.Helper()
	rb := NewRangeBuilder(RangeBuilderConfig{ClusterTolerancePct: 0.5, MinPivotsPerSide: 2})
	tr, ok := rb.Build(rangePivots(lows, highs), 0, 40)
	if !ok {
		t.Fatalf("Build failed for lows=%v highs=%v", lows, highs)
	}
	return tr
}

func TestRangeBuild(t *testing.T) {
	tr := buildRange(t, []float64{100.0, 100.2}, []float64{110.0, 110.3})

	if math.Abs(tr.Support()-100.1) > 1e-9 {
		t.Errorf("Support = %v, want 100.1", tr.Support())
	}
	if math.Abs(tr.Resistance()-110.15) > 1e-9 {
		t.Errorf("Resistance = %v, want 110.15", tr.Resistance())
	}
	if tr.Support() >= tr.Resistance() {
		t.Error("support must sit strictly below resistance")
	}
	if math.Abs(tr.Width()-10.05) > 1e-9 {
		t.Errorf("Width = %v, want 10.05", tr.Width())
	}
	if tr.StartBar != 0 {
		t.Errorf("StartBar = %d, want the earliest contributing pivot bar 0", tr.StartBar)
	}
	if tr.EndBar != 40 {
		t.Errorf("EndBar = %d, want 40", tr.EndBar)
	}
}

func TestRangeBuildNeedsMinPivots(t *testing.T) {
	rb := NewRangeBuilder(RangeBuilderConfig{ClusterTolerancePct: 0.5, MinPivotsPerSide: 2})

	// One pivot per side is structure, not a range.
	if _, ok := rb.Build(rangePivots([]float64{100}, []float64{110}), 0, 10); ok {
		t.Error("range built from a single pivot per side")
	}

	// Two lows but the highs scattered beyond clustering tolerance.
	pivots := rangePivots([]float64{100.0, 100.2}, []float64{110.0, 118.0, 125.0})
	if _, ok := rb.Build(pivots, 0, 30); ok {
		t.Error("range built from unclustered highs")
	}
}

func TestRangeBuildRejectsInversion(t *testing.T) {
	rb := NewRangeBuilder(RangeBuilderConfig{ClusterTolerancePct: 0.5, MinPivotsPerSide: 2})

	// Low pivots clustered above the high pivots cannot form a range.
	pivots := rangePivots([]float64{120.0, 120.1}, []float64{110.0, 110.2})
	if _, ok := rb.Build(pivots, 0, 20); ok {
		t.Error("inverted boundaries accepted")
	}
}

func TestRangeViolatedAndInvalidated(t *testing.T) {
	tr := buildRange(t, []float64{89.0, 89.0}, []float64{96.0, 96.0})

	// Inside the creek tolerance nothing is violated.
	if side := tr.Violated(88.9, 0.3); side != BreakNone {
		t.Errorf("close inside creek tolerance flagged %s", side)
	}
	if side := tr.Violated(88.0, 0.3); side != BreakSupport {
		t.Errorf("deep close under support: got %s, want SUPPORT", side)
	}
	if side := tr.Violated(96.5, 0.3); side != BreakResistance {
		t.Errorf("close over resistance: got %s, want RESISTANCE", side)
	}

	// The ice tolerance is wider: a creek violation can still be a test.
	if side := tr.Invalidated(88.4, 1.0); side != BreakNone {
		t.Errorf("close inside ice tolerance invalidated the range: %s", side)
	}
	if side := tr.Invalidated(88.0, 1.0); side != BreakSupport {
		t.Errorf("close under ice: got %s, want SUPPORT", side)
	}
	if side := tr.Invalidated(97.5, 1.0); side != BreakResistance {
		t.Errorf("close over ice: got %s, want RESISTANCE", side)
	}
}

func TestRangeRefreshFrozen(t *testing.T) {
	rb := NewRangeBuilder(RangeBuilderConfig{ClusterTolerancePct: 0.5, MinPivotsPerSide: 2})
	tr := buildRange(t, []float64{89.0, 89.0}, []float64{96.0, 96.0})
	tr.Frozen = true

	support, resistance := tr.Support(), tr.Resistance()

	// New pivots would normally shift the boundaries.
	pivots := rangePivots([]float64{88.0, 88.1, 88.2}, []float64{97.0, 97.1, 97.2})
	refreshed := rb.Refresh(tr, pivots, 55)

	if refreshed.Support() != support || refreshed.Resistance() != resistance {
		t.Errorf("frozen range boundaries moved: %v/%v", refreshed.Support(), refreshed.Resistance())
	}
	if refreshed.EndBar != 55 {
		t.Errorf("frozen range EndBar = %d, want 55", refreshed.EndBar)
	}
}

func TestRangeRefreshTightens(t *testing.T) {
	rb := NewRangeBuilder(RangeBuilderConfig{ClusterTolerancePct: 0.5, MinPivotsPerSide: 2})
	tr := buildRange(t, []float64{89.0, 89.0}, []float64{96.0, 96.0})

	pivots := rangePivots([]float64{89.0, 89.0, 89.4}, []float64{96.0, 96.0})
	refreshed := rb.Refresh(tr, pivots, 60)

	want := 89.0 // median of the three clustered lows
	if math.Abs(refreshed.Support()-want) > 1e-9 {
		t.Errorf("Support after refresh = %v, want %v", refreshed.Support(), want)
	}
	if refreshed.StartBar != tr.StartBar {
		t.Errorf("refresh moved StartBar to %d", refreshed.StartBar)
	}
	if refreshed.EndBar != 60 {
		t.Errorf("EndBar = %d, want 60", refreshed.EndBar)
	}
}

func TestClusterLevelIsMedian(t *testing.T) {
	pivots := []Pivot{
		{BarIndex: 0, Price: 100.0, Type: PivotLow},
		{BarIndex: 5, Price: 100.4, Type: PivotLow},
		{BarIndex: 9, Price: 100.2, Type: PivotLow},
	}
	clusters := clusterPivots(pivots, PivotLow, 0.5)
	if len(clusters) != 1 {
		t.Fatalf("got %d clusters, want 1", len(clusters))
	}
	if got := clusters[0].Level(); math.Abs(got-100.2) > 1e-9 {
		t.Errorf("Level = %v, want median 100.2", got)
	}
	if clusters[0].Size() != 3 {
		t.Errorf("Size = %d, want 3", clusters[0].Size())
	}
}

func TestClusterToleranceSplits(t *testing.T) {
	pivots := []Pivot{
		{BarIndex: 0, Price: 100.0, Type: PivotLow},
		{BarIndex: 4, Price: 100.3, Type: PivotLow},
		{BarIndex: 8, Price: 103.0, Type: PivotLow},
		{BarIndex: 12, Price: 110.0, Type: PivotHigh}, // other side ignored
	}
	clusters := clusterPivots(pivots, PivotLow, 0.5)
	if len(clusters) != 2 {
		t.Fatalf("got %d clusters, want 2", len(clusters))
	}
}
