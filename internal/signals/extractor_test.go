package signals

import (
	"math"
	"testing"

	"wyckoff-signal-engine/internal/confidence"
	"wyckoff-signal-engine/internal/patterns"
	"wyckoff-signal-engine/internal/phase"
	"wyckoff-signal-engine/internal/structure"
)

func testRange(t *testing.T, support, resistance float64) *structure.TradingRange {
	t.Helper()
	pivots := []structure.Pivot{
		{BarIndex: 2, Price: support, Type: structure.PivotLow},
		{BarIndex: 10, Price: support, Type: structure.PivotLow},
		{BarIndex: 6, Price: resistance, Type: structure.PivotHigh},
		{BarIndex: 14, Price: resistance, Type: structure.PivotHigh},
	}
	rb := structure.NewRangeBuilder(structure.RangeBuilderConfig{
		ClusterTolerancePct: 0.5,
		MinPivotsPerSide:    2,
	})
	tr, ok := rb.Build(pivots, 0, 20)
	if !ok {
		t.Fatalf("testRange(%v, %v) failed to build", support, resistance)
	}
	return tr
}

func testComponents() confidence.Components {
	return confidence.Components{Pattern: 0.85, Phase: 0.8, Volume: 0.75, Overall: 0.8}
}

func TestExtractSpring(t *testing.T) {
	ex := NewExtractor(ExtractorConfig{StopBufferPct: 0.2})
	tr := testRange(t, 89, 96)
	det := &patterns.Detection{
		Kind:         patterns.Spring,
		Symbol:       "BTCUSD",
		BarIndex:     22,
		Phase:        phase.PhaseC,
		Level:        89.0,
		Extreme:      87.50,
		ConfirmClose: 89.80,
		RecoveryBars: 2,
	}

	sig, err := ex.Extract(det, tr, testComponents(), true)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if sig.Direction != Long {
		t.Errorf("Direction = %s, want LONG", sig.Direction)
	}
	// Entry anchors on the recovery close, never the penetration low.
	if sig.EntryPrice != 89.80 {
		t.Errorf("EntryPrice = %v, want 89.80", sig.EntryPrice)
	}
	if sig.StopLoss >= 87.50 {
		t.Errorf("StopLoss = %v, want below the penetration low 87.50", sig.StopLoss)
	}
	if math.Abs(sig.StopLoss-87.322) > 1e-9 {
		t.Errorf("StopLoss = %v, want 87.322", sig.StopLoss)
	}
	// Measured move: resistance plus the range width.
	if math.Abs(sig.TargetPrice-103.0) > 1e-9 {
		t.Errorf("TargetPrice = %v, want 103.0", sig.TargetPrice)
	}
	if sig.SecondaryTarget != 96.0 {
		t.Errorf("SecondaryTarget = %v, want resistance 96.0", sig.SecondaryTarget)
	}
	if sig.Status != StatusPending {
		t.Errorf("Status = %s, want PENDING", sig.Status)
	}
	wantR := (103.0 - 89.80) / (89.80 - 87.322)
	if math.Abs(sig.RMultiple-wantR) > 1e-9 {
		t.Errorf("RMultiple = %v, want %v", sig.RMultiple, wantR)
	}
	if sig.ConfidenceScore != 0.8 {
		t.Errorf("ConfidenceScore = %v, want 0.8", sig.ConfidenceScore)
	}
}

func TestExtractUTAD(t *testing.T) {
	ex := NewExtractor(ExtractorConfig{StopBufferPct: 0.2})
	tr := testRange(t, 89, 96)
	det := &patterns.Detection{
		Kind:         patterns.UTAD,
		Symbol:       "BTCUSD",
		Level:        96.0,
		Extreme:      97.50,
		ConfirmClose: 95.10,
	}

	sig, err := ex.Extract(det, tr, testComponents(), false)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if sig.Direction != Short {
		t.Errorf("Direction = %s, want SHORT", sig.Direction)
	}
	if sig.EntryPrice != 95.10 {
		t.Errorf("EntryPrice = %v, want 95.10", sig.EntryPrice)
	}
	if sig.StopLoss <= 97.50 {
		t.Errorf("StopLoss = %v, want above the upthrust high 97.50", sig.StopLoss)
	}
	if math.Abs(sig.TargetPrice-82.0) > 1e-9 {
		t.Errorf("TargetPrice = %v, want support minus width 82.0", sig.TargetPrice)
	}
	if sig.SecondaryTarget != 89.0 {
		t.Errorf("SecondaryTarget = %v, want support 89.0", sig.SecondaryTarget)
	}
}

func TestExtractSOS(t *testing.T) {
	ex := NewExtractor(ExtractorConfig{})
	tr := testRange(t, 89, 96)
	det := &patterns.Detection{
		Kind:         patterns.SOS,
		Symbol:       "BTCUSD",
		Level:        96.0,
		ConfirmClose: 96.80,
	}

	sig, err := ex.Extract(det, tr, testComponents(), true)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if sig.Direction != Long {
		t.Errorf("Direction = %s, want LONG", sig.Direction)
	}
	// The breakout level itself is the stop: a close back through it fails
	// the breakout.
	if sig.StopLoss != 96.0 {
		t.Errorf("StopLoss = %v, want the breakout level 96.0", sig.StopLoss)
	}
	if math.Abs(sig.TargetPrice-103.0) > 1e-9 {
		t.Errorf("TargetPrice = %v, want 103.0", sig.TargetPrice)
	}
	if sig.SecondaryTarget != 0 {
		t.Errorf("SecondaryTarget = %v, want unset", sig.SecondaryTarget)
	}

	// Distribution mirror: the same shape short through support.
	det.Level = 89.0
	det.ConfirmClose = 88.20
	sig, err = ex.Extract(det, tr, testComponents(), false)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if sig.Direction != Short {
		t.Errorf("Direction = %s, want SHORT", sig.Direction)
	}
	if math.Abs(sig.TargetPrice-82.0) > 1e-9 {
		t.Errorf("TargetPrice = %v, want 82.0", sig.TargetPrice)
	}
}

func TestExtractLPS(t *testing.T) {
	ex := NewExtractor(ExtractorConfig{StopBufferPct: 0.2})
	tr := testRange(t, 89, 96)
	det := &patterns.Detection{
		Kind:         patterns.LPS,
		Symbol:       "BTCUSD",
		Level:        96.0,
		ConfirmClose: 96.40,
	}

	sig, err := ex.Extract(det, tr, testComponents(), true)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if sig.Direction != Long {
		t.Errorf("Direction = %s, want LONG", sig.Direction)
	}
	if sig.StopLoss >= 96.0 {
		t.Errorf("StopLoss = %v, want below the retest level", sig.StopLoss)
	}
	if math.Abs(sig.TargetPrice-103.0) > 1e-9 {
		t.Errorf("TargetPrice = %v, want 103.0", sig.TargetPrice)
	}
}

func TestExtractUnknownKind(t *testing.T) {
	ex := NewExtractor(ExtractorConfig{})
	det := &patterns.Detection{Kind: patterns.SC}
	if _, err := ex.Extract(det, testRange(t, 89, 96), testComponents(), true); err == nil {
		t.Fatal("audit-only kind extracted into a signal")
	}
}

func TestExtractDegenerateRisk(t *testing.T) {
	ex := NewExtractor(ExtractorConfig{})
	tr := testRange(t, 89, 96)
	det := &patterns.Detection{
		Kind:         patterns.SOS,
		Symbol:       "BTCUSD",
		Level:        96.0,
		ConfirmClose: 96.0, // entry equals stop
	}
	if _, err := ex.Extract(det, tr, testComponents(), true); err == nil {
		t.Fatal("zero-risk signal extracted")
	}
}
