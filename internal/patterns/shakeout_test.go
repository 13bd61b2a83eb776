package patterns

import (
	"math"
	"testing"

	"wyckoff-signal-engine/internal/market"
	"wyckoff-signal-engine/internal/phase"
	"wyckoff-signal-engine/internal/structure"
)

func bar(i int, open, high, low, close, volume float64) market.Bar {
	return market.Bar{
		Symbol:   "BTCUSD",
		OpenTime: int64(i+1) * 60_000,
		Open:     open,
		High:     high,
		Low:      low,
		Close:    close,
		Volume:   volume,
	}
}

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

// springStore builds 20 quiet in-range bars, a penetration bar under the
// creek on stopping volume at bar 20, a stall at bar 21, and the recovery
// close back above support at bar 22.
func springStore() *structure.Store {
	store := structure.NewStore("BTCUSD")
	for i := 0; i < 20; i++ {
		store.AppendBar(bar(i, 92.0, 92.7, 91.7, 92.4, 100)) // spread 1.0
	}
	store.AppendBar(bar(20, 89.0, 89.1, 87.50, 88.6, 250)) // penetration: 2.5x volume, closes high
	store.AppendBar(bar(21, 88.7, 89.0, 88.5, 88.9, 120))  // holds under support
	store.AppendBar(bar(22, 88.9, 89.9, 88.8, 89.80, 130)) // recovery close
	return store
}

func accumulationEvents() *phase.Events {
	return &phase.Events{
		Climax:   &phase.Event{Kind: phase.SellingClimax, Price: 89.2, VolumeRatio: 3.0, Confidence: 0.8},
		Reaction: &phase.Event{Kind: phase.AutomaticRally, Price: 95.8, VolumeRatio: 1.4},
		SecondaryTests: []phase.Event{
			{Kind: phase.SecondaryTest, Price: 89.4, VolumeRatio: 1.1},
		},
	}
}

func TestDetectSpring(t *testing.T) {
	store := springStore()
	tr := testRange(t, 89, 96)
	ev := accumulationEvents()
	pd := NewDetector(Config{})

	// Neither the penetration bar nor the stall is the spring.
	if det := pd.DetectSpring(store, tr, ev, 20, phase.PhaseC); det != nil {
		t.Fatalf("penetration bar detected as spring: %+v", det)
	}
	if det := pd.DetectSpring(store, tr, ev, 21, phase.PhaseC); det != nil {
		t.Fatalf("stall bar detected as spring: %+v", det)
	}

	det := pd.DetectSpring(store, tr, ev, 22, phase.PhaseC)
	if det == nil {
		t.Fatal("recovery bar not detected as spring")
	}
	if det.Kind != Spring {
		t.Errorf("Kind = %s, want SPRING", det.Kind)
	}
	if det.BarIndex != 22 {
		t.Errorf("BarIndex = %d, want the recovery bar 22", det.BarIndex)
	}
	if det.Level != 89.0 {
		t.Errorf("Level = %v, want support 89.0", det.Level)
	}
	if det.Extreme != 87.50 {
		t.Errorf("Extreme = %v, want the penetration low 87.50", det.Extreme)
	}
	// The detection is anchored on the recovery close, not the penetration low.
	if det.ConfirmClose != 89.80 {
		t.Errorf("ConfirmClose = %v, want 89.80", det.ConfirmClose)
	}
	if det.RecoveryBars != 2 {
		t.Errorf("RecoveryBars = %d, want 2", det.RecoveryBars)
	}
	if math.Abs(det.VolumeRatio-2.5) > 1e-9 {
		t.Errorf("VolumeRatio = %v, want the penetration bar's 2.5", det.VolumeRatio)
	}
	if det.PatternConfidence <= 0 || det.PatternConfidence > 1 {
		t.Errorf("PatternConfidence = %v outside (0, 1]", det.PatternConfidence)
	}
}

func TestDetectSpringFiresOnce(t *testing.T) {
	store := springStore()
	store.AppendBar(bar(23, 89.8, 90.3, 89.6, 90.1, 110))
	tr := testRange(t, 89, 96)
	pd := NewDetector(Config{})

	// Only the first recovery close confirms; later bars above support do not.
	if det := pd.DetectSpring(store, tr, accumulationEvents(), 23, phase.PhaseC); det != nil {
		t.Fatalf("second bar above support re-detected the spring: %+v", det)
	}
}

func TestDetectSpringNeedsStoppingVolume(t *testing.T) {
	store := structure.NewStore("BTCUSD")
	for i := 0; i < 20; i++ {
		store.AppendBar(bar(i, 92.0, 92.7, 91.7, 92.4, 100))
	}
	store.AppendBar(bar(20, 89.0, 89.1, 87.50, 88.6, 120)) // volume ratio 1.2
	store.AppendBar(bar(21, 88.7, 89.0, 88.5, 88.9, 120))
	store.AppendBar(bar(22, 88.9, 89.9, 88.8, 89.80, 130))

	pd := NewDetector(Config{})
	if det := pd.DetectSpring(store, testRange(t, 89, 96), accumulationEvents(), 22, phase.PhaseC); det != nil {
		t.Fatalf("spring detected without stopping volume: %+v", det)
	}
}

func TestDetectSpringNeedsLowRejection(t *testing.T) {
	store := structure.NewStore("BTCUSD")
	for i := 0; i < 20; i++ {
		store.AppendBar(bar(i, 92.0, 92.7, 91.7, 92.4, 100))
	}
	// Heavy volume but closing on its low: liquidation, not absorption.
	store.AppendBar(bar(20, 89.0, 89.1, 87.50, 87.6, 250))
	store.AppendBar(bar(21, 88.7, 89.0, 88.5, 88.9, 120))
	store.AppendBar(bar(22, 88.9, 89.9, 88.8, 89.80, 130))

	pd := NewDetector(Config{})
	if det := pd.DetectSpring(store, testRange(t, 89, 96), accumulationEvents(), 22, phase.PhaseC); det != nil {
		t.Fatalf("spring detected off a weak-close penetration: %+v", det)
	}
}

func TestDetectUTAD(t *testing.T) {
	store := structure.NewStore("BTCUSD")
	for i := 0; i < 20; i++ {
		store.AppendBar(bar(i, 93.0, 93.5, 92.5, 93.2, 100)) // spread 1.0
	}
	// Upthrust: closes above the ice on heavy volume, rejecting the highs.
	store.AppendBar(bar(20, 96.0, 97.5, 95.9, 96.40, 250))
	store.AppendBar(bar(21, 96.3, 96.5, 96.1, 96.2, 120))
	store.AppendBar(bar(22, 96.1, 96.2, 94.9, 95.1, 130)) // failure close under resistance

	distribution := &phase.Events{
		Climax: &phase.Event{Kind: phase.BuyingClimax, Price: 96.5, VolumeRatio: 3.0, Confidence: 0.8},
	}

	pd := NewDetector(Config{})
	det := pd.DetectUTAD(store, testRange(t, 89, 96), distribution, 22, phase.PhaseC)
	if det == nil {
		t.Fatal("failure close not detected as UTAD")
	}
	if det.Kind != UTAD {
		t.Errorf("Kind = %s, want UTAD", det.Kind)
	}
	if det.Extreme != 97.5 {
		t.Errorf("Extreme = %v, want the upthrust high 97.5", det.Extreme)
	}
	if det.ConfirmClose != 95.1 {
		t.Errorf("ConfirmClose = %v, want the failure close 95.1", det.ConfirmClose)
	}
	if det.RecoveryBars != 2 {
		t.Errorf("RecoveryBars = %d, want 2", det.RecoveryBars)
	}
}
