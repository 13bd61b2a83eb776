package patterns

import (
	"math"
	"testing"

	"wyckoff-signal-engine/internal/phase"
	"wyckoff-signal-engine/internal/structure"
)

// sosStore builds 20 quiet in-range bars and a breakout close above the
// resistance tolerance on breakout volume at bar 20.
func sosStore() *structure.Store {
	store := structure.NewStore("BTCUSD")
	for i := 0; i < 20; i++ {
		store.AppendBar(bar(i, 92.0, 92.7, 91.7, 92.4, 100))
	}
	store.AppendBar(bar(20, 95.9, 97.0, 95.8, 96.80, 220))
	return store
}

func TestDetectSOS(t *testing.T) {
	store := sosStore()
	tr := testRange(t, 89, 96)
	ev := accumulationEvents()
	pd := NewDetector(Config{})

	det := pd.DetectSOS(store, tr, ev, 20, phase.PhaseD)
	if det == nil {
		t.Fatal("breakout close not detected as SOS")
	}
	if det.Kind != SOS {
		t.Errorf("Kind = %s, want SOS", det.Kind)
	}
	if det.Level != 96.0 {
		t.Errorf("Level = %v, want resistance 96.0", det.Level)
	}
	if det.ConfirmClose != 96.80 {
		t.Errorf("ConfirmClose = %v, want 96.80", det.ConfirmClose)
	}
	if math.Abs(det.VolumeRatio-2.2) > 1e-9 {
		t.Errorf("VolumeRatio = %v, want 2.2", det.VolumeRatio)
	}
}

func TestDetectSOSRejectsQuietBreakout(t *testing.T) {
	store := structure.NewStore("BTCUSD")
	for i := 0; i < 20; i++ {
		store.AppendBar(bar(i, 92.0, 92.7, 91.7, 92.4, 100))
	}
	store.AppendBar(bar(20, 95.9, 97.0, 95.8, 96.80, 110)) // ratio 1.1

	pd := NewDetector(Config{})
	if det := pd.DetectSOS(store, testRange(t, 89, 96), accumulationEvents(), 20, phase.PhaseD); det != nil {
		t.Fatalf("quiet breakout detected as SOS: %+v", det)
	}
}

func TestDetectSOSNeedsToleranceClearance(t *testing.T) {
	store := structure.NewStore("BTCUSD")
	for i := 0; i < 20; i++ {
		store.AppendBar(bar(i, 92.0, 92.7, 91.7, 92.4, 100))
	}
	// Close above resistance but inside the tolerance band: still a test.
	store.AppendBar(bar(20, 95.9, 96.5, 95.8, 96.2, 220))

	pd := NewDetector(Config{})
	if det := pd.DetectSOS(store, testRange(t, 89, 96), accumulationEvents(), 20, phase.PhaseD); det != nil {
		t.Fatalf("in-tolerance close detected as SOS: %+v", det)
	}
}

func TestDetectSOSDistributionBreaksSupport(t *testing.T) {
	store := structure.NewStore("BTCUSD")
	for i := 0; i < 20; i++ {
		store.AppendBar(bar(i, 92.0, 92.7, 91.7, 92.4, 100))
	}
	store.AppendBar(bar(20, 89.1, 89.2, 88.0, 88.20, 220))

	distribution := &phase.Events{
		Climax: &phase.Event{Kind: phase.BuyingClimax, Price: 96.5, VolumeRatio: 3.0},
	}
	pd := NewDetector(Config{})
	det := pd.DetectSOS(store, testRange(t, 89, 96), distribution, 20, phase.PhaseD)
	if det == nil {
		t.Fatal("support break not detected in a distribution cycle")
	}
	if det.Level != 89.0 {
		t.Errorf("Level = %v, want support 89.0", det.Level)
	}
}

func TestDetectLPS(t *testing.T) {
	store := sosStore()
	tr := testRange(t, 89, 96)
	ev := accumulationEvents()
	pd := NewDetector(Config{})

	sos := pd.DetectSOS(store, tr, ev, 20, phase.PhaseD)
	if sos == nil {
		t.Fatal("setup SOS not detected")
	}

	// Pullback touches the breakout level, holds it, and comes in lighter.
	store.AppendBar(bar(21, 96.7, 96.8, 96.1, 96.4, 90))
	det := pd.DetectLPS(store, tr, ev, 21, phase.PhaseD, sos)
	if det == nil {
		t.Fatal("pullback not detected as LPS")
	}
	if det.Kind != LPS {
		t.Errorf("Kind = %s, want LPS", det.Kind)
	}
	if det.Level != sos.Level {
		t.Errorf("Level = %v, want the SOS level %v", det.Level, sos.Level)
	}
	if det.VolumeConfidence <= 0 {
		t.Errorf("VolumeConfidence = %v, want positive for a lighter retest", det.VolumeConfidence)
	}
}

func TestDetectLPSRejectsHeavyRetest(t *testing.T) {
	store := sosStore()
	tr := testRange(t, 89, 96)
	ev := accumulationEvents()
	pd := NewDetector(Config{})

	sos := pd.DetectSOS(store, tr, ev, 20, phase.PhaseD)
	if sos == nil {
		t.Fatal("setup SOS not detected")
	}

	// Retest on volume matching the breakout: supply is still present.
	store.AppendBar(bar(21, 96.7, 96.8, 96.1, 96.4, 300))
	if det := pd.DetectLPS(store, tr, ev, 21, phase.PhaseD, sos); det != nil {
		t.Fatalf("heavy retest detected as LPS: %+v", det)
	}
}

func TestDetectLPSRejectsCloseBackInside(t *testing.T) {
	store := sosStore()
	tr := testRange(t, 89, 96)
	ev := accumulationEvents()
	pd := NewDetector(Config{})

	sos := pd.DetectSOS(store, tr, ev, 20, phase.PhaseD)
	if sos == nil {
		t.Fatal("setup SOS not detected")
	}

	// Closing back under the breakout level is failure, not support.
	store.AppendBar(bar(21, 96.3, 96.4, 95.2, 95.4, 90))
	if det := pd.DetectLPS(store, tr, ev, 21, phase.PhaseD, sos); det != nil {
		t.Fatalf("failed retest detected as LPS: %+v", det)
	}
}

func TestExpectedPhase(t *testing.T) {
	cases := map[Kind]phase.Phase{
		Spring: phase.PhaseC,
		UTAD:   phase.PhaseC,
		SOS:    phase.PhaseD,
		LPS:    phase.PhaseD,
		SC:     phase.PhaseNone,
	}
	for kind, want := range cases {
		if got := ExpectedPhase(kind); got != want {
			t.Errorf("ExpectedPhase(%s) = %s, want %s", kind, got, want)
		}
	}
}
