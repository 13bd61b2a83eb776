package confidence

import (
	"errors"
	"math"
	"testing"

	"wyckoff-signal-engine/internal/patterns"
)

var testWeights = Weights{Pattern: 0.4, Phase: 0.3, Volume: 0.3}

func detection(pattern, phase, volume float64) *patterns.Detection {
	return &patterns.Detection{
		Kind:              patterns.Spring,
		Symbol:            "BTCUSD",
		PatternConfidence: pattern,
		PhaseConfidence:   phase,
		VolumeConfidence:  volume,
	}
}

func TestWeightsValidate(t *testing.T) {
	if err := testWeights.Validate(); err != nil {
		t.Fatalf("canonical weights rejected: %v", err)
	}
	bad := []Weights{
		{Pattern: 0.5, Phase: 0.3, Volume: 0.3}, // sums to 1.1
		{Pattern: 0.4, Phase: 0.3, Volume: 0.2}, // sums to 0.9
		{Pattern: -0.1, Phase: 0.6, Volume: 0.5},
	}
	for _, w := range bad {
		if err := w.Validate(); !errors.Is(err, ErrBadWeights) {
			t.Errorf("Validate(%+v) = %v, want ErrBadWeights", w, err)
		}
	}
}

func TestNewScorerRejectsBadConfig(t *testing.T) {
	if _, err := NewScorer(Weights{Pattern: 1, Phase: 1, Volume: 1}, 0.7, nil); err == nil {
		t.Error("bad weights accepted")
	}
	if _, err := NewScorer(testWeights, 0, nil); err == nil {
		t.Error("zero floor accepted")
	}
	if _, err := NewScorer(testWeights, 1.5, nil); err == nil {
		t.Error("floor above 1 accepted")
	}
	if _, err := NewScorer(testWeights, 1.0, nil); err != nil {
		t.Errorf("floor of exactly 1 rejected: %v", err)
	}
}

func TestScoreWeightedSum(t *testing.T) {
	s, err := NewScorer(testWeights, 0.70, nil)
	if err != nil {
		t.Fatalf("NewScorer: %v", err)
	}

	comps, rej := s.Score(detection(0.9, 0.8, 0.7))
	if rej != nil {
		t.Fatalf("score above floor rejected: %v", rej)
	}
	want := 0.4*0.9 + 0.3*0.8 + 0.3*0.7 // 0.81
	if math.Abs(comps.Overall-want) > 1e-9 {
		t.Errorf("Overall = %v, want %v", comps.Overall, want)
	}
	if comps.Penalty != 0 || len(comps.Penalties) != 0 {
		t.Errorf("no penalties configured but got %+v", comps)
	}
}

func TestScoreBelowFloorRejected(t *testing.T) {
	s, err := NewScorer(testWeights, 0.70, nil)
	if err != nil {
		t.Fatalf("NewScorer: %v", err)
	}

	comps, rej := s.Score(detection(0.6, 0.6, 0.6))
	if comps != nil {
		t.Fatalf("sub-floor score passed with %+v", comps)
	}
	if rej == nil {
		t.Fatal("sub-floor score not rejected")
	}
	if math.Abs(rej.Score-0.6) > 1e-9 || rej.Floor != 0.70 {
		t.Errorf("rejection = %+v, want score 0.6 floor 0.70", rej)
	}
}

func TestPenaltyAppliesBeforeFloor(t *testing.T) {
	penalty := Penalty{
		Name:        "SLOW_RECOVERY",
		SubtractPct: 5,
		Applies:     func(det *patterns.Detection) bool { return det.RecoveryBars > 3 },
	}
	s, err := NewScorer(testWeights, 0.70, []Penalty{penalty})
	if err != nil {
		t.Fatalf("NewScorer: %v", err)
	}

	// 0.72 clears the floor on its own; the penalty drags it under.
	det := detection(0.9, 0.6, 0.6)
	det.RecoveryBars = 4

	comps, rej := s.Score(det)
	if comps != nil {
		t.Fatalf("penalized sub-floor score passed with %+v", comps)
	}
	if rej == nil {
		t.Fatal("penalized score not rejected")
	}
	if math.Abs(rej.Score-0.67) > 1e-9 {
		t.Errorf("penalized score = %v, want 0.67", rej.Score)
	}
	if len(rej.Components.Penalties) != 1 || rej.Components.Penalties[0] != "SLOW_RECOVERY" {
		t.Errorf("penalty names = %v, want [SLOW_RECOVERY]", rej.Components.Penalties)
	}

	// The same detection with a fast recovery keeps its full score.
	det.RecoveryBars = 2
	comps, rej = s.Score(det)
	if rej != nil {
		t.Fatalf("unpenalized score rejected: %v", rej)
	}
	if math.Abs(comps.Overall-0.72) > 1e-9 {
		t.Errorf("Overall = %v, want 0.72", comps.Overall)
	}
}

func TestScoreClampsAtZero(t *testing.T) {
	heavy := Penalty{Name: "A", SubtractPct: 80, Applies: func(*patterns.Detection) bool { return true }}
	s, err := NewScorer(testWeights, 0.70, []Penalty{heavy, heavy})
	if err != nil {
		t.Fatalf("NewScorer: %v", err)
	}
	_, rej := s.Score(detection(0.5, 0.5, 0.5))
	if rej == nil || rej.Score != 0 {
		t.Fatalf("got %+v, want score clamped to 0", rej)
	}
}
