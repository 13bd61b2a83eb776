package risk

import (
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"wyckoff-signal-engine/internal/campaign"
	"wyckoff-signal-engine/internal/signals"
)

// gateFixture opens a campaign on ETHUSD and wires a provider whose series
// make BTCUSD and ETHUSD move in lockstep (correlation 1) and XRPUSD move
// against them (correlation -1).
func gateFixture(t *testing.T, threshold float64) (*Gate, *campaign.Campaign) {
	t.Helper()
	series := map[string][]float64{
		"BTCUSD": {0.01, -0.02, 0.03, 0.01, -0.01},
		"ETHUSD": {0.01, -0.02, 0.03, 0.01, -0.01},
		"XRPUSD": {-0.01, 0.02, -0.03, -0.01, 0.01},
	}
	provider := ReturnsFunc(func(symbol string, n int) []float64 {
		return series[symbol]
	})

	campaigns := campaign.NewManager(zerolog.Nop())
	sig := &signals.Signal{ID: uuid.New(), Symbol: "ETHUSD", Status: signals.StatusApproved}
	c, err := campaigns.Attach(sig, 0, 10)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}

	gate := NewGate(GateConfig{HeatThreshold: threshold, Window: 5}, campaigns, provider)
	gate.Recompute("BTCUSD", "XRPUSD")
	return gate, c
}

func TestGateBlocksAboveThreshold(t *testing.T) {
	gate, c := gateFixture(t, 0.6)

	rej := gate.Check("BTCUSD")
	if rej == nil {
		t.Fatal("lockstep symbol passed the gate")
	}
	if rej.ConflictSymbol != "ETHUSD" {
		t.Errorf("ConflictSymbol = %s, want ETHUSD", rej.ConflictSymbol)
	}
	if rej.ConflictCampaign != c.ID {
		t.Errorf("ConflictCampaign = %s, want %s", rej.ConflictCampaign, c.ID)
	}
	if rej.Correlation <= 0.6 {
		t.Errorf("Correlation = %v, want above the threshold", rej.Correlation)
	}
	if rej.Threshold != 0.6 {
		t.Errorf("Threshold = %v, want 0.6", rej.Threshold)
	}
}

func TestGateExactThresholdPasses(t *testing.T) {
	gate, _ := gateFixture(t, 0.6)

	// Pin the pairwise correlation to the exact threshold: strictly above
	// blocks, equal passes.
	gate.matrix.mu.Lock()
	gate.matrix.corr["BTCUSD"] = map[string]float64{"ETHUSD": 0.6}
	gate.matrix.mu.Unlock()
	if rej := gate.Check("BTCUSD"); rej != nil {
		t.Fatalf("correlation at the threshold blocked: %v", rej)
	}

	gate.matrix.mu.Lock()
	gate.matrix.corr["BTCUSD"]["ETHUSD"] = 0.600001
	gate.matrix.mu.Unlock()
	if rej := gate.Check("BTCUSD"); rej == nil {
		t.Fatal("correlation above the threshold passed")
	}
}

func TestGateIgnoresNegativeCorrelation(t *testing.T) {
	gate, _ := gateFixture(t, 0.6)
	if rej := gate.Check("XRPUSD"); rej != nil {
		t.Fatalf("anti-correlated symbol blocked: %v", rej)
	}
}

// TestGateScoresFirstSignal covers the production path: the cadence recompute
// only sees open-campaign symbols, so a candidate's row is absent when its
// first signal arrives. Check must build it before deciding, not skip the
// comparison.
func TestGateScoresFirstSignal(t *testing.T) {
	series := []float64{0.01, -0.02, 0.03, 0.01, -0.01}
	provider := ReturnsFunc(func(symbol string, n int) []float64 {
		return series
	})

	campaigns := campaign.NewManager(zerolog.Nop())
	sig := &signals.Signal{ID: uuid.New(), Symbol: "ETHUSD", Status: signals.StatusApproved}
	if _, err := campaigns.Attach(sig, 0, 10); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	gate := NewGate(GateConfig{HeatThreshold: 0.6, Window: 5}, campaigns, provider)
	gate.Recompute() // cadence recompute: open symbols only, no candidate row

	if _, ok := gate.matrix.Correlation("BTCUSD", "ETHUSD"); ok {
		t.Fatal("candidate row present before any check; fixture is wrong")
	}
	rej := gate.Check("BTCUSD")
	if rej == nil {
		t.Fatal("lockstep first signal passed the gate without being scored")
	}
	if rej.ConflictSymbol != "ETHUSD" {
		t.Errorf("ConflictSymbol = %s, want ETHUSD", rej.ConflictSymbol)
	}
	if rej.Correlation <= 0.6 {
		t.Errorf("Correlation = %v, want above the threshold", rej.Correlation)
	}
}

func TestGatePassesWithoutData(t *testing.T) {
	gate, _ := gateFixture(t, 0.6)

	// No return data exists for the symbol, so the rebuilt pair scores 0.
	if rej := gate.Check("DOGEUSD"); rej != nil {
		t.Fatalf("symbol without return data blocked: %v", rej)
	}
}

func TestGateSkipsOwnSymbol(t *testing.T) {
	gate, _ := gateFixture(t, 0.6)

	// ETHUSD's own open campaign must not block ETHUSD.
	if rej := gate.Check("ETHUSD"); rej != nil {
		t.Fatalf("self correlation blocked the symbol: %v", rej)
	}
}
