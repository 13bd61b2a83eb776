package patterns

import (
	"wyckoff-signal-engine/internal/market"
	"wyckoff-signal-engine/internal/phase"
)

// Kind identifies a detectable Wyckoff pattern or event.
type Kind string

const (
	Spring Kind = "SPRING"
	UTAD   Kind = "UTAD"
	SOS    Kind = "SOS"
	LPS    Kind = "LPS"

	// Phase events carried through the same detection record for auditing.
	SC Kind = "SC"
	AR Kind = "AR"
	ST Kind = "ST"
)

// TradeableKinds is the closed set of pattern kinds that can produce signals.
var TradeableKinds = []Kind{Spring, UTAD, SOS, LPS}

// ExpectedPhase returns the phase a pattern kind is valid in.
func ExpectedPhase(kind Kind) phase.Phase {
	switch kind {
	case Spring, UTAD:
		return phase.PhaseC
	case SOS, LPS:
		return phase.PhaseD
	default:
		return phase.PhaseNone
	}
}

// Detection is one recognized pattern occurrence. It references range levels
// and bar indices only; the bars themselves live in the symbol's Store.
type Detection struct {
	Kind     Kind
	Symbol   string
	BarIndex int // bar confirming the pattern
	Cycle    int
	Phase    phase.Phase

	Level        float64 // boundary the pattern references (creek/ice/resistance)
	Extreme      float64 // penetration low (Spring) or spike high (UTAD)
	ConfirmClose float64 // recovery/breakout/pullback close
	RecoveryBars int     // bars from penetration to recovery (shakeouts only)

	VolumeRatio   float64
	SpreadRatio   float64
	ClosePosition float64

	PatternConfidence float64
	PhaseConfidence   float64
	VolumeConfidence  float64
}

// Config holds pattern detection tunables.
type Config struct {
	StoppingVolumeRatio float64 // minimum penetration-bar volume ratio for shakeouts
	BreakoutVolumeRatio float64 // minimum breakout-bar volume ratio for SOS
	RecoveryWindowBars  int     // max bars from penetration to recovery close
	CreekTolerancePct   float64 // boundary penetration tolerance
	VolumeAvgPeriod     int
}

// Detector recognizes Spring, UTAD, SOS, and LPS occurrences. Every Detect
// method is a pure function of the store contents at the given bar index and
// returns zero or one detection; no detection is the normal outcome.
type Detector struct {
	cfg    Config
	volume *market.VolumeAnalyzer
}

// NewDetector creates a detector, applying defaults for zero config values.
func NewDetector(cfg Config) *Detector {
	if cfg.StoppingVolumeRatio <= 0 {
		cfg.StoppingVolumeRatio = 1.8
	}
	if cfg.BreakoutVolumeRatio <= 0 {
		cfg.BreakoutVolumeRatio = 2.0
	}
	if cfg.RecoveryWindowBars <= 0 {
		cfg.RecoveryWindowBars = 5
	}
	if cfg.CreekTolerancePct <= 0 {
		cfg.CreekTolerancePct = 0.3
	}
	if cfg.VolumeAvgPeriod <= 0 {
		cfg.VolumeAvgPeriod = 20
	}
	return &Detector{
		cfg:    cfg,
		volume: market.NewVolumeAnalyzer(cfg.VolumeAvgPeriod),
	}
}

// phaseConfidence scores how well the surrounding phase context supports a
// detection: event quality raises it, a thin event history lowers it.
func phaseConfidence(ev *phase.Events, current phase.Phase, kind Kind) float64 {
	if current != ExpectedPhase(kind) {
		return 0.3
	}
	conf := 0.7
	if ev.Climax != nil {
		conf += 0.1 * ev.Climax.Confidence
	}
	if len(ev.SecondaryTests) >= 1 {
		conf += 0.1
	}
	if len(ev.SecondaryTests) >= 2 {
		conf += 0.1
	}
	return clamp01(conf)
}

// volumeConfidence scores the margin by which the bar's volume ratio clears
// the pattern's minimum.
func volumeConfidence(ratio, minimum float64) float64 {
	if minimum <= 0 || ratio < minimum {
		return 0
	}
	return clamp01(0.6 + 0.4*(ratio-minimum)/minimum)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// FromEvent converts a recorded phase event into an audit detection record.
func FromEvent(symbol string, cycle int, current phase.Phase, e *phase.Event) Detection {
	var kind Kind
	switch e.Kind {
	case phase.SellingClimax, phase.BuyingClimax:
		kind = SC
	case phase.AutomaticRally, phase.AutomaticReaction:
		kind = AR
	case phase.SecondaryTest:
		kind = ST
	}
	return Detection{
		Kind:              kind,
		Symbol:            symbol,
		BarIndex:          e.BarIndex,
		Cycle:             cycle,
		Phase:             current,
		Level:             e.Price,
		VolumeRatio:       e.VolumeRatio,
		SpreadRatio:       e.SpreadRatio,
		ClosePosition:     e.ClosePosition,
		PatternConfidence: e.Confidence,
	}
}
