package phase

import (
	"errors"
	"fmt"

	"wyckoff-signal-engine/internal/market"
	"wyckoff-signal-engine/internal/structure"
)

// Phase is the Wyckoff phase of a trading range. PhaseNone is the implicit
// pre-A state before a range cycle has a confirmed climax/reaction pair.
type Phase string

const (
	PhaseNone Phase = ""
	PhaseA    Phase = "A"
	PhaseB    Phase = "B"
	PhaseC    Phase = "C"
	PhaseD    Phase = "D"
	PhaseE    Phase = "E"
)

var phaseOrder = map[Phase]int{
	PhaseNone: 0, PhaseA: 1, PhaseB: 2, PhaseC: 3, PhaseD: 4, PhaseE: 5,
}

// ErrPhaseRegression is returned when a transition would move the phase
// backward within one cycle. It is a state-invariant violation: the symbol
// worker treats it as fatal for that symbol.
var ErrPhaseRegression = errors.New("phase regression attempted")

// Transition records one phase change for auditing.
type Transition struct {
	From     Phase
	To       Phase
	BarIndex int
	Cycle    int
}

// ClassifierConfig holds phase transition tunables.
type ClassifierConfig struct {
	ClimaxVolumeRatio float64 // minimum climax volume ratio for pre-A -> A
	CreekTolerancePct float64 // proximity tolerance for the B -> C boundary test
}

// Classifier is the single authoritative phase state machine. The phase of a
// range is monotonic forward within one cycle (A through E) and resets to
// pre-A only when the range is invalidated and a new cycle begins.
type Classifier struct {
	cfg   ClassifierConfig
	phase Phase
	cycle int

	// B-phase extreme tracked for the B -> C boundary test: the lowest low
	// (accumulation) or highest high (distribution) seen while in B.
	bExtreme float64

	shakeoutAt int // bar index of the validated Spring/UTAD, -1 when none
	breakoutAt int // bar index of the validated SOS/LPS, -1 when none
	reentered  bool
}

// NewClassifier creates a classifier in the pre-A state.
func NewClassifier(cfg ClassifierConfig) *Classifier {
	if cfg.ClimaxVolumeRatio <= 0 {
		cfg.ClimaxVolumeRatio = 2.5
	}
	if cfg.CreekTolerancePct <= 0 {
		cfg.CreekTolerancePct = 0.3
	}
	return &Classifier{cfg: cfg, shakeoutAt: -1, breakoutAt: -1}
}

// Current returns the active phase.
func (c *Classifier) Current() Phase {
	return c.phase
}

// Cycle returns the range cycle the classifier is tracking.
func (c *Classifier) Cycle() int {
	return c.cycle
}

// Reset returns the classifier to pre-A for a new range cycle. This is the
// only path by which the phase moves backward.
func (c *Classifier) Reset(cycle int) {
	c.phase = PhaseNone
	c.cycle = cycle
	c.bExtreme = 0
	c.shakeoutAt = -1
	c.breakoutAt = -1
	c.reentered = false
}

// NoteShakeout records a validated Spring/UTAD. Part of the C -> D evidence.
func (c *Classifier) NoteShakeout(barIdx int) {
	if c.shakeoutAt == -1 {
		c.shakeoutAt = barIdx
	}
}

// NoteBreakout records a validated SOS/LPS break of the far boundary. The
// latest breakout wins: a break seen before any shakeout is not the C -> D
// evidence and must not shadow one that follows the shakeout.
func (c *Classifier) NoteBreakout(barIdx int) {
	if barIdx > c.breakoutAt {
		c.breakoutAt = barIdx
	}
}

// Step evaluates the bar at idx against the accumulated events and the
// active range and advances the phase when a transition's conditions hold.
// Unrecognized event ordering yields no phase assignment rather than a
// guessed one. At most one transition occurs per bar.
func (c *Classifier) Step(tr *structure.TradingRange, ev *Events, bar market.Bar, idx int) (*Transition, error) {
	var next Phase

	switch c.phase {
	case PhaseNone:
		if ev.Climax != nil && ev.Reaction != nil &&
			ev.Climax.VolumeRatio >= c.cfg.ClimaxVolumeRatio {
			next = PhaseA
		}
	case PhaseA:
		if c.confirmedTest(ev) {
			next = PhaseB
		}
	case PhaseB:
		if tr == nil {
			break
		}
		c.trackBExtreme(ev, bar)
		if c.boundaryApproach(tr, ev, bar) {
			next = PhaseC
		}
	case PhaseC:
		if c.shakeoutAt >= 0 && c.breakoutAt > c.shakeoutAt {
			next = PhaseD
		}
	case PhaseD:
		if tr == nil {
			break
		}
		if c.sustainedBeyondTarget(tr, ev, bar) {
			next = PhaseE
		}
	case PhaseE:
		// Terminal for the cycle; only invalidation moves on from here.
	}

	if next == PhaseNone {
		return nil, nil
	}
	return c.advance(next, idx)
}

func (c *Classifier) advance(next Phase, idx int) (*Transition, error) {
	if phaseOrder[next] <= phaseOrder[c.phase] {
		return nil, fmt.Errorf("%w: %s -> %s at bar %d", ErrPhaseRegression, c.phase, next, idx)
	}
	t := &Transition{From: c.phase, To: next, BarIndex: idx, Cycle: c.cycle}
	c.phase = next
	if next == PhaseB {
		c.bExtreme = 0
	}
	return t, nil
}

// confirmedTest reports whether at least one secondary test confirmed the
// climax on volume below the climax's own ratio.
func (c *Classifier) confirmedTest(ev *Events) bool {
	if ev.Climax == nil {
		return false
	}
	for _, st := range ev.SecondaryTests {
		if st.VolumeRatio < ev.Climax.VolumeRatio {
			return true
		}
	}
	return false
}

func (c *Classifier) trackBExtreme(ev *Events, bar market.Bar) {
	if ev.Accumulation() {
		if c.bExtreme == 0 || bar.Low < c.bExtreme {
			c.bExtreme = bar.Low
		}
	} else {
		if bar.High > c.bExtreme {
			c.bExtreme = bar.High
		}
	}
}

// boundaryApproach reports whether price pushed into the near boundary
// (creek for accumulation, ice for distribution) beyond the prior B-phase
// extreme.
func (c *Classifier) boundaryApproach(tr *structure.TradingRange, ev *Events, bar market.Bar) bool {
	tol := c.cfg.CreekTolerancePct / 100
	if ev.Accumulation() {
		nearBoundary := tr.Support() * (1 + tol)
		return bar.Low <= nearBoundary && c.bExtreme != 0 && bar.Low <= c.bExtreme
	}
	nearBoundary := tr.Resistance() * (1 - tol)
	return bar.High >= nearBoundary && bar.High >= c.bExtreme
}

// sustainedBeyondTarget reports whether price holds beyond the measured-move
// target (range width projected from the far boundary) without re-entering
// the range.
func (c *Classifier) sustainedBeyondTarget(tr *structure.TradingRange, ev *Events, bar market.Bar) bool {
	if ev.Accumulation() {
		if bar.Close < tr.Resistance() {
			c.reentered = true
			return false
		}
		return !c.reentered && bar.Close >= tr.Resistance()+tr.Width()
	}
	if bar.Close > tr.Support() {
		c.reentered = true
		return false
	}
	return !c.reentered && bar.Close <= tr.Support()-tr.Width()
}
