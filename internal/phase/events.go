package phase

import (
	"wyckoff-signal-engine/internal/market"
	"wyckoff-signal-engine/internal/structure"
)

// EventKind identifies a Wyckoff phase event.
type EventKind string

const (
	SellingClimax     EventKind = "SELLING_CLIMAX"
	BuyingClimax      EventKind = "BUYING_CLIMAX"
	AutomaticRally    EventKind = "AUTOMATIC_RALLY"
	AutomaticReaction EventKind = "AUTOMATIC_REACTION"
	SecondaryTest     EventKind = "SECONDARY_TEST"
)

// Event is one recorded phase event. Events are append-only within a range
// cycle: they are never mutated after creation, only superseded when a new
// cycle begins.
type Event struct {
	Kind          EventKind
	BarIndex      int
	Price         float64
	VolumeRatio   float64
	SpreadRatio   float64
	ClosePosition float64
	Confidence    float64
}

// Events accumulates the phase events of one range cycle.
type Events struct {
	Cycle          int
	Climax         *Event // SellingClimax or BuyingClimax
	Reaction       *Event // AutomaticRally or AutomaticReaction
	SecondaryTests []Event
}

// Accumulation reports whether the cycle opened with a SellingClimax
// (accumulation bias) rather than a BuyingClimax (distribution bias).
func (ev *Events) Accumulation() bool {
	return ev.Climax != nil && ev.Climax.Kind == SellingClimax
}

// EventDetectorConfig holds event detection tunables.
type EventDetectorConfig struct {
	ClimaxVolumeRatio  float64 // minimum volume ratio for a climax bar
	ClimaxLookback     int     // bars a climax extreme must exceed
	ReactionWindowBars int     // max bars between climax and AR/reaction
	TestTolerancePct   float64 // how close a test must come to the climax extreme
	VolumeAvgPeriod    int
}

// EventDetector finds climactic, reaction, and test events in a bar stream.
// It is driven one bar at a time by the symbol worker and records into the
// cycle's Events value.
type EventDetector struct {
	cfg    EventDetectorConfig
	volume *market.VolumeAnalyzer
}

// NewEventDetector creates an event detector, applying defaults for zero
// config values.
func NewEventDetector(cfg EventDetectorConfig) *EventDetector {
	if cfg.ClimaxVolumeRatio <= 0 {
		cfg.ClimaxVolumeRatio = 2.5
	}
	if cfg.ClimaxLookback <= 0 {
		cfg.ClimaxLookback = 10
	}
	if cfg.ReactionWindowBars <= 0 {
		cfg.ReactionWindowBars = 10
	}
	if cfg.TestTolerancePct <= 0 {
		cfg.TestTolerancePct = 1.0
	}
	if cfg.VolumeAvgPeriod <= 0 {
		cfg.VolumeAvgPeriod = 20
	}
	return &EventDetector{
		cfg:    cfg,
		volume: market.NewVolumeAnalyzer(cfg.VolumeAvgPeriod),
	}
}

// Step inspects the bar at idx and records at most one new event into ev.
// The returned event is nil when nothing was recognized, which is the normal
// case for most bars.
func (ed *EventDetector) Step(store *structure.Store, ev *Events, idx int) *Event {
	bars := store.Bars()
	profile := ed.volume.ProfileAt(bars, idx)
	if profile == nil {
		return nil
	}
	bar := bars[idx]

	switch {
	case ev.Climax == nil:
		return ed.detectClimax(bars, ev, idx, bar, profile)
	case ev.Reaction == nil:
		return ed.detectReaction(ev, idx, bar, profile)
	default:
		return ed.detectSecondaryTest(ev, idx, bar, profile)
	}
}

// detectClimax looks for a climactic extreme: a fresh low (or high) beyond
// the recent lookback on climactic volume with a wide spread.
func (ed *EventDetector) detectClimax(bars []market.Bar, ev *Events, idx int, bar market.Bar, profile *market.VolumeProfile) *Event {
	if profile.VolumeRatio < ed.cfg.ClimaxVolumeRatio {
		return nil
	}
	if profile.SpreadRatio < 1.2 {
		return nil
	}

	start := idx - ed.cfg.ClimaxLookback
	if start < 0 {
		start = 0
	}
	if idx-start < ed.cfg.ClimaxLookback/2 {
		return nil // not enough history to call an extreme
	}

	newLow, newHigh := true, true
	for i := start; i < idx; i++ {
		if bars[i].Low <= bar.Low {
			newLow = false
		}
		if bars[i].High >= bar.High {
			newHigh = false
		}
	}

	var e *Event
	switch {
	case newLow && !bar.Bullish():
		e = &Event{Kind: SellingClimax, BarIndex: idx, Price: bar.Low}
	case newHigh && bar.Bullish():
		e = &Event{Kind: BuyingClimax, BarIndex: idx, Price: bar.High}
	default:
		return nil
	}

	e.VolumeRatio = profile.VolumeRatio
	e.SpreadRatio = profile.SpreadRatio
	e.ClosePosition = bar.ClosePosition()
	e.Confidence = climaxConfidence(e, ed.cfg.ClimaxVolumeRatio)
	ev.Climax = e
	return e
}

// detectReaction looks for the automatic rally (after a selling climax) or
// automatic reaction (after a buying climax) within the reaction window.
func (ed *EventDetector) detectReaction(ev *Events, idx int, bar market.Bar, profile *market.VolumeProfile) *Event {
	climax := ev.Climax
	if idx-climax.BarIndex > ed.cfg.ReactionWindowBars {
		// Reaction never came; the climax call was wrong. Start over.
		ev.Climax = nil
		return nil
	}

	var e *Event
	if climax.Kind == SellingClimax {
		// Rally carries the close back above the climax bar's midpoint
		// plus half its spread (decisive recovery off the low).
		if bar.Close > climax.Price+(bar.Spread()/2) && bar.Bullish() {
			e = &Event{Kind: AutomaticRally, BarIndex: idx, Price: bar.High}
		}
	} else {
		if bar.Close < climax.Price-(bar.Spread()/2) && !bar.Bullish() {
			e = &Event{Kind: AutomaticReaction, BarIndex: idx, Price: bar.Low}
		}
	}
	if e == nil {
		return nil
	}

	e.VolumeRatio = profile.VolumeRatio
	e.SpreadRatio = profile.SpreadRatio
	e.ClosePosition = bar.ClosePosition()
	e.Confidence = 0.5 + 0.5*clamp01((climax.VolumeRatio-e.VolumeRatio)/climax.VolumeRatio)
	ev.Reaction = e
	return e
}

// detectSecondaryTest looks for a revisit of the climax extreme on volume
// lighter than the climax itself.
func (ed *EventDetector) detectSecondaryTest(ev *Events, idx int, bar market.Bar, profile *market.VolumeProfile) *Event {
	climax := ev.Climax
	if profile.VolumeRatio >= climax.VolumeRatio {
		return nil
	}

	tol := climax.Price * ed.cfg.TestTolerancePct / 100
	var near bool
	var price float64
	if climax.Kind == SellingClimax {
		near = bar.Low <= climax.Price+tol && bar.Low >= climax.Price-tol
		price = bar.Low
	} else {
		near = bar.High >= climax.Price-tol && bar.High <= climax.Price+tol
		price = bar.High
	}
	if !near {
		return nil
	}

	e := Event{
		Kind:          SecondaryTest,
		BarIndex:      idx,
		Price:         price,
		VolumeRatio:   profile.VolumeRatio,
		SpreadRatio:   profile.SpreadRatio,
		ClosePosition: bar.ClosePosition(),
	}
	e.Confidence = 0.5 + 0.5*clamp01(1-e.VolumeRatio/climax.VolumeRatio)
	ev.SecondaryTests = append(ev.SecondaryTests, e)
	return &ev.SecondaryTests[len(ev.SecondaryTests)-1]
}

func climaxConfidence(e *Event, threshold float64) float64 {
	conf := 0.5 + 0.2*clamp01((e.VolumeRatio-threshold)/threshold)
	if e.Kind == SellingClimax {
		// Close off the low shows absorption.
		conf += 0.3 * e.ClosePosition
	} else {
		conf += 0.3 * (1 - e.ClosePosition)
	}
	return clamp01(conf)
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
