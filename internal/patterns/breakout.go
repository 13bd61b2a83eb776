package patterns

import (
	"wyckoff-signal-engine/internal/market"
	"wyckoff-signal-engine/internal/phase"
	"wyckoff-signal-engine/internal/structure"
)

// DetectSOS looks for a sign-of-strength breakout at bar idx: a close beyond
// the far boundary plus tolerance on breakout volume with an above-average
// spread. For accumulation cycles the far boundary is resistance; for
// distribution it is support (sign of weakness, same record shape).
func (pd *Detector) DetectSOS(store *structure.Store, tr *structure.TradingRange, ev *phase.Events, idx int, current phase.Phase) *Detection {
	bars := store.Bars()
	if tr == nil || idx >= len(bars) {
		return nil
	}
	bar := bars[idx]
	tol := pd.cfg.CreekTolerancePct / 100

	var level float64
	var broke bool
	if ev.Accumulation() {
		level = tr.Resistance()
		broke = bar.Close > level*(1+tol)
	} else {
		level = tr.Support()
		broke = bar.Close < level*(1-tol)
	}
	if !broke {
		return nil
	}

	profile := pd.volume.ProfileAt(bars, idx)
	if profile == nil || profile.VolumeRatio < pd.cfg.BreakoutVolumeRatio {
		return nil
	}
	if profile.SpreadRatio < 1.0 {
		return nil
	}

	det := &Detection{
		Kind:         SOS,
		Symbol:       store.Symbol,
		BarIndex:     idx,
		Cycle:        store.Cycle(),
		Phase:        current,
		Level:        level,
		ConfirmClose: bar.Close,
	}
	det.fillRatios(profile, bar.ClosePosition())
	det.PatternConfidence = pd.breakoutConfidence(det, ev.Accumulation())
	det.PhaseConfidence = phaseConfidence(ev, current, SOS)
	det.VolumeConfidence = volumeConfidence(det.VolumeRatio, pd.cfg.BreakoutVolumeRatio)
	return det
}

// DetectLPS looks for a last-point-of-support pullback after a SOS: the bar
// dips toward the breakout level without closing back through it, on volume
// lighter than the SOS bar's.
func (pd *Detector) DetectLPS(store *structure.Store, tr *structure.TradingRange, ev *phase.Events, idx int, current phase.Phase, sos *Detection) *Detection {
	bars := store.Bars()
	if tr == nil || sos == nil || idx >= len(bars) || idx <= sos.BarIndex {
		return nil
	}
	bar := bars[idx]
	level := sos.Level
	tol := pd.cfg.CreekTolerancePct / 100

	var held, pulledBack bool
	if ev.Accumulation() {
		held = bar.Close >= level
		pulledBack = bar.Low <= level*(1+tol)
	} else {
		held = bar.Close <= level
		pulledBack = bar.High >= level*(1-tol)
	}
	if !held || !pulledBack {
		return nil
	}

	profile := pd.volume.ProfileAt(bars, idx)
	if profile == nil || profile.VolumeRatio >= sos.VolumeRatio {
		return nil
	}

	det := &Detection{
		Kind:         LPS,
		Symbol:       store.Symbol,
		BarIndex:     idx,
		Cycle:        store.Cycle(),
		Phase:        current,
		Level:        level,
		ConfirmClose: bar.Close,
	}
	det.fillRatios(profile, bar.ClosePosition())
	// Lighter supply on the retest is the whole point of an LPS.
	det.PatternConfidence = clamp01(0.5 + 0.3*(1-det.VolumeRatio/sos.VolumeRatio) + 0.2*sos.PatternConfidence)
	det.PhaseConfidence = phaseConfidence(ev, current, LPS)
	det.VolumeConfidence = clamp01(1 - det.VolumeRatio/sos.VolumeRatio)
	return det
}

// breakoutConfidence scores a SOS by volume margin, spread expansion, and a
// close near the breakout direction's extreme.
func (pd *Detector) breakoutConfidence(det *Detection, accumulation bool) float64 {
	volumeTerm := clamp01((det.VolumeRatio - pd.cfg.BreakoutVolumeRatio) / pd.cfg.BreakoutVolumeRatio)
	spreadTerm := clamp01(det.SpreadRatio - 1)

	drive := det.ClosePosition
	if !accumulation {
		drive = 1 - det.ClosePosition
	}

	return clamp01(0.4 + 0.25*volumeTerm + 0.15*spreadTerm + 0.2*drive)
}

func (d *Detection) fillRatios(profile *market.VolumeProfile, closePos float64) {
	d.VolumeRatio = profile.VolumeRatio
	d.SpreadRatio = profile.SpreadRatio
	d.ClosePosition = closePos
}
