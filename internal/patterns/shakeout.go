package patterns

import (
	"wyckoff-signal-engine/internal/phase"
	"wyckoff-signal-engine/internal/structure"
)

// DetectSpring looks for a spring confirmation at bar idx: an earlier close
// below support minus the creek tolerance on stopping volume, followed by
// this bar closing back above support. The detection is anchored on the
// recovery bar; its ConfirmClose is the recovery close, never the
// penetration low.
func (pd *Detector) DetectSpring(store *structure.Store, tr *structure.TradingRange, ev *phase.Events, idx int, current phase.Phase) *Detection {
	bars := store.Bars()
	if tr == nil || idx >= len(bars) {
		return nil
	}
	support := tr.Support()
	bar := bars[idx]

	// The recovery bar must be the first close back above support.
	if bar.Close <= support {
		return nil
	}

	creek := support * (1 - pd.cfg.CreekTolerancePct/100)
	penIdx := -1
	penRatio := 0.0
	for j := idx - pd.cfg.RecoveryWindowBars; j < idx; j++ {
		if j <= 0 {
			continue
		}
		if bars[j].Close >= creek {
			continue
		}
		profile := pd.volume.ProfileAt(bars, j)
		if profile == nil || profile.VolumeRatio < pd.cfg.StoppingVolumeRatio {
			continue
		}
		if profile.SpreadRatio < 1.2 {
			continue
		}
		// Rejection of the lows: the shakeout bar closes in its upper third.
		if bars[j].ClosePosition() < 2.0/3.0 {
			continue
		}
		// Highest volume ratio wins when several bars qualify.
		if profile.VolumeRatio > penRatio {
			penIdx = j
			penRatio = profile.VolumeRatio
		}
	}
	if penIdx < 0 {
		return nil
	}

	// Fire only on the first recovery close after the penetration.
	for j := penIdx + 1; j < idx; j++ {
		if bars[j].Close > support {
			return nil
		}
	}

	profile := pd.volume.ProfileAt(bars, penIdx)
	penBar := bars[penIdx]
	recoveryBars := idx - penIdx

	det := &Detection{
		Kind:         Spring,
		Symbol:       store.Symbol,
		BarIndex:     idx,
		Cycle:        store.Cycle(),
		Phase:        current,
		Level:        support,
		Extreme:      penBar.Low,
		ConfirmClose: bar.Close,
		RecoveryBars: recoveryBars,
	}
	det.VolumeRatio = profile.VolumeRatio
	det.SpreadRatio = profile.SpreadRatio
	det.ClosePosition = penBar.ClosePosition()
	det.PatternConfidence = pd.shakeoutConfidence(det)
	det.PhaseConfidence = phaseConfidence(ev, current, Spring)
	det.VolumeConfidence = volumeConfidence(det.VolumeRatio, pd.cfg.StoppingVolumeRatio)
	return det
}

// DetectUTAD is the mirror of DetectSpring above resistance: an upthrust
// close beyond resistance plus tolerance on stopping volume, followed by
// this bar closing back below resistance.
func (pd *Detector) DetectUTAD(store *structure.Store, tr *structure.TradingRange, ev *phase.Events, idx int, current phase.Phase) *Detection {
	bars := store.Bars()
	if tr == nil || idx >= len(bars) {
		return nil
	}
	resistance := tr.Resistance()
	bar := bars[idx]

	if bar.Close >= resistance {
		return nil
	}

	ice := resistance * (1 + pd.cfg.CreekTolerancePct/100)
	penIdx := -1
	penRatio := 0.0
	for j := idx - pd.cfg.RecoveryWindowBars; j < idx; j++ {
		if j <= 0 {
			continue
		}
		if bars[j].Close <= ice {
			continue
		}
		profile := pd.volume.ProfileAt(bars, j)
		if profile == nil || profile.VolumeRatio < pd.cfg.StoppingVolumeRatio {
			continue
		}
		if profile.SpreadRatio < 1.2 {
			continue
		}
		// Rejection of the highs: the upthrust bar closes in its lower third.
		if bars[j].ClosePosition() > 1.0/3.0 {
			continue
		}
		if profile.VolumeRatio > penRatio {
			penIdx = j
			penRatio = profile.VolumeRatio
		}
	}
	if penIdx < 0 {
		return nil
	}

	for j := penIdx + 1; j < idx; j++ {
		if bars[j].Close < resistance {
			return nil
		}
	}

	profile := pd.volume.ProfileAt(bars, penIdx)
	penBar := bars[penIdx]

	det := &Detection{
		Kind:         UTAD,
		Symbol:       store.Symbol,
		BarIndex:     idx,
		Cycle:        store.Cycle(),
		Phase:        current,
		Level:        resistance,
		Extreme:      penBar.High,
		ConfirmClose: bar.Close,
		RecoveryBars: idx - penIdx,
	}
	det.VolumeRatio = profile.VolumeRatio
	det.SpreadRatio = profile.SpreadRatio
	det.ClosePosition = penBar.ClosePosition()
	det.PatternConfidence = pd.shakeoutConfidence(det)
	det.PhaseConfidence = phaseConfidence(ev, current, UTAD)
	det.VolumeConfidence = volumeConfidence(det.VolumeRatio, pd.cfg.StoppingVolumeRatio)
	return det
}

// shakeoutConfidence scores a Spring/UTAD by volume margin, reversal speed
// (fewer bars to recovery is stronger), and the shakeout bar's rejection of
// the violated side.
func (pd *Detector) shakeoutConfidence(det *Detection) float64 {
	volumeTerm := clamp01((det.VolumeRatio - pd.cfg.StoppingVolumeRatio) / pd.cfg.StoppingVolumeRatio)
	speedTerm := clamp01(1 - float64(det.RecoveryBars-1)/float64(pd.cfg.RecoveryWindowBars))

	rejection := det.ClosePosition
	if det.Kind == UTAD {
		rejection = 1 - det.ClosePosition
	}

	return clamp01(0.4 + 0.2*volumeTerm + 0.2*speedTerm + 0.2*rejection)
}
