package market

// VolumeAnalyzer computes rolling volume statistics used by the event and
// pattern detectors. Ratios are always relative to the trailing average
// ending at the bar before the one being measured.
type VolumeAnalyzer struct {
	avgPeriod int
}

// VolumeProfile describes one bar's volume relative to its recent history.
type VolumeProfile struct {
	CurrentVolume float64
	AverageVolume float64
	VolumeRatio   float64 // current / trailing average
	SpreadRatio   float64 // bar spread / trailing average spread
	IsHighVolume  bool    // ratio > 2x
	IsClimactic   bool    // ratio > 3x
}

// NewVolumeAnalyzer creates a volume analyzer with the given averaging period.
func NewVolumeAnalyzer(avgPeriod int) *VolumeAnalyzer {
	if avgPeriod <= 0 {
		avgPeriod = 20
	}
	return &VolumeAnalyzer{avgPeriod: avgPeriod}
}

// ProfileAt computes the volume profile of bars[idx] against the trailing
// window ending at idx-1. Returns nil when idx is out of range or no trailing
// bars exist.
func (va *VolumeAnalyzer) ProfileAt(bars []Bar, idx int) *VolumeProfile {
	if idx <= 0 || idx >= len(bars) {
		return nil
	}

	start := idx - va.avgPeriod
	if start < 0 {
		start = 0
	}

	var volSum, spreadSum float64
	n := idx - start
	for i := start; i < idx; i++ {
		volSum += bars[i].Volume
		spreadSum += bars[i].Spread()
	}
	avgVol := volSum / float64(n)
	avgSpread := spreadSum / float64(n)

	bar := bars[idx]
	profile := &VolumeProfile{
		CurrentVolume: bar.Volume,
		AverageVolume: avgVol,
	}
	if avgVol > 0 {
		profile.VolumeRatio = bar.Volume / avgVol
	}
	if avgSpread > 0 {
		profile.SpreadRatio = bar.Spread() / avgSpread
	}
	profile.IsHighVolume = profile.VolumeRatio > 2.0
	profile.IsClimactic = profile.VolumeRatio > 3.0

	return profile
}
