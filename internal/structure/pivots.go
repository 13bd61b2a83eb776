package structure

import "wyckoff-signal-engine/internal/market"

// PivotType marks whether a pivot is a local high or low.
type PivotType string

const (
	PivotHigh PivotType = "HIGH"
	PivotLow  PivotType = "LOW"
)

// Pivot is a confirmed local price extremum. A HIGH pivot's price equals its
// bar's high; a LOW pivot's price equals its bar's low. Pivots reference bars
// by index into the owning Store, never by pointer.
type Pivot struct {
	BarIndex int
	Price    float64
	Type     PivotType
	Strength int // min(confirming bars left, confirming bars right), >= window
	Seq      int
}

// PivotExtractor finds fractal pivots in a bar sequence: bar i is a HIGH
// pivot when its high is the strict maximum over the window bars on each
// side (ties broken by earliest index), and symmetrically for LOW.
//
// The last window bars of a live sequence cannot be confirmed yet, so
// extraction lags exactly window bars behind the newest bar. The extractor
// is restartable: each Extract call returns only pivots confirmed since the
// previous call.
type PivotExtractor struct {
	window int
	cursor int // next bar index to evaluate
	seq    int
}

// NewPivotExtractor creates an extractor with the given lookback/lookahead
// window. A window below 1 falls back to 5.
func NewPivotExtractor(window int) *PivotExtractor {
	if window < 1 {
		window = 5
	}
	return &PivotExtractor{window: window}
}

// Window returns the confirmation window.
func (pe *PivotExtractor) Window() int {
	return pe.window
}

// Reset rewinds the extractor so the next Extract re-evaluates from the start.
func (pe *PivotExtractor) Reset() {
	pe.cursor = 0
	pe.seq = 0
}

// Extract returns pivots newly confirmed by the bars seen so far. Bars must
// only ever be appended between calls.
func (pe *PivotExtractor) Extract(bars []market.Bar) []Pivot {
	var out []Pivot

	if pe.cursor < pe.window {
		pe.cursor = pe.window
	}

	// Only bars with a full window on both sides are evaluated.
	limit := len(bars) - pe.window
	for i := pe.cursor; i < limit; i++ {
		if p, ok := pe.evaluate(bars, i); ok {
			p.Seq = pe.seq
			pe.seq++
			out = append(out, p)
		}
	}
	if limit > pe.cursor {
		pe.cursor = limit
	}
	return out
}

func (pe *PivotExtractor) evaluate(bars []market.Bar, i int) (Pivot, bool) {
	isHigh, isLow := true, true
	for j := i - pe.window; j <= i+pe.window; j++ {
		if j == i {
			continue
		}
		if bars[j].High > bars[i].High {
			isHigh = false
		}
		// Earlier equal extreme wins the tie.
		if j < i && bars[j].High == bars[i].High {
			isHigh = false
		}
		if bars[j].Low < bars[i].Low {
			isLow = false
		}
		if j < i && bars[j].Low == bars[i].Low {
			isLow = false
		}
		if !isHigh && !isLow {
			return Pivot{}, false
		}
	}

	if isHigh {
		return Pivot{
			BarIndex: i,
			Price:    bars[i].High,
			Type:     PivotHigh,
			Strength: pe.strength(bars, i, PivotHigh),
		}, true
	}
	if isLow {
		return Pivot{
			BarIndex: i,
			Price:    bars[i].Low,
			Type:     PivotLow,
			Strength: pe.strength(bars, i, PivotLow),
		}, true
	}
	return Pivot{}, false
}

// strength counts consecutive confirming bars on each side of the extremum
// and takes the smaller count.
func (pe *PivotExtractor) strength(bars []market.Bar, i int, typ PivotType) int {
	confirms := func(j int) bool {
		if typ == PivotHigh {
			return bars[j].High < bars[i].High
		}
		return bars[j].Low > bars[i].Low
	}

	left := 0
	for j := i - 1; j >= 0 && confirms(j); j-- {
		left++
	}
	right := 0
	for j := i + 1; j < len(bars) && confirms(j); j++ {
		right++
	}
	s := left
	if right < s {
		s = right
	}
	if s < 1 {
		s = 1
	}
	return s
}
