package signals

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"wyckoff-signal-engine/internal/confidence"
	"wyckoff-signal-engine/internal/patterns"
	"wyckoff-signal-engine/internal/structure"
)

// ExtractorConfig holds signal field-mapping tunables.
type ExtractorConfig struct {
	StopBufferPct float64 // buffer beyond the shakeout extreme for stops
}

// Extractor maps a validated, scored detection into signal fields. The
// mapping is a total function per pattern kind: an unknown kind is an error,
// never a guess.
type Extractor struct {
	cfg ExtractorConfig
	now func() time.Time
}

// NewExtractor creates an extractor, applying defaults for zero config values.
func NewExtractor(cfg ExtractorConfig) *Extractor {
	if cfg.StopBufferPct <= 0 {
		cfg.StopBufferPct = 0.2
	}
	return &Extractor{cfg: cfg, now: time.Now}
}

// Extract builds a PENDING signal from a detection. accumulation tells the
// breakout patterns which boundary they broke; shakeouts carry their own
// direction in the kind.
func (ex *Extractor) Extract(det *patterns.Detection, tr *structure.TradingRange, comps confidence.Components, accumulation bool) (*Signal, error) {
	width := tr.Width()
	buffer := det.Level * ex.cfg.StopBufferPct / 100

	sig := &Signal{
		ID:                   uuid.New(),
		Symbol:               det.Symbol,
		Detection:            *det,
		ConfidenceScore:      comps.Overall,
		ConfidenceComponents: comps,
		Status:               StatusPending,
		CreatedAt:            ex.now(),
	}

	switch det.Kind {
	case patterns.Spring:
		// Entry is the recovery bar's close, never the penetration low.
		sig.Direction = Long
		sig.EntryPrice = det.ConfirmClose
		sig.StopLoss = det.Extreme - buffer
		sig.TargetPrice = tr.Resistance() + width
		sig.SecondaryTarget = tr.Resistance()

	case patterns.UTAD:
		sig.Direction = Short
		sig.EntryPrice = det.ConfirmClose
		sig.StopLoss = det.Extreme + buffer
		sig.TargetPrice = tr.Support() - width
		sig.SecondaryTarget = tr.Support()

	case patterns.SOS:
		sig.EntryPrice = det.ConfirmClose
		sig.StopLoss = det.Level
		if accumulation {
			sig.Direction = Long
			sig.TargetPrice = det.Level + width
		} else {
			sig.Direction = Short
			sig.TargetPrice = det.Level - width
		}

	case patterns.LPS:
		sig.EntryPrice = det.ConfirmClose
		if accumulation {
			sig.Direction = Long
			sig.StopLoss = det.Level - buffer
			sig.TargetPrice = det.Level + width
		} else {
			sig.Direction = Short
			sig.StopLoss = det.Level + buffer
			sig.TargetPrice = det.Level - width
		}

	default:
		return nil, fmt.Errorf("no signal mapping for pattern kind %s", det.Kind)
	}

	risk := math.Abs(sig.EntryPrice - sig.StopLoss)
	if risk == 0 {
		return nil, fmt.Errorf("degenerate signal for %s: entry equals stop at %.8f", det.Kind, sig.EntryPrice)
	}
	sig.RMultiple = math.Abs(sig.TargetPrice-sig.EntryPrice) / risk

	return sig, nil
}
