package validation

import (
	"fmt"

	"wyckoff-signal-engine/internal/patterns"
)

// RejectCode names the rule a detection violated. Rejections are normal,
// logged outcomes of the pipeline, never faults.
type RejectCode string

const (
	RejectPhaseMismatch    RejectCode = "PHASE_MISMATCH"
	RejectLowVolume        RejectCode = "LOW_VOLUME"
	RejectSpreadTooWide    RejectCode = "SPREAD_NOT_STOPPING"
	RejectVolumeNotLighter RejectCode = "VOLUME_NOT_LIGHTER"
)

// Rejection describes why a detection failed validation.
type Rejection struct {
	Kind   patterns.Kind
	Code   RejectCode
	Detail string
}

func (r *Rejection) String() string {
	return fmt.Sprintf("%s rejected: %s (%s)", r.Kind, r.Code, r.Detail)
}

// Validator checks one pattern kind. A nil return means the detection passed.
type Validator interface {
	Kind() patterns.Kind
	Validate(det *patterns.Detection) *Rejection
}

// Config holds per-kind validation thresholds.
type Config struct {
	SpringMinVolumeRatio float64
	UTADMinVolumeRatio   float64
	SOSMinVolumeRatio    float64
	LPSMinVolumeRatio    float64

	// StoppingSpreadBound caps spread_ratio / volume_ratio for stopping
	// patterns: climactic volume must not be matched by proportional price
	// progress.
	StoppingSpreadBound float64
}

func (c *Config) applyDefaults() {
	if c.SpringMinVolumeRatio <= 0 {
		c.SpringMinVolumeRatio = 1.8
	}
	if c.UTADMinVolumeRatio <= 0 {
		c.UTADMinVolumeRatio = 1.8
	}
	if c.SOSMinVolumeRatio <= 0 {
		c.SOSMinVolumeRatio = 2.0
	}
	if c.LPSMinVolumeRatio <= 0 {
		c.LPSMinVolumeRatio = 0.3
	}
	if c.StoppingSpreadBound <= 0 {
		c.StoppingSpreadBound = 1.0
	}
}

// Set is the closed, exhaustive validator registry: exactly one concrete
// validator per tradeable pattern kind, selected by kind tag. There is no
// default or no-op fallback; a kind without a variant fails Set construction.
type Set struct {
	byKind map[patterns.Kind]Validator
}

// NewSet builds the validator set and verifies every tradeable kind has a
// variant. A missing variant is a startup-time error.
func NewSet(cfg Config) (*Set, error) {
	cfg.applyDefaults()

	byKind := map[patterns.Kind]Validator{
		patterns.Spring: &springValidator{cfg: cfg},
		patterns.UTAD:   &utadValidator{cfg: cfg},
		patterns.SOS:    &sosValidator{cfg: cfg},
		patterns.LPS:    &lpsValidator{cfg: cfg},
	}

	for _, kind := range patterns.TradeableKinds {
		v, ok := byKind[kind]
		if !ok || v == nil {
			return nil, fmt.Errorf("no validator variant for pattern kind %s", kind)
		}
		if v.Kind() != kind {
			return nil, fmt.Errorf("validator for %s reports kind %s", kind, v.Kind())
		}
	}
	return &Set{byKind: byKind}, nil
}

// Validate dispatches the detection to its kind's validator. An unknown kind
// is a hard error, not a pass.
func (s *Set) Validate(det *patterns.Detection) (*Rejection, error) {
	v, ok := s.byKind[det.Kind]
	if !ok {
		return nil, fmt.Errorf("no validator for pattern kind %s", det.Kind)
	}
	return v.Validate(det), nil
}

// checkPhase is the shared phase-alignment rule.
func checkPhase(det *patterns.Detection) *Rejection {
	expected := patterns.ExpectedPhase(det.Kind)
	if det.Phase != expected {
		return &Rejection{
			Kind:   det.Kind,
			Code:   RejectPhaseMismatch,
			Detail: fmt.Sprintf("detected in phase %s, valid only in %s", det.Phase, expected),
		}
	}
	return nil
}

// checkMinVolume is the shared volume-confirmation floor.
func checkMinVolume(det *patterns.Detection, minimum float64) *Rejection {
	if det.VolumeRatio < minimum {
		return &Rejection{
			Kind:   det.Kind,
			Code:   RejectLowVolume,
			Detail: fmt.Sprintf("volume_ratio %.2f below minimum %.2f", det.VolumeRatio, minimum),
		}
	}
	return nil
}

// checkStoppingSpread rejects stopping patterns whose price progress is
// proportional to their volume: that is continuation, not absorption.
func checkStoppingSpread(det *patterns.Detection, bound float64) *Rejection {
	if det.VolumeRatio <= 0 {
		return nil
	}
	if det.SpreadRatio/det.VolumeRatio > bound {
		return &Rejection{
			Kind: det.Kind,
			Code: RejectSpreadTooWide,
			Detail: fmt.Sprintf("spread_ratio %.2f vs volume_ratio %.2f exceeds stopping bound %.2f",
				det.SpreadRatio, det.VolumeRatio, bound),
		}
	}
	return nil
}

type springValidator struct{ cfg Config }

func (v *springValidator) Kind() patterns.Kind { return patterns.Spring }

func (v *springValidator) Validate(det *patterns.Detection) *Rejection {
	if r := checkPhase(det); r != nil {
		return r
	}
	if r := checkMinVolume(det, v.cfg.SpringMinVolumeRatio); r != nil {
		return r
	}
	return checkStoppingSpread(det, v.cfg.StoppingSpreadBound)
}

type utadValidator struct{ cfg Config }

func (v *utadValidator) Kind() patterns.Kind { return patterns.UTAD }

func (v *utadValidator) Validate(det *patterns.Detection) *Rejection {
	if r := checkPhase(det); r != nil {
		return r
	}
	if r := checkMinVolume(det, v.cfg.UTADMinVolumeRatio); r != nil {
		return r
	}
	return checkStoppingSpread(det, v.cfg.StoppingSpreadBound)
}

type sosValidator struct{ cfg Config }

func (v *sosValidator) Kind() patterns.Kind { return patterns.SOS }

func (v *sosValidator) Validate(det *patterns.Detection) *Rejection {
	if r := checkPhase(det); r != nil {
		return r
	}
	return checkMinVolume(det, v.cfg.SOSMinVolumeRatio)
}

type lpsValidator struct{ cfg Config }

func (v *lpsValidator) Kind() patterns.Kind { return patterns.LPS }

func (v *lpsValidator) Validate(det *patterns.Detection) *Rejection {
	if r := checkPhase(det); r != nil {
		return r
	}
	if r := checkMinVolume(det, v.cfg.LPSMinVolumeRatio); r != nil {
		return r
	}
	// An LPS retest must come in on lighter volume than the breakout; the
	// detector encodes that relationship in VolumeConfidence.
	if det.VolumeConfidence <= 0 {
		return &Rejection{
			Kind:   det.Kind,
			Code:   RejectVolumeNotLighter,
			Detail: "retest volume not lighter than breakout volume",
		}
	}
	return nil
}
