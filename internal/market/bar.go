package market

import (
	"errors"
	"fmt"
	"time"
)

// Bar represents a single closed price/volume bar for one symbol.
// Bars are immutable once ingested and ordered by OpenTime per symbol.
type Bar struct {
	Symbol    string  `json:"symbol"`
	Timeframe string  `json:"timeframe"`
	OpenTime  int64   `json:"open_time"` // unix ms
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

var (
	ErrEmptySymbol   = errors.New("bar has empty symbol")
	ErrZeroTimestamp = errors.New("bar has zero timestamp")
	ErrInvertedRange = errors.New("bar high is below low")
	ErrBadVolume     = errors.New("bar volume is not positive")
	ErrPriceOutside  = errors.New("bar open/close outside high-low range")
	ErrOutOfOrder    = errors.New("bar timestamp not after previous bar")
	ErrNonPositivePx = errors.New("bar has non-positive price")
)

// Time returns the bar's open time as a time.Time.
func (b Bar) Time() time.Time {
	return time.Unix(b.OpenTime/1000, (b.OpenTime%1000)*int64(time.Millisecond))
}

// Spread is the bar's full high-low range.
func (b Bar) Spread() float64 {
	return b.High - b.Low
}

// ClosePosition is the close's fractional position within the bar's range:
// 0 = closed on the low, 1 = closed on the high. A zero-spread bar reports 0.5.
func (b Bar) ClosePosition() float64 {
	spread := b.Spread()
	if spread <= 0 {
		return 0.5
	}
	return (b.Close - b.Low) / spread
}

// Bullish reports whether the bar closed above its open.
func (b Bar) Bullish() bool {
	return b.Close > b.Open
}

// Validate checks a bar at the ingestion boundary. Malformed bars are
// rejected here and never enter the pipeline.
func (b Bar) Validate() error {
	if b.Symbol == "" {
		return ErrEmptySymbol
	}
	if b.OpenTime <= 0 {
		return ErrZeroTimestamp
	}
	if b.High < b.Low {
		return ErrInvertedRange
	}
	if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 {
		return ErrNonPositivePx
	}
	if b.Volume <= 0 {
		return ErrBadVolume
	}
	if b.Open > b.High || b.Open < b.Low || b.Close > b.High || b.Close < b.Low {
		return ErrPriceOutside
	}
	return nil
}

// ValidateSequence checks a bar against the previously accepted bar for the
// same symbol. Gaps are tolerated; regressions and duplicates are not.
func ValidateSequence(prev, next Bar) error {
	if err := next.Validate(); err != nil {
		return err
	}
	if prev.OpenTime > 0 && next.OpenTime <= prev.OpenTime {
		return fmt.Errorf("%w: prev=%d next=%d", ErrOutOfOrder, prev.OpenTime, next.OpenTime)
	}
	return nil
}
