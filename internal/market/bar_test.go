package market

import (
	"errors"
	"math"
	"testing"
)

func validBar() Bar {
	return Bar{
		Symbol:    "BTCUSD",
		Timeframe: "1h",
		OpenTime:  1700000000000,
		Open:      100,
		High:      102,
		Low:       99,
		Close:     101,
		Volume:    1500,
	}
}

func TestBarValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Bar)
		wantErr error
	}{
		{"valid", func(b *Bar) {}, nil},
		{"empty symbol", func(b *Bar) { b.Symbol = "" }, ErrEmptySymbol},
		{"zero timestamp", func(b *Bar) { b.OpenTime = 0 }, ErrZeroTimestamp},
		{"negative timestamp", func(b *Bar) { b.OpenTime = -5 }, ErrZeroTimestamp},
		{"inverted range", func(b *Bar) { b.High = 98; b.Open = 98; b.Close = 98 }, ErrInvertedRange},
		{"zero volume", func(b *Bar) { b.Volume = 0 }, ErrBadVolume},
		{"negative volume", func(b *Bar) { b.Volume = -10 }, ErrBadVolume},
		{"non-positive price", func(b *Bar) { b.Open = 0 }, ErrNonPositivePx},
		{"close above high", func(b *Bar) { b.Close = 103 }, ErrPriceOutside},
		{"open below low", func(b *Bar) { b.Open = 98.5 }, ErrPriceOutside},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := validBar()
			tt.mutate(&b)
			err := b.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateSequence(t *testing.T) {
	prev := validBar()

	next := validBar()
	next.OpenTime = prev.OpenTime + 3600_000
	if err := ValidateSequence(prev, next); err != nil {
		t.Fatalf("in-order bar rejected: %v", err)
	}

	// Gaps are tolerated.
	next.OpenTime = prev.OpenTime + 10*3600_000
	if err := ValidateSequence(prev, next); err != nil {
		t.Fatalf("gapped bar rejected: %v", err)
	}

	dup := validBar()
	if err := ValidateSequence(prev, dup); !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("duplicate timestamp: got %v, want ErrOutOfOrder", err)
	}

	old := validBar()
	old.OpenTime = prev.OpenTime - 1
	if err := ValidateSequence(prev, old); !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("regressed timestamp: got %v, want ErrOutOfOrder", err)
	}

	// A malformed bar fails its own validation before ordering.
	bad := validBar()
	bad.OpenTime = prev.OpenTime + 1
	bad.Volume = 0
	if err := ValidateSequence(prev, bad); !errors.Is(err, ErrBadVolume) {
		t.Fatalf("malformed bar: got %v, want ErrBadVolume", err)
	}

	// First bar of a symbol: zero-value prev imposes no ordering constraint.
	first := validBar()
	if err := ValidateSequence(Bar{}, first); err != nil {
		t.Fatalf("first bar rejected: %v", err)
	}
}

func TestClosePosition(t *testing.T) {
	b := Bar{High: 102, Low: 100, Close: 101.5}
	if got := b.ClosePosition(); math.Abs(got-0.75) > 1e-9 {
		t.Errorf("ClosePosition() = %v, want 0.75", got)
	}

	b.Close = 100
	if got := b.ClosePosition(); got != 0 {
		t.Errorf("close on low: got %v, want 0", got)
	}

	// Zero-spread bars report the midpoint.
	flat := Bar{High: 100, Low: 100, Close: 100}
	if got := flat.ClosePosition(); got != 0.5 {
		t.Errorf("zero-spread bar: got %v, want 0.5", got)
	}
}
