package signals

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func pendingSignal() *Signal {
	return &Signal{ID: uuid.New(), Symbol: "BTCUSD", Status: StatusPending}
}

func TestSignalTransitions(t *testing.T) {
	tests := []struct {
		name string
		path []Status
		ok   bool
	}{
		{"approve then fill then target", []Status{StatusApproved, StatusFilled, StatusTargetHit}, true},
		{"approve then fill then stop", []Status{StatusApproved, StatusFilled, StatusStopped}, true},
		{"approve then expire unfilled", []Status{StatusApproved, StatusExpired}, true},
		{"fill after expiry window", []Status{StatusApproved, StatusFilled, StatusExpired}, true},
		{"reject pending", []Status{StatusRejected}, true},
		{"fill without approval", []Status{StatusFilled}, false},
		{"reject after approval", []Status{StatusApproved, StatusRejected}, false},
		{"stop without fill", []Status{StatusApproved, StatusStopped}, false},
		{"reopen a rejected signal", []Status{StatusRejected, StatusApproved}, false},
		{"double target hit", []Status{StatusApproved, StatusFilled, StatusTargetHit, StatusTargetHit}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := pendingSignal()
			var err error
			for _, to := range tt.path {
				if err = sig.Transition(to); err != nil {
					break
				}
			}
			if tt.ok && err != nil {
				t.Fatalf("path %v: %v", tt.path, err)
			}
			if !tt.ok {
				if !errors.Is(err, ErrInvalidTransition) {
					t.Fatalf("path %v: got %v, want ErrInvalidTransition", tt.path, err)
				}
			}
		})
	}
}

func TestTransitionFailurePreservesStatus(t *testing.T) {
	sig := pendingSignal()
	if err := sig.Transition(StatusStopped); err == nil {
		t.Fatal("PENDING -> STOPPED allowed")
	}
	if sig.Status != StatusPending {
		t.Errorf("failed transition mutated status to %s", sig.Status)
	}
}

func TestStatusTerminal(t *testing.T) {
	terminal := []Status{StatusRejected, StatusStopped, StatusTargetHit, StatusExpired}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	live := []Status{StatusPending, StatusApproved, StatusFilled}
	for _, s := range live {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
