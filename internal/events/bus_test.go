package events

import (
	"testing"
	"time"
)

func TestPublishToTypedSubscribers(t *testing.T) {
	bus := NewBus()

	var approved, rejected []Event
	bus.Subscribe(EventSignalApproved, func(e Event) { approved = append(approved, e) })
	bus.Subscribe(EventSignalRejected, func(e Event) { rejected = append(rejected, e) })

	bus.Publish(Event{Type: EventSignalApproved, Symbol: "BTCUSD"})
	bus.Publish(Event{Type: EventSignalApproved, Symbol: "ETHUSD"})
	bus.Publish(Event{Type: EventBarRejected, Symbol: "BTCUSD"})

	if len(approved) != 2 {
		t.Errorf("approved subscriber saw %d events, want 2", len(approved))
	}
	if len(rejected) != 0 {
		t.Errorf("rejected subscriber saw %d events, want 0", len(rejected))
	}
	if approved[0].Symbol != "BTCUSD" || approved[1].Symbol != "ETHUSD" {
		t.Errorf("delivery order broken: %+v", approved)
	}
}

func TestPublishToWildcardSubscribers(t *testing.T) {
	bus := NewBus()

	var all []EventType
	bus.SubscribeAll(func(e Event) { all = append(all, e.Type) })
	bus.Subscribe(EventRangeFormed, func(Event) {})

	bus.Publish(Event{Type: EventRangeFormed})
	bus.Publish(Event{Type: EventPhaseTransition})
	bus.Publish(Event{Type: EventCampaignClosed})

	if len(all) != 3 {
		t.Fatalf("wildcard subscriber saw %d events, want 3", len(all))
	}
	want := []EventType{EventRangeFormed, EventPhaseTransition, EventCampaignClosed}
	for i, typ := range want {
		if all[i] != typ {
			t.Errorf("event %d = %s, want %s", i, all[i], typ)
		}
	}
}

func TestPublishStampsTimestamp(t *testing.T) {
	bus := NewBus()

	var got Event
	bus.Subscribe(EventRangeFormed, func(e Event) { got = e })

	bus.Publish(Event{Type: EventRangeFormed})
	if got.Timestamp.IsZero() {
		t.Error("zero timestamp not stamped at publish")
	}

	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	bus.Publish(Event{Type: EventRangeFormed, Timestamp: fixed})
	if !got.Timestamp.Equal(fixed) {
		t.Errorf("explicit timestamp overwritten: %v", got.Timestamp)
	}
}
