package database

import (
	"context"
	"sort"
	"testing"

	"github.com/google/uuid"
)

// The store runs memory-only when no Redis client is given; the read path
// used for startup reconciliation must round-trip through the cache.
func TestCampaignStateStoreRoundTrip(t *testing.T) {
	store := NewRedisCampaignStateStore(nil)
	ctx := context.Background()

	id := uuid.New()
	err := store.Save(ctx, &CampaignSnapshot{
		ID:      id,
		Symbol:  "BTCUSD",
		Cycle:   2,
		Status:  "OPEN",
		OpenBar: 140,
		Signals: 3,
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Save(ctx, &CampaignSnapshot{
		ID:     uuid.New(),
		Symbol: "ETHUSD",
		Cycle:  1,
		Status: "OPEN",
	}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	symbols, err := store.OpenSymbols(ctx)
	if err != nil {
		t.Fatalf("OpenSymbols: %v", err)
	}
	sort.Strings(symbols)
	if len(symbols) != 2 || symbols[0] != "BTCUSD" || symbols[1] != "ETHUSD" {
		t.Fatalf("OpenSymbols = %v, want [BTCUSD ETHUSD]", symbols)
	}

	snap, err := store.Load(ctx, "BTCUSD")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap == nil {
		t.Fatal("Load returned nil for saved symbol")
	}
	if snap.ID != id || snap.Cycle != 2 || snap.OpenBar != 140 || snap.Signals != 3 {
		t.Fatalf("Load = %+v, want saved snapshot", snap)
	}
	if snap.SavedAt.IsZero() {
		t.Fatal("Save did not stamp SavedAt")
	}

	if err := store.Delete(ctx, "BTCUSD"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	snap, err = store.Load(ctx, "BTCUSD")
	if err != nil {
		t.Fatalf("Load after delete: %v", err)
	}
	if snap != nil {
		t.Fatalf("Load after delete = %+v, want nil", snap)
	}
	symbols, _ = store.OpenSymbols(ctx)
	if len(symbols) != 1 || symbols[0] != "ETHUSD" {
		t.Fatalf("OpenSymbols after delete = %v, want [ETHUSD]", symbols)
	}
}

func TestCampaignStateStoreLoadMissing(t *testing.T) {
	store := NewRedisCampaignStateStore(nil)
	snap, err := store.Load(context.Background(), "SOLUSD")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap != nil {
		t.Fatalf("Load = %+v, want nil for unknown symbol", snap)
	}
}
