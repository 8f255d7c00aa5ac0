package state

import (
	"context"
	"testing"
	"time"

	"launch-ladder-bot/internal/state/sqlite"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPositionSnapshotRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	snapshot := PositionSnapshot{
		ID:            "pos-1",
		Token:         "0x4444444444444444444444444444444444444444",
		Symbol:        "MCAT",
		EntryPriceETH: 1.0,
		OriginalSize:  1000,
		RemainingSize: 750,
		TotalSold:     250,
		RealizedPnL:   0.375,
		LevelsHit:     []int{0},
		UpdatedAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := SavePositionSnapshot(ctx, store, snapshot); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := LoadPositionSnapshots(ctx, store)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(loaded))
	}
	got := loaded[0]
	if got.ID != snapshot.ID || got.Token != snapshot.Token || got.RemainingSize != 750 {
		t.Fatalf("unexpected snapshot: %+v", got)
	}
	if len(got.LevelsHit) != 1 || got.LevelsHit[0] != 0 {
		t.Fatalf("unexpected levels: %v", got.LevelsHit)
	}
	if !got.UpdatedAt.Equal(snapshot.UpdatedAt) {
		t.Fatalf("unexpected timestamp: %v", got.UpdatedAt)
	}
}

func TestPositionSnapshotOverwrite(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	snapshot := PositionSnapshot{ID: "pos-1", Token: "0xaa", RemainingSize: 1000}
	if err := SavePositionSnapshot(ctx, store, snapshot); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	snapshot.RemainingSize = 500
	if err := SavePositionSnapshot(ctx, store, snapshot); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := LoadPositionSnapshots(ctx, store)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(loaded) != 1 || loaded[0].RemainingSize != 500 {
		t.Fatalf("expected single updated snapshot, got %+v", loaded)
	}
}

func TestPositionSnapshotDelete(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := SavePositionSnapshot(ctx, store, PositionSnapshot{ID: "pos-1", Token: "0xaa"}); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := DeletePositionSnapshot(ctx, store, "0xaa"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	loaded, err := LoadPositionSnapshots(ctx, store)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(loaded) != 0 {
		t.Fatalf("expected empty journal, got %d entries", len(loaded))
	}
}

func TestPositionSnapshotNilStore(t *testing.T) {
	ctx := context.Background()
	if err := SavePositionSnapshot(ctx, nil, PositionSnapshot{}); err != nil {
		t.Fatalf("expected nil store save to no-op, got %v", err)
	}
	loaded, err := LoadPositionSnapshots(ctx, nil)
	if err != nil || loaded != nil {
		t.Fatalf("expected nil store load to no-op, got %v %v", loaded, err)
	}
}
