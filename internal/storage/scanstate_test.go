package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Veraticus/the-bills-must-flow/internal/model"
)

func TestSQLiteStorage_ScanStateFreshDatabase(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	state, err := store.GetScanState(ctx)
	if err != nil {
		t.Fatalf("Failed to get scan state: %v", err)
	}
	if state.HasPending() {
		t.Errorf("Fresh state has pending ids: %v", state.PendingIDs)
	}
	if state.PendingThreads == nil {
		t.Error("Fresh state must have a non-nil thread map")
	}
	if state.NextPageToken != "" || state.Exhausted {
		t.Errorf("Fresh state has cursor data: token=%q exhausted=%v", state.NextPageToken, state.Exhausted)
	}
}

func TestSQLiteStorage_ScanStateRoundtrip(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	windowStart := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	lastScan := time.Date(2025, 6, 1, 9, 4, 0, 0, time.UTC)

	state := &model.ScanState{
		PendingIDs:       []string{"msg-1", "msg-2"},
		PendingThreads:   map[string]string{"msg-1": "thr-1", "msg-2": "thr-2"},
		NextPageToken:    "page-token-3",
		Exhausted:        false,
		BurstCount:       2,
		BurstWindowStart: windowStart,
		LastError:        "transient fetch failure",
		LastScanAt:       lastScan,
	}
	if err := store.SaveScanState(ctx, state); err != nil {
		t.Fatalf("Failed to save scan state: %v", err)
	}

	got, err := store.GetScanState(ctx)
	if err != nil {
		t.Fatalf("Failed to get scan state: %v", err)
	}
	if len(got.PendingIDs) != 2 || got.PendingIDs[0] != "msg-1" {
		t.Errorf("PendingIDs = %v, want [msg-1 msg-2]", got.PendingIDs)
	}
	if got.PendingThreads["msg-2"] != "thr-2" {
		t.Errorf("PendingThreads = %v, want msg-2 -> thr-2", got.PendingThreads)
	}
	if got.NextPageToken != "page-token-3" {
		t.Errorf("NextPageToken = %q, want page-token-3", got.NextPageToken)
	}
	if got.BurstCount != 2 {
		t.Errorf("BurstCount = %d, want 2", got.BurstCount)
	}
	if !got.BurstWindowStart.Equal(windowStart) {
		t.Errorf("BurstWindowStart = %v, want %v", got.BurstWindowStart, windowStart)
	}
	if got.LastError != "transient fetch failure" {
		t.Errorf("LastError = %q", got.LastError)
	}
	if !got.LastScanAt.Equal(lastScan) {
		t.Errorf("LastScanAt = %v, want %v", got.LastScanAt, lastScan)
	}

	// Saving again replaces the single row rather than accumulating.
	state.PendingIDs = nil
	state.Exhausted = true
	state.LastError = ""
	if err := store.SaveScanState(ctx, state); err != nil {
		t.Fatalf("Failed to re-save scan state: %v", err)
	}
	got, err = store.GetScanState(ctx)
	if err != nil {
		t.Fatalf("Failed to re-get scan state: %v", err)
	}
	if got.HasPending() || !got.Exhausted || got.LastError != "" {
		t.Errorf("Updated state = %+v, want drained and exhausted", got)
	}
}

func TestSQLiteStorage_SaveScanStateNil(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()

	if err := store.SaveScanState(context.Background(), nil); err == nil {
		t.Error("Expected error for nil state")
	}
}

func TestSQLiteStorage_MarkProcessed(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.MarkProcessed(ctx, "msg-1", "msg-2"); err != nil {
		t.Fatalf("Failed to mark processed: %v", err)
	}

	processed, err := store.IsProcessed(ctx, "msg-1")
	if err != nil {
		t.Fatalf("Failed to check processed: %v", err)
	}
	if !processed {
		t.Error("msg-1 should be processed")
	}

	processed, err = store.IsProcessed(ctx, "msg-3")
	if err != nil {
		t.Fatalf("Failed to check processed: %v", err)
	}
	if processed {
		t.Error("msg-3 should not be processed")
	}

	// Marking again is idempotent.
	if err := store.MarkProcessed(ctx, "msg-1"); err != nil {
		t.Fatalf("Failed to re-mark processed: %v", err)
	}

	// No ids is a no-op.
	if err := store.MarkProcessed(ctx); err != nil {
		t.Errorf("Empty mark should succeed, got %v", err)
	}
}

func TestSQLiteStorage_MarkProcessedEviction(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	ids := make([]string, model.MaxProcessedIDs+10)
	for i := range ids {
		ids[i] = fmt.Sprintf("msg-%04d", i)
	}
	if err := store.MarkProcessed(ctx, ids...); err != nil {
		t.Fatalf("Failed to mark processed: %v", err)
	}

	var count int
	if err := store.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM processed_ids`).Scan(&count); err != nil {
		t.Fatalf("Failed to count processed ids: %v", err)
	}
	if count != model.MaxProcessedIDs {
		t.Errorf("Processed id count = %d, want %d", count, model.MaxProcessedIDs)
	}

	// The oldest entries go first.
	processed, err := store.IsProcessed(ctx, "msg-0000")
	if err != nil {
		t.Fatalf("Failed to check processed: %v", err)
	}
	if processed {
		t.Error("Oldest id should have been evicted")
	}
	processed, err = store.IsProcessed(ctx, ids[len(ids)-1])
	if err != nil {
		t.Fatalf("Failed to check processed: %v", err)
	}
	if !processed {
		t.Error("Newest id should survive eviction")
	}
}
