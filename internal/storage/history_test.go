package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Veraticus/the-bills-must-flow/internal/model"
)

func TestSQLiteStorage_ProcessedHistoryRoundtrip(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	entry := &model.ProcessedEntry{
		ID:            "msg-1",
		Vendor:        "Initech LLC",
		Amount:        1250.00,
		InvoiceNumber: "INV-2201",
		ProcessedAt:   time.Now().Add(-time.Hour),
	}
	if err := store.AddProcessedHistory(ctx, entry); err != nil {
		t.Fatalf("Failed to add history: %v", err)
	}

	entries, err := store.ListProcessedHistory(ctx)
	if err != nil {
		t.Fatalf("Failed to list history: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("History len = %d, want 1", len(entries))
	}
	if entries[0].Vendor != "Initech LLC" || entries[0].Amount != 1250.00 {
		t.Errorf("Entry = %+v", entries[0])
	}
	if entries[0].InvoiceNumber != "INV-2201" {
		t.Errorf("InvoiceNumber = %q, want INV-2201", entries[0].InvoiceNumber)
	}
}

func TestSQLiteStorage_ProcessedHistoryNewestFirst(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	base := time.Now().Add(-48 * time.Hour)
	for i := 0; i < 3; i++ {
		entry := &model.ProcessedEntry{
			ID:          fmt.Sprintf("msg-%d", i),
			Vendor:      "Acme",
			ProcessedAt: base.Add(time.Duration(i) * time.Hour),
		}
		if err := store.AddProcessedHistory(ctx, entry); err != nil {
			t.Fatalf("Failed to add history: %v", err)
		}
	}

	entries, err := store.ListProcessedHistory(ctx)
	if err != nil {
		t.Fatalf("Failed to list history: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("History len = %d, want 3", len(entries))
	}
	for i, want := range []string{"msg-2", "msg-1", "msg-0"} {
		if entries[i].ID != want {
			t.Errorf("Position %d = %q, want %q", i, entries[i].ID, want)
		}
	}
}

func TestSQLiteStorage_ProcessedHistoryWindowPrune(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	stale := &model.ProcessedEntry{
		ID:          "msg-old",
		Vendor:      "Acme",
		ProcessedAt: time.Now().Add(-model.ProcessedHistoryWindow - 24*time.Hour),
	}
	if err := store.AddProcessedHistory(ctx, stale); err != nil {
		t.Fatalf("Failed to add stale entry: %v", err)
	}

	fresh := &model.ProcessedEntry{
		ID:          "msg-new",
		Vendor:      "Acme",
		ProcessedAt: time.Now().Add(-time.Hour),
	}
	if err := store.AddProcessedHistory(ctx, fresh); err != nil {
		t.Fatalf("Failed to add fresh entry: %v", err)
	}

	entries, err := store.ListProcessedHistory(ctx)
	if err != nil {
		t.Fatalf("Failed to list history: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != "msg-new" {
		t.Errorf("Entries = %+v, want only msg-new", entries)
	}
}

func TestSQLiteStorage_ProcessedHistoryCapEviction(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	base := time.Now().Add(-72 * time.Hour)
	for i := 0; i < model.MaxProcessedHistory+5; i++ {
		entry := &model.ProcessedEntry{
			ID:          fmt.Sprintf("msg-%04d", i),
			Vendor:      "Acme",
			ProcessedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := store.AddProcessedHistory(ctx, entry); err != nil {
			t.Fatalf("Failed to add history: %v", err)
		}
	}

	entries, err := store.ListProcessedHistory(ctx)
	if err != nil {
		t.Fatalf("Failed to list history: %v", err)
	}
	if len(entries) != model.MaxProcessedHistory {
		t.Fatalf("History len = %d, want %d", len(entries), model.MaxProcessedHistory)
	}
	if entries[len(entries)-1].ID == "msg-0000" {
		t.Error("Oldest entry should have been evicted")
	}
}

func TestSQLiteStorage_AddProcessedHistoryValidation(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.AddProcessedHistory(ctx, nil); !errors.Is(err, ErrNilParameter) {
		t.Errorf("Expected ErrNilParameter, got %v", err)
	}
	if err := store.AddProcessedHistory(ctx, &model.ProcessedEntry{ProcessedAt: time.Now()}); !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("Expected ErrInvalidEntry for missing id, got %v", err)
	}
	if err := store.AddProcessedHistory(ctx, &model.ProcessedEntry{ID: "x"}); !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("Expected ErrInvalidEntry for missing timestamp, got %v", err)
	}
}
