// Package syncer reconciles the local queue against the ledger backend's
// authoritative pipeline view.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/the-bills-must-flow/internal/common"
	"github.com/Veraticus/the-bills-must-flow/internal/model"
	"github.com/Veraticus/the-bills-must-flow/internal/service"
)

// Notifier is invoked once per item whose status changed during a sync.
type Notifier func(item *model.QueueItem, previous model.Status)

// Config holds sync tunables.
type Config struct {
	// OrgID scopes the backend snapshot request.
	OrgID string
	// Interval is the period between reconciliation passes in Run.
	Interval time.Duration
}

// Result summarizes one reconciliation pass.
type Result struct {
	Matched    int
	Changed    int
	Backfilled int
}

// Syncer pulls the backend snapshot and overlays it onto local queue
// items. The backend is authoritative for status; local extraction is
// authoritative for fields unless a field is empty.
type Syncer struct {
	store  service.Storage
	ledger service.LedgerBackend
	clock  service.Clock
	notify Notifier
	config Config

	mu         sync.Mutex
	offline    bool
	lastError  string
	lastSyncAt time.Time
	stopOnce   sync.Once
	stopCh     chan struct{}
}

// New creates a syncer. notify may be nil. clock may be nil, in which
// case the system clock is used.
func New(store service.Storage, ledger service.LedgerBackend, clock service.Clock, notify Notifier, config Config) *Syncer {
	if clock == nil {
		clock = service.RealClock{}
	}
	if config.Interval <= 0 {
		config.Interval = 5 * time.Minute
	}
	return &Syncer{
		store:  store,
		ledger: ledger,
		clock:  clock,
		notify: notify,
		config: config,
		stopCh: make(chan struct{}),
	}
}

// Offline reports whether the last snapshot fetch failed.
func (s *Syncer) Offline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offline
}

// LastSync returns the time of the last successful pass and the last
// error message, if any.
func (s *Syncer) LastSync() (time.Time, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSyncAt, s.lastError
}

// Run reconciles immediately and then on every interval tick until the
// context is cancelled or Stop is called. Sync failures are logged and
// retried on the next tick.
func (s *Syncer) Run(ctx context.Context) {
	for {
		if _, err := s.SyncOnce(ctx); err != nil {
			slog.Error("Sync failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-s.clock.After(s.config.Interval):
		}
	}
}

// Stop ends a running Run loop.
func (s *Syncer) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// SyncOnce performs a single reconciliation pass.
func (s *Syncer) SyncOnce(ctx context.Context) (*Result, error) {
	snapshot, err := s.ledger.GetPipelineSnapshot(ctx, s.config.OrgID)
	if err != nil {
		s.mu.Lock()
		s.offline = true
		s.lastError = err.Error()
		s.mu.Unlock()
		return nil, common.NewSyncError(fmt.Errorf("failed to fetch pipeline snapshot: %w", err))
	}

	byRef := make(map[string]service.SnapshotItem, len(snapshot))
	for _, row := range snapshot {
		byRef[row.ID] = row
	}

	items, err := s.store.ListQueue(ctx)
	if err != nil {
		return nil, common.NewSyncError(fmt.Errorf("failed to list queue: %w", err))
	}

	result := &Result{}
	for i := range items {
		item := &items[i]
		row, ok := s.lookup(byRef, item)
		if !ok {
			continue
		}
		result.Matched++

		changed, backfilled := s.reconcile(item, row)
		if !changed && !backfilled {
			continue
		}
		if backfilled {
			result.Backfilled++
		}

		previous := model.Status("")
		if changed {
			previous = s.applyBackendStatus(item, row)
			result.Changed++
		}
		if err := s.store.SaveQueueItem(ctx, item); err != nil {
			return nil, common.NewSyncError(fmt.Errorf("failed to save synced item %s: %w", item.Message.ID, err))
		}
		if changed && s.notify != nil {
			s.notify(item, previous)
		}
	}

	now := s.clock.Now()
	s.mu.Lock()
	s.offline = false
	s.lastError = ""
	s.lastSyncAt = now
	s.mu.Unlock()

	slog.Info("Sync complete",
		"snapshot", len(snapshot),
		"matched", result.Matched,
		"changed", result.Changed,
		"backfilled", result.Backfilled)

	return result, nil
}

// lookup matches a local item to a snapshot row by ledger ref, then by
// approval ref.
func (s *Syncer) lookup(byRef map[string]service.SnapshotItem, item *model.QueueItem) (service.SnapshotItem, bool) {
	if item.LedgerRef != "" {
		if row, ok := byRef[item.LedgerRef]; ok {
			return row, true
		}
	}
	if item.ApprovalRef != "" {
		if row, ok := byRef[item.ApprovalRef]; ok {
			return row, true
		}
	}
	return service.SnapshotItem{}, false
}

// reconcile backfills empty local fields from the snapshot row and
// reports whether the backend status diverges from the local one. Local
// extraction results are never overwritten.
func (s *Syncer) reconcile(item *model.QueueItem, row service.SnapshotItem) (changed, backfilled bool) {
	if item.Fields.Vendor == "" && row.Vendor != "" {
		item.Fields.Vendor = row.Vendor
		backfilled = true
	}
	if item.Fields.Amount == nil && row.Amount != 0 {
		amount := row.Amount
		item.Fields.Amount = &amount
		backfilled = true
	}
	if item.Fields.Currency == "" && row.Currency != "" {
		item.Fields.Currency = row.Currency
		backfilled = true
	}
	if item.Fields.InvoiceNumber == "" && row.InvoiceNumber != "" {
		item.Fields.InvoiceNumber = row.InvoiceNumber
		backfilled = true
	}

	status, ok := mapBackendStatus(row.Status)
	changed = ok && status != item.Status
	return changed, backfilled
}

// applyBackendStatus overwrites the local status with the backend's and
// records the override in the item's history. The backend wins even when
// the local state machine would not allow the transition.
func (s *Syncer) applyBackendStatus(item *model.QueueItem, row service.SnapshotItem) model.Status {
	previous := item.Status
	status, _ := mapBackendStatus(row.Status)

	item.Status = status
	item.UpdatedAt = s.clock.Now()
	item.StatusHistory = append(item.StatusHistory, model.StatusEntry{
		ID:        uuid.NewString(),
		Status:    status,
		Source:    model.SourceBackend,
		Note:      fmt.Sprintf("backend status %q", row.Status),
		Timestamp: item.UpdatedAt,
	})

	slog.Info("Backend status override",
		"id", item.Message.ID,
		"from", previous,
		"to", status)

	return previous
}

// mapBackendStatus translates backend status strings to local statuses.
// Unknown strings are ignored rather than guessed at.
func mapBackendStatus(status string) (model.Status, bool) {
	switch status {
	case "pending_approval", "awaiting_approval":
		return model.StatusPendingApproval, true
	case "approved", "auto_approved":
		return model.StatusApproved, true
	case "posted":
		return model.StatusPosted, true
	case "paid", "settled":
		return model.StatusPaid, true
	case "rejected", "declined":
		return model.StatusRejected, true
	default:
		return "", false
	}
}
