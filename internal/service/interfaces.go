// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/the-bills-must-flow/internal/model"
)

// CandidateRef is a lightweight discovery result: just enough to decide
// whether a message needs fetching.
type CandidateRef struct {
	ID       string
	ThreadID string
}

// MailSource is the provider-side boundary. Implementations normalize raw
// provider payloads into canonical model types at this boundary; alternate
// field shapes must never escape it.
type MailSource interface {
	SearchCandidates(ctx context.Context, query, pageToken string, maxResults int64) ([]CandidateRef, string, error)
	FetchMessageMetadata(ctx context.Context, id string) (*model.CandidateMessage, error)
	// Label operations are best-effort; failures must not affect pipeline
	// correctness.
	ApplyLabel(ctx context.Context, targetID, label string) error
	RemoveLabel(ctx context.Context, targetID, label string) error
}

// SubmitResult is the approval backend's answer to a submission.
type SubmitResult struct {
	Status      string // "auto_approved" or "pending_approval"
	LedgerRef   string
	ApprovalRef string
}

// SnapshotItem is one row of the backend's authoritative pipeline view.
type SnapshotItem struct {
	UpdatedAt     time.Time
	ID            string
	Status        string
	Vendor        string
	Currency      string
	InvoiceNumber string
	Amount        float64
}

// LedgerBackend is the approval/posting boundary. All calls may fail
// transiently; no failure here is fatal to the pipeline.
type LedgerBackend interface {
	SubmitForApproval(ctx context.Context, item *model.QueueItem) (*SubmitResult, error)
	ApproveAndPost(ctx context.Context, item *model.QueueItem) (string, error)
	RejectInvoice(ctx context.Context, item *model.QueueItem, reason string) error
	// LegacyPost is the fallback posting path used when ApproveAndPost fails.
	LegacyPost(ctx context.Context, item *model.QueueItem) (string, error)
	GetPipelineSnapshot(ctx context.Context, orgID string) ([]SnapshotItem, error)
}

// Storage defines the contract for our persistence layer.
type Storage interface {
	// Queue operations
	SaveQueueItem(ctx context.Context, item *model.QueueItem) error
	GetQueueItem(ctx context.Context, id string) (*model.QueueItem, error)
	GetQueueItemByThread(ctx context.Context, threadID string) (*model.QueueItem, error)
	ListQueue(ctx context.Context) ([]model.QueueItem, error)
	DeleteQueueItem(ctx context.Context, id string) error

	// Scan state
	GetScanState(ctx context.Context) (*model.ScanState, error)
	SaveScanState(ctx context.Context, state *model.ScanState) error

	// Processed ids (capped FIFO set)
	MarkProcessed(ctx context.Context, ids ...string) error
	IsProcessed(ctx context.Context, id string) (bool, error)

	// Processed history (rolling duplicate-detection window)
	AddProcessedHistory(ctx context.Context, entry *model.ProcessedEntry) error
	ListProcessedHistory(ctx context.Context) ([]model.ProcessedEntry, error)

	// Known vendors
	GetKnownVendors(ctx context.Context) ([]model.KnownVendor, error)
	SaveKnownVendor(ctx context.Context, vendor *model.KnownVendor) error

	// Database management
	Migrate(ctx context.Context) error
	Close() error
}

// Clock abstracts time so scheduler behavior is testable without real
// timers.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
