// Package engine implements the triage loop and the decision state
// machine that routes candidates to auto-approval, human review, or
// rejection.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/the-bills-must-flow/internal/common"
	"github.com/Veraticus/the-bills-must-flow/internal/model"
	"github.com/Veraticus/the-bills-must-flow/internal/service"
)

// Labels applied to source messages, best-effort.
const (
	LabelQueued = "bills/queued"
	LabelNoise  = "bills/noise"
	LabelPosted = "bills/posted"
)

// Config holds configuration options for the triage engine.
type Config struct {
	// AutoApproveThreshold is the effective confidence at or above which a
	// non-duplicate item is submitted for auto-approval.
	AutoApproveThreshold float64
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		AutoApproveThreshold: 0.95,
	}
}

// Engine coordinates classification, extraction, duplicate detection, and
// the decision state machine for one candidate at a time.
type Engine struct {
	storage    service.Storage
	mail       service.MailSource
	ledger     service.LedgerBackend
	classifier Classifier
	extractor  Extractor
	detector   DuplicateFinder
	advisor    Advisor
	effects    LabelEffects
	config     Config
}

// New creates a triage engine. advisor may be nil; effects may be nil.
func New(storage service.Storage, mail service.MailSource, ledger service.LedgerBackend,
	classifier Classifier, extractor Extractor, detector DuplicateFinder,
	advisor Advisor, effects LabelEffects, config Config) *Engine {
	if config.AutoApproveThreshold <= 0 {
		config.AutoApproveThreshold = DefaultConfig().AutoApproveThreshold
	}
	if effects == nil {
		effects = noopEffects{}
	}
	return &Engine{
		storage:    storage,
		mail:       mail,
		ledger:     ledger,
		classifier: classifier,
		extractor:  extractor,
		detector:   detector,
		advisor:    advisor,
		effects:    effects,
		config:     config,
	}
}

// Outcome is what triage did with one candidate.
type Outcome string

// Triage outcomes.
const (
	OutcomeQueued        Outcome = "queued"
	OutcomeAutoSubmitted Outcome = "auto_submitted"
	OutcomeRejected      Outcome = "rejected"
	OutcomeDropped       Outcome = "dropped"
	OutcomeSkipped       Outcome = "skipped"
)

// BatchResult summarizes one triage batch.
type BatchResult struct {
	FailedID      string // Candidate that aborted the batch, if any
	Processed     []string
	Queued        int
	AutoSubmitted int
	Rejected      int
	Dropped       int
	Skipped       int
}

// TriageBatch processes candidates sequentially. On a triage failure the
// remainder of the batch is aborted; results from earlier candidates are
// kept and the returned error wraps the failing candidate's id. progress
// may be nil.
func (e *Engine) TriageBatch(ctx context.Context, ids []string, progress func()) (*BatchResult, error) {
	result := &BatchResult{}

	for _, id := range ids {
		select {
		case <-ctx.Done():
			// The interrupted candidate is reported as failed so the
			// caller can retry it on the next run.
			result.FailedID = id
			return result, ctx.Err()
		default:
		}

		outcome, err := e.TriageOne(ctx, id)
		if err != nil {
			result.FailedID = id
			return result, common.NewTriageError(id, err)
		}

		result.Processed = append(result.Processed, id)
		switch outcome {
		case OutcomeQueued:
			result.Queued++
		case OutcomeAutoSubmitted:
			result.AutoSubmitted++
		case OutcomeRejected:
			result.Rejected++
		case OutcomeDropped:
			result.Dropped++
		case OutcomeSkipped:
			result.Skipped++
		}
		if progress != nil {
			progress()
		}
	}

	return result, nil
}

// TriageOne classifies, extracts, duplicate-checks, and decides a single
// candidate. Insertion is idempotent: a candidate already queued (by id or
// thread) is skipped.
func (e *Engine) TriageOne(ctx context.Context, id string) (Outcome, error) {
	if existing, err := e.storage.GetQueueItem(ctx, id); err == nil && existing != nil {
		slog.Debug("Candidate already queued, skipping", "id", id)
		return OutcomeSkipped, nil
	} else if err != nil && !errors.Is(err, common.ErrNotFound) {
		return "", fmt.Errorf("failed to check queue: %w", err)
	}

	msg, err := e.mail.FetchMessageMetadata(ctx, id)
	if err != nil {
		return "", fmt.Errorf("failed to fetch message: %w", err)
	}

	if msg.ThreadID != "" {
		if existing, err := e.storage.GetQueueItemByThread(ctx, msg.ThreadID); err == nil && existing != nil {
			slog.Debug("Thread already queued, skipping", "id", id, "thread_id", msg.ThreadID)
			return OutcomeSkipped, nil
		} else if err != nil && !errors.Is(err, common.ErrNotFound) {
			return "", fmt.Errorf("failed to check queue by thread: %w", err)
		}
	}

	// Quick pass drops obvious noise before the expensive work.
	quick := e.classifier.Quick(msg)
	if quick.Type == model.DocNoise {
		return e.drop(ctx, msg, quick)
	}

	classification := e.classifier.Deep(msg)
	if classification.Type == model.DocNoise {
		return e.drop(ctx, msg, classification)
	}

	fields := e.extractor.Extract(msg)

	queue, err := e.storage.ListQueue(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to load queue for duplicate check: %w", err)
	}
	history, err := e.storage.ListProcessedHistory(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to load history for duplicate check: %w", err)
	}
	duplicate := e.detector.Find(&fields, queue, history)

	item := &model.QueueItem{
		Message:        *msg,
		Fields:         fields,
		Classification: classification,
		Duplicate:      duplicate,
	}
	e.appendStatus(item, model.StatusNew, model.SourcePipeline, "")

	var advice *Advice
	if e.advisor != nil {
		advice, err = e.advisor.Advise(ctx, item)
		if err != nil {
			slog.Warn("Advisor failed, falling back to local rules", "id", id, "error", err)
			advice = nil
		}
	}

	outcome, err := e.decide(ctx, item, advice)
	if err != nil {
		return "", err
	}

	if err := e.storage.SaveQueueItem(ctx, item); err != nil {
		return "", fmt.Errorf("failed to save queue item: %w", err)
	}
	if outcome == OutcomeQueued {
		e.effects.Apply(msg.ID, LabelQueued)
	}

	slog.Info("Triaged candidate",
		"id", id,
		"type", classification.Type,
		"confidence", classification.Confidence,
		"duplicate", duplicate.IsDuplicate,
		"status", item.Status)

	return outcome, nil
}

// drop marks a noise candidate processed without queueing it.
func (e *Engine) drop(ctx context.Context, msg *model.CandidateMessage, c model.ClassificationResult) (Outcome, error) {
	if err := e.storage.MarkProcessed(ctx, msg.ID); err != nil {
		return "", fmt.Errorf("failed to mark processed: %w", err)
	}
	e.effects.Apply(msg.ID, LabelNoise)
	slog.Debug("Dropped noise candidate",
		"id", msg.ID,
		"conversation_score", c.ConversationScore)
	return OutcomeDropped, nil
}

// decide applies the decision precedence. The first matching rule wins;
// once an upstream decision exists, local confidence is irrelevant.
func (e *Engine) decide(ctx context.Context, item *model.QueueItem, advice *Advice) (Outcome, error) {
	if advice != nil {
		switch advice.Action {
		case AdviceReject:
			e.appendStatus(item, model.StatusRejected, model.SourcePipeline, advice.Reason)
			return OutcomeRejected, nil
		case AdviceAutoApprove:
			if !item.Duplicate.IsDuplicate {
				return e.submitForAutoApproval(ctx, item), nil
			}
		case AdviceSendForApproval:
			e.submitForReview(ctx, item)
			return OutcomeQueued, nil
		}
	}

	if item.EffectiveConfidence() >= e.config.AutoApproveThreshold && !item.Duplicate.IsDuplicate {
		return e.submitForAutoApproval(ctx, item), nil
	}

	e.appendStatus(item, model.StatusPendingApproval, model.SourcePipeline, "")
	return OutcomeQueued, nil
}

// submitForAutoApproval submits an item on the high-confidence path. A
// posting failure falls back to the legacy path; if that also fails the
// item lands in human review with the failure reason attached rather than
// being dropped.
func (e *Engine) submitForAutoApproval(ctx context.Context, item *model.QueueItem) Outcome {
	res, err := e.ledger.SubmitForApproval(ctx, item)
	if err != nil {
		e.parkForReview(item, common.NewPostingError(item.Message.ID, err))
		return OutcomeQueued
	}

	item.LedgerRef = res.LedgerRef
	item.ApprovalRef = res.ApprovalRef

	if res.Status != "auto_approved" {
		e.appendStatus(item, model.StatusPendingApproval, model.SourcePipeline, "")
		return OutcomeQueued
	}

	e.appendStatus(item, model.StatusApproved, model.SourcePipeline, "")

	billID, err := e.ledger.ApproveAndPost(ctx, item)
	if err != nil {
		slog.Warn("Posting failed, trying legacy path",
			"id", item.Message.ID, "error", err)
		billID, err = e.ledger.LegacyPost(ctx, item)
	}
	if err != nil {
		e.parkForReview(item, common.NewPostingError(item.Message.ID, err))
		return OutcomeQueued
	}

	item.LedgerRef = billID
	e.appendStatus(item, model.StatusPosted, model.SourcePipeline, "")
	e.effects.Apply(item.Message.ID, LabelPosted)
	return OutcomeAutoSubmitted
}

// submitForReview submits through the approval channel; on success the
// item is tracked as PENDING_APPROVAL, on failure it still enters review
// locally with the failure reason attached.
func (e *Engine) submitForReview(ctx context.Context, item *model.QueueItem) {
	res, err := e.ledger.SubmitForApproval(ctx, item)
	if err != nil {
		e.parkForReview(item, common.NewPostingError(item.Message.ID, err))
		return
	}
	item.LedgerRef = res.LedgerRef
	item.ApprovalRef = res.ApprovalRef
	e.appendStatus(item, model.StatusPendingApproval, model.SourcePipeline, "")
}

// parkForReview routes an item into human review after a backend failure.
func (e *Engine) parkForReview(item *model.QueueItem, cause error) {
	common.LogError(cause, "Backend call failed, routing to review", common.Fields{
		"id": item.Message.ID,
	})
	item.FailureReason = cause.Error()
	e.appendStatus(item, model.StatusPendingApproval, model.SourcePipeline, cause.Error())
}

// appendStatus records a transition. Illegal transitions are refused and
// logged; the initial NEW entry is always allowed.
func (e *Engine) appendStatus(item *model.QueueItem, status model.Status, source model.StatusSource, note string) {
	if item.Status != "" {
		if item.Status == status {
			return
		}
		if !model.CanTransition(item.Status, status) {
			slog.Error("Refusing illegal status transition",
				"id", item.Message.ID,
				"from", item.Status,
				"to", status)
			return
		}
	}
	item.Status = status
	item.StatusHistory = append(item.StatusHistory, model.StatusEntry{
		ID:        uuid.NewString(),
		Status:    status,
		Source:    source,
		Note:      note,
		Timestamp: time.Now(),
	})
}

// Reject marks an item REJECTED on the operator's behalf. When the item
// already holds an approval ref the backend approval is rejected too, so
// the two sides cannot disagree about a bill the operator turned down.
func (e *Engine) Reject(ctx context.Context, id, reason string) error {
	item, err := e.storage.GetQueueItem(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load item: %w", err)
	}
	if !model.CanTransition(item.Status, model.StatusRejected) {
		return fmt.Errorf("item %s is %s and cannot be rejected", id, item.Status)
	}
	if item.ApprovalRef != "" {
		if err := e.ledger.RejectInvoice(ctx, item, reason); err != nil {
			return fmt.Errorf("failed to reject approval: %w", err)
		}
	}
	e.appendStatus(item, model.StatusRejected, model.SourceUser, reason)
	return e.storage.SaveQueueItem(ctx, item)
}

// Reopen moves a REJECTED item back into review. It is the only re-open
// transition in the state machine.
func (e *Engine) Reopen(ctx context.Context, id string) error {
	item, err := e.storage.GetQueueItem(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load item: %w", err)
	}
	if item.Status != model.StatusRejected {
		return fmt.Errorf("item %s is %s, only REJECTED items can be reopened", id, item.Status)
	}
	e.appendStatus(item, model.StatusPendingApproval, model.SourceUser, "reopened")
	return e.storage.SaveQueueItem(ctx, item)
}

// Dismiss removes an item from the live queue, marks the candidate
// processed, and records it in the duplicate-detection history window.
func (e *Engine) Dismiss(ctx context.Context, id string) error {
	item, err := e.storage.GetQueueItem(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load item: %w", err)
	}

	var amount float64
	if item.Fields.Amount != nil {
		amount = *item.Fields.Amount
	}
	entry := &model.ProcessedEntry{
		ID:            item.Message.ID,
		Vendor:        item.Fields.Vendor,
		Amount:        amount,
		InvoiceNumber: item.Fields.InvoiceNumber,
		ProcessedAt:   time.Now(),
	}

	if err := e.storage.DeleteQueueItem(ctx, id); err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	if err := e.storage.AddProcessedHistory(ctx, entry); err != nil {
		return fmt.Errorf("failed to record history: %w", err)
	}
	if err := e.storage.MarkProcessed(ctx, id); err != nil {
		return fmt.Errorf("failed to mark processed: %w", err)
	}

	e.effects.Remove(id, LabelQueued)
	return nil
}
