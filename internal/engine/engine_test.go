package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/the-bills-must-flow/internal/common"
	"github.com/Veraticus/the-bills-must-flow/internal/model"
	"github.com/Veraticus/the-bills-must-flow/internal/service"
	"github.com/Veraticus/the-bills-must-flow/internal/storage"
)

type testFixture struct {
	store      *storage.SQLiteStorage
	mail       *mockMailSource
	ledger     *mockLedger
	classifier *mockClassifier
	extractor  *mockExtractor
	detector   *mockDetector
	effects    *mockEffects
}

func newFixture(t *testing.T) *testFixture {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { _ = store.Close() })

	return &testFixture{
		store:      store,
		mail:       newMockMailSource(),
		ledger:     &mockLedger{},
		classifier: newMockClassifier(),
		extractor:  newMockExtractor(),
		detector:   &mockDetector{},
		effects:    &mockEffects{},
	}
}

func (f *testFixture) engine(advisor Advisor, config Config) *Engine {
	return New(f.store, f.mail, f.ledger, f.classifier, f.extractor, f.detector, advisor, f.effects, config)
}

func (f *testFixture) addInvoice(id string, confidence float64) {
	amount := 1250.00
	f.mail.add(&model.CandidateMessage{
		ID:          id,
		ThreadID:    "thread-" + id,
		SenderEmail: "billing@initech.example",
		Subject:     "Invoice INV-2201",
		Date:        time.Now().Add(-time.Hour),
	})
	f.classifier.set(id, model.ClassificationResult{Type: model.DocInvoice, Confidence: confidence})
	f.extractor.fields[id] = model.ExtractedFields{
		Vendor: "Initech LLC", Amount: &amount, Currency: "USD", InvoiceNumber: "INV-2201",
	}
}

func TestEngine_TriageOne_QueuesForReview(t *testing.T) {
	f := newFixture(t)
	f.addInvoice("msg-1", 0.80)
	e := f.engine(nil, Config{AutoApproveThreshold: 0.95})
	ctx := context.Background()

	outcome, err := e.TriageOne(ctx, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, outcome)

	item, err := f.store.GetQueueItem(ctx, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingApproval, item.Status)
	assert.Equal(t, "Initech LLC", item.Fields.Vendor)
	assert.Contains(t, f.effects.applied, "msg-1:"+LabelQueued)
	assert.Equal(t, 0, f.ledger.submitCalls)

	// History starts at NEW and records the move to review.
	require.Len(t, item.StatusHistory, 2)
	assert.Equal(t, model.StatusNew, item.StatusHistory[0].Status)
	assert.Equal(t, model.StatusPendingApproval, item.StatusHistory[1].Status)
	assert.Equal(t, model.SourcePipeline, item.StatusHistory[1].Source)
}

func TestEngine_TriageOne_AutoApprovePath(t *testing.T) {
	f := newFixture(t)
	f.addInvoice("msg-1", 0.97)
	f.ledger.submitResult = &service.SubmitResult{Status: "auto_approved", LedgerRef: "led-1", ApprovalRef: "apr-1"}
	f.ledger.postRef = "bill-42"
	e := f.engine(nil, Config{AutoApproveThreshold: 0.95})
	ctx := context.Background()

	outcome, err := e.TriageOne(ctx, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAutoSubmitted, outcome)

	item, err := f.store.GetQueueItem(ctx, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPosted, item.Status)
	assert.Equal(t, "bill-42", item.LedgerRef)
	assert.Equal(t, "apr-1", item.ApprovalRef)
	assert.Contains(t, f.effects.applied, "msg-1:"+LabelPosted)
	assert.Equal(t, 1, f.ledger.postCalls)
	assert.Equal(t, 0, f.ledger.legacyCalls)

	statuses := make([]model.Status, 0, len(item.StatusHistory))
	for _, entry := range item.StatusHistory {
		statuses = append(statuses, entry.Status)
	}
	assert.Equal(t, []model.Status{model.StatusNew, model.StatusApproved, model.StatusPosted}, statuses)
}

func TestEngine_TriageOne_AutoApproveFallsBackToLegacyPost(t *testing.T) {
	f := newFixture(t)
	f.addInvoice("msg-1", 0.97)
	f.ledger.submitResult = &service.SubmitResult{Status: "auto_approved", LedgerRef: "led-1", ApprovalRef: "apr-1"}
	f.ledger.postErr = errors.New("posting endpoint down")
	f.ledger.legacyRef = "legacy-7"
	e := f.engine(nil, Config{})
	ctx := context.Background()

	outcome, err := e.TriageOne(ctx, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAutoSubmitted, outcome)

	item, err := f.store.GetQueueItem(ctx, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPosted, item.Status)
	assert.Equal(t, "legacy-7", item.LedgerRef)
	assert.Equal(t, 1, f.ledger.legacyCalls)
}

func TestEngine_TriageOne_PostingFailureParksForReview(t *testing.T) {
	f := newFixture(t)
	f.addInvoice("msg-1", 0.97)
	f.ledger.submitResult = &service.SubmitResult{Status: "auto_approved"}
	f.ledger.postErr = errors.New("posting endpoint down")
	f.ledger.legacyErr = errors.New("legacy endpoint down")
	e := f.engine(nil, Config{})
	ctx := context.Background()

	outcome, err := e.TriageOne(ctx, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, outcome)

	item, err := f.store.GetQueueItem(ctx, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingApproval, item.Status)
	assert.NotEmpty(t, item.FailureReason)
	assert.Contains(t, item.FailureReason, "legacy endpoint down")
}

func TestEngine_TriageOne_SubmitFailureParksForReview(t *testing.T) {
	f := newFixture(t)
	f.addInvoice("msg-1", 0.97)
	f.ledger.submitErr = errors.New("backend offline")
	e := f.engine(nil, Config{})
	ctx := context.Background()

	outcome, err := e.TriageOne(ctx, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, outcome)

	item, err := f.store.GetQueueItem(ctx, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingApproval, item.Status)
	assert.Contains(t, item.FailureReason, "backend offline")
}

func TestEngine_TriageOne_PendingApprovalSubmission(t *testing.T) {
	f := newFixture(t)
	f.addInvoice("msg-1", 0.97)
	f.ledger.submitResult = &service.SubmitResult{Status: "pending_approval", LedgerRef: "led-1", ApprovalRef: "apr-1"}
	e := f.engine(nil, Config{})
	ctx := context.Background()

	outcome, err := e.TriageOne(ctx, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, outcome)

	item, err := f.store.GetQueueItem(ctx, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingApproval, item.Status)
	assert.Equal(t, "led-1", item.LedgerRef)
	assert.Equal(t, "apr-1", item.ApprovalRef)
	assert.Equal(t, 0, f.ledger.postCalls)
}

func TestEngine_TriageOne_DuplicateNeverAutoApproves(t *testing.T) {
	f := newFixture(t)
	f.addInvoice("msg-1", 0.99)
	f.detector.match = model.DuplicateMatch{IsDuplicate: true, Reason: model.DuplicateReasonQueued}
	e := f.engine(nil, Config{AutoApproveThreshold: 0.95})
	ctx := context.Background()

	outcome, err := e.TriageOne(ctx, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, outcome)
	assert.Equal(t, 0, f.ledger.submitCalls)

	item, err := f.store.GetQueueItem(ctx, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingApproval, item.Status)
	assert.True(t, item.Duplicate.IsDuplicate)
	assert.LessOrEqual(t, item.EffectiveConfidence(), model.DuplicateConfidenceCap)
}

func TestEngine_TriageOne_NoiseIsDroppedNotQueued(t *testing.T) {
	f := newFixture(t)
	f.mail.add(&model.CandidateMessage{ID: "msg-1", ThreadID: "thr-1", SenderEmail: "pat@gmail.com"})
	f.classifier.set("msg-1", model.ClassificationResult{Type: model.DocNoise, Confidence: 0.5, ConversationScore: 0.75})
	e := f.engine(nil, Config{})
	ctx := context.Background()

	outcome, err := e.TriageOne(ctx, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDropped, outcome)

	_, err = f.store.GetQueueItem(ctx, "msg-1")
	assert.ErrorIs(t, err, common.ErrNotFound)

	processed, err := f.store.IsProcessed(ctx, "msg-1")
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Contains(t, f.effects.applied, "msg-1:"+LabelNoise)
}

func TestEngine_TriageOne_DeepPassCanOverruleQuickPass(t *testing.T) {
	f := newFixture(t)
	f.mail.add(&model.CandidateMessage{ID: "msg-1", ThreadID: "thr-1", SenderEmail: "pat@vendor.example"})
	f.classifier.quick["msg-1"] = model.ClassificationResult{Type: model.DocInvoice, Confidence: 0.55}
	f.classifier.deep["msg-1"] = model.ClassificationResult{Type: model.DocNoise, ConversationScore: 0.60}
	e := f.engine(nil, Config{})
	ctx := context.Background()

	outcome, err := e.TriageOne(ctx, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDropped, outcome)
}

func TestEngine_TriageOne_IdempotentByID(t *testing.T) {
	f := newFixture(t)
	f.addInvoice("msg-1", 0.80)
	e := f.engine(nil, Config{})
	ctx := context.Background()

	_, err := e.TriageOne(ctx, "msg-1")
	require.NoError(t, err)

	outcome, err := e.TriageOne(ctx, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)

	// The second call must not refetch the message.
	assert.Equal(t, []string{"msg-1"}, f.mail.fetched)
}

func TestEngine_TriageOne_IdempotentByThread(t *testing.T) {
	f := newFixture(t)
	f.addInvoice("msg-1", 0.80)
	e := f.engine(nil, Config{})
	ctx := context.Background()

	_, err := e.TriageOne(ctx, "msg-1")
	require.NoError(t, err)

	// A second message in the same thread is skipped.
	f.addInvoice("msg-2", 0.80)
	f.mail.messages["msg-2"].ThreadID = "thread-msg-1"

	outcome, err := e.TriageOne(ctx, "msg-2")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)

	_, err = f.store.GetQueueItem(ctx, "msg-2")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestEngine_TriageOne_AdviceRejectWins(t *testing.T) {
	f := newFixture(t)
	f.addInvoice("msg-1", 0.99)
	advisor := &mockAdvisor{advice: &Advice{Action: AdviceReject, Reason: "vendor blocked"}}
	e := f.engine(advisor, Config{})
	ctx := context.Background()

	outcome, err := e.TriageOne(ctx, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, outcome)
	assert.Equal(t, 0, f.ledger.submitCalls)

	item, err := f.store.GetQueueItem(ctx, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, item.Status)
	assert.Equal(t, "vendor blocked", item.StatusHistory[len(item.StatusHistory)-1].Note)
}

func TestEngine_TriageOne_AdviceAutoApproveIgnoredForDuplicates(t *testing.T) {
	f := newFixture(t)
	f.addInvoice("msg-1", 0.99)
	f.detector.match = model.DuplicateMatch{IsDuplicate: true, Reason: model.DuplicateReasonQueued}
	advisor := &mockAdvisor{advice: &Advice{Action: AdviceAutoApprove}}
	e := f.engine(advisor, Config{})
	ctx := context.Background()

	outcome, err := e.TriageOne(ctx, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, outcome)
	assert.Equal(t, 0, f.ledger.submitCalls)
}

func TestEngine_TriageOne_AdvisorFailureFallsBackToLocalRules(t *testing.T) {
	f := newFixture(t)
	f.addInvoice("msg-1", 0.80)
	advisor := &mockAdvisor{err: errors.New("advisor unavailable")}
	e := f.engine(advisor, Config{})
	ctx := context.Background()

	outcome, err := e.TriageOne(ctx, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, outcome)
}

func TestEngine_TriageBatch_AbortsOnFailure(t *testing.T) {
	f := newFixture(t)
	f.addInvoice("msg-1", 0.80)
	f.mail.fetchErr["msg-2"] = errors.New("fetch failed")
	f.addInvoice("msg-3", 0.80)
	e := f.engine(nil, Config{})
	ctx := context.Background()

	result, err := e.TriageBatch(ctx, []string{"msg-1", "msg-2", "msg-3"}, nil)
	require.Error(t, err)
	assert.Equal(t, common.KindTriage, common.KindOf(err))
	assert.Equal(t, "msg-2", result.FailedID)
	assert.Equal(t, []string{"msg-1"}, result.Processed)
	assert.Equal(t, 1, result.Queued)

	// The earlier candidate's work is kept.
	_, err = f.store.GetQueueItem(ctx, "msg-1")
	require.NoError(t, err)

	// The candidate after the failure was never attempted.
	_, err = f.store.GetQueueItem(ctx, "msg-3")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestEngine_TriageBatch_CancellationReportsFailedID(t *testing.T) {
	f := newFixture(t)
	f.addInvoice("msg-1", 0.80)
	f.addInvoice("msg-2", 0.80)
	e := f.engine(nil, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := e.TriageBatch(ctx, []string{"msg-1", "msg-2"}, nil)
	require.ErrorIs(t, err, context.Canceled)
	// The candidate the interrupt landed on is reported so callers retry
	// it instead of requeueing a blank id.
	assert.Equal(t, "msg-1", result.FailedID)
	assert.Empty(t, result.Processed)
}

func TestEngine_TriageBatch_CountsOutcomes(t *testing.T) {
	f := newFixture(t)
	f.addInvoice("msg-1", 0.80)
	f.mail.add(&model.CandidateMessage{ID: "msg-2", ThreadID: "thr-2"})
	f.classifier.set("msg-2", model.ClassificationResult{Type: model.DocNoise})
	e := f.engine(nil, Config{})
	ctx := context.Background()

	var ticks int
	result, err := e.TriageBatch(ctx, []string{"msg-1", "msg-2"}, func() { ticks++ })
	require.NoError(t, err)
	assert.Equal(t, 1, result.Queued)
	assert.Equal(t, 1, result.Dropped)
	assert.Equal(t, 2, ticks)
	assert.Equal(t, []string{"msg-1", "msg-2"}, result.Processed)
}

func TestEngine_Reject(t *testing.T) {
	f := newFixture(t)
	f.addInvoice("msg-1", 0.80)
	e := f.engine(nil, Config{})
	ctx := context.Background()

	_, err := e.TriageOne(ctx, "msg-1")
	require.NoError(t, err)

	require.NoError(t, e.Reject(ctx, "msg-1", "wrong vendor"))

	item, err := f.store.GetQueueItem(ctx, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, item.Status)
	last := item.StatusHistory[len(item.StatusHistory)-1]
	assert.Equal(t, model.SourceUser, last.Source)
	assert.Equal(t, "wrong vendor", last.Note)

	// Never submitted for approval, so the backend is not told.
	assert.Empty(t, f.ledger.rejectReasons)

	// A rejected item cannot be rejected again.
	err = e.Reject(ctx, "msg-1", "still wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be rejected")
}

func TestEngine_Reject_NotifiesBackendWhenSubmitted(t *testing.T) {
	f := newFixture(t)
	f.addInvoice("msg-1", 0.80)
	advisor := &mockAdvisor{advice: &Advice{Action: AdviceSendForApproval}}
	f.ledger.submitResult = &service.SubmitResult{Status: "pending", ApprovalRef: "apr-1"}
	e := f.engine(advisor, Config{})
	ctx := context.Background()

	_, err := e.TriageOne(ctx, "msg-1")
	require.NoError(t, err)

	require.NoError(t, e.Reject(ctx, "msg-1", "late fee disputed"))
	assert.Equal(t, []string{"late fee disputed"}, f.ledger.rejectReasons)

	item, err := f.store.GetQueueItem(ctx, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, item.Status)
}

func TestEngine_Reject_BackendFailureLeavesItemUntouched(t *testing.T) {
	f := newFixture(t)
	f.addInvoice("msg-1", 0.80)
	advisor := &mockAdvisor{advice: &Advice{Action: AdviceSendForApproval}}
	f.ledger.submitResult = &service.SubmitResult{Status: "pending", ApprovalRef: "apr-1"}
	f.ledger.rejectErr = errors.New("backend down")
	e := f.engine(advisor, Config{})
	ctx := context.Background()

	_, err := e.TriageOne(ctx, "msg-1")
	require.NoError(t, err)

	err = e.Reject(ctx, "msg-1", "late fee disputed")
	require.Error(t, err)

	item, err := f.store.GetQueueItem(ctx, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingApproval, item.Status)
}

func TestEngine_Reopen(t *testing.T) {
	f := newFixture(t)
	f.addInvoice("msg-1", 0.99)
	advisor := &mockAdvisor{advice: &Advice{Action: AdviceReject, Reason: "wrong vendor"}}
	e := f.engine(advisor, Config{})
	ctx := context.Background()

	_, err := e.TriageOne(ctx, "msg-1")
	require.NoError(t, err)

	require.NoError(t, e.Reopen(ctx, "msg-1"))

	item, err := f.store.GetQueueItem(ctx, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingApproval, item.Status)
	last := item.StatusHistory[len(item.StatusHistory)-1]
	assert.Equal(t, model.SourceUser, last.Source)
	assert.Equal(t, "reopened", last.Note)

	// Only REJECTED items can be reopened.
	err = e.Reopen(ctx, "msg-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only REJECTED")
}

func TestEngine_Dismiss(t *testing.T) {
	f := newFixture(t)
	f.addInvoice("msg-1", 0.80)
	e := f.engine(nil, Config{})
	ctx := context.Background()

	_, err := e.TriageOne(ctx, "msg-1")
	require.NoError(t, err)

	require.NoError(t, e.Dismiss(ctx, "msg-1"))

	_, err = f.store.GetQueueItem(ctx, "msg-1")
	assert.ErrorIs(t, err, common.ErrNotFound)

	processed, err := f.store.IsProcessed(ctx, "msg-1")
	require.NoError(t, err)
	assert.True(t, processed)

	// The dismissed item still participates in duplicate detection.
	history, err := f.store.ListProcessedHistory(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "Initech LLC", history[0].Vendor)
	assert.Equal(t, 1250.00, history[0].Amount)

	assert.Contains(t, f.effects.removed, "msg-1:"+LabelQueued)
}
