package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/Veraticus/the-bills-must-flow/internal/model"
	"github.com/Veraticus/the-bills-must-flow/internal/service"
)

// mockMailSource serves candidate messages from a fixed map.
type mockMailSource struct {
	messages map[string]*model.CandidateMessage
	fetchErr map[string]error
	mu       sync.Mutex
	fetched  []string
}

func newMockMailSource() *mockMailSource {
	return &mockMailSource{
		messages: make(map[string]*model.CandidateMessage),
		fetchErr: make(map[string]error),
	}
}

func (m *mockMailSource) add(msg *model.CandidateMessage) {
	m.messages[msg.ID] = msg
}

func (m *mockMailSource) SearchCandidates(_ context.Context, _, _ string, _ int64) ([]service.CandidateRef, string, error) {
	return nil, "", nil
}

func (m *mockMailSource) FetchMessageMetadata(_ context.Context, id string) (*model.CandidateMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetched = append(m.fetched, id)
	if err := m.fetchErr[id]; err != nil {
		return nil, err
	}
	msg, ok := m.messages[id]
	if !ok {
		return nil, fmt.Errorf("no such message %s", id)
	}
	return msg, nil
}

func (m *mockMailSource) ApplyLabel(_ context.Context, _, _ string) error  { return nil }
func (m *mockMailSource) RemoveLabel(_ context.Context, _, _ string) error { return nil }

// mockLedger records calls and returns canned responses.
type mockLedger struct {
	submitResult  *service.SubmitResult
	submitErr     error
	postRef       string
	postErr       error
	legacyRef     string
	legacyErr     error
	rejectErr     error
	mu            sync.Mutex
	submitCalls   int
	postCalls     int
	legacyCalls   int
	rejectReasons []string
}

func (m *mockLedger) SubmitForApproval(_ context.Context, _ *model.QueueItem) (*service.SubmitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitCalls++
	if m.submitErr != nil {
		return nil, m.submitErr
	}
	return m.submitResult, nil
}

func (m *mockLedger) ApproveAndPost(_ context.Context, _ *model.QueueItem) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.postCalls++
	return m.postRef, m.postErr
}

func (m *mockLedger) LegacyPost(_ context.Context, _ *model.QueueItem) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.legacyCalls++
	return m.legacyRef, m.legacyErr
}

func (m *mockLedger) RejectInvoice(_ context.Context, _ *model.QueueItem, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rejectErr != nil {
		return m.rejectErr
	}
	m.rejectReasons = append(m.rejectReasons, reason)
	return nil
}

func (m *mockLedger) GetPipelineSnapshot(_ context.Context, _ string) ([]service.SnapshotItem, error) {
	return nil, nil
}

// mockClassifier returns canned results keyed by message id.
type mockClassifier struct {
	quick map[string]model.ClassificationResult
	deep  map[string]model.ClassificationResult
}

func newMockClassifier() *mockClassifier {
	return &mockClassifier{
		quick: make(map[string]model.ClassificationResult),
		deep:  make(map[string]model.ClassificationResult),
	}
}

func (m *mockClassifier) set(id string, result model.ClassificationResult) {
	m.quick[id] = result
	m.deep[id] = result
}

func (m *mockClassifier) Quick(msg *model.CandidateMessage) model.ClassificationResult {
	return m.quick[msg.ID]
}

func (m *mockClassifier) Deep(msg *model.CandidateMessage) model.ClassificationResult {
	result := m.deep[msg.ID]
	result.Deep = true
	return result
}

// mockExtractor returns canned fields keyed by message id.
type mockExtractor struct {
	fields map[string]model.ExtractedFields
}

func newMockExtractor() *mockExtractor {
	return &mockExtractor{fields: make(map[string]model.ExtractedFields)}
}

func (m *mockExtractor) Extract(msg *model.CandidateMessage) model.ExtractedFields {
	return m.fields[msg.ID]
}

// mockDetector returns a fixed duplicate verdict.
type mockDetector struct {
	match model.DuplicateMatch
}

func (m *mockDetector) Find(_ *model.ExtractedFields, _ []model.QueueItem, _ []model.ProcessedEntry) model.DuplicateMatch {
	return m.match
}

// mockAdvisor returns a fixed piece of advice.
type mockAdvisor struct {
	advice *Advice
	err    error
}

func (m *mockAdvisor) Advise(_ context.Context, _ *model.QueueItem) (*Advice, error) {
	return m.advice, m.err
}

// mockEffects records label operations.
type mockEffects struct {
	mu      sync.Mutex
	applied []string
	removed []string
}

func (m *mockEffects) Apply(targetID, label string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applied = append(m.applied, targetID+":"+label)
}

func (m *mockEffects) Remove(targetID, label string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, targetID+":"+label)
}
