package model

import "time"

// Status is a queue item's position in the approval state machine.
type Status string

// Queue item statuses.
const (
	StatusNew             Status = "NEW"
	StatusRejected        Status = "REJECTED"
	StatusPendingApproval Status = "PENDING_APPROVAL"
	StatusApproved        Status = "APPROVED"
	StatusPosted          Status = "POSTED"
	StatusPaid            Status = "PAID"
)

// StatusSource identifies what drove a status transition.
type StatusSource string

// Status transition sources.
const (
	SourcePipeline StatusSource = "pipeline"
	SourceBackend  StatusSource = "backend"
	SourceUser     StatusSource = "user"
)

// validTransitions encodes the approval state machine. REJECTED back to
// PENDING_APPROVAL is the only re-open path; PAID is terminal.
var validTransitions = map[Status][]Status{
	StatusNew:             {StatusRejected, StatusPendingApproval, StatusApproved, StatusPosted},
	StatusPendingApproval: {StatusApproved, StatusRejected, StatusPosted},
	StatusApproved:        {StatusPosted, StatusRejected},
	StatusPosted:          {StatusPaid},
	StatusRejected:        {StatusPendingApproval},
	StatusPaid:            {},
}

// CanTransition reports whether moving from one status to another is a
// legal step in the state machine.
func CanTransition(from, to Status) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StatusEntry is one immutable record in an item's status history.
type StatusEntry struct {
	Timestamp time.Time
	ID        string
	Status    Status
	Source    StatusSource
	Note      string
}

// QueueItem owns one candidate and everything triage derived from it.
// Status mutates through Transition; StatusHistory is append-only.
type QueueItem struct {
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Message        CandidateMessage
	Fields         ExtractedFields
	Classification ClassificationResult
	Duplicate      DuplicateMatch
	Status         Status
	StatusHistory  []StatusEntry
	LedgerRef      string
	ApprovalRef    string
	FailureReason  string // Set when a posting attempt left the item in review
}

// EffectiveConfidence is the classifier confidence after the duplicate cap.
func (q *QueueItem) EffectiveConfidence() float64 {
	conf := q.Classification.Confidence
	if q.Duplicate.IsDuplicate && conf > DuplicateConfidenceCap {
		return DuplicateConfidenceCap
	}
	return conf
}

// Overdue reports whether the item's extracted due date has passed.
func (q *QueueItem) Overdue() bool {
	return q.Fields.DueDate != nil && q.Fields.DueDate.Overdue
}
