package model

import "time"

// Duplicate match reasons.
const (
	DuplicateReasonQueued    = "in queue"
	DuplicateReasonProcessed = "recently processed"
)

// MaxDuplicateMatches caps how many match summaries are kept for review.
const MaxDuplicateMatches = 3

// DuplicateConfidenceCap is the ceiling applied to effective confidence
// for any item flagged as a duplicate, keeping it off the auto-approve path.
const DuplicateConfidenceCap = 0.70

// MatchSummary describes one existing item a candidate collided with.
type MatchSummary struct {
	Date          time.Time
	ID            string
	Vendor        string
	InvoiceNumber string
	Amount        float64
}

// DuplicateMatch is the result of checking a candidate against the live
// queue and the processed-history window. Computed just-in-time before
// the candidate enters the queue.
type DuplicateMatch struct {
	Reason      string
	Matches     []MatchSummary // At most MaxDuplicateMatches entries
	IsDuplicate bool
}
