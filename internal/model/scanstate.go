package model

import "time"

// Discovery caps. Oldest entries are evicted first when a cap is hit.
const (
	MaxPendingIDs       = 500
	MaxProcessedIDs     = 1000
	MaxProcessedHistory = 500
)

// ProcessedHistoryWindow is how long processed-history entries stay
// eligible for duplicate detection.
const ProcessedHistoryWindow = 30 * 24 * time.Hour

// ScanState is the persisted discovery cursor. It survives restarts so
// paging resumes where it left off.
type ScanState struct {
	LastScanAt       time.Time
	BurstWindowStart time.Time
	PendingThreads   map[string]string // candidate id -> thread id
	NextPageToken    string
	LastError        string
	PendingIDs       []string
	BurstCount       int
	Exhausted        bool
}

// PushPending appends candidate ids, evicting the oldest beyond the cap.
func (s *ScanState) PushPending(ids ...string) {
	s.PendingIDs = append(s.PendingIDs, ids...)
	if over := len(s.PendingIDs) - MaxPendingIDs; over > 0 {
		evicted := s.PendingIDs[:over]
		for _, id := range evicted {
			delete(s.PendingThreads, id)
		}
		s.PendingIDs = s.PendingIDs[over:]
	}
}

// RequeueFront puts a failed candidate id back at the head of the pending
// list so the next cycle retries it first.
func (s *ScanState) RequeueFront(id string) {
	s.PendingIDs = append([]string{id}, s.PendingIDs...)
}

// HasPending reports whether any candidate ids await triage.
func (s *ScanState) HasPending() bool {
	return len(s.PendingIDs) > 0
}

// ProcessedEntry is one row of the rolling processed-history window,
// used only for duplicate detection against items no longer queued.
type ProcessedEntry struct {
	ProcessedAt   time.Time
	ID            string
	Vendor        string
	InvoiceNumber string
	Amount        float64
}
