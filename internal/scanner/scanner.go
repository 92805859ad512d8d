// Package scanner implements the paginated, bursty candidate discovery
// loop that feeds the triage pipeline.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Veraticus/the-bills-must-flow/internal/common"
	"github.com/Veraticus/the-bills-must-flow/internal/engine"
	"github.com/Veraticus/the-bills-must-flow/internal/model"
	"github.com/Veraticus/the-bills-must-flow/internal/service"
)

// State is the scheduler's current position.
type State string

// Scheduler states.
const (
	StateIdle      State = "idle"
	StateScanning  State = "scanning"
	StateBackoff   State = "backoff"
	StateExhausted State = "exhausted"
)

// Config holds discovery tunables.
type Config struct {
	// Query is the mail-source search expression for candidates.
	Query string
	// PageSize is the maximum results fetched per cycle.
	PageSize int64
	// BurstLimit caps cycles within BurstWindow.
	BurstLimit int
	// BurstWindow is the rolling window the burst budget applies to.
	BurstWindow time.Duration
	// BurstSpacing is the delay between burst-continuation cycles.
	BurstSpacing time.Duration
}

// DefaultConfig returns the default discovery tunables.
func DefaultConfig() Config {
	return Config{
		Query:        "has:attachment OR subject:(invoice OR statement OR receipt OR payment)",
		PageSize:     25,
		BurstLimit:   5,
		BurstWindow:  10 * time.Minute,
		BurstSpacing: 3 * time.Second,
	}
}

// Triager runs triage over a batch of candidate ids.
type Triager interface {
	TriageBatch(ctx context.Context, ids []string, progress func()) (*engine.BatchResult, error)
}

// Scanner drives discovery cycles. A reentrancy guard ensures only one
// cycle (or burst of cycles) executes at a time; a trigger arriving while
// a scan is active is dropped, not queued.
type Scanner struct {
	mail    service.MailSource
	store   service.Storage
	triager Triager
	clock   service.Clock
	config  Config

	mu       sync.Mutex
	state    State
	scanning bool
	stopped  bool
	stopCh   chan struct{}
}

// New creates a scanner. clock may be nil, in which case the system clock
// is used.
func New(mail service.MailSource, store service.Storage, triager Triager, clock service.Clock, config Config) *Scanner {
	def := DefaultConfig()
	if config.Query == "" {
		config.Query = def.Query
	}
	if config.PageSize <= 0 {
		config.PageSize = def.PageSize
	}
	if config.BurstLimit <= 0 {
		config.BurstLimit = def.BurstLimit
	}
	if config.BurstWindow <= 0 {
		config.BurstWindow = def.BurstWindow
	}
	if config.BurstSpacing <= 0 {
		config.BurstSpacing = def.BurstSpacing
	}
	if clock == nil {
		clock = service.RealClock{}
	}
	return &Scanner{
		mail:    mail,
		store:   store,
		triager: triager,
		clock:   clock,
		config:  config,
		state:   StateIdle,
		stopCh:  make(chan struct{}),
	}
}

// Status is an immutable snapshot of the scanner for external readers.
type Status struct {
	LastScanAt      time.Time
	State           State
	LastError       string
	PendingCount    int
	BurstBudgetLeft int
}

// Status reports the scanner's current state. It never exposes live
// internal structures.
func (s *Scanner) Status(ctx context.Context) (*Status, error) {
	state, err := s.store.GetScanState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load scan state: %w", err)
	}

	s.mu.Lock()
	current := s.state
	s.mu.Unlock()

	left := s.config.BurstLimit - state.BurstCount
	if s.clock.Now().Sub(state.BurstWindowStart) > s.config.BurstWindow {
		left = s.config.BurstLimit
	}
	if left < 0 {
		left = 0
	}

	return &Status{
		State:           current,
		LastError:       state.LastError,
		LastScanAt:      state.LastScanAt,
		PendingCount:    len(state.PendingIDs),
		BurstBudgetLeft: left,
	}, nil
}

// TriggerScan runs one scan burst: a cycle, then self-rescheduled
// continuation cycles while candidates remain and the burst budget holds.
// A trigger while a scan is in flight is dropped and returns nil.
func (s *Scanner) TriggerScan(ctx context.Context) error {
	if !s.begin() {
		slog.Debug("Scan already in flight, dropping trigger")
		return nil
	}
	defer s.end()

	for {
		again, err := s.cycle(ctx)
		if err != nil {
			return err
		}
		if !again {
			return nil
		}

		s.setState(StateBackoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopCh:
			return nil
		case <-s.clock.After(s.config.BurstSpacing):
		}
	}
}

// Run triggers a scan immediately and then on every interval tick until
// the context is cancelled or the scanner is stopped.
func (s *Scanner) Run(ctx context.Context, interval time.Duration) {
	for {
		if err := s.TriggerScan(ctx); err != nil {
			slog.Error("Scan failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-s.clock.After(interval):
		}
	}
}

// Stop clears scheduled continuations. In-flight work becomes a no-op
// once it reaches the next guard check.
func (s *Scanner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.stopCh)
}

func (s *Scanner) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scanning || s.stopped {
		return false
	}
	s.scanning = true
	s.state = StateScanning
	return true
}

func (s *Scanner) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scanning = false
	if s.state == StateScanning || s.state == StateBackoff {
		s.state = StateIdle
	}
}

func (s *Scanner) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// cycle runs one discovery + triage pass. It returns whether a burst
// continuation should be scheduled.
func (s *Scanner) cycle(ctx context.Context) (bool, error) {
	state, err := s.store.GetScanState(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to load scan state: %w", err)
	}

	now := s.clock.Now()
	if now.Sub(state.BurstWindowStart) > s.config.BurstWindow {
		state.BurstWindowStart = now
		state.BurstCount = 0
	}

	if state.BurstCount >= s.config.BurstLimit {
		slog.Debug("Burst budget exhausted, skipping cycle",
			"burst_count", state.BurstCount,
			"window_start", state.BurstWindowStart)
		return false, nil
	}

	if err := s.discover(ctx, state); err != nil {
		state.LastError = err.Error()
		if saveErr := s.store.SaveScanState(ctx, state); saveErr != nil {
			slog.Error("Failed to save scan state after discovery error", "error", saveErr)
		}
		return false, err
	}

	if err := s.triage(ctx, state); err != nil {
		return false, err
	}

	state.LastError = ""
	state.LastScanAt = now
	state.BurstCount++
	if err := s.store.SaveScanState(ctx, state); err != nil {
		return false, fmt.Errorf("failed to save scan state: %w", err)
	}

	more := state.HasPending() || !state.Exhausted
	budget := state.BurstCount < s.config.BurstLimit
	if !more && state.Exhausted {
		s.setState(StateExhausted)
	}
	return more && budget, nil
}

// discover fetches one page of candidates and merges the new ids into the
// pending list. Fetch failure is non-fatal to the pipeline: it ends the
// cycle and is retried on the next trigger.
func (s *Scanner) discover(ctx context.Context, state *model.ScanState) error {
	refs, next, err := s.mail.SearchCandidates(ctx, s.config.Query, state.NextPageToken, s.config.PageSize)
	if err != nil {
		return common.NewDiscoveryError(err)
	}

	pending := make(map[string]bool, len(state.PendingIDs))
	for _, id := range state.PendingIDs {
		pending[id] = true
	}

	var added int
	for _, ref := range refs {
		if pending[ref.ID] {
			continue
		}
		processed, err := s.store.IsProcessed(ctx, ref.ID)
		if err != nil {
			return common.NewDiscoveryError(err)
		}
		if processed {
			continue
		}
		if item, err := s.store.GetQueueItem(ctx, ref.ID); err == nil && item != nil {
			continue
		} else if err != nil && !errors.Is(err, common.ErrNotFound) {
			return common.NewDiscoveryError(err)
		}

		state.PushPending(ref.ID)
		if state.PendingThreads == nil {
			state.PendingThreads = make(map[string]string)
		}
		state.PendingThreads[ref.ID] = ref.ThreadID
		added++
	}

	state.NextPageToken = next
	state.Exhausted = next == ""

	slog.Debug("Discovery page complete",
		"fetched", len(refs),
		"added", added,
		"pending", len(state.PendingIDs),
		"exhausted", state.Exhausted)

	return nil
}

// triage drains the pending list through the engine. On failure the
// failing candidate is re-queued at the front of the pending list and the
// already-processed candidates stay processed.
func (s *Scanner) triage(ctx context.Context, state *model.ScanState) error {
	if !state.HasPending() {
		return nil
	}

	batch := make([]string, len(state.PendingIDs))
	copy(batch, state.PendingIDs)

	result, err := s.triager.TriageBatch(ctx, batch, nil)
	if result == nil {
		result = &engine.BatchResult{}
	}

	processed := make(map[string]bool, len(result.Processed))
	for _, id := range result.Processed {
		processed[id] = true
	}
	remaining := state.PendingIDs[:0]
	for _, id := range state.PendingIDs {
		if id == result.FailedID {
			continue
		}
		if processed[id] {
			delete(state.PendingThreads, id)
			continue
		}
		remaining = append(remaining, id)
	}
	state.PendingIDs = remaining

	if err != nil {
		if result.FailedID != "" {
			state.RequeueFront(result.FailedID)
		}
		state.LastError = err.Error()
		if saveErr := s.store.SaveScanState(ctx, state); saveErr != nil {
			slog.Error("Failed to save scan state after triage error", "error", saveErr)
		}
		return err
	}

	return nil
}
