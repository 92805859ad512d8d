package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Veraticus/the-bills-must-flow/internal/model"
)

// GetScanState loads the persisted discovery cursor. A fresh database
// returns an empty state rather than an error.
func (s *SQLiteStorage) GetScanState(ctx context.Context) (*model.ScanState, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var state model.ScanState
	var pendingIDs, pendingThreads string
	var windowStart, lastScan sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT pending_ids, pending_threads, next_page_token, exhausted,
		       burst_count, burst_window_start, last_error, last_scan_at
		FROM scan_state WHERE id = 1
	`).Scan(
		&pendingIDs, &pendingThreads, &state.NextPageToken, &state.Exhausted,
		&state.BurstCount, &windowStart, &state.LastError, &lastScan,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return &model.ScanState{PendingThreads: make(map[string]string)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scan state: %w", err)
	}

	if err := json.Unmarshal([]byte(pendingIDs), &state.PendingIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pending ids: %w", err)
	}
	if err := json.Unmarshal([]byte(pendingThreads), &state.PendingThreads); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pending threads: %w", err)
	}
	if state.PendingThreads == nil {
		state.PendingThreads = make(map[string]string)
	}
	if windowStart.Valid {
		state.BurstWindowStart = windowStart.Time
	}
	if lastScan.Valid {
		state.LastScanAt = lastScan.Time
	}

	return &state, nil
}

// SaveScanState persists the discovery cursor as a single row.
func (s *SQLiteStorage) SaveScanState(ctx context.Context, state *model.ScanState) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if state == nil {
		return fmt.Errorf("%w: state", ErrNilParameter)
	}

	pendingIDs, err := json.Marshal(state.PendingIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal pending ids: %w", err)
	}
	pendingThreads, err := json.Marshal(state.PendingThreads)
	if err != nil {
		return fmt.Errorf("failed to marshal pending threads: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scan_state (
			id, pending_ids, pending_threads, next_page_token, exhausted,
			burst_count, burst_window_start, last_error, last_scan_at
		) VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			pending_ids = excluded.pending_ids,
			pending_threads = excluded.pending_threads,
			next_page_token = excluded.next_page_token,
			exhausted = excluded.exhausted,
			burst_count = excluded.burst_count,
			burst_window_start = excluded.burst_window_start,
			last_error = excluded.last_error,
			last_scan_at = excluded.last_scan_at
	`, string(pendingIDs), string(pendingThreads), state.NextPageToken, state.Exhausted,
		state.BurstCount, state.BurstWindowStart, state.LastError, state.LastScanAt)
	if err != nil {
		return fmt.Errorf("failed to save scan state: %w", err)
	}

	return nil
}

// MarkProcessed records candidate ids as processed, evicting the oldest
// entries beyond the cap.
func (s *SQLiteStorage) MarkProcessed(ctx context.Context, ids ...string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO processed_ids (candidate_id, processed_at)
			VALUES (?, CURRENT_TIMESTAMP)
		`, id); err != nil {
			return fmt.Errorf("failed to mark processed: %w", err)
		}
	}

	// FIFO eviction beyond the cap.
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM processed_ids WHERE candidate_id IN (
			SELECT candidate_id FROM processed_ids
			ORDER BY processed_at DESC, rowid DESC
			LIMIT -1 OFFSET ?
		)
	`, model.MaxProcessedIDs); err != nil {
		return fmt.Errorf("failed to evict processed ids: %w", err)
	}

	return tx.Commit()
}

// IsProcessed reports whether a candidate id has already been processed.
func (s *SQLiteStorage) IsProcessed(ctx context.Context, id string) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	if err := validateString(id, "id"); err != nil {
		return false, err
	}

	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM processed_ids WHERE candidate_id = ?)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check processed id: %w", err)
	}
	return exists, nil
}
