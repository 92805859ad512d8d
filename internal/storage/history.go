package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/Veraticus/the-bills-must-flow/internal/model"
)

// AddProcessedHistory records a vendor/amount/invoice tuple in the rolling
// duplicate-detection window, pruning entries past the 30-day window and
// evicting the oldest beyond the entry cap.
func (s *SQLiteStorage) AddProcessedHistory(ctx context.Context, entry *model.ProcessedEntry) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateProcessedEntry(entry); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO processed_history (candidate_id, vendor, amount, invoice_number, processed_at)
		VALUES (?, ?, ?, ?, ?)
	`, entry.ID, entry.Vendor, entry.Amount, entry.InvoiceNumber, entry.ProcessedAt); err != nil {
		return fmt.Errorf("failed to add processed history: %w", err)
	}

	cutoff := time.Now().Add(-model.ProcessedHistoryWindow)
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM processed_history WHERE processed_at < ?`, cutoff); err != nil {
		return fmt.Errorf("failed to prune processed history: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM processed_history WHERE candidate_id IN (
			SELECT candidate_id FROM processed_history
			ORDER BY processed_at DESC, rowid DESC
			LIMIT -1 OFFSET ?
		)
	`, model.MaxProcessedHistory); err != nil {
		return fmt.Errorf("failed to evict processed history: %w", err)
	}

	return tx.Commit()
}

// ListProcessedHistory returns the current duplicate-detection window,
// newest first.
func (s *SQLiteStorage) ListProcessedHistory(ctx context.Context) ([]model.ProcessedEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-model.ProcessedHistoryWindow)
	rows, err := s.db.QueryContext(ctx, `
		SELECT candidate_id, vendor, amount, invoice_number, processed_at
		FROM processed_history
		WHERE processed_at >= ?
		ORDER BY processed_at DESC
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list processed history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.ProcessedEntry
	for rows.Next() {
		var e model.ProcessedEntry
		if err := rows.Scan(&e.ID, &e.Vendor, &e.Amount, &e.InvoiceNumber, &e.ProcessedAt); err != nil {
			return nil, fmt.Errorf("failed to scan processed history: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
