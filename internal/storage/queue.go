package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/the-bills-must-flow/internal/common"
	"github.com/Veraticus/the-bills-must-flow/internal/model"
)

// SaveQueueItem upserts a queue item and appends any status-history
// entries not yet persisted. History rows are insert-only; an existing
// entry id is never rewritten.
func (s *SQLiteStorage) SaveQueueItem(ctx context.Context, item *model.QueueItem) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateQueueItem(item); err != nil {
		return err
	}

	attachments, err := json.Marshal(item.Message.Attachments)
	if err != nil {
		return fmt.Errorf("failed to marshal attachments: %w", err)
	}
	signals, err := json.Marshal(item.Classification.Signals)
	if err != nil {
		return fmt.Errorf("failed to marshal signals: %w", err)
	}
	dupMatches, err := json.Marshal(item.Duplicate.Matches)
	if err != nil {
		return fmt.Errorf("failed to marshal duplicate matches: %w", err)
	}

	now := time.Now()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now

	var amount sql.NullFloat64
	if item.Fields.Amount != nil {
		amount = sql.NullFloat64{Float64: *item.Fields.Amount, Valid: true}
	}
	var dueDate sql.NullTime
	var dueRaw, dueISO string
	var dueDays int
	var overdue, hasDue bool
	if item.Fields.DueDate != nil {
		dueDate = sql.NullTime{Time: item.Fields.DueDate.Date, Valid: true}
		dueRaw = item.Fields.DueDate.Raw
		dueISO = item.Fields.DueDate.ISO
		dueDays = item.Fields.DueDate.DaysUntil
		overdue = item.Fields.DueDate.Overdue
		hasDue = true
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO queue_items (
			id, thread_id, sender, sender_email, subject, snippet, body,
			message_date, attachments,
			vendor, amount, has_amount, currency,
			due_date, due_raw, due_iso, due_days, overdue, has_due,
			invoice_number, payment_terms,
			doc_type, confidence, conversation_score, deep, signals,
			is_duplicate, dup_reason, dup_matches,
			status, ledger_ref, approval_ref, failure_reason,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			body = excluded.body,
			vendor = excluded.vendor,
			amount = excluded.amount,
			has_amount = excluded.has_amount,
			currency = excluded.currency,
			due_date = excluded.due_date,
			due_raw = excluded.due_raw,
			due_iso = excluded.due_iso,
			due_days = excluded.due_days,
			overdue = excluded.overdue,
			has_due = excluded.has_due,
			invoice_number = excluded.invoice_number,
			payment_terms = excluded.payment_terms,
			doc_type = excluded.doc_type,
			confidence = excluded.confidence,
			conversation_score = excluded.conversation_score,
			deep = excluded.deep,
			signals = excluded.signals,
			is_duplicate = excluded.is_duplicate,
			dup_reason = excluded.dup_reason,
			dup_matches = excluded.dup_matches,
			status = excluded.status,
			ledger_ref = excluded.ledger_ref,
			approval_ref = excluded.approval_ref,
			failure_reason = excluded.failure_reason,
			updated_at = excluded.updated_at
	`,
		item.Message.ID, item.Message.ThreadID, item.Message.Sender, item.Message.SenderEmail,
		item.Message.Subject, item.Message.Snippet, item.Message.Body,
		item.Message.Date, string(attachments),
		item.Fields.Vendor, amount, item.Fields.Amount != nil, item.Fields.Currency,
		dueDate, dueRaw, dueISO, dueDays, overdue, hasDue,
		item.Fields.InvoiceNumber, item.Fields.PaymentTerms,
		string(item.Classification.Type), item.Classification.Confidence,
		item.Classification.ConversationScore, item.Classification.Deep, string(signals),
		item.Duplicate.IsDuplicate, item.Duplicate.Reason, string(dupMatches),
		string(item.Status), item.LedgerRef, item.ApprovalRef, item.FailureReason,
		item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save queue item: %w", err)
	}

	for _, entry := range item.StatusHistory {
		_, err = tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO status_history (id, item_id, status, source, note, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, entry.ID, item.Message.ID, string(entry.Status), string(entry.Source), entry.Note, entry.Timestamp)
		if err != nil {
			return fmt.Errorf("failed to append status history: %w", err)
		}
	}

	return tx.Commit()
}

// GetQueueItem retrieves a queue item by candidate id, including its full
// status history. Returns common.ErrNotFound when absent.
func (s *SQLiteStorage) GetQueueItem(ctx context.Context, id string) (*model.QueueItem, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return s.getQueueItemWhere(ctx, "id = ?", id)
}

// GetQueueItemByThread retrieves a queue item by thread id.
func (s *SQLiteStorage) GetQueueItemByThread(ctx context.Context, threadID string) (*model.QueueItem, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(threadID, "threadID"); err != nil {
		return nil, err
	}
	return s.getQueueItemWhere(ctx, "thread_id = ?", threadID)
}

const queueItemColumns = `
	id, thread_id, sender, sender_email, subject, snippet, body,
	message_date, attachments,
	vendor, amount, has_amount, currency,
	due_date, due_raw, due_iso, due_days, overdue, has_due,
	invoice_number, payment_terms,
	doc_type, confidence, conversation_score, deep, signals,
	is_duplicate, dup_reason, dup_matches,
	status, ledger_ref, approval_ref, failure_reason,
	created_at, updated_at
`

func (s *SQLiteStorage) getQueueItemWhere(ctx context.Context, where string, arg any) (*model.QueueItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+queueItemColumns+` FROM queue_items WHERE `+where, arg)
	item, err := scanQueueItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue item: %w", err)
	}

	if err := s.loadHistory(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// ListQueue returns a snapshot copy of the queue in review-priority order:
// overdue items first, then duplicates, then by descending effective
// confidence.
func (s *SQLiteStorage) ListQueue(ctx context.Context) ([]model.QueueItem, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+queueItemColumns+`
		FROM queue_items
		ORDER BY
			overdue DESC,
			is_duplicate DESC,
			CASE WHEN is_duplicate = 1 AND confidence > 0.70 THEN 0.70 ELSE confidence END DESC,
			created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []model.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate queue: %w", err)
	}

	for i := range items {
		if err := s.loadHistory(ctx, &items[i]); err != nil {
			return nil, err
		}
	}

	return items, nil
}

// DeleteQueueItem removes an item and its history.
func (s *SQLiteStorage) DeleteQueueItem(ctx context.Context, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM status_history WHERE item_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete status history: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM queue_items WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete queue item: %w", err)
	}

	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQueueItem(row rowScanner) (*model.QueueItem, error) {
	var item model.QueueItem
	var attachments, signals, dupMatches string
	var amount sql.NullFloat64
	var hasAmount, hasDue bool
	var dueDate sql.NullTime
	var dueRaw, dueISO string
	var dueDays int
	var overdue bool
	var docType, status string

	err := row.Scan(
		&item.Message.ID, &item.Message.ThreadID, &item.Message.Sender, &item.Message.SenderEmail,
		&item.Message.Subject, &item.Message.Snippet, &item.Message.Body,
		&item.Message.Date, &attachments,
		&item.Fields.Vendor, &amount, &hasAmount, &item.Fields.Currency,
		&dueDate, &dueRaw, &dueISO, &dueDays, &overdue, &hasDue,
		&item.Fields.InvoiceNumber, &item.Fields.PaymentTerms,
		&docType, &item.Classification.Confidence,
		&item.Classification.ConversationScore, &item.Classification.Deep, &signals,
		&item.Duplicate.IsDuplicate, &item.Duplicate.Reason, &dupMatches,
		&status, &item.LedgerRef, &item.ApprovalRef, &item.FailureReason,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	item.Classification.Type = model.DocType(docType)
	item.Status = model.Status(status)

	if hasAmount && amount.Valid {
		v := amount.Float64
		item.Fields.Amount = &v
	}
	if hasDue && dueDate.Valid {
		item.Fields.DueDate = &model.DueDate{
			Date:      dueDate.Time,
			Raw:       dueRaw,
			ISO:       dueISO,
			DaysUntil: dueDays,
			Overdue:   overdue,
		}
	}

	if err := json.Unmarshal([]byte(attachments), &item.Message.Attachments); err != nil {
		return nil, fmt.Errorf("failed to unmarshal attachments: %w", err)
	}
	if err := json.Unmarshal([]byte(signals), &item.Classification.Signals); err != nil {
		return nil, fmt.Errorf("failed to unmarshal signals: %w", err)
	}
	if err := json.Unmarshal([]byte(dupMatches), &item.Duplicate.Matches); err != nil {
		return nil, fmt.Errorf("failed to unmarshal duplicate matches: %w", err)
	}

	return &item, nil
}

func (s *SQLiteStorage) loadHistory(ctx context.Context, item *model.QueueItem) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, source, note, created_at
		FROM status_history
		WHERE item_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, item.Message.ID)
	if err != nil {
		return fmt.Errorf("failed to load status history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	item.StatusHistory = nil
	for rows.Next() {
		var entry model.StatusEntry
		var status, source string
		if err := rows.Scan(&entry.ID, &status, &source, &entry.Note, &entry.Timestamp); err != nil {
			return fmt.Errorf("failed to scan status history: %w", err)
		}
		entry.Status = model.Status(status)
		entry.Source = model.StatusSource(source)
		item.StatusHistory = append(item.StatusHistory, entry)
	}
	return rows.Err()
}
