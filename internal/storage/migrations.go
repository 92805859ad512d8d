package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application
// expects. If the database cannot be migrated to this version, it's a
// fatal error.
const ExpectedSchemaVersion = 3

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS queue_items (
					id TEXT PRIMARY KEY,
					thread_id TEXT,
					sender TEXT,
					sender_email TEXT,
					subject TEXT,
					snippet TEXT,
					body TEXT,
					message_date DATETIME,
					attachments TEXT,
					vendor TEXT,
					amount REAL,
					has_amount INTEGER NOT NULL DEFAULT 0,
					currency TEXT,
					due_date DATETIME,
					due_raw TEXT,
					due_iso TEXT,
					due_days INTEGER,
					overdue INTEGER NOT NULL DEFAULT 0,
					has_due INTEGER NOT NULL DEFAULT 0,
					invoice_number TEXT,
					payment_terms TEXT,
					doc_type TEXT NOT NULL,
					confidence REAL NOT NULL DEFAULT 0,
					conversation_score REAL NOT NULL DEFAULT 0,
					deep INTEGER NOT NULL DEFAULT 0,
					signals TEXT,
					is_duplicate INTEGER NOT NULL DEFAULT 0,
					dup_reason TEXT,
					dup_matches TEXT,
					status TEXT NOT NULL,
					ledger_ref TEXT,
					approval_ref TEXT,
					failure_reason TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_queue_items_thread ON queue_items(thread_id)`,
				`CREATE INDEX idx_queue_items_status ON queue_items(status)`,

				`CREATE TABLE IF NOT EXISTS status_history (
					id TEXT PRIMARY KEY,
					item_id TEXT NOT NULL,
					status TEXT NOT NULL,
					source TEXT NOT NULL,
					note TEXT,
					created_at DATETIME NOT NULL,
					FOREIGN KEY (item_id) REFERENCES queue_items(id)
				)`,
				`CREATE INDEX idx_status_history_item ON status_history(item_id, created_at)`,

				`CREATE TABLE IF NOT EXISTS scan_state (
					id INTEGER PRIMARY KEY CHECK (id = 1),
					pending_ids TEXT,
					pending_threads TEXT,
					next_page_token TEXT,
					exhausted INTEGER NOT NULL DEFAULT 0,
					burst_count INTEGER NOT NULL DEFAULT 0,
					burst_window_start DATETIME,
					last_error TEXT,
					last_scan_at DATETIME
				)`,

				`CREATE TABLE IF NOT EXISTS processed_ids (
					candidate_id TEXT PRIMARY KEY,
					processed_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_processed_ids_time ON processed_ids(processed_at)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "Processed history window for duplicate detection",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS processed_history (
					candidate_id TEXT PRIMARY KEY,
					vendor TEXT,
					amount REAL NOT NULL DEFAULT 0,
					invoice_number TEXT,
					processed_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_processed_history_time ON processed_history(processed_at)`,
			}
			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     3,
		Description: "Known vendor dictionary",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS known_vendors (
					name TEXT PRIMARY KEY,
					domain TEXT,
					use_count INTEGER NOT NULL DEFAULT 0,
					last_seen DATETIME DEFAULT CURRENT_TIMESTAMP
				)
			`)
			return err
		},
	},
}

// Migrate runs all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_versions (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("failed to create schema_versions table: %w", err)
	}

	var current int
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_versions`).Scan(&current)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", m.Version, err)
		}

		if err := m.Up(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(`INSERT INTO schema_versions (version, description) VALUES (?, ?)`,
			m.Version, m.Description); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
		}

		slog.Info("Applied migration", "version", m.Version, "description", m.Description)
	}

	if current > ExpectedSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than expected %d", current, ExpectedSchemaVersion)
	}

	return nil
}

// SchemaVersion returns the highest applied migration version, or 0 for a
// fresh database.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_versions'`).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("failed to check schema table: %w", err)
	}
	if exists == 0 {
		return 0, nil
	}

	var current int
	err = s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_versions`).Scan(&current)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return current, nil
}
