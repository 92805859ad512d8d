package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/Veraticus/the-bills-must-flow/internal/model"
)

// GetKnownVendors retrieves the known-vendor dictionary.
func (s *SQLiteStorage) GetKnownVendors(ctx context.Context) ([]model.KnownVendor, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT name, domain, use_count, last_seen
		FROM known_vendors
		ORDER BY use_count DESC, name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get known vendors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var vendors []model.KnownVendor
	for rows.Next() {
		var v model.KnownVendor
		if err := rows.Scan(&v.Name, &v.Domain, &v.UseCount, &v.LastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan known vendor: %w", err)
		}
		vendors = append(vendors, v)
	}
	return vendors, rows.Err()
}

// SaveKnownVendor saves or updates a known-vendor dictionary entry.
func (s *SQLiteStorage) SaveKnownVendor(ctx context.Context, vendor *model.KnownVendor) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if vendor == nil {
		return fmt.Errorf("%w: vendor", ErrNilParameter)
	}
	if err := validateString(vendor.Name, "vendor.Name"); err != nil {
		return err
	}

	if vendor.LastSeen.IsZero() {
		vendor.LastSeen = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO known_vendors (name, domain, use_count, last_seen)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			domain = excluded.domain,
			use_count = excluded.use_count,
			last_seen = excluded.last_seen
	`, vendor.Name, vendor.Domain, vendor.UseCount, vendor.LastSeen)
	if err != nil {
		return fmt.Errorf("failed to save known vendor: %w", err)
	}

	return nil
}
