package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/the-bills-must-flow/internal/model"
)

// Validation errors.
var (
	ErrNilContext       = errors.New("context cannot be nil")
	ErrEmptyString      = errors.New("string parameter cannot be empty")
	ErrNilParameter     = errors.New("parameter cannot be nil")
	ErrInvalidQueueItem = errors.New("invalid queue item")
	ErrInvalidEntry     = errors.New("invalid processed-history entry")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateQueueItem validates a queue item before persistence.
func validateQueueItem(item *model.QueueItem) error {
	if item == nil {
		return fmt.Errorf("%w: item", ErrNilParameter)
	}
	if item.Message.ID == "" {
		return fmt.Errorf("%w: missing message ID", ErrInvalidQueueItem)
	}
	if item.Status == "" {
		return fmt.Errorf("%w: missing status", ErrInvalidQueueItem)
	}
	if item.Classification.Type == "" {
		return fmt.Errorf("%w: missing classification", ErrInvalidQueueItem)
	}
	return nil
}

// validateProcessedEntry validates a processed-history entry.
func validateProcessedEntry(entry *model.ProcessedEntry) error {
	if entry == nil {
		return fmt.Errorf("%w: entry", ErrNilParameter)
	}
	if entry.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidEntry)
	}
	if entry.ProcessedAt.IsZero() {
		return fmt.Errorf("%w: missing processed_at", ErrInvalidEntry)
	}
	return nil
}
