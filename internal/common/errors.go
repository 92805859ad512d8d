// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Storage errors.
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEntry = errors.New("duplicate entry")

	// Backend errors.
	ErrBackendOffline = errors.New("backend unavailable")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ErrorKind names the pipeline stage an error belongs to.
type ErrorKind string

// Pipeline error kinds.
const (
	KindDiscovery ErrorKind = "discovery"
	KindTriage    ErrorKind = "triage"
	KindSync      ErrorKind = "sync"
	KindPosting   ErrorKind = "posting"
)

// PipelineError wraps a failure with the pipeline stage it occurred in
// and, for triage failures, the candidate that was being processed.
type PipelineError struct {
	Err         error
	Kind        ErrorKind
	CandidateID string
}

func (e *PipelineError) Error() string {
	if e.CandidateID != "" {
		return fmt.Sprintf("%s error for candidate %s: %v", e.Kind, e.CandidateID, e.Err)
	}
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// NewDiscoveryError wraps a candidate-fetch failure.
func NewDiscoveryError(err error) error {
	return &PipelineError{Kind: KindDiscovery, Err: err}
}

// NewTriageError wraps a classification/extraction failure for one candidate.
func NewTriageError(candidateID string, err error) error {
	return &PipelineError{Kind: KindTriage, CandidateID: candidateID, Err: err}
}

// NewSyncError wraps a reconciliation failure.
func NewSyncError(err error) error {
	return &PipelineError{Kind: KindSync, Err: err}
}

// NewPostingError wraps an approval/posting failure for one candidate.
func NewPostingError(candidateID string, err error) error {
	return &PipelineError{Kind: KindPosting, CandidateID: candidateID, Err: err}
}

// KindOf returns the pipeline stage of an error, or "" if it is not a
// PipelineError.
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// IsRetryable determines if an error should trigger a retry. Explicit
// RetryableError metadata wins; otherwise rate limits, offline backends,
// and timeouts retry, as do discovery, sync, and posting failures, which
// wrap transient provider calls. Triage failures are pinned to one
// candidate, so running the same input again cannot change the outcome.
func IsRetryable(err error) bool {
	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	if errors.Is(err, ErrRateLimit) ||
		errors.Is(err, ErrBackendOffline) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	switch KindOf(err) {
	case KindDiscovery, KindSync, KindPosting:
		return true
	}

	return false
}
