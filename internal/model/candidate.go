// Package model defines the core domain models used throughout the application.
package model

import (
	"strings"
	"time"
)

// Attachment describes a single attachment on a candidate message.
type Attachment struct {
	Filename string
	MimeType string
	Size     int64
}

// CandidateMessage is the canonical form of a message surfaced by discovery.
// It is produced once at the mail-source boundary and never mutated afterward;
// downstream components must not branch on provider-specific field shapes.
type CandidateMessage struct {
	Date        time.Time
	ID          string
	ThreadID    string
	Sender      string // Display name, may be empty
	SenderEmail string
	Subject     string
	Snippet     string
	Body        string // Full body text, empty until a deep fetch
	Attachments []Attachment
}

// SenderDomain returns the domain portion of the sender address, lowercased.
func (m *CandidateMessage) SenderDomain() string {
	if idx := strings.LastIndex(m.SenderEmail, "@"); idx >= 0 {
		return strings.ToLower(m.SenderEmail[idx+1:])
	}
	return ""
}
