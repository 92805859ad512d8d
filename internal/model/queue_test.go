package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
		want bool
	}{
		{name: "new to pending approval", from: StatusNew, to: StatusPendingApproval, want: true},
		{name: "new to rejected", from: StatusNew, to: StatusRejected, want: true},
		{name: "new to approved", from: StatusNew, to: StatusApproved, want: true},
		{name: "new to posted", from: StatusNew, to: StatusPosted, want: true},
		{name: "new to paid skips posting", from: StatusNew, to: StatusPaid, want: false},
		{name: "pending to approved", from: StatusPendingApproval, to: StatusApproved, want: true},
		{name: "pending to rejected", from: StatusPendingApproval, to: StatusRejected, want: true},
		{name: "pending to posted", from: StatusPendingApproval, to: StatusPosted, want: true},
		{name: "approved to posted", from: StatusApproved, to: StatusPosted, want: true},
		{name: "approved to rejected", from: StatusApproved, to: StatusRejected, want: true},
		{name: "approved back to pending", from: StatusApproved, to: StatusPendingApproval, want: false},
		{name: "posted to paid", from: StatusPosted, to: StatusPaid, want: true},
		{name: "posted back to approved", from: StatusPosted, to: StatusApproved, want: false},
		{name: "rejected reopens to pending", from: StatusRejected, to: StatusPendingApproval, want: true},
		{name: "rejected to approved directly", from: StatusRejected, to: StatusApproved, want: false},
		{name: "paid is terminal", from: StatusPaid, to: StatusPosted, want: false},
		{name: "self transition", from: StatusPendingApproval, to: StatusPendingApproval, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestQueueItem_EffectiveConfidence(t *testing.T) {
	tests := []struct {
		name       string
		confidence float64
		duplicate  bool
		want       float64
	}{
		{name: "non-duplicate keeps confidence", confidence: 0.97, duplicate: false, want: 0.97},
		{name: "duplicate above cap is capped", confidence: 0.97, duplicate: true, want: DuplicateConfidenceCap},
		{name: "duplicate below cap is unchanged", confidence: 0.55, duplicate: true, want: 0.55},
		{name: "duplicate at cap is unchanged", confidence: 0.70, duplicate: true, want: 0.70},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := QueueItem{
				Classification: ClassificationResult{Confidence: tt.confidence},
				Duplicate:      DuplicateMatch{IsDuplicate: tt.duplicate},
			}
			assert.InDelta(t, tt.want, item.EffectiveConfidence(), 1e-9)
		})
	}
}

func TestQueueItem_Overdue(t *testing.T) {
	item := QueueItem{}
	assert.False(t, item.Overdue(), "no due date means not overdue")

	item.Fields.DueDate = &DueDate{Date: time.Now().AddDate(0, 0, -3), Overdue: true}
	assert.True(t, item.Overdue())

	item.Fields.DueDate = &DueDate{Date: time.Now().AddDate(0, 0, 3), Overdue: false}
	assert.False(t, item.Overdue())
}
