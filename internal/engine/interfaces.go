package engine

import (
	"context"

	"github.com/Veraticus/the-bills-must-flow/internal/model"
)

// Classifier scores candidates into a document type and confidence.
type Classifier interface {
	Quick(msg *model.CandidateMessage) model.ClassificationResult
	Deep(msg *model.CandidateMessage) model.ClassificationResult
}

// Extractor pulls structured fields from a candidate's free text.
type Extractor interface {
	Extract(msg *model.CandidateMessage) model.ExtractedFields
}

// DuplicateFinder checks extracted fields against the live queue and
// processed history.
type DuplicateFinder interface {
	Find(fields *model.ExtractedFields, queue []model.QueueItem, history []model.ProcessedEntry) model.DuplicateMatch
}

// AdviceAction is an upstream agent's verdict for a candidate.
type AdviceAction string

// Upstream advice actions.
const (
	AdviceReject          AdviceAction = "reject"
	AdviceAutoApprove     AdviceAction = "auto_approve"
	AdviceSendForApproval AdviceAction = "send_for_approval"
)

// Advice is an optional upstream decision that takes precedence over the
// local confidence rules.
type Advice struct {
	Action AdviceAction
	Reason string
}

// Advisor supplies upstream decisions. A nil advisor (or a nil Advice)
// means only the local confidence rules apply.
type Advisor interface {
	Advise(ctx context.Context, item *model.QueueItem) (*Advice, error)
}

// LabelEffects is the fire-and-forget label channel. Implementations must
// never block or surface failures into the pipeline.
type LabelEffects interface {
	Apply(targetID, label string)
	Remove(targetID, label string)
}

// noopEffects is used when no effects worker is wired.
type noopEffects struct{}

func (noopEffects) Apply(_, _ string)  {}
func (noopEffects) Remove(_, _ string) {}
