package classify

import (
	"regexp"
	"strings"

	"github.com/Veraticus/the-bills-must-flow/internal/model"
)

// Conversation signal contributions. The score is a sum of fired
// heuristics minus the pull-back terms, clamped to [0,1].
const (
	convReplyForward   = 0.30
	convPersonalDomain = 0.25
	convRequestPhrase  = 0.20
	convGreeting       = 0.15
	convShortBody      = 0.10

	convFinancialKeywordPull = 0.30
	convKnownSenderPull      = 0.30
)

var (
	replyForwardRe  = regexp.MustCompile(`(?i)^\s*(re|fwd?|fw)\s*:`)
	requestPhraseRe = regexp.MustCompile(`(?i)(can|could|would) you|please (resend|send me|forward|let me know|advise)|\bthoughts\?|\?\s*$`)
	greetingRe      = regexp.MustCompile(`(?i)^\s*(hi|hey|hello|dear|good (morning|afternoon|evening))\b`)

	// Strong financial-document keywords pull the conversation score back
	// down; a bare "invoice" mention in a reply is not enough.
	financialKeywordRe = regexp.MustCompile(`(?i)invoice\s*(#|no\.?|number)\s*\S|amount\s+due|payment\s+due|balance\s+due|remittance|wire (transfer|instructions)|purchase order|po\s*#|past due`)
)

// ConversationScore computes a 0-1 score for how much a message reads as
// human conversation rather than a generated financial document. Scores at
// or above 0.5 force classification to NOISE.
func (c *Classifier) ConversationScore(msg *model.CandidateMessage, deep bool) float64 {
	score := 0.0

	if replyForwardRe.MatchString(msg.Subject) {
		score += convReplyForward
	}
	if personalDomains[msg.SenderDomain()] {
		score += convPersonalDomain
	}

	text := msg.Subject + "\n" + msg.Snippet
	if deep && msg.Body != "" {
		text += "\n" + msg.Body
	}
	if requestPhraseRe.MatchString(text) {
		score += convRequestPhrase
	}

	opening := msg.Snippet
	if deep && msg.Body != "" {
		opening = msg.Body
	}
	if greetingRe.MatchString(strings.TrimSpace(opening)) {
		score += convGreeting
	}
	if deep && msg.Body != "" && len(msg.Body) < 200 && len(msg.Attachments) == 0 {
		score += convShortBody
	}

	if financialKeywordRe.MatchString(text) {
		score -= convFinancialKeywordPull
	}
	if c.knownDomains[msg.SenderDomain()] {
		score -= convKnownSenderPull
	}

	return clamp01(score)
}
