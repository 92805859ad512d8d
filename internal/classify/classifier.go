// Package classify scores raw message signals into a document type and
// confidence. A cheap quick pass uses only list-level metadata; the deep
// pass additionally scores body text and attachment names.
package classify

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Veraticus/the-bills-must-flow/internal/model"
)

// Signal weights. Confidence is normalized by the weight sum of signals
// that actually fired, not all four.
const (
	weightSender     = 0.30
	weightSubject    = 0.35
	weightBody       = 0.20
	weightAttachment = 0.15
)

// exceptionPreemptThreshold: an EXCEPTION score above this always wins,
// even when another type scored higher.
const exceptionPreemptThreshold = 0.6

// noSignalConfidence is assigned when nothing in the signal model fired.
const noSignalConfidence = 0.5

type compiledPattern struct {
	regex *regexp.Regexp
	name  string
	score float64
}

type compiledType struct {
	docType    model.DocType
	sender     []compiledPattern
	subject    []compiledPattern
	body       []compiledPattern
	attachment []compiledPattern
}

// Classifier scores candidates against the signal model. It is safe for
// concurrent use once constructed.
type Classifier struct {
	knownDomains map[string]bool
	types        []compiledType
}

// New creates a classifier from the default signal model. knownDomains are
// sender domains of vendors we already do business with; mail from them is
// treated as a financial sender.
func New(knownDomains []string) (*Classifier, error) {
	return NewWithPatterns(DefaultPatterns(), knownDomains)
}

// NewWithPatterns creates a classifier from a custom signal model.
func NewWithPatterns(patterns []TypePatterns, knownDomains []string) (*Classifier, error) {
	c := &Classifier{
		knownDomains: make(map[string]bool, len(knownDomains)),
	}
	for _, d := range knownDomains {
		c.knownDomains[strings.ToLower(d)] = true
	}

	for _, tp := range patterns {
		ct := compiledType{docType: tp.Type}
		var err error
		if ct.sender, err = compileAll(tp.Sender); err != nil {
			return nil, fmt.Errorf("sender patterns for %s: %w", tp.Type, err)
		}
		if ct.subject, err = compileAll(tp.Subject); err != nil {
			return nil, fmt.Errorf("subject patterns for %s: %w", tp.Type, err)
		}
		if ct.body, err = compileAll(tp.Body); err != nil {
			return nil, fmt.Errorf("body patterns for %s: %w", tp.Type, err)
		}
		if ct.attachment, err = compileAll(tp.Attachment); err != nil {
			return nil, fmt.Errorf("attachment patterns for %s: %w", tp.Type, err)
		}
		c.types = append(c.types, ct)
	}

	return c, nil
}

func compileAll(patterns []ScoredPattern) ([]compiledPattern, error) {
	compiled := make([]compiledPattern, 0, len(patterns))
	for _, p := range patterns {
		regexStr := p.Regex
		if !strings.HasPrefix(regexStr, "(?i)") {
			regexStr = "(?i)" + regexStr
		}
		regex, err := regexp.Compile(regexStr)
		if err != nil {
			return nil, fmt.Errorf("failed to compile pattern %s: %w", p.Name, err)
		}
		compiled = append(compiled, compiledPattern{
			name:  p.Name,
			score: p.Score,
			regex: regex,
		})
	}
	return compiled, nil
}

// Quick classifies using only sender, subject, and snippet. Used for
// list-level decisions before a message body has been fetched.
func (c *Classifier) Quick(msg *model.CandidateMessage) model.ClassificationResult {
	return c.classify(msg, false)
}

// Deep classifies using the full body and attachment names in addition to
// the quick-pass signals. Used for thread-level decisions.
func (c *Classifier) Deep(msg *model.CandidateMessage) model.ClassificationResult {
	return c.classify(msg, true)
}

func (c *Classifier) classify(msg *model.CandidateMessage, deep bool) model.ClassificationResult {
	convScore := c.ConversationScore(msg, deep)
	if convScore >= 0.5 {
		return model.ClassificationResult{
			Type:              model.DocNoise,
			Confidence:        convScore,
			ConversationScore: convScore,
			Deep:              deep,
		}
	}

	senderText := strings.ToLower(msg.SenderEmail)
	subjectText := msg.Subject
	bodyText := msg.Snippet
	if deep && msg.Body != "" {
		bodyText = msg.Snippet + "\n" + msg.Body
	}
	var attachText string
	if deep {
		names := make([]string, len(msg.Attachments))
		for i, a := range msg.Attachments {
			names[i] = strings.ToLower(a.Filename)
		}
		attachText = strings.Join(names, "\n")
	}

	knownSender := c.knownDomains[msg.SenderDomain()]

	var best, exception *scored
	for i := range c.types {
		s := c.scoreType(&c.types[i], senderText, subjectText, bodyText, attachText, deep, knownSender)
		if s == nil {
			continue
		}
		if c.types[i].docType == model.DocException {
			exception = s
		}
		if best == nil || s.confidence > best.confidence {
			best = s
		}
	}

	if best == nil {
		return model.ClassificationResult{
			Type:              model.DocNoise,
			Confidence:        noSignalConfidence,
			ConversationScore: convScore,
			Deep:              deep,
		}
	}

	// An exception score above the threshold pre-empts everything else.
	if exception != nil && exception.confidence > exceptionPreemptThreshold {
		best = exception
	}

	return model.ClassificationResult{
		Type:              best.docType,
		Confidence:        best.confidence,
		Signals:           best.contributions,
		ConversationScore: convScore,
		Deep:              deep,
	}
}

type scored struct {
	docType       model.DocType
	contributions []model.SignalContribution
	confidence    float64
}

// scoreType sums signal_score x signal_weight over fired signals and
// normalizes by the weights of the signals that fired. Returns nil when no
// signal fired for this type.
func (c *Classifier) scoreType(ct *compiledType, sender, subject, body, attach string, deep, knownSender bool) *scored {
	s := &scored{docType: ct.docType}
	var weighted, firedWeight float64

	record := func(sig model.Signal, weight float64, name string, score float64) {
		weighted += score * weight
		firedWeight += weight
		s.contributions = append(s.contributions, model.SignalContribution{
			Signal:  sig,
			Pattern: name,
			Score:   score,
			Weight:  weight,
		})
	}

	if name, score, ok := bestMatch(ct.subject, subject); ok {
		record(model.SignalSubject, weightSubject, name, score)
	}
	if name, score, ok := bestMatch(ct.body, body); ok {
		record(model.SignalBody, weightBody, name, score)
	}
	if deep && attach != "" {
		if name, score, ok := bestMatch(ct.attachment, attach); ok {
			record(model.SignalAttachment, weightAttachment, name, score)
		}
	}

	// The sender signal fires on a pattern match, or on a known vendor
	// domain when some content signal already fired for this type. A known
	// sender alone says nothing about which document type this is.
	name, score, ok := bestMatch(ct.sender, sender)
	if knownSender && (ok || firedWeight > 0) {
		name, score, ok = "known-vendor-domain", 1.0, true
	}
	if ok {
		record(model.SignalSender, weightSender, name, score)
	}

	if firedWeight == 0 {
		return nil
	}
	s.confidence = clamp01(weighted / firedWeight)
	return s
}

// bestMatch returns the strongest matching pattern for a signal.
func bestMatch(patterns []compiledPattern, text string) (string, float64, bool) {
	if text == "" {
		return "", 0, false
	}
	var name string
	var score float64
	for _, p := range patterns {
		if p.score > score && p.regex.MatchString(text) {
			name, score = p.name, p.score
		}
	}
	return name, score, score > 0
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
