package extract

import (
	"regexp"
	"strings"

	"github.com/Veraticus/the-bills-must-flow/internal/model"
)

var (
	explicitVendorRe = regexp.MustCompile(`(?im)^\s*(?:vendor|vendor name|supplier|bill(?:ed)? from|payee)\s*[:=]\s*(.+)$`)
	// Captures a run of capitalized words after "invoice from" etc, so
	// trailing sentence text is not swallowed into the name.
	mentionVendorRe = regexp.MustCompile(`(?i:invoice|bill|statement|payment request)\s+(?i:from)\s+([A-Z][A-Za-z0-9&.'\-]*(?:\s+[A-Z][A-Za-z0-9&.'\-]*){0,4})`)

	legalSuffixRe = regexp.MustCompile(`(?i)\b(inc|incorporated|llc|llp|pllc|ltd|limited|corp|corporation|co|company|gmbh|plc|srl|sa|ag)\.?\s*$`)
	orgKeywordRe  = regexp.MustCompile(`(?i)\b(services|systems|solutions|consulting|technologies|technology|software|industries|group|partners|associates|labs|studios?|bank|supply|logistics|networks?|media|energy|capital)\b`)
	allCapsRe     = regexp.MustCompile(`^[A-Z][A-Z0-9&]{2,}$`)
)

// resolveVendor follows a fixed precedence: explicit vendor field, known
// vendor dictionary (sender domain or body mention), a company-looking
// free-text mention, then the sender display name if it looks like a
// company. A person's name is never reported as a vendor.
func (e *Extractor) resolveVendor(msg *model.CandidateMessage, text string) string {
	if m := explicitVendorRe.FindStringSubmatch(text); m != nil {
		if name := firstLine(m[1]); name != "" {
			return name
		}
	}

	senderDomain := msg.SenderDomain()
	lowerText := strings.ToLower(text)
	for _, v := range e.vendors {
		if v.Domain != "" && v.Domain == senderDomain {
			return v.Name
		}
		if v.Name != "" && strings.Contains(lowerText, strings.ToLower(v.Name)) {
			return v.Name
		}
	}

	if m := mentionVendorRe.FindStringSubmatch(text); m != nil {
		if name := strings.TrimSpace(m[1]); LooksLikeCompany(name) {
			return name
		}
	}

	if LooksLikeCompany(msg.Sender) {
		return strings.TrimSpace(msg.Sender)
	}

	return ""
}

// LooksLikeCompany applies a heuristic test for organization names: legal
// entity suffixes, organizational keywords, or an all-caps brand token.
// Plain two-word title-case strings read as people and fail the test.
func LooksLikeCompany(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	if legalSuffixRe.MatchString(name) {
		return true
	}
	if orgKeywordRe.MatchString(name) {
		return true
	}
	words := strings.Fields(name)
	if len(words) == 1 && allCapsRe.MatchString(words[0]) {
		return true
	}
	return false
}
