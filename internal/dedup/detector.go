// Package dedup fuzzy-matches candidates against the live queue and the
// processed-history window to catch double-submitted payables.
package dedup

import (
	"math"
	"regexp"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/Veraticus/the-bills-must-flow/internal/model"
)

// Config holds the fuzzy-matching tunables. Both thresholds are
// deliberately configurable rather than hard-coded.
type Config struct {
	// EditDistance is the maximum Levenshtein distance at which two
	// normalized vendor names still count as the same vendor. Only applied
	// when both names are longer than MinFuzzyLength.
	EditDistance int
	// AmountTolerance is the relative tolerance for amount matching,
	// measured against the larger of the two amounts.
	AmountTolerance float64
}

// DefaultConfig returns the default fuzzy-matching thresholds.
func DefaultConfig() Config {
	return Config{
		EditDistance:    2,
		AmountTolerance: 0.01,
	}
}

// MinFuzzyLength: edit-distance matching only applies to normalized names
// longer than this, so short names like "abc" cannot fuzz into "xyz".
const MinFuzzyLength = 5

// Detector flags candidates that collide with existing items.
type Detector struct {
	cfg Config
}

// New creates a detector with the given thresholds.
func New(cfg Config) *Detector {
	if cfg.EditDistance <= 0 {
		cfg.EditDistance = DefaultConfig().EditDistance
	}
	if cfg.AmountTolerance <= 0 {
		cfg.AmountTolerance = DefaultConfig().AmountTolerance
	}
	return &Detector{cfg: cfg}
}

var (
	nonAlnumRe    = regexp.MustCompile(`[^a-z0-9 ]+`)
	legalSuffixes = map[string]bool{
		"inc": true, "incorporated": true, "llc": true, "llp": true,
		"ltd": true, "limited": true, "corp": true, "corporation": true,
		"co": true, "company": true, "gmbh": true, "plc": true,
		"srl": true, "sa": true, "ag": true,
	}
)

// NormalizeVendor lowercases a vendor name, strips punctuation, and drops
// trailing legal-entity suffixes: "ACME Incorporated" and "Acme, Inc."
// both normalize to "acme".
func NormalizeVendor(name string) string {
	lower := strings.ToLower(strings.TrimSpace(name))
	lower = nonAlnumRe.ReplaceAllString(lower, " ")
	words := strings.Fields(lower)
	for len(words) > 1 && legalSuffixes[words[len(words)-1]] {
		words = words[:len(words)-1]
	}
	return strings.Join(words, "")
}

// VendorsMatch reports whether two vendor names identify the same vendor.
// The relation is symmetric: equality, mutual containment, or a small edit
// distance between the normalized forms.
func (d *Detector) VendorsMatch(a, b string) bool {
	na, nb := NormalizeVendor(a), NormalizeVendor(b)
	if na == "" || nb == "" {
		return false
	}
	if na == nb {
		return true
	}
	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		return true
	}
	if len(na) > MinFuzzyLength && len(nb) > MinFuzzyLength {
		return levenshtein.ComputeDistance(na, nb) <= d.cfg.EditDistance
	}
	return false
}

// AmountsMatch reports whether two amounts are numerically equal or within
// the configured tolerance of the larger value.
func (d *Detector) AmountsMatch(a, b float64) bool {
	if a == b {
		return true
	}
	larger := math.Max(math.Abs(a), math.Abs(b))
	if larger == 0 {
		return false
	}
	return math.Abs(a-b) <= d.cfg.AmountTolerance*larger
}

// Find checks extracted fields against the live queue and processed
// history. A duplicate requires the same vendor plus either a matching
// amount or an identical invoice number. At most MaxDuplicateMatches
// summaries are recorded for operator review.
func (d *Detector) Find(fields *model.ExtractedFields, queue []model.QueueItem, history []model.ProcessedEntry) model.DuplicateMatch {
	result := model.DuplicateMatch{}
	if fields.Vendor == "" {
		return result
	}

	record := func(reason string, summary model.MatchSummary) {
		if !result.IsDuplicate {
			result.IsDuplicate = true
			result.Reason = reason
		}
		if len(result.Matches) < model.MaxDuplicateMatches {
			result.Matches = append(result.Matches, summary)
		}
	}

	for i := range queue {
		item := &queue[i]
		if d.fieldsCollide(fields, item.Fields.Vendor, item.Fields.Amount, item.Fields.InvoiceNumber) {
			var amount float64
			if item.Fields.Amount != nil {
				amount = *item.Fields.Amount
			}
			record(model.DuplicateReasonQueued, model.MatchSummary{
				ID:            item.Message.ID,
				Vendor:        item.Fields.Vendor,
				Amount:        amount,
				InvoiceNumber: item.Fields.InvoiceNumber,
				Date:          item.Message.Date,
			})
		}
	}

	for i := range history {
		entry := &history[i]
		amount := entry.Amount
		var amountPtr *float64
		if amount != 0 {
			amountPtr = &amount
		}
		if d.fieldsCollide(fields, entry.Vendor, amountPtr, entry.InvoiceNumber) {
			record(model.DuplicateReasonProcessed, model.MatchSummary{
				ID:            entry.ID,
				Vendor:        entry.Vendor,
				Amount:        entry.Amount,
				InvoiceNumber: entry.InvoiceNumber,
				Date:          entry.ProcessedAt,
			})
		}
	}

	return result
}

func (d *Detector) fieldsCollide(fields *model.ExtractedFields, vendor string, amount *float64, invoiceNumber string) bool {
	if !d.VendorsMatch(fields.Vendor, vendor) {
		return false
	}
	if fields.InvoiceNumber != "" && fields.InvoiceNumber == invoiceNumber {
		return true
	}
	if fields.Amount != nil && amount != nil && d.AmountsMatch(*fields.Amount, *amount) {
		return true
	}
	return false
}
