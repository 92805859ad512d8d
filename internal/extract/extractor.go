// Package extract pulls structured payable fields out of a candidate's
// free text: vendor, amount, currency, due date, invoice number, terms.
package extract

import (
	"regexp"
	"strings"
	"time"

	"github.com/Veraticus/the-bills-must-flow/internal/model"
)

// Extractor derives ExtractedFields from candidate messages. The clock is
// injectable so relative due dates are deterministic in tests.
type Extractor struct {
	now             func() time.Time
	vendors         []model.KnownVendor
	defaultCurrency string
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithNow overrides the reference clock used for relative due dates.
func WithNow(now func() time.Time) Option {
	return func(e *Extractor) { e.now = now }
}

// WithDefaultCurrency sets the currency assumed when none is detected.
func WithDefaultCurrency(code string) Option {
	return func(e *Extractor) { e.defaultCurrency = code }
}

// New creates an extractor. vendors is the known-vendor dictionary used in
// the vendor resolution chain; it may be empty.
func New(vendors []model.KnownVendor, opts ...Option) *Extractor {
	e := &Extractor{
		vendors:         vendors,
		now:             time.Now,
		defaultCurrency: "USD",
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract pulls all fields from a candidate message. Fields that cannot be
// extracted are left zero-valued; extraction itself never fails.
func (e *Extractor) Extract(msg *model.CandidateMessage) model.ExtractedFields {
	text := msg.Subject + "\n" + msg.Snippet
	if msg.Body != "" {
		text += "\n" + msg.Body
	}

	fields := model.ExtractedFields{Currency: e.defaultCurrency}

	if amount, currency, ok := ParseAmount(text); ok {
		fields.Amount = &amount
		if currency != "" {
			fields.Currency = currency
		}
	}

	fields.DueDate = ParseDueDate(text, e.now())
	fields.InvoiceNumber = parseInvoiceNumber(text)
	fields.PaymentTerms = parsePaymentTerms(text)
	fields.Vendor = e.resolveVendor(msg, text)

	return fields
}

var (
	invoiceNumberRe = regexp.MustCompile(`(?i)invoice\s*(?:#|no\.?|num(?:ber)?\.?)?\s*[:#]?\s*([A-Za-z0-9][A-Za-z0-9-]{0,19})`)
	hasDigitRe      = regexp.MustCompile(`\d`)

	netTermsRe   = regexp.MustCompile(`(?i)\bnet\s*(\d{1,3})\b`)
	onReceiptRe  = regexp.MustCompile(`(?i)due\s+(?:up)?on\s+receipt`)
	codTermsRe   = regexp.MustCompile(`(?i)\bC\.?O\.?D\.?\b`)
)

func parseInvoiceNumber(text string) string {
	for _, m := range invoiceNumberRe.FindAllStringSubmatch(text, -1) {
		// An invoice number must contain a digit; this keeps phrases
		// like "invoice from" out of the field.
		if hasDigitRe.MatchString(m[1]) {
			return m[1]
		}
	}
	return ""
}

func parsePaymentTerms(text string) string {
	if m := netTermsRe.FindStringSubmatch(text); m != nil {
		return "Net " + m[1]
	}
	if onReceiptRe.MatchString(text) {
		return "Due on receipt"
	}
	if codTermsRe.MatchString(text) {
		return "COD"
	}
	return ""
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}
