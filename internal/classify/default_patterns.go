package classify

import "github.com/Veraticus/the-bills-must-flow/internal/model"

// ScoredPattern pairs a regex with the signal strength it contributes when
// it matches. Patterns are case-insensitive by default.
type ScoredPattern struct {
	Name  string
	Regex string
	Score float64
}

// TypePatterns groups the per-signal pattern lists for one document type.
type TypePatterns struct {
	Type       model.DocType
	Sender     []ScoredPattern
	Subject    []ScoredPattern
	Body       []ScoredPattern
	Attachment []ScoredPattern
}

// DefaultPatterns returns the built-in signal model. NOISE has no patterns;
// it is the fallback for conversational mail and unmatched candidates.
func DefaultPatterns() []TypePatterns {
	return []TypePatterns{
		{
			Type: model.DocInvoice,
			Sender: []ScoredPattern{
				{Name: "billing-mailbox", Regex: `(billing|invoices?|accounts(-?receivable)?|ar|noreply\+billing)@`, Score: 0.85},
			},
			Subject: []ScoredPattern{
				{Name: "invoice-numbered", Regex: `invoice\s*(#|no\.?|number)?\s*[A-Za-z0-9][A-Za-z0-9-]*`, Score: 0.95},
				{Name: "amount-due", Regex: `amount\s+due`, Score: 0.85},
				{Name: "invoice-word", Regex: `\binvoice\b`, Score: 0.80},
				{Name: "bill-for", Regex: `\b(your )?bill (for|from)\b`, Score: 0.70},
			},
			Body: []ScoredPattern{
				{Name: "balance-due", Regex: `(amount|total|balance)\s+due`, Score: 0.85},
				{Name: "payment-terms", Regex: `payment terms|net\s*\d{1,3}\b`, Score: 0.75},
				{Name: "due-by", Regex: `due\s+(by|on|date)`, Score: 0.70},
				{Name: "invoice-word", Regex: `\binvoice\b`, Score: 0.70},
			},
			Attachment: []ScoredPattern{
				{Name: "invoice-pdf", Regex: `invoice.*\.pdf$`, Score: 0.90},
				{Name: "any-pdf", Regex: `\.pdf$`, Score: 0.50},
			},
		},
		{
			Type: model.DocPaymentRequest,
			Sender: []ScoredPattern{
				{Name: "payments-mailbox", Regex: `(payments?|pay)@`, Score: 0.70},
			},
			Subject: []ScoredPattern{
				{Name: "payment-request", Regex: `(payment request|request for payment|please pay)`, Score: 0.90},
				{Name: "payment-due", Regex: `payment\s+due`, Score: 0.80},
			},
			Body: []ScoredPattern{
				{Name: "remit-phrasing", Regex: `(kindly remit|please (make|send|submit) (a |the )?payment)`, Score: 0.85},
				{Name: "wire-instructions", Regex: `wire (transfer )?instructions`, Score: 0.80},
			},
		},
		{
			Type: model.DocRemittance,
			Subject: []ScoredPattern{
				{Name: "remittance", Regex: `remittance( advice)?`, Score: 0.95},
				{Name: "payment-sent", Regex: `payment (sent|processed|issued)`, Score: 0.75},
			},
			Body: []ScoredPattern{
				{Name: "remittance", Regex: `remittance`, Score: 0.85},
				{Name: "funds-transferred", Regex: `funds (have been |were )?(transferred|sent)`, Score: 0.70},
			},
			Attachment: []ScoredPattern{
				{Name: "remittance-file", Regex: `remit`, Score: 0.80},
			},
		},
		{
			Type: model.DocStatement,
			Subject: []ScoredPattern{
				{Name: "statement", Regex: `\bstatement\b`, Score: 0.85},
				{Name: "account-summary", Regex: `account summary`, Score: 0.80},
			},
			Body: []ScoredPattern{
				{Name: "statement-period", Regex: `statement (period|date|balance)`, Score: 0.80},
			},
			Attachment: []ScoredPattern{
				{Name: "statement-file", Regex: `statement.*\.(pdf|csv)$`, Score: 0.85},
			},
		},
		{
			Type: model.DocReceipt,
			Sender: []ScoredPattern{
				{Name: "receipts-mailbox", Regex: `receipts?@`, Score: 0.80},
			},
			Subject: []ScoredPattern{
				{Name: "receipt", Regex: `\breceipt\b`, Score: 0.90},
				{Name: "thanks-payment", Regex: `thank you for your (payment|purchase|order)`, Score: 0.85},
				{Name: "order-confirmation", Regex: `(order|payment) confirmation`, Score: 0.70},
			},
			Body: []ScoredPattern{
				{Name: "paid-confirmation", Regex: `(payment (received|completed)|has been paid)`, Score: 0.80},
			},
		},
		{
			Type: model.DocException,
			Subject: []ScoredPattern{
				{Name: "payment-failed", Regex: `payment (failed|declined|unsuccessful)`, Score: 0.95},
				{Name: "final-notice", Regex: `(final notice|collections?|account suspended)`, Score: 0.90},
				{Name: "dispute", Regex: `(dispute|chargeback)`, Score: 0.90},
				{Name: "overdue-notice", Regex: `(past due|overdue) (notice|reminder|account)`, Score: 0.85},
			},
			Body: []ScoredPattern{
				{Name: "payment-failed", Regex: `payment (failed|was declined|could not be processed)`, Score: 0.90},
				{Name: "escalation", Regex: `(sent to collections|legal action|service (will be )?suspended)`, Score: 0.85},
			},
		},
	}
}

// personalDomains are consumer mail providers; mail from them is far more
// likely to be conversation than a payable document.
var personalDomains = map[string]bool{
	"gmail.com":      true,
	"googlemail.com": true,
	"yahoo.com":      true,
	"hotmail.com":    true,
	"outlook.com":    true,
	"live.com":       true,
	"icloud.com":     true,
	"me.com":         true,
	"aol.com":        true,
	"proton.me":      true,
	"protonmail.com": true,
}
