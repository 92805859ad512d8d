package model

import "time"

// DueDate carries a parsed due date together with its relation to "now"
// at extraction time. Date is anchored at local midnight.
type DueDate struct {
	Date      time.Time
	Raw       string // The text the date was parsed from
	ISO       string // YYYY-MM-DD
	DaysUntil int    // Signed offset from the reference midnight
	Overdue   bool
}

// ExtractedFields holds the structured fields pulled from a candidate's
// free text. Nil or empty values mean the field could not be extracted;
// Vendor in particular is never populated with a person's name.
type ExtractedFields struct {
	Amount        *float64
	DueDate       *DueDate
	Vendor        string
	Currency      string
	InvoiceNumber string
	PaymentTerms  string
}

// Complete reports whether the extraction found the fields needed to
// post a payable without human help.
func (f *ExtractedFields) Complete() bool {
	return f.Vendor != "" && f.Amount != nil && f.InvoiceNumber != ""
}
