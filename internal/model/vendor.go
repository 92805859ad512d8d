package model

import "time"

// KnownVendor is a dictionary entry for a vendor we have seen before.
// The extractor consults the dictionary before falling back to heuristics,
// and the classifier treats the domain as a financial sender.
type KnownVendor struct {
	LastSeen time.Time
	Name     string
	Domain   string
	UseCount int
}
