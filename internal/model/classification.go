package model

// DocType identifies the kind of financial document a message appears to be.
type DocType string

// Document type constants.
const (
	DocInvoice        DocType = "INVOICE"
	DocPaymentRequest DocType = "PAYMENT_REQUEST"
	DocRemittance     DocType = "REMITTANCE"
	DocStatement      DocType = "STATEMENT"
	DocReceipt        DocType = "RECEIPT"
	DocException      DocType = "EXCEPTION"
	DocNoise          DocType = "NOISE"
)

// Signal identifies which message facet a classification signal scored.
type Signal string

// Classification signal constants.
const (
	SignalSender     Signal = "sender"
	SignalSubject    Signal = "subject"
	SignalBody       Signal = "body"
	SignalAttachment Signal = "attachment"
)

// SignalContribution records one signal's score and weight for a document type.
type SignalContribution struct {
	Signal  Signal
	Pattern string // Name of the pattern that matched
	Score   float64
	Weight  float64
}

// ClassificationResult is the outcome of classifying one candidate.
// Produced once per candidate and never mutated.
type ClassificationResult struct {
	Type              DocType
	Signals           []SignalContribution
	Confidence        float64 // Normalized to [0,1]
	ConversationScore float64 // 0-1; >= 0.5 forces NOISE
	Deep              bool    // True when body and attachments were scored
}
