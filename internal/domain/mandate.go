package domain

import "time"

// MandateStatus is the human-facing summary of where a rental stands.
// It tracks the escrow state one-to-one and never leads it.
type MandateStatus string

const (
	MandatePending   MandateStatus = "pending"
	MandateFunded    MandateStatus = "funded"
	MandateDelivered MandateStatus = "delivered"
	MandateDisputed  MandateStatus = "disputed"
	MandateSettled   MandateStatus = "settled"
)

// Mandate wraps an escrow agreement in human-readable rental terms. The
// coordinator owns it; it holds only the agreement id, never the record.
type Mandate struct {
	ID          string
	AgreementID string
	Skill       string
	Provider    string
	Renter      string
	Amount      int64
	Deadline    time.Time
	MetadataURI string
	Status      MandateStatus
	FinalState  EscrowState // set once settled
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// MandateStatusFor maps an escrow state onto the mandate summary.
func MandateStatusFor(state EscrowState) MandateStatus {
	switch state {
	case StateCreated:
		return MandatePending
	case StateFunded:
		return MandateFunded
	case StateDelivered:
		return MandateDelivered
	case StateDisputed:
		return MandateDisputed
	default:
		return MandateSettled
	}
}
