// Package domain holds the settlement and reputation types shared by the
// engines, the stores, and the HTTP surface. Everything here is pure data
// plus the state machine tables; no package in domain touches a store.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

type EscrowState string

const (
	StateCreated         EscrowState = "created"
	StateFunded          EscrowState = "funded"
	StateDelivered       EscrowState = "delivered"
	StateDisputed        EscrowState = "disputed"
	StateReleased        EscrowState = "released"
	StateCancelled       EscrowState = "cancelled"
	StateRefunded        EscrowState = "refunded"
	StateResolvedRelease EscrowState = "resolved_release"
	StateResolvedRefund  EscrowState = "resolved_refund"
)

// transitions is the full state machine graph. An operation is only
// permitted if its target state appears under the agreement's current
// state; terminal states have no outgoing edges.
var transitions = map[EscrowState][]EscrowState{
	StateCreated:   {StateFunded, StateCancelled},
	StateFunded:    {StateDelivered, StateReleased, StateCancelled, StateRefunded, StateDisputed},
	StateDelivered: {StateReleased, StateDisputed},
	StateDisputed:  {StateResolvedRelease, StateResolvedRefund},
}

func (s EscrowState) Valid() bool {
	switch s {
	case StateCreated, StateFunded, StateDelivered, StateDisputed,
		StateReleased, StateCancelled, StateRefunded, StateResolvedRelease, StateResolvedRefund:
		return true
	}
	return false
}

// Terminal reports whether no further transition is permitted from s.
func (s EscrowState) Terminal() bool {
	if !s.Valid() {
		return false
	}
	return len(transitions[s]) == 0
}

// CanTransition reports whether from -> to is an edge of the state graph.
// Note that release from funded is additionally gated by the agreement's
// release policy; CanTransition only answers for the graph itself.
func CanTransition(from, to EscrowState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ReleasePolicy decides whether release requires a submitted delivery.
// It is fixed at agreement creation time.
type ReleasePolicy string

const (
	// ReleaseRequiresDelivery only allows release once the provider has
	// submitted a deliverable hash.
	ReleaseRequiresDelivery ReleasePolicy = "require_delivery"
	// ReleaseTrustRenter lets the renter release straight from funded,
	// waiving delivery proof.
	ReleaseTrustRenter ReleasePolicy = "trust_renter"
)

func (p ReleasePolicy) Valid() bool {
	return p == ReleaseRequiresDelivery || p == ReleaseTrustRenter
}

type ResolutionDecision string

const (
	DecisionReleaseToProvider ResolutionDecision = "release_to_provider"
	DecisionRefundToRenter    ResolutionDecision = "refund_to_renter"
)

func (d ResolutionDecision) Valid() bool {
	return d == DecisionReleaseToProvider || d == DecisionRefundToRenter
}

// Agreement binds a locked payment to delivery conditions between a
// renter and a provider. The escrow engine owns the record for its
// whole lifetime; everyone else holds the id.
type Agreement struct {
	ID              string
	Provider        string
	Renter          string
	Skill           string
	Amount          int64 // smallest currency unit
	Deadline        time.Time
	ReleasePolicy   ReleasePolicy
	DeliverableHash string // write-once, set on delivery
	State           EscrowState
	DisputeReason   string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	FundedAt        *time.Time
	DeliveredAt     *time.Time
	DisputedAt      *time.Time
	ClosedAt        *time.Time
}

// EscrowAccount is the ledger address holding the locked amount while
// the agreement is in flight.
func (a Agreement) EscrowAccount() string {
	return EscrowAccountFor(a.ID)
}

func EscrowAccountFor(agreementID string) string {
	return "escrow:" + agreementID
}

// AgreementID derives the opaque agreement id deterministically from the
// parties, the skill, and a caller-chosen nonce. Two calls with the same
// inputs always name the same agreement.
func AgreementID(provider, renter, skill, nonce string) string {
	seed := strings.Join([]string{provider, renter, skill, nonce}, "|")
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])[:32]
}

// ValidateTerms enforces the creation invariants: positive amount and a
// deadline strictly after the creation time.
func ValidateTerms(provider, renter, skill string, amount int64, deadline, now time.Time) error {
	if provider == "" || renter == "" {
		return fmt.Errorf("%w: provider and renter are required", ErrInvalidTerms)
	}
	if provider == renter {
		return fmt.Errorf("%w: provider and renter must differ", ErrInvalidTerms)
	}
	if skill == "" {
		return fmt.Errorf("%w: skill is required", ErrInvalidTerms)
	}
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidTerms)
	}
	if !deadline.After(now) {
		return fmt.Errorf("%w: deadline must be in the future", ErrInvalidTerms)
	}
	return nil
}

type TransferReceipt struct {
	From   string
	To     string
	Amount int64
	At     time.Time
}
