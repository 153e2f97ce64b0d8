package domain

import "time"

const EventChainVersion = "settlement_chain_v0"

type EventType string

const (
	EventInitialized     EventType = "escrow_initialized"
	EventFunded          EventType = "escrow_funded"
	EventDelivered       EventType = "delivery_submitted"
	EventReleased        EventType = "funds_released"
	EventCancelled       EventType = "escrow_cancelled"
	EventRefunded        EventType = "deadline_refunded"
	EventDisputed        EventType = "dispute_opened"
	EventDisputeResolved EventType = "dispute_resolved"
)

type ActorType string

const (
	ActorRenter   ActorType = "renter"
	ActorProvider ActorType = "provider"
	ActorArbiter  ActorType = "arbiter"
	ActorSystem   ActorType = "system"
)

// SettlementEvent is one link in an agreement's hash-chained transition
// history. Seq is 1-based per agreement; PrevEventHash of the first
// event is the all-zero hash.
type SettlementEvent struct {
	ID            string
	AgreementID   string
	Seq           int64
	EventType     EventType
	ActorType     ActorType
	Actor         string
	Payload       map[string]any
	PayloadHash   string
	PrevEventHash string
	EventHash     string
	CreatedAt     time.Time
}
