package usecase

import (
	"context"
	"time"

	"clawtrust/internal/domain"
)

// LedgerAdapter is the external balance-transfer primitive. Transfers are
// atomic and final once the adapter reports success; the escrow engine
// never assumes reversibility.
type LedgerAdapter interface {
	Transfer(ctx context.Context, from, to string, amount int64) (domain.TransferReceipt, error)
	GetBalance(ctx context.Context, address string) (int64, error)
}

// SettlementTx is a transactional view over one agreement, its event
// chain, and the ledger. Everything done through a tx commits together
// or not at all.
type SettlementTx interface {
	Get(id string) (*domain.Agreement, error)
	Create(a domain.Agreement) error
	Update(a domain.Agreement) error
	Transfer(from, to string, amount int64) (domain.TransferReceipt, error)
	// LastEvent returns the chain head for the agreement: seq 0 and the
	// zero hash when the chain is empty.
	LastEvent(agreementID string) (int64, string, error)
	AppendEvent(e domain.SettlementEvent) error
}

// SettlementStore owns agreement records. WithAgreementTx serializes
// access per agreement id: at most one transaction is in flight for a
// given agreement at any time.
type SettlementStore interface {
	GetAgreement(ctx context.Context, id string) (*domain.Agreement, error)
	ListExpiredFunded(ctx context.Context, now time.Time) ([]string, error)
	ListEvents(ctx context.Context, agreementID string) ([]domain.SettlementEvent, error)
	WithAgreementTx(ctx context.Context, id string, fn func(tx SettlementTx) error) error
}

// ReputationTx is a transactional view over one agent's record and the
// processed-outcomes set.
type ReputationTx interface {
	Record() (domain.ReputationRecord, error)
	Save(r domain.ReputationRecord) error
	// MarkProcessed records that the agreement's outcome has been folded
	// for this agent; a second call fails with ErrDuplicateOutcome.
	MarkProcessed(agreementID string) error
}

// ReputationStore owns reputation records, serialized per agent so
// unrelated agents never contend.
type ReputationStore interface {
	GetRecord(ctx context.Context, agent string) (*domain.ReputationRecord, error)
	ListTop(ctx context.Context, n int) ([]domain.ReputationRecord, error)
	WithRecordTx(ctx context.Context, agent string, fn func(tx ReputationTx) error) error
}

type MandateStore interface {
	Create(ctx context.Context, m domain.Mandate) error
	Get(ctx context.Context, id string) (*domain.Mandate, error)
	GetByAgreement(ctx context.Context, agreementID string) (*domain.Mandate, error)
	Update(ctx context.Context, m domain.Mandate) error
	List(ctx context.Context, status domain.MandateStatus) ([]domain.Mandate, error)
}

// Canonicalizer produces canonical JSON for hashing; the settlement
// event chain depends on it being deterministic.
type Canonicalizer interface {
	CanonicalizeAny(v any) ([]byte, error)
}

// ReputationCache fronts reputation reads for the discovery consumer.
type ReputationCache interface {
	Get(ctx context.Context, key string) (*domain.ReputationView, bool, error)
	Put(ctx context.Context, key string, value domain.ReputationView, ttl time.Duration) error
}
