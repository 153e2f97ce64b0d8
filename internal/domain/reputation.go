package domain

import "time"

// DefaultScore is the fixed composite given to agents with no settled
// history, chosen so they sit above low performers without earning trust
// they have not demonstrated.
const DefaultScore = 50.0

type Tier string

const (
	TierNew      Tier = "new"
	TierVerified Tier = "verified"
	TierTrusted  Tier = "trusted"
	TierElite    Tier = "elite"
)

// ReputationRecord carries the sufficient statistics for one agent. The
// composite score and tier are always re-derived from the counters, never
// patched incrementally.
type ReputationRecord struct {
	Agent          string
	CompletedCount int64
	DisputedCount  int64
	OnTimeCount    int64
	RatingSum      int64
	RatingCount    int64
	Score          float64
	Tier           Tier
	UpdatedAt      time.Time
}

// NewReputationRecord is the lazily-created zero-history record.
func NewReputationRecord(agent string) ReputationRecord {
	return ReputationRecord{
		Agent: agent,
		Score: DefaultScore,
		Tier:  TierNew,
	}
}

// ReputationView is the read-only projection handed to discovery.
type ReputationView struct {
	Agent          string  `json:"agent"`
	Score          float64 `json:"score"`
	Tier           Tier    `json:"tier"`
	CompletedCount int64   `json:"completed_count"`
	DisputedCount  int64   `json:"disputed_count"`
}

func (r ReputationRecord) View() ReputationView {
	return ReputationView{
		Agent:          r.Agent,
		Score:          r.Score,
		Tier:           r.Tier,
		CompletedCount: r.CompletedCount,
		DisputedCount:  r.DisputedCount,
	}
}

// Outcome is the immutable summary of one agreement's final disposition.
// It is produced once per agreement and folded at most once per agent.
type Outcome struct {
	AgreementID string
	FinalState  EscrowState
	Rating      *int // 1-5 when present
	OnTime      bool
	Timestamp   time.Time
}

// Disputed reports whether the outcome went through arbitration.
func (o Outcome) Disputed() bool {
	return o.FinalState == StateResolvedRelease || o.FinalState == StateResolvedRefund
}
