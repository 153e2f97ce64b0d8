package db

import "time"

type AgreementModel struct {
	ID              string `gorm:"primaryKey"`
	Provider        string `gorm:"index;not null"`
	Renter          string `gorm:"index;not null"`
	Skill           string `gorm:"not null"`
	Amount          int64  `gorm:"not null"`
	Deadline        time.Time
	ReleasePolicy   string `gorm:"not null"`
	DeliverableHash *string
	State           string `gorm:"index;not null"`
	DisputeReason   *string
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
	FundedAt        *time.Time
	DeliveredAt     *time.Time
	DisputedAt      *time.Time
	ClosedAt        *time.Time
}

func (AgreementModel) TableName() string { return "agreements" }

type SettlementEventModel struct {
	ID            string `gorm:"type:uuid;primaryKey"`
	AgreementID   string `gorm:"uniqueIndex:uniq_agreement_seq;not null"`
	Seq           int64  `gorm:"uniqueIndex:uniq_agreement_seq;not null"`
	EventType     string `gorm:"not null"`
	ActorType     string `gorm:"not null"`
	Actor         *string
	PayloadJSON   []byte    `gorm:"type:jsonb;not null"`
	PayloadHash   string    `gorm:"not null"`
	PrevEventHash string    `gorm:"not null"`
	EventHash     string    `gorm:"not null"`
	CreatedAt     time.Time `gorm:"not null"`
}

func (SettlementEventModel) TableName() string { return "settlement_events" }

type ReputationRecordModel struct {
	Agent          string `gorm:"primaryKey"`
	CompletedCount int64  `gorm:"not null;default:0"`
	DisputedCount  int64  `gorm:"not null;default:0"`
	OnTimeCount    int64  `gorm:"not null;default:0"`
	RatingSum      int64  `gorm:"not null;default:0"`
	RatingCount    int64  `gorm:"not null;default:0"`
	Score          float64 `gorm:"index;not null"`
	Tier           string  `gorm:"not null"`
	UpdatedAt      time.Time
}

func (ReputationRecordModel) TableName() string { return "reputation_records" }

type ProcessedOutcomeModel struct {
	AgreementID string    `gorm:"primaryKey"`
	Agent       string    `gorm:"primaryKey"`
	CreatedAt   time.Time `gorm:"not null"`
}

func (ProcessedOutcomeModel) TableName() string { return "processed_outcomes" }

type LedgerAccountModel struct {
	Address   string `gorm:"primaryKey"`
	Balance   int64  `gorm:"not null;default:0"`
	UpdatedAt time.Time
}

func (LedgerAccountModel) TableName() string { return "ledger_accounts" }

type MandateModel struct {
	ID          string `gorm:"type:uuid;primaryKey"`
	AgreementID string `gorm:"uniqueIndex;not null"`
	Skill       string `gorm:"not null"`
	Provider    string `gorm:"index;not null"`
	Renter      string `gorm:"index;not null"`
	Amount      int64  `gorm:"not null"`
	Deadline    time.Time
	MetadataURI *string
	Status      string `gorm:"index;not null"`
	FinalState  *string
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (MandateModel) TableName() string { return "mandates" }
