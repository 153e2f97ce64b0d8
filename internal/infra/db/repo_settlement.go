package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"clawtrust/internal/domain"
	"clawtrust/internal/usecase"

	"gorm.io/gorm"
)

type SettlementStore struct {
	db *gorm.DB
}

func NewSettlementStore(db *gorm.DB) *SettlementStore {
	return &SettlementStore{db: db}
}

func (s *SettlementStore) GetAgreement(ctx context.Context, id string) (*domain.Agreement, error) {
	if s.db == nil {
		return nil, errDBUnavailable
	}
	var model AgreementModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: agreement %s", domain.ErrNotFound, id)
		}
		return nil, err
	}
	a := agreementFromModel(model)
	return &a, nil
}

func (s *SettlementStore) ListExpiredFunded(ctx context.Context, now time.Time) ([]string, error) {
	if s.db == nil {
		return nil, errDBUnavailable
	}
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&AgreementModel{}).
		Where("state = ? AND deadline < ?", string(domain.StateFunded), now.UTC()).
		Order("id ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *SettlementStore) ListEvents(ctx context.Context, agreementID string) ([]domain.SettlementEvent, error) {
	if s.db == nil {
		return nil, errDBUnavailable
	}
	var models []SettlementEventModel
	err := s.db.WithContext(ctx).
		Where("agreement_id = ?", agreementID).
		Order("seq ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.SettlementEvent, 0, len(models))
	for _, model := range models {
		event, err := settlementEventFromModel(model)
		if err != nil {
			return nil, err
		}
		out = append(out, event)
	}
	return out, nil
}

// WithAgreementTx wraps fn in a database transaction that holds the
// agreement's seq row FOR UPDATE for its whole duration. The seq row is
// inserted on first touch, so initialize serializes the same way every
// later transition does.
func (s *SettlementStore) WithAgreementTx(ctx context.Context, id string, fn func(tx usecase.SettlementTx) error) error {
	if s.db == nil {
		return errDBUnavailable
	}
	if id == "" {
		return errors.New("agreement id is required")
	}
	return s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		if err := gtx.Exec(
			"INSERT INTO agreement_event_seq (agreement_id, seq) VALUES (?, 0) ON CONFLICT (agreement_id) DO NOTHING",
			id,
		).Error; err != nil {
			return err
		}
		var seq int64
		if err := gtx.Raw(
			"SELECT seq FROM agreement_event_seq WHERE agreement_id = ? FOR UPDATE",
			id,
		).Scan(&seq).Error; err != nil {
			return err
		}
		return fn(&settlementTx{ctx: ctx, db: gtx, id: id})
	})
}

type settlementTx struct {
	ctx context.Context
	db  *gorm.DB
	id  string
}

func (t *settlementTx) Get(id string) (*domain.Agreement, error) {
	var model AgreementModel
	if err := t.db.Where("id = ?", id).Take(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: agreement %s", domain.ErrNotFound, id)
		}
		return nil, err
	}
	a := agreementFromModel(model)
	return &a, nil
}

func (t *settlementTx) Create(a domain.Agreement) error {
	model := agreementModelFromDomain(a)
	return t.db.Create(&model).Error
}

func (t *settlementTx) Update(a domain.Agreement) error {
	model := agreementModelFromDomain(a)
	res := t.db.Model(&AgreementModel{}).Where("id = ?", a.ID).Updates(map[string]any{
		"state":            model.State,
		"deliverable_hash": model.DeliverableHash,
		"dispute_reason":   model.DisputeReason,
		"updated_at":       model.UpdatedAt,
		"funded_at":        model.FundedAt,
		"delivered_at":     model.DeliveredAt,
		"disputed_at":      model.DisputedAt,
		"closed_at":        model.ClosedAt,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: agreement %s", domain.ErrNotFound, a.ID)
	}
	return nil
}

// Transfer moves funds between ledger account rows inside the settlement
// transaction. Rows are locked in address order so transfers touching
// the same accounts from different agreements cannot deadlock.
func (t *settlementTx) Transfer(from, to string, amount int64) (domain.TransferReceipt, error) {
	receipt, err := transferLocked(t.db, from, to, amount)
	if err != nil {
		return domain.TransferReceipt{}, err
	}
	return receipt, nil
}

func (t *settlementTx) LastEvent(agreementID string) (int64, string, error) {
	var seq int64
	if err := t.db.Raw(
		"SELECT seq FROM agreement_event_seq WHERE agreement_id = ?",
		agreementID,
	).Scan(&seq).Error; err != nil {
		return 0, "", err
	}
	if seq == 0 {
		return 0, usecase.ZeroEventHash(), nil
	}
	var prev SettlementEventModel
	if err := t.db.
		Where("agreement_id = ? AND seq = ?", agreementID, seq).
		Take(&prev).Error; err != nil {
		return 0, "", err
	}
	return prev.Seq, prev.EventHash, nil
}

func (t *settlementTx) AppendEvent(e domain.SettlementEvent) error {
	if e.AgreementID != t.id {
		return fmt.Errorf("event agreement %s does not match tx agreement %s", e.AgreementID, t.id)
	}
	model, err := settlementEventModelFromDomain(e)
	if err != nil {
		return err
	}
	if err := t.db.Create(&model).Error; err != nil {
		return err
	}
	return t.db.Exec(
		"UPDATE agreement_event_seq SET seq = ? WHERE agreement_id = ?",
		e.Seq, e.AgreementID,
	).Error
}

func transferLocked(gtx *gorm.DB, from, to string, amount int64) (domain.TransferReceipt, error) {
	if from == "" || to == "" || from == to {
		return domain.TransferReceipt{}, fmt.Errorf("%w: transfer %q -> %q", domain.ErrInvalidAccount, from, to)
	}
	if amount <= 0 {
		return domain.TransferReceipt{}, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidAccount)
	}

	now := time.Now().UTC()
	for _, address := range sortedPair(from, to) {
		if err := gtx.Exec(
			"INSERT INTO ledger_accounts (address, balance, updated_at) VALUES (?, 0, ?) ON CONFLICT (address) DO NOTHING",
			address, now,
		).Error; err != nil {
			return domain.TransferReceipt{}, err
		}
		if err := gtx.Exec(
			"SELECT balance FROM ledger_accounts WHERE address = ? FOR UPDATE",
			address,
		).Error; err != nil {
			return domain.TransferReceipt{}, err
		}
	}

	var balance int64
	if err := gtx.Raw(
		"SELECT balance FROM ledger_accounts WHERE address = ?", from,
	).Scan(&balance).Error; err != nil {
		return domain.TransferReceipt{}, err
	}
	if balance < amount {
		return domain.TransferReceipt{}, fmt.Errorf("%w: account %s holds %d, needs %d", domain.ErrInsufficientFunds, from, balance, amount)
	}

	if err := gtx.Exec(
		"UPDATE ledger_accounts SET balance = balance - ?, updated_at = ? WHERE address = ?",
		amount, now, from,
	).Error; err != nil {
		return domain.TransferReceipt{}, err
	}
	if err := gtx.Exec(
		"UPDATE ledger_accounts SET balance = balance + ?, updated_at = ? WHERE address = ?",
		amount, now, to,
	).Error; err != nil {
		return domain.TransferReceipt{}, err
	}
	return domain.TransferReceipt{From: from, To: to, Amount: amount, At: now}, nil
}

func sortedPair(a, b string) []string {
	if a < b {
		return []string{a, b}
	}
	return []string{b, a}
}

func agreementModelFromDomain(a domain.Agreement) AgreementModel {
	return AgreementModel{
		ID:              a.ID,
		Provider:        a.Provider,
		Renter:          a.Renter,
		Skill:           a.Skill,
		Amount:          a.Amount,
		Deadline:        a.Deadline.UTC(),
		ReleasePolicy:   string(a.ReleasePolicy),
		DeliverableHash: stringPtrIfNotEmpty(a.DeliverableHash),
		State:           string(a.State),
		DisputeReason:   stringPtrIfNotEmpty(a.DisputeReason),
		CreatedAt:       a.CreatedAt.UTC(),
		UpdatedAt:       a.UpdatedAt.UTC(),
		FundedAt:        a.FundedAt,
		DeliveredAt:     a.DeliveredAt,
		DisputedAt:      a.DisputedAt,
		ClosedAt:        a.ClosedAt,
	}
}

func agreementFromModel(m AgreementModel) domain.Agreement {
	return domain.Agreement{
		ID:              m.ID,
		Provider:        m.Provider,
		Renter:          m.Renter,
		Skill:           m.Skill,
		Amount:          m.Amount,
		Deadline:        m.Deadline.UTC(),
		ReleasePolicy:   domain.ReleasePolicy(m.ReleasePolicy),
		DeliverableHash: stringValue(m.DeliverableHash),
		State:           domain.EscrowState(m.State),
		DisputeReason:   stringValue(m.DisputeReason),
		CreatedAt:       m.CreatedAt.UTC(),
		UpdatedAt:       m.UpdatedAt.UTC(),
		FundedAt:        m.FundedAt,
		DeliveredAt:     m.DeliveredAt,
		DisputedAt:      m.DisputedAt,
		ClosedAt:        m.ClosedAt,
	}
}

func settlementEventModelFromDomain(e domain.SettlementEvent) (SettlementEventModel, error) {
	payloadJSON, err := json.Marshal(e.Payload)
	if err != nil {
		return SettlementEventModel{}, err
	}
	return SettlementEventModel{
		ID:            e.ID,
		AgreementID:   e.AgreementID,
		Seq:           e.Seq,
		EventType:     string(e.EventType),
		ActorType:     string(e.ActorType),
		Actor:         stringPtrIfNotEmpty(e.Actor),
		PayloadJSON:   payloadJSON,
		PayloadHash:   e.PayloadHash,
		PrevEventHash: e.PrevEventHash,
		EventHash:     e.EventHash,
		CreatedAt:     e.CreatedAt.UTC(),
	}, nil
}

func settlementEventFromModel(m SettlementEventModel) (domain.SettlementEvent, error) {
	var payload map[string]any
	if len(m.PayloadJSON) > 0 {
		if err := json.Unmarshal(m.PayloadJSON, &payload); err != nil {
			return domain.SettlementEvent{}, fmt.Errorf("decode event payload: %w", err)
		}
	}
	return domain.SettlementEvent{
		ID:            m.ID,
		AgreementID:   m.AgreementID,
		Seq:           m.Seq,
		EventType:     domain.EventType(m.EventType),
		ActorType:     domain.ActorType(m.ActorType),
		Actor:         stringValue(m.Actor),
		Payload:       payload,
		PayloadHash:   m.PayloadHash,
		PrevEventHash: m.PrevEventHash,
		EventHash:     m.EventHash,
		CreatedAt:     m.CreatedAt.UTC(),
	}, nil
}

func stringPtrIfNotEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func stringValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
