package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"clawtrust/internal/domain"
	"clawtrust/internal/usecase"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ReputationStore struct {
	db *gorm.DB
}

func NewReputationStore(db *gorm.DB) *ReputationStore {
	return &ReputationStore{db: db}
}

func (s *ReputationStore) GetRecord(ctx context.Context, agent string) (*domain.ReputationRecord, error) {
	if s.db == nil {
		return nil, errDBUnavailable
	}
	var model ReputationRecordModel
	if err := s.db.WithContext(ctx).Where("agent = ?", agent).Take(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: reputation record for %s", domain.ErrNotFound, agent)
		}
		return nil, err
	}
	r := reputationFromModel(model)
	return &r, nil
}

func (s *ReputationStore) ListTop(ctx context.Context, n int) ([]domain.ReputationRecord, error) {
	if s.db == nil {
		return nil, errDBUnavailable
	}
	var models []ReputationRecordModel
	err := s.db.WithContext(ctx).
		Order("score DESC, agent ASC").
		Limit(n).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.ReputationRecord, 0, len(models))
	for _, model := range models {
		out = append(out, reputationFromModel(model))
	}
	return out, nil
}

// WithRecordTx locks the agent's record row FOR UPDATE for the duration
// of fn. The row is inserted with zero-history defaults on first touch.
func (s *ReputationStore) WithRecordTx(ctx context.Context, agent string, fn func(tx usecase.ReputationTx) error) error {
	if s.db == nil {
		return errDBUnavailable
	}
	if agent == "" {
		return errors.New("agent is required")
	}
	return s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		seed := ReputationRecordModel{
			Agent:     agent,
			Score:     domain.DefaultScore,
			Tier:      string(domain.TierNew),
			UpdatedAt: time.Now().UTC(),
		}
		if err := gtx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
			return err
		}
		if err := gtx.Exec(
			"SELECT agent FROM reputation_records WHERE agent = ? FOR UPDATE",
			agent,
		).Error; err != nil {
			return err
		}
		return fn(&reputationTx{db: gtx, agent: agent})
	})
}

type reputationTx struct {
	db    *gorm.DB
	agent string
}

func (t *reputationTx) Record() (domain.ReputationRecord, error) {
	var model ReputationRecordModel
	if err := t.db.Where("agent = ?", t.agent).Take(&model).Error; err != nil {
		return domain.ReputationRecord{}, err
	}
	return reputationFromModel(model), nil
}

func (t *reputationTx) Save(r domain.ReputationRecord) error {
	if r.Agent != t.agent {
		return fmt.Errorf("record agent %s does not match tx agent %s", r.Agent, t.agent)
	}
	model := ReputationRecordModel{
		Agent:          r.Agent,
		CompletedCount: r.CompletedCount,
		DisputedCount:  r.DisputedCount,
		OnTimeCount:    r.OnTimeCount,
		RatingSum:      r.RatingSum,
		RatingCount:    r.RatingCount,
		Score:          r.Score,
		Tier:           string(r.Tier),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
	return t.db.Save(&model).Error
}

func (t *reputationTx) MarkProcessed(agreementID string) error {
	row := ProcessedOutcomeModel{
		AgreementID: agreementID,
		Agent:       t.agent,
		CreatedAt:   time.Now().UTC(),
	}
	res := t.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: agreement %s already folded for %s", domain.ErrDuplicateOutcome, agreementID, t.agent)
	}
	return nil
}

func reputationFromModel(m ReputationRecordModel) domain.ReputationRecord {
	return domain.ReputationRecord{
		Agent:          m.Agent,
		CompletedCount: m.CompletedCount,
		DisputedCount:  m.DisputedCount,
		OnTimeCount:    m.OnTimeCount,
		RatingSum:      m.RatingSum,
		RatingCount:    m.RatingCount,
		Score:          m.Score,
		Tier:           domain.Tier(m.Tier),
		UpdatedAt:      m.UpdatedAt.UTC(),
	}
}
