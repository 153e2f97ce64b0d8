package db

import (
	"context"
	"errors"
	"fmt"

	"clawtrust/internal/domain"

	"gorm.io/gorm"
)

type MandateStore struct {
	db *gorm.DB
}

func NewMandateStore(db *gorm.DB) *MandateStore {
	return &MandateStore{db: db}
}

func (s *MandateStore) Create(ctx context.Context, m domain.Mandate) error {
	if s.db == nil {
		return errDBUnavailable
	}
	model := mandateModelFromDomain(m)
	return s.db.WithContext(ctx).Create(&model).Error
}

func (s *MandateStore) Get(ctx context.Context, id string) (*domain.Mandate, error) {
	if s.db == nil {
		return nil, errDBUnavailable
	}
	var model MandateModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: mandate %s", domain.ErrNotFound, id)
		}
		return nil, err
	}
	m := mandateFromModel(model)
	return &m, nil
}

func (s *MandateStore) GetByAgreement(ctx context.Context, agreementID string) (*domain.Mandate, error) {
	if s.db == nil {
		return nil, errDBUnavailable
	}
	var model MandateModel
	if err := s.db.WithContext(ctx).Where("agreement_id = ?", agreementID).Take(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: mandate for agreement %s", domain.ErrNotFound, agreementID)
		}
		return nil, err
	}
	m := mandateFromModel(model)
	return &m, nil
}

func (s *MandateStore) Update(ctx context.Context, m domain.Mandate) error {
	if s.db == nil {
		return errDBUnavailable
	}
	model := mandateModelFromDomain(m)
	res := s.db.WithContext(ctx).Model(&MandateModel{}).Where("id = ?", m.ID).Updates(map[string]any{
		"status":      model.Status,
		"final_state": model.FinalState,
		"updated_at":  model.UpdatedAt,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: mandate %s", domain.ErrNotFound, m.ID)
	}
	return nil
}

func (s *MandateStore) List(ctx context.Context, status domain.MandateStatus) ([]domain.Mandate, error) {
	if s.db == nil {
		return nil, errDBUnavailable
	}
	q := s.db.WithContext(ctx).Order("created_at DESC, id ASC")
	if status != "" {
		q = q.Where("status = ?", string(status))
	}
	var models []MandateModel
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Mandate, 0, len(models))
	for _, model := range models {
		out = append(out, mandateFromModel(model))
	}
	return out, nil
}

func mandateModelFromDomain(m domain.Mandate) MandateModel {
	var finalState *string
	if m.FinalState != "" {
		s := string(m.FinalState)
		finalState = &s
	}
	return MandateModel{
		ID:          m.ID,
		AgreementID: m.AgreementID,
		Skill:       m.Skill,
		Provider:    m.Provider,
		Renter:      m.Renter,
		Amount:      m.Amount,
		Deadline:    m.Deadline.UTC(),
		MetadataURI: stringPtrIfNotEmpty(m.MetadataURI),
		Status:      string(m.Status),
		FinalState:  finalState,
		CreatedAt:   m.CreatedAt.UTC(),
		UpdatedAt:   m.UpdatedAt.UTC(),
	}
}

func mandateFromModel(m MandateModel) domain.Mandate {
	return domain.Mandate{
		ID:          m.ID,
		AgreementID: m.AgreementID,
		Skill:       m.Skill,
		Provider:    m.Provider,
		Renter:      m.Renter,
		Amount:      m.Amount,
		Deadline:    m.Deadline.UTC(),
		MetadataURI: stringValue(m.MetadataURI),
		Status:      domain.MandateStatus(m.Status),
		FinalState:  domain.EscrowState(stringValue(m.FinalState)),
		CreatedAt:   m.CreatedAt.UTC(),
		UpdatedAt:   m.UpdatedAt.UTC(),
	}
}
