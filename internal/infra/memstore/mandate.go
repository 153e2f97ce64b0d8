package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"clawtrust/internal/domain"
)

type MandateStore struct {
	mu          sync.Mutex
	mandates    map[string]domain.Mandate
	byAgreement map[string]string // agreement id -> mandate id
}

func NewMandateStore() *MandateStore {
	return &MandateStore{
		mandates:    make(map[string]domain.Mandate),
		byAgreement: make(map[string]string),
	}
}

func (s *MandateStore) Create(ctx context.Context, m domain.Mandate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.mandates[m.ID]; exists {
		return fmt.Errorf("mandate %s already exists", m.ID)
	}
	if _, exists := s.byAgreement[m.AgreementID]; exists {
		return fmt.Errorf("agreement %s already has a mandate", m.AgreementID)
	}
	s.mandates[m.ID] = m
	s.byAgreement[m.AgreementID] = m.ID
	return nil
}

func (s *MandateStore) Get(ctx context.Context, id string) (*domain.Mandate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mandates[id]
	if !ok {
		return nil, fmt.Errorf("%w: mandate %s", domain.ErrNotFound, id)
	}
	copied := m
	return &copied, nil
}

func (s *MandateStore) GetByAgreement(ctx context.Context, agreementID string) (*domain.Mandate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byAgreement[agreementID]
	if !ok {
		return nil, fmt.Errorf("%w: mandate for agreement %s", domain.ErrNotFound, agreementID)
	}
	m := s.mandates[id]
	return &m, nil
}

func (s *MandateStore) Update(ctx context.Context, m domain.Mandate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.mandates[m.ID]; !ok {
		return fmt.Errorf("%w: mandate %s", domain.ErrNotFound, m.ID)
	}
	s.mandates[m.ID] = m
	return nil
}

// List returns mandates newest first, optionally filtered by status.
func (s *MandateStore) List(ctx context.Context, status domain.MandateStatus) ([]domain.Mandate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	out := make([]domain.Mandate, 0, len(s.mandates))
	for _, m := range s.mandates {
		if status != "" && m.Status != status {
			continue
		}
		out = append(out, m)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
