package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"clawtrust/internal/domain"
	"clawtrust/internal/usecase"
)

type ReputationStore struct {
	mu        sync.Mutex
	records   map[string]domain.ReputationRecord
	processed map[string]map[string]struct{} // agent -> agreement ids folded
	locks     map[string]*sync.Mutex
}

func NewReputationStore() *ReputationStore {
	return &ReputationStore{
		records:   make(map[string]domain.ReputationRecord),
		processed: make(map[string]map[string]struct{}),
		locks:     make(map[string]*sync.Mutex),
	}
}

func (s *ReputationStore) lockFor(agent string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[agent]
	if !ok {
		l = &sync.Mutex{}
		s.locks[agent] = l
	}
	return l
}

func (s *ReputationStore) GetRecord(ctx context.Context, agent string) (*domain.ReputationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[agent]
	if !ok {
		return nil, fmt.Errorf("%w: reputation record for %s", domain.ErrNotFound, agent)
	}
	copied := r
	return &copied, nil
}

func (s *ReputationStore) ListTop(ctx context.Context, n int) ([]domain.ReputationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	records := make([]domain.ReputationRecord, 0, len(s.records))
	for _, r := range s.records {
		records = append(records, r)
	}
	s.mu.Unlock()

	sort.Slice(records, func(i, j int) bool {
		if records[i].Score != records[j].Score {
			return records[i].Score > records[j].Score
		}
		return records[i].Agent < records[j].Agent
	})
	if len(records) > n {
		records = records[:n]
	}
	return records, nil
}

// WithRecordTx serializes folds per agent; unrelated agents never
// contend.
func (s *ReputationStore) WithRecordTx(ctx context.Context, agent string, fn func(tx usecase.ReputationTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lock := s.lockFor(agent)
	lock.Lock()
	defer lock.Unlock()

	tx := &reputationTx{store: s, agent: agent}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

type reputationTx struct {
	store *ReputationStore
	agent string

	staged          *domain.ReputationRecord
	stagedProcessed []string
}

func (t *reputationTx) Record() (domain.ReputationRecord, error) {
	if t.staged != nil {
		return *t.staged, nil
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if r, ok := t.store.records[t.agent]; ok {
		return r, nil
	}
	return domain.NewReputationRecord(t.agent), nil
}

func (t *reputationTx) Save(r domain.ReputationRecord) error {
	if r.Agent != t.agent {
		return fmt.Errorf("record agent %s does not match tx agent %s", r.Agent, t.agent)
	}
	t.staged = &r
	return nil
}

func (t *reputationTx) MarkProcessed(agreementID string) error {
	for _, id := range t.stagedProcessed {
		if id == agreementID {
			return fmt.Errorf("%w: agreement %s already folded for %s", domain.ErrDuplicateOutcome, agreementID, t.agent)
		}
	}
	t.store.mu.Lock()
	_, done := t.store.processed[t.agent][agreementID]
	t.store.mu.Unlock()
	if done {
		return fmt.Errorf("%w: agreement %s already folded for %s", domain.ErrDuplicateOutcome, agreementID, t.agent)
	}
	t.stagedProcessed = append(t.stagedProcessed, agreementID)
	return nil
}

func (t *reputationTx) commit() {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if t.staged != nil {
		t.store.records[t.agent] = *t.staged
	}
	if len(t.stagedProcessed) > 0 {
		set, ok := t.store.processed[t.agent]
		if !ok {
			set = make(map[string]struct{})
			t.store.processed[t.agent] = set
		}
		for _, id := range t.stagedProcessed {
			set[id] = struct{}{}
		}
	}
}
