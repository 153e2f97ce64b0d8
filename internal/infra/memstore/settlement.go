// Package memstore provides in-memory settlement, reputation, and
// mandate stores for tests and no-db mode. Serialization matches the
// database stores: one transaction in flight per agreement id, one per
// agent record, nothing global.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"clawtrust/internal/domain"
	"clawtrust/internal/usecase"
)

type SettlementStore struct {
	ledger usecase.LedgerAdapter

	mu         sync.Mutex
	agreements map[string]domain.Agreement
	events     map[string][]domain.SettlementEvent
	locks      map[string]*sync.Mutex
}

func NewSettlementStore(ledger usecase.LedgerAdapter) *SettlementStore {
	return &SettlementStore{
		ledger:     ledger,
		agreements: make(map[string]domain.Agreement),
		events:     make(map[string][]domain.SettlementEvent),
		locks:      make(map[string]*sync.Mutex),
	}
}

func (s *SettlementStore) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *SettlementStore) GetAgreement(ctx context.Context, id string) (*domain.Agreement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agreements[id]
	if !ok {
		return nil, fmt.Errorf("%w: agreement %s", domain.ErrNotFound, id)
	}
	copied := a
	return &copied, nil
}

func (s *SettlementStore) ListExpiredFunded(ctx context.Context, now time.Time) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, a := range s.agreements {
		if a.State == domain.StateFunded && now.After(a.Deadline) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *SettlementStore) ListEvents(ctx context.Context, agreementID string) ([]domain.SettlementEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	events := make([]domain.SettlementEvent, len(s.events[agreementID]))
	copy(events, s.events[agreementID])
	sort.Slice(events, func(i, j int) bool { return events[i].Seq < events[j].Seq })
	return events, nil
}

// WithAgreementTx serializes on the agreement's lock and runs fn over a
// staged view. Writes land only if fn succeeds; a ledger transfer that
// already went through is reversed on failure, so the transfer and the
// state change stay atomic from the caller's point of view.
func (s *SettlementStore) WithAgreementTx(ctx context.Context, id string, fn func(tx usecase.SettlementTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	tx := &settlementTx{ctx: ctx, store: s, id: id}
	if err := fn(tx); err != nil {
		tx.rollbackTransfers()
		return err
	}
	tx.commit()
	return nil
}

type settlementTx struct {
	ctx   context.Context
	store *SettlementStore
	id    string

	staged       *domain.Agreement
	stagedEvents []domain.SettlementEvent
	transfers    []domain.TransferReceipt
}

func (t *settlementTx) Get(id string) (*domain.Agreement, error) {
	if t.staged != nil && t.staged.ID == id {
		copied := *t.staged
		return &copied, nil
	}
	return t.store.GetAgreement(t.ctx, id)
}

func (t *settlementTx) Create(a domain.Agreement) error {
	t.store.mu.Lock()
	_, exists := t.store.agreements[a.ID]
	t.store.mu.Unlock()
	if exists || t.staged != nil {
		return fmt.Errorf("agreement %s already exists", a.ID)
	}
	t.staged = &a
	return nil
}

func (t *settlementTx) Update(a domain.Agreement) error {
	if t.staged == nil {
		if _, err := t.store.GetAgreement(t.ctx, a.ID); err != nil {
			return err
		}
	}
	t.staged = &a
	return nil
}

func (t *settlementTx) Transfer(from, to string, amount int64) (domain.TransferReceipt, error) {
	receipt, err := t.store.ledger.Transfer(t.ctx, from, to, amount)
	if err != nil {
		return domain.TransferReceipt{}, err
	}
	t.transfers = append(t.transfers, receipt)
	return receipt, nil
}

func (t *settlementTx) LastEvent(agreementID string) (int64, string, error) {
	if n := len(t.stagedEvents); n > 0 {
		last := t.stagedEvents[n-1]
		return last.Seq, last.EventHash, nil
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	chain := t.store.events[agreementID]
	if len(chain) == 0 {
		return 0, usecase.ZeroEventHash(), nil
	}
	last := chain[len(chain)-1]
	return last.Seq, last.EventHash, nil
}

func (t *settlementTx) AppendEvent(e domain.SettlementEvent) error {
	if e.AgreementID != t.id {
		return fmt.Errorf("event agreement %s does not match tx agreement %s", e.AgreementID, t.id)
	}
	t.stagedEvents = append(t.stagedEvents, e)
	return nil
}

func (t *settlementTx) commit() {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if t.staged != nil {
		t.store.agreements[t.staged.ID] = *t.staged
	}
	t.store.events[t.id] = append(t.store.events[t.id], t.stagedEvents...)
}

// rollbackTransfers undoes applied ledger transfers newest first.
func (t *settlementTx) rollbackTransfers() {
	for i := len(t.transfers) - 1; i >= 0; i-- {
		r := t.transfers[i]
		// the funds just arrived at r.To, so the reversal cannot fail
		_, _ = t.store.ledger.Transfer(context.WithoutCancel(t.ctx), r.To, r.From, r.Amount)
	}
}
