package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"clawtrust/internal/domain"
	"clawtrust/internal/infra/ledgermem"
	"clawtrust/internal/usecase"
)

func seedAgreement(t *testing.T, store *SettlementStore, id string) {
	t.Helper()
	err := store.WithAgreementTx(context.Background(), id, func(tx usecase.SettlementTx) error {
		return tx.Create(domain.Agreement{
			ID:       id,
			Provider: "provider",
			Renter:   "renter",
			Skill:    "translation",
			Amount:   100,
			Deadline: time.Now().Add(time.Hour),
			State:    domain.StateCreated,
		})
	})
	if err != nil {
		t.Fatalf("seed agreement: %v", err)
	}
}

func TestWithAgreementTxRollsBackTransferAndWrites(t *testing.T) {
	ctx := context.Background()
	ledger := ledgermem.New()
	if _, err := ledger.Mint(ctx, "renter", 1_000); err != nil {
		t.Fatalf("mint: %v", err)
	}
	store := NewSettlementStore(ledger)
	seedAgreement(t, store, "agr-1")

	failure := errors.New("late failure")
	err := store.WithAgreementTx(ctx, "agr-1", func(tx usecase.SettlementTx) error {
		if _, err := tx.Transfer("renter", "escrow:agr-1", 100); err != nil {
			return err
		}
		a, err := tx.Get("agr-1")
		if err != nil {
			return err
		}
		a.State = domain.StateFunded
		if err := tx.Update(*a); err != nil {
			return err
		}
		return failure
	})
	if !errors.Is(err, failure) {
		t.Fatalf("expected tx failure, got %v", err)
	}

	balance, _ := ledger.GetBalance(ctx, "renter")
	if balance != 1_000 {
		t.Fatalf("transfer not rolled back, renter balance %d", balance)
	}
	a, err := store.GetAgreement(ctx, "agr-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if a.State != domain.StateCreated {
		t.Fatalf("state write not discarded, state %s", a.State)
	}
}

func TestWithAgreementTxDiscardsEventsOnFailure(t *testing.T) {
	ctx := context.Background()
	store := NewSettlementStore(ledgermem.New())
	seedAgreement(t, store, "agr-2")

	err := store.WithAgreementTx(ctx, "agr-2", func(tx usecase.SettlementTx) error {
		if err := tx.AppendEvent(domain.SettlementEvent{AgreementID: "agr-2", Seq: 1}); err != nil {
			return err
		}
		return errors.New("abort")
	})
	if err == nil {
		t.Fatal("expected tx failure")
	}
	events, err := store.ListEvents(ctx, "agr-2")
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no committed events, got %d", len(events))
	}
}

func TestWithAgreementTxSerializesPerAgreement(t *testing.T) {
	ctx := context.Background()
	store := NewSettlementStore(ledgermem.New())
	seedAgreement(t, store, "agr-3")

	var wg sync.WaitGroup
	inFlight := 0
	maxInFlight := 0
	var mu sync.Mutex
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.WithAgreementTx(ctx, "agr-3", func(tx usecase.SettlementTx) error {
				mu.Lock()
				inFlight++
				if inFlight > maxInFlight {
					maxInFlight = inFlight
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				inFlight--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	if maxInFlight != 1 {
		t.Fatalf("expected one in-flight tx per agreement, saw %d", maxInFlight)
	}
}
