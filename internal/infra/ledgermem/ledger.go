// Package ledgermem is the in-memory ledger adapter used in no-db mode
// and by the engine tests. Transfers are atomic under one mutex and
// final once they return.
package ledgermem

import (
	"context"
	"fmt"
	"sync"
	"time"

	"clawtrust/internal/domain"
)

type Ledger struct {
	mu       sync.Mutex
	balances map[string]int64
}

func New() *Ledger {
	return &Ledger{balances: make(map[string]int64)}
}

func (l *Ledger) Transfer(ctx context.Context, from, to string, amount int64) (domain.TransferReceipt, error) {
	if err := ctx.Err(); err != nil {
		return domain.TransferReceipt{}, err
	}
	if from == "" || to == "" || from == to {
		return domain.TransferReceipt{}, fmt.Errorf("%w: transfer %q -> %q", domain.ErrInvalidAccount, from, to)
	}
	if amount <= 0 {
		return domain.TransferReceipt{}, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidAccount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[from] < amount {
		return domain.TransferReceipt{}, fmt.Errorf("%w: account %s holds %d, needs %d", domain.ErrInsufficientFunds, from, l.balances[from], amount)
	}
	l.balances[from] -= amount
	l.balances[to] += amount
	return domain.TransferReceipt{
		From:   from,
		To:     to,
		Amount: amount,
		At:     time.Now().UTC(),
	}, nil
}

func (l *Ledger) GetBalance(ctx context.Context, address string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if address == "" {
		return 0, fmt.Errorf("%w: empty address", domain.ErrInvalidAccount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[address], nil
}

// Mint credits an account out of thin air. Test and demo seeding only.
func (l *Ledger) Mint(ctx context.Context, address string, amount int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if address == "" {
		return 0, fmt.Errorf("%w: empty address", domain.ErrInvalidAccount)
	}
	if amount <= 0 {
		return 0, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidAccount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[address] += amount
	return l.balances[address], nil
}
