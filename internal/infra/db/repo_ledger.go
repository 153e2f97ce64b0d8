package db

import (
	"context"
	"fmt"
	"time"

	"clawtrust/internal/domain"

	"gorm.io/gorm"
)

// Ledger is the database-backed LedgerAdapter. Settlement transactions
// do not go through it (they transfer inside their own tx); it serves
// standalone transfers, balance reads, and admin minting.
type Ledger struct {
	db *gorm.DB
}

func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

func (l *Ledger) Transfer(ctx context.Context, from, to string, amount int64) (domain.TransferReceipt, error) {
	if l.db == nil {
		return domain.TransferReceipt{}, errDBUnavailable
	}
	var receipt domain.TransferReceipt
	err := l.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		var err error
		receipt, err = transferLocked(gtx, from, to, amount)
		return err
	})
	if err != nil {
		return domain.TransferReceipt{}, err
	}
	return receipt, nil
}

func (l *Ledger) GetBalance(ctx context.Context, address string) (int64, error) {
	if l.db == nil {
		return 0, errDBUnavailable
	}
	if address == "" {
		return 0, fmt.Errorf("%w: empty address", domain.ErrInvalidAccount)
	}
	var balance int64
	err := l.db.WithContext(ctx).Raw(
		"SELECT COALESCE((SELECT balance FROM ledger_accounts WHERE address = ?), 0)",
		address,
	).Scan(&balance).Error
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// Mint credits an account. Admin seeding only.
func (l *Ledger) Mint(ctx context.Context, address string, amount int64) (int64, error) {
	if l.db == nil {
		return 0, errDBUnavailable
	}
	if address == "" {
		return 0, fmt.Errorf("%w: empty address", domain.ErrInvalidAccount)
	}
	if amount <= 0 {
		return 0, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidAccount)
	}
	var balance int64
	err := l.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		now := time.Now().UTC()
		if err := gtx.Exec(
			"INSERT INTO ledger_accounts (address, balance, updated_at) VALUES (?, 0, ?) ON CONFLICT (address) DO NOTHING",
			address, now,
		).Error; err != nil {
			return err
		}
		if err := gtx.Exec(
			"UPDATE ledger_accounts SET balance = balance + ?, updated_at = ? WHERE address = ?",
			amount, now, address,
		).Error; err != nil {
			return err
		}
		return gtx.Raw(
			"SELECT balance FROM ledger_accounts WHERE address = ?", address,
		).Scan(&balance).Error
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}
