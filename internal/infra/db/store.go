// Package db is the gorm/postgres persistence layer: settlement,
// reputation, mandate, and ledger storage behind the usecase store
// interfaces. Per-agreement and per-agent serialization is done with
// row locks, never in-process.
package db

import (
	"errors"
	"fmt"
	"log"

	"clawtrust/internal/config"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var errDBUnavailable = errors.New("db unavailable")

type Store struct {
	DB *gorm.DB
}

func NewStore(cfg config.Config) (*Store, error) {
	if cfg.PostgresDSN == "" {
		log.Printf("POSTGRES_DSN not set; starting in no-db mode")
		return &Store{DB: nil}, nil
	}

	gdb, err := gorm.Open(postgres.Open(cfg.PostgresDSN), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{DB: gdb}, nil
}

func (s *Store) Available() bool { return s != nil && s.DB != nil }

func (s *Store) Migrate() error {
	if !s.Available() {
		return errDBUnavailable
	}
	if err := s.DB.AutoMigrate(
		&AgreementModel{},
		&SettlementEventModel{},
		&ReputationRecordModel{},
		&ProcessedOutcomeModel{},
		&LedgerAccountModel{},
		&MandateModel{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	// the counter table doubles as the per-agreement lock row, so it is
	// plain SQL rather than a model
	if err := s.DB.Exec(
		"CREATE TABLE IF NOT EXISTS agreement_event_seq (agreement_id TEXT PRIMARY KEY, seq BIGINT NOT NULL)",
	).Error; err != nil {
		return fmt.Errorf("create agreement_event_seq: %w", err)
	}
	return nil
}
