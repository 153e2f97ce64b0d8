package usecase

import (
	"context"
	"errors"
	"log"
	"time"

	"clawtrust/internal/domain"
)

// ExpirySweeper is the time trigger for deadline refunds. It polls for
// funded agreements past their deadline and runs each through the
// coordinator's expireRefund. Every step is redundant-safe, so two
// sweepers racing each other or a sweep racing a live dispute is
// harmless: the loser sees a state error and moves on.
type ExpirySweeper struct {
	Coordinator *MandateCoordinator
	Store       SettlementStore
	Interval    time.Duration
	Clock       func() time.Time
}

func (s *ExpirySweeper) now() time.Time {
	if s.Clock != nil {
		return s.Clock().UTC()
	}
	return time.Now().UTC()
}

// Run sweeps on the configured interval until the context is cancelled.
func (s *ExpirySweeper) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.SweepOnce(ctx); err != nil {
				log.Printf("expiry sweep failed: %v", err)
			} else if n > 0 {
				log.Printf("expiry sweep refunded %d agreement(s)", n)
			}
		}
	}
}

// SweepOnce refunds every funded agreement whose deadline has elapsed
// and returns how many were refunded. Agreements that moved on between
// the listing and the refund (disputed, delivered, already settled) are
// skipped without failing the sweep.
func (s *ExpirySweeper) SweepOnce(ctx context.Context) (int, error) {
	ids, err := s.Store.ListExpiredFunded(ctx, s.now())
	if err != nil {
		return 0, err
	}
	refunded := 0
	for _, id := range ids {
		a, err := s.Coordinator.ExpireRefund(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrState) || errors.Is(err, domain.ErrNotFound) {
				continue
			}
			log.Printf("expire refund failed for agreement %s: %v", id, err)
			continue
		}
		if a.State == domain.StateRefunded {
			refunded++
		}
	}
	return refunded, nil
}
