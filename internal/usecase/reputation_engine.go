package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"clawtrust/internal/domain"
)

// CalculateScore derives the composite score from the record's counters.
// It is pure: the same counters always produce the same score.
//
// The composite is avg rating scaled to 0-60 (neutral 30 when unrated),
// plus on-time ratio scaled to 0-30, plus a volume bonus of one point
// per ten settlements capped at 10. Agents with no settled history get
// the fixed default instead.
func CalculateScore(r domain.ReputationRecord) float64 {
	if r.CompletedCount == 0 {
		return domain.DefaultScore
	}

	rating := 30.0
	if r.RatingCount > 0 {
		avg := float64(r.RatingSum) / float64(r.RatingCount)
		rating = avg / 5.0 * 60.0
	}
	onTime := float64(r.OnTimeCount) / float64(r.CompletedCount) * 30.0
	volume := math.Min(10, float64(r.CompletedCount/10))

	score := rating + onTime + volume
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func TierFor(score float64) domain.Tier {
	switch {
	case score >= 90:
		return domain.TierElite
	case score >= 80:
		return domain.TierTrusted
	case score >= 70:
		return domain.TierVerified
	default:
		return domain.TierNew
	}
}

// ReputationEngine folds settlement outcomes into per-agent records and
// serves the read side. Outcomes are its only write path.
type ReputationEngine struct {
	Store    ReputationStore
	Cache    ReputationCache
	CacheTTL time.Duration
	Clock    func() time.Time
}

func (e *ReputationEngine) now() time.Time {
	if e.Clock != nil {
		return e.Clock().UTC()
	}
	return time.Now().UTC()
}

// FoldOutcome applies one agreement outcome to one agent's record. The
// fold is idempotent per (agreement id, agent): a replay fails with
// ErrDuplicateOutcome and leaves the record untouched.
func (e *ReputationEngine) FoldOutcome(ctx context.Context, agent string, outcome domain.Outcome) error {
	if agent == "" || outcome.AgreementID == "" {
		return fmt.Errorf("%w: agent and agreement id are required", domain.ErrInvalidTerms)
	}
	if outcome.Rating != nil && (*outcome.Rating < 1 || *outcome.Rating > 5) {
		return fmt.Errorf("%w: rating must be between 1 and 5", domain.ErrInvalidTerms)
	}
	if !outcome.FinalState.Terminal() {
		return fmt.Errorf("%w: outcome final state %s is not terminal", domain.ErrInvalidTerms, outcome.FinalState)
	}

	var updated domain.ReputationRecord
	err := e.Store.WithRecordTx(ctx, agent, func(tx ReputationTx) error {
		if err := tx.MarkProcessed(outcome.AgreementID); err != nil {
			return err
		}
		r, err := tx.Record()
		if err != nil {
			return err
		}
		r.CompletedCount++
		if outcome.Disputed() {
			r.DisputedCount++
		}
		if outcome.OnTime {
			r.OnTimeCount++
		}
		if outcome.Rating != nil {
			r.RatingSum += int64(*outcome.Rating)
			r.RatingCount++
		}
		r.Score = CalculateScore(r)
		r.Tier = TierFor(r.Score)
		r.UpdatedAt = e.now()
		if err := tx.Save(r); err != nil {
			return err
		}
		updated = r
		return nil
	})
	if err != nil {
		return err
	}
	if e.Cache != nil {
		// best effort, reads fall back to the store
		_ = e.Cache.Put(ctx, agent, updated.View(), e.CacheTTL)
	}
	return nil
}

// GetReputation serves the discovery read. Unknown agents get the
// zero-history default record rather than a not-found error, so new
// agents are visible with the default score from their first lookup.
func (e *ReputationEngine) GetReputation(ctx context.Context, agent string) (domain.ReputationView, error) {
	if e.Cache != nil {
		if view, ok, err := e.Cache.Get(ctx, agent); err == nil && ok {
			return *view, nil
		}
	}
	record, err := e.Store.GetRecord(ctx, agent)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.NewReputationRecord(agent).View(), nil
		}
		return domain.ReputationView{}, err
	}
	view := record.View()
	if e.Cache != nil {
		_ = e.Cache.Put(ctx, agent, view, e.CacheTTL)
	}
	return view, nil
}

// ListTop returns the n highest-scoring agents for provider ranking.
func (e *ReputationEngine) ListTop(ctx context.Context, n int) ([]domain.ReputationView, error) {
	if n <= 0 {
		n = 10
	}
	records, err := e.Store.ListTop(ctx, n)
	if err != nil {
		return nil, err
	}
	views := make([]domain.ReputationView, 0, len(records))
	for _, r := range records {
		views = append(views, r.View())
	}
	return views, nil
}
