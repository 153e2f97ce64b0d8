package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"clawtrust/internal/domain"
	"clawtrust/internal/infra/memstore"
	"clawtrust/internal/usecase"
)

func TestCalculateScore(t *testing.T) {
	cases := []struct {
		name   string
		record domain.ReputationRecord
		want   float64
		tier   domain.Tier
	}{
		{
			name:   "zero history gets the default",
			record: domain.ReputationRecord{Agent: "a"},
			want:   50,
			tier:   domain.TierNew,
		},
		{
			name: "unrated settlements use the neutral midpoint",
			record: domain.ReputationRecord{
				Agent: "a", CompletedCount: 2, OnTimeCount: 2,
			},
			want: 62, // 30 neutral + 30 on-time + 0 volume
			tier: domain.TierNew,
		},
		{
			name: "perfect record after ten settlements",
			record: domain.ReputationRecord{
				Agent: "a", CompletedCount: 10, OnTimeCount: 10,
				RatingSum: 50, RatingCount: 10,
			},
			want: 91, // 60 + 30 + 1
			tier: domain.TierElite,
		},
		{
			name: "volume bonus caps at ten",
			record: domain.ReputationRecord{
				Agent: "a", CompletedCount: 250, OnTimeCount: 250,
				RatingSum: 1250, RatingCount: 250,
			},
			want: 100,
			tier: domain.TierElite,
		},
		{
			name: "poor ratings and punctuality",
			record: domain.ReputationRecord{
				Agent: "a", CompletedCount: 4, OnTimeCount: 1,
				RatingSum: 4, RatingCount: 4,
			},
			want: 19.5, // 12 + 7.5 + 0
			tier: domain.TierNew,
		},
	}
	for _, tc := range cases {
		got := usecase.CalculateScore(tc.record)
		if got != tc.want {
			t.Fatalf("%s: expected score %v, got %v", tc.name, tc.want, got)
		}
		if tier := usecase.TierFor(got); tier != tc.tier {
			t.Fatalf("%s: expected tier %s, got %s", tc.name, tc.tier, tier)
		}
		// purity: a second invocation yields the same composite
		if again := usecase.CalculateScore(tc.record); again != got {
			t.Fatalf("%s: score not deterministic, %v vs %v", tc.name, got, again)
		}
	}
}

func TestTierBoundaries(t *testing.T) {
	cases := []struct {
		score float64
		want  domain.Tier
	}{
		{95, domain.TierElite},
		{90, domain.TierElite},
		{89.9, domain.TierTrusted},
		{80, domain.TierTrusted},
		{70, domain.TierVerified},
		{69.9, domain.TierNew},
		{0, domain.TierNew},
	}
	for _, tc := range cases {
		if got := usecase.TierFor(tc.score); got != tc.want {
			t.Fatalf("score %v: expected %s got %s", tc.score, tc.want, got)
		}
	}
}

func newReputationEngine() *usecase.ReputationEngine {
	return &usecase.ReputationEngine{Store: memstore.NewReputationStore()}
}

func ratingOf(n int) *int { return &n }

func TestFoldOutcomeUpdatesRecord(t *testing.T) {
	ctx := context.Background()
	e := newReputationEngine()

	outcome := domain.Outcome{
		AgreementID: "agr-1",
		FinalState:  domain.StateReleased,
		Rating:      ratingOf(5),
		OnTime:      true,
		Timestamp:   time.Now(),
	}
	if err := e.FoldOutcome(ctx, "provider-a", outcome); err != nil {
		t.Fatalf("fold: %v", err)
	}

	view, err := e.GetReputation(ctx, "provider-a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if view.CompletedCount != 1 || view.DisputedCount != 0 {
		t.Fatalf("unexpected counters: %+v", view)
	}
	if view.Score != 90 { // 60 + 30 + 0
		t.Fatalf("expected score 90, got %v", view.Score)
	}
	if view.Tier != domain.TierElite {
		t.Fatalf("expected elite, got %s", view.Tier)
	}
}

func TestFoldOutcomeIdempotent(t *testing.T) {
	ctx := context.Background()
	e := newReputationEngine()
	outcome := domain.Outcome{
		AgreementID: "agr-1",
		FinalState:  domain.StateReleased,
		OnTime:      true,
		Timestamp:   time.Now(),
	}
	if err := e.FoldOutcome(ctx, "provider-a", outcome); err != nil {
		t.Fatalf("first fold: %v", err)
	}
	before, _ := e.GetReputation(ctx, "provider-a")

	err := e.FoldOutcome(ctx, "provider-a", outcome)
	if !errors.Is(err, domain.ErrDuplicateOutcome) {
		t.Fatalf("expected duplicate outcome, got %v", err)
	}
	after, _ := e.GetReputation(ctx, "provider-a")
	if before != after {
		t.Fatalf("replay changed the record: %+v vs %+v", before, after)
	}
}

func TestFoldOutcomePerAgentIdempotence(t *testing.T) {
	// the same agreement folds once for each party
	ctx := context.Background()
	e := newReputationEngine()
	outcome := domain.Outcome{
		AgreementID: "agr-1",
		FinalState:  domain.StateReleased,
		OnTime:      true,
		Timestamp:   time.Now(),
	}
	if err := e.FoldOutcome(ctx, "renter-a", outcome); err != nil {
		t.Fatalf("renter fold: %v", err)
	}
	if err := e.FoldOutcome(ctx, "provider-a", outcome); err != nil {
		t.Fatalf("provider fold: %v", err)
	}
}

func TestFoldOutcomeCountsDisputes(t *testing.T) {
	ctx := context.Background()
	e := newReputationEngine()
	outcome := domain.Outcome{
		AgreementID: "agr-1",
		FinalState:  domain.StateResolvedRefund,
		Timestamp:   time.Now(),
	}
	if err := e.FoldOutcome(ctx, "provider-a", outcome); err != nil {
		t.Fatalf("fold: %v", err)
	}
	view, _ := e.GetReputation(ctx, "provider-a")
	if view.DisputedCount != 1 || view.CompletedCount != 1 {
		t.Fatalf("unexpected counters: %+v", view)
	}
}

func TestFoldOutcomeValidation(t *testing.T) {
	ctx := context.Background()
	e := newReputationEngine()
	cases := []struct {
		name    string
		agent   string
		outcome domain.Outcome
	}{
		{"missing agent", "", domain.Outcome{AgreementID: "agr", FinalState: domain.StateReleased}},
		{"missing agreement", "a", domain.Outcome{FinalState: domain.StateReleased}},
		{"rating too low", "a", domain.Outcome{AgreementID: "agr", FinalState: domain.StateReleased, Rating: ratingOf(0)}},
		{"rating too high", "a", domain.Outcome{AgreementID: "agr", FinalState: domain.StateReleased, Rating: ratingOf(6)}},
		{"non-terminal state", "a", domain.Outcome{AgreementID: "agr", FinalState: domain.StateFunded}},
	}
	for _, tc := range cases {
		if err := e.FoldOutcome(ctx, tc.agent, tc.outcome); !errors.Is(err, domain.ErrInvalidTerms) {
			t.Fatalf("%s: expected invalid terms, got %v", tc.name, err)
		}
	}
}

func TestGetReputationUnknownAgentDefaults(t *testing.T) {
	ctx := context.Background()
	e := newReputationEngine()
	view, err := e.GetReputation(ctx, "never-seen")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if view.Score != domain.DefaultScore || view.Tier != domain.TierNew {
		t.Fatalf("expected default reputation, got %+v", view)
	}
	if view.CompletedCount != 0 || view.DisputedCount != 0 {
		t.Fatalf("expected zero counters, got %+v", view)
	}
}

func TestListTopOrdersByScore(t *testing.T) {
	ctx := context.Background()
	e := newReputationEngine()

	fold := func(agent, agreement string, rating int) {
		t.Helper()
		err := e.FoldOutcome(ctx, agent, domain.Outcome{
			AgreementID: agreement,
			FinalState:  domain.StateReleased,
			Rating:      ratingOf(rating),
			OnTime:      true,
			Timestamp:   time.Now(),
		})
		if err != nil {
			t.Fatalf("fold %s: %v", agent, err)
		}
	}
	fold("low", "agr-1", 1)
	fold("high", "agr-2", 5)
	fold("mid", "agr-3", 3)

	views, err := e.ListTop(ctx, 2)
	if err != nil {
		t.Fatalf("list top: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 views, got %d", len(views))
	}
	if views[0].Agent != "high" || views[1].Agent != "mid" {
		t.Fatalf("unexpected ranking: %s, %s", views[0].Agent, views[1].Agent)
	}
}
