package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"clawtrust/internal/domain"

	"github.com/google/uuid"
)

// MandateCoordinator sequences rental mandates onto escrow engine calls
// one-to-one and, on the first terminal transition, folds exactly one
// outcome per party into the reputation engine. It holds no settlement
// authority of its own: every transition goes through the escrow engine
// and errors surface verbatim.
type MandateCoordinator struct {
	Escrow     *EscrowEngine
	Reputation *ReputationEngine
	Mandates   MandateStore
	Clock      func() time.Time
}

func (c *MandateCoordinator) now() time.Time {
	if c.Clock != nil {
		return c.Clock().UTC()
	}
	return time.Now().UTC()
}

type CreateMandateRequest struct {
	InitializeRequest
	MetadataURI string
}

// CreateAgreement opens a bare agreement with no mandate wrapper.
func (c *MandateCoordinator) CreateAgreement(ctx context.Context, req InitializeRequest) (domain.Agreement, error) {
	return c.Escrow.Initialize(ctx, req)
}

// CreateMandate opens an agreement together with its human-facing
// mandate record.
func (c *MandateCoordinator) CreateMandate(ctx context.Context, req CreateMandateRequest) (domain.Mandate, domain.Agreement, error) {
	agreement, err := c.Escrow.Initialize(ctx, req.InitializeRequest)
	if err != nil {
		return domain.Mandate{}, domain.Agreement{}, err
	}
	now := c.now()
	mandate := domain.Mandate{
		ID:          uuid.NewString(),
		AgreementID: agreement.ID,
		Skill:       agreement.Skill,
		Provider:    agreement.Provider,
		Renter:      agreement.Renter,
		Amount:      agreement.Amount,
		Deadline:    agreement.Deadline,
		MetadataURI: req.MetadataURI,
		Status:      domain.MandatePending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := c.Mandates.Create(ctx, mandate); err != nil {
		return domain.Mandate{}, domain.Agreement{}, err
	}
	return mandate, agreement, nil
}

func (c *MandateCoordinator) GetMandate(ctx context.Context, id string) (*domain.Mandate, error) {
	return c.Mandates.Get(ctx, id)
}

func (c *MandateCoordinator) ListMandates(ctx context.Context, status domain.MandateStatus) ([]domain.Mandate, error) {
	return c.Mandates.List(ctx, status)
}

func (c *MandateCoordinator) Fund(ctx context.Context, id, caller string, amount int64) (domain.Agreement, error) {
	a, err := c.Escrow.Fund(ctx, id, caller, amount)
	if err != nil {
		return domain.Agreement{}, err
	}
	return a, c.afterTransition(ctx, a, nil)
}

func (c *MandateCoordinator) SubmitDelivery(ctx context.Context, id, caller, deliverableHash string) (domain.Agreement, error) {
	a, err := c.Escrow.SubmitDelivery(ctx, id, caller, deliverableHash)
	if err != nil {
		return domain.Agreement{}, err
	}
	return a, c.afterTransition(ctx, a, nil)
}

// Release settles in the provider's favor. The renter may attach a
// 1-5 rating for the provider; it rides along into the provider's
// outcome fold.
func (c *MandateCoordinator) Release(ctx context.Context, id, caller string, rating *int) (domain.Agreement, error) {
	if rating != nil && (*rating < 1 || *rating > 5) {
		return domain.Agreement{}, fmt.Errorf("%w: rating must be between 1 and 5", domain.ErrInvalidTerms)
	}
	a, err := c.Escrow.Release(ctx, id, caller)
	if err != nil {
		return domain.Agreement{}, err
	}
	return a, c.afterTransition(ctx, a, rating)
}

func (c *MandateCoordinator) Cancel(ctx context.Context, id, caller string) (domain.Agreement, error) {
	a, err := c.Escrow.Cancel(ctx, id, caller)
	if err != nil {
		return domain.Agreement{}, err
	}
	return a, c.afterTransition(ctx, a, nil)
}

func (c *MandateCoordinator) Dispute(ctx context.Context, id, caller, reason string) (domain.Agreement, error) {
	a, err := c.Escrow.Dispute(ctx, id, caller, reason)
	if err != nil {
		return domain.Agreement{}, err
	}
	return a, c.afterTransition(ctx, a, nil)
}

func (c *MandateCoordinator) ResolveDispute(ctx context.Context, id string, principal domain.Principal, decision domain.ResolutionDecision) (domain.Agreement, error) {
	a, err := c.Escrow.ResolveDispute(ctx, id, principal, decision)
	if err != nil {
		return domain.Agreement{}, err
	}
	return a, c.afterTransition(ctx, a, nil)
}

// ExpireRefund is invoked by the sweeper; terminal agreements make it a
// no-op, which still re-syncs the mandate and re-delivers the outcome
// fold in case an earlier post-transition step was interrupted.
func (c *MandateCoordinator) ExpireRefund(ctx context.Context, id string) (domain.Agreement, error) {
	a, err := c.Escrow.ExpireRefund(ctx, id)
	if err != nil {
		return domain.Agreement{}, err
	}
	return a, c.afterTransition(ctx, a, nil)
}

// afterTransition syncs the mandate record with the new escrow state
// and, if the state is terminal, folds the outcome for both parties.
// Duplicate folds are expected on redelivery and are swallowed; any
// other fold failure is returned so the caller knows the reputation
// update is still owed. The escrow transition has already committed,
// so callers receive the agreement alongside the error.
func (c *MandateCoordinator) afterTransition(ctx context.Context, a domain.Agreement, rating *int) error {
	c.syncMandate(ctx, a)
	if !a.State.Terminal() {
		return nil
	}
	at := a.UpdatedAt
	if a.ClosedAt != nil {
		at = *a.ClosedAt
	}
	renterErr := c.fold(ctx, a.Renter, domain.Outcome{
		AgreementID: a.ID,
		FinalState:  a.State,
		OnTime:      renterOnTime(a),
		Timestamp:   at,
	})
	providerErr := c.fold(ctx, a.Provider, domain.Outcome{
		AgreementID: a.ID,
		FinalState:  a.State,
		Rating:      rating,
		OnTime:      providerOnTime(a),
		Timestamp:   at,
	})
	return errors.Join(renterErr, providerErr)
}

func (c *MandateCoordinator) syncMandate(ctx context.Context, a domain.Agreement) {
	if c.Mandates == nil {
		return
	}
	m, err := c.Mandates.GetByAgreement(ctx, a.ID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			log.Printf("mandate sync failed for agreement %s: %v", a.ID, err)
		}
		return
	}
	m.Status = domain.MandateStatusFor(a.State)
	if a.State.Terminal() {
		m.FinalState = a.State
	}
	m.UpdatedAt = c.now()
	if err := c.Mandates.Update(ctx, *m); err != nil {
		log.Printf("mandate update failed for agreement %s: %v", a.ID, err)
	}
}

func (c *MandateCoordinator) fold(ctx context.Context, agent string, outcome domain.Outcome) error {
	err := c.Reputation.FoldOutcome(ctx, agent, outcome)
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrDuplicateOutcome) {
		log.Printf("duplicate outcome for agreement %s agent %s ignored", outcome.AgreementID, agent)
		return nil
	}
	return fmt.Errorf("outcome fold for agreement %s agent %s: %w", outcome.AgreementID, agent, err)
}

// renterOnTime reports whether the renter paid before the deadline.
func renterOnTime(a domain.Agreement) bool {
	return a.FundedAt != nil && !a.FundedAt.After(a.Deadline)
}

// providerOnTime reports whether the provider delivered before the
// deadline and the settlement went their way.
func providerOnTime(a domain.Agreement) bool {
	if a.DeliveredAt == nil || a.DeliveredAt.After(a.Deadline) {
		return false
	}
	return a.State == domain.StateReleased || a.State == domain.StateResolvedRelease
}
