package usecase

import (
	"context"
	"fmt"
	"time"

	"clawtrust/internal/domain"

	"github.com/google/uuid"
)

// EscrowEngine owns the per-agreement settlement state machine. Every
// mutating operation runs inside a settlement transaction, so the ledger
// transfer, the state transition, and the event append commit together
// or leave the agreement exactly as it was.
type EscrowEngine struct {
	Store   SettlementStore
	Canon   Canonicalizer
	Arbiter domain.ArbiterAuthorizer
	Clock   func() time.Time
}

func (e *EscrowEngine) now() time.Time {
	if e.Clock != nil {
		return e.Clock().UTC()
	}
	return time.Now().UTC()
}

type InitializeRequest struct {
	Provider      string
	Renter        string
	Skill         string
	Amount        int64
	Deadline      time.Time
	Nonce         string
	ReleasePolicy domain.ReleasePolicy
}

// Initialize creates a new agreement in the created state. The agreement
// id is derived from {provider, renter, skill, nonce}; callers that
// omit the nonce get a random one and with it a fresh agreement.
func (e *EscrowEngine) Initialize(ctx context.Context, req InitializeRequest) (domain.Agreement, error) {
	now := e.now()
	if err := domain.ValidateTerms(req.Provider, req.Renter, req.Skill, req.Amount, req.Deadline, now); err != nil {
		return domain.Agreement{}, err
	}
	policy := req.ReleasePolicy
	if policy == "" {
		policy = domain.ReleaseRequiresDelivery
	}
	if !policy.Valid() {
		return domain.Agreement{}, fmt.Errorf("%w: unknown release policy %q", domain.ErrInvalidTerms, req.ReleasePolicy)
	}
	nonce := req.Nonce
	if nonce == "" {
		nonce = uuid.NewString()
	}

	agreement := domain.Agreement{
		ID:            domain.AgreementID(req.Provider, req.Renter, req.Skill, nonce),
		Provider:      req.Provider,
		Renter:        req.Renter,
		Skill:         req.Skill,
		Amount:        req.Amount,
		Deadline:      req.Deadline.UTC(),
		ReleasePolicy: policy,
		State:         domain.StateCreated,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := e.Store.WithAgreementTx(ctx, agreement.ID, func(tx SettlementTx) error {
		if existing, err := tx.Get(agreement.ID); err == nil && existing != nil {
			return fmt.Errorf("%w: agreement %s already exists", domain.ErrState, agreement.ID)
		}
		if err := tx.Create(agreement); err != nil {
			return err
		}
		return e.appendEvent(tx, agreement, domain.EventInitialized, domain.ActorRenter, agreement.Renter, map[string]any{
			"provider": agreement.Provider,
			"renter":   agreement.Renter,
			"skill":    agreement.Skill,
			"amount":   agreement.Amount,
			"deadline": agreement.Deadline.Format(time.RFC3339),
			"policy":   string(agreement.ReleasePolicy),
		})
	})
	if err != nil {
		return domain.Agreement{}, err
	}
	return agreement, nil
}

// Fund moves the agreed amount from the renter into the escrow-held
// account. The transfer and the created -> funded transition are one
// atomic unit; a failed transfer leaves the agreement untouched.
func (e *EscrowEngine) Fund(ctx context.Context, id, caller string, amount int64) (domain.Agreement, error) {
	var out domain.Agreement
	err := e.Store.WithAgreementTx(ctx, id, func(tx SettlementTx) error {
		a, err := tx.Get(id)
		if err != nil {
			return err
		}
		if a.State != domain.StateCreated {
			return fmt.Errorf("%w: cannot fund from %s", domain.ErrState, a.State)
		}
		if caller != a.Renter {
			return fmt.Errorf("%w: only the renter may fund", domain.ErrUnauthorized)
		}
		if amount != a.Amount {
			return fmt.Errorf("%w: expected %d got %d", domain.ErrAmountMismatch, a.Amount, amount)
		}
		receipt, err := tx.Transfer(a.Renter, a.EscrowAccount(), amount)
		if err != nil {
			return fmt.Errorf("%w: %w", domain.ErrLedgerFailure, err)
		}
		now := e.now()
		a.State = domain.StateFunded
		a.FundedAt = &now
		a.UpdatedAt = now
		if err := tx.Update(*a); err != nil {
			return err
		}
		out = *a
		return e.appendEvent(tx, *a, domain.EventFunded, domain.ActorRenter, caller, map[string]any{
			"amount": receipt.Amount,
			"from":   receipt.From,
			"to":     receipt.To,
		})
	})
	if err != nil {
		return domain.Agreement{}, err
	}
	return out, nil
}

// SubmitDelivery records the deliverable hash. The hash is write-once:
// it is only ever set on the funded -> delivered transition.
func (e *EscrowEngine) SubmitDelivery(ctx context.Context, id, caller, deliverableHash string) (domain.Agreement, error) {
	var out domain.Agreement
	err := e.Store.WithAgreementTx(ctx, id, func(tx SettlementTx) error {
		a, err := tx.Get(id)
		if err != nil {
			return err
		}
		if a.State != domain.StateFunded {
			return fmt.Errorf("%w: cannot deliver from %s", domain.ErrState, a.State)
		}
		if caller != a.Provider {
			return fmt.Errorf("%w: only the provider may submit delivery", domain.ErrUnauthorized)
		}
		if deliverableHash == "" {
			return fmt.Errorf("%w: deliverable hash is required", domain.ErrInvalidTerms)
		}
		if a.DeliverableHash != "" {
			return fmt.Errorf("%w: deliverable hash already set", domain.ErrState)
		}
		now := e.now()
		a.State = domain.StateDelivered
		a.DeliverableHash = deliverableHash
		a.DeliveredAt = &now
		a.UpdatedAt = now
		if err := tx.Update(*a); err != nil {
			return err
		}
		out = *a
		return e.appendEvent(tx, *a, domain.EventDelivered, domain.ActorProvider, caller, map[string]any{
			"deliverable_hash": deliverableHash,
		})
	})
	if err != nil {
		return domain.Agreement{}, err
	}
	return out, nil
}

// Release pays the provider. It requires a submitted delivery unless the
// agreement was created with the trust-renter release policy, which lets
// the renter waive delivery proof and release straight from funded.
func (e *EscrowEngine) Release(ctx context.Context, id, caller string) (domain.Agreement, error) {
	var out domain.Agreement
	err := e.Store.WithAgreementTx(ctx, id, func(tx SettlementTx) error {
		a, err := tx.Get(id)
		if err != nil {
			return err
		}
		releasable := a.State == domain.StateDelivered ||
			(a.State == domain.StateFunded && a.ReleasePolicy == domain.ReleaseTrustRenter)
		if !releasable {
			return fmt.Errorf("%w: cannot release from %s under %s policy", domain.ErrState, a.State, a.ReleasePolicy)
		}
		if caller != a.Renter {
			return fmt.Errorf("%w: only the renter may release", domain.ErrUnauthorized)
		}
		receipt, err := tx.Transfer(a.EscrowAccount(), a.Provider, a.Amount)
		if err != nil {
			return fmt.Errorf("%w: %w", domain.ErrLedgerFailure, err)
		}
		now := e.now()
		a.State = domain.StateReleased
		a.ClosedAt = &now
		a.UpdatedAt = now
		if err := tx.Update(*a); err != nil {
			return err
		}
		out = *a
		return e.appendEvent(tx, *a, domain.EventReleased, domain.ActorRenter, caller, map[string]any{
			"amount": receipt.Amount,
			"to":     receipt.To,
		})
	})
	if err != nil {
		return domain.Agreement{}, err
	}
	return out, nil
}

// Cancel withdraws an agreement before any work starts. Either party may
// cancel while nothing has been delivered; locked funds go back to the
// renter.
func (e *EscrowEngine) Cancel(ctx context.Context, id, caller string) (domain.Agreement, error) {
	var out domain.Agreement
	err := e.Store.WithAgreementTx(ctx, id, func(tx SettlementTx) error {
		a, err := tx.Get(id)
		if err != nil {
			return err
		}
		if a.State != domain.StateCreated && a.State != domain.StateFunded {
			return fmt.Errorf("%w: cannot cancel from %s", domain.ErrState, a.State)
		}
		if caller != a.Renter && caller != a.Provider {
			return fmt.Errorf("%w: only a party to the agreement may cancel", domain.ErrUnauthorized)
		}
		payload := map[string]any{"cancelled_from": string(a.State)}
		if a.State == domain.StateFunded {
			receipt, err := tx.Transfer(a.EscrowAccount(), a.Renter, a.Amount)
			if err != nil {
				return fmt.Errorf("%w: %w", domain.ErrLedgerFailure, err)
			}
			payload["refunded"] = receipt.Amount
		}
		now := e.now()
		actorType := domain.ActorRenter
		if caller == a.Provider {
			actorType = domain.ActorProvider
		}
		a.State = domain.StateCancelled
		a.ClosedAt = &now
		a.UpdatedAt = now
		if err := tx.Update(*a); err != nil {
			return err
		}
		out = *a
		return e.appendEvent(tx, *a, domain.EventCancelled, actorType, caller, payload)
	})
	if err != nil {
		return domain.Agreement{}, err
	}
	return out, nil
}

// ExpireRefund is the system-triggered backstop: once the deadline has
// passed with funds locked and nothing delivered, the renter is made
// whole. A dispute recorded first always wins; an agreement already in a
// terminal state makes this a no-op so the sweeper can fire redundantly.
func (e *EscrowEngine) ExpireRefund(ctx context.Context, id string) (domain.Agreement, error) {
	var out domain.Agreement
	err := e.Store.WithAgreementTx(ctx, id, func(tx SettlementTx) error {
		a, err := tx.Get(id)
		if err != nil {
			return err
		}
		if a.State.Terminal() {
			out = *a
			return nil
		}
		if a.State != domain.StateFunded {
			return fmt.Errorf("%w: cannot expire from %s", domain.ErrState, a.State)
		}
		now := e.now()
		if !now.After(a.Deadline) {
			return fmt.Errorf("%w: deadline not elapsed", domain.ErrState)
		}
		receipt, err := tx.Transfer(a.EscrowAccount(), a.Renter, a.Amount)
		if err != nil {
			return fmt.Errorf("%w: %w", domain.ErrLedgerFailure, err)
		}
		a.State = domain.StateRefunded
		a.ClosedAt = &now
		a.UpdatedAt = now
		if err := tx.Update(*a); err != nil {
			return err
		}
		out = *a
		return e.appendEvent(tx, *a, domain.EventRefunded, domain.ActorSystem, "", map[string]any{
			"refunded": receipt.Amount,
			"deadline": a.Deadline.Format(time.RFC3339),
		})
	})
	if err != nil {
		return domain.Agreement{}, err
	}
	return out, nil
}

// Dispute freezes settlement until an arbiter rules. No funds move.
func (e *EscrowEngine) Dispute(ctx context.Context, id, caller, reason string) (domain.Agreement, error) {
	var out domain.Agreement
	err := e.Store.WithAgreementTx(ctx, id, func(tx SettlementTx) error {
		a, err := tx.Get(id)
		if err != nil {
			return err
		}
		if a.State != domain.StateFunded && a.State != domain.StateDelivered {
			return fmt.Errorf("%w: cannot dispute from %s", domain.ErrState, a.State)
		}
		if caller != a.Renter && caller != a.Provider {
			return fmt.Errorf("%w: only a party to the agreement may dispute", domain.ErrUnauthorized)
		}
		if reason == "" {
			return fmt.Errorf("%w: dispute reason is required", domain.ErrInvalidTerms)
		}
		now := e.now()
		actorType := domain.ActorRenter
		if caller == a.Provider {
			actorType = domain.ActorProvider
		}
		a.State = domain.StateDisputed
		a.DisputeReason = reason
		a.DisputedAt = &now
		a.UpdatedAt = now
		if err := tx.Update(*a); err != nil {
			return err
		}
		out = *a
		return e.appendEvent(tx, *a, domain.EventDisputed, actorType, caller, map[string]any{
			"reason": reason,
		})
	})
	if err != nil {
		return domain.Agreement{}, err
	}
	return out, nil
}

// ResolveDispute lets an authorized arbiter settle a disputed agreement.
// The arbiter is a distinct credential; parties to the agreement are
// rejected outright regardless of what the authorizer would say.
func (e *EscrowEngine) ResolveDispute(ctx context.Context, id string, principal domain.Principal, decision domain.ResolutionDecision) (domain.Agreement, error) {
	var out domain.Agreement
	err := e.Store.WithAgreementTx(ctx, id, func(tx SettlementTx) error {
		a, err := tx.Get(id)
		if err != nil {
			return err
		}
		if a.State != domain.StateDisputed {
			return fmt.Errorf("%w: cannot resolve from %s", domain.ErrState, a.State)
		}
		if !decision.Valid() {
			return fmt.Errorf("%w: unknown decision %q", domain.ErrInvalidTerms, decision)
		}
		if principal.Address == "" || principal.Address == a.Renter || principal.Address == a.Provider {
			return fmt.Errorf("%w: arbiter must be distinct from the parties", domain.ErrUnauthorized)
		}
		if e.Arbiter == nil {
			return fmt.Errorf("%w: no arbiter authorizer configured", domain.ErrUnauthorized)
		}
		if err := e.Arbiter.Authorize(ctx, principal, *a); err != nil {
			return err
		}

		to := a.Provider
		next := domain.StateResolvedRelease
		if decision == domain.DecisionRefundToRenter {
			to = a.Renter
			next = domain.StateResolvedRefund
		}
		receipt, err := tx.Transfer(a.EscrowAccount(), to, a.Amount)
		if err != nil {
			return fmt.Errorf("%w: %w", domain.ErrLedgerFailure, err)
		}
		now := e.now()
		a.State = next
		a.ClosedAt = &now
		a.UpdatedAt = now
		if err := tx.Update(*a); err != nil {
			return err
		}
		out = *a
		return e.appendEvent(tx, *a, domain.EventDisputeResolved, domain.ActorArbiter, principal.Address, map[string]any{
			"decision": string(decision),
			"amount":   receipt.Amount,
			"to":       receipt.To,
		})
	})
	if err != nil {
		return domain.Agreement{}, err
	}
	return out, nil
}

func (e *EscrowEngine) GetAgreement(ctx context.Context, id string) (*domain.Agreement, error) {
	return e.Store.GetAgreement(ctx, id)
}

func (e *EscrowEngine) ListEvents(ctx context.Context, id string) ([]domain.SettlementEvent, error) {
	return e.Store.ListEvents(ctx, id)
}

func (e *EscrowEngine) appendEvent(tx SettlementTx, a domain.Agreement, typ domain.EventType, actorType domain.ActorType, actor string, payload map[string]any) error {
	prevSeq, prevHash, err := tx.LastEvent(a.ID)
	if err != nil {
		return err
	}
	event := domain.SettlementEvent{
		ID:          uuid.NewString(),
		AgreementID: a.ID,
		EventType:   typ,
		ActorType:   actorType,
		Actor:       actor,
		Payload:     payload,
		CreatedAt:   e.now(),
	}
	event, err = ChainEvent(e.Canon, event, prevSeq, prevHash)
	if err != nil {
		return err
	}
	return tx.AppendEvent(event)
}
