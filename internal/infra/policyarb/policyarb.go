// Package policyarb decides who may arbitrate disputes. The static
// authorizer checks a configured allow-list; the OPA engine evaluates a
// rego policy over the principal and the agreement, for deployments
// where arbiter assignment depends on more than an address list.
package policyarb

import (
	"context"
	"errors"
	"fmt"

	"clawtrust/internal/config"
	"clawtrust/internal/domain"

	"github.com/open-policy-agent/opa/rego"
)

// FromConfig picks the OPA engine when a policy path is configured and
// the allow-list otherwise.
func FromConfig(ctx context.Context, cfg config.Config) (domain.ArbiterAuthorizer, error) {
	if cfg.ArbiterPolicyPath != "" {
		return NewEngineFromPath(ctx, cfg.ArbiterPolicyPath)
	}
	return NewStatic(cfg.ArbiterAddresses), nil
}

type Static struct {
	allowed map[string]struct{}
}

func NewStatic(addresses []string) *Static {
	allowed := make(map[string]struct{}, len(addresses))
	for _, a := range addresses {
		if a != "" {
			allowed[a] = struct{}{}
		}
	}
	return &Static{allowed: allowed}
}

func (s *Static) Authorize(_ context.Context, principal domain.Principal, _ domain.Agreement) error {
	if principal.Address == "" {
		return fmt.Errorf("%w: missing caller address", domain.ErrUnauthorized)
	}
	if _, ok := s.allowed[principal.Address]; !ok {
		return fmt.Errorf("%w: %s is not an authorized arbiter", domain.ErrForbidden, principal.Address)
	}
	return nil
}

const defaultQuery = "data.clawtrust.arbiter.allow"

// Engine evaluates the arbiter policy. The policy must define
// data.clawtrust.arbiter.allow as a boolean over the input document.
type Engine struct {
	query rego.PreparedEvalQuery
}

func NewEngineFromPath(ctx context.Context, policyPath string) (*Engine, error) {
	r := rego.New(
		rego.Query(defaultQuery),
		rego.StrictBuiltinErrors(true),
		rego.Load([]string{policyPath}, nil),
	)
	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare arbiter policy: %w", err)
	}
	return &Engine{query: prepared}, nil
}

func (e *Engine) Authorize(ctx context.Context, principal domain.Principal, agreement domain.Agreement) error {
	if e == nil {
		return errors.New("arbiter policy engine is nil")
	}
	input := map[string]any{
		"arbiter": map[string]any{
			"address": principal.Address,
			"roles":   principal.Roles,
		},
		"agreement": map[string]any{
			"id":       agreement.ID,
			"provider": agreement.Provider,
			"renter":   agreement.Renter,
			"skill":    agreement.Skill,
			"amount":   agreement.Amount,
			"state":    string(agreement.State),
		},
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return fmt.Errorf("evaluate arbiter policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return fmt.Errorf("%w: arbiter policy returned no result", domain.ErrForbidden)
	}
	allowed, ok := results[0].Expressions[0].Value.(bool)
	if !ok || !allowed {
		return fmt.Errorf("%w: %s is not an authorized arbiter", domain.ErrForbidden, principal.Address)
	}
	return nil
}
