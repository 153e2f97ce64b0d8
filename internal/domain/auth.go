package domain

import "context"

// Principal identifies the calling agent. The arbiter role is a distinct
// credential; it is never inferred from being a party to the agreement.
type Principal struct {
	Address string
	Roles   []string
}

const RoleArbiter = "arbiter"

func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// ArbiterAuthorizer decides whether a principal may resolve a disputed
// agreement. Implementations: a static allow-list and an OPA policy.
type ArbiterAuthorizer interface {
	Authorize(ctx context.Context, principal Principal, agreement Agreement) error
}
