package policyarb

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"clawtrust/internal/domain"
)

func TestStaticAuthorizer(t *testing.T) {
	ctx := context.Background()
	auth := NewStatic([]string{"arbiter-1", "arbiter-2", ""})
	agreement := domain.Agreement{ID: "agr-1"}

	if err := auth.Authorize(ctx, domain.Principal{Address: "arbiter-1"}, agreement); err != nil {
		t.Fatalf("allowed arbiter rejected: %v", err)
	}
	err := auth.Authorize(ctx, domain.Principal{Address: "stranger"}, agreement)
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	err = auth.Authorize(ctx, domain.Principal{}, agreement)
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized for empty address, got %v", err)
	}
}

const testPolicy = `package clawtrust.arbiter

import rego.v1

default allow := false

allow if {
	input.arbiter.address == "arbiter-1"
	input.agreement.state == "disputed"
}
`

func writePolicy(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "arbiter.rego")
	if err := os.WriteFile(path, []byte(testPolicy), 0o600); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	return path
}

func TestEngineAuthorize(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngineFromPath(ctx, writePolicy(t))
	if err != nil {
		t.Fatalf("load policy: %v", err)
	}

	disputed := domain.Agreement{ID: "agr-1", State: domain.StateDisputed}
	if err := engine.Authorize(ctx, domain.Principal{Address: "arbiter-1"}, disputed); err != nil {
		t.Fatalf("policy should allow arbiter-1: %v", err)
	}

	err = engine.Authorize(ctx, domain.Principal{Address: "stranger"}, disputed)
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden for stranger, got %v", err)
	}

	funded := domain.Agreement{ID: "agr-1", State: domain.StateFunded}
	err = engine.Authorize(ctx, domain.Principal{Address: "arbiter-1"}, funded)
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden outside disputed state, got %v", err)
	}
}
