package canon

import (
	"bytes"
	"testing"
)

func TestCanonicalizeJSONSortsKeys(t *testing.T) {
	got, err := CanonicalizeJSON([]byte(`{"b":1,"a":{"z":true,"y":null}}`))
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	want := `{"a":{"y":null,"z":true},"b":1}`
	if string(got) != want {
		t.Fatalf("expected %s got %s", want, got)
	}
}

func TestCanonicalizeNumbers(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`1.0`, `1`},
		{`1000000`, `1000000`},
		{`-0.5`, `-0.5`},
		{`1e22`, `1e22`},
		{`0.000001`, `0.000001`},
		{`0`, `0`},
	}
	for _, tc := range cases {
		got, err := CanonicalizeJSON([]byte(tc.in))
		if err != nil {
			t.Fatalf("canonicalize %s: %v", tc.in, err)
		}
		if string(got) != tc.want {
			t.Fatalf("number %s: expected %s got %s", tc.in, tc.want, got)
		}
	}
}

func TestCanonicalizeAnyDeterministic(t *testing.T) {
	payload := map[string]any{
		"amount":   int64(1_000_000),
		"skill":    "translation",
		"on_time":  true,
		"metadata": map[string]any{"uri": "ipfs://abc", "n": 3},
	}
	first, err := CanonicalizeAny(payload)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	second, err := CanonicalizeAny(payload)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("canonical form not stable: %s vs %s", first, second)
	}
}

func TestCanonicalizeAnySurvivesRoundTrip(t *testing.T) {
	payload := map[string]any{"amount": 42, "to": "agent-a"}
	direct, err := CanonicalizeAny(payload)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	reparsed, err := CanonicalizeJSON(direct)
	if err != nil {
		t.Fatalf("re-canonicalize: %v", err)
	}
	if !bytes.Equal(direct, reparsed) {
		t.Fatalf("round trip changed canonical form: %s vs %s", direct, reparsed)
	}
}

func TestCanonicalizeJSONRejectsTrailingData(t *testing.T) {
	if _, err := CanonicalizeJSON([]byte(`{"a":1} {"b":2}`)); err == nil {
		t.Fatal("expected error for trailing data")
	}
}
