package token

import (
	"context"
	"strings"
	"testing"
	"time"
)

var testSecret = []byte("test-secret")

// fixedIssuer returns an issuer whose clock is pinned to at.
func fixedIssuer(at time.Time) *Issuer {
	i := NewIssuer(testSecret)
	i.now = func() time.Time { return at }
	return i
}

// fixedValidator returns a validator whose clock is pinned to at.
func fixedValidator(t *testing.T, at time.Time, guard ReplayGuard) *Validator {
	t.Helper()
	v := NewValidator(testSecret, DefaultTTL, guard)
	v.now = func() time.Time { return at }
	return v
}

func TestMint_then_validate_accepts(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	raw, err := fixedIssuer(now).Mint()
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	v := fixedValidator(t, now, nil)
	if err := v.Validate(context.Background(), raw); err != nil {
		t.Errorf("expected accept, got %v", err)
	}
}

func TestMint_same_second_differs(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	i := fixedIssuer(now)

	a, err := i.Mint()
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	b, err := i.Mint()
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if a == b {
		t.Error("two mints in the same second should differ (nonce)")
	}
}

func TestMintFixedWindow_same_second_identical(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	i := fixedIssuer(now)

	if a, b := i.MintFixedWindow(), i.MintFixedWindow(); a != b {
		t.Errorf("fixed-window mints in the same second should match: %q vs %q", a, b)
	}
}

func TestParse_shapes(t *testing.T) {
	cases := []struct {
		raw     string
		wantErr bool
	}{
		{"1700000000.abcd1234abcd1234.deadbeef", false},
		{"1700000000.deadbeef", false},
		{"1700000000", true},
		{"a.b.c.d", true},
		{"notanumber.nonce.sig", true},
		{"1700000000..", true},
		{"", true},
	}
	for _, c := range cases {
		_, err := Parse(c.raw)
		if c.wantErr && err == nil {
			t.Errorf("Parse(%q): expected error", c.raw)
		}
		if !c.wantErr && err != nil {
			t.Errorf("Parse(%q): unexpected error %v", c.raw, err)
		}
	}
}

func TestValidate_rejects_mutated_signature(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	raw, err := fixedIssuer(now).Mint()
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	v := fixedValidator(t, now, nil)

	// Flip the last signature character to any other hex digit.
	last := raw[len(raw)-1]
	flip := byte('0')
	if last == '0' {
		flip = '1'
	}
	mutated := raw[:len(raw)-1] + string(flip)

	err = v.Validate(context.Background(), mutated)
	if err != ErrBadSignature {
		t.Errorf("expected ErrBadSignature, got %v", err)
	}
}

func TestValidate_rejects_wrong_secret(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	raw, err := fixedIssuer(now).Mint()
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	v := NewValidator([]byte("other-secret"), DefaultTTL, nil)
	v.now = func() time.Time { return now }

	if err := v.Validate(context.Background(), raw); err != ErrBadSignature {
		t.Errorf("expected ErrBadSignature, got %v", err)
	}
}

func TestValidate_ttl_boundaries(t *testing.T) {
	issued := time.Unix(1_700_000_000, 0)
	raw, err := fixedIssuer(issued).Mint()
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	// One second inside the window: accept.
	v := fixedValidator(t, issued.Add(DefaultTTL-time.Second), nil)
	if err := v.Validate(context.Background(), raw); err != nil {
		t.Errorf("TTL-1: expected accept, got %v", err)
	}

	// Exactly at TTL: still accepted (boundary pinned to the accept side).
	v = fixedValidator(t, issued.Add(DefaultTTL), nil)
	if err := v.Validate(context.Background(), raw); err != nil {
		t.Errorf("TTL: expected accept, got %v", err)
	}

	// One second past: reject.
	v = fixedValidator(t, issued.Add(DefaultTTL+time.Second), nil)
	if err := v.Validate(context.Background(), raw); err != ErrExpired {
		t.Errorf("TTL+1: expected ErrExpired, got %v", err)
	}
}

func TestValidate_rejects_future_token_beyond_skew(t *testing.T) {
	issued := time.Unix(1_700_000_000, 0)
	raw, err := fixedIssuer(issued).Mint()
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	// Within the skew tolerance: accept.
	v := fixedValidator(t, issued.Add(-DefaultClockSkew), nil)
	if err := v.Validate(context.Background(), raw); err != nil {
		t.Errorf("within skew: expected accept, got %v", err)
	}

	// Beyond it: reject.
	v = fixedValidator(t, issued.Add(-DefaultClockSkew-time.Second), nil)
	if err := v.Validate(context.Background(), raw); err != ErrExpired {
		t.Errorf("beyond skew: expected ErrExpired, got %v", err)
	}
}

func TestValidate_replay_second_use_rejected(t *testing.T) {
	guard := NewMemoryGuard()
	defer guard.Close()

	now := time.Unix(1_700_000_000, 0)
	raw, err := fixedIssuer(now).Mint()
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	v := fixedValidator(t, now, guard)

	if err := v.Validate(context.Background(), raw); err != nil {
		t.Fatalf("first use: expected accept, got %v", err)
	}
	if err := v.Validate(context.Background(), raw); err != ErrReplay {
		t.Errorf("second use: expected ErrReplay, got %v", err)
	}
}

func TestValidate_fixed_window_token_accepted_twice(t *testing.T) {
	guard := NewMemoryGuard()
	defer guard.Close()

	now := time.Unix(1_700_000_000, 0)
	raw := fixedIssuer(now).MintFixedWindow()
	v := fixedValidator(t, now, guard)

	// No nonce, nothing to replay-guard: the documented weaker variant.
	for i := 0; i < 2; i++ {
		if err := v.Validate(context.Background(), raw); err != nil {
			t.Fatalf("use %d: expected accept, got %v", i+1, err)
		}
	}
}

func TestAccessToken_roundtrip(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	raw, err := fixedIssuer(now).Mint()
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	parsed, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.String() != raw {
		t.Errorf("roundtrip mismatch: %q vs %q", parsed.String(), raw)
	}
	if parsed.IssuedAt != now.Unix() {
		t.Errorf("issuedAt = %d, want %d", parsed.IssuedAt, now.Unix())
	}
	if len(parsed.Nonce) != nonceBytes*2 {
		t.Errorf("nonce length = %d, want %d", len(parsed.Nonce), nonceBytes*2)
	}
	if !strings.Contains(raw, parsed.Nonce) {
		t.Error("wire form should contain the nonce")
	}
}
