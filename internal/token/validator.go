package token

import (
	"context"
	"crypto/hmac"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMalformed is returned when the token string does not have the
	// expected 2- or 3-field dot-separated shape.
	ErrMalformed = errors.New("token malformed")

	// ErrBadSignature is returned when the recomputed digest does not
	// match the token's signature field.
	ErrBadSignature = errors.New("token signature mismatch")

	// ErrExpired is returned when the token is older than the TTL, or
	// issued in the future beyond the clock-skew tolerance.
	ErrExpired = errors.New("token expired")

	// ErrReplay is returned when the token's nonce was already accepted
	// within the current TTL window.
	ErrReplay = errors.New("token replayed")
)

// DefaultClockSkew is how far in the future a token's issue time may lie
// before it is rejected, to absorb clock drift between issuer and validator.
const DefaultClockSkew = 30 * time.Second

// Validator checks tokens against a shared secret, a TTL window, and a
// replay guard. Validation is stateless per call except for the guard.
type Validator struct {
	secret []byte
	ttl    time.Duration
	skew   time.Duration
	guard  ReplayGuard
	now    func() time.Time
}

// NewValidator returns a Validator for the given secret. If ttl is zero,
// DefaultTTL is used. guard may be nil, in which case replay checking is
// skipped entirely; acceptable only with fixed-window tokens, and callers
// relying on replay resistance must supply a guard.
func NewValidator(secret []byte, ttl time.Duration, guard ReplayGuard) *Validator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Validator{
		secret: secret,
		ttl:    ttl,
		skew:   DefaultClockSkew,
		guard:  guard,
		now:    time.Now,
	}
}

// Validate parses and checks raw. It returns nil on acceptance, or one of
// ErrMalformed, ErrBadSignature, ErrExpired, ErrReplay (possibly wrapped).
//
// Checks run cheapest-reject-first, with the signature check before any
// freshness or replay decision so an attacker learns nothing about the
// guard's contents from unsigned probes. Under concurrent validation of the
// same token exactly one caller is accepted; the rest observe ErrReplay.
func (v *Validator) Validate(ctx context.Context, raw string) error {
	t, err := Parse(raw)
	if err != nil {
		return err
	}

	want := sign(v.secret, t.IssuedAt, t.Nonce)
	if !hmac.Equal([]byte(want), []byte(t.Signature)) {
		return ErrBadSignature
	}

	now := v.now()
	age := now.Unix() - t.IssuedAt
	if age > int64(v.ttl/time.Second) {
		return ErrExpired
	}
	if age < -int64(v.skew/time.Second) {
		return ErrExpired
	}

	if t.Nonce != "" && v.guard != nil {
		// Remaining validity bounds how long the nonce must be remembered.
		remaining := v.ttl - time.Duration(age)*time.Second
		if remaining <= 0 {
			remaining = time.Second
		}
		first, err := v.guard.Remember(ctx, t.Nonce, remaining)
		if err != nil {
			return fmt.Errorf("replay guard: %w", err)
		}
		if !first {
			return ErrReplay
		}
	}

	return nil
}
