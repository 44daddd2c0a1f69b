package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultTTL is how long a minted token stays acceptable (per protocol).
const DefaultTTL = 300 * time.Second

// nonceBytes gives 64 bits of entropy, enough to make guessing a live
// nonce infeasible within the TTL window.
const nonceBytes = 8

// AccessToken is the parsed form of the opaque token string
// "{issuedAt}.{nonce}.{signature}". Nonce is empty in the legacy
// fixed-window form "{issuedAt}.{signature}".
type AccessToken struct {
	IssuedAt  int64
	Nonce     string
	Signature string
}

// String re-encodes the token into its opaque wire form.
func (t AccessToken) String() string {
	if t.Nonce == "" {
		return fmt.Sprintf("%d.%s", t.IssuedAt, t.Signature)
	}
	return fmt.Sprintf("%d.%s.%s", t.IssuedAt, t.Nonce, t.Signature)
}

// sign computes the keyed digest over the canonical payload
// "{issuedAt}.{nonce}.". The trailing dot is part of the payload even
// when the nonce is empty, so both variants share one signing scheme.
func sign(secret []byte, issuedAt int64, nonce string) string {
	mac := hmac.New(sha256.New, secret)
	fmt.Fprintf(mac, "%d.%s.", issuedAt, nonce)
	return hex.EncodeToString(mac.Sum(nil))
}

// Issuer mints access tokens. It holds no state beyond the secret and is
// safe for unbounded concurrent use.
type Issuer struct {
	secret []byte
	now    func() time.Time
}

// NewIssuer returns an Issuer signing with the given secret.
func NewIssuer(secret []byte) *Issuer {
	return &Issuer{secret: secret, now: time.Now}
}

// Mint returns a fresh replay-resistant token: a new random nonce is drawn
// on every call, so two mints within the same second still differ.
func (i *Issuer) Mint() (string, error) {
	buf := make([]byte, nonceBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("draw nonce: %w", err)
	}
	now := i.now().Unix()
	nonce := hex.EncodeToString(buf)
	return AccessToken{
		IssuedAt:  now,
		Nonce:     nonce,
		Signature: sign(i.secret, now, nonce),
	}.String(), nil
}

// MintFixedWindow returns a nonce-less token. Two calls within the same
// second produce identical, equally valid tokens: this variant carries no
// replay protection and exists only for legacy consumers that cannot
// handle the 3-field form. Prefer Mint.
func (i *Issuer) MintFixedWindow() string {
	now := i.now().Unix()
	return AccessToken{
		IssuedAt:  now,
		Signature: sign(i.secret, now, ""),
	}.String()
}

// Parse splits an opaque token string into its components. It accepts the
// 3-field nonce form and the 2-field fixed-window form; any other shape is
// ErrMalformed. Parse does not verify the signature.
func Parse(raw string) (AccessToken, error) {
	parts := strings.Split(raw, ".")

	var t AccessToken
	switch len(parts) {
	case 2:
		t.Signature = parts[1]
	case 3:
		t.Nonce = parts[1]
		t.Signature = parts[2]
	default:
		return AccessToken{}, ErrMalformed
	}

	issuedAt, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return AccessToken{}, ErrMalformed
	}
	if t.Signature == "" {
		return AccessToken{}, ErrMalformed
	}

	t.IssuedAt = issuedAt
	return t, nil
}
