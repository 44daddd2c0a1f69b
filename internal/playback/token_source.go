package playback

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"streamgate/internal/token"
)

// Grant is one minted access credential plus the stream endpoint
// descriptor that came with it.
type Grant struct {
	Token     string
	StreamURL string
	ExpiresIn time.Duration
}

// TokenSource mints a fresh access grant. The session calls it on every
// full (re)initialization; grants are never reused across engine builds.
type TokenSource interface {
	Grant(ctx context.Context) (Grant, error)
}

// HTTPTokenSource obtains grants from a gateway's token endpoint.
type HTTPTokenSource struct {
	// Base is the gateway root, e.g. "https://gate.example".
	Base   string
	Client *http.Client
}

// Grant implements TokenSource.
func (s *HTTPTokenSource) Grant(ctx context.Context) (Grant, error) {
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.Base+"/stream/token", nil)
	if err != nil {
		return Grant{}, fmt.Errorf("build token request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return Grant{}, fmt.Errorf("fetch token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Grant{}, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var body struct {
		Token     string `json:"token"`
		WSSURL    string `json:"wss_url"`
		ExpiresIn int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Grant{}, fmt.Errorf("decode token response: %w", err)
	}
	if body.Token == "" {
		return Grant{}, fmt.Errorf("token endpoint returned empty token")
	}

	return Grant{
		Token:     body.Token,
		StreamURL: body.WSSURL,
		ExpiresIn: time.Duration(body.ExpiresIn) * time.Second,
	}, nil
}

// IssuerSource mints grants from a local issuer, for in-process use and
// tests where no gateway round-trip is wanted.
type IssuerSource struct {
	Issuer    *token.Issuer
	StreamURL string
	TTL       time.Duration
}

// Grant implements TokenSource.
func (s *IssuerSource) Grant(_ context.Context) (Grant, error) {
	tok, err := s.Issuer.Mint()
	if err != nil {
		return Grant{}, err
	}
	ttl := s.TTL
	if ttl <= 0 {
		ttl = token.DefaultTTL
	}
	return Grant{Token: tok, StreamURL: s.StreamURL, ExpiresIn: ttl}, nil
}
