package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ErrUpstreamUnavailable is returned when the media origin cannot be
// reached at all (connection refused, DNS failure, timeout).
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// UpstreamStatusError is returned when the media origin answered with a
// non-2xx status. The status is surfaced in the gateway's error envelope;
// the origin's body is discarded, never relayed.
type UpstreamStatusError struct {
	Status int
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.Status)
}

// defaultSegmentContentType is used when the origin omits a Content-Type
// on segment responses.
const defaultSegmentContentType = "video/mp2t"

// Upstream fetches manifests and segments from the media origin. It never
// retries: retry policy belongs to the playback session, not the proxy.
type Upstream struct {
	base   *url.URL
	client *http.Client
}

// NewUpstream returns an Upstream rooted at origin (e.g.
// "https://media.internal/live"). The manifest for alias a is expected at
// {origin}/{a}/index.m3u8 and segments at {origin}/{ref}.
func NewUpstream(origin string, timeout time.Duration) (*Upstream, error) {
	base, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("parse upstream origin: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("upstream origin %q missing scheme or host", origin)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Upstream{
		base:   base,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// ManifestURL returns the absolute upstream URL of the manifest for alias.
func (u *Upstream) ManifestURL(alias string) *url.URL {
	joined := *u.base
	joined.Path = joinPath(u.base.Path, alias+"/index.m3u8")
	return &joined
}

// FetchManifest retrieves the playlist document for alias. A non-2xx
// answer maps to *UpstreamStatusError, an unreachable origin to
// ErrUpstreamUnavailable. Partial or garbled reads are errors, never
// silently returned content.
func (u *Upstream) FetchManifest(ctx context.Context, alias string) (string, error) {
	target := u.ManifestURL(alias)

	body, _, err := u.get(ctx, target.String())
	if err != nil {
		return "", err
	}
	defer body.Close()

	doc, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("%w: read manifest: %v", ErrUpstreamUnavailable, err)
	}
	return string(doc), nil
}

// FetchSegment retrieves the media segment at ref (a path relative to the
// origin root). The caller must close the returned body. contentType is
// the origin's Content-Type, or a transport-stream default when absent.
func (u *Upstream) FetchSegment(ctx context.Context, ref string) (body io.ReadCloser, contentType string, err error) {
	joined := *u.base
	joined.Path = joinPath(u.base.Path, ref)

	rc, resp, err := u.get(ctx, joined.String())
	if err != nil {
		return nil, "", err
	}

	contentType = resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = defaultSegmentContentType
	}
	return rc, contentType, nil
}

func (u *Upstream) get(ctx context.Context, rawURL string) (io.ReadCloser, *http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("build upstream request: %w", err)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, nil, &UpstreamStatusError{Status: resp.StatusCode}
	}
	return resp.Body, resp, nil
}

// joinPath joins URL path elements with exactly one slash between them.
func joinPath(a, b string) string {
	switch {
	case a == "" || a == "/":
		if len(b) > 0 && b[0] == '/' {
			return b
		}
		return "/" + b
	case a[len(a)-1] == '/':
		if len(b) > 0 && b[0] == '/' {
			return a + b[1:]
		}
		return a + b
	default:
		if len(b) > 0 && b[0] == '/' {
			return a + b
		}
		return a + "/" + b
	}
}
