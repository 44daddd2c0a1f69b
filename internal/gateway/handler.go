package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"streamgate/internal/platform/metrics"
	"streamgate/internal/token"
)

const playlistContentType = "application/vnd.apple.mpegurl"

// maxSegmentRefLen bounds the opaque segment reference accepted in the "p"
// query parameter.
const maxSegmentRefLen = 512

// segmentCacheLifetime is the short positive cache allowed on proxied
// segments; segment content is immutable once published.
const segmentCacheLifetime = 10 * time.Second

// aliasPattern is the only charset an upstream source alias may use. Any
// other input is treated as absent, never passed through.
var aliasPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Handler exposes the stream gateway HTTP endpoints using go-chi.
type Handler struct {
	issuer       *token.Issuer
	validator    *token.Validator
	upstream     *Upstream
	log          *slog.Logger
	metrics      *metrics.Metrics
	streamURL    string
	tokenTTL     time.Duration
	defaultAlias string
}

// HandlerConfig carries the wiring for a Handler.
type HandlerConfig struct {
	Issuer    *token.Issuer
	Validator *token.Validator
	Upstream  *Upstream
	Log       *slog.Logger
	// Metrics may be nil to disable metric recording (e.g. in tests).
	Metrics *metrics.Metrics
	// StreamURL is the stream endpoint descriptor returned alongside
	// minted tokens (e.g. a wss:// URL).
	StreamURL string
	// TokenTTL is reported to clients as expires_in.
	TokenTTL time.Duration
	// DefaultAlias selects the upstream source when the client sends no
	// usable alias.
	DefaultAlias string
}

// NewHandler returns a Handler wired per cfg.
func NewHandler(cfg HandlerConfig) *Handler {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = token.DefaultTTL
	}
	alias := cfg.DefaultAlias
	if alias == "" {
		alias = "live"
	}
	return &Handler{
		issuer:       cfg.Issuer,
		validator:    cfg.Validator,
		upstream:     cfg.Upstream,
		log:          cfg.Log,
		metrics:      cfg.Metrics,
		streamURL:    cfg.StreamURL,
		tokenTTL:     ttl,
		defaultAlias: alias,
	}
}

// tokenResponse is the body of GET /stream/token.
type tokenResponse struct {
	Token     string `json:"token"`
	WSSURL    string `json:"wss_url,omitempty"`
	ExpiresIn int    `json:"expires_in"`
}

// errorResponse is the gateway's error envelope. UpstreamStatus is set only
// on upstream failures.
type errorResponse struct {
	Error          string `json:"error"`
	Detail         string `json:"detail,omitempty"`
	UpstreamStatus int    `json:"upstream_status,omitempty"`
}

// IssueToken handles GET /stream/token. The response is never cacheable:
// every playback (re)initialization needs a fresh token.
func (h *Handler) IssueToken(w http.ResponseWriter, r *http.Request) {
	tok, err := h.issuer.Mint()
	if err != nil {
		h.log.Error("mint token failed", slog.String("error", err.Error()))
		h.writeError(w, http.StatusInternalServerError, "token_mint_failed", "")
		return
	}

	if h.metrics != nil {
		h.metrics.IncTokensIssued()
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(tokenResponse{
		Token:     tok,
		WSSURL:    h.streamURL,
		ExpiresIn: int(h.tokenTTL / time.Second),
	})
}

// GetPlaylist handles GET /stream/playlist.m3u8?token=..&alias=..
func (h *Handler) GetPlaylist(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}

	alias := r.URL.Query().Get("alias")
	if !aliasPattern.MatchString(alias) {
		alias = h.defaultAlias
	}

	manifest, err := h.upstream.FetchManifest(r.Context(), alias)
	if err != nil {
		h.writeUpstreamError(w, "fetch manifest", alias, err)
		return
	}

	rewritten := RewriteManifest(manifest, BasePath(h.upstream.ManifestURL(alias)))

	w.Header().Set("Content-Type", playlistContentType)
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, rewritten)

	if h.metrics != nil {
		h.metrics.IncPlaylistsServed()
	}
}

// GetSegment handles GET /stream/segment?token=..&p=..
func (h *Handler) GetSegment(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}

	ref := r.URL.Query().Get("p")
	if ref == "" || len(ref) > maxSegmentRefLen {
		h.writeError(w, http.StatusBadRequest, "bad_segment_ref", "p must be 1-512 characters")
		return
	}

	body, contentType, err := h.upstream.FetchSegment(r.Context(), ref)
	if err != nil {
		h.writeUpstreamError(w, "fetch segment", ref, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", fmt.Sprintf("max-age=%d", int(segmentCacheLifetime/time.Second)))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		// Headers are gone; nothing to do but log the broken relay.
		h.log.Debug("segment relay interrupted", slog.String("error", err.Error()))
		return
	}

	if h.metrics != nil {
		h.metrics.IncSegmentsServed()
	}
}

// authorize validates the token query parameter. On failure it writes the
// error response and returns false.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) bool {
	raw := r.URL.Query().Get("token")
	if raw == "" {
		h.writeError(w, http.StatusUnauthorized, "missing_token", "")
		return false
	}

	err := h.validator.Validate(r.Context(), raw)
	if err == nil {
		return true
	}

	reason := rejectReason(err)
	if h.metrics != nil {
		h.metrics.IncTokensRejected(reason)
	}

	switch {
	case errors.Is(err, token.ErrMalformed),
		errors.Is(err, token.ErrBadSignature),
		errors.Is(err, token.ErrExpired),
		errors.Is(err, token.ErrReplay):
		h.log.Info("token rejected", slog.String("reason", reason))
		h.writeError(w, http.StatusUnauthorized, "invalid_token", reason)
	default:
		// Replay guard infrastructure failure, not a client problem.
		h.log.Error("token validation failed", slog.String("error", err.Error()))
		h.writeError(w, http.StatusInternalServerError, "validation_unavailable", "")
	}
	return false
}

// rejectReason maps a validation error to its metric label and detail string.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, token.ErrMalformed):
		return "malformed"
	case errors.Is(err, token.ErrBadSignature):
		return "bad_signature"
	case errors.Is(err, token.ErrExpired):
		return "expired"
	case errors.Is(err, token.ErrReplay):
		return "replay"
	default:
		return "internal"
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: code, Detail: detail})
}

// writeUpstreamError maps upstream failures to the gateway envelope. The
// upstream host never appears in the response.
func (h *Handler) writeUpstreamError(w http.ResponseWriter, op, subject string, err error) {
	if h.metrics != nil {
		h.metrics.IncUpstreamErrors()
	}

	var statusErr *UpstreamStatusError
	if errors.As(err, &statusErr) {
		h.log.Info(op+" upstream bad status",
			slog.String("subject", subject),
			slog.Int("upstream_status", statusErr.Status))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(errorResponse{
			Error:          "upstream_error",
			UpstreamStatus: statusErr.Status,
		})
		return
	}

	h.log.Error(op+" upstream unavailable",
		slog.String("subject", subject),
		slog.String("error", err.Error()))
	h.writeError(w, http.StatusBadGateway, "upstream_unavailable", "")
}
