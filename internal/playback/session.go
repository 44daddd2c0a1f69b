package playback

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultRetryDelay is the fixed pause before a scheduled
// reinitialization fires.
const DefaultRetryDelay = 6 * time.Second

// maxMediaRecoveries bounds the in-place recovery ladder: one plain
// recovery, one codec-swap recovery, then full reinitialization.
const maxMediaRecoveries = 2

// State is the session's position in the recovery state machine.
type State int

const (
	StateIdle State = iota
	StateInitializing
	StatePlaying
	StateRecoveringMedia
	StateReinitializing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StatePlaying:
		return "playing"
	case StateRecoveringMedia:
		return "recovering_media"
	case StateReinitializing:
		return "reinitializing"
	default:
		return "unknown"
	}
}

// StatusKind labels an observable session status update.
type StatusKind int

const (
	// StatusHealthy: the manifest parsed and playback is running.
	StatusHealthy StatusKind = iota

	// StatusManualPlayRequired: the stream is up but the environment
	// refused autoplay; a user gesture is needed.
	StatusManualPlayRequired

	// StatusDown: playback is broken and a reinitialization is
	// scheduled. Reason carries the cause.
	StatusDown
)

// Status is one observable update emitted to the session's StatusFunc.
type Status struct {
	Kind   StatusKind
	Reason string
}

// StatusFunc receives status updates. It is called outside the session's
// lock, so it may call back into the session.
type StatusFunc func(Status)

// stopper is the cancellable handle of a scheduled retry.
type stopper interface {
	Stop() bool
}

// Options configures a Session.
type Options struct {
	// Alias selects the upstream source. Empty means the gateway default.
	Alias string

	// GatewayBase is the gateway root the manifest URL is built on.
	GatewayBase string

	// Tokens mints a fresh grant per (re)initialization.
	Tokens TokenSource

	// Engines builds the adaptive-streaming engine per (re)initialization.
	Engines EngineFactory

	// OnStatus observes healthy / manual-play / down updates. Optional.
	OnStatus StatusFunc

	// RetryDelay overrides DefaultRetryDelay. Zero means the default.
	RetryDelay time.Duration

	// Log is the session logger. Optional.
	Log *slog.Logger
}

// Session owns one engine bound to one video sink and runs the recovery
// state machine over it. All transitions happen in response to discrete
// events (engine callbacks, the retry timer, explicit API calls) and
// are serialized by the session mutex; the engine generation tag keeps
// callbacks from torn-down engines and abandoned token fetches from
// touching a newer incarnation.
type Session struct {
	mu sync.Mutex

	id   string
	sink VideoSink
	opts Options
	log  *slog.Logger

	alias   string
	state   State
	attempt int

	// gen increments on every (re)initialization and on destroy; events
	// tagged with an older generation are ignored.
	gen         uint64
	engine      Engine
	retry       stopper
	fetchCancel context.CancelFunc

	// afterFunc schedules the reinitialization timer. Swappable in tests.
	afterFunc func(time.Duration, func()) stopper
}

// New returns an idle session for sink. Call Start to begin playback.
func New(sink VideoSink, opts Options) *Session {
	log := opts.Log
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	id := uuid.NewString()
	return &Session{
		id:    id,
		sink:  sink,
		opts:  opts,
		alias: opts.Alias,
		log:   log.With(slog.String("session_id", id), slog.String("sink", sink.Name())),
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
	}
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start begins (or restarts) playback: it tears down any prior engine,
// fetches a fresh token, and builds a new engine bound to the sink.
func (s *Session) Start() {
	s.mu.Lock()
	s.initializeLocked()
	s.mu.Unlock()
}

// SetAlias switches the upstream source. A changed alias on an active
// session tears down and fully reinitializes: the source identity
// changed, so a hot swap would splice two different streams.
func (s *Session) SetAlias(alias string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if alias == s.alias {
		return
	}
	s.alias = alias
	if s.state == StateIdle {
		return
	}
	s.log.Info("alias changed, reinitializing", slog.String("alias", alias))
	s.initializeLocked()
}

// Destroy returns the session to idle from any state: the pending retry
// timer is cancelled, the engine torn down, in-flight fetches abandoned.
// Safe to call repeatedly; a destroyed session can be started again.
func (s *Session) Destroy() {
	s.mu.Lock()
	s.gen++
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
	if s.fetchCancel != nil {
		s.fetchCancel()
		s.fetchCancel = nil
	}
	eng := s.engine
	s.engine = nil
	s.attempt = 0
	s.state = StateIdle
	s.mu.Unlock()

	if eng != nil {
		eng.Destroy()
	}
}

// initializeLocked starts a new engine generation. Caller holds s.mu.
func (s *Session) initializeLocked() {
	s.gen++
	gen := s.gen

	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
	if s.fetchCancel != nil {
		s.fetchCancel()
	}
	// At most one engine per sink: the previous one goes first.
	if s.engine != nil {
		s.engine.Destroy()
		s.engine = nil
	}

	s.attempt = 0
	s.state = StateInitializing

	ctx, cancel := context.WithCancel(context.Background())
	s.fetchCancel = cancel

	s.log.Debug("initializing", slog.Uint64("generation", gen))
	go s.fetchAndLoad(ctx, gen)
}

// fetchAndLoad runs the asynchronous part of initialization: token fetch,
// engine construction, manifest load. gen guards against the session
// having moved on while the fetch was in flight.
func (s *Session) fetchAndLoad(ctx context.Context, gen uint64) {
	grant, err := s.opts.Tokens.Grant(ctx)

	s.mu.Lock()
	if gen != s.gen || s.state != StateInitializing {
		s.mu.Unlock()
		return
	}
	if err != nil {
		s.log.Warn("token fetch failed", slog.String("error", err.Error()))
		st := s.scheduleRetryLocked("token_fetch_failed")
		s.mu.Unlock()
		s.emit(st)
		return
	}

	eng := s.opts.Engines(s.sink, engineEvents{session: s, gen: gen})
	s.engine = eng
	manifestURL := s.manifestURLLocked(grant)
	s.mu.Unlock()

	// Load outside the lock: engines may report events synchronously.
	eng.Load(manifestURL)
}

// manifestURLLocked builds the proxied playlist URL for the current grant
// and alias. Caller holds s.mu.
func (s *Session) manifestURLLocked(grant Grant) string {
	q := url.Values{}
	q.Set("token", grant.Token)
	if s.alias != "" {
		q.Set("alias", s.alias)
	}
	return s.opts.GatewayBase + "/stream/playlist.m3u8?" + q.Encode()
}

// onManifestParsed moves the session to playing and attempts playback.
func (s *Session) onManifestParsed(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.engine == nil {
		s.mu.Unlock()
		return
	}
	s.state = StatePlaying
	// The ladder resets only here, never on a non-fatal error.
	s.attempt = 0
	eng := s.engine
	s.mu.Unlock()

	s.log.Info("stream healthy")
	s.emit(Status{Kind: StatusHealthy})

	if err := eng.Play(); err != nil {
		if errors.Is(err, ErrAutoplayBlocked) {
			s.log.Info("autoplay refused, waiting for user gesture")
			s.emit(Status{Kind: StatusManualPlayRequired})
			return
		}
		s.log.Warn("play failed", slog.String("error", err.Error()))
	}
}

// onFatalError runs the escalation ladder: media errors get up to
// maxMediaRecoveries in-place repairs (the second with a codec swap),
// network errors and exhausted ladders promote to reinitialization.
func (s *Session) onFatalError(gen uint64, class ErrorClass, detail string) {
	s.mu.Lock()
	if gen != s.gen || s.state == StateIdle || s.state == StateReinitializing {
		s.mu.Unlock()
		return
	}

	if class == ErrorNetwork {
		st := s.scheduleRetryLocked("network_error")
		s.mu.Unlock()
		s.log.Warn("fatal network error", slog.String("detail", detail))
		s.emit(st)
		return
	}

	s.attempt++
	if s.attempt > maxMediaRecoveries {
		st := s.scheduleRetryLocked("media_recovery_exhausted")
		s.mu.Unlock()
		s.log.Warn("media recovery exhausted", slog.String("detail", detail))
		s.emit(st)
		return
	}

	s.state = StateRecoveringMedia
	attempt := s.attempt
	eng := s.engine
	s.mu.Unlock()

	s.log.Warn("fatal media error, recovering in place",
		slog.Int("attempt", attempt),
		slog.String("detail", detail))

	if attempt == maxMediaRecoveries {
		// Second tier: renegotiate the audio codec before retrying.
		eng.SwapAudioCodec()
	}
	eng.RecoverMedia()
}

// scheduleRetryLocked arms the single reinitialization timer and returns
// the down status to emit. Caller holds s.mu. Arming replaces any prior
// timer, so at most one reinitialization is ever outstanding.
func (s *Session) scheduleRetryLocked(reason string) Status {
	s.state = StateReinitializing

	if s.retry != nil {
		s.retry.Stop()
	}

	delay := s.opts.RetryDelay
	if delay <= 0 {
		delay = DefaultRetryDelay
	}

	gen := s.gen
	s.retry = s.afterFunc(delay, func() { s.onRetryTimer(gen) })

	return Status{Kind: StatusDown, Reason: reason}
}

// onRetryTimer fires the scheduled reinitialization.
func (s *Session) onRetryTimer(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen || s.state != StateReinitializing {
		return
	}
	s.retry = nil
	s.log.Info("reinitializing with fresh token")
	s.initializeLocked()
}

func (s *Session) emit(st Status) {
	if s.opts.OnStatus != nil {
		s.opts.OnStatus(st)
	}
}

// engineEvents delivers one engine generation's callbacks into the
// session. The generation tag makes events from torn-down engines inert.
type engineEvents struct {
	session *Session
	gen     uint64
}

func (e engineEvents) ManifestParsed() {
	e.session.onManifestParsed(e.gen)
}

func (e engineEvents) FatalError(class ErrorClass, detail string) {
	e.session.onFatalError(e.gen, class, detail)
}
