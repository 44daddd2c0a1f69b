package playback

import "errors"

// ErrAutoplayBlocked is returned by Engine.Play when the environment
// refuses unattended playback. The session surfaces this as a
// manual-play-required status instead of failing.
var ErrAutoplayBlocked = errors.New("autoplay blocked")

// ErrorClass partitions fatal engine errors into the two classes the
// recovery ladder distinguishes.
type ErrorClass int

const (
	// ErrorMedia is a decode-level failure: the connection and manifest
	// are fine, the media pipeline choked. Recoverable in place.
	ErrorMedia ErrorClass = iota

	// ErrorNetwork means the underlying connection itself is suspect.
	// Never repaired in place; always promotes to reinitialization.
	ErrorNetwork
)

func (c ErrorClass) String() string {
	if c == ErrorNetwork {
		return "network"
	}
	return "media"
}

// VideoSink is the rendering target a session binds its engine to.
// Exactly one engine may be alive per sink at any time; the session
// enforces that. Concrete sinks add whatever rendering surface they have.
type VideoSink interface {
	Name() string
}

// Events is the callback surface an engine reports into. An engine calls
// ManifestParsed once its manifest is loaded and parsed, and FatalError
// for every unrecoverable error it observes.
type Events interface {
	ManifestParsed()
	FatalError(class ErrorClass, detail string)
}

// Engine abstracts an adaptive-streaming playback engine instance. An
// engine is single-use: after Destroy it must never report another event,
// and the session never reuses one across initializations.
type Engine interface {
	// Load starts fetching and parsing the manifest at manifestURL.
	// Asynchronous; completion or failure arrives via Events.
	Load(manifestURL string)

	// RecoverMedia attempts in-place repair after a media decode error,
	// keeping the existing connection and manifest state.
	RecoverMedia()

	// SwapAudioCodec renegotiates the audio codec before the next
	// in-place recovery. Second-tier escalation only.
	SwapAudioCodec()

	// Play starts playback. Returns ErrAutoplayBlocked when the
	// environment requires a user gesture.
	Play() error

	// Destroy tears the engine down. Idempotent.
	Destroy()
}

// EngineFactory builds a fresh engine bound to sink, reporting into
// events. The session calls it once per (re)initialization.
type EngineFactory func(sink VideoSink, events Events) Engine
