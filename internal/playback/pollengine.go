package playback

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// DefaultPollInterval is how often a PollEngine re-fetches the manifest
// once it has parsed successfully.
const DefaultPollInterval = 4 * time.Second

// PollEngine is a headless Engine: it fetches the manifest over HTTP,
// verifies it is a playlist, and keeps polling it to detect the stream
// going away. Failures are reported as network-class errors; a headless
// consumer has no decode pipeline, so media-class errors never originate
// here and the in-place recovery calls are no-ops.
type PollEngine struct {
	events   Events
	client   *http.Client
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewPollEngine returns an EngineFactory producing poll engines with the
// given client and interval. A nil client uses http.DefaultClient; a
// non-positive interval uses DefaultPollInterval.
func NewPollEngine(client *http.Client, interval time.Duration) EngineFactory {
	if client == nil {
		client = http.DefaultClient
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return func(_ VideoSink, events Events) Engine {
		return &PollEngine{events: events, client: client, interval: interval}
	}
}

// Load implements Engine.Load.
func (e *PollEngine) Load(manifestURL string) {
	ctx, cancel := context.WithCancel(context.Background())

	e.mu.Lock()
	if e.cancel != nil {
		e.mu.Unlock()
		cancel()
		return // single-use: a second Load is a programming error, ignore
	}
	e.cancel = cancel
	e.mu.Unlock()

	go e.run(ctx, manifestURL)
}

func (e *PollEngine) run(ctx context.Context, manifestURL string) {
	if err := e.fetchOnce(ctx, manifestURL); err != nil {
		e.report(ctx, err)
		return
	}
	if ctx.Err() != nil {
		return
	}
	e.events.ManifestParsed()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.fetchOnce(ctx, manifestURL); err != nil {
				e.report(ctx, err)
				return
			}
		}
	}
}

func (e *PollEngine) fetchOnce(ctx context.Context, manifestURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("manifest fetch returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(string(body), "#EXTM3U") {
		return fmt.Errorf("response is not an HLS playlist")
	}
	return nil
}

// report forwards a fetch failure unless the engine was destroyed while
// the fetch was in flight.
func (e *PollEngine) report(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}
	e.events.FatalError(ErrorNetwork, err.Error())
}

// RecoverMedia implements Engine.RecoverMedia. No decode pipeline, no-op.
func (e *PollEngine) RecoverMedia() {}

// SwapAudioCodec implements Engine.SwapAudioCodec. No-op, see RecoverMedia.
func (e *PollEngine) SwapAudioCodec() {}

// Play implements Engine.Play. Headless playback never needs a gesture.
func (e *PollEngine) Play() error { return nil }

// Destroy implements Engine.Destroy.
func (e *PollEngine) Destroy() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
