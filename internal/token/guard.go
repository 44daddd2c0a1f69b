package token

import (
	"context"
	"sync"
	"time"
)

// ReplayGuard records nonces that have been accepted within their validity
// window. Implementations can be in-memory or remote (e.g. Redis); the
// Validator uses the guard for all replay decisions and does not care which.
type ReplayGuard interface {
	// Remember atomically records nonce for ttl. It returns first=true if
	// the nonce had not been seen before, i.e. the caller may accept the
	// token. Two calls racing on the same nonce observe exactly one
	// first=true between them.
	Remember(ctx context.Context, nonce string, ttl time.Duration) (first bool, err error)

	// Len reports the number of live entries. Used for metrics.
	Len() int
}

// janitorInterval is how often the in-memory guard sweeps expired entries.
const janitorInterval = time.Minute

// MemoryGuard is a mutex-guarded in-process ReplayGuard. Entries expire
// after their TTL; a background janitor sweeps them so memory stays bounded
// by the TTL window, not by refusing new nonces.
type MemoryGuard struct {
	mu      sync.Mutex
	entries map[string]time.Time
	stop    chan struct{}
	now     func() time.Time
}

// NewMemoryGuard returns a guard with a running janitor. Call Close when
// the guard is no longer needed.
func NewMemoryGuard() *MemoryGuard {
	g := &MemoryGuard{
		entries: make(map[string]time.Time),
		stop:    make(chan struct{}),
		now:     time.Now,
	}
	go g.janitor()
	return g
}

// Remember implements ReplayGuard.Remember.
func (g *MemoryGuard) Remember(_ context.Context, nonce string, ttl time.Duration) (bool, error) {
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	// Lazy eviction: an expired entry does not block re-acceptance.
	if exp, ok := g.entries[nonce]; ok && now.Before(exp) {
		return false, nil
	}
	g.entries[nonce] = now.Add(ttl)
	return true, nil
}

// Len implements ReplayGuard.Len.
func (g *MemoryGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

// Close stops the janitor.
func (g *MemoryGuard) Close() {
	close(g.stop)
}

func (g *MemoryGuard) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-g.stop:
			return
		case now := <-ticker.C:
			g.sweep(now)
		}
	}
}

func (g *MemoryGuard) sweep(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for nonce, exp := range g.entries {
		if now.After(exp) {
			delete(g.entries, nonce)
		}
	}
}
