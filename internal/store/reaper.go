package store

import (
	"context"
	"log"
	"time"
)

// Finalizer persists an evicted session's content: transcript first, then a
// best-effort summary. Errors are reported for logging but never roll back
// the eviction.
type Finalizer interface {
	Finalize(ctx context.Context, sessionID string, turns []Turn) error
}

// ReaperConfig carries the eviction knobs. Zero values fall back to the
// defaults the pipeline has always run with.
type ReaperConfig struct {
	Interval    time.Duration // tick period
	IdleTimeout time.Duration // evict sessions untouched this long
	MaxSessions int           // overflow bound, oldest evicted first
}

func (c ReaperConfig) withDefaults() ReaperConfig {
	if c.Interval <= 0 {
		c.Interval = 60 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 10 * time.Minute
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = 1000
	}
	return c
}

// Reaper periodically finalizes idle sessions and trims the store back under
// its session cap. One perpetual loop; no terminal state except cancellation.
type Reaper struct {
	store     *Store
	finalizer Finalizer
	cfg       ReaperConfig
	onEvict   func(reason string)
}

func NewReaper(store *Store, finalizer Finalizer, cfg ReaperConfig) *Reaper {
	return &Reaper{store: store, finalizer: finalizer, cfg: cfg.withDefaults()}
}

// SetEvictHook registers a callback invoked once per evicted session with the
// eviction reason ("idle" or "overflow").
func (r *Reaper) SetEvictHook(hook func(reason string)) {
	r.onEvict = hook
}

// Run loops until ctx is cancelled. The in-flight sweep always completes
// before Run returns, so shutdown never leaves a session half-finalized.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep performs one reaper tick: the idle pass, then the overflow pass.
// Exported so tests and drain paths can run a tick deterministically.
func (r *Reaper) Sweep(ctx context.Context) {
	for _, id := range r.store.IdleLongerThan(r.cfg.IdleTimeout) {
		r.finalizeAndRemove(ctx, id, "idle")
	}
	for _, id := range r.store.OverflowVictims(r.cfg.MaxSessions) {
		r.finalizeAndRemove(ctx, id, "overflow")
	}
}

// finalizeAndRemove persists and evicts one session. Finalization failure is
// logged and does not keep the session alive: both writes are idempotent, so
// repeating or abandoning them is safe.
func (r *Reaper) finalizeAndRemove(ctx context.Context, id, reason string) {
	if !r.store.Claim(id) {
		return
	}
	turns := r.store.History(id)
	if r.finalizer != nil {
		if err := r.finalizer.Finalize(ctx, id, turns); err != nil {
			log.Printf("reaper: finalize session %s failed: %v", id, err)
		}
	}
	r.store.Remove(id)
	log.Printf("reaper: session %s evicted (%s)", id, reason)
	if r.onEvict != nil {
		r.onEvict(reason)
	}
}
