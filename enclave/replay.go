package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cloudx-io/escrowauction/store"
)

// ReplayGuard remembers request IDs so a retried submission is not applied twice.
// IDs are forgotten after the window; callers must not reuse an ID after that.
// Committed IDs are also kept by the store, so RestoreReplayGuard carries them over a restart.
type ReplayGuard struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	window time.Duration
	now    func() time.Time
}

func NewReplayGuard(window time.Duration) *ReplayGuard {
	return &ReplayGuard{
		seen:   make(map[string]time.Time),
		window: window,
		now:    time.Now,
	}
}

// RestoreReplayGuard returns a guard seeded with the request IDs st committed within window
func RestoreReplayGuard(ctx context.Context, st store.Store, window time.Duration) (*ReplayGuard, error) {
	g := NewReplayGuard(window)
	applied, err := st.AppliedRequests(ctx, g.now().Add(-window))
	if err != nil {
		return nil, fmt.Errorf("failed to restore request IDs: %w", err)
	}
	g.Restore(applied)
	return g, nil
}

// Restore marks ids as seen at their recorded times, skipping those already outside
// the window. It returns how many were restored.
func (g *ReplayGuard) Restore(applied map[string]time.Time) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	restored := 0
	for id, at := range applied {
		if now.Sub(at) >= g.window {
			continue
		}
		if prev, ok := g.seen[id]; ok && prev.After(at) {
			continue
		}
		g.seen[id] = at
		restored++
	}
	return restored
}

// Len returns how many request IDs are currently remembered
func (g *ReplayGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}

// Consume records id and reports whether it was unseen within the window
func (g *ReplayGuard) Consume(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if at, ok := g.seen[id]; ok && now.Sub(at) < g.window {
		return false
	}
	g.seen[id] = now
	return true
}

// Release forgets id so the request can be retried. Only call it when nothing
// was committed for the request.
func (g *ReplayGuard) Release(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.seen, id)
}

// Sweep drops expired IDs and returns how many were removed
func (g *ReplayGuard) Sweep() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	removed := 0
	for id, at := range g.seen {
		if now.Sub(at) >= g.window {
			delete(g.seen, id)
			removed++
		}
	}
	return removed
}

// StartExpirationCleanup sweeps expired IDs every interval until ctx is done.
// forget, when set, drops the same IDs from durable storage.
func (g *ReplayGuard) StartExpirationCleanup(ctx context.Context, interval time.Duration, forget func(context.Context, time.Time) (int, error)) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := g.Sweep(); removed > 0 {
					log.Printf("INFO: Replay guard expired %d request IDs", removed)
				}
				if forget == nil {
					continue
				}
				if _, err := forget(ctx, g.now().Add(-g.window)); err != nil {
					log.Printf("WARNING: Failed to forget expired request IDs: %v", err)
				}
			}
		}
	}()
}
