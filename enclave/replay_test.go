package main

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/escrowauction/core"
)

func TestReplayGuard_Consume(t *testing.T) {
	guard := NewReplayGuard(time.Minute)

	check.True(t, guard.Consume("a"))
	check.False(t, guard.Consume("a"))
	check.True(t, guard.Consume("b"))
}

func TestReplayGuard_Release(t *testing.T) {
	guard := NewReplayGuard(time.Minute)

	check.True(t, guard.Consume("a"))
	guard.Release("a")
	check.True(t, guard.Consume("a"))
}

func TestReplayGuard_Expiry(t *testing.T) {
	now := time.Unix(1_000, 0)
	guard := NewReplayGuard(time.Minute)
	guard.now = func() time.Time { return now }

	check.True(t, guard.Consume("old"))
	now = now.Add(30 * time.Second)
	check.True(t, guard.Consume("new"))

	now = now.Add(45 * time.Second)
	check.Equal(t, 1, guard.Sweep())

	// "old" aged out, "new" is still remembered
	check.True(t, guard.Consume("old"))
	check.False(t, guard.Consume("new"))
}

func TestReplayGuard_StartExpirationCleanup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	guard := NewReplayGuard(10 * time.Millisecond)
	check.True(t, guard.Consume("a"))

	guard.StartExpirationCleanup(ctx, 5*time.Millisecond, nil)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if guard.Len() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expired request ID was not swept")
}

func TestReplayGuard_Restore(t *testing.T) {
	now := time.Unix(1_000, 0)
	guard := NewReplayGuard(time.Minute)
	guard.now = func() time.Time { return now }

	restored := guard.Restore(map[string]time.Time{
		"recent":  now.Add(-10 * time.Second),
		"expired": now.Add(-2 * time.Minute),
	})
	check.Equal(t, 1, restored)
	check.False(t, guard.Consume("recent"))
	check.True(t, guard.Consume("expired"))
}

func TestRestoreReplayGuard_FromStore(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	_, err := st.Commit(ctx, "committed-id", core.NewAuctionState(testOperator, testApplication), nil)
	assert.NoError(t, err)

	guard, err := RestoreReplayGuard(ctx, st, time.Minute)
	assert.NoError(t, err)
	check.Equal(t, 1, guard.Len())
	check.False(t, guard.Consume("committed-id"))
	check.True(t, guard.Consume("other-id"))
}

func TestReplayGuard_CleanupForgetsStoredIDs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	forget := func(context.Context, time.Time) (int, error) {
		calls.Add(1)
		return 0, nil
	}

	guard := NewReplayGuard(time.Minute)
	guard.StartExpirationCleanup(ctx, 5*time.Millisecond, forget)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if calls.Load() > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("stored request IDs were never pruned")
}
