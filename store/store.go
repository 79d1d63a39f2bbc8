// Package store persists auction state together with the outbox of transfer intents
// that state changes produced. A state change and its intents are committed in one
// atomic step so no intent is ever lost or issued without its state.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/cloudx-io/escrowauction/core"
)

var ErrIntentNotFound = errors.New("intent not found")

// PendingIntent is a committed intent waiting for the settlement executor.
// ID is the idempotency key handed to the executor.
type PendingIntent struct {
	ID        uuid.UUID   `json:"id"`
	Sequence  uint64      `json:"sequence"`
	Intent    core.Intent `json:"intent"`
	CreatedAt time.Time   `json:"created_at"`
}

type Store interface {
	// Load returns the last committed state, or nil if nothing was committed yet.
	Load(ctx context.Context) (*core.AuctionState, error)

	// Commit atomically persists state, appends intents to the outbox and records
	// requestID as applied. An empty requestID is not recorded.
	Commit(ctx context.Context, requestID string, state *core.AuctionState, intents []core.Intent) ([]PendingIntent, error)

	// AppliedRequests returns the request IDs committed at or after since, with their commit times.
	AppliedRequests(ctx context.Context, since time.Time) (map[string]time.Time, error)

	// ForgetRequests drops request IDs committed before cutoff and returns how many were dropped.
	ForgetRequests(ctx context.Context, cutoff time.Time) (int, error)

	// Pending returns up to limit undelivered intents in sequence order.
	Pending(ctx context.Context, limit int) ([]PendingIntent, error)

	// MarkDelivered records that the executor completed the intent. Marking an
	// already delivered intent is a no-op.
	MarkDelivered(ctx context.Context, id uuid.UUID) error

	Close() error
}

// NewPendingIntents assigns IDs and sequence numbers starting at next.
func NewPendingIntents(next uint64, intents []core.Intent, now time.Time) []PendingIntent {
	pending := make([]PendingIntent, len(intents))
	for i, intent := range intents {
		pending[i] = PendingIntent{
			ID:        uuid.New(),
			Sequence:  next + uint64(i),
			Intent:    intent,
			CreatedAt: now,
		}
	}
	return pending
}
