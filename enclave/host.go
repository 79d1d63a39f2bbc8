package main

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/cloudx-io/escrowauction/core"
	"github.com/cloudx-io/escrowauction/store"
)

// Operation mutates the auction state it is given and returns the intents to commit
type Operation func(s *core.AuctionState) ([]core.Intent, error)

// Outcome is the committed result of one operation
type Outcome struct {
	State   *core.AuctionState
	Intents []store.PendingIntent
}

// Host is the single ownership point of the auction state. Apply runs one operation
// at a time against a copy of the state and only swaps the copy in after the store
// committed it together with its intents.
type Host struct {
	mu    sync.Mutex
	state *core.AuctionState
	store store.Store
}

// NewHost restores the auction from st, or creates a fresh one owned by operator.
func NewHost(ctx context.Context, st store.Store, operator, application core.Account) (*Host, error) {
	state, err := st.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load auction state: %w", err)
	}

	if state == nil {
		state = core.NewAuctionState(operator, application)
		log.Printf("INFO: No stored auction, created a new one (operator=%s, application=%s)", operator, application)
	} else {
		if state.Operator != operator || state.Application != application {
			return nil, fmt.Errorf("stored auction belongs to operator=%s application=%s, configured operator=%s application=%s",
				state.Operator, state.Application, operator, application)
		}
		log.Printf("INFO: Restored auction in phase %s (high bid %s by %q)",
			state.Phase, core.FormatAmount(state.HighBid), state.HighBidder)
	}

	return &Host{state: state, store: st}, nil
}

// Apply runs op and commits the result under requestID. An empty requestID is not recorded.
func (h *Host) Apply(ctx context.Context, requestID string, op Operation) (*Outcome, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	next := h.state.Clone()
	intents, err := op(next)
	if err != nil {
		return nil, err
	}

	pending, err := h.store.Commit(ctx, requestID, next, intents)
	if err != nil {
		return nil, fmt.Errorf("failed to commit auction state: %w", err)
	}

	h.state = next
	return &Outcome{State: next.Clone(), Intents: pending}, nil
}

// Snapshot returns a copy of the current state
func (h *Host) Snapshot() *core.AuctionState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state.Clone()
}
