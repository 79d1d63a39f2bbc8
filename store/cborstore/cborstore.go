// Package cborstore keeps the auction snapshot and its outbox in a single CBOR file.
// Every commit rewrites the file through a temp file and an atomic rename.
package cborstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/cloudx-io/escrowauction/core"
	"github.com/cloudx-io/escrowauction/store"
)

type snapshot struct {
	State        *core.AuctionState    `cbor:"state"`
	Outbox       []store.PendingIntent `cbor:"outbox"`
	Delivered    []uuid.UUID           `cbor:"delivered"`
	NextSequence uint64                `cbor:"next_sequence"`
	Requests     map[string]int64      `cbor:"requests"` // request ID -> commit time, unix nanoseconds
}

type Store struct {
	mu   sync.Mutex
	path string
	snap snapshot
}

var _ store.Store = (*Store)(nil)

// Open loads path if it exists; a missing file is an empty store.
func Open(path string) (*Store, error) {
	s := &Store{path: path, snap: snapshot{NextSequence: 1}}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	if err := cbor.Unmarshal(data, &s.snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", path, err)
	}
	if s.snap.State != nil && s.snap.State.Claimable == nil {
		s.snap.State.Claimable = make(map[core.Account]core.Amount)
	}
	return s, nil
}

func (s *Store) Load(_ context.Context) (*core.AuctionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.State.Clone(), nil
}

func (s *Store) Commit(_ context.Context, requestID string, state *core.AuctionState, intents []core.Intent) ([]store.PendingIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	pending := store.NewPendingIntents(s.snap.NextSequence, intents, now)

	next := snapshot{
		State:        state.Clone(),
		Outbox:       append(append([]store.PendingIntent{}, s.snap.Outbox...), pending...),
		Delivered:    s.snap.Delivered,
		NextSequence: s.snap.NextSequence + uint64(len(pending)),
		Requests:     s.snap.Requests,
	}
	if requestID != "" {
		next.Requests = copyRequests(s.snap.Requests)
		next.Requests[requestID] = now.UnixNano()
	}
	if err := s.write(next); err != nil {
		return nil, err
	}
	s.snap = next
	return pending, nil
}

func (s *Store) Pending(_ context.Context, limit int) ([]store.PendingIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.snap.Outbox)
	if limit > 0 && limit < n {
		n = limit
	}
	return append([]store.PendingIntent{}, s.snap.Outbox[:n]...), nil
}

func (s *Store) MarkDelivered(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, delivered := range s.snap.Delivered {
		if delivered == id {
			return nil
		}
	}

	idx := -1
	for i, p := range s.snap.Outbox {
		if p.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %s", store.ErrIntentNotFound, id)
	}

	next := s.snap
	next.Outbox = append(append([]store.PendingIntent{}, s.snap.Outbox[:idx]...), s.snap.Outbox[idx+1:]...)
	next.Delivered = append(append([]uuid.UUID{}, s.snap.Delivered...), id)
	if err := s.write(next); err != nil {
		return err
	}
	s.snap = next
	return nil
}

func (s *Store) AppliedRequests(_ context.Context, since time.Time) (map[string]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	applied := make(map[string]time.Time)
	for id, at := range s.snap.Requests {
		if at >= since.UnixNano() {
			applied[id] = time.Unix(0, at).UTC()
		}
	}
	return applied, nil
}

func (s *Store) ForgetRequests(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := make(map[string]int64, len(s.snap.Requests))
	for id, at := range s.snap.Requests {
		if at >= cutoff.UnixNano() {
			kept[id] = at
		}
	}
	removed := len(s.snap.Requests) - len(kept)
	if removed == 0 {
		return 0, nil
	}

	next := s.snap
	next.Requests = kept
	if err := s.write(next); err != nil {
		return 0, err
	}
	s.snap = next
	return removed, nil
}

func copyRequests(requests map[string]int64) map[string]int64 {
	c := make(map[string]int64, len(requests)+1)
	for id, at := range requests {
		c[id] = at
	}
	return c
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) write(snap snapshot) error {
	data, err := cbor.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// no-op once the rename succeeded
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}
