package cborstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/escrowauction/core"
	"github.com/cloudx-io/escrowauction/store"
)

func runningState() *core.AuctionState {
	s := core.NewAuctionState("operator", "auction_app")
	s.Phase = core.PhaseRunning
	s.AssetID = 1001
	s.AssetAmount = 1
	s.EndTime = 1100
	s.HighBid = 200
	s.HighBidder = "bob"
	s.Claimable["alice"] = 150
	s.Claimable["bob"] = 200
	return s
}

func TestOpen_MissingFileIsEmpty(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "auction.cbor"))
	assert.NoError(t, err)

	state, err := s.Load(context.Background())
	check.NoError(t, err)
	check.True(t, state == nil)

	pending, err := s.Pending(context.Background(), 10)
	check.NoError(t, err)
	check.Equal(t, 0, len(pending))
}

func TestCommit_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "auction.cbor")

	s, err := Open(path)
	assert.NoError(t, err)

	state := runningState()
	intents := []core.Intent{core.Pay("alice", 150), core.CloseOut("operator")}
	committed, err := s.Commit(ctx, "", state, intents)
	assert.NoError(t, err)
	check.Equal(t, 2, len(committed))
	check.Equal(t, uint64(1), committed[0].Sequence)
	check.Equal(t, uint64(2), committed[1].Sequence)
	assert.NoError(t, s.Close())

	reopened, err := Open(path)
	assert.NoError(t, err)

	loaded, err := reopened.Load(ctx)
	assert.NoError(t, err)
	check.Equal(t, state, loaded)

	pending, err := reopened.Pending(ctx, 0)
	assert.NoError(t, err)
	check.Equal(t, 2, len(pending))
	check.Equal(t, committed[0].ID, pending[0].ID)
	check.Equal(t, intents[0], pending[0].Intent)
	check.Equal(t, intents[1], pending[1].Intent)

	// Sequences continue after reopening
	more, err := reopened.Commit(ctx, "", state, []core.Intent{core.Pay("bob", 1)})
	assert.NoError(t, err)
	check.Equal(t, uint64(3), more[0].Sequence)
}

func TestCommit_StoresCopy(t *testing.T) {
	ctx := context.Background()
	s, err := Open(filepath.Join(t.TempDir(), "auction.cbor"))
	assert.NoError(t, err)

	state := runningState()
	_, err = s.Commit(ctx, "", state, nil)
	assert.NoError(t, err)

	state.Claimable["alice"] = 0
	loaded, err := s.Load(ctx)
	assert.NoError(t, err)
	check.Equal(t, core.Amount(150), loaded.Claimable["alice"])
}

func TestCommit_FailureKeepsPreviousSnapshot(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "auction.cbor")

	s, err := Open(path)
	assert.NoError(t, err)
	_, err = s.Commit(ctx, "", runningState(), nil)
	assert.NoError(t, err)

	// Point the store at a directory that does not exist so the write fails
	s.path = filepath.Join(dir, "missing", "auction.cbor")

	changed := runningState()
	changed.HighBid = 999
	_, err = s.Commit(ctx, "", changed, []core.Intent{core.Pay("alice", 1)})
	check.Error(t, err)

	loaded, err := s.Load(ctx)
	assert.NoError(t, err)
	check.Equal(t, core.Amount(200), loaded.HighBid)

	pending, err := s.Pending(ctx, 0)
	assert.NoError(t, err)
	check.Equal(t, 0, len(pending))
}

func TestMarkDelivered(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "auction.cbor")
	s, err := Open(path)
	assert.NoError(t, err)

	committed, err := s.Commit(ctx, "", runningState(), []core.Intent{core.Pay("alice", 150), core.Pay("carol", 170)})
	assert.NoError(t, err)

	assert.NoError(t, s.MarkDelivered(ctx, committed[0].ID))
	// Idempotent
	assert.NoError(t, s.MarkDelivered(ctx, committed[0].ID))

	pending, err := s.Pending(ctx, 0)
	assert.NoError(t, err)
	check.Equal(t, 1, len(pending))
	check.Equal(t, committed[1].ID, pending[0].ID)

	err = s.MarkDelivered(ctx, uuid.New())
	check.True(t, errors.Is(err, store.ErrIntentNotFound))

	reopened, err := Open(path)
	assert.NoError(t, err)
	pending, err = reopened.Pending(ctx, 0)
	assert.NoError(t, err)
	check.Equal(t, 1, len(pending))
}

func TestPending_Limit(t *testing.T) {
	ctx := context.Background()
	s, err := Open(filepath.Join(t.TempDir(), "auction.cbor"))
	assert.NoError(t, err)

	_, err = s.Commit(ctx, "", runningState(), []core.Intent{core.Pay("a", 1), core.Pay("b", 2), core.Pay("c", 3)})
	assert.NoError(t, err)

	pending, err := s.Pending(ctx, 2)
	assert.NoError(t, err)
	check.Equal(t, 2, len(pending))
	check.Equal(t, core.Account("a"), pending[0].Intent.To)
}

func TestOpen_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auction.cbor")
	assert.NoError(t, os.WriteFile(path, []byte("definitely not cbor"), 0o600))

	_, err := Open(path)
	check.Error(t, err)
}

func TestAppliedRequests_SurviveReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "auction.cbor")
	start := time.Now().Add(-time.Second)

	s, err := Open(path)
	assert.NoError(t, err)
	_, err = s.Commit(ctx, "req-1", runningState(), []core.Intent{core.Pay("alice", 1)})
	assert.NoError(t, err)
	_, err = s.Commit(ctx, "", runningState(), nil)
	assert.NoError(t, err)
	assert.NoError(t, s.Close())

	reopened, err := Open(path)
	assert.NoError(t, err)
	applied, err := reopened.AppliedRequests(ctx, start)
	assert.NoError(t, err)
	check.Equal(t, 1, len(applied))
	_, ok := applied["req-1"]
	check.True(t, ok)

	later, err := reopened.AppliedRequests(ctx, time.Now().Add(time.Hour))
	assert.NoError(t, err)
	check.Equal(t, 0, len(later))

	removed, err := reopened.ForgetRequests(ctx, time.Now().Add(time.Hour))
	assert.NoError(t, err)
	check.Equal(t, 1, removed)

	applied, err = reopened.AppliedRequests(ctx, start)
	assert.NoError(t, err)
	check.Equal(t, 0, len(applied))
}
