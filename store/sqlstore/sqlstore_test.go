package sqlstore

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/escrowauction/core"
	"github.com/cloudx-io/escrowauction/store"
)

func openTestStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(context.Background(), path)
	assert.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

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

func TestLoad_Empty(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "auction.db"))

	state, err := s.Load(context.Background())
	check.NoError(t, err)
	check.True(t, state == nil)
}

func TestCommit_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "auction.db")
	s := openTestStore(t, path)

	state := runningState()
	committed, err := s.Commit(ctx, "", state, []core.Intent{core.Pay("alice", 150)})
	assert.NoError(t, err)
	check.Equal(t, 1, len(committed))
	check.Equal(t, uint64(1), committed[0].Sequence)

	// Update in place: a later commit overwrites the row and balances
	state.Claimable["alice"] = 0
	state.Claimable["carol"] = 0
	state.Phase = core.PhaseEnded
	committed, err = s.Commit(ctx, "", state, []core.Intent{core.TransferAsset("bob", 1001, 1, "bob")})
	assert.NoError(t, err)
	check.Equal(t, uint64(2), committed[0].Sequence)
	assert.NoError(t, s.Close())

	reopened := openTestStore(t, path)
	loaded, err := reopened.Load(ctx)
	assert.NoError(t, err)
	check.Equal(t, state, loaded)

	pending, err := reopened.Pending(ctx, 0)
	assert.NoError(t, err)
	check.Equal(t, 2, len(pending))
	check.Equal(t, core.Pay("alice", 150), pending[0].Intent)
	check.Equal(t, core.TransferAsset("bob", 1001, 1, "bob"), pending[1].Intent)
	check.Equal(t, committed[0].ID, pending[1].ID)
}

func TestCommit_RejectsOutOfRangeValues(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "auction.db"))

	state := runningState()
	_, err := s.Commit(ctx, "", state, nil)
	assert.NoError(t, err)

	huge := runningState()
	huge.EndTime = math.MaxUint64
	_, err = s.Commit(ctx, "", huge, []core.Intent{core.Pay("alice", 1)})
	check.True(t, errors.Is(err, ErrValueOutOfRange))

	loaded, err := s.Load(ctx)
	assert.NoError(t, err)
	check.Equal(t, core.Timestamp(1100), loaded.EndTime)

	pending, err := s.Pending(ctx, 0)
	assert.NoError(t, err)
	check.Equal(t, 0, len(pending))
}

func TestCommit_FailureInsideTransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "auction.db"))

	committed, err := s.Commit(ctx, "", runningState(), []core.Intent{core.Pay("alice", 150)})
	assert.NoError(t, err)

	// state and balances are written before the outbox rows, so this fails last
	_, err = s.db.ExecContext(ctx, `CREATE TRIGGER reject_mallory BEFORE INSERT ON transfer_intents
		WHEN NEW.to_account = 'mallory'
		BEGIN SELECT RAISE(ABORT, 'rejected'); END`)
	assert.NoError(t, err)

	next := runningState()
	next.Phase = core.PhaseEnded
	next.HighBidder = "carol"
	next.Claimable["alice"] = 0
	next.Claimable["carol"] = 300
	_, err = s.Commit(ctx, "req-2", next, []core.Intent{core.Pay("carol", 1), core.Pay("mallory", 1)})
	check.Error(t, err)

	applied, err := s.AppliedRequests(ctx, time.Unix(0, 0))
	assert.NoError(t, err)
	check.Equal(t, 0, len(applied))

	loaded, err := s.Load(ctx)
	assert.NoError(t, err)
	check.Equal(t, runningState(), loaded)

	pending, err := s.Pending(ctx, 0)
	assert.NoError(t, err)
	check.Equal(t, 1, len(pending))
	check.Equal(t, committed[0].ID, pending[0].ID)

	// the sequence was not consumed by the failed commit
	committed, err = s.Commit(ctx, "", next, []core.Intent{core.Pay("carol", 1)})
	assert.NoError(t, err)
	check.Equal(t, uint64(2), committed[0].Sequence)
}

func TestMarkDelivered(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "auction.db"))

	committed, err := s.Commit(ctx, "", runningState(), []core.Intent{
		core.Pay("alice", 150),
		core.Pay("carol", 170),
		core.CloseOut("operator"),
	})
	assert.NoError(t, err)

	assert.NoError(t, s.MarkDelivered(ctx, committed[1].ID))
	assert.NoError(t, s.MarkDelivered(ctx, committed[1].ID))

	pending, err := s.Pending(ctx, 0)
	assert.NoError(t, err)
	check.Equal(t, 2, len(pending))
	check.Equal(t, committed[0].ID, pending[0].ID)
	check.Equal(t, committed[2].ID, pending[1].ID)

	limited, err := s.Pending(ctx, 1)
	assert.NoError(t, err)
	check.Equal(t, 1, len(limited))

	err = s.MarkDelivered(ctx, uuid.New())
	check.True(t, errors.Is(err, store.ErrIntentNotFound))
}

func TestAppliedRequests(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "auction.db")
	start := time.Now().Add(-time.Second)

	s := openTestStore(t, path)
	_, err := s.Commit(ctx, "req-1", runningState(), []core.Intent{core.Pay("alice", 1)})
	assert.NoError(t, err)
	_, err = s.Commit(ctx, "", runningState(), nil)
	assert.NoError(t, err)
	assert.NoError(t, s.Close())

	reopened := openTestStore(t, path)
	applied, err := reopened.AppliedRequests(ctx, start)
	assert.NoError(t, err)
	check.Equal(t, 1, len(applied))
	_, ok := applied["req-1"]
	check.True(t, ok)

	removed, err := reopened.ForgetRequests(ctx, time.Now().Add(time.Hour))
	assert.NoError(t, err)
	check.Equal(t, 1, removed)

	applied, err = reopened.AppliedRequests(ctx, start)
	assert.NoError(t, err)
	check.Equal(t, 0, len(applied))
}

func TestCommit_FailedCommitDoesNotRecordRequest(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "auction.db"))

	huge := runningState()
	huge.EndTime = math.MaxUint64
	_, err := s.Commit(ctx, "req-1", huge, nil)
	check.True(t, errors.Is(err, ErrValueOutOfRange))

	applied, err := s.AppliedRequests(ctx, time.Unix(0, 0))
	assert.NoError(t, err)
	check.Equal(t, 0, len(applied))
}
