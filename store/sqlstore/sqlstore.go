// Package sqlstore persists the auction in SQLite through bun. Each commit writes the
// state row, the claimable balances and the new outbox rows in one transaction.
//
// SQLite integers are signed, so values above math.MaxInt64 are rejected at commit.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/cloudx-io/escrowauction/core"
	"github.com/cloudx-io/escrowauction/store"
)

var ErrValueOutOfRange = errors.New("value exceeds the SQLite integer range")

type Store struct {
	db *bun.DB
}

var _ store.Store = (*Store)(nil)

// Open connects to the SQLite database at dsn and creates the schema if needed.
func Open(ctx context.Context, dsn string) (*Store, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps in-memory databases alive
	sqldb.SetMaxOpenConns(1)

	s := &Store{db: bun.NewDB(sqldb, sqlitedialect.New())}
	if err := s.createSchema(ctx); err != nil {
		_ = s.db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) createSchema(ctx context.Context) error {
	models := []any{
		(*auctionStateModel)(nil),
		(*claimableModel)(nil),
		(*intentModel)(nil),
		(*requestModel)(nil),
	}
	for _, model := range models {
		if _, err := s.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

func (s *Store) Load(ctx context.Context) (*core.AuctionState, error) {
	state := new(auctionStateModel)
	err := s.db.NewSelect().Model(state).Where("id = ?", stateRowID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load auction state: %w", err)
	}

	var balances []claimableModel
	if err := s.db.NewSelect().Model(&balances).Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to load claimable balances: %w", err)
	}

	return state.toCore(balances), nil
}

func (s *Store) Commit(ctx context.Context, requestID string, state *core.AuctionState, intents []core.Intent) ([]store.PendingIntent, error) {
	if err := checkRange(state, intents); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var pending []store.PendingIntent
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewInsert().
			Model(newStateModel(state)).
			On("CONFLICT (id) DO UPDATE").
			Set("operator = EXCLUDED.operator").
			Set("application = EXCLUDED.application").
			Set("phase = EXCLUDED.phase").
			Set("end_time = EXCLUDED.end_time").
			Set("asset_id = EXCLUDED.asset_id").
			Set("asset_amount = EXCLUDED.asset_amount").
			Set("high_bid = EXCLUDED.high_bid").
			Set("high_bidder = EXCLUDED.high_bidder").
			Set("asset_settled = EXCLUDED.asset_settled").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to write auction state: %w", err)
		}

		if len(state.Claimable) > 0 {
			balances := make([]claimableModel, 0, len(state.Claimable))
			for account, amount := range state.Claimable {
				balances = append(balances, claimableModel{Account: string(account), Amount: int64(amount)})
			}
			_, err = tx.NewInsert().
				Model(&balances).
				On("CONFLICT (account) DO UPDATE").
				Set("amount = EXCLUDED.amount").
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("failed to write claimable balances: %w", err)
			}
		}

		if requestID != "" {
			_, err = tx.NewInsert().
				Model(&requestModel{ID: requestID, AppliedAt: now.UnixNano()}).
				On("CONFLICT (id) DO UPDATE").
				Set("applied_at = EXCLUDED.applied_at").
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("failed to record request: %w", err)
			}
		}

		if len(intents) == 0 {
			return nil
		}

		var maxSeq sql.NullInt64
		err = tx.NewSelect().
			Model((*intentModel)(nil)).
			ColumnExpr("MAX(sequence)").
			Scan(ctx, &maxSeq)
		if err != nil {
			return fmt.Errorf("failed to read outbox sequence: %w", err)
		}

		pending = store.NewPendingIntents(uint64(maxSeq.Int64)+1, intents, now)
		rows := make([]*intentModel, len(pending))
		for i, p := range pending {
			rows[i] = newIntentModel(p)
		}
		if _, err := tx.NewInsert().Model(&rows).Exec(ctx); err != nil {
			return fmt.Errorf("failed to write transfer intents: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pending, nil
}

func (s *Store) Pending(ctx context.Context, limit int) ([]store.PendingIntent, error) {
	var rows []intentModel
	q := s.db.NewSelect().
		Model(&rows).
		Where("delivered_at IS NULL").
		Order("sequence ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to load pending intents: %w", err)
	}

	pending := make([]store.PendingIntent, len(rows))
	for i := range rows {
		pending[i] = rows[i].toPending()
	}
	return pending, nil
}

func (s *Store) MarkDelivered(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.NewUpdate().
		Model((*intentModel)(nil)).
		Set("delivered_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("delivered_at IS NULL").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to mark intent delivered: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	exists, err := s.db.NewSelect().Model((*intentModel)(nil)).Where("id = ?", id).Exists(ctx)
	if err != nil {
		return fmt.Errorf("failed to look up intent: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", store.ErrIntentNotFound, id)
	}
	return nil
}

func (s *Store) AppliedRequests(ctx context.Context, since time.Time) (map[string]time.Time, error) {
	var rows []requestModel
	err := s.db.NewSelect().
		Model(&rows).
		Where("applied_at >= ?", since.UnixNano()).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load applied requests: %w", err)
	}

	applied := make(map[string]time.Time, len(rows))
	for _, row := range rows {
		applied[row.ID] = time.Unix(0, row.AppliedAt).UTC()
	}
	return applied, nil
}

func (s *Store) ForgetRequests(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.NewDelete().
		Model((*requestModel)(nil)).
		Where("applied_at < ?", cutoff.UnixNano()).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to forget requests: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func checkRange(state *core.AuctionState, intents []core.Intent) error {
	values := []uint64{
		uint64(state.EndTime),
		uint64(state.AssetID),
		uint64(state.AssetAmount),
		uint64(state.HighBid),
	}
	for _, amount := range state.Claimable {
		values = append(values, uint64(amount))
	}
	for _, intent := range intents {
		values = append(values, uint64(intent.Asset), uint64(intent.Amount))
	}
	for _, v := range values {
		if v > math.MaxInt64 {
			return fmt.Errorf("%w: %d", ErrValueOutOfRange, v)
		}
	}
	return nil
}
