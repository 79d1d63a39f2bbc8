package sqlstore

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/cloudx-io/escrowauction/core"
	"github.com/cloudx-io/escrowauction/store"
)

// stateRowID is the primary key of the single auction_state row
const stateRowID = 1

type auctionStateModel struct {
	bun.BaseModel `bun:"table:auction_state,alias:st"`

	ID           int64  `bun:"id,pk"`
	Operator     string `bun:"operator,notnull"`
	Application  string `bun:"application,notnull"`
	Phase        int64  `bun:"phase,notnull"`
	EndTime      int64  `bun:"end_time,notnull"`
	AssetID      int64  `bun:"asset_id,notnull"`
	AssetAmount  int64  `bun:"asset_amount,notnull"`
	HighBid      int64  `bun:"high_bid,notnull"`
	HighBidder   string `bun:"high_bidder,notnull"`
	AssetSettled bool   `bun:"asset_settled,notnull"`
}

type claimableModel struct {
	bun.BaseModel `bun:"table:claimable_balances,alias:cb"`

	Account string `bun:"account,pk"`
	Amount  int64  `bun:"amount,notnull"`
}

type intentModel struct {
	bun.BaseModel `bun:"table:transfer_intents,alias:ti"`

	ID          uuid.UUID    `bun:"id,pk,type:uuid"`
	Sequence    int64        `bun:"sequence,notnull,unique"`
	Kind        int64        `bun:"kind,notnull"`
	To          string       `bun:"to_account,notnull"`
	AssetID     int64        `bun:"asset_id,notnull"`
	Amount      int64        `bun:"amount,notnull"`
	CloseTo     string       `bun:"close_to,notnull"`
	CreatedAt   time.Time    `bun:"created_at,notnull"`
	DeliveredAt bun.NullTime `bun:"delivered_at"`
}

// requestModel records an applied request ID. AppliedAt is unix nanoseconds.
type requestModel struct {
	bun.BaseModel `bun:"table:applied_requests,alias:ar"`

	ID        string `bun:"id,pk"`
	AppliedAt int64  `bun:"applied_at,notnull"`
}

func newStateModel(s *core.AuctionState) *auctionStateModel {
	return &auctionStateModel{
		ID:           stateRowID,
		Operator:     string(s.Operator),
		Application:  string(s.Application),
		Phase:        int64(s.Phase),
		EndTime:      int64(s.EndTime),
		AssetID:      int64(s.AssetID),
		AssetAmount:  int64(s.AssetAmount),
		HighBid:      int64(s.HighBid),
		HighBidder:   string(s.HighBidder),
		AssetSettled: s.AssetSettled,
	}
}

func (m *auctionStateModel) toCore(balances []claimableModel) *core.AuctionState {
	s := core.NewAuctionState(core.Account(m.Operator), core.Account(m.Application))
	s.Phase = core.Phase(m.Phase)
	s.EndTime = core.Timestamp(m.EndTime)
	s.AssetID = core.AssetID(m.AssetID)
	s.AssetAmount = core.Amount(m.AssetAmount)
	s.HighBid = core.Amount(m.HighBid)
	s.HighBidder = core.Account(m.HighBidder)
	s.AssetSettled = m.AssetSettled
	for _, b := range balances {
		s.Claimable[core.Account(b.Account)] = core.Amount(b.Amount)
	}
	return s
}

func newIntentModel(p store.PendingIntent) *intentModel {
	return &intentModel{
		ID:        p.ID,
		Sequence:  int64(p.Sequence),
		Kind:      int64(p.Intent.Kind),
		To:        string(p.Intent.To),
		AssetID:   int64(p.Intent.Asset),
		Amount:    int64(p.Intent.Amount),
		CloseTo:   string(p.Intent.CloseTo),
		CreatedAt: p.CreatedAt,
	}
}

func (m *intentModel) toPending() store.PendingIntent {
	return store.PendingIntent{
		ID:       m.ID,
		Sequence: uint64(m.Sequence),
		Intent: core.Intent{
			Kind:    core.IntentKind(m.Kind),
			To:      core.Account(m.To),
			Asset:   core.AssetID(m.AssetID),
			Amount:  core.Amount(m.Amount),
			CloseTo: core.Account(m.CloseTo),
		},
		CreatedAt: m.CreatedAt,
	}
}
