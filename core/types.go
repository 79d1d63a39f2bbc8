package core

import "fmt"

// Account identifies a ledger account (a bidder, the operator, or the auction application itself).
type Account string

// AssetID identifies the asset under auction. Zero means "no asset".
type AssetID uint64

// Amount is a quantity in base units (funds or asset units).
type Amount uint64

// Timestamp is an absolute ledger time in seconds.
type Timestamp uint64

// Duration is a length of time in seconds.
type Duration uint64

// Phase is the lifecycle phase of an auction.
type Phase uint8

const (
	PhaseCreated Phase = iota
	PhaseAssetBound
	PhaseRunning
	PhaseEnded
	PhaseDeleted
)

func (p Phase) String() string {
	switch p {
	case PhaseCreated:
		return "created"
	case PhaseAssetBound:
		return "asset_bound"
	case PhaseRunning:
		return "running"
	case PhaseEnded:
		return "ended"
	case PhaseDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// ParsePhase is the inverse of Phase.String.
func ParsePhase(s string) (Phase, error) {
	for p := PhaseCreated; p <= PhaseDeleted; p++ {
		if p.String() == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown phase %q", s)
}

// Call carries the facts the host supplies with every operation: the authenticated
// caller and the current ledger time. Both are trusted as-is.
type Call struct {
	Caller Account
	Now    Timestamp
}

// Payment is a verified inbound payment fact.
type Payment struct {
	Sender   Account `json:"sender"`
	Receiver Account `json:"receiver"`
	Amount   Amount  `json:"amount"`
}

// AssetTransfer is a verified inbound asset transfer fact.
type AssetTransfer struct {
	Sender   Account `json:"sender"`
	Receiver Account `json:"receiver"`
	Asset    AssetID `json:"asset"`
	Amount   Amount  `json:"amount"`
}

// AuctionState is the complete durable state of one auction.
type AuctionState struct {
	// Operator is the privileged account allowed to bind, start, settle and tear down.
	Operator Account `json:"operator"`

	// Application is the auction's own address; inbound transfers must name it as receiver.
	Application Account `json:"application"`

	Phase        Phase     `json:"phase"`
	EndTime      Timestamp `json:"end_time"`
	AssetID      AssetID   `json:"asset_id"`
	AssetAmount  Amount    `json:"asset_amount"`
	HighBid      Amount    `json:"high_bid"`
	HighBidder   Account   `json:"high_bidder"`
	AssetSettled bool      `json:"asset_settled"`

	// Claimable maps each participant to the amount it has deposited and not yet withdrawn.
	// Entries are never removed.
	Claimable map[Account]Amount `json:"claimable"`
}

// NewAuctionState returns a fresh auction in PhaseCreated.
func NewAuctionState(operator, application Account) *AuctionState {
	return &AuctionState{
		Operator:    operator,
		Application: application,
		Phase:       PhaseCreated,
		Claimable:   make(map[Account]Amount),
	}
}

// Clone returns a deep copy of the state.
func (s *AuctionState) Clone() *AuctionState {
	if s == nil {
		return nil
	}
	c := *s
	c.Claimable = make(map[Account]Amount, len(s.Claimable))
	for account, amount := range s.Claimable {
		c.Claimable[account] = amount
	}
	return &c
}

// PhaseAt reports the effective phase at the given time. A running auction is
// ended once now reaches EndTime, even before any call records that transition.
func (s *AuctionState) PhaseAt(now Timestamp) Phase {
	if s.Phase == PhaseRunning && now >= s.EndTime {
		return PhaseEnded
	}
	return s.Phase
}

// Withdrawable returns what Claim would pay the account right now.
func (s *AuctionState) Withdrawable(account Account) Amount {
	balance := s.Claimable[account]
	if account != "" && account == s.HighBidder {
		if balance <= s.HighBid {
			return 0
		}
		return balance - s.HighBid
	}
	return balance
}
