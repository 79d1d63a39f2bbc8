package core

import (
	"fmt"
	"math"
	"sort"
)

// Every operation below checks all of its guards before touching the state, so a
// returned error always leaves the auction exactly as it was.

// BindAsset records the asset to be auctioned and opts the application into it.
// Only the operator may bind, and only once.
func (s *AuctionState) BindAsset(call Call, asset AssetID) ([]Intent, error) {
	if s.Phase == PhaseDeleted {
		return nil, ErrDeleted
	}
	if call.Caller != s.Operator {
		return nil, fmt.Errorf("%w: %s", ErrUnauthorized, call.Caller)
	}
	if s.AssetID != 0 {
		return nil, fmt.Errorf("%w: asset %d", ErrAlreadyBound, s.AssetID)
	}
	if asset == 0 {
		return nil, ErrInvalidAsset
	}

	s.AssetID = asset
	s.Phase = PhaseAssetBound

	return []Intent{OptInAsset(s.Application, asset)}, nil
}

// Start opens bidding.
//
// Parameters:
//   - duration: seconds from now until bidding closes (must be positive)
//   - reserve: starting high bid; the first accepted bid must exceed it
//   - transfer: the verified deposit of the auctioned asset into the application
//
// The deposited amount becomes the quantity delivered to the winner at settlement.
func (s *AuctionState) Start(call Call, duration Duration, reserve Amount, transfer AssetTransfer) ([]Intent, error) {
	if s.Phase == PhaseDeleted {
		return nil, ErrDeleted
	}
	if call.Caller != s.Operator {
		return nil, fmt.Errorf("%w: %s", ErrUnauthorized, call.Caller)
	}
	if transfer.Receiver != s.Application {
		return nil, fmt.Errorf("%w: receiver %s", ErrTransferMisrouted, transfer.Receiver)
	}
	if s.EndTime != 0 {
		return nil, ErrAlreadyStarted
	}
	if s.AssetID == 0 {
		return nil, ErrAssetNotBound
	}
	if transfer.Asset != s.AssetID {
		return nil, fmt.Errorf("%w: got %d, bound %d", ErrAssetMismatch, transfer.Asset, s.AssetID)
	}
	if duration == 0 {
		return nil, ErrInvalidDuration
	}
	if uint64(duration) > math.MaxUint64-uint64(call.Now) {
		return nil, fmt.Errorf("%w: now %d + duration %d", ErrDurationOverflow, call.Now, duration)
	}

	s.AssetAmount = transfer.Amount
	s.EndTime = call.Now + Timestamp(duration)
	s.HighBid = reserve
	s.Phase = PhaseRunning

	return nil, nil
}

// OptIn allocates a ledger entry for the caller. It is idempotent.
func (s *AuctionState) OptIn(call Call) ([]Intent, error) {
	if s.Phase == PhaseDeleted {
		return nil, ErrDeleted
	}
	s.Phase = s.PhaseAt(call.Now)
	if _, ok := s.Claimable[call.Caller]; !ok {
		s.Claimable[call.Caller] = 0
	}
	return nil, nil
}

// Bid accepts a payment as the new high bid.
//
// The payment is a fresh deposit, so it is added to the bidder's claimable balance
// rather than replacing it: a bidder re-entering after being outbid keeps the refund
// it has not claimed yet. The previous high bidder is not paid here; its deposit
// becomes withdrawable through Claim.
func (s *AuctionState) Bid(call Call, payment Payment) ([]Intent, error) {
	if s.Phase == PhaseDeleted {
		return nil, ErrDeleted
	}
	if s.PhaseAt(call.Now) != PhaseRunning {
		return nil, fmt.Errorf("%w: phase %s", ErrAuctionClosed, s.PhaseAt(call.Now))
	}
	if payment.Sender != call.Caller {
		return nil, fmt.Errorf("%w: sender %s, caller %s", ErrSenderMismatch, payment.Sender, call.Caller)
	}
	if payment.Receiver != s.Application {
		return nil, fmt.Errorf("%w: receiver %s", ErrTransferMisrouted, payment.Receiver)
	}
	if payment.Amount <= s.HighBid {
		return nil, fmt.Errorf("%w: %d <= %d", ErrBidTooLow, payment.Amount, s.HighBid)
	}
	balance := s.Claimable[payment.Sender]
	if uint64(payment.Amount) > math.MaxUint64-uint64(balance) {
		return nil, fmt.Errorf("%w: balance of %s", ErrAmountOverflow, payment.Sender)
	}

	s.HighBid = payment.Amount
	s.HighBidder = payment.Sender
	s.Claimable[payment.Sender] = balance + payment.Amount

	return nil, nil
}

// Claim pays the caller everything it can withdraw. The high bidder's live bid stays
// locked until teardown; everything else is refundable at any time. A zero balance is
// not an error and produces no intent.
func (s *AuctionState) Claim(call Call) ([]Intent, error) {
	if s.Phase == PhaseDeleted {
		return nil, ErrDeleted
	}
	s.Phase = s.PhaseAt(call.Now)

	amount := s.Withdrawable(call.Caller)
	if amount == 0 {
		return nil, nil
	}
	s.Claimable[call.Caller] -= amount

	return []Intent{Pay(call.Caller, amount)}, nil
}

// SettleAsset delivers the auctioned asset to the winner once bidding has closed and
// closes the application's holding of that asset to the winner. With no accepted bid
// the asset goes back to the operator.
func (s *AuctionState) SettleAsset(call Call, asset AssetID) ([]Intent, error) {
	if s.Phase == PhaseDeleted {
		return nil, ErrDeleted
	}
	if call.Caller != s.Operator {
		return nil, fmt.Errorf("%w: %s", ErrUnauthorized, call.Caller)
	}
	if s.EndTime == 0 || call.Now <= s.EndTime {
		return nil, fmt.Errorf("%w: now %d, ends %d", ErrAuctionStillRunning, call.Now, s.EndTime)
	}
	if asset != s.AssetID {
		return nil, fmt.Errorf("%w: got %d, bound %d", ErrAssetMismatch, asset, s.AssetID)
	}
	if s.AssetSettled {
		return nil, ErrAlreadySettled
	}

	recipient := s.HighBidder
	if recipient == "" {
		recipient = s.Operator
	}

	s.Phase = PhaseEnded
	s.AssetSettled = true

	return []Intent{TransferAsset(recipient, s.AssetID, s.AssetAmount, recipient)}, nil
}

// Teardown deletes the auction. A started auction must have ended and delivered its
// asset. Outstanding refunds are paid to their owners first, then everything left
// (the winning bid included) is closed out to the operator.
//
// An auction that never started holds no deposits and may be torn down directly.
func (s *AuctionState) Teardown(call Call) ([]Intent, error) {
	if s.Phase == PhaseDeleted {
		return nil, ErrDeleted
	}
	if call.Caller != s.Operator {
		return nil, fmt.Errorf("%w: %s", ErrUnauthorized, call.Caller)
	}
	switch s.PhaseAt(call.Now) {
	case PhaseCreated, PhaseAssetBound:
		// never started, nothing deposited
	case PhaseEnded:
		if !s.AssetSettled {
			return nil, ErrNotSettled
		}
	default:
		return nil, fmt.Errorf("%w: now %d, ends %d", ErrAuctionStillRunning, call.Now, s.EndTime)
	}

	accounts := make([]Account, 0, len(s.Claimable))
	for account := range s.Claimable {
		accounts = append(accounts, account)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i] < accounts[j] })

	intents := make([]Intent, 0, len(accounts)+1)
	for _, account := range accounts {
		if refund := s.Withdrawable(account); refund > 0 {
			intents = append(intents, Pay(account, refund))
		}
		s.Claimable[account] = 0
	}
	intents = append(intents, CloseOut(s.Operator))

	s.Phase = PhaseDeleted

	return intents, nil
}
