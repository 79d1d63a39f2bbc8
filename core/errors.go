package core

import "errors"

var (
	ErrUnauthorized        = errors.New("caller is not the auction operator")
	ErrAlreadyBound        = errors.New("asset already bound")
	ErrAlreadyStarted      = errors.New("auction already started")
	ErrTransferMisrouted   = errors.New("transfer receiver is not the auction application")
	ErrAuctionClosed       = errors.New("auction is not accepting bids")
	ErrAuctionStillRunning = errors.New("auction has not ended")
	ErrSenderMismatch      = errors.New("payment sender does not match caller")
	ErrBidTooLow           = errors.New("bid does not exceed the current high bid")
	ErrDurationOverflow    = errors.New("auction end time overflows")

	ErrInvalidAsset    = errors.New("invalid asset id")
	ErrAssetNotBound   = errors.New("no asset bound")
	ErrAssetMismatch   = errors.New("asset does not match the bound asset")
	ErrInvalidDuration = errors.New("auction duration must be positive")
	ErrAlreadySettled  = errors.New("asset already settled")
	ErrNotSettled      = errors.New("asset not settled")
	ErrDeleted         = errors.New("auction deleted")
	ErrAmountOverflow  = errors.New("amount overflows")
)

// errorCodes is ordered so lookups are deterministic.
var errorCodes = []struct {
	err  error
	code string
}{
	{ErrUnauthorized, "unauthorized"},
	{ErrAlreadyBound, "already_bound"},
	{ErrAlreadyStarted, "already_started"},
	{ErrTransferMisrouted, "transfer_misrouted"},
	{ErrAuctionClosed, "auction_closed"},
	{ErrAuctionStillRunning, "auction_still_running"},
	{ErrSenderMismatch, "sender_mismatch"},
	{ErrBidTooLow, "bid_too_low"},
	{ErrDurationOverflow, "duration_overflow"},
	{ErrInvalidAsset, "invalid_asset"},
	{ErrAssetNotBound, "asset_not_bound"},
	{ErrAssetMismatch, "asset_mismatch"},
	{ErrInvalidDuration, "invalid_duration"},
	{ErrAlreadySettled, "already_settled"},
	{ErrNotSettled, "not_settled"},
	{ErrDeleted, "deleted"},
	{ErrAmountOverflow, "amount_overflow"},
}

// ErrorCode maps an error returned by an auction operation to its stable wire code.
// Errors that do not wrap an auction error map to "internal_error".
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return "internal_error"
}
