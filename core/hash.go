package core

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
)

// ComputeStateHash computes a digest of every persisted field of the auction.
// Settlement attestations embed it so a verifier can bind a settlement to one exact ledger.
//
// Formula: SHA256(operator|application|phase|end_time|asset_id|asset_amount|high_bid|high_bidder|settled
// followed by "|account:amount" for every claimable entry, sorted by account).
// Account names are Go-quoted so separators inside a name cannot shift field boundaries.
func ComputeStateHash(s *AuctionState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%q|%q|%d|%d|%d|%d|%d|%q|%t",
		s.Operator, s.Application, s.Phase, s.EndTime, s.AssetID,
		s.AssetAmount, s.HighBid, s.HighBidder, s.AssetSettled)

	// Sort accounts to ensure deterministic hash calculation
	accounts := make([]string, 0, len(s.Claimable))
	for account := range s.Claimable {
		accounts = append(accounts, string(account))
	}
	sort.Strings(accounts)

	for _, account := range accounts {
		fmt.Fprintf(&b, "|%q:%d", account, s.Claimable[Account(account)])
	}

	hash := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("%x", hash)
}

// ComputeIntentsHash computes a digest of an ordered list of intents.
//
// Formula: SHA256 over "kind:to:asset:amount:close_to" entries joined by "|"
func ComputeIntentsHash(intents []Intent) string {
	parts := make([]string, len(intents))
	for i, intent := range intents {
		parts[i] = fmt.Sprintf("%d:%s:%d:%d:%s", intent.Kind, intent.To, intent.Asset, intent.Amount, intent.CloseTo)
	}
	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return fmt.Sprintf("%x", hash)
}
