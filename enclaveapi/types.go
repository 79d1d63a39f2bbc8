package enclaveapi

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cloudx-io/escrowauction/core"
)

// Request types accepted by the auction enclave
const (
	RequestTypePing        = "ping"
	RequestTypeStatus      = "status"
	RequestTypeBindAsset   = "bind_asset"
	RequestTypeStart       = "start"
	RequestTypeOptIn       = "opt_in"
	RequestTypeBid         = "bid"
	RequestTypeClaim       = "claim"
	RequestTypeSettleAsset = "settle_asset"
	RequestTypeTeardown    = "teardown"

	ResponseTypeAuction = "auction_response"
	ResponseTypeError   = "error"
)

// PaymentFact is a verified inbound payment as delivered by the ledger oracle.
// Amount is in display units (6 decimal places).
type PaymentFact struct {
	Sender   core.Account    `json:"sender"`
	Receiver core.Account    `json:"receiver"`
	Amount   decimal.Decimal `json:"amount"`
}

// ToCore converts the payment into base units
func (p PaymentFact) ToCore() (core.Payment, error) {
	amount, err := core.AmountFromDecimal(p.Amount)
	if err != nil {
		return core.Payment{}, err
	}
	return core.Payment{Sender: p.Sender, Receiver: p.Receiver, Amount: amount}, nil
}

// AssetTransferFact is a verified inbound asset transfer. Amount is in asset units.
type AssetTransferFact struct {
	Sender   core.Account `json:"sender"`
	Receiver core.Account `json:"receiver"`
	AssetID  core.AssetID `json:"asset_id"`
	Amount   core.Amount  `json:"amount"`
}

func (f AssetTransferFact) ToCore() core.AssetTransfer {
	return core.AssetTransfer{Sender: f.Sender, Receiver: f.Receiver, Asset: f.AssetID, Amount: f.Amount}
}

// AuctionRequest is the single request envelope for every auction operation.
// Caller and LatestTimestamp are supplied by the host substrate and trusted as-is;
// a zero LatestTimestamp means "use the enclave clock".
type AuctionRequest struct {
	Type            string         `json:"type"`
	RequestID       string         `json:"request_id"`
	Caller          core.Account   `json:"caller"`
	LatestTimestamp core.Timestamp `json:"latest_timestamp,omitempty"`

	AssetID      core.AssetID       `json:"asset_id,omitempty"`      // bind_asset, settle_asset
	Duration     core.Duration      `json:"duration,omitempty"`      // start
	ReservePrice *decimal.Decimal   `json:"reserve_price,omitempty"` // start
	Transfer     *AssetTransferFact `json:"transfer,omitempty"`      // start
	Payment      *PaymentFact       `json:"payment,omitempty"`       // bid
}

// TransferIntent is the wire form of a committed outbound transfer.
// ID is the idempotency key the settlement executor must dedupe on.
type TransferIntent struct {
	ID          string           `json:"id"`
	Sequence    uint64           `json:"sequence"`
	Kind        string           `json:"kind"`
	To          core.Account     `json:"to"`
	AssetID     core.AssetID     `json:"asset_id,omitempty"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`       // funds, pay intents only
	AssetAmount core.Amount      `json:"asset_amount,omitempty"` // asset units, transfer_asset only
	CloseTo     core.Account     `json:"close_to,omitempty"`
}

// NewTransferIntent renders a core intent for the wire
func NewTransferIntent(id string, sequence uint64, intent core.Intent) TransferIntent {
	wire := TransferIntent{
		ID:       id,
		Sequence: sequence,
		Kind:     intent.Kind.String(),
		To:       intent.To,
		AssetID:  intent.Asset,
		CloseTo:  intent.CloseTo,
	}
	switch intent.Kind {
	case core.IntentPay:
		amount := intent.Amount.Decimal()
		wire.Amount = &amount
	case core.IntentTransferAsset:
		wire.AssetAmount = intent.Amount
	}
	return wire
}

// ToCore recovers the core intent from its wire form
func (w TransferIntent) ToCore() (core.Intent, error) {
	kind, err := core.ParseIntentKind(w.Kind)
	if err != nil {
		return core.Intent{}, err
	}
	intent := core.Intent{Kind: kind, To: w.To, Asset: w.AssetID, CloseTo: w.CloseTo}
	switch kind {
	case core.IntentPay:
		if w.Amount == nil {
			return core.Intent{}, fmt.Errorf("pay intent %s has no amount", w.ID)
		}
		amount, err := core.AmountFromDecimal(*w.Amount)
		if err != nil {
			return core.Intent{}, err
		}
		intent.Amount = amount
	case core.IntentTransferAsset:
		intent.Amount = w.AssetAmount
	}
	return intent, nil
}

// AuctionStateView is the externally visible snapshot of an auction
type AuctionStateView struct {
	Phase        string                           `json:"phase"`
	Operator     core.Account                     `json:"operator"`
	Application  core.Account                     `json:"application"`
	EndTime      core.Timestamp                   `json:"end_time"`
	AssetID      core.AssetID                     `json:"asset_id"`
	AssetAmount  core.Amount                      `json:"asset_amount"`
	HighBid      decimal.Decimal                  `json:"high_bid"`
	HighBidder   core.Account                     `json:"high_bidder,omitempty"`
	AssetSettled bool                             `json:"asset_settled"`
	Claimable    map[core.Account]decimal.Decimal `json:"claimable"`
	StateHash    string                           `json:"state_hash"`
}

// NewAuctionStateView builds a view of s with the phase as observed at now
func NewAuctionStateView(s *core.AuctionState, now core.Timestamp) *AuctionStateView {
	claimable := make(map[core.Account]decimal.Decimal, len(s.Claimable))
	for account, amount := range s.Claimable {
		claimable[account] = amount.Decimal()
	}
	return &AuctionStateView{
		Phase:        s.PhaseAt(now).String(),
		Operator:     s.Operator,
		Application:  s.Application,
		EndTime:      s.EndTime,
		AssetID:      s.AssetID,
		AssetAmount:  s.AssetAmount,
		HighBid:      s.HighBid.Decimal(),
		HighBidder:   s.HighBidder,
		AssetSettled: s.AssetSettled,
		Claimable:    claimable,
		StateHash:    core.ComputeStateHash(s),
	}
}

// ToCore rebuilds the auction state a view was rendered from. The view's phase is
// the observed one, so a running auction viewed after its end comes back as ended.
func (v *AuctionStateView) ToCore() (*core.AuctionState, error) {
	phase, err := core.ParsePhase(v.Phase)
	if err != nil {
		return nil, err
	}
	highBid, err := core.AmountFromDecimal(v.HighBid)
	if err != nil {
		return nil, fmt.Errorf("high_bid: %w", err)
	}

	s := core.NewAuctionState(v.Operator, v.Application)
	s.Phase = phase
	s.EndTime = v.EndTime
	s.AssetID = v.AssetID
	s.AssetAmount = v.AssetAmount
	s.HighBid = highBid
	s.HighBidder = v.HighBidder
	s.AssetSettled = v.AssetSettled
	for account, balance := range v.Claimable {
		amount, err := core.AmountFromDecimal(balance)
		if err != nil {
			return nil, fmt.Errorf("claimable[%s]: %w", account, err)
		}
		s.Claimable[account] = amount
	}
	return s, nil
}

// AuctionResponse is returned for every auction request
type AuctionResponse struct {
	Type                  string                `json:"type"`
	RequestID             string                `json:"request_id,omitempty"`
	Success               bool                  `json:"success"`
	Message               string                `json:"message"`
	ErrorCode             string                `json:"error_code,omitempty"`
	Intents               []TransferIntent      `json:"intents,omitempty"`
	State                 *AuctionStateView     `json:"state,omitempty"`
	AttestationCOSEBase64 AttestationCOSEBase64 `json:"attestation_cose_base64,omitempty"`
	ProcessingTime        int64                 `json:"processing_time_ms"`
}

// PCRs represents the Platform Configuration Registers from AWS Nitro Enclaves
type PCRs struct {
	// PCR0: Hash of the Enclave Image File (EIF)
	ImageFileHash string `json:"0"`

	// PCR1: Hash of the Linux kernel and initial RAM data (initramfs)
	KernelHash string `json:"1"`

	// PCR2: Hash of user applications, excluding the boot ramfs
	ApplicationHash string `json:"2"`

	// PCR3: Hash of the IAM role assigned to the parent instance
	IAMRoleHash string `json:"3"`

	// PCR4: Hash of the parent instance's ID
	InstanceIDHash string `json:"4"`

	// PCR8: Hash of the enclave image file's signing certificate
	SigningCertHash string `json:"8,omitempty"`
}

// AttestationDoc represents the base structured attestation data from AWS Nitro Enclaves
type AttestationDoc struct {
	ModuleID        string    `json:"module_id"`
	Timestamp       time.Time `json:"timestamp"`
	DigestAlgorithm string    `json:"digest"`
	PCRs            PCRs      `json:"pcrs"`
	Certificate     string    `json:"certificate"`
	CABundle        []string  `json:"cabundle"`
	PublicKey       string    `json:"public_key"`
	Nonce           string    `json:"nonce"`
}

// SettlementAttestationUserData is embedded in the attestation produced when the
// asset is settled or the auction is torn down.
type SettlementAttestationUserData struct {
	AuctionApp  core.Account   `json:"auction_app"`
	Operation   string         `json:"operation"`
	Winner      core.Account   `json:"winner,omitempty"`
	AssetID     core.AssetID   `json:"asset_id"`
	AssetAmount core.Amount    `json:"asset_amount"`
	HighBid     core.Amount    `json:"high_bid"`
	EndTime     core.Timestamp `json:"end_time"`
	StateHash   string         `json:"state_hash"`
	IntentsHash string         `json:"intents_hash"`
	Timestamp   time.Time      `json:"timestamp"`
}

// SettlementAttestationDoc represents a parsed settlement attestation
type SettlementAttestationDoc struct {
	AttestationDoc
	UserData *SettlementAttestationUserData `json:"user_data"`
}
