package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cloudx-io/escrowauction/core"
	"github.com/cloudx-io/escrowauction/enclaveapi"
)

var (
	ErrNotOptedIn = errors.New("caller has not opted in")

	errInvalidRequest   = errors.New("invalid request")
	errDuplicateRequest = errors.New("duplicate request")
)

// AuctionService bundles what request processing needs. Attester is nil when
// attestation is disabled or unavailable.
type AuctionService struct {
	Host         *Host
	Replay       *ReplayGuard
	Attester     EnclaveAttester
	RequireOptIn bool
	Clock        func() time.Time
}

func (svc *AuctionService) now(req enclaveapi.AuctionRequest) core.Timestamp {
	if req.LatestTimestamp != 0 {
		return req.LatestTimestamp
	}
	clock := svc.Clock
	if clock == nil {
		clock = time.Now
	}
	return core.Timestamp(clock().Unix())
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrNotOptedIn):
		return "not_opted_in"
	case errors.Is(err, errInvalidRequest):
		return "invalid_request"
	case errors.Is(err, errDuplicateRequest):
		return "duplicate_request"
	default:
		return core.ErrorCode(err)
	}
}

func isAttestedOperation(requestType string) bool {
	return requestType == enclaveapi.RequestTypeSettleAsset || requestType == enclaveapi.RequestTypeTeardown
}

// amountError keeps overflow distinct from malformed input
func amountError(field string, err error) error {
	if errors.Is(err, core.ErrAmountOverflow) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", errInvalidRequest, field, err)
}

func toAmount(field string, d decimal.Decimal) (core.Amount, error) {
	amount, err := core.AmountFromDecimal(d)
	if err != nil {
		return 0, amountError(field, err)
	}
	return amount, nil
}

// buildOperation validates the request envelope and binds it to an auction operation
func buildOperation(req enclaveapi.AuctionRequest, call core.Call, requireOptIn bool) (Operation, error) {
	if call.Caller == "" {
		return nil, fmt.Errorf("%w: caller is required", errInvalidRequest)
	}
	if _, err := uuid.Parse(req.RequestID); err != nil {
		return nil, fmt.Errorf("%w: request_id must be a UUID", errInvalidRequest)
	}

	switch req.Type {
	case enclaveapi.RequestTypeBindAsset:
		return func(s *core.AuctionState) ([]core.Intent, error) {
			return s.BindAsset(call, req.AssetID)
		}, nil

	case enclaveapi.RequestTypeStart:
		if req.Transfer == nil {
			return nil, fmt.Errorf("%w: start requires an asset transfer", errInvalidRequest)
		}
		var reserve core.Amount
		if req.ReservePrice != nil {
			amount, err := toAmount("reserve_price", *req.ReservePrice)
			if err != nil {
				return nil, err
			}
			reserve = amount
		}
		transfer := req.Transfer.ToCore()
		return func(s *core.AuctionState) ([]core.Intent, error) {
			return s.Start(call, req.Duration, reserve, transfer)
		}, nil

	case enclaveapi.RequestTypeOptIn:
		return func(s *core.AuctionState) ([]core.Intent, error) {
			return s.OptIn(call)
		}, nil

	case enclaveapi.RequestTypeBid:
		if req.Payment == nil {
			return nil, fmt.Errorf("%w: bid requires a payment", errInvalidRequest)
		}
		payment, err := req.Payment.ToCore()
		if err != nil {
			return nil, amountError("payment.amount", err)
		}
		return func(s *core.AuctionState) ([]core.Intent, error) {
			if requireOptIn && s.PhaseAt(call.Now) == core.PhaseRunning {
				if _, ok := s.Claimable[call.Caller]; !ok {
					return nil, fmt.Errorf("%w: %s", ErrNotOptedIn, call.Caller)
				}
			}
			return s.Bid(call, payment)
		}, nil

	case enclaveapi.RequestTypeClaim:
		return func(s *core.AuctionState) ([]core.Intent, error) {
			return s.Claim(call)
		}, nil

	case enclaveapi.RequestTypeSettleAsset:
		return func(s *core.AuctionState) ([]core.Intent, error) {
			return s.SettleAsset(call, req.AssetID)
		}, nil

	case enclaveapi.RequestTypeTeardown:
		return func(s *core.AuctionState) ([]core.Intent, error) {
			return s.Teardown(call)
		}, nil

	default:
		return nil, fmt.Errorf("%w: unknown request type %q", errInvalidRequest, req.Type)
	}
}

func failureResponse(req enclaveapi.AuctionRequest, err error, startTime time.Time) enclaveapi.AuctionResponse {
	return enclaveapi.AuctionResponse{
		Type:           enclaveapi.ResponseTypeAuction,
		RequestID:      req.RequestID,
		Success:        false,
		Message:        err.Error(),
		ErrorCode:      errorCode(err),
		ProcessingTime: time.Since(startTime).Milliseconds(),
	}
}

// ProcessAuctionRequest runs one status query or auction operation. A successful
// response means the state change and its intents are durably committed.
func ProcessAuctionRequest(ctx context.Context, svc *AuctionService, req enclaveapi.AuctionRequest) enclaveapi.AuctionResponse {
	startTime := time.Now()
	now := svc.now(req)

	if req.Type == enclaveapi.RequestTypeStatus {
		return enclaveapi.AuctionResponse{
			Type:           enclaveapi.ResponseTypeAuction,
			RequestID:      req.RequestID,
			Success:        true,
			Message:        "ok",
			State:          enclaveapi.NewAuctionStateView(svc.Host.Snapshot(), now),
			ProcessingTime: time.Since(startTime).Milliseconds(),
		}
	}

	call := core.Call{Caller: req.Caller, Now: now}
	op, err := buildOperation(req, call, svc.RequireOptIn)
	if err != nil {
		log.Printf("INFO: Rejected %s request %s: %v", req.Type, req.RequestID, err)
		return failureResponse(req, err, startTime)
	}

	if !svc.Replay.Consume(req.RequestID) {
		err := fmt.Errorf("%w: %s", errDuplicateRequest, req.RequestID)
		log.Printf("INFO: Rejected %s request: %v", req.Type, err)
		return failureResponse(req, err, startTime)
	}

	outcome, err := svc.Host.Apply(ctx, req.RequestID, op)
	if err != nil {
		// nothing was committed, so the same request may be retried
		svc.Replay.Release(req.RequestID)
		if errorCode(err) == "internal_error" {
			log.Printf("ERROR: %s request %s failed: %v", req.Type, req.RequestID, err)
		} else {
			log.Printf("INFO: %s request %s rejected by %s: %v", req.Type, req.RequestID, req.Caller, err)
		}
		return failureResponse(req, err, startTime)
	}

	intents := make([]core.Intent, len(outcome.Intents))
	wire := make([]enclaveapi.TransferIntent, len(outcome.Intents))
	for i, p := range outcome.Intents {
		intents[i] = p.Intent
		wire[i] = enclaveapi.NewTransferIntent(p.ID.String(), p.Sequence, p.Intent)
	}

	response := enclaveapi.AuctionResponse{
		Type:      enclaveapi.ResponseTypeAuction,
		RequestID: req.RequestID,
		Success:   true,
		Message:   fmt.Sprintf("%s committed with %d intents", req.Type, len(intents)),
		Intents:   wire,
		State:     enclaveapi.NewAuctionStateView(outcome.State, now),
	}

	if isAttestedOperation(req.Type) && svc.Attester != nil {
		attestation, err := GenerateSettlementAttestation(svc.Attester, req.Type, outcome.State, intents)
		if err != nil {
			// the operation is already committed; only the proof is missing
			log.Printf("WARNING: %s committed without attestation: %v", req.Type, err)
			response.Message += " (attestation unavailable)"
		} else {
			response.AttestationCOSEBase64 = attestation.EncodeBase64()
		}
	}

	response.ProcessingTime = time.Since(startTime).Milliseconds()
	log.Printf("INFO: %s request %s by %s committed: phase=%s high_bid=%s intents=%d, processing=%dms",
		req.Type, req.RequestID, req.Caller, outcome.State.PhaseAt(now), core.FormatAmount(outcome.State.HighBid),
		len(intents), response.ProcessingTime)

	return response
}
