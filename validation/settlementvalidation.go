package validation

import (
	"fmt"
	"sort"

	"github.com/cloudx-io/escrowauction/core"
	"github.com/cloudx-io/escrowauction/enclaveapi"
	"github.com/cloudx-io/escrowauction/enclaveapi/parsing"
)

// SettlementValidationInput is what a participant holds after a settle_asset or
// teardown response: the attestation, the state view and the intents it returned.
type SettlementValidationInput struct {
	AttestationCOSEBase64 enclaveapi.AttestationCOSEBase64
	Operation             string
	State                 *enclaveapi.AuctionStateView
	Intents               []enclaveapi.TransferIntent
	PCRConfigPath         string // empty means DefaultPCRConfigPath()
}

// NewSettlementValidationInput collects the validation input from an enclave response
func NewSettlementValidationInput(operation string, resp *enclaveapi.AuctionResponse) (*SettlementValidationInput, error) {
	if resp.AttestationCOSEBase64 == "" {
		return nil, fmt.Errorf("response carries no attestation")
	}
	if resp.State == nil {
		return nil, fmt.Errorf("response carries no state")
	}
	return &SettlementValidationInput{
		AttestationCOSEBase64: resp.AttestationCOSEBase64,
		Operation:             operation,
		State:                 resp.State,
		Intents:               resp.Intents,
	}, nil
}

// ValidateSettlementAttestation validates a settlement attestation and verifies:
// - the attested operation is the expected one
// - the state view hashes to the attested state hash
// - the intents hash to the attested intents hash
// - winner, high bid and asset match the state view
// - the intents deliver the asset (settle_asset) or close out to the operator (teardown)
//
// Returns:
//   - SettlementValidationResult with detailed results (call result.IsValid() to check overall status)
//   - error if validation cannot be performed (e.g., malformed input, missing config)
func ValidateSettlementAttestation(input *SettlementValidationInput) (*SettlementValidationResult, error) {
	if input.State == nil {
		return nil, fmt.Errorf("state view is required")
	}

	state, err := input.State.ToCore()
	if err != nil {
		return nil, fmt.Errorf("convert state view: %w", err)
	}
	intents, err := intentsInSequence(input.Intents)
	if err != nil {
		return nil, fmt.Errorf("convert intents: %w", err)
	}

	coseBytes, err := input.AttestationCOSEBase64.Decode()
	if err != nil {
		return nil, fmt.Errorf("decode COSE bytes: %w", err)
	}

	pcrConfigPath := input.PCRConfigPath
	if pcrConfigPath == "" {
		pcrConfigPath = DefaultPCRConfigPath()
	}
	baseResult, err := validateCommonAttestation(coseBytes, pcrConfigPath)
	if err != nil {
		return nil, err
	}

	attestation, err := parsing.ParseSettlementAttestation(coseBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse settlement attestation: %w", err)
	}

	result := &SettlementValidationResult{
		BaseValidationResult: *baseResult,
	}

	userData := attestation.UserData
	if userData == nil {
		result.ValidationDetails = append(result.ValidationDetails, "Attestation user data missing")
		return result, nil
	}

	result.OperationValid = validateOperation(input.Operation, userData, result)
	result.StateHashValid = validateStateHash(input.State, state, userData, result)
	result.IntentsHashValid = validateIntentsHash(intents, userData, result)
	result.WinnerValid = validateWinner(state, userData, result)
	result.AssetValid = validateAsset(state, userData, result)
	result.DeliveryValid = validateDelivery(input.Operation, state, intents, result)

	return result, nil
}

func intentsInSequence(wire []enclaveapi.TransferIntent) ([]core.Intent, error) {
	sorted := make([]enclaveapi.TransferIntent, len(wire))
	copy(sorted, wire)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Sequence < sorted[j].Sequence })

	intents := make([]core.Intent, len(sorted))
	for i, w := range sorted {
		intent, err := w.ToCore()
		if err != nil {
			return nil, fmt.Errorf("intent %s: %w", w.ID, err)
		}
		intents[i] = intent
	}
	return intents, nil
}

func validateOperation(expected string, userData *enclaveapi.SettlementAttestationUserData, result *SettlementValidationResult) bool {
	if expected == userData.Operation {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Operation validation passed: %s", expected))
		return true
	}
	result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Operation mismatch: expected %s, attestation has %s", expected, userData.Operation))
	return false
}

func validateStateHash(view *enclaveapi.AuctionStateView, state *core.AuctionState, userData *enclaveapi.SettlementAttestationUserData, result *SettlementValidationResult) bool {
	computed := core.ComputeStateHash(state)
	if computed != view.StateHash {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("State view is inconsistent: computed %s, view reports %s", computed, view.StateHash))
		return false
	}
	if computed != userData.StateHash {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("State hash mismatch: computed %s, attestation has %s", computed, userData.StateHash))
		return false
	}
	result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("State hash validation passed: %s", computed))
	return true
}

func validateIntentsHash(intents []core.Intent, userData *enclaveapi.SettlementAttestationUserData, result *SettlementValidationResult) bool {
	computed := core.ComputeIntentsHash(intents)
	if computed == userData.IntentsHash {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Intents hash validation passed: %d intents", len(intents)))
		return true
	}
	result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Intents hash mismatch: computed %s, attestation has %s", computed, userData.IntentsHash))
	return false
}

func validateWinner(state *core.AuctionState, userData *enclaveapi.SettlementAttestationUserData, result *SettlementValidationResult) bool {
	if state.HighBidder != userData.Winner {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Winner mismatch: state has %q, attestation has %q", state.HighBidder, userData.Winner))
		return false
	}
	if state.HighBid != userData.HighBid {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("High bid mismatch: state has %s, attestation has %s",
			core.FormatAmount(state.HighBid), core.FormatAmount(userData.HighBid)))
		return false
	}
	if userData.Winner == "" {
		result.ValidationDetails = append(result.ValidationDetails, "Winner validation passed: no bids were accepted")
	} else {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Winner validation passed: %s at %s", userData.Winner, core.FormatAmount(userData.HighBid)))
	}
	return true
}

func validateAsset(state *core.AuctionState, userData *enclaveapi.SettlementAttestationUserData, result *SettlementValidationResult) bool {
	if state.AssetID != userData.AssetID || state.AssetAmount != userData.AssetAmount {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Asset mismatch: state has %d x asset %d, attestation has %d x asset %d",
			state.AssetAmount, state.AssetID, userData.AssetAmount, userData.AssetID))
		return false
	}
	if state.EndTime != userData.EndTime {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("End time mismatch: state has %d, attestation has %d", state.EndTime, userData.EndTime))
		return false
	}
	result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Asset validation passed: %d x asset %d", state.AssetAmount, state.AssetID))
	return true
}

func validateDelivery(operation string, state *core.AuctionState, intents []core.Intent, result *SettlementValidationResult) bool {
	switch operation {
	case enclaveapi.RequestTypeSettleAsset:
		recipient := state.HighBidder
		if recipient == "" {
			recipient = state.Operator
		}
		want := core.TransferAsset(recipient, state.AssetID, state.AssetAmount, recipient)
		if len(intents) == 1 && intents[0] == want {
			result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Delivery validation passed: asset to %s", recipient))
			return true
		}
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Delivery mismatch: expected %s", want))
		return false

	case enclaveapi.RequestTypeTeardown:
		want := core.CloseOut(state.Operator)
		if len(intents) > 0 && intents[len(intents)-1] == want {
			for _, intent := range intents[:len(intents)-1] {
				if intent.Kind != core.IntentPay {
					result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Delivery mismatch: unexpected %s before close-out", intent))
					return false
				}
			}
			result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Delivery validation passed: %d refunds then close-out to %s", len(intents)-1, state.Operator))
			return true
		}
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Delivery mismatch: teardown must end with %s", want))
		return false

	default:
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Operation %q is not attested", operation))
		return false
	}
}
