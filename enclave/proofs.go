package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	enclave "github.com/edgebitio/nitro-enclaves-sdk-go"

	"github.com/cloudx-io/escrowauction/core"
	"github.com/cloudx-io/escrowauction/enclaveapi"
)

// EnclaveAttester interface for dependency injection and testing
type EnclaveAttester interface {
	Attest(options enclave.AttestationOptions) ([]byte, error)
}

// getEnclaveAttester returns the NSM handle, or an error outside a Nitro enclave
func getEnclaveAttester() (EnclaveAttester, error) {
	handle, err := enclave.GetOrInitializeHandle()
	if err != nil {
		return nil, fmt.Errorf("NSM not available: %w", err)
	}
	return handle, nil
}

// generateSecureRandomBytes reads from crypto/rand, which inside an enclave is
// backed by the NSM-seeded kernel entropy pool.
func generateSecureRandomBytes(length int) ([]byte, error) {
	randomBytes := make([]byte, length)
	if _, err := rand.Read(randomBytes); err != nil {
		return nil, fmt.Errorf("entropy generation failed: %w", err)
	}
	return randomBytes, nil
}

func generateNonce() (string, error) {
	randomBytes, err := generateSecureRandomBytes(32) // 256 bits of entropy
	if err != nil {
		return "", fmt.Errorf("failed to generate secure nonce - %w", err)
	}
	return hex.EncodeToString(randomBytes), nil
}

// NewSettlementUserData summarizes a committed settle_asset or teardown for attestation
func NewSettlementUserData(operation string, state *core.AuctionState, intents []core.Intent, now time.Time) *enclaveapi.SettlementAttestationUserData {
	return &enclaveapi.SettlementAttestationUserData{
		AuctionApp:  state.Application,
		Operation:   operation,
		Winner:      state.HighBidder,
		AssetID:     state.AssetID,
		AssetAmount: state.AssetAmount,
		HighBid:     state.HighBid,
		EndTime:     state.EndTime,
		StateHash:   core.ComputeStateHash(state),
		IntentsHash: core.ComputeIntentsHash(intents),
		Timestamp:   now.UTC(),
	}
}

// GenerateSettlementAttestation binds the post-operation state and the intents it
// produced to the enclave measurements.
func GenerateSettlementAttestation(attester EnclaveAttester, operation string, state *core.AuctionState, intents []core.Intent) (enclaveapi.AttestationCOSE, error) {
	if attester == nil {
		return nil, fmt.Errorf("enclave attester is nil")
	}

	userData := NewSettlementUserData(operation, state, intents, time.Now())
	userDataBytes, err := json.Marshal(userData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal user data: %w", err)
	}

	randomNonce, err := generateNonce()
	if err != nil {
		return nil, fmt.Errorf("failed to generate attestation nonce: %w", err)
	}

	attestationCBOR, err := attester.Attest(enclave.AttestationOptions{
		UserData: userDataBytes,
		Nonce:    []byte(randomNonce),
	})
	if err != nil {
		log.Printf("ERROR: NSM attestation failed: %v", err)
		return nil, fmt.Errorf("NSM attestation failed: %w", err)
	}

	log.Printf("INFO: Settlement attestation generated for %s: %d bytes", operation, len(attestationCBOR))

	return enclaveapi.AttestationCOSE(attestationCBOR), nil
}
