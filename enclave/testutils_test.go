package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	enclave "github.com/edgebitio/nitro-enclaves-sdk-go"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/peterldowns/testy/assert"

	"github.com/cloudx-io/escrowauction/core"
	"github.com/cloudx-io/escrowauction/enclaveapi"
	"github.com/cloudx-io/escrowauction/enclaveapi/parsing"
	"github.com/cloudx-io/escrowauction/store"
	"github.com/cloudx-io/escrowauction/store/cborstore"
)

const (
	testOperator    core.Account = "OPERATOR"
	testApplication core.Account = "APP"
	testAsset       core.AssetID = 77
)

// MockEnclaveHandle implements the Attest method for testing
type MockEnclaveHandle struct {
	AttestFunc func(options enclave.AttestationOptions) ([]byte, error)
}

func (m *MockEnclaveHandle) Attest(options enclave.AttestationOptions) ([]byte, error) {
	if m.AttestFunc != nil {
		return m.AttestFunc(options)
	}
	return nil, fmt.Errorf("mock not configured")
}

// mustDecodeHex decodes hex strings to raw PCR bytes for testing
func mustDecodeHex(t *testing.T, hexStr string) []byte {
	t.Helper()
	bytes, err := hex.DecodeString(hexStr)
	if err != nil {
		panic(fmt.Sprintf("invalid hex string: %s", hexStr))
	}
	return bytes
}

// CreateMockEnclave creates a mock enclave handle for testing with realistic attestation data
func CreateMockEnclave(t *testing.T) *MockEnclaveHandle {
	t.Helper()
	return &MockEnclaveHandle{
		AttestFunc: func(options enclave.AttestationOptions) ([]byte, error) {
			nestedDoc := map[string]any{
				"module_id": "test-enclave-12345",
				"digest":    "SHA384",
				"timestamp": uint64(1234567890),
				"pcrs": map[uint64][]byte{
					0: mustDecodeHex(t, "3b4cef27e672fdbcc808960a88ddfe7329dd2e367b6850c9a8d910315f0b47e4224d6db361b75e010c87691d86ca9c57"),
					1: mustDecodeHex(t, "4b4d5b3661b3efc12920900c80e126e4ce783c522de6c02a2a5bf7af3a2b9327b86776f188e4be1c1c404a129dbda493"),
					2: mustDecodeHex(t, "2bdd28c1d85bb3872da3617a29a6bfeb50c65750c995f92e7dac6b5f2c4c72e0f9976bdee62a0b25864d10dffb535e11"),
				},
				"certificate": []byte("test-certificate-data"),
				"cabundle":    [][]byte{[]byte("test-ca-cert")},
				"public_key":  []byte("test-public-key-data"),
				"user_data":   options.UserData,
				"nonce":       options.Nonce,
			}

			nestedBytes, _ := cbor.Marshal(nestedDoc)

			// AWS Nitro 4-element array format: [header, metadata, nested_doc, signature]
			result := []any{
				[]byte{0x01, 0x02, 0x03},
				map[string]any{},
				nestedBytes,
				[]byte{0x04, 0x05, 0x06},
			}

			return cbor.Marshal(result)
		},
	}
}

// parseSettlementAttestationFromResponse decodes the attestation carried by a response
func parseSettlementAttestationFromResponse(t *testing.T, response enclaveapi.AuctionResponse) *enclaveapi.SettlementAttestationDoc {
	t.Helper()
	if response.AttestationCOSEBase64 == "" {
		return nil
	}

	coseBytes, err := response.AttestationCOSEBase64.Decode()
	assert.NoError(t, err)

	doc, err := parsing.ParseSettlementAttestation(coseBytes)
	assert.NoError(t, err)
	return doc
}

// failingStore wraps a store and fails commits while failCommit is set
type failingStore struct {
	store.Store
	failCommit bool
}

var errInjected = errors.New("injected store failure")

func (f *failingStore) Commit(ctx context.Context, requestID string, state *core.AuctionState, intents []core.Intent) ([]store.PendingIntent, error) {
	if f.failCommit {
		return nil, errInjected
	}
	return f.Store.Commit(ctx, requestID, state, intents)
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := cborstore.Open(filepath.Join(t.TempDir(), "auction.cbor"))
	assert.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newTestService(t *testing.T, st store.Store) *AuctionService {
	t.Helper()
	host, err := NewHost(context.Background(), st, testOperator, testApplication)
	assert.NoError(t, err)
	return &AuctionService{
		Host:     host,
		Replay:   NewReplayGuard(time.Minute),
		Attester: CreateMockEnclave(t),
		Clock:    func() time.Time { return time.Unix(1_000, 0) },
	}
}

func newRequest(requestType string, caller core.Account, now core.Timestamp) enclaveapi.AuctionRequest {
	return enclaveapi.AuctionRequest{
		Type:            requestType,
		RequestID:       uuid.NewString(),
		Caller:          caller,
		LatestTimestamp: now,
	}
}
