package parsing

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/escrowauction/enclaveapi"
)

// buildMockCOSE wraps a Nitro-style attestation document in a 4-element COSE_Sign1 array
func buildMockCOSE(t *testing.T, userData []byte) []byte {
	t.Helper()
	nestedDoc := map[string]any{
		"module_id": "test-enclave-12345",
		"digest":    "SHA384",
		"timestamp": uint64(1700000000000),
		"pcrs": map[uint64][]byte{
			0: {0xaa, 0xbb},
			1: {0xcc},
			2: {0xdd},
		},
		"certificate": []byte("test-certificate-data"),
		"cabundle":    [][]byte{[]byte("test-ca-cert")},
		"public_key":  []byte("test-public-key-data"),
		"user_data":   userData,
		"nonce":       []byte("nonce-1"),
	}
	nestedBytes, err := cbor.Marshal(nestedDoc)
	assert.NoError(t, err)

	coseBytes, err := cbor.Marshal([]any{
		[]byte{0x01, 0x02, 0x03},
		map[string]any{},
		nestedBytes,
		[]byte{0x04, 0x05, 0x06},
	})
	assert.NoError(t, err)
	return coseBytes
}

func TestExtractCOSEPayload_InvalidStructure(t *testing.T) {
	short, err := cbor.Marshal([]any{[]byte{0x01}, []byte{0x02}})
	assert.NoError(t, err)
	detached, err := cbor.Marshal([]any{[]byte{0x01}, map[string]any{}, nil, []byte{0x02}})
	assert.NoError(t, err)
	wrongTag, err := cbor.Marshal(cbor.Tag{Number: 98, Content: []any{[]byte{0x01}, map[string]any{}, []byte{0x02}, []byte{0x03}}})
	assert.NoError(t, err)

	tests := map[string][]byte{
		"three elements":   short,
		"detached payload": detached,
		"wrong tag":        wrongTag,
		"not cbor":         {0xff, 0x00},
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ExtractCOSEPayload(input)
			check.True(t, errors.Is(err, ErrInvalidCOSE))
		})
	}
}

func TestExtractCOSEPayload_Tagged(t *testing.T) {
	tagged, err := cbor.Marshal(cbor.Tag{Number: coseSign1Tag, Content: []any{
		[]byte{0x01}, map[string]any{}, []byte("payload"), []byte{0x02},
	}})
	assert.NoError(t, err)

	payload, err := ExtractCOSEPayload(tagged)
	assert.NoError(t, err)
	check.Equal(t, "payload", string(payload))
}

func TestParseAttestationDoc(t *testing.T) {
	coseBytes := buildMockCOSE(t, []byte(`{"x":1}`))

	doc, userData, err := ParseAttestationDoc(coseBytes)
	assert.NoError(t, err)

	check.Equal(t, "test-enclave-12345", doc.ModuleID)
	check.Equal(t, "SHA384", doc.DigestAlgorithm)
	check.Equal(t, "aabb", doc.PCRs.ImageFileHash)
	check.Equal(t, "cc", doc.PCRs.KernelHash)
	check.Equal(t, "", doc.PCRs.SigningCertHash)
	check.Equal(t, int64(1700000000), doc.Timestamp.Unix())
	check.Equal(t, 1, len(doc.CABundle))
	check.Equal(t, "nonce-1", doc.Nonce)
	check.Equal(t, `{"x":1}`, string(userData))
}

func TestParseSettlementAttestation(t *testing.T) {
	userData := enclaveapi.SettlementAttestationUserData{
		AuctionApp:  "auction_app",
		Operation:   "settle_asset",
		Winner:      "bob",
		AssetID:     1001,
		AssetAmount: 1,
		HighBid:     200,
		StateHash:   "abc",
	}
	userDataBytes, err := json.Marshal(userData)
	assert.NoError(t, err)

	doc, err := ParseSettlementAttestation(buildMockCOSE(t, userDataBytes))
	assert.NoError(t, err)
	assert.NotNil(t, doc.UserData)

	check.Equal(t, "bob", string(doc.UserData.Winner))
	check.Equal(t, "settle_asset", doc.UserData.Operation)
	check.Equal(t, "abc", doc.UserData.StateHash)
}

func TestParseSettlementAttestation_NotCOSE(t *testing.T) {
	_, err := ParseSettlementAttestation(enclaveapi.AttestationCOSE{0x01, 0x02})
	check.True(t, errors.Is(err, ErrInvalidCOSE))
}

func TestParseSettlementAttestation_BadUserData(t *testing.T) {
	_, err := ParseSettlementAttestation(buildMockCOSE(t, []byte("not-json")))
	check.Error(t, err)
}
