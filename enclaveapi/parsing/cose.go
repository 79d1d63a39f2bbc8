package parsing

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// coseSign1Tag is the CBOR tag for COSE_Sign1 (RFC 9052). Nitro omits it.
const coseSign1Tag = 18

// ErrInvalidCOSE is returned when an attestation blob is not a usable COSE_Sign1 message
var ErrInvalidCOSE = errors.New("invalid COSE_Sign1 message")

// sign1Message is the COSE_Sign1 array: [protected, unprotected, payload, signature]
type sign1Message struct {
	_           struct{} `cbor:",toarray"`
	Protected   []byte
	Unprotected cbor.RawMessage
	Payload     []byte
	Signature   []byte
}

// ExtractCOSEPayload returns the attested payload of a COSE_Sign1 message, tagged or not.
// It does not verify the signature.
func ExtractCOSEPayload(coseBytes []byte) ([]byte, error) {
	var tagged cbor.RawTag
	if err := cbor.Unmarshal(coseBytes, &tagged); err == nil {
		if tagged.Number != coseSign1Tag {
			return nil, fmt.Errorf("%w: unexpected tag %d", ErrInvalidCOSE, tagged.Number)
		}
		coseBytes = tagged.Content
	}

	var msg sign1Message
	if err := cbor.Unmarshal(coseBytes, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCOSE, err)
	}
	if len(msg.Payload) == 0 {
		return nil, fmt.Errorf("%w: missing payload", ErrInvalidCOSE)
	}
	if len(msg.Signature) == 0 {
		return nil, fmt.Errorf("%w: missing signature", ErrInvalidCOSE)
	}

	return msg.Payload, nil
}
