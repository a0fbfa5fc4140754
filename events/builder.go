package events

import (
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"golang.org/x/xerrors"
)

// NewEnvelope builds and signs an envelope carrying the given payload
// in the kind range of workflowType. This is the only way locally
// originated events are produced, so everything that leaves this
// process is well-formed by construction.
func NewEnvelope(p Payload, workflowType string, priv *btcec.PrivateKey, at time.Time) (*Envelope, error) {
	if err := p.validate(); err != nil {
		return nil, xerrors.Errorf("refusing to sign invalid payload: %w", err)
	}
	kind, ok := MakeKind(workflowType, p.Op())
	if !ok {
		return nil, xerrors.Errorf("no kind for workflow type %q op %s", workflowType, p.Op())
	}
	content, err := json.Marshal(p)
	if err != nil {
		return nil, xerrors.Errorf("encoding payload: %w", err)
	}

	e := &Envelope{
		CreatedAt: at.Unix(),
		Kind:      kind,
		Tags:      [][]string{{"d", p.Workflow()}},
		Content:   string(content),
	}
	if err := e.Sign(priv); err != nil {
		return nil, err
	}
	return e, nil
}

// PubKeyHex returns the x-only hex encoding of a private key's public
// key, the form used in the signerKey position of every envelope.
func PubKeyHex(priv *btcec.PrivateKey) string {
	return hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey()))
}

// ParsePrivateKey decodes a 32-byte hex secret key.
func ParsePrivateKey(s string) (*btcec.PrivateKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, xerrors.Errorf("decoding private key hex: %w", err)
	}
	if len(b) != 32 {
		return nil, xerrors.Errorf("private key must be 32 bytes, got %d", len(b))
	}
	priv, _ := btcec.PrivKeyFromBytes(b)
	return priv, nil
}
