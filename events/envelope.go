package events

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"golang.org/x/xerrors"
)

// Envelope is the wire representation of a signed domain event as it
// travels through the relay network. Envelopes are immutable inputs;
// nothing downstream ever mutates one.
type Envelope struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      Kind       `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// serialize produces the canonical form the event id commits to:
// a JSON array of [0, pubkey, created_at, kind, tags, content].
func (e *Envelope) serialize() ([]byte, error) {
	tags := e.Tags
	if tags == nil {
		tags = [][]string{}
	}
	return json.Marshal([]interface{}{
		0,
		e.PubKey,
		e.CreatedAt,
		int(e.Kind),
		tags,
		e.Content,
	})
}

// ComputeID returns the hex sha256 of the canonical serialization.
func (e *Envelope) ComputeID() (string, error) {
	b, err := e.serialize()
	if err != nil {
		return "", xerrors.Errorf("serializing envelope: %w", err)
	}
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:]), nil
}

// Sign fills in ID, PubKey and Sig from the given private key.
func (e *Envelope) Sign(priv *btcec.PrivateKey) error {
	e.PubKey = hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey()))

	id, err := e.ComputeID()
	if err != nil {
		return err
	}
	e.ID = id

	digest, err := hex.DecodeString(id)
	if err != nil {
		return xerrors.Errorf("decoding event id: %w", err)
	}
	sig, err := schnorr.Sign(priv, digest)
	if err != nil {
		return xerrors.Errorf("signing event: %w", err)
	}
	e.Sig = hex.EncodeToString(sig.Serialize())
	return nil
}

// VerifySignature checks that the envelope id matches its contents
// and that the signature verifies against the embedded pubkey. Events
// failing this check never reach the validator.
func (e *Envelope) VerifySignature() error {
	id, err := e.ComputeID()
	if err != nil {
		return err
	}
	if id != e.ID {
		return xerrors.Errorf("event id mismatch: declared %s, computed %s", e.ID, id)
	}

	pkb, err := hex.DecodeString(e.PubKey)
	if err != nil {
		return xerrors.Errorf("decoding pubkey: %w", err)
	}
	pub, err := schnorr.ParsePubKey(pkb)
	if err != nil {
		return xerrors.Errorf("parsing pubkey: %w", err)
	}

	sigb, err := hex.DecodeString(e.Sig)
	if err != nil {
		return xerrors.Errorf("decoding signature: %w", err)
	}
	sig, err := schnorr.ParseSignature(sigb)
	if err != nil {
		return xerrors.Errorf("parsing signature: %w", err)
	}

	digest, err := hex.DecodeString(id)
	if err != nil {
		return xerrors.Errorf("decoding event id: %w", err)
	}
	if !sig.Verify(digest, pub) {
		return xerrors.Errorf("invalid signature on event %s", e.ID)
	}
	return nil
}
