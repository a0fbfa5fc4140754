package events

import (
	"golang.org/x/xerrors"
)

// Validate checks the structural envelope requirements: required
// fields present, a known kind, and content that decodes into the
// shape declared by the kind. It returns the decoded payload so the
// router does not parse twice.
//
// Validate assumes the signature was already verified at ingress; it
// never re-checks it.
func Validate(e *Envelope) (Payload, error) {
	if e == nil {
		return nil, xerrors.Errorf("nil envelope: %w", ErrMalformed)
	}
	if e.ID == "" {
		return nil, xerrors.Errorf("envelope missing id: %w", ErrMalformed)
	}
	if e.PubKey == "" {
		return nil, xerrors.Errorf("envelope %s missing pubkey: %w", e.ID, ErrMalformed)
	}
	if e.CreatedAt <= 0 {
		return nil, xerrors.Errorf("envelope %s has invalid created_at %d: %w", e.ID, e.CreatedAt, ErrMalformed)
	}
	if e.Content == "" {
		return nil, xerrors.Errorf("envelope %s has empty content: %w", e.ID, ErrMalformed)
	}
	return DecodePayload(e)
}
