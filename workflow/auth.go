package workflow

import (
	"golang.org/x/xerrors"

	"github.com/satwork/satwork/events"
)

// ErrUnauthorized tags signer mismatches. Unauthorized events are
// dropped, never fatal.
var ErrUnauthorized = xerrors.New("unauthorized event")

// authorize checks that the envelope's signer is entitled to emit the
// given payload. The rule table is keyed by the payload's declared
// actor field:
//
//   - creation: signer must be the embedded owner key
//   - apply/submit: signer must be the embedded participant key
//   - funded/complete: signer must be the designated system signer
//   - select/approve/reject/cancel: signer must be the embedded owner
//     key; the router additionally cross-checks it against the stored
//     record's owner when one exists
//
// Anything else fails closed.
func authorize(systemKey string, env *events.Envelope, p events.Payload) error {
	claim := func(want, role string) error {
		if env.PubKey != want {
			return xerrors.Errorf("event %s: signer %s is not the %s %s: %w",
				env.ID, env.PubKey, role, want, ErrUnauthorized)
		}
		return nil
	}

	switch p := p.(type) {
	case *events.CreatePayload:
		return claim(p.OwnerKey, "owner")
	case *events.ApplyPayload:
		return claim(p.ParticipantKey, "participant")
	case *events.SubmitPayload:
		return claim(p.ParticipantKey, "participant")
	case *events.FundedPayload:
		return claim(systemKey, "system signer")
	case *events.CompletePayload:
		return claim(systemKey, "system signer")
	case *events.SelectPayload:
		return claim(p.OwnerKey, "owner")
	case *events.ApprovePayload:
		return claim(p.OwnerKey, "owner")
	case *events.RejectPayload:
		return claim(p.OwnerKey, "owner")
	case *events.CancelPayload:
		return claim(p.OwnerKey, "owner")
	default:
		return xerrors.Errorf("event %s: no authorization rule for payload %T: %w", env.ID, p, ErrUnauthorized)
	}
}

// checkOwner cross-checks an owner-signed event against the record it
// targets. Placeholders have no trustworthy owner yet, so they are
// exempt; hydration will settle the question.
func checkOwner(w *Workflow, env *events.Envelope) error {
	if w.IsPlaceholder() {
		return nil
	}
	if w.OwnerKey != env.PubKey {
		return xerrors.Errorf("event %s: signer %s does not own workflow %s: %w",
			env.ID, env.PubKey, w.ID, ErrUnauthorized)
	}
	return nil
}
