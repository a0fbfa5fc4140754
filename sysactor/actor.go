package sysactor

import (
	"context"

	"github.com/btcsuite/btcd/btcec/v2"
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"

	"github.com/satwork/satwork/build"
	"github.com/satwork/satwork/events"
	"github.com/satwork/satwork/payout"
	"github.com/satwork/satwork/workflow"
)

var log = logging.Logger("sysactor")

// Publisher sends a signed envelope out to the relay network.
type Publisher interface {
	Publish(ctx context.Context, env *events.Envelope) error
}

// Sink feeds a locally originated envelope into the same sequential
// apply path that relay events take, and reports when that path has
// finished replaying history. The optimistic local write means state
// reflects the event before any relay round-trip.
type Sink interface {
	Inject(env *events.Envelope)
	Ready() <-chan struct{}
}

// Actor is the designated system signer. It is the only identity
// authorized to emit privileged transition events: funding
// confirmations and completion records with payout proofs.
type Actor struct {
	priv  *btcec.PrivateKey
	wtype workflow.Type

	publisher Publisher
	sink      Sink
	coord     *payout.Coordinator

	// OnResult, when set, receives every payout batch outcome so a
	// presentation layer can surface partial failures to the owner.
	OnResult func(*payout.Result)
}

func New(priv *btcec.PrivateKey, wtype workflow.Type, publisher Publisher, sink Sink, coord *payout.Coordinator) *Actor {
	return &Actor{
		priv:      priv,
		wtype:     wtype,
		publisher: publisher,
		sink:      sink,
		coord:     coord,
	}
}

// PubKey returns the system signer's public key in wire form.
func (a *Actor) PubKey() string { return events.PubKeyHex(a.priv) }

// HandleChange is subscribed to the store. It must not block the
// apply path, so payout work runs on its own goroutine and its
// results rejoin the store through the sink.
func (a *Actor) HandleChange(ctx context.Context, ch workflow.Change) {
	if ch.Kind != workflow.ChangeUnitAccepted {
		return
	}
	// A restart replays the whole event log into a fresh store, so
	// every historical acceptance fires a change again. Those were
	// paid in an earlier process lifetime; only acceptances that
	// arrive after replay finishes trigger real money movement.
	if !a.replayDone() {
		log.Debugf("ignoring replayed acceptance of unit %s on workflow %s", ch.UnitID, ch.WorkflowID)
		return
	}
	go a.releaseUnit(ctx, ch)
}

func (a *Actor) replayDone() bool {
	if a.sink == nil {
		return true
	}
	select {
	case <-a.sink.Ready():
		return true
	default:
		return false
	}
}

func (a *Actor) releaseUnit(ctx context.Context, ch workflow.Change) {
	claims := claimsFor(ch.Workflow, ch.UnitID)
	if len(claims) == 0 {
		log.Warnf("unit %s of workflow %s accepted but no payable claims found", ch.UnitID, ch.WorkflowID)
		return
	}
	claims = unprovenClaims(ch.Workflow, claims)
	if len(claims) == 0 {
		log.Debugf("every claim on unit %s of workflow %s already has a recorded payout proof", ch.UnitID, ch.WorkflowID)
		return
	}

	res := a.coord.PayAll(ctx, ch.WorkflowID, claims)
	if a.OnResult != nil {
		a.OnResult(res)
	}
	if !res.Success() {
		// Nothing was paid; nothing to prove. The owner retries
		// payouts manually once the rail recovers.
		return
	}

	if !shouldComplete(ch.Workflow, ch.UnitID) {
		return
	}
	if err := a.EmitComplete(ctx, ch.WorkflowID, res.Proofs); err != nil {
		log.Errorf("emitting completion for workflow %s: %s", ch.WorkflowID, err)
	}
}

// ConfirmFunding emits the system-signed funding confirmation for a
// unit, correlated to the payment by its hash. The invoicer calls
// this when the payment provider reports a completed payment.
func (a *Actor) ConfirmFunding(ctx context.Context, workflowID, unitID, escrowTxID, paymentHash string, amountSats int64) error {
	p := &events.FundedPayload{
		WorkflowID:  workflowID,
		UnitID:      unitID,
		EscrowTxID:  escrowTxID,
		PaymentHash: paymentHash,
		AmountSats:  amountSats,
	}
	return a.emit(ctx, p)
}

// EmitComplete publishes the completion record proving which payees
// were paid. Partial payout failure does not block this; the proofs
// list simply carries the subset that succeeded.
func (a *Actor) EmitComplete(ctx context.Context, workflowID string, proofs []events.PayoutProof) error {
	p := &events.CompletePayload{WorkflowID: workflowID, Proofs: proofs}
	return a.emit(ctx, p)
}

func (a *Actor) emit(ctx context.Context, p events.Payload) error {
	env, err := events.NewEnvelope(p, string(a.wtype), a.priv, build.Clock.Now())
	if err != nil {
		return xerrors.Errorf("building %s envelope: %w", p.Op(), err)
	}

	// Apply locally first so state converges even if every relay
	// publish fails; the event replays idempotently when a relay
	// eventually delivers it back.
	if a.sink != nil {
		a.sink.Inject(env)
	}
	if err := a.publisher.Publish(ctx, env); err != nil {
		return xerrors.Errorf("publishing %s event for workflow %s: %w", p.Op(), p.Workflow(), err)
	}
	return nil
}

// claimsFor derives the payable claims implied by an accepted unit.
//
// Bounties pay ranked winners: selection order is rank order, and the
// declared units are the reward tiers. Gigs and grants pay the unit's
// submitter for exactly that unit.
func claimsFor(w *workflow.Workflow, unitID string) []payout.Claim {
	if w == nil {
		return nil
	}

	if w.Type == workflow.TypeBounty {
		var claims []payout.Claim
		for i, pid := range w.SelectedParticipantIDs {
			if i >= len(w.Units) {
				break
			}
			p := w.Participant(pid)
			if p == nil || p.PayoutAddress == "" {
				log.Warnf("selected participant %s on bounty %s has no payout address", pid, w.ID)
				continue
			}
			claims = append(claims, payout.Claim{
				PayeeAddress: p.PayoutAddress,
				AmountSats:   w.Units[i].Amount,
				Rank:         i + 1,
			})
		}
		return claims
	}

	u := w.Unit(unitID)
	if u == nil {
		return nil
	}
	addr := u.SubmittedPayoutAddress
	if addr == "" {
		if p := w.ParticipantByKey(u.SubmittedBy); p != nil {
			addr = p.PayoutAddress
		}
	}
	if addr == "" {
		return nil
	}
	return []payout.Claim{{PayeeAddress: addr, AmountSats: u.Amount, Rank: 1}}
}

// unprovenClaims drops claims whose payee already appears in the
// workflow's recorded payout proofs, so a duplicate acceptance after
// completion never pays twice.
func unprovenClaims(w *workflow.Workflow, claims []payout.Claim) []payout.Claim {
	if w == nil || len(w.PayoutProofs) == 0 {
		return claims
	}
	proven := make(map[string]struct{}, len(w.PayoutProofs))
	for _, pr := range w.PayoutProofs {
		proven[pr.Payee] = struct{}{}
	}
	var out []payout.Claim
	for _, c := range claims {
		if _, ok := proven[c.PayeeAddress]; !ok {
			out = append(out, c)
		}
	}
	return out
}

// shouldComplete reports whether the accepted unit was the last one,
// meaning the completion record should go out now.
func shouldComplete(w *workflow.Workflow, unitID string) bool {
	if w == nil {
		return false
	}
	if w.Type == workflow.TypeBounty {
		return true
	}
	for _, u := range w.Units {
		if u.Status != workflow.UnitAccepted {
			return false
		}
	}
	return true
}
