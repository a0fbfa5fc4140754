package workflow

import (
	"context"

	logging "github.com/ipfs/go-log/v2"
	"go.opencensus.io/tag"
	"golang.org/x/xerrors"

	"github.com/satwork/satwork/events"
	"github.com/satwork/satwork/journal"
	"github.com/satwork/satwork/metrics"
)

var log = logging.Logger("workflow")

// Engine turns the unordered, possibly-duplicated event stream of one
// workflow type into converging entity state. One engine exists per
// workflow type; the type-specific behavior is entirely in Policy.
//
// Apply must only ever be called from a single goroutine — the loader
// funnels both the bulk load and the live subscription through one
// sequential path. The store's lock protects concurrent readers, not
// concurrent writers.
type Engine struct {
	policy    Policy
	store     *Store
	systemKey string

	j          journal.Journal
	evtApplied journal.EventType
}

func NewEngine(pol Policy, store *Store, systemKey string, j journal.Journal) *Engine {
	if j == nil {
		j = journal.NilJournal()
	}
	return &Engine{
		policy:     pol,
		store:      store,
		systemKey:  systemKey,
		j:          j,
		evtApplied: j.RegisterEventType("workflow", "applied"),
	}
}

func (e *Engine) Policy() Policy { return e.policy }
func (e *Engine) Store() *Store  { return e.store }

// Handles reports whether this engine consumes the given kind.
func (e *Engine) Handles(k events.Kind) bool { return e.policy.Handles(k) }

// QueryKinds lists the kinds the loader should fetch for this engine.
func (e *Engine) QueryKinds() []events.Kind { return e.policy.QueryKinds() }

func (e *Engine) drop(ctx context.Context, reason string) {
	metrics.Record(ctx, metrics.EventsDropped,
		tag.Upsert(metrics.WorkflowType, string(e.policy.Type)),
		tag.Upsert(metrics.DropReason, reason))
}

// Apply routes one signed envelope through validation, authorization
// and the type-specific handlers. It reports whether any entity state
// actually changed; only then is a change notification published, so
// duplicate replays cause no downstream refresh storms.
//
// Nothing here is fatal: malformed and unauthorized events return a
// tagged error for the caller's accounting and are otherwise dropped,
// and transitions outside the state machine's table are silent no-ops.
func (e *Engine) Apply(ctx context.Context, env *events.Envelope) (bool, error) {
	if env == nil || !e.policy.Handles(env.Kind) {
		return false, nil
	}

	op, _ := env.Kind.Op()
	metrics.Record(ctx, metrics.EventsProcessed,
		tag.Upsert(metrics.WorkflowType, string(e.policy.Type)),
		tag.Upsert(metrics.EventKind, op.String()))

	p, err := events.Validate(env)
	if err != nil {
		e.drop(ctx, "malformed")
		log.Debugf("dropping malformed event %s: %s", env.ID, err)
		return false, err
	}

	if err := authorize(e.systemKey, env, p); err != nil {
		e.drop(ctx, "unauthorized")
		log.Debugf("dropping unauthorized event %s: %s", env.ID, err)
		return false, err
	}

	e.store.lk.Lock()
	changed, chKind, unitID, err := e.dispatch(ctx, env, p)
	var snapshot *Workflow
	var promoted []string
	if err == nil {
		if w, ok := e.store.live(p.Workflow()); ok {
			settled, accepted := settle(e.policy, w)
			changed = changed || settled
			promoted = accepted
			if changed {
				if env.CreatedAt > w.UpdatedAt {
					w.UpdatedAt = env.CreatedAt
				}
				snapshot = w.Clone()
			}
		}
	}
	e.store.lk.Unlock()

	if err != nil {
		reason := "unauthorized"
		if xerrors.Is(err, events.ErrMalformed) {
			reason = "malformed"
		}
		e.drop(ctx, reason)
		log.Debugf("dropping event %s: %s", env.ID, err)
		return false, err
	}
	if !changed {
		return false, nil
	}

	metrics.Record(ctx, metrics.EventsApplied,
		tag.Upsert(metrics.WorkflowType, string(e.policy.Type)),
		tag.Upsert(metrics.EventKind, op.String()))

	journal.MaybeAddEntry(e.j, e.evtApplied, func() interface{} {
		return appliedEntry{
			WorkflowType: string(e.policy.Type),
			WorkflowID:   p.Workflow(),
			EventID:      env.ID,
			Op:           op.String(),
			Change:       string(chKind),
		}
	})

	e.store.publishSnapshot(chKind, snapshot, unitID)

	// Memoized approvals settled by this event publish their own
	// acceptance changes; the payout path keys off those.
	for _, uid := range promoted {
		if chKind == ChangeUnitAccepted && uid == unitID {
			continue
		}
		e.store.publishSnapshot(ChangeUnitAccepted, snapshot.Clone(), uid)
	}
	return true, nil
}

type appliedEntry struct {
	WorkflowType string
	WorkflowID   string
	EventID      string
	Op           string
	Change       string
}

// ensureWorkflow returns the live record for the event's workflow,
// synthesizing a placeholder when a dependent event outran creation.
func (e *Engine) ensureWorkflow(ctx context.Context, env *events.Envelope, id string) (*Workflow, bool) {
	if w, ok := e.store.live(id); ok {
		return w, false
	}
	op, _ := env.Kind.Op()
	w := newPlaceholder(e.policy.Type, id, env.CreatedAt)
	w.Status = impliedStatus(op)
	e.store.put(w)

	metrics.Record(ctx, metrics.PlaceholdersCreated,
		tag.Upsert(metrics.WorkflowType, string(e.policy.Type)))
	log.Debugf("synthesized placeholder for workflow %s from %s event %s", id, op, env.ID)
	return w, true
}

// dispatch applies the payload to the store. It runs under the store's
// write lock on the single-writer path. The returned error is only
// ever an authorization cross-check failure; every invalid transition
// is a silent no-op.
func (e *Engine) dispatch(ctx context.Context, env *events.Envelope, p events.Payload) (bool, ChangeKind, string, error) {
	switch p := p.(type) {
	case *events.CreatePayload:
		return e.handleCreate(env, p)

	case *events.ApplyPayload:
		w, created := e.ensureWorkflow(ctx, env, p.WorkflowID)
		changed := handleApply(w, p, env)
		return changed || created, ChangeParticipant, "", nil

	case *events.SelectPayload:
		w, created := e.ensureWorkflow(ctx, env, p.WorkflowID)
		if err := checkOwner(w, env); err != nil {
			return created, ChangeSelected, "", err
		}
		changed := e.handleSelect(w, p)
		return changed || created, ChangeSelected, "", nil

	case *events.FundedPayload:
		w, created := e.ensureWorkflow(ctx, env, p.WorkflowID)
		changed := fundUnit(w, p)
		return changed || created, ChangeUnitFunded, p.UnitID, nil

	case *events.SubmitPayload:
		w, created := e.ensureWorkflow(ctx, env, p.WorkflowID)
		changed := submitUnit(w, env, p)
		return changed || created, ChangeUnitSubmit, p.UnitID, nil

	case *events.ApprovePayload:
		w, created := e.ensureWorkflow(ctx, env, p.WorkflowID)
		if err := checkOwner(w, env); err != nil {
			return created, ChangeUnitAccepted, p.UnitID, err
		}
		changed := approveUnit(w, p)
		return changed || created, ChangeUnitAccepted, p.UnitID, nil

	case *events.RejectPayload:
		w, created := e.ensureWorkflow(ctx, env, p.WorkflowID)
		if err := checkOwner(w, env); err != nil {
			return created, ChangeUnitRejected, p.UnitID, err
		}
		changed := rejectUnit(w, p)
		return changed || created, ChangeUnitRejected, p.UnitID, nil

	case *events.CompletePayload:
		w, created := e.ensureWorkflow(ctx, env, p.WorkflowID)
		changed := handleComplete(w, p)
		return changed || created, ChangeCompleted, "", nil

	case *events.CancelPayload:
		w, created := e.ensureWorkflow(ctx, env, p.WorkflowID)
		if err := checkOwner(w, env); err != nil {
			return created, ChangeCancelled, "", err
		}
		changed := handleCancel(w, p)
		return changed || created, ChangeCancelled, "", nil
	}

	// DecodePayload is exhaustive over the ops; reaching this means a
	// payload type was added without a handler.
	log.Errorf("no handler for payload %T on event %s", p, env.ID)
	return false, "", "", nil
}

func (e *Engine) handleCreate(env *events.Envelope, p *events.CreatePayload) (bool, ChangeKind, string, error) {
	if p.WorkflowType != "" && p.WorkflowType != string(e.policy.Type) {
		return false, ChangeCreated, "", xerrors.Errorf(
			"event %s: payload claims type %q in the %q kind range: %w",
			env.ID, p.WorkflowType, e.policy.Type, events.ErrMalformed)
	}

	w, ok := e.store.live(p.WorkflowID)
	if !ok {
		w = &Workflow{
			ID:               p.WorkflowID,
			Type:             e.policy.Type,
			OwnerKey:         p.OwnerKey,
			Title:            p.Title,
			ShortDescription: p.ShortDescription,
			Description:      p.Description,
			FundingPlan:      p.FundingPlan,
			Status:           StatusPending,
			Units:            mergeUnits(nil, p.Units),
			CreatedAt:        env.CreatedAt,
			UpdatedAt:        env.CreatedAt,
		}
		e.store.put(w)
		return true, ChangeCreated, "", nil
	}

	if w.IsPlaceholder() {
		hydrate(w, p, env)
		return true, ChangeHydrated, "", nil
	}

	// Duplicate create for a settled record: idempotent no-op.
	return false, ChangeCreated, "", nil
}

// handleApply records a participant. Applications are append-only
// records and land even on a settled workflow — arrival order must
// not decide whether the record exists.
func handleApply(w *Workflow, p *events.ApplyPayload, env *events.Envelope) bool {
	if w.Status == StatusCancelled {
		return false
	}
	if w.Participant(p.ParticipantID) != nil {
		return false
	}
	// The selection can outrun the application; honor it on arrival.
	status := ParticipantSubmitted
	if w.isSelected(p.ParticipantID) {
		status = ParticipantSelected
	}
	w.Participants = append(w.Participants, &Participant{
		ID:            p.ParticipantID,
		Key:           p.ParticipantKey,
		Proposal:      p.Proposal,
		PayoutAddress: p.PayoutAddress,
		SubmittedAt:   env.CreatedAt,
		Status:        status,
	})
	return true
}

func (e *Engine) handleSelect(w *Workflow, p *events.SelectPayload) bool {
	if w.Status == StatusCancelled {
		return false
	}
	if e.policy.MaxSelected > 0 && len(p.ParticipantIDs) > e.policy.MaxSelected {
		log.Warnf("selection on workflow %s names %d participants, cap is %d; dropping",
			w.ID, len(p.ParticipantIDs), e.policy.MaxSelected)
		return false
	}

	if sameStrings(w.SelectedParticipantIDs, p.ParticipantIDs) {
		return false
	}
	w.SelectedParticipantIDs = append([]string(nil), p.ParticipantIDs...)
	for _, part := range w.Participants {
		if w.isSelected(part.ID) {
			part.Status = ParticipantSelected
		} else if part.Status == ParticipantSelected {
			part.Status = ParticipantSubmitted
		}
	}
	w.advanceStatus(StatusApplicationSelected)
	return true
}

func handleComplete(w *Workflow, p *events.CompletePayload) bool {
	changed := false
	if len(w.PayoutProofs) == 0 && len(p.Proofs) > 0 {
		w.PayoutProofs = append([]events.PayoutProof(nil), p.Proofs...)
		changed = true
	}
	if w.advanceStatus(StatusCompleted) {
		changed = true
	}
	return changed
}

func handleCancel(w *Workflow, p *events.CancelPayload) bool {
	// Cancel is the one permitted regression, and only out of open
	// with nobody selected.
	if w.Status != StatusOpen || len(w.SelectedParticipantIDs) > 0 {
		return false
	}
	w.Status = StatusCancelled
	w.CancelReason = p.Reason
	return true
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
