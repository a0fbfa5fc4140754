package workflow

import (
	"github.com/satwork/satwork/events"
)

// Funding-unit state machine.
//
// States: pending → funded → submitted → {accepted | rejected}.
// The relay network delivers events in any order, so a confirmation
// whose precondition has not arrived yet is memoized on the unit and
// settled later rather than dropped: dropping would make the final
// state depend on arrival order. Transitions that are already settled
// no-op and report "no change"; that silence is the idempotency
// backbone, so replaying an already-applied event is always safe.

// ensureUnit returns the unit with the given id, synthesizing a
// minimal record when a dependent event references a unit the store
// has not seen declared yet.
func ensureUnit(w *Workflow, unitID string) (*FundingUnit, bool) {
	if u := w.Unit(unitID); u != nil {
		return u, false
	}
	u := &FundingUnit{ID: unitID, Status: UnitPending, Synthesized: true}
	w.Units = append(w.Units, u)
	return u, true
}

// fundUnit applies a system-signed funding confirmation. The payment
// facts (escrow correlation, amount backfill) are recorded
// unconditionally; the pending → funded promotion itself happens in
// settle, where the sequential gate is checked against current state.
func fundUnit(w *Workflow, p *events.FundedPayload) bool {
	u, _ := ensureUnit(w, p.UnitID)

	changed := !u.FundingSeen
	u.FundingSeen = true
	if u.EscrowTxID == "" && p.EscrowTxID != "" {
		u.EscrowTxID = p.EscrowTxID
		changed = true
	}
	if u.PaymentHash == "" && p.PaymentHash != "" {
		u.PaymentHash = p.PaymentHash
		changed = true
	}
	if u.Amount == 0 && p.AmountSats > 0 {
		u.Amount = p.AmountSats
		changed = true
	}
	if w.EscrowTxID == "" && p.EscrowTxID != "" {
		w.EscrowTxID = p.EscrowTxID
		changed = true
	}
	return changed
}

// submitUnit applies a participant's work submission. A submission
// can outrun its funding confirmation or the selection event, so it
// lands tentatively unless the record positively rules it out: a
// recorded selection naming other participants, or a settled
// rejection. Tentative submissions the eventual selection turns down
// are retracted in settle.
func submitUnit(w *Workflow, env *events.Envelope, p *events.SubmitPayload) bool {
	if w.Status == StatusCancelled {
		return false
	}
	u, _ := ensureUnit(w, p.UnitID)

	if u.Status == UnitRejected {
		// No resubmission edge is modeled. Surfacing this loudly
		// is deliberate so the gap shows up in the field instead
		// of silently eating work.
		log.Warnf("submission for rejected unit %s of workflow %s dropped: no resubmission path", u.ID, w.ID)
		return false
	}

	if u.Status == UnitSubmitted || u.Status == UnitAccepted {
		// Late or duplicate delivery. Keep the delivery fields if
		// the settled record never saw them.
		if u.SubmittedBy != "" {
			return false
		}
		u.SubmittedContent = p.Content
		u.SubmittedLinks = append([]string(nil), p.Links...)
		u.SubmittedPayoutAddress = p.PayoutAddress
		u.SubmittedBy = p.ParticipantKey
		return true
	}

	if len(w.SelectedParticipantIDs) > 0 {
		if part := w.ParticipantByKey(env.PubKey); part != nil && !w.isSelected(part.ID) {
			return false
		}
	}

	u.Status = UnitSubmitted
	u.SubmittedContent = p.Content
	u.SubmittedLinks = append([]string(nil), p.Links...)
	u.SubmittedPayoutAddress = p.PayoutAddress
	u.SubmittedBy = p.ParticipantKey
	w.advanceStatus(StatusInProgress)
	return true
}

// approveUnit accepts submitted work. An approval that outran the
// submission is memoized and takes effect when the work arrives, so
// submitted → accepted is the only visible transition either way.
func approveUnit(w *Workflow, p *events.ApprovePayload) bool {
	if w.Status == StatusCancelled {
		return false
	}
	u, _ := ensureUnit(w, p.UnitID)
	if u.Status == UnitAccepted || u.Status == UnitRejected {
		return false
	}

	if u.Status != UnitSubmitted {
		if u.ApprovalSeen {
			return false
		}
		u.ApprovalSeen = true
		return true
	}

	u.Status = UnitAccepted
	return true
}

// rejectUnit declines submitted work with a mandatory reason. Like
// approvals, a rejection outrunning the submission is memoized.
func rejectUnit(w *Workflow, p *events.RejectPayload) bool {
	if w.Status == StatusCancelled {
		return false
	}
	u, _ := ensureUnit(w, p.UnitID)
	if u.Status == UnitAccepted || u.Status == UnitRejected {
		return false
	}

	if u.Status != UnitSubmitted {
		if u.RejectionSeen {
			return false
		}
		u.RejectionSeen = true
		u.RejectionReason = p.Reason
		return true
	}

	u.Status = UnitRejected
	u.RejectionReason = p.Reason
	return true
}

// gateOpen reports whether the unit at index i may be promoted to
// funded. Sequential policies hold a unit until its predecessor in
// declared order is accepted; on a placeholder the declared order is
// unknown, so promotion waits for the creation event. Units the
// declaration never claimed sit at the tail outside the milestone
// order and are exempt.
func gateOpen(pol Policy, w *Workflow, i int) bool {
	if !pol.Sequential {
		return true
	}
	if w.IsPlaceholder() {
		return false
	}
	if w.Units[i].Synthesized {
		return true
	}
	return i == 0 || w.Units[i-1].Status == UnitAccepted
}

// settle runs after every applied event, under the store's write
// lock. It retracts tentative submissions the recorded selection
// turned down, promotes memoized confirmations whose preconditions
// are now met, and completes a settled workflow whose declared units
// are all accepted. It loops to a fixpoint because one promotion can
// unlock the next. The returned ids are units promoted to accepted,
// so the caller can publish their change notifications.
func settle(pol Policy, w *Workflow) (bool, []string) {
	if w.Status == StatusCancelled {
		return false, nil
	}

	changed := false
	var accepted []string
	for {
		progressed := false
		for i, u := range w.Units {
			if u.Status == UnitSubmitted && u.SubmittedBy != "" && len(w.SelectedParticipantIDs) > 0 {
				if part := w.ParticipantByKey(u.SubmittedBy); part != nil && !w.isSelected(part.ID) {
					u.Status = UnitPending
					u.SubmittedContent = ""
					u.SubmittedLinks = nil
					u.SubmittedPayoutAddress = ""
					u.SubmittedBy = ""
					progressed = true
				}
			}
			if u.Status == UnitPending && u.FundingSeen && gateOpen(pol, w, i) {
				u.Status = UnitFunded
				w.advanceStatus(StatusOpen)
				progressed = true
			}
			if u.Status == UnitSubmitted && u.RejectionSeen {
				u.Status = UnitRejected
				progressed = true
			}
			if u.Status == UnitSubmitted && u.ApprovalSeen {
				u.Status = UnitAccepted
				accepted = append(accepted, u.ID)
				progressed = true
			}
		}
		if !progressed {
			break
		}
		changed = true
	}

	// A placeholder never auto-completes: it cannot know how many
	// units its creation event will declare.
	if !w.IsPlaceholder() && w.allUnitsAccepted() && w.advanceStatus(StatusCompleted) {
		changed = true
	}
	return changed, accepted
}
