package workflow

import (
	"github.com/satwork/satwork/events"
)

// Placeholder reconciliation.
//
// The relay network guarantees neither ordering nor completeness, so
// an event depending on a workflow can arrive before the event that
// creates it. Rather than dropping or buffering, the router
// synthesizes a minimal placeholder carrying only what the dependent
// event knows, and the creation event hydrates it in place later.
// Placeholders are never deleted, only upgraded.

// newPlaceholder builds the sentinel record for a workflow we have
// only seen referenced, never declared.
func newPlaceholder(wtype Type, id string, seenAt int64) *Workflow {
	return &Workflow{
		ID:        id,
		Type:      wtype,
		OwnerKey:  UnknownOwner,
		Title:     PlaceholderTitle,
		Status:    StatusPending,
		CreatedAt: seenAt,
		UpdatedAt: seenAt,
	}
}

// hydrate overwrites a placeholder's descriptive fields from the
// creation payload. Status is preserved whenever it already advanced
// past pending: the dependent events that advanced it are settled
// facts and the creation event, which logically precedes them, must
// not regress them.
func hydrate(w *Workflow, p *events.CreatePayload, env *events.Envelope) {
	w.OwnerKey = p.OwnerKey
	w.Title = p.Title
	w.ShortDescription = p.ShortDescription
	w.Description = p.Description
	w.FundingPlan = p.FundingPlan
	if env.CreatedAt < w.CreatedAt || w.CreatedAt == 0 {
		w.CreatedAt = env.CreatedAt
	}

	w.Units = mergeUnits(w.Units, p.Units)
}

// mergeUnits reconciles the creation payload's declared units with
// whatever dependent events already synthesized. Declared order wins;
// synthesized state (funding, submissions) wins over the declaration's
// blank initial state. Synthesized units the declaration doesn't know
// about are kept at the tail rather than discarded.
func mergeUnits(existing []*FundingUnit, specs []events.UnitSpec) []*FundingUnit {
	byID := make(map[string]*FundingUnit, len(existing))
	for _, u := range existing {
		byID[u.ID] = u
	}

	out := make([]*FundingUnit, 0, len(specs))
	for _, spec := range specs {
		if u, ok := byID[spec.ID]; ok {
			u.Amount = spec.Amount
			u.MaxAmount = spec.MaxAmount
			u.Description = spec.Description
			u.Synthesized = false
			out = append(out, u)
			delete(byID, spec.ID)
			continue
		}
		out = append(out, &FundingUnit{
			ID:          spec.ID,
			Amount:      spec.Amount,
			MaxAmount:   spec.MaxAmount,
			Description: spec.Description,
			Status:      UnitPending,
		})
	}
	for _, u := range existing {
		if _, ok := byID[u.ID]; ok {
			out = append(out, u)
		}
	}
	return out
}

// impliedStatus maps a dependent event's operation to the workflow
// status it implies for a freshly synthesized placeholder.
func impliedStatus(op events.Op) Status {
	switch op {
	case events.OpFunded:
		return StatusOpen
	case events.OpSelect:
		return StatusApplicationSelected
	case events.OpSubmit, events.OpApprove, events.OpReject:
		return StatusInProgress
	case events.OpComplete:
		return StatusCompleted
	default:
		return StatusPending
	}
}
