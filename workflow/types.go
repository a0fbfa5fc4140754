package workflow

import (
	"github.com/satwork/satwork/events"
)

// Type discriminates the three workflow shapes. They share one engine;
// the differences live entirely in Policy.
type Type string

const (
	TypeBounty Type = "bounty"
	TypeGig    Type = "gig"
	TypeGrant  Type = "grant"
)

// AllTypes lists every workflow type a full node tracks.
var AllTypes = []Type{TypeBounty, TypeGig, TypeGrant}

// Status is the top-level workflow lifecycle. It only ever advances
// forward, except for the explicit cancel edge out of StatusOpen.
type Status string

const (
	StatusPending             Status = "pending"
	StatusOpen                Status = "open"
	StatusApplicationSelected Status = "application_selected"
	StatusInProgress          Status = "in_progress"
	StatusCompleted           Status = "completed"
	StatusCancelled           Status = "cancelled"
)

var statusRank = map[Status]int{
	StatusPending:             0,
	StatusOpen:                1,
	StatusApplicationSelected: 2,
	StatusInProgress:          3,
	StatusCompleted:           4,
	StatusCancelled:           5,
}

// Before reports whether s precedes o in the forward ordering.
func (s Status) Before(o Status) bool {
	return statusRank[s] < statusRank[o]
}

// UnitStatus is the funding-unit lifecycle.
type UnitStatus string

const (
	UnitPending   UnitStatus = "pending"
	UnitFunded    UnitStatus = "funded"
	UnitSubmitted UnitStatus = "submitted"
	UnitAccepted  UnitStatus = "accepted"
	UnitRejected  UnitStatus = "rejected"
)

// FundingUnit is a single payable slice of a workflow: the escrow of
// a bounty, a milestone of a gig, or a tranche of a grant.
type FundingUnit struct {
	ID          string
	Amount      int64
	MaxAmount   int64
	Description string
	Status      UnitStatus

	EscrowTxID  string
	PaymentHash string

	SubmittedContent       string
	SubmittedLinks         []string
	SubmittedPayoutAddress string
	SubmittedBy            string

	RejectionReason string

	// Out-of-order confirmations are memoized here instead of being
	// dropped, and take effect once their precondition is met. That
	// is what makes the final state independent of arrival order.
	FundingSeen   bool
	ApprovalSeen  bool
	RejectionSeen bool

	// Synthesized marks a unit a dependent event referenced before
	// any declaration; cleared when a creation event claims it.
	Synthesized bool
}

// ParticipantStatus tracks a worker's standing on a workflow.
type ParticipantStatus string

const (
	ParticipantSubmitted ParticipantStatus = "submitted"
	ParticipantSelected  ParticipantStatus = "selected"
)

// Participant is a submission (bounty) or application (gig/grant).
// It is owned by exactly one workflow and created only by an apply
// event signed with the participant's own key.
type Participant struct {
	ID            string
	Key           string
	Proposal      string
	PayoutAddress string
	SubmittedAt   int64
	Status        ParticipantStatus
}

// Placeholder sentinels. A workflow whose title and owner carry these
// values was synthesized by the reconciler because a dependent event
// outran its creation event. Placeholders are hydrated in place and
// never deleted.
const (
	PlaceholderTitle = "Loading…"
	UnknownOwner     = "unknown"
)

// Workflow is the top-level unit of paid work. All instances are owned
// by the Store and mutated only on its single-writer path; everything
// handed out crosses the boundary as a deep copy.
type Workflow struct {
	ID       string
	Type     Type
	OwnerKey string

	Title            string
	ShortDescription string
	Description      string
	FundingPlan      string
	Status           Status

	EscrowTxID string

	Units                  []*FundingUnit
	Participants           []*Participant
	SelectedParticipantIDs []string

	PayoutProofs []events.PayoutProof

	CancelReason string

	CreatedAt int64
	UpdatedAt int64
}

// IsPlaceholder reports whether this record is still a synthesized
// stand-in awaiting its creation event.
func (w *Workflow) IsPlaceholder() bool {
	return w.Title == PlaceholderTitle && w.OwnerKey == UnknownOwner
}

// Unit returns the funding unit with the given id, or nil.
func (w *Workflow) Unit(id string) *FundingUnit {
	for _, u := range w.Units {
		if u.ID == id {
			return u
		}
	}
	return nil
}

func (w *Workflow) unitIndex(id string) int {
	for i, u := range w.Units {
		if u.ID == id {
			return i
		}
	}
	return -1
}

// Participant returns the participant with the given id, or nil.
func (w *Workflow) Participant(id string) *Participant {
	for _, p := range w.Participants {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// ParticipantByKey returns the first participant with the given
// signer key, or nil.
func (w *Workflow) ParticipantByKey(key string) *Participant {
	for _, p := range w.Participants {
		if p.Key == key {
			return p
		}
	}
	return nil
}

func (w *Workflow) isSelected(id string) bool {
	for _, sid := range w.SelectedParticipantIDs {
		if sid == id {
			return true
		}
	}
	return false
}

// selectedParticipantWithKey returns the selected participant whose
// key matches, or nil. Submissions for funded units are only accepted
// from selected participants.
func (w *Workflow) selectedParticipantWithKey(key string) *Participant {
	for _, p := range w.Participants {
		if p.Key == key && w.isSelected(p.ID) {
			return p
		}
	}
	return nil
}

// allUnitsAccepted reports whether every declared unit reached
// UnitAccepted.
func (w *Workflow) allUnitsAccepted() bool {
	if len(w.Units) == 0 {
		return false
	}
	for _, u := range w.Units {
		if u.Status != UnitAccepted {
			return false
		}
	}
	return true
}

// advanceStatus moves the workflow status forward to s. Regressions
// are ignored; this is what makes replays and placeholder hydration
// safe. Cancel is the one edge handled elsewhere.
func (w *Workflow) advanceStatus(s Status) bool {
	if w.Status == StatusCancelled || s == StatusCancelled {
		return false
	}
	if w.Status.Before(s) {
		w.Status = s
		return true
	}
	return false
}

// Clone returns a deep copy safe to hand outside the store.
func (w *Workflow) Clone() *Workflow {
	out := *w
	out.Units = make([]*FundingUnit, len(w.Units))
	for i, u := range w.Units {
		cu := *u
		cu.SubmittedLinks = append([]string(nil), u.SubmittedLinks...)
		out.Units[i] = &cu
	}
	out.Participants = make([]*Participant, len(w.Participants))
	for i, p := range w.Participants {
		cp := *p
		out.Participants[i] = &cp
	}
	out.SelectedParticipantIDs = append([]string(nil), w.SelectedParticipantIDs...)
	out.PayoutProofs = append([]events.PayoutProof(nil), w.PayoutProofs...)
	return &out
}
