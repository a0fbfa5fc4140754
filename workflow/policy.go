package workflow

import (
	"github.com/satwork/satwork/events"
)

// Policy parameterizes the generic engine with everything that
// differs between the three workflow shapes. The router, reconciler
// and state machine are written once against this.
type Policy struct {
	Type Type

	// Kinds is the set of event kinds this workflow type consumes.
	Kinds map[events.Kind]bool

	// Sequential requires the immediately preceding unit to be
	// accepted before the next one may be funded. Single-unit
	// workflows are unaffected.
	Sequential bool

	// MaxSelected caps how many participants may be selected at
	// once; 0 means no cap (bounties pay ranked winners).
	MaxSelected int
}

func (p Policy) Handles(k events.Kind) bool { return p.Kinds[k] }

// QueryKinds lists the kinds this policy consumes, in wire order.
func (p Policy) QueryKinds() []events.Kind {
	return events.KindsFor(string(p.Type))
}

func kindSet(workflowType string) map[events.Kind]bool {
	kinds := events.KindsFor(workflowType)
	m := make(map[events.Kind]bool, len(kinds))
	for _, k := range kinds {
		m[k] = true
	}
	return m
}

// BountyPolicy: one escrowed reward, many submissions, ranked winners
// paid in parallel.
var BountyPolicy = Policy{
	Type:       TypeBounty,
	Kinds:      kindSet("bounty"),
	Sequential: false,
}

// GigPolicy: milestones funded and paid strictly in order, one
// selected applicant.
var GigPolicy = Policy{
	Type:        TypeGig,
	Kinds:       kindSet("gig"),
	Sequential:  true,
	MaxSelected: 1,
}

// GrantPolicy: tranches released in order as progress is approved.
var GrantPolicy = Policy{
	Type:       TypeGrant,
	Kinds:      kindSet("grant"),
	Sequential: true,
}

// PolicyFor returns the policy for a workflow type name.
func PolicyFor(t Type) (Policy, bool) {
	switch t {
	case TypeBounty:
		return BountyPolicy, true
	case TypeGig:
		return GigPolicy, true
	case TypeGrant:
		return GrantPolicy, true
	}
	return Policy{}, false
}
