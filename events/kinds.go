package events

// Kind is the numeric event kind used on the relay wire. Each
// workflow type owns a contiguous range; the offset within the range
// selects the operation. The numbers live in the addressable-event
// range so relays that understand them can prune superseded events,
// but nothing here relies on relay-side behavior.
type Kind int

// Op is the logical operation encoded by a kind, independent of which
// workflow type's range it sits in.
type Op int

const (
	OpCreate Op = iota
	OpApply
	OpSelect
	OpFunded
	OpSubmit
	OpApprove
	OpReject
	OpComplete
	OpCancel

	numOps
)

var opNames = [numOps]string{
	"workflow:create",
	"workflow:apply",
	"workflow:select",
	"unit:funded",
	"unit:submit",
	"unit:approve",
	"unit:reject",
	"workflow:complete",
	"workflow:cancel",
}

func (o Op) String() string {
	if o < 0 || o >= numOps {
		return "unknown"
	}
	return opNames[o]
}

// Kind ranges per workflow type. The stride leaves room for new
// operations without renumbering.
const (
	kindStride = 20

	BountyKindBase Kind = 33400
	GigKindBase    Kind = 33420
	GrantKindBase  Kind = 33440
)

var kindBases = map[string]Kind{
	"bounty": BountyKindBase,
	"gig":    GigKindBase,
	"grant":  GrantKindBase,
}

// MakeKind returns the wire kind for an operation on the given
// workflow type. The bool is false for an unknown type name.
func MakeKind(workflowType string, op Op) (Kind, bool) {
	base, ok := kindBases[workflowType]
	if !ok || op < 0 || op >= numOps {
		return 0, false
	}
	return base + Kind(op), true
}

// KindsFor lists every kind in the given workflow type's range, in
// operation order. Loaders use this as the bulk-query filter.
func KindsFor(workflowType string) []Kind {
	base, ok := kindBases[workflowType]
	if !ok {
		return nil
	}
	out := make([]Kind, numOps)
	for i := range out {
		out[i] = base + Kind(i)
	}
	return out
}

// Op returns the logical operation for this kind. The bool is false
// when the kind falls outside every known range.
func (k Kind) Op() (Op, bool) {
	for _, base := range kindBases {
		if k >= base && k < base+Kind(numOps) {
			return Op(k - base), true
		}
	}
	return 0, false
}

// WorkflowType returns the workflow type name owning this kind's range.
func (k Kind) WorkflowType() (string, bool) {
	for name, base := range kindBases {
		if k >= base && k < base+kindStride {
			return name, true
		}
	}
	return "", false
}

// Known reports whether the kind is one the engine consumes.
func (k Kind) Known() bool {
	_, ok := k.Op()
	return ok
}

func (k Kind) String() string {
	op, ok := k.Op()
	if !ok {
		return "unknown"
	}
	wt, _ := k.WorkflowType()
	return wt + "/" + op.String()
}
