package events

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindRoundtrip(t *testing.T) {
	for _, wtype := range []string{"bounty", "gig", "grant"} {
		for op := OpCreate; op < numOps; op++ {
			k, ok := MakeKind(wtype, op)
			require.True(t, ok)
			require.True(t, k.Known())

			gotOp, ok := k.Op()
			require.True(t, ok)
			require.Equal(t, op, gotOp)

			gotType, ok := k.WorkflowType()
			require.True(t, ok)
			require.Equal(t, wtype, gotType)
		}
	}
}

func TestKindRangesDisjoint(t *testing.T) {
	seen := map[Kind]string{}
	for _, wtype := range []string{"bounty", "gig", "grant"} {
		for _, k := range KindsFor(wtype) {
			prev, dup := seen[k]
			require.False(t, dup, "kind %d claimed by both %s and %s", int(k), prev, wtype)
			seen[k] = wtype
		}
	}
}

func TestUnknownKinds(t *testing.T) {
	_, ok := MakeKind("raffle", OpCreate)
	require.False(t, ok)

	require.Nil(t, KindsFor("raffle"))

	for _, k := range []Kind{0, 1, 30023, BountyKindBase - 1, GrantKindBase + kindStride} {
		require.False(t, k.Known(), "kind %d should be unknown", int(k))
	}

	// The stride reserves room past the defined ops; those slots are
	// inside the type's range but not yet meaningful.
	reserved := BountyKindBase + Kind(numOps)
	_, ok = reserved.Op()
	require.False(t, ok)
	wt, ok := reserved.WorkflowType()
	require.True(t, ok)
	require.Equal(t, "bounty", wt)
}

func TestKindString(t *testing.T) {
	k, _ := MakeKind("gig", OpSubmit)
	require.Equal(t, "gig/unit:submit", k.String())
	require.Equal(t, "unknown", Kind(1).String())
}
