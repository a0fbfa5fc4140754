package workflow

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/satwork/satwork/events"
)

func TestStoreSnapshotsAreIsolated(t *testing.T) {
	keys := newTestKeys(t)
	e := newTestEngine(t, TypeBounty, keys)
	apply(t, e, bountyLifecycle(t, keys, "b-1")[:2]...)

	snap := mustGet(t, e, "b-1")
	snap.Title = "scribbled on"
	snap.Units[0].Status = UnitAccepted
	snap.SelectedParticipantIDs = append(snap.SelectedParticipantIDs, "intruder")

	fresh := mustGet(t, e, "b-1")
	require.NotEqual(t, "scribbled on", fresh.Title)
	require.Equal(t, UnitFunded, fresh.Units[0].Status)
	require.Empty(t, fresh.SelectedParticipantIDs)
}

func TestStoreListNewestFirst(t *testing.T) {
	keys := newTestKeys(t)
	e := newTestEngine(t, TypeBounty, keys)

	mk := func(id string, at int64) *events.Envelope {
		return signedEnv(t, TypeBounty, &events.CreatePayload{
			WorkflowID: id, OwnerKey: keys.ownerPub(), Title: "t",
			Units: []events.UnitSpec{{ID: "u1", Amount: 1}},
		}, keys.owner, at)
	}
	apply(t, e, mk("old", 100), mk("new", 300), mk("mid", 200))

	list := e.Store().List()
	require.Len(t, list, 3)
	require.Equal(t, "new", list[0].ID)
	require.Equal(t, "mid", list[1].ID)
	require.Equal(t, "old", list[2].ID)
}

func TestChangeNotifications(t *testing.T) {
	keys := newTestKeys(t)
	e := newTestEngine(t, TypeBounty, keys)

	var got []Change
	unsub := e.Store().SubscribeChanges(func(ch Change) {
		got = append(got, ch)
	})
	defer unsub()

	hist := bountyLifecycle(t, keys, "b-1")
	apply(t, e, hist...)

	require.Len(t, got, len(hist))
	require.Equal(t, ChangeCreated, got[0].Kind)
	require.Equal(t, ChangeUnitFunded, got[1].Kind)
	require.Equal(t, "tier-1", got[1].UnitID)
	last := got[len(got)-1]
	require.Equal(t, ChangeUnitAccepted, last.Kind)
	require.Equal(t, "tier-1", last.UnitID)
	require.Equal(t, TypeBounty, last.Type)

	// the carried snapshot reflects the state at publish time
	require.Equal(t, UnitAccepted, last.Workflow.Unit("tier-1").Status)

	// duplicates publish nothing
	before := len(got)
	apply(t, e, hist...)
	require.Len(t, got, before)

	// a subscriber reading back through the store must not deadlock
	done := make(chan struct{})
	e.Store().SubscribeChanges(func(ch Change) {
		_, _ = e.Store().Get(ch.WorkflowID)
		close(done)
	})
	apply(t, e, signedEnv(t, TypeBounty, &events.ApplyPayload{
		WorkflowID: "b-1", ParticipantID: "p3", ParticipantKey: events.PubKeyHex(keys.worker2),
	}, keys.worker2, 200))
	<-done
}

func TestUnsubscribeStopsNotifications(t *testing.T) {
	keys := newTestKeys(t)
	e := newTestEngine(t, TypeBounty, keys)

	calls := 0
	unsub := e.Store().SubscribeChanges(func(Change) { calls++ })

	hist := bountyLifecycle(t, keys, "b-2")
	apply(t, e, hist[0])
	require.Equal(t, 1, calls)

	unsub()
	apply(t, e, hist[1])
	require.Equal(t, 1, calls)
}
