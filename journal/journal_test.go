package journal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDisabledEvents(t *testing.T) {
	de, err := ParseDisabledEvents("workflow:applied , payout:released")
	require.NoError(t, err)
	require.Len(t, de, 2)
	require.Equal(t, "workflow", de[0].System)
	require.Equal(t, "applied", de[0].Event)
	require.Equal(t, "payout", de[1].System)

	de, err = ParseDisabledEvents("")
	require.NoError(t, err)
	require.Empty(t, de)

	_, err = ParseDisabledEvents("nocolon")
	require.Error(t, err)
}

func TestMemJournalRecordsEnabledEvents(t *testing.T) {
	j := NewMemoryJournal(nil)
	et := j.RegisterEventType("workflow", "applied")
	require.True(t, et.Enabled())
	require.Equal(t, "workflow:applied", et.String())

	j.RecordEvent(et, func() interface{} { return "payload" })
	entries := j.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, "payload", entries[0].Data)
	require.Equal(t, et.System, entries[0].System)
}

func TestDisabledEventsAreDiscarded(t *testing.T) {
	disabled, err := ParseDisabledEvents("workflow:applied")
	require.NoError(t, err)

	j := NewMemoryJournal(disabled)
	et := j.RegisterEventType("workflow", "applied")
	require.False(t, et.Enabled())

	called := false
	j.RecordEvent(et, func() interface{} { called = true; return nil })
	require.False(t, called, "supplier must not run for disabled event types")
	require.Empty(t, j.Entries())

	// other event types on the same journal are unaffected
	other := j.RegisterEventType("payout", "released")
	require.True(t, other.Enabled())
}

func TestUnregisteredEventTypeIsUnsafe(t *testing.T) {
	var et EventType
	require.False(t, et.Enabled())

	j := NewMemoryJournal(nil)
	j.RecordEvent(et, func() interface{} { return nil })
	require.Empty(t, j.Entries())
}

func TestMaybeAddEntry(t *testing.T) {
	j := NewMemoryJournal(nil)
	et := j.RegisterEventType("workflow", "applied")

	MaybeAddEntry(j, et, func() interface{} { return 42 })
	require.Len(t, j.Entries(), 1)

	// nil and nil-journal shorthand must both be safe
	MaybeAddEntry(nil, et, func() interface{} { t.Fatal("supplier ran"); return nil })
	MaybeAddEntry(NilJournal(), et, func() interface{} { t.Fatal("supplier ran"); return nil })
}
