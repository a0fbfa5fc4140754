package journal

import (
	"sync"

	"github.com/satwork/satwork/build"
)

// MemJournal keeps entries in memory. It is used by tests and by the
// daemon's debug endpoint to inspect recent engine activity.
type MemJournal struct {
	EventTypeRegistry

	lk      sync.Mutex
	entries []*Event
}

var _ Journal = (*MemJournal)(nil)

func NewMemoryJournal(disabled DisabledEvents) *MemJournal {
	return &MemJournal{EventTypeRegistry: NewEventTypeRegistry(disabled)}
}

func (m *MemJournal) RecordEvent(evtType EventType, supplier func() interface{}) {
	if !evtType.Enabled() {
		return
	}
	e := &Event{EventType: evtType, Timestamp: build.Clock.Now(), Data: supplier()}

	m.lk.Lock()
	m.entries = append(m.entries, e)
	m.lk.Unlock()
}

// Entries returns a snapshot of everything recorded so far.
func (m *MemJournal) Entries() []*Event {
	m.lk.Lock()
	defer m.lk.Unlock()
	out := make([]*Event, len(m.entries))
	copy(out, m.entries)
	return out
}

func (m *MemJournal) Close() error { return nil }
