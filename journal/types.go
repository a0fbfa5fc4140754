package journal

import (
	"strings"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"
)

var log = logging.Logger("journal")

// DisabledEvents is the set of event types disabled in the journal.
type DisabledEvents []EventType

// ParseDisabledEvents parses a comma-separated list of
// "system:event" pairs into a DisabledEvents value.
func ParseDisabledEvents(s string) (DisabledEvents, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DisabledEvents{}, nil
	}
	evts := strings.Split(s, ",")
	ret := make(DisabledEvents, 0, len(evts))
	for _, evt := range evts {
		parts := strings.Split(strings.TrimSpace(evt), ":")
		if len(parts) != 2 {
			return nil, xerrors.Errorf("invalid event type: %s", evt)
		}
		ret = append(ret, EventType{System: parts[0], Event: parts[1]})
	}
	return ret, nil
}

// DefaultDisabledEvents lists the event types disabled by default.
var DefaultDisabledEvents = DisabledEvents{}

// EventType represents the signature of an event.
type EventType struct {
	System string
	Event  string

	// enabled stores whether this event type is enabled.
	enabled bool

	// safe is a sentinel marker; it's set to true if this EventType was
	// constructed correctly (via the registry).
	safe bool
}

func (et EventType) String() string {
	return et.System + ":" + et.Event
}

// Enabled returns whether this event type is enabled in the journaling
// subsystem. Users are advised to check this before actually attempting to
// add a journal entry, as it helps bypass object construction for events that
// would be discarded anyway.
func (et EventType) Enabled() bool {
	return et.safe && et.enabled
}

// Journal represents an audit trail of system actions.
//
// Every entry is tagged with a timestamp, a system name, and an event name.
// The supplied data can be any type, as long as it is JSON serializable,
// including structs, map[string]interface{}, or primitive types.
type Journal interface {
	EventTypeRegistry

	// RecordEvent records this event to the journal, if and only if the
	// EventType is enabled. The data is lazily supplied to avoid paying the
	// construction cost when the event type is disabled.
	RecordEvent(evtType EventType, supplier func() interface{})

	// Close closes the journal.
	Close() error
}

// EventTypeRegistry is a component that constructs tracked EventTypes.
type EventTypeRegistry interface {
	// RegisterEventType introduces a new event type to the registry, and
	// returns an EventType token to use when recording events of that type.
	RegisterEventType(system, event string) EventType
}

// Event represents a journal entry.
type Event struct {
	EventType

	Timestamp time.Time
	Data      interface{}
}
