package journal

import "sync"

// eventTypeRegistry is a thread-safe EventTypeRegistry.
type eventTypeRegistry struct {
	sync.Mutex

	m map[string]EventType
}

// NewEventTypeRegistry constructs a registry with the given event
// types disabled up front.
func NewEventTypeRegistry(disabled DisabledEvents) EventTypeRegistry {
	ret := &eventTypeRegistry{m: make(map[string]EventType, len(disabled)+32)}
	for _, et := range disabled {
		et.enabled, et.safe = false, true
		ret.m[et.System+":"+et.Event] = et
	}
	return ret
}

func (d *eventTypeRegistry) RegisterEventType(system, event string) EventType {
	d.Lock()
	defer d.Unlock()

	key := system + ":" + event
	if et, ok := d.m[key]; ok {
		return et
	}

	et := EventType{System: system, Event: event, enabled: true, safe: true}
	d.m[key] = et
	return et
}
