package journal

// MaybeAddEntry records an event if the type is enabled. The supplier
// only runs when the entry will actually be recorded.
//
// Safe to call with a nil Journal, either because the value is nil or
// because a journal obtained through NilJournal() is in use.
func MaybeAddEntry(journal Journal, evtType EventType, supplier func() interface{}) {
	if journal == nil || journal == nilj {
		return
	}
	if !evtType.Enabled() {
		return
	}
	journal.RecordEvent(evtType, supplier)
}
