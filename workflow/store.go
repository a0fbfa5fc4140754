package workflow

import (
	"sort"
	"sync"

	"github.com/hannahhoward/go-pubsub"
	"golang.org/x/xerrors"
)

// ChangeKind classifies a store mutation for subscribers.
type ChangeKind string

const (
	ChangeCreated      ChangeKind = "created"
	ChangeHydrated     ChangeKind = "hydrated"
	ChangeParticipant  ChangeKind = "participant"
	ChangeSelected     ChangeKind = "selected"
	ChangeUnitFunded   ChangeKind = "unit_funded"
	ChangeUnitSubmit   ChangeKind = "unit_submitted"
	ChangeUnitAccepted ChangeKind = "unit_accepted"
	ChangeUnitRejected ChangeKind = "unit_rejected"
	ChangeCompleted    ChangeKind = "completed"
	ChangeCancelled    ChangeKind = "cancelled"
)

// Change is published to subscribers whenever a handler reports a real
// mutation. The Workflow field is a snapshot; subscribers may hold it
// indefinitely.
type Change struct {
	Type       Type
	Kind       ChangeKind
	WorkflowID string
	UnitID     string
	Workflow   *Workflow
}

// Store is the per-workflow-type table of entity records. There is
// exactly one logical writer (the engine's event-processing path);
// the lock exists so concurrent readers see consistent snapshots,
// not to serialize writers.
type Store struct {
	wtype Type

	lk        sync.RWMutex
	workflows map[string]*Workflow

	changes *pubsub.PubSub
}

type changeSubscriberFn func(Change)

func NewStore(wtype Type) *Store {
	ps := pubsub.New(func(event pubsub.Event, subFn pubsub.SubscriberFn) error {
		ch, ok := event.(Change)
		if !ok {
			return xerrors.Errorf("wrong type of event")
		}
		sub, ok := subFn.(changeSubscriberFn)
		if !ok {
			return xerrors.Errorf("wrong type of subscriber")
		}
		sub(ch)
		return nil
	})
	return &Store{
		wtype:     wtype,
		workflows: make(map[string]*Workflow),
		changes:   ps,
	}
}

func (s *Store) Type() Type { return s.wtype }

// Get returns a snapshot of the workflow with the given id.
func (s *Store) Get(id string) (*Workflow, bool) {
	s.lk.RLock()
	defer s.lk.RUnlock()
	w, ok := s.workflows[id]
	if !ok {
		return nil, false
	}
	return w.Clone(), true
}

// List returns snapshots of every workflow, newest first.
func (s *Store) List() []*Workflow {
	s.lk.RLock()
	defer s.lk.RUnlock()
	out := make([]*Workflow, 0, len(s.workflows))
	for _, w := range s.workflows {
		out = append(out, w.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len returns the number of tracked workflows, placeholders included.
func (s *Store) Len() int {
	s.lk.RLock()
	defer s.lk.RUnlock()
	return len(s.workflows)
}

// SubscribeChanges registers a callback for store mutations. The
// returned function unsubscribes.
func (s *Store) SubscribeChanges(cb func(Change)) func() {
	var fn changeSubscriberFn = cb
	unsub := s.changes.Subscribe(fn)
	return func() { unsub() }
}

// live returns the mutable record for id. Callers must be on the
// single-writer path and hold the write lock.
func (s *Store) live(id string) (*Workflow, bool) {
	w, ok := s.workflows[id]
	return w, ok
}

func (s *Store) put(w *Workflow) {
	s.workflows[w.ID] = w
}

// publishSnapshot notifies subscribers with an already-cloned record.
// Called outside the store lock so a subscriber reading back from the
// store cannot deadlock.
func (s *Store) publishSnapshot(kind ChangeKind, w *Workflow, unitID string) {
	if w == nil {
		return
	}
	ch := Change{
		Type:       s.wtype,
		Kind:       kind,
		WorkflowID: w.ID,
		UnitID:     unitID,
		Workflow:   w,
	}
	if err := s.changes.Publish(ch); err != nil {
		// In theory we shouldn't ever get an error here
		log.Errorf("unexpected error publishing store change: %s", err)
	}
}
