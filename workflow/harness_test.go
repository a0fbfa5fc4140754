package workflow

import (
	"sort"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"

	"github.com/satwork/satwork/events"
)

// deterministic test keys; never use outside tests.
const (
	ownerSK   = "1111111111111111111111111111111111111111111111111111111111111111"
	workerSK  = "2222222222222222222222222222222222222222222222222222222222222222"
	worker2SK = "3333333333333333333333333333333333333333333333333333333333333333"
	systemSK  = "4444444444444444444444444444444444444444444444444444444444444444"
)

type testKeys struct {
	owner, worker, worker2, system *btcec.PrivateKey
}

func newTestKeys(t *testing.T) *testKeys {
	parse := func(sk string) *btcec.PrivateKey {
		priv, err := events.ParsePrivateKey(sk)
		require.NoError(t, err)
		return priv
	}
	return &testKeys{
		owner:   parse(ownerSK),
		worker:  parse(workerSK),
		worker2: parse(worker2SK),
		system:  parse(systemSK),
	}
}

func (k *testKeys) ownerPub() string  { return events.PubKeyHex(k.owner) }
func (k *testKeys) workerPub() string { return events.PubKeyHex(k.worker) }
func (k *testKeys) systemPub() string { return events.PubKeyHex(k.system) }

func newTestEngine(t *testing.T, wtype Type, keys *testKeys) *Engine {
	pol, ok := PolicyFor(wtype)
	require.True(t, ok)
	return NewEngine(pol, NewStore(wtype), keys.systemPub(), nil)
}

// signedEnv builds a signed envelope the way a real client would.
func signedEnv(t *testing.T, wtype Type, p events.Payload, sk *btcec.PrivateKey, at int64) *events.Envelope {
	env, err := events.NewEnvelope(p, string(wtype), sk, time.Unix(at, 0))
	require.NoError(t, err)
	return env
}

// digest captures the convergence-relevant view of a workflow: the
// fields that must agree regardless of event arrival order.
type digest struct {
	Status   Status
	OwnerKey string
	Title    string

	UnitStatuses map[string]UnitStatus
	Participants []string
	Selected     []string
}

func digestOf(w *Workflow) digest {
	d := digest{
		Status:       w.Status,
		OwnerKey:     w.OwnerKey,
		Title:        w.Title,
		UnitStatuses: map[string]UnitStatus{},
		Selected:     append([]string(nil), w.SelectedParticipantIDs...),
	}
	for _, u := range w.Units {
		d.UnitStatuses[u.ID] = u.Status
	}
	for _, p := range w.Participants {
		d.Participants = append(d.Participants, p.ID+":"+string(p.Status))
	}
	sort.Strings(d.Participants)
	return d
}

func apply(t *testing.T, e *Engine, envs ...*events.Envelope) {
	for _, env := range envs {
		_, err := e.Apply(t.Context(), env)
		require.NoError(t, err)
	}
}

func mustGet(t *testing.T, e *Engine, id string) *Workflow {
	w, ok := e.Store().Get(id)
	require.True(t, ok, "workflow %s not in store", id)
	return w
}
