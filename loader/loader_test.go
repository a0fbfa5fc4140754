package loader

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/raulk/clock"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/satwork/satwork/build"
	"github.com/satwork/satwork/events"
)

type fakeSource struct {
	lk sync.Mutex

	history  []*events.Envelope
	failures int // Query errors to return before succeeding
	queries  int

	sub chan *events.Envelope
}

func (f *fakeSource) Query(ctx context.Context, kinds []events.Kind) ([]*events.Envelope, error) {
	f.lk.Lock()
	defer f.lk.Unlock()
	f.queries++
	if f.failures > 0 {
		f.failures--
		return nil, xerrors.New("all relays unreachable")
	}
	return append([]*events.Envelope(nil), f.history...), nil
}

func (f *fakeSource) Subscribe(ctx context.Context, kinds []events.Kind) (<-chan *events.Envelope, error) {
	f.lk.Lock()
	defer f.lk.Unlock()
	if f.sub == nil {
		f.sub = make(chan *events.Envelope, 16)
	}
	return f.sub, nil
}

func (f *fakeSource) queryCount() int {
	f.lk.Lock()
	defer f.lk.Unlock()
	return f.queries
}

type recordingApplier struct {
	lk      sync.Mutex
	applied []*events.Envelope
}

func (r *recordingApplier) Apply(ctx context.Context, env *events.Envelope) (bool, error) {
	r.lk.Lock()
	defer r.lk.Unlock()
	r.applied = append(r.applied, env)
	return true, nil
}

func (r *recordingApplier) QueryKinds() []events.Kind {
	return events.KindsFor("bounty")
}

func (r *recordingApplier) appliedIDs() []string {
	r.lk.Lock()
	defer r.lk.Unlock()
	out := make([]string, len(r.applied))
	for i, e := range r.applied {
		out[i] = e.ID
	}
	return out
}

func env(id string, at int64) *events.Envelope {
	return &events.Envelope{ID: id, CreatedAt: at, Kind: events.BountyKindBase}
}

func TestBulkReplaySortedByTimestamp(t *testing.T) {
	src := &fakeSource{history: []*events.Envelope{
		env("c", 300), env("a", 100), env("b", 200),
	}}
	app := &recordingApplier{}
	l := New(src, app, "bounty")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	select {
	case <-l.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("loader never became ready")
	}
	require.Equal(t, []string{"a", "b", "c"}, app.appliedIDs())

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestLiveAndInjectedEventsFlow(t *testing.T) {
	src := &fakeSource{}
	app := &recordingApplier{}
	l := New(src, app, "bounty")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	<-l.Ready()

	src.sub <- env("live-1", 400)
	l.Inject(env("local-1", 401))

	require.Eventually(t, func() bool {
		ids := app.appliedIDs()
		return len(ids) == 2 && ids[0] == "live-1" && ids[1] == "local-1"
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestInitRetriesThenSucceeds(t *testing.T) {
	mc := clock.NewMock()
	old := build.Clock
	build.Clock = mc
	defer func() { build.Clock = old }()

	src := &fakeSource{failures: 2, history: []*events.Envelope{env("a", 100)}}
	app := &recordingApplier{}
	l := New(src, app, "bounty")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx) //nolint:errcheck

	for {
		select {
		case <-l.Ready():
			require.Equal(t, 3, src.queryCount())
			require.NoError(t, l.Err())
			require.Equal(t, []string{"a"}, app.appliedIDs())
			return
		default:
			mc.Add(build.LoadRetryMax)
			time.Sleep(time.Millisecond)
		}
	}
}

func TestLoaderUsesConfiguredRetryBounds(t *testing.T) {
	mc := clock.NewMock()
	old := build.Clock
	build.Clock = mc
	defer func() { build.Clock = old }()

	src := &fakeSource{failures: 1, history: []*events.Envelope{env("a", 100)}}
	l := New(src, &recordingApplier{}, "bounty")
	l.RetryMin = time.Hour
	l.RetryMax = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx) //nolint:errcheck

	require.Eventually(t, func() bool { return src.queryCount() == 1 },
		time.Second, time.Millisecond)

	// advancing past the stock cap must not clear a one-hour floor
	for i := 0; i < 5; i++ {
		mc.Add(build.LoadRetryMax)
		time.Sleep(time.Millisecond)
	}
	select {
	case <-l.Ready():
		t.Fatal("retry fired before the configured backoff elapsed")
	default:
	}
	require.Equal(t, 1, src.queryCount())

	for {
		select {
		case <-l.Ready():
			require.Equal(t, 2, src.queryCount())
			require.NoError(t, l.Err())
			return
		default:
			mc.Add(time.Hour)
			time.Sleep(time.Millisecond)
		}
	}
}

func TestLoaderGivesUpAfterMaxAttempts(t *testing.T) {
	mc := clock.NewMock()
	old := build.Clock
	build.Clock = mc
	defer func() { build.Clock = old }()

	src := &fakeSource{failures: 100}
	l := New(src, &recordingApplier{}, "bounty")
	l.MaxAttempts = 3

	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()

	for {
		select {
		case err := <-done:
			require.ErrorContains(t, err, "could not load bounty data after 3 retries")
			require.ErrorContains(t, err, "all relays unreachable")
			require.Equal(t, 3, src.queryCount())
			require.ErrorContains(t, l.Err(), "could not load bounty data")
			return
		default:
			mc.Add(build.LoadRetryMax)
			time.Sleep(time.Millisecond)
		}
	}
}

func TestInjectNeverBlocks(t *testing.T) {
	// no Run loop draining; the queue fills and further injects drop
	l := New(&fakeSource{}, &recordingApplier{}, "bounty")
	for i := 0; i < 1000; i++ {
		l.Inject(env("e", int64(i+1)))
	}
}
