package loader

import (
	"context"
	"sort"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/jpillora/backoff"
	"go.opencensus.io/stats"
	"go.opencensus.io/tag"
	"golang.org/x/xerrors"

	"github.com/satwork/satwork/build"
	"github.com/satwork/satwork/events"
	"github.com/satwork/satwork/metrics"
)

var log = logging.Logger("loader")

// Source is the relay-network view the loader needs: a bulk
// historical query and a live subscription. Query is expected to
// enforce its own hard cutoff and return whatever it collected;
// only genuine failures (dial errors, protocol errors) surface as
// errors here.
type Source interface {
	Query(ctx context.Context, kinds []events.Kind) ([]*events.Envelope, error)
	Subscribe(ctx context.Context, kinds []events.Kind) (<-chan *events.Envelope, error)
}

// Applier consumes envelopes one at a time. workflow.Engine is the
// production implementation.
type Applier interface {
	Apply(ctx context.Context, env *events.Envelope) (bool, error)
	QueryKinds() []events.Kind
}

// Loader owns the single sequential apply path for one engine: it
// bulk-loads history, sorts it, replays it, then folds the live
// subscription and locally injected events through the same loop.
// Initialization failures retry with exponential backoff up to a
// capped attempt count, then the loader gives up and surfaces the
// error; a later Run call is the manual refresh.
type Loader struct {
	src    Source
	engine Applier
	wtype  string

	// MaxAttempts caps initialization retries per resource type.
	// RetryMin and RetryMax bound the exponential backoff between
	// attempts.
	MaxAttempts int
	RetryMin    time.Duration
	RetryMax    time.Duration

	inject chan *events.Envelope

	errLk   sync.Mutex
	lastErr error

	ready     chan struct{}
	readyOnce sync.Once
}

func New(src Source, engine Applier, workflowType string) *Loader {
	return &Loader{
		src:         src,
		engine:      engine,
		wtype:       workflowType,
		MaxAttempts: build.LoadRetryAttempts,
		RetryMin:    build.LoadRetryMin,
		RetryMax:    build.LoadRetryMax,
		inject:      make(chan *events.Envelope, 64),
		ready:       make(chan struct{}),
	}
}

// Inject queues a locally originated envelope onto the apply path.
// It never blocks the caller; under sustained backpressure the event
// is dropped locally and will still arrive via the relay echo.
func (l *Loader) Inject(env *events.Envelope) {
	select {
	case l.inject <- env:
	default:
		log.Warnf("local inject queue full, dropping event %s (will arrive via relay)", env.ID)
	}
}

// Ready unblocks once the initial bulk replay finished.
func (l *Loader) Ready() <-chan struct{} { return l.ready }

// Err returns the terminal load error, if the loader gave up.
func (l *Loader) Err() error {
	l.errLk.Lock()
	defer l.errLk.Unlock()
	return l.lastErr
}

func (l *Loader) setErr(err error) {
	l.errLk.Lock()
	l.lastErr = err
	l.errLk.Unlock()
}

// Run drives the loader until ctx is cancelled. It is the single
// writer for its engine: every mutation, whether from bulk history,
// the live subscription, or local injection, passes through this
// goroutine in sequence.
func (l *Loader) Run(ctx context.Context) error {
	l.setErr(nil)
	kinds := l.engine.QueryKinds()

	sub, err := l.initWithRetry(ctx, kinds)
	if err != nil {
		l.setErr(err)
		return err
	}
	l.readyOnce.Do(func() { close(l.ready) })

	for {
		select {
		case env, ok := <-sub:
			if !ok {
				return xerrors.Errorf("live subscription closed")
			}
			l.applyOne(ctx, env)
		case env := <-l.inject:
			l.applyOne(ctx, env)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// initWithRetry subscribes, then bulk-loads, retrying the whole
// initialization with exponential backoff. Subscribing before the
// bulk query is safe: both paths funnel through the same idempotent
// router, so an event seen twice is a no-op the second time.
func (l *Loader) initWithRetry(ctx context.Context, kinds []events.Kind) (<-chan *events.Envelope, error) {
	b := &backoff.Backoff{
		Min:    l.RetryMin,
		Max:    l.RetryMax,
		Factor: build.LoadRetryFactor,
	}

	var lastErr error
	for attempt := 1; attempt <= l.MaxAttempts; attempt++ {
		sub, err := l.initOnce(ctx, kinds)
		if err == nil {
			return sub, nil
		}
		lastErr = err

		metrics.Record(ctx, metrics.LoadRetries,
			tag.Upsert(metrics.WorkflowType, l.wtype))
		log.Warnf("load attempt %d/%d for %s failed: %s", attempt, l.MaxAttempts, l.wtype, err)

		if attempt == l.MaxAttempts {
			break
		}
		select {
		case <-build.Clock.After(b.Duration()):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, xerrors.Errorf("could not load %s data after %d retries: %w", l.wtype, l.MaxAttempts, lastErr)
}

func (l *Loader) initOnce(ctx context.Context, kinds []events.Kind) (<-chan *events.Envelope, error) {
	sub, err := l.src.Subscribe(ctx, kinds)
	if err != nil {
		return nil, xerrors.Errorf("subscribing to live events: %w", err)
	}

	start := build.Clock.Now()
	history, err := l.src.Query(ctx, kinds)
	if err != nil {
		return nil, xerrors.Errorf("bulk historical query: %w", err)
	}
	_ = stats.RecordWithTags(ctx,
		[]tag.Mutator{tag.Upsert(metrics.WorkflowType, l.wtype)},
		metrics.BulkLoadDuration.M(float64(build.Clock.Since(start).Milliseconds())))

	// Ascending by created_at; ties keep arrival order.
	sort.SliceStable(history, func(i, j int) bool {
		return history[i].CreatedAt < history[j].CreatedAt
	})

	log.Infof("replaying %d historical %s events", len(history), l.wtype)
	for _, env := range history {
		l.applyOne(ctx, env)
	}
	return sub, nil
}

// applyOne pushes one envelope through the engine. Nothing an event
// can contain is fatal: structural and authorization failures were
// already logged by the engine, and invalid transitions are expected
// duplicates. A bad event never halts replay of the ones behind it.
func (l *Loader) applyOne(ctx context.Context, env *events.Envelope) {
	if _, err := l.engine.Apply(ctx, env); err != nil {
		log.Debugf("event %s not applied: %s", env.ID, err)
	}
}
