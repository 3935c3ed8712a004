// Package engine classifies the ordered interaction stream of a host, keeps
// the running session, and commits valid sessions as daily usage.
//
// All session state is owned by a single worker goroutine (Run) that drains
// an ordered queue fed by Submit. Policy refreshes are the only work started
// asynchronously.
package engine

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/goodtune/scrollguard/internal/metrics"
	"github.com/goodtune/scrollguard/internal/policy"
	"github.com/goodtune/scrollguard/internal/storage"
	"github.com/goodtune/scrollguard/internal/targets"
	"github.com/goodtune/scrollguard/internal/usage"
	"github.com/rs/zerolog"
)

// ErrClosed is returned by Submit once the engine stopped accepting events.
var ErrClosed = errors.New("engine: closed")

const (
	// DefaultQueueSize bounds the number of accepted but unprocessed events.
	DefaultQueueSize = 256

	// DefaultCommitTimeout bounds a single usage merge.
	DefaultCommitTimeout = 5 * time.Second

	// DefaultNotifyMessage accompanies every intercept.
	DefaultNotifyMessage = "Feature Blocked"
)

// Host is the application surface the events come from.
type Host interface {
	// AnchorPresent reports whether the host currently shows anchorID for
	// identity. It is consulted for events without an anchor snapshot.
	AnchorPresent(identity, anchorID string) bool
	// Intercept cancels the current navigation or gesture.
	Intercept(ctx context.Context) error
	// Notify shows a transient message to the user.
	Notify(ctx context.Context, message string) error
}

// Policy answers per-group block decisions.
type Policy interface {
	Blocked(group string) bool
	RefreshAsync()
}

// Committer persists validated session counters.
type Committer interface {
	Commit(ctx context.Context, identity, date string, c usage.Counters) error
}

// Config holds engine settings
type Config struct {
	Thresholds    Thresholds
	QueueSize     int
	CommitTimeout time.Duration
	NotifyMessage string
}

type pendingKey struct {
	identity string
	date     string
}

// Engine is the session engine
type Engine struct {
	config    Config
	registry  *targets.Registry
	policy    Policy
	host      Host
	committer Committer
	clock     policy.Clock
	logger    zerolog.Logger

	// worker-owned
	session Session
	pending map[pendingKey]usage.Counters

	events    chan Event
	quit      chan struct{} // unblocks pending Submits
	stopped   chan struct{} // closed once no Submit can enqueue
	done      chan struct{}
	closeOnce sync.Once
	runOnce   sync.Once

	mu     sync.RWMutex
	closed bool
}

// New creates an engine. Run must be called to start processing.
func New(config Config, registry *targets.Registry, pol Policy, host Host, committer Committer, clock policy.Clock, logger zerolog.Logger) *Engine {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}
	if config.CommitTimeout <= 0 {
		config.CommitTimeout = DefaultCommitTimeout
	}
	if config.NotifyMessage == "" {
		config.NotifyMessage = DefaultNotifyMessage
	}
	if clock == nil {
		clock = policy.RealClock{}
	}

	return &Engine{
		config:    config,
		registry:  registry,
		policy:    pol,
		host:      host,
		committer: committer,
		clock:     clock,
		logger:    logger.With().Str("component", "engine").Logger(),
		pending:   make(map[pendingKey]usage.Counters),
		events:    make(chan Event, config.QueueSize),
		quit:      make(chan struct{}),
		stopped:   make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Submit enqueues ev for processing, blocking while the queue is full.
func (e *Engine) Submit(ctx context.Context, ev Event) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return ErrClosed
	}

	select {
	case e.events <- ev:
		metrics.QueueDepth.Set(float64(len(e.events)))
		return nil
	case <-e.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes events in order until ctx is cancelled or Close is called.
// Events accepted before that point are still processed and pending commits
// are retried once before Run returns.
func (e *Engine) Run(ctx context.Context) error {
	started := false
	e.runOnce.Do(func() { started = true })
	if !started {
		return errors.New("engine: already running")
	}
	defer close(e.done)

	e.logger.Info().Int("queue_size", e.config.QueueSize).Msg("Engine started")

	for {
		select {
		case ev := <-e.events:
			metrics.QueueDepth.Set(float64(len(e.events)))
			e.handle(ctx, ev)
		case <-e.stopped:
			e.drain(ctx)
			return nil
		case <-ctx.Done():
			e.stopIntake()
			e.drain(ctx)
			return nil
		}
	}
}

// drain finishes every accepted event and retries pending commits.
func (e *Engine) drain(ctx context.Context) {
loop:
	for {
		select {
		case ev := <-e.events:
			e.handle(ctx, ev)
		default:
			break loop
		}
	}
	metrics.QueueDepth.Set(0)

	e.retryPending(ctx)
	if n := len(e.pending); n > 0 {
		e.logger.Error().Int("sessions", n).Msg("Engine stopped with uncommitted sessions")
	}
	e.logger.Info().Msg("Engine stopped")
}

func (e *Engine) stopIntake() {
	e.closeOnce.Do(func() {
		close(e.quit)
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()
		close(e.stopped)
	})
}

// Close stops accepting events and waits for Run to finish what was
// already accepted, or for ctx to expire.
func (e *Engine) Close(ctx context.Context) error {
	e.stopIntake()
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handle classifies one event against the session.
func (e *Engine) handle(ctx context.Context, ev Event) {
	if err := ev.validate(); err != nil {
		metrics.EventsDropped.WithLabelValues("malformed").Inc()
		e.logger.Warn().Err(err).Msg("Ignoring malformed event")
		return
	}
	metrics.EventsTotal.WithLabelValues(ev.Kind.String()).Inc()

	target, tracked := e.registry.Lookup(ev.Identity)

	if ev.Kind == KindForegroundChanged {
		e.flush(ctx)
		e.policy.RefreshAsync()
		if tracked {
			e.session.ActiveIdentity = ev.Identity
		} else {
			e.session.ActiveIdentity = ""
		}
	}

	if !tracked || ev.Kind == KindOther {
		return
	}
	if !e.anchorPresent(ev, target) {
		return
	}

	if e.policy.Blocked(target.Group) {
		e.block(ctx, ev, target)
		return
	}

	if !e.session.Started() {
		e.session.StartTime = e.clock.Now().Truncate(time.Second)
	}
	if ev.ContentIndex != e.session.LastContentIndex {
		e.session.ScrollCount++
		e.session.LastContentIndex = ev.ContentIndex
		metrics.ScrollsTotal.WithLabelValues(target.Group).Inc()
	}
}

// anchorPresent answers for the screen the event was reported on. The host
// is only asked when the event carries no anchor set.
func (e *Engine) anchorPresent(ev Event, target targets.Target) bool {
	if ev.Anchors == nil {
		return e.host.AnchorPresent(ev.Identity, target.AnchorID())
	}
	return ev.hasAnchor(target.AnchorID())
}

func (e *Engine) block(ctx context.Context, ev Event, target targets.Target) {
	e.session.ScrollsBlocked++
	metrics.ScrollsBlocked.WithLabelValues(target.Group).Inc()

	if err := e.host.Intercept(ctx); err != nil {
		e.logger.Warn().Err(err).Str("identity", ev.Identity).Msg("Intercept failed")
	}
	if err := e.host.Notify(ctx, e.config.NotifyMessage); err != nil {
		e.logger.Debug().Err(err).Msg("Notification not delivered")
	}

	e.logger.Debug().
		Str("identity", ev.Identity).
		Str("group", target.Group).
		Int64("blocked", e.session.ScrollsBlocked).
		Msg("Scroll blocked")
}

// flush evaluates the outgoing session, parks it for commit if valid, and
// resets it. The clock is read once so validity and committed time agree.
func (e *Engine) flush(ctx context.Context) {
	now := e.clock.Now()
	elapsed := e.session.Elapsed(now)

	if e.config.Thresholds.Valid(&e.session, elapsed) {
		key := pendingKey{identity: e.session.ActiveIdentity, date: now.Format(storage.DateLayout)}
		e.pending[key] = e.pending[key].Add(e.session.Counters(elapsed))
	} else if e.session.ActiveIdentity != "" {
		metrics.SessionsDiscarded.Inc()
		e.logger.Debug().
			Str("identity", e.session.ActiveIdentity).
			Int64("scrolls", e.session.ScrollCount).
			Int64("seconds", elapsed).
			Msg("Session below thresholds, discarded")
	}

	e.session.reset()
	e.retryPending(ctx)
}

// retryPending attempts one commit per parked session; failures stay parked
// for the next trigger.
func (e *Engine) retryPending(ctx context.Context) {
	if len(e.pending) == 0 {
		return
	}

	keys := make([]pendingKey, 0, len(e.pending))
	for key := range e.pending {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].date != keys[j].date {
			return keys[i].date < keys[j].date
		}
		return keys[i].identity < keys[j].identity
	})

	commitCtx := context.WithoutCancel(ctx)
	for _, key := range keys {
		c := e.pending[key]
		cctx, cancel := context.WithTimeout(commitCtx, e.config.CommitTimeout)
		err := e.committer.Commit(cctx, key.identity, key.date, c)
		cancel()

		if err != nil {
			e.logger.Error().Err(err).
				Str("identity", key.identity).
				Str("date", key.date).
				Int64("opens", c.AppOpenCount).
				Msg("Failed to commit session, will retry on next switch")
			continue
		}
		delete(e.pending, key)
	}
}

// Session returns a copy of the running session. It must only be called
// from the worker or after Run returned.
func (e *Engine) Session() Session {
	return e.session
}

// Pending returns the number of sessions waiting for a successful commit.
// Same caller restriction as Session.
func (e *Engine) Pending() int {
	return len(e.pending)
}
