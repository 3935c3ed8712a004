// Package policy provides the per-group block decision the engine consults
// on every matching interaction.
//
// Decisions are read from an immutable Snapshot that a Holder swaps wholesale
// after each refresh. Refreshes run asynchronously; readers always see some
// complete snapshot, never a partially updated one.
package policy

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goodtune/scrollguard/internal/metrics"
	"github.com/rs/zerolog"
)

// ErrUnknownSource is returned for an unrecognised policy source name.
var ErrUnknownSource = errors.New("policy: unknown source")

// DefaultRefreshTimeout bounds a single asynchronous refresh.
const DefaultRefreshTimeout = 2 * time.Second

// Snapshot is an immutable mapping from tracked group to "block enabled".
type Snapshot struct {
	blocked  map[string]bool
	loadedAt time.Time
}

// NewSnapshot copies flags into a new snapshot.
func NewSnapshot(flags map[string]bool, loadedAt time.Time) *Snapshot {
	blocked := make(map[string]bool, len(flags))
	for group, on := range flags {
		blocked[group] = on
	}
	return &Snapshot{blocked: blocked, loadedAt: loadedAt}
}

// Blocked reports whether group is blocked. Unknown groups and a nil
// snapshot are not blocked.
func (s *Snapshot) Blocked(group string) bool {
	if s == nil {
		return false
	}
	return s.blocked[group]
}

// LoadedAt returns when the snapshot was read from its source.
func (s *Snapshot) LoadedAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.loadedAt
}

// BlockedGroups returns the blocked groups, sorted.
func (s *Snapshot) BlockedGroups() []string {
	if s == nil {
		return nil
	}
	groups := make([]string, 0, len(s.blocked))
	for group, on := range s.blocked {
		if on {
			groups = append(groups, group)
		}
	}
	sort.Strings(groups)
	return groups
}

// Source reads the current block flags for the given groups.
type Source interface {
	Load(ctx context.Context, groups []string) (map[string]bool, error)
}

// Holder owns the current snapshot and refreshes it from a Source.
type Holder struct {
	source  Source
	groups  []string
	clock   Clock
	timeout time.Duration
	logger  zerolog.Logger

	current atomic.Pointer[Snapshot]

	mu       sync.Mutex
	running  bool
	pending  bool
	inflight sync.WaitGroup
}

// NewHolder creates a holder with an empty snapshot (nothing blocked).
func NewHolder(source Source, groups []string, clock Clock, timeout time.Duration, logger zerolog.Logger) *Holder {
	if clock == nil {
		clock = RealClock{}
	}
	if timeout <= 0 {
		timeout = DefaultRefreshTimeout
	}

	h := &Holder{
		source:  source,
		groups:  append([]string(nil), groups...),
		clock:   clock,
		timeout: timeout,
		logger:  logger.With().Str("component", "policy").Logger(),
	}
	h.current.Store(NewSnapshot(nil, time.Time{}))
	return h
}

// Snapshot returns the most recently loaded snapshot.
func (h *Holder) Snapshot() *Snapshot {
	return h.current.Load()
}

// Blocked reports whether group is blocked in the current snapshot.
func (h *Holder) Blocked(group string) bool {
	return h.current.Load().Blocked(group)
}

// Refresh loads a new snapshot synchronously. On failure the previous
// snapshot stays in place.
func (h *Holder) Refresh(ctx context.Context) error {
	flags, err := h.source.Load(ctx, h.groups)
	if err != nil {
		metrics.PolicyRefreshes.WithLabelValues("error").Inc()
		return err
	}

	h.current.Store(NewSnapshot(flags, h.clock.Now()))
	metrics.PolicyRefreshes.WithLabelValues("ok").Inc()
	return nil
}

// RefreshAsync starts a refresh without blocking the caller. Calls made while
// a refresh is running are coalesced into one follow-up refresh.
func (h *Holder) RefreshAsync() {
	h.mu.Lock()
	if h.running {
		h.pending = true
		h.mu.Unlock()
		return
	}
	h.running = true
	h.inflight.Add(1)
	h.mu.Unlock()

	go func() {
		defer h.inflight.Done()
		for {
			ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
			if err := h.Refresh(ctx); err != nil {
				h.logger.Warn().Err(err).Msg("Policy refresh failed, keeping last snapshot")
			}
			cancel()

			h.mu.Lock()
			if !h.pending {
				h.running = false
				h.mu.Unlock()
				return
			}
			h.pending = false
			h.mu.Unlock()
		}
	}()
}

// Wait blocks until no asynchronous refresh is running.
func (h *Holder) Wait() {
	h.inflight.Wait()
}
