// Package usage turns validated sessions into durable per-day records and
// reads them back for reporting.
package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/scrollguard/internal/metrics"
	"github.com/goodtune/scrollguard/internal/policy"
	"github.com/goodtune/scrollguard/internal/storage"
	"github.com/goodtune/scrollguard/internal/targets"
	"github.com/rs/zerolog"
)

// Counters are the accumulators of one or more sessions.
type Counters struct {
	ScrollCount      int64 `json:"scroll_count"`
	TimeSpentSeconds int64 `json:"time_spent_seconds"`
	AppOpenCount     int64 `json:"app_open_count"`
	ScrollsBlocked   int64 `json:"scrolls_blocked"`
}

// Add returns the field-wise sum of c and other.
func (c Counters) Add(other Counters) Counters {
	return Counters{
		ScrollCount:      c.ScrollCount + other.ScrollCount,
		TimeSpentSeconds: c.TimeSpentSeconds + other.TimeSpentSeconds,
		AppOpenCount:     c.AppOpenCount + other.AppOpenCount,
		ScrollsBlocked:   c.ScrollsBlocked + other.ScrollsBlocked,
	}
}

// IsZero reports whether every counter is zero.
func (c Counters) IsZero() bool {
	return c == Counters{}
}

// Invalidator drops cached reads for a date after it was written.
type Invalidator interface {
	Invalidate(date string)
}

// Aggregator merges session counters into the usage store.
type Aggregator struct {
	store       storage.UsageStore
	registry    *targets.Registry
	clock       policy.Clock
	invalidator Invalidator
	logger      zerolog.Logger
}

// NewAggregator creates an aggregator. registry only labels metrics and may
// be nil.
func NewAggregator(store storage.UsageStore, registry *targets.Registry, clock policy.Clock, logger zerolog.Logger) *Aggregator {
	if clock == nil {
		clock = policy.RealClock{}
	}
	return &Aggregator{
		store:    store,
		registry: registry,
		clock:    clock,
		logger:   logger.With().Str("component", "usage").Logger(),
	}
}

// SetInvalidator registers a cache to invalidate after successful commits.
func (a *Aggregator) SetInvalidator(inv Invalidator) {
	a.invalidator = inv
}

// Commit adds c to the record for (identity, date) in one atomic merge. The
// record is created with c verbatim if it does not exist yet.
func (a *Aggregator) Commit(ctx context.Context, identity, date string, c Counters) error {
	startTime := time.Now()
	err := a.store.MergeRecord(ctx, storage.UsageRecord{
		Identity:         identity,
		Date:             date,
		ScrollCount:      c.ScrollCount,
		TimeSpentSeconds: c.TimeSpentSeconds,
		AppOpenCount:     c.AppOpenCount,
		ScrollsBlocked:   c.ScrollsBlocked,
		UpdatedAt:        a.clock.Now(),
	})
	metrics.CommitDuration.Observe(time.Since(startTime).Seconds())

	if err != nil {
		metrics.CommitErrors.Inc()
		return fmt.Errorf("failed to merge usage for %s on %s: %w", identity, date, err)
	}

	group := a.groupOf(identity)
	metrics.SessionsCommitted.WithLabelValues(group).Add(float64(c.AppOpenCount))
	metrics.TimeSpentSeconds.WithLabelValues(group).Add(float64(c.TimeSpentSeconds))

	if a.invalidator != nil {
		a.invalidator.Invalidate(date)
	}

	a.logger.Debug().
		Str("identity", identity).
		Str("date", date).
		Int64("scrolls", c.ScrollCount).
		Int64("seconds", c.TimeSpentSeconds).
		Int64("opens", c.AppOpenCount).
		Int64("blocked", c.ScrollsBlocked).
		Msg("Usage committed")

	return nil
}

func (a *Aggregator) groupOf(identity string) string {
	if a.registry != nil {
		if target, ok := a.registry.Lookup(identity); ok {
			return target.Group
		}
	}
	return identity
}
