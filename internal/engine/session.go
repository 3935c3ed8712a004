package engine

import (
	"time"

	"github.com/goodtune/scrollguard/internal/usage"
)

// Thresholds decide whether an ending session is worth persisting. Meeting
// any one of them is enough.
type Thresholds struct {
	MinTimeSpent      time.Duration
	MinScrollCount    int64
	MinScrollsBlocked int64
}

// DefaultThresholds returns 5s dwell, 3 scrolls or 1 blocked scroll.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinTimeSpent:      5 * time.Second,
		MinScrollCount:    3,
		MinScrollsBlocked: 1,
	}
}

// Session accumulates everything since the last flush. It is owned by the
// engine's worker and never shared.
type Session struct {
	ActiveIdentity   string
	ScrollCount      int64
	ScrollsBlocked   int64
	StartTime        time.Time // zero until timing starts
	LastContentIndex int64
}

// Started reports whether timing has begun.
func (s *Session) Started() bool {
	return !s.StartTime.IsZero()
}

// Elapsed returns whole seconds from the session start to now, never
// negative. It is zero when timing never started.
func (s *Session) Elapsed(now time.Time) int64 {
	if !s.Started() {
		return 0
	}
	elapsed := int64(now.Truncate(time.Second).Sub(s.StartTime) / time.Second)
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

// Valid reports whether s should be committed given the elapsed seconds.
func (t Thresholds) Valid(s *Session, elapsed int64) bool {
	if s.ActiveIdentity == "" {
		return false
	}
	if s.Started() && elapsed >= int64(t.MinTimeSpent/time.Second) {
		return true
	}
	if s.ScrollCount >= t.MinScrollCount {
		return true
	}
	return s.ScrollsBlocked >= t.MinScrollsBlocked
}

// Counters converts s into one committed open.
func (s *Session) Counters(elapsed int64) usage.Counters {
	return usage.Counters{
		ScrollCount:      s.ScrollCount,
		TimeSpentSeconds: elapsed,
		AppOpenCount:     1,
		ScrollsBlocked:   s.ScrollsBlocked,
	}
}

func (s *Session) reset() {
	*s = Session{}
}
