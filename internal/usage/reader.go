package usage

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/goodtune/scrollguard/internal/policy"
	"github.com/goodtune/scrollguard/internal/storage"
	"github.com/goodtune/scrollguard/internal/targets"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of closed days a Reader keeps in memory.
const DefaultCacheSize = 62

// Reader serves record listings for reports. Listings of days before today
// are cached; today is always read from the store.
type Reader struct {
	store storage.UsageStore
	clock policy.Clock
	days  *lru.Cache[string, []storage.UsageRecord]

	// epoch advances on every invalidation so a fill that raced with a
	// commit is not cached.
	epoch atomic.Uint64
}

// NewReader creates a reader caching up to cacheSize closed days.
func NewReader(store storage.UsageStore, clock policy.Clock, cacheSize int) (*Reader, error) {
	if clock == nil {
		clock = policy.RealClock{}
	}
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}

	days, err := lru.New[string, []storage.UsageRecord](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create day cache: %w", err)
	}

	return &Reader{store: store, clock: clock, days: days}, nil
}

// Invalidate drops the cached listing for date.
func (r *Reader) Invalidate(date string) {
	r.epoch.Add(1)
	r.days.Remove(date)
}

// Today returns today's date in the reader's clock.
func (r *Reader) Today() string {
	return r.clock.Now().Format(storage.DateLayout)
}

// Day lists the records of one date.
func (r *Reader) Day(ctx context.Context, date string) ([]storage.UsageRecord, error) {
	return r.Range(ctx, date, date)
}

// Range lists the records from startDate to endDate inclusive, ordered by
// date then identity.
func (r *Reader) Range(ctx context.Context, startDate, endDate string) ([]storage.UsageRecord, error) {
	dates, err := storage.DatesBetween(startDate, endDate)
	if err != nil {
		return nil, err
	}

	today := r.Today()
	records := make([]storage.UsageRecord, 0)
	for _, date := range dates {
		if date >= today {
			return r.fetchRange(ctx, dates, today)
		}
		cached, ok := r.days.Get(date)
		if !ok {
			return r.fetchRange(ctx, dates, today)
		}
		records = append(records, cached...)
	}
	return records, nil
}

// fetchRange reads the whole range once and caches every closed day.
func (r *Reader) fetchRange(ctx context.Context, dates []string, today string) ([]storage.UsageRecord, error) {
	epoch := r.epoch.Load()
	records, err := r.store.ListRange(ctx, dates[0], dates[len(dates)-1])
	if err != nil {
		return nil, err
	}
	if r.epoch.Load() != epoch {
		return records, nil
	}

	byDate := make(map[string][]storage.UsageRecord, len(dates))
	for _, record := range records {
		byDate[record.Date] = append(byDate[record.Date], record)
	}
	for _, date := range dates {
		if date < today {
			r.days.Add(date, byDate[date])
		}
	}
	return records, nil
}

// ByIdentity lists every record of one identity, oldest first.
func (r *Reader) ByIdentity(ctx context.Context, identity string) ([]storage.UsageRecord, error) {
	return r.store.ListByIdentity(ctx, identity)
}

// WeekRange returns the Monday and Sunday of the week containing now.
func WeekRange(now time.Time) (string, string) {
	offset := (int(now.Weekday()) + 6) % 7
	start := now.AddDate(0, 0, -offset)
	end := start.AddDate(0, 0, 6)
	return start.Format(storage.DateLayout), end.Format(storage.DateLayout)
}

// MonthRange returns the first and last day of the month containing now.
func MonthRange(now time.Time) (string, string) {
	start := time.Date(now.Year(), now.Month(), 1, 12, 0, 0, 0, now.Location())
	end := start.AddDate(0, 1, -1)
	return start.Format(storage.DateLayout), end.Format(storage.DateLayout)
}

// GroupTotal is the sum of all records of one tracked group.
type GroupTotal struct {
	Group string `json:"group"`
	Counters
}

// GroupTotals sums records per tracked group. Identities missing from the
// registry form their own group. Results are ordered by time spent, longest
// first.
func GroupTotals(records []storage.UsageRecord, registry *targets.Registry) []GroupTotal {
	sums := make(map[string]Counters)
	for _, record := range records {
		group := record.Identity
		if registry != nil {
			if target, ok := registry.Lookup(record.Identity); ok {
				group = target.Group
			}
		}
		sums[group] = sums[group].Add(Counters{
			ScrollCount:      record.ScrollCount,
			TimeSpentSeconds: record.TimeSpentSeconds,
			AppOpenCount:     record.AppOpenCount,
			ScrollsBlocked:   record.ScrollsBlocked,
		})
	}

	totals := make([]GroupTotal, 0, len(sums))
	for group, c := range sums {
		totals = append(totals, GroupTotal{Group: group, Counters: c})
	}
	sort.Slice(totals, func(i, j int) bool {
		if totals[i].TimeSpentSeconds != totals[j].TimeSpentSeconds {
			return totals[i].TimeSpentSeconds > totals[j].TimeSpentSeconds
		}
		return totals[i].Group < totals[j].Group
	})
	return totals
}

// Sum adds up all totals.
func Sum(totals []GroupTotal) Counters {
	var c Counters
	for _, t := range totals {
		c = c.Add(t.Counters)
	}
	return c
}
