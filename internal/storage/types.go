package storage

import (
	"fmt"
	"sort"
	"time"
)

// UsageRecord aggregates interaction metrics per identity and day.
// As an argument to MergeRecord it carries the increments to add.
type UsageRecord struct {
	Identity         string    `json:"identity"`
	Date             string    `json:"date"`
	ScrollCount      int64     `json:"scroll_count"`
	TimeSpentSeconds int64     `json:"time_spent_seconds"`
	AppOpenCount     int64     `json:"app_open_count"`
	ScrollsBlocked   int64     `json:"scrolls_blocked"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Validate checks that a merge delta is well formed.
func (r UsageRecord) Validate() error {
	if r.Identity == "" {
		return fmt.Errorf("usage record has empty identity")
	}
	if _, err := time.Parse(DateLayout, r.Date); err != nil {
		return fmt.Errorf("usage record has invalid date %q: %w", r.Date, err)
	}
	if r.ScrollCount < 0 || r.TimeSpentSeconds < 0 || r.AppOpenCount < 0 || r.ScrollsBlocked < 0 {
		return fmt.Errorf("usage record for %s has negative counters", r.Identity)
	}
	return nil
}

// Add returns r with delta's counters added and UpdatedAt taken from delta.
func (r UsageRecord) Add(delta UsageRecord) UsageRecord {
	r.ScrollCount += delta.ScrollCount
	r.TimeSpentSeconds += delta.TimeSpentSeconds
	r.AppOpenCount += delta.AppOpenCount
	r.ScrollsBlocked += delta.ScrollsBlocked
	r.UpdatedAt = delta.UpdatedAt
	return r
}

// SortRecords orders records by date, then identity.
func SortRecords(records []UsageRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].Date != records[j].Date {
			return records[i].Date < records[j].Date
		}
		return records[i].Identity < records[j].Identity
	})
}

// DatesBetween returns every date from start to end inclusive.
func DatesBetween(startDate, endDate string) ([]string, error) {
	start, err := time.Parse(DateLayout, startDate)
	if err != nil {
		return nil, fmt.Errorf("invalid start date: %w", err)
	}
	end, err := time.Parse(DateLayout, endDate)
	if err != nil {
		return nil, fmt.Errorf("invalid end date: %w", err)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("end date %s before start date %s", endDate, startDate)
	}

	var dates []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d.Format(DateLayout))
	}
	return dates, nil
}
