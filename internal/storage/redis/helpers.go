package redis

import (
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/scrollguard/internal/storage"
)

const (
	keyPrefix = "scrollguard"
	policyKey = keyPrefix + ":policy"
)

func usageKey(date, identity string) string {
	return fmt.Sprintf("%s:usage:%s:%s", keyPrefix, date, identity)
}

func dateIndexKey(date string) string {
	return fmt.Sprintf("%s:usage:index:date:%s", keyPrefix, date)
}

func identityIndexKey(identity string) string {
	return fmt.Sprintf("%s:usage:index:identity:%s", keyPrefix, identity)
}

// parseUsageRecord converts a Redis hash to UsageRecord
func parseUsageRecord(data map[string]string) (*storage.UsageRecord, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	counters := map[string]int64{
		"scroll_count":       0,
		"time_spent_seconds": 0,
		"app_open_count":     0,
		"scrolls_blocked":    0,
	}
	for field := range counters {
		v, err := strconv.ParseInt(data[field], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", field, err)
		}
		counters[field] = v
	}

	updatedAt, err := time.Parse(time.RFC3339Nano, data["updated_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}

	return &storage.UsageRecord{
		Identity:         data["identity"],
		Date:             data["date"],
		ScrollCount:      counters["scroll_count"],
		TimeSpentSeconds: counters["time_spent_seconds"],
		AppOpenCount:     counters["app_open_count"],
		ScrollsBlocked:   counters["scrolls_blocked"],
		UpdatedAt:        updatedAt,
	}, nil
}

// parseFlag accepts the values operators tend to write by hand
func parseFlag(value string) (bool, error) {
	switch value {
	case "on", "yes":
		return true, nil
	case "off", "no":
		return false, nil
	}
	return strconv.ParseBool(value)
}
