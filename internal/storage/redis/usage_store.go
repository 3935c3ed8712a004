package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/scrollguard/internal/storage"
	"github.com/redis/go-redis/v9"
)

type usageStore struct {
	client *redis.Client
	merge  *redis.Script
}

// GetRecord retrieves the usage record for an identity on a date
func (s *usageStore) GetRecord(ctx context.Context, identity, date string) (*storage.UsageRecord, error) {
	data, err := s.client.HGetAll(ctx, usageKey(date, identity)).Result()
	if err != nil {
		return nil, err
	}

	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	return parseUsageRecord(data)
}

// MergeRecord atomically creates or adds to the record for (identity, date)
func (s *usageStore) MergeRecord(ctx context.Context, delta storage.UsageRecord) error {
	if err := delta.Validate(); err != nil {
		return err
	}

	keys := []string{
		usageKey(delta.Date, delta.Identity),
		dateIndexKey(delta.Date),
		identityIndexKey(delta.Identity),
	}
	args := []interface{}{
		delta.Identity,
		delta.Date,
		delta.ScrollCount,
		delta.TimeSpentSeconds,
		delta.AppOpenCount,
		delta.ScrollsBlocked,
		delta.UpdatedAt.Format(time.RFC3339Nano),
	}

	if err := s.merge.Run(ctx, s.client, keys, args...).Err(); err != nil {
		return fmt.Errorf("merge usage record: %w", err)
	}
	return nil
}

// ListByDate returns every record for a date
func (s *usageStore) ListByDate(ctx context.Context, date string) ([]storage.UsageRecord, error) {
	identities, err := s.client.SMembers(ctx, dateIndexKey(date)).Result()
	if err != nil {
		return nil, err
	}

	keys := make([]string, len(identities))
	for i, identity := range identities {
		keys[i] = usageKey(date, identity)
	}

	return s.fetch(ctx, keys)
}

// ListByIdentity returns every record for an identity across all dates
func (s *usageStore) ListByIdentity(ctx context.Context, identity string) ([]storage.UsageRecord, error) {
	dates, err := s.client.SMembers(ctx, identityIndexKey(identity)).Result()
	if err != nil {
		return nil, err
	}

	keys := make([]string, len(dates))
	for i, date := range dates {
		keys[i] = usageKey(date, identity)
	}

	return s.fetch(ctx, keys)
}

// ListRange returns every record with a date in [startDate, endDate]
func (s *usageStore) ListRange(ctx context.Context, startDate, endDate string) ([]storage.UsageRecord, error) {
	dates, err := storage.DatesBetween(startDate, endDate)
	if err != nil {
		return nil, err
	}

	// Resolve the date indexes in one round trip
	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringSliceCmd, len(dates))
	for i, date := range dates {
		cmds[i] = pipe.SMembers(ctx, dateIndexKey(date))
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	var keys []string
	for i, cmd := range cmds {
		for _, identity := range cmd.Val() {
			keys = append(keys, usageKey(dates[i], identity))
		}
	}

	return s.fetch(ctx, keys)
}

// fetch loads the given record hashes with a pipeline
func (s *usageStore) fetch(ctx context.Context, keys []string) ([]storage.UsageRecord, error) {
	if len(keys) == 0 {
		return []storage.UsageRecord{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.HGetAll(ctx, key)
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	records := make([]storage.UsageRecord, 0, len(keys))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}

		record, err := parseUsageRecord(data)
		if err == nil {
			records = append(records, *record)
		}
	}

	storage.SortRecords(records)
	return records, nil
}
