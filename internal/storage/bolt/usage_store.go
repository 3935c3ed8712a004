package bolt

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/goodtune/scrollguard/internal/storage"
	"go.etcd.io/bbolt"
)

type usageStore struct {
	db *bbolt.DB
}

// usageKey sorts records by date first so range scans can use a cursor.
func usageKey(date, identity string) string {
	return date + "/" + identity
}

func (s *usageStore) GetRecord(ctx context.Context, identity, date string) (*storage.UsageRecord, error) {
	return getBucketValue[storage.UsageRecord](ctx, s.db, bucketUsage, usageKey(date, identity))
}

// MergeRecord runs the read-modify-write inside one write transaction; bbolt
// allows a single writer at a time, so concurrent merges serialize.
func (s *usageStore) MergeRecord(ctx context.Context, delta storage.UsageRecord) error {
	if err := delta.Validate(); err != nil {
		return err
	}

	key := []byte(usageKey(delta.Date, delta.Identity))
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketUsage))
		if b == nil {
			return fmt.Errorf("usage bucket missing")
		}

		record := storage.UsageRecord{Identity: delta.Identity, Date: delta.Date}
		if existing := b.Get(key); existing != nil {
			if err := unmarshal(existing, &record); err != nil {
				return err
			}
		}
		record = record.Add(delta)

		data, err := marshal(record)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

func (s *usageStore) ListByDate(ctx context.Context, date string) ([]storage.UsageRecord, error) {
	return s.ListRange(ctx, date, date)
}

func (s *usageStore) ListByIdentity(ctx context.Context, identity string) ([]storage.UsageRecord, error) {
	suffix := "/" + identity
	return s.scan(ctx, nil, func(k []byte) (match, stop bool) {
		return strings.HasSuffix(string(k), suffix), false
	})
}

func (s *usageStore) ListRange(ctx context.Context, startDate, endDate string) ([]storage.UsageRecord, error) {
	if _, err := storage.DatesBetween(startDate, endDate); err != nil {
		return nil, err
	}

	// "/" sorts below every identity byte, "0" above it
	upper := []byte(endDate + "0")
	return s.scan(ctx, []byte(startDate+"/"), func(k []byte) (match, stop bool) {
		if bytes.Compare(k, upper) >= 0 {
			return false, true
		}
		return true, false
	})
}

// scan walks the usage bucket from seek (or the first key when nil).
func (s *usageStore) scan(ctx context.Context, seek []byte, filter func(k []byte) (match, stop bool)) ([]storage.UsageRecord, error) {
	records := make([]storage.UsageRecord, 0)
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketUsage))
		if b == nil {
			return nil
		}

		c := b.Cursor()
		var k, v []byte
		if seek == nil {
			k, v = c.First()
		} else {
			k, v = c.Seek(seek)
		}

		for ; k != nil; k, v = c.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			match, stop := filter(k)
			if stop {
				break
			}
			if !match {
				continue
			}
			var record storage.UsageRecord
			if err := unmarshal(v, &record); err != nil {
				return err
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	storage.SortRecords(records)
	return records, nil
}
