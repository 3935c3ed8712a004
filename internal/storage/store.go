package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// DateLayout is the layout of UsageRecord.Date.
const DateLayout = "2006-01-02"

// Store represents the root storage interface.
type Store interface {
	Close() error
	Usage() UsageStore
	Policy() PolicyStore
}

// UsageStore manages per-identity, per-day usage records.
//
// MergeRecord is the only write path. Implementations must make the
// read-modify-write atomic per (identity, date) so that concurrent merges add
// rather than overwrite.
type UsageStore interface {
	GetRecord(ctx context.Context, identity, date string) (*UsageRecord, error)
	MergeRecord(ctx context.Context, delta UsageRecord) error
	ListByDate(ctx context.Context, date string) ([]UsageRecord, error)
	ListByIdentity(ctx context.Context, identity string) ([]UsageRecord, error)
	ListRange(ctx context.Context, startDate, endDate string) ([]UsageRecord, error)
}

// PolicyStore manages per-group block flags set by the operator.
type PolicyStore interface {
	GetFlags(ctx context.Context) (map[string]bool, error)
	SetFlag(ctx context.Context, group string, blocked bool) error
}
