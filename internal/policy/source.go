package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/goodtune/scrollguard/internal/storage"
)

// StaticSource serves fixed flags, typically from configuration.
type StaticSource struct {
	flags map[string]bool
}

// NewStaticSource copies flags with lowercased group keys.
func NewStaticSource(flags map[string]bool) *StaticSource {
	normalized := make(map[string]bool, len(flags))
	for group, on := range flags {
		normalized[strings.ToLower(group)] = on
	}
	return &StaticSource{flags: normalized}
}

// Load returns the configured flag for each requested group.
func (s *StaticSource) Load(_ context.Context, groups []string) (map[string]bool, error) {
	return pick(s.flags, groups), nil
}

// StoreSource reads flags from the persisted per-group settings.
type StoreSource struct {
	store storage.PolicyStore
}

// NewStoreSource creates a source backed by store.
func NewStoreSource(store storage.PolicyStore) *StoreSource {
	return &StoreSource{store: store}
}

// Load reads all flags and keeps the requested groups.
func (s *StoreSource) Load(ctx context.Context, groups []string) (map[string]bool, error) {
	flags, err := s.store.GetFlags(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy flags: %w", err)
	}
	return pick(flags, groups), nil
}

// pick restricts flags to groups; groups missing from flags are not blocked.
func pick(flags map[string]bool, groups []string) map[string]bool {
	result := make(map[string]bool, len(groups))
	for _, group := range groups {
		result[group] = flags[group]
	}
	return result
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, groups []string) (map[string]bool, error)

// Load calls f.
func (f SourceFunc) Load(ctx context.Context, groups []string) (map[string]bool, error) {
	return f(ctx, groups)
}
