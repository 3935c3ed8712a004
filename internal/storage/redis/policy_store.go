package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

type policyStore struct {
	client *redis.Client
}

// GetFlags returns the block flag of every configured group
func (s *policyStore) GetFlags(ctx context.Context) (map[string]bool, error) {
	data, err := s.client.HGetAll(ctx, policyKey).Result()
	if err != nil {
		return nil, err
	}

	flags := make(map[string]bool, len(data))
	for group, value := range data {
		blocked, err := parseFlag(value)
		if err != nil {
			return nil, fmt.Errorf("invalid flag for group %s: %w", group, err)
		}
		flags[group] = blocked
	}

	return flags, nil
}

// SetFlag records whether group is blocked
func (s *policyStore) SetFlag(ctx context.Context, group string, blocked bool) error {
	group = strings.ToLower(strings.TrimSpace(group))
	if group == "" {
		return fmt.Errorf("empty policy group")
	}

	value := "0"
	if blocked {
		value = "1"
	}

	return s.client.HSet(ctx, policyKey, group, value).Err()
}
