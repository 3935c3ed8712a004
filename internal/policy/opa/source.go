package opa

import (
	"context"
	"fmt"

	"github.com/goodtune/scrollguard/internal/policy"
	"github.com/goodtune/scrollguard/internal/targets"
)

// Source feeds a policy.Holder from rego decisions evaluated at load time.
type Source struct {
	engine   *Engine
	registry *targets.Registry
	clock    policy.Clock
}

// NewSource creates a policy source backed by engine.
func NewSource(engine *Engine, registry *targets.Registry, clock policy.Clock) *Source {
	if clock == nil {
		clock = policy.RealClock{}
	}
	return &Source{engine: engine, registry: registry, clock: clock}
}

// Load evaluates every group against the same instant.
func (s *Source) Load(ctx context.Context, groups []string) (map[string]bool, error) {
	now := s.clock.Now()
	flags := make(map[string]bool, len(groups))
	for _, group := range groups {
		blocked, err := s.engine.EvaluateBlocked(ctx, Input{
			Group:      group,
			Identities: s.registry.Identities(group),
			Time:       now,
		})
		if err != nil {
			return nil, fmt.Errorf("group %s: %w", group, err)
		}
		flags[group] = blocked
	}
	return flags, nil
}

var _ policy.Source = (*Source)(nil)
