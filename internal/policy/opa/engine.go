package opa

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"
)

// BlockedQuery is the rule every policy bundle must define. An undefined
// result means "not blocked".
const BlockedQuery = "data.scrollguard.blocked"

// Config holds OPA engine configuration
type Config struct {
	PolicyDir string
}

// Engine wraps the OPA rego engine for per-group block decisions
type Engine struct {
	config Config
	logger zerolog.Logger

	mu           sync.RWMutex
	blockedQuery rego.PreparedEvalQuery
	modules      map[string]string
}

// NewEngine creates a new OPA engine and compiles the policies in PolicyDir
func NewEngine(config Config, logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		config: config,
		logger: logger.With().Str("component", "opa").Logger(),
	}

	if err := e.Reload(); err != nil {
		return nil, err
	}

	e.logger.Info().Str("policy_dir", config.PolicyDir).Msg("OPA engine initialized")
	return e, nil
}

// loadPolicies reads and parses all .rego files from the policy directory
func (e *Engine) loadPolicies() (map[string]string, error) {
	files, err := filepath.Glob(filepath.Join(e.config.PolicyDir, "*.rego"))
	if err != nil {
		return nil, fmt.Errorf("failed to glob policy files: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no policy files found in %s", e.config.PolicyDir)
	}
	sort.Strings(files)

	e.logger.Info().Int("count", len(files)).Msg("Loading policy files")

	modules := make(map[string]string, len(files))
	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read policy file %s: %w", file, err)
		}

		module, err := ast.ParseModule(file, string(content))
		if err != nil {
			return nil, fmt.Errorf("failed to parse policy file %s: %w", file, err)
		}

		modules[file] = string(content)
		e.logger.Debug().Str("file", file).Str("package", module.Package.Path.String()).Msg("Loaded policy module")
	}

	return modules, nil
}

// prepare compiles the blocked query against modules
func prepare(ctx context.Context, modules map[string]string) (rego.PreparedEvalQuery, error) {
	opts := []func(*rego.Rego){rego.Query(BlockedQuery)}
	for file, content := range modules {
		opts = append(opts, rego.Module(file, content))
	}
	return rego.New(opts...).PrepareForEval(ctx)
}

// Reload reloads all policies from disk. On failure the previously compiled
// policies stay active.
func (e *Engine) Reload() error {
	modules, err := e.loadPolicies()
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	query, err := prepare(context.Background(), modules)
	if err != nil {
		return fmt.Errorf("failed to prepare blocked query: %w", err)
	}

	e.mu.Lock()
	e.modules = modules
	e.blockedQuery = query
	e.mu.Unlock()

	e.logger.Info().Int("modules", len(modules)).Msg("OPA policies loaded")
	return nil
}

// Input is the document a blocked decision is evaluated against
type Input struct {
	Group      string
	Identities []string
	Time       time.Time
}

func (in Input) toMap() map[string]interface{} {
	identities := make([]interface{}, 0, len(in.Identities))
	for _, identity := range in.Identities {
		identities = append(identities, identity)
	}
	return map[string]interface{}{
		"group":      in.Group,
		"identities": identities,
		"time": map[string]interface{}{
			"day_of_week": int(in.Time.Weekday()),
			"hour":        in.Time.Hour(),
			"minute":      in.Time.Minute(),
		},
	}
}

// EvaluateBlocked evaluates the blocked rule for one group
func (e *Engine) EvaluateBlocked(ctx context.Context, in Input) (bool, error) {
	e.mu.RLock()
	query := e.blockedQuery
	e.mu.RUnlock()

	startTime := time.Now()
	results, err := query.Eval(ctx, rego.EvalInput(in.toMap()))
	if err != nil {
		return false, fmt.Errorf("blocked query evaluation failed: %w", err)
	}
	e.logger.Debug().Str("group", in.Group).Dur("duration_ms", time.Since(startTime)).Msg("Blocked query evaluated")

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, nil
	}

	blocked, ok := results[0].Expressions[0].Value.(bool)
	if !ok {
		return false, fmt.Errorf("blocked decision is not a boolean: %T", results[0].Expressions[0].Value)
	}
	return blocked, nil
}
