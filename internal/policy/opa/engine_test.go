package opa

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/goodtune/scrollguard/internal/policy"
	"github.com/goodtune/scrollguard/internal/targets"
	"github.com/rs/zerolog"
)

const schedulePolicy = `package scrollguard

import rego.v1

default blocked := false

blocked if {
	input.group == "instagram"
}

# youtube shorts are only allowed in the evening
blocked if {
	input.group == "youtube"
	input.time.hour < 18
}
`

func writePolicy(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("write policy: %v", err)
	}
}

func newTestEngine(t *testing.T, content string) (*Engine, string) {
	t.Helper()
	dir := t.TempDir()
	writePolicy(t, dir, "scrollguard.rego", content)

	engine, err := NewEngine(Config{PolicyDir: dir}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine, dir
}

func TestEvaluateBlocked(t *testing.T) {
	engine, _ := newTestEngine(t, schedulePolicy)
	ctx := context.Background()

	morning := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	evening := time.Date(2024, 1, 2, 19, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		input   Input
		blocked bool
	}{
		{"instagram always", Input{Group: "instagram", Time: evening}, true},
		{"youtube morning", Input{Group: "youtube", Time: morning}, true},
		{"youtube evening", Input{Group: "youtube", Time: evening}, false},
		{"linkedin default", Input{Group: "linkedin", Time: morning}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blocked, err := engine.EvaluateBlocked(ctx, tt.input)
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if blocked != tt.blocked {
				t.Errorf("expected blocked=%v, got %v", tt.blocked, blocked)
			}
		})
	}
}

func TestEvaluateBlockedUndefinedIsFalse(t *testing.T) {
	engine, _ := newTestEngine(t, `package scrollguard

import rego.v1

blocked if {
	input.group == "snapchat"
}
`)

	blocked, err := engine.EvaluateBlocked(context.Background(), Input{Group: "instagram", Time: time.Now()})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if blocked {
		t.Error("expected undefined decision to mean not blocked")
	}
}

func TestEvaluateBlockedNonBoolean(t *testing.T) {
	engine, _ := newTestEngine(t, `package scrollguard

import rego.v1

blocked := "yes"
`)

	if _, err := engine.EvaluateBlocked(context.Background(), Input{Group: "instagram", Time: time.Now()}); err == nil {
		t.Error("expected error for non-boolean decision")
	}
}

func TestNewEngineErrors(t *testing.T) {
	if _, err := NewEngine(Config{PolicyDir: t.TempDir()}, zerolog.Nop()); err == nil {
		t.Error("expected error for empty policy directory")
	}

	dir := t.TempDir()
	writePolicy(t, dir, "broken.rego", "package scrollguard\n\nblocked if {")
	if _, err := NewEngine(Config{PolicyDir: dir}, zerolog.Nop()); err == nil {
		t.Error("expected error for unparsable policy")
	}
}

func TestReloadKeepsPreviousOnFailure(t *testing.T) {
	engine, dir := newTestEngine(t, schedulePolicy)
	ctx := context.Background()
	input := Input{Group: "instagram", Time: time.Now()}

	writePolicy(t, dir, "scrollguard.rego", "package scrollguard\n\nblocked if {")
	if err := engine.Reload(); err == nil {
		t.Fatal("expected reload to fail")
	}

	blocked, err := engine.EvaluateBlocked(ctx, input)
	if err != nil || !blocked {
		t.Fatalf("expected previous policy to stay active, got %v, %v", blocked, err)
	}

	writePolicy(t, dir, "scrollguard.rego", "package scrollguard\n\nimport rego.v1\n\ndefault blocked := false\n")
	if err := engine.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}

	blocked, err = engine.EvaluateBlocked(ctx, input)
	if err != nil || blocked {
		t.Fatalf("expected reloaded policy to allow, got %v, %v", blocked, err)
	}
}

// TestReloadThreadSafety tests that reload is thread-safe with concurrent evaluations
func TestReloadThreadSafety(t *testing.T) {
	engine, _ := newTestEngine(t, schedulePolicy)
	ctx := context.Background()

	var wg sync.WaitGroup
	done := make(chan struct{})

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
					_, _ = engine.EvaluateBlocked(ctx, Input{Group: "youtube", Time: time.Now()})
					time.Sleep(time.Millisecond)
				}
			}
		}()
	}

	for i := 0; i < 5; i++ {
		if err := engine.Reload(); err != nil {
			t.Errorf("reload %d: %v", i, err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	close(done)
	wg.Wait()
}

func TestSourceLoad(t *testing.T) {
	engine, _ := newTestEngine(t, schedulePolicy)

	registry, err := targets.NewRegistry(targets.Defaults()...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	clock := policy.NewTestClock(time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC))
	source := NewSource(engine, registry, clock)

	flags, err := source.Load(context.Background(), registry.Groups())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !flags["instagram"] || !flags["youtube"] || flags["linkedin"] || flags["snapchat"] {
		t.Fatalf("unexpected morning flags: %v", flags)
	}

	clock.Set(time.Date(2024, 1, 2, 20, 0, 0, 0, time.UTC))
	flags, err = source.Load(context.Background(), registry.Groups())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if flags["youtube"] {
		t.Fatalf("expected youtube allowed in the evening: %v", flags)
	}
}
