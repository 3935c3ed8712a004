package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goodtune/scrollguard/internal/config"
	"github.com/goodtune/scrollguard/internal/policy"
	"github.com/goodtune/scrollguard/internal/targets"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Tuesday
var checkNow = time.Date(2024, 5, 14, 9, 30, 0, 0, time.UTC)

func TestParseCheckTime(t *testing.T) {
	tests := []struct {
		name    string
		day     string
		clock   string
		want    time.Time
		wantErr bool
	}{
		{name: "defaults to now", want: time.Date(2024, 5, 14, 9, 30, 0, 0, time.UTC)},
		{name: "time only", clock: "18:45", want: time.Date(2024, 5, 14, 18, 45, 0, 0, time.UTC)},
		{name: "later weekday", day: "Friday", clock: "07:00", want: time.Date(2024, 5, 17, 7, 0, 0, 0, time.UTC)},
		{name: "earlier weekday wraps", day: "mon", want: time.Date(2024, 5, 20, 9, 30, 0, 0, time.UTC)},
		{name: "same weekday", day: "tue", clock: "00:00", want: time.Date(2024, 5, 14, 0, 0, 0, 0, time.UTC)},
		{name: "bad day", day: "someday", wantErr: true},
		{name: "bad format", clock: "1830", wantErr: true},
		{name: "out of range", clock: "24:10", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseCheckTime(checkNow, tt.day, tt.clock)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestParseOnOff(t *testing.T) {
	for _, s := range []string{"on", "ON", "true", "block"} {
		blocked, err := parseOnOff(s)
		require.NoError(t, err, s)
		assert.True(t, blocked, s)
	}
	for _, s := range []string{"off", " Off ", "false", "allow"} {
		blocked, err := parseOnOff(s)
		require.NoError(t, err, s)
		assert.False(t, blocked, s)
	}

	_, err := parseOnOff("maybe")
	assert.Error(t, err)
}

func TestParseDuration(t *testing.T) {
	assert.Equal(t, 90*time.Second, parseDuration("90s", time.Second))
	assert.Equal(t, time.Second, parseDuration("soon", time.Second))
	assert.Equal(t, time.Second, parseDuration("", time.Second))
}

func TestStatsRange(t *testing.T) {
	tests := []struct {
		name      string
		period    string
		date      string
		from, to  string
		wantStart string
		wantEnd   string
		wantErr   bool
	}{
		{name: "today", period: "day", wantStart: "2024-05-14", wantEnd: "2024-05-14"},
		{name: "given day", period: "day", date: "2024-04-30", wantStart: "2024-04-30", wantEnd: "2024-04-30"},
		{name: "week", period: "week", wantStart: "2024-05-13", wantEnd: "2024-05-19"},
		{name: "month", period: "month", date: "2024-02-10", wantStart: "2024-02-01", wantEnd: "2024-02-29"},
		{name: "explicit", from: "2024-05-01", to: "2024-05-03", wantStart: "2024-05-01", wantEnd: "2024-05-03"},
		{name: "half explicit", from: "2024-05-01", wantErr: true},
		{name: "reversed", from: "2024-05-03", to: "2024-05-01", wantErr: true},
		{name: "bad date", period: "day", date: "14/05/2024", wantErr: true},
		{name: "bad period", period: "year", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, err := statsRange(checkNow, tt.period, tt.date, tt.from, tt.to)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStart, start)
			assert.Equal(t, tt.wantEnd, end)
		})
	}
}

func TestEngineConfig(t *testing.T) {
	cfg := engineConfig(config.EngineConfig{
		MinTimeSpent:      "10s",
		MinScrollCount:    4,
		MinScrollsBlocked: 2,
		QueueSize:         32,
		NotifyMessage:     "Nope",
	})

	assert.Equal(t, 10*time.Second, cfg.Thresholds.MinTimeSpent)
	assert.EqualValues(t, 4, cfg.Thresholds.MinScrollCount)
	assert.EqualValues(t, 2, cfg.Thresholds.MinScrollsBlocked)
	assert.Equal(t, 32, cfg.QueueSize)
	assert.Equal(t, "Nope", cfg.NotifyMessage)

	fallback := engineConfig(config.EngineConfig{MinTimeSpent: "later"})
	assert.Equal(t, 5*time.Second, fallback.Thresholds.MinTimeSpent)
}

func TestOpenStorage(t *testing.T) {
	store, err := openStorage(config.StorageConfig{
		Type: "bolt",
		Bolt: config.BoltConfig{Path: filepath.Join(t.TempDir(), "usage.bolt")},
	})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = openStorage(config.StorageConfig{Type: "mongo"})
	assert.Error(t, err)
}

func TestBuildPolicySource(t *testing.T) {
	registry, err := targets.NewRegistry(targets.Defaults()...)
	require.NoError(t, err)
	groups := registry.Groups()
	ctx := context.Background()

	t.Run("static", func(t *testing.T) {
		cfg := &config.Config{Policy: config.PolicyConfig{Source: "static", Blocked: map[string]bool{"youtube": true}}}
		source, opaEngine, err := buildPolicySource(cfg, nil, registry, nil, zerolog.Nop())
		require.NoError(t, err)
		assert.Nil(t, opaEngine)

		flags, err := source.Load(ctx, groups)
		require.NoError(t, err)
		assert.True(t, flags["youtube"])
		assert.False(t, flags["instagram"])
	})

	t.Run("store", func(t *testing.T) {
		store, err := openStorage(config.StorageConfig{
			Type: "bolt",
			Bolt: config.BoltConfig{Path: filepath.Join(t.TempDir(), "usage.bolt")},
		})
		require.NoError(t, err)
		defer store.Close()
		require.NoError(t, store.Policy().SetFlag(ctx, "linkedin", true))

		cfg := &config.Config{Policy: config.PolicyConfig{Source: "store"}}
		source, _, err := buildPolicySource(cfg, store, registry, nil, zerolog.Nop())
		require.NoError(t, err)

		flags, err := source.Load(ctx, groups)
		require.NoError(t, err)
		assert.True(t, flags["linkedin"])
		assert.False(t, flags["snapchat"])
	})

	t.Run("opa", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "blocked.rego"), []byte(`package scrollguard

import rego.v1

default blocked := false

blocked if {
	input.group == "snapchat"
	input.time.hour >= 20
}
`), 0644))

		cfg := &config.Config{Policy: config.PolicyConfig{Source: "opa", OPAPolicyDir: dir}}
		clock := policy.NewTestClock(time.Date(2024, 5, 14, 21, 0, 0, 0, time.UTC))
		source, opaEngine, err := buildPolicySource(cfg, nil, registry, clock, zerolog.Nop())
		require.NoError(t, err)
		require.NotNil(t, opaEngine)

		flags, err := source.Load(ctx, groups)
		require.NoError(t, err)
		assert.True(t, flags["snapchat"])
		assert.False(t, flags["youtube"])

		clock.Set(time.Date(2024, 5, 14, 8, 0, 0, 0, time.UTC))
		flags, err = source.Load(ctx, groups)
		require.NoError(t, err)
		assert.False(t, flags["snapchat"])
	})

	t.Run("unknown", func(t *testing.T) {
		cfg := &config.Config{Policy: config.PolicyConfig{Source: "ldap"}}
		_, _, err := buildPolicySource(cfg, nil, registry, nil, zerolog.Nop())
		assert.ErrorIs(t, err, policy.ErrUnknownSource)
	})
}

func TestOpenInputOutput(t *testing.T) {
	in, closeIn, err := openInput("-")
	require.NoError(t, err)
	assert.Equal(t, os.Stdin, in)
	closeIn()

	_, _, err = openInput(filepath.Join(t.TempDir(), "missing.ndjson"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "commands.ndjson")
	out, closeOut, err := openOutput(path)
	require.NoError(t, err)
	_, err = out.Write([]byte("{\"action\":\"back\"}\n"))
	require.NoError(t, err)
	closeOut()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\"action\":\"back\"}\n", string(data))
}
