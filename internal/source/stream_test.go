package source

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/goodtune/scrollguard/internal/engine"
	"github.com/goodtune/scrollguard/internal/policy"
	"github.com/goodtune/scrollguard/internal/targets"
	"github.com/goodtune/scrollguard/internal/usage"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	events []engine.Event
	err    error
}

func (r *recordingSink) Submit(_ context.Context, ev engine.Event) error {
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, ev)
	return nil
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    engine.Event
		wantErr bool
	}{
		{
			name: "scroll with anchors",
			line: `{"kind":"content_scrolled","identity":"com.instagram.android","index":4,"anchors":["com.instagram.android:id/clips_viewer_view_pager"]}`,
			want: engine.Event{
				Kind:         engine.KindContentScrolled,
				Identity:     "com.instagram.android",
				ContentIndex: 4,
				Anchors:      []string{"com.instagram.android:id/clips_viewer_view_pager"},
			},
		},
		{
			name: "empty anchor set",
			line: `{"kind":"content_scrolled","identity":"com.instagram.android","index":5,"anchors":[]}`,
			want: engine.Event{Kind: engine.KindContentScrolled, Identity: "com.instagram.android", ContentIndex: 5, Anchors: []string{}},
		},
		{
			name: "foreground without index",
			line: `{"kind":"FOREGROUND_CHANGED","identity":" com.linkedin.android "}`,
			want: engine.Event{Kind: engine.KindForegroundChanged, Identity: "com.linkedin.android"},
		},
		{name: "not json", line: `kind=content_scrolled`, wantErr: true},
		{name: "unknown kind", line: `{"kind":"zoomed","identity":"com.instagram.android"}`, wantErr: true},
		{name: "missing identity", line: `{"kind":"other"}`, wantErr: true},
		{name: "wrong index type", line: `{"kind":"content_scrolled","identity":"a","index":"x"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Decode([]byte(tt.line))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedEvent)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ev)
		})
	}
}

func TestRunSkipsMalformedLinesAndTracksAnchors(t *testing.T) {
	input := strings.Join([]string{
		`{"kind":"foreground_changed","identity":"com.instagram.android","anchors":["com.instagram.android:id/clips_viewer_view_pager"]}`,
		``,
		`garbage`,
		`{"kind":"content_scrolled","identity":"com.instagram.android","index":1}`,
		`{"kind":"content_scrolled","identity":"com.instagram.android","index":2,"anchors":[]}`,
	}, "\n")

	stream := New(strings.NewReader(input), &bytes.Buffer{}, zerolog.Nop())
	sink := &recordingSink{}
	require.NoError(t, stream.Run(context.Background(), sink))

	require.Len(t, sink.events, 3)
	assert.Equal(t, engine.KindForegroundChanged, sink.events[0].Kind)
	assert.EqualValues(t, 2, sink.events[2].ContentIndex)

	// a line without anchors inherits the last reported set
	assert.Equal(t, []string{"com.instagram.android:id/clips_viewer_view_pager"}, sink.events[1].Anchors)
	assert.Empty(t, sink.events[2].Anchors)
	assert.NotNil(t, sink.events[2].Anchors)

	// the last line reported an empty anchor set
	assert.False(t, stream.AnchorPresent("com.instagram.android", "com.instagram.android:id/clips_viewer_view_pager"))
	assert.False(t, stream.AnchorPresent("com.linkedin.android", "com.linkedin.android:id/feed_video_view_pager"))
}

func TestRunStopsWhenEngineCloses(t *testing.T) {
	input := `{"kind":"other","identity":"a"}` + "\n" + `{"kind":"other","identity":"b"}`
	stream := New(strings.NewReader(input), &bytes.Buffer{}, zerolog.Nop())

	assert.NoError(t, stream.Run(context.Background(), &recordingSink{err: engine.ErrClosed}))
	assert.Error(t, stream.Run(context.Background(), &recordingSink{err: errors.New("boom")}))
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	stream := New(strings.NewReader(`{"kind":"other","identity":"a"}`), &bytes.Buffer{}, zerolog.Nop())
	sink := &recordingSink{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, stream.Run(ctx, sink))
	assert.Empty(t, sink.events)
}

func TestCommands(t *testing.T) {
	var out bytes.Buffer
	stream := New(strings.NewReader(""), &out, zerolog.Nop())

	require.NoError(t, stream.Intercept(context.Background()))
	require.NoError(t, stream.Notify(context.Background(), "Feature Blocked"))

	assert.Equal(t, "{\"action\":\"back\"}\n{\"action\":\"toast\",\"message\":\"Feature Blocked\"}\n", out.String())
}

type nopCommitter struct {
	commits []usage.Counters
}

func (n *nopCommitter) Commit(_ context.Context, _, _ string, c usage.Counters) error {
	n.commits = append(n.commits, c)
	return nil
}

func TestStreamDrivesEngine(t *testing.T) {
	const anchor = "com.instagram.android:id/clips_viewer_view_pager"
	input := strings.Join([]string{
		`{"kind":"foreground_changed","identity":"com.instagram.android","anchors":["` + anchor + `"]}`,
		`{"kind":"content_scrolled","identity":"com.instagram.android","index":1}`,
		`{"kind":"content_scrolled","identity":"com.instagram.android","index":2}`,
		`{"kind":"foreground_changed","identity":"org.example.launcher"}`,
	}, "\n")

	registry, err := targets.NewRegistry(targets.Defaults()...)
	require.NoError(t, err)

	var out bytes.Buffer
	stream := New(strings.NewReader(input), &out, zerolog.Nop())
	holder := policy.NewHolder(policy.NewStaticSource(map[string]bool{"instagram": true}), registry.Groups(), nil, 0, zerolog.Nop())
	require.NoError(t, holder.Refresh(context.Background()))

	committer := &nopCommitter{}
	eng := engine.New(engine.Config{Thresholds: engine.DefaultThresholds()}, registry, holder, stream, committer, nil, zerolog.Nop())

	ctx := context.Background()
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	require.NoError(t, stream.Run(ctx, eng))

	closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, eng.Close(closeCtx))
	require.NoError(t, <-done)
	holder.Wait()

	require.Len(t, committer.commits, 1)
	assert.EqualValues(t, 3, committer.commits[0].ScrollsBlocked)
	assert.Equal(t, 3, strings.Count(out.String(), `{"action":"back"}`))
	assert.Equal(t, 3, strings.Count(out.String(), `"action":"toast"`))
}

func TestQueuedEventsKeepTheirOwnAnchors(t *testing.T) {
	const anchor = "com.instagram.android:id/clips_viewer_view_pager"
	input := strings.Join([]string{
		`{"kind":"content_scrolled","identity":"com.instagram.android","index":1,"anchors":["` + anchor + `"]}`,
		`{"kind":"content_scrolled","identity":"com.instagram.android","index":2}`,
		`{"kind":"content_scrolled","identity":"com.instagram.android","index":3,"anchors":[]}`,
		`{"kind":"content_scrolled","identity":"com.instagram.android","index":4}`,
	}, "\n")

	registry, err := targets.NewRegistry(targets.Defaults()...)
	require.NoError(t, err)

	var out bytes.Buffer
	stream := New(strings.NewReader(input), &out, zerolog.Nop())
	holder := policy.NewHolder(policy.NewStaticSource(map[string]bool{"instagram": true}), registry.Groups(), nil, 0, zerolog.Nop())
	require.NoError(t, holder.Refresh(context.Background()))

	eng := engine.New(engine.Config{Thresholds: engine.DefaultThresholds()}, registry, holder, stream, &nopCommitter{}, nil, zerolog.Nop())

	// every line is queued before the worker looks at the first one
	ctx := context.Background()
	require.NoError(t, stream.Run(ctx, eng))
	assert.False(t, stream.AnchorPresent("com.instagram.android", anchor))

	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, eng.Close(closeCtx))
	require.NoError(t, <-done)

	assert.EqualValues(t, 2, eng.Session().ScrollsBlocked)
	assert.Equal(t, 2, strings.Count(out.String(), `{"action":"back"}`))
}
