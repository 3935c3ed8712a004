// Package source connects the engine to a host that speaks newline-delimited
// JSON: events arrive on one stream, intercept and toast commands leave on
// another.
package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/goodtune/scrollguard/internal/engine"
	"github.com/goodtune/scrollguard/internal/metrics"
	"github.com/rs/zerolog"
)

// ErrMalformedEvent is wrapped by decode errors.
var ErrMalformedEvent = errors.New("source: malformed event")

// maxLineSize bounds a single event line.
const maxLineSize = 1 << 20

// wireEvent is the JSON form of one event line.
type wireEvent struct {
	Kind     string   `json:"kind"`
	Identity string   `json:"identity"`
	Index    int64    `json:"index"`
	Anchors  []string `json:"anchors,omitempty"`
}

// command is the JSON form of one output line.
type command struct {
	Action  string `json:"action"`
	Message string `json:"message,omitempty"`
}

// Decode parses one event line. The event's Anchors are nil when the line
// does not report the visible anchors.
func Decode(line []byte) (engine.Event, error) {
	var w wireEvent
	if err := json.Unmarshal(line, &w); err != nil {
		return engine.Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	kind, err := engine.ParseKind(w.Kind)
	if err != nil {
		return engine.Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	identity := strings.TrimSpace(w.Identity)
	if identity == "" {
		return engine.Event{}, fmt.Errorf("%w: missing identity", ErrMalformedEvent)
	}

	return engine.Event{Kind: kind, Identity: identity, ContentIndex: w.Index, Anchors: w.Anchors}, nil
}

// Sink accepts decoded events in order.
type Sink interface {
	Submit(ctx context.Context, ev engine.Event) error
}

// Stream reads host events and implements engine.Host on top of the
// command stream.
type Stream struct {
	in     io.Reader
	out    io.Writer
	logger zerolog.Logger

	writeMu sync.Mutex

	anchorsMu sync.RWMutex
	anchors   map[string][]string
}

// New creates a stream over in and out.
func New(in io.Reader, out io.Writer, logger zerolog.Logger) *Stream {
	return &Stream{
		in:      in,
		out:     out,
		logger:  logger.With().Str("component", "source").Logger(),
		anchors: make(map[string][]string),
	}
}

// Run forwards every well-formed line to sink until the input ends, ctx is
// cancelled, or sink stops accepting events. Every forwarded event carries
// the anchor set in effect for its line: the one it reported, or else the
// last one reported for the same identity.
func (s *Stream) Run(ctx context.Context, sink Sink) error {
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	lineNo := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil
		}
		lineNo++

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		ev, err := Decode(line)
		if err != nil {
			metrics.EventsDropped.WithLabelValues("malformed").Inc()
			s.logger.Warn().Err(err).Int("line", lineNo).Msg("Skipping malformed event")
			continue
		}
		if ev.Anchors != nil {
			s.setAnchors(ev.Identity, ev.Anchors)
		} else {
			ev.Anchors = s.lastAnchors(ev.Identity)
		}

		if err := sink.Submit(ctx, ev); err != nil {
			if errors.Is(err, engine.ErrClosed) || errors.Is(err, context.Canceled) {
				s.logger.Debug().Int("line", lineNo).Msg("Engine no longer accepting events")
				return nil
			}
			return fmt.Errorf("failed to submit event on line %d: %w", lineNo, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read events: %w", err)
	}

	s.logger.Info().Int("lines", lineNo).Msg("Event stream ended")
	return nil
}

func (s *Stream) setAnchors(identity string, anchors []string) {
	s.anchorsMu.Lock()
	s.anchors[identity] = append([]string{}, anchors...)
	s.anchorsMu.Unlock()
}

// lastAnchors returns a copy of the latest anchor set reported for identity,
// empty when none was reported yet.
func (s *Stream) lastAnchors(identity string) []string {
	s.anchorsMu.RLock()
	defer s.anchorsMu.RUnlock()
	return append([]string{}, s.anchors[identity]...)
}

// AnchorPresent reports whether the latest anchor set seen for identity
// contains anchorID.
func (s *Stream) AnchorPresent(identity, anchorID string) bool {
	s.anchorsMu.RLock()
	defer s.anchorsMu.RUnlock()
	for _, anchor := range s.anchors[identity] {
		if anchor == anchorID {
			return true
		}
	}
	return false
}

// Intercept asks the host to navigate back.
func (s *Stream) Intercept(ctx context.Context) error {
	return s.write(ctx, command{Action: "back"})
}

// Notify asks the host to show a toast.
func (s *Stream) Notify(ctx context.Context, message string) error {
	return s.write(ctx, command{Action: "toast", Message: message})
}

func (s *Stream) write(ctx context.Context, cmd command) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.out.Write(data); err != nil {
		return fmt.Errorf("failed to write %s command: %w", cmd.Action, err)
	}
	return nil
}

var _ engine.Host = (*Stream)(nil)
