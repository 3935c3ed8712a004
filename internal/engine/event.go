package engine

import (
	"fmt"
	"strings"
)

// Kind is the type of an interaction event.
type Kind int

const (
	KindOther Kind = iota
	KindForegroundChanged
	KindContentScrolled
)

var kindNames = map[Kind]string{
	KindOther:             "other",
	KindForegroundChanged: "foreground_changed",
	KindContentScrolled:   "content_scrolled",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// ParseKind parses the wire name of a kind.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for kind, name := range kindNames {
		if name == s {
			return kind, nil
		}
	}
	return KindOther, fmt.Errorf("unknown event kind %q", s)
}

// Event is one interaction reported by the host, in delivery order.
type Event struct {
	Kind         Kind
	Identity     string
	ContentIndex int64
	// Anchors are the view ids visible when the event was reported. Nil
	// means the event carries no snapshot and the Host is asked instead.
	Anchors []string
}

// hasAnchor reports whether the event's snapshot contains anchorID.
func (e Event) hasAnchor(anchorID string) bool {
	for _, anchor := range e.Anchors {
		if anchor == anchorID {
			return true
		}
	}
	return false
}

func (e Event) validate() error {
	if !e.Kind.Valid() {
		return fmt.Errorf("unknown event kind %d", int(e.Kind))
	}
	if e.Identity == "" {
		return fmt.Errorf("%s event without identity", e.Kind)
	}
	return nil
}
