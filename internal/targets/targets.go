// Package targets describes the applications whose short-form content feeds
// are monitored, and how several package identities alias to one tracked group.
package targets

import (
	"fmt"
	"sort"
	"strings"
)

// Target describes one monitored application identity.
type Target struct {
	Identity string `mapstructure:"identity" json:"identity"` // package/bundle identifier
	Group    string `mapstructure:"group" json:"group"`       // tracked group, e.g. "youtube"
	Anchor   string `mapstructure:"anchor" json:"anchor"`     // view id whose presence signals the feed
}

// AnchorID returns the fully qualified view id, "<identity>:id/<anchor>".
func (t Target) AnchorID() string {
	return t.Identity + ":id/" + t.Anchor
}

// Defaults returns the built-in target list.
func Defaults() []Target {
	return []Target{
		{Identity: "com.instagram.android", Group: "instagram", Anchor: "clips_viewer_view_pager"},
		{Identity: "com.google.android.youtube", Group: "youtube", Anchor: "reel_recycler"},
		{Identity: "app.revanced.android.youtube", Group: "youtube", Anchor: "reel_recycler"},
		{Identity: "app.rvx.android.youtube", Group: "youtube", Anchor: "reel_recycler"},
		{Identity: "com.linkedin.android", Group: "linkedin", Anchor: "feed_video_view_pager"},
		{Identity: "com.snapchat.android", Group: "snapchat", Anchor: "spotlight_container"},
	}
}

// Registry is an immutable lookup of targets by identity.
type Registry struct {
	byIdentity map[string]Target
	groups     map[string][]string
}

// NewRegistry builds a registry from the given targets. Later entries with the
// same identity replace earlier ones, so overrides can be appended to Defaults().
func NewRegistry(list ...Target) (*Registry, error) {
	r := &Registry{
		byIdentity: make(map[string]Target, len(list)),
		groups:     make(map[string][]string),
	}

	for _, t := range list {
		t.Identity = strings.TrimSpace(t.Identity)
		t.Group = strings.ToLower(strings.TrimSpace(t.Group))
		t.Anchor = strings.TrimSpace(t.Anchor)

		if t.Identity == "" {
			return nil, fmt.Errorf("target has empty identity")
		}
		if t.Group == "" {
			return nil, fmt.Errorf("target %s has empty group", t.Identity)
		}
		if t.Anchor == "" {
			return nil, fmt.Errorf("target %s has empty anchor", t.Identity)
		}

		r.byIdentity[t.Identity] = t
	}

	for id, t := range r.byIdentity {
		r.groups[t.Group] = append(r.groups[t.Group], id)
	}
	for g := range r.groups {
		sort.Strings(r.groups[g])
	}

	return r, nil
}

// Lookup returns the target for identity.
func (r *Registry) Lookup(identity string) (Target, bool) {
	t, ok := r.byIdentity[identity]
	return t, ok
}

// Groups returns all tracked group names, sorted.
func (r *Registry) Groups() []string {
	groups := make([]string, 0, len(r.groups))
	for g := range r.groups {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups
}

// Identities returns the identities that alias to group.
func (r *Registry) Identities(group string) []string {
	return append([]string(nil), r.groups[group]...)
}

// All returns every target sorted by group, then identity.
func (r *Registry) All() []Target {
	all := make([]Target, 0, len(r.byIdentity))
	for _, t := range r.byIdentity {
		all = append(all, t)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Group != all[j].Group {
			return all[i].Group < all[j].Group
		}
		return all[i].Identity < all[j].Identity
	})
	return all
}
