// Package embedded decides which related sub-resources are included in a
// response. Related resources are omitted unless a group asks for them.
package embedded

import (
	"sort"
	"strings"
)

const (
	// KeyEmbed is the query parameter clients use to request groups
	KeyEmbed = "_embed"
	// GroupAll includes every related sub-resource
	GroupAll = "all"
)

// Groups is a set of embed group names
type Groups map[string]struct{}

// All is the group set that forces full embedding
var All = Groups{GroupAll: {}}

// Parse reads a comma separated list of group names
func Parse(raw string) Groups {
	groups := Groups{}
	for _, part := range strings.Split(raw, ",") {
		if name := strings.TrimSpace(part); name != "" {
			groups[name] = struct{}{}
		}
	}
	return groups
}

// Has reports whether group is requested, either by name or through GroupAll
func (g Groups) Has(group string) bool {
	if g == nil {
		return false
	}
	if _, ok := g[GroupAll]; ok {
		return true
	}
	_, ok := g[group]
	return ok
}

// IsAll reports whether every related resource must be embedded
func (g Groups) IsAll() bool {
	_, ok := g[GroupAll]
	return ok
}

// Merge returns the union of g and other
func (g Groups) Merge(other Groups) Groups {
	out := Groups{}
	for k := range g {
		out[k] = struct{}{}
	}
	for k := range other {
		out[k] = struct{}{}
	}
	return out
}

func (g Groups) String() string {
	names := make([]string, 0, len(g))
	for k := range g {
		names = append(names, k)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

// Expander is implemented by payloads that can include related resources
type Expander interface {
	Embed(groups Groups) any
}

// Apply expands data for the requested groups. Data that does not know how
// to expand itself is returned unchanged.
func Apply(data any, groups Groups) any {
	if e, ok := data.(Expander); ok {
		return e.Embed(groups)
	}
	return data
}
