package builder

import (
	"sort"

	"contentgraph/internal/domain"
)

// LinkFilter decides which relations are followed. A relation is an API
// index key or, for references, the resource type of the target, so one
// disallowed set both prunes the fetch plan and drops references into the
// pruned types.
type LinkFilter struct {
	disallowed map[string]struct{}
}

// NewLinkFilter creates a filter from the disallowed relation names
func NewLinkFilter(disallowed []string) *LinkFilter {
	f := &LinkFilter{disallowed: make(map[string]struct{}, len(disallowed))}
	for _, rel := range disallowed {
		f.disallowed[rel] = struct{}{}
	}
	return f
}

// Allows reports whether relation may be fetched or linked
func (f *LinkFilter) Allows(relation string) bool {
	if f == nil {
		return true
	}
	_, blocked := f.disallowed[relation]
	return !blocked
}

// AllowsRef reports whether a reference may be linked
func (f *LinkFilter) AllowsRef(ref domain.RawRef) bool {
	return f.Allows(ref.Type)
}

// Disallowed returns the blocked relations in sorted order
func (f *LinkFilter) Disallowed() []string {
	out := make([]string, 0, len(f.disallowed))
	for rel := range f.disallowed {
		out = append(out, rel)
	}
	sort.Strings(out)
	return out
}

// Plan filters the API index down to the collections to fetch
func (f *LinkFilter) Plan(index map[string]string) map[string]string {
	plan := make(map[string]string, len(index))
	for rel, url := range index {
		if f.Allows(rel) {
			plan[rel] = url
		}
	}
	return plan
}
