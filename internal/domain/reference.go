package domain

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Cardinality is the shape of a relationship field
type Cardinality int

const (
	CardinalityUnknown Cardinality = iota
	CardinalitySingle             // field holds one reference
	CardinalityMany               // field holds an ordered list of references
)

func (c Cardinality) String() string {
	switch c {
	case CardinalitySingle:
		return "single"
	case CardinalityMany:
		return "many"
	default:
		return "unknown"
	}
}

// Reference is a resolved relationship value: either one node id or an
// ordered, non-empty sequence of node ids
type Reference struct {
	card Cardinality
	ids  []string
}

// Single creates a reference to exactly one node
func Single(id string) Reference {
	return Reference{card: CardinalitySingle, ids: []string{id}}
}

// Many creates an ordered multi-node reference. The ids are copied.
func Many(ids ...string) Reference {
	return Reference{card: CardinalityMany, ids: append([]string(nil), ids...)}
}

// Cardinality reports whether the reference is single or many
func (r Reference) Cardinality() Cardinality {
	return r.card
}

// IsSingle reports whether the reference holds one id
func (r Reference) IsSingle() bool {
	return r.card == CardinalitySingle
}

// ID returns the target of a single reference, or "" for many
func (r Reference) ID() string {
	if r.card != CardinalitySingle || len(r.ids) == 0 {
		return ""
	}
	return r.ids[0]
}

// IDs returns the targets in order. The slice must not be modified.
func (r Reference) IDs() []string {
	return r.ids
}

// Empty reports whether the reference has no targets
func (r Reference) Empty() bool {
	return len(r.ids) == 0
}

// Equal compares shape and targets, order included
func (r Reference) Equal(o Reference) bool {
	if r.card != o.card || len(r.ids) != len(o.ids) {
		return false
	}
	for i := range r.ids {
		if r.ids[i] != o.ids[i] {
			return false
		}
	}
	return true
}

// MarshalJSON renders a single reference as a string and many as an array
func (r Reference) MarshalJSON() ([]byte, error) {
	if r.card == CardinalitySingle {
		return json.Marshal(r.ID())
	}
	if r.ids == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(r.ids)
}

// UnmarshalJSON is the inverse of MarshalJSON
func (r *Reference) UnmarshalJSON(data []byte) error {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		*r = Single(id)
		return nil
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return fmt.Errorf("reference must be a string or an array of strings: %w", err)
	}
	*r = Many(ids...)
	return nil
}

// Relationships maps a relationship key (field + LinkSuffix) to its resolved
// reference. Fields without resolved targets are absent, never empty.
type Relationships map[string]Reference

// Set stores ref under key, deleting the key when ref has no targets
func (rs Relationships) Set(key string, ref Reference) {
	if ref.Empty() {
		delete(rs, key)
		return
	}
	rs[key] = ref
}

// Targets returns every node id referenced by any field, deduplicated
func (rs Relationships) Targets() map[string]struct{} {
	targets := make(map[string]struct{})
	for _, ref := range rs {
		for _, id := range ref.ids {
			targets[id] = struct{}{}
		}
	}
	return targets
}

// Keys returns the relationship keys in sorted order
func (rs Relationships) Keys() []string {
	keys := make([]string, 0, len(rs))
	for k := range rs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Equal compares two relationship maps field by field
func (rs Relationships) Equal(o Relationships) bool {
	if len(rs) != len(o) {
		return false
	}
	for k, ref := range rs {
		other, ok := o[k]
		if !ok || !ref.Equal(other) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy
func (rs Relationships) Clone() Relationships {
	if rs == nil {
		return nil
	}
	out := make(Relationships, len(rs))
	for k, ref := range rs {
		out[k] = Reference{card: ref.card, ids: append([]string(nil), ref.ids...)}
	}
	return out
}
