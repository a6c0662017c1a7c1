package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// RawEntity is one JSON:API resource object as delivered by the remote
type RawEntity struct {
	Type          string                     `json:"type"`
	ID            string                     `json:"id"`
	Attributes    map[string]any             `json:"attributes,omitempty"`
	Relationships map[string]RawRelationship `json:"relationships,omitempty"`
	Links         map[string]Link            `json:"links,omitempty"`
}

// RawRef is a resource identifier inside a relationship
type RawRef struct {
	Type string         `json:"type"`
	ID   string         `json:"id"`
	Meta map[string]any `json:"meta,omitempty"`
}

// RawRelationship is a relationship object whose data member is null, a
// single resource identifier, or an array of them
type RawRelationship struct {
	card  Cardinality
	refs  []RawRef
	Links map[string]Link
}

// NullRelationship is a relationship with null data
func NullRelationship() RawRelationship {
	return RawRelationship{}
}

// SingleRelationship wraps one resource identifier
func SingleRelationship(ref RawRef) RawRelationship {
	return RawRelationship{card: CardinalitySingle, refs: []RawRef{ref}}
}

// ManyRelationship wraps a list of resource identifiers (possibly empty)
func ManyRelationship(refs ...RawRef) RawRelationship {
	return RawRelationship{card: CardinalityMany, refs: append([]RawRef{}, refs...)}
}

// IsNull reports whether data was null or missing
func (r RawRelationship) IsNull() bool { return r.card == CardinalityUnknown }

// Cardinality is Single for an object, Many for an array and Unknown for null
func (r RawRelationship) Cardinality() Cardinality { return r.card }

// Refs returns the identifiers in payload order
func (r RawRelationship) Refs() []RawRef { return r.refs }

type rawRelationshipJSON struct {
	Data  json.RawMessage `json:"data"`
	Links map[string]Link `json:"links,omitempty"`
}

// UnmarshalJSON decodes the data member by shape
func (r *RawRelationship) UnmarshalJSON(data []byte) error {
	var raw rawRelationshipJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := RawRelationship{Links: raw.Links}
	body := bytes.TrimSpace(raw.Data)
	switch {
	case len(body) == 0 || bytes.Equal(body, []byte("null")):
	case body[0] == '{':
		var ref RawRef
		if err := json.Unmarshal(body, &ref); err != nil {
			return fmt.Errorf("relationship data: %w", err)
		}
		out.card = CardinalitySingle
		out.refs = []RawRef{ref}
	case body[0] == '[':
		var refs []RawRef
		if err := json.Unmarshal(body, &refs); err != nil {
			return fmt.Errorf("relationship data: %w", err)
		}
		out.card = CardinalityMany
		out.refs = refs
		if out.refs == nil {
			out.refs = []RawRef{}
		}
	default:
		return fmt.Errorf("relationship data must be null, an object or an array")
	}
	*r = out
	return nil
}

// MarshalJSON renders the relationship back into JSON:API form
func (r RawRelationship) MarshalJSON() ([]byte, error) {
	var data any
	switch r.card {
	case CardinalitySingle:
		data = r.refs[0]
	case CardinalityMany:
		data = r.refs
		if r.refs == nil {
			data = []RawRef{}
		}
	}
	return json.Marshal(struct {
		Data  any             `json:"data"`
		Links map[string]Link `json:"links,omitempty"`
	}{data, r.Links})
}

// Link is a JSON:API link, either a bare URL or an object with href
type Link struct {
	Href string         `json:"href"`
	Meta map[string]any `json:"meta,omitempty"`
}

// UnmarshalJSON accepts both link forms
func (l *Link) UnmarshalJSON(data []byte) error {
	var href string
	if err := json.Unmarshal(data, &href); err == nil {
		*l = Link{Href: href}
		return nil
	}
	type plain Link
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("link must be a string or an object: %w", err)
	}
	*l = Link(p)
	return nil
}

// Page is one JSON:API collection response
type Page struct {
	Data     []RawEntity     `json:"data"`
	Included []RawEntity     `json:"included,omitempty"`
	Links    map[string]Link `json:"links,omitempty"`
}

// Next returns the href of the next page, or "" when exhausted
func (p *Page) Next() string {
	if p.Links == nil {
		return ""
	}
	return p.Links["next"].Href
}
