package domain

import (
	"encoding/json"
	"sort"
)

// Internal types that identify file entities
const (
	FileTypeLegacy = "files"
	FileTypeEntity = "file__file"
)

// FileHandle locates the materialized copy of a remote file
type FileHandle struct {
	Backend  string `json:"backend"` // "disk" or "s3"
	Location string `json:"location"`
	Size     int64  `json:"size"`
}

// Node is one entity in the local graph
type Node struct {
	ID           string
	RemoteID     string
	ResourceType string // remote type, e.g. "node--article"
	InternalType string // sanitized type, e.g. "node__article"
	Attributes   map[string]any

	// Forward fields, keyed by field + LinkSuffix
	Relationships Relationships

	// Back-references keyed by BackRefKey(source type); ids sorted and unique
	BackRefs map[string][]string

	Digest    string
	LocalFile *FileHandle
}

// NewNode creates a node with initialized maps
func NewNode(id, remoteID, resourceType string) *Node {
	return &Node{
		ID:            id,
		RemoteID:      remoteID,
		ResourceType:  resourceType,
		InternalType:  SanitizeType(resourceType),
		Attributes:    make(map[string]any),
		Relationships: make(Relationships),
		BackRefs:      make(map[string][]string),
	}
}

// IsFile reports whether the node represents a remote file
func (n *Node) IsFile() bool {
	return n.InternalType == FileTypeEntity || n.InternalType == FileTypeLegacy
}

// GetAttribute gets an attribute value
func (n *Node) GetAttribute(key string) (any, bool) {
	if n.Attributes == nil {
		return nil, false
	}
	val, ok := n.Attributes[key]
	return val, ok
}

// GetAttributeString gets an attribute as a string
func (n *Node) GetAttributeString(key string) string {
	val, ok := n.GetAttribute(key)
	if !ok {
		return ""
	}
	if s, ok := val.(string); ok {
		return s
	}
	return ""
}

// AddBackRef records that sourceID points at this node. Returns false if the
// entry was already present.
func (n *Node) AddBackRef(key, sourceID string) bool {
	if n.BackRefs == nil {
		n.BackRefs = make(map[string][]string)
	}
	ids := n.BackRefs[key]
	i := sort.SearchStrings(ids, sourceID)
	if i < len(ids) && ids[i] == sourceID {
		return false
	}
	ids = append(ids, "")
	copy(ids[i+1:], ids[i:])
	ids[i] = sourceID
	n.BackRefs[key] = ids
	return true
}

// RemoveBackRef drops sourceID from the entry, deleting the entry once it is
// empty. Returns false if there was nothing to remove.
func (n *Node) RemoveBackRef(key, sourceID string) bool {
	ids := n.BackRefs[key]
	i := sort.SearchStrings(ids, sourceID)
	if i >= len(ids) || ids[i] != sourceID {
		return false
	}
	ids = append(ids[:i], ids[i+1:]...)
	if len(ids) == 0 {
		delete(n.BackRefs, key)
	} else {
		n.BackRefs[key] = ids
	}
	return true
}

// HasBackRef reports whether sourceID is listed under key
func (n *Node) HasBackRef(key, sourceID string) bool {
	ids := n.BackRefs[key]
	i := sort.SearchStrings(ids, sourceID)
	return i < len(ids) && ids[i] == sourceID
}

// MergedRelationships returns forward fields and back-references in one map,
// the shape consumers see. A back-reference key that collides with a forward
// field is appended to it.
func (n *Node) MergedRelationships() map[string]Reference {
	out := make(map[string]Reference, len(n.Relationships)+len(n.BackRefs))
	for k, ref := range n.Relationships {
		out[k] = ref
	}
	for k, ids := range n.BackRefs {
		if fwd, ok := out[k]; ok {
			out[k] = Many(append(append([]string{}, fwd.IDs()...), ids...)...)
			continue
		}
		out[k] = Many(ids...)
	}
	return out
}

// Clone returns a deep copy of the node
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := *n
	out.Attributes = CloneAttributes(n.Attributes)
	out.Relationships = n.Relationships.Clone()
	if n.BackRefs != nil {
		out.BackRefs = make(map[string][]string, len(n.BackRefs))
		for k, ids := range n.BackRefs {
			out.BackRefs[k] = append([]string(nil), ids...)
		}
	}
	if n.LocalFile != nil {
		lf := *n.LocalFile
		out.LocalFile = &lf
	}
	return &out
}

type nodeInternal struct {
	Type          string `json:"type"`
	ContentDigest string `json:"content_digest,omitempty"`
}

type nodeJSON struct {
	ID            string               `json:"id"`
	RemoteID      string               `json:"remote_id"`
	ResourceType  string               `json:"resource_type"`
	Internal      nodeInternal         `json:"internal"`
	Attributes    map[string]any       `json:"attributes,omitempty"`
	Relationships map[string]Reference `json:"relationships,omitempty"`
	LocalFile     *FileHandle          `json:"local_file,omitempty"`
}

// MarshalJSON renders the consumer view with merged relationships
func (n *Node) MarshalJSON() ([]byte, error) {
	rels := n.MergedRelationships()
	if len(rels) == 0 {
		rels = nil
	}
	return json.Marshal(nodeJSON{
		ID:            n.ID,
		RemoteID:      n.RemoteID,
		ResourceType:  n.ResourceType,
		Internal:      nodeInternal{Type: n.InternalType, ContentDigest: n.Digest},
		Attributes:    n.Attributes,
		Relationships: rels,
		LocalFile:     n.LocalFile,
	})
}

// CloneAttributes deep-copies a decoded JSON object
func CloneAttributes(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneAttributes(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
