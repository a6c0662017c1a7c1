package graph

import (
	"encoding/hex"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/crypto/blake2b"

	"contentgraph/internal/domain"
)

// Digester computes a node's content digest
type Digester interface {
	Digest(n *domain.Node) (string, error)
}

// canonical encodes maps with sorted keys so equal content hashes equally
var canonical = jsoniter.Config{
	SortMapKeys: true,
	EscapeHTML:  false,
}.Froze()

// digestInput is what a digest covers. Back-references and the local file
// handle are left out: they change when other nodes change, not this one.
type digestInput struct {
	ID            string               `json:"id"`
	RemoteID      string               `json:"remote_id"`
	ResourceType  string               `json:"resource_type"`
	InternalType  string               `json:"internal_type"`
	Attributes    map[string]any       `json:"attributes"`
	Relationships domain.Relationships `json:"relationships"`
}

// Blake2bDigester hashes the canonical JSON encoding with BLAKE2b-256
type Blake2bDigester struct{}

func (Blake2bDigester) Digest(n *domain.Node) (string, error) {
	in := digestInput{
		ID:            n.ID,
		RemoteID:      n.RemoteID,
		ResourceType:  n.ResourceType,
		InternalType:  n.InternalType,
		Attributes:    n.Attributes,
		Relationships: n.Relationships,
	}
	// nil and empty encode differently
	if len(in.Attributes) == 0 {
		in.Attributes = nil
	}
	if len(in.Relationships) == 0 {
		in.Relationships = nil
	}
	data, err := canonical.Marshal(in)
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Stamp sets n.Digest
func Stamp(d Digester, n *domain.Node) error {
	digest, err := d.Digest(n)
	if err != nil {
		return err
	}
	n.Digest = digest
	return nil
}
