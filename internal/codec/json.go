package codec

import (
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"

	"contentgraph/internal/domain"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONCodec writes nodes in their consumer view, back-references merged
type JSONCodec struct{}

// NewJSONCodec creates a new JSON codec
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{}
}

// Format returns the codec format identifier
func (c *JSONCodec) Format() string {
	return "json"
}

// Export writes the snapshot as indented JSON
func (c *JSONCodec) Export(s *Snapshot, w io.Writer) error {
	nodes := s.Nodes
	if nodes == nil {
		nodes = []*domain.Node{}
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(snapshotDoc{GeneratedAt: s.GeneratedAt, Count: len(nodes), Nodes: nodes}); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// GraphCodec writes the derived node/edge view
type GraphCodec struct{}

// NewGraphCodec creates a new graph codec
func NewGraphCodec() *GraphCodec {
	return &GraphCodec{}
}

// Format returns the codec format identifier
func (c *GraphCodec) Format() string {
	return "graph"
}

// Export writes DeriveGraph of the snapshot as indented JSON
func (c *GraphCodec) Export(s *Snapshot, w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(domain.DeriveGraph(s.Nodes)); err != nil {
		return fmt.Errorf("failed to encode graph: %w", err)
	}
	return nil
}
