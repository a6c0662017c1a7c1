package codec

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// YAMLCodec writes the same document as JSONCodec in YAML
type YAMLCodec struct{}

// NewYAMLCodec creates a new YAML codec
func NewYAMLCodec() *YAMLCodec {
	return &YAMLCodec{}
}

// Format returns the codec format identifier
func (c *YAMLCodec) Format() string {
	return "yaml"
}

// yamlSnapshot carries nodes in their generic JSON shape, so YAML output
// matches the JSON view key for key
type yamlSnapshot struct {
	snapshotDoc `yaml:",inline"`
	Nodes       []map[string]any `yaml:"nodes"`
}

// Export writes the snapshot as YAML
func (c *YAMLCodec) Export(s *Snapshot, w io.Writer) error {
	ys := yamlSnapshot{
		snapshotDoc: snapshotDoc{GeneratedAt: s.GeneratedAt, Count: len(s.Nodes)},
		Nodes:       make([]map[string]any, 0, len(s.Nodes)),
	}
	for _, n := range s.Nodes {
		data, err := json.Marshal(n)
		if err != nil {
			return fmt.Errorf("failed to encode node %s: %w", n.ID, err)
		}
		var generic map[string]any
		if err := json.Unmarshal(data, &generic); err != nil {
			return fmt.Errorf("failed to decode node %s: %w", n.ID, err)
		}
		ys.Nodes = append(ys.Nodes, generic)
	}

	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	defer encoder.Close()

	if err := encoder.Encode(&ys); err != nil {
		return fmt.Errorf("failed to encode YAML: %w", err)
	}
	return nil
}
