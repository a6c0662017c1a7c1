// Package codec writes snapshots of the local graph in interchange formats
package codec

import (
	"fmt"
	"io"
	"sort"
	"time"

	"contentgraph/internal/domain"
)

// Snapshot is every node of the store at one point in time
type Snapshot struct {
	GeneratedAt time.Time
	Nodes       []*domain.Node
}

// Exporter writes a snapshot in one format
type Exporter interface {
	Export(s *Snapshot, w io.Writer) error
	Format() string
}

// Formats lists the supported export formats
func Formats() []string {
	names := make([]string, 0, len(exporters))
	for name := range exporters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var exporters = map[string]func() Exporter{
	"json":  func() Exporter { return NewJSONCodec() },
	"yaml":  func() Exporter { return NewYAMLCodec() },
	"graph": func() Exporter { return NewGraphCodec() },
}

// ForFormat returns the exporter for a format name
func ForFormat(format string) (Exporter, error) {
	newExporter, ok := exporters[format]
	if !ok {
		return nil, fmt.Errorf("unknown export format %q (want one of %v)", format, Formats())
	}
	return newExporter(), nil
}

type snapshotDoc struct {
	GeneratedAt time.Time      `json:"generated_at" yaml:"generated_at"`
	Count       int            `json:"count" yaml:"count"`
	Nodes       []*domain.Node `json:"nodes" yaml:"-"`
}
