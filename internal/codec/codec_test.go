package codec

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"contentgraph/internal/domain"
)

func testSnapshot() *Snapshot {
	article := domain.NewNode("n-article", "article-1", "node--article")
	article.Attributes["title"] = "Hello"
	article.Relationships.Set("field_tags"+domain.LinkSuffix, domain.Many("n-tag"))

	tag := domain.NewNode("n-tag", "tag-1", "taxonomy_term--tags")
	tag.Attributes["name"] = "Go"
	tag.AddBackRef(domain.BackRefKey("node__article"), "n-article")

	return &Snapshot{
		GeneratedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Nodes:       []*domain.Node{article, tag},
	}
}

func TestForFormat(t *testing.T) {
	for _, format := range []string{"json", "yaml", "graph"} {
		e, err := ForFormat(format)
		require.NoError(t, err)
		assert.Equal(t, format, e.Format())
	}

	_, err := ForFormat("ansible")
	assert.ErrorContains(t, err, "unknown export format")
}

func TestJSONExport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewJSONCodec().Export(testSnapshot(), &buf))

	var doc struct {
		Count int              `json:"count"`
		Nodes []map[string]any `json:"nodes"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, 2, doc.Count)
	require.Len(t, doc.Nodes, 2)

	rels := doc.Nodes[1]["relationships"].(map[string]any)
	assert.Equal(t, []any{"n-article"}, rels[domain.BackRefKey("node__article")])
}

func TestJSONExportEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewJSONCodec().Export(&Snapshot{}, &buf))
	assert.Contains(t, buf.String(), `"nodes": []`)
}

func TestYAMLExportMatchesJSONView(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewYAMLCodec().Export(testSnapshot(), &buf))

	var doc struct {
		Count int              `yaml:"count"`
		Nodes []map[string]any `yaml:"nodes"`
	}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, 2, doc.Count)
	require.Len(t, doc.Nodes, 2)
	assert.Equal(t, "article-1", doc.Nodes[0]["remote_id"])

	rels := doc.Nodes[0]["relationships"].(map[string]any)
	assert.Equal(t, []any{"n-tag"}, rels["field_tags"+domain.LinkSuffix])
}

func TestGraphExport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewGraphCodec().Export(testSnapshot(), &buf))

	var g domain.Graph
	require.NoError(t, json.Unmarshal(buf.Bytes(), &g))
	require.Len(t, g.Nodes, 2)
	require.Len(t, g.Edges, 1)
	assert.Equal(t, "n-article", g.Edges[0].From)
	assert.Equal(t, "n-tag", g.Edges[0].To)
	assert.Equal(t, "field_tags", g.Edges[0].Label)
}
