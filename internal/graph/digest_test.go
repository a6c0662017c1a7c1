package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contentgraph/internal/domain"
)

func article() *domain.Node {
	n := domain.NewNode("x", "article-1", "node--article")
	n.Attributes["title"] = "Article #1"
	n.Attributes["body"] = map[string]any{"value": "text", "format": "basic_html"}
	n.Relationships.Set("field_tags___NODE", domain.Many("a", "b"))
	return n
}

func TestDigestStable(t *testing.T) {
	var d Blake2bDigester
	first, err := d.Digest(article())
	require.NoError(t, err)
	second, err := d.Digest(article())
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, first, 64)
}

func TestDigestCoversContentOnly(t *testing.T) {
	var d Blake2bDigester
	base, err := d.Digest(article())
	require.NoError(t, err)

	tests := []struct {
		name    string
		mutate  func(n *domain.Node)
		changes bool
	}{
		{"attribute", func(n *domain.Node) { n.Attributes["title"] = "changed" }, true},
		{"nested attribute", func(n *domain.Node) { n.Attributes["body"].(map[string]any)["value"] = "other" }, true},
		{"relationship order", func(n *domain.Node) { n.Relationships.Set("field_tags___NODE", domain.Many("b", "a")) }, true},
		{"cardinality", func(n *domain.Node) { n.Relationships.Set("field_tags___NODE", domain.Single("a")) }, true},
		{"back-reference", func(n *domain.Node) { n.AddBackRef("node__page___NODE", "p") }, false},
		{"local file", func(n *domain.Node) { n.LocalFile = &domain.FileHandle{Backend: "disk", Location: "/f"} }, false},
		{"stale digest", func(n *domain.Node) { n.Digest = "old" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := article()
			tt.mutate(n)
			got, err := d.Digest(n)
			require.NoError(t, err)
			if tt.changes {
				assert.NotEqual(t, base, got)
			} else {
				assert.Equal(t, base, got)
			}
		})
	}
}

func TestDigestEmptyAndNilMapsMatch(t *testing.T) {
	var d Blake2bDigester
	a := domain.NewNode("x", "x", "node--page")
	b := domain.NewNode("x", "x", "node--page")
	b.Attributes = nil
	b.Relationships = nil

	da, err := d.Digest(a)
	require.NoError(t, err)
	db, err := d.Digest(b)
	require.NoError(t, err)
	assert.Equal(t, da, db)
}

func TestStamp(t *testing.T) {
	n := article()
	require.NoError(t, Stamp(Blake2bDigester{}, n))
	assert.NotEmpty(t, n.Digest)
}
