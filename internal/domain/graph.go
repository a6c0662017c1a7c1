package domain

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
)

// Graph is the derived node/edge view of the synchronized content
type Graph struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// GraphNode represents a node in the view
type GraphNode struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Group string `json:"group"` // internal type
	Title string `json:"title"` // tooltip content
}

// GraphEdge is one forward reference from a node field to a target
type GraphEdge struct {
	ID    string `json:"id"`
	From  string `json:"from"`
	To    string `json:"to"`
	Label string `json:"label"` // field name without the link suffix
}

// DeriveGraph converts nodes to a node/edge view. Only forward fields become
// edges; back-references are their mirror image. Edges to nodes outside the
// given set are kept so callers can see dangling targets.
func DeriveGraph(nodes []*Node) *Graph {
	graph := &Graph{
		Nodes: make([]GraphNode, 0, len(nodes)),
		Edges: make([]GraphEdge, 0),
	}

	sorted := append([]*Node(nil), nodes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	for _, n := range sorted {
		graph.Nodes = append(graph.Nodes, GraphNode{
			ID:    n.ID,
			Label: nodeLabel(n),
			Group: n.InternalType,
			Title: buildTooltip(n),
		})

		for _, key := range n.Relationships.Keys() {
			field := strings.TrimSuffix(key, LinkSuffix)
			for _, target := range n.Relationships[key].IDs() {
				graph.Edges = append(graph.Edges, GraphEdge{
					ID:    edgeID(n.ID, target, field),
					From:  n.ID,
					To:    target,
					Label: field,
				})
			}
		}
	}

	return graph
}

// edgeID creates a deterministic id for a directed edge
func edgeID(from, to, field string) string {
	key := fmt.Sprintf("%s-%s-%s", from, to, field)
	hash := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", hash[:8])
}

func nodeLabel(n *Node) string {
	for _, attr := range []string{"title", "name", "filename"} {
		if s := n.GetAttributeString(attr); s != "" {
			return s
		}
	}
	return n.RemoteID
}

func buildTooltip(n *Node) string {
	return fmt.Sprintf("%s\n%s\n%s", n.ResourceType, n.RemoteID, n.ID)
}
