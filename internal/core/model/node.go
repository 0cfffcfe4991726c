package model

// Node is a property-graph node. ID is an opaque surrogate key; within a
// label, the "name" property (when present) is the natural key. Nodes
// without a name are matched only by ID.
type Node struct {
	ID         string         `json:"id"`
	Label      string         `json:"label"`
	Properties map[string]any `json:"properties"`
	Embedding  []float32      `json:"embedding,omitempty"`
}

// Name returns the natural-key property, or "" for identity-less nodes.
func (n *Node) Name() string {
	if s, ok := n.Properties["name"].(string); ok {
		return s
	}
	return ""
}

// Key returns the composite (label, name) natural key when the node has a
// name, and the opaque id otherwise.
func (n *Node) Key() string {
	if name := n.Name(); name != "" {
		return n.Label + "\x00" + name
	}
	return n.ID
}

// Content returns the best available text for this node. Community
// summarization concatenates member content through this.
func (n *Node) Content() string {
	for _, key := range []string{"content", "summary", "description", "name"} {
		if s, ok := n.Properties[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// Relationship connects two nodes. Both endpoints must already exist in the
// store when it is created.
type Relationship struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	StartID    string         `json:"start_id"`
	EndID      string         `json:"end_id"`
	Properties map[string]any `json:"properties,omitempty"`
}
