package ir

import "time"

// DocumentRelationship is a directed edge in the document graph.
type DocumentRelationship struct {
	ID               string         `json:"id"`
	SourceID         string         `json:"sourceId"`
	TargetID         string         `json:"targetId"`
	RelationshipType string         `json:"relationshipType"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

// GraphEdge is a relationship without storage bookkeeping.
type GraphEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
	Type string `json:"type"`
}

// DocumentGraph is a visited subgraph, as returned by ancestor traversal.
type DocumentGraph struct {
	Nodes []string    `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}
