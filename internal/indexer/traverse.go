package indexer

import (
	"context"
	"fmt"

	"github.com/roach88/docsync/internal/ir"
	"github.com/roach88/docsync/internal/store"
)

type pathNode struct {
	id   string
	path []string
}

// FindPath returns the shortest chain of outgoing edges from sourceID to
// targetID, both ends included, or nil when none exists. A document always
// reaches itself.
func (ix *Indexer) FindPath(ctx context.Context, sourceID, targetID string, opts ReadOptions) ([]string, error) {
	if err := ix.waitFor(ctx, opts); err != nil {
		return nil, err
	}
	if sourceID == targetID {
		return []string{sourceID}, nil
	}

	visited := make(map[string]bool)
	queue := []pathNode{{id: sourceID, path: []string{sourceID}}}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("find path aborted: %w", err)
		}
		cur := queue[0]
		queue = queue[1:]

		if cur.id == targetID {
			return cur.path, nil
		}
		if visited[cur.id] {
			continue
		}
		visited[cur.id] = true

		edges, err := ix.store.ListRelationships(ctx, store.RelationshipFilter{SourceID: cur.id, Types: opts.Types}, 0, 0)
		if err != nil {
			return nil, err
		}
		for _, e := range edges {
			if visited[e.TargetID] {
				continue
			}
			next := make([]string, len(cur.path), len(cur.path)+1)
			copy(next, cur.path)
			queue = append(queue, pathNode{id: e.TargetID, path: append(next, e.TargetID)})
		}
	}
	return nil, nil
}

// FindAncestors walks incoming edges from documentID and returns every node
// and edge visited. The start document is always the first node.
func (ix *Indexer) FindAncestors(ctx context.Context, documentID string, opts ReadOptions) (ir.DocumentGraph, error) {
	if err := ix.waitFor(ctx, opts); err != nil {
		return ir.DocumentGraph{}, err
	}

	graph := ir.DocumentGraph{Nodes: []string{documentID}, Edges: []ir.GraphEdge{}}
	seen := map[string]bool{documentID: true}
	visited := make(map[string]bool)
	queue := []string{documentID}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return ir.DocumentGraph{}, fmt.Errorf("find ancestors aborted: %w", err)
		}
		cur := queue[0]
		queue = queue[1:]
		if visited[cur] {
			continue
		}
		visited[cur] = true

		edges, err := ix.store.ListRelationships(ctx, store.RelationshipFilter{TargetID: cur, Types: opts.Types}, 0, 0)
		if err != nil {
			return ir.DocumentGraph{}, err
		}
		for _, e := range edges {
			if !seen[e.SourceID] {
				seen[e.SourceID] = true
				graph.Nodes = append(graph.Nodes, e.SourceID)
			}
			graph.Edges = append(graph.Edges, ir.GraphEdge{From: e.SourceID, To: e.TargetID, Type: e.RelationshipType})
			if !visited[e.SourceID] {
				queue = append(queue, e.SourceID)
			}
		}
	}
	return graph, nil
}
