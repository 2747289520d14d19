package indexer

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/roach88/docsync/internal/ir"
	"github.com/roach88/docsync/internal/store"
)

// ErrInvalidCursor is returned for a paging cursor the indexer did not issue.
var ErrInvalidCursor = errors.New("invalid paging cursor")

// Paging selects a page of results. Cursor is the NextCursor of the previous
// page, empty for the first one. Limit <= 0 uses the indexer's page size.
type Paging struct {
	Cursor string
	Limit  int
}

// PagedResults is one page of a query.
type PagedResults[T any] struct {
	Results    []T
	NextCursor string
	HasMore    bool
}

// ReadOptions are shared by every graph read.
type ReadOptions struct {
	// Types restricts results to these relationship types. Empty means all.
	Types []string
	// Token, when set, makes the read wait until its coordinates are indexed.
	Token *ir.ConsistencyToken
	// Paging applies to the paged reads and is ignored by the others.
	Paging *Paging
}

// waitFor blocks until opts.Token is visible or ctx is done.
func (ix *Indexer) waitFor(ctx context.Context, opts ReadOptions) error {
	if opts.Token == nil || len(opts.Token.Coordinates) == 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("graph read aborted: %w", err)
		}
		return nil
	}
	return ix.tracker.WaitFor(ctx, opts.Token.Coordinates, ix.waitTimeout)
}

func (ix *Indexer) page(ctx context.Context, f store.RelationshipFilter, p *Paging) (PagedResults[ir.DocumentRelationship], error) {
	offset, limit := 0, ix.pageSize
	if p != nil {
		if p.Cursor != "" {
			n, err := strconv.Atoi(p.Cursor)
			if err != nil || n < 0 {
				return PagedResults[ir.DocumentRelationship]{}, fmt.Errorf("%w: %q", ErrInvalidCursor, p.Cursor)
			}
			offset = n
		}
		if p.Limit > 0 {
			limit = p.Limit
		}
	}

	rows, err := ix.store.ListRelationships(ctx, f, offset, limit+1)
	if err != nil {
		return PagedResults[ir.DocumentRelationship]{}, err
	}

	out := PagedResults[ir.DocumentRelationship]{Results: rows}
	if len(rows) > limit {
		out.Results = rows[:limit]
		out.HasMore = true
		out.NextCursor = strconv.Itoa(offset + limit)
	}
	return out, nil
}

// GetOutgoing returns relationships whose source is documentID.
func (ix *Indexer) GetOutgoing(ctx context.Context, documentID string, opts ReadOptions) (PagedResults[ir.DocumentRelationship], error) {
	if err := ix.waitFor(ctx, opts); err != nil {
		return PagedResults[ir.DocumentRelationship]{}, err
	}
	return ix.page(ctx, store.RelationshipFilter{SourceID: documentID, Types: opts.Types}, opts.Paging)
}

// GetIncoming returns relationships whose target is documentID.
func (ix *Indexer) GetIncoming(ctx context.Context, documentID string, opts ReadOptions) (PagedResults[ir.DocumentRelationship], error) {
	if err := ix.waitFor(ctx, opts); err != nil {
		return PagedResults[ir.DocumentRelationship]{}, err
	}
	return ix.page(ctx, store.RelationshipFilter{TargetID: documentID, Types: opts.Types}, opts.Paging)
}

// HasRelationship reports whether sourceID has an edge to targetID.
func (ix *Indexer) HasRelationship(ctx context.Context, sourceID, targetID string, opts ReadOptions) (bool, error) {
	if err := ix.waitFor(ctx, opts); err != nil {
		return false, err
	}
	return ix.store.HasRelationship(ctx, store.RelationshipFilter{
		SourceID: sourceID,
		TargetID: targetID,
		Types:    opts.Types,
	})
}

// GetDirectedRelationships returns the edges from sourceID to targetID.
func (ix *Indexer) GetDirectedRelationships(ctx context.Context, sourceID, targetID string, opts ReadOptions) (PagedResults[ir.DocumentRelationship], error) {
	if err := ix.waitFor(ctx, opts); err != nil {
		return PagedResults[ir.DocumentRelationship]{}, err
	}
	return ix.page(ctx, store.RelationshipFilter{
		SourceID: sourceID,
		TargetID: targetID,
		Types:    opts.Types,
	}, opts.Paging)
}

// GetUndirectedRelationships returns the edges between a and b in either
// direction.
func (ix *Indexer) GetUndirectedRelationships(ctx context.Context, a, b string, opts ReadOptions) (PagedResults[ir.DocumentRelationship], error) {
	if err := ix.waitFor(ctx, opts); err != nil {
		return PagedResults[ir.DocumentRelationship]{}, err
	}
	return ix.page(ctx, store.RelationshipFilter{
		SourceID:   a,
		TargetID:   b,
		Types:      opts.Types,
		Undirected: true,
	}, opts.Paging)
}

// GetRelationshipTypes returns the distinct relationship types in the graph.
func (ix *Indexer) GetRelationshipTypes(ctx context.Context, opts ReadOptions) ([]string, error) {
	if err := ix.waitFor(ctx, opts); err != nil {
		return nil, err
	}
	return ix.store.RelationshipTypes(ctx)
}
