package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/roach88/docsync/internal/consistency"
	"github.com/roach88/docsync/internal/indexer"
	"github.com/roach88/docsync/internal/ir"
)

// readOptions builds indexer options from the query string:
// type (repeatable), cursor, limit and token (a JSON consistency token).
func readOptions(r *http.Request) (indexer.ReadOptions, error) {
	q := r.URL.Query()
	opts := indexer.ReadOptions{Types: q["type"]}

	if raw := q.Get("token"); raw != "" {
		var token ir.ConsistencyToken
		if err := json.Unmarshal([]byte(raw), &token); err != nil {
			return opts, errors.New("token must be a JSON consistency token")
		}
		opts.Token = &token
	}

	cursor, limit := q.Get("cursor"), q.Get("limit")
	if cursor != "" || limit != "" {
		p := &indexer.Paging{Cursor: cursor}
		if limit != "" {
			n, err := strconv.Atoi(limit)
			if err != nil || n < 0 {
				return opts, errors.New("limit must be a non-negative integer")
			}
			p.Limit = n
		}
		opts.Paging = p
	}
	return opts, nil
}

// graphRequest resolves the read options, answering the request itself
// when they are invalid or no graph is configured.
func (s *Server) graphRequest(w http.ResponseWriter, r *http.Request) (indexer.ReadOptions, bool) {
	if s.graph == nil {
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "graph queries are not enabled")
		return indexer.ReadOptions{}, false
	}
	opts, err := readOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
		return opts, false
	}
	return opts, true
}

func (s *Server) writeGraphError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, indexer.ErrInvalidCursor):
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
	case consistency.IsTimeout(err):
		writeError(w, http.StatusGatewayTimeout, "TIMEOUT", err.Error())
	case consistency.IsAborted(err):
		writeError(w, http.StatusServiceUnavailable, "ABORTED", err.Error())
	default:
		s.logger.Error("graph query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "graph query failed")
	}
}

func (s *Server) handleOutgoing(w http.ResponseWriter, r *http.Request) {
	opts, ok := s.graphRequest(w, r)
	if !ok {
		return
	}
	page, err := s.graph.GetOutgoing(r.Context(), chi.URLParam(r, "id"), opts)
	if err != nil {
		s.writeGraphError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pageBody(page))
}

func (s *Server) handleIncoming(w http.ResponseWriter, r *http.Request) {
	opts, ok := s.graphRequest(w, r)
	if !ok {
		return
	}
	page, err := s.graph.GetIncoming(r.Context(), chi.URLParam(r, "id"), opts)
	if err != nil {
		s.writeGraphError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pageBody(page))
}

func (s *Server) handleAncestors(w http.ResponseWriter, r *http.Request) {
	opts, ok := s.graphRequest(w, r)
	if !ok {
		return
	}
	graph, err := s.graph.FindAncestors(r.Context(), chi.URLParam(r, "id"), opts)
	if err != nil {
		s.writeGraphError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, graph)
}

func (s *Server) handlePath(w http.ResponseWriter, r *http.Request) {
	opts, ok := s.graphRequest(w, r)
	if !ok {
		return
	}
	from, to := r.URL.Query().Get("from"), r.URL.Query().Get("to")
	if from == "" || to == "" {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "from and to are required")
		return
	}
	path, err := s.graph.FindPath(r.Context(), from, to, opts)
	if err != nil {
		s.writeGraphError(w, err)
		return
	}
	if path == nil {
		path = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": path, "found": len(path) > 0})
}

type relationshipPage struct {
	Results    []ir.DocumentRelationship `json:"results"`
	NextCursor string                    `json:"nextCursor,omitempty"`
	HasMore    bool                      `json:"hasMore"`
}

func pageBody(p indexer.PagedResults[ir.DocumentRelationship]) relationshipPage {
	results := p.Results
	if results == nil {
		results = []ir.DocumentRelationship{}
	}
	return relationshipPage{Results: results, NextCursor: p.NextCursor, HasMore: p.HasMore}
}
