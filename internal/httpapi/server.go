// Package httpapi serves the sync protocol and graph queries over HTTP.
//
// POST /graphql answers the three protocol operations a RequestChannel
// sends (touchChannel, pollSyncEnvelopes, pushSyncEnvelopes) from the
// ResponseChannels of the local sync manager. GET /graph/* exposes the
// document graph maintained by the indexer.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/roach88/docsync/internal/indexer"
	"github.com/roach88/docsync/internal/ir"
	"github.com/roach88/docsync/internal/syncmgr"
)

// Remotes is the part of the sync manager the protocol endpoint uses.
type Remotes interface {
	GetByID(id string) (*syncmgr.Remote, error)
	AddRecord(ctx context.Context, rec ir.RemoteRecord) (*syncmgr.Remote, error)
}

// Graph answers document graph queries.
type Graph interface {
	GetOutgoing(ctx context.Context, documentID string, opts indexer.ReadOptions) (indexer.PagedResults[ir.DocumentRelationship], error)
	GetIncoming(ctx context.Context, documentID string, opts indexer.ReadOptions) (indexer.PagedResults[ir.DocumentRelationship], error)
	FindPath(ctx context.Context, sourceID, targetID string, opts indexer.ReadOptions) ([]string, error)
	FindAncestors(ctx context.Context, documentID string, opts indexer.ReadOptions) (ir.DocumentGraph, error)
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger. Default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// Server holds the handlers. Either dependency may be nil, in which case
// its routes answer 503.
type Server struct {
	remotes Remotes
	graph   Graph
	logger  *slog.Logger
}

// New creates a server.
func New(remotes Remotes, graph Graph, opts ...Option) *Server {
	s := &Server{remotes: remotes, graph: graph, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.AllowAll().Handler)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Post("/graphql", s.handleGraphQL)

	r.Route("/graph", func(r chi.Router) {
		r.Get("/path", s.handlePath)
		r.Get("/{id}/outgoing", s.handleOutgoing)
		r.Get("/{id}/incoming", s.handleIncoming)
		r.Get("/{id}/ancestors", s.handleAncestors)
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"code":  code,
		"error": message,
	})
}
