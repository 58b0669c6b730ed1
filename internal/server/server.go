// Package server exposes the layout engine over HTTP.
//
// Routes live under /api/clients/{clientID}/report-layout. A client's report
// is hydrated from the repository the first time any route names it; until
// that succeeds the client's routes answer 503 so that edits are never made
// to a report that could not be read.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/roach88/reportgrid/internal/layout"
	"github.com/roach88/reportgrid/internal/persist"
)

// DefaultLoadTimeout bounds a single hydration from the repository.
const DefaultLoadTimeout = 10 * time.Second

// maxBodyBytes limits request bodies. Card payloads are chart specs, not
// datasets.
const maxBodyBytes = 1 << 20

// Server serves the report-layout API for one engine.
//
// Thread-safety: All methods are safe for concurrent use.
type Server struct {
	engine      *layout.Engine
	loader      *persist.Loader
	log         *zap.Logger
	loadTimeout time.Duration

	loads  singleflight.Group
	mu     sync.Mutex
	loaded map[string]bool

	upgrader    websocket.Upgrader
	hub         *hub
	unsubscribe func()
	done        chan struct{}
	closeOnce   sync.Once
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger. Default: a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithLoadTimeout bounds each hydration. Default: DefaultLoadTimeout.
func WithLoadTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.loadTimeout = d
		}
	}
}

// WithCheckOrigin sets the websocket origin check. Default: same host only.
func WithCheckOrigin(fn func(*http.Request) bool) Option {
	return func(s *Server) {
		s.upgrader.CheckOrigin = fn
	}
}

// New creates a Server and subscribes it to engine changes. Call Close to
// unsubscribe and end open streams.
func New(engine *layout.Engine, loader *persist.Loader, opts ...Option) *Server {
	s := &Server{
		engine:      engine,
		loader:      loader,
		log:         zap.NewNop(),
		loadTimeout: DefaultLoadTimeout,
		loaded:      make(map[string]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
		},
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("server")
	s.hub = newHub()
	s.unsubscribe = engine.Subscribe(s.hub.publish)
	return s
}

// Close unsubscribes from the engine and ends every open stream. It does not
// stop an http.Server using Handler.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		s.unsubscribe()
		close(s.done)
	})
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	const base = "/api/clients/{clientID}/report-layout"

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok\n"))
	})
	mux.HandleFunc("GET /api/clients", s.handleClients)
	mux.HandleFunc("GET "+base, s.withReport(s.handleGet))
	mux.HandleFunc("PUT "+base+"/title", s.withReport(s.handleSetTitle))
	mux.HandleFunc("POST "+base+"/items", s.withReport(s.handleAddItem))
	mux.HandleFunc("PATCH "+base+"/items/{itemID}", s.withReport(s.handlePatchItem))
	mux.HandleFunc("DELETE "+base+"/items/{itemID}", s.withReport(s.handleRemoveItem))
	mux.HandleFunc("POST "+base+"/reorder", s.withReport(s.handleReorder))
	mux.HandleFunc("GET "+base+"/stream", s.withReport(s.handleStream))
	return mux
}

// reportHandler is a route that runs after the client has been hydrated.
type reportHandler func(rw http.ResponseWriter, r *http.Request, clientID string)

func (s *Server) withReport(h reportHandler) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		clientID := r.PathValue("clientID")
		if clientID == "" {
			writeError(rw, http.StatusBadRequest, "client id is required")
			return
		}
		if err := s.ensureLoaded(r.Context(), clientID); err != nil {
			s.log.Warn("failed to hydrate report", zap.String("client_id", clientID), zap.Error(err))
			writeError(rw, http.StatusServiceUnavailable, "report storage unavailable")
			return
		}
		h(rw, r, clientID)
	}
}

// ensureLoaded hydrates a client once. Concurrent first requests share one
// load; a failed load is retried by the next request.
func (s *Server) ensureLoaded(ctx context.Context, clientID string) error {
	s.mu.Lock()
	done := s.loaded[clientID]
	s.mu.Unlock()
	if done {
		return nil
	}

	_, err, _ := s.loads.Do(clientID, func() (any, error) {
		s.mu.Lock()
		done := s.loaded[clientID]
		s.mu.Unlock()
		if done {
			return nil, nil
		}

		// Detached so one caller giving up does not fail the others.
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.loadTimeout)
		defer cancel()
		if err := s.loader.Load(loadCtx, s.engine, clientID); err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.loaded[clientID] = true
		s.mu.Unlock()
		return nil, nil
	})
	return err
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, msg string) {
	writeJSON(rw, status, errorResponse{Error: msg})
}

// decodeBody reads a JSON request body into v.
func decodeBody(rw http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(rw, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("request body exceeds %d bytes", maxErr.Limit)
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
