// Package api implements carbridge's read-only status API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nugget/carbridge/internal/buildinfo"
	"github.com/nugget/carbridge/internal/connwatch"
	"github.com/nugget/carbridge/internal/discovery"
	"github.com/nugget/carbridge/internal/journal"
	"github.com/nugget/carbridge/internal/mqtt"
)

// maxCommandLimit caps the limit query parameter of /v1/commands.
const maxCommandLimit = 500

// Discovery is the router state the API reports.
type Discovery interface {
	State() discovery.State
	Publications() []discovery.Publication
	Publication(id string) (discovery.Publication, bool)
}

// Journal lists recent command writes.
type Journal interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

// Health reports the state of watched services.
type Health interface {
	Healthy() bool
	Statuses() []connwatch.ServiceStatus
}

// Topics lists the transport's topic registry.
type Topics interface {
	Topics() []mqtt.Topic
}

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP status server.
type Server struct {
	address string
	port    int
	logger  *slog.Logger
	server  *http.Server

	discovery Discovery
	journal   Journal
	health    Health
	topics    Topics
}

// NewServer creates a status server. Collaborators are attached with
// the Set methods; endpoints whose collaborator is missing answer 503.
func NewServer(address string, port int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address: address,
		port:    port,
		logger:  logger,
	}
}

// SetDiscovery attaches the discovery router.
func (s *Server) SetDiscovery(d Discovery) { s.discovery = d }

// SetJournal attaches the command journal.
func (s *Server) SetJournal(j Journal) { s.journal = j }

// SetHealth attaches the connection watch manager.
func (s *Server) SetHealth(h Health) { s.health = h }

// SetTopics attaches the transport topic registry.
func (s *Server) SetTopics(t Topics) { s.topics = t }

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.withLogging)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/version", s.handleVersion)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/discovery", s.handleDiscoveryList)
		r.Get("/discovery/{device}", s.handleDiscoveryGet)
		r.Get("/commands", s.handleCommands)
		r.Get("/topics", s.handleTopics)
	})
	return r
}

// Start serves HTTP requests until ctx is cancelled or the listener
// fails.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         net.JoinHostPort(s.address, strconv.Itoa(s.port)),
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting status API", "address", addr, "port", s.port)

	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "carbridge",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string                    `json:"status"`
	Discovery string                    `json:"discovery,omitempty"`
	Services  []connwatch.ServiceStatus `json:"services,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{Status: "healthy"}
	code := http.StatusOK
	if s.health != nil {
		resp.Services = s.health.Statuses()
		if !s.health.Healthy() {
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	if s.discovery != nil {
		resp.Discovery = s.discovery.State().String()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, resp, s.logger)
}

func (s *Server) handleDiscoveryList(w http.ResponseWriter, _ *http.Request) {
	if s.discovery == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "discovery not configured")
		return
	}
	pubs := s.discovery.Publications()
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"state":   s.discovery.State().String(),
		"count":   len(pubs),
		"devices": pubs,
	}, s.logger)
}

func (s *Server) handleDiscoveryGet(w http.ResponseWriter, r *http.Request) {
	if s.discovery == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "discovery not configured")
		return
	}
	id := chi.URLParam(r, "device")
	pub, ok := s.discovery.Publication(id)
	if !ok {
		s.errorResponse(w, http.StatusNotFound, fmt.Sprintf("no discovery document for %q", id))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("ETag", strconv.Quote(pub.Hash))
	w.Header().Set("Last-Modified", pub.PublishedAt.UTC().Format(http.TimeFormat))
	if _, err := w.Write(pub.Payload); err != nil {
		s.logger.Debug("failed to write discovery document", "device", id, "error", err)
	}
}

func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "command journal not configured")
		return
	}

	limit := journal.DefaultLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed <= 0 {
			s.errorResponse(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(parsed, maxCommandLimit)
	}

	entries, err := s.journal.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("command journal query failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to list commands")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"count":    len(entries),
		"commands": entries,
	}, s.logger)
}

func (s *Server) handleTopics(w http.ResponseWriter, _ *http.Request) {
	if s.topics == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "transport not configured")
		return
	}
	topics := s.topics.Topics()
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"count":  len(topics),
		"topics": topics,
	}, s.logger)
}
