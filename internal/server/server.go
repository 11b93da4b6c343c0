// Package server exposes the routing plane's thin HTTP surface
// (spec.md §6): ingest, chat, welcome, embedding deletion, health,
// metrics, and the two scrape endpoints. Route wiring, graceful
// shutdown, and the logging/CORS/content-type middleware chain are
// kept from the teacher's gorilla/mux server; the route table itself
// is rebuilt entirely around the RAG and scraper orchestrators instead
// of the teacher's OpenAI/Anthropic proxy.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/common/expfmt"
	"github.com/sirupsen/logrus"

	"github.com/wasllot/llm-routing-plane/internal/apperrors"
	"github.com/wasllot/llm-routing-plane/internal/chat"
	"github.com/wasllot/llm-routing-plane/internal/embedding"
	"github.com/wasllot/llm-routing-plane/internal/middleware"
	"github.com/wasllot/llm-routing-plane/internal/scraper"
	"github.com/wasllot/llm-routing-plane/internal/telemetry"
)

// Server is the HTTP front door onto the chat and scrape orchestrators.
type Server struct {
	chat       *chat.Service
	embeddings embedding.Provider
	vectors    embedding.VectorRepository
	scraper    *scraper.Service
	telemetry  telemetry.Recorder

	httpServer         *http.Server
	logger             *logrus.Logger
	config             *ServerConfig
	securityMiddleware *middleware.SecurityMiddleware
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           string                                `yaml:"port"`
	ReadTimeout    time.Duration                         `yaml:"read_timeout"`
	WriteTimeout   time.Duration                         `yaml:"write_timeout"`
	MaxHeaderBytes int                                   `yaml:"max_header_bytes"`
	Security       *middleware.SecurityMiddlewareConfig `yaml:"security"`
}

// Deps bundles the orchestrators the server delegates to. Kept
// separate from ServerConfig since these are live components, not
// marshalable configuration.
type Deps struct {
	Chat       *chat.Service
	Embeddings embedding.Provider
	Vectors    embedding.VectorRepository
	Scraper    *scraper.Service
	Telemetry  telemetry.Recorder
}

// NewServer creates a new server instance
func NewServer(deps Deps, config *ServerConfig, logger *logrus.Logger) (*Server, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if deps.Telemetry == nil {
		deps.Telemetry = telemetry.NullRecorder{}
	}

	server := &Server{
		chat:       deps.Chat,
		embeddings: deps.Embeddings,
		vectors:    deps.Vectors,
		scraper:    deps.Scraper,
		telemetry:  deps.Telemetry,
		logger:     logger,
		config:     config,
	}

	if config.Security != nil {
		securityMiddleware, err := middleware.NewSecurityMiddleware(config.Security, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize security middleware: %w", err)
		}
		server.securityMiddleware = securityMiddleware
	}

	return server, nil
}

// Start starts the HTTP server
func (s *Server) Start() error {
	r := s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:           ":" + s.config.Port,
		Handler:        r,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
	}

	s.logger.WithField("port", s.config.Port).Info("Starting routing plane server")
	return s.httpServer.ListenAndServe()
}

// Stop stops the HTTP server gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping routing plane server")

	if s.securityMiddleware != nil {
		s.securityMiddleware.Stop()
	}
	if s.scraper != nil {
		s.scraper.Close()
	}

	return s.httpServer.Shutdown(ctx)
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *mux.Router {
	r := mux.NewRouter()

	if s.securityMiddleware != nil {
		r.Use(s.securityMiddleware.Handler())
	}

	r.Use(s.loggingMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.contentTypeMiddleware)

	r.HandleFunc("/ingest", s.handleIngest).Methods("POST")
	r.HandleFunc("/chat", s.handleChat).Methods("POST")
	r.HandleFunc("/chat/welcome", s.handleChatWelcome).Methods("POST")
	r.HandleFunc("/embeddings/{id}", s.handleDeleteEmbedding).Methods("DELETE")
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/health/ready", s.handleHealthReady).Methods("GET")
	r.HandleFunc("/metrics", s.handleMetrics).Methods("GET")
	r.HandleFunc("/extract", s.handleExtract).Methods("POST")
	r.HandleFunc("/scrape/job-posting", s.handleScrapeJobPosting).Methods("POST")

	return r
}

// Middleware

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: 200}

		next.ServeHTTP(wrapped, r)

		s.logger.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      wrapped.statusCode,
			"duration_ms": time.Since(start).Milliseconds(),
			"remote_addr": r.RemoteAddr,
		}).Info("HTTP request")
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) contentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "POST" || r.Method == "PUT" {
			contentType := r.Header.Get("Content-Type")
			if contentType != "application/json" && contentType != "" {
				s.writeError(w, apperrors.Validation("Content-Type must be application/json"))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Request/response bodies

type ingestRequest struct {
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type ingestResponse struct {
	ID int64 `json:"id"`
}

type chatRequest struct {
	Question       string `json:"question"`
	ConversationID string `json:"conversation_id,omitempty"`
	// MaxContextItems is a pointer so an omitted field (default applied
	// downstream) can be told apart from an explicit 0 (rejected below).
	MaxContextItems *int `json:"max_context_items,omitempty"`
}

type welcomeRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
}

type extractRequest struct {
	URL             string                    `json:"url"`
	ExtractionRules map[string]scraper.Rule   `json:"extraction_rules"`
	UseCache        bool                      `json:"use_cache"`
}

const maxQuestionLength = 1000

// handleIngest embeds and persists a document (spec.md §6: POST /ingest -> 201).
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apperrors.Validation(fmt.Sprintf("invalid JSON body: %v", err)))
		return
	}
	if req.Content == "" {
		s.writeError(w, apperrors.Validation("content must not be empty"))
		return
	}

	vector, err := s.embeddings.Embed(r.Context(), req.Content, embedding.TaskDocument)
	if err != nil {
		s.logger.WithError(err).Error("failed to embed document")
		s.writeError(w, apperrors.ErrServiceDegraded)
		return
	}

	id, err := s.vectors.Save(r.Context(), req.Content, vector, req.Metadata)
	if err != nil {
		s.logger.WithError(err).Error("failed to save embedding")
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, ingestResponse{ID: id})
}

// handleChat answers a question with retrieval-augmented generation
// (spec.md §6: POST /chat -> 200).
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apperrors.Validation(fmt.Sprintf("invalid JSON body: %v", err)))
		return
	}
	if req.Question == "" {
		s.writeError(w, apperrors.Validation("question must not be empty"))
		return
	}
	if len(req.Question) > maxQuestionLength {
		s.writeError(w, apperrors.Validation(fmt.Sprintf("question must be at most %d characters", maxQuestionLength)))
		return
	}
	maxContextItems := 0
	if req.MaxContextItems != nil {
		if *req.MaxContextItems < 1 || *req.MaxContextItems > 20 {
			s.writeError(w, apperrors.Validation("max_context_items must be between 1 and 20"))
			return
		}
		maxContextItems = *req.MaxContextItems
	}

	resp, err := s.chat.GenerateResponse(r.Context(), req.Question, req.ConversationID, maxContextItems)
	if err != nil {
		s.logger.WithError(err).Error("chat generation failed")
		s.writeError(w, apperrors.ErrServiceDegraded)
		return
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// handleChatWelcome returns a static greeting (spec.md §6: POST /chat/welcome -> 200).
func (s *Server) handleChatWelcome(w http.ResponseWriter, r *http.Request) {
	var req welcomeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, apperrors.Validation(fmt.Sprintf("invalid JSON body: %v", err)))
			return
		}
	}

	welcome, err := s.chat.GenerateWelcome(r.Context(), req.ConversationID, rand.Int())
	if err != nil {
		s.logger.WithError(err).Error("welcome generation failed")
		s.writeError(w, apperrors.ErrServiceDegraded)
		return
	}

	s.writeJSON(w, http.StatusOK, welcome)
}

// handleDeleteEmbedding removes a stored embedding (spec.md §6: DELETE /embeddings/{id} -> 200).
func (s *Server) handleDeleteEmbedding(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	idStr := vars["id"]

	var id int64
	if _, err := fmt.Sscanf(idStr, "%d", &id); err != nil {
		s.writeError(w, apperrors.Validation(fmt.Sprintf("invalid embedding id: %q", idStr)))
		return
	}

	if err := s.vectors.Delete(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": id})
}

// handleHealth reports process liveness (GET /health). It always answers
// 200 with status "healthy"; it checks no dependencies and never
// reports 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

// handleHealthReady reports readiness (spec.md §6: GET /health/ready -> 200 or 503).
func (s *Server) handleHealthReady(w http.ResponseWriter, r *http.Request) {
	ready := s.chat != nil && s.vectors != nil && s.embeddings != nil
	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "not_ready"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    state,
		"timestamp": time.Now().Unix(),
	})
}

// handleMetrics serves the Prometheus text exposition format built
// from the shared telemetry.Recorder's gathered metric families, each
// written through an expfmt text encoder.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	families, err := s.telemetry.Gather()
	if err != nil {
		s.logger.WithError(err).Error("failed to gather metrics")
		http.Error(w, "failed to gather metrics", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", string(expfmt.FmtText))
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			s.logger.WithError(err).Warn("failed to encode metric family")
		}
	}
}

// handleExtract runs a generic scrape against caller-supplied
// extraction rules (spec.md §6: POST /extract -> 200, never raises).
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apperrors.Validation(fmt.Sprintf("invalid JSON body: %v", err)))
		return
	}

	rules := scraper.Ruleset(req.ExtractionRules)
	if err := scraper.ValidateURL(req.URL); err != nil {
		s.writeError(w, apperrors.Validation(err.Error()))
		return
	}
	if err := scraper.ValidateRuleset(rules); err != nil {
		s.writeError(w, apperrors.Validation(err.Error()))
		return
	}

	result := s.scraper.Extract(r.Context(), req.URL, rules, req.UseCache)
	s.writeJSON(w, http.StatusOK, result)
}

// handleScrapeJobPosting runs the preset job-posting extraction
// (spec.md §6: POST /scrape/job-posting -> 200, never raises).
func (s *Server) handleScrapeJobPosting(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL      string `json:"url"`
		UseCache bool   `json:"use_cache"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apperrors.Validation(fmt.Sprintf("invalid JSON body: %v", err)))
		return
	}
	if err := scraper.ValidateURL(req.URL); err != nil {
		s.writeError(w, apperrors.Validation(err.Error()))
		return
	}

	result := s.scraper.ExtractJobPosting(r.Context(), req.URL, req.UseCache)
	s.writeJSON(w, http.StatusOK, result)
}

// Helpers

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError maps the caller-visible error taxonomy to status codes
// per spec.md §7: validation errors are the only 400s, missing
// resources are 404, and everything else degrades to a 200-with-notice
// service-degraded body rather than a 5xx or 429 — upstream provider
// rate limits are absorbed by the router and must never surface here.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusOK
	kind := "service_degraded"

	switch {
	case errors.Is(err, apperrors.ErrValidation):
		status = http.StatusBadRequest
		kind = "validation_error"
	case errors.Is(err, apperrors.ErrNotFound):
		status = http.StatusNotFound
		kind = "not_found"
	case errors.Is(err, apperrors.ErrServiceDegraded):
		status = http.StatusOK
		kind = "service_degraded"
	default:
		status = http.StatusOK
		kind = "service_degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"message": err.Error(),
			"type":    kind,
		},
		"timestamp": time.Now().Unix(),
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
