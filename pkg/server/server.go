// Copyright 2025 Peerex, Ltd.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package server hosts the HTTP surface of the gateway: the web-chat
// channel mount, the staff API for the review queue and the FAQ store,
// health, metrics, and the config schema endpoint.
//
// The staff API sits behind JWT auth when a validator is configured;
// the web-chat mount is public and relies on the gateway's hook chain
// (rate limit, channel auth, PII) for admission control.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/invopop/jsonschema"

	"github.com/peerex/hermod/pkg/auth"
	"github.com/peerex/hermod/pkg/channel"
	"github.com/peerex/hermod/pkg/channel/webchat"
	"github.com/peerex/hermod/pkg/config"
	"github.com/peerex/hermod/pkg/escalation"
	"github.com/peerex/hermod/pkg/faq"
	"github.com/peerex/hermod/pkg/message"
	"github.com/peerex/hermod/pkg/observability"
)

// MessageProcessor runs one inbound message through the gateway
// pipeline. The gateway implements it.
type MessageProcessor interface {
	ProcessMessage(ctx context.Context, in *message.Incoming) (*message.Outgoing, error)
}

// Deliverer applies the routing decision on a generated answer. The
// dispatcher implements it.
type Deliverer interface {
	Dispatch(ctx context.Context, in *message.Incoming, out *message.Outgoing) bool
}

// Server is the gateway HTTP server.
type Server struct {
	cfg        *config.ServerConfig
	processor  MessageProcessor
	dispatcher Deliverer
	registry   *channel.Registry

	webchats    map[string]*webchat.Plugin
	escalations *escalation.Service
	faqs        *faq.Store
	validator   *auth.Validator
	staffRole   string
	obs         *observability.Manager
	logger      *slog.Logger
	version     string

	server *http.Server
}

// Option configures the Server.
type Option func(*Server)

// WithWebchat mounts a web-chat plugin instance under
// /v1/channels/{id}/messages.
func WithWebchat(channelID string, plugin *webchat.Plugin) Option {
	return func(s *Server) { s.webchats[channelID] = plugin }
}

// WithEscalations enables the staff review-queue endpoints.
func WithEscalations(svc *escalation.Service) Option {
	return func(s *Server) { s.escalations = svc }
}

// WithFAQs enables the FAQ admin endpoints.
func WithFAQs(store *faq.Store) Option {
	return func(s *Server) { s.faqs = store }
}

// WithAuth protects the staff API with JWT validation. staffRole is the
// role claim required for access.
func WithAuth(validator *auth.Validator, staffRole string) Option {
	return func(s *Server) {
		s.validator = validator
		s.staffRole = staffRole
	}
}

// WithObservability wires tracing, request metrics, and the scrape
// endpoint.
func WithObservability(obs *observability.Manager) Option {
	return func(s *Server) { s.obs = obs }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithVersion sets the version reported by the root and health
// endpoints.
func WithVersion(version string) Option {
	return func(s *Server) { s.version = version }
}

// New creates a Server. processor and dispatcher handle the web-chat
// mount; registry backs the health endpoint. Staff endpoints appear
// only when their services are wired via options.
func New(cfg *config.ServerConfig, processor MessageProcessor, dispatcher Deliverer, registry *channel.Registry, opts ...Option) *Server {
	if cfg == nil {
		cfg = &config.ServerConfig{}
	}
	if cfg.Host == "" || cfg.Port == 0 {
		cfg.SetDefaults()
	}

	s := &Server{
		cfg:        cfg,
		processor:  processor,
		dispatcher: dispatcher,
		registry:   registry,
		webchats:   make(map[string]*webchat.Plugin),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the full HTTP handler with the middleware chain
// applied. Order: observability -> logging -> cors -> timeout ->
// routes; staff routes additionally pass through auth.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.loggingMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.timeoutMiddleware)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/api/schema", s.handleSchema)
	if s.obs != nil {
		r.Method(http.MethodGet, s.obs.MetricsPath(), s.obs.GetMetrics().Handler())
	}

	r.Post("/v1/channels/{channel}/messages", s.handleWebchatMessage)

	r.Route("/v1/escalations", func(r chi.Router) {
		r.Use(s.staffOnly)
		r.Get("/", s.handleListEscalations)
		r.Get("/counts", s.handleEscalationCounts)
		r.Get("/{id}", s.handleGetEscalation)
		r.Post("/{id}/claim", s.handleClaimEscalation)
		r.Post("/{id}/respond", s.handleRespondEscalation)
		r.Post("/{id}/close", s.handleCloseEscalation)
		r.Post("/{id}/faq", s.handleEscalationFAQ)
	})

	r.Route("/v1/faqs", func(r chi.Router) {
		r.Use(s.staffOnly)
		r.Get("/", s.handleListFAQs)
		r.Post("/", s.handleCreateFAQ)
		r.Get("/{id}", s.handleGetFAQ)
		r.Patch("/{id}", s.handleUpdateFAQ)
		r.Post("/{id}/verify", s.handleVerifyFAQ)
		r.Delete("/{id}", s.handleDeleteFAQ)
	})

	var handler http.Handler = r
	if s.obs != nil {
		handler = observability.HTTPMiddleware(s.obs.GetTracer(), s.obs.GetMetrics())(handler)
	}
	return handler
}

// Start runs the server until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.cfg.Address(),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: s.cfg.RequestTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("HTTP server starting",
		"address", s.cfg.Address(),
		"webchat_mounts", len(s.webchats),
		"staff_api", s.escalations != nil,
		"auth", s.validator != nil)

	errCh := make(chan error, 1)
	go func() {
		if err := s.listen(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

func (s *Server) listen() error {
	if s.cfg.TLS != nil && config.BoolValue(s.cfg.TLS.Enabled, false) {
		return s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	s.logger.Info("HTTP server shutting down")
	return s.server.Shutdown(shutdownCtx)
}

// Address returns the configured listen address.
func (s *Server) Address() string {
	return s.cfg.Address()
}

// staffOnly enforces the staff role on the wrapped routes. Without a
// validator the routes are open; deployments that expose the staff API
// must configure auth.
func (s *Server) staffOnly(next http.Handler) http.Handler {
	if s.validator == nil {
		return next
	}
	return auth.RequireRole(s.validator, s.staffRole)(next)
}

// loggingMiddleware logs requests at debug level.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start))
	})
}

// corsMiddleware adds CORS headers from config.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	cors := s.cfg.CORS
	if cors == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			for _, allowed := range cors.AllowedOrigins {
				if allowed == "*" || allowed == origin {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}

		w.Header().Set("Access-Control-Allow-Methods", joinOrDefault(cors.AllowedMethods, "GET, POST, OPTIONS"))
		w.Header().Set("Access-Control-Allow-Headers", joinOrDefault(cors.AllowedHeaders, "Content-Type, Authorization"))
		if config.BoolValue(cors.AllowCredentials, false) {
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// timeoutMiddleware bounds handler execution by cancelling the request
// context. Handlers propagate the context into the gateway, so an
// expired request aborts RAG and delivery work.
func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	if s.cfg.RequestTimeout <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func joinOrDefault(values []string, fallback string) string {
	if len(values) == 0 {
		return fallback
	}
	return strings.Join(values, ", ")
}

// handleRoot identifies the service.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "hermod",
		"version": s.version,
	})
}

// healthResponse is the health endpoint payload.
type healthResponse struct {
	Status   string                          `json:"status"`
	Version  string                          `json:"version,omitempty"`
	Channels map[string]channel.HealthStatus `json:"channels,omitempty"`
}

// handleHealth reports per-channel health. Any unhealthy channel turns
// the overall status to degraded with a 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var statuses map[string]channel.HealthStatus
	if s.registry != nil {
		statuses = s.registry.HealthCheckAll(r.Context())
	}

	status := "ok"
	code := http.StatusOK
	for _, st := range statuses {
		if !st.Healthy {
			status = "degraded"
			code = http.StatusServiceUnavailable
			break
		}
	}

	writeJSON(w, code, healthResponse{
		Status:   status,
		Version:  s.version,
		Channels: statuses,
	})
}

// handleSchema serves the JSON Schema of the configuration file.
func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	schema := reflector.Reflect(&config.Config{})
	schema.ID = "https://hermod.peerex.net/schemas/config.json"
	schema.Title = "Hermod Configuration Schema"
	schema.Description = "Configuration schema for the Hermod support gateway"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(schema); err != nil {
		s.logger.Error("Failed to encode config schema", "error", err)
	}
}

// errorResponse is the error payload shape shared by all endpoints.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// decodeBody decodes an optional JSON body. An empty body leaves v
// untouched.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
