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

// Package runtime assembles the full gateway object graph from a
// validated configuration: providers, stores, domain services, channel
// plugins, the hook pipeline, and the HTTP server.
//
// Assembly runs in dependency order. Channel plugins are constructed
// against a shared service runtime that is populated only after every
// service exists, and the Matrix inbound handler is bound last; both
// keep the plugin/service graph acyclic.
package runtime

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/peerex/hermod"
	"github.com/peerex/hermod/pkg/auth"
	"github.com/peerex/hermod/pkg/channel"
	"github.com/peerex/hermod/pkg/channel/matrix"
	"github.com/peerex/hermod/pkg/channel/webchat"
	"github.com/peerex/hermod/pkg/config"
	"github.com/peerex/hermod/pkg/dedupe"
	"github.com/peerex/hermod/pkg/dispatch"
	"github.com/peerex/hermod/pkg/embedder"
	"github.com/peerex/hermod/pkg/escalation"
	"github.com/peerex/hermod/pkg/faq"
	"github.com/peerex/hermod/pkg/feedback"
	"github.com/peerex/hermod/pkg/followup"
	"github.com/peerex/hermod/pkg/gateway"
	"github.com/peerex/hermod/pkg/hooks"
	"github.com/peerex/hermod/pkg/knowledge"
	"github.com/peerex/hermod/pkg/learning"
	"github.com/peerex/hermod/pkg/llm"
	"github.com/peerex/hermod/pkg/observability"
	"github.com/peerex/hermod/pkg/rag"
	"github.com/peerex/hermod/pkg/reactions"
	"github.com/peerex/hermod/pkg/retriever"
	"github.com/peerex/hermod/pkg/server"
	"github.com/peerex/hermod/pkg/staff"
	"github.com/peerex/hermod/pkg/vector"
)

// Runtime owns the assembled service graph and its lifecycle.
type Runtime struct {
	cfg     *config.Config
	logger  *slog.Logger
	version string

	obs     *observability.Manager
	dbPool  *config.DBPool
	ownPool bool
	db      *sql.DB
	dialect string

	llms      *llm.Registry
	embedders *embedder.Registry
	vectors   *vector.Registry

	faqs     *faq.Store
	feedback *feedback.Store
	learning *learning.Store
	escStore *escalation.Store

	manager    *knowledge.Manager
	watcher    *knowledge.Watcher
	kbStore    vector.Store
	kbEmbedder embedder.Provider
	retriever  retriever.Retriever
	rag        *rag.Orchestrator

	validator *auth.Validator
	staff     *staff.Resolver
	dedupe    dedupe.Cache

	chRuntime *channel.Runtime
	registry  *channel.Registry
	webchats  map[string]*webchat.Plugin
	matrix    *matrix.Plugin

	escalations *escalation.Service
	followups   *followup.Coordinator
	reactions   *reactions.Processor
	pipeline    *hooks.Pipeline

	gateway    *gateway.Gateway
	dispatcher *dispatch.Dispatcher
	server     *server.Server
}

// Option configures the Runtime before assembly.
type Option func(*Runtime)

// WithLogger sets the logger shared by every component.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithDBPool shares an externally owned database pool. The caller
// remains responsible for closing it.
func WithDBPool(pool *config.DBPool) Option {
	return func(r *Runtime) {
		if pool != nil {
			r.dbPool = pool
			r.ownPool = false
		}
	}
}

// WithVersion overrides the version stamped into response metadata and
// health output.
func WithVersion(version string) Option {
	return func(r *Runtime) {
		if version != "" {
			r.version = version
		}
	}
}

// New assembles the full gateway from cfg. The configuration must have
// passed the loading pipeline already (defaults applied, references
// validated). On error every resource opened so far is released.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	r := &Runtime{
		cfg:     cfg,
		logger:  slog.Default(),
		version: hermod.Version,
		ownPool: true,
	}
	for _, opt := range opts {
		opt(r)
	}

	steps := []struct {
		name  string
		build func(context.Context) error
	}{
		{"observability", r.buildObservability},
		{"database", r.buildDatabase},
		{"stores", r.buildStores},
		{"providers", r.buildProviders},
		{"knowledge", r.buildKnowledge},
		{"rag", r.buildRAG},
		{"auth", r.buildAuth},
		{"channels", r.buildChannels},
		{"services", r.buildServices},
		{"hooks", r.buildHooks},
		{"gateway", r.buildGateway},
		{"server", r.buildServer},
	}
	for _, step := range steps {
		if err := step.build(ctx); err != nil {
			closeErr := r.Close()
			return nil, errors.Join(fmt.Errorf("%s: %w", step.name, err), closeErr)
		}
	}

	r.logger.Info("Runtime assembled",
		"webchat_instances", len(r.webchats),
		"matrix", r.matrix != nil,
		"llms", r.llms.Count(),
		"embedders", r.embedders.Count(),
		"vector_stores", r.vectors.Count(),
		"version", r.version)

	return r, nil
}

// Start brings up channel plugins and background services, then runs
// the HTTP server until ctx is cancelled. Channel plugins are stopped
// before Start returns.
func (r *Runtime) Start(ctx context.Context) error {
	if err := r.registry.StartAll(ctx, channel.StartOptions{
		Timeout:         r.cfg.Channels.StartTimeout,
		ContinueOnError: r.cfg.Channels.ContinueOnError,
	}); err != nil {
		return fmt.Errorf("channel startup: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := r.registry.StopAll(stopCtx); err != nil {
			r.logger.Warn("Channel shutdown reported errors", "error", err)
		}
	}()

	go r.escalations.RunMaintenance(ctx)

	// The first index build runs off the startup path; the gateway
	// serves context-only answers until the collection is ready.
	go func() {
		if err := r.manager.EnsureFresh(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("Knowledge index build failed", "error", err)
		}
	}()

	if r.watcher != nil {
		if err := r.watcher.Start(ctx); err != nil {
			r.logger.Warn("Knowledge watcher failed to start", "error", err)
		} else {
			defer func() {
				if err := r.watcher.Stop(); err != nil {
					r.logger.Warn("Knowledge watcher stop failed", "error", err)
				}
			}()
		}
	}

	return r.server.Start(ctx)
}

// Close releases providers, caches, and database resources. It is safe
// on a partially constructed runtime and after Start has returned.
func (r *Runtime) Close() error {
	var errs []error

	if r.dedupe != nil {
		if err := r.dedupe.Close(); err != nil {
			errs = append(errs, fmt.Errorf("dedupe cache: %w", err))
		}
		r.dedupe = nil
	}
	if r.llms != nil {
		for _, p := range r.llms.List() {
			if err := p.Close(); err != nil {
				errs = append(errs, fmt.Errorf("llm provider: %w", err))
			}
		}
		r.llms = nil
	}
	if r.embedders != nil {
		for _, p := range r.embedders.List() {
			if err := p.Close(); err != nil {
				errs = append(errs, fmt.Errorf("embedder provider: %w", err))
			}
		}
		r.embedders = nil
	}
	if r.vectors != nil {
		if err := r.vectors.Close(); err != nil {
			errs = append(errs, err)
		}
		r.vectors = nil
	}
	if r.ownPool && r.dbPool != nil {
		if err := r.dbPool.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.dbPool = nil
	if r.obs != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.obs.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("observability: %w", err))
		}
		cancel()
		r.obs = nil
	}

	return errors.Join(errs...)
}

// Config returns the configuration the runtime was built from.
func (r *Runtime) Config() *config.Config {
	return r.cfg
}

// Server returns the HTTP server.
func (r *Runtime) Server() *server.Server {
	return r.server
}

// Registry returns the channel registry.
func (r *Runtime) Registry() *channel.Registry {
	return r.registry
}

// Gateway returns the inbound message gateway.
func (r *Runtime) Gateway() *gateway.Gateway {
	return r.gateway
}
