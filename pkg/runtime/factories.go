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

package runtime

import (
	"context"
	"fmt"
	"sort"

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
	"github.com/peerex/hermod/pkg/message"
	"github.com/peerex/hermod/pkg/notify"
	"github.com/peerex/hermod/pkg/observability"
	"github.com/peerex/hermod/pkg/rag"
	"github.com/peerex/hermod/pkg/ratelimit"
	"github.com/peerex/hermod/pkg/reactions"
	"github.com/peerex/hermod/pkg/retriever"
	"github.com/peerex/hermod/pkg/server"
	"github.com/peerex/hermod/pkg/staff"
	"github.com/peerex/hermod/pkg/vector"
)

func (r *Runtime) buildObservability(ctx context.Context) error {
	if r.cfg.Server.Observability == nil {
		r.obs = observability.NoopManager()
		return nil
	}
	r.obs = observability.NewManager(*r.cfg.Server.Observability)
	return r.obs.Initialize(ctx)
}

func (r *Runtime) buildDatabase(_ context.Context) error {
	if r.dbPool == nil {
		r.dbPool = config.NewDBPool()
		r.ownPool = true
	}
	db, err := r.dbPool.Get(&r.cfg.Database)
	if err != nil {
		return err
	}
	r.db = db
	r.dialect = r.cfg.Database.Dialect()
	return nil
}

func (r *Runtime) buildStores(_ context.Context) error {
	faqs, err := faq.NewStore(&r.cfg.FAQ)
	if err != nil {
		return fmt.Errorf("faq store: %w", err)
	}
	r.faqs = faqs

	escStore, err := escalation.NewStore(r.db, r.dialect)
	if err != nil {
		return fmt.Errorf("escalation store: %w", err)
	}
	r.escStore = escStore

	fbStore, err := feedback.NewStore(r.db, r.dialect, r.logger)
	if err != nil {
		return fmt.Errorf("feedback store: %w", err)
	}
	r.feedback = fbStore

	learnStore, err := learning.NewStore(r.db, r.dialect)
	if err != nil {
		return fmt.Errorf("learning store: %w", err)
	}
	r.learning = learnStore

	return nil
}

func (r *Runtime) buildProviders(_ context.Context) error {
	r.llms = llm.NewRegistry()
	for name, c := range r.cfg.LLMs {
		if _, err := r.llms.CreateFromConfig(name, c); err != nil {
			return fmt.Errorf("llm %q: %w", name, err)
		}
	}

	r.embedders = embedder.NewRegistry()
	for name, c := range r.cfg.Embedders {
		if _, err := r.embedders.CreateFromConfig(name, c); err != nil {
			return fmt.Errorf("embedder %q: %w", name, err)
		}
	}

	r.vectors = vector.NewRegistry()
	for name, c := range r.cfg.VectorStores {
		if _, err := r.vectors.CreateFromConfig(name, c); err != nil {
			return fmt.Errorf("vector store %q: %w", name, err)
		}
	}

	return nil
}

func (r *Runtime) buildKnowledge(_ context.Context) error {
	if r.cfg.Knowledge.VectorStore == "" {
		return fmt.Errorf("knowledge.vector_store is not configured")
	}
	if r.cfg.Knowledge.Embedder == "" {
		return fmt.Errorf("knowledge.embedder is not configured")
	}

	store, err := r.vectors.GetStore(r.cfg.Knowledge.VectorStore)
	if err != nil {
		return err
	}
	emb, err := r.embedders.GetEmbedder(r.cfg.Knowledge.Embedder)
	if err != nil {
		return err
	}
	r.kbStore = store
	r.kbEmbedder = emb

	loader := knowledge.NewLoader(&r.cfg.Knowledge, r.faqs, r.logger)
	r.manager = knowledge.NewManager(&r.cfg.Knowledge, loader, store, emb, r.logger)

	if err := r.manager.LoadPersistedVocabulary(); err != nil {
		r.logger.Warn("Persisted vocabulary unusable; sparse retrieval degrades until the next index build",
			"error", err)
	}

	if config.BoolValue(r.cfg.Knowledge.Watch, false) {
		r.watcher = knowledge.NewWatcher(r.manager, &r.cfg.Knowledge, r.logger)
	}

	return nil
}

func (r *Runtime) buildRAG(_ context.Context) error {
	if r.cfg.RAG.LLM == "" {
		return fmt.Errorf("rag.llm is not configured")
	}
	provider, err := r.llms.GetLLM(r.cfg.RAG.LLM)
	if err != nil {
		return err
	}

	primary := retriever.NewHybrid(&r.cfg.Retrieval, r.kbStore, r.kbEmbedder, r.manager, r.logger)

	var fallback retriever.Retriever
	if name := r.cfg.Retrieval.FallbackStore; name != "" {
		fbStore, err := r.vectors.GetStore(name)
		if err != nil {
			return fmt.Errorf("fallback store: %w", err)
		}
		fallback = retriever.NewDense(&r.cfg.Retrieval, fbStore, r.kbEmbedder, r.manager, r.logger)
	}
	r.retriever = retriever.NewResilient(&r.cfg.Retrieval, primary, fallback, r.logger)

	r.rag = rag.New(&r.cfg.RAG, r.retriever, provider,
		rag.WithGuidance(r.feedback),
		rag.WithTopK(r.cfg.Retrieval.TopK),
		rag.WithLogger(r.logger),
	)
	return nil
}

func (r *Runtime) buildAuth(ctx context.Context) error {
	ac := r.cfg.Server.Auth
	if ac == nil || !ac.Enabled {
		return nil
	}
	validator, err := auth.NewValidator(ctx, ac)
	if err != nil {
		return err
	}
	r.validator = validator
	return nil
}

func (r *Runtime) buildChannels(_ context.Context) error {
	r.chRuntime = channel.NewRuntime()
	r.registry = channel.NewRegistry(r.logger)
	r.webchats = make(map[string]*webchat.Plugin)

	ids := make([]string, 0, len(r.cfg.Channels.Webchat))
	for id := range r.cfg.Channels.Webchat {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		wc := r.cfg.Channels.Webchat[id]
		if wc != nil && !config.BoolValue(wc.Enabled, true) {
			continue
		}
		priority := 100
		if wc != nil {
			priority = wc.Priority
		}
		plugin := webchat.New(id, wc, r.chRuntime, webchat.WithLogger(r.logger))
		if _, err := r.registry.Register(plugin, channel.WithPriority(priority)); err != nil {
			return fmt.Errorf("webchat %q: %w", id, err)
		}
		r.webchats[id] = plugin
	}

	if mc := r.cfg.Channels.Matrix; mc != nil && config.BoolValue(mc.Enabled, false) {
		plugin := matrix.New(mc, r.chRuntime, matrix.WithLogger(r.logger))
		if _, err := r.registry.Register(plugin, channel.WithPriority(mc.Priority)); err != nil {
			return fmt.Errorf("matrix: %w", err)
		}
		r.matrix = plugin
	}

	return nil
}

func (r *Runtime) buildServices(_ context.Context) error {
	r.staff = staff.NewResolver(&r.cfg.Staff)

	notifier := notify.New(&r.cfg.Notify, r.logger)

	escSvc, err := escalation.NewService(r.escStore, &r.cfg.Escalation,
		escalation.WithPlugins(r.registry),
		escalation.WithLearningSink(r.learning),
		escalation.WithNotifier(notifier),
		escalation.WithFAQStore(r.faqs),
		escalation.WithLogger(r.logger),
	)
	if err != nil {
		return fmt.Errorf("escalation service: %w", err)
	}
	r.escalations = escSvc

	if config.BoolValue(r.cfg.Followup.Enabled, true) {
		fopts := []followup.Option{followup.WithLogger(r.logger)}
		if name := r.cfg.Followup.AnalyzerLLM; name != "" {
			provider, err := r.llms.GetLLM(name)
			if err != nil {
				return fmt.Errorf("analyzer llm: %w", err)
			}
			fopts = append(fopts, followup.WithAnalyzer(feedback.NewAnalyzer(provider, r.logger)))
		}
		r.followups = followup.NewCoordinator(&r.cfg.Followup, r.registry, r.feedback, fopts...)
	}

	// A nil *Coordinator must not end up inside the interface value.
	var coordinator channel.FollowupCoordinator
	if r.followups != nil {
		coordinator = r.followups
	}
	r.reactions = reactions.NewProcessor(r.feedback, coordinator, reactions.WithLogger(r.logger))

	// Plugins see shared services only once all of them exist.
	r.chRuntime.SetStaff(r.staff)
	r.chRuntime.SetEscalations(r.escalations)
	r.chRuntime.SetReactions(r.reactions)
	if coordinator != nil {
		r.chRuntime.SetFollowups(coordinator)
	}

	return nil
}

func (r *Runtime) buildHooks(_ context.Context) error {
	pipeline := hooks.NewPipeline(
		hooks.WithTracer(r.obs.GetTracer()),
		hooks.WithLogger(r.logger),
	)

	hc := &r.cfg.Hooks

	if config.BoolValue(hc.RateLimit.Enabled, true) {
		var store ratelimit.Store
		if hc.RateLimit.Backend == "sql" {
			sqlStore, err := ratelimit.NewSQLStore(r.db, r.dialect)
			if err != nil {
				return fmt.Errorf("ratelimit store: %w", err)
			}
			store = sqlStore
		} else {
			store = ratelimit.NewMemoryStore()
		}
		limiter := ratelimit.NewLimiter(store, hc.RateLimit.Requests, hc.RateLimit.Window)
		if err := pipeline.RegisterPre(hooks.NewRateLimitHook(limiter, r.logger)); err != nil {
			return err
		}
	}

	if r.validator != nil {
		policies := make(map[string]hooks.ChannelAuthPolicy)
		for id, wc := range r.cfg.Channels.Webchat {
			if wc != nil && wc.RequireAuth {
				policies[id] = hooks.ChannelAuthPolicy{
					RequireAuth:  true,
					RequiredRole: wc.RequiredRole,
				}
			}
		}
		if len(policies) > 0 {
			if err := pipeline.RegisterPre(hooks.NewAuthHook(r.validator, policies, r.logger)); err != nil {
				return err
			}
		}
	}

	if config.BoolValue(hc.PII.Enabled, true) {
		if err := pipeline.RegisterPre(hooks.NewPIIHook(&hc.PII, r.logger)); err != nil {
			return err
		}
	}

	if r.followups != nil {
		if err := pipeline.RegisterPre(hooks.NewFollowupCaptureHook(r.chRuntime, r.registry, r.logger)); err != nil {
			return err
		}
	}

	if err := pipeline.RegisterPost(hooks.NewConfidenceRouterHook(&hc.Confidence)); err != nil {
		return err
	}
	if config.BoolValue(hc.Suggestions.Enabled, true) {
		if err := pipeline.RegisterPost(hooks.NewSuggestionsHook(&hc.Suggestions)); err != nil {
			return err
		}
	}

	r.pipeline = pipeline
	return nil
}

func (r *Runtime) buildGateway(_ context.Context) error {
	cache, err := dedupe.New(&r.cfg.Dedupe, r.cfg.Redis, r.logger)
	if err != nil {
		return fmt.Errorf("dedupe cache: %w", err)
	}
	r.dedupe = cache

	r.gateway = gateway.New(r.registry, r.rag,
		gateway.WithHooks(r.pipeline),
		gateway.WithDedupe(cache),
		gateway.WithTracer(r.obs.GetTracer()),
		gateway.WithLogger(r.logger),
		gateway.WithVersion(r.version),
	)

	r.dispatcher = dispatch.New(r.registry, r.escalations,
		dispatch.WithStaff(r.staff),
		dispatch.WithTracer(r.obs.GetTracer()),
		dispatch.WithLogger(r.logger),
	)

	// Matrix pushes messages instead of being polled over HTTP, so its
	// inbound handler closes over the finished gateway and dispatcher.
	if r.matrix != nil {
		gw, disp, logger := r.gateway, r.dispatcher, r.logger
		r.matrix.SetHandler(func(ctx context.Context, in *message.Incoming) {
			out, err := gw.ProcessMessage(ctx, in)
			if err != nil {
				gerr := gateway.AsError(err)
				logger.Warn("Matrix message rejected",
					"code", gerr.Code,
					"channel_id", in.ChannelID,
					"message_id", in.MessageID)
				return
			}
			if out == nil {
				return
			}
			disp.Dispatch(ctx, in, out)
		})
	}

	return nil
}

func (r *Runtime) buildServer(_ context.Context) error {
	opts := []server.Option{
		server.WithEscalations(r.escalations),
		server.WithFAQs(r.faqs),
		server.WithLogger(r.logger),
		server.WithVersion(r.version),
	}
	for id, plugin := range r.webchats {
		opts = append(opts, server.WithWebchat(id, plugin))
	}
	if r.validator != nil {
		opts = append(opts, server.WithAuth(r.validator, r.cfg.Server.Auth.StaffRole))
	}
	if r.cfg.Server.Observability != nil {
		opts = append(opts, server.WithObservability(r.obs))
	}

	r.server = server.New(&r.cfg.Server, r.gateway, r.dispatcher, r.registry, opts...)
	return nil
}
