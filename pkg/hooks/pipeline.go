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

// Package hooks runs the gateway's pre and post processing chains.
//
// Hooks execute in ascending priority order. A hook that returns an
// error aborts the chain and the error surfaces to the caller; a hook
// that panics is logged and skipped so one broken hook cannot take the
// pipeline down.
package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"

	"github.com/peerex/hermod/pkg/message"
	"github.com/peerex/hermod/pkg/observability"
)

// Priority bands. Only the numeric ordering is contractual; hooks may
// use any integer.
const (
	PriorityCritical = 0
	PriorityHigh     = 100
	PriorityNormal   = 200
	PriorityLow      = 300
)

// PreHook runs before answer generation and may mutate the incoming
// message.
type PreHook interface {
	Name() string
	Priority() int
	Execute(ctx context.Context, in *message.Incoming) error
}

// PostHook runs after answer generation and may mutate the outgoing
// message.
type PostHook interface {
	Name() string
	Priority() int
	Execute(ctx context.Context, in *message.Incoming, out *message.Outgoing) error
}

// Pipeline holds the ordered pre and post hook chains.
type Pipeline struct {
	mu     sync.RWMutex
	pre    []PreHook
	post   []PostHook
	tracer *observability.Tracer
	logger *slog.Logger
}

// PipelineOption configures the Pipeline.
type PipelineOption func(*Pipeline)

// WithTracer attaches the tracer for per-hook spans.
func WithTracer(tracer *observability.Tracer) PipelineOption {
	return func(p *Pipeline) { p.tracer = tracer }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPipeline creates an empty pipeline.
func NewPipeline(opts ...PipelineOption) *Pipeline {
	p := &Pipeline{logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RegisterPre adds a pre-hook. Names must be unique within the chain.
func (p *Pipeline) RegisterPre(h PreHook) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, existing := range p.pre {
		if existing.Name() == h.Name() {
			return fmt.Errorf("pre-hook %q already registered", h.Name())
		}
	}
	p.pre = append(p.pre, h)
	// Stable sort keeps registration order for equal priorities.
	sort.SliceStable(p.pre, func(i, j int) bool {
		return p.pre[i].Priority() < p.pre[j].Priority()
	})
	return nil
}

// RegisterPost adds a post-hook. Names must be unique within the chain.
func (p *Pipeline) RegisterPost(h PostHook) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, existing := range p.post {
		if existing.Name() == h.Name() {
			return fmt.Errorf("post-hook %q already registered", h.Name())
		}
	}
	p.post = append(p.post, h)
	sort.SliceStable(p.post, func(i, j int) bool {
		return p.post[i].Priority() < p.post[j].Priority()
	})
	return nil
}

// ExecutePre runs the pre-hook chain in priority order. It returns the
// names of the hooks that ran, including one whose returned error
// aborted the chain and ones that panicked.
func (p *Pipeline) ExecutePre(ctx context.Context, in *message.Incoming) ([]string, error) {
	p.mu.RLock()
	chain := make([]PreHook, len(p.pre))
	copy(chain, p.pre)
	p.mu.RUnlock()

	var executed []string
	for _, h := range chain {
		if in.Bypassed(h.Name()) {
			continue
		}
		err := p.runPre(ctx, h, in)
		executed = append(executed, h.Name())
		if err != nil {
			observability.GetGlobalMetrics().RecordHookFailure(ctx, h.Name(), "pre")
			return executed, err
		}
	}
	return executed, nil
}

// ExecutePost runs the post-hook chain in priority order. Return
// semantics match ExecutePre.
func (p *Pipeline) ExecutePost(ctx context.Context, in *message.Incoming, out *message.Outgoing) ([]string, error) {
	p.mu.RLock()
	chain := make([]PostHook, len(p.post))
	copy(chain, p.post)
	p.mu.RUnlock()

	var executed []string
	for _, h := range chain {
		if in.Bypassed(h.Name()) {
			continue
		}
		err := p.runPost(ctx, h, in, out)
		executed = append(executed, h.Name())
		if err != nil {
			observability.GetGlobalMetrics().RecordHookFailure(ctx, h.Name(), "post")
			return executed, err
		}
	}
	return executed, nil
}

// runPre executes one pre-hook, turning a panic into a logged skip.
func (p *Pipeline) runPre(ctx context.Context, h PreHook, in *message.Incoming) (err error) {
	ctx, span := p.tracer.StartHook(ctx, h.Name(), "pre")
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Hook panicked",
				"hook", h.Name(),
				"phase", "pre",
				"panic", r,
				"stack", string(debug.Stack()))
			observability.GetGlobalMetrics().RecordHookFailure(ctx, h.Name(), "pre")
			err = nil
		}
	}()
	return h.Execute(ctx, in)
}

// runPost executes one post-hook, turning a panic into a logged skip.
func (p *Pipeline) runPost(ctx context.Context, h PostHook, in *message.Incoming, out *message.Outgoing) (err error) {
	ctx, span := p.tracer.StartHook(ctx, h.Name(), "post")
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Hook panicked",
				"hook", h.Name(),
				"phase", "post",
				"panic", r,
				"stack", string(debug.Stack()))
			observability.GetGlobalMetrics().RecordHookFailure(ctx, h.Name(), "post")
			err = nil
		}
	}()
	return h.Execute(ctx, in, out)
}

// PreHookNames returns the registered pre-hook names in execution order.
func (p *Pipeline) PreHookNames() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, len(p.pre))
	for i, h := range p.pre {
		names[i] = h.Name()
	}
	return names
}

// PostHookNames returns the registered post-hook names in execution
// order.
func (p *Pipeline) PostHookNames() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, len(p.post))
	for i, h := range p.post {
		names[i] = h.Name()
	}
	return names
}

// preFunc adapts a function to the PreHook interface.
type preFunc struct {
	name     string
	priority int
	fn       func(ctx context.Context, in *message.Incoming) error
}

func (h *preFunc) Name() string  { return h.name }
func (h *preFunc) Priority() int { return h.priority }
func (h *preFunc) Execute(ctx context.Context, in *message.Incoming) error {
	return h.fn(ctx, in)
}

// NewPreHook wraps a function as a named pre-hook.
func NewPreHook(name string, priority int, fn func(ctx context.Context, in *message.Incoming) error) PreHook {
	return &preFunc{name: name, priority: priority, fn: fn}
}

// postFunc adapts a function to the PostHook interface.
type postFunc struct {
	name     string
	priority int
	fn       func(ctx context.Context, in *message.Incoming, out *message.Outgoing) error
}

func (h *postFunc) Name() string  { return h.name }
func (h *postFunc) Priority() int { return h.priority }
func (h *postFunc) Execute(ctx context.Context, in *message.Incoming, out *message.Outgoing) error {
	return h.fn(ctx, in, out)
}

// NewPostHook wraps a function as a named post-hook.
func NewPostHook(name string, priority int, fn func(ctx context.Context, in *message.Incoming, out *message.Outgoing) error) PostHook {
	return &postFunc{name: name, priority: priority, fn: fn}
}
