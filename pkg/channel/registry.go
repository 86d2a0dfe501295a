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

package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/peerex/hermod/pkg/registry"
)

const defaultStartTimeout = 30 * time.Second

var (
	ErrChannelAlreadyRegistered = errors.New("channel already registered")
	ErrChannelNotFound          = errors.New("channel not found")
)

// StartupError wraps a plugin start failure with its channel id.
type StartupError struct {
	ChannelID string
	Err       error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("[Channel:%s] start failed: %v", e.ChannelID, e.Err)
}

func (e *StartupError) Unwrap() error {
	return e.Err
}

// StartOptions control one StartAll pass.
type StartOptions struct {
	// Timeout bounds each plugin's Start call. Zero means 30s.
	Timeout time.Duration

	// ContinueOnError keeps starting remaining plugins after a failure.
	// All failures are collected into the returned error. Default
	// aborts on the first failure.
	ContinueOnError bool
}

// RegisterOption configures one registration.
type RegisterOption func(*registration)

// WithPriority orders startup: lower priorities start first, stop last.
func WithPriority(priority int) RegisterOption {
	return func(r *registration) {
		r.priority = priority
	}
}

type registration struct {
	plugin   Plugin
	handle   string
	priority int
	seq      int

	mu       sync.Mutex
	started  bool
	startErr error
}

func (r *registration) startState() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started, r.startErr
}

func (r *registration) setStartState(started bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = started
	r.startErr = err
}

// Registry holds the registered channel plugins and manages their
// lifecycle. Plugins start in ascending priority (ties in registration
// order) and stop in reverse. A plugin that failed to start stays
// registered and reports unhealthy until a successful Restart.
type Registry struct {
	*registry.BaseRegistry[*registration]
	logger *slog.Logger

	mu      sync.Mutex
	handles map[string]string
	seq     int
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		BaseRegistry: registry.NewBaseRegistry[*registration](),
		logger:       logger,
		handles:      make(map[string]string),
	}
}

// Register adds a plugin and returns an opaque handle usable with
// Unregister. Registering a second plugin under the same channel id
// fails with ErrChannelAlreadyRegistered.
func (r *Registry) Register(plugin Plugin, opts ...RegisterOption) (string, error) {
	if plugin == nil {
		return "", fmt.Errorf("plugin cannot be nil")
	}
	id := plugin.ChannelID()
	if id == "" {
		return "", fmt.Errorf("plugin channel id cannot be empty")
	}

	reg := &registration{
		plugin:   plugin,
		handle:   uuid.NewString(),
		priority: 100,
	}
	for _, opt := range opts {
		opt(reg)
	}

	r.mu.Lock()
	r.seq++
	reg.seq = r.seq
	r.mu.Unlock()

	if err := r.BaseRegistry.Register(id, reg); err != nil {
		return "", fmt.Errorf("%w: %s", ErrChannelAlreadyRegistered, id)
	}

	r.mu.Lock()
	r.handles[reg.handle] = id
	r.mu.Unlock()

	r.logger.Info("Registered channel plugin", "channel", id, "priority", reg.priority)
	return reg.handle, nil
}

// Unregister removes a plugin by its registration handle or channel id.
// It does not stop the plugin.
func (r *Registry) Unregister(handleOrChannelID string) error {
	r.mu.Lock()
	id, isHandle := r.handles[handleOrChannelID]
	r.mu.Unlock()
	if !isHandle {
		id = handleOrChannelID
	}

	reg, exists := r.BaseRegistry.Get(id)
	if !exists {
		return fmt.Errorf("%w: %s", ErrChannelNotFound, handleOrChannelID)
	}

	if err := r.BaseRegistry.Remove(id); err != nil {
		return fmt.Errorf("%w: %s", ErrChannelNotFound, handleOrChannelID)
	}

	r.mu.Lock()
	delete(r.handles, reg.handle)
	r.mu.Unlock()

	r.logger.Info("Unregistered channel plugin", "channel", id)
	return nil
}

// Get returns the plugin registered under channelID.
func (r *Registry) Get(channelID string) (Plugin, bool) {
	reg, exists := r.BaseRegistry.Get(channelID)
	if !exists {
		return nil, false
	}
	return reg.plugin, true
}

// ordered returns registrations in startup order.
func (r *Registry) ordered() []*registration {
	regs := r.List()
	sort.Slice(regs, func(i, j int) bool {
		if regs[i].priority != regs[j].priority {
			return regs[i].priority < regs[j].priority
		}
		return regs[i].seq < regs[j].seq
	})
	return regs
}

// StartAll starts every registered plugin in ascending priority. By
// default the first failure aborts and is returned as a *StartupError;
// with ContinueOnError the remaining plugins still start and all
// failures are joined into the returned error. Failed plugins stay
// registered and report unhealthy.
func (r *Registry) StartAll(ctx context.Context, opts StartOptions) error {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultStartTimeout
	}

	var failures []error
	for _, reg := range r.ordered() {
		id := reg.plugin.ChannelID()
		r.logger.Info("Starting channel plugin", "channel", id, "priority", reg.priority)

		if err := r.startOne(ctx, reg, timeout); err != nil {
			startupErr := &StartupError{ChannelID: id, Err: err}
			r.logger.Error("Channel plugin failed to start", "channel", id, "error", err)
			if !opts.ContinueOnError {
				return startupErr
			}
			failures = append(failures, startupErr)
			continue
		}

		r.logger.Info("Channel plugin started", "channel", id)
	}

	return errors.Join(failures...)
}

// startOne runs a single plugin start under its own timeout. The select
// keeps the deadline effective even when a plugin ignores its context.
func (r *Registry) startOne(ctx context.Context, reg *registration, timeout time.Duration) error {
	startCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- reg.plugin.Start(startCtx)
	}()

	var err error
	select {
	case err = <-done:
	case <-startCtx.Done():
		err = startCtx.Err()
	}

	reg.setStartState(err == nil, err)
	return err
}

// StopAll stops every plugin in reverse startup order. Errors are
// logged and collected; every plugin is stopped regardless.
func (r *Registry) StopAll(ctx context.Context) error {
	regs := r.ordered()

	var failures []error
	for i := len(regs) - 1; i >= 0; i-- {
		reg := regs[i]
		id := reg.plugin.ChannelID()

		if err := reg.plugin.Stop(ctx); err != nil {
			r.logger.Error("Channel plugin failed to stop", "channel", id, "error", err)
			failures = append(failures, fmt.Errorf("stop %s: %w", id, err))
		} else {
			r.logger.Info("Channel plugin stopped", "channel", id)
		}
		reg.setStartState(false, nil)
	}

	return errors.Join(failures...)
}

// Restart stops and then starts one plugin.
func (r *Registry) Restart(ctx context.Context, channelID string) error {
	reg, exists := r.BaseRegistry.Get(channelID)
	if !exists {
		return fmt.Errorf("%w: %s", ErrChannelNotFound, channelID)
	}

	if started, _ := reg.startState(); started {
		if err := reg.plugin.Stop(ctx); err != nil {
			r.logger.Warn("Channel plugin stop failed during restart", "channel", channelID, "error", err)
		}
	}

	if err := r.startOne(ctx, reg, defaultStartTimeout); err != nil {
		return &StartupError{ChannelID: channelID, Err: err}
	}

	r.logger.Info("Channel plugin restarted", "channel", channelID)
	return nil
}

// HealthCheck probes one plugin. A plugin whose start failed reports
// unhealthy without being probed.
func (r *Registry) HealthCheck(ctx context.Context, channelID string) (HealthStatus, error) {
	reg, exists := r.BaseRegistry.Get(channelID)
	if !exists {
		return HealthStatus{}, fmt.Errorf("%w: %s", ErrChannelNotFound, channelID)
	}

	if _, startErr := reg.startState(); startErr != nil {
		return Unhealthy(fmt.Sprintf("start failed: %v", startErr)), nil
	}

	return reg.plugin.HealthCheck(ctx), nil
}

// HealthCheckAll probes every registered plugin in parallel.
func (r *Registry) HealthCheckAll(ctx context.Context) map[string]HealthStatus {
	regs := r.ordered()
	statuses := make([]HealthStatus, len(regs))

	g, ctx := errgroup.WithContext(ctx)
	for i, reg := range regs {
		g.Go(func() error {
			if _, startErr := reg.startState(); startErr != nil {
				statuses[i] = Unhealthy(fmt.Sprintf("start failed: %v", startErr))
				return nil
			}
			statuses[i] = reg.plugin.HealthCheck(ctx)
			return nil
		})
	}
	_ = g.Wait()

	result := make(map[string]HealthStatus, len(regs))
	for i, reg := range regs {
		result[reg.plugin.ChannelID()] = statuses[i]
	}
	return result
}

var _ PluginResolver = (*Registry)(nil)
