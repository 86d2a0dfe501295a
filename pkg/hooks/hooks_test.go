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

package hooks

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peerex/hermod/pkg/auth"
	"github.com/peerex/hermod/pkg/channel"
	"github.com/peerex/hermod/pkg/config"
	"github.com/peerex/hermod/pkg/gateway"
	"github.com/peerex/hermod/pkg/message"
	"github.com/peerex/hermod/pkg/ratelimit"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testIncoming(question string) *message.Incoming {
	return &message.Incoming{
		MessageID: "in-1",
		ChannelID: "web",
		Question:  question,
		User:      message.User{ID: "u1", ChannelUserID: "cu1"},
	}
}

func floatPtr(f float64) *float64 { return &f }

// --- pipeline ---

func TestExecutePreRunsInPriorityOrder(t *testing.T) {
	p := NewPipeline(WithLogger(testLogger()))

	var order []string
	record := func(name string) func(context.Context, *message.Incoming) error {
		return func(context.Context, *message.Incoming) error {
			order = append(order, name)
			return nil
		}
	}

	require.NoError(t, p.RegisterPre(NewPreHook("late", PriorityLow, record("late"))))
	require.NoError(t, p.RegisterPre(NewPreHook("first", PriorityCritical, record("first"))))
	require.NoError(t, p.RegisterPre(NewPreHook("tie-a", PriorityNormal, record("tie-a"))))
	require.NoError(t, p.RegisterPre(NewPreHook("tie-b", PriorityNormal, record("tie-b"))))

	executed, err := p.ExecutePre(context.Background(), testIncoming("hi"))
	require.NoError(t, err)

	// Equal priorities keep registration order.
	assert.Equal(t, []string{"first", "tie-a", "tie-b", "late"}, order)
	assert.Equal(t, []string{"first", "tie-a", "tie-b", "late"}, executed)
	assert.Equal(t, []string{"first", "tie-a", "tie-b", "late"}, p.PreHookNames())
}

func TestRegisterRejectsDuplicateNames(t *testing.T) {
	p := NewPipeline(WithLogger(testLogger()))
	noop := func(context.Context, *message.Incoming) error { return nil }

	require.NoError(t, p.RegisterPre(NewPreHook("dup", PriorityNormal, noop)))
	err := p.RegisterPre(NewPreHook("dup", PriorityHigh, noop))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"dup" already registered`)
}

func TestExecutePreSkipsBypassedHooks(t *testing.T) {
	p := NewPipeline(WithLogger(testLogger()))

	ran := map[string]bool{}
	for _, name := range []string{"keep", "skip"} {
		name := name
		require.NoError(t, p.RegisterPre(NewPreHook(name, PriorityNormal,
			func(context.Context, *message.Incoming) error {
				ran[name] = true
				return nil
			})))
	}

	in := testIncoming("hi")
	in.BypassHooks = map[string]struct{}{"skip": {}}

	executed, err := p.ExecutePre(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, []string{"keep"}, executed)
	assert.True(t, ran["keep"])
	assert.False(t, ran["skip"])
}

func TestExecutePreAbortsOnError(t *testing.T) {
	p := NewPipeline(WithLogger(testLogger()))

	boom := errors.New("boom")
	ranLast := false
	require.NoError(t, p.RegisterPre(NewPreHook("ok", PriorityCritical,
		func(context.Context, *message.Incoming) error { return nil })))
	require.NoError(t, p.RegisterPre(NewPreHook("fails", PriorityHigh,
		func(context.Context, *message.Incoming) error { return boom })))
	require.NoError(t, p.RegisterPre(NewPreHook("never", PriorityLow,
		func(context.Context, *message.Incoming) error {
			ranLast = true
			return nil
		})))

	executed, err := p.ExecutePre(context.Background(), testIncoming("hi"))
	require.ErrorIs(t, err, boom)
	// The aborting hook is part of the executed trail.
	assert.Equal(t, []string{"ok", "fails"}, executed)
	assert.False(t, ranLast)
}

func TestExecutePreIsolatesPanics(t *testing.T) {
	p := NewPipeline(WithLogger(testLogger()))

	ranAfter := false
	require.NoError(t, p.RegisterPre(NewPreHook("panics", PriorityCritical,
		func(context.Context, *message.Incoming) error { panic("kaboom") })))
	require.NoError(t, p.RegisterPre(NewPreHook("after", PriorityNormal,
		func(context.Context, *message.Incoming) error {
			ranAfter = true
			return nil
		})))

	executed, err := p.ExecutePre(context.Background(), testIncoming("hi"))
	require.NoError(t, err)
	assert.Equal(t, []string{"panics", "after"}, executed)
	assert.True(t, ranAfter)
}

func TestExecutePostMutatesOutgoing(t *testing.T) {
	p := NewPipeline(WithLogger(testLogger()))

	require.NoError(t, p.RegisterPost(NewPostHook("route", PriorityNormal,
		func(_ context.Context, _ *message.Incoming, out *message.Outgoing) error {
			out.Metadata.RoutingAction = message.ActionAutoSend
			return nil
		})))
	require.NoError(t, p.RegisterPost(NewPostHook("annotate", PriorityLow,
		func(_ context.Context, _ *message.Incoming, out *message.Outgoing) error {
			// Runs after route, sees its mutation.
			if out.Metadata.RoutingAction == message.ActionAutoSend {
				out.SuggestedQuestions = []string{"Fees"}
			}
			return nil
		})))

	out := &message.Outgoing{Answer: "answer"}
	executed, err := p.ExecutePost(context.Background(), testIncoming("hi"), out)
	require.NoError(t, err)
	assert.Equal(t, []string{"route", "annotate"}, executed)
	assert.Equal(t, message.ActionAutoSend, out.Metadata.RoutingAction)
	assert.Equal(t, []string{"Fees"}, out.SuggestedQuestions)
}

// --- ratelimit hook ---

type erroringStore struct{}

func (erroringStore) Increment(context.Context, string, time.Duration) (int, time.Time, error) {
	return 0, time.Time{}, errors.New("store down")
}
func (erroringStore) Close() error { return nil }

func TestRateLimitHookRejectsOverBudget(t *testing.T) {
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), 2, time.Minute)
	hook := NewRateLimitHook(limiter, testLogger())

	ctx := context.Background()
	in := testIncoming("hi")
	require.NoError(t, hook.Execute(ctx, in))
	require.NoError(t, hook.Execute(ctx, in))

	err := hook.Execute(ctx, in)
	require.Error(t, err)
	var gwErr *gateway.Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, gateway.CodeRateLimitExceeded, gwErr.Code)
	assert.Contains(t, gwErr.Message, "retry in")

	// Another channel keeps its own budget.
	other := testIncoming("hi")
	other.ChannelID = "matrix"
	assert.NoError(t, hook.Execute(ctx, other))
}

func TestRateLimitHookBucketsAnonymousTraffic(t *testing.T) {
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), 1, time.Minute)
	hook := NewRateLimitHook(limiter, testLogger())

	ctx := context.Background()
	anon := testIncoming("hi")
	anon.User = message.User{}
	require.NoError(t, hook.Execute(ctx, anon))

	// A second anonymous sender on the same channel shares the bucket.
	other := testIncoming("hi")
	other.User = message.User{}
	err := hook.Execute(ctx, other)
	var gwErr *gateway.Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, gateway.CodeRateLimitExceeded, gwErr.Code)
}

func TestRateLimitHookFailsOpen(t *testing.T) {
	limiter := ratelimit.NewLimiter(erroringStore{}, 1, time.Minute)
	hook := NewRateLimitHook(limiter, testLogger())

	assert.NoError(t, hook.Execute(context.Background(), testIncoming("hi")))
	assert.NoError(t, hook.Execute(context.Background(), testIncoming("hi")))
}

// --- auth hook ---

type stubValidator struct {
	claims *auth.Claims
	err    error
}

func (v *stubValidator) ValidateToken(context.Context, string) (*auth.Claims, error) {
	return v.claims, v.err
}

func TestAuthHookEnforcesChannelPolicy(t *testing.T) {
	policies := map[string]ChannelAuthPolicy{
		"app": {RequireAuth: true},
		"ops": {RequireAuth: true, RequiredRole: "support"},
	}

	codeOf := func(t *testing.T, err error) gateway.ErrorCode {
		t.Helper()
		var gwErr *gateway.Error
		require.ErrorAs(t, err, &gwErr)
		return gwErr.Code
	}

	t.Run("open channel passes through", func(t *testing.T) {
		hook := NewAuthHook(&stubValidator{err: auth.ErrInvalidToken}, policies, testLogger())
		assert.NoError(t, hook.Execute(context.Background(), testIncoming("hi")))
	})

	t.Run("missing token rejected", func(t *testing.T) {
		hook := NewAuthHook(&stubValidator{}, policies, testLogger())
		in := testIncoming("hi")
		in.ChannelID = "app"
		assert.Equal(t, gateway.CodeAuthenticationFailed, codeOf(t, hook.Execute(context.Background(), in)))
	})

	t.Run("invalid token rejected", func(t *testing.T) {
		hook := NewAuthHook(&stubValidator{err: auth.ErrInvalidToken}, policies, testLogger())
		in := testIncoming("hi")
		in.ChannelID = "app"
		in.User.AuthToken = "bad"
		err := hook.Execute(context.Background(), in)
		assert.Equal(t, gateway.CodeAuthenticationFailed, codeOf(t, err))
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
	})

	t.Run("wrong role rejected", func(t *testing.T) {
		hook := NewAuthHook(&stubValidator{claims: &auth.Claims{Subject: "alice", Role: "trader"}}, policies, testLogger())
		in := testIncoming("hi")
		in.ChannelID = "ops"
		in.User.AuthToken = "tok"
		assert.Equal(t, gateway.CodeAuthorizationFailed, codeOf(t, hook.Execute(context.Background(), in)))
	})

	t.Run("valid token overrides user id", func(t *testing.T) {
		hook := NewAuthHook(&stubValidator{claims: &auth.Claims{Subject: "alice", Role: "support"}}, policies, testLogger())
		in := testIncoming("hi")
		in.ChannelID = "ops"
		in.User.AuthToken = "tok"
		require.NoError(t, hook.Execute(context.Background(), in))
		assert.Equal(t, "alice", in.User.ID)
	})

	t.Run("no validator configured rejects", func(t *testing.T) {
		hook := NewAuthHook(nil, policies, testLogger())
		in := testIncoming("hi")
		in.ChannelID = "app"
		in.User.AuthToken = "tok"
		assert.Equal(t, gateway.CodeAuthenticationFailed, codeOf(t, hook.Execute(context.Background(), in)))
	})
}

// --- pii hook ---

func TestPIIHookRedactsInPlace(t *testing.T) {
	hook := NewPIIHook(&config.PIIHookConfig{Mode: PIIModeRedact}, testLogger())

	tests := []struct {
		name     string
		question string
		want     string
	}{
		{
			name:     "email",
			question: "My account is alice@example.com, why is it locked?",
			want:     "My account is [email redacted], why is it locked?",
		},
		{
			name:     "phone",
			question: "Call me at +1 (555) 123-4567 about my trade",
			want:     "Call me at [phone redacted] about my trade",
		},
		{
			name:     "api key",
			question: "I used key sk_live_a1b2c3d4e5f6g7h8i9 and got a 403",
			want:     "I used key [key redacted] and got a 403",
		},
		{
			name:     "amounts and dates survive",
			question: "I sent 0.00012345 BTC on 2025-08-25 and it never arrived",
			want:     "I sent 0.00012345 BTC on 2025-08-25 and it never arrived",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := testIncoming(tt.question)
			require.NoError(t, hook.Execute(context.Background(), in))
			assert.Equal(t, tt.want, in.Question)
		})
	}
}

func TestPIIHookBlockMode(t *testing.T) {
	hook := NewPIIHook(&config.PIIHookConfig{Mode: PIIModeBlock}, testLogger())

	in := testIncoming("reach me at bob@example.com")
	err := hook.Execute(context.Background(), in)
	var gwErr *gateway.Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, gateway.CodePIIDetected, gwErr.Code)
	// Block mode leaves the question untouched.
	assert.Equal(t, "reach me at bob@example.com", in.Question)

	clean := testIncoming("how do I verify my account?")
	assert.NoError(t, hook.Execute(context.Background(), clean))
}

// --- followup capture hook ---

type capturePlugin struct{ id string }

func (p *capturePlugin) ChannelID() string                       { return p.id }
func (p *capturePlugin) Start(context.Context) error             { return nil }
func (p *capturePlugin) Stop(context.Context) error              { return nil }
func (p *capturePlugin) DeliveryTarget(map[string]string) string { return "" }
func (p *capturePlugin) SendMessage(context.Context, string, *message.Outgoing) (bool, error) {
	return true, nil
}
func (p *capturePlugin) HealthCheck(context.Context) channel.HealthStatus { return channel.Healthy() }

type captureResolver struct{ plugins map[string]channel.Plugin }

func (r *captureResolver) Get(id string) (channel.Plugin, bool) {
	p, ok := r.plugins[id]
	return p, ok
}

type stubCoordinator struct {
	consume  bool
	consumed []*message.Incoming
}

func (c *stubCoordinator) StartFollowup(context.Context, channel.DeliveryRecord, string, string, string, string) bool {
	return false
}
func (c *stubCoordinator) CancelFollowup(context.Context, string, string, string) {}
func (c *stubCoordinator) ConsumeIfPending(_ context.Context, in *message.Incoming, _ channel.Plugin) bool {
	c.consumed = append(c.consumed, in)
	return c.consume
}

func TestFollowupCaptureConsumesPendingClarification(t *testing.T) {
	resolver := &captureResolver{plugins: map[string]channel.Plugin{"web": &capturePlugin{id: "web"}}}

	t.Run("consumed message is marked handled", func(t *testing.T) {
		rt := channel.NewRuntime()
		co := &stubCoordinator{consume: true}
		rt.SetFollowups(co)

		hook := NewFollowupCaptureHook(rt, resolver, testLogger())
		err := hook.Execute(context.Background(), testIncoming("the link was dead"))
		assert.ErrorIs(t, err, gateway.ErrHandled)
		assert.Len(t, co.consumed, 1)
	})

	t.Run("no pending follow-up passes through", func(t *testing.T) {
		rt := channel.NewRuntime()
		rt.SetFollowups(&stubCoordinator{consume: false})

		hook := NewFollowupCaptureHook(rt, resolver, testLogger())
		assert.NoError(t, hook.Execute(context.Background(), testIncoming("new question")))
	})

	t.Run("no coordinator bound passes through", func(t *testing.T) {
		hook := NewFollowupCaptureHook(channel.NewRuntime(), resolver, testLogger())
		assert.NoError(t, hook.Execute(context.Background(), testIncoming("hi")))
	})

	t.Run("unknown channel passes through", func(t *testing.T) {
		rt := channel.NewRuntime()
		co := &stubCoordinator{consume: true}
		rt.SetFollowups(co)

		hook := NewFollowupCaptureHook(rt, resolver, testLogger())
		in := testIncoming("hi")
		in.ChannelID = "telegram"
		assert.NoError(t, hook.Execute(context.Background(), in))
		assert.Empty(t, co.consumed)
	})
}

// --- confidence router hook ---

func TestConfidenceRouterThresholds(t *testing.T) {
	hook := NewConfidenceRouterHook(&config.ConfidenceHookConfig{
		AutoSendThreshold: floatPtr(0.75),
		ReviewThreshold:   floatPtr(0.45),
		PolicyKeywords:    []string{"chargeback", "lawyer"},
	})

	tests := []struct {
		name       string
		question   string
		confidence *float64
		action     message.RoutingAction
		human      bool
		reason     string
	}{
		{
			name:       "high confidence auto-sends",
			question:   "how do fees work?",
			confidence: floatPtr(0.9),
			action:     message.ActionAutoSend,
		},
		{
			name:       "threshold boundary auto-sends",
			question:   "how do fees work?",
			confidence: floatPtr(0.75),
			action:     message.ActionAutoSend,
		},
		{
			name:       "medium confidence queues for review",
			question:   "how do fees work?",
			confidence: floatPtr(0.5),
			action:     message.ActionQueueMedium,
			reason:     "below auto-send threshold",
		},
		{
			name:       "low confidence needs a human",
			question:   "how do fees work?",
			confidence: floatPtr(0.2),
			action:     message.ActionNeedsHuman,
			reason:     "below review threshold",
		},
		{
			name:     "missing confidence needs a human",
			question: "how do fees work?",
			action:   message.ActionNeedsHuman,
			reason:   "confidence unavailable",
		},
		{
			name:       "policy keyword overrides confidence",
			question:   "I want a CHARGEBACK on this trade",
			confidence: floatPtr(0.99),
			action:     message.ActionNeedsHuman,
			human:      true,
			reason:     `policy keyword: "chargeback"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := testIncoming(tt.question)
			out := &message.Outgoing{Answer: "a"}
			out.Metadata.ConfidenceScore = tt.confidence

			require.NoError(t, hook.Execute(context.Background(), in, out))
			assert.Equal(t, tt.action, out.Metadata.RoutingAction)
			assert.Equal(t, tt.human, out.RequiresHuman)
			if tt.reason != "" {
				assert.Contains(t, out.Metadata.RoutingReason, tt.reason)
			}
		})
	}
}

// --- suggestions hook ---

func TestSuggestionsHookFillsTitlesOnAutoSend(t *testing.T) {
	hook := NewSuggestionsHook(&config.SuggestionsHookConfig{Max: 2})

	sources := []message.DocumentReference{
		{DocumentID: "d1", Title: "Escrow basics"},
		{DocumentID: "d2", Title: "Escrow basics"},
		{DocumentID: "d3", Title: ""},
		{DocumentID: "d4", Title: "Dispute resolution"},
		{DocumentID: "d5", Title: "Fee schedule"},
	}

	out := &message.Outgoing{Answer: "a", Sources: sources}
	out.Metadata.RoutingAction = message.ActionAutoSend
	require.NoError(t, hook.Execute(context.Background(), testIncoming("hi"), out))
	assert.Equal(t, []string{"Escrow basics", "Dispute resolution"}, out.SuggestedQuestions)

	reviewed := &message.Outgoing{Answer: "a", Sources: sources}
	reviewed.Metadata.RoutingAction = message.ActionQueueMedium
	require.NoError(t, hook.Execute(context.Background(), testIncoming("hi"), reviewed))
	assert.Empty(t, reviewed.SuggestedQuestions)
}
