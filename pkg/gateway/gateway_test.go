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

package gateway

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peerex/hermod/pkg/channel"
	"github.com/peerex/hermod/pkg/message"
	"github.com/peerex/hermod/pkg/rag"
)

type stubPlugin struct{ id string }

func (p *stubPlugin) ChannelID() string         { return p.id }
func (p *stubPlugin) Start(context.Context) error { return nil }
func (p *stubPlugin) Stop(context.Context) error  { return nil }
func (p *stubPlugin) SendMessage(context.Context, string, *message.Outgoing) (bool, error) {
	return true, nil
}
func (p *stubPlugin) DeliveryTarget(map[string]string) string { return "target" }
func (p *stubPlugin) HealthCheck(context.Context) channel.HealthStatus {
	return channel.Healthy()
}

type stubResolver struct{ known map[string]bool }

func (r *stubResolver) Get(channelID string) (channel.Plugin, bool) {
	if r.known[channelID] {
		return &stubPlugin{id: channelID}, true
	}
	return nil, false
}

type stubRAG struct {
	result *rag.Result
	err    error
	calls  int
}

func (s *stubRAG) Answer(context.Context, string, []message.HistoryEntry) (*rag.Result, error) {
	s.calls++
	return s.result, s.err
}

type stubHooks struct {
	preNames  []string
	preErr    error
	postNames []string
	postErr   error
	postSeen  bool
}

func (s *stubHooks) ExecutePre(context.Context, *message.Incoming) ([]string, error) {
	return s.preNames, s.preErr
}

func (s *stubHooks) ExecutePost(context.Context, *message.Incoming, *message.Outgoing) ([]string, error) {
	s.postSeen = true
	return s.postNames, s.postErr
}

type stubDedupe struct{ seen bool }

func (s *stubDedupe) Seen(context.Context, string, string) bool { return s.seen }

func webResolver() *stubResolver {
	return &stubResolver{known: map[string]bool{"web": true}}
}

func incoming() *message.Incoming {
	return &message.Incoming{
		MessageID: "in-1",
		ChannelID: "web",
		Question:  "How long does escrow hold BTC?",
		User:      message.User{ID: "u1"},
	}
}

func someResult() *rag.Result {
	conf := 0.9
	return &rag.Result{
		Answer:     "Escrow releases after confirmation.",
		Strategy:   rag.StrategyHybrid,
		ModelName:  "gpt-test",
		TokensUsed: 42,
		Confidence: &conf,
		Sources:    []message.DocumentReference{{DocumentID: "d1", Title: "Escrow guide"}},
	}
}

func TestProcessMessageProducesOutgoing(t *testing.T) {
	ragSvc := &stubRAG{result: someResult()}
	g := New(webResolver(), ragSvc, WithVersion("1.2.3"))

	out, err := g.ProcessMessage(context.Background(), incoming())
	require.NoError(t, err)
	require.NotNil(t, out)

	assert.NotEmpty(t, out.MessageID)
	assert.Equal(t, "in-1", out.InReplyTo)
	assert.Equal(t, "web", out.ChannelID)
	assert.Equal(t, "Escrow releases after confirmation.", out.Answer)
	assert.Equal(t, "u1", out.User.ID)
	assert.Equal(t, "How long does escrow hold BTC?", out.OriginalQuestion)
	assert.Equal(t, "gpt-test", out.Metadata.ModelName)
	assert.Equal(t, rag.StrategyHybrid, out.Metadata.RAGStrategy)
	assert.Equal(t, 42, out.Metadata.TokensUsed)
	assert.Equal(t, "1.2.3", out.Metadata.Version)
	require.NotNil(t, out.Metadata.ConfidenceScore)
	assert.InDelta(t, 0.9, *out.Metadata.ConfidenceScore, 1e-9)
	assert.GreaterOrEqual(t, out.Metadata.ProcessingTimeMs, int64(0))
	assert.Len(t, out.Sources, 1)
}

func TestProcessMessageValidation(t *testing.T) {
	g := New(webResolver(), &stubRAG{result: someResult()})

	cases := []struct {
		name string
		in   *message.Incoming
	}{
		{"nil message", nil},
		{"empty question", &message.Incoming{MessageID: "m", ChannelID: "web", Question: "   "}},
		{"unknown channel", &message.Incoming{MessageID: "m", ChannelID: "telegram", Question: "q"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := g.ProcessMessage(context.Background(), tc.in)
			require.Error(t, err)

			var gerr *Error
			require.ErrorAs(t, err, &gerr)
			assert.Equal(t, CodeInvalidMessage, gerr.Code)
			assert.Equal(t, http.StatusBadRequest, gerr.HTTPStatus())
		})
	}
}

func TestProcessMessageDropsDuplicates(t *testing.T) {
	ragSvc := &stubRAG{result: someResult()}
	g := New(webResolver(), ragSvc, WithDedupe(&stubDedupe{seen: true}))

	out, err := g.ProcessMessage(context.Background(), incoming())
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.Zero(t, ragSvc.calls)
}

func TestProcessMessagePreHookAbortSkipsRAG(t *testing.T) {
	ragSvc := &stubRAG{result: someResult()}
	hooks := &stubHooks{
		preNames: []string{"ratelimit"},
		preErr:   NewError(CodeRateLimitExceeded, "rate limit exceeded"),
	}
	g := New(webResolver(), ragSvc, WithHooks(hooks))

	_, err := g.ProcessMessage(context.Background(), incoming())
	require.Error(t, err)

	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, CodeRateLimitExceeded, gerr.Code)
	assert.Equal(t, http.StatusTooManyRequests, gerr.HTTPStatus())
	assert.Zero(t, ragSvc.calls)
	assert.False(t, hooks.postSeen)
}

func TestProcessMessageHandledConsumesSilently(t *testing.T) {
	ragSvc := &stubRAG{result: someResult()}
	g := New(webResolver(), ragSvc, WithHooks(&stubHooks{preErr: ErrHandled}))

	out, err := g.ProcessMessage(context.Background(), incoming())
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.Zero(t, ragSvc.calls)
}

func TestProcessMessageRAGFailure(t *testing.T) {
	g := New(webResolver(), &stubRAG{err: context.DeadlineExceeded})

	_, err := g.ProcessMessage(context.Background(), incoming())
	require.Error(t, err)

	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, CodeRAGServiceError, gerr.Code)
	assert.True(t, gerr.Recoverable)
	assert.Equal(t, http.StatusInternalServerError, gerr.HTTPStatus())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestProcessMessagePostHookAbort(t *testing.T) {
	hooks := &stubHooks{postErr: NewError(CodeValidationError, "answer rejected")}
	g := New(webResolver(), &stubRAG{result: someResult()}, WithHooks(hooks))

	_, err := g.ProcessMessage(context.Background(), incoming())
	require.Error(t, err)

	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, CodeValidationError, gerr.Code)
}

func TestProcessMessageRecordsExecutedHooks(t *testing.T) {
	hooks := &stubHooks{
		preNames:  []string{"ratelimit", "pii"},
		postNames: []string{"confidence_router", "suggestions"},
	}
	g := New(webResolver(), &stubRAG{result: someResult()}, WithHooks(hooks))

	out, err := g.ProcessMessage(context.Background(), incoming())
	require.NoError(t, err)
	assert.Equal(t,
		[]string{"ratelimit", "pii", "confidence_router", "suggestions"},
		out.Metadata.HooksExecuted)
}

func TestAsErrorWrapsForeignErrors(t *testing.T) {
	gerr := AsError(assert.AnError)
	assert.Equal(t, CodeInternalError, gerr.Code)
	assert.ErrorIs(t, gerr, assert.AnError)

	original := NewError(CodePIIDetected, "pii")
	assert.Same(t, original, AsError(original))
	assert.Nil(t, AsError(nil))
}
