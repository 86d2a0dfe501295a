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

package server

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peerex/hermod/pkg/auth"
	"github.com/peerex/hermod/pkg/channel"
	"github.com/peerex/hermod/pkg/channel/webchat"
	"github.com/peerex/hermod/pkg/config"
	"github.com/peerex/hermod/pkg/dispatch"
	"github.com/peerex/hermod/pkg/escalation"
	"github.com/peerex/hermod/pkg/faq"
	"github.com/peerex/hermod/pkg/gateway"
	"github.com/peerex/hermod/pkg/message"
	"github.com/peerex/hermod/pkg/rag"
)

const stubAnswer = "Escrow releases after two confirmations."

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ragStub answers every question with a fixed high-confidence result,
// or fails when err is set.
type ragStub struct {
	err error
}

func (r *ragStub) Answer(ctx context.Context, question string, history []message.HistoryEntry) (*rag.Result, error) {
	if r.err != nil {
		return nil, r.err
	}
	conf := 0.9
	return &rag.Result{
		Answer:     stubAnswer,
		Confidence: &conf,
		Strategy:   "semantic",
		ModelName:  "stub",
	}, nil
}

// processorFunc adapts a function to the MessageProcessor interface.
type processorFunc func(ctx context.Context, in *message.Incoming) (*message.Outgoing, error)

func (f processorFunc) ProcessMessage(ctx context.Context, in *message.Incoming) (*message.Outgoing, error) {
	return f(ctx, in)
}

func testFAQStore(t *testing.T) *faq.Store {
	t.Helper()
	store, err := faq.NewStore(&config.FAQConfig{Path: filepath.Join(t.TempDir(), "faqs.json")})
	require.NoError(t, err)
	return store
}

func testEscalations(t *testing.T, registry *channel.Registry, faqs *faq.Store) *escalation.Service {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// In-memory sqlite exists per connection; a second pooled conn
	// would see an empty database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	store, err := escalation.NewStore(db, "sqlite")
	require.NoError(t, err)

	cfg := &config.EscalationConfig{}
	cfg.SetDefaults()
	svc, err := escalation.NewService(store, cfg,
		escalation.WithPlugins(registry),
		escalation.WithFAQStore(faqs),
		escalation.WithLogger(testLogger()))
	require.NoError(t, err)
	return svc
}

type testEnv struct {
	ts     *httptest.Server
	plugin *webchat.Plugin
	escs   *escalation.Service
	faqs   *faq.Store

	// rag backs the real gateway; nil when a processor override is
	// used.
	rag *ragStub
}

// newTestEnv assembles a server over a real webchat plugin, dispatcher,
// sqlite-backed escalation service, and FAQ store. A nil processor gets
// the real gateway wired to a stub RAG service.
func newTestEnv(t *testing.T, processor MessageProcessor, opts ...Option) *testEnv {
	t.Helper()

	logger := testLogger()
	registry := channel.NewRegistry(logger)
	plugin := webchat.New("web", nil, channel.NewRuntime(), webchat.WithLogger(logger))
	_, err := registry.Register(plugin)
	require.NoError(t, err)
	require.NoError(t, plugin.Start(context.Background()))

	faqs := testFAQStore(t)
	escs := testEscalations(t, registry, faqs)

	env := &testEnv{plugin: plugin, escs: escs, faqs: faqs}
	if processor == nil {
		env.rag = &ragStub{}
		processor = gateway.New(registry, env.rag, gateway.WithLogger(logger))
	}
	dispatcher := dispatch.New(registry, escs, dispatch.WithLogger(logger))

	srv := New(nil, processor, dispatcher, registry, append([]Option{
		WithWebchat("web", plugin),
		WithEscalations(escs),
		WithFAQs(faqs),
		WithLogger(logger),
		WithVersion("test"),
	}, opts...)...)

	env.ts = httptest.NewServer(srv.Handler())
	t.Cleanup(env.ts.Close)
	return env
}

func doRequest(t *testing.T, method, url, token string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func doJSON(t *testing.T, method, url string, body any) (int, []byte) {
	t.Helper()
	return doRequest(t, method, url, "", body)
}

func unmarshal(t *testing.T, data []byte, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(data, v))
}

func inboundBody(messageID, question string) webchat.InboundRequest {
	return webchat.InboundRequest{
		MessageID: messageID,
		Question:  question,
		User:      message.User{ID: "u-1", ChannelUserID: "carol"},
	}
}

func seedEscalation(t *testing.T, svc *escalation.Service, messageID string) *escalation.Escalation {
	t.Helper()
	conf := 0.3
	esc, err := svc.Create(context.Background(), &escalation.Create{
		MessageID:     messageID,
		ChannelID:     "web",
		UserID:        "u-1",
		Username:      "carol",
		Question:      "My BTC never left escrow, what now?",
		AIDraftAnswer: "Escrow releases automatically after confirmation.",
		Confidence:    &conf,
		RoutingAction: "needs_human",
	})
	require.NoError(t, err)
	return esc
}

// testValidator builds a JWT validator against a local JWKS server and
// returns a signer for tokens it accepts.
func testValidator(t *testing.T) (*auth.Validator, func(subject, role string) string) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pub, err := jwk.FromRaw(&privateKey.PublicKey)
	require.NoError(t, err)
	require.NoError(t, pub.Set(jwk.KeyIDKey, "test-key-id"))
	require.NoError(t, pub.Set(jwk.AlgorithmKey, jwa.RS256))
	keyset := jwk.NewSet()
	require.NoError(t, keyset.AddKey(pub))

	jwks := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(keyset)
	}))
	t.Cleanup(jwks.Close)

	issuer := "https://auth.peerex.test"
	audience := "hermod"
	validator, err := auth.NewValidator(context.Background(), &config.AuthConfig{
		Enabled:  true,
		JWKSURL:  jwks.URL,
		Issuer:   issuer,
		Audience: audience,
	})
	require.NoError(t, err)

	sign := func(subject, role string) string {
		token := jwt.New()
		require.NoError(t, token.Set(jwt.IssuerKey, issuer))
		require.NoError(t, token.Set(jwt.AudienceKey, audience))
		require.NoError(t, token.Set(jwt.SubjectKey, subject))
		require.NoError(t, token.Set(jwt.IssuedAtKey, time.Now()))
		require.NoError(t, token.Set(jwt.ExpirationKey, time.Now().Add(time.Hour)))
		require.NoError(t, token.Set("role", role))

		key, err := jwk.FromRaw(privateKey)
		require.NoError(t, err)
		require.NoError(t, key.Set(jwk.KeyIDKey, "test-key-id"))
		signed, err := jwt.Sign(token, jwt.WithKey(jwa.RS256, key))
		require.NoError(t, err)
		return string(signed)
	}
	return validator, sign
}

func TestRootIdentifiesService(t *testing.T) {
	env := newTestEnv(t, nil)

	status, body := doJSON(t, http.MethodGet, env.ts.URL+"/", nil)
	require.Equal(t, http.StatusOK, status)

	var info map[string]string
	unmarshal(t, body, &info)
	assert.Equal(t, "hermod", info["service"])
	assert.Equal(t, "test", info["version"])
}

func TestWebchatMessageInlineResponse(t *testing.T) {
	env := newTestEnv(t, nil)

	status, body := doJSON(t, http.MethodPost, env.ts.URL+"/v1/channels/web/messages",
		inboundBody("m-1", "How does escrow work?"))
	require.Equal(t, http.StatusOK, status)

	var out message.Outgoing
	unmarshal(t, body, &out)
	assert.Equal(t, stubAnswer, out.Answer)
	assert.Equal(t, "m-1", out.InReplyTo)
	assert.Equal(t, "web", out.ChannelID)
	assert.Equal(t, message.ActionAutoSend, out.Metadata.RoutingAction)
	assert.False(t, out.RequiresHuman)
}

func TestWebchatMessageCallbackDelivery(t *testing.T) {
	env := newTestEnv(t, nil)

	received := make(chan message.Outgoing, 1)
	callback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var out message.Outgoing
		_ = json.NewDecoder(r.Body).Decode(&out)
		received <- out
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(callback.Close)

	body := inboundBody("m-2", "How does escrow work?")
	body.CallbackURL = callback.URL
	status, data := doJSON(t, http.MethodPost, env.ts.URL+"/v1/channels/web/messages", body)
	require.Equal(t, http.StatusAccepted, status)

	var ack acceptedResponse
	unmarshal(t, data, &ack)
	assert.Equal(t, "accepted", ack.Status)
	assert.Equal(t, "m-2", ack.MessageID)

	select {
	case out := <-received:
		assert.Equal(t, stubAnswer, out.Answer)
		assert.Equal(t, "m-2", out.InReplyTo)
		assert.Equal(t, message.ActionAutoSend, out.Metadata.RoutingAction)
	case <-time.After(2 * time.Second):
		t.Fatal("callback delivery did not arrive")
	}
}

func TestWebchatReviewRoutedReturnsNotice(t *testing.T) {
	conf := 0.2
	processor := processorFunc(func(_ context.Context, in *message.Incoming) (*message.Outgoing, error) {
		out := &message.Outgoing{
			MessageID: "a-1",
			InReplyTo: in.MessageID,
			ChannelID: in.ChannelID,
			Answer:    "Draft answer, unsure about this.",
			Sources: []message.DocumentReference{
				{DocumentID: "d1", Title: "Escrow guide", RelevanceScore: 0.8},
			},
			User: in.User,
		}
		out.Metadata.ConfidenceScore = &conf
		out.Metadata.RoutingAction = message.ActionQueueMedium
		out.Metadata.RoutingReason = "confidence 0.20 below review threshold 0.45"
		return out, nil
	})
	env := newTestEnv(t, processor)

	status, body := doJSON(t, http.MethodPost, env.ts.URL+"/v1/channels/web/messages",
		inboundBody("m-5", "Can I cancel a trade after payment?"))
	require.Equal(t, http.StatusOK, status)

	var out message.Outgoing
	unmarshal(t, body, &out)
	assert.True(t, out.RequiresHuman)
	assert.Equal(t, message.ActionEscalationNotice, out.Metadata.RoutingAction)
	assert.Contains(t, out.Answer, "forwarded to our support team")
	assert.NotContains(t, out.Answer, "Draft answer")
	assert.Empty(t, out.Sources)
	assert.Nil(t, out.Metadata.ConfidenceScore)

	esc, err := env.escs.GetByMessageID(context.Background(), "m-5")
	require.NoError(t, err)
	assert.Equal(t, escalation.StatusPending, esc.Status)
	assert.Equal(t, "Can I cancel a trade after payment?", esc.Question)
	assert.Equal(t, "Draft answer, unsure about this.", esc.AIDraftAnswer)
	assert.Equal(t, "queue_medium", esc.RoutingAction)
}

func TestWebchatDuplicateAccepted(t *testing.T) {
	processor := processorFunc(func(context.Context, *message.Incoming) (*message.Outgoing, error) {
		return nil, nil
	})
	env := newTestEnv(t, processor)

	status, body := doJSON(t, http.MethodPost, env.ts.URL+"/v1/channels/web/messages",
		inboundBody("m-6", "Is this a duplicate?"))
	require.Equal(t, http.StatusAccepted, status)

	var ack acceptedResponse
	unmarshal(t, body, &ack)
	assert.Equal(t, "accepted", ack.Status)
	assert.Equal(t, "m-6", ack.MessageID)
}

func TestWebchatForwardsBearerToken(t *testing.T) {
	inbox := make(chan *message.Incoming, 1)
	processor := processorFunc(func(_ context.Context, in *message.Incoming) (*message.Outgoing, error) {
		inbox <- in
		return nil, nil
	})
	env := newTestEnv(t, processor)

	status, body := doRequest(t, http.MethodPost, env.ts.URL+"/v1/channels/web/messages",
		"tok-123", webchat.InboundRequest{
			Question: "Where is my BTC?",
			User:     message.User{ID: "u-1"},
		})
	require.Equal(t, http.StatusAccepted, status)

	var ack acceptedResponse
	unmarshal(t, body, &ack)

	select {
	case in := <-inbox:
		assert.Equal(t, "tok-123", in.User.AuthToken)
		assert.NotEmpty(t, in.MessageID)
		assert.Equal(t, in.MessageID, ack.MessageID)
	case <-time.After(2 * time.Second):
		t.Fatal("message never reached the processor")
	}
}

func TestWebchatMessageRejections(t *testing.T) {
	t.Run("unknown channel", func(t *testing.T) {
		env := newTestEnv(t, nil)
		status, _ := doJSON(t, http.MethodPost, env.ts.URL+"/v1/channels/telegram/messages",
			inboundBody("m-7", "hello"))
		assert.Equal(t, http.StatusNotFound, status)
	})

	t.Run("invalid body", func(t *testing.T) {
		env := newTestEnv(t, nil)
		resp, err := http.Post(env.ts.URL+"/v1/channels/web/messages", "application/json",
			bytes.NewReader([]byte("{not json")))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("empty question", func(t *testing.T) {
		env := newTestEnv(t, nil)
		status, body := doJSON(t, http.MethodPost, env.ts.URL+"/v1/channels/web/messages",
			inboundBody("m-8", ""))
		require.Equal(t, http.StatusBadRequest, status)

		var errResp errorResponse
		unmarshal(t, body, &errResp)
		assert.Equal(t, string(gateway.CodeInvalidMessage), errResp.Code)
	})

	t.Run("rag failure", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.rag.err = errors.New("vector store unreachable")

		status, body := doJSON(t, http.MethodPost, env.ts.URL+"/v1/channels/web/messages",
			inboundBody("m-9", "How does escrow work?"))
		require.Equal(t, http.StatusInternalServerError, status)

		var errResp errorResponse
		unmarshal(t, body, &errResp)
		assert.Equal(t, string(gateway.CodeRAGServiceError), errResp.Code)
	})
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	status, body := doJSON(t, http.MethodGet, env.ts.URL+"/health", nil)
	require.Equal(t, http.StatusOK, status)

	var health healthResponse
	unmarshal(t, body, &health)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "test", health.Version)
	require.Contains(t, health.Channels, "web")
	assert.True(t, health.Channels["web"].Healthy)

	require.NoError(t, env.plugin.Stop(context.Background()))

	status, body = doJSON(t, http.MethodGet, env.ts.URL+"/health", nil)
	require.Equal(t, http.StatusServiceUnavailable, status)
	unmarshal(t, body, &health)
	assert.Equal(t, "degraded", health.Status)
	assert.False(t, health.Channels["web"].Healthy)
}

func TestSchemaEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := http.Get(env.ts.URL + "/api/schema")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var schema map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&schema))
	assert.Equal(t, "Hermod Configuration Schema", schema["title"])
	assert.Contains(t, schema, "properties")
}

func TestEscalationLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t, nil)
	seeded := seedEscalation(t, env.escs, "m-esc-1")
	base := fmt.Sprintf("%s/v1/escalations/%d", env.ts.URL, seeded.ID)

	status, body := doJSON(t, http.MethodGet, env.ts.URL+"/v1/escalations?status=pending", nil)
	require.Equal(t, http.StatusOK, status)
	var list escalationListResponse
	unmarshal(t, body, &list)
	require.Equal(t, 1, list.Total)
	assert.Equal(t, seeded.ID, list.Escalations[0].ID)

	status, body = doJSON(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, status)
	var esc escalation.Escalation
	unmarshal(t, body, &esc)
	assert.Equal(t, "My BTC never left escrow, what now?", esc.Question)

	status, body = doJSON(t, http.MethodPost, base+"/claim", claimRequest{StaffID: "alice"})
	require.Equal(t, http.StatusOK, status)
	unmarshal(t, body, &esc)
	assert.Equal(t, escalation.StatusInReview, esc.Status)
	assert.Equal(t, "alice", esc.StaffID)

	status, body = doJSON(t, http.MethodPost, base+"/respond",
		respondRequest{Answer: "Escrow released, funds are on the way.", StaffID: "alice"})
	require.Equal(t, http.StatusOK, status)
	unmarshal(t, body, &esc)
	assert.Equal(t, escalation.StatusResponded, esc.Status)
	assert.Equal(t, "Escrow released, funds are on the way.", esc.StaffAnswer)

	status, body = doJSON(t, http.MethodPost, base+"/faq", escalationFAQRequest{Category: "escrow"})
	require.Equal(t, http.StatusCreated, status)
	var faqResult escalation.FAQResult
	unmarshal(t, body, &faqResult)
	require.NotEmpty(t, faqResult.FAQID)
	assert.Equal(t, "My BTC never left escrow, what now?", faqResult.Question)

	entry, ok := env.faqs.Get(faqResult.FAQID)
	require.True(t, ok)
	assert.True(t, entry.Verified)
	assert.Equal(t, "escrow", entry.Category)
	assert.Equal(t, "Escalation", entry.Source)

	status, body = doJSON(t, http.MethodPost, base+"/close", nil)
	require.Equal(t, http.StatusOK, status)
	unmarshal(t, body, &esc)
	assert.Equal(t, escalation.StatusClosed, esc.Status)

	status, body = doJSON(t, http.MethodGet, env.ts.URL+"/v1/escalations/counts", nil)
	require.Equal(t, http.StatusOK, status)
	var counts map[string]int
	unmarshal(t, body, &counts)
	assert.Equal(t, 1, counts["closed"])

	status, body = doJSON(t, http.MethodGet, env.ts.URL+"/v1/escalations?status=pending", nil)
	require.Equal(t, http.StatusOK, status)
	unmarshal(t, body, &list)
	assert.Zero(t, list.Total)
}

func TestEscalationErrorsOverHTTP(t *testing.T) {
	env := newTestEnv(t, nil)
	first := seedEscalation(t, env.escs, "m-esc-2")
	second := seedEscalation(t, env.escs, "m-esc-3")
	firstBase := fmt.Sprintf("%s/v1/escalations/%d", env.ts.URL, first.ID)
	secondBase := fmt.Sprintf("%s/v1/escalations/%d", env.ts.URL, second.ID)

	status, _ := doJSON(t, http.MethodPost, firstBase+"/claim", claimRequest{StaffID: "alice"})
	require.Equal(t, http.StatusOK, status)

	status, _ = doJSON(t, http.MethodPost, firstBase+"/claim", claimRequest{StaffID: "bob"})
	assert.Equal(t, http.StatusConflict, status)

	status, _ = doJSON(t, http.MethodPost, secondBase+"/respond",
		respondRequest{Answer: "done", StaffID: "bob"})
	assert.Equal(t, http.StatusConflict, status)

	status, _ = doJSON(t, http.MethodPost, secondBase+"/close", nil)
	assert.Equal(t, http.StatusConflict, status)

	status, _ = doJSON(t, http.MethodPost, secondBase+"/faq", nil)
	assert.Equal(t, http.StatusConflict, status)

	status, _ = doJSON(t, http.MethodGet, env.ts.URL+"/v1/escalations/9999", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = doJSON(t, http.MethodGet, env.ts.URL+"/v1/escalations/nope", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = doJSON(t, http.MethodPost, secondBase+"/claim", claimRequest{})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = doJSON(t, http.MethodPost, secondBase+"/respond",
		respondRequest{StaffID: "bob"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body := doJSON(t, http.MethodGet, env.ts.URL+"/v1/escalations?limit=bad", nil)
	require.Equal(t, http.StatusBadRequest, status)
	var errResp errorResponse
	unmarshal(t, body, &errResp)
	assert.Contains(t, errResp.Error, "invalid limit")
}

func TestFAQAdminCRUD(t *testing.T) {
	env := newTestEnv(t, nil)
	base := env.ts.URL + "/v1/faqs"

	status, body := doJSON(t, http.MethodPost, base, faq.FAQ{
		Question: "What is the escrow timeout?",
		Answer:   "Trades auto-cancel after 90 minutes without payment.",
		Category: "escrow",
	})
	require.Equal(t, http.StatusCreated, status)
	var created faq.FAQ
	unmarshal(t, body, &created)
	require.NotEmpty(t, created.ID)
	assert.False(t, created.Verified)

	status, body = doJSON(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, status)
	var list faqListResponse
	unmarshal(t, body, &list)
	require.Equal(t, 1, list.Total)

	status, body = doJSON(t, http.MethodGet, base+"?verified=true", nil)
	require.Equal(t, http.StatusOK, status)
	unmarshal(t, body, &list)
	assert.Zero(t, list.Total)

	newAnswer := "Trades auto-cancel after 60 minutes without payment."
	status, body = doJSON(t, http.MethodPatch, base+"/"+created.ID, faqUpdateRequest{Answer: &newAnswer})
	require.Equal(t, http.StatusOK, status)
	var updated faq.FAQ
	unmarshal(t, body, &updated)
	assert.Equal(t, newAnswer, updated.Answer)

	status, body = doJSON(t, http.MethodPost, base+"/"+created.ID+"/verify", nil)
	require.Equal(t, http.StatusOK, status)
	unmarshal(t, body, &updated)
	assert.True(t, updated.Verified)

	status, body = doJSON(t, http.MethodGet, base+"?verified=true", nil)
	require.Equal(t, http.StatusOK, status)
	unmarshal(t, body, &list)
	assert.Equal(t, 1, list.Total)

	status, _ = doJSON(t, http.MethodGet, base+"/"+created.ID, nil)
	require.Equal(t, http.StatusOK, status)

	status, _ = doJSON(t, http.MethodDelete, base+"/"+created.ID, nil)
	require.Equal(t, http.StatusNoContent, status)

	status, _ = doJSON(t, http.MethodGet, base+"/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = doJSON(t, http.MethodDelete, base+"/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = doJSON(t, http.MethodPost, base, faq.FAQ{Question: "No answer here"})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestStaffAuthRequired(t *testing.T) {
	validator, sign := testValidator(t)
	env := newTestEnv(t, nil, WithAuth(validator, "support"))
	listURL := env.ts.URL + "/v1/escalations"

	status, _ := doJSON(t, http.MethodGet, listURL, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = doRequest(t, http.MethodGet, listURL, sign("carol", "customer"), nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, body := doRequest(t, http.MethodGet, listURL, sign("alice", "support"), nil)
	require.Equal(t, http.StatusOK, status)
	var list escalationListResponse
	unmarshal(t, body, &list)
	assert.Zero(t, list.Total)

	status, _ = doJSON(t, http.MethodGet, env.ts.URL+"/v1/faqs", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	// The claim falls back to the token subject when the body names no
	// staff id.
	seeded := seedEscalation(t, env.escs, "m-auth-1")
	claimURL := fmt.Sprintf("%s/v1/escalations/%d/claim", env.ts.URL, seeded.ID)
	status, body = doRequest(t, http.MethodPost, claimURL, sign("alice", "support"), nil)
	require.Equal(t, http.StatusOK, status)
	var esc escalation.Escalation
	unmarshal(t, body, &esc)
	assert.Equal(t, "alice", esc.StaffID)

	// The web-chat mount stays public.
	status, _ = doJSON(t, http.MethodPost, env.ts.URL+"/v1/channels/web/messages",
		inboundBody("m-auth-2", "Is auth needed here?"))
	assert.Equal(t, http.StatusOK, status)
}
