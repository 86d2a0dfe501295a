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

package faq

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peerex/hermod/pkg/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(&config.FAQConfig{
		Path: filepath.Join(t.TempDir(), "faqs.json"),
	})
	require.NoError(t, err)
	return store
}

func TestNewStoreValidation(t *testing.T) {
	_, err := NewStore(nil)
	assert.ErrorContains(t, err, "faq config is required")

	_, err = NewStore(&config.FAQConfig{})
	assert.ErrorContains(t, err, "path is required")
}

func TestNewStoreMissingFileStartsEmpty(t *testing.T) {
	store := newTestStore(t)
	assert.Equal(t, 0, store.Count())
	assert.Empty(t, store.All())

	// The file only appears on the first mutation.
	_, err := os.Stat(store.Path())
	assert.True(t, os.IsNotExist(err))
}

func TestNewStoreRejectsCorruptFiles(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))
	_, err := NewStore(&config.FAQConfig{Path: path})
	assert.ErrorContains(t, err, "failed to parse FAQ store")

	path = filepath.Join(dir, "noid.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"faqs":[{"question":"q","answer":"a"}]}`), 0644))
	_, err = NewStore(&config.FAQConfig{Path: path})
	assert.ErrorContains(t, err, "has no id")

	path = filepath.Join(dir, "dup.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"faqs":[{"id":"x","question":"q","answer":"a"},{"id":"x","question":"q2","answer":"a2"}]}`), 0644))
	_, err = NewStore(&config.FAQConfig{Path: path})
	assert.ErrorContains(t, err, "duplicate id 'x'")
}

func TestCreateStampsAndPersists(t *testing.T) {
	store := newTestStore(t)

	created, err := store.Create(FAQ{
		Question: "How do I release escrow?",
		Answer:   "Open the trade and press release.",
		Category: "trading",
		Protocol: "btc",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.True(t, LooksLikeUUID(created.ID))
	assert.False(t, created.Verified)
	assert.False(t, created.CreatedAt.IsZero())
	assert.Equal(t, created.CreatedAt, created.UpdatedAt)

	// Reopen from disk and check the roundtrip.
	reopened, err := NewStore(&config.FAQConfig{Path: store.Path()})
	require.NoError(t, err)
	got, ok := reopened.Get(created.ID)
	require.True(t, ok)
	assert.Equal(t, created.Question, got.Question)
	assert.Equal(t, created.Answer, got.Answer)
	assert.Equal(t, "trading", got.Category)
	assert.Equal(t, "btc", got.Protocol)
}

func TestCreateValidation(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Create(FAQ{Answer: "a"})
	assert.ErrorContains(t, err, "question is required")

	_, err = store.Create(FAQ{Question: "q", Answer: "   "})
	assert.ErrorContains(t, err, "answer is required")

	_, err = store.Create(FAQ{ID: "fees", Question: "q", Answer: "a"})
	require.NoError(t, err)
	_, err = store.Create(FAQ{ID: "fees", Question: "q2", Answer: "a2"})
	assert.ErrorContains(t, err, "already exists")
}

func TestAllPreservesInsertionOrder(t *testing.T) {
	store := newTestStore(t)

	for _, id := range []string{"c", "a", "b"} {
		_, err := store.Create(FAQ{ID: id, Question: "q " + id, Answer: "a"})
		require.NoError(t, err)
	}

	var ids []string
	for _, f := range store.All() {
		ids = append(ids, f.ID)
	}
	assert.Equal(t, []string{"c", "a", "b"}, ids)

	reopened, err := NewStore(&config.FAQConfig{Path: store.Path()})
	require.NoError(t, err)
	ids = nil
	for _, f := range reopened.All() {
		ids = append(ids, f.ID)
	}
	assert.Equal(t, []string{"c", "a", "b"}, ids)
}

func TestVerifiedFiltersCandidates(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Create(FAQ{ID: "draft", Question: "q", Answer: "a"})
	require.NoError(t, err)
	_, err = store.Create(FAQ{ID: "live", Question: "q", Answer: "a", Verified: true})
	require.NoError(t, err)

	verified := store.Verified()
	require.Len(t, verified, 1)
	assert.Equal(t, "live", verified[0].ID)
	assert.Equal(t, 2, store.Count())
}

func TestUpdateEditsContentOnly(t *testing.T) {
	store := newTestStore(t)

	created, err := store.Create(FAQ{ID: "fees", Question: "old q", Answer: "old a", Verified: true})
	require.NoError(t, err)

	answer := "new a"
	updated, err := store.Update("fees", Updates{Answer: &answer})
	require.NoError(t, err)
	assert.Equal(t, "old q", updated.Question)
	assert.Equal(t, "new a", updated.Answer)
	assert.True(t, updated.Verified, "update never changes the verified flag")
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)

	_, err = store.Update("missing", Updates{Answer: &answer})
	assert.ErrorContains(t, err, "not found")

	empty := "  "
	_, err = store.Update("fees", Updates{Question: &empty})
	assert.ErrorContains(t, err, "question is required")
}

func TestSetVerifiedPromotesAndDemotes(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Create(FAQ{ID: "x", Question: "q", Answer: "a"})
	require.NoError(t, err)

	promoted, err := store.SetVerified("x", true)
	require.NoError(t, err)
	assert.True(t, promoted.Verified)
	require.Len(t, store.Verified(), 1)

	demoted, err := store.SetVerified("x", false)
	require.NoError(t, err)
	assert.False(t, demoted.Verified)
	assert.Empty(t, store.Verified())

	_, err = store.SetVerified("missing", true)
	assert.ErrorContains(t, err, "not found")
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Create(FAQ{ID: "x", Question: "q", Answer: "a"})
	require.NoError(t, err)
	require.NoError(t, store.Delete("x"))
	assert.Equal(t, 0, store.Count())

	assert.ErrorContains(t, store.Delete("x"), "not found")
}

func TestOnChangeFiresOncePerMutation(t *testing.T) {
	store := newTestStore(t)

	var calls []bool
	store.OnChange(func(touchedVerified bool) {
		calls = append(calls, touchedVerified)
	})

	// Unverified create is index-silent but still observable.
	_, err := store.Create(FAQ{ID: "draft", Question: "q", Answer: "a"})
	require.NoError(t, err)
	require.Equal(t, []bool{false}, calls)

	// Verified create touches the verified corpus.
	_, err = store.Create(FAQ{ID: "live", Question: "q", Answer: "a", Verified: true})
	require.NoError(t, err)
	require.Equal(t, []bool{false, true}, calls)

	// Editing an unverified FAQ stays silent; editing a verified one does not.
	answer := "better"
	_, err = store.Update("draft", Updates{Answer: &answer})
	require.NoError(t, err)
	_, err = store.Update("live", Updates{Answer: &answer})
	require.NoError(t, err)
	require.Equal(t, []bool{false, true, false, true}, calls)

	// Promotion and demotion both touch the verified corpus.
	_, err = store.SetVerified("draft", true)
	require.NoError(t, err)
	_, err = store.SetVerified("draft", false)
	require.NoError(t, err)
	require.Equal(t, []bool{false, true, false, true, true, true}, calls)

	// No-ops never fire.
	_, err = store.SetVerified("draft", false)
	require.NoError(t, err)
	_, err = store.Update("draft", Updates{})
	require.NoError(t, err)
	_, err = store.Create(FAQ{ID: "live", Question: "q", Answer: "a"})
	require.Error(t, err)
	require.Equal(t, []bool{false, true, false, true, true, true}, calls)

	// Deletes report the verified state of the removed FAQ.
	require.NoError(t, store.Delete("live"))
	require.NoError(t, store.Delete("draft"))
	assert.Equal(t, []bool{false, true, false, true, true, true, true, false}, calls)
}

func TestOnChangeCallbackMayReadStore(t *testing.T) {
	store := newTestStore(t)

	var seen int
	store.OnChange(func(bool) {
		seen = len(store.Verified())
	})

	_, err := store.Create(FAQ{ID: "x", Question: "q", Answer: "a", Verified: true})
	require.NoError(t, err)
	assert.Equal(t, 1, seen)
}

func TestSlugDerivation(t *testing.T) {
	store, err := NewStore(&config.FAQConfig{
		Path: filepath.Join(t.TempDir(), "faqs.json"),
	})
	require.NoError(t, err)

	// Human-readable ids are user-visible slugs.
	assert.Equal(t, "escrow-timeout", store.Slug(FAQ{ID: "escrow-timeout", Question: "What is the escrow timeout?"}))

	// UUID ids fall back to the question.
	assert.Equal(t, "what-is-the-escrow-timeout",
		store.Slug(FAQ{ID: "0f8fad5b-d9cb-469f-a165-70867728950e", Question: "What is the escrow timeout?"}))

	uuidStore, err := NewStore(&config.FAQConfig{
		Path:        filepath.Join(t.TempDir(), "faqs.json"),
		SlugUUIDIDs: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "0f8fad5b-d9cb-469f-a165-70867728950e",
		uuidStore.Slug(FAQ{ID: "0f8fad5b-d9cb-469f-a165-70867728950e", Question: "ignored"}))
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "how-do-i-release-escrow", Slugify("How do I release escrow?"))
	assert.Equal(t, "btc-usdt-fees", Slugify("  BTC/USDT   fees!! "))
	assert.Equal(t, "", Slugify("???"))

	slug := Slugify("how long does a dispute take to resolve when the counterparty stops responding entirely")
	assert.LessOrEqual(t, len(slug), 80)
	assert.False(t, len(slug) > 0 && slug[len(slug)-1] == '-')
}

func TestLooksLikeUUID(t *testing.T) {
	assert.True(t, LooksLikeUUID("0f8fad5b-d9cb-469f-a165-70867728950e"))
	assert.False(t, LooksLikeUUID("escrow-timeout"))
	assert.False(t, LooksLikeUUID("0f8fad5b-d9cb-469f"))
	assert.False(t, LooksLikeUUID(""))
}
