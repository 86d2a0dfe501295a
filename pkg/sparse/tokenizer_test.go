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

package sparse

import (
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenizeNormalization(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "lowercases",
			input: "Bitcoin WALLET",
			want:  []string{"bitcoin", "wallet"},
		},
		{
			name:  "punctuation becomes separator",
			input: "BTC/USDT!!",
			want:  []string{"btc", "usdt"},
		},
		{
			name:  "whitespace collapses",
			input: "  two\t\nfactor   auth ",
			want:  []string{"two", "factor", "auth"},
		},
		{
			name:  "digits survive",
			input: "enable 2fa today",
			want:  []string{"enable", "2fa", "today"},
		},
		{
			name:  "only punctuation",
			input: "?!... ---",
			want:  nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tokenize(tt.input))
		})
	}
}

func TestTokenizeDocumentAssignsStableIndices(t *testing.T) {
	tok := New()

	_, _, err := tok.TokenizeDocument("bitcoin wallet fees")
	require.NoError(t, err)
	_, _, err = tok.TokenizeDocument("fees wallet withdrawal")
	require.NoError(t, err)

	data, err := tok.ExportVocabulary()
	require.NoError(t, err)

	var snap struct {
		Vocab map[string]uint32 `json:"vocab"`
	}
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Equal(t, map[string]uint32{
		"bitcoin":    0,
		"wallet":     1,
		"fees":       2,
		"withdrawal": 3,
	}, snap.Vocab)
}

func TestTokenizeDocumentBM25Weights(t *testing.T) {
	tok := New()

	indices, values, err := tok.TokenizeDocument("btc btc wallet")
	require.NoError(t, err)
	require.Equal(t, []uint32{0, 1}, indices)
	require.Len(t, values, 2)

	// Single document, so every term has df=1 against N=1 and the document
	// length equals the average length.
	idf := math.Log(4.0 / 3.0)
	wantBTC := idf * (2 * (DefaultK1 + 1)) / (2 + DefaultK1)
	wantWallet := idf

	assert.InDelta(t, wantBTC, float64(values[0]), 1e-6)
	assert.InDelta(t, wantWallet, float64(values[1]), 1e-6)
	assert.Greater(t, values[0], values[1], "repeated term should outweigh single occurrence")
}

func TestDocumentFrequencyCountedOncePerDocument(t *testing.T) {
	tok := New()

	_, _, err := tok.TokenizeDocument("btc btc btc")
	require.NoError(t, err)

	data, err := tok.ExportVocabulary()
	require.NoError(t, err)
	var snap struct {
		DF map[string]int `json:"df"`
	}
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Equal(t, 1, snap.DF["btc"], "three occurrences in one document count once")

	_, _, err = tok.TokenizeDocument("btc fees")
	require.NoError(t, err)

	data, err = tok.ExportVocabulary()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Equal(t, 2, snap.DF["btc"])
	assert.Equal(t, 1, snap.DF["fees"])
}

func TestTokenizeQueryDropsUnknownTerms(t *testing.T) {
	tok := New()
	_, _, err := tok.TokenizeDocument("alpha beta")
	require.NoError(t, err)

	indices, values, err := tok.TokenizeQuery("alpha gamma alpha")
	require.NoError(t, err)
	assert.Equal(t, []uint32{0}, indices, "unknown terms dropped, duplicates collapsed")
	require.Len(t, values, 1)
	assert.InDelta(t, math.Log(4.0/3.0), float64(values[0]), 1e-6)

	indices, values, err = tok.TokenizeQuery("gamma delta")
	require.NoError(t, err)
	assert.Empty(t, indices)
	assert.Empty(t, values)
}

func TestTokenizeQueryWeightsRareTermsHigher(t *testing.T) {
	tok := New()
	for _, doc := range []string{"common rare", "common", "common"} {
		_, _, err := tok.TokenizeDocument(doc)
		require.NoError(t, err)
	}

	indices, values, err := tok.TokenizeQuery("common rare")
	require.NoError(t, err)
	require.Equal(t, []uint32{0, 1}, indices)
	require.Len(t, values, 2)

	assert.InDelta(t, math.Log(8.0/7.0), float64(values[0]), 1e-6)
	assert.InDelta(t, math.Log(8.0/3.0), float64(values[1]), 1e-6)
	assert.Greater(t, values[1], values[0])
}

func TestInputSizeCap(t *testing.T) {
	oversized := strings.Repeat("a", 120*1024)

	t.Run("small configured cap is raised to the floor", func(t *testing.T) {
		tok := New(WithMaxInputSize(1))

		_, _, err := tok.TokenizeDocument(oversized)
		assert.ErrorIs(t, err, ErrInputTooLarge)

		_, _, err = tok.TokenizeQuery(oversized)
		assert.ErrorIs(t, err, ErrInputTooLarge)
	})

	t.Run("default cap admits the same input", func(t *testing.T) {
		tok := New()
		_, _, err := tok.TokenizeDocument(oversized)
		assert.NoError(t, err)
	})
}

func TestVocabularyCap(t *testing.T) {
	tok := New(WithMaxVocabularySize(2))

	indices, values, err := tok.TokenizeDocument("alpha beta gamma")
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 1}, indices, "beyond-cap term is dropped from the vector")
	assert.Len(t, values, 2)

	stats := tok.Statistics()
	assert.Equal(t, 2, stats.VocabularySize)
	assert.True(t, stats.VocabularyAtLimit)
	assert.Equal(t, int64(3), stats.TotalTokensProcessed, "dropped tokens still count toward corpus statistics")

	indices, values, err = tok.TokenizeDocument("gamma delta")
	require.NoError(t, err)
	assert.Empty(t, indices)
	assert.Empty(t, values)

	stats = tok.Statistics()
	assert.Equal(t, 2, stats.NumDocuments)
	assert.Equal(t, int64(5), stats.TotalTokensProcessed)

	queryIndices, _, err := tok.TokenizeQuery("gamma alpha")
	require.NoError(t, err)
	assert.Equal(t, []uint32{0}, queryIndices, "dropped terms never enter the vocabulary")
}

func TestExportLoadRoundtrip(t *testing.T) {
	built := New()
	for _, doc := range []string{"common rare", "common", "common"} {
		_, _, err := built.TokenizeDocument(doc)
		require.NoError(t, err)
	}

	data, err := built.ExportVocabulary()
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, key := range []string{"vocab", "df", "num_docs", "avg_doc_length", "k1", "b", "total_tokens"} {
		assert.Contains(t, raw, key)
	}

	loaded := New()
	require.NoError(t, loaded.LoadVocabulary(data))

	wantIndices, wantValues, err := built.TokenizeQuery("common rare unseen")
	require.NoError(t, err)
	gotIndices, gotValues, err := loaded.TokenizeQuery("common rare unseen")
	require.NoError(t, err)
	assert.Equal(t, wantIndices, gotIndices)
	assert.Equal(t, wantValues, gotValues)

	assert.Equal(t, built.Statistics().VocabularySize, loaded.Statistics().VocabularySize)
	assert.Equal(t, built.Statistics().NumDocuments, loaded.Statistics().NumDocuments)
	assert.InDelta(t, built.Statistics().AvgDocLength, loaded.Statistics().AvgDocLength, 1e-9)

	_, _, err = loaded.TokenizeDocument("new document")
	assert.ErrorIs(t, err, ErrVocabularyLoaded)

	err = built.LoadVocabulary(data)
	require.Error(t, err, "loading after ingestion is rejected")
}

func TestLoadVocabularyRejectsCorruptInput(t *testing.T) {
	tok := New()

	assert.Error(t, tok.LoadVocabulary([]byte("{not json")))

	corrupt := []byte(`{"vocab":{"alpha":5},"df":{"alpha":1},"num_docs":1,"avg_doc_length":1,"k1":1.5,"b":0.75,"total_tokens":1}`)
	assert.Error(t, tok.LoadVocabulary(corrupt))
}

func TestEmptyInputs(t *testing.T) {
	tok := New()

	_, _, err := tok.TokenizeDocument("   ")
	assert.ErrorIs(t, err, ErrEmptyDocument)
	_, _, err = tok.TokenizeDocument("?!...")
	assert.ErrorIs(t, err, ErrEmptyDocument)

	indices, values, err := tok.TokenizeQuery("?!...")
	require.NoError(t, err)
	assert.Empty(t, indices)
	assert.Empty(t, values)

	assert.Equal(t, 0, tok.Statistics().NumDocuments, "rejected documents never touch statistics")
}

func TestStatisticsTracksAverages(t *testing.T) {
	tok := New()

	_, _, err := tok.TokenizeDocument("one two three")
	require.NoError(t, err)
	_, _, err = tok.TokenizeDocument("four")
	require.NoError(t, err)

	stats := tok.Statistics()
	assert.Equal(t, 2, stats.NumDocuments)
	assert.Equal(t, 4, stats.VocabularySize)
	assert.InDelta(t, 2.0, stats.AvgDocLength, 1e-9)
	assert.Equal(t, int64(4), stats.TotalTokensProcessed)
	assert.False(t, stats.VocabularyAtLimit)
}

func TestScoreDocumentUsesFinalStatistics(t *testing.T) {
	tok := New()

	// At ingest time the first document sees a single-document corpus.
	atIngest, atIngestVals, err := tok.TokenizeDocument("btc wallet")
	require.NoError(t, err)
	_, _, err = tok.TokenizeDocument("btc fees")
	require.NoError(t, err)
	_, _, err = tok.TokenizeDocument("btc escrow")
	require.NoError(t, err)

	rescored, rescoredVals, err := tok.ScoreDocument("btc wallet")
	require.NoError(t, err)
	assert.Equal(t, atIngest, rescored, "same terms, same indices")

	// btc now appears in all three documents, so its rescored weight drops
	// below the partial-corpus weight it got at ingest time.
	assert.Less(t, rescoredVals[0], atIngestVals[0])

	// Rescoring twice is stable and never moves the statistics.
	again, againVals, err := tok.ScoreDocument("btc wallet")
	require.NoError(t, err)
	assert.Equal(t, rescored, again)
	assert.Equal(t, rescoredVals, againVals)
	assert.Equal(t, 3, tok.Statistics().NumDocuments)
}

func TestScoreDocumentDropsUnknownTerms(t *testing.T) {
	tok := New()
	_, _, err := tok.TokenizeDocument("btc wallet backup")
	require.NoError(t, err)

	indices, values, err := tok.ScoreDocument("btc unseen unseen unseen")
	require.NoError(t, err)
	require.Equal(t, []uint32{0}, indices, "only the known term survives")
	require.Len(t, values, 1)

	// Unknown tokens still inflate the document length, so the known term
	// weighs less than in a document without them.
	short, shortVals, err := tok.ScoreDocument("btc")
	require.NoError(t, err)
	require.Equal(t, []uint32{0}, short)
	assert.Less(t, values[0], shortVals[0])
}

func TestScoreDocumentWorksOnLoadedSnapshot(t *testing.T) {
	source := New()
	_, _, err := source.TokenizeDocument("btc wallet")
	require.NoError(t, err)
	_, _, err = source.TokenizeDocument("btc fees")
	require.NoError(t, err)
	want, wantVals, err := source.ScoreDocument("btc wallet")
	require.NoError(t, err)

	data, err := source.ExportVocabulary()
	require.NoError(t, err)

	restored := New()
	require.NoError(t, restored.LoadVocabulary(data))

	_, _, err = restored.TokenizeDocument("btc wallet")
	require.ErrorIs(t, err, ErrVocabularyLoaded)

	got, gotVals, err := restored.ScoreDocument("btc wallet")
	require.NoError(t, err)
	assert.Equal(t, want, got)
	require.Len(t, gotVals, len(wantVals))
	for i := range wantVals {
		assert.InDelta(t, float64(wantVals[i]), float64(gotVals[i]), 1e-6)
	}
}

func TestScoreDocumentInputValidation(t *testing.T) {
	tok := New()
	_, _, err := tok.TokenizeDocument("btc wallet")
	require.NoError(t, err)

	_, _, err = tok.ScoreDocument(strings.Repeat("a", DefaultMaxInputSize+1))
	assert.ErrorIs(t, err, ErrInputTooLarge)
	_, _, err = tok.ScoreDocument("?!...")
	assert.ErrorIs(t, err, ErrEmptyDocument)
}
