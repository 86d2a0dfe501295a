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

// Package sparse builds BM25 sparse vectors over the support corpus.
//
// A Tokenizer accumulates vocabulary and document-frequency statistics while
// documents are ingested, then serves document and query vectors against the
// frozen statistics. The index build persists the tokenizer state next to
// the collection so query-time vectors always use the vocabulary the index
// was built with.
package sparse

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"
)

const (
	// DefaultK1 is the BM25 term-frequency saturation parameter.
	DefaultK1 = 1.5

	// DefaultB is the BM25 document-length normalization parameter.
	DefaultB = 0.75

	// MinMaxInputSize is the smallest admissible input cap.
	MinMaxInputSize = 100 * 1024

	// DefaultMaxInputSize caps a single document or query in bytes.
	DefaultMaxInputSize = 256 * 1024

	// DefaultMaxVocabularySize bounds the number of distinct terms.
	DefaultMaxVocabularySize = 500_000
)

var (
	// ErrInputTooLarge is returned when a document or query exceeds the
	// input cap.
	ErrInputTooLarge = errors.New("sparse: input exceeds maximum size")

	// ErrVocabularyLoaded is returned when documents are ingested into a
	// tokenizer whose vocabulary was loaded from a snapshot.
	ErrVocabularyLoaded = errors.New("sparse: vocabulary loaded from snapshot; document ingestion disabled")

	// ErrEmptyDocument is returned when a document yields no tokens.
	ErrEmptyDocument = errors.New("sparse: document contains no tokens")
)

// Tokenizer computes BM25 sparse vectors. All methods are safe for
// concurrent use; mutations (ingestion, loading) are serialized by a single
// update lock.
type Tokenizer struct {
	mu sync.RWMutex

	k1                float64
	b                 float64
	maxInputSize      int
	maxVocabularySize int

	vocab map[string]uint32 // term -> stable index, first-seen order
	terms []string          // index -> term
	df    []int             // index -> documents containing the term

	numDocs      int
	docLengthSum int64
	avgDocLength float64
	totalTokens  int64

	loaded    bool
	capWarned bool
}

// Option configures a Tokenizer.
type Option func(*Tokenizer)

// WithK1 sets the BM25 k1 parameter.
func WithK1(k1 float64) Option {
	return func(t *Tokenizer) {
		if k1 > 0 {
			t.k1 = k1
		}
	}
}

// WithB sets the BM25 b parameter.
func WithB(b float64) Option {
	return func(t *Tokenizer) {
		if b >= 0 && b <= 1 {
			t.b = b
		}
	}
}

// WithMaxInputSize sets the input cap in bytes. Values below
// MinMaxInputSize are raised to it.
func WithMaxInputSize(size int) Option {
	return func(t *Tokenizer) {
		if size < MinMaxInputSize {
			size = MinMaxInputSize
		}
		t.maxInputSize = size
	}
}

// WithMaxVocabularySize bounds the number of distinct terms.
func WithMaxVocabularySize(size int) Option {
	return func(t *Tokenizer) {
		if size > 0 {
			t.maxVocabularySize = size
		}
	}
}

// New creates an empty Tokenizer.
func New(opts ...Option) *Tokenizer {
	t := &Tokenizer{
		k1:                DefaultK1,
		b:                 DefaultB,
		maxInputSize:      DefaultMaxInputSize,
		maxVocabularySize: DefaultMaxVocabularySize,
		vocab:             make(map[string]uint32),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// TokenizeDocument ingests one document and returns its sparse vector.
// Document-frequency counters are updated exactly once per call, so callers
// must present each document once regardless of ingestion path. Values are
// BM25 weights against the statistics including this document.
func (t *Tokenizer) TokenizeDocument(text string) ([]uint32, []float32, error) {
	if len(text) > t.maxInputSize {
		return nil, nil, ErrInputTooLarge
	}

	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil, nil, ErrEmptyDocument
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.loaded {
		return nil, nil, ErrVocabularyLoaded
	}

	tf := make(map[uint32]int)
	dropped := false
	for _, token := range tokens {
		idx, known := t.vocab[token]
		if !known {
			if len(t.terms) >= t.maxVocabularySize {
				dropped = true
				continue
			}
			idx = uint32(len(t.terms))
			t.vocab[token] = idx
			t.terms = append(t.terms, token)
			t.df = append(t.df, 0)
		}
		tf[idx]++
	}

	if dropped && !t.capWarned {
		t.capWarned = true
		slog.Warn("Sparse vocabulary reached capacity; unseen terms are dropped from indexing",
			"max_vocabulary_size", t.maxVocabularySize)
	}

	// Corpus statistics count every token, including ones dropped at the
	// vocabulary cap.
	t.numDocs++
	t.totalTokens += int64(len(tokens))
	t.docLengthSum += int64(len(tokens))
	t.avgDocLength = float64(t.docLengthSum) / float64(t.numDocs)

	for idx := range tf {
		t.df[idx]++
	}

	docLength := float64(len(tokens))
	indices := sortedIndices(tf)
	values := make([]float32, len(indices))
	for i, idx := range indices {
		values[i] = float32(t.bm25Weight(tf[idx], docLength, t.df[idx]))
	}
	return indices, values, nil
}

// ScoreDocument returns a document's sparse vector against the current
// statistics without mutating them. Tokens outside the vocabulary are
// dropped from the vector but still count toward document length. The index
// build ingests the whole corpus first and then scores every document on
// this path, so early documents carry the same statistics as late ones.
// Unlike TokenizeDocument this works on snapshot-loaded tokenizers.
func (t *Tokenizer) ScoreDocument(text string) ([]uint32, []float32, error) {
	if len(text) > t.maxInputSize {
		return nil, nil, ErrInputTooLarge
	}

	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil, nil, ErrEmptyDocument
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	tf := make(map[uint32]int)
	for _, token := range tokens {
		idx, known := t.vocab[token]
		if !known {
			continue
		}
		tf[idx]++
	}

	docLength := float64(len(tokens))
	indices := sortedIndices(tf)
	values := make([]float32, len(indices))
	for i, idx := range indices {
		values[i] = float32(t.bm25Weight(tf[idx], docLength, t.df[idx]))
	}
	return indices, values, nil
}

// TokenizeQuery returns the query's sparse vector against the frozen
// statistics. Weights are per-term IDF; tokens outside the vocabulary are
// dropped and the vocabulary never grows on this path.
func (t *Tokenizer) TokenizeQuery(text string) ([]uint32, []float32, error) {
	if len(text) > t.maxInputSize {
		return nil, nil, ErrInputTooLarge
	}

	tokens := tokenize(text)

	t.mu.RLock()
	defer t.mu.RUnlock()

	seen := make(map[uint32]struct{})
	for _, token := range tokens {
		idx, known := t.vocab[token]
		if !known {
			continue
		}
		seen[idx] = struct{}{}
	}

	indices := make([]uint32, 0, len(seen))
	for idx := range seen {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	values := make([]float32, len(indices))
	for i, idx := range indices {
		values[i] = float32(t.idf(t.df[idx]))
	}
	return indices, values, nil
}

// vocabularySnapshot is the serialized tokenizer state. The BM25 parameters
// travel with the vocabulary so query scoring matches the index build.
type vocabularySnapshot struct {
	Vocab        map[string]uint32 `json:"vocab"`
	DF           map[string]int    `json:"df"`
	NumDocs      int               `json:"num_docs"`
	AvgDocLength float64           `json:"avg_doc_length"`
	K1           float64           `json:"k1"`
	B            float64           `json:"b"`
	TotalTokens  int64             `json:"total_tokens"`
}

// ExportVocabulary serializes the full tokenizer state.
func (t *Tokenizer) ExportVocabulary() ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := vocabularySnapshot{
		Vocab:        make(map[string]uint32, len(t.vocab)),
		DF:           make(map[string]int, len(t.vocab)),
		NumDocs:      t.numDocs,
		AvgDocLength: t.avgDocLength,
		K1:           t.k1,
		B:            t.b,
		TotalTokens:  t.totalTokens,
	}
	for term, idx := range t.vocab {
		snap.Vocab[term] = idx
		snap.DF[term] = t.df[idx]
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize vocabulary: %w", err)
	}
	return data, nil
}

// LoadVocabulary replaces the tokenizer state with a snapshot. Loading is
// mutually exclusive with document ingestion: it fails if documents were
// already ingested, and disables ingestion afterwards.
func (t *Tokenizer) LoadVocabulary(data []byte) error {
	var snap vocabularySnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to parse vocabulary: %w", err)
	}

	size := len(snap.Vocab)
	terms := make([]string, size)
	df := make([]int, size)
	for term, idx := range snap.Vocab {
		if int(idx) >= size || terms[idx] != "" {
			return fmt.Errorf("corrupt vocabulary: index %d for term %q out of range or duplicated", idx, term)
		}
		terms[idx] = term
		df[idx] = snap.DF[term]
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.numDocs > 0 || len(t.vocab) > 0 {
		return errors.New("sparse: cannot load vocabulary after documents were ingested")
	}

	t.vocab = snap.Vocab
	t.terms = terms
	t.df = df
	t.numDocs = snap.NumDocs
	t.avgDocLength = snap.AvgDocLength
	t.totalTokens = snap.TotalTokens
	if snap.K1 > 0 {
		t.k1 = snap.K1
	}
	if snap.B >= 0 && snap.B <= 1 {
		t.b = snap.B
	}
	t.loaded = true

	return nil
}

// Statistics describes the tokenizer state.
type Statistics struct {
	VocabularySize       int     `json:"vocabulary_size"`
	NumDocuments         int     `json:"num_documents"`
	AvgDocLength         float64 `json:"avg_doc_length"`
	TotalTokensProcessed int64   `json:"total_tokens_processed"`
	VocabularyAtLimit    bool    `json:"vocabulary_at_limit"`
}

// Statistics returns a snapshot of the tokenizer state.
func (t *Tokenizer) Statistics() Statistics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return Statistics{
		VocabularySize:       len(t.terms),
		NumDocuments:         t.numDocs,
		AvgDocLength:         t.avgDocLength,
		TotalTokensProcessed: t.totalTokens,
		VocabularyAtLimit:    len(t.terms) >= t.maxVocabularySize,
	}
}

// bm25Weight computes the BM25 weight for one term in one document.
// Caller holds the lock.
func (t *Tokenizer) bm25Weight(tf int, docLength float64, df int) float64 {
	norm := t.k1 * (1 - t.b + t.b*docLength/t.avgDocLength)
	return t.idf(df) * float64(tf) * (t.k1 + 1) / (float64(tf) + norm)
}

// idf computes the positive Robertson-Sparck Jones IDF. Caller holds the
// lock.
func (t *Tokenizer) idf(df int) float64 {
	n := float64(t.numDocs)
	return math.Log(1 + (n-float64(df)+0.5)/(float64(df)+0.5))
}

// tokenize lowercases, maps punctuation to spaces, and splits on
// whitespace. Empty tokens never survive strings.Fields.
func tokenize(text string) []string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}
	return strings.Fields(b.String())
}

func sortedIndices(tf map[uint32]int) []uint32 {
	indices := make([]uint32, 0, len(tf))
	for idx := range tf {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	return indices
}
