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

// Package retriever runs hybrid dense+sparse search over the serving
// knowledge collection and fuses the two result sets into one ranked
// list.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/peerex/hermod/pkg/config"
	"github.com/peerex/hermod/pkg/embedder"
	"github.com/peerex/hermod/pkg/message"
	"github.com/peerex/hermod/pkg/observability"
	"github.com/peerex/hermod/pkg/sparse"
	"github.com/peerex/hermod/pkg/vector"
)

// Query validation bounds.
const (
	MinQueryLength = 2
	MaxQueryLength = 10000
)

// ErrInvalidQuery wraps query validation failures. The resilient wrapper
// treats these as caller errors, not store failures.
var ErrInvalidQuery = errors.New("invalid query")

// Document is one retrieved knowledge entry with its fused score.
type Document struct {
	ID       string
	Content  string
	Score    float64
	Metadata map[string]any
}

// Reference converts the document to the wire shape attached to
// answers. FAQ documents with a slug get a stable anchor URL.
func (d Document) Reference() message.DocumentReference {
	ref := message.DocumentReference{
		DocumentID:     d.ID,
		RelevanceScore: d.Score,
	}
	if id, ok := d.Metadata["id"].(string); ok && id != "" {
		ref.DocumentID = id
	}
	if title, ok := d.Metadata["title"].(string); ok {
		ref.Title = title
	}
	if section, ok := d.Metadata["section"].(string); ok {
		ref.Section = section
	}
	if category, ok := d.Metadata["category"].(string); ok {
		ref.Category = category
	}
	if protocol, ok := d.Metadata["protocol"].(string); ok {
		ref.Protocol = protocol
	}
	if slug, ok := d.Metadata["slug"].(string); ok && slug != "" {
		ref.URL = "/faq#" + slug
	}
	return ref
}

// Retriever is the query-side contract of the knowledge index.
type Retriever interface {
	// Retrieve returns up to topK documents ranked by relevance.
	// Filter entries match keyword payload fields, AND-joined.
	Retrieve(ctx context.Context, query string, topK int, filter map[string]any) ([]Document, error)

	// Name identifies the retriever in logs and metrics.
	Name() string
}

// TokenizerSource yields the query tokenizer and serving collection of
// the current index build. The knowledge manager hot-swaps both after a
// rebuild.
type TokenizerSource interface {
	Tokenizer() *sparse.Tokenizer
	Collection() string
}

// Hybrid runs the dense and sparse legs concurrently and fuses their
// min-max normalized scores.
type Hybrid struct {
	store          vector.Store
	embedder       embedder.Provider
	source         TokenizerSource
	denseWeight    float64
	sparseWeight   float64
	candidateLimit int
	denseOnly      bool
	logger         *slog.Logger
}

// NewHybrid creates the primary hybrid retriever.
func NewHybrid(cfg *config.RetrievalConfig, store vector.Store, emb embedder.Provider, source TokenizerSource, logger *slog.Logger) *Hybrid {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hybrid{
		store:          store,
		embedder:       emb,
		source:         source,
		denseWeight:    config.Float64Value(cfg.DenseWeight, 0.7),
		sparseWeight:   config.Float64Value(cfg.SparseWeight, 0.3),
		candidateLimit: cfg.CandidateLimit,
		logger:         logger,
	}
}

// NewDense creates a dense-only retriever, used as the breaker fallback
// against stores without a sparse family.
func NewDense(cfg *config.RetrievalConfig, store vector.Store, emb embedder.Provider, source TokenizerSource, logger *slog.Logger) *Hybrid {
	h := NewHybrid(cfg, store, emb, source, logger)
	h.denseOnly = true
	return h
}

// Name identifies the retriever by its backing store.
func (h *Hybrid) Name() string {
	if h.denseOnly {
		return h.store.Name() + "-dense"
	}
	return h.store.Name()
}

var _ Retriever = (*Hybrid)(nil)

// Retrieve runs both search legs, fuses, and returns the topK best.
// An empty query returns empty results without touching the store.
func (h *Hybrid) Retrieve(ctx context.Context, query string, topK int, filter map[string]any) ([]Document, error) {
	start := time.Now()
	docs, err := h.retrieve(ctx, query, topK, filter)
	observability.GetGlobalMetrics().RecordRetrieval(ctx, h.store.Name(), time.Since(start), err)
	return docs, err
}

func (h *Hybrid) retrieve(ctx context.Context, query string, topK int, filter map[string]any) ([]Document, error) {
	query = processQuery(query)
	if query == "" {
		return []Document{}, nil
	}
	if err := validateQuery(query); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 1
	}
	limit := h.candidateLimit
	if limit < topK {
		limit = topK
	}

	collection := h.source.Collection()
	sparseLeg := !h.denseOnly && h.store.SupportsSparse()

	var dense, sparseHits []vector.Result
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		queryVector, err := h.embedder.Embed(gctx, query)
		if err != nil {
			return fmt.Errorf("failed to embed query: %w", err)
		}
		dense, err = h.store.QueryDense(gctx, collection, queryVector, limit, filter)
		if err != nil {
			return fmt.Errorf("dense search failed: %w", err)
		}
		return nil
	})

	if sparseLeg {
		g.Go(func() error {
			indices, values, err := h.source.Tokenizer().TokenizeQuery(query)
			if err != nil {
				return fmt.Errorf("failed to tokenize query: %w", err)
			}
			if len(indices) == 0 {
				return nil
			}
			sparseHits, err = h.store.QuerySparse(gctx, collection, indices, values, limit, filter)
			if err != nil {
				return fmt.Errorf("sparse search failed: %w", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	fused := fuse(dense, sparseHits, h.denseWeight, h.sparseWeight)
	if len(fused) > topK {
		fused = fused[:topK]
	}
	return fused, nil
}

// processQuery trims and collapses internal whitespace.
func processQuery(query string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(query)), " ")
}

// validateQuery bounds non-empty queries.
func validateQuery(query string) error {
	if len(query) < MinQueryLength {
		return fmt.Errorf("%w: too short (min %d characters)", ErrInvalidQuery, MinQueryLength)
	}
	if len(query) > MaxQueryLength {
		return fmt.Errorf("%w: too long (max %d characters)", ErrInvalidQuery, MaxQueryLength)
	}
	return nil
}

// normalize min-max normalizes raw scores. An empty set stays empty, a
// single result normalizes to 1.0, and a set of equal scores
// normalizes to 0.5, so every output is finite and in [0, 1].
func normalize(results []vector.Result) []float64 {
	switch len(results) {
	case 0:
		return nil
	case 1:
		return []float64{1.0}
	}

	minScore := float64(results[0].Score)
	maxScore := minScore
	for _, r := range results[1:] {
		s := float64(r.Score)
		if s < minScore {
			minScore = s
		}
		if s > maxScore {
			maxScore = s
		}
	}

	norms := make([]float64, len(results))
	if maxScore == minScore {
		for i := range norms {
			norms[i] = 0.5
		}
		return norms
	}
	span := maxScore - minScore
	for i, r := range results {
		norms[i] = (float64(r.Score) - minScore) / span
	}
	return norms
}

// fuse combines the two normalized legs into one descending ranking.
// Documents seen by only one leg contribute nothing on the other.
func fuse(dense, sparseHits []vector.Result, denseWeight, sparseWeight float64) []Document {
	denseNorm := normalize(dense)
	sparseNorm := normalize(sparseHits)

	byID := make(map[string]*Document, len(dense)+len(sparseHits))
	order := make([]string, 0, len(dense)+len(sparseHits))

	add := func(r vector.Result, contribution float64) {
		doc, ok := byID[r.ID]
		if !ok {
			doc = &Document{
				ID:       r.ID,
				Content:  r.Content,
				Metadata: r.Metadata,
			}
			byID[r.ID] = doc
			order = append(order, r.ID)
		}
		doc.Score += contribution
	}

	for i, r := range dense {
		add(r, denseWeight*denseNorm[i])
	}
	for i, r := range sparseHits {
		add(r, sparseWeight*sparseNorm[i])
	}

	docs := make([]Document, 0, len(order))
	for _, id := range order {
		docs = append(docs, *byID[id])
	}
	sort.SliceStable(docs, func(i, j int) bool {
		if docs[i].Score != docs[j].Score {
			return docs[i].Score > docs[j].Score
		}
		return docs[i].ID < docs[j].ID
	})
	return docs
}
