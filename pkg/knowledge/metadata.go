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

package knowledge

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/peerex/hermod/pkg/utils"
)

// SourceFingerprint captures the change-detection state of one tracked
// file. Two fingerprints are equal iff the file has the same path, mtime,
// and size.
type SourceFingerprint struct {
	Path  string    `json:"path"`
	Mtime time.Time `json:"mtime"`
	Size  int64     `json:"size"`
}

// Equal reports whether the file is unchanged since the fingerprint was
// taken.
func (f SourceFingerprint) Equal(other SourceFingerprint) bool {
	return f.Path == other.Path && f.Mtime.Equal(other.Mtime) && f.Size == other.Size
}

// StoreMetadata records what the last successful build wrote to the
// vector store.
type StoreMetadata struct {
	// Collection is the physical collection the serving alias points at.
	Collection string `json:"collection"`

	// PointsUpserted counts the documents written by the build.
	PointsUpserted int `json:"points_upserted"`

	// EmbeddingModel is the dense model the build embedded with.
	EmbeddingModel string `json:"embedding_model"`

	// EmbeddingDimensions is the probed dense vector size.
	EmbeddingDimensions int `json:"embedding_dimensions"`
}

// IndexMetadata is the persisted state of the last successful rebuild.
// It is written atomically after a build completes and read back on
// startup to decide whether the index is stale.
type IndexMetadata struct {
	// LastBuild is when the build finished.
	LastBuild time.Time `json:"last_build"`

	// Sources maps tracked file names to their fingerprints at build
	// time. Keys are source-relative (wiki files are prefixed with the
	// source name); the FAQ store and vocabulary file appear under fixed
	// keys.
	Sources map[string]SourceFingerprint `json:"sources"`

	// Qdrant describes what the build wrote to the vector store. The
	// field name is historical; it applies to any configured store.
	Qdrant StoreMetadata `json:"qdrant"`
}

// LoadMetadata reads the index metadata file. A missing file returns
// (nil, nil); the caller treats that as "never built".
func LoadMetadata(path string) (*IndexMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read index metadata: %w", err)
	}

	var meta IndexMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse index metadata: %w", err)
	}
	if meta.Sources == nil {
		meta.Sources = make(map[string]SourceFingerprint)
	}
	return &meta, nil
}

// SaveMetadata writes the index metadata atomically (temp file + rename)
// so a crash mid-write never leaves a truncated record behind.
func SaveMetadata(path string, meta *IndexMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal index metadata: %w", err)
	}
	if err := utils.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write index metadata: %w", err)
	}
	return nil
}
