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
	"crypto/sha1"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// DocumentType tags the corpus a document came from.
type DocumentType string

const (
	DocumentTypeWiki DocumentType = "wiki"
	DocumentTypeFAQ  DocumentType = "faq"
)

// Document is one indexable unit of the knowledge base: a wiki section or a
// verified FAQ.
type Document struct {
	Type     DocumentType
	ID       string // FAQ id; empty for wiki sections
	Title    string
	Section  string
	Protocol string
	Category string
	Source   string // corpus source name
	Slug     string // URL anchor for FAQ documents
	Content  string
}

// Key identifies a document by type, identity, and content hash. Identical
// content under the same identity yields the same key across rebuilds.
func (d *Document) Key() string {
	identity := d.ID
	if identity == "" {
		identity = fmt.Sprintf("%s/%s/%s", d.Title, d.Section, d.Protocol)
	}
	contentHash := sha1.Sum([]byte(d.Content))
	return fmt.Sprintf("%s|%s|%x", d.Type, identity, contentHash)
}

// PointID derives the stable vector store point ID from the document key.
// The top bit is cleared so the ID fits in the stores' signed ranges.
func (d *Document) PointID() uint64 {
	sum := sha256.Sum256([]byte(d.Key()))
	return binary.BigEndian.Uint64(sum[:8]) &^ (1 << 63)
}

// Payload returns the point payload. The protocol and type fields back the
// keyword indexes used for filtered search.
func (d *Document) Payload() map[string]any {
	payload := map[string]any{
		"type":  string(d.Type),
		"title": d.Title,
	}
	if d.ID != "" {
		payload["id"] = d.ID
	}
	if d.Section != "" {
		payload["section"] = d.Section
	}
	if d.Protocol != "" {
		payload["protocol"] = d.Protocol
	}
	if d.Category != "" {
		payload["category"] = d.Category
	}
	if d.Source != "" {
		payload["source"] = d.Source
	}
	if d.Slug != "" {
		payload["slug"] = d.Slug
	}
	return payload
}
