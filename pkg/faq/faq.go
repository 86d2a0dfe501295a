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

// Package faq implements the file-backed FAQ store.
//
// The store keeps the full FAQ list in memory behind a RWMutex and rewrites
// the JSON file atomically on every mutation. The file doubles as a corpus
// source: the index manager fingerprints it by mtime and size, and only
// verified FAQs are handed to the index build. Unverified FAQs are
// candidates awaiting staff review.
package faq

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/peerex/hermod/pkg/config"
	"github.com/peerex/hermod/pkg/utils"
)

// FAQ is a question/answer pair in the support knowledge base.
type FAQ struct {
	ID        string    `json:"id"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Category  string    `json:"category,omitempty"`
	Source    string    `json:"source,omitempty"`
	Protocol  string    `json:"protocol,omitempty"`
	Verified  bool      `json:"verified"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Updates carries the editable FAQ fields. Nil fields are left unchanged.
// Verified is deliberately absent; promotion goes through SetVerified.
type Updates struct {
	Question *string
	Answer   *string
	Category *string
	Protocol *string
}

// storeFile is the on-disk shape of the FAQ store.
type storeFile struct {
	FAQs []FAQ `json:"faqs"`
}

// Store is the process-wide FAQ service. One long-lived instance is owned
// by the process root and shared by the staff API, the escalation engine,
// and the index manager.
//
// Every successful mutation invokes the registered OnChange callbacks
// exactly once, after the store lock is released. The touchedVerified flag
// is true iff the mutation touched a verified FAQ or promoted one to
// verified; listeners use it to decide whether the retrieval index needs a
// rebuild. Pure unverified changes pass false and are index-silent.
type Store struct {
	path        string
	slugUUIDIDs bool

	mu        sync.RWMutex
	faqs      map[string]FAQ
	order     []string
	callbacks []func(touchedVerified bool)
}

// NewStore opens the FAQ store at the configured path. A missing file is
// not an error; the store starts empty and the file appears on the first
// mutation.
func NewStore(cfg *config.FAQConfig) (*Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("faq config is required")
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("faq store path is required")
	}

	s := &Store{
		path:        cfg.Path,
		slugUUIDIDs: cfg.SlugUUIDIDs,
		faqs:        make(map[string]FAQ),
	}

	data, err := os.ReadFile(cfg.Path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("FAQ store file not found, starting empty", "path", cfg.Path)
			return s, nil
		}
		return nil, fmt.Errorf("failed to read FAQ store '%s': %w", cfg.Path, err)
	}

	var file storeFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse FAQ store '%s': %w", cfg.Path, err)
	}

	verified := 0
	for i, f := range file.FAQs {
		if f.ID == "" {
			return nil, fmt.Errorf("FAQ store '%s': entry %d has no id", cfg.Path, i)
		}
		if _, dup := s.faqs[f.ID]; dup {
			return nil, fmt.Errorf("FAQ store '%s': duplicate id '%s'", cfg.Path, f.ID)
		}
		s.faqs[f.ID] = f
		s.order = append(s.order, f.ID)
		if f.Verified {
			verified++
		}
	}

	slog.Info("Loaded FAQ store", "path", cfg.Path, "faqs", len(s.order), "verified", verified)
	return s, nil
}

// Path returns the store file path for source fingerprinting.
func (s *Store) Path() string {
	return s.path
}

// OnChange registers a callback invoked once per successful mutation.
// Callbacks run synchronously outside the store lock, so they may read the
// store but should hand long work to another goroutine.
func (s *Store) OnChange(fn func(touchedVerified bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, fn)
}

// Create adds an FAQ. An empty ID gets a generated UUID. Timestamps are
// stamped by the store.
func (s *Store) Create(f FAQ) (FAQ, error) {
	if strings.TrimSpace(f.Question) == "" {
		return FAQ{}, fmt.Errorf("question is required")
	}
	if strings.TrimSpace(f.Answer) == "" {
		return FAQ{}, fmt.Errorf("answer is required")
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	f.CreatedAt = now
	f.UpdatedAt = now

	s.mu.Lock()
	if _, exists := s.faqs[f.ID]; exists {
		s.mu.Unlock()
		return FAQ{}, fmt.Errorf("faq with id '%s' already exists", f.ID)
	}

	s.faqs[f.ID] = f
	s.order = append(s.order, f.ID)
	if err := s.persistLocked(); err != nil {
		delete(s.faqs, f.ID)
		s.order = s.order[:len(s.order)-1]
		s.mu.Unlock()
		return FAQ{}, err
	}
	s.mu.Unlock()

	s.notify(f.Verified)
	return f, nil
}

// Get returns the FAQ with the given id.
func (s *Store) Get(id string) (FAQ, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.faqs[id]
	return f, ok
}

// All returns every FAQ in file order.
func (s *Store) All() []FAQ {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]FAQ, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.faqs[id])
	}
	return out
}

// Verified returns the FAQs that participate in retrieval.
func (s *Store) Verified() []FAQ {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]FAQ, 0, len(s.order))
	for _, id := range s.order {
		if f := s.faqs[id]; f.Verified {
			out = append(out, f)
		}
	}
	return out
}

// Count returns the number of FAQs, verified or not.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Update edits an FAQ's content fields. The verified flag is untouched.
// An update with no fields set is a no-op and fires no callback.
func (s *Store) Update(id string, u Updates) (FAQ, error) {
	s.mu.Lock()
	prev, exists := s.faqs[id]
	if !exists {
		s.mu.Unlock()
		return FAQ{}, fmt.Errorf("faq '%s' not found", id)
	}

	next := prev
	changed := false
	if u.Question != nil {
		next.Question = *u.Question
		changed = true
	}
	if u.Answer != nil {
		next.Answer = *u.Answer
		changed = true
	}
	if u.Category != nil {
		next.Category = *u.Category
		changed = true
	}
	if u.Protocol != nil {
		next.Protocol = *u.Protocol
		changed = true
	}
	if !changed {
		s.mu.Unlock()
		return prev, nil
	}
	if strings.TrimSpace(next.Question) == "" {
		s.mu.Unlock()
		return FAQ{}, fmt.Errorf("question is required")
	}
	if strings.TrimSpace(next.Answer) == "" {
		s.mu.Unlock()
		return FAQ{}, fmt.Errorf("answer is required")
	}
	next.UpdatedAt = time.Now().UTC()

	s.faqs[id] = next
	if err := s.persistLocked(); err != nil {
		s.faqs[id] = prev
		s.mu.Unlock()
		return FAQ{}, err
	}
	s.mu.Unlock()

	s.notify(prev.Verified)
	return next, nil
}

// SetVerified promotes or demotes an FAQ. Setting the current value is a
// no-op and fires no callback.
func (s *Store) SetVerified(id string, verified bool) (FAQ, error) {
	s.mu.Lock()
	prev, exists := s.faqs[id]
	if !exists {
		s.mu.Unlock()
		return FAQ{}, fmt.Errorf("faq '%s' not found", id)
	}
	if prev.Verified == verified {
		s.mu.Unlock()
		return prev, nil
	}

	next := prev
	next.Verified = verified
	next.UpdatedAt = time.Now().UTC()

	s.faqs[id] = next
	if err := s.persistLocked(); err != nil {
		s.faqs[id] = prev
		s.mu.Unlock()
		return FAQ{}, err
	}
	s.mu.Unlock()

	// Promotion and demotion both change the verified corpus.
	s.notify(true)
	return next, nil
}

// Delete removes an FAQ.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	prev, exists := s.faqs[id]
	if !exists {
		s.mu.Unlock()
		return fmt.Errorf("faq '%s' not found", id)
	}

	prevOrder := s.order
	newOrder := make([]string, 0, len(s.order)-1)
	for _, oid := range s.order {
		if oid != id {
			newOrder = append(newOrder, oid)
		}
	}
	s.order = newOrder
	delete(s.faqs, id)
	if err := s.persistLocked(); err != nil {
		s.order = prevOrder
		s.faqs[id] = prev
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	s.notify(prev.Verified)
	return nil
}

// Slug derives the URL anchor for an FAQ. Human-readable ids become the
// slug directly; UUID-like ids fall back to a slug of the question unless
// the store is configured to treat them as user-visible.
func (s *Store) Slug(f FAQ) string {
	if f.ID != "" && (s.slugUUIDIDs || !LooksLikeUUID(f.ID)) {
		return Slugify(f.ID)
	}
	return Slugify(f.Question)
}

// persistLocked rewrites the store file. Caller holds the write lock.
func (s *Store) persistLocked() error {
	file := storeFile{FAQs: make([]FAQ, 0, len(s.order))}
	for _, id := range s.order {
		file.FAQs = append(file.FAQs, s.faqs[id])
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize FAQ store: %w", err)
	}
	if err := utils.WriteFileAtomic(s.path, data, 0644); err != nil {
		return fmt.Errorf("failed to persist FAQ store: %w", err)
	}
	return nil
}

// notify invokes the OnChange callbacks. Called without the lock held.
func (s *Store) notify(touchedVerified bool) {
	s.mu.RLock()
	callbacks := make([]func(bool), len(s.callbacks))
	copy(callbacks, s.callbacks)
	s.mu.RUnlock()

	for _, fn := range callbacks {
		fn(touchedVerified)
	}
}

var uuidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// LooksLikeUUID reports whether an id matches the canonical UUID form.
func LooksLikeUUID(id string) bool {
	return uuidPattern.MatchString(id)
}

// Slugify lowercases the text and joins alphanumeric runs with hyphens,
// capped at 80 characters.
func Slugify(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	lastHyphen := true
	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	slug := strings.TrimRight(b.String(), "-")
	if len(slug) > 80 {
		slug = strings.TrimRight(slug[:80], "-")
	}
	return slug
}
