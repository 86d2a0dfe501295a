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
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/peerex/hermod/pkg/config"
	"github.com/peerex/hermod/pkg/faq"
)

// Keys under which non-corpus inputs appear in the fingerprint table.
const (
	faqSourceKey        = "faq_store"
	vocabularySourceKey = "vocabulary"
)

// Loader turns the configured corpus directories and the FAQ store into
// the document set for an index build, and fingerprints the same inputs
// for change detection.
type Loader struct {
	cfg     *config.KnowledgeConfig
	faqs    *faq.Store
	parsers *ParserRegistry
	logger  *slog.Logger
}

// NewLoader creates a Loader. The FAQ store may be nil when no FAQ
// source is configured.
func NewLoader(cfg *config.KnowledgeConfig, faqs *faq.Store, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		cfg:     cfg,
		faqs:    faqs,
		parsers: NewParserRegistry(),
		logger:  logger,
	}
}

// sourceFile is one corpus file discovered under a source directory.
type sourceFile struct {
	source   string // source name from config
	category string
	path     string
	key      string // "<source>/<relative path>"
	info     fs.FileInfo
}

// Fingerprints stats every tracked input: each corpus file, the FAQ
// store file, and the BM25 vocabulary file. Missing FAQ and vocabulary
// files are simply absent from the table, which still changes the source
// set once they appear.
func (l *Loader) Fingerprints(ctx context.Context) (map[string]SourceFingerprint, error) {
	files, err := l.collectSourceFiles(ctx)
	if err != nil {
		return nil, err
	}

	prints := make(map[string]SourceFingerprint, len(files)+2)
	for _, f := range files {
		prints[f.key] = SourceFingerprint{
			Path:  f.path,
			Mtime: f.info.ModTime(),
			Size:  f.info.Size(),
		}
	}

	if l.faqs != nil {
		if info, err := os.Stat(l.faqs.Path()); err == nil {
			prints[faqSourceKey] = SourceFingerprint{
				Path:  l.faqs.Path(),
				Mtime: info.ModTime(),
				Size:  info.Size(),
			}
		}
	}
	if info, err := os.Stat(l.cfg.VocabularyPath); err == nil {
		prints[vocabularySourceKey] = SourceFingerprint{
			Path:  l.cfg.VocabularyPath,
			Mtime: info.ModTime(),
			Size:  info.Size(),
		}
	}

	return prints, nil
}

// Load reads every corpus file and the verified FAQs into documents.
// Wiki files are split into one document per markdown heading section;
// binary formats go through the parser registry and index as a single
// document. Unreadable files are skipped with a warning so one bad file
// cannot block a rebuild.
func (l *Loader) Load(ctx context.Context) ([]Document, error) {
	files, err := l.collectSourceFiles(ctx)
	if err != nil {
		return nil, err
	}

	var docs []Document
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		fileDocs, err := l.loadFile(ctx, f)
		if err != nil {
			l.logger.Warn("Skipping unreadable corpus file",
				"path", f.path,
				"source", f.source,
				"error", err)
			continue
		}
		docs = append(docs, fileDocs...)
	}

	docs = append(docs, l.faqDocuments()...)
	return docs, nil
}

// collectSourceFiles walks every configured source directory in config
// order, then path order within a source, so document ordering is stable
// across rebuilds.
func (l *Loader) collectSourceFiles(_ context.Context) ([]sourceFile, error) {
	var files []sourceFile
	for _, src := range l.cfg.Sources {
		err := filepath.WalkDir(src.Path, func(path string, entry fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			name := entry.Name()
			if entry.IsDir() {
				if name != "." && strings.HasPrefix(name, ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if strings.HasPrefix(name, ".") || !l.supportedFile(path) {
				return nil
			}

			info, err := entry.Info()
			if err != nil {
				return err
			}
			if info.Size() > l.cfg.MaxFileSize {
				l.logger.Warn("Skipping oversized corpus file",
					"path", path,
					"size", info.Size(),
					"max", l.cfg.MaxFileSize)
				return nil
			}

			rel, err := filepath.Rel(src.Path, path)
			if err != nil {
				rel = name
			}
			files = append(files, sourceFile{
				source:   src.Name,
				category: src.Category,
				path:     path,
				key:      src.Name + "/" + filepath.ToSlash(rel),
				info:     info,
			})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan knowledge source %s: %w", src.Name, err)
		}
	}
	return files, nil
}

func (l *Loader) supportedFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".txt":
		return true
	}
	return l.parsers.Supports(path)
}

func (l *Loader) loadFile(ctx context.Context, f sourceFile) ([]Document, error) {
	ext := strings.ToLower(filepath.Ext(f.path))

	var text string
	switch ext {
	case ".md", ".txt":
		data, err := os.ReadFile(f.path)
		if err != nil {
			return nil, err
		}
		text = string(data)
	default:
		parsed, err := l.parsers.Parse(ctx, f.path)
		if err != nil {
			return nil, err
		}
		text = parsed
	}

	base := strings.TrimSuffix(filepath.Base(f.path), filepath.Ext(f.path))

	if ext == ".md" {
		return splitMarkdown(base, f.source, f.category, text), nil
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	return []Document{{
		Type:     DocumentTypeWiki,
		Title:    base,
		Category: f.category,
		Source:   f.source,
		Content:  text,
	}}, nil
}

// faqDocuments converts every verified FAQ into an indexable document.
// Unverified entries stay out of the index until a staff member promotes
// them.
func (l *Loader) faqDocuments() []Document {
	if l.faqs == nil {
		return nil
	}

	verified := l.faqs.Verified()
	docs := make([]Document, 0, len(verified))
	for _, f := range verified {
		docs = append(docs, Document{
			Type:     DocumentTypeFAQ,
			ID:       f.ID,
			Title:    f.Question,
			Protocol: f.Protocol,
			Category: f.Category,
			Source:   f.Source,
			Slug:     l.faqs.Slug(f),
			Content:  fmt.Sprintf("Q: %s\nA: %s", f.Question, f.Answer),
		})
	}
	return docs
}

// frontMatter holds the optional YAML block at the top of a wiki file.
type frontMatter struct {
	Title    string `yaml:"title"`
	Protocol string `yaml:"protocol"`
	Category string `yaml:"category"`
}

// splitMarkdown splits a markdown file into one document per heading
// section. The document title comes from front matter, the first H1, or
// the file name, in that order. Text before the first section heading
// indexes with an empty section name.
func splitMarkdown(fileBase, source, category, text string) []Document {
	fm, body := parseFrontMatter(text)

	title := fm.Title
	protocol := fm.Protocol
	if fm.Category != "" {
		category = fm.Category
	}

	type section struct {
		name    string
		content []string
	}
	sections := []section{{name: ""}}

	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "# ") && title == "":
			title = strings.TrimSpace(trimmed[2:])
		case strings.HasPrefix(trimmed, "## "):
			sections = append(sections, section{name: strings.TrimSpace(trimmed[3:])})
		default:
			last := len(sections) - 1
			sections[last].content = append(sections[last].content, line)
		}
	}
	if title == "" {
		title = fileBase
	}

	var docs []Document
	for _, s := range sections {
		content := strings.TrimSpace(strings.Join(s.content, "\n"))
		if content == "" {
			continue
		}
		docs = append(docs, Document{
			Type:     DocumentTypeWiki,
			Title:    title,
			Section:  s.name,
			Protocol: protocol,
			Category: category,
			Source:   source,
			Content:  content,
		})
	}
	return docs
}

// parseFrontMatter strips a leading "---" delimited YAML block. Malformed
// front matter is left in the body untouched.
func parseFrontMatter(text string) (frontMatter, string) {
	var fm frontMatter

	rest, ok := strings.CutPrefix(text, "---\n")
	if !ok {
		return fm, text
	}
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return fm, text
	}

	block := rest[:end]
	body := rest[end+len("\n---"):]
	body = strings.TrimPrefix(body, "\n")

	if err := yaml.Unmarshal([]byte(block), &fm); err != nil {
		return frontMatter{}, text
	}
	return fm, body
}
