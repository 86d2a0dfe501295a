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

package feedback

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/peerex/hermod/pkg/llm"
)

const analyzerTimeout = 15 * time.Second

// maxIssueTags caps how many tags a single clarification can carry.
const maxIssueTags = 5

const analyzerSystemPrompt = `You classify user complaints about AI support answers.
Given the user's clarification text, reply with up to three short issue tags,
comma separated, lowercase, words joined by underscores. Examples:
wrong_link, outdated_info, incomplete_answer, incorrect_fact, unclear_wording.
Reply with tags only, no explanation.`

// Analyzer tags clarification text with issue categories using an LLM.
// A nil Analyzer is valid and performs no analysis.
type Analyzer struct {
	provider llm.Provider
	logger   *slog.Logger
}

// NewAnalyzer wraps an LLM provider for issue tagging.
func NewAnalyzer(provider llm.Provider, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{provider: provider, logger: logger}
}

// AnalyzeFeedbackText extracts issue tags from clarification text.
// Any failure degrades to an empty tag list; the clarification itself
// is stored regardless.
func (a *Analyzer) AnalyzeFeedbackText(ctx context.Context, text string) []string {
	if a == nil || a.provider == nil {
		return nil
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, analyzerTimeout)
	defer cancel()

	resp, err := a.provider.Generate(ctx, analyzerSystemPrompt, text)
	if err != nil {
		a.logger.Warn("feedback analysis failed", "error", err)
		return nil
	}
	return parseIssueTags(resp.Text)
}

// parseIssueTags normalizes a model reply into clean tag strings.
func parseIssueTags(reply string) []string {
	fields := strings.FieldsFunc(reply, func(r rune) bool {
		return r == ',' || r == '\n' || r == ';'
	})

	var tags []string
	seen := make(map[string]struct{})
	for _, f := range fields {
		tag := normalizeTag(f)
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
		if len(tags) >= maxIssueTags {
			break
		}
	}
	return tags
}

// normalizeTag lowercases a candidate tag and squashes whitespace to
// underscores. Anything that is not a short alphanumeric tag is
// rejected so a chatty model reply cannot leak prose into the store.
func normalizeTag(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Trim(s, ".-")
	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == ' ' || r == '_' || r == '-':
			b.WriteByte('_')
		default:
			return ""
		}
	}
	tag := strings.Trim(b.String(), "_")
	if tag == "" || len(tag) > 40 || strings.Count(tag, "_") > 3 {
		return ""
	}
	return tag
}
