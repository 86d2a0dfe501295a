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

package hooks

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/peerex/hermod/pkg/config"
	"github.com/peerex/hermod/pkg/gateway"
	"github.com/peerex/hermod/pkg/message"
)

// PII modes.
const (
	PIIModeRedact = "redact"
	PIIModeBlock  = "block"
)

var (
	emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9]+(?:[.-][A-Za-z0-9]+)*\.[A-Za-z]{2,63}\b`)

	// Candidate digit runs with phone separators. Candidates are
	// filtered by phoneShaped so trade amounts and order ids survive.
	phonePattern = regexp.MustCompile(`\+?\d[\d\s().\-]{5,}\d`)

	apiKeyPattern = regexp.MustCompile(`\b(?:sk|pk|api|key|token)[-_][A-Za-z0-9\-_]{16,}\b`)
)

// PIIHook scrubs personal data from inbound questions before they reach
// retrieval and the LLM provider. In redact mode matches are masked in
// place; in block mode the message is rejected.
type PIIHook struct {
	mode   string
	logger *slog.Logger
}

// NewPIIHook creates the PII pre-hook.
func NewPIIHook(cfg *config.PIIHookConfig, logger *slog.Logger) *PIIHook {
	if logger == nil {
		logger = slog.Default()
	}
	mode := PIIModeRedact
	if cfg != nil && cfg.Mode != "" {
		mode = cfg.Mode
	}
	return &PIIHook{mode: mode, logger: logger}
}

// Name implements PreHook.
func (h *PIIHook) Name() string { return "pii" }

// Priority implements PreHook.
func (h *PIIHook) Priority() int { return PriorityHigh }

// Execute scans the question for PII shapes.
func (h *PIIHook) Execute(_ context.Context, in *message.Incoming) error {
	scrubbed, found := scrubPII(in.Question)
	if !found {
		return nil
	}

	if h.mode == PIIModeBlock {
		return gateway.NewError(gateway.CodePIIDetected,
			"message contains personal data; please remove emails, phone numbers, and keys")
	}

	h.logger.Debug("Redacted PII from question",
		"channel", in.ChannelID,
		"message_id", in.MessageID)
	in.Question = scrubbed
	return nil
}

// scrubPII masks PII shapes and reports whether anything matched.
func scrubPII(text string) (string, bool) {
	found := false

	text = emailPattern.ReplaceAllStringFunc(text, func(string) string {
		found = true
		return "[email redacted]"
	})
	text = apiKeyPattern.ReplaceAllStringFunc(text, func(string) string {
		found = true
		return "[key redacted]"
	})
	text = phonePattern.ReplaceAllStringFunc(text, func(m string) string {
		if !phoneShaped(m) {
			return m
		}
		found = true
		return "[phone redacted]"
	})
	return text, found
}

// phoneShaped filters phone candidates. Decimal amounts and dates share
// the digits-and-separators shape but carry fewer digits, or a lone dot
// with no other separator.
func phoneShaped(candidate string) bool {
	digits, dots, separators := 0, 0, 0
	for _, r := range candidate {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '.':
			dots++
		case r == ' ' || r == '-' || r == '(' || r == ')':
			separators++
		}
	}
	if strings.HasPrefix(candidate, "+") {
		return digits >= 8
	}
	if dots == 1 && separators == 0 {
		// "0.00012345" is an amount, not a phone number.
		return false
	}
	return digits >= 9
}
