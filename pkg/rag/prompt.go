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

package rag

import (
	"fmt"
	"strings"

	"github.com/peerex/hermod/pkg/message"
	"github.com/peerex/hermod/pkg/retriever"
	"github.com/peerex/hermod/pkg/utils"
)

// Stable user-facing strings. Channels and tests rely on these exact
// values, so change them only together with the deployments that match
// on them.
const (
	// ApologyAnswer is returned whenever generation fails.
	ApologyAnswer = "I'm sorry, I couldn't generate an answer right now. Please try again in a moment, or ask to speak with a support agent."

	// NoInformationAnswer is returned when nothing relevant is in the
	// knowledge base and the conversation offers no context either.
	NoInformationAnswer = "I don't have information about that in our knowledge base yet. Would you like me to forward your question to our support team?"
)

// systemPreface states the assistant's role and the trade protocol
// version rules. Knowledge documents are tagged with the protocol they
// describe; the model must not mix the legacy flow into answers about
// the current one.
const systemPreface = `You are the support assistant for a peer-to-peer cryptocurrency exchange. Answer user questions about trading, escrow, disputes, fees, and account issues using only the provided context and conversation.

Rules:
- Be concise and factual. Do not invent features, fees, or timelines.
- The exchange runs two trade protocols. Documents marked protocol v1 describe the legacy flow; documents marked protocol v2 describe the current flow. When they differ, answer for the current flow unless the user clearly asks about a legacy trade, and say which protocol your answer applies to.
- Never ask for passwords, private keys, or two-factor codes.
- If the context does not cover the question, say so instead of guessing.`

// contextOnlyPreface drives the fallback when retrieval found nothing
// but the conversation already carries context.
const contextOnlyPreface = `You are the support assistant for a peer-to-peer cryptocurrency exchange. No knowledge base entries matched this question. Answer only from the prior conversation below, in two or three sentences. If the question is about a new topic the conversation does not cover, reply exactly with: ` + NoInformationAnswer

// Chat roles accepted from history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// promptBuilder assembles the user prompt handed to the model.
type promptBuilder struct {
	maxContextChars int
	counter         *utils.TokenCounter
	contextBudget   int
}

// buildPrompt renders history, retrieved context, and optional guidance
// bullets into a single prompt.
func (b *promptBuilder) buildPrompt(question string, history []message.HistoryEntry, docs []retriever.Document, guidance []string) string {
	var sb strings.Builder

	if block := b.historyBlock(history); block != "" {
		sb.WriteString("Conversation so far:\n")
		sb.WriteString(block)
		sb.WriteString("\n")
	}

	if block := b.contextBlock(docs); block != "" {
		sb.WriteString("Context from the knowledge base:\n")
		sb.WriteString(block)
		sb.WriteString("\n")
	}

	if len(guidance) > 0 {
		sb.WriteString("Guidance from past support feedback:\n")
		for _, g := range guidance {
			sb.WriteString("- ")
			sb.WriteString(g)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Question: ")
	sb.WriteString(question)
	sb.WriteString("\n\nAnswer:")
	return sb.String()
}

// buildContextOnlyPrompt renders the zero-documents fallback prompt.
func (b *promptBuilder) buildContextOnlyPrompt(question string, history []message.HistoryEntry) string {
	var sb strings.Builder
	sb.WriteString("Conversation so far:\n")
	sb.WriteString(b.historyBlock(history))
	sb.WriteString("\nQuestion: ")
	sb.WriteString(question)
	sb.WriteString("\n\nAnswer:")
	return sb.String()
}

// historyBlock formats turns with Human:/Assistant: prefixes.
func (b *promptBuilder) historyBlock(history []message.HistoryEntry) string {
	if len(history) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, turn := range history {
		switch turn.Role {
		case RoleUser:
			sb.WriteString("Human: ")
		case RoleAssistant:
			sb.WriteString("Assistant: ")
		default:
			continue
		}
		sb.WriteString(turn.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}

// contextBlock concatenates retrieved content, first capped by
// character budget, then token-fitted against the model window so long
// documents cannot push the question out of context.
func (b *promptBuilder) contextBlock(docs []retriever.Document) string {
	if len(docs) == 0 {
		return ""
	}

	var sb strings.Builder
	for i, doc := range docs {
		entry := fmt.Sprintf("[%d] %s\n", i+1, doc.Content)
		if sb.Len()+len(entry) > b.maxContextChars {
			remaining := b.maxContextChars - sb.Len()
			if remaining > 0 {
				sb.WriteString(entry[:remaining])
			}
			break
		}
		sb.WriteString(entry)
	}
	block := sb.String()

	if b.counter != nil && b.contextBudget > 0 {
		if b.counter.Count(block) > b.contextBudget {
			block = b.truncateToTokens(block, b.contextBudget)
		}
	}
	return block
}

// truncateToTokens shrinks text until it fits the token budget. Cuts
// happen on line boundaries where possible.
func (b *promptBuilder) truncateToTokens(text string, budget int) string {
	lines := strings.Split(text, "\n")
	for len(lines) > 1 {
		lines = lines[:len(lines)-1]
		candidate := strings.Join(lines, "\n")
		if b.counter.Count(candidate) <= budget {
			return candidate
		}
	}
	// A single oversize line falls back to proportional character cuts.
	for len(text) > 0 && b.counter.Count(text) > budget {
		text = text[:len(text)*3/4]
	}
	return text
}
