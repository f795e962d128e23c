// Package prompt assembles the system prompt handed to the "high-fluency"
// provider for the llm_reply lane: an identity block, the recent
// context-store summary, and the semantic-memory personal-context block,
// joined into sections.
package prompt

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sipeed/turnhub/pkg/providers"
)

const identityTemplate = `You are a helpful conversational assistant reachable over chat and WhatsApp.
Current time: %s.
Be concise, warm, and direct. Never mention internal tool names, providers,
or infrastructure to the user. If you don't know something, say so plainly.`

// ContextProvider supplies the compact Markdown context summary for a
// session (implemented by *ctxstore.Store).
type ContextProvider interface {
	GetContextForPrompt(ctx context.Context, sessionID string) (string, error)
}

// MemoryProvider supplies the semantic-memory personal-context preamble
// (implemented by *memory.Store).
type MemoryProvider interface {
	ContextForAI() string
}

// Builder assembles system + history + current turn into the Message
// slice a provider's Chat call expects.
type Builder struct {
	ctxStore ContextProvider
	memory   MemoryProvider
}

// New wires the builder to its two context sources. Either may be nil, in
// which case that section is simply omitted.
func New(ctxStore ContextProvider, memoryStore MemoryProvider) *Builder {
	return &Builder{ctxStore: ctxStore, memory: memoryStore}
}

// BuildSystemPrompt joins the identity block, session context, and
// personal-memory context with a "\n\n---\n\n" separator.
func (b *Builder) BuildSystemPrompt(ctx context.Context, sessionID string) string {
	sections := []string{fmt.Sprintf(identityTemplate, time.Now().Format(time.RFC1123))}

	if b.ctxStore != nil {
		if summary, err := b.ctxStore.GetContextForPrompt(ctx, sessionID); err == nil && summary != "" {
			sections = append(sections, summary)
		}
	}

	if b.memory != nil {
		if mem := b.memory.ContextForAI(); mem != "" {
			sections = append(sections, mem)
		}
	}

	return strings.Join(sections, "\n\n---\n\n")
}

// BuildMessages produces the full message list for one llm_reply turn.
func (b *Builder) BuildMessages(ctx context.Context, sessionID, userText string) []providers.Message {
	return []providers.Message{
		{Role: "system", Content: b.BuildSystemPrompt(ctx, sessionID)},
		{Role: "user", Content: userText},
	}
}
