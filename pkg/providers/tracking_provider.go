package providers

import (
	"context"

	"github.com/sipeed/turnhub/pkg/metrics"
)

// TrackingProvider wraps another LLMProvider and records every call's
// token usage through a metrics.Tracker, the same decorator shape
// FallbackProvider uses to wrap a primary behind a secondary.
type TrackingProvider struct {
	inner   LLMProvider
	tracker *metrics.Tracker
	role    string // "fast_structured" | "high_fluency", recorded as the event's role label
}

// NewTrackingProvider wraps inner so every Chat call's usage is appended
// to tracker's JSONL ledger under the given role label.
func NewTrackingProvider(inner LLMProvider, tracker *metrics.Tracker, role string) *TrackingProvider {
	return &TrackingProvider{inner: inner, tracker: tracker, role: role}
}

func (t *TrackingProvider) Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}) (*LLMResponse, error) {
	resp, err := t.inner.Chat(ctx, messages, tools, model, options)
	if resp != nil && resp.Usage != nil && t.tracker != nil {
		t.tracker.Record(metrics.TokenEvent{
			Model:        model,
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			Role:         t.role,
		})
	}
	return resp, err
}

func (t *TrackingProvider) GetDefaultModel() string { return t.inner.GetDefaultModel() }

// ChatStream passes through to the wrapped provider when it supports
// streaming, recording usage from the final aggregated response the same
// way Chat does.
func (t *TrackingProvider) ChatStream(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}, onContent StreamCallback) (*LLMResponse, error) {
	sp, ok := t.inner.(StreamingProvider)
	if !ok {
		resp, err := t.Chat(ctx, messages, tools, model, options)
		if err == nil && onContent != nil {
			onContent(resp.Content)
		}
		return resp, err
	}
	resp, err := sp.ChatStream(ctx, messages, tools, model, options, onContent)
	if resp != nil && resp.Usage != nil && t.tracker != nil {
		t.tracker.Record(metrics.TokenEvent{Model: model, InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens, Role: t.role})
	}
	return resp, err
}
