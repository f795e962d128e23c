package providers

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sipeed/turnhub/pkg/metrics"
)

type scriptedProvider struct {
	resp      *LLMResponse
	err       error
	streamErr error
	streamed  string
}

func (s *scriptedProvider) Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}) (*LLMResponse, error) {
	return s.resp, s.err
}

func (s *scriptedProvider) GetDefaultModel() string { return "scripted-model" }

type streamingScriptedProvider struct {
	scriptedProvider
}

func (s *streamingScriptedProvider) ChatStream(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}, onContent StreamCallback) (*LLMResponse, error) {
	if onContent != nil {
		onContent(s.streamed)
	}
	return s.resp, s.streamErr
}

func countJSONLLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return 0
	}
	require.NoError(t, err)
	defer f.Close()
	scanner := bufio.NewScanner(f)
	n := 0
	for scanner.Scan() {
		if scanner.Text() != "" {
			n++
		}
	}
	return n
}

func TestTrackingProvider_Chat_RecordsUsage(t *testing.T) {
	workspace := t.TempDir()
	tracker := metrics.NewTracker(workspace)
	inner := &scriptedProvider{resp: &LLMResponse{Content: "hi", Usage: &UsageInfo{PromptTokens: 10, CompletionTokens: 5}}}
	tp := NewTrackingProvider(inner, tracker, "fast_structured")

	resp, err := tp.Chat(context.Background(), nil, nil, "some-model", nil)
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Content)

	assert.Equal(t, 1, countJSONLLines(t, filepath.Join(workspace, "metrics", "tokens.jsonl")))
}

func TestTrackingProvider_Chat_NoUsageSkipsRecord(t *testing.T) {
	workspace := t.TempDir()
	tracker := metrics.NewTracker(workspace)
	inner := &scriptedProvider{resp: &LLMResponse{Content: "hi"}}
	tp := NewTrackingProvider(inner, tracker, "fast_structured")

	_, err := tp.Chat(context.Background(), nil, nil, "some-model", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, countJSONLLines(t, filepath.Join(workspace, "metrics", "tokens.jsonl")))
}

func TestTrackingProvider_ChatStream_FallsBackWhenInnerNotStreaming(t *testing.T) {
	workspace := t.TempDir()
	tracker := metrics.NewTracker(workspace)
	inner := &scriptedProvider{resp: &LLMResponse{Content: "fallback content", Usage: &UsageInfo{PromptTokens: 1, CompletionTokens: 1}}}
	tp := NewTrackingProvider(inner, tracker, "high_fluency")

	var got string
	resp, err := tp.ChatStream(context.Background(), nil, nil, "m", nil, func(chunk string) { got = chunk })
	require.NoError(t, err)
	assert.Equal(t, "fallback content", got)
	assert.Equal(t, "fallback content", resp.Content)
	assert.Equal(t, 1, countJSONLLines(t, filepath.Join(workspace, "metrics", "tokens.jsonl")))
}

func TestTrackingProvider_ChatStream_UsesInnerStreaming(t *testing.T) {
	workspace := t.TempDir()
	tracker := metrics.NewTracker(workspace)
	inner := &streamingScriptedProvider{scriptedProvider{resp: &LLMResponse{Content: "streamed", Usage: &UsageInfo{PromptTokens: 2, CompletionTokens: 2}}}}
	inner.streamed = "chunk-1"
	tp := NewTrackingProvider(inner, tracker, "fast_structured")

	var got string
	resp, err := tp.ChatStream(context.Background(), nil, nil, "m", nil, func(chunk string) { got = chunk })
	require.NoError(t, err)
	assert.Equal(t, "chunk-1", got)
	assert.Equal(t, "streamed", resp.Content)
	assert.Equal(t, 1, countJSONLLines(t, filepath.Join(workspace, "metrics", "tokens.jsonl")))
}

func TestTrackingProvider_GetDefaultModel(t *testing.T) {
	inner := &scriptedProvider{}
	tp := NewTrackingProvider(inner, nil, "fast_structured")
	assert.Equal(t, "scripted-model", tp.GetDefaultModel())
}
