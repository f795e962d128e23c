package metrics

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readEvents(t *testing.T, path string) []TokenEvent {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var events []TokenEvent
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e TokenEvent
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		events = append(events, e)
	}
	return events
}

func TestTracker_RecordAppendsEventWithComputedCost(t *testing.T) {
	workspace := t.TempDir()
	tracker := NewTracker(workspace)

	tracker.Record(TokenEvent{Model: "claude-sonnet-4-5-20250929", InputTokens: 1000, OutputTokens: 1000, Role: "fast_structured"})

	events := readEvents(t, filepath.Join(workspace, "metrics", "tokens.jsonl"))
	require.Len(t, events, 1)
	assert.Equal(t, "fast_structured", events[0].Role)
	assert.InDelta(t, 0.003+0.015, events[0].CostUSD, 1e-9)
	assert.NotEmpty(t, events[0].Timestamp)
}

func TestTracker_RecordUnknownModelUsesDefaultPricing(t *testing.T) {
	workspace := t.TempDir()
	tracker := NewTracker(workspace)

	tracker.Record(TokenEvent{Model: "some-unlisted-model", InputTokens: 1_000_000, OutputTokens: 0})

	events := readEvents(t, filepath.Join(workspace, "metrics", "tokens.jsonl"))
	require.Len(t, events, 1)
	assert.InDelta(t, 3.0, events[0].CostUSD, 1e-9)
}

func TestTracker_RecordAppendsMultipleEvents(t *testing.T) {
	workspace := t.TempDir()
	tracker := NewTracker(workspace)

	tracker.Record(TokenEvent{Model: "claude-haiku-3-5-20241022", InputTokens: 10, OutputTokens: 10})
	tracker.Record(TokenEvent{Model: "claude-haiku-3-5-20241022", InputTokens: 20, OutputTokens: 20})

	events := readEvents(t, filepath.Join(workspace, "metrics", "tokens.jsonl"))
	assert.Len(t, events, 2)
}
