package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sipeed/turnhub/pkg/domain"
)

func echoAdapter(payload map[string]interface{}, err error) Adapter {
	return func(ctx context.Context, params map[string]interface{}, sessionID, userID string) (map[string]interface{}, error) {
		return payload, err
	}
}

func TestDispatch_NoAdapterRegistered(t *testing.T) {
	reg := NewRegistry(nil)
	result := Dispatch(context.Background(), reg, domain.IntentDecision{IntentTag: domain.IntentGetCurrentWeather}, "s1", "u1", nil)
	assert.False(t, result.OK)
	assert.Equal(t, "I can't do that yet.", result.ReplyText)
}

func TestDispatch_Success(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(domain.IntentGetCurrentWeather, echoAdapter(map[string]interface{}{"summary": "sunny, 72F"}, nil),
		func(r map[string]interface{}) string { return r["summary"].(string) }, nil, "", 0)

	result := Dispatch(context.Background(), reg, domain.IntentDecision{IntentTag: domain.IntentGetCurrentWeather}, "s1", "u1", nil)
	assert.True(t, result.OK)
	assert.Equal(t, "sunny, 72F", result.ReplyText)
	assert.Equal(t, map[string]interface{}{"summary": "sunny, 72F"}, result.ResultPayload)
}

func TestDispatch_AdapterError(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(domain.IntentWebSearch, echoAdapter(nil, errors.New("boom")),
		nil, func(r map[string]interface{}) string { return "search failed: " + r["error"].(string) }, "", 0)

	result := Dispatch(context.Background(), reg, domain.IntentDecision{IntentTag: domain.IntentWebSearch}, "s1", "u1", nil)
	assert.False(t, result.OK)
	assert.Equal(t, "search failed: boom", result.ReplyText)
}

func TestDispatch_RequiresAuth(t *testing.T) {
	reg := NewRegistry(func(sessionID, service string) bool { return false })
	reg.Register(domain.IntentCheckGmailInbox, echoAdapter(map[string]interface{}{}, nil), nil, nil, "gmail", 0)

	result := Dispatch(context.Background(), reg, domain.IntentDecision{IntentTag: domain.IntentCheckGmailInbox}, "s1", "u1", nil)
	assert.False(t, result.OK)
	assert.True(t, result.RequiresAuth)
	assert.Contains(t, result.ReplyText, "gmail")
}

func TestDispatch_AuthPassesThrough(t *testing.T) {
	reg := NewRegistry(func(sessionID, service string) bool { return true })
	reg.Register(domain.IntentCheckGmailInbox, echoAdapter(map[string]interface{}{"summary": "3 new"}, nil),
		func(r map[string]interface{}) string { return r["summary"].(string) }, nil, "gmail", 0)

	result := Dispatch(context.Background(), reg, domain.IntentDecision{IntentTag: domain.IntentCheckGmailInbox}, "s1", "u1", nil)
	assert.True(t, result.OK)
	assert.Equal(t, "3 new", result.ReplyText)
}

func TestDispatch_PendingPreambleNotifiesBeforeAdapter(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(domain.IntentWebSearch, echoAdapter(map[string]interface{}{"results": []interface{}{}}, nil), nil, nil, "", 0)
	reg.WithPreamble(domain.IntentWebSearch, "Searching the web...")

	var notified string
	notify := func(text string) { notified = text }

	Dispatch(context.Background(), reg, domain.IntentDecision{IntentTag: domain.IntentWebSearch}, "s1", "u1", notify)
	assert.Equal(t, "Searching the web...", notified)
}

func TestDispatch_RespectsDeadline(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(domain.IntentWebSearch, func(ctx context.Context, params map[string]interface{}, sessionID, userID string) (map[string]interface{}, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(200 * time.Millisecond):
			return map[string]interface{}{}, nil
		}
	}, nil, func(r map[string]interface{}) string { return "timed out" }, "", 10*time.Millisecond)

	result := Dispatch(context.Background(), reg, domain.IntentDecision{IntentTag: domain.IntentWebSearch}, "s1", "u1", nil)
	assert.False(t, result.OK)
	assert.Equal(t, "timed out", result.ReplyText)
}

func TestRegistry_WithPreamble_UnknownTagIsNoop(t *testing.T) {
	reg := NewRegistry(nil)
	require.NotPanics(t, func() {
		reg.WithPreamble(domain.IntentGetCurrentWeather, "never shown")
	})
}
