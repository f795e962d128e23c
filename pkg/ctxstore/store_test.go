package ctxstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sipeed/turnhub/pkg/domain"
	"github.com/sipeed/turnhub/pkg/perrors"
)

// fakeColdStore is an in-memory ColdStore for exercising Store's tiering
// logic without a real database backend.
type fakeColdStore struct {
	mu        sync.Mutex
	envelopes map[string]domain.ContextEnvelope
	appends   map[string][]domain.AppendedResult
	turns     map[string][]domain.Turn
	reads     int
}

func newFakeColdStore() *fakeColdStore {
	return &fakeColdStore{
		envelopes: make(map[string]domain.ContextEnvelope),
		appends:   make(map[string][]domain.AppendedResult),
		turns:     make(map[string][]domain.Turn),
	}
}

func (f *fakeColdStore) WriteEnvelope(ctx context.Context, env domain.ContextEnvelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.envelopes[env.SessionID] = env
	return nil
}

func (f *fakeColdStore) ReadEnvelope(ctx context.Context, sessionID string) (*domain.ContextEnvelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	env, ok := f.envelopes[sessionID]
	if !ok {
		return nil, perrors.ErrNotFound
	}
	return &env, nil
}

func (f *fakeColdStore) AppendResult(ctx context.Context, result domain.AppendedResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appends[result.SessionID] = append(f.appends[result.SessionID], result)
	return nil
}

func (f *fakeColdStore) ReadAppends(ctx context.Context, sessionID string, limit, offset int) ([]domain.AppendedResult, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.appends[sessionID]
	return all, len(all), nil
}

func (f *fakeColdStore) DeleteSession(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.envelopes, sessionID)
	delete(f.appends, sessionID)
	return nil
}

func (f *fakeColdStore) WriteTurn(ctx context.Context, turn domain.Turn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns[turn.SessionID] = append(f.turns[turn.SessionID], turn)
	return nil
}

func (f *fakeColdStore) ReadTurns(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.turns[sessionID], nil
}

func (f *fakeColdStore) DeleteTurns(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.turns, sessionID)
	return nil
}

func (f *fakeColdStore) Close() error { return nil }

func TestWriteAndReadContext_HotHit(t *testing.T) {
	cold := newFakeColdStore()
	s := New(cold, time.Minute, 16)
	env := domain.ContextEnvelope{SessionID: "s1", Payload: map[string]interface{}{"k": "v"}}

	require.NoError(t, s.WriteContext(context.Background(), env))

	result, err := s.ReadContext(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", result.Envelope.SessionID)
}

func TestReadContext_ColdMissReturnsNotFound(t *testing.T) {
	cold := newFakeColdStore()
	s := New(cold, time.Minute, 16)

	_, err := s.ReadContext(context.Background(), "missing")
	assert.ErrorIs(t, err, perrors.ErrNotFound)
}

func TestReadContext_ColdReadsAreDeduplicated(t *testing.T) {
	cold := newFakeColdStore()
	cold.envelopes["s1"] = domain.ContextEnvelope{SessionID: "s1"}
	s := New(cold, time.Minute, 16)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.ReadContext(context.Background(), "s1")
		}()
	}
	wg.Wait()

	// singleflight should collapse concurrent misses on the same key into
	// far fewer cold reads than the number of callers.
	cold.mu.Lock()
	reads := cold.reads
	cold.mu.Unlock()
	assert.Less(t, reads, 20)
}

func TestTrimChatHistory_DropsOldestEntriesOverCap(t *testing.T) {
	cold := newFakeColdStore()
	s := New(cold, time.Minute, 16)

	hist := make([]interface{}, 0, maxPayloadChatHistory+10)
	for i := 0; i < maxPayloadChatHistory+10; i++ {
		hist = append(hist, map[string]interface{}{"i": i})
	}
	env := domain.ContextEnvelope{SessionID: "s1", Payload: map[string]interface{}{"chat_history": hist}}
	require.NoError(t, s.WriteContext(context.Background(), env))

	stored := cold.envelopes["s1"]
	trimmed := stored.Payload["chat_history"].([]interface{})
	assert.Len(t, trimmed, maxPayloadChatHistory)
	last := trimmed[len(trimmed)-1].(map[string]interface{})
	assert.Equal(t, maxPayloadChatHistory+9, last["i"])
}

func TestDeleteContext_ClearsAllTiers(t *testing.T) {
	cold := newFakeColdStore()
	s := New(cold, time.Minute, 16)
	require.NoError(t, s.WriteContext(context.Background(), domain.ContextEnvelope{SessionID: "s1"}))

	require.NoError(t, s.DeleteContext(context.Background(), "s1"))

	_, err := s.ReadContext(context.Background(), "s1")
	assert.ErrorIs(t, err, perrors.ErrNotFound)
}

func TestWriteTurnAndReadTurns(t *testing.T) {
	cold := newFakeColdStore()
	s := New(cold, time.Minute, 16)

	require.NoError(t, s.WriteTurn(context.Background(), domain.Turn{ID: "t1", SessionID: "s1", UserText: "hi"}))
	turns, err := s.ReadTurns(context.Background(), "s1")
	require.NoError(t, err)
	assert.Len(t, turns, 1)
	assert.Equal(t, "hi", turns[0].UserText)
}

func TestReadTurns_EmptyReturnsNotFound(t *testing.T) {
	cold := newFakeColdStore()
	s := New(cold, time.Minute, 16)

	_, err := s.ReadTurns(context.Background(), "missing")
	assert.ErrorIs(t, err, perrors.ErrNotFound)
}

func TestGetContextForPrompt_FormatsRecentHistoryAndAppends(t *testing.T) {
	cold := newFakeColdStore()
	s := New(cold, time.Minute, 16)

	env := domain.ContextEnvelope{
		SessionID: "s1",
		IntentTag: domain.IntentGeneralChat,
		Payload: map[string]interface{}{
			"chat_history": []interface{}{
				map[string]interface{}{"user_text": "hi", "ai_text": "hello"},
			},
		},
	}
	require.NoError(t, s.WriteContext(context.Background(), env))
	require.NoError(t, s.AppendContext(context.Background(), domain.AppendedResult{
		SessionID: "s1", Source: "engine", Output: map[string]interface{}{"note": "classified"},
	}))

	summary, err := s.GetContextForPrompt(context.Background(), "s1")
	require.NoError(t, err)
	assert.Contains(t, summary, "hi")
	assert.Contains(t, summary, "hello")
	assert.Contains(t, summary, "general_chat")
	assert.Contains(t, summary, "classified")
}

func TestGetContextForPrompt_NotFoundReturnsEmptyString(t *testing.T) {
	cold := newFakeColdStore()
	s := New(cold, time.Minute, 16)

	summary, err := s.GetContextForPrompt(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, summary)
}
