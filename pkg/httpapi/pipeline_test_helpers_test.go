package httpapi

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sipeed/turnhub/pkg/approval"
	"github.com/sipeed/turnhub/pkg/ctxstore"
	"github.com/sipeed/turnhub/pkg/dispatch"
	"github.com/sipeed/turnhub/pkg/domain"
	"github.com/sipeed/turnhub/pkg/engine"
	"github.com/sipeed/turnhub/pkg/memory"
	"github.com/sipeed/turnhub/pkg/perrors"
	"github.com/sipeed/turnhub/pkg/prompt"
	"github.com/sipeed/turnhub/pkg/providers"
)

// fakeColdStore is a minimal in-memory ColdStore, mirroring the one in
// pkg/ctxstore's own tests but kept package-local since test files don't
// export across packages.
type fakeColdStore struct {
	mu        sync.Mutex
	envelopes map[string]domain.ContextEnvelope
	appends   map[string][]domain.AppendedResult
	turns     map[string][]domain.Turn
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

// scriptedProvider answers every Chat call with the same canned content,
// enough to drive Classify/generateReply deterministically in tests.
type scriptedProvider struct {
	content string
}

func (s *scriptedProvider) Chat(ctx context.Context, messages []providers.Message, tools []providers.ToolDefinition, model string, options map[string]interface{}) (*providers.LLMResponse, error) {
	return &providers.LLMResponse{Content: s.content}, nil
}

func (s *scriptedProvider) GetDefaultModel() string { return "scripted-model" }

// newTestPipeline builds a fully-wired Pipeline backed by in-memory/fake
// dependencies, for exercising the HTTP handlers without any external
// service.
func newTestPipeline(t *testing.T) (*Pipeline, *fakeColdStore) {
	t.Helper()

	cold := newFakeColdStore()
	cs := ctxstore.New(cold, time.Minute, 16)

	memStore, err := memory.NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	// Dimensions-scoring JSON; general_chat text routes to llm_reply.
	fast := &scriptedProvider{content: `{"emotional_complexity":"low","professional_tone_required":false,"creative_requirement":"none","technical_complexity":"simple","response_length":"short","engagement_level":"conversational","context_dependency":"none","reasoning_type":"logical"}`}
	fluency := &scriptedProvider{content: "a warm reply"}

	eng, err := engine.New(fast, "fast-model", fluency, "fluency-model", 0.5)
	require.NoError(t, err)

	reg := dispatch.NewRegistry(nil)
	reg.Register(domain.IntentGetCurrentWeather,
		func(ctx context.Context, params map[string]interface{}, sessionID, userID string) (map[string]interface{}, error) {
			return map[string]interface{}{"summary": "sunny and 72F"}, nil
		},
		func(r map[string]interface{}) string { return r["summary"].(string) },
		nil, "", 0,
	)

	approvalPipeline := approval.New("", cs)
	promptBuilder := prompt.New(cs, memStore)

	return &Pipeline{
		Engine: eng, Dispatch: reg, Approval: approvalPipeline, ContextStore: cs,
		Memory: memStore, MemoryProc: memory.NewProcessor(memStore, fast, "fast-model"),
		Prompt: promptBuilder, ReplyModel: fast, ReplyModelName: "fast-model",
		FluencyModel: fluency, FluencyModelName: "fluency-model", ApprovalEndpoint: "/approve",
	}, cold
}
