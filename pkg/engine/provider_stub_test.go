package engine

import (
	"context"

	"github.com/sipeed/turnhub/pkg/providers"
)

// stubProvider is a scripted providers.LLMProvider for exercising Classify
// without a real backend: each call to Chat consumes the next scripted
// response in order, so stage-2 classification and dimension scoring can
// be controlled independently within one test.
type stubProvider struct {
	responses []string
	calls     int
	err       error
}

func (s *stubProvider) Chat(ctx context.Context, messages []providers.Message, tools []providers.ToolDefinition, model string, options map[string]interface{}) (*providers.LLMResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.calls >= len(s.responses) {
		return &providers.LLMResponse{Content: "{}"}, nil
	}
	content := s.responses[s.calls]
	s.calls++
	return &providers.LLMResponse{Content: content}, nil
}

func (s *stubProvider) GetDefaultModel() string { return "stub-model" }
