package main

import (
	"fmt"

	"github.com/philippgille/chromem-go"

	"github.com/sipeed/turnhub/pkg/approval"
	"github.com/sipeed/turnhub/pkg/config"
	"github.com/sipeed/turnhub/pkg/ctxstore"
	"github.com/sipeed/turnhub/pkg/dispatch"
	"github.com/sipeed/turnhub/pkg/engine"
	"github.com/sipeed/turnhub/pkg/httpapi"
	"github.com/sipeed/turnhub/pkg/logger"
	"github.com/sipeed/turnhub/pkg/memory"
	"github.com/sipeed/turnhub/pkg/metrics"
	"github.com/sipeed/turnhub/pkg/prompt"
	"github.com/sipeed/turnhub/pkg/providers"
	"github.com/sipeed/turnhub/pkg/tools"
)

// buildProvider resolves one of the two configured role providers
// ("anthropic" or "openai") into a concrete client, per
// cfg.Providers.FastStructured / cfg.Providers.HighFluency.
func buildProvider(cfg *config.Config, which string) (providers.LLMProvider, string, error) {
	switch which {
	case "anthropic":
		if cfg.Providers.Anthropic.APIKey == "" {
			return nil, "", fmt.Errorf("wiring: anthropic selected but no api key configured")
		}
		return providers.NewClaudeProvider(cfg.Providers.Anthropic.APIKey), cfg.Providers.Anthropic.Model, nil
	case "openai":
		if cfg.Providers.OpenAI.APIKey == "" {
			return nil, "", fmt.Errorf("wiring: openai selected but no api key configured")
		}
		return providers.NewOpenAIProvider(cfg.Providers.OpenAI.APIKey, cfg.Providers.OpenAI.APIBase), cfg.Providers.OpenAI.Model, nil
	case "":
		return nil, "", nil
	default:
		return nil, "", fmt.Errorf("wiring: unknown provider role %q", which)
	}
}

// buildFallbackProvider resolves the primary backend for gatewayRole
// ("fast_structured" or "high_fluency") and, when the other backend is
// also configured, wraps it in a FallbackProvider so a primary outage
// degrades to the secondary instead of failing the turn.
func buildFallbackProvider(cfg *config.Config, gatewayRole, backend string) (providers.LLMProvider, string, error) {
	primary, model, err := buildProvider(cfg, backend)
	if err != nil || primary == nil {
		return primary, model, err
	}

	secondaryBackend := "openai"
	if backend == "openai" {
		secondaryBackend = "anthropic"
	}
	secondary, secondaryModel, err := buildProvider(cfg, secondaryBackend)
	if err != nil || secondary == nil {
		return primary, model, nil
	}
	return providers.NewFallbackProvider(gatewayRole, primary, secondary, model, secondaryModel), model, nil
}

func buildColdStore(cfg *config.Config) (ctxstore.ColdStore, error) {
	return ctxstore.NewSQLColdStore(cfg.Store.Cold.Driver, cfg.Store.Cold.DSN)
}

func buildEmbeddingFunc(cfg *config.Config) chromem.EmbeddingFunc {
	if !cfg.Memory.EmbeddingEnabled || cfg.Providers.OpenAI.APIKey == "" {
		return nil
	}
	model := cfg.Memory.EmbeddingModel
	if model == "" {
		model = "text-embedding-3-small"
	}
	return chromem.NewEmbeddingFuncOpenAI(cfg.Providers.OpenAI.APIKey, chromem.EmbeddingModel(model))
}

// buildPipeline assembles every module per the process configuration:
// Context Store -> Semantic Memory -> Intent Engine -> Dispatcher ->
// Approval Pipeline -> Prompt Builder -> Pipeline orchestrator.
func buildPipeline(cfg *config.Config) (*httpapi.Pipeline, func() error, error) {
	cold, err := buildColdStore(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("wiring: cold store: %w", err)
	}
	cs := ctxstore.New(cold, cfg.Store.WarmTTL, cfg.Store.HotSize)

	embeddingFn := buildEmbeddingFunc(cfg)
	var vectors *memory.VectorStore
	if embeddingFn != nil {
		vectors, err = memory.NewVectorStore(cfg.Memory.DataDir, embeddingFn)
		if err != nil {
			logger.WarnCF("wiring", "vector store disabled", map[string]interface{}{"error": err.Error()})
		}
	}
	memStore, err := memory.NewStore(cfg.Memory.DataDir, vectors)
	if err != nil {
		return nil, nil, fmt.Errorf("wiring: memory store: %w", err)
	}

	fastProvider, fastModel, err := buildFallbackProvider(cfg, "fast_structured", cfg.Providers.FastStructured)
	if err != nil {
		return nil, nil, fmt.Errorf("wiring: fast-structured provider: %w", err)
	}
	fluencyProvider, fluencyModel, err := buildFallbackProvider(cfg, "high_fluency", cfg.Providers.HighFluency)
	if err != nil {
		return nil, nil, fmt.Errorf("wiring: high-fluency provider: %w", err)
	}
	if fastProvider == nil {
		return nil, nil, fmt.Errorf("wiring: providers.fast_structured must be configured")
	}

	tracker := metrics.NewTracker(cfg.WorkspacePath())
	fastProvider = providers.NewTrackingProvider(fastProvider, tracker, "fast_structured")
	if fluencyProvider != nil {
		fluencyProvider = providers.NewTrackingProvider(fluencyProvider, tracker, "high_fluency")
	}

	eng, err := engine.New(fastProvider, fastModel, fluencyProvider, fluencyModel, cfg.Engine.MinConfidence)
	if err != nil {
		return nil, nil, fmt.Errorf("wiring: intent engine: %w", err)
	}

	memProc := memory.NewProcessor(memStore, fastProvider, fastModel)

	var email *tools.EmailTool
	if cfg.Tools.Email.Enabled {
		email = tools.NewEmailTool(tools.EmailToolOptions{EmailAddress: cfg.Tools.Email.Address, ScriptPath: cfg.Tools.Email.ScriptPath})
	}
	// Delegated OAuth connection flows are out of scope; a configured
	// mailbox is treated as already connected for every session.
	authChecker := func(sessionID, service string) bool {
		if service == "gmail" {
			return cfg.Tools.Email.Enabled
		}
		return true
	}
	registry := dispatch.Build(cfg, email, authChecker)

	approvalPipeline := approval.New(cfg.Approval.WebhookURL, cs)
	promptBuilder := prompt.New(cs, memStore)

	pipeline := &httpapi.Pipeline{
		Engine: eng, Dispatch: registry, Approval: approvalPipeline,
		ContextStore: cs, Memory: memStore, MemoryProc: memProc, Prompt: promptBuilder,
		ReplyModel: fastProvider, ReplyModelName: fastModel,
		FluencyModel: fluencyProvider, FluencyModelName: fluencyModel,
		ApprovalEndpoint: "/approve",
	}

	closer := func() error { return cs.Close() }
	return pipeline, closer, nil
}

func buildHTTPServer(cfg *config.Config, pipeline *httpapi.Pipeline) *httpapi.Server {
	return httpapi.NewServer(pipeline, cfg.WhatsApp.SharedToken, cfg.WhatsApp.ValidationID, cfg.HTTP.BearerToken, pipeline.ContextStore)
}
