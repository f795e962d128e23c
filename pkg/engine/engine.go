package engine

import (
	"context"
	"sync"
	"time"

	"github.com/sipeed/turnhub/pkg/domain"
	"github.com/sipeed/turnhub/pkg/logger"
	"github.com/sipeed/turnhub/pkg/metrics"
	"github.com/sipeed/turnhub/pkg/perrors"
	"github.com/sipeed/turnhub/pkg/providers"
)

const historyWindow = 10

// Engine is the Intent & Routing Engine: two-stage
// classification plus routing-lane derivation.
type Engine struct {
	fastProvider    providers.LLMProvider
	fastModel       string
	fluencyProvider providers.LLMProvider
	fluencyModel    string
	rules           *RuleTable
	minConfidence   float64

	historyMu sync.Mutex
	history   map[string][]domain.IntentDecision // per-session, advisory only
}

// New builds an Engine. fastProvider backs stage 1/2 classification;
// fluencyProvider is exposed for callers that need the sequential rewrite
// path.
func New(fastProvider providers.LLMProvider, fastModel string, fluencyProvider providers.LLMProvider, fluencyModel string, minConfidence float64) (*Engine, error) {
	rules, err := NewRuleTable()
	if err != nil {
		return nil, err
	}
	return &Engine{
		fastProvider:    fastProvider,
		fastModel:       fastModel,
		fluencyProvider: fluencyProvider,
		fluencyModel:    fluencyModel,
		rules:           rules,
		minConfidence:   minConfidence,
		history:         make(map[string][]domain.IntentDecision),
	}, nil
}

// Classify produces an IntentDecision for a turn. It never
// returns perrors.ErrClassifierUnavailable to a caller that doesn't want
// it — the zero-value fallback decision is attempted internally first;
// ErrClassifierUnavailable is only returned when even the stage-1 pattern
// table and a general_chat fallback could not be formed, which in
// practice cannot happen.
func (e *Engine) Classify(ctx context.Context, turn domain.Turn, recentContext, memorySummary string) (domain.IntentDecision, error) {
	if turn.SessionID == "" || turn.UserText == "" {
		return domain.IntentDecision{}, perrors.ErrInvalidRequest
	}

	start := time.Now()
	stage := "stage1"
	tag, confidence, params, stage1Matched := e.stage1(turn.UserText)
	if !stage1Matched {
		stage = "stage2"
		var err error
		tag, params, confidence, err = classifyRemote(ctx, e.fastProvider, e.fastModel, contextualize(turn.UserText, recentContext, memorySummary))
		if err != nil {
			logger.WarnCF("engine", "classifier unavailable, defaulting to general_chat", map[string]interface{}{"error": err.Error()})
			tag, confidence, params = domain.IntentGeneralChat, 0.5, map[string]interface{}{}
		}
	} else {
		// Stage 1 only ever decides the tag; the remote classifier is still
		// consulted to enrich Parameters, never to override the tag.
		params = extractSlots(ctx, e.fastProvider, e.fastModel, tag, turn.UserText)
	}
	metrics.ObserveClassification(stage, time.Since(start))

	dims := scoreDimensions(ctx, e.fastProvider, e.fastModel, tag, turn.UserText)
	dims = e.biasContextDependency(turn.SessionID, tag, dims)

	lane, err := e.rules.Evaluate(tag, dims)
	if err != nil {
		logger.WarnCF("engine", "rule evaluation failed, defaulting to llm_reply", map[string]interface{}{"error": err.Error()})
		lane = domain.LaneLLMReply
	}

	decision := domain.IntentDecision{
		IntentTag:   tag,
		Parameters:  params,
		Confidence:  confidence,
		RoutingLane: lane,
		Explanation: explain(tag, lane, stage1Matched),
		Dimensions:  dims,
	}

	e.recordHistory(turn.SessionID, decision)
	return decision, nil
}

func (e *Engine) stage1(text string) (domain.IntentTag, float64, map[string]interface{}, bool) {
	tag, conf, ok := matchStage1(text)
	if !ok {
		return "", 0, nil, false
	}
	return tag, conf, map[string]interface{}{}, true
}

func explain(tag domain.IntentTag, lane domain.RoutingLane, stage1 bool) string {
	source := "stage-2 remote classifier"
	if stage1 {
		source = "stage-1 pattern table"
	}
	return "matched " + string(tag) + " via " + source + ", routed " + string(lane)
}

// contextualize prepends recent context and memory summary to the raw
// text sent to the remote classifier, bounded to keep the stage-1 miss
// path's prompt small.
func contextualize(text, recentContext, memorySummary string) string {
	out := text
	if recentContext != "" {
		out = "Context:\n" + recentContext + "\n\nMessage: " + text
	}
	if memorySummary != "" {
		out = memorySummary + "\n\n" + out
	}
	return out
}

// recordHistory appends to the per-session rolling window; races under
// concurrent writes are accepted as advisory-only.
func (e *Engine) recordHistory(sessionID string, d domain.IntentDecision) {
	e.historyMu.Lock()
	defer e.historyMu.Unlock()
	h := append(e.history[sessionID], d)
	if len(h) > historyWindow {
		h = h[len(h)-historyWindow:]
	}
	e.history[sessionID] = h
}

// biasContextDependency upgrades context_dependency when recent decisions
// share the same intent tag, using the rolling-history signal.
func (e *Engine) biasContextDependency(sessionID string, tag domain.IntentTag, dims domain.Dimensions) domain.Dimensions {
	e.historyMu.Lock()
	h := e.history[sessionID]
	e.historyMu.Unlock()

	if dims.ContextDependency != "none" {
		return dims
	}
	for _, prev := range h {
		if prev.IntentTag == tag {
			dims.ContextDependency = "session"
			break
		}
	}
	return dims
}

// History returns the session's rolling classification history, most
// recent last. Exposed for diagnostics; not part of the public contract.
func (e *Engine) History(sessionID string) []domain.IntentDecision {
	e.historyMu.Lock()
	defer e.historyMu.Unlock()
	out := make([]domain.IntentDecision, len(e.history[sessionID]))
	copy(out, e.history[sessionID])
	return out
}
