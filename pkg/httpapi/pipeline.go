// Package httpapi assembles the Intent & Routing Engine, the
// Direct-Automation Dispatcher, the Approval-Gated Action Pipeline, the
// Multi-Tier Context Store, and the Semantic Memory Layer into one
// pipeline, and exposes it over the web client's HTTP API and the
// WhatsApp bridge.
package httpapi

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sipeed/turnhub/pkg/approval"
	"github.com/sipeed/turnhub/pkg/bus"
	"github.com/sipeed/turnhub/pkg/ctxstore"
	"github.com/sipeed/turnhub/pkg/dispatch"
	"github.com/sipeed/turnhub/pkg/domain"
	"github.com/sipeed/turnhub/pkg/engine"
	"github.com/sipeed/turnhub/pkg/logger"
	"github.com/sipeed/turnhub/pkg/memory"
	"github.com/sipeed/turnhub/pkg/prompt"
	"github.com/sipeed/turnhub/pkg/providers"
)

// Pipeline wires every module into the single entry point used by both
// /chat and the WhatsApp bridge.
type Pipeline struct {
	Engine      *engine.Engine
	Dispatch    *dispatch.Registry
	Approval    *approval.Pipeline
	ContextStore *ctxstore.Store
	Memory      *memory.Store
	MemoryProc  *memory.Processor
	Prompt      *prompt.Builder
	ReplyModel  providers.LLMProvider
	ReplyModelName string
	FluencyModel providers.LLMProvider
	FluencyModelName string
	ApprovalEndpoint string
}

// TurnResult is the canonical output of one processed turn, independent
// of which channel requested it.
type TurnResult struct {
	TurnID        string
	Reply         string
	Intent        domain.IntentTag
	NeedsApproval bool
	IntentData    map[string]interface{}
}

// HandleTurn runs the full pipeline for one inbound message:
// pending-approval confirmation/rejection check, memory processing
// short-circuit, intent classification, lane-specific handling, and
// persistence.
func (p *Pipeline) HandleTurn(ctx context.Context, sessionID, userID, text string) (TurnResult, error) {
	if pending := p.Approval.Pending(sessionID); pending != nil {
		if approval.IsConfirmation(text) {
			result, err := p.Approval.Confirm(ctx, sessionID, userID)
			if err != nil {
				return TurnResult{}, err
			}
			return p.finish(ctx, sessionID, userID, text, result.Message, pending.IntentTag, false, nil)
		}
		if approval.IsRejection(text) {
			p.Approval.Reject(sessionID)
			return p.finish(ctx, sessionID, userID, text, "Okay, cancelled.", pending.IntentTag, false, nil)
		}
		// Neither a confirmation nor a rejection: fall through to a fresh
		// classification per the state diagram ("new approval_gated turn").
	}

	if decision := p.MemoryProc.Process(ctx, text, sessionID); decision.Action != "none" {
		return p.finish(ctx, sessionID, userID, text, decision.Reply, domain.IntentMemoryOperation, false, nil)
	}

	recent, _ := p.ContextStore.GetContextForPrompt(ctx, sessionID)
	memSummary := p.Memory.ContextForAI()

	decision, err := p.Engine.Classify(ctx, domain.Turn{SessionID: sessionID, UserID: userID, UserText: text}, recent, memSummary)
	if err != nil {
		return TurnResult{}, err
	}

	switch decision.RoutingLane {
	case domain.LaneDirectAuto:
		result := dispatch.Dispatch(ctx, p.Dispatch, decision, sessionID, userID, nil)
		return p.finish(ctx, sessionID, userID, text, result.ReplyText, decision.IntentTag, false, result.ResultPayload)

	case domain.LaneApprovalGated:
		preview := p.Approval.Enter(sessionID, decision)
		return p.finish(ctx, sessionID, userID, text, preview.PreviewText, decision.IntentTag, true, preview.Action.Fields)

	default:
		reply, err := p.generateReply(ctx, sessionID, text, decision)
		if err != nil {
			return TurnResult{}, err
		}
		return p.finish(ctx, sessionID, userID, text, reply, decision.IntentTag, false, nil)
	}
}

// StreamReply answers one llm_reply-lane turn with incremental chunks
// delivered through onDelta, throttled via bus.StreamNotifier so a fast
// token stream doesn't flood the channel. Non-llm_reply lanes and the
// sequential-rewrite path fall back to a single flush once the full reply
// is ready, since neither streams incrementally.
func (p *Pipeline) StreamReply(ctx context.Context, sessionID, userID, text string, onDelta func(string)) (TurnResult, error) {
	recent, _ := p.ContextStore.GetContextForPrompt(ctx, sessionID)
	memSummary := p.Memory.ContextForAI()

	decision, err := p.Engine.Classify(ctx, domain.Turn{SessionID: sessionID, UserID: userID, UserText: text}, recent, memSummary)
	if err != nil {
		return TurnResult{}, err
	}

	if decision.RoutingLane != domain.LaneLLMReply || engine.NeedsSequentialRewrite(decision.Dimensions) {
		reply, err := p.generateReply(ctx, sessionID, text, decision)
		if err != nil {
			return TurnResult{}, err
		}
		onDelta(reply)
		return p.finish(ctx, sessionID, userID, text, reply, decision.IntentTag, false, nil)
	}

	notifier := bus.NewStreamNotifier(300*time.Millisecond, onDelta)
	messages := p.Prompt.BuildMessages(ctx, sessionID, text)

	streamer, ok := p.ReplyModel.(providers.StreamingProvider)
	if !ok {
		resp, err := p.ReplyModel.Chat(ctx, messages, nil, p.ReplyModelName, nil)
		if err != nil {
			return TurnResult{}, fmt.Errorf("httpapi: generating reply: %w", err)
		}
		notifier.Append(resp.Content)
		notifier.Flush()
		return p.finish(ctx, sessionID, userID, text, resp.Content, decision.IntentTag, false, nil)
	}

	resp, err := streamer.ChatStream(ctx, messages, nil, p.ReplyModelName, nil, notifier.Append)
	notifier.Flush()
	if err != nil {
		return TurnResult{}, fmt.Errorf("httpapi: streaming reply: %w", err)
	}
	return p.finish(ctx, sessionID, userID, text, resp.Content, decision.IntentTag, false, nil)
}

func (p *Pipeline) generateReply(ctx context.Context, sessionID, text string, decision domain.IntentDecision) (string, error) {
	if engine.NeedsSequentialRewrite(decision.Dimensions) && p.FluencyModel != nil {
		return engine.SequentialRewrite(ctx, p.ReplyModel, p.ReplyModelName, p.FluencyModel, p.FluencyModelName,
			"Respond to the user's message in a warm, professional tone.", text)
	}

	messages := p.Prompt.BuildMessages(ctx, sessionID, text)
	resp, err := p.ReplyModel.Chat(ctx, messages, nil, p.ReplyModelName, nil)
	if err != nil {
		return "", fmt.Errorf("httpapi: generating reply: %w", err)
	}
	return resp.Content, nil
}

func (p *Pipeline) finish(ctx context.Context, sessionID, userID, userText, aiText string, intent domain.IntentTag, needsApproval bool, intentData map[string]interface{}) (TurnResult, error) {
	turn := domain.Turn{
		ID: uuid.NewString(), SessionID: sessionID, UserID: userID, Channel: "web",
		UserText: userText, AIText: aiText, Intent: intent, Routing: routingForIntent(intent, needsApproval),
		NeedsApproval: needsApproval, CreatedAt: time.Now(),
	}
	if err := p.ContextStore.WriteTurn(ctx, turn); err != nil {
		logger.WarnCF("httpapi", "failed to persist turn", map[string]interface{}{"session_id": sessionID, "error": err.Error()})
	}

	if err := p.appendChatHistory(ctx, sessionID, intent, userText, aiText); err != nil {
		logger.WarnCF("httpapi", "failed to update chat history envelope", map[string]interface{}{"session_id": sessionID, "error": err.Error()})
	}

	return TurnResult{TurnID: turn.ID, Reply: aiText, Intent: intent, NeedsApproval: needsApproval, IntentData: intentData}, nil
}

func routingForIntent(intent domain.IntentTag, needsApproval bool) domain.RoutingLane {
	if needsApproval {
		return domain.LaneApprovalGated
	}
	if domain.DirectAutomationSet[intent] {
		return domain.LaneDirectAuto
	}
	return domain.LaneLLMReply
}

// appendChatHistory folds the turn into the session's ContextEnvelope
// chat_history slot so GetContextForPrompt can surface it later.
func (p *Pipeline) appendChatHistory(ctx context.Context, sessionID string, intent domain.IntentTag, userText, aiText string) error {
	existing, err := p.ContextStore.ReadContext(ctx, sessionID)
	var hist []interface{}
	var userID string
	if err == nil && existing.Envelope != nil {
		if h, ok := existing.Envelope.Payload["chat_history"].([]interface{}); ok {
			hist = h
		}
		userID = existing.Envelope.UserID
	}
	hist = append(hist, map[string]interface{}{"user_text": userText, "ai_text": aiText})

	env := domain.ContextEnvelope{
		SessionID: sessionID, UserID: userID, IntentTag: intent,
		Payload:   map[string]interface{}{"chat_history": hist},
		CreatedAt: time.Now(), ExpiresAt: time.Now().Add(24 * time.Hour),
	}
	return p.ContextStore.WriteContext(ctx, env)
}
