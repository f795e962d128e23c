// Package approval implements the Approval-Gated Action Pipeline: a
// per-session PendingAction state machine (PENDING -> DISPATCHED /
// CANCELLED / EXPIRED) with webhook dispatch on confirmation. The
// confirmation rule and the 30-minute expiry window are deliberately
// conservative, favoring a missed confirmation over an accidental send.
package approval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"

	"github.com/sipeed/turnhub/pkg/ctxstore"
	"github.com/sipeed/turnhub/pkg/domain"
	"github.com/sipeed/turnhub/pkg/engine"
	"github.com/sipeed/turnhub/pkg/logger"
	"github.com/sipeed/turnhub/pkg/perrors"
)

// State is one PendingAction's position in the state machine.
type State string

const (
	StatePending    State = "pending"
	StateDispatched State = "dispatched"
	StateCancelled  State = "cancelled"
	StateExpired    State = "expired"
)

const expiryWindow = 30 * time.Minute

var confirmWords = []string{"send", "yes", "go ahead", "submit", "confirm", "ok", "okay", "approve"}

var emailTokenPattern = regexp.MustCompile(`(?i)[\w.+-]+@[\w-]+\.[\w.-]+`)

// Pipeline holds the authoritative, in-process PendingAction table keyed
// by session and a webhook client for confirmed dispatches.
type Pipeline struct {
	mu          sync.Mutex
	pending     map[string]*domain.PendingAction
	webhookURL  string
	httpClient  *http.Client
	ctxStore    *ctxstore.Store
}

// New builds a Pipeline. webhookURL may be empty in development, in which
// case Confirm clears the pending action and reports OK=false (with no
// error) rather than silently succeeding.
func New(webhookURL string, ctxStore *ctxstore.Store) *Pipeline {
	return &Pipeline{
		pending:    make(map[string]*domain.PendingAction),
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		ctxStore:   ctxStore,
	}
}

// Preview is returned to the caller when a turn enters PENDING: the text
// to show the user plus the stored action for diagnostics.
type Preview struct {
	Action      *domain.PendingAction
	PreviewText string
}

// Enter normalises the decision's parameters into a PendingAction and
// stores it, overwriting any existing pending action for the session.
func (p *Pipeline) Enter(sessionID string, decision domain.IntentDecision) Preview {
	action := &domain.PendingAction{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		IntentTag: decision.IntentTag,
		Fields:    normaliseFields(decision),
		CreatedAt: time.Now(),
	}
	action.PreviewText = buildPreview(action)

	p.mu.Lock()
	p.pending[sessionID] = action
	p.mu.Unlock()

	return Preview{Action: action, PreviewText: action.PreviewText}
}

// normaliseFields pulls the slots relevant to each approval-gated intent
// out of the decision's free-form parameters.
func normaliseFields(decision domain.IntentDecision) map[string]interface{} {
	fields := make(map[string]interface{}, len(decision.Parameters))
	for k, v := range decision.Parameters {
		fields[k] = v
	}
	switch decision.IntentTag {
	case domain.IntentSendEmail:
		if _, ok := fields["recipient"]; !ok {
			fields["recipient"] = decision.Parameters["recipient_name"]
		}
	case domain.IntentGeneratePostPromptPackage:
		draft, _ := decision.Parameters["draft"].(string)
		extracted := engine.ExtractContent(draft)
		fields["post_description"] = extracted.PostDescription
		fields["ai_instructions"] = extracted.AIInstructions
	}
	return fields
}

func buildPreview(action *domain.PendingAction) string {
	switch action.IntentTag {
	case domain.IntentSendEmail:
		return fmt.Sprintf("I'll send this email:\n\nTo: %v\nSubject: %v\n\n%v\n\nReply \"send\" to confirm, or tell me what to change.",
			action.Fields["recipient"], action.Fields["subject"], action.Fields["body"])
	case domain.IntentGeneratePostPromptPackage:
		return fmt.Sprintf("Here's the post package:\n\nDescription: %v\nAI instructions: %v\n\nReply \"send\" to confirm, or tell me what to change.",
			action.Fields["post_description"], action.Fields["ai_instructions"])
	default:
		return "Reply \"send\" to confirm, or tell me what to change."
	}
}

// Pending returns the session's current PendingAction, or nil if none
// exists or it has expired (an expired action is cleared as a side
// effect, matching the idle-30-min transition in the state diagram).
func (p *Pipeline) Pending(sessionID string) *domain.PendingAction {
	p.mu.Lock()
	defer p.mu.Unlock()

	action, ok := p.pending[sessionID]
	if !ok {
		return nil
	}
	if action.Expired(time.Now()) {
		delete(p.pending, sessionID)
		return nil
	}
	return action
}

// IsConfirmation applies the conservative confirmation predicate: short
// (<=5 words), no email-like tokens, and contains a confirmation word.
// Anything else is treated as a new turn, not a confirmation.
func IsConfirmation(text string) bool {
	words := strings.Fields(text)
	if len(words) == 0 || len(words) > 5 {
		return false
	}
	if emailTokenPattern.MatchString(text) {
		return false
	}
	// Match whole words only, so "ok" inside "look" does not count.
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	padded := " " + strings.Join(tokens, " ") + " "
	for _, w := range confirmWords {
		if strings.Contains(padded, " "+w+" ") {
			return true
		}
	}
	return false
}

// IsRejection recognises an explicit cancellation.
func IsRejection(text string) bool {
	words := strings.Fields(text)
	if len(words) == 0 || len(words) > 5 {
		return false
	}
	lower := strings.ToLower(text)
	for _, w := range []string{"no", "cancel", "stop", "nevermind", "never mind"} {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// webhookPayload is posted verbatim to the configured outbound webhook.
type webhookPayload struct {
	UserID      string                 `json:"user_id"`
	SessionID   string                 `json:"session_id"`
	Intent      domain.IntentTag       `json:"intent"`
	Data        map[string]interface{} `json:"data"`
	Timestamp   time.Time              `json:"timestamp"`
	RoutingInfo string                 `json:"routing_info"`
}

// DispatchResult reports what happened to a confirmed PendingAction.
type DispatchResult struct {
	OK      bool
	Message string
}

// Confirm transitions a session's PendingAction to DISPATCHED: the
// payload is POSTed to the webhook, the response is recorded as an
// AppendedResult with source=approval, and the PendingAction is cleared
// regardless of webhook outcome (at-most-once dispatch).
func (p *Pipeline) Confirm(ctx context.Context, sessionID, userID string) (DispatchResult, error) {
	p.mu.Lock()
	action, ok := p.pending[sessionID]
	if ok {
		delete(p.pending, sessionID)
	}
	p.mu.Unlock()

	if !ok {
		return DispatchResult{}, perrors.ErrNoPendingAction
	}
	if action.Expired(time.Now()) {
		return DispatchResult{}, perrors.ErrPendingActionExpired
	}

	if p.webhookURL == "" {
		logger.WarnCF("approval", "no webhook configured, skipping dispatch", map[string]interface{}{"session_id": sessionID})
		return DispatchResult{OK: false, Message: "Automation isn't configured yet, but I've recorded your confirmation."}, nil
	}

	payload := webhookPayload{
		UserID: userID, SessionID: sessionID, Intent: action.IntentTag,
		Data: action.Fields, Timestamp: time.Now(), RoutingInfo: string(domain.LaneApprovalGated),
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.webhookURL, bytes.NewReader(body))
	if err != nil {
		return DispatchResult{}, pkgerrors.Wrap(err, "approval: building webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	result := DispatchResult{OK: true, Message: "Sent."}
	var webhookStatus int
	var webhookBody string
	if err != nil {
		wrapped := pkgerrors.Wrap(err, fmt.Sprintf("approval: posting webhook for session %s", sessionID))
		logger.ErrorCF("approval", "webhook dispatch failed", map[string]interface{}{"session_id": sessionID, "error": wrapped.Error()})
		result = DispatchResult{OK: false, Message: "Sent, but automation had issues confirming delivery."}
	} else {
		defer resp.Body.Close()
		webhookStatus = resp.StatusCode
		if raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096)); readErr == nil {
			webhookBody = string(raw)
		}
		if resp.StatusCode >= 400 {
			result = DispatchResult{OK: false, Message: "Sent, but automation had issues (status " + resp.Status + ")."}
		}
	}

	if p.ctxStore != nil {
		appendErr := p.ctxStore.AppendContext(ctx, domain.AppendedResult{
			SessionID: sessionID,
			Source:    "approval",
			Output: map[string]interface{}{
				"intent": action.IntentTag, "webhook_status": webhookStatus,
				"webhook_body": webhookBody, "ok": result.OK,
			},
		})
		if appendErr != nil {
			logger.WarnCF("approval", "failed to record dispatch append", map[string]interface{}{"session_id": sessionID, "error": appendErr.Error()})
		}
	}

	return result, nil
}

// Reject clears a session's PendingAction without dispatching.
func (p *Pipeline) Reject(sessionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.pending[sessionID]
	delete(p.pending, sessionID)
	return ok
}

// Sweep removes every expired PendingAction; intended to be run
// periodically (cfg.Approval.SweepCron) rather than relying solely on
// lazy expiry in Pending/Confirm.
func (p *Pipeline) Sweep() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	removed := 0
	for sessionID, action := range p.pending {
		if action.Expired(now) {
			delete(p.pending, sessionID)
			removed++
		}
	}
	return removed
}
