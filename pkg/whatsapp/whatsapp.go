// Package whatsapp adapts the WhatsApp bridge's authentication scheme and
// message envelope into the canonical turn pipeline, and the canonical
// reply back into the bridge's expected shape.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sipeed/turnhub/pkg/ctxstore"
	"github.com/sipeed/turnhub/pkg/domain"
	"github.com/sipeed/turnhub/pkg/logger"
)

// Pipeline is the minimal surface the gateway needs from the rest of the
// system to answer one WhatsApp turn; implemented by the HTTP server's
// wiring code so this package stays free of import cycles.
type Pipeline interface {
	HandleTurn(ctx context.Context, sessionID, userID, text string) (Reply, error)
}

// Reply is what the pipeline hands back for rendering into the bridge's
// envelope.
type Reply struct {
	Message          string
	Intent           domain.IntentTag
	NeedsApproval    bool
	ApprovalEndpoint string
	IntentData       map[string]interface{}
}

var probePhrases = map[string]bool{"ping": true, "test": true, "hello": true, "": true}

// Bridge holds the shared token and validation identifier the bridge
// operator configured out of band.
type Bridge struct {
	sharedToken  string
	validationID string
	pipeline     Pipeline
	cold         *ctxstore.Store
}

func New(sharedToken, validationID string, pipeline Pipeline, cold *ctxstore.Store) *Bridge {
	return &Bridge{sharedToken: sharedToken, validationID: validationID, pipeline: pipeline, cold: cold}
}

func (b *Bridge) authenticate(r *http.Request) bool {
	if token := r.URL.Query().Get("token"); token != "" {
		return token == b.sharedToken
	}
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):] == b.sharedToken
	}
	return false
}

type inboundPayload struct {
	Message   string `json:"message"`
	Text      string `json:"text"`
	Query     string `json:"query"`
	Content   string `json:"content"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

func (p inboundPayload) text() string {
	for _, candidate := range []string{p.Message, p.Text, p.Query, p.Content} {
		if candidate != "" {
			return candidate
		}
	}
	return ""
}

// HandleMessage implements the bridge's inbound message endpoint.
func (b *Bridge) HandleMessage(w http.ResponseWriter, r *http.Request) {
	if !b.authenticate(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{
			"error": "invalid_token", "message": "missing or incorrect bearer token",
			"expected_format": "Authorization: Bearer <token> or ?token=<token>",
		})
		return
	}

	var in inboundPayload
	decodeJSONBody(r, &in)

	text := in.text()
	if probePhrases[text] {
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
		return
	}

	rawSessionID := in.SessionID
	if rawSessionID == "" {
		rawSessionID = "test_session_" + strconv.FormatInt(time.Now().Unix(), 10)
	}
	userID := in.UserID
	if userID == "" {
		userID = "whatsapp_user"
	}
	sessionID := "whatsapp_" + rawSessionID

	reply, err := b.pipeline.HandleTurn(r.Context(), sessionID, userID, text)
	logRecord := map[string]interface{}{
		"platform": "whatsapp", "session_id": rawSessionID, "user_message": text,
		"timestamp": time.Now(),
	}
	if err != nil {
		logRecord["error"] = err.Error()
		b.logInteraction(r.Context(), sessionID, logRecord, true)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": false, "session_id": rawSessionID, "message": "I ran into a problem. Please try again.",
			"platform": "whatsapp", "timestamp": time.Now(),
		})
		return
	}

	logRecord["ai_response"] = reply.Message
	logRecord["intent"] = reply.Intent
	logRecord["needs_approval"] = reply.NeedsApproval
	b.logInteraction(r.Context(), sessionID, logRecord, false)

	resp := map[string]interface{}{
		"success": true, "session_id": rawSessionID, "message": reply.Message,
		"intent": reply.Intent, "needs_approval": reply.NeedsApproval,
		"platform": "whatsapp", "timestamp": time.Now(), "conversation_id": sessionID,
	}
	if reply.IntentData != nil {
		resp["intent_data"] = reply.IntentData
	}
	if reply.NeedsApproval {
		resp["approval_info"] = map[string]interface{}{"approval_endpoint": reply.ApprovalEndpoint}
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleValidate answers the bridge operator's ownership check.
func (b *Bridge) HandleValidate(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"validation_id": b.validationID})
}

func (b *Bridge) logInteraction(ctx context.Context, sessionID string, record map[string]interface{}, isError bool) {
	if b.cold == nil {
		return
	}
	source := "whatsapp"
	if isError {
		source = "whatsapp_error"
	}
	if err := b.cold.AppendContext(ctx, domain.AppendedResult{SessionID: sessionID, Source: source, Output: record}); err != nil {
		logger.WarnCF("whatsapp", "failed to log interaction", map[string]interface{}{"session_id": sessionID, "error": err.Error()})
	}
}

// decodeJSONBody tolerates bodies that aren't a JSON object: a bare string
// or unquoted plain text is wrapped into a synthetic {message: <raw>} so it
// still reaches the pipeline instead of decoding to a zero-value payload
// that gets misread as a connection-test probe.
func decodeJSONBody(r *http.Request, out *inboundPayload) {
	if r.Body == nil {
		return
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return
	}
	if err := json.Unmarshal(trimmed, out); err == nil {
		return
	}
	out.Message = string(trimmed)
}

func writeJSON(w http.ResponseWriter, status int, body map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
