package httpapi

import (
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sipeed/turnhub/pkg/logger"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type wsInbound struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Message   string `json:"message"`
}

type wsOutbound struct {
	Type          string                 `json:"type"` // delta, done, error
	Delta         string                 `json:"delta,omitempty"`
	ID            string                 `json:"id,omitempty"`
	NeedsApproval bool                   `json:"needs_approval,omitempty"`
	SessionID     string                 `json:"session_id,omitempty"`
	Error         string                 `json:"error,omitempty"`
	IntentData    map[string]interface{} `json:"intent_data,omitempty"`
}

// handleChatWebSocket upgrades the connection and serves a long-lived chat
// session: one inbound JSON message per turn, streamed delta/done/error
// frames back, looping until the client disconnects.
func (s *Server) handleChatWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnCF("httpapi", "websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	writeJSONFrame := func(frame wsOutbound) {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.WriteJSON(frame)
	}

	for {
		var in wsInbound
		if err := conn.ReadJSON(&in); err != nil {
			return
		}
		if in.Message == "" {
			continue
		}
		if in.SessionID == "" {
			in.SessionID = uuid.NewString()
		}
		if in.UserID == "" {
			in.UserID = "anonymous"
		}

		onDelta := func(chunk string) {
			writeJSONFrame(wsOutbound{Type: "delta", Delta: chunk, SessionID: in.SessionID})
		}

		result, err := s.pipeline.StreamReply(r.Context(), in.SessionID, in.UserID, in.Message, onDelta)
		if err != nil {
			writeJSONFrame(wsOutbound{Type: "error", Error: err.Error(), SessionID: in.SessionID})
			continue
		}
		writeJSONFrame(wsOutbound{
			Type: "done", ID: result.TurnID, NeedsApproval: result.NeedsApproval,
			SessionID: in.SessionID, IntentData: result.IntentData,
		})
	}
}
