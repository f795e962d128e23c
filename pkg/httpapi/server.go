package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/sipeed/turnhub/pkg/ctxstore"
	"github.com/sipeed/turnhub/pkg/domain"
	"github.com/sipeed/turnhub/pkg/logger"
	"github.com/sipeed/turnhub/pkg/memory"
	"github.com/sipeed/turnhub/pkg/metrics"
	"github.com/sipeed/turnhub/pkg/perrors"
	"github.com/sipeed/turnhub/pkg/whatsapp"
)

// Server exposes the web client's HTTP API, the internal MCP endpoints,
// and the WhatsApp bridge routes over one chi router.
type Server struct {
	pipeline    *Pipeline
	bridge      *whatsapp.Bridge
	bearerToken string
	router      chi.Router
}

// bridgeAdapter satisfies whatsapp.Pipeline by delegating to Pipeline's
// richer TurnResult, translating it into the bridge's narrower Reply.
type bridgeAdapter struct {
	p *Pipeline
}

func (a bridgeAdapter) HandleTurn(ctx context.Context, sessionID, userID, text string) (whatsapp.Reply, error) {
	result, err := a.p.HandleTurn(ctx, sessionID, userID, text)
	if err != nil {
		return whatsapp.Reply{}, err
	}
	return whatsapp.Reply{
		Message: result.Reply, Intent: result.Intent, NeedsApproval: result.NeedsApproval,
		ApprovalEndpoint: a.p.ApprovalEndpoint, IntentData: result.IntentData,
	}, nil
}

// NewServer wires every route. bearerToken gates the /mcp/* family; an
// empty token disables that check (local development only).
func NewServer(pipeline *Pipeline, whatsappSharedToken, whatsappValidationID, bearerToken string, cold *ctxstore.Store) *Server {
	bridge := whatsapp.New(whatsappSharedToken, whatsappValidationID, bridgeAdapter{p: pipeline}, cold)
	s := &Server{pipeline: pipeline, bridge: bridge, bearerToken: bearerToken}
	s.router = s.buildRouter()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Post("/chat", s.handleChat)
	r.Post("/chat/stream", s.handleChatStream)
	r.Get("/ws/chat", s.handleChatWebSocket)
	r.Post("/approve", s.handleApprove)
	r.Get("/history/{session_id}", s.handleGetHistory)
	r.Delete("/history/{session_id}", s.handleDeleteHistory)

	r.Get("/memory/stats", s.handleMemoryStats)
	r.Post("/memory/process", s.handleMemoryProcess)
	r.Get("/memory/context/{session_id}", s.handleMemoryContext)

	r.Route("/mcp", func(mr chi.Router) {
		mr.Use(s.requireBearer)
		mr.Get("/read-context/{session_id}", s.handleMCPRead)
		mr.Post("/write-context", s.handleMCPWrite)
		mr.Post("/append-context", s.handleMCPAppend)
	})

	// Both verbs on each route: GET /api/mcp is the bridge's connection
	// test (an empty body reads as a probe phrase and answers {status:ok});
	// POST /api/mcp/validate lets the bridge operator verify ownership
	// without relying on query-string-only GET support.
	r.Get("/api/mcp", s.bridge.HandleMessage)
	r.Post("/api/mcp", s.bridge.HandleMessage)
	r.Get("/api/mcp/validate", s.bridge.HandleValidate)
	r.Post("/api/mcp/validate", s.bridge.HandleValidate)

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.InfoCF("httpapi", "request handled", map[string]interface{}{
			"method": r.Method, "path": r.URL.Path, "status": ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
	})
}

func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.bearerToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != s.bearerToken {
			writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "time": time.Now()})
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Message   string `json:"message"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "message is required"})
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	if req.UserID == "" {
		req.UserID = "anonymous"
	}

	result, err := s.pipeline.HandleTurn(r.Context(), req.SessionID, req.UserID, req.Message)
	if err != nil {
		writeErr(w, err)
		return
	}

	resp := map[string]interface{}{
		"id": result.TurnID, "message": req.Message, "response": result.Reply,
		"needs_approval": result.NeedsApproval, "timestamp": time.Now(),
		"session_id": req.SessionID, "user_id": req.UserID,
	}
	if result.IntentData != nil {
		resp["intent_data"] = result.IntentData
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleChatStream answers /chat over Server-Sent Events, flushing the
// reply in throttled chunks instead of waiting for the full turn.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "message is required"})
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	if req.UserID == "" {
		req.UserID = "anonymous"
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusNotImplemented, map[string]interface{}{"error": "streaming unsupported"})
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	onDelta := func(chunk string) {
		payload, _ := json.Marshal(map[string]string{"delta": chunk})
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}

	result, err := s.pipeline.StreamReply(r.Context(), req.SessionID, req.UserID, req.Message, onDelta)
	if err != nil {
		payload, _ := json.Marshal(map[string]string{"error": err.Error()})
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", payload)
		flusher.Flush()
		return
	}

	donePayload, _ := json.Marshal(map[string]interface{}{
		"id": result.TurnID, "needs_approval": result.NeedsApproval, "session_id": req.SessionID,
	})
	fmt.Fprintf(w, "event: done\ndata: %s\n\n", donePayload)
	flusher.Flush()
}

type approveRequest struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Approved  bool   `json:"approved"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "session_id is required"})
		return
	}

	if !req.Approved {
		cancelled := s.pipeline.Approval.Reject(req.SessionID)
		writeJSON(w, http.StatusOK, map[string]interface{}{"cancelled": cancelled})
		return
	}

	result, err := s.pipeline.Approval.Confirm(r.Context(), req.SessionID, req.UserID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": result.OK, "message": result.Message})
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	turns, err := s.pipeline.ContextStore.ReadTurns(r.Context(), sessionID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"session_id": sessionID, "turns": turns})
}

func (s *Server) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	if err := s.pipeline.ContextStore.DeleteTurns(r.Context(), sessionID); err != nil {
		writeErr(w, err)
		return
	}
	if err := s.pipeline.ContextStore.DeleteContext(r.Context(), sessionID); err != nil && err != perrors.ErrNotFound {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": true})
}

func (s *Server) handleMemoryStats(w http.ResponseWriter, r *http.Request) {
	stats := s.pipeline.Memory.Stats()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total": stats.Total, "by_category": stats.ByCategory, "context": s.pipeline.Memory.ContextForAI(),
	})
}

type memoryProcessRequest struct {
	SessionID string `json:"session_id"`
	Utterance string `json:"utterance"`
}

func (s *Server) handleMemoryProcess(w http.ResponseWriter, r *http.Request) {
	var req memoryProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Utterance == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "utterance is required"})
		return
	}
	decision := s.pipeline.MemoryProc.Process(r.Context(), req.Utterance, req.SessionID)
	writeJSON(w, http.StatusOK, decisionToJSON(decision))
}

func decisionToJSON(d memory.Decision) map[string]interface{} {
	return map[string]interface{}{"action": d.Action, "reply": d.Reply, "facts": d.Facts}
}

func (s *Server) handleMemoryContext(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	text, err := s.pipeline.ContextStore.GetContextForPrompt(r.Context(), sessionID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"session_id": sessionID, "context": text})
}

func (s *Server) handleMCPRead(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	result, err := s.pipeline.ContextStore.ReadContext(r.Context(), sessionID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleMCPWrite(w http.ResponseWriter, r *http.Request) {
	var env domain.ContextEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil || env.SessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "session_id is required"})
		return
	}
	if err := s.pipeline.ContextStore.WriteContext(r.Context(), env); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

func (s *Server) handleMCPAppend(w http.ResponseWriter, r *http.Request) {
	var result domain.AppendedResult
	if err := json.NewDecoder(r.Body).Decode(&result); err != nil || result.SessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "session_id is required"})
		return
	}
	if result.AppendID == "" {
		result.AppendID = uuid.NewString()
	}
	if err := s.pipeline.ContextStore.AppendContext(r.Context(), result); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "append_id": result.AppendID})
}

func writeErr(w http.ResponseWriter, err error) {
	switch err {
	case perrors.ErrNotFound:
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"error": err.Error()})
	case perrors.ErrInvalidRequest:
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": err.Error()})
	case perrors.ErrNoPendingAction, perrors.ErrPendingActionExpired:
		writeJSON(w, http.StatusConflict, map[string]interface{}{"error": err.Error()})
	default:
		logger.ErrorCF("httpapi", "unhandled request error", map[string]interface{}{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
