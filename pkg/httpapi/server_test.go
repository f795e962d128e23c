package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	pipeline, _ := newTestPipeline(t)
	return NewServer(pipeline, "wa-secret", "val-1", "", pipeline.ContextStore)
}

func doRequest(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleChat_DirectAutomationLane(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/chat", `{"session_id":"s1","user_id":"u1","message":"what's the weather today"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "sunny and 72F", resp["response"])
	assert.Equal(t, false, resp["needs_approval"])
}

func TestHandleChat_MissingMessageIsBadRequest(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/chat", `{"session_id":"s1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleChat_ApprovalGatedLaneThenApprove(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/chat", `{"session_id":"s2","user_id":"u1","message":"send an email to Alex about the report"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["needs_approval"])

	// No webhook configured in the test pipeline, so confirming reports
	// OK=false but still clears the pending action.
	approveRec := doRequest(t, s, http.MethodPost, "/approve", `{"session_id":"s2","user_id":"u1","approved":true}`)
	require.Equal(t, http.StatusOK, approveRec.Code)

	var approveResp map[string]interface{}
	require.NoError(t, json.Unmarshal(approveRec.Body.Bytes(), &approveResp))
	assert.Equal(t, false, approveResp["ok"])
}

func TestHandleApprove_RejectsWithoutConfirmation(t *testing.T) {
	s := newTestServer(t)
	doRequest(t, s, http.MethodPost, "/chat", `{"session_id":"s3","user_id":"u1","message":"send an email to Alex about the report"}`)

	rec := doRequest(t, s, http.MethodPost, "/approve", `{"session_id":"s3","user_id":"u1","approved":false}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["cancelled"])
}

func TestHandleApprove_NoPendingActionIsConflict(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/approve", `{"session_id":"never-asked","user_id":"u1","approved":true}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleGetHistory_NotFound(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/history/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleGetHistory_AfterChat(t *testing.T) {
	s := newTestServer(t)
	doRequest(t, s, http.MethodPost, "/chat", `{"session_id":"s4","user_id":"u1","message":"what's the weather today"}`)

	rec := doRequest(t, s, http.MethodGet, "/history/s4", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	turns, ok := resp["turns"].([]interface{})
	require.True(t, ok)
	assert.Len(t, turns, 1)
}

func TestHandleDeleteHistory(t *testing.T) {
	s := newTestServer(t)
	doRequest(t, s, http.MethodPost, "/chat", `{"session_id":"s5","user_id":"u1","message":"what's the weather today"}`)

	rec := doRequest(t, s, http.MethodDelete, "/history/s5", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	getRec := doRequest(t, s, http.MethodGet, "/history/s5", "")
	assert.Equal(t, http.StatusNotFound, getRec.Code)
}

func TestMCPRoutes_RequireBearerWhenConfigured(t *testing.T) {
	pipeline, _ := newTestPipeline(t)
	s := NewServer(pipeline, "wa-secret", "val-1", "mcp-secret", pipeline.ContextStore)

	rec := doRequest(t, s, http.MethodGet, "/mcp/read-context/s1", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/mcp/read-context/s1", nil)
	req.Header.Set("Authorization", "Bearer mcp-secret")
	authedRec := httptest.NewRecorder()
	s.ServeHTTP(authedRec, req)
	// No envelope written yet for this session, so the authenticated
	// request should reach the handler and report not-found rather than
	// unauthorized.
	assert.Equal(t, http.StatusNotFound, authedRec.Code)
}

func TestBridgeRoutes_AcceptBothVerbs(t *testing.T) {
	s := newTestServer(t)

	getRec := doRequest(t, s, http.MethodGet, "/api/mcp?token=wa-secret", "")
	require.Equal(t, http.StatusOK, getRec.Code)
	var getResp map[string]interface{}
	require.NoError(t, json.Unmarshal(getRec.Body.Bytes(), &getResp))
	assert.Equal(t, "ok", getResp["status"])

	postRec := doRequest(t, s, http.MethodPost, "/api/mcp?token=wa-secret", `{"message":"what's the weather today"}`)
	assert.Equal(t, http.StatusOK, postRec.Code)

	getValidateRec := doRequest(t, s, http.MethodGet, "/api/mcp/validate", "")
	assert.Equal(t, http.StatusOK, getValidateRec.Code)

	postValidateRec := doRequest(t, s, http.MethodPost, "/api/mcp/validate", "")
	assert.Equal(t, http.StatusOK, postValidateRec.Code)
}

func TestMemoryProcessEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/memory/process", `{"session_id":"s6","utterance":"remember that I like tea"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "store", resp["action"])
}
