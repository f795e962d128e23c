package whatsapp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePipeline struct {
	reply Reply
	err   error
	calls int
}

func (f *fakePipeline) HandleTurn(ctx context.Context, sessionID, userID, text string) (Reply, error) {
	f.calls++
	return f.reply, f.err
}

func postJSON(t *testing.T, handler http.HandlerFunc, url, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, url, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestHandleMessage_RejectsMissingToken(t *testing.T) {
	fp := &fakePipeline{}
	b := New("secret", "val-1", fp, nil)

	rec := postJSON(t, b.HandleMessage, "/api/mcp", `{"message":"hi"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, fp.calls)
}

func TestHandleMessage_AcceptsQueryToken(t *testing.T) {
	fp := &fakePipeline{reply: Reply{Message: "hello back"}}
	b := New("secret", "val-1", fp, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/mcp?token=secret", strings.NewReader(`{"message":"how's it going"}`))
	rec := httptest.NewRecorder()
	b.HandleMessage(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, fp.calls)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, "hello back", resp["message"])
}

func TestHandleMessage_AcceptsBearerToken(t *testing.T) {
	fp := &fakePipeline{reply: Reply{Message: "ok"}}
	b := New("secret", "val-1", fp, nil)

	rec := postJSON(t, b.HandleMessage, "/api/mcp", `{"message":"hi there"}`, map[string]string{"Authorization": "Bearer secret"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, fp.calls)
}

func TestHandleMessage_WrongTokenRejected(t *testing.T) {
	fp := &fakePipeline{}
	b := New("secret", "val-1", fp, nil)

	rec := postJSON(t, b.HandleMessage, "/api/mcp", `{"message":"hi"}`, map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleMessage_ProbePhraseShortCircuits(t *testing.T) {
	fp := &fakePipeline{reply: Reply{Message: "should not be used"}}
	b := New("secret", "val-1", fp, nil)

	rec := postJSON(t, b.HandleMessage, "/api/mcp?token=secret", `{"message":"ping"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, fp.calls)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestHandleMessage_FieldFallbackOrder(t *testing.T) {
	fp := &fakePipeline{reply: Reply{Message: "got it"}}
	b := New("secret", "val-1", fp, nil)

	// "text" should be used when "message" is absent.
	rec := postJSON(t, b.HandleMessage, "/api/mcp?token=secret", `{"text":"from text field"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, fp.calls)
}

func TestHandleMessage_PipelineErrorStillReturns200(t *testing.T) {
	fp := &fakePipeline{err: assertError("boom")}
	b := New("secret", "val-1", fp, nil)

	rec := postJSON(t, b.HandleMessage, "/api/mcp?token=secret", `{"message":"do something"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["success"])
}

func TestHandleMessage_NeedsApprovalIncludesEndpoint(t *testing.T) {
	fp := &fakePipeline{reply: Reply{Message: "confirm?", NeedsApproval: true, ApprovalEndpoint: "/approve"}}
	b := New("secret", "val-1", fp, nil)

	rec := postJSON(t, b.HandleMessage, "/api/mcp?token=secret", `{"message":"send an email"}`, nil)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	approvalInfo, ok := resp["approval_info"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "/approve", approvalInfo["approval_endpoint"])
}

func TestHandleMessage_NonObjectBodyWrappedAsMessage(t *testing.T) {
	fp := &fakePipeline{reply: Reply{Message: "got it"}}
	b := New("secret", "val-1", fp, nil)

	// A raw, non-JSON-object body must still reach the pipeline instead of
	// decoding to an empty payload and being mistaken for a probe phrase.
	rec := postJSON(t, b.HandleMessage, "/api/mcp?token=secret", `hello from a bare string`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, fp.calls)
}

func TestHandleMessage_EmptyBodyStillProbes(t *testing.T) {
	fp := &fakePipeline{reply: Reply{Message: "should not be used"}}
	b := New("secret", "val-1", fp, nil)

	rec := postJSON(t, b.HandleMessage, "/api/mcp?token=secret", ``, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, fp.calls)
}

func TestHandleValidate(t *testing.T) {
	b := New("secret", "val-42", &fakePipeline{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/mcp/validate", nil)
	rec := httptest.NewRecorder()
	b.HandleValidate(rec, req)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "val-42", resp["validation_id"])
}

type assertError string

func (e assertError) Error() string { return string(e) }
