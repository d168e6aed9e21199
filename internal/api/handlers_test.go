package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"

	"blob-vault/internal/security"
	"blob-vault/internal/worker"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	h := NewHandler(nil, nil, nil, worker.NewPool(0, semaphore.NewWeighted(1), nil, nil, nil, nil, false, false), semaphore.NewWeighted(1))
	h.APISecret = "test-secret"
	h.ReportTimeout = time.Minute
	return h
}

func TestHandleFile_RejectsMalformedID(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t)

	for _, id := range []string{"abc", "../etc/passwd", "123", "'; DROP TABLE files;--"} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/files/", nil)
		req.URL.Path = "/files/" + id
		h.HandleFile(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "id %q", id)
	}
}

func TestHandleFiles_MethodNotAllowed(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.HandleFiles(rec, httptest.NewRequest(http.MethodPut, "/files", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleRegister_RejectsBadEmail(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/register",
		strings.NewReader(`{"email":"not-an-email","password":"hunter2"}`))
	h.HandleRegister(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCreateKey_RejectsUnknownType(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/keys/create",
		strings.NewReader(`{"user_id":1,"type":"sandbox"}`))
	h.HandleCreateKey(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func signedReportRequest(secret, body string) *http.Request {
	ts := fmt.Sprintf("%d", time.Now().Unix())
	req := httptest.NewRequest(http.MethodPost, "/admin/report", strings.NewReader(body))
	req.Header.Set("X-Timestamp", ts)
	req.Header.Set("X-Signature", security.Sign(secret, http.MethodPost, "/admin/report", body, ts))
	return req
}

func TestHandleReport_RejectsBadSignature(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.HandleReport(rec, signedReportRequest("wrong-secret", `{"format":"csv"}`))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleReport_RejectsUnsupportedFormat(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.HandleReport(rec, signedReportRequest("test-secret", `{"format":"xml"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleReport_QueuesSignedRequest(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.HandleReport(rec, signedReportRequest("test-secret", `{"format":"json","email":"ops@example.com"}`))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["job_id"])
	assert.Equal(t, "PENDING", resp["status"])
}

func TestHandleJob_TracksQueuedJob(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.HandleReport(rec, signedReportRequest("test-secret", `{"format":"pdf"}`))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var queued map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &queued))

	rec = httptest.NewRecorder()
	h.HandleJob(rec, httptest.NewRequest(http.MethodGet, "/jobs?id="+queued["job_id"], nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var snap worker.JobSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, queued["job_id"], snap.ID)
	assert.Equal(t, "pdf", snap.Format)
	assert.Equal(t, worker.StatusPending, snap.Status)
}

func TestHandleJob_UnknownID(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.HandleJob(rec, httptest.NewRequest(http.MethodGet, "/jobs?id=missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
