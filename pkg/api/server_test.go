package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/bosun/pkg/adapter"
	"github.com/Mindburn-Labs/bosun/pkg/api"
	"github.com/Mindburn-Labs/bosun/pkg/draft"
	"github.com/Mindburn-Labs/bosun/pkg/engine"
	"github.com/Mindburn-Labs/bosun/pkg/limiter"
	"github.com/Mindburn-Labs/bosun/pkg/store"
)

func newTestHandler(t *testing.T, opts ...api.ServerOption) http.Handler {
	t.Helper()

	registry := adapter.NewRegistry([]adapter.Profile{
		{Name: "twitter", Kind: adapter.KindSocial, CharLimit: 280},
	})
	lim := limiter.New(registry.LimiterConfig())
	sim := adapter.NewSimulated(registry, lim)
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	eng, err := engine.New(
		store.NewMemory(), store.NewMemorySchedule(),
		sim, registry,
		engine.WithLogger(quiet),
	)
	require.NoError(t, err)

	base := []api.ServerOption{
		api.WithLogger(quiet),
		api.WithRateLimit(1000, 1000),
	}
	return api.NewServer(eng, append(base, opts...)...).Handler()
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeDraft(t *testing.T, w *httptest.ResponseRecorder) *draft.Draft {
	t.Helper()
	var d draft.Draft
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &d), "body: %s", w.Body.String())
	return &d
}

func decodeProblem(t *testing.T, w *httptest.ResponseRecorder) *api.ProblemDetail {
	t.Helper()
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	var p api.ProblemDetail
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	return &p
}

func TestHealthz(t *testing.T) {
	h := newTestHandler(t)
	w := doJSON(t, h, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestCreateDraft(t *testing.T) {
	h := newTestHandler(t)

	w := doJSON(t, h, http.MethodPost, "/v1/drafts", api.CreateDraftRequest{
		Target:  "twitter",
		Payload: "release tomorrow",
		Actor:   "agent",
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	d := decodeDraft(t, w)
	assert.NotEmpty(t, d.ID)
	assert.Equal(t, draft.StatusPendingApproval, d.Status)
	assert.Equal(t, draft.PriorityNormal, d.Priority)
}

func TestCreateDraftValidation(t *testing.T) {
	h := newTestHandler(t)

	w := doJSON(t, h, http.MethodPost, "/v1/drafts", api.CreateDraftRequest{Target: "twitter"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	p := decodeProblem(t, w)
	assert.Contains(t, p.Detail, "payload")

	req := httptest.NewRequest(http.MethodPost, "/v1/drafts", bytes.NewReader([]byte("{not json")))
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDraftLifecycleOverHTTP(t *testing.T) {
	h := newTestHandler(t)

	w := doJSON(t, h, http.MethodPost, "/v1/drafts", api.CreateDraftRequest{Target: "twitter", Payload: "post"}, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	id := decodeDraft(t, w).ID

	// Approve with no body at all.
	w = doJSON(t, h, http.MethodPost, "/v1/drafts/"+id+"/approve", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	posted := decodeDraft(t, w)
	assert.Equal(t, draft.StatusPosted, posted.Status)
	require.NotNil(t, posted.Receipt)
	assert.True(t, posted.Receipt.Simulated)

	w = doJSON(t, h, http.MethodGet, "/v1/drafts/"+id, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, draft.StatusPosted, decodeDraft(t, w).Status)

	// Posted is terminal: a second approve is a conflict.
	w = doJSON(t, h, http.MethodPost, "/v1/drafts/"+id+"/approve", api.ApproveRequest{Actor: "ops"}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	decodeProblem(t, w)

	w = doJSON(t, h, http.MethodGet, "/v1/drafts/draft_missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRejectOverHTTP(t *testing.T) {
	h := newTestHandler(t)

	w := doJSON(t, h, http.MethodPost, "/v1/drafts", api.CreateDraftRequest{Target: "twitter", Payload: "post"}, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	id := decodeDraft(t, w).ID

	w = doJSON(t, h, http.MethodPost, "/v1/drafts/"+id+"/reject", api.RejectRequest{Actor: "ops"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "feedback is mandatory")

	w = doJSON(t, h, http.MethodPost, "/v1/drafts/"+id+"/reject", api.RejectRequest{Feedback: "not now", Actor: "ops"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	rejected := decodeDraft(t, w)
	assert.Equal(t, draft.StatusRejected, rejected.Status)
	assert.Equal(t, "not now", rejected.Feedback)
}

func TestScheduleOverHTTP(t *testing.T) {
	h := newTestHandler(t)

	w := doJSON(t, h, http.MethodPost, "/v1/drafts", api.CreateDraftRequest{Target: "twitter", Payload: "post"}, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	id := decodeDraft(t, w).ID

	w = doJSON(t, h, http.MethodPost, "/v1/drafts/"+id+"/schedule", map[string]string{"actor": "ops"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "due_at required")

	w = doJSON(t, h, http.MethodPost, "/v1/drafts/"+id+"/schedule", api.ScheduleRequest{
		DueAt: time.Now().Add(-time.Hour), Actor: "ops",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "past due time")

	w = doJSON(t, h, http.MethodPost, "/v1/drafts/"+id+"/schedule", api.ScheduleRequest{
		DueAt: time.Now().Add(time.Hour), Actor: "ops",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Draft *draft.Draft         `json:"draft"`
		Entry *store.ScheduleEntry `json:"entry"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, draft.StatusScheduled, resp.Draft.Status)
	assert.Equal(t, id, resp.Entry.DraftID)
}

func TestListOverHTTP(t *testing.T) {
	h := newTestHandler(t)

	for i := 0; i < 3; i++ {
		w := doJSON(t, h, http.MethodPost, "/v1/drafts", api.CreateDraftRequest{
			Target: "twitter", Payload: fmt.Sprintf("post %d", i),
		}, nil)
		require.Equal(t, http.StatusCreated, w.Code)
	}
	w := doJSON(t, h, http.MethodPost, "/v1/drafts", api.CreateDraftRequest{Target: "blog", Payload: "long form"}, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, h, http.MethodGet, "/v1/drafts", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list api.ListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 4, list.Count)

	w = doJSON(t, h, http.MethodGet, "/v1/drafts?target=blog", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)

	w = doJSON(t, h, http.MethodGet, "/v1/drafts?status=posted", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 0, list.Count)
	assert.NotNil(t, list.Drafts, "empty list serializes as [], not null")
}

func TestTargetLimitOverHTTP(t *testing.T) {
	h := newTestHandler(t)

	w := doJSON(t, h, http.MethodGet, "/v1/targets/twitter/limit", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status limiter.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "twitter", status.Target)
}

func TestIdempotentCreate(t *testing.T) {
	h := newTestHandler(t)
	headers := map[string]string{"Idempotency-Key": "create-launch-post"}
	body := api.CreateDraftRequest{Target: "twitter", Payload: "launch!"}

	first := doJSON(t, h, http.MethodPost, "/v1/drafts", body, headers)
	require.Equal(t, http.StatusCreated, first.Code)
	firstID := decodeDraft(t, first).ID

	second := doJSON(t, h, http.MethodPost, "/v1/drafts", body, headers)
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, firstID, decodeDraft(t, second).ID, "replayed, not re-created")
	assert.Equal(t, "true", second.Header().Get("Idempotency-Replay"))

	w := doJSON(t, h, http.MethodGet, "/v1/drafts", nil, nil)
	var list api.ListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count, "one draft despite two posts")
}

func TestRateLimitAppliesToRoutes(t *testing.T) {
	h := newTestHandler(t, api.WithRateLimit(1, 1))

	w := doJSON(t, h, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, h, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}
