package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Mindburn-Labs/bosun/pkg/draft"
	"github.com/Mindburn-Labs/bosun/pkg/engine"
)

const maxBodyBytes = 1 << 20 // 1MB

// Server exposes the approval engine over a local REST surface. There is
// no authentication; bind it to loopback.
type Server struct {
	engine  *engine.Engine
	logger  *slog.Logger
	limiter *GlobalRateLimiter
	idem    IdempotencyStorer
}

type ServerOption func(*Server)

func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRateLimit overrides the per-IP request budget.
func WithRateLimit(rps, burst int) ServerOption {
	return func(s *Server) {
		s.limiter = NewGlobalRateLimiter(rps, burst)
	}
}

// WithIdempotencyStore swaps the Idempotency-Key backend, e.g. for the
// Postgres store when the draft store is Postgres too.
func WithIdempotencyStore(store IdempotencyStorer) ServerOption {
	return func(s *Server) {
		if store != nil {
			s.idem = store
		}
	}
}

func NewServer(eng *engine.Engine, opts ...ServerOption) *Server {
	s := &Server{
		engine: eng,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.limiter == nil {
		s.limiter = NewGlobalRateLimiter(10, 20)
	}
	if s.idem == nil {
		s.idem = NewIdempotencyStore(time.Hour)
	}
	return s
}

// Handler builds the route table. Every route goes through the per-IP
// rate limit; mutating routes honor Idempotency-Key.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /v1/drafts", s.handleCreate)
	mux.HandleFunc("GET /v1/drafts", s.handleList)
	mux.HandleFunc("GET /v1/drafts/{id}", s.handleGet)
	mux.HandleFunc("POST /v1/drafts/{id}/approve", s.handleApprove)
	mux.HandleFunc("POST /v1/drafts/{id}/reject", s.handleReject)
	mux.HandleFunc("POST /v1/drafts/{id}/schedule", s.handleSchedule)
	mux.HandleFunc("GET /v1/targets/{target}/limit", s.handleLimit)
	return s.limiter.Middleware(IdempotencyMiddleware(s.idem)(mux))
}

// CreateDraftRequest is the POST /v1/drafts body.
type CreateDraftRequest struct {
	Target   string `json:"target"`
	Payload  string `json:"payload"`
	Category string `json:"category,omitempty"`
	Priority string `json:"priority,omitempty"`
	Actor    string `json:"actor,omitempty"`
}

// ApproveRequest is the POST /v1/drafts/{id}/approve body. The body is
// optional; an absent body approves as "system".
type ApproveRequest struct {
	Actor string `json:"actor,omitempty"`
}

// RejectRequest is the POST /v1/drafts/{id}/reject body.
type RejectRequest struct {
	Feedback string `json:"feedback"`
	Actor    string `json:"actor,omitempty"`
}

// ScheduleRequest is the POST /v1/drafts/{id}/schedule body.
type ScheduleRequest struct {
	DueAt time.Time `json:"due_at"`
	Actor string    `json:"actor,omitempty"`
}

// ListResponse is the GET /v1/drafts body.
type ListResponse struct {
	Drafts []*draft.Draft `json:"drafts"`
	Count  int            `json:"count"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateDraftRequest
	if !decodeBody(w, r, &req, false) {
		return
	}

	d, err := s.engine.Create(r.Context(), engine.CreateRequest{
		Target:   req.Target,
		Payload:  req.Payload,
		Category: req.Category,
		Priority: draft.Priority(req.Priority),
		Actor:    req.Actor,
	})
	if err != nil {
		WriteDraftError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := draft.Filter{
		Status: draft.Status(q.Get("status")),
		Target: q.Get("target"),
	}
	drafts, err := s.engine.List(r.Context(), filter)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	if drafts == nil {
		drafts = []*draft.Draft{}
	}
	writeJSON(w, http.StatusOK, ListResponse{Drafts: drafts, Count: len(drafts)})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	d, err := s.engine.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteDraftError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest
	if !decodeBody(w, r, &req, true) {
		return
	}

	d, err := s.engine.Approve(r.Context(), r.PathValue("id"), req.Actor)
	if err != nil {
		WriteDraftError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if !decodeBody(w, r, &req, false) {
		return
	}

	d, err := s.engine.Reject(r.Context(), r.PathValue("id"), req.Feedback, req.Actor)
	if err != nil {
		WriteDraftError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	if req.DueAt.IsZero() {
		WriteBadRequest(w, "Missing required field: due_at")
		return
	}

	d, entry, err := s.engine.Schedule(r.Context(), r.PathValue("id"), req.DueAt, req.Actor)
	if err != nil {
		WriteDraftError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"draft": d,
		"entry": entry,
	})
}

func (s *Server) handleLimit(w http.ResponseWriter, r *http.Request) {
	status, err := s.engine.LimitStatus(r.Context(), r.PathValue("target"))
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// decodeBody decodes a JSON request body into dst. With optional set, an
// empty body is fine and dst keeps its zero value. Reports whether the
// handler should continue; on false the error response is already written.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil {
		return true
	}
	if optional && errors.Is(err, io.EOF) {
		return true
	}
	WriteBadRequest(w, "Invalid request body")
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
