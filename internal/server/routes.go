package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/colonyops/crew/internal/api"
	"github.com/colonyops/crew/internal/coordinator"
	"github.com/colonyops/crew/internal/core/messaging"
	"github.com/colonyops/crew/internal/core/task"
)

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /tasks", s.handleListTasks)
	mux.HandleFunc("POST /tasks", s.handleCreateTask)
	mux.HandleFunc("POST /tasks/next", s.handleNext)
	mux.HandleFunc("GET /tasks/{id}", s.handleGetTask)
	mux.HandleFunc("PATCH /tasks/{id}", s.handleUpdateTask)
	mux.HandleFunc("DELETE /tasks/{id}", s.handleDeleteTask)
	mux.HandleFunc("POST /tasks/{id}/claim", s.handleClaim)
	mux.HandleFunc("POST /tasks/{id}/heartbeat", s.handleHeartbeat)
	mux.HandleFunc("POST /tasks/{id}/release", s.handleRelease)
	mux.HandleFunc("POST /tasks/{id}/block", s.handleBlock)
	mux.HandleFunc("POST /tasks/{id}/approve", s.handleApprove)
	mux.HandleFunc("POST /tasks/{id}/complete", s.handleComplete)
	mux.HandleFunc("POST /tasks/{id}/reset", s.handleReset)

	mux.HandleFunc("GET /queue", s.handleQueue)
	mux.HandleFunc("GET /workers", s.handleWorkers)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /history", s.handleHistory)

	mux.HandleFunc("GET /messages", s.handleListMessages)
	mux.HandleFunc("GET /messages/pending", s.handlePendingMessages)
	mux.HandleFunc("POST /messages", s.handlePublish)
	mux.HandleFunc("GET /messages/{id}", s.handleGetMessage)
	mux.HandleFunc("PATCH /messages/{id}", s.handleMessageStatus)

	mux.HandleFunc("GET /events", s.handleEvents)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.Health{Status: "ok", Version: s.opts.Version})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := task.ListFilter{
		Category: q.Get("category"),
		File:     q.Get("file"),
	}
	if raw := q.Get("status"); raw != "" {
		st, err := task.ParseStatus(raw)
		if err != nil {
			writeBadRequest(w, "%v", err)
			return
		}
		filter.Status = st
	}

	tasks, err := s.svc.ListTasks(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(tasks))
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var t task.Task
	if !decode(w, r, &t) {
		return
	}

	created, err := s.svc.CreateTask(r.Context(), t)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.svc.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var raw map[string]json.RawMessage
	if !decode(w, r, &raw) {
		return
	}
	if _, ok := raw["status"]; ok {
		writeBadRequest(w, "status cannot be patched; use the claim, block, approve, complete or reset endpoints")
		return
	}

	body, _ := json.Marshal(raw)
	var p task.Patch
	if err := json.Unmarshal(body, &p); err != nil {
		writeBadRequest(w, "invalid request body: %v", err)
		return
	}

	t, err := s.svc.UpdateTask(r.Context(), r.PathValue("id"), p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	deleted, err := s.svc.DeleteTask(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !deleted {
		s.writeError(w, r, task.ErrNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req api.WorkerRequest
	if !decode(w, r, &req) {
		return
	}

	t, l, err := s.svc.Claim(r.Context(), r.PathValue("id"), req.WorkerID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.ClaimResponse{Task: t, Lease: l})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req api.WorkerRequest
	if !decode(w, r, &req) {
		return
	}

	l, err := s.svc.Heartbeat(r.Context(), r.PathValue("id"), req.WorkerID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	var req api.WorkerRequest
	if !decode(w, r, &req) {
		return
	}

	if err := s.svc.Release(r.Context(), r.PathValue("id"), req.WorkerID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "released"})
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	var req api.BlockRequest
	if !decode(w, r, &req) {
		return
	}

	t, _, err := s.svc.Block(r.Context(), r.PathValue("id"), req.WorkerID, req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req api.ApproveRequest
	if !decode(w, r, &req) {
		return
	}

	t, err := s.svc.Approve(r.Context(), r.PathValue("id"), coordinator.ApproveOptions{
		Response: req.Response,
		By:       req.By,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req api.WorkerRequest
	if !decode(w, r, &req) {
		return
	}

	t, unblocked, err := s.svc.Complete(r.Context(), r.PathValue("id"), req.WorkerID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.CompleteResponse{Task: t, Unblocked: nonNil(unblocked)})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var req api.ResetRequest
	if !decode(w, r, &req) {
		return
	}

	t, err := s.svc.Reset(r.Context(), r.PathValue("id"), coordinator.ResetOptions{Force: req.Force})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	var req api.NextRequest
	if !decode(w, r, &req) {
		return
	}

	t, l, err := s.svc.Next(r.Context(), req.WorkerID, task.ListFilter{Category: req.Category, File: req.File})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.ClaimResponse{Task: t, Lease: l})
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	q, err := s.svc.Queue(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q.Available = nonNil(q.Available)
	q.Waiting = nonNil(q.Waiting)
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) handleWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := s.svc.Workers(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(workers))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", coordinator.DefaultHistoryLimit)
	if !ok {
		return
	}

	tasks, err := s.svc.History(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(tasks))
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", 100)
	if !ok {
		return
	}

	msgs, err := s.svc.Messages().List(r.Context(), r.URL.Query().Get("session"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(msgs))
}

func (s *Server) handlePendingMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	recipient, err := messaging.ParseRecipient(q.Get("recipient"))
	if err != nil {
		writeBadRequest(w, "%v", err)
		return
	}

	msgs, err := s.svc.Messages().Pending(r.Context(), messaging.PendingFilter{
		Recipient:  recipient,
		SessionKey: q.Get("session"),
		TaskID:     q.Get("task"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(msgs))
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req api.PublishRequest
	if !decode(w, r, &req) {
		return
	}

	m, err := s.svc.Messages().Publish(r.Context(), req.Message())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	m, err := s.svc.Messages().Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleMessageStatus(w http.ResponseWriter, r *http.Request) {
	var req api.MessageStatusRequest
	if !decode(w, r, &req) {
		return
	}

	m, resp, err := s.svc.Messages().SetStatus(r.Context(), r.PathValue("id"), req.Status, req.ResponseContent)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.MessageStatusResponse{Message: m, Response: resp})
}

func queryInt(w http.ResponseWriter, r *http.Request, key string, fallback int) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeBadRequest(w, "%s must be a non-negative integer", key)
		return 0, false
	}
	return n, true
}

// nonNil keeps empty lists as [] on the wire.
func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}
