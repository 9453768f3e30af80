package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/Freeeeeet/tutor_session/internal/model"
	"github.com/Freeeeeet/tutor_session/internal/service"
	"github.com/Freeeeeet/tutor_session/internal/transport/rest/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestHandler handles session request endpoints
type RequestHandler struct {
	svc    *service.HandshakeService
	logger *zap.Logger
}

func NewRequestHandler(svc *service.HandshakeService, logger *zap.Logger) *RequestHandler {
	return &RequestHandler{svc: svc, logger: logger}
}

// SubmitRequest is the request body for POST /v1/requests
type SubmitRequest struct {
	TutorID int64 `json:"tutor_id"`
}

// Submit handles POST /v1/requests; the caller is the student
func (h *RequestHandler) Submit(w http.ResponseWriter, r *http.Request) {
	studentID := middleware.GetUserID(r.Context())

	var body SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req, err := h.svc.Submit(r.Context(), service.SubmitInput{TutorID: body.TutorID, StudentID: studentID})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, req)
}

// Get handles GET /v1/requests/{id}
func (h *RequestHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidVar(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid request id")
		return
	}

	req, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	userID := middleware.GetUserID(r.Context())
	if req.TutorID != userID && req.StudentID != userID {
		writeError(w, http.StatusForbidden, "not a participant of this request")
		return
	}

	writeJSON(w, http.StatusOK, req)
}

// Accept handles POST /v1/requests/{id}/accept
func (h *RequestHandler) Accept(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Accept)
}

// Reject handles POST /v1/requests/{id}/reject
func (h *RequestHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Reject)
}

// Cancel handles POST /v1/requests/{id}/cancel
func (h *RequestHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Cancel)
}

type transitionFunc func(ctx context.Context, userID int64, requestID uuid.UUID) (*model.SessionRequest, error)

func (h *RequestHandler) transition(w http.ResponseWriter, r *http.Request, fn transitionFunc) {
	id, ok := uuidVar(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid request id")
		return
	}

	req, err := fn(r.Context(), middleware.GetUserID(r.Context()), id)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, req)
}

// ListPending handles GET /v1/tutor/requests
func (h *RequestHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.svc.ListPending(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, reqs)
}

// ListMine handles GET /v1/student/requests
func (h *RequestHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.svc.ListByStudent(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, reqs)
}

// EndSession handles POST /v1/sessions/{sessionId}/end
func (h *RequestHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := uuidVar(r, "sessionId")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	req, err := h.svc.EndSession(r.Context(), middleware.GetUserID(r.Context()), sessionID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, req)
}
