package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/Freeeeeet/tutor_session/internal/model"
	"github.com/Freeeeeet/tutor_session/internal/service"
	"github.com/Freeeeeet/tutor_session/internal/transport/rest/middleware"
	"go.uber.org/zap"
)

// TokenIssuer issues bearer tokens for users
type TokenIssuer interface {
	Issue(userID int64) (string, time.Time, error)
}

// UserHandler handles user endpoints
type UserHandler struct {
	users  *service.UserService
	tokens TokenIssuer
	logger *zap.Logger
}

func NewUserHandler(users *service.UserService, tokens TokenIssuer, logger *zap.Logger) *UserHandler {
	return &UserHandler{users: users, tokens: tokens, logger: logger}
}

// RegisterResponse is returned by POST /v1/users
type RegisterResponse struct {
	User      *model.User `json:"user"`
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// Register handles POST /v1/users
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var body service.RegisterInput
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.users.Register(r.Context(), body)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	token, exp, err := h.tokens.Issue(user.ID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, RegisterResponse{User: user, Token: token, ExpiresAt: exp})
}

// Me handles GET /v1/me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.GetByID(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// BecomeTutor handles POST /v1/me/tutor
func (h *UserHandler) BecomeTutor(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.BecomeTutor(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// ListTutors handles GET /v1/tutors
func (h *UserHandler) ListTutors(w http.ResponseWriter, r *http.Request) {
	tutors, err := h.users.ListAvailableTutors(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if tutors == nil {
		tutors = []*model.User{}
	}

	writeJSON(w, http.StatusOK, tutors)
}
