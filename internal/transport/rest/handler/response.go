package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Freeeeeet/tutor_session/internal/model"
	"github.com/Freeeeeet/tutor_session/internal/service"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// ErrorResponse is the JSON body of every error reply
type ErrorResponse struct {
	Error         string               `json:"error"`
	Fields        []service.FieldError `json:"fields,omitempty"`
	CurrentStatus model.RequestStatus  `json:"current_status,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// writeServiceError maps the service error taxonomy onto HTTP statuses
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var (
		validationErr *service.ValidationError
		notFoundErr   *service.NotFoundError
		forbiddenErr  *service.ForbiddenError
		conflictErr   *service.ConflictError
		transientErr  *service.TransientError
	)

	switch {
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:  validationErr.Error(),
			Fields: validationErr.Fields,
		})
	case errors.As(err, &notFoundErr):
		writeError(w, http.StatusNotFound, notFoundErr.Error())
	case errors.As(err, &forbiddenErr):
		writeError(w, http.StatusForbidden, forbiddenErr.Error())
	case errors.As(err, &conflictErr):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:         conflictErr.Error(),
			CurrentStatus: conflictErr.Current,
		})
	case errors.As(err, &transientErr):
		logger.Warn("Transient failure", zap.Error(err))
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable, please retry")
	default:
		logger.Error("Unhandled error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
	}
}

func uuidVar(r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
