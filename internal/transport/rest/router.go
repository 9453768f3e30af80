package rest

import (
	"net/http"

	"github.com/Freeeeeet/tutor_session/internal/auth"
	"github.com/Freeeeeet/tutor_session/internal/service"
	"github.com/Freeeeeet/tutor_session/internal/transport/rest/handler"
	"github.com/Freeeeeet/tutor_session/internal/transport/rest/middleware"
	"github.com/Freeeeeet/tutor_session/internal/transport/ws"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Container holds all dependencies for the router
type Container struct {
	Handshake *service.HandshakeService
	Users     *service.UserService
	Tokens    *auth.Manager
	Logger    *zap.Logger
}

// NewRouter creates the API router with all endpoints
func NewRouter(c *Container) http.Handler {
	r := mux.NewRouter()

	requestHandler := handler.NewRequestHandler(c.Handshake, c.Logger)
	userHandler := handler.NewUserHandler(c.Users, c.Tokens, c.Logger)
	wsHandler := ws.NewHandler(c.Handshake, c.Logger)

	authMW := middleware.NewAuthMiddleware(c.Tokens)

	r.Use(middleware.Logging(c.Logger))

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	v1 := r.PathPrefix("/v1").Subrouter()

	// Public routes
	v1.HandleFunc("/users", userHandler.Register).Methods("POST")

	// Authenticated routes
	private := v1.NewRoute().Subrouter()
	private.Use(authMW.RequireUser)

	private.HandleFunc("/me", userHandler.Me).Methods("GET")
	private.HandleFunc("/me/tutor", userHandler.BecomeTutor).Methods("POST")
	private.HandleFunc("/tutors", userHandler.ListTutors).Methods("GET")

	private.HandleFunc("/requests", requestHandler.Submit).Methods("POST")
	private.HandleFunc("/requests/{id}", requestHandler.Get).Methods("GET")
	private.HandleFunc("/requests/{id}/accept", requestHandler.Accept).Methods("POST")
	private.HandleFunc("/requests/{id}/reject", requestHandler.Reject).Methods("POST")
	private.HandleFunc("/requests/{id}/cancel", requestHandler.Cancel).Methods("POST")
	private.HandleFunc("/tutor/requests", requestHandler.ListPending).Methods("GET")
	private.HandleFunc("/student/requests", requestHandler.ListMine).Methods("GET")
	private.HandleFunc("/sessions/{sessionId}/end", requestHandler.EndSession).Methods("POST")

	// WebSocket routes, token in query param
	private.HandleFunc("/ws/tutor", wsHandler.TutorWS).Methods("GET")
	private.HandleFunc("/ws/requests/{id}", wsHandler.RequestWS).Methods("GET")

	return r
}
