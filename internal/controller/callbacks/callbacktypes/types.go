package callbacktypes

import (
	"github.com/Freeeeeet/tutor_session/internal/controller/state"
	"github.com/Freeeeeet/tutor_session/internal/service"
	"go.uber.org/zap"
)

// Handler содержит общие зависимости для всех callback handlers
type Handler struct {
	UserService  *service.UserService
	Handshake    *service.HandshakeService
	StateManager *state.Manager
	Logger       *zap.Logger
}
