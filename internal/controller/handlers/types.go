package handlers

import (
	"github.com/Freeeeeet/tutor_session/internal/controller/state"
	"github.com/Freeeeeet/tutor_session/internal/service"
	"go.uber.org/zap"
)

// Handlers содержит все зависимости для обработки команд
type Handlers struct {
	userService  *service.UserService
	handshake    *service.HandshakeService
	stateManager *state.Manager
	logger       *zap.Logger
}

// NewHandlers создаёт новый обработчик команд
func NewHandlers(
	userService *service.UserService,
	handshake *service.HandshakeService,
	stateManager *state.Manager,
	logger *zap.Logger,
) *Handlers {
	return &Handlers{
		userService:  userService,
		handshake:    handshake,
		stateManager: stateManager,
		logger:       logger,
	}
}
