package callbacks

import (
	"context"
	"strings"

	"github.com/Freeeeeet/tutor_session/internal/controller/callbacks/callbacktypes"
	"github.com/Freeeeeet/tutor_session/internal/controller/callbacks/common"
	"github.com/Freeeeeet/tutor_session/internal/controller/callbacks/common/keyboard"
	"github.com/Freeeeeet/tutor_session/internal/controller/callbacks/session"
	"github.com/Freeeeeet/tutor_session/internal/controller/callbacks/student"
	"github.com/Freeeeeet/tutor_session/internal/controller/callbacks/tutor"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"
)

// Route распределяет callback query по соответствующим обработчикам
func Route(ctx context.Context, b *bot.Bot, callback *models.CallbackQuery, h *callbacktypes.Handler) {
	data := callback.Data

	h.Logger.Debug("Routing callback",
		zap.String("data", data),
		zap.Int64("user_id", callback.From.ID))

	switch {
	case data == keyboard.NoopData:
		common.AnswerCallback(ctx, b, callback.ID, "")

	// ===== Tutor =====
	case data == keyboard.BecomeTutorData:
		tutor.HandleBecomeTutor(ctx, b, callback, h)
	case strings.HasPrefix(data, keyboard.AcceptRequestPrefix):
		tutor.HandleAcceptRequest(ctx, b, callback, h)
	case strings.HasPrefix(data, keyboard.RejectRequestPrefix):
		tutor.HandleRejectRequest(ctx, b, callback, h)

	// ===== Student =====
	case strings.HasPrefix(data, keyboard.RequestSessionPrefix):
		student.HandleRequestSession(ctx, b, callback, h)
	case strings.HasPrefix(data, keyboard.CancelRequestPrefix):
		student.HandleCancelRequest(ctx, b, callback, h)

	// ===== Session =====
	case strings.HasPrefix(data, keyboard.EndSessionPrefix):
		session.HandleEndSession(ctx, b, callback, h)

	default:
		h.Logger.Warn("Unknown callback",
			zap.String("data", data),
			zap.Int64("user_id", callback.From.ID))
		common.AnswerCallback(ctx, b, callback.ID, "❌ Неизвестная команда")
	}
}
