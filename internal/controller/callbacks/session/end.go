package session

import (
	"context"

	"github.com/Freeeeeet/tutor_session/internal/controller/callbacks/callbacktypes"
	"github.com/Freeeeeet/tutor_session/internal/controller/callbacks/common"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"
)

// HandleEndSession закрывает комнату по кнопке любого из участников
func HandleEndSession(ctx context.Context, b *bot.Bot, callback *models.CallbackQuery, h *callbacktypes.Handler) {
	sessionID, err := common.ParseUUIDFromCallback(callback.Data)
	if err != nil {
		common.AnswerCallbackAlert(ctx, b, callback.ID, common.ErrorMessage(err))
		return
	}

	common.WithUser(ctx, b, callback, h, func(hc *common.HandlerContext) {
		if _, err := h.Handshake.EndSession(ctx, hc.User.ID, sessionID); err != nil {
			common.HandleError(hc, err, "end_session")
			return
		}

		h.Logger.Info("Session ended",
			zap.String("session_id", sessionID.String()),
			zap.Int64("user_id", hc.User.ID))

		_ = hc.EditMessage("🏁 Занятие завершено", nil)
		hc.Answer("Занятие завершено")
	})
}
