package student

import (
	"context"
	"fmt"

	"github.com/Freeeeeet/tutor_session/internal/controller/callbacks/callbacktypes"
	"github.com/Freeeeeet/tutor_session/internal/controller/callbacks/common"
	"github.com/Freeeeeet/tutor_session/internal/controller/callbacks/common/formatting"
	"github.com/Freeeeeet/tutor_session/internal/controller/callbacks/common/keyboard"
	"github.com/Freeeeeet/tutor_session/internal/controller/state"
	"github.com/Freeeeeet/tutor_session/internal/service"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"
)

// HandleRequestSession отправляет учителю заявку на сессию
func HandleRequestSession(ctx context.Context, b *bot.Bot, callback *models.CallbackQuery, h *callbacktypes.Handler) {
	tutorID, err := common.ParseIDFromCallback(callback.Data)
	if err != nil {
		common.AnswerCallbackAlert(ctx, b, callback.ID, common.ErrorMessage(err))
		return
	}

	common.WithUser(ctx, b, callback, h, func(hc *common.HandlerContext) {
		req, err := h.Handshake.Submit(ctx, service.SubmitInput{
			TutorID:   tutorID,
			StudentID: hc.User.ID,
		})
		if err != nil {
			common.HandleError(hc, err, "submit_request")
			return
		}

		h.StateManager.SetWaiting(hc.TelegramID, req.ID)

		h.Logger.Info("Session requested",
			zap.String("request_id", req.ID.String()),
			zap.Int64("tutor_id", tutorID),
			zap.Int64("student_id", hc.User.ID))

		text := fmt.Sprintf(
			"⏳ Заявка отправлена\n\n"+
				"Ждём ответа учителя. Если он не ответит за %s, заявка истечёт.",
			formatting.FormatWait(h.Handshake.RequestTTL()),
		)
		if err := hc.EditMessage(text, keyboard.WaitingRequest(req.ID)); err != nil {
			h.Logger.Warn("Failed to edit message", zap.Error(err))
		}
		hc.Answer("✅ Заявка отправлена")
	})
}

// HandleCancelRequest отменяет ожидающую заявку
func HandleCancelRequest(ctx context.Context, b *bot.Bot, callback *models.CallbackQuery, h *callbacktypes.Handler) {
	requestID, err := common.ParseUUIDFromCallback(callback.Data)
	if err != nil {
		common.AnswerCallbackAlert(ctx, b, callback.ID, common.ErrorMessage(err))
		return
	}

	common.WithUser(ctx, b, callback, h, func(hc *common.HandlerContext) {
		_, err := h.Handshake.Cancel(ctx, hc.User.ID, requestID)
		h.StateManager.ClearIf(hc.TelegramID, state.KeyRequestID, requestID)

		if err != nil {
			if conflictErr, settled := common.SettledConflict(err); settled {
				// Учитель успел раньше: итог придёт отдельным уведомлением
				_ = hc.EditMessage(common.ConflictMessage(conflictErr.Current), nil)
			}
			common.HandleError(hc, err, "cancel_request")
			return
		}

		if err := hc.EditMessage("🚫 Заявка отменена", nil); err != nil {
			h.Logger.Warn("Failed to edit message", zap.Error(err))
		}
		hc.Answer("Заявка отменена")
	})
}
