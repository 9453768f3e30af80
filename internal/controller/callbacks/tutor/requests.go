package tutor

import (
	"context"

	"github.com/Freeeeeet/tutor_session/internal/controller/callbacks/callbacktypes"
	"github.com/Freeeeeet/tutor_session/internal/controller/callbacks/common"
	"github.com/Freeeeeet/tutor_session/internal/controller/callbacks/common/keyboard"
	"github.com/Freeeeeet/tutor_session/internal/model"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type transition func(ctx context.Context, tutorID int64, requestID uuid.UUID) (*model.SessionRequest, error)

// HandleAcceptRequest принимает заявку и открывает комнату
func HandleAcceptRequest(ctx context.Context, b *bot.Bot, callback *models.CallbackQuery, h *callbacktypes.Handler) {
	resolve(ctx, b, callback, h, "accept_request", h.Handshake.Accept, func(hc *common.HandlerContext, req *model.SessionRequest) {
		// Ключ комнаты приходит обоим участникам отдельным уведомлением
		_ = hc.EditMessage("✅ Заявка принята: "+req.StudentDisplayName, keyboard.SessionRoom(*req.SessionID))
		hc.Answer("✅ Заявка принята")
	})
}

// HandleRejectRequest отклоняет заявку
func HandleRejectRequest(ctx context.Context, b *bot.Bot, callback *models.CallbackQuery, h *callbacktypes.Handler) {
	resolve(ctx, b, callback, h, "reject_request", h.Handshake.Reject, func(hc *common.HandlerContext, req *model.SessionRequest) {
		_ = hc.EditMessage("❌ Заявка отклонена: "+req.StudentDisplayName, nil)
		hc.Answer("Заявка отклонена")
	})
}

func resolve(
	ctx context.Context,
	b *bot.Bot,
	callback *models.CallbackQuery,
	h *callbacktypes.Handler,
	operation string,
	fn transition,
	onSuccess func(*common.HandlerContext, *model.SessionRequest),
) {
	requestID, err := common.ParseUUIDFromCallback(callback.Data)
	if err != nil {
		common.AnswerCallbackAlert(ctx, b, callback.ID, common.ErrorMessage(err))
		return
	}

	common.WithTutor(ctx, b, callback, h, func(hc *common.HandlerContext) {
		req, err := fn(ctx, hc.User.ID, requestID)
		if err != nil {
			if conflictErr, settled := common.SettledConflict(err); settled {
				// Кнопки больше не нужны: заявка уже решена
				_ = hc.EditMessage(common.ConflictMessage(conflictErr.Current), nil)
			}
			common.HandleError(hc, err, operation)
			return
		}

		h.Logger.Info("Request resolved",
			zap.String("operation", operation),
			zap.String("request_id", req.ID.String()),
			zap.Int64("tutor_id", hc.User.ID))

		onSuccess(hc, req)
	})
}
