package tutor

import (
	"context"

	"github.com/Freeeeeet/tutor_session/internal/controller/callbacks/callbacktypes"
	"github.com/Freeeeeet/tutor_session/internal/controller/callbacks/common"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"
)

// HandleBecomeTutor делает пользователя учителем
func HandleBecomeTutor(ctx context.Context, b *bot.Bot, callback *models.CallbackQuery, h *callbacktypes.Handler) {
	common.WithUser(ctx, b, callback, h, func(hc *common.HandlerContext) {
		if hc.User.IsTutor {
			hc.Answer("Вы уже учитель")
			return
		}

		if _, err := h.UserService.BecomeTutor(ctx, hc.User.ID); err != nil {
			common.HandleError(hc, err, "become_tutor")
			return
		}

		h.Logger.Info("User became a tutor", zap.Int64("user_id", hc.User.ID))

		_ = hc.EditMessage(
			"🎓 Теперь вы учитель!\n\n"+
				"Студенты увидят вас в /tutors, пока вы свободны.\n"+
				"Входящие заявки придут сюда, а также доступны через /requests.",
			nil,
		)
		hc.Answer("✅ Готово")
	})
}
