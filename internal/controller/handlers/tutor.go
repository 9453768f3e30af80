package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/Freeeeeet/tutor_session/internal/controller/callbacks/common"
	"github.com/Freeeeeet/tutor_session/internal/controller/callbacks/common/formatting"
	"github.com/Freeeeeet/tutor_session/internal/controller/callbacks/common/keyboard"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"
)

// HandleBecomeTutor обрабатывает команду /becometutor
func (h *Handlers) HandleBecomeTutor(ctx context.Context, b *bot.Bot, update *models.Update) {
	user, ok := h.requireUser(ctx, b, update)
	if !ok {
		return
	}

	if user.IsTutor {
		h.sendMessage(ctx, b, update.Message.Chat.ID, "✅ Вы уже учитель.\n\nВходящие заявки: /requests", nil)
		return
	}

	if _, err := h.userService.BecomeTutor(ctx, user.ID); err != nil {
		h.logger.Error("Failed to become tutor", zap.Int64("user_id", user.ID), zap.Error(err))
		h.sendError(ctx, b, update.Message.Chat.ID, common.ErrorMessage(err))
		return
	}

	h.sendMessage(ctx, b, update.Message.Chat.ID,
		"🎓 Теперь вы учитель!\n\nНовые заявки будут приходить сюда. Посмотреть очередь: /requests", nil)
}

// HandleRequests обрабатывает команду /requests: старейшая заявка с кнопками, остальные ждут очереди
func (h *Handlers) HandleRequests(ctx context.Context, b *bot.Bot, update *models.Update) {
	user, ok := h.requireTutor(ctx, b, update)
	if !ok {
		return
	}

	pending, err := h.handshake.ListPending(ctx, user.ID)
	if err != nil {
		h.logger.Error("Failed to list pending requests", zap.Int64("tutor_id", user.ID), zap.Error(err))
		h.sendError(ctx, b, update.Message.Chat.ID, common.ErrorMessage(err))
		return
	}

	if len(pending) == 0 {
		h.sendMessage(ctx, b, update.Message.Chat.ID, "📭 Входящих заявок нет.", nil)
		return
	}

	oldest := pending[0]
	text := formatting.FormatIncomingRequest(oldest, h.handshake.RequestTTL(), time.Now())
	if rest := len(pending) - 1; rest > 0 {
		text += fmt.Sprintf("\n\n📥 В очереди ещё: %d", rest)
	}

	h.sendMessage(ctx, b, update.Message.Chat.ID, text, keyboard.IncomingRequest(oldest.ID))
}
