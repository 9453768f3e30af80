package handlers

import (
	"context"
	"strings"

	"github.com/Freeeeeet/tutor_session/internal/controller/callbacks/common"
	"github.com/Freeeeeet/tutor_session/internal/controller/callbacks/common/formatting"
	"github.com/Freeeeeet/tutor_session/internal/controller/callbacks/common/keyboard"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"
)

const myRequestsLimit = 10

// HandleTutors обрабатывает команду /tutors
func (h *Handlers) HandleTutors(ctx context.Context, b *bot.Bot, update *models.Update) {
	user, ok := h.requireUser(ctx, b, update)
	if !ok {
		return
	}

	tutors, err := h.userService.ListAvailableTutors(ctx)
	if err != nil {
		h.logger.Error("Failed to list tutors", zap.Error(err))
		h.sendError(ctx, b, update.Message.Chat.ID, "❌ Ошибка при загрузке учителей")
		return
	}

	// Себе заявку не отправить
	available := tutors[:0:0]
	for _, t := range tutors {
		if t.ID != user.ID {
			available = append(available, t)
		}
	}

	if len(available) == 0 {
		h.sendMessage(ctx, b, update.Message.Chat.ID, "😴 Сейчас нет свободных учителей. Попробуйте чуть позже.", nil)
		return
	}

	h.sendMessage(ctx, b, update.Message.Chat.ID,
		"🎓 Свободные учителя\n\nВыберите учителя, чтобы отправить заявку:",
		keyboard.TutorList(available))
}

// HandleMyRequests обрабатывает команду /myrequests
func (h *Handlers) HandleMyRequests(ctx context.Context, b *bot.Bot, update *models.Update) {
	user, ok := h.requireUser(ctx, b, update)
	if !ok {
		return
	}

	requests, err := h.handshake.ListByStudent(ctx, user.ID)
	if err != nil {
		h.logger.Error("Failed to list student requests", zap.Error(err))
		h.sendError(ctx, b, update.Message.Chat.ID, common.ErrorMessage(err))
		return
	}

	if len(requests) == 0 {
		h.sendMessage(ctx, b, update.Message.Chat.ID, "📭 У вас пока нет заявок.\n\nНайти учителя: /tutors", nil)
		return
	}

	if len(requests) > myRequestsLimit {
		requests = requests[:myRequestsLimit]
	}

	var sb strings.Builder
	sb.WriteString("📋 Мои заявки\n")
	for _, req := range requests {
		sb.WriteString("\n")
		sb.WriteString(formatting.FormatRequestStatus(req))
		sb.WriteString("\n")
	}

	h.sendMessage(ctx, b, update.Message.Chat.ID, sb.String(), nil)
}
