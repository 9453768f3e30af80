package handlers

import (
	"context"
	"fmt"

	"github.com/Freeeeeet/tutor_session/internal/controller/callbacks/common"
	"github.com/Freeeeeet/tutor_session/internal/controller/callbacks/common/keyboard"
	"github.com/Freeeeeet/tutor_session/internal/controller/state"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"
)

// HandleStart обрабатывает команду /start
func (h *Handlers) HandleStart(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}

	from := update.Message.From

	// Регистрируем пользователя
	user, err := h.userService.RegisterTelegramUser(ctx, from.ID, from.Username, from.FirstName, from.LastName)
	if err != nil {
		h.logger.Error("Failed to register user", zap.Error(err))
		h.sendError(ctx, b, update.Message.Chat.ID, "❌ Произошла ошибка при регистрации. Попробуйте позже.")
		return
	}

	welcomeText := fmt.Sprintf(
		"👋 Привет, %s!\n\n"+
			"Здесь можно позвать свободного учителя на занятие прямо сейчас.\n\n"+
			"/tutors - Свободные учителя\n"+
			"/myrequests - Мои заявки\n"+
			"/help - Справка",
		user.DisplayName,
	)

	var markup models.ReplyMarkup
	if !user.IsTutor {
		markup = keyboard.Inline(keyboard.Row(keyboard.Button("🎓 Стать учителем", keyboard.BecomeTutorData)))
	}

	h.sendMessage(ctx, b, update.Message.Chat.ID, welcomeText, markup)
}

// HandleHelp обрабатывает команду /help
func (h *Handlers) HandleHelp(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	helpText := "📚 Справка по командам:\n\n" +
		"Для студентов:\n" +
		"/tutors - Выбрать свободного учителя и отправить заявку\n" +
		"/myrequests - История моих заявок\n" +
		"/cancel - Отменить заявку, пока учитель не ответил\n\n" +
		"Для учителей:\n" +
		"/becometutor - Стать учителем\n" +
		"/requests - Входящие заявки\n\n" +
		"Во время занятия:\n" +
		"/end - Завершить занятие"

	h.sendMessage(ctx, b, update.Message.Chat.ID, helpText, nil)
}

// HandleCancel обрабатывает команду /cancel - отмена ожидающей заявки
func (h *Handlers) HandleCancel(ctx context.Context, b *bot.Bot, update *models.Update) {
	user, ok := h.requireUser(ctx, b, update)
	if !ok {
		return
	}

	chatID := update.Message.Chat.ID
	telegramID := update.Message.From.ID

	requestID, waiting := h.stateManager.WaitingRequest(telegramID)
	if !waiting {
		// Состояние живёт в памяти: после рестарта ищем заявку в хранилище
		requests, err := h.handshake.ListByStudent(ctx, user.ID)
		if err != nil {
			h.logger.Error("Failed to list student requests", zap.Error(err))
			h.sendError(ctx, b, chatID, common.ErrorMessage(err))
			return
		}
		for _, req := range requests {
			if req.IsPending() {
				requestID, waiting = req.ID, true
				break
			}
		}
	}

	if !waiting {
		h.sendMessage(ctx, b, chatID, "❌ Нет заявок, ожидающих ответа.", nil)
		return
	}

	_, err := h.handshake.Cancel(ctx, user.ID, requestID)
	h.stateManager.ClearIf(telegramID, state.KeyRequestID, requestID)
	if err != nil {
		h.logger.Info("Cancel refused", zap.String("request_id", requestID.String()), zap.Error(err))
		h.sendError(ctx, b, chatID, common.ErrorMessage(err))
		return
	}

	h.sendMessage(ctx, b, chatID, "🚫 Заявка отменена.", nil)
}

// HandleEnd обрабатывает команду /end - завершение текущего занятия
func (h *Handlers) HandleEnd(ctx context.Context, b *bot.Bot, update *models.Update) {
	user, ok := h.requireUser(ctx, b, update)
	if !ok {
		return
	}

	chatID := update.Message.Chat.ID

	sessionID, inSession := h.stateManager.CurrentSession(update.Message.From.ID)
	if !inSession {
		h.sendMessage(ctx, b, chatID, "❌ У вас нет активного занятия.", nil)
		return
	}

	if _, err := h.handshake.EndSession(ctx, user.ID, sessionID); err != nil {
		h.logger.Warn("Failed to end session", zap.String("session_id", sessionID.String()), zap.Error(err))
		h.sendError(ctx, b, chatID, common.ErrorMessage(err))
		return
	}

	h.sendMessage(ctx, b, chatID, "🏁 Занятие завершено.", nil)
}
