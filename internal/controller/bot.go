package controller

import (
	"context"

	"github.com/Freeeeeet/tutor_session/internal/controller/callbacks"
	"github.com/Freeeeeet/tutor_session/internal/controller/handlers"
	"github.com/Freeeeeet/tutor_session/internal/controller/state"
	"github.com/Freeeeeet/tutor_session/internal/notify"
	"github.com/Freeeeeet/tutor_session/internal/service"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"
)

type BotController struct {
	bot             *bot.Bot
	handlers        *handlers.Handlers
	callbackHandler *callbacks.Handler
	notifier        *Notifier
	logger          *zap.Logger
}

func NewBotController(
	botInstance *bot.Bot,
	userService *service.UserService,
	handshake *service.HandshakeService,
	subscriber notify.Subscriber,
	logger *zap.Logger,
) *BotController {
	// Создаём менеджер состояний
	stateManager := state.NewManager()

	cmdHandlers := handlers.NewHandlers(userService, handshake, stateManager, logger)
	callbackHandler := callbacks.NewHandler(userService, handshake, stateManager, logger)
	notifier := NewNotifier(botInstance, subscriber, userService, handshake, stateManager, logger.Named("notifier"))

	return &BotController{
		bot:             botInstance,
		handlers:        cmdHandlers,
		callbackHandler: callbackHandler,
		notifier:        notifier,
		logger:          logger,
	}
}

// RegisterHandlers регистрирует все обработчики команд
func (c *BotController) RegisterHandlers(ctx context.Context) error {
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypeExact, c.handlers.HandleStart)
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "/help", bot.MatchTypeExact, c.handlers.HandleHelp)

	// Студент
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "/tutors", bot.MatchTypeExact, c.handlers.HandleTutors)
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "/myrequests", bot.MatchTypeExact, c.handlers.HandleMyRequests)
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "/cancel", bot.MatchTypeExact, c.handlers.HandleCancel)

	// Учитель
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "/becometutor", bot.MatchTypeExact, c.handlers.HandleBecomeTutor)
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "/requests", bot.MatchTypeExact, c.handlers.HandleRequests)

	// Оба участника
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "/end", bot.MatchTypeExact, c.handlers.HandleEnd)

	// Обработчик нажатий на inline кнопки
	c.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, "", bot.MatchTypePrefix, c.callbackHandler.HandleCallbackQuery)

	// Устанавливаем меню команд
	return c.setCommands(ctx)
}

// setCommands устанавливает список команд в меню бота
func (c *BotController) setCommands(ctx context.Context) error {
	commands := []models.BotCommand{
		{Command: "start", Description: "🚀 Начать работу с ботом"},
		{Command: "help", Description: "❓ Справка по командам"},
		{Command: "tutors", Description: "🎓 Свободные учителя"},
		{Command: "myrequests", Description: "📋 Мои заявки"},
		{Command: "cancel", Description: "🚫 Отменить заявку"},
		{Command: "becometutor", Description: "🎓 Стать учителем"},
		{Command: "requests", Description: "📥 Входящие заявки (учитель)"},
		{Command: "end", Description: "🏁 Завершить занятие"},
	}

	_, err := c.bot.SetMyCommands(ctx, &bot.SetMyCommandsParams{
		Commands: commands,
	})

	if err != nil {
		c.logger.Error("Failed to set bot commands", zap.Error(err))
		return err
	}

	c.logger.Info("✅ Bot commands menu set")
	return nil
}

// Start запускает бота и рассыльщик уведомлений; блокируется до отмены ctx
func (c *BotController) Start(ctx context.Context) error {
	c.logger.Info("Starting bot...")

	notifierDone := make(chan error, 1)
	go func() {
		notifierDone <- c.notifier.Run(ctx)
	}()

	c.bot.Start(ctx)

	return <-notifierDone
}
