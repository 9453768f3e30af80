package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Freeeeeet/tutor_session/internal/controller/callbacks/common/formatting"
	"github.com/Freeeeeet/tutor_session/internal/controller/callbacks/common/keyboard"
	"github.com/Freeeeeet/tutor_session/internal/controller/state"
	"github.com/Freeeeeet/tutor_session/internal/model"
	"github.com/Freeeeeet/tutor_session/internal/notify"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Sender is the part of the Telegram client the notifier needs
type Sender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	EditMessageText(ctx context.Context, params *bot.EditMessageTextParams) (*models.Message, error)
}

// UserLookup resolves participants to their Telegram chats
type UserLookup interface {
	GetByID(ctx context.Context, id int64) (*model.User, error)
}

// RequestReader re-reads a request before pushing about it
type RequestReader interface {
	Get(ctx context.Context, requestID uuid.UUID) (*model.SessionRequest, error)
	RequestTTL() time.Duration
}

// Notifier pushes handshake events to participants' Telegram chats
type Notifier struct {
	sender       Sender
	subscriber   notify.Subscriber
	users        UserLookup
	requests     RequestReader
	stateManager *state.Manager
	now          func() time.Time
	logger       *zap.Logger

	mu       sync.Mutex
	incoming map[uuid.UUID]pushedMessage // заявка -> сообщение учителю с кнопками
}

type pushedMessage struct {
	chatID    int64
	messageID int
}

func NewNotifier(
	sender Sender,
	subscriber notify.Subscriber,
	users UserLookup,
	requests RequestReader,
	stateManager *state.Manager,
	logger *zap.Logger,
) *Notifier {
	return &Notifier{
		sender:       sender,
		subscriber:   subscriber,
		users:        users,
		requests:     requests,
		stateManager: stateManager,
		now:          time.Now,
		logger:       logger,
		incoming:     make(map[uuid.UUID]pushedMessage),
	}
}

// Run consumes events until ctx is done or the hub shuts down
func (n *Notifier) Run(ctx context.Context) error {
	sub, err := n.subscriber.Subscribe(model.TopicAll)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer sub.Close()

	n.logger.Info("Notifier started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.C:
			if !ok {
				n.logger.Info("Notifier feed closed")
				return nil
			}
			n.handle(ctx, ev)
		}
	}
}

func (n *Notifier) handle(ctx context.Context, ev model.Event) {
	req := ev.Request

	n.logger.Debug("Handling event",
		zap.String("type", string(ev.Type)),
		zap.String("request_id", req.ID.String()))

	switch ev.Type {
	case model.EventSubmitted:
		// Заявка могла решиться до того, как мы до неё дошли
		current, err := n.requests.Get(ctx, req.ID)
		if err != nil {
			n.logger.Warn("Failed to re-read request", zap.String("request_id", req.ID.String()), zap.Error(err))
			return
		}
		if current.Status != model.RequestStatusPending {
			return
		}
		if msg, ok := n.sendTo(ctx, current.TutorID,
			formatting.FormatIncomingRequest(current, n.requests.RequestTTL(), n.now()),
			keyboard.IncomingRequest(current.ID)); ok && msg.messageID != 0 {
			n.mu.Lock()
			n.incoming[current.ID] = msg
			n.mu.Unlock()
		}

	case model.EventAccepted:
		// Сообщение с кнопками учитель уже отредактировал сам
		n.forgetIncoming(req.ID)

		room, ok := req.RoomKey()
		if !ok {
			n.logger.Error("Accepted event without session", zap.String("request_id", req.ID.String()))
			return
		}
		for _, userID := range []int64{req.TutorID, req.StudentID} {
			if msg, ok := n.sendTo(ctx, userID, formatting.FormatRoom(room), keyboard.SessionRoom(room)); ok {
				n.stateManager.SetInSession(msg.chatID, room)
			}
		}

	case model.EventRejected, model.EventExpired:
		if msg, ok := n.sendTo(ctx, req.StudentID, "😔 Учитель не может принять вашу сессию.\n\nПопробуйте другого учителя: /tutors", nil); ok {
			n.stateManager.ClearIf(msg.chatID, state.KeyRequestID, req.ID)
		}
		if ev.Type == model.EventExpired {
			n.closeIncoming(ctx, req.ID, "⌛ Заявка от "+req.StudentDisplayName+" истекла")
		} else {
			n.forgetIncoming(req.ID)
		}

	case model.EventCancelled:
		n.closeIncoming(ctx, req.ID, "🚫 "+req.StudentDisplayName+" отменил(а) заявку")

	case model.EventSessionEnded:
		room, ok := req.RoomKey()
		if !ok {
			return
		}
		for _, userID := range []int64{req.TutorID, req.StudentID} {
			if msg, ok := n.sendTo(ctx, userID, "🏁 Занятие завершено", nil); ok {
				n.stateManager.ClearIf(msg.chatID, state.KeySessionID, room)
			}
		}

	default:
		n.logger.Warn("Unknown event type", zap.String("type", string(ev.Type)))
	}
}

// closeIncoming заменяет текст сообщения с заявкой и убирает его кнопки.
// Если сообщения нет (учитель без Telegram или рестарт), ничего не шлём:
// устаревшая кнопка ответит конфликтом.
func (n *Notifier) closeIncoming(ctx context.Context, requestID uuid.UUID, text string) {
	n.mu.Lock()
	msg, ok := n.incoming[requestID]
	delete(n.incoming, requestID)
	n.mu.Unlock()
	if !ok {
		return
	}

	_, err := n.sender.EditMessageText(ctx, &bot.EditMessageTextParams{
		ChatID:    msg.chatID,
		MessageID: msg.messageID,
		Text:      text,
	})
	if err != nil {
		n.logger.Warn("Failed to close incoming request message",
			zap.String("request_id", requestID.String()),
			zap.Error(err))
	}
}

func (n *Notifier) forgetIncoming(requestID uuid.UUID) {
	n.mu.Lock()
	delete(n.incoming, requestID)
	n.mu.Unlock()
}

// sendTo пишет пользователю, если у него есть Telegram
func (n *Notifier) sendTo(ctx context.Context, userID int64, text string, markup models.ReplyMarkup) (pushedMessage, bool) {
	user, err := n.users.GetByID(ctx, userID)
	if err != nil {
		n.logger.Warn("Failed to load user", zap.Int64("user_id", userID), zap.Error(err))
		return pushedMessage{}, false
	}
	if user == nil || user.TelegramID == nil {
		return pushedMessage{}, false
	}

	msg := pushedMessage{chatID: *user.TelegramID}
	params := &bot.SendMessageParams{
		ChatID: msg.chatID,
		Text:   text,
	}
	if markup != nil {
		params.ReplyMarkup = markup
	}

	sent, err := n.sender.SendMessage(ctx, params)
	if err != nil {
		n.logger.Warn("Failed to push notification",
			zap.Int64("user_id", userID),
			zap.Error(err))
	} else if sent != nil {
		msg.messageID = sent.ID
	}
	return msg, true
}
