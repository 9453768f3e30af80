package keyboard

import (
	"fmt"

	"github.com/Freeeeeet/tutor_session/internal/model"
	"github.com/go-telegram/bot/models"
	"github.com/google/uuid"
)

// Callback data prefixes, аргумент идёт после двоеточия
const (
	RequestSessionPrefix = "request_session:" // request_session:<tutor_id>
	AcceptRequestPrefix  = "accept_request:"  // accept_request:<request_id>
	RejectRequestPrefix  = "reject_request:"  // reject_request:<request_id>
	CancelRequestPrefix  = "cancel_request:"  // cancel_request:<request_id>
	EndSessionPrefix     = "end_session:"     // end_session:<session_id>

	BecomeTutorData = "become_tutor"
	NoopData        = "noop"
)

// IncomingRequest - кнопки для учителя под входящей заявкой
func IncomingRequest(requestID uuid.UUID) *models.InlineKeyboardMarkup {
	return Inline(Row(
		Button("✅ Принять", AcceptRequestPrefix+requestID.String()),
		Button("❌ Отклонить", RejectRequestPrefix+requestID.String()),
	))
}

// WaitingRequest - кнопка отмены для студента, пока учитель думает
func WaitingRequest(requestID uuid.UUID) *models.InlineKeyboardMarkup {
	return Inline(Row(Button("🚫 Отменить заявку", CancelRequestPrefix+requestID.String())))
}

// SessionRoom - кнопка завершения сессии
func SessionRoom(sessionID uuid.UUID) *models.InlineKeyboardMarkup {
	return Inline(Row(Button("🏁 Завершить сессию", EndSessionPrefix+sessionID.String())))
}

// TutorList - по кнопке на каждого свободного учителя
func TutorList(tutors []*model.User) *models.InlineKeyboardMarkup {
	rows := make([][]models.InlineKeyboardButton, 0, len(tutors))
	for _, t := range tutors {
		rows = append(rows, Row(Button("🎓 "+t.DisplayName, fmt.Sprintf("%s%d", RequestSessionPrefix, t.ID))))
	}
	return Inline(rows...)
}

// Button создаёт callback-кнопку
func Button(text, callbackData string) models.InlineKeyboardButton {
	return models.InlineKeyboardButton{Text: text, CallbackData: callbackData}
}

// Row - один ряд кнопок
func Row(buttons ...models.InlineKeyboardButton) []models.InlineKeyboardButton {
	return buttons
}

// Inline собирает inline клавиатуру из рядов
func Inline(rows ...[]models.InlineKeyboardButton) *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}
