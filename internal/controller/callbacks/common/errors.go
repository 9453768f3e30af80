package common

import (
	"errors"

	"github.com/Freeeeeet/tutor_session/internal/model"
	"github.com/Freeeeeet/tutor_session/internal/service"
)

// Общие ошибки для обработчиков
var (
	ErrUserNotFound  = errors.New("user not found")
	ErrNotATutor     = errors.New("user is not a tutor")
	ErrNoMessage     = errors.New("no message in callback")
	ErrInvalidFormat = errors.New("invalid callback format")
)

// ErrorMessage возвращает пользовательское сообщение для ошибки
func ErrorMessage(err error) string {
	var (
		validationErr *service.ValidationError
		conflictErr   *service.ConflictError
	)

	switch {
	case errors.Is(err, ErrUserNotFound):
		return "❌ Пользователь не найден. Используйте /start"
	case errors.Is(err, ErrNotATutor):
		return "❌ Эта функция доступна только учителям"
	case errors.Is(err, ErrNoMessage):
		return "❌ Ошибка обработки сообщения"
	case errors.Is(err, ErrInvalidFormat):
		return "❌ Неверный формат данных"
	case errors.As(err, &validationErr):
		if len(validationErr.Fields) > 0 {
			return "❌ " + validationErr.Fields[0].Error
		}
		return "❌ " + validationErr.Error()
	case service.IsNotFound(err):
		return "❌ Заявка не найдена"
	case service.IsForbidden(err):
		return "❌ Это не ваша заявка"
	case errors.As(err, &conflictErr):
		if !conflictErr.Current.IsTerminal() {
			return "⏳ Вы ещё в другой сессии. Завершите её, чтобы принять заявку"
		}
		return ConflictMessage(conflictErr.Current)
	case service.IsTransient(err):
		return "⚠️ Сервис временно недоступен. Попробуйте ещё раз."
	default:
		return "❌ Произошла ошибка"
	}
}

// ConflictMessage объясняет, почему действие с заявкой опоздало
func ConflictMessage(current model.RequestStatus) string {
	switch current {
	case model.RequestStatusAccepted:
		return "⌛ Слишком поздно: учитель уже принял заявку"
	case model.RequestStatusCancelled:
		return "⌛ Заявка уже отменена студентом"
	case model.RequestStatusExpired:
		return "⌛ Время ожидания заявки истекло"
	case model.RequestStatusRejected:
		return "⌛ Заявка уже отклонена"
	default:
		return "⌛ Заявка больше не актуальна"
	}
}

// SettledConflict отдаёт конфликт, только если заявка уже решена и её кнопки пора убрать
func SettledConflict(err error) (*service.ConflictError, bool) {
	var conflictErr *service.ConflictError
	if errors.As(err, &conflictErr) && conflictErr.Current.IsTerminal() {
		return conflictErr, true
	}
	return nil, false
}

func isExpected(err error) bool {
	return service.IsValidation(err) || service.IsConflict(err) || service.IsForbidden(err) || service.IsNotFound(err)
}
