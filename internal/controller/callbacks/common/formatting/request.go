package formatting

import (
	"fmt"
	"time"

	"github.com/Freeeeeet/tutor_session/internal/model"
)

// RequestStatusDisplay представляет отображение статуса заявки
type RequestStatusDisplay struct {
	Emoji string
	Text  string
}

// GetRequestStatusDisplay возвращает emoji и текст для статуса заявки
func GetRequestStatusDisplay(status model.RequestStatus) RequestStatusDisplay {
	displays := map[model.RequestStatus]RequestStatusDisplay{
		model.RequestStatusPending:   {"⏳", "Ожидает ответа"},
		model.RequestStatusAccepted:  {"✅", "Принята"},
		model.RequestStatusRejected:  {"🚫", "Отклонена"},
		model.RequestStatusCancelled: {"❌", "Отменена"},
		model.RequestStatusExpired:   {"⌛", "Истекла"},
	}

	if display, ok := displays[status]; ok {
		return display
	}

	return RequestStatusDisplay{"❓", "Неизвестно"}
}

// FormatDateTime форматирует дату и время
func FormatDateTime(t time.Time) string {
	return t.Format("02.01.2006 15:04")
}

// FormatWait форматирует оставшееся время ожидания, например "1 мин 30 с"
func FormatWait(d time.Duration) string {
	if d <= 0 {
		return "0 с"
	}
	d = d.Round(time.Second)
	minutes := int(d / time.Minute)
	seconds := int((d % time.Minute) / time.Second)
	switch {
	case minutes == 0:
		return fmt.Sprintf("%d с", seconds)
	case seconds == 0:
		return fmt.Sprintf("%d мин", minutes)
	default:
		return fmt.Sprintf("%d мин %d с", minutes, seconds)
	}
}

// FormatIncomingRequest форматирует заявку для учителя
func FormatIncomingRequest(req *model.SessionRequest, ttl time.Duration, now time.Time) string {
	return fmt.Sprintf(
		"🔔 Новая заявка на занятие\n\n"+
			"👤 Студент: %s\n"+
			"🕐 Создана: %s\n"+
			"⏳ Ответить в течение: %s",
		req.StudentDisplayName,
		FormatDateTime(req.CreatedAt),
		FormatWait(req.ExpiresAt(ttl).Sub(now)),
	)
}

// FormatRequestStatus форматирует заявку для студента
func FormatRequestStatus(req *model.SessionRequest) string {
	display := GetRequestStatusDisplay(req.Status)
	text := fmt.Sprintf("%s Заявка от %s\n📊 Статус: %s", display.Emoji, FormatDateTime(req.CreatedAt), display.Text)
	if room, ok := req.RoomKey(); ok {
		text += "\n🔑 Комната: " + room.String()
	}
	return text
}

// FormatRoom форматирует приглашение в комнату
func FormatRoom(sessionID fmt.Stringer) string {
	return fmt.Sprintf(
		"🎥 Комната занятия готова!\n\n"+
			"🔑 Ключ комнаты: %s\n\n"+
			"Используйте этот ключ для видео и доски. Завершить занятие: /end",
		sessionID,
	)
}
