package state

// UserState представляет текущее состояние пользователя в боте
type UserState string

const (
	StateNone UserState = "" // Нет активного состояния

	StateWaitingForTutor UserState = "waiting_for_tutor" // Студент ждёт ответа на заявку
	StateInSession       UserState = "in_session"        // Комната открыта
)

// Ключи временных данных
const (
	KeyRequestID = "request_id"
	KeySessionID = "session_id"
)

// UserData хранит временные данные пользователя
type UserData struct {
	State UserState
	Data  map[string]interface{}
}
