package model

import "time"

type User struct {
	ID          int64     `json:"id"`
	TelegramID  *int64    `json:"telegram_id,omitempty"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	IsTutor     bool      `json:"is_tutor"`
	IsBusy      bool      `json:"is_busy"` // В сессии: выставляется при accept, снимается по окончании комнаты
	CreatedAt   time.Time `json:"created_at"`
}

// CanTakeRequests reports whether a student may address a new request to u
func (u *User) CanTakeRequests() bool {
	return u.IsTutor && !u.IsBusy
}
