package state

import (
	"sync"

	"github.com/google/uuid"
)

// Manager управляет состояниями пользователей бота.
// Состояние локально для процесса: источник истины всегда хранилище заявок.
type Manager struct {
	mu     sync.RWMutex
	states map[int64]*UserData // telegramID -> UserData
}

// NewManager создаёт новый менеджер состояний
func NewManager() *Manager {
	return &Manager{
		states: make(map[int64]*UserData),
	}
}

// GetState получает текущее состояние пользователя
func (sm *Manager) GetState(telegramID int64) UserState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if userData, exists := sm.states[telegramID]; exists {
		return userData.State
	}
	return StateNone
}

// SetState устанавливает состояние пользователя, сбрасывая прежние данные
func (sm *Manager) SetState(telegramID int64, state UserState, data map[string]interface{}) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if state == StateNone {
		delete(sm.states, telegramID)
		return
	}

	if data == nil {
		data = make(map[string]interface{})
	}
	sm.states[telegramID] = &UserData{State: state, Data: data}
}

// GetData получает временные данные пользователя
func (sm *Manager) GetData(telegramID int64, key string) (interface{}, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if userData, exists := sm.states[telegramID]; exists {
		value, ok := userData.Data[key]
		return value, ok
	}
	return nil, false
}

// ClearState очищает состояние и данные пользователя
func (sm *Manager) ClearState(telegramID int64) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	delete(sm.states, telegramID)
}

// ClearIf очищает состояние, только если оно всё ещё относится к данной заявке или сессии.
// Защищает от устаревших событий, пришедших после новой заявки.
func (sm *Manager) ClearIf(telegramID int64, key string, id uuid.UUID) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	userData, exists := sm.states[telegramID]
	if !exists {
		return
	}
	if v, ok := userData.Data[key].(uuid.UUID); ok && v == id {
		delete(sm.states, telegramID)
	}
}

// SetWaiting запоминает заявку, ответа на которую ждёт студент
func (sm *Manager) SetWaiting(telegramID int64, requestID uuid.UUID) {
	sm.SetState(telegramID, StateWaitingForTutor, map[string]interface{}{KeyRequestID: requestID})
}

// WaitingRequest возвращает заявку, если студент ждёт ответа
func (sm *Manager) WaitingRequest(telegramID int64) (uuid.UUID, bool) {
	return sm.idFor(telegramID, StateWaitingForTutor, KeyRequestID)
}

// SetInSession запоминает открытую комнату пользователя
func (sm *Manager) SetInSession(telegramID int64, sessionID uuid.UUID) {
	sm.SetState(telegramID, StateInSession, map[string]interface{}{KeySessionID: sessionID})
}

// CurrentSession возвращает открытую комнату пользователя
func (sm *Manager) CurrentSession(telegramID int64) (uuid.UUID, bool) {
	return sm.idFor(telegramID, StateInSession, KeySessionID)
}

func (sm *Manager) idFor(telegramID int64, state UserState, key string) (uuid.UUID, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	userData, exists := sm.states[telegramID]
	if !exists || userData.State != state {
		return uuid.Nil, false
	}
	id, ok := userData.Data[key].(uuid.UUID)
	return id, ok
}
