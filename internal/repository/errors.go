package repository

import "errors"

var (
	// ErrNotFound is returned when the addressed row does not exist
	ErrNotFound = errors.New("not found")
	// ErrStatusConflict is returned when a conditional status update matched no pending row
	ErrStatusConflict = errors.New("status conflict")
	// ErrTutorBusy is returned when accept would give a busy tutor a second live session
	ErrTutorBusy = errors.New("tutor is busy")
	// ErrSessionEnded is returned when the session room was already closed
	ErrSessionEnded = errors.New("session already ended")
)
