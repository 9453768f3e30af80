package repository

import (
	"time"

	"github.com/Freeeeeet/tutor_session/internal/model"
	"github.com/google/uuid"
)

// Transition describes one compare-and-swap on a request status.
// The swap only applies while the row is pending and was created after CreatedAfter.
type Transition struct {
	RequestID    uuid.UUID
	To           model.RequestStatus
	SessionID    *uuid.UUID
	CreatedAfter time.Time // zero value disables the expiry guard
	At           time.Time
}
