package model

import (
	"time"

	"github.com/google/uuid"
)

// RequestStatus is the lifecycle state of a session request
type RequestStatus string

const (
	RequestStatusPending   RequestStatus = "pending"   // Ждёт ответа учителя
	RequestStatusAccepted  RequestStatus = "accepted"  // Учитель принял, комната создана
	RequestStatusRejected  RequestStatus = "rejected"  // Учитель отклонил
	RequestStatusCancelled RequestStatus = "cancelled" // Студент отменил
	RequestStatusExpired   RequestStatus = "expired"   // Истекло окно ожидания
)

// DefaultRequestTTL is how long a request may stay pending before it is treated as expired
const DefaultRequestTTL = 2 * time.Minute

// SessionRequest represents a student's proposal to start a live session with a tutor
type SessionRequest struct {
	ID                 uuid.UUID     `json:"request_id"`
	TutorID            int64         `json:"tutor_id"`
	StudentID          int64         `json:"student_id"`
	StudentDisplayName string        `json:"student_display_name"`
	Status             RequestStatus `json:"status"`
	SessionID          *uuid.UUID    `json:"session_id,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	ResolvedAt         *time.Time    `json:"resolved_at,omitempty"`
	EndedAt            *time.Time    `json:"ended_at,omitempty"` // Комната закрыта, учитель свободен
}

// IsValid reports whether s is one of the known statuses
func (s RequestStatus) IsValid() bool {
	switch s {
	case RequestStatusPending, RequestStatusAccepted, RequestStatusRejected,
		RequestStatusCancelled, RequestStatusExpired:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is allowed from s
func (s RequestStatus) IsTerminal() bool {
	return s.IsValid() && s != RequestStatusPending
}

// CanTransition reports whether from -> to is an edge of the request state machine.
// Only pending has outgoing edges and every target is terminal.
func CanTransition(from, to RequestStatus) bool {
	return from == RequestStatusPending && to.IsTerminal()
}

// IsPending checks if request is stored as pending (expiry not applied)
func (r *SessionRequest) IsPending() bool {
	return r.Status == RequestStatusPending
}

// ExpiresAt returns the moment a pending request stops being actionable
func (r *SessionRequest) ExpiresAt(ttl time.Duration) time.Time {
	return r.CreatedAt.Add(ttl)
}

// IsExpired reports whether a pending request has outlived ttl at now
func (r *SessionRequest) IsExpired(now time.Time, ttl time.Duration) bool {
	return r.IsPending() && !now.Before(r.ExpiresAt(ttl))
}

// EffectiveStatus is the status every reader should observe:
// a pending request older than ttl reads as expired even if no sweep has run yet.
func (r *SessionRequest) EffectiveStatus(now time.Time, ttl time.Duration) RequestStatus {
	if r.IsExpired(now, ttl) {
		return RequestStatusExpired
	}
	return r.Status
}

// WithEffectiveStatus returns a copy of r with the lazily computed status applied
func (r *SessionRequest) WithEffectiveStatus(now time.Time, ttl time.Duration) *SessionRequest {
	cp := *r
	if r.IsExpired(now, ttl) {
		cp.Status = RequestStatusExpired
		resolved := r.ExpiresAt(ttl)
		cp.ResolvedAt = &resolved
	}
	return &cp
}

// RoomKey returns the id both parties use to join the video and whiteboard room
func (r *SessionRequest) RoomKey() (uuid.UUID, bool) {
	if r.Status != RequestStatusAccepted || r.SessionID == nil {
		return uuid.Nil, false
	}
	return *r.SessionID, true
}

// SessionLive reports whether the request holds a room that has not been closed yet
func (r *SessionRequest) SessionLive() bool {
	return r.Status == RequestStatusAccepted && r.EndedAt == nil
}

// CheckInvariants validates the record-level invariants of a request
func (r *SessionRequest) CheckInvariants() error {
	if !r.Status.IsValid() {
		return &InvariantError{Reason: "unknown status " + string(r.Status)}
	}
	hasSession := r.SessionID != nil && *r.SessionID != uuid.Nil
	if hasSession != (r.Status == RequestStatusAccepted) {
		return &InvariantError{Reason: "session id must be set iff status is accepted"}
	}
	if r.EndedAt != nil && r.Status != RequestStatusAccepted {
		return &InvariantError{Reason: "only an accepted session can end"}
	}
	if r.TutorID == r.StudentID {
		return &InvariantError{Reason: "tutor and student must differ"}
	}
	return nil
}

// InvariantError describes a broken record invariant
type InvariantError struct {
	Reason string
}

func (e *InvariantError) Error() string {
	return "session request invariant: " + e.Reason
}
