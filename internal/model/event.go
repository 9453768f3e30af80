package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventSubmitted    EventType = "submitted"
	EventAccepted     EventType = "accepted"
	EventRejected     EventType = "rejected"
	EventCancelled    EventType = "cancelled"
	EventExpired      EventType = "expired"
	EventSessionEnded EventType = "session_ended"
)

// Event is a change notification about a single session request.
// Consumers treat it as a trigger and re-read the store for the latest state.
type Event struct {
	Type    EventType      `json:"type"`
	Request SessionRequest `json:"request"`
	At      time.Time      `json:"at"`
}

// EventForStatus maps a terminal status to the event announcing it
func EventForStatus(status RequestStatus) EventType {
	switch status {
	case RequestStatusAccepted:
		return EventAccepted
	case RequestStatusRejected:
		return EventRejected
	case RequestStatusCancelled:
		return EventCancelled
	case RequestStatusExpired:
		return EventExpired
	default:
		return EventSubmitted
	}
}

// Topic names used by the notification hub
const TopicAll = "all"

func TutorTopic(tutorID int64) string {
	return fmt.Sprintf("tutor:%d", tutorID)
}

func StudentTopic(studentID int64) string {
	return fmt.Sprintf("student:%d", studentID)
}

func RequestTopic(id uuid.UUID) string {
	return "request:" + id.String()
}

// Topics lists every topic an event about r must reach
func (e Event) Topics() []string {
	return []string{
		TopicAll,
		TutorTopic(e.Request.TutorID),
		StudentTopic(e.Request.StudentID),
		RequestTopic(e.Request.ID),
	}
}
