package service

import (
	"context"
	"time"

	"github.com/Freeeeeet/tutor_session/internal/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// expirySlack keeps expiry timers from firing a hair before the window closes
const expirySlack = 10 * time.Millisecond

// WatchPending streams snapshots of the tutor's pending queue, oldest first.
// The first snapshot is sent immediately; a new one follows every change on the
// tutor's topic and every time the oldest entry runs out of time.
// The channel is closed when ctx ends or the queue can no longer be read.
func (s *HandshakeService) WatchPending(ctx context.Context, tutorID int64) (<-chan []*model.SessionRequest, error) {
	// Подписываемся до чтения, чтобы не потерять изменения между снимком и подпиской
	sub, err := s.subscriber.Subscribe(model.TutorTopic(tutorID))
	if err != nil {
		return nil, transient("watch pending requests", err)
	}

	pending, err := s.ListPending(ctx, tutorID)
	if err != nil {
		sub.Close()
		return nil, err
	}

	out := make(chan []*model.SessionRequest, 1)
	out <- pending

	go func() {
		defer close(out)
		defer sub.Close()

		timer := time.NewTimer(s.untilNextExpiry(pending))
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-sub.C:
				if !ok {
					return
				}
			case <-timer.C:
			}

			next, err := s.ListPending(ctx, tutorID)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Error("Pending queue watch stopped",
						zap.Int64("tutor_id", tutorID),
						zap.Error(err),
					)
				}
				return
			}

			if !sameQueue(pending, next) {
				select {
				case out <- next:
				case <-ctx.Done():
					return
				}
			}
			pending = next
			timer.Reset(s.untilNextExpiry(pending))
		}
	}()

	return out, nil
}

// WatchOutcome waits for the request to leave pending and sends exactly one
// terminal record. An accepted record carries the session id.
// The request's own expiry is scheduled locally, so no sweep is needed to release the student.
func (s *HandshakeService) WatchOutcome(ctx context.Context, requestID uuid.UUID) (<-chan *model.SessionRequest, error) {
	sub, err := s.subscriber.Subscribe(model.RequestTopic(requestID))
	if err != nil {
		return nil, transient("watch request outcome", err)
	}

	req, err := s.Get(ctx, requestID)
	if err != nil {
		sub.Close()
		return nil, err
	}

	out := make(chan *model.SessionRequest, 1)
	if req.Status.IsTerminal() {
		sub.Close()
		out <- req
		close(out)
		return out, nil
	}

	go func() {
		defer close(out)
		defer sub.Close()

		timer := time.NewTimer(s.untilExpiry(req))
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-sub.C:
				if !ok {
					return
				}
			case <-timer.C:
			}

			cur, err := s.Get(ctx, requestID)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Error("Request outcome watch stopped",
						zap.String("request_id", requestID.String()),
						zap.Error(err),
					)
				}
				return
			}

			if cur.Status.IsTerminal() {
				select {
				case out <- cur:
				case <-ctx.Done():
				}
				return
			}
			timer.Reset(s.untilExpiry(cur))
		}
	}()

	return out, nil
}

func (s *HandshakeService) untilExpiry(req *model.SessionRequest) time.Duration {
	d := req.ExpiresAt(s.ttl).Sub(s.now())
	if d < 0 {
		d = 0
	}
	return d + expirySlack
}

// untilNextExpiry is the wait before the oldest pending entry drops out.
// An empty queue only changes on events, so the timer is parked at the window length.
func (s *HandshakeService) untilNextExpiry(pending []*model.SessionRequest) time.Duration {
	if len(pending) == 0 {
		return s.ttl
	}
	return s.untilExpiry(pending[0])
}

func sameQueue(a, b []*model.SessionRequest) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			return false
		}
	}
	return true
}
