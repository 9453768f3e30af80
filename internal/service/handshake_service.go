package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Freeeeeet/tutor_session/internal/metrics"
	"github.com/Freeeeeet/tutor_session/internal/model"
	"github.com/Freeeeeet/tutor_session/internal/notify"
	"github.com/Freeeeeet/tutor_session/internal/repository"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// RequestStore is the persistence the handshake needs.
// Resolve must be a single compare-and-swap on status.
type RequestStore interface {
	Create(ctx context.Context, req *model.SessionRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.SessionRequest, error)
	GetBySessionID(ctx context.Context, sessionID uuid.UUID) (*model.SessionRequest, error)
	ListPendingByTutor(ctx context.Context, tutorID int64, createdAfter time.Time) ([]*model.SessionRequest, error)
	ListByStudent(ctx context.Context, studentID int64) ([]*model.SessionRequest, error)
	HasPendingRequest(ctx context.Context, studentID, tutorID int64, createdAfter time.Time) (bool, error)
	Resolve(ctx context.Context, t repository.Transition) (*model.SessionRequest, error)
	ExpireStale(ctx context.Context, cutoff, at time.Time) ([]*model.SessionRequest, error)
	// EndSession must set ended_at and clear the tutor's busy flag atomically, once
	EndSession(ctx context.Context, sessionID uuid.UUID, at time.Time) (*model.SessionRequest, error)
}

// TutorStore is the part of the user store the handshake touches
type TutorStore interface {
	GetByID(ctx context.Context, id int64) (*model.User, error)
}

type Options struct {
	// RequestTTL is the pending window; older pending requests read as expired
	RequestTTL time.Duration
	// ReadRetries bounds retries of reads that fail transiently
	ReadRetries uint64
	Now         func() time.Time
}

const (
	defaultReadRetries = 3
	publishTimeout     = 5 * time.Second
)

type SubmitInput struct {
	TutorID   int64 `json:"tutor_id" validate:"required,gt=0"`
	StudentID int64 `json:"student_id" validate:"required,gt=0,nefield=TutorID"`
}

type HandshakeService struct {
	requests   RequestStore
	tutors     TutorStore
	publisher  notify.Publisher
	subscriber notify.Subscriber
	ttl        time.Duration
	retries    uint64
	now        func() time.Time
	logger     *zap.Logger
}

func NewHandshakeService(
	requests RequestStore,
	tutors TutorStore,
	publisher notify.Publisher,
	subscriber notify.Subscriber,
	opts Options,
	logger *zap.Logger,
) *HandshakeService {
	if opts.RequestTTL <= 0 {
		opts.RequestTTL = model.DefaultRequestTTL
	}
	if opts.ReadRetries == 0 {
		opts.ReadRetries = defaultReadRetries
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &HandshakeService{
		requests:   requests,
		tutors:     tutors,
		publisher:  publisher,
		subscriber: subscriber,
		ttl:        opts.RequestTTL,
		retries:    opts.ReadRetries,
		now:        opts.Now,
		logger:     logger,
	}
}

// RequestTTL returns the pending window
func (s *HandshakeService) RequestTTL() time.Duration {
	return s.ttl
}

func (s *HandshakeService) cutoff(now time.Time) time.Time {
	return now.Add(-s.ttl)
}

// Submit создаёт pending заявку студента к учителю
func (s *HandshakeService) Submit(ctx context.Context, input SubmitInput) (*model.SessionRequest, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}

	var tutor, student *model.User
	err := s.read(ctx, func(ctx context.Context) error {
		var err error
		if tutor, err = s.tutors.GetByID(ctx, input.TutorID); err != nil {
			return fmt.Errorf("get tutor: %w", err)
		}
		if student, err = s.tutors.GetByID(ctx, input.StudentID); err != nil {
			return fmt.Errorf("get student: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, transient("submit session request", err)
	}

	switch {
	case tutor == nil:
		return nil, NewValidationError(errors.New("unknown tutor"),
			FieldError{Field: "tutor_id", Error: "tutor not found"})
	case !tutor.IsTutor:
		return nil, NewValidationError(errors.New("not a tutor"),
			FieldError{Field: "tutor_id", Error: "user is not a tutor"})
	case tutor.IsBusy:
		return nil, NewValidationError(errors.New("tutor is busy"),
			FieldError{Field: "tutor_id", Error: "tutor is in another session"})
	case student == nil:
		return nil, NewValidationError(errors.New("unknown student"),
			FieldError{Field: "student_id", Error: "student not found"})
	}

	now := s.now()

	var hasPending bool
	err = s.read(ctx, func(ctx context.Context) error {
		var err error
		hasPending, err = s.requests.HasPendingRequest(ctx, input.StudentID, input.TutorID, s.cutoff(now))
		return err
	})
	if err != nil {
		return nil, transient("submit session request", fmt.Errorf("check pending request: %w", err))
	}
	if hasPending {
		return nil, NewValidationError(errors.New("request already pending"),
			FieldError{Field: "tutor_id", Error: "you already have a pending request to this tutor"})
	}

	req := &model.SessionRequest{
		ID:                 uuid.New(),
		TutorID:            tutor.ID,
		StudentID:          student.ID,
		StudentDisplayName: student.DisplayName,
		Status:             model.RequestStatusPending,
		CreatedAt:          now,
	}

	// Запись не повторяем: вызывающий должен повторить явно
	if err := s.requests.Create(ctx, req); err != nil {
		return nil, transient("submit session request", fmt.Errorf("create request: %w", err))
	}

	metrics.RequestsSubmitted.Inc()
	s.logger.Info("Session request submitted",
		zap.String("request_id", req.ID.String()),
		zap.Int64("tutor_id", req.TutorID),
		zap.Int64("student_id", req.StudentID),
	)

	s.publish(ctx, model.EventSubmitted, req)
	return req, nil
}

// Get returns the request with lazy expiry applied
func (s *HandshakeService) Get(ctx context.Context, requestID uuid.UUID) (*model.SessionRequest, error) {
	var req *model.SessionRequest
	err := s.read(ctx, func(ctx context.Context) error {
		var err error
		req, err = s.requests.GetByID(ctx, requestID)
		return err
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{RequestID: requestID}
	}
	if err != nil {
		return nil, transient("get session request", err)
	}
	return req.WithEffectiveStatus(s.now(), s.ttl), nil
}

// ListPending returns the tutor's live queue, oldest first
func (s *HandshakeService) ListPending(ctx context.Context, tutorID int64) ([]*model.SessionRequest, error) {
	var reqs []*model.SessionRequest
	err := s.read(ctx, func(ctx context.Context) error {
		var err error
		reqs, err = s.requests.ListPendingByTutor(ctx, tutorID, s.cutoff(s.now()))
		return err
	})
	if err != nil {
		return nil, transient("list pending requests", err)
	}
	if reqs == nil {
		reqs = []*model.SessionRequest{}
	}
	return reqs, nil
}

// ListByStudent returns the student's history, newest first
func (s *HandshakeService) ListByStudent(ctx context.Context, studentID int64) ([]*model.SessionRequest, error) {
	var reqs []*model.SessionRequest
	err := s.read(ctx, func(ctx context.Context) error {
		var err error
		reqs, err = s.requests.ListByStudent(ctx, studentID)
		return err
	})
	if err != nil {
		return nil, transient("list student requests", err)
	}

	now := s.now()
	out := make([]*model.SessionRequest, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, req.WithEffectiveStatus(now, s.ttl))
	}
	return out, nil
}

// Accept переводит заявку в accepted, создаёт комнату и помечает учителя занятым
func (s *HandshakeService) Accept(ctx context.Context, tutorID int64, requestID uuid.UUID) (*model.SessionRequest, error) {
	sessionID := uuid.New()
	req, err := s.resolve(ctx, "accept", requestID, model.RequestStatusAccepted, &sessionID,
		func(req *model.SessionRequest) error {
			if req.TutorID != tutorID {
				return &ForbiddenError{RequestID: requestID, Reason: "request is addressed to another tutor"}
			}
			return nil
		})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Session request accepted",
		zap.String("request_id", req.ID.String()),
		zap.String("session_id", sessionID.String()),
		zap.Int64("tutor_id", req.TutorID),
	)
	return req, nil
}

// Reject отклоняет заявку. Повторный reject ничего не делает.
func (s *HandshakeService) Reject(ctx context.Context, tutorID int64, requestID uuid.UUID) (*model.SessionRequest, error) {
	req, err := s.resolve(ctx, "reject", requestID, model.RequestStatusRejected, nil,
		func(req *model.SessionRequest) error {
			if req.TutorID != tutorID {
				return &ForbiddenError{RequestID: requestID, Reason: "request is addressed to another tutor"}
			}
			return nil
		})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Session request rejected",
		zap.String("request_id", req.ID.String()),
		zap.Int64("tutor_id", req.TutorID),
	)
	return req, nil
}

// Cancel отменяет заявку по инициативе студента. Если учитель успел принять, возвращается ConflictError.
func (s *HandshakeService) Cancel(ctx context.Context, studentID int64, requestID uuid.UUID) (*model.SessionRequest, error) {
	req, err := s.resolve(ctx, "cancel", requestID, model.RequestStatusCancelled, nil,
		func(req *model.SessionRequest) error {
			if req.StudentID != studentID {
				return &ForbiddenError{RequestID: requestID, Reason: "request belongs to another student"}
			}
			return nil
		})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Session request cancelled",
		zap.String("request_id", req.ID.String()),
		zap.Int64("student_id", req.StudentID),
	)
	return req, nil
}

// resolve performs one pending -> to transition. authorize runs against the
// stored row; the status precondition is enforced by the store itself.
// Repeating the same terminal transition is a no-op.
func (s *HandshakeService) resolve(
	ctx context.Context,
	op string,
	requestID uuid.UUID,
	to model.RequestStatus,
	sessionID *uuid.UUID,
	authorize func(req *model.SessionRequest) error,
) (*model.SessionRequest, error) {
	current, err := s.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if err := authorize(current); err != nil {
		return nil, err
	}

	now := s.now()
	resolved, err := s.requests.Resolve(ctx, repository.Transition{
		RequestID:    requestID,
		To:           to,
		SessionID:    sessionID,
		CreatedAfter: s.cutoff(now),
		At:           now,
	})

	switch {
	case errors.Is(err, repository.ErrStatusConflict):
		current = resolved.WithEffectiveStatus(now, s.ttl)
		if current.Status == to && to != model.RequestStatusAccepted {
			return current, nil
		}
		metrics.Conflicts.WithLabelValues(op).Inc()
		s.logger.Info("Transition refused, request no longer pending",
			zap.String("operation", op),
			zap.String("request_id", requestID.String()),
			zap.String("current", string(current.Status)),
		)
		return nil, &ConflictError{RequestID: requestID, Op: op, Current: current.Status}
	case errors.Is(err, repository.ErrTutorBusy):
		metrics.Conflicts.WithLabelValues(op).Inc()
		s.logger.Info("Accept refused, tutor is in another session",
			zap.String("request_id", requestID.String()),
			zap.Int64("tutor_id", resolved.TutorID),
		)
		return nil, &ConflictError{
			RequestID: requestID,
			Op:        op,
			Current:   resolved.WithEffectiveStatus(now, s.ttl).Status,
			Reason:    "tutor is already in a session",
		}
	case errors.Is(err, repository.ErrNotFound):
		return nil, &NotFoundError{RequestID: requestID}
	case err != nil:
		s.logger.Error("Failed to resolve session request",
			zap.String("operation", op),
			zap.String("request_id", requestID.String()),
			zap.Error(err),
		)
		return nil, transient(op+" session request", err)
	}

	metrics.Transitions.WithLabelValues(string(to)).Inc()
	metrics.TimeToResolution.WithLabelValues(string(to)).Observe(now.Sub(resolved.CreatedAt).Seconds())

	s.publish(ctx, model.EventForStatus(to), resolved)
	return resolved, nil
}

// ExpireStale flips every pending request older than the window to expired
// and announces each one. Returns the number of expired requests.
func (s *HandshakeService) ExpireStale(ctx context.Context) (int, error) {
	now := s.now()

	expired, err := s.requests.ExpireStale(ctx, s.cutoff(now), now)
	if err != nil {
		return 0, transient("expire stale requests", err)
	}

	for _, req := range expired {
		metrics.Transitions.WithLabelValues(string(model.RequestStatusExpired)).Inc()
		metrics.TimeToResolution.WithLabelValues(string(model.RequestStatusExpired)).Observe(now.Sub(req.CreatedAt).Seconds())
		s.publish(ctx, model.EventExpired, req)
	}

	if len(expired) > 0 {
		s.logger.Info("Expired stale session requests", zap.Int("count", len(expired)))
	}
	return len(expired), nil
}

// EndSession is called on room teardown by either party: the tutor becomes available again.
// Only the first call changes anything; a replay returns the ended record
// without touching the tutor or announcing it again.
func (s *HandshakeService) EndSession(ctx context.Context, userID int64, sessionID uuid.UUID) (*model.SessionRequest, error) {
	var req *model.SessionRequest
	err := s.read(ctx, func(ctx context.Context) error {
		var err error
		req, err = s.requests.GetBySessionID(ctx, sessionID)
		return err
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{What: "session " + sessionID.String()}
	}
	if err != nil {
		return nil, transient("end session", err)
	}
	if userID != req.TutorID && userID != req.StudentID {
		return nil, &ForbiddenError{RequestID: req.ID, Reason: "not a participant of this session"}
	}

	ended, err := s.requests.EndSession(ctx, sessionID, s.now())
	switch {
	case errors.Is(err, repository.ErrSessionEnded):
		return ended, nil
	case errors.Is(err, repository.ErrNotFound):
		return nil, &NotFoundError{What: "session " + sessionID.String()}
	case err != nil:
		s.logger.Error("Failed to end session",
			zap.String("session_id", sessionID.String()),
			zap.Error(err),
		)
		return nil, transient("end session", err)
	}

	s.logger.Info("Session ended",
		zap.String("session_id", sessionID.String()),
		zap.Int64("tutor_id", ended.TutorID),
	)

	s.publish(ctx, model.EventSessionEnded, ended)
	return ended, nil
}

// read retries fn with backoff. Missing rows are not retried.
func (s *HandshakeService) read(ctx context.Context, fn func(ctx context.Context) error) error {
	b := retry.WithMaxRetries(s.retries, retry.NewExponential(50*time.Millisecond))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil || errors.Is(err, repository.ErrNotFound) || ctx.Err() != nil {
			return err
		}
		return retry.RetryableError(err)
	})
}

// publish sends the notification after the write has been committed.
// A failed publish does not undo the transition: watchers resync from the store.
func (s *HandshakeService) publish(ctx context.Context, typ model.EventType, req *model.SessionRequest) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	ev := model.Event{Type: typ, Request: *req, At: s.now()}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Error("Failed to publish event",
			zap.String("type", string(typ)),
			zap.String("request_id", req.ID.String()),
			zap.Error(err),
		)
	}
}
