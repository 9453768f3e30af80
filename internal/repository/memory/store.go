// Package memory is a process-local store with the same conditional-update
// semantics as the Postgres repositories. Used for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Freeeeeet/tutor_session/internal/model"
	"github.com/Freeeeeet/tutor_session/internal/repository"
	"github.com/google/uuid"
)

type Store struct {
	mu       sync.Mutex
	requests map[uuid.UUID]*model.SessionRequest
	sessions map[uuid.UUID]uuid.UUID // session id -> request id
	users    map[int64]*model.User
	nextUser int64
}

func NewStore() *Store {
	return &Store{
		requests: make(map[uuid.UUID]*model.SessionRequest),
		sessions: make(map[uuid.UUID]uuid.UUID),
		users:    make(map[int64]*model.User),
	}
}

func copyRequest(r *model.SessionRequest) *model.SessionRequest {
	cp := *r
	if r.SessionID != nil {
		id := *r.SessionID
		cp.SessionID = &id
	}
	if r.ResolvedAt != nil {
		at := *r.ResolvedAt
		cp.ResolvedAt = &at
	}
	if r.EndedAt != nil {
		at := *r.EndedAt
		cp.EndedAt = &at
	}
	return &cp
}

func copyUser(u *model.User) *model.User {
	cp := *u
	if u.TelegramID != nil {
		id := *u.TelegramID
		cp.TelegramID = &id
	}
	return &cp
}

// ============ Session requests ============

func (s *Store) Create(ctx context.Context, req *model.SessionRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.requests[req.ID]; exists {
		return fmt.Errorf("create session request: duplicate id %s", req.ID)
	}
	s.requests[req.ID] = copyRequest(req)
	return nil
}

func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*model.SessionRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyRequest(req), nil
}

func (s *Store) GetBySessionID(ctx context.Context, sessionID uuid.UUID) (*model.SessionRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.sessions[sessionID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyRequest(s.requests[id]), nil
}

func (s *Store) ListPendingByTutor(ctx context.Context, tutorID int64, createdAfter time.Time) ([]*model.SessionRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.SessionRequest
	for _, req := range s.requests {
		if req.TutorID == tutorID && req.IsPending() && req.CreatedAt.After(createdAfter) {
			out = append(out, copyRequest(req))
		}
	}
	sortOldestFirst(out)
	return out, nil
}

func (s *Store) ListByStudent(ctx context.Context, studentID int64) ([]*model.SessionRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.SessionRequest
	for _, req := range s.requests {
		if req.StudentID == studentID {
			out = append(out, copyRequest(req))
		}
	}
	sortOldestFirst(out)
	// newest first, like the SQL variant
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *Store) HasPendingRequest(ctx context.Context, studentID, tutorID int64, createdAfter time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, req := range s.requests {
		if req.StudentID == studentID && req.TutorID == tutorID && req.IsPending() && req.CreatedAt.After(createdAfter) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) Resolve(ctx context.Context, t repository.Transition) (*model.SessionRequest, error) {
	if !model.CanTransition(model.RequestStatusPending, t.To) {
		return nil, fmt.Errorf("resolve request: invalid target status %q", t.To)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[t.RequestID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if !req.IsPending() || !req.CreatedAt.After(t.CreatedAfter) {
		return copyRequest(req), repository.ErrStatusConflict
	}

	if t.To == model.RequestStatusAccepted {
		if t.SessionID == nil {
			return nil, fmt.Errorf("resolve request: accept without session id")
		}
		if _, taken := s.sessions[*t.SessionID]; taken {
			return nil, fmt.Errorf("resolve request: session id %s already used", *t.SessionID)
		}
		tutor, ok := s.users[req.TutorID]
		if !ok || !tutor.IsTutor {
			return nil, fmt.Errorf("mark tutor busy: tutor %d not found", req.TutorID)
		}
		if tutor.IsBusy {
			return copyRequest(req), repository.ErrTutorBusy
		}
		tutor.IsBusy = true
		sessionID := *t.SessionID
		req.SessionID = &sessionID
		s.sessions[sessionID] = req.ID
	}

	at := t.At
	req.Status = t.To
	req.ResolvedAt = &at

	return copyRequest(req), nil
}

func (s *Store) EndSession(ctx context.Context, sessionID uuid.UUID, at time.Time) (*model.SessionRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.sessions[sessionID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	req := s.requests[id]
	if !req.SessionLive() {
		return copyRequest(req), repository.ErrSessionEnded
	}

	ended := at
	req.EndedAt = &ended
	if tutor, ok := s.users[req.TutorID]; ok {
		tutor.IsBusy = false
	}

	return copyRequest(req), nil
}

func (s *Store) ExpireStale(ctx context.Context, cutoff, at time.Time) ([]*model.SessionRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []*model.SessionRequest
	for _, req := range s.requests {
		if req.IsPending() && !req.CreatedAt.After(cutoff) {
			resolved := at
			req.Status = model.RequestStatusExpired
			req.ResolvedAt = &resolved
			expired = append(expired, copyRequest(req))
		}
	}
	sortOldestFirst(expired)
	return expired, nil
}

func sortOldestFirst(reqs []*model.SessionRequest) {
	sort.Slice(reqs, func(i, j int) bool {
		if reqs[i].CreatedAt.Equal(reqs[j].CreatedAt) {
			return reqs[i].ID.String() < reqs[j].ID.String()
		}
		return reqs[i].CreatedAt.Before(reqs[j].CreatedAt)
	})
}

// ============ Users ============

// Users exposes the user half of the store under the user repository method names
func (s *Store) Users() *Users {
	return &Users{s: s}
}

type Users struct {
	s *Store
}

func (u *Users) Create(ctx context.Context, user *model.User) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	if user.TelegramID != nil {
		for _, existing := range u.s.users {
			if existing.TelegramID != nil && *existing.TelegramID == *user.TelegramID {
				return fmt.Errorf("create user: duplicate telegram id %d", *user.TelegramID)
			}
		}
	}

	u.s.nextUser++
	user.ID = u.s.nextUser
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	u.s.users[user.ID] = copyUser(user)
	return nil
}

func (u *Users) GetByID(ctx context.Context, id int64) (*model.User, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	user, ok := u.s.users[id]
	if !ok {
		return nil, nil
	}
	return copyUser(user), nil
}

func (u *Users) GetByTelegramID(ctx context.Context, telegramID int64) (*model.User, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	for _, user := range u.s.users {
		if user.TelegramID != nil && *user.TelegramID == telegramID {
			return copyUser(user), nil
		}
	}
	return nil, nil
}

func (u *Users) Update(ctx context.Context, user *model.User) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	existing, ok := u.s.users[user.ID]
	if !ok {
		return repository.ErrNotFound
	}
	existing.Username = user.Username
	existing.DisplayName = user.DisplayName
	existing.IsTutor = user.IsTutor
	return nil
}

func (u *Users) ListAvailableTutors(ctx context.Context) ([]*model.User, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	var tutors []*model.User
	for _, user := range u.s.users {
		if user.CanTakeRequests() {
			tutors = append(tutors, copyUser(user))
		}
	}
	sort.Slice(tutors, func(i, j int) bool {
		if tutors[i].DisplayName == tutors[j].DisplayName {
			return tutors[i].ID < tutors[j].ID
		}
		return tutors[i].DisplayName < tutors[j].DisplayName
	})
	return tutors, nil
}
