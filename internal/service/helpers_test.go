package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Freeeeeet/tutor_session/internal/model"
	"github.com/Freeeeeet/tutor_session/internal/notify"
	"github.com/Freeeeeet/tutor_session/internal/repository/memory"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc     *HandshakeService
	users   *UserService
	store   *memory.Store
	hub     *notify.Hub
	tutor   *model.User
	student *model.User
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()

	store := memory.NewStore()
	hub := notify.NewHub(zap.NewNop())
	t.Cleanup(hub.Close)

	svc := NewHandshakeService(store, store.Users(), notify.NewLocalBridge(hub), hub, opts, zap.NewNop())

	f := &fixture{
		svc:   svc,
		users: NewUserService(store.Users(), zap.NewNop()),
		store: store,
		hub:   hub,
	}
	f.tutor = f.addUser(t, "tutor", true)
	f.student = f.addUser(t, "student", false)
	return f
}

func (f *fixture) addUser(t *testing.T, name string, tutor bool) *model.User {
	t.Helper()
	u := &model.User{Username: name, DisplayName: name, IsTutor: tutor}
	require.NoError(t, f.store.Users().Create(context.Background(), u))
	return u
}

func (f *fixture) submit(t *testing.T) *model.SessionRequest {
	t.Helper()
	req, err := f.svc.Submit(context.Background(), SubmitInput{TutorID: f.tutor.ID, StudentID: f.student.ID})
	require.NoError(t, err)
	return req
}

func (f *fixture) tutorBusy(t *testing.T) bool {
	t.Helper()
	u, err := f.store.Users().GetByID(context.Background(), f.tutor.ID)
	require.NoError(t, err)
	return u.IsBusy
}
