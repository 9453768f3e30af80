package repository_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/Freeeeeet/tutor_session/internal/app"
	"github.com/Freeeeeet/tutor_session/internal/model"
	"github.com/Freeeeeet/tutor_session/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// openTestDB подключается к TEST_DB_DSN, накатывает миграции и чистит таблицы.
// Без TEST_DB_DSN тест пропускается.
func openTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN is not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	migrator, err := app.NewMigrator(pool, "../../migrations", zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, migrator.Run(ctx))
	require.NoError(t, migrator.Close())

	_, err = pool.Exec(ctx, `TRUNCATE session_requests, users RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
	return pool
}

type pgFixture struct {
	requests *repository.SessionRequestRepository
	users    *repository.UserRepository
	tutor    *model.User
	students []*model.User
}

func newPGFixture(t *testing.T) *pgFixture {
	t.Helper()
	pool := openTestDB(t)
	ctx := context.Background()

	f := &pgFixture{
		requests: repository.NewSessionRequestRepository(pool),
		users:    repository.NewUserRepository(pool),
	}
	f.tutor = &model.User{Username: "tutor", DisplayName: "Tutor", IsTutor: true}
	require.NoError(t, f.users.Create(ctx, f.tutor))
	for _, name := range []string{"anna", "boris"} {
		u := &model.User{Username: name, DisplayName: name}
		require.NoError(t, f.users.Create(ctx, u))
		f.students = append(f.students, u)
	}
	return f
}

func (f *pgFixture) create(t *testing.T, student *model.User, created time.Time) *model.SessionRequest {
	t.Helper()
	req := &model.SessionRequest{
		ID:                 uuid.New(),
		TutorID:            f.tutor.ID,
		StudentID:          student.ID,
		StudentDisplayName: student.DisplayName,
		Status:             model.RequestStatusPending,
		CreatedAt:          created,
	}
	require.NoError(t, f.requests.Create(context.Background(), req))
	return req
}

func (f *pgFixture) tutorBusy(t *testing.T) bool {
	t.Helper()
	u, err := f.users.GetByID(context.Background(), f.tutor.ID)
	require.NoError(t, err)
	require.NotNil(t, u)
	return u.IsBusy
}

func accept(id uuid.UUID, at time.Time) (repository.Transition, uuid.UUID) {
	sessionID := uuid.New()
	return repository.Transition{RequestID: id, To: model.RequestStatusAccepted, SessionID: &sessionID, At: at}, sessionID
}

func TestPostgresResolve(t *testing.T) {
	f := newPGFixture(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	first := f.create(t, f.students[0], now)
	second := f.create(t, f.students[1], now.Add(time.Second))

	tr, sessionID := accept(first.ID, now)
	got, err := f.requests.Resolve(ctx, tr)
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusAccepted, got.Status)
	require.NotNil(t, got.SessionID)
	assert.Equal(t, sessionID, *got.SessionID)
	assert.NoError(t, got.CheckInvariants())
	assert.True(t, f.tutorBusy(t))

	current, err := f.requests.Resolve(ctx, repository.Transition{
		RequestID: first.ID, To: model.RequestStatusCancelled, At: now,
	})
	assert.ErrorIs(t, err, repository.ErrStatusConflict)
	require.NotNil(t, current)
	assert.Equal(t, model.RequestStatusAccepted, current.Status)

	// Занятый учитель не может принять вторую заявку, транзакция откатывается
	tr, refusedSession := accept(second.ID, now)
	current, err = f.requests.Resolve(ctx, tr)
	assert.ErrorIs(t, err, repository.ErrTutorBusy)
	require.NotNil(t, current)
	assert.Equal(t, model.RequestStatusPending, current.Status)
	assert.Nil(t, current.SessionID)
	_, err = f.requests.GetBySessionID(ctx, refusedSession)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = f.requests.Resolve(ctx, repository.Transition{RequestID: uuid.New(), To: model.RequestStatusRejected, At: now})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestPostgresResolveRespectsExpiryGuard(t *testing.T) {
	f := newPGFixture(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	req := f.create(t, f.students[0], now.Add(-10*time.Minute))

	current, err := f.requests.Resolve(ctx, repository.Transition{
		RequestID:    req.ID,
		To:           model.RequestStatusRejected,
		CreatedAfter: now.Add(-model.DefaultRequestTTL),
		At:           now,
	})
	assert.ErrorIs(t, err, repository.ErrStatusConflict)
	require.NotNil(t, current)
	assert.Equal(t, model.RequestStatusPending, current.Status, "the stored row is untouched")
}

func TestPostgresEndSession(t *testing.T) {
	f := newPGFixture(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	first := f.create(t, f.students[0], now)
	tr, s1 := accept(first.ID, now)
	_, err := f.requests.Resolve(ctx, tr)
	require.NoError(t, err)

	ended, err := f.requests.EndSession(ctx, s1, now.Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, ended.EndedAt)
	assert.False(t, f.tutorBusy(t))

	second := f.create(t, f.students[1], now.Add(time.Second))
	tr, _ = accept(second.ID, now)
	_, err = f.requests.Resolve(ctx, tr)
	require.NoError(t, err)
	require.True(t, f.tutorBusy(t))

	again, err := f.requests.EndSession(ctx, s1, now.Add(2*time.Minute))
	assert.ErrorIs(t, err, repository.ErrSessionEnded)
	require.NotNil(t, again)
	assert.True(t, again.EndedAt.Equal(*ended.EndedAt), "replay keeps the first end time")
	assert.True(t, f.tutorBusy(t), "replay leaves the live session alone")

	_, err = f.requests.EndSession(ctx, uuid.New(), now)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestPostgresExpireStale(t *testing.T) {
	f := newPGFixture(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	cutoff := now.Add(-model.DefaultRequestTTL)

	stale := f.create(t, f.students[0], cutoff.Add(-time.Second))
	fresh := f.create(t, f.students[1], now)

	expired, err := f.requests.ExpireStale(ctx, cutoff, now)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, stale.ID, expired[0].ID)
	assert.Equal(t, model.RequestStatusExpired, expired[0].Status)
	assert.NoError(t, expired[0].CheckInvariants())

	pending, err := f.requests.ListPendingByTutor(ctx, f.tutor.ID, cutoff)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, fresh.ID, pending[0].ID)

	again, err := f.requests.ExpireStale(ctx, cutoff, now)
	require.NoError(t, err)
	assert.Empty(t, again)
}
