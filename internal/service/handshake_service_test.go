package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Freeeeeet/tutor_session/internal/model"
	"github.com/Freeeeeet/tutor_session/internal/repository"
	"github.com/Freeeeeet/tutor_session/internal/repository/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSubmit(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	feed, err := f.hub.Subscribe(model.TutorTopic(f.tutor.ID))
	require.NoError(t, err)
	defer feed.Close()

	req := f.submit(t)
	assert.Equal(t, model.RequestStatusPending, req.Status)
	assert.Nil(t, req.SessionID)
	assert.Equal(t, "student", req.StudentDisplayName)
	assert.NotEqual(t, uuid.Nil, req.ID)

	select {
	case ev := <-feed.C:
		assert.Equal(t, model.EventSubmitted, ev.Type)
		assert.Equal(t, req.ID, ev.Request.ID)
	case <-time.After(time.Second):
		t.Fatal("tutor was not notified")
	}

	got, err := f.svc.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, req.ID, got.ID)
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	plain := f.addUser(t, "plain", false)
	busy := &model.User{Username: "busy", DisplayName: "busy", IsTutor: true, IsBusy: true}
	require.NoError(t, f.store.Users().Create(ctx, busy))

	tests := []struct {
		name  string
		input SubmitInput
		field string
	}{
		{name: "missing tutor", input: SubmitInput{StudentID: f.student.ID}, field: "tutor_id"},
		{name: "self request", input: SubmitInput{TutorID: f.tutor.ID, StudentID: f.tutor.ID}, field: "student_id"},
		{name: "unknown tutor", input: SubmitInput{TutorID: 999, StudentID: f.student.ID}, field: "tutor_id"},
		{name: "not a tutor", input: SubmitInput{TutorID: plain.ID, StudentID: f.student.ID}, field: "tutor_id"},
		{name: "busy tutor", input: SubmitInput{TutorID: busy.ID, StudentID: f.student.ID}, field: "tutor_id"},
		{name: "unknown student", input: SubmitInput{TutorID: f.tutor.ID, StudentID: 999}, field: "student_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Submit(ctx, tt.input)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			require.NotEmpty(t, verr.Fields)
			assert.Equal(t, tt.field, verr.Fields[0].Field)
		})
	}
}

func TestSubmitDuplicatePending(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	req := f.submit(t)

	_, err := f.svc.Submit(ctx, SubmitInput{TutorID: f.tutor.ID, StudentID: f.student.ID})
	assert.True(t, IsValidation(err))

	_, err = f.svc.Cancel(ctx, f.student.ID, req.ID)
	require.NoError(t, err)

	// Resolved requests do not block a new one
	f.submit(t)
}

func TestAccept(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	req := f.submit(t)

	accepted, err := f.svc.Accept(ctx, f.tutor.ID, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusAccepted, accepted.Status)
	require.NotNil(t, accepted.SessionID)
	assert.NotEqual(t, uuid.Nil, *accepted.SessionID)
	assert.NotNil(t, accepted.ResolvedAt)
	assert.True(t, f.tutorBusy(t))

	// A second accept must not mint a second room
	_, err = f.svc.Accept(ctx, f.tutor.ID, req.ID)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, model.RequestStatusAccepted, conflict.Current)

	got, err := f.svc.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, *accepted.SessionID, *got.SessionID, "session id is write-once")

	// Busy tutor takes no new requests
	other := f.addUser(t, "other", false)
	_, err = f.svc.Submit(ctx, SubmitInput{TutorID: f.tutor.ID, StudentID: other.ID})
	assert.True(t, IsValidation(err))
}

func TestCancelAfterAcceptConflicts(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	req := f.submit(t)

	_, err := f.svc.Accept(ctx, f.tutor.ID, req.ID)
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, f.student.ID, req.ID)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, model.RequestStatusAccepted, conflict.Current)
}

func TestAcceptAfterCancelConflicts(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	req := f.submit(t)

	_, err := f.svc.Cancel(ctx, f.student.ID, req.ID)
	require.NoError(t, err)

	_, err = f.svc.Accept(ctx, f.tutor.ID, req.ID)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, model.RequestStatusCancelled, conflict.Current)
	assert.False(t, f.tutorBusy(t))
}

func TestRepeatedTerminalTransitionIsNoop(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	rejected := f.submit(t)
	_, err := f.svc.Reject(ctx, f.tutor.ID, rejected.ID)
	require.NoError(t, err)
	again, err := f.svc.Reject(ctx, f.tutor.ID, rejected.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusRejected, again.Status)

	cancelled := f.submit(t)
	_, err = f.svc.Cancel(ctx, f.student.ID, cancelled.ID)
	require.NoError(t, err)
	again, err = f.svc.Cancel(ctx, f.student.ID, cancelled.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusCancelled, again.Status)

	// Different terminal target still conflicts
	_, err = f.svc.Reject(ctx, f.tutor.ID, cancelled.ID)
	assert.True(t, IsConflict(err))
}

func TestTransitionAuthorization(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	req := f.submit(t)

	otherTutor := f.addUser(t, "other-tutor", true)
	otherStudent := f.addUser(t, "other-student", false)

	_, err := f.svc.Accept(ctx, otherTutor.ID, req.ID)
	assert.True(t, IsForbidden(err))
	_, err = f.svc.Reject(ctx, otherTutor.ID, req.ID)
	assert.True(t, IsForbidden(err))
	_, err = f.svc.Cancel(ctx, otherStudent.ID, req.ID)
	assert.True(t, IsForbidden(err))

	got, err := f.svc.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusPending, got.Status)

	_, err = f.svc.Accept(ctx, f.tutor.ID, uuid.New())
	assert.True(t, IsNotFound(err))
	_, err = f.svc.Get(ctx, uuid.New())
	assert.True(t, IsNotFound(err))
}

func TestConcurrentAcceptAndCancel(t *testing.T) {
	for i := 0; i < 20; i++ {
		f := newFixture(t, Options{})
		ctx := context.Background()
		req := f.submit(t)

		var (
			wg                   sync.WaitGroup
			acceptErr, cancelErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, acceptErr = f.svc.Accept(ctx, f.tutor.ID, req.ID)
		}()
		go func() {
			defer wg.Done()
			_, cancelErr = f.svc.Cancel(ctx, f.student.ID, req.ID)
		}()
		wg.Wait()

		require.True(t, (acceptErr == nil) != (cancelErr == nil), "exactly one side wins: accept=%v cancel=%v", acceptErr, cancelErr)

		final, err := f.svc.Get(ctx, req.ID)
		require.NoError(t, err)
		require.NoError(t, final.CheckInvariants())

		if acceptErr == nil {
			assert.Equal(t, model.RequestStatusAccepted, final.Status)
			assert.True(t, IsConflict(cancelErr))
			assert.True(t, f.tutorBusy(t))
		} else {
			assert.Equal(t, model.RequestStatusCancelled, final.Status)
			assert.True(t, IsConflict(acceptErr))
			assert.False(t, f.tutorBusy(t))
		}
	}
}

func TestConcurrentAccepts(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	req := f.submit(t)

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := f.svc.Accept(ctx, f.tutor.ID, req.ID)
			if err == nil {
				wins.Add(1)
				assert.NotNil(t, got.SessionID)
				return
			}
			assert.True(t, IsConflict(err))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestLazyExpiry(t *testing.T) {
	clock := newFakeClock()
	f := newFixture(t, Options{RequestTTL: 2 * time.Minute, Now: clock.Now})
	ctx := context.Background()

	req := f.submit(t)

	clock.Advance(time.Minute)
	pending, err := f.svc.ListPending(ctx, f.tutor.ID)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	clock.Advance(time.Minute)

	// No sweep has run; readers already see expired
	got, err := f.svc.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusExpired, got.Status)

	pending, err = f.svc.ListPending(ctx, f.tutor.ID)
	require.NoError(t, err)
	assert.NotNil(t, pending)
	assert.Empty(t, pending)

	_, err = f.svc.Accept(ctx, f.tutor.ID, req.ID)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, model.RequestStatusExpired, conflict.Current)
	assert.False(t, f.tutorBusy(t))

	history, err := f.svc.ListByStudent(ctx, f.student.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, model.RequestStatusExpired, history[0].Status)

	// A new request to the same tutor is allowed once the old one lapsed
	f.submit(t)
}

func TestExpireStale(t *testing.T) {
	clock := newFakeClock()
	f := newFixture(t, Options{RequestTTL: time.Minute, Now: clock.Now})
	ctx := context.Background()

	feed, err := f.hub.Subscribe(model.StudentTopic(f.student.ID))
	require.NoError(t, err)
	defer feed.Close()

	req := f.submit(t)
	<-feed.C // submitted

	n, err := f.svc.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	clock.Advance(2 * time.Minute)
	n, err = f.svc.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	select {
	case ev := <-feed.C:
		assert.Equal(t, model.EventExpired, ev.Type)
		assert.Equal(t, req.ID, ev.Request.ID)
	case <-time.After(time.Second):
		t.Fatal("student was not notified about expiry")
	}

	stored, err := f.store.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusExpired, stored.Status)
}

func TestEndSession(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	req := f.submit(t)

	accepted, err := f.svc.Accept(ctx, f.tutor.ID, req.ID)
	require.NoError(t, err)
	require.True(t, f.tutorBusy(t))

	stranger := f.addUser(t, "stranger", false)
	_, err = f.svc.EndSession(ctx, stranger.ID, *accepted.SessionID)
	assert.True(t, IsForbidden(err))

	_, err = f.svc.EndSession(ctx, f.student.ID, uuid.New())
	assert.True(t, IsNotFound(err))

	ended, err := f.svc.EndSession(ctx, f.student.ID, *accepted.SessionID)
	require.NoError(t, err)
	assert.Equal(t, req.ID, ended.ID)
	assert.False(t, f.tutorBusy(t))

	// Idempotent
	again, err := f.svc.EndSession(ctx, f.tutor.ID, *accepted.SessionID)
	require.NoError(t, err)
	require.NotNil(t, again.EndedAt)
	assert.Equal(t, *ended.EndedAt, *again.EndedAt)

	// The tutor can take requests again
	f.submit(t)
}

func TestEndSessionReplayKeepsLaterSessionBusy(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	first, err := f.svc.Accept(ctx, f.tutor.ID, f.submit(t).ID)
	require.NoError(t, err)
	_, err = f.svc.EndSession(ctx, f.student.ID, *first.SessionID)
	require.NoError(t, err)

	second, err := f.svc.Accept(ctx, f.tutor.ID, f.submit(t).ID)
	require.NoError(t, err)
	require.True(t, f.tutorBusy(t))

	feed, err := f.hub.Subscribe(model.RequestTopic(first.ID))
	require.NoError(t, err)
	defer feed.Close()

	// Опоздавший teardown первой комнаты
	replayed, err := f.svc.EndSession(ctx, f.tutor.ID, *first.SessionID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, replayed.ID)
	assert.True(t, f.tutorBusy(t), "replayed end must not free a tutor who is in session %s", *second.SessionID)

	select {
	case ev := <-feed.C:
		t.Fatalf("replayed end was announced again: %s", ev.Type)
	case <-time.After(100 * time.Millisecond):
	}

	_, err = f.svc.Submit(ctx, SubmitInput{TutorID: f.tutor.ID, StudentID: f.student.ID})
	assert.True(t, IsValidation(err), "busy tutor still refuses new requests")
}

func TestAcceptRefusedWhileTutorBusy(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	other := f.addUser(t, "other", false)

	first := f.submit(t)
	second, err := f.svc.Submit(ctx, SubmitInput{TutorID: f.tutor.ID, StudentID: other.ID})
	require.NoError(t, err)

	accepted, err := f.svc.Accept(ctx, f.tutor.ID, first.ID)
	require.NoError(t, err)

	_, err = f.svc.Accept(ctx, f.tutor.ID, second.ID)
	require.True(t, IsConflict(err))
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, model.RequestStatusPending, conflict.Current)
	assert.NotEmpty(t, conflict.Reason)

	stored, err := f.store.GetByID(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusPending, stored.Status)
	assert.Nil(t, stored.SessionID)

	// После закрытия первой комнаты вторую заявку можно принять
	_, err = f.svc.EndSession(ctx, f.tutor.ID, *accepted.SessionID)
	require.NoError(t, err)
	_, err = f.svc.Accept(ctx, f.tutor.ID, second.ID)
	require.NoError(t, err)
	assert.True(t, f.tutorBusy(t))
}

// flakyStore fails reads a fixed number of times and counts writes
type flakyStore struct {
	*memory.Store
	readFailures atomic.Int32
	reads        atomic.Int32
	resolves     atomic.Int32
	failResolve  bool
}

var errUnavailable = errors.New("connection refused")

func (s *flakyStore) GetByID(ctx context.Context, id uuid.UUID) (*model.SessionRequest, error) {
	s.reads.Add(1)
	if s.readFailures.Add(-1) >= 0 {
		return nil, errUnavailable
	}
	return s.Store.GetByID(ctx, id)
}

func (s *flakyStore) Resolve(ctx context.Context, t repository.Transition) (*model.SessionRequest, error) {
	s.resolves.Add(1)
	if s.failResolve {
		return nil, errUnavailable
	}
	return s.Store.Resolve(ctx, t)
}

func newFlakyFixture(t *testing.T) (*fixture, *flakyStore) {
	t.Helper()
	f := newFixture(t, Options{})
	flaky := &flakyStore{Store: f.store}
	f.svc = NewHandshakeService(flaky, f.store.Users(), notifyNop{}, f.hub, Options{ReadRetries: 2}, zap.NewNop())
	return f, flaky
}

type notifyNop struct{}

func (notifyNop) Publish(context.Context, model.Event) error { return nil }

func TestReadsAreRetried(t *testing.T) {
	f, flaky := newFlakyFixture(t)
	ctx := context.Background()
	req := f.submit(t)

	flaky.readFailures.Store(2)
	flaky.reads.Store(0)

	got, err := f.svc.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, req.ID, got.ID)
	assert.Equal(t, int32(3), flaky.reads.Load())

	flaky.readFailures.Store(10)
	_, err = f.svc.Get(ctx, req.ID)
	assert.True(t, IsTransient(err))
	assert.ErrorIs(t, err, errUnavailable)
}

func TestWritesAreNotRetried(t *testing.T) {
	f, flaky := newFlakyFixture(t)
	ctx := context.Background()
	req := f.submit(t)

	flaky.failResolve = true
	_, err := f.svc.Accept(ctx, f.tutor.ID, req.ID)
	assert.True(t, IsTransient(err))
	assert.Equal(t, int32(1), flaky.resolves.Load())

	got, err := f.svc.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusPending, got.Status)
}
