package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Freeeeeet/tutor_session/internal/model"
	"github.com/Freeeeeet/tutor_session/internal/repository/base"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const sessionRequestColumns = `id, tutor_id, student_id, student_display_name, status, session_id, created_at, resolved_at, ended_at`

type SessionRequestRepository struct {
	*base.Repository
}

func NewSessionRequestRepository(pool *pgxpool.Pool) *SessionRequestRepository {
	return &SessionRequestRepository{Repository: base.NewRepository(pool)}
}

func scanSessionRequest(row pgx.Row) (*model.SessionRequest, error) {
	var req model.SessionRequest
	err := row.Scan(
		&req.ID,
		&req.TutorID,
		&req.StudentID,
		&req.StudentDisplayName,
		&req.Status,
		&req.SessionID,
		&req.CreatedAt,
		&req.ResolvedAt,
		&req.EndedAt,
	)
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func collectSessionRequests(rows pgx.Rows) ([]*model.SessionRequest, error) {
	defer rows.Close()

	var requests []*model.SessionRequest
	for rows.Next() {
		req, err := scanSessionRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session request: %w", err)
		}
		requests = append(requests, req)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session requests: %w", err)
	}

	return requests, nil
}

// Create создаёт заявку; id и created_at должны быть заполнены сервисом
func (r *SessionRequestRepository) Create(ctx context.Context, req *model.SessionRequest) error {
	query := `
		INSERT INTO session_requests (id, tutor_id, student_id, student_display_name, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.Pool().Exec(
		ctx, query,
		req.ID,
		req.TutorID,
		req.StudentID,
		req.StudentDisplayName,
		req.Status,
		req.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create session request: %w", err)
	}

	return nil
}

// GetByID получает заявку по ID
func (r *SessionRequestRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.SessionRequest, error) {
	return r.getByID(ctx, r.Pool(), id)
}

func (r *SessionRequestRepository) getByID(ctx context.Context, q base.Querier, id uuid.UUID) (*model.SessionRequest, error) {
	query := `SELECT ` + sessionRequestColumns + ` FROM session_requests WHERE id = $1`

	req, err := scanSessionRequest(q.QueryRow(ctx, query, id))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session request: %w", err)
	}

	return req, nil
}

// GetBySessionID получает принятую заявку по ключу комнаты
func (r *SessionRequestRepository) GetBySessionID(ctx context.Context, sessionID uuid.UUID) (*model.SessionRequest, error) {
	query := `SELECT ` + sessionRequestColumns + ` FROM session_requests WHERE session_id = $1`

	req, err := scanSessionRequest(r.Pool().QueryRow(ctx, query, sessionID))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session request by session: %w", err)
	}

	return req, nil
}

// ListPendingByTutor получает живые pending заявки учителя, старые первыми
func (r *SessionRequestRepository) ListPendingByTutor(ctx context.Context, tutorID int64, createdAfter time.Time) ([]*model.SessionRequest, error) {
	query := `
		SELECT ` + sessionRequestColumns + `
		FROM session_requests
		WHERE tutor_id = $1 AND status = $2 AND created_at > $3
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.Pool().Query(ctx, query, tutorID, model.RequestStatusPending, createdAfter)
	if err != nil {
		return nil, fmt.Errorf("list pending requests: %w", err)
	}

	return collectSessionRequests(rows)
}

// ListByStudent получает историю заявок студента
func (r *SessionRequestRepository) ListByStudent(ctx context.Context, studentID int64) ([]*model.SessionRequest, error) {
	query := `
		SELECT ` + sessionRequestColumns + `
		FROM session_requests
		WHERE student_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.Pool().Query(ctx, query, studentID)
	if err != nil {
		return nil, fmt.Errorf("list student requests: %w", err)
	}

	return collectSessionRequests(rows)
}

// HasPendingRequest проверяет, есть ли у студента живая заявка к учителю
func (r *SessionRequestRepository) HasPendingRequest(ctx context.Context, studentID, tutorID int64, createdAfter time.Time) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM session_requests
			WHERE student_id = $1 AND tutor_id = $2 AND status = $3 AND created_at > $4
		)
	`

	var exists bool
	err := r.Pool().QueryRow(ctx, query, studentID, tutorID, model.RequestStatusPending, createdAfter).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check pending request: %w", err)
	}

	return exists, nil
}

// Resolve atomically moves a pending request to t.To.
// On accept the tutor is marked busy in the same transaction; a tutor that is
// already busy makes the whole transition roll back with ErrTutorBusy.
// When nothing matched it returns the current row together with ErrStatusConflict,
// or ErrNotFound if the row does not exist.
func (r *SessionRequestRepository) Resolve(ctx context.Context, t Transition) (*model.SessionRequest, error) {
	if !model.CanTransition(model.RequestStatusPending, t.To) {
		return nil, fmt.Errorf("resolve request: invalid target status %q", t.To)
	}

	var resolved *model.SessionRequest
	var current *model.SessionRequest

	err := r.InTx(ctx, func(tx pgx.Tx) error {
		query := `
			UPDATE session_requests
			SET status = $1, session_id = $2, resolved_at = $3
			WHERE id = $4 AND status = $5 AND created_at > $6
			RETURNING ` + sessionRequestColumns

		req, err := scanSessionRequest(tx.QueryRow(
			ctx, query,
			t.To,
			t.SessionID,
			t.At,
			t.RequestID,
			model.RequestStatusPending,
			t.CreatedAfter,
		))
		if err != nil {
			if !base.IsNotFound(err) {
				return fmt.Errorf("update request status: %w", err)
			}
			// Ничего не обновили: либо заявки нет, либо её уже разрешили
			current, err = r.getByID(ctx, tx, t.RequestID)
			if err != nil {
				return err
			}
			return ErrStatusConflict
		}

		if t.To == model.RequestStatusAccepted {
			affected, err := base.ExecAffected(ctx, tx,
				`UPDATE users SET is_busy = true WHERE id = $1 AND is_tutor = true AND NOT is_busy`, req.TutorID)
			if err != nil {
				return fmt.Errorf("mark tutor busy: %w", err)
			}
			if affected == 0 {
				return ErrTutorBusy
			}
		}

		resolved = req
		return nil
	})

	if errors.Is(err, ErrStatusConflict) {
		return current, ErrStatusConflict
	}
	if errors.Is(err, ErrTutorBusy) {
		// Транзакция откатилась, заявка осталась pending
		current, getErr := r.GetByID(ctx, t.RequestID)
		if getErr != nil {
			return nil, getErr
		}
		return current, ErrTutorBusy
	}
	if err != nil {
		return nil, err
	}

	return resolved, nil
}

// EndSession закрывает комнату и освобождает учителя в одной транзакции.
// Повторный вызов ничего не меняет и возвращает запись вместе с ErrSessionEnded.
func (r *SessionRequestRepository) EndSession(ctx context.Context, sessionID uuid.UUID, at time.Time) (*model.SessionRequest, error) {
	var ended *model.SessionRequest
	var current *model.SessionRequest

	err := r.InTx(ctx, func(tx pgx.Tx) error {
		query := `
			UPDATE session_requests
			SET ended_at = $1
			WHERE session_id = $2 AND status = $3 AND ended_at IS NULL
			RETURNING ` + sessionRequestColumns

		req, err := scanSessionRequest(tx.QueryRow(ctx, query, at, sessionID, model.RequestStatusAccepted))
		if err != nil {
			if !base.IsNotFound(err) {
				return fmt.Errorf("end session: %w", err)
			}
			current, err = scanSessionRequest(tx.QueryRow(ctx,
				`SELECT `+sessionRequestColumns+` FROM session_requests WHERE session_id = $1`, sessionID))
			if err != nil {
				if base.IsNotFound(err) {
					return ErrNotFound
				}
				return fmt.Errorf("get ended session: %w", err)
			}
			return ErrSessionEnded
		}

		if _, err := tx.Exec(ctx, `UPDATE users SET is_busy = false WHERE id = $1`, req.TutorID); err != nil {
			return fmt.Errorf("release tutor: %w", err)
		}

		ended = req
		return nil
	})

	if errors.Is(err, ErrSessionEnded) {
		return current, ErrSessionEnded
	}
	if err != nil {
		return nil, err
	}

	return ended, nil
}

// ExpireStale переводит в expired все pending заявки, созданные не позже cutoff
func (r *SessionRequestRepository) ExpireStale(ctx context.Context, cutoff, at time.Time) ([]*model.SessionRequest, error) {
	query := `
		UPDATE session_requests
		SET status = $1, resolved_at = $2
		WHERE status = $3 AND created_at <= $4
		RETURNING ` + sessionRequestColumns

	rows, err := r.Pool().Query(ctx, query, model.RequestStatusExpired, at, model.RequestStatusPending, cutoff)
	if err != nil {
		return nil, fmt.Errorf("expire stale requests: %w", err)
	}

	return collectSessionRequests(rows)
}
