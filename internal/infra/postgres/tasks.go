package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"counseling/internal/domain"
	"counseling/internal/ports"
)

var _ ports.Store = (*Store)(nil)

const taskColumns = `id, task_id, kind, subject_id, session_id, status, progress, stage,
	params, result, error_message, error_code, retry_count, estimated_duration, actual_duration,
	started_at, completed_at, estimated_completion, created_at, updated_at, is_deleted, deleted_at, version`

const inFlight = `status NOT IN ('completed', 'failed') AND NOT is_deleted`

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*domain.Task, error) {
	var (
		t                                      domain.Task
		sessionID, stage, errMsg, errCode      sql.NullString
		params, result                         []byte
		startedAt, completedAt, eta, deletedAt sql.NullTime
	)
	err := row.Scan(&t.ID, &t.TaskID, &t.Kind, &t.SubjectID, &sessionID, &t.Status, &t.Progress, &stage,
		&params, &result, &errMsg, &errCode, &t.RetryCount, &t.EstimatedDuration, &t.ActualDuration,
		&startedAt, &completedAt, &eta, &t.CreatedAt, &t.UpdatedAt, &t.Deleted, &deletedAt, &t.Version)
	if err != nil {
		return nil, mapErr(err)
	}

	t.SessionID, t.Stage = sessionID.String, stage.String
	if err := json.Unmarshal(params, &t.Params); err != nil {
		return nil, fmt.Errorf("decode params of %s: %w", t.TaskID, err)
	}
	if len(result) > 0 {
		t.Result = new(domain.Result)
		if err := json.Unmarshal(result, t.Result); err != nil {
			return nil, fmt.Errorf("decode result of %s: %w", t.TaskID, err)
		}
	}
	if errMsg.Valid || errCode.Valid {
		t.Error = &domain.TaskError{Message: errMsg.String, Code: errCode.String}
	}
	t.StartedAt, t.CompletedAt, t.EstimatedCompletion, t.DeletedAt =
		timePtr(startedAt), timePtr(completedAt), timePtr(eta), timePtr(deletedAt)
	t.CreatedAt, t.UpdatedAt = t.CreatedAt.UTC(), t.UpdatedAt.UTC()
	return &t, nil
}

func encodeTask(t *domain.Task) (params, result []byte, errMsg, errCode sql.NullString, err error) {
	if params, err = json.Marshal(t.Params); err != nil {
		return
	}
	if t.Result != nil {
		if result, err = json.Marshal(t.Result); err != nil {
			return
		}
	}
	if t.Error != nil {
		errMsg = sql.NullString{String: t.Error.Message, Valid: true}
		errCode = nullString(t.Error.Code)
	}
	return
}

func (s *Store) CreateTask(ctx context.Context, t *domain.Task) error {
	params, result, errMsg, errCode, err := encodeTask(t)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`,
		t.ID, t.TaskID, t.Kind, t.SubjectID, nullString(t.SessionID), t.Status, t.Progress, nullString(t.Stage),
		jsonb(params), jsonb(result), errMsg, errCode, t.RetryCount, t.EstimatedDuration, t.ActualDuration,
		t.StartedAt, t.CompletedAt, t.EstimatedCompletion, t.CreatedAt, t.UpdatedAt, t.Deleted, t.DeletedAt, t.Version)
	if err != nil {
		return fmt.Errorf("insert %s task %s: %w", t.Kind, t.TaskID, mapErr(err))
	}
	return nil
}

func (s *Store) UpdateTask(ctx context.Context, t *domain.Task) error {
	_, result, errMsg, errCode, err := encodeTask(t)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET
			session_id = $3, status = $4, progress = $5, stage = $6, result = $7,
			error_message = $8, error_code = $9, retry_count = $10, estimated_duration = $11,
			actual_duration = $12, started_at = $13, completed_at = $14, estimated_completion = $15,
			updated_at = $16, is_deleted = $17, deleted_at = $18, version = version + 1
		WHERE id = $1 AND kind = $2 AND version = $19`,
		t.ID, t.Kind, nullString(t.SessionID), t.Status, t.Progress, nullString(t.Stage), jsonb(result),
		errMsg, errCode, t.RetryCount, t.EstimatedDuration, t.ActualDuration,
		t.StartedAt, t.CompletedAt, t.EstimatedCompletion, t.UpdatedAt, t.Deleted, t.DeletedAt, t.Version)
	if err != nil {
		return fmt.Errorf("update %s task %s: %w", t.Kind, t.TaskID, mapErr(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s task %s: %w", t.Kind, t.TaskID, err)
	}
	if n == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM tasks WHERE id = $1 AND kind = $2)`,
			t.ID, t.Kind).Scan(&exists); err != nil {
			return fmt.Errorf("update %s task %s: %w", t.Kind, t.TaskID, err)
		}
		if exists {
			return fmt.Errorf("%w: %s task %s changed since version %d", domain.ErrConflict, t.Kind, t.TaskID, t.Version)
		}
		return fmt.Errorf("%s task %s: %w", t.Kind, t.TaskID, domain.ErrNotFound)
	}
	t.Version++
	return nil
}

func (s *Store) queryTask(ctx context.Context, where string, args ...any) (*domain.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE `+where+` LIMIT 1`, args...)
	return scanTask(row)
}

func (s *Store) TaskByTaskID(ctx context.Context, kind domain.Kind, taskID string) (*domain.Task, error) {
	t, err := s.queryTask(ctx, `task_id = $1 AND kind = $2 AND NOT is_deleted`, taskID, kind)
	if err != nil {
		return nil, fmt.Errorf("%s task %s: %w", kind, taskID, err)
	}
	return t, nil
}

func (s *Store) TaskByID(ctx context.Context, kind domain.Kind, id string) (*domain.Task, error) {
	t, err := s.queryTask(ctx, `id = $1 AND kind = $2 AND NOT is_deleted`, id, kind)
	if err != nil {
		return nil, fmt.Errorf("%s task %s: %w", kind, id, err)
	}
	return t, nil
}

func (s *Store) InFlightTask(ctx context.Context, kind domain.Kind, subjectID string) (*domain.Task, error) {
	t, err := s.queryTask(ctx, `kind = $1 AND subject_id = $2 AND `+inFlight, kind, subjectID)
	if err != nil {
		return nil, fmt.Errorf("in-flight %s task for %s: %w", kind, subjectID, err)
	}
	return t, nil
}

func (s *Store) ListTasks(ctx context.Context, q domain.TaskQuery) ([]domain.Task, int, error) {
	conds := []string{"NOT is_deleted"}
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if q.Kind != "" {
		add("kind = $%d", q.Kind)
	}
	if q.SubjectID != "" {
		add("subject_id = $%d", q.SubjectID)
	}
	if q.Status != "" {
		add("status = $%d", q.Status)
	}
	where := strings.Join(conds, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tasks: %w", err)
	}

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE ` + where + ` ORDER BY created_at DESC, id DESC`
	if q.PerPage > 0 {
		args = append(args, q.PerPage, max(q.Page-1, 0)*q.PerPage)
		query += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	}

	tasks, err := s.queryTasks(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return tasks, total, nil
}

func (s *Store) StaleTasks(ctx context.Context, before time.Time, limit int) ([]domain.Task, error) {
	return s.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks
		WHERE `+inFlight+` AND updated_at < $1
		ORDER BY updated_at ASC LIMIT $2`, before, limit)
}

func (s *Store) queryTasks(ctx context.Context, query string, args ...any) ([]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var out []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}
