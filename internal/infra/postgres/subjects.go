package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"counseling/internal/domain"

	"github.com/google/uuid"
)

const recordingColumns = `id, customer_id, session_id, file_path, original_filename, content_type,
	file_size, upload_status, uploaded_at, created_at, updated_at, is_deleted, deleted_at`

const sessionColumns = `id, customer_id, status, audio_file_path, transcription_text, analysis_result,
	session_date, created_at, updated_at`

func scanRecording(row scanner) (*domain.Recording, error) {
	var (
		r                     domain.Recording
		sessionID, filename   sql.NullString
		uploadedAt, deletedAt sql.NullTime
	)
	err := row.Scan(&r.ID, &r.CustomerID, &sessionID, &r.FilePath, &filename, &r.ContentType,
		&r.FileSize, &r.UploadStatus, &uploadedAt, &r.CreatedAt, &r.UpdatedAt, &r.Deleted, &deletedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	r.SessionID, r.OriginalFilename = sessionID.String, filename.String
	r.UploadedAt, r.DeletedAt = timePtr(uploadedAt), timePtr(deletedAt)
	r.CreatedAt, r.UpdatedAt = r.CreatedAt.UTC(), r.UpdatedAt.UTC()
	return &r, nil
}

func scanSession(row scanner) (*domain.Session, error) {
	var (
		s              domain.Session
		path, text     sql.NullString
		analysisResult []byte
	)
	err := row.Scan(&s.ID, &s.CustomerID, &s.Status, &path, &text, &analysisResult,
		&s.SessionDate, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	s.AudioFilePath, s.TranscriptionText = path.String, text.String
	if len(analysisResult) > 0 {
		s.AnalysisResult = new(domain.AnalysisResult)
		if err := json.Unmarshal(analysisResult, s.AnalysisResult); err != nil {
			return nil, fmt.Errorf("decode analysis of session %s: %w", s.ID, err)
		}
	}
	s.SessionDate, s.CreatedAt, s.UpdatedAt = s.SessionDate.UTC(), s.CreatedAt.UTC(), s.UpdatedAt.UTC()
	return &s, nil
}

func (s *Store) CreateRecording(ctx context.Context, r *domain.Recording) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recordings (`+recordingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		r.ID, r.CustomerID, nullString(r.SessionID), r.FilePath, nullString(r.OriginalFilename), r.ContentType,
		r.FileSize, r.UploadStatus, r.UploadedAt, r.CreatedAt, r.UpdatedAt, r.Deleted, r.DeletedAt)
	if err != nil {
		return fmt.Errorf("insert recording %s: %w", r.ID, mapErr(err))
	}
	return nil
}

func (s *Store) Recording(ctx context.Context, id string) (*domain.Recording, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordingColumns+` FROM recordings WHERE id = $1 AND NOT is_deleted`, id)
	r, err := scanRecording(row)
	if err != nil {
		return nil, fmt.Errorf("recording %s: %w", id, err)
	}
	return r, nil
}

func (s *Store) SaveRecording(ctx context.Context, r *domain.Recording) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE recordings SET
			session_id = $2, original_filename = $3, content_type = $4, file_size = $5,
			upload_status = $6, uploaded_at = $7, updated_at = $8, is_deleted = $9, deleted_at = $10
		WHERE id = $1`,
		r.ID, nullString(r.SessionID), nullString(r.OriginalFilename), r.ContentType, r.FileSize,
		r.UploadStatus, r.UploadedAt, r.UpdatedAt, r.Deleted, r.DeletedAt)
	if err != nil {
		return fmt.Errorf("update recording %s: %w", r.ID, mapErr(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("recording %s: %w", r.ID, domain.ErrNotFound)
	}
	return nil
}

// EnsureSession locks the recording row so concurrent callers link the same session.
func (s *Store) EnsureSession(ctx context.Context, r *domain.Recording) (*domain.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rec, err := scanRecording(tx.QueryRowContext(ctx,
		`SELECT `+recordingColumns+` FROM recordings WHERE id = $1 AND NOT is_deleted FOR UPDATE`, r.ID))
	if err != nil {
		return nil, fmt.Errorf("recording %s: %w", r.ID, err)
	}

	if rec.SessionID != "" {
		sess, err := scanSession(tx.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, rec.SessionID))
		if err == nil {
			return sess, tx.Commit()
		}
		if !isNotFound(err) {
			return nil, err
		}
	}

	now := time.Now().UTC()
	sess := &domain.Session{
		ID:            uuid.NewString(),
		CustomerID:    rec.CustomerID,
		Status:        domain.SessionRecorded,
		AudioFilePath: rec.FilePath,
		SessionDate:   now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (id, customer_id, status, audio_file_path, session_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sess.ID, sess.CustomerID, sess.Status, sess.AudioFilePath, sess.SessionDate, sess.CreatedAt, sess.UpdatedAt); err != nil {
		return nil, fmt.Errorf("insert session: %w", mapErr(err))
	}
	if _, err := tx.ExecContext(ctx, `UPDATE recordings SET session_id = $2, updated_at = $3 WHERE id = $1`,
		rec.ID, sess.ID, now); err != nil {
		return nil, fmt.Errorf("link session to recording %s: %w", rec.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Store) Session(ctx context.Context, id string) (*domain.Session, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", id, err)
	}
	return sess, nil
}

func (s *Store) SaveSession(ctx context.Context, sess *domain.Session) error {
	var analysis []byte
	if sess.AnalysisResult != nil {
		b, err := json.Marshal(sess.AnalysisResult)
		if err != nil {
			return err
		}
		analysis = b
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET
			status = $2, audio_file_path = $3, transcription_text = $4, analysis_result = $5, updated_at = $6
		WHERE id = $1`,
		sess.ID, sess.Status, nullString(sess.AudioFilePath), nullString(sess.TranscriptionText), jsonb(analysis), sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update session %s: %w", sess.ID, mapErr(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", sess.ID, domain.ErrNotFound)
	}
	return nil
}
