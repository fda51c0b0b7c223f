package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"counseling/internal/config"
	"counseling/internal/domain"

	"github.com/google/uuid"
)

// openTestStore connects to the database named by COUNSELING_TEST_POSTGRES_DSN
// and applies migrations. Tests are skipped when it is unset.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("COUNSELING_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("COUNSELING_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, config.Postgres{DSN: dsn, MaxOpenConns: 4, MaxIdleConns: 2, ConnLifetime: time.Minute})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return s
}

func newRecording(t *testing.T, s *Store) *domain.Recording {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	r := &domain.Recording{
		ID:           uuid.NewString(),
		CustomerID:   "cust-1",
		FilePath:     "recordings/" + uuid.NewString() + ".mp3",
		ContentType:  "audio/mpeg",
		FileSize:     1024,
		UploadStatus: domain.UploadCompleted,
		UploadedAt:   &now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.CreateRecording(context.Background(), r); err != nil {
		t.Fatalf("CreateRecording() error = %v", err)
	}
	return r
}

func newTranscription(subjectID string) *domain.Task {
	now := time.Now().UTC().Truncate(time.Microsecond)
	params := domain.Params{Transcription: &domain.TranscriptionParams{Language: "ja"}}
	return domain.NewTask(uuid.NewString(), uuid.NewString(), domain.KindTranscription, subjectID, params, time.Minute, now)
}

// TestTaskRoundTrip verifies a task survives create, update and reload.
func TestTaskRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	rec := newRecording(t, s)

	task := newTranscription(rec.ID)
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	now := time.Now().UTC().Truncate(time.Microsecond)
	if err := task.Start("", now); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	result := domain.Result{Transcription: &domain.TranscriptionResult{Text: "こんにちは", Language: "ja", Confidence: 0.9}}
	if err := task.Complete(result, now.Add(time.Second)); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if err := s.UpdateTask(ctx, task); err != nil {
		t.Fatalf("UpdateTask() error = %v", err)
	}

	got, err := s.TaskByTaskID(ctx, domain.KindTranscription, task.TaskID)
	if err != nil {
		t.Fatalf("TaskByTaskID() error = %v", err)
	}
	if got.Status != domain.StatusCompleted || got.Progress != 100 {
		t.Fatalf("status = %s/%d, want completed/100", got.Status, got.Progress)
	}
	if got.Result == nil || got.Result.Transcription.Text != "こんにちは" {
		t.Fatalf("result = %+v", got.Result)
	}
	if got.StartedAt == nil || got.CompletedAt == nil {
		t.Fatal("timestamps not persisted")
	}
}

// TestUpdateTaskRejectsStaleVersion verifies that a write based on an outdated read fails.
func TestUpdateTaskRejectsStaleVersion(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	rec := newRecording(t, s)

	task := newTranscription(rec.ID)
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	stale, err := s.TaskByTaskID(ctx, domain.KindTranscription, task.TaskID)
	if err != nil {
		t.Fatalf("TaskByTaskID() error = %v", err)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	if err := task.Fail("no progress", domain.CodeTimeout, now); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}
	if err := s.UpdateTask(ctx, task); err != nil {
		t.Fatalf("UpdateTask() error = %v", err)
	}
	if task.Version != 1 {
		t.Fatalf("version = %d, want 1", task.Version)
	}

	if err := stale.Start("", now); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.UpdateTask(ctx, stale); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("stale UpdateTask() error = %v, want ErrConflict", err)
	}

	missing := newTranscription("nobody")
	if err := s.UpdateTask(ctx, missing); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("UpdateTask(missing) error = %v, want ErrNotFound", err)
	}

	got, err := s.TaskByTaskID(ctx, domain.KindTranscription, task.TaskID)
	if err != nil {
		t.Fatalf("TaskByTaskID() error = %v", err)
	}
	if got.Status != domain.StatusFailed || got.Version != 1 {
		t.Fatalf("stored = %s v%d, want failed v1", got.Status, got.Version)
	}
}

// TestInFlightUniqueness verifies the partial unique index rejects a second in-flight task.
func TestInFlightUniqueness(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	rec := newRecording(t, s)

	if err := s.CreateTask(ctx, newTranscription(rec.ID)); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	err := s.CreateTask(ctx, newTranscription(rec.ID))
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("second CreateTask() error = %v, want ErrConflict", err)
	}

	if _, err := s.InFlightTask(ctx, domain.KindTranscription, rec.ID); err != nil {
		t.Fatalf("InFlightTask() error = %v", err)
	}
	if _, err := s.InFlightTask(ctx, domain.KindTranscription, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("InFlightTask(missing) error = %v, want ErrNotFound", err)
	}
}

// TestEnsureSessionLinksOnce verifies repeated calls return the same session.
func TestEnsureSessionLinksOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	rec := newRecording(t, s)

	first, err := s.EnsureSession(ctx, rec)
	if err != nil {
		t.Fatalf("EnsureSession() error = %v", err)
	}
	second, err := s.EnsureSession(ctx, rec)
	if err != nil {
		t.Fatalf("EnsureSession() error = %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("session ids = %s, %s, want equal", first.ID, second.ID)
	}

	got, err := s.Recording(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Recording() error = %v", err)
	}
	if got.SessionID != first.ID {
		t.Fatalf("recording session = %q, want %q", got.SessionID, first.ID)
	}
}
