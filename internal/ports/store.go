package ports

import (
	"context"
	"time"

	"counseling/internal/domain"
)

type TaskStore interface {
	// CreateTask persists a new record. It returns domain.ErrConflict when a
	// non-terminal record of the same kind already exists for the subject.
	CreateTask(ctx context.Context, t *domain.Task) error
	// UpdateTask overwrites the mutable fields of an existing record and bumps
	// t.Version. It returns domain.ErrConflict when the stored version differs
	// from t.Version, meaning another writer got there first.
	UpdateTask(ctx context.Context, t *domain.Task) error
	TaskByTaskID(ctx context.Context, kind domain.Kind, taskID string) (*domain.Task, error)
	TaskByID(ctx context.Context, kind domain.Kind, id string) (*domain.Task, error)
	// InFlightTask returns the non-terminal record for subject, or domain.ErrNotFound.
	InFlightTask(ctx context.Context, kind domain.Kind, subjectID string) (*domain.Task, error)
	ListTasks(ctx context.Context, q domain.TaskQuery) ([]domain.Task, int, error)
	// StaleTasks returns non-terminal records last updated before the cutoff.
	StaleTasks(ctx context.Context, before time.Time, limit int) ([]domain.Task, error)
}

// Subjects holds the parent records tasks read from and report to.
type Subjects interface {
	CreateRecording(ctx context.Context, r *domain.Recording) error
	Recording(ctx context.Context, id string) (*domain.Recording, error)
	SaveRecording(ctx context.Context, r *domain.Recording) error
	// EnsureSession returns the session linked to r, creating and linking one if needed.
	EnsureSession(ctx context.Context, r *domain.Recording) (*domain.Session, error)
	Session(ctx context.Context, id string) (*domain.Session, error)
	SaveSession(ctx context.Context, s *domain.Session) error
}

type Store interface {
	TaskStore
	Subjects
	Close() error
}
