package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"counseling/internal/domain"
	"counseling/internal/ports"

	"github.com/rs/zerolog/log"
)

// Runner drives one pipeline attempt for a task.
type Runner interface {
	Run(ctx context.Context, kind domain.Kind, taskID string)
}

// Now is the default clock. Timestamps are truncated to what Postgres stores.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// Deps is shared by every use case.
type Deps struct {
	Tasks    ports.TaskStore
	Subjects ports.Subjects
	Events   ports.Publisher
	Clock    func() time.Time
}

func (d Deps) now() time.Time {
	if d.Clock != nil {
		return d.Clock()
	}
	return Now()
}

// save persists t and publishes its progress event. Publish failures are logged only.
func (d Deps) save(ctx context.Context, t *domain.Task) error {
	if err := d.Tasks.UpdateTask(ctx, t); err != nil {
		return fmt.Errorf("update %s task %s: %w", t.Kind, t.TaskID, err)
	}
	d.publish(ctx, t)
	return nil
}

func (d Deps) publish(ctx context.Context, t *domain.Task) {
	if d.Events == nil {
		return
	}
	if err := d.Events.Publish(ctx, domain.EventFor(t)); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("task_id", t.TaskID).Msg("publish progress event")
	}
}

// launch hands a waiting task to the spawner. A refused spawn fails the task
// with DISPATCH_ERROR, except when the same task is already scheduled.
func (d Deps) launch(ctx context.Context, sp ports.Spawner, run Runner, t *domain.Task) error {
	kind, taskID := t.Kind, t.TaskID
	err := sp.Spawn(taskID, func(ctx context.Context) {
		run.Run(ctx, kind, taskID)
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, ports.ErrAlreadyScheduled) {
		return fmt.Errorf("%w: %s task %s is already running", domain.ErrConflict, kind, taskID)
	}

	log.Ctx(ctx).Error().Err(err).Str("task_id", taskID).Msg("schedule pipeline")
	if ferr := t.Fail(fmt.Sprintf("could not schedule task: %v", err), domain.CodeDispatch, d.now()); ferr == nil {
		if serr := d.save(context.WithoutCancel(ctx), t); serr != nil {
			log.Ctx(ctx).Error().Err(serr).Str("task_id", taskID).Msg("record dispatch failure")
		}
	}
	return fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
}

// taskByRef resolves any task by external task id, then by internal id.
func (d Deps) taskByRef(ctx context.Context, kind domain.Kind, ref string) (*domain.Task, error) {
	t, err := d.Tasks.TaskByTaskID(ctx, kind, ref)
	if errors.Is(err, domain.ErrNotFound) {
		return d.Tasks.TaskByID(ctx, kind, ref)
	}
	return t, err
}

// updateSession applies fn to the task's session. Failures are logged; the task outcome stands.
func (d Deps) updateSession(ctx context.Context, sessionID string, fn func(s *domain.Session) error) {
	if sessionID == "" || d.Subjects == nil {
		return
	}
	logger := log.Ctx(ctx).With().Str("session_id", sessionID).Logger()

	s, err := d.Subjects.Session(ctx, sessionID)
	if err != nil {
		logger.Warn().Err(err).Msg("load session")
		return
	}
	if err := fn(s); err != nil {
		logger.Warn().Err(err).Msg("update session")
		return
	}
	if err := d.Subjects.SaveSession(ctx, s); err != nil {
		logger.Warn().Err(err).Msg("save session")
	}
}
