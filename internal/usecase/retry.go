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

// Retrier re-dispatches failed tasks within their retry budget.
// MaxRetries is used as is; zero disables retries.
type Retrier struct {
	Deps
	Spawner    ports.Spawner
	Runner     Runner
	MaxRetries int
}

// Retry moves a failed task back to its waiting status and schedules a new attempt
// under the same identity.
func (r *Retrier) Retry(ctx context.Context, kind domain.Kind, taskID string) (*domain.Task, error) {
	t, err := r.Tasks.TaskByTaskID(ctx, kind, taskID)
	if err != nil {
		return nil, fmt.Errorf("%s task %s: %w", kind, taskID, err)
	}

	if !t.CanRetry(r.MaxRetries) {
		return nil, t.Retry(r.MaxRetries, 0, r.now())
	}
	// failed, but the goroutine of the last attempt has not returned yet
	if r.Spawner.Active(t.TaskID) {
		return nil, fmt.Errorf("%w: %s task %s still has an attempt running", domain.ErrConflict, kind, t.TaskID)
	}

	other, err := r.Tasks.InFlightTask(ctx, kind, t.SubjectID)
	switch {
	case err == nil && other.ID != t.ID:
		return nil, fmt.Errorf("%w: %s task %s is in flight for %s", domain.ErrConflict, kind, other.TaskID, t.SubjectID)
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}

	if err := t.Retry(r.MaxRetries, estimate(t), r.now()); err != nil {
		return nil, err
	}
	if err := r.save(ctx, t); err != nil {
		return nil, err
	}

	log.Ctx(ctx).Info().
		Str("task_id", t.TaskID).
		Str("kind", string(kind)).
		Int("retry_count", t.RetryCount).
		Msg("task retried")

	r.updateSession(ctx, t.SessionID, func(s *domain.Session) error {
		if kind == domain.KindTranscription {
			return s.Reopen(r.now())
		}
		return s.Transition(domain.SessionAnalyzing, r.now())
	})

	if err := r.launch(ctx, r.Spawner, r.Runner, t); err != nil {
		return nil, err
	}
	return t, nil
}

func estimate(t *domain.Task) time.Duration {
	if t.Kind == domain.KindAnalysis && t.Params.Analysis != nil {
		return domain.EstimateAnalysis(t.Params.Analysis.Type)
	}
	return domain.EstimateTranscription(0)
}
