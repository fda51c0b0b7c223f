package usecase

import (
	"context"
	"fmt"
	"time"

	"counseling/internal/domain"
	"counseling/internal/ports"

	"github.com/rs/zerolog/log"
)

const (
	DefaultStaleAfter = 30 * time.Minute
	reapBatch         = 100
)

// Reaper fails tasks that stopped making progress, typically after a process crash.
type Reaper struct {
	Deps
	// Spawner is optional. Tasks it reports as active are left alone.
	Spawner    ports.Spawner
	StaleAfter time.Duration
}

// Sweep fails every stale non-terminal task with TIMEOUT and returns how many it failed.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	staleAfter := r.StaleAfter
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}

	tasks, err := r.Tasks.StaleTasks(ctx, r.now().Add(-staleAfter), reapBatch)
	if err != nil {
		return 0, fmt.Errorf("list stale tasks: %w", err)
	}

	var n int
	for i := range tasks {
		t := &tasks[i]
		if r.Spawner != nil && r.Spawner.Active(t.TaskID) {
			continue
		}
		msg := fmt.Sprintf("no progress since %s", t.UpdatedAt.Format(time.RFC3339))
		if err := t.Fail(msg, domain.CodeTimeout, r.now()); err != nil {
			continue
		}
		if err := r.save(ctx, t); err != nil {
			log.Ctx(ctx).Error().Err(err).Str("task_id", t.TaskID).Msg("reap task")
			continue
		}
		r.updateSession(ctx, t.SessionID, func(s *domain.Session) error {
			return s.Transition(domain.SessionFailed, r.now())
		})
		n++
	}

	if n > 0 {
		log.Ctx(ctx).Warn().Int("reaped", n).Dur("stale_after", staleAfter).Msg("stale tasks failed")
	}
	return n, nil
}
