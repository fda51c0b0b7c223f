package usecase

import (
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"counseling/internal/domain"
)

const (
	DefaultPerPage = 20
	MaxPerPage     = 100

	StageWaiting      = "waiting"
	StageTranscribing = "transcribing"
)

// Snapshot is a read-only view of a task with the fields clients derive from it.
type Snapshot struct {
	Task       domain.Task
	StageLabel string
	StartedAt  time.Time
	CanRetry   bool
}

// Poller answers read-only status queries. MaxRetries should match the Retrier's.
type Poller struct {
	Deps
	MaxRetries int
}

// Status returns the current snapshot of a task addressed by its task id.
func (p *Poller) Status(ctx context.Context, kind domain.Kind, taskID string) (Snapshot, error) {
	t, err := p.Tasks.TaskByTaskID(ctx, kind, taskID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%s task %s: %w", kind, taskID, err)
	}
	return p.snapshot(t), nil
}

func (p *Poller) snapshot(t *domain.Task) Snapshot {
	s := Snapshot{
		Task:       *t,
		StageLabel: stageLabel(t),
		StartedAt:  t.CreatedAt,
		CanRetry:   t.CanRetry(p.MaxRetries),
	}
	if t.StartedAt != nil {
		s.StartedAt = *t.StartedAt
	}
	return s
}

func stageLabel(t *domain.Task) string {
	switch t.Status {
	case domain.StatusPending, domain.StatusRetrying:
		return StageWaiting
	case domain.StatusProcessing:
		return StageTranscribing
	case domain.StatusCompleted, domain.StatusFailed:
		return string(t.Status)
	}
	if t.Stage != "" {
		return t.Stage
	}
	return string(t.Status)
}

// Result returns a completed task addressed by task id or internal id.
func (p *Poller) Result(ctx context.Context, kind domain.Kind, ref string) (*domain.Task, error) {
	t, err := p.taskByRef(ctx, kind, ref)
	if err != nil {
		return nil, fmt.Errorf("%s task %s: %w", kind, ref, err)
	}
	if t.Status != domain.StatusCompleted {
		return nil, fmt.Errorf("%w: %s task %s is %s", domain.ErrPreconditionFailed, kind, t.TaskID, t.Status)
	}
	return t, nil
}

// Page is one page of a task listing.
type Page struct {
	Items   []Snapshot
	Total   int
	Page    int
	PerPage int
}

// List returns a page of snapshots, newest first.
func (p *Poller) List(ctx context.Context, q domain.TaskQuery) (Page, error) {
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.PerPage == 0 {
		q.PerPage = DefaultPerPage
	}
	if q.PerPage < 1 || q.PerPage > MaxPerPage {
		return Page{}, fmt.Errorf("%w: per_page must be between 1 and %d", domain.ErrInvalidRequest, MaxPerPage)
	}
	if q.Status != "" && !q.Status.Terminal() && !slices.Contains(domain.InFlightStatuses(q.Kind), q.Status) {
		return Page{}, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidRequest, q.Status)
	}

	tasks, total, err := p.Tasks.ListTasks(ctx, q)
	if err != nil {
		return Page{}, err
	}
	page := Page{Items: make([]Snapshot, 0, len(tasks)), Total: total, Page: q.Page, PerPage: q.PerPage}
	for i := range tasks {
		page.Items = append(page.Items, p.snapshot(&tasks[i]))
	}
	return page, nil
}

// Stats aggregates every non-deleted task of kind.
func (p *Poller) Stats(ctx context.Context, kind domain.Kind) (domain.TaskStats, error) {
	tasks, _, err := p.Tasks.ListTasks(ctx, domain.TaskQuery{Kind: kind})
	if err != nil {
		return domain.TaskStats{}, err
	}

	var (
		stats             domain.TaskStats
		durations, scores float64
		nScored           int
	)
	for _, t := range tasks {
		stats.Total++
		switch t.Status {
		case domain.StatusCompleted:
			stats.Completed++
			durations += float64(t.ActualDuration)
			if t.Result != nil && t.Result.Analysis != nil {
				scores += t.Result.Analysis.OverallScore
				nScored++
			}
		case domain.StatusFailed:
			stats.Failed++
		case domain.StatusPending, domain.StatusRetrying:
			stats.Pending++
		default:
			stats.Processing++
		}
	}

	if stats.Completed > 0 {
		stats.AverageProcessingTime = round2(durations / float64(stats.Completed))
	}
	if nScored > 0 {
		stats.AverageOverallScore = round2(scores / float64(nScored))
	}
	if stats.Total > 0 {
		stats.SuccessRate = round2(float64(stats.Completed) / float64(stats.Total) * 100)
	}
	return stats, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
