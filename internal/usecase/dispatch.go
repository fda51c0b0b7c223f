package usecase

import (
	"context"
	"errors"
	"fmt"

	"counseling/internal/domain"
	"counseling/internal/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const DefaultLanguage = "ja"

type TranscriptionRequest struct {
	RecordingID string
	Language    string
	Temperature float64
}

type AnalysisRequest struct {
	// TranscriptionRef is the transcription's task id or internal id.
	TranscriptionRef string
	Params           domain.AnalysisParams
}

// Dispatcher validates submissions, persists pending tasks and schedules their pipeline.
type Dispatcher struct {
	Deps
	Storage ports.Storage
	Spawner ports.Spawner
	Runner  Runner
}

// SubmitTranscription accepts a transcription request for an uploaded recording.
func (d *Dispatcher) SubmitTranscription(ctx context.Context, req TranscriptionRequest) (*domain.Task, error) {
	params := domain.TranscriptionParams{Language: req.Language, Temperature: req.Temperature}
	if params.Language == "" {
		params.Language = DefaultLanguage
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	rec, err := d.Subjects.Recording(ctx, req.RecordingID)
	if err != nil {
		return nil, fmt.Errorf("recording %s: %w", req.RecordingID, err)
	}
	if !rec.Uploaded() {
		return nil, fmt.Errorf("%w: recording %s upload is %s", domain.ErrPreconditionFailed, rec.ID, rec.UploadStatus)
	}
	if err := d.ensureIdle(ctx, domain.KindTranscription, rec.ID); err != nil {
		return nil, err
	}
	if err := d.checkAudio(ctx, rec); err != nil {
		return nil, err
	}

	var sessionID string
	if s, err := d.Subjects.EnsureSession(ctx, rec); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("recording_id", rec.ID).Msg("ensure session")
	} else {
		sessionID = s.ID
	}

	task := domain.NewTask(uuid.NewString(), uuid.NewString(), domain.KindTranscription, rec.ID,
		domain.Params{Transcription: &params}, domain.EstimateTranscription(0), d.now())
	task.SessionID = sessionID

	if err := d.create(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// SubmitAnalysis accepts an analysis request for a completed transcription.
func (d *Dispatcher) SubmitAnalysis(ctx context.Context, req AnalysisRequest) (*domain.Task, error) {
	src, err := d.prepareAnalysis(ctx, req)
	if err != nil {
		return nil, err
	}
	task := d.newAnalysis(src, req.Params)
	if err := d.create(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// SubmitAnalysisBatch validates every request before creating any task.
// Creation or scheduling failures after validation are reported per item.
func (d *Dispatcher) SubmitAnalysisBatch(ctx context.Context, reqs []AnalysisRequest) ([]*domain.Task, []error, error) {
	if len(reqs) == 0 {
		return nil, nil, fmt.Errorf("%w: empty batch", domain.ErrInvalidRequest)
	}

	seen := make(map[string]bool, len(reqs))
	sources := make([]*domain.Task, len(reqs))
	for i, req := range reqs {
		src, err := d.prepareAnalysis(ctx, req)
		if err != nil {
			return nil, nil, fmt.Errorf("item %d: %w", i, err)
		}
		if seen[src.ID] {
			return nil, nil, fmt.Errorf("item %d: %w: transcription %s listed twice", i, domain.ErrConflict, src.TaskID)
		}
		seen[src.ID] = true
		sources[i] = src
	}

	tasks := make([]*domain.Task, len(reqs))
	errs := make([]error, len(reqs))
	for i, src := range sources {
		task := d.newAnalysis(src, reqs[i].Params)
		if err := d.create(ctx, task); err != nil {
			errs[i] = err
			continue
		}
		tasks[i] = task
	}
	return tasks, errs, nil
}

func (d *Dispatcher) prepareAnalysis(ctx context.Context, req AnalysisRequest) (*domain.Task, error) {
	if req.Params.Type == "" {
		req.Params.Type = domain.AnalysisFull
	}
	if err := req.Params.Validate(); err != nil {
		return nil, err
	}

	src, err := d.taskByRef(ctx, domain.KindTranscription, req.TranscriptionRef)
	if err != nil {
		return nil, fmt.Errorf("transcription %s: %w", req.TranscriptionRef, err)
	}
	if src.Status != domain.StatusCompleted {
		return nil, fmt.Errorf("%w: transcription %s is %s", domain.ErrPreconditionFailed, src.TaskID, src.Status)
	}
	if err := d.ensureIdle(ctx, domain.KindAnalysis, src.ID); err != nil {
		return nil, err
	}
	return src, nil
}

func (d *Dispatcher) newAnalysis(src *domain.Task, params domain.AnalysisParams) *domain.Task {
	if params.Type == "" {
		params.Type = domain.AnalysisFull
	}
	task := domain.NewTask(uuid.NewString(), uuid.NewString(), domain.KindAnalysis, src.ID,
		domain.Params{Analysis: &params}, domain.EstimateAnalysis(params.Type), d.now())
	task.SessionID = src.SessionID
	return task
}

// create persists a pending task and schedules it.
func (d *Dispatcher) create(ctx context.Context, task *domain.Task) error {
	if err := d.Tasks.CreateTask(ctx, task); err != nil {
		return fmt.Errorf("create %s task: %w", task.Kind, err)
	}
	d.publish(ctx, task)

	log.Ctx(ctx).Info().
		Str("task_id", task.TaskID).
		Str("kind", string(task.Kind)).
		Str("subject_id", task.SubjectID).
		Int("estimated_duration", task.EstimatedDuration).
		Msg("task submitted")

	d.updateSession(ctx, task.SessionID, func(s *domain.Session) error {
		if task.Kind == domain.KindAnalysis {
			return s.Transition(domain.SessionAnalyzing, d.now())
		}
		return s.Reopen(d.now())
	})
	return d.launch(ctx, d.Spawner, d.Runner, task)
}

// ensureIdle rejects a subject that already has a non-terminal task of kind.
func (d *Dispatcher) ensureIdle(ctx context.Context, kind domain.Kind, subjectID string) error {
	t, err := d.Tasks.InFlightTask(ctx, kind, subjectID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return nil
	case err != nil:
		return err
	}
	return fmt.Errorf("%w: %s task %s is %s for %s", domain.ErrConflict, kind, t.TaskID, t.Status, subjectID)
}

func (d *Dispatcher) checkAudio(ctx context.Context, rec *domain.Recording) error {
	if d.Storage == nil {
		return domain.ValidateAudioFile(rec.FilePath, max(rec.FileSize, 1))
	}
	info, err := d.Storage.Stat(ctx, rec.FilePath)
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%w: audio object %s is missing", domain.ErrPreconditionFailed, rec.FilePath)
	}
	if err != nil {
		return fmt.Errorf("%w: stat audio object: %v", domain.ErrUnavailable, err)
	}
	return domain.ValidateAudioFile(rec.FilePath, info.Size)
}
