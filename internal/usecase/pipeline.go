package usecase

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"counseling/internal/domain"
	"counseling/internal/ports"

	"github.com/rs/zerolog/log"
)

const (
	DefaultCallTimeout = 10 * time.Minute
	finalizeTimeout    = 10 * time.Second
)

// loadRetryDelay separates the two attempts at loading a task before a run.
var loadRetryDelay = 250 * time.Millisecond

// Pipeline drives one attempt of a task from its waiting status to a terminal one.
type Pipeline struct {
	Deps
	Transcriber ports.Transcriber
	Analyzer    ports.Analyzer
	CallTimeout time.Duration
}

var _ Runner = (*Pipeline)(nil)

// Run executes the attempt for taskID. Whatever happens inside the attempt,
// including a panic, the task ends completed or failed.
func (p *Pipeline) Run(ctx context.Context, kind domain.Kind, taskID string) {
	logger := log.Ctx(ctx).With().Str("task_id", taskID).Str("kind", string(kind)).Logger()
	ctx = logger.WithContext(ctx)

	task, err := p.load(ctx, kind, taskID)
	if err != nil {
		logger.Error().Err(err).Msg("load task")
		p.finalize(ctx, kind, taskID, domain.NewCapabilityError(domain.CodeInternal, fmt.Errorf("load task: %w", err)), nil)
		return
	}

	if err := task.Start(domain.StagePreprocessing, p.now()); err != nil {
		// another attempt owns the record
		logger.Warn().Err(err).Msg("skip attempt")
		return
	}

	var runErr error
	defer func() {
		p.finalize(ctx, kind, taskID, runErr, recover())
	}()

	if runErr = p.save(ctx, task); runErr != nil {
		return
	}
	logger.Info().Int("retry_count", task.RetryCount).Msg("attempt started")

	switch kind {
	case domain.KindTranscription:
		runErr = p.transcribe(ctx, task)
	case domain.KindAnalysis:
		runErr = p.analyze(ctx, task)
	default:
		runErr = fmt.Errorf("unknown task kind %q", kind)
	}
}

// load reads the task, trying once more after a short pause.
func (p *Pipeline) load(ctx context.Context, kind domain.Kind, taskID string) (*domain.Task, error) {
	task, err := p.Tasks.TaskByTaskID(ctx, kind, taskID)
	if err == nil || errors.Is(err, domain.ErrNotFound) {
		return task, err
	}
	log.Ctx(ctx).Warn().Err(err).Msg("load task, trying again")

	select {
	case <-ctx.Done():
		return nil, err
	case <-time.After(loadRetryDelay):
	}
	return p.Tasks.TaskByTaskID(ctx, kind, taskID)
}

func (p *Pipeline) transcribe(ctx context.Context, task *domain.Task) error {
	rec, err := p.Subjects.Recording(ctx, task.SubjectID)
	if err != nil {
		return fmt.Errorf("load recording %s: %w", task.SubjectID, err)
	}

	params := domain.TranscriptionParams{}
	if task.Params.Transcription != nil {
		params = *task.Params.Transcription
	}

	var res *domain.TranscriptionResult
	err = p.call(ctx, "transcription", func(ctx context.Context) error {
		var err error
		res, err = p.Transcriber.Transcribe(ctx, rec.FilePath, params)
		return err
	})
	if err != nil {
		return err
	}
	if res == nil {
		return errors.New("transcriber returned no result")
	}

	if err := task.Complete(domain.Result{Transcription: res}, p.now()); err != nil {
		return err
	}
	if err := p.save(ctx, task); err != nil {
		return err
	}
	log.Ctx(ctx).Info().Int("actual_duration", task.ActualDuration).Float64("confidence", res.Confidence).Msg("transcription completed")

	p.updateSession(ctx, task.SessionID, func(s *domain.Session) error {
		s.TranscriptionText = res.Text
		return s.Transition(domain.SessionTranscribed, p.now())
	})
	return nil
}

func (p *Pipeline) analyze(ctx context.Context, task *domain.Task) error {
	if err := p.advance(ctx, task, 20, domain.StagePreprocessing); err != nil {
		return err
	}
	if err := p.advance(ctx, task, 30, domain.StageAnalyzing); err != nil {
		return err
	}

	src, err := p.Tasks.TaskByID(ctx, domain.KindTranscription, task.SubjectID)
	if err != nil {
		return fmt.Errorf("load transcription %s: %w", task.SubjectID, err)
	}
	if src.Result == nil || src.Result.Transcription == nil {
		return fmt.Errorf("%w: transcription %s has no text", domain.ErrPreconditionFailed, src.TaskID)
	}

	req := ports.AnalysisRequest{Transcript: src.Result.Transcription.Text}
	if task.Params.Analysis != nil {
		req.Params = *task.Params.Analysis
	}

	var out ports.AnalysisOutcome
	err = p.call(ctx, "analysis", func(ctx context.Context) error {
		var err error
		out, err = p.Analyzer.Analyze(ctx, req)
		return err
	})
	if err != nil {
		return err
	}
	if out.Result == nil {
		return errors.New("analyzer returned no result")
	}
	if err := out.Result.Validate(); err != nil {
		return domain.NewCapabilityError(domain.CodeAnalysisError, fmt.Errorf("invalid analysis result: %w", err))
	}

	if err := p.advance(ctx, task, 80, domain.StageGeneratingSuggestions); err != nil {
		return err
	}

	usage := out.Usage
	if err := task.Complete(domain.Result{Analysis: out.Result, Usage: &usage}, p.now()); err != nil {
		return err
	}
	if err := p.save(ctx, task); err != nil {
		return err
	}
	log.Ctx(ctx).Info().
		Float64("overall_score", out.Result.OverallScore).
		Int("tokens_used", usage.TokensUsed).
		Msg("analysis completed")

	p.updateSession(ctx, task.SessionID, func(s *domain.Session) error {
		s.AnalysisResult = out.Result
		return s.Transition(domain.SessionAnalyzed, p.now())
	})
	return nil
}

func (p *Pipeline) advance(ctx context.Context, task *domain.Task, progress int, stage string) error {
	if err := task.Advance(progress, stage, p.now()); err != nil {
		return err
	}
	return p.save(ctx, task)
}

// call runs an external capability call under the call timeout. Hitting the
// timeout is reported as TIMEOUT regardless of how the provider surfaced it.
func (p *Pipeline) call(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	timeout := p.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := fn(callCtx)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return domain.NewCapabilityError(domain.CodeTimeout, fmt.Errorf("%s call timed out after %s", name, timeout))
	}
	return err
}

// finalize fails the stored record if the attempt ended without reaching a
// terminal status. It writes through a context detached from cancellation.
func (p *Pipeline) finalize(ctx context.Context, kind domain.Kind, taskID string, runErr error, panicked any) {
	logger := log.Ctx(ctx)
	if runErr == nil && panicked == nil {
		return
	}

	if panicked == nil && errors.Is(runErr, domain.ErrConflict) {
		// the record was rewritten under this attempt, by the reaper or a newer attempt
		logger.Warn().Err(runErr).Msg("attempt superseded, dropping its writes")
		return
	}

	msg, code := failure(kind, runErr, panicked)
	if panicked != nil {
		logger.Error().Str("panic", fmt.Sprint(panicked)).Bytes("stack", debug.Stack()).Msg("pipeline panicked")
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	task, err := p.Tasks.TaskByTaskID(ctx, kind, taskID)
	if err != nil {
		logger.Error().Err(err).Str("reason", msg).Msg("finalize: reload task")
		return
	}
	if task.Status.Terminal() {
		return
	}
	if err := task.Fail(msg, code, p.now()); err != nil {
		logger.Error().Err(err).Msg("finalize: fail task")
		return
	}
	if err := p.save(ctx, task); err != nil {
		logger.Error().Err(err).Msg("finalize: save failed task")
		return
	}
	logger.Warn().Str("code", code).Str("error", msg).Int("retry_count", task.RetryCount).Msg("attempt failed")

	p.updateSession(ctx, task.SessionID, func(s *domain.Session) error {
		return s.Transition(domain.SessionFailed, p.now())
	})
}

func failure(kind domain.Kind, err error, panicked any) (msg, code string) {
	if panicked != nil {
		return fmt.Sprintf("internal error: %v", panicked), domain.CodeInternal
	}

	var ce *domain.CapabilityError
	if errors.As(err, &ce) && ce.Code != "" {
		return ce.Error(), ce.Code
	}
	if kind == domain.KindAnalysis {
		return err.Error(), domain.CodeAnalysisError
	}
	return err.Error(), domain.CodeTranscriptionError
}
