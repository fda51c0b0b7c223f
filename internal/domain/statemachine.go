package domain

import (
	"fmt"
	"slices"
	"time"
)

// Analysis stage labels. Reaching a stage moves the analysis status with it.
const (
	StagePreprocessing         = "preprocessing"
	StageAnalyzing             = "analyzing"
	StageGeneratingSuggestions = "generating_suggestions"
	StageCompleted             = "completed"
)

const startProgress = 10

// analysisOrder ranks analysis statuses; status never moves backwards within an attempt.
var analysisOrder = map[TaskStatus]int{
	StatusPending:               0,
	StatusPreprocessing:         1,
	StatusAnalyzing:             2,
	StatusGeneratingSuggestions: 3,
	StatusCompleted:             4,
	StatusFailed:                4,
}

func (t *Task) waiting() bool {
	return t.Status == StatusPending || t.Status == StatusRetrying
}

// Start begins a pipeline attempt.
func (t *Task) Start(stage string, now time.Time) error {
	if !t.waiting() {
		return invalidTransition(t, "start")
	}

	switch t.Kind {
	case KindAnalysis:
		if stage == "" {
			stage = StagePreprocessing
		}
		t.Status = StatusPreprocessing
		t.Stage = stage
	default:
		t.Status = StatusProcessing
		t.Stage = ""
	}

	t.StartedAt = &now
	t.Error = nil
	t.Progress = startProgress
	t.UpdatedAt = now
	return nil
}

// Advance records an intermediate checkpoint. Progress is clamped to [0,100]
// and never goes below the stored value.
func (t *Task) Advance(progress int, stage string, now time.Time) error {
	if t.Status.Terminal() || t.waiting() {
		return invalidTransition(t, "advance")
	}

	progress = max(0, min(progress, 100))
	if progress > t.Progress {
		t.Progress = progress
	}
	t.Stage = stage

	if t.Kind == KindAnalysis {
		next := t.Status
		switch stage {
		case StageAnalyzing:
			next = StatusAnalyzing
		case StageGeneratingSuggestions:
			next = StatusGeneratingSuggestions
		}
		if analysisOrder[next] > analysisOrder[t.Status] {
			t.Status = next
		}
	}

	t.UpdatedAt = now
	return nil
}

// Complete finalizes a successful attempt and stores its result.
func (t *Task) Complete(result Result, now time.Time) error {
	if t.Status.Terminal() {
		return invalidTransition(t, "complete")
	}
	if err := result.matches(t.Kind); err != nil {
		return err
	}

	t.Status = StatusCompleted
	t.Progress = 100
	if t.Kind == KindAnalysis {
		t.Stage = StageCompleted
	}
	t.Result = &result
	t.Error = nil
	t.CompletedAt = &now
	t.ActualDuration = t.elapsed(now)
	t.UpdatedAt = now
	return nil
}

// Fail finalizes an unsuccessful attempt.
func (t *Task) Fail(message, code string, now time.Time) error {
	if t.Status.Terminal() {
		return invalidTransition(t, "fail")
	}

	t.Status = StatusFailed
	t.Result = nil
	t.Error = &TaskError{Message: message, Code: code}
	t.CompletedAt = &now
	t.ActualDuration = t.elapsed(now)
	t.UpdatedAt = now
	return nil
}

// Retry re-enters a failed record into the waiting state, resetting the attempt.
func (t *Task) Retry(maxRetries int, estimate time.Duration, now time.Time) error {
	if !t.CanRetry(maxRetries) {
		return fmt.Errorf("%w: %s task %s is %s after %d of %d retries",
			ErrRetryNotAllowed, t.Kind, t.TaskID, t.Status, t.RetryCount, maxRetries)
	}

	t.RetryCount++
	if t.Kind == KindTranscription {
		t.Status = StatusRetrying
	} else {
		t.Status = StatusPending
	}

	eta := now.Add(estimate)
	t.Progress = 0
	t.Stage = ""
	t.Result = nil
	t.Error = nil
	t.StartedAt = nil
	t.CompletedAt = nil
	t.ActualDuration = 0
	t.EstimatedDuration = int(estimate / time.Second)
	t.EstimatedCompletion = &eta
	t.UpdatedAt = now
	return nil
}

// SoftDelete hides the record from every normal query.
func (t *Task) SoftDelete(now time.Time) {
	t.Deleted = true
	t.DeletedAt = &now
	t.UpdatedAt = now
}

func (t *Task) elapsed(now time.Time) int {
	if t.StartedAt == nil {
		return 0
	}
	return int(now.Sub(*t.StartedAt) / time.Second)
}

func (r Result) matches(k Kind) error {
	switch {
	case k == KindTranscription && r.Transcription != nil && r.Analysis == nil:
		return nil
	case k == KindAnalysis && r.Analysis != nil && r.Transcription == nil:
		return nil
	}
	return fmt.Errorf("%w: result payload does not match %s task", ErrInvalidTransition, k)
}

// CheckInvariants verifies the record-level invariants that hold after every transition.
func (t *Task) CheckInvariants() error {
	if !slices.Contains(InFlightStatuses(t.Kind), t.Status) && !t.Status.Terminal() {
		return fmt.Errorf("status %q is not valid for %s", t.Status, t.Kind)
	}
	if t.Progress < 0 || t.Progress > 100 {
		return fmt.Errorf("progress %d out of range", t.Progress)
	}
	if t.waiting() && t.Progress != 0 {
		return fmt.Errorf("progress %d at %s, want 0", t.Progress, t.Status)
	}
	if t.Status == StatusCompleted && t.Progress != 100 {
		return fmt.Errorf("progress %d at completed, want 100", t.Progress)
	}
	if (t.Result != nil) != (t.Status == StatusCompleted) {
		return fmt.Errorf("result presence %t does not match status %s", t.Result != nil, t.Status)
	}
	if (t.Error != nil) != (t.Status == StatusFailed) {
		return fmt.Errorf("error presence %t does not match status %s", t.Error != nil, t.Status)
	}
	if t.RetryCount < 0 {
		return fmt.Errorf("negative retry count %d", t.RetryCount)
	}
	return nil
}
