package domain

import (
	"errors"
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func newTranscription() *Task {
	return NewTask("id-1", "tr-1", KindTranscription, "rec-1",
		Params{Transcription: &TranscriptionParams{Language: "ja"}}, 30*time.Second, t0)
}

func newAnalysis() *Task {
	return NewTask("id-2", "an-1", KindAnalysis, "tr-1",
		Params{Analysis: &AnalysisParams{Type: AnalysisFull}}, 180*time.Second, t0)
}

func mustInvariants(t *testing.T, task *Task) {
	t.Helper()
	if err := task.CheckInvariants(); err != nil {
		t.Fatalf("invariants: %v (status=%s progress=%d)", err, task.Status, task.Progress)
	}
}

// TestTranscriptionLifecycle walks pending → processing → completed.
func TestTranscriptionLifecycle(t *testing.T) {
	task := newTranscription()
	mustInvariants(t, task)
	if task.EstimatedCompletion == nil || !task.EstimatedCompletion.Equal(t0.Add(30*time.Second)) {
		t.Fatalf("estimated completion = %v", task.EstimatedCompletion)
	}

	if err := task.Start("", t0.Add(time.Second)); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	mustInvariants(t, task)
	if task.Status != StatusProcessing || task.Progress != 10 {
		t.Fatalf("after start = %s/%d, want processing/10", task.Status, task.Progress)
	}

	res := Result{Transcription: &TranscriptionResult{Text: "hello", Language: "ja"}}
	if err := task.Complete(res, t0.Add(11*time.Second)); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	mustInvariants(t, task)
	if task.Progress != 100 || task.CompletedAt == nil {
		t.Fatalf("completed task = %+v", task)
	}
	if task.ActualDuration != 10 {
		t.Fatalf("actual duration = %d, want 10", task.ActualDuration)
	}
}

// TestAnalysisStagesMoveStatus checks that stage checkpoints drive the analysis status.
func TestAnalysisStagesMoveStatus(t *testing.T) {
	task := newAnalysis()
	if err := task.Start(StagePreprocessing, t0); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	steps := []struct {
		progress int
		stage    string
		want     TaskStatus
	}{
		{20, StagePreprocessing, StatusPreprocessing},
		{30, StageAnalyzing, StatusAnalyzing},
		{80, StageGeneratingSuggestions, StatusGeneratingSuggestions},
		{85, StageAnalyzing, StatusGeneratingSuggestions},
	}
	for _, s := range steps {
		if err := task.Advance(s.progress, s.stage, t0); err != nil {
			t.Fatalf("Advance(%d, %s) error = %v", s.progress, s.stage, err)
		}
		mustInvariants(t, task)
		if task.Status != s.want {
			t.Fatalf("Advance(%d, %s) status = %s, want %s", s.progress, s.stage, task.Status, s.want)
		}
	}

	if err := task.Complete(Result{Analysis: NewAnalysisResult()}, t0); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if task.Stage != StageCompleted {
		t.Fatalf("stage = %q, want completed", task.Stage)
	}
}

func TestAdvanceClampsAndIsMonotonic(t *testing.T) {
	task := newAnalysis()
	_ = task.Start("", t0)

	tests := []struct {
		in, want int
	}{
		{50, 50},
		{30, 50},
		{150, 100},
		{-5, 100},
	}
	for _, tt := range tests {
		if err := task.Advance(tt.in, StageAnalyzing, t0); err != nil {
			t.Fatalf("Advance(%d) error = %v", tt.in, err)
		}
		if task.Progress != tt.want {
			t.Fatalf("Advance(%d) progress = %d, want %d", tt.in, task.Progress, tt.want)
		}
	}
}

func TestInvalidTransitions(t *testing.T) {
	tests := []struct {
		name string
		task func() *Task
		op   func(*Task) error
	}{
		{
			name: "advance before start",
			task: newAnalysis,
			op:   func(t *Task) error { return t.Advance(20, StagePreprocessing, t0) },
		},
		{
			name: "start twice",
			task: func() *Task { task := newTranscription(); _ = task.Start("", t0); return task },
			op:   func(t *Task) error { return t.Start("", t0) },
		},
		{
			name: "complete after fail",
			task: func() *Task { task := newTranscription(); _ = task.Fail("boom", CodeTranscriptionError, t0); return task },
			op: func(t *Task) error {
				return t.Complete(Result{Transcription: &TranscriptionResult{}}, t0)
			},
		},
		{
			name: "fail after complete",
			task: func() *Task {
				task := newTranscription()
				_ = task.Complete(Result{Transcription: &TranscriptionResult{}}, t0)
				return task
			},
			op: func(t *Task) error { return t.Fail("late", CodeTimeout, t0) },
		},
		{
			name: "result kind mismatch",
			task: newTranscription,
			op:   func(t *Task) error { return t.Complete(Result{Analysis: NewAnalysisResult()}, t0) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := tt.task()
			before := *task
			err := tt.op(task)
			if !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("error = %v, want ErrInvalidTransition", err)
			}
			if task.Status != before.Status || task.Progress != before.Progress {
				t.Fatalf("task mutated: %s/%d -> %s/%d", before.Status, before.Progress, task.Status, task.Progress)
			}
		})
	}
}

func TestFailFromWaitingStatus(t *testing.T) {
	task := newTranscription()
	if err := task.Fail("no worker", CodeDispatch, t0); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}
	mustInvariants(t, task)
	if task.ErrorCode() != CodeDispatch || task.ActualDuration != 0 {
		t.Fatalf("failed task = %+v", task)
	}
}

// TestRetryBudget verifies re-entry statuses and the retry ceiling.
func TestRetryBudget(t *testing.T) {
	tests := []struct {
		name string
		task func() *Task
		want TaskStatus
	}{
		{"transcription", newTranscription, StatusRetrying},
		{"analysis", newAnalysis, StatusPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := tt.task()
			for i := 1; i <= DefaultMaxRetries; i++ {
				_ = task.Start("", t0)
				_ = task.Advance(40, StageAnalyzing, t0)
				if err := task.Fail("boom", CodeTimeout, t0); err != nil {
					t.Fatalf("Fail() error = %v", err)
				}
				now := t0.Add(time.Duration(i) * time.Minute)
				if err := task.Retry(DefaultMaxRetries, time.Minute, now); err != nil {
					t.Fatalf("Retry() #%d error = %v", i, err)
				}
				mustInvariants(t, task)
				if task.Status != tt.want || task.RetryCount != i {
					t.Fatalf("after retry #%d = %s/%d", i, task.Status, task.RetryCount)
				}
				if task.StartedAt != nil || task.Stage != "" || task.Error != nil {
					t.Fatalf("retry did not reset attempt: %+v", task)
				}
				if !task.EstimatedCompletion.Equal(now.Add(time.Minute)) {
					t.Fatalf("estimated completion = %v", task.EstimatedCompletion)
				}
			}

			_ = task.Start("", t0)
			_ = task.Fail("boom", CodeTimeout, t0)
			if err := task.Retry(DefaultMaxRetries, time.Minute, t0); !errors.Is(err, ErrRetryNotAllowed) {
				t.Fatalf("Retry() over budget error = %v, want ErrRetryNotAllowed", err)
			}
			if task.RetryCount != DefaultMaxRetries {
				t.Fatalf("retry count = %d", task.RetryCount)
			}
		})
	}
}

func TestRetryRequiresFailed(t *testing.T) {
	task := newTranscription()
	_ = task.Start("", t0)
	if err := task.Retry(DefaultMaxRetries, time.Minute, t0); !errors.Is(err, ErrRetryNotAllowed) {
		t.Fatalf("Retry() error = %v, want ErrRetryNotAllowed", err)
	}
}

// TestSoftDeleteKeepsLifecycle verifies that deletion only marks the record.
func TestSoftDeleteKeepsLifecycle(t *testing.T) {
	task := newTranscription()
	later := t0.Add(time.Hour)
	task.SoftDelete(later)
	if !task.Deleted || task.DeletedAt == nil || !task.DeletedAt.Equal(later) {
		t.Fatalf("deleted = %v at %v, want true at %v", task.Deleted, task.DeletedAt, later)
	}
	if task.Status != StatusPending || !task.UpdatedAt.Equal(later) {
		t.Fatalf("task = %s updated %v, want pending updated %v", task.Status, task.UpdatedAt, later)
	}
	mustInvariants(t, task)
}
