package domain

import "time"

// Kind distinguishes the two task record families sharing one lifecycle.
type Kind string

const (
	KindTranscription Kind = "transcription"
	KindAnalysis      Kind = "analysis"
)

func (k Kind) Valid() bool {
	return k == KindTranscription || k == KindAnalysis
}

type TaskStatus string

const (
	StatusPending               TaskStatus = "pending"
	StatusRetrying              TaskStatus = "retrying"
	StatusProcessing            TaskStatus = "processing"
	StatusPreprocessing         TaskStatus = "preprocessing"
	StatusAnalyzing             TaskStatus = "analyzing"
	StatusGeneratingSuggestions TaskStatus = "generating_suggestions"
	StatusCompleted             TaskStatus = "completed"
	StatusFailed                TaskStatus = "failed"
)

// Terminal reports whether no further pipeline mutation happens without a retry.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// InFlightStatuses lists the non-terminal statuses a kind can be in.
func InFlightStatuses(k Kind) []TaskStatus {
	if k == KindAnalysis {
		return []TaskStatus{StatusPending, StatusPreprocessing, StatusAnalyzing, StatusGeneratingSuggestions}
	}
	return []TaskStatus{StatusPending, StatusProcessing, StatusRetrying}
}

// Error codes recorded on failed tasks.
const (
	CodeTranscriptionError = "TRANSCRIPTION_ERROR"
	CodeAnalysisError      = "ANALYSIS_ERROR"
	CodeTimeout            = "TIMEOUT"
	CodeInternal           = "INTERNAL_ERROR"
	CodeDispatch           = "DISPATCH_ERROR"
)

// DefaultMaxRetries is the retry budget per task record.
const DefaultMaxRetries = 3

type TaskError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Params is captured at creation and never changes afterwards.
// Exactly one field is set, matching the task kind.
type Params struct {
	Transcription *TranscriptionParams `json:"transcription,omitempty"`
	Analysis      *AnalysisParams      `json:"analysis,omitempty"`
}

// Result is set once on success. Exactly one payload field is set, matching the task kind.
type Result struct {
	Transcription *TranscriptionResult `json:"transcription,omitempty"`
	Analysis      *AnalysisResult      `json:"analysis,omitempty"`
	Usage         *Usage               `json:"usage,omitempty"`
}

// Usage is the provider cost of one analysis attempt.
type Usage struct {
	TokensUsed int     `json:"tokens_used"`
	Cost       float64 `json:"cost"`
}

// Task is one unit of asynchronous work. Lifecycle fields are only mutated
// through the state machine methods in statemachine.go.
type Task struct {
	ID        string `json:"id"`
	TaskID    string `json:"task_id"`
	Kind      Kind   `json:"kind"`
	SubjectID string `json:"subject_id"`
	SessionID string `json:"session_id,omitempty"`

	Status   TaskStatus `json:"status"`
	Progress int        `json:"progress"`
	Stage    string     `json:"stage,omitempty"`

	Params     Params     `json:"params"`
	Result     *Result    `json:"result,omitempty"`
	Error      *TaskError `json:"error,omitempty"`
	RetryCount int        `json:"retry_count"`

	EstimatedDuration int `json:"estimated_duration"` // seconds
	ActualDuration    int `json:"actual_duration,omitempty"`

	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	StartedAt           *time.Time `json:"started_at,omitempty"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	EstimatedCompletion *time.Time `json:"estimated_completion,omitempty"`

	Deleted   bool       `json:"is_deleted"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`

	// Version counts stored writes. A write based on an older version is rejected.
	Version int `json:"version"`
}

// NewTask builds a pending record. estimate seeds the estimated completion time.
func NewTask(id, taskID string, kind Kind, subjectID string, params Params, estimate time.Duration, now time.Time) *Task {
	eta := now.Add(estimate)
	return &Task{
		ID:                  id,
		TaskID:              taskID,
		Kind:                kind,
		SubjectID:           subjectID,
		Status:              StatusPending,
		Params:              params,
		EstimatedDuration:   int(estimate / time.Second),
		EstimatedCompletion: &eta,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// InFlight reports whether the record still owns its subject.
func (t *Task) InFlight() bool {
	return !t.Status.Terminal()
}

// CanRetry reports retry eligibility under the given budget.
func (t *Task) CanRetry(maxRetries int) bool {
	return t.Status == StatusFailed && t.RetryCount < maxRetries
}

// ErrorCode returns the failure code, or "" when the task has not failed.
func (t *Task) ErrorCode() string {
	if t.Error == nil {
		return ""
	}
	return t.Error.Code
}

// TaskQuery filters task listings. Page is 1-based; PerPage 0 means no paging.
type TaskQuery struct {
	Kind      Kind
	SubjectID string
	Status    TaskStatus
	Page      int
	PerPage   int
}

// TaskStats aggregates a kind's non-deleted records.
type TaskStats struct {
	Total                 int     `json:"total"`
	Completed             int     `json:"completed"`
	Failed                int     `json:"failed"`
	Pending               int     `json:"pending"`
	Processing            int     `json:"processing"`
	AverageProcessingTime float64 `json:"average_processing_time"`
	AverageOverallScore   float64 `json:"average_overall_score,omitempty"`
	SuccessRate           float64 `json:"success_rate"`
}
