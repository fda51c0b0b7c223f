package domain

import (
	"fmt"
	"slices"
	"time"
)

type UploadStatus string

const (
	UploadPending   UploadStatus = "pending"
	UploadUploading UploadStatus = "uploading"
	UploadCompleted UploadStatus = "completed"
	UploadFailed    UploadStatus = "failed"
)

// Recording is an uploaded audio object and the subject of transcription tasks.
type Recording struct {
	ID               string       `json:"id"`
	CustomerID       string       `json:"customer_id"`
	SessionID        string       `json:"session_id,omitempty"`
	FilePath         string       `json:"file_path"`
	OriginalFilename string       `json:"original_filename,omitempty"`
	ContentType      string       `json:"content_type"`
	FileSize         int64        `json:"file_size,omitempty"`
	UploadStatus     UploadStatus `json:"upload_status"`
	UploadedAt       *time.Time   `json:"uploaded_at,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
	Deleted          bool         `json:"is_deleted"`
	DeletedAt        *time.Time   `json:"deleted_at,omitempty"`
}

func (r *Recording) Uploaded() bool {
	return r.UploadStatus == UploadCompleted
}

type SessionStatus string

const (
	SessionRecorded     SessionStatus = "recorded"
	SessionTranscribing SessionStatus = "transcribing"
	SessionTranscribed  SessionStatus = "transcribed"
	SessionAnalyzing    SessionStatus = "analyzing"
	SessionAnalyzed     SessionStatus = "analyzed"
	SessionCompleted    SessionStatus = "completed"
	SessionFailed       SessionStatus = "failed"
)

var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionRecorded:     {SessionTranscribing, SessionFailed},
	SessionTranscribing: {SessionTranscribed, SessionFailed},
	SessionTranscribed:  {SessionAnalyzing, SessionFailed},
	SessionAnalyzing:    {SessionAnalyzed, SessionFailed},
	SessionAnalyzed:     {SessionCompleted, SessionFailed},
	// a failed session restarts from recording, or from analysis when the transcript survived
	SessionFailed:       {SessionRecorded, SessionAnalyzing},
}

// Session is the counseling session that tasks report their outcome to.
type Session struct {
	ID                string          `json:"id"`
	CustomerID        string          `json:"customer_id"`
	Status            SessionStatus   `json:"status"`
	AudioFilePath     string          `json:"audio_file_path,omitempty"`
	TranscriptionText string          `json:"transcription_text,omitempty"`
	AnalysisResult    *AnalysisResult `json:"analysis_result,omitempty"`
	SessionDate       time.Time       `json:"session_date"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Transition moves the session to next. Moving to the current status is a no-op.
func (s *Session) Transition(next SessionStatus, now time.Time) error {
	if s.Status == next {
		return nil
	}
	if !slices.Contains(sessionTransitions[s.Status], next) {
		return fmt.Errorf("%w: session %s from %s to %s", ErrInvalidTransition, s.ID, s.Status, next)
	}
	s.Status = next
	s.UpdatedAt = now
	return nil
}

// Reopen returns a failed session to transcribing so a retried transcription can report back.
func (s *Session) Reopen(now time.Time) error {
	if s.Status == SessionFailed {
		if err := s.Transition(SessionRecorded, now); err != nil {
			return err
		}
	}
	return s.Transition(SessionTranscribing, now)
}
