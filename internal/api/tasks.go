package api

import (
	"net/http"
	"time"

	"counseling/internal/domain"
	"counseling/internal/usecase"

	"github.com/go-chi/chi/v5"
)

const (
	kindTranscription = domain.KindTranscription
	kindAnalysis      = domain.KindAnalysis
)

// taskView is the client-facing shape of a task snapshot.
type taskView struct {
	TaskID              string            `json:"task_id"`
	AnalysisID          string            `json:"analysis_id,omitempty"`
	TranscriptionID     string            `json:"transcription_id,omitempty"`
	RecordingID         string            `json:"recording_id,omitempty"`
	SessionID           string            `json:"session_id,omitempty"`
	Kind                domain.Kind       `json:"kind"`
	Status              domain.TaskStatus `json:"status"`
	Progress            int               `json:"progress"`
	Stage               string            `json:"stage"`
	Params              domain.Params     `json:"params"`
	Result              any               `json:"result,omitempty"`
	TokensUsed          int               `json:"tokens_used,omitempty"`
	Cost                float64           `json:"cost,omitempty"`
	Error               string            `json:"error,omitempty"`
	ErrorCode           string            `json:"error_code,omitempty"`
	RetryCount          int               `json:"retry_count"`
	CanRetry            bool              `json:"can_retry"`
	EstimatedDuration   int               `json:"estimated_duration"`
	ActualDuration      int               `json:"actual_duration,omitempty"`
	StartedAt           time.Time         `json:"started_at"`
	CompletedAt         *time.Time        `json:"completed_at,omitempty"`
	EstimatedCompletion *time.Time        `json:"estimated_completion,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

func viewOf(s usecase.Snapshot) taskView {
	t := s.Task
	v := taskView{
		TaskID:              t.TaskID,
		SessionID:           t.SessionID,
		Kind:                t.Kind,
		Status:              t.Status,
		Progress:            t.Progress,
		Stage:               s.StageLabel,
		Params:              t.Params,
		RetryCount:          t.RetryCount,
		CanRetry:            s.CanRetry,
		EstimatedDuration:   t.EstimatedDuration,
		ActualDuration:      t.ActualDuration,
		StartedAt:           s.StartedAt,
		CompletedAt:         t.CompletedAt,
		EstimatedCompletion: t.EstimatedCompletion,
		CreatedAt:           t.CreatedAt,
		UpdatedAt:           t.UpdatedAt,
	}
	if t.Kind == domain.KindAnalysis {
		v.AnalysisID = t.ID
		v.TranscriptionID = t.SubjectID
	} else {
		v.RecordingID = t.SubjectID
	}

	if t.Result != nil && t.Status == domain.StatusCompleted {
		if t.Result.Transcription != nil {
			v.Result = t.Result.Transcription
		}
		if t.Result.Analysis != nil {
			v.Result = t.Result.Analysis
		}
		if t.Result.Usage != nil {
			v.TokensUsed, v.Cost = t.Result.Usage.TokensUsed, t.Result.Usage.Cost
		}
	}
	if t.Error != nil {
		v.Error, v.ErrorCode = t.Error.Message, t.Error.Code
	}
	return v
}

type acceptedView struct {
	TaskID            string            `json:"task_id"`
	AnalysisID        string            `json:"analysis_id,omitempty"`
	Status            domain.TaskStatus `json:"status"`
	EstimatedDuration int               `json:"estimated_duration,omitempty"`
	RetryCount        int               `json:"retry_count,omitempty"`
}

func acceptedOf(t *domain.Task) acceptedView {
	v := acceptedView{TaskID: t.TaskID, Status: t.Status, EstimatedDuration: t.EstimatedDuration, RetryCount: t.RetryCount}
	if t.Kind == domain.KindAnalysis {
		v.AnalysisID = t.ID
	}
	return v
}

func (s *Server) status(w http.ResponseWriter, r *http.Request, kind domain.Kind) {
	snap, err := s.app.Poller.Status(r.Context(), kind, chi.URLParam(r, "task_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(snap))
}

func (s *Server) retry(kind domain.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := s.app.Retrier.Retry(r.Context(), kind, chi.URLParam(r, "task_id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, acceptedOf(t))
	}
}

type pageView struct {
	Items   []taskView `json:"items"`
	Total   int        `json:"total"`
	Page    int        `json:"page"`
	PerPage int        `json:"per_page"`
}

func (s *Server) listTasks(kind domain.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, err := queryInt(r, "page")
		if err != nil {
			writeError(w, r, err)
			return
		}
		perPage, err := queryInt(r, "per_page")
		if err != nil {
			writeError(w, r, err)
			return
		}

		subjectParam := "recording_id"
		if kind == domain.KindAnalysis {
			subjectParam = "transcription_id"
		}
		q := domain.TaskQuery{
			Kind:      kind,
			SubjectID: r.URL.Query().Get(subjectParam),
			Status:    domain.TaskStatus(r.URL.Query().Get("status")),
			Page:      page,
			PerPage:   perPage,
		}
		res, err := s.app.Poller.List(r.Context(), q)
		if err != nil {
			writeError(w, r, err)
			return
		}

		out := pageView{Items: make([]taskView, 0, len(res.Items)), Total: res.Total, Page: res.Page, PerPage: res.PerPage}
		for _, snap := range res.Items {
			out.Items = append(out.Items, viewOf(snap))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (s *Server) stats(kind domain.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := s.app.Poller.Stats(r.Context(), kind)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}
