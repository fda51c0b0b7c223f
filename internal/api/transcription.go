package api

import (
	"net/http"

	"counseling/internal/usecase"

	"github.com/go-chi/chi/v5"
)

type transcriptionReq struct {
	RecordingID string  `json:"recording_id"`
	Language    string  `json:"language"`
	Temperature float64 `json:"temperature"`
}

func (s *Server) submitTranscription(w http.ResponseWriter, r *http.Request) {
	var req transcriptionReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	t, err := s.app.Dispatcher.SubmitTranscription(r.Context(), usecase.TranscriptionRequest{
		RecordingID: req.RecordingID,
		Language:    req.Language,
		Temperature: req.Temperature,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, acceptedOf(t))
}

func (s *Server) transcriptionStatus(w http.ResponseWriter, r *http.Request) {
	s.status(w, r, kindTranscription)
}

func (s *Server) transcriptionResult(w http.ResponseWriter, r *http.Request) {
	t, err := s.app.Poller.Result(r.Context(), kindTranscription, chi.URLParam(r, "task_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"task_id":      t.TaskID,
		"recording_id": t.SubjectID,
		"session_id":   t.SessionID,
		"result":       t.Result.Transcription,
		"completed_at": t.CompletedAt,
	})
}
