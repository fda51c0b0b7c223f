package api

import (
	"fmt"
	"net/http"

	"counseling/internal/domain"
	"counseling/internal/usecase"

	"github.com/go-chi/chi/v5"
)

const maxBatch = 50

type analysisReq struct {
	TranscriptionID string                     `json:"transcription_id"`
	AnalysisType    domain.AnalysisType        `json:"analysis_type"`
	FocusAreas      []domain.Category          `json:"focus_areas"`
	CustomPrompts   map[domain.Category]string `json:"custom_prompts"`
}

func (a analysisReq) request() usecase.AnalysisRequest {
	return usecase.AnalysisRequest{
		TranscriptionRef: a.TranscriptionID,
		Params: domain.AnalysisParams{
			Type:          a.AnalysisType,
			FocusAreas:    a.FocusAreas,
			CustomPrompts: a.CustomPrompts,
		},
	}
}

func (s *Server) submitAnalysis(w http.ResponseWriter, r *http.Request) {
	var req analysisReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	t, err := s.app.Dispatcher.SubmitAnalysis(r.Context(), req.request())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, acceptedOf(t))
}

type batchReq struct {
	Items []analysisReq `json:"items"`
}

type batchItemView struct {
	acceptedView
	TranscriptionID string `json:"transcription_id"`
	Error           string `json:"error,omitempty"`
}

func (s *Server) submitAnalysisBatch(w http.ResponseWriter, r *http.Request) {
	var req batchReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if len(req.Items) > maxBatch {
		writeError(w, r, fmt.Errorf("%w: at most %d items per batch", domain.ErrInvalidRequest, maxBatch))
		return
	}

	reqs := make([]usecase.AnalysisRequest, len(req.Items))
	for i, item := range req.Items {
		reqs[i] = item.request()
	}
	tasks, errs, err := s.app.Dispatcher.SubmitAnalysisBatch(r.Context(), reqs)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]batchItemView, len(reqs))
	for i := range reqs {
		out[i].TranscriptionID = req.Items[i].TranscriptionID
		if errs[i] != nil {
			_, code := statusFor(errs[i])
			out[i].Error = code + ": " + errs[i].Error()
			continue
		}
		out[i].acceptedView = acceptedOf(tasks[i])
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"items": out})
}

func (s *Server) analysisStatus(w http.ResponseWriter, r *http.Request) {
	s.status(w, r, kindAnalysis)
}

// analysisResult accepts the analysis id or its task id.
func (s *Server) analysisResult(w http.ResponseWriter, r *http.Request) {
	t, err := s.app.Poller.Result(r.Context(), kindAnalysis, chi.URLParam(r, "analysis_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	body := map[string]any{
		"analysis_id":      t.ID,
		"task_id":          t.TaskID,
		"transcription_id": t.SubjectID,
		"analysis_type":    t.Params.Analysis.Type,
		"result":           t.Result.Analysis,
		"completed_at":     t.CompletedAt,
	}
	if u := t.Result.Usage; u != nil {
		body["tokens_used"], body["cost"] = u.TokensUsed, u.Cost
	}
	writeJSON(w, http.StatusOK, body)
}
