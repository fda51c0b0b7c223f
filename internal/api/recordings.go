package api

import (
	"net/http"
	"time"

	"counseling/internal/usecase"

	"github.com/go-chi/chi/v5"
)

type uploadReq struct {
	CustomerID       string `json:"customer_id"`
	OriginalFilename string `json:"original_filename"`
	ContentType      string `json:"content_type"`
	FileSize         int64  `json:"file_size"`
}

func (s *Server) createUpload(w http.ResponseWriter, r *http.Request) {
	var req uploadReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	up, err := s.app.Recordings.CreateUpload(r.Context(), usecase.UploadRequest{
		CustomerID:       req.CustomerID,
		OriginalFilename: req.OriginalFilename,
		ContentType:      req.ContentType,
		FileSize:         req.FileSize,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"recording_id": up.Recording.ID,
		"file_path":    up.Recording.FilePath,
		"upload_url":   up.URL,
		"expires_at":   up.ExpiresAt,
	})
}

func (s *Server) completeUpload(w http.ResponseWriter, r *http.Request) {
	rec, sess, err := s.app.Recordings.Complete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"recording":  rec,
		"session_id": sess.ID,
	})
}

func (s *Server) downloadURL(w http.ResponseWriter, r *http.Request) {
	u, expires, err := s.app.Recordings.DownloadURL(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"download_url": u, "expires_at": expires.Format(time.RFC3339)})
}

func (s *Server) deleteRecording(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Recordings.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
