package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"counseling/internal/domain"
	"counseling/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

const keepAliveInterval = 15 * time.Second

// events streams progress for one task as server-sent events until it reaches a
// terminal status or the client goes away.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, errors.New("streaming not supported"))
		return
	}
	ctx := r.Context()

	// subscribe before reading the snapshot so no transition falls in between
	ch, cancel, err := s.app.Events.Subscribe(ctx, taskID)
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", domain.ErrUnavailable, err))
		return
	}
	defer cancel()

	snap, err := s.snapshot(r, taskID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	// the stream outlives the server's write timeout
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	current := domain.EventFor(&snap.Task)
	send := func(e domain.Event) bool {
		b, err := json.Marshal(e)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "event: progress\ndata: %s\n\n", b); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}
	if !send(current) || current.Final() {
		return
	}

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case e, ok := <-ch:
			if !ok {
				return
			}
			// replayed or reordered events older than what the client has seen are skipped
			if e.Timestamp.Before(current.Timestamp) {
				continue
			}
			current = e
			if !send(e) {
				log.Ctx(ctx).Debug().Str("task_id", taskID).Msg("event stream closed by client")
				return
			}
			if e.Final() {
				return
			}
		}
	}
}

// snapshot finds the task under either kind.
func (s *Server) snapshot(r *http.Request, taskID string) (usecase.Snapshot, error) {
	snap, err := s.app.Poller.Status(r.Context(), kindTranscription, taskID)
	if errors.Is(err, domain.ErrNotFound) {
		return s.app.Poller.Status(r.Context(), kindAnalysis, taskID)
	}
	return snap, err
}
