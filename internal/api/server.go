package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"counseling/internal/config"
	"counseling/internal/ports"
	"counseling/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// App is the set of use cases the HTTP surface serves.
type App struct {
	Dispatcher *usecase.Dispatcher
	Poller     *usecase.Poller
	Retrier    *usecase.Retrier
	Recordings *usecase.Recordings
	Events     ports.Subscriber
	// Checks are reported by /health; a failing check makes it 503.
	Checks map[string]func(ctx context.Context) error
	// LocalStorage, when set, serves the upload and download URLs of the
	// in-memory object storage under LocalStoragePath.
	LocalStorage http.Handler
}

// LocalStoragePath is where LocalStorage is mounted.
const LocalStoragePath = "/mock-storage"

type Server struct {
	router *chi.Mux
	cfg    config.HTTP
	app    App
}

func NewServer(cfg config.HTTP, app App) *Server {
	s := &Server{router: chi.NewRouter(), cfg: cfg, app: app}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Get("/health", s.health)

	r.Route("/transcription", func(r chi.Router) {
		r.Post("/", s.submitTranscription)
		r.Get("/", s.listTasks(kindTranscription))
		r.Get("/stats", s.stats(kindTranscription))
		r.Get("/status/{task_id}", s.transcriptionStatus)
		r.Get("/result/{task_id}", s.transcriptionResult)
		r.Post("/retry/{task_id}", s.retry(kindTranscription))
	})

	r.Route("/ai-analysis", func(r chi.Router) {
		r.Post("/", s.submitAnalysis)
		r.Post("/batch", s.submitAnalysisBatch)
		r.Get("/", s.listTasks(kindAnalysis))
		r.Get("/stats", s.stats(kindAnalysis))
		r.Get("/status/{task_id}", s.analysisStatus)
		r.Get("/result/{analysis_id}", s.analysisResult)
		r.Post("/retry/{task_id}", s.retry(kindAnalysis))
	})

	r.Route("/recordings", func(r chi.Router) {
		r.Post("/upload-url", s.createUpload)
		r.Post("/{id}/complete", s.completeUpload)
		r.Get("/{id}/download-url", s.downloadURL)
		r.Delete("/{id}", s.deleteRecording)
	})

	r.Get("/tasks/{task_id}/events", s.events)

	if s.app.LocalStorage != nil {
		r.Mount(LocalStoragePath, http.StripPrefix(LocalStoragePath, s.app.LocalStorage))
	}
}

// Handler returns the router wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	return chainMiddleware(
		s.router,
		recoverHandler,
		loggerHandler(func(w http.ResponseWriter, r *http.Request) bool { return r.URL.Path == "/health" }),
		realIPHandler,
		requestIDHandler,
		corsHandler(s.cfg.AllowedOrigins),
	)
}

// Run serves HTTP until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpServer := http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	done := make(chan error, 1)
	go func() {
		<-ctx.Done()
		log.Info().Msg("server is shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
		defer cancel()
		done <- httpServer.Shutdown(shutdownCtx)
	}()

	log.Info().Msgf("server serving on port %d", s.cfg.Port)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}

	if err := <-done; err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info().Msg("server stopped")
	return nil
}
