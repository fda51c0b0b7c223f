package ports

import (
	"context"
	"time"

	"counseling/internal/domain"
)

type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// Storage is the object store holding recorded audio.
type Storage interface {
	UploadURL(ctx context.Context, key, contentType string, expires time.Duration) (string, error)
	DownloadURL(ctx context.Context, key string, expires time.Duration) (string, error)
	// Stat returns domain.ErrNotFound when the object does not exist.
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}

type Transcriber interface {
	Transcribe(ctx context.Context, audioKey string, p domain.TranscriptionParams) (*domain.TranscriptionResult, error)
}

type AnalysisRequest struct {
	Transcript string
	Params     domain.AnalysisParams
}

type AnalysisOutcome struct {
	Result *domain.AnalysisResult
	Usage  domain.Usage
}

type Analyzer interface {
	Analyze(ctx context.Context, req AnalysisRequest) (AnalysisOutcome, error)
}
