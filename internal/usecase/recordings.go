package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"counseling/internal/domain"
	"counseling/internal/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const DefaultURLExpires = time.Hour

// audioTypes maps accepted upload content types to object key extensions.
var audioTypes = map[string]string{
	"audio/webm":  "webm",
	"audio/mp4":   "mp4",
	"audio/x-m4a": "m4a",
	"audio/mpeg":  "mp3",
	"audio/wav":   "wav",
	"audio/x-wav": "wav",
}

type UploadRequest struct {
	CustomerID       string
	OriginalFilename string
	ContentType      string
	FileSize         int64
}

// Upload is a pending recording and where to put its audio.
type Upload struct {
	Recording *domain.Recording
	URL       string
	ExpiresAt time.Time
}

// Recordings manages audio uploads in object storage.
type Recordings struct {
	Deps
	Storage    ports.Storage
	URLExpires time.Duration
}

func (r *Recordings) expires() time.Duration {
	if r.URLExpires > 0 {
		return r.URLExpires
	}
	return DefaultURLExpires
}

// CreateUpload registers a pending recording and issues a presigned upload URL.
func (r *Recordings) CreateUpload(ctx context.Context, req UploadRequest) (Upload, error) {
	if req.CustomerID == "" {
		return Upload{}, fmt.Errorf("%w: customer_id is required", domain.ErrInvalidRequest)
	}
	ext, ok := audioTypes[req.ContentType]
	if !ok {
		return Upload{}, fmt.Errorf("%w: unsupported content type %q", domain.ErrInvalidRequest, req.ContentType)
	}
	if req.FileSize < 0 || req.FileSize > 2*domain.MaxAudioFileSize {
		return Upload{}, fmt.Errorf("%w: file size %d out of range", domain.ErrInvalidRequest, req.FileSize)
	}

	now := r.now()
	rec := &domain.Recording{
		ID:               uuid.NewString(),
		CustomerID:       req.CustomerID,
		FilePath:         fmt.Sprintf("%s/%s/%s.%s", req.CustomerID, now.Format("20060102"), uuid.NewString(), ext),
		OriginalFilename: req.OriginalFilename,
		ContentType:      req.ContentType,
		FileSize:         req.FileSize,
		UploadStatus:     domain.UploadPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	u, err := r.Storage.UploadURL(ctx, rec.FilePath, rec.ContentType, r.expires())
	if err != nil {
		return Upload{}, fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}
	if err := r.Subjects.CreateRecording(ctx, rec); err != nil {
		return Upload{}, err
	}
	log.Ctx(ctx).Info().Str("recording_id", rec.ID).Str("key", rec.FilePath).Msg("upload url issued")
	return Upload{Recording: rec, URL: u, ExpiresAt: now.Add(r.expires())}, nil
}

// Complete marks a recording uploaded once its object exists and links a session to it.
func (r *Recordings) Complete(ctx context.Context, id string) (*domain.Recording, *domain.Session, error) {
	rec, err := r.Subjects.Recording(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	info, err := r.Storage.Stat(ctx, rec.FilePath)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil, fmt.Errorf("%w: audio object %s is missing", domain.ErrPreconditionFailed, rec.FilePath)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}

	now := r.now()
	rec.FileSize = info.Size
	rec.UploadStatus = domain.UploadCompleted
	rec.UploadedAt = &now
	rec.UpdatedAt = now
	if err := r.Subjects.SaveRecording(ctx, rec); err != nil {
		return nil, nil, err
	}

	sess, err := r.Subjects.EnsureSession(ctx, rec)
	if err != nil {
		return nil, nil, err
	}
	rec.SessionID = sess.ID
	log.Ctx(ctx).Info().Str("recording_id", rec.ID).Str("session_id", sess.ID).Int64("size", rec.FileSize).Msg("upload completed")
	return rec, sess, nil
}

// DownloadURL issues a presigned download URL for an uploaded recording.
func (r *Recordings) DownloadURL(ctx context.Context, id string) (string, time.Time, error) {
	rec, err := r.Subjects.Recording(ctx, id)
	if err != nil {
		return "", time.Time{}, err
	}
	if !rec.Uploaded() {
		return "", time.Time{}, fmt.Errorf("%w: recording %s is not uploaded", domain.ErrPreconditionFailed, id)
	}
	u, err := r.Storage.DownloadURL(ctx, rec.FilePath, r.expires())
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}
	return u, r.now().Add(r.expires()), nil
}

// Delete soft-deletes a recording and removes its object. A transcription in flight blocks it.
func (r *Recordings) Delete(ctx context.Context, id string) error {
	rec, err := r.Subjects.Recording(ctx, id)
	if err != nil {
		return err
	}
	if t, err := r.Tasks.InFlightTask(ctx, domain.KindTranscription, rec.ID); err == nil {
		return fmt.Errorf("%w: transcription %s is %s", domain.ErrConflict, t.TaskID, t.Status)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	if err := r.Storage.Delete(ctx, rec.FilePath); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}
	now := r.now()
	rec.Deleted = true
	rec.DeletedAt = &now
	rec.UpdatedAt = now
	if err := r.Subjects.SaveRecording(ctx, rec); err != nil {
		return err
	}
	log.Ctx(ctx).Info().Str("recording_id", rec.ID).Msg("recording deleted")
	return nil
}
