package openai

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"path"
	"strconv"
	"time"

	"counseling/internal/domain"
	"counseling/internal/ports"

	"github.com/rs/zerolog/log"
)

var _ ports.Transcriber = (*Transcriber)(nil)

// Transcriber fetches audio from object storage and sends it to the speech-to-text endpoint.
type Transcriber struct {
	Client     *Client
	Storage    ports.Storage
	URLExpires time.Duration
}

type verboseSegment struct {
	ID         int      `json:"id"`
	Start      float64  `json:"start"`
	End        float64  `json:"end"`
	Text       string   `json:"text"`
	AvgLogprob float64  `json:"avg_logprob"`
	Confidence *float64 `json:"confidence"`
}

type verboseTranscription struct {
	Text     string           `json:"text"`
	Language string           `json:"language"`
	Duration float64          `json:"duration"`
	Segments []verboseSegment `json:"segments"`
}

func (t *Transcriber) Transcribe(ctx context.Context, audioKey string, p domain.TranscriptionParams) (*domain.TranscriptionResult, error) {
	audio, err := t.download(ctx, audioKey)
	if err != nil {
		return nil, err
	}
	log.Ctx(ctx).Info().Str("key", audioKey).Int("bytes", len(audio)).Msg("sending audio for transcription")

	var resp verboseTranscription
	err = t.Client.do(ctx, func(ctx context.Context) (*http.Request, error) {
		body, contentType, err := t.form(audioKey, audio, p)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.Client.url("/audio/transcriptions"), body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		return req, nil
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("transcribe %s: %w", audioKey, err)
	}
	return resp.result(p.Language), nil
}

func (t *Transcriber) download(ctx context.Context, key string) ([]byte, error) {
	expires := t.URLExpires
	if expires <= 0 {
		expires = 15 * time.Minute
	}
	u, err := t.Storage.DownloadURL(ctx, key, expires)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.Client.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", key, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download %s: status %d", key, resp.StatusCode)
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, 2*domain.MaxAudioFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", key, err)
	}
	if len(audio) > 2*domain.MaxAudioFileSize {
		return nil, fmt.Errorf("download %s: audio exceeds %d bytes", key, 2*domain.MaxAudioFileSize)
	}
	return audio, nil
}

func (t *Transcriber) form(key string, audio []byte, p domain.TranscriptionParams) (io.Reader, string, error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	part, err := w.CreateFormFile("file", path.Base(key))
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(audio); err != nil {
		return nil, "", err
	}
	fields := map[string]string{
		"model":           t.Client.cfg.TranscriptionModel,
		"language":        p.Language,
		"temperature":     strconv.FormatFloat(p.Temperature, 'f', -1, 64),
		"response_format": "verbose_json",
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return body, w.FormDataContentType(), nil
}

func (v verboseTranscription) result(language string) *domain.TranscriptionResult {
	r := &domain.TranscriptionResult{
		Text:     v.Text,
		Language: language,
		Duration: v.Duration,
	}
	// the endpoint reports full language names; keep the requested code when there is one
	if r.Language == "" {
		r.Language = v.Language
	}
	for _, s := range v.Segments {
		r.Segments = append(r.Segments, domain.Segment{
			ID:         s.ID,
			Start:      s.Start,
			End:        s.End,
			Text:       s.Text,
			Confidence: s.confidence(),
		})
	}
	r.Confidence = domain.OverallConfidence(r.Segments)
	return r
}

// confidence prefers an explicit value and otherwise derives one from the mean log probability.
func (s verboseSegment) confidence() float64 {
	if s.Confidence != nil {
		return *s.Confidence
	}
	return max(0, min(1, math.Exp(s.AvgLogprob)))
}
