package domain

import (
	"math"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// MaxAudioFileSize is the provider upload limit. Validation accepts up to twice this.
const MaxAudioFileSize = 25 * 1024 * 1024

// assumed audio length when the recording duration is unknown
const defaultAudioSeconds = 60

var (
	SupportedLanguages       = []string{"ja", "en", "zh", "ko", "es", "fr", "de", "it", "pt", "ru"}
	SupportedAudioExtensions = []string{".webm", ".mp4", ".wav", ".mp3", ".m4a"}
)

type TranscriptionParams struct {
	Language    string  `json:"language"`
	Temperature float64 `json:"temperature"`
}

// Validate checks the language and the sampling temperature.
func (p TranscriptionParams) Validate() error {
	if !slices.Contains(SupportedLanguages, p.Language) {
		return invalidRequest("unsupported language %q", p.Language)
	}
	if p.Temperature < 0 || p.Temperature > 1 {
		return invalidRequest("temperature %.2f out of range [0,1]", p.Temperature)
	}
	return nil
}

type Segment struct {
	ID         int     `json:"id"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

type TranscriptionResult struct {
	Text       string    `json:"text"`
	Language   string    `json:"language"`
	Confidence float64   `json:"confidence"`
	Duration   float64   `json:"duration"`
	Segments   []Segment `json:"segments,omitempty"`
}

// OverallConfidence is the duration-weighted mean of segment confidences.
func OverallConfidence(segments []Segment) float64 {
	var weighted, total float64
	for _, s := range segments {
		d := s.End - s.Start
		if d <= 0 {
			continue
		}
		weighted += s.Confidence * d
		total += d
	}
	if total == 0 {
		return 0
	}
	return math.Round(weighted/total*1000) / 1000
}

// EstimateTranscription returns the expected processing time for a recording.
func EstimateTranscription(audioSeconds float64) time.Duration {
	if audioSeconds <= 0 {
		audioSeconds = defaultAudioSeconds
	}
	secs := max(10, min(audioSeconds*0.5, 300))
	return time.Duration(secs * float64(time.Second))
}

// ValidateAudioFile checks an uploaded object before it is sent for transcription.
func ValidateAudioFile(key string, size int64) error {
	ext := strings.ToLower(filepath.Ext(key))
	if !slices.Contains(SupportedAudioExtensions, ext) {
		return preconditionFailed("unsupported audio format %q", ext)
	}
	if size <= 0 {
		return preconditionFailed("audio file is empty")
	}
	if size > 2*MaxAudioFileSize {
		return preconditionFailed("audio file too large: %d bytes", size)
	}
	return nil
}
