package openai

import (
	"encoding/json"
	"regexp"
	"strings"
)

// MaxTranscriptRunes bounds the transcript sent to the model.
const MaxTranscriptRunes = 8000

const truncatedMarker = "...[テキストが制限により切り詰められました]"

var (
	phonePattern = regexp.MustCompile(`\d{2,4}-\d{2,4}-\d{4}`)
	emailPattern = regexp.MustCompile(`\S+@\S+\.\S+`)
	fencePattern = regexp.MustCompile("```(?:json)?\\s*")
)

// Preprocess masks phone numbers and email addresses and truncates long transcripts.
func Preprocess(text string) string {
	cleaned := strings.TrimSpace(text)
	if cleaned == "" {
		return ""
	}
	cleaned = phonePattern.ReplaceAllString(cleaned, "[電話番号]")
	cleaned = emailPattern.ReplaceAllString(cleaned, "[メールアドレス]")

	if r := []rune(cleaned); len(r) > MaxTranscriptRunes {
		cleaned = string(r[:MaxTranscriptRunes]) + truncatedMarker
	}
	return cleaned
}

// decodeJSON parses a model answer, repairing common damage once before giving up.
func decodeJSON(content string, v any) error {
	err := json.Unmarshal([]byte(content), v)
	if err == nil {
		return nil
	}
	if repairErr := json.Unmarshal([]byte(repairJSON(content)), v); repairErr != nil {
		return err
	}
	return nil
}

// repairJSON strips code fences, a trailing comma and restores missing outer braces.
func repairJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimSpace(fencePattern.ReplaceAllString(s, ""))
	s = strings.TrimSuffix(s, ",")
	if !strings.HasPrefix(s, "{") {
		s = "{" + s
	}
	if !strings.HasSuffix(s, "}") {
		s += "}"
	}
	return s
}
