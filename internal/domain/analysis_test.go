package domain

import (
	"errors"
	"testing"
	"time"
)

func scored(q, a, c, f float64) *AnalysisResult {
	r := NewAnalysisResult()
	r.Questioning.Value = q
	r.AnxietyHandling.Value = a
	r.Closing.Value = c
	r.Flow.Value = f
	return r
}

func TestComputeOverallScore(t *testing.T) {
	tests := []struct {
		name   string
		params AnalysisParams
		result *AnalysisResult
		want   float64
	}{
		{"full weighted", AnalysisParams{Type: AnalysisFull}, scored(8, 6, 7, 9), 7.4},
		{"quick mean", AnalysisParams{Type: AnalysisQuick}, scored(7.5, 8, 6.5, 7), 7.25},
		{"specific focused only", AnalysisParams{Type: AnalysisSpecific, FocusAreas: []Category{CategoryQuestioning, CategoryClosing}}, scored(9, 1, 6, 1), 7.5},
		{"specific without focus", AnalysisParams{Type: AnalysisSpecific}, scored(9, 9, 9, 9), 5},
		{"rounded", AnalysisParams{Type: AnalysisQuick}, scored(7, 7, 8, 8.33), 7.58},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.result.ComputeOverallScore(tt.params); got != tt.want {
				t.Fatalf("ComputeOverallScore() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAnalysisResultValidate(t *testing.T) {
	r := scored(7, 7, 7, 7)
	r.OverallScore = 7
	if err := r.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	r.Closing.ContractProbability = 1.4
	r.Questioning.QuestionDiversity = -1
	if err := r.Validate(); err == nil {
		t.Fatal("Validate() accepted out-of-range fields")
	}

	r = scored(7, 7, 7, 7)
	r.OverallScore = 7
	r.Flow = nil
	if err := r.Validate(); err == nil {
		t.Fatal("Validate() accepted a missing category")
	}
}

func TestAnalysisParamsValidate(t *testing.T) {
	tests := []struct {
		name    string
		params  AnalysisParams
		wantErr bool
	}{
		{"full", AnalysisParams{Type: AnalysisFull}, false},
		{"unknown type", AnalysisParams{Type: "deep"}, true},
		{"specific needs focus", AnalysisParams{Type: AnalysisSpecific}, true},
		{"unknown focus", AnalysisParams{Type: AnalysisSpecific, FocusAreas: []Category{"pricing"}}, true},
		{"custom prompt key", AnalysisParams{Type: AnalysisFull, CustomPrompts: map[Category]string{"pricing": "x"}}, true},
		{"custom prompt ok", AnalysisParams{Type: AnalysisFull, CustomPrompts: map[Category]string{CategoryFlow: "x"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("Validate() error = %v, want ErrInvalidRequest", err)
			}
		})
	}
}

func TestEstimates(t *testing.T) {
	if got := EstimateTranscription(0); got != 30*time.Second {
		t.Fatalf("EstimateTranscription(0) = %v, want 30s", got)
	}
	if got := EstimateTranscription(3600); got != 300*time.Second {
		t.Fatalf("EstimateTranscription(3600) = %v, want 300s", got)
	}
	if got := EstimateTranscription(4); got != 10*time.Second {
		t.Fatalf("EstimateTranscription(4) = %v, want 10s", got)
	}
	for typ, want := range map[AnalysisType]time.Duration{
		AnalysisFull: 180 * time.Second, AnalysisQuick: time.Minute, AnalysisSpecific: 2 * time.Minute,
	} {
		if got := EstimateAnalysis(typ); got != want {
			t.Fatalf("EstimateAnalysis(%s) = %v, want %v", typ, got, want)
		}
	}
}

func TestOverallConfidence(t *testing.T) {
	segs := []Segment{
		{Start: 0, End: 1, Confidence: 0.5},
		{Start: 1, End: 4, Confidence: 0.9},
		{Start: 4, End: 4, Confidence: 0},
	}
	if got := OverallConfidence(segs); got != 0.8 {
		t.Fatalf("OverallConfidence() = %v, want 0.8", got)
	}
	if got := OverallConfidence(nil); got != 0 {
		t.Fatalf("OverallConfidence(nil) = %v", got)
	}
}

func TestValidateAudioFile(t *testing.T) {
	tests := []struct {
		key  string
		size int64
		ok   bool
	}{
		{"rec/a.webm", 1024, true},
		{"rec/a.M4A", 1024, true},
		{"rec/a.ogg", 1024, false},
		{"rec/a.wav", 0, false},
		{"rec/a.wav", 2*MaxAudioFileSize + 1, false},
	}
	for _, tt := range tests {
		err := ValidateAudioFile(tt.key, tt.size)
		if (err == nil) != tt.ok {
			t.Fatalf("ValidateAudioFile(%q, %d) error = %v", tt.key, tt.size, err)
		}
		if err != nil && !errors.Is(err, ErrPreconditionFailed) {
			t.Fatalf("error = %v, want ErrPreconditionFailed", err)
		}
	}
}

func TestSessionTransition(t *testing.T) {
	s := &Session{ID: "s1", Status: SessionRecorded}
	for _, next := range []SessionStatus{SessionTranscribing, SessionTranscribing, SessionTranscribed, SessionAnalyzing, SessionAnalyzed} {
		if err := s.Transition(next, t0); err != nil {
			t.Fatalf("Transition(%s) error = %v", next, err)
		}
	}
	if err := s.Transition(SessionTranscribing, t0); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Transition back error = %v", err)
	}

	s.Status = SessionFailed
	if err := s.Reopen(t0); err != nil || s.Status != SessionTranscribing {
		t.Fatalf("Reopen() = %v, status %s", err, s.Status)
	}
}
