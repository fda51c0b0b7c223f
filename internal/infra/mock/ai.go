package mock

import (
	"context"
	"errors"
	"strings"
	"time"

	"counseling/internal/domain"
	"counseling/internal/ports"
)

var (
	_ ports.Transcriber = (*AI)(nil)
	_ ports.Analyzer    = (*AI)(nil)
)

// AI returns canned transcriptions and analyses for development without a provider key.
type AI struct {
	// Delay simulates provider latency.
	Delay time.Duration
}

func (m *AI) wait(ctx context.Context) error {
	if m.Delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(m.Delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *AI) Transcribe(ctx context.Context, audioKey string, p domain.TranscriptionParams) (*domain.TranscriptionResult, error) {
	if audioKey == "" {
		return nil, errors.New("mock transcriber: audio key is empty")
	}
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	segments := []domain.Segment{
		{ID: 0, Start: 0, End: 5.2, Text: "こちらは開発環境用のダミー文字起こし結果です。", Confidence: 0.95},
		{ID: 1, Start: 5.2, End: 10.5, Text: "実際の音声内容ではありません。", Confidence: 0.92},
	}
	return &domain.TranscriptionResult{
		Text:       "こちらは開発環境用のダミー文字起こし結果です。実際の音声内容ではありません。",
		Language:   p.Language,
		Confidence: domain.OverallConfidence(segments),
		Duration:   10.5,
		Segments:   segments,
	}, nil
}

func cannedCategory(c domain.Category) domain.CategoryResult {
	switch c {
	case domain.CategoryQuestioning:
		return &domain.QuestioningAnalysis{
			Value: 7.5, OpenQuestionRatio: 0.6, CustomerTalkTimeRatio: 0.7, QuestionDiversity: 8,
			EffectiveQuestions: []string{"どのような点がご不安ですか？", "他にご質問はございますか？"},
			Improvements:       []string{"より具体的な質問を増やす", "顧客の感情に寄り添う質問を追加"},
		}
	case domain.CategoryAnxietyHandling:
		return &domain.AnxietyHandlingAnalysis{
			Value: 8.2, AnxietyPointsIdentified: []string{"痛みへの不安", "料金への心配"}, EmpathyExpressions: 5,
			SolutionSpecificity: 0.8, AnxietyResolutionConfirmed: true,
			Improvements: []string{"具体的な事例を使った説明を増やす"},
		}
	case domain.CategoryClosing:
		return &domain.ClosingAnalysis{
			Value: 6.8, TimingAppropriateness: 0.7, UrgencyCreation: 0.5, LimitationUsage: 0.6,
			PricePresentationMethod: "段階的価格提示", ObjectionHandling: []string{"料金に関する懸念への対応"},
			ContractProbability: 0.75, Improvements: []string{"限定性をより効果的に活用", "価格提示のタイミング調整"},
		}
	case domain.CategoryFlow:
		return &domain.FlowAnalysis{
			Value: 7.9, LogicalStructure: 0.8, SmoothTransitions: 0.7, CustomerPaceConsideration: 0.9,
			KeyPointEmphasis: 0.6, SessionSatisfactionPrediction: 0.85,
			Improvements: []string{"重要ポイントの強調を改善"},
		}
	}
	return domain.NewCategoryResult(c)
}

func (m *AI) Analyze(ctx context.Context, req ports.AnalysisRequest) (ports.AnalysisOutcome, error) {
	if strings.TrimSpace(req.Transcript) == "" {
		return ports.AnalysisOutcome{}, errors.New("mock analyzer: transcript is empty")
	}
	if err := m.wait(ctx); err != nil {
		return ports.AnalysisOutcome{}, err
	}

	res := domain.NewAnalysisResult()
	for _, c := range domain.Categories {
		if req.Params.Type == domain.AnalysisQuick || req.Params.Focused(c) {
			res.Set(cannedCategory(c))
		}
	}
	res.SessionSummary = "開発環境用のダミー分析結果です。顧客のニーズを適切に把握し、不安に対して丁寧に対応されていました。"
	res.KeyStrengths = []string{"丁寧な説明", "顧客ペースに配慮", "専門知識の活用"}
	res.CriticalImprovements = []string{"クロージングの強化", "限定性の活用", "価格提示の改善"}
	res.OverallScore = res.ComputeOverallScore(req.Params)
	res.AnalyzedAt = time.Now().UTC()
	return ports.AnalysisOutcome{Result: res}, nil
}
