package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"counseling/internal/domain"
	"counseling/internal/ports"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var _ ports.Analyzer = (*Analyzer)(nil)

// Analyzer scores counseling transcripts with a chat model, one call per category.
type Analyzer struct {
	Client *Client
	Clock  func() time.Time
}

type summary struct {
	SessionSummary       string   `json:"session_summary"`
	KeyStrengths         []string `json:"key_strengths"`
	CriticalImprovements []string `json:"critical_improvements"`
}

type quickAnswer struct {
	QuestioningScore     *float64 `json:"questioning_score"`
	AnxietyHandlingScore *float64 `json:"anxiety_handling_score"`
	ClosingScore         *float64 `json:"closing_score"`
	FlowScore            *float64 `json:"flow_score"`
	SessionSummary       string   `json:"session_summary"`
	KeyImprovements      []string `json:"key_improvements"`
}

func (a *Analyzer) Analyze(ctx context.Context, req ports.AnalysisRequest) (ports.AnalysisOutcome, error) {
	text := Preprocess(req.Transcript)
	if text == "" {
		return ports.AnalysisOutcome{}, errors.New("transcript is empty")
	}
	logger := log.Ctx(ctx).With().Str("analysis_type", string(req.Params.Type)).Logger()
	logger.Info().Int("chars", len([]rune(text))).Msg("starting analysis")

	var (
		res    *domain.AnalysisResult
		tokens int
		err    error
	)
	switch req.Params.Type {
	case domain.AnalysisQuick:
		res, tokens, err = a.quick(ctx, text)
	case domain.AnalysisSpecific:
		res, tokens, err = a.specific(ctx, text, req.Params)
	default:
		res, tokens, err = a.full(ctx, text, req.Params)
	}
	if err != nil {
		return ports.AnalysisOutcome{}, err
	}

	res.OverallScore = res.ComputeOverallScore(req.Params)
	res.AnalyzedAt = a.now()
	usage := domain.Usage{TokensUsed: tokens, Cost: domain.AnalysisCost(tokens)}
	logger.Info().Int("tokens", usage.TokensUsed).Float64("cost", usage.Cost).Msg("analysis finished")
	return ports.AnalysisOutcome{Result: res, Usage: usage}, nil
}

func (a *Analyzer) now() time.Time {
	if a.Clock != nil {
		return a.Clock()
	}
	return time.Now().UTC()
}

// categories runs one call per category concurrently. Categories not listed keep their placeholder.
func (a *Analyzer) categories(ctx context.Context, text string, p domain.AnalysisParams, cats []domain.Category) (*domain.AnalysisResult, int, error) {
	results := make([]domain.CategoryResult, len(cats))
	tokens := make([]int, len(cats))

	g, gctx := errgroup.WithContext(ctx)
	for i, c := range cats {
		g.Go(func() error {
			r, n, err := a.category(gctx, c, text, p.CustomPrompts[c])
			if err != nil {
				return fmt.Errorf("%s analysis: %w", c, err)
			}
			results[i], tokens[i] = r, n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	res := domain.NewAnalysisResult()
	var total int
	for i := range cats {
		res.Set(results[i])
		total += tokens[i]
	}
	return res, total, nil
}

func (a *Analyzer) category(ctx context.Context, c domain.Category, text, custom string) (domain.CategoryResult, int, error) {
	content, tokens, err := a.Client.chat(ctx, categoryPrompt(c, text, custom))
	if err != nil {
		return nil, tokens, err
	}
	r := domain.NewCategoryResult(c)
	if err := decodeJSON(content, r); err != nil {
		return nil, tokens, fmt.Errorf("decode answer: %w", err)
	}
	return r, tokens, nil
}

func (a *Analyzer) full(ctx context.Context, text string, p domain.AnalysisParams) (*domain.AnalysisResult, int, error) {
	res, tokens, err := a.categories(ctx, text, p, domain.Categories)
	if err != nil {
		return nil, 0, err
	}

	content, n, err := a.Client.chat(ctx, summaryPrompt(text))
	tokens += n
	var s summary
	if err == nil {
		err = decodeJSON(content, &s)
	}
	if err != nil {
		// the category scores stand on their own; only the narrative is lost
		log.Ctx(ctx).Warn().Err(err).Msg("session summary failed")
		s = summary{
			SessionSummary:       "要約生成エラー",
			KeyStrengths:         []string{"分析完了"},
			CriticalImprovements: []string{"詳細分析が必要"},
		}
	}
	res.SessionSummary = s.SessionSummary
	res.KeyStrengths = s.KeyStrengths
	res.CriticalImprovements = s.CriticalImprovements
	return res, tokens, nil
}

func (a *Analyzer) quick(ctx context.Context, text string) (*domain.AnalysisResult, int, error) {
	content, tokens, err := a.Client.chat(ctx, quickPrompt(text))
	if err != nil {
		return nil, 0, fmt.Errorf("quick analysis: %w", err)
	}
	var q quickAnswer
	if err := decodeJSON(content, &q); err != nil {
		return nil, 0, fmt.Errorf("quick analysis: decode answer: %w", err)
	}

	res := domain.NewAnalysisResult()
	setScore := func(v *float64, dst *float64) {
		if v != nil {
			*dst = *v
		}
	}
	setScore(q.QuestioningScore, &res.Questioning.Value)
	setScore(q.AnxietyHandlingScore, &res.AnxietyHandling.Value)
	setScore(q.ClosingScore, &res.Closing.Value)
	setScore(q.FlowScore, &res.Flow.Value)
	res.Questioning.Improvements = q.KeyImprovements[:min(2, len(q.KeyImprovements))]

	res.SessionSummary = q.SessionSummary
	if res.SessionSummary == "" {
		res.SessionSummary = "クイック分析により生成された要約"
	}
	res.KeyStrengths = []string{"クイック分析のため詳細な強み分析は省略"}
	res.CriticalImprovements = q.KeyImprovements
	return res, tokens, nil
}

func (a *Analyzer) specific(ctx context.Context, text string, p domain.AnalysisParams) (*domain.AnalysisResult, int, error) {
	res, tokens, err := a.categories(ctx, text, p, p.FocusAreas)
	if err != nil {
		return nil, 0, err
	}

	areas := make([]string, len(p.FocusAreas))
	for i, c := range p.FocusAreas {
		areas[i] = string(c)
		res.KeyStrengths = append(res.KeyStrengths, string(c)+"の分析完了")
	}
	res.SessionSummary = "特定項目分析: " + strings.Join(areas, ", ")
	res.CriticalImprovements = []string{"特定項目分析のため包括的な改善提案は省略"}
	return res, tokens, nil
}
