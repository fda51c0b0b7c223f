package domain

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"time"
)

type AnalysisType string

const (
	AnalysisFull     AnalysisType = "full"
	AnalysisQuick    AnalysisType = "quick"
	AnalysisSpecific AnalysisType = "specific"
)

func (t AnalysisType) Valid() bool {
	return t == AnalysisFull || t == AnalysisQuick || t == AnalysisSpecific
}

type Category string

const (
	CategoryQuestioning     Category = "questioning"
	CategoryAnxietyHandling Category = "anxiety_handling"
	CategoryClosing         Category = "closing"
	CategoryFlow            Category = "flow"
)

// Categories lists every analysis category in report order.
var Categories = []Category{CategoryQuestioning, CategoryAnxietyHandling, CategoryClosing, CategoryFlow}

func (c Category) Valid() bool {
	return slices.Contains(Categories, c)
}

// categoryWeights are used for the overall score of a full analysis.
var categoryWeights = map[Category]float64{
	CategoryQuestioning:     0.25,
	CategoryAnxietyHandling: 0.25,
	CategoryClosing:         0.30,
	CategoryFlow:            0.20,
}

type AnalysisParams struct {
	Type          AnalysisType        `json:"analysis_type"`
	FocusAreas    []Category          `json:"focus_areas,omitempty"`
	CustomPrompts map[Category]string `json:"custom_prompts,omitempty"`
}

// Validate checks the analysis type, the focus areas and the custom prompt keys.
func (p AnalysisParams) Validate() error {
	if !p.Type.Valid() {
		return invalidRequest("unknown analysis type %q", p.Type)
	}
	for _, c := range p.FocusAreas {
		if !c.Valid() {
			return invalidRequest("unknown focus area %q", c)
		}
	}
	if p.Type == AnalysisSpecific && len(p.FocusAreas) == 0 {
		return invalidRequest("specific analysis needs at least one focus area")
	}
	for c, prompt := range p.CustomPrompts {
		if !c.Valid() {
			return invalidRequest("custom prompt for unknown category %q", c)
		}
		if prompt == "" {
			return invalidRequest("empty custom prompt for %q", c)
		}
	}
	return nil
}

// Focused reports whether c is analyzed in depth under these params.
func (p AnalysisParams) Focused(c Category) bool {
	switch p.Type {
	case AnalysisFull:
		return true
	case AnalysisSpecific:
		return slices.Contains(p.FocusAreas, c)
	}
	return false
}

// EstimateAnalysis returns the expected processing time for an analysis type.
func EstimateAnalysis(t AnalysisType) time.Duration {
	switch t {
	case AnalysisQuick:
		return 60 * time.Second
	case AnalysisSpecific:
		return 120 * time.Second
	}
	return 180 * time.Second
}

// CategoryResult is one category's evaluation.
type CategoryResult interface {
	Category() Category
	Score() float64
	Validate() error
}

type QuestioningAnalysis struct {
	Value                 float64  `json:"score"`
	OpenQuestionRatio     float64  `json:"open_question_ratio"`
	CustomerTalkTimeRatio float64  `json:"customer_talk_time_ratio"`
	QuestionDiversity     int      `json:"question_diversity"`
	EffectiveQuestions    []string `json:"effective_questions"`
	Improvements          []string `json:"improvements"`
}

func (a *QuestioningAnalysis) Category() Category { return CategoryQuestioning }
func (a *QuestioningAnalysis) Score() float64     { return a.Value }

func (a *QuestioningAnalysis) Validate() error {
	return errors.Join(
		checkScore(a.Value),
		checkRatio("open_question_ratio", a.OpenQuestionRatio),
		checkRatio("customer_talk_time_ratio", a.CustomerTalkTimeRatio),
		checkCount("question_diversity", a.QuestionDiversity),
	)
}

type AnxietyHandlingAnalysis struct {
	Value                      float64  `json:"score"`
	AnxietyPointsIdentified    []string `json:"anxiety_points_identified"`
	EmpathyExpressions         int      `json:"empathy_expressions"`
	SolutionSpecificity        float64  `json:"solution_specificity"`
	AnxietyResolutionConfirmed bool     `json:"anxiety_resolution_confirmed"`
	Improvements               []string `json:"improvements"`
}

func (a *AnxietyHandlingAnalysis) Category() Category { return CategoryAnxietyHandling }
func (a *AnxietyHandlingAnalysis) Score() float64     { return a.Value }

func (a *AnxietyHandlingAnalysis) Validate() error {
	return errors.Join(
		checkScore(a.Value),
		checkCount("empathy_expressions", a.EmpathyExpressions),
		checkRatio("solution_specificity", a.SolutionSpecificity),
	)
}

type ClosingAnalysis struct {
	Value                   float64  `json:"score"`
	TimingAppropriateness   float64  `json:"timing_appropriateness"`
	UrgencyCreation         float64  `json:"urgency_creation"`
	LimitationUsage         float64  `json:"limitation_usage"`
	PricePresentationMethod string   `json:"price_presentation_method"`
	ObjectionHandling       []string `json:"objection_handling"`
	ContractProbability     float64  `json:"contract_probability"`
	Improvements            []string `json:"improvements"`
}

func (a *ClosingAnalysis) Category() Category { return CategoryClosing }
func (a *ClosingAnalysis) Score() float64     { return a.Value }

func (a *ClosingAnalysis) Validate() error {
	return errors.Join(
		checkScore(a.Value),
		checkRatio("timing_appropriateness", a.TimingAppropriateness),
		checkRatio("urgency_creation", a.UrgencyCreation),
		checkRatio("limitation_usage", a.LimitationUsage),
		checkRatio("contract_probability", a.ContractProbability),
	)
}

type FlowAnalysis struct {
	Value                         float64  `json:"score"`
	LogicalStructure              float64  `json:"logical_structure"`
	SmoothTransitions             float64  `json:"smooth_transitions"`
	CustomerPaceConsideration     float64  `json:"customer_pace_consideration"`
	KeyPointEmphasis              float64  `json:"key_point_emphasis"`
	SessionSatisfactionPrediction float64  `json:"session_satisfaction_prediction"`
	Improvements                  []string `json:"improvements"`
}

func (a *FlowAnalysis) Category() Category { return CategoryFlow }
func (a *FlowAnalysis) Score() float64     { return a.Value }

func (a *FlowAnalysis) Validate() error {
	return errors.Join(
		checkScore(a.Value),
		checkRatio("logical_structure", a.LogicalStructure),
		checkRatio("smooth_transitions", a.SmoothTransitions),
		checkRatio("customer_pace_consideration", a.CustomerPaceConsideration),
		checkRatio("key_point_emphasis", a.KeyPointEmphasis),
		checkRatio("session_satisfaction_prediction", a.SessionSatisfactionPrediction),
	)
}

// NewCategoryResult returns a neutral placeholder for c: score 5 and mid-range ratios.
// Categories outside an analysis' focus keep these values.
func NewCategoryResult(c Category) CategoryResult {
	switch c {
	case CategoryQuestioning:
		return &QuestioningAnalysis{Value: 5, OpenQuestionRatio: 0.5, CustomerTalkTimeRatio: 0.5, QuestionDiversity: 5}
	case CategoryAnxietyHandling:
		return &AnxietyHandlingAnalysis{Value: 5, SolutionSpecificity: 0.5}
	case CategoryClosing:
		return &ClosingAnalysis{
			Value: 5, TimingAppropriateness: 0.5, UrgencyCreation: 0.5, LimitationUsage: 0.5,
			PricePresentationMethod: "standard", ContractProbability: 0.5,
		}
	case CategoryFlow:
		return &FlowAnalysis{
			Value: 5, LogicalStructure: 0.5, SmoothTransitions: 0.5, CustomerPaceConsideration: 0.5,
			KeyPointEmphasis: 0.5, SessionSatisfactionPrediction: 0.5,
		}
	}
	return nil
}

type AnalysisResult struct {
	OverallScore         float64                  `json:"overall_score"`
	Questioning          *QuestioningAnalysis     `json:"questioning"`
	AnxietyHandling      *AnxietyHandlingAnalysis `json:"anxiety_handling"`
	Closing              *ClosingAnalysis         `json:"closing"`
	Flow                 *FlowAnalysis            `json:"flow"`
	SessionSummary       string                   `json:"session_summary"`
	KeyStrengths         []string                 `json:"key_strengths"`
	CriticalImprovements []string                 `json:"critical_improvements"`
	AnalyzedAt           time.Time                `json:"analyzed_at"`
}

// NewAnalysisResult returns a result with every category at its placeholder.
func NewAnalysisResult() *AnalysisResult {
	r := &AnalysisResult{}
	for _, c := range Categories {
		r.Set(NewCategoryResult(c))
	}
	return r
}

// Set stores a category result in its slot.
func (r *AnalysisResult) Set(c CategoryResult) {
	switch v := c.(type) {
	case *QuestioningAnalysis:
		r.Questioning = v
	case *AnxietyHandlingAnalysis:
		r.AnxietyHandling = v
	case *ClosingAnalysis:
		r.Closing = v
	case *FlowAnalysis:
		r.Flow = v
	}
}

// Get returns the result for c, or nil when the slot is empty.
func (r *AnalysisResult) Get(c Category) CategoryResult {
	switch c {
	case CategoryQuestioning:
		if r.Questioning != nil {
			return r.Questioning
		}
	case CategoryAnxietyHandling:
		if r.AnxietyHandling != nil {
			return r.AnxietyHandling
		}
	case CategoryClosing:
		if r.Closing != nil {
			return r.Closing
		}
	case CategoryFlow:
		if r.Flow != nil {
			return r.Flow
		}
	}
	return nil
}

// Validate checks every category and the overall score.
func (r *AnalysisResult) Validate() error {
	var errs []error
	for _, c := range Categories {
		cr := r.Get(c)
		if cr == nil {
			errs = append(errs, fmt.Errorf("%s: missing", c))
			continue
		}
		if err := cr.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c, err))
		}
	}
	if err := checkScore(r.OverallScore); err != nil {
		errs = append(errs, fmt.Errorf("overall: %w", err))
	}
	return errors.Join(errs...)
}

// ComputeOverallScore applies the scoring rule for p to the category results in r.
func (r *AnalysisResult) ComputeOverallScore(p AnalysisParams) float64 {
	score := func(c Category) float64 {
		if cr := r.Get(c); cr != nil {
			return cr.Score()
		}
		return 5
	}

	var overall float64
	switch p.Type {
	case AnalysisQuick:
		for _, c := range Categories {
			overall += score(c)
		}
		overall /= float64(len(Categories))
	case AnalysisSpecific:
		var n int
		for _, c := range Categories {
			if p.Focused(c) {
				overall += score(c)
				n++
			}
		}
		if n == 0 {
			overall = 5
		} else {
			overall /= float64(n)
		}
	default:
		for _, c := range Categories {
			overall += score(c) * categoryWeights[c]
		}
	}
	return math.Round(overall*100) / 100
}

func checkScore(v float64) error {
	if v < 1 || v > 10 {
		return fmt.Errorf("score %.2f out of range [1,10]", v)
	}
	return nil
}

func checkRatio(name string, v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%s %.2f out of range [0,1]", name, v)
	}
	return nil
}

func checkCount(name string, v int) error {
	if v < 0 {
		return fmt.Errorf("%s is negative: %d", name, v)
	}
	return nil
}

// AnalysisCost converts provider tokens into an approximate charge.
func AnalysisCost(tokens int) float64 {
	return float64(tokens) / 1000 * 0.045
}
