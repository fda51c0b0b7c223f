package openai

import (
	"fmt"

	"counseling/internal/domain"
)

const systemPrompt = `You are a counseling expert for an aesthetic hair-removal clinic.
Evaluate counseling transcripts objectively on questioning technique, handling of customer anxiety,
closing technique and the overall flow of the session.
Always answer with a single JSON object. Scores range from 1 to 10, ratios from 0 to 1.
Include concrete examples and practical improvement suggestions written in Japanese.`

var categoryInstructions = map[domain.Category]string{
	domain.CategoryQuestioning: `Evaluate the questioning technique: use of open versus closed questions,
the share of talk time given to the customer, the variety and depth of questions, effective questions
and questions to improve.
Answer in this JSON shape:
{"score": 7.5, "open_question_ratio": 0.6, "customer_talk_time_ratio": 0.7, "question_diversity": 8,
 "effective_questions": ["..."], "improvements": ["..."]}`,

	domain.CategoryAnxietyHandling: `Evaluate how the customer's anxieties were handled: which anxieties were
identified, how often and how well empathy was expressed, how specific the proposed solutions were and
whether resolution was confirmed.
Answer in this JSON shape:
{"score": 8.2, "anxiety_points_identified": ["..."], "empathy_expressions": 5, "solution_specificity": 0.8,
 "anxiety_resolution_confirmed": true, "improvements": ["..."]}`,

	domain.CategoryClosing: `Evaluate the closing technique: timing, creation of urgency, use of limited offers,
how the price was presented, objection handling and the likelihood of a contract.
Answer in this JSON shape:
{"score": 6.8, "timing_appropriateness": 0.7, "urgency_creation": 0.5, "limitation_usage": 0.6,
 "price_presentation_method": "...", "objection_handling": ["..."], "contract_probability": 0.75,
 "improvements": ["..."]}`,

	domain.CategoryFlow: `Evaluate the flow of the session: logical structure, smoothness of topic transitions,
consideration for the customer's pace, emphasis on key points and predicted customer satisfaction.
Answer in this JSON shape:
{"score": 7.9, "logical_structure": 0.8, "smooth_transitions": 0.7, "customer_pace_consideration": 0.9,
 "key_point_emphasis": 0.6, "session_satisfaction_prediction": 0.85, "improvements": ["..."]}`,
}

// quickExcerpt caps the transcript sent for a quick analysis.
const quickExcerpt = 2000

func categoryPrompt(c domain.Category, text, custom string) string {
	instructions := categoryInstructions[c]
	if custom != "" {
		instructions = custom
	}
	return fmt.Sprintf("%s\n\n[Transcript]\n%s", instructions, text)
}

func summaryPrompt(text string) string {
	return fmt.Sprintf(`Analyze the whole counseling session below and summarize it.
Provide a summary of at most 200 characters, 3 to 5 key strengths and 3 to 5 critical improvements.
Answer in this JSON shape:
{"session_summary": "...", "key_strengths": ["..."], "critical_improvements": ["..."], "overall_score": 7.5}

[Transcript]
%s`, text)
}

func quickPrompt(text string) string {
	if r := []rune(text); len(r) > quickExcerpt {
		text = string(r[:quickExcerpt])
	}
	return fmt.Sprintf(`Give a brief analysis of the counseling session below with a score for each of the
four categories and a short evaluation.
Answer in this JSON shape:
{"questioning_score": 7.5, "anxiety_handling_score": 8.0, "closing_score": 6.5, "flow_score": 7.0,
 "session_summary": "...", "key_improvements": ["...", "...", "..."]}

[Transcript]
%s`, text)
}
