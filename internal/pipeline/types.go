package pipeline

import (
	"github.com/esc-lab/dialogue-bench/pkg/llm"
)

// Generation modes supported by the pipeline.
const (
	ModeSingle = "single"
	ModeDual   = "dual"
)

// Scoring modes supported by the pipeline.
const (
	ScoringPerTurn = "per_turn"
	ScoringOverall = "overall"
)

// DefaultConcurrency caps simultaneous in-flight model calls per stage.
const DefaultConcurrency = 100

// Question is one input prompt, numbered by its position in the source.
type Question struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
}

// ModelTags records which models produced a candidate.
type ModelTags struct {
	Generator string `json:"generator,omitempty"`
	User      string `json:"user,omitempty"`
	Agent     string `json:"agent,omitempty"`
}

// Candidate is one successful generation attempt for a question slot.
// Failed attempts produce no Candidate at all.
type Candidate struct {
	QuestionID  int                  `json:"question_id"`
	Question    string               `json:"question"`
	CandidateID int                  `json:"candidate_id"`
	Mode        string               `json:"mode"`
	Models      ModelTags            `json:"models"`
	Output      llm.GenerationOutput `json:"output"`
}

// ScoreVector holds one scoring round's four dimension scores.
type ScoreVector struct {
	Empathy        float64 `json:"Empathy"`
	Supportiveness float64 `json:"Supportiveness"`
	Guidance       float64 `json:"Guidance"`
	Safety         float64 `json:"Safety"`
}

// Total sums the four dimensions.
func (v ScoreVector) Total() float64 {
	return v.Empathy + v.Supportiveness + v.Guidance + v.Safety
}

// ScoredCandidate pairs a candidate with its aggregated scores. Scores
// is the per-dimension mean over the successful rounds in RoundScores;
// Total is the sum of the means.
type ScoredCandidate struct {
	Candidate
	Scores      ScoreVector   `json:"scores"`
	Total       float64       `json:"total"`
	RoundScores []ScoreVector `json:"round_scores"`
}

// Statistics aggregates per-dimension means over a scored set. Used for
// run-level reporting at the scoring stage boundary.
type Statistics struct {
	AvgEmpathy        float64 `json:"avg_empathy"`
	AvgSupportiveness float64 `json:"avg_supportiveness"`
	AvgGuidance       float64 `json:"avg_guidance"`
	AvgSafety         float64 `json:"avg_safety"`
	AvgTotal          float64 `json:"avg_total"`
	NumCandidates     int     `json:"num_candidates"`
}

// Summarize computes score statistics over a scored candidate set.
func Summarize(scored []ScoredCandidate) Statistics {
	stats := Statistics{NumCandidates: len(scored)}
	if len(scored) == 0 {
		return stats
	}

	for _, sc := range scored {
		stats.AvgEmpathy += sc.Scores.Empathy
		stats.AvgSupportiveness += sc.Scores.Supportiveness
		stats.AvgGuidance += sc.Scores.Guidance
		stats.AvgSafety += sc.Scores.Safety
		stats.AvgTotal += sc.Total
	}

	n := float64(len(scored))
	stats.AvgEmpathy /= n
	stats.AvgSupportiveness /= n
	stats.AvgGuidance /= n
	stats.AvgSafety /= n
	stats.AvgTotal /= n
	return stats
}
