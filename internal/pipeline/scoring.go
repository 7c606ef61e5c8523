package pipeline

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/esc-lab/dialogue-bench/pkg/llm"
)

// Sampling defaults per scoring mode. Holistic evaluation runs at a
// lower temperature.
const (
	perTurnTemperature = 0.7
	perTurnMaxTokens   = 2000
	overallTemperature = 0.3
	overallMaxTokens   = 500
)

// ScoreCaller issues structured evaluation calls. *llm.Client satisfies
// it; tests substitute fakes.
type ScoreCaller interface {
	ScoreDialogue(ctx context.Context, req llm.Request) (*llm.EvaluationOutput, error)
}

// ScorerConfig tunes the scoring engine.
type ScorerConfig struct {
	Model           string
	Mode            string // ScoringPerTurn or ScoringOverall
	Rounds          int
	TopKPerQuestion int // 0 keeps every scored candidate
	Concurrency     int
	Prompts         PromptSet
	Logger          zerolog.Logger
}

// Scorer obtains several independent scoring rounds per candidate from
// an evaluator model and reduces them to mean dimension scores.
type Scorer struct {
	client ScoreCaller
	cfg    ScorerConfig
	logger zerolog.Logger
}

// NewScorer builds the scoring engine.
func NewScorer(client ScoreCaller, cfg ScorerConfig) *Scorer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Mode == "" {
		cfg.Mode = ScoringPerTurn
	}
	return &Scorer{
		client: client,
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "scoring").Logger(),
	}
}

type scoringRound struct {
	candidateIndex int
	round          int
}

// Score runs Rounds evaluation calls per candidate with bounded
// parallelism and averages the successful rounds per dimension. Failed
// rounds are excluded from numerator and denominator; a candidate with
// zero successful rounds is dropped. When TopKPerQuestion is set, only
// the best K candidates per question survive.
func (s *Scorer) Score(ctx context.Context, candidates []Candidate) []ScoredCandidate {
	start := time.Now()
	defer func() { stageDuration.WithLabelValues("scoring").Observe(time.Since(start).Seconds()) }()

	s.logger.Info().
		Int("candidates", len(candidates)).
		Int("rounds", s.cfg.Rounds).
		Str("mode", s.cfg.Mode).
		Str("model", s.cfg.Model).
		Msg("starting scoring")

	prompts := make([]string, len(candidates))
	for i, candidate := range candidates {
		prompts[i] = s.buildPrompt(candidate)
	}

	tasks := make([]scoringRound, 0, len(candidates)*s.cfg.Rounds)
	for i := range candidates {
		for round := 1; round <= s.cfg.Rounds; round++ {
			tasks = append(tasks, scoringRound{candidateIndex: i, round: round})
		}
	}

	outcomes := RunAll(ctx, s.cfg.Concurrency, tasks, func(ctx context.Context, task scoringRound) (*llm.EvaluationOutput, error) {
		return s.client.ScoreDialogue(ctx, s.buildRequest(prompts[task.candidateIndex]))
	})

	// Rounds are keyed back to their candidate by index, never by
	// completion order.
	roundsByCandidate := make([][]ScoreVector, len(candidates))
	for _, outcome := range outcomes {
		task := outcome.Task
		if outcome.Failed() {
			scoringRounds.WithLabelValues(s.cfg.Mode, statusFailed).Inc()
			s.logger.Warn().
				Int("question_id", candidates[task.candidateIndex].QuestionID).
				Int("candidate_id", candidates[task.candidateIndex].CandidateID).
				Int("round", task.round).
				Err(outcome.Err).
				Msg("scoring round failed")
			continue
		}

		scoringRounds.WithLabelValues(s.cfg.Mode, statusSuccess).Inc()
		roundsByCandidate[task.candidateIndex] = append(roundsByCandidate[task.candidateIndex], ScoreVector{
			Empathy:        outcome.Result.Empathy,
			Supportiveness: outcome.Result.Supportiveness,
			Guidance:       outcome.Result.Guidance,
			Safety:         outcome.Result.Safety,
		})
	}

	scored := make([]ScoredCandidate, 0, len(candidates))
	for i, candidate := range candidates {
		rounds := roundsByCandidate[i]
		if len(rounds) == 0 {
			s.logger.Warn().
				Int("question_id", candidate.QuestionID).
				Int("candidate_id", candidate.CandidateID).
				Msg("candidate dropped: no scoring round succeeded")
			continue
		}

		mean := meanScores(rounds)
		sc := ScoredCandidate{
			Candidate:   candidate,
			Scores:      mean,
			Total:       mean.Total(),
			RoundScores: rounds,
		}
		scored = append(scored, sc)

		s.logger.Info().
			Int("question_id", candidate.QuestionID).
			Int("candidate_id", candidate.CandidateID).
			Int("rounds_used", len(rounds)).
			Float64("total", sc.Total).
			Msg("candidate scored")
	}

	s.logger.Info().
		Int("scored", len(scored)).
		Int("candidates", len(candidates)).
		Msg("scoring stage complete")

	if s.cfg.TopKPerQuestion > 0 {
		filtered := FilterTopKPerQuestion(scored, s.cfg.TopKPerQuestion)
		s.logger.Info().
			Int("before", len(scored)).
			Int("after", len(filtered)).
			Int("top_k", s.cfg.TopKPerQuestion).
			Msg("applied per-question top-k filter")
		return filtered
	}

	return scored
}

func (s *Scorer) buildPrompt(candidate Candidate) string {
	if s.cfg.Mode == ScoringOverall {
		payload, err := json.MarshalIndent(candidate.Output, "", "  ")
		if err != nil {
			// Output always marshals; fall back to the transcript anyway.
			return s.cfg.Prompts.OverallScoring(Transcript(candidate.Output.Dialogue))
		}
		return s.cfg.Prompts.OverallScoring(string(payload))
	}
	return s.cfg.Prompts.Scoring(Transcript(candidate.Output.Dialogue))
}

func (s *Scorer) buildRequest(prompt string) llm.Request {
	if s.cfg.Mode == ScoringOverall {
		return llm.Request{
			Model:       s.cfg.Model,
			Prompt:      prompt,
			Temperature: overallTemperature,
			MaxTokens:   overallMaxTokens,
		}
	}
	return llm.Request{
		Model:       s.cfg.Model,
		Prompt:      prompt,
		Temperature: perTurnTemperature,
		MaxTokens:   perTurnMaxTokens,
	}
}

func meanScores(rounds []ScoreVector) ScoreVector {
	var sum ScoreVector
	for _, round := range rounds {
		sum.Empathy += round.Empathy
		sum.Supportiveness += round.Supportiveness
		sum.Guidance += round.Guidance
		sum.Safety += round.Safety
	}

	n := float64(len(rounds))
	return ScoreVector{
		Empathy:        sum.Empathy / n,
		Supportiveness: sum.Supportiveness / n,
		Guidance:       sum.Guidance / n,
		Safety:         sum.Safety / n,
	}
}

// FilterTopKPerQuestion keeps the k highest-total candidates within each
// question group. Output is ordered by question id, then descending
// total, ties by ascending candidate id.
func FilterTopKPerQuestion(scored []ScoredCandidate, k int) []ScoredCandidate {
	if k <= 0 {
		return scored
	}

	groups := make(map[int][]ScoredCandidate)
	questionIDs := make([]int, 0)
	for _, sc := range scored {
		if _, seen := groups[sc.QuestionID]; !seen {
			questionIDs = append(questionIDs, sc.QuestionID)
		}
		groups[sc.QuestionID] = append(groups[sc.QuestionID], sc)
	}
	sort.Ints(questionIDs)

	filtered := make([]ScoredCandidate, 0, len(scored))
	for _, qid := range questionIDs {
		group := groups[qid]
		sort.SliceStable(group, func(i, j int) bool {
			if group[i].Total != group[j].Total {
				return group[i].Total > group[j].Total
			}
			return group[i].CandidateID < group[j].CandidateID
		})
		if len(group) > k {
			group = group[:k]
		}
		filtered = append(filtered, group...)
	}

	return filtered
}
