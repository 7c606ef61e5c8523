package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/esc-lab/dialogue-bench/pkg/llm"
)

// fakeScoreCaller consumes scripted per-round outcomes keyed by a
// substring of the prompt. A nil entry fails that round.
type fakeScoreCaller struct {
	mu      sync.Mutex
	scripts map[string][]*llm.EvaluationOutput
}

func (f *fakeScoreCaller) ScoreDialogue(ctx context.Context, req llm.Request) (*llm.EvaluationOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for key, script := range f.scripts {
		if !strings.Contains(req.Prompt, key) {
			continue
		}
		if len(script) == 0 {
			return nil, errors.New("script exhausted for " + key)
		}
		next := script[0]
		f.scripts[key] = script[1:]
		if next == nil {
			return nil, errors.Join(llm.ErrExhaustedRetries, &llm.TransportError{Model: req.Model, Err: errors.New("down")})
		}
		out := *next
		return &out, nil
	}
	return nil, errors.New("no scripted scores")
}

func evalOut(value float64) *llm.EvaluationOutput {
	return &llm.EvaluationOutput{Empathy: value, Supportiveness: value, Guidance: value, Safety: value}
}

func markedCandidate(questionID, candidateID int, marker string) Candidate {
	return Candidate{
		QuestionID:  questionID,
		Question:    "question " + marker,
		CandidateID: candidateID,
		Mode:        ModeSingle,
		Models:      ModelTags{Generator: "gen-model"},
		Output: llm.GenerationOutput{
			CoT: "plan",
			Dialogue: []llm.DialogueTurn{
				{Role: llm.RoleUser, Content: "marker " + marker},
				{Role: llm.RoleAssistant, Content: "supportive reply"},
			},
		},
	}
}

func newScorer(caller ScoreCaller, rounds, topK int) *Scorer {
	return NewScorer(caller, ScorerConfig{
		Model:           "judge",
		Mode:            ScoringPerTurn,
		Rounds:          rounds,
		TopKPerQuestion: topK,
		Logger:          zerolog.Nop(),
	})
}

func TestScorerAveragesRounds(t *testing.T) {
	caller := &fakeScoreCaller{scripts: map[string][]*llm.EvaluationOutput{
		"Q1C1": {evalOut(8), evalOut(6)},
	}}
	scorer := newScorer(caller, 2, 0)

	scored := scorer.Score(context.Background(), []Candidate{markedCandidate(1, 1, "Q1C1")})
	require.Len(t, scored, 1)
	require.InDelta(t, 7.0, scored[0].Scores.Empathy, 1e-9)
	require.InDelta(t, 28.0, scored[0].Total, 1e-9)
	require.Len(t, scored[0].RoundScores, 2)
}

func TestScorerExcludesFailedRoundsFromAverage(t *testing.T) {
	// Rounds [8, absent, 6]: mean must be (8+6)/2, not (8+0+6)/3.
	caller := &fakeScoreCaller{scripts: map[string][]*llm.EvaluationOutput{
		"Q1C1": {evalOut(8), nil, evalOut(6)},
	}}
	scorer := newScorer(caller, 3, 0)

	scored := scorer.Score(context.Background(), []Candidate{markedCandidate(1, 1, "Q1C1")})
	require.Len(t, scored, 1)
	require.InDelta(t, 7.0, scored[0].Scores.Empathy, 1e-9)
	require.Len(t, scored[0].RoundScores, 2)
}

func TestScorerUsesSingleRoundDivisorWhenOthersFail(t *testing.T) {
	caller := &fakeScoreCaller{scripts: map[string][]*llm.EvaluationOutput{
		"Q1C1": {evalOut(8), nil},
	}}
	scorer := newScorer(caller, 2, 0)

	scored := scorer.Score(context.Background(), []Candidate{markedCandidate(1, 1, "Q1C1")})
	require.Len(t, scored, 1)
	require.InDelta(t, 8.0, scored[0].Scores.Empathy, 1e-9, "mean must divide by 1, not 2")
}

func TestScorerDropsCandidateWhenAllRoundsFail(t *testing.T) {
	caller := &fakeScoreCaller{scripts: map[string][]*llm.EvaluationOutput{
		"Q1C1": {nil, nil, nil},
		"Q1C2": {evalOut(5), evalOut(5), evalOut(5)},
	}}
	scorer := newScorer(caller, 3, 0)

	scored := scorer.Score(context.Background(), []Candidate{
		markedCandidate(1, 1, "Q1C1"),
		markedCandidate(1, 2, "Q1C2"),
	})
	require.Len(t, scored, 1)
	require.Equal(t, 2, scored[0].CandidateID)
}

func TestScorerTotalIsExactSumOfMeans(t *testing.T) {
	caller := &fakeScoreCaller{scripts: map[string][]*llm.EvaluationOutput{
		"Q1C1": {
			{Empathy: 7.3, Supportiveness: 6.1, Guidance: 8.8, Safety: 9.9},
			{Empathy: 6.7, Supportiveness: 5.9, Guidance: 9.2, Safety: 9.1},
		},
	}}
	scorer := newScorer(caller, 2, 0)

	scored := scorer.Score(context.Background(), []Candidate{markedCandidate(1, 1, "Q1C1")})
	require.Len(t, scored, 1)

	sc := scored[0]
	sum := sc.Scores.Empathy + sc.Scores.Supportiveness + sc.Scores.Guidance + sc.Scores.Safety
	require.InDelta(t, sum, sc.Total, 1e-9)
	for _, v := range []float64{sc.Scores.Empathy, sc.Scores.Supportiveness, sc.Scores.Guidance, sc.Scores.Safety} {
		require.GreaterOrEqual(t, v, 0.0)
		require.LessOrEqual(t, v, 10.0)
	}
}

func TestScorerPerQuestionTopKFilter(t *testing.T) {
	// Totals: Q1C1=30, Q1C2=25, Q2C1=20, Q2C2=28. Per-question top-1
	// keeps Q1C1 and Q2C2.
	caller := &fakeScoreCaller{scripts: map[string][]*llm.EvaluationOutput{
		"Q1C1": {evalOut(7.5), evalOut(7.5)},
		"Q1C2": {evalOut(6.25), evalOut(6.25)},
		"Q2C1": {evalOut(5), evalOut(5)},
		"Q2C2": {evalOut(7), evalOut(7)},
	}}
	scorer := newScorer(caller, 2, 1)

	scored := scorer.Score(context.Background(), []Candidate{
		markedCandidate(1, 1, "Q1C1"),
		markedCandidate(1, 2, "Q1C2"),
		markedCandidate(2, 1, "Q2C1"),
		markedCandidate(2, 2, "Q2C2"),
	})

	require.Len(t, scored, 2)
	require.Equal(t, 1, scored[0].QuestionID)
	require.Equal(t, 1, scored[0].CandidateID)
	require.InDelta(t, 30.0, scored[0].Total, 1e-9)
	require.Equal(t, 2, scored[1].QuestionID)
	require.Equal(t, 2, scored[1].CandidateID)
	require.InDelta(t, 28.0, scored[1].Total, 1e-9)
}

func TestScorerOverallModeSerializesPayload(t *testing.T) {
	caller := &fakeScoreCaller{scripts: map[string][]*llm.EvaluationOutput{
		// The overall prompt embeds the candidate JSON, so the CoT text
		// is present in it.
		"\"cot\": \"plan\"": {evalOut(6)},
	}}
	scorer := NewScorer(caller, ScorerConfig{
		Model:  "judge",
		Mode:   ScoringOverall,
		Rounds: 1,
		Logger: zerolog.Nop(),
	})

	scored := scorer.Score(context.Background(), []Candidate{markedCandidate(1, 1, "Q1C1")})
	require.Len(t, scored, 1)
	require.InDelta(t, 24.0, scored[0].Total, 1e-9)
}

func TestFilterTopKPerQuestionBreaksTiesByCandidateID(t *testing.T) {
	scored := []ScoredCandidate{
		{Candidate: Candidate{QuestionID: 1, CandidateID: 2}, Total: 20},
		{Candidate: Candidate{QuestionID: 1, CandidateID: 1}, Total: 20},
	}

	filtered := FilterTopKPerQuestion(scored, 1)
	require.Len(t, filtered, 1)
	require.Equal(t, 1, filtered[0].CandidateID)
}
