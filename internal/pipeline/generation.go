package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/esc-lab/dialogue-bench/pkg/llm"
)

// Sampling defaults for generation calls, matching the upstream service
// expectations.
const (
	generationTemperature = 0.7
	generationMaxTokens   = 2000
)

// DialogueCaller issues structured generation calls. *llm.Client
// satisfies it; tests substitute fakes.
type DialogueCaller interface {
	GenerateDialogue(ctx context.Context, req llm.Request) (*llm.GenerationOutput, error)
}

// GeneratorConfig tunes the single-model generation engine.
type GeneratorConfig struct {
	Model       string
	NumTurns    int
	Candidates  int
	Concurrency int
	Prompts     PromptSet
	Logger      zerolog.Logger
}

// Generator produces dialogue candidates with one structured call per
// (question, slot) task.
type Generator struct {
	client DialogueCaller
	cfg    GeneratorConfig
	logger zerolog.Logger
}

// NewGenerator builds the single-model generation engine.
func NewGenerator(client DialogueCaller, cfg GeneratorConfig) *Generator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Generator{
		client: client,
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "generation").Logger(),
	}
}

type generationSlot struct {
	question    Question
	candidateID int
}

// Generate expands questions into per-slot tasks, runs them with bounded
// parallelism and returns the successful candidates. Failed slots are
// dropped; retries already happened inside the client.
func (g *Generator) Generate(ctx context.Context, questions []Question) []Candidate {
	start := time.Now()
	defer func() { stageDuration.WithLabelValues("generation").Observe(time.Since(start).Seconds()) }()

	slots := make([]generationSlot, 0, len(questions)*g.cfg.Candidates)
	for _, question := range questions {
		for cand := 1; cand <= g.cfg.Candidates; cand++ {
			slots = append(slots, generationSlot{question: question, candidateID: cand})
		}
	}

	g.logger.Info().
		Int("questions", len(questions)).
		Int("candidates_per_question", g.cfg.Candidates).
		Int("num_turns", g.cfg.NumTurns).
		Str("model", g.cfg.Model).
		Msg("starting single-model generation")

	outcomes := RunAll(ctx, g.cfg.Concurrency, slots, func(ctx context.Context, slot generationSlot) (*llm.GenerationOutput, error) {
		return g.client.GenerateDialogue(ctx, llm.Request{
			Model:       g.cfg.Model,
			Prompt:      g.cfg.Prompts.Generation(slot.question.Text, g.cfg.NumTurns),
			Temperature: generationTemperature,
			MaxTokens:   generationMaxTokens,
		})
	})

	candidates := make([]Candidate, 0, len(outcomes))
	for _, outcome := range outcomes {
		slot := outcome.Task
		if outcome.Failed() {
			generationTasks.WithLabelValues(ModeSingle, statusFailed).Inc()
			g.logger.Warn().
				Int("question_id", slot.question.ID).
				Int("candidate_id", slot.candidateID).
				Err(outcome.Err).
				Msg("candidate generation failed")
			continue
		}

		generationTasks.WithLabelValues(ModeSingle, statusSuccess).Inc()
		g.logger.Info().
			Int("question_id", slot.question.ID).
			Int("candidate_id", slot.candidateID).
			Int("dialogue_len", len(outcome.Result.Dialogue)).
			Msg("candidate generated")

		candidates = append(candidates, Candidate{
			QuestionID:  slot.question.ID,
			Question:    slot.question.Text,
			CandidateID: slot.candidateID,
			Mode:        ModeSingle,
			Models:      ModelTags{Generator: g.cfg.Model},
			Output:      *outcome.Result,
		})
	}

	g.logger.Info().
		Int("succeeded", len(candidates)).
		Int("attempted", len(slots)).
		Msg("generation stage complete")
	return candidates
}
