package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// CompletionClient bundles the call surfaces the pipeline needs from the
// model client.
type CompletionClient interface {
	DialogueCaller
	TextCaller
	ScoreCaller
}

// Store receives pipeline results at stage boundaries. The pipeline has
// no opinion on how or where they are kept.
type Store interface {
	SaveGeneration(ctx context.Context, version string, candidates []Candidate) error
	SaveScores(ctx context.Context, version string, scored []ScoredCandidate, stats Statistics) error
	SaveSelection(ctx context.Context, version string, final []ScoredCandidate) error
}

// RunParams is the full configuration surface of one pipeline run.
type RunParams struct {
	Version string `validate:"required"`

	Mode            string `validate:"oneof=single dual"`
	GenerationModel string `validate:"required_if=Mode single"`
	UserModel       string `validate:"required_if=Mode dual"`
	AgentModel      string `validate:"required_if=Mode dual"`
	Candidates      int    `validate:"gte=1"`
	NumTurns        int    `validate:"gte=1"`
	DialogueRounds  int    `validate:"gte=1"`

	ScoringModel string `validate:"required"`
	ScoringMode  string `validate:"oneof=per_turn overall"`
	ScoreRounds  int    `validate:"gte=1"`
	ScoringTopK  int    `validate:"gte=0"`

	TopK        int `validate:"gte=1"`
	Concurrency int `validate:"gte=0"`

	GenerationPrompt string
	ScoringPrompt    string
}

// RunResult is everything one run produced.
type RunResult struct {
	Questions  []Question
	Candidates []Candidate
	Scored     []ScoredCandidate
	Statistics Statistics
	Final      []ScoredCandidate
}

// Runner drives the three pipeline stages with hard barriers between
// them: generation completes fully before scoring starts, scoring before
// selection.
type Runner struct {
	client   CompletionClient
	store    Store
	validate *validator.Validate
	logger   zerolog.Logger
}

// NewRunner builds a pipeline runner. store may be nil when results are
// consumed directly from the returned RunResult.
func NewRunner(client CompletionClient, store Store, validate *validator.Validate, logger zerolog.Logger) *Runner {
	return &Runner{
		client:   client,
		store:    store,
		validate: validate,
		logger:   logger.With().Str("component", "runner").Logger(),
	}
}

// Run executes the full pipeline for the given questions. Parameter and
// input validation fails fast, before any concurrent work is scheduled;
// after that, individual task failures only shrink the result set.
func (r *Runner) Run(ctx context.Context, questionTexts []string, params RunParams) (RunResult, error) {
	if err := r.validate.Struct(params); err != nil {
		return RunResult{}, fmt.Errorf("invalid run parameters: %w", err)
	}
	if len(questionTexts) == 0 {
		return RunResult{}, fmt.Errorf("question source is empty")
	}
	for i, text := range questionTexts {
		if text == "" {
			return RunResult{}, fmt.Errorf("question %d is empty", i+1)
		}
	}

	questions := make([]Question, len(questionTexts))
	for i, text := range questionTexts {
		questions[i] = Question{ID: i + 1, Text: text}
	}

	start := time.Now()
	logger := r.logger.With().Str("version", params.Version).Logger()
	logger.Info().
		Int("questions", len(questions)).
		Str("mode", params.Mode).
		Str("scoring_mode", params.ScoringMode).
		Int("candidates", params.Candidates).
		Int("score_rounds", params.ScoreRounds).
		Int("top_k", params.TopK).
		Msg("starting experiment run")

	prompts := PromptSet{
		GenerationTemplate: params.GenerationPrompt,
		ScoringTemplate:    params.ScoringPrompt,
	}

	// Stage 1: generation.
	var candidates []Candidate
	if params.Mode == ModeDual {
		generator := NewDualGenerator(r.client, DualConfig{
			UserModel:   params.UserModel,
			AgentModel:  params.AgentModel,
			Rounds:      params.DialogueRounds,
			Candidates:  params.Candidates,
			Concurrency: params.Concurrency,
			Prompts:     prompts,
			Logger:      logger,
		})
		candidates = generator.Generate(ctx, questions)
	} else {
		generator := NewGenerator(r.client, GeneratorConfig{
			Model:       params.GenerationModel,
			NumTurns:    params.NumTurns,
			Candidates:  params.Candidates,
			Concurrency: params.Concurrency,
			Prompts:     prompts,
			Logger:      logger,
		})
		candidates = generator.Generate(ctx, questions)
	}

	if r.store != nil {
		if err := r.store.SaveGeneration(ctx, params.Version, candidates); err != nil {
			return RunResult{}, fmt.Errorf("persist generation results: %w", err)
		}
	}

	// Stage 2: scoring. Starts only after every generation task settled.
	scorer := NewScorer(r.client, ScorerConfig{
		Model:           params.ScoringModel,
		Mode:            params.ScoringMode,
		Rounds:          params.ScoreRounds,
		TopKPerQuestion: params.ScoringTopK,
		Concurrency:     params.Concurrency,
		Prompts:         prompts,
		Logger:          logger,
	})
	scored := scorer.Score(ctx, candidates)
	stats := Summarize(scored)

	if r.store != nil {
		if err := r.store.SaveScores(ctx, params.Version, scored, stats); err != nil {
			return RunResult{}, fmt.Errorf("persist scoring results: %w", err)
		}
	}

	// Stage 3: final global selection.
	final := SelectTopK(scored, params.TopK)

	if r.store != nil {
		if err := r.store.SaveSelection(ctx, params.Version, final); err != nil {
			return RunResult{}, fmt.Errorf("persist final selection: %w", err)
		}
	}

	logger.Info().
		Int("candidates", len(candidates)).
		Int("scored", len(scored)).
		Int("final", len(final)).
		Dur("elapsed", time.Since(start)).
		Msg("experiment run complete")

	return RunResult{
		Questions:  questions,
		Candidates: candidates,
		Scored:     scored,
		Statistics: stats,
		Final:      final,
	}, nil
}
