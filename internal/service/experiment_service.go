package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/esc-lab/dialogue-bench/internal/dto"
	"github.com/esc-lab/dialogue-bench/internal/models"
	"github.com/esc-lab/dialogue-bench/internal/observability"
	"github.com/esc-lab/dialogue-bench/internal/pipeline"
	"github.com/esc-lab/dialogue-bench/internal/repository"
)

var (
	// ErrExperimentNotFound indicates no experiment exists for a version.
	ErrExperimentNotFound = errors.New("experiment not found")
	// ErrVersionTaken indicates a run with the same version already exists.
	ErrVersionTaken = errors.New("experiment version already exists")
	// ErrNoQuestions indicates neither the request nor the question bank
	// supplied any questions.
	ErrNoQuestions = errors.New("no questions available for this run")
)

const versionsCacheKey = "experiments:versions"

// RunDefaults fills request fields the caller left unset.
type RunDefaults struct {
	GenerationModel string
	UserModel       string
	AgentModel      string
	ScoringModel    string
	Candidates      int
	NumTurns        int
	ScoreRounds     int
	TopK            int
	Concurrency     int
}

// ExperimentService drives versioned pipeline runs and exposes their
// stored results.
type ExperimentService interface {
	Run(ctx context.Context, req dto.RunExperimentRequest) (dto.RunExperimentResponse, error)
	ListVersions(ctx context.Context) ([]dto.ExperimentSummary, error)
	Status(ctx context.Context, version string) (dto.ExperimentStatusResponse, error)
	Results(ctx context.Context, version string) (dto.ExperimentResultsResponse, error)
	Models() dto.ModelCatalogResponse
	Wait()
}

type experimentService struct {
	client    pipeline.CompletionClient
	repo      repository.ExperimentRepository
	questions repository.QuestionRepository
	cache     *redis.Client
	cacheTTL  time.Duration
	defaults  RunDefaults
	validator *validator.Validate
	logger    zerolog.Logger
	tracer    trace.Tracer
	running   sync.WaitGroup
}

// NewExperimentService constructs the experiment run orchestrator.
func NewExperimentService(client pipeline.CompletionClient, repo repository.ExperimentRepository, questions repository.QuestionRepository, cache *redis.Client, cacheTTL time.Duration, defaults RunDefaults, validator *validator.Validate, logger zerolog.Logger) ExperimentService {
	return &experimentService{
		client:    client,
		repo:      repo,
		questions: questions,
		cache:     cache,
		cacheTTL:  cacheTTL,
		defaults:  defaults,
		validator: validator,
		logger:    logger.With().Str("component", "experiment_service").Logger(),
		tracer:    otel.Tracer("github.com/esc-lab/dialogue-bench/internal/service/experiment"),
	}
}

func (s *experimentService) Run(ctx context.Context, req dto.RunExperimentRequest) (dto.RunExperimentResponse, error) {
	ctx, span := s.tracer.Start(ctx, "experiment.run")
	defer span.End()
	span.SetAttributes(attribute.String("experiment.version", req.Version))

	if err := s.validator.Struct(req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		return dto.RunExperimentResponse{}, err
	}

	texts, err := s.resolveQuestions(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "question resolution failed")
		return dto.RunExperimentResponse{}, err
	}

	params := s.buildParams(req)
	if err := s.validator.Struct(params); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid run parameters")
		return dto.RunExperimentResponse{}, err
	}

	experiment, err := s.createRecord(ctx, params, texts)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, ErrVersionTaken) {
			span.SetStatus(codes.Error, "duplicate version")
		}
		return dto.RunExperimentResponse{}, err
	}

	s.invalidateVersionsCache(ctx)

	s.running.Add(1)
	go s.execute(params, texts)

	s.logger.Info().
		Str("version", params.Version).
		Str("mode", params.Mode).
		Int("questions", len(texts)).
		Msg("experiment run accepted")

	return dto.RunExperimentResponse{Version: experiment.Version, Status: experiment.Status}, nil
}

func (s *experimentService) ListVersions(ctx context.Context) ([]dto.ExperimentSummary, error) {
	ctx, span := s.tracer.Start(ctx, "experiment.list_versions")
	defer span.End()

	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, versionsCacheKey).Result(); err == nil {
			var summaries []dto.ExperimentSummary
			if unmarshalErr := json.Unmarshal([]byte(cached), &summaries); unmarshalErr == nil {
				s.logger.Debug().Msg("versions cache hit")
				return summaries, nil
			}
		} else if err != redis.Nil {
			s.logger.Warn().Err(err).Msg("failed to read versions cache")
		}
	}

	experiments, err := s.repo.ListVersions(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	summaries := dto.NewExperimentSummarySlice(experiments)

	if s.cache != nil {
		if payload, err := json.Marshal(summaries); err == nil {
			if err := s.cache.Set(ctx, versionsCacheKey, payload, s.cacheTTL).Err(); err != nil {
				s.logger.Warn().Err(err).Msg("failed to store versions cache")
			}
		}
	}

	return summaries, nil
}

func (s *experimentService) Status(ctx context.Context, version string) (dto.ExperimentStatusResponse, error) {
	experiment, err := s.getByVersion(ctx, version)
	if err != nil {
		return dto.ExperimentStatusResponse{}, err
	}

	return dto.NewExperimentStatusResponse(*experiment), nil
}

func (s *experimentService) Results(ctx context.Context, version string) (dto.ExperimentResultsResponse, error) {
	experiment, err := s.getByVersion(ctx, version)
	if err != nil {
		return dto.ExperimentResultsResponse{}, err
	}

	return dto.NewExperimentResultsResponse(*experiment), nil
}

func (s *experimentService) Models() dto.ModelCatalogResponse {
	return dto.ModelCatalogResponse{
		GenerationModel: s.defaults.GenerationModel,
		UserModel:       s.defaults.UserModel,
		AgentModel:      s.defaults.AgentModel,
		ScoringModel:    s.defaults.ScoringModel,
		DialogueModes:   []string{pipeline.ModeSingle, pipeline.ModeDual},
		ScoringModes:    []string{pipeline.ScoringPerTurn, pipeline.ScoringOverall},
	}
}

// Wait blocks until all background runs have settled.
func (s *experimentService) Wait() {
	s.running.Wait()
}

func (s *experimentService) resolveQuestions(ctx context.Context, req dto.RunExperimentRequest) ([]string, error) {
	if len(req.Questions) > 0 {
		texts := req.Questions
		if req.QuestionLimit > 0 && len(texts) > req.QuestionLimit {
			texts = texts[:req.QuestionLimit]
		}
		return texts, nil
	}

	records, err := s.questions.List(ctx, req.QuestionLimit)
	if err != nil {
		return nil, fmt.Errorf("load question bank: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrNoQuestions
	}

	texts := make([]string, len(records))
	for i, record := range records {
		texts[i] = record.Text
	}

	return texts, nil
}

func (s *experimentService) buildParams(req dto.RunExperimentRequest) pipeline.RunParams {
	params := pipeline.RunParams{
		Version:          req.Version,
		Mode:             req.Mode,
		GenerationModel:  req.GenerationModel,
		UserModel:        req.UserModel,
		AgentModel:       req.AgentModel,
		Candidates:       req.Candidates,
		NumTurns:         req.NumTurns,
		DialogueRounds:   req.DialogueRounds,
		ScoringModel:     req.ScoringModel,
		ScoringMode:      req.ScoringMode,
		ScoreRounds:      req.ScoreRounds,
		ScoringTopK:      req.ScoringTopK,
		TopK:             req.TopK,
		Concurrency:      req.Concurrency,
		GenerationPrompt: req.GenerationPrompt,
		ScoringPrompt:    req.ScoringPrompt,
	}

	if params.Mode == "" {
		params.Mode = pipeline.ModeSingle
	}
	if params.GenerationModel == "" {
		params.GenerationModel = s.defaults.GenerationModel
	}
	if params.UserModel == "" {
		params.UserModel = s.defaults.UserModel
	}
	if params.AgentModel == "" {
		params.AgentModel = s.defaults.AgentModel
	}
	if params.ScoringModel == "" {
		params.ScoringModel = s.defaults.ScoringModel
	}
	if params.ScoringMode == "" {
		params.ScoringMode = pipeline.ScoringPerTurn
	}
	if params.Candidates <= 0 {
		params.Candidates = s.defaults.Candidates
	}
	if params.NumTurns <= 0 {
		params.NumTurns = s.defaults.NumTurns
	}
	if params.DialogueRounds <= 0 {
		params.DialogueRounds = params.NumTurns
	}
	if params.ScoreRounds <= 0 {
		params.ScoreRounds = s.defaults.ScoreRounds
	}
	if params.TopK <= 0 {
		params.TopK = s.defaults.TopK
	}
	if params.Concurrency <= 0 {
		params.Concurrency = s.defaults.Concurrency
	}

	return params
}

func (s *experimentService) createRecord(ctx context.Context, params pipeline.RunParams, texts []string) (*models.Experiment, error) {
	config, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode run config: %w", err)
	}

	questionsPayload, err := json.Marshal(texts)
	if err != nil {
		return nil, fmt.Errorf("encode questions: %w", err)
	}

	prompts, err := json.Marshal(map[string]string{
		"generation": params.GenerationPrompt,
		"scoring":    params.ScoringPrompt,
	})
	if err != nil {
		return nil, fmt.Errorf("encode prompts: %w", err)
	}

	experiment := models.Experiment{
		Version:   params.Version,
		Status:    models.StatusPending,
		Config:    config,
		Questions: questionsPayload,
		Prompts:   prompts,
	}

	if err := s.repo.Create(ctx, &experiment); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrVersionTaken
		}
		if _, getErr := s.repo.GetByVersion(ctx, params.Version); getErr == nil {
			return nil, ErrVersionTaken
		}
		return nil, fmt.Errorf("create experiment record: %w", err)
	}

	return &experiment, nil
}

// execute runs the pipeline detached from the originating request.
func (s *experimentService) execute(params pipeline.RunParams, texts []string) {
	defer s.running.Done()

	ctx := context.Background()
	logger := s.logger.With().Str("version", params.Version).Logger()

	if err := s.repo.UpdateStatus(ctx, params.Version, models.StatusRunning, ""); err != nil {
		logger.Error().Err(err).Msg("failed to mark experiment running")
	}

	runner := pipeline.NewRunner(s.client, newExperimentStore(s.repo, params.Version), s.validator, logger)
	_, err := runner.Run(ctx, texts, params)

	status := models.StatusCompleted
	runError := ""
	if err != nil {
		status = models.StatusFailed
		runError = err.Error()
		logger.Error().Err(err).Msg("experiment run failed")
	}

	if err := s.repo.UpdateStatus(ctx, params.Version, status, runError); err != nil {
		logger.Error().Err(err).Msg("failed to record final experiment status")
	}
	observability.ExperimentRuns().WithLabelValues(status).Inc()

	s.invalidateVersionsCache(ctx)
}

func (s *experimentService) getByVersion(ctx context.Context, version string) (*models.Experiment, error) {
	experiment, err := s.repo.GetByVersion(ctx, version)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrExperimentNotFound
		}
		return nil, err
	}

	return experiment, nil
}

func (s *experimentService) invalidateVersionsCache(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, versionsCacheKey).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to invalidate versions cache")
	}
}
