package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/esc-lab/dialogue-bench/internal/dto"
	"github.com/esc-lab/dialogue-bench/internal/models"
	"github.com/esc-lab/dialogue-bench/internal/pipeline"
	"github.com/esc-lab/dialogue-bench/internal/repository"
	"github.com/esc-lab/dialogue-bench/pkg/llm"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

// experimentRepoStub keeps experiments in memory, keyed by version.
type experimentRepoStub struct {
	mu      sync.Mutex
	items   map[string]*models.Experiment
	history []string
}

func newExperimentRepoStub() *experimentRepoStub {
	return &experimentRepoStub{items: map[string]*models.Experiment{}}
}

func (r *experimentRepoStub) Create(ctx context.Context, experiment *models.Experiment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[experiment.Version]; exists {
		return gorm.ErrDuplicatedKey
	}
	experiment.ID = uint(len(r.items) + 1)
	experiment.CreatedAt = time.Now()
	copied := *experiment
	r.items[experiment.Version] = &copied
	return nil
}

func (r *experimentRepoStub) GetByVersion(ctx context.Context, version string) (*models.Experiment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	experiment, ok := r.items[version]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *experiment
	return &copied, nil
}

func (r *experimentRepoStub) ListVersions(ctx context.Context) ([]models.Experiment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Experiment, 0, len(r.items))
	for _, experiment := range r.items {
		out = append(out, *experiment)
	}
	return out, nil
}

func (r *experimentRepoStub) UpdateStatus(ctx context.Context, version, status, runError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if experiment, ok := r.items[version]; ok {
		experiment.Status = status
		experiment.Error = runError
		r.history = append(r.history, status)
	}
	return nil
}

func (r *experimentRepoStub) UpdateStageOutput(ctx context.Context, version string, stage repository.StageOutput, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	experiment, ok := r.items[version]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	switch stage {
	case repository.StageGeneration:
		experiment.GenerationOutput = payload
	case repository.StageScoring:
		experiment.ScoringOutput = payload
	case repository.StageSelection:
		experiment.SelectionOutput = payload
	}
	return nil
}

func (r *experimentRepoStub) UpdateStatistics(ctx context.Context, version string, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if experiment, ok := r.items[version]; ok {
		experiment.Statistics = payload
	}
	return nil
}

// scriptedClient answers every pipeline call with fixed content.
type scriptedClient struct{}

func (scriptedClient) GenerateDialogue(ctx context.Context, req llm.Request) (*llm.GenerationOutput, error) {
	return &llm.GenerationOutput{
		Question: "scripted",
		CoT:      "scripted plan",
		Dialogue: []llm.DialogueTurn{
			{Role: llm.RoleUser, Content: "I feel anxious"},
			{Role: llm.RoleAssistant, Content: "Tell me more"},
		},
	}, nil
}

func (scriptedClient) Complete(ctx context.Context, req llm.Request) (string, error) {
	return "scripted reply", nil
}

func (scriptedClient) ScoreDialogue(ctx context.Context, req llm.Request) (*llm.EvaluationOutput, error) {
	return &llm.EvaluationOutput{Empathy: 7, Supportiveness: 7, Guidance: 7, Safety: 7}, nil
}

func testDefaults() RunDefaults {
	return RunDefaults{
		GenerationModel: "gen-model",
		UserModel:       "user-model",
		AgentModel:      "agent-model",
		ScoringModel:    "judge",
		Candidates:      1,
		NumTurns:        2,
		ScoreRounds:     1,
		TopK:            1,
		Concurrency:     4,
	}
}

func newTestService(repo repository.ExperimentRepository, questions repository.QuestionRepository, cache *redis.Client) ExperimentService {
	return NewExperimentService(scriptedClient{}, repo, questions, cache, time.Minute, testDefaults(),
		validator.New(validator.WithRequiredStructEnabled()), testLogger())
}

type questionRepoStub struct {
	records []models.QuestionRecord
}

func (q *questionRepoStub) List(ctx context.Context, limit int) ([]models.QuestionRecord, error) {
	if limit > 0 && limit < len(q.records) {
		return q.records[:limit], nil
	}
	return q.records, nil
}

func (q *questionRepoStub) Append(ctx context.Context, texts []string) ([]models.QuestionRecord, error) {
	start := len(q.records)
	for i, text := range texts {
		q.records = append(q.records, models.QuestionRecord{ID: uint(start + i + 1), Text: text})
	}
	return q.records[start:], nil
}

func (q *questionRepoStub) Replace(ctx context.Context, texts []string) ([]models.QuestionRecord, error) {
	q.records = nil
	return q.Append(ctx, texts)
}

func TestExperimentServiceRunCompletesAndPersistsStages(t *testing.T) {
	repo := newExperimentRepoStub()
	svc := newTestService(repo, &questionRepoStub{}, nil)

	resp, err := svc.Run(context.Background(), dto.RunExperimentRequest{
		Version:   "v1",
		Questions: []string{"I feel anxious"},
	})
	require.NoError(t, err)
	require.Equal(t, "v1", resp.Version)
	require.Equal(t, models.StatusPending, resp.Status)

	svc.Wait()

	stored, err := repo.GetByVersion(context.Background(), "v1")
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, stored.Status)
	require.NotEmpty(t, stored.GenerationOutput)
	require.NotEmpty(t, stored.ScoringOutput)
	require.NotEmpty(t, stored.SelectionOutput)
	require.NotEmpty(t, stored.Statistics)
	require.Equal(t, []string{models.StatusRunning, models.StatusCompleted}, repo.history)

	var scored []pipeline.ScoredCandidate
	require.NoError(t, json.Unmarshal(stored.ScoringOutput, &scored))
	require.Len(t, scored, 1)
	require.InDelta(t, 28.0, scored[0].Total, 1e-9)
}

func TestExperimentServiceRejectsDuplicateVersion(t *testing.T) {
	repo := newExperimentRepoStub()
	svc := newTestService(repo, &questionRepoStub{}, nil)

	_, err := svc.Run(context.Background(), dto.RunExperimentRequest{Version: "v1", Questions: []string{"q"}})
	require.NoError(t, err)
	svc.Wait()

	_, err = svc.Run(context.Background(), dto.RunExperimentRequest{Version: "v1", Questions: []string{"q"}})
	require.ErrorIs(t, err, ErrVersionTaken)
}

func TestExperimentServiceFallsBackToQuestionBank(t *testing.T) {
	repo := newExperimentRepoStub()
	bank := &questionRepoStub{records: []models.QuestionRecord{{ID: 1, Text: "I feel lonely"}, {ID: 2, Text: "I feel stuck"}}}
	svc := newTestService(repo, bank, nil)

	_, err := svc.Run(context.Background(), dto.RunExperimentRequest{Version: "v1", QuestionLimit: 1})
	require.NoError(t, err)
	svc.Wait()

	stored, err := repo.GetByVersion(context.Background(), "v1")
	require.NoError(t, err)

	var texts []string
	require.NoError(t, json.Unmarshal(stored.Questions, &texts))
	require.Equal(t, []string{"I feel lonely"}, texts)
}

func TestExperimentServiceRejectsEmptyQuestionBank(t *testing.T) {
	svc := newTestService(newExperimentRepoStub(), &questionRepoStub{}, nil)

	_, err := svc.Run(context.Background(), dto.RunExperimentRequest{Version: "v1"})
	require.ErrorIs(t, err, ErrNoQuestions)
}

func TestExperimentServiceVersionsCaching(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer redisClient.Close()

	repo := newExperimentRepoStub()
	require.NoError(t, repo.Create(context.Background(), &models.Experiment{Version: "v1", Status: models.StatusCompleted}))

	svc := newTestService(repo, &questionRepoStub{}, redisClient)

	first, err := svc.ListVersions(context.Background())
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.True(t, server.Exists(versionsCacheKey))

	// Served from cache even after the backing row disappears.
	delete(repo.items, "v1")
	cached, err := svc.ListVersions(context.Background())
	require.NoError(t, err)
	require.Len(t, cached, 1)

	// Starting a run invalidates the listing.
	_, err = svc.Run(context.Background(), dto.RunExperimentRequest{Version: "v2", Questions: []string{"q"}})
	require.NoError(t, err)
	require.False(t, server.Exists(versionsCacheKey))
	svc.Wait()
}

func TestExperimentServiceStatusAndResults(t *testing.T) {
	repo := newExperimentRepoStub()
	svc := newTestService(repo, &questionRepoStub{}, nil)

	_, err := svc.Status(context.Background(), "missing")
	require.ErrorIs(t, err, ErrExperimentNotFound)

	_, err = svc.Run(context.Background(), dto.RunExperimentRequest{Version: "v1", Questions: []string{"I feel anxious"}})
	require.NoError(t, err)
	svc.Wait()

	status, err := svc.Status(context.Background(), "v1")
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, status.Status)

	results, err := svc.Results(context.Background(), "v1")
	require.NoError(t, err)
	require.NotEmpty(t, results.Scored)
	require.NotEmpty(t, results.Final)
	require.NotEmpty(t, results.Statistics)
}

func TestExperimentServiceModelsCatalog(t *testing.T) {
	svc := newTestService(newExperimentRepoStub(), &questionRepoStub{}, nil)

	catalog := svc.Models()
	require.Equal(t, "gen-model", catalog.GenerationModel)
	require.Equal(t, "judge", catalog.ScoringModel)
	require.Equal(t, []string{pipeline.ModeSingle, pipeline.ModeDual}, catalog.DialogueModes)
	require.Equal(t, []string{pipeline.ScoringPerTurn, pipeline.ScoringOverall}, catalog.ScoringModes)
}
