package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/esc-lab/dialogue-bench/internal/pipeline"
	"github.com/esc-lab/dialogue-bench/internal/repository"
)

// experimentStore adapts the experiment repository to the pipeline's
// stage persistence interface for one versioned run.
type experimentStore struct {
	repo    repository.ExperimentRepository
	version string
}

func newExperimentStore(repo repository.ExperimentRepository, version string) pipeline.Store {
	return &experimentStore{repo: repo, version: version}
}

func (s *experimentStore) SaveGeneration(ctx context.Context, version string, candidates []pipeline.Candidate) error {
	payload, err := json.Marshal(candidates)
	if err != nil {
		return fmt.Errorf("encode generation output: %w", err)
	}

	return s.repo.UpdateStageOutput(ctx, s.version, repository.StageGeneration, payload)
}

func (s *experimentStore) SaveScores(ctx context.Context, version string, scored []pipeline.ScoredCandidate, stats pipeline.Statistics) error {
	payload, err := json.Marshal(scored)
	if err != nil {
		return fmt.Errorf("encode scoring output: %w", err)
	}
	if err := s.repo.UpdateStageOutput(ctx, s.version, repository.StageScoring, payload); err != nil {
		return err
	}

	statsPayload, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encode statistics: %w", err)
	}

	return s.repo.UpdateStatistics(ctx, s.version, statsPayload)
}

func (s *experimentStore) SaveSelection(ctx context.Context, version string, final []pipeline.ScoredCandidate) error {
	payload, err := json.Marshal(final)
	if err != nil {
		return fmt.Errorf("encode selection output: %w", err)
	}

	return s.repo.UpdateStageOutput(ctx, s.version, repository.StageSelection, payload)
}
