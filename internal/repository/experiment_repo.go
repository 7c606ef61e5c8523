package repository

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/esc-lab/dialogue-bench/internal/models"
)

// StageOutput names an experiment column holding one pipeline stage's
// serialized results.
type StageOutput string

// Stage output columns.
const (
	StageGeneration StageOutput = "generation_output"
	StageScoring    StageOutput = "scoring_output"
	StageSelection  StageOutput = "selection_output"
)

// ExperimentRepository persists experiment runs and their stage outputs.
type ExperimentRepository interface {
	Create(ctx context.Context, experiment *models.Experiment) error
	GetByVersion(ctx context.Context, version string) (*models.Experiment, error)
	ListVersions(ctx context.Context) ([]models.Experiment, error)
	UpdateStatus(ctx context.Context, version, status, runError string) error
	UpdateStageOutput(ctx context.Context, version string, stage StageOutput, payload []byte) error
	UpdateStatistics(ctx context.Context, version string, payload []byte) error
}

type experimentRepository struct {
	db *gorm.DB
}

// NewExperimentRepository constructs a repository backed by GORM.
func NewExperimentRepository(db *gorm.DB) ExperimentRepository {
	return &experimentRepository{db: db}
}

func (r *experimentRepository) Create(ctx context.Context, experiment *models.Experiment) error {
	return r.db.WithContext(ctx).Create(experiment).Error
}

func (r *experimentRepository) GetByVersion(ctx context.Context, version string) (*models.Experiment, error) {
	var experiment models.Experiment
	err := r.db.WithContext(ctx).
		Where("version = ?", version).
		First(&experiment).
		Error
	if err != nil {
		return nil, err
	}

	return &experiment, nil
}

func (r *experimentRepository) ListVersions(ctx context.Context) ([]models.Experiment, error) {
	var experiments []models.Experiment
	err := r.db.WithContext(ctx).
		Select("id", "version", "status", "created_at", "updated_at", "finished_at").
		Order("created_at DESC").
		Find(&experiments).
		Error
	if err != nil {
		return nil, err
	}

	return experiments, nil
}

func (r *experimentRepository) UpdateStatus(ctx context.Context, version, status, runError string) error {
	updates := map[string]interface{}{"status": status, "error": runError}
	if status == models.StatusCompleted || status == models.StatusFailed {
		now := time.Now()
		updates["finished_at"] = &now
	}

	return r.db.WithContext(ctx).
		Model(&models.Experiment{}).
		Where("version = ?", version).
		Updates(updates).
		Error
}

func (r *experimentRepository) UpdateStageOutput(ctx context.Context, version string, stage StageOutput, payload []byte) error {
	return r.db.WithContext(ctx).
		Model(&models.Experiment{}).
		Where("version = ?", version).
		Update(string(stage), datatypes.JSON(payload)).
		Error
}

func (r *experimentRepository) UpdateStatistics(ctx context.Context, version string, payload []byte) error {
	return r.db.WithContext(ctx).
		Model(&models.Experiment{}).
		Where("version = ?", version).
		Update("statistics", datatypes.JSON(payload)).
		Error
}
