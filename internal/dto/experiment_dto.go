package dto

import (
	"encoding/json"
	"time"

	"github.com/esc-lab/dialogue-bench/internal/models"
)

// RunExperimentRequest starts a pipeline run. Question texts are taken
// from the request when present, otherwise from the stored question bank.
type RunExperimentRequest struct {
	Version string `json:"version" validate:"required,max=128"`

	Mode            string `json:"mode" validate:"omitempty,oneof=single dual"`
	GenerationModel string `json:"generation_model"`
	UserModel       string `json:"user_model"`
	AgentModel      string `json:"agent_model"`

	Questions     []string `json:"questions" validate:"omitempty,min=1,dive,required"`
	QuestionLimit int      `json:"question_limit" validate:"gte=0"`

	Candidates     int `json:"candidates" validate:"gte=0"`
	NumTurns       int `json:"num_turns" validate:"gte=0"`
	DialogueRounds int `json:"dialogue_rounds" validate:"gte=0"`

	ScoringModel string `json:"scoring_model"`
	ScoringMode  string `json:"scoring_mode" validate:"omitempty,oneof=per_turn overall"`
	ScoreRounds  int    `json:"score_rounds" validate:"gte=0"`
	ScoringTopK  int    `json:"scoring_top_k" validate:"gte=0"`

	TopK        int `json:"top_k" validate:"gte=0"`
	Concurrency int `json:"concurrency" validate:"gte=0"`

	GenerationPrompt string `json:"generation_prompt"`
	ScoringPrompt    string `json:"scoring_prompt"`
}

// RunExperimentResponse acknowledges an accepted run.
type RunExperimentResponse struct {
	Version string `json:"version"`
	Status  string `json:"status"`
}

// ExperimentSummary lists one experiment without its stage payloads.
type ExperimentSummary struct {
	Version    string     `json:"version"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// ExperimentStatusResponse reports the lifecycle state of one run.
type ExperimentStatusResponse struct {
	Version    string     `json:"version"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// ExperimentResultsResponse carries the scored and selected candidates
// of a completed run.
type ExperimentResultsResponse struct {
	Version    string          `json:"version"`
	Status     string          `json:"status"`
	Scored     json.RawMessage `json:"scored,omitempty"`
	Final      json.RawMessage `json:"final,omitempty"`
	Statistics json.RawMessage `json:"statistics,omitempty"`
}

// ModelCatalogResponse lists the configured models and supported modes.
type ModelCatalogResponse struct {
	GenerationModel string   `json:"generation_model"`
	UserModel       string   `json:"user_model,omitempty"`
	AgentModel      string   `json:"agent_model,omitempty"`
	ScoringModel    string   `json:"scoring_model"`
	DialogueModes   []string `json:"dialogue_modes"`
	ScoringModes    []string `json:"scoring_modes"`
}

// NewExperimentSummary converts an Experiment model into a list entry.
func NewExperimentSummary(model models.Experiment) ExperimentSummary {
	return ExperimentSummary{
		Version:    model.Version,
		Status:     model.Status,
		CreatedAt:  model.CreatedAt,
		FinishedAt: model.FinishedAt,
	}
}

// NewExperimentSummarySlice converts experiment models into list entries.
func NewExperimentSummarySlice(items []models.Experiment) []ExperimentSummary {
	summaries := make([]ExperimentSummary, 0, len(items))
	for _, item := range items {
		summaries = append(summaries, NewExperimentSummary(item))
	}

	return summaries
}

// NewExperimentStatusResponse converts an Experiment model into a status DTO.
func NewExperimentStatusResponse(model models.Experiment) ExperimentStatusResponse {
	return ExperimentStatusResponse{
		Version:    model.Version,
		Status:     model.Status,
		Error:      model.Error,
		CreatedAt:  model.CreatedAt,
		UpdatedAt:  model.UpdatedAt,
		FinishedAt: model.FinishedAt,
	}
}

// NewExperimentResultsResponse converts an Experiment model into a results DTO.
func NewExperimentResultsResponse(model models.Experiment) ExperimentResultsResponse {
	return ExperimentResultsResponse{
		Version:    model.Version,
		Status:     model.Status,
		Scored:     json.RawMessage(model.ScoringOutput),
		Final:      json.RawMessage(model.SelectionOutput),
		Statistics: json.RawMessage(model.Statistics),
	}
}
