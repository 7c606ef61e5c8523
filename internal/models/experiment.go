package models

import (
	"time"

	"gorm.io/datatypes"
)

// Experiment lifecycle states.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Experiment is one versioned pipeline run with its inputs, per-stage
// outputs and aggregate statistics.
type Experiment struct {
	ID      uint   `gorm:"primaryKey" json:"id"`
	Version string `gorm:"size:128;uniqueIndex;not null" json:"version"`
	Status  string `gorm:"size:16;not null;default:pending" json:"status"`

	Config    datatypes.JSON `json:"config"`
	Questions datatypes.JSON `json:"questions"`
	Prompts   datatypes.JSON `json:"prompts"`

	GenerationOutput datatypes.JSON `json:"generation_output"`
	ScoringOutput    datatypes.JSON `json:"scoring_output"`
	SelectionOutput  datatypes.JSON `json:"selection_output"`
	Statistics       datatypes.JSON `json:"statistics"`

	Error string `gorm:"type:text" json:"error,omitempty"`

	GitBranch string `gorm:"size:128" json:"git_branch,omitempty"`
	GitCommit string `gorm:"size:64" json:"git_commit,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// QuestionRecord is one stored counseling question, ordered by position.
type QuestionRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Text      string    `gorm:"type:text;not null" json:"text"`
	CreatedAt time.Time `json:"created_at"`
}
