package dto

import (
	"time"

	"github.com/esc-lab/dialogue-bench/internal/models"
)

// QuestionCreateRequest adds a single question to the bank.
type QuestionCreateRequest struct {
	Text string `json:"text" validate:"required,min=3"`
}

// QuestionBatchRequest adds or replaces questions in bulk.
type QuestionBatchRequest struct {
	Questions []string `json:"questions" validate:"required,min=1,dive,required,min=3"`
	Replace   bool     `json:"replace"`
}

// QuestionResponse is returned to API clients when listing questions.
type QuestionResponse struct {
	ID        uint      `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// NewQuestionResponse converts a QuestionRecord model into a DTO.
func NewQuestionResponse(model models.QuestionRecord) QuestionResponse {
	return QuestionResponse{
		ID:        model.ID,
		Text:      model.Text,
		CreatedAt: model.CreatedAt,
	}
}

// NewQuestionResponseSlice converts question records into DTOs.
func NewQuestionResponseSlice(records []models.QuestionRecord) []QuestionResponse {
	responses := make([]QuestionResponse, 0, len(records))
	for _, record := range records {
		responses = append(responses, NewQuestionResponse(record))
	}

	return responses
}
