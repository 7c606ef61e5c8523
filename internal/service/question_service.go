package service

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/esc-lab/dialogue-bench/internal/dto"
	"github.com/esc-lab/dialogue-bench/internal/repository"
)

// QuestionService manages the stored counseling question bank.
type QuestionService interface {
	List(ctx context.Context, limit int) ([]dto.QuestionResponse, error)
	Create(ctx context.Context, req dto.QuestionCreateRequest) (dto.QuestionResponse, error)
	Batch(ctx context.Context, req dto.QuestionBatchRequest) ([]dto.QuestionResponse, error)
}

type questionService struct {
	repo      repository.QuestionRepository
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewQuestionService constructs a question bank service.
func NewQuestionService(repo repository.QuestionRepository, validator *validator.Validate, logger zerolog.Logger) QuestionService {
	return &questionService{
		repo:      repo,
		validator: validator,
		logger:    logger.With().Str("component", "question_service").Logger(),
	}
}

func (s *questionService) List(ctx context.Context, limit int) ([]dto.QuestionResponse, error) {
	records, err := s.repo.List(ctx, limit)
	if err != nil {
		return nil, err
	}

	return dto.NewQuestionResponseSlice(records), nil
}

func (s *questionService) Create(ctx context.Context, req dto.QuestionCreateRequest) (dto.QuestionResponse, error) {
	req.Text = strings.TrimSpace(req.Text)
	if err := s.validator.Struct(req); err != nil {
		return dto.QuestionResponse{}, err
	}

	records, err := s.repo.Append(ctx, []string{req.Text})
	if err != nil {
		return dto.QuestionResponse{}, err
	}

	return dto.NewQuestionResponse(records[0]), nil
}

func (s *questionService) Batch(ctx context.Context, req dto.QuestionBatchRequest) ([]dto.QuestionResponse, error) {
	for i, text := range req.Questions {
		req.Questions[i] = strings.TrimSpace(text)
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, err
	}

	var records []dto.QuestionResponse
	if req.Replace {
		replaced, err := s.repo.Replace(ctx, req.Questions)
		if err != nil {
			return nil, err
		}
		records = dto.NewQuestionResponseSlice(replaced)
	} else {
		appended, err := s.repo.Append(ctx, req.Questions)
		if err != nil {
			return nil, err
		}
		records = dto.NewQuestionResponseSlice(appended)
	}

	s.logger.Info().Int("count", len(records)).Bool("replace", req.Replace).Msg("question bank updated")
	return records, nil
}
