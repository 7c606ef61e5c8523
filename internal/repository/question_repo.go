package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/esc-lab/dialogue-bench/internal/models"
)

// QuestionRepository manages the stored counseling question bank.
type QuestionRepository interface {
	List(ctx context.Context, limit int) ([]models.QuestionRecord, error)
	Append(ctx context.Context, texts []string) ([]models.QuestionRecord, error)
	Replace(ctx context.Context, texts []string) ([]models.QuestionRecord, error)
}

type questionRepository struct {
	db *gorm.DB
}

// NewQuestionRepository constructs a repository backed by GORM.
func NewQuestionRepository(db *gorm.DB) QuestionRepository {
	return &questionRepository{db: db}
}

func (r *questionRepository) List(ctx context.Context, limit int) ([]models.QuestionRecord, error) {
	query := r.db.WithContext(ctx).Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var records []models.QuestionRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}

	return records, nil
}

func (r *questionRepository) Append(ctx context.Context, texts []string) ([]models.QuestionRecord, error) {
	records := make([]models.QuestionRecord, len(texts))
	for i, text := range texts {
		records[i] = models.QuestionRecord{Text: text}
	}

	if err := r.db.WithContext(ctx).Create(&records).Error; err != nil {
		return nil, err
	}

	return records, nil
}

func (r *questionRepository) Replace(ctx context.Context, texts []string) ([]models.QuestionRecord, error) {
	var records []models.QuestionRecord
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&models.QuestionRecord{}).Error; err != nil {
			return err
		}

		if len(texts) == 0 {
			return nil
		}

		records = make([]models.QuestionRecord, len(texts))
		for i, text := range texts {
			records[i] = models.QuestionRecord{Text: text}
		}

		return tx.Create(&records).Error
	})
	if err != nil {
		return nil, err
	}

	return records, nil
}
