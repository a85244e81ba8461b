package repositories

import (
	"context"

	"github.com/SAP-F-2025/copy-workflow-service/internal/models"
	"gorm.io/gorm"
)

type AnnotationRepository interface {
	Create(ctx context.Context, tx *gorm.DB, annotation *models.Annotation) error
	GetByID(ctx context.Context, tx *gorm.DB, id string) (*models.Annotation, error)
	ListByCopy(ctx context.Context, tx *gorm.DB, copyID string) ([]*models.Annotation, error)
	// UpdateIfVersion writes annotation only if the stored version still
	// equals expectedVersion and reports whether a row changed.
	UpdateIfVersion(ctx context.Context, tx *gorm.DB, annotation *models.Annotation, expectedVersion int) (bool, error)
	Delete(ctx context.Context, tx *gorm.DB, id string) error
	DeleteByCopy(ctx context.Context, tx *gorm.DB, copyID string) error
	CountByCopy(ctx context.Context, tx *gorm.DB, copyID string) (int64, error)
}

type ScoreRepository interface {
	GetScore(ctx context.Context, tx *gorm.DB, copyID, questionID string) (*models.QuestionScore, error)
	SaveScore(ctx context.Context, tx *gorm.DB, score *models.QuestionScore) error
	ListScores(ctx context.Context, tx *gorm.DB, copyID string) ([]*models.QuestionScore, error)
	GetRemark(ctx context.Context, tx *gorm.DB, copyID, questionID, authorID string) (*models.QuestionRemark, error)
	SaveRemark(ctx context.Context, tx *gorm.DB, remark *models.QuestionRemark) error
	ListRemarks(ctx context.Context, tx *gorm.DB, copyID string) ([]*models.QuestionRemark, error)
	DeleteByCopy(ctx context.Context, tx *gorm.DB, copyID string) error
}
