package postgres

import (
	"context"

	"github.com/SAP-F-2025/copy-workflow-service/internal/models"
	"gorm.io/gorm"
)

type AnnotationPostgreSQL struct{ base }

func (a *AnnotationPostgreSQL) Create(ctx context.Context, tx *gorm.DB, annotation *models.Annotation) error {
	return a.conn(ctx, tx).Create(annotation).Error
}

func (a *AnnotationPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id string) (*models.Annotation, error) {
	var annotation models.Annotation
	if err := a.conn(ctx, tx).First(&annotation, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &annotation, nil
}

func (a *AnnotationPostgreSQL) ListByCopy(ctx context.Context, tx *gorm.DB, copyID string) ([]*models.Annotation, error) {
	var annotations []*models.Annotation
	err := a.conn(ctx, tx).
		Where("copy_id = ?", copyID).
		Order("page_index ASC, created_at ASC, id ASC").
		Find(&annotations).Error
	return annotations, err
}

func (a *AnnotationPostgreSQL) UpdateIfVersion(ctx context.Context, tx *gorm.DB, annotation *models.Annotation, expectedVersion int) (bool, error) {
	result := a.conn(ctx, tx).Model(&models.Annotation{}).
		Where("id = ? AND version = ?", annotation.ID, expectedVersion).
		Updates(map[string]interface{}{
			"page_index":  annotation.PageIndex,
			"x":           annotation.X,
			"y":           annotation.Y,
			"w":           annotation.W,
			"h":           annotation.H,
			"type":        annotation.Type,
			"content":     annotation.Content,
			"score_delta": annotation.ScoreDelta,
			"version":     annotation.Version,
			"updated_by":  annotation.UpdatedBy,
			"updated_at":  annotation.UpdatedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (a *AnnotationPostgreSQL) Delete(ctx context.Context, tx *gorm.DB, id string) error {
	return a.conn(ctx, tx).Delete(&models.Annotation{}, "id = ?", id).Error
}

func (a *AnnotationPostgreSQL) DeleteByCopy(ctx context.Context, tx *gorm.DB, copyID string) error {
	return a.conn(ctx, tx).Delete(&models.Annotation{}, "copy_id = ?", copyID).Error
}

func (a *AnnotationPostgreSQL) CountByCopy(ctx context.Context, tx *gorm.DB, copyID string) (int64, error) {
	var count int64
	err := a.conn(ctx, tx).Model(&models.Annotation{}).Where("copy_id = ?", copyID).Count(&count).Error
	return count, err
}

type ScorePostgreSQL struct{ base }

func (s *ScorePostgreSQL) GetScore(ctx context.Context, tx *gorm.DB, copyID, questionID string) (*models.QuestionScore, error) {
	var scores []*models.QuestionScore
	if err := s.conn(ctx, tx).
		Where("copy_id = ? AND question_id = ?", copyID, questionID).
		Limit(1).
		Find(&scores).Error; err != nil {
		return nil, err
	}
	if len(scores) == 0 {
		return nil, nil
	}
	return scores[0], nil
}

func (s *ScorePostgreSQL) SaveScore(ctx context.Context, tx *gorm.DB, score *models.QuestionScore) error {
	return s.conn(ctx, tx).Save(score).Error
}

func (s *ScorePostgreSQL) ListScores(ctx context.Context, tx *gorm.DB, copyID string) ([]*models.QuestionScore, error) {
	var scores []*models.QuestionScore
	err := s.conn(ctx, tx).Where("copy_id = ?", copyID).Order("question_id ASC").Find(&scores).Error
	return scores, err
}

func (s *ScorePostgreSQL) GetRemark(ctx context.Context, tx *gorm.DB, copyID, questionID, authorID string) (*models.QuestionRemark, error) {
	var remarks []*models.QuestionRemark
	if err := s.conn(ctx, tx).
		Where("copy_id = ? AND question_id = ? AND created_by = ?", copyID, questionID, authorID).
		Limit(1).
		Find(&remarks).Error; err != nil {
		return nil, err
	}
	if len(remarks) == 0 {
		return nil, nil
	}
	return remarks[0], nil
}

func (s *ScorePostgreSQL) SaveRemark(ctx context.Context, tx *gorm.DB, remark *models.QuestionRemark) error {
	return s.conn(ctx, tx).Save(remark).Error
}

func (s *ScorePostgreSQL) ListRemarks(ctx context.Context, tx *gorm.DB, copyID string) ([]*models.QuestionRemark, error) {
	var remarks []*models.QuestionRemark
	err := s.conn(ctx, tx).Where("copy_id = ?", copyID).Order("question_id ASC, created_by ASC").Find(&remarks).Error
	return remarks, err
}

func (s *ScorePostgreSQL) DeleteByCopy(ctx context.Context, tx *gorm.DB, copyID string) error {
	db := s.conn(ctx, tx)
	if err := db.Delete(&models.QuestionScore{}, "copy_id = ?", copyID).Error; err != nil {
		return err
	}
	return db.Delete(&models.QuestionRemark{}, "copy_id = ?", copyID).Error
}
