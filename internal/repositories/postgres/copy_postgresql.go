package postgres

import (
	"context"
	"time"

	"github.com/SAP-F-2025/copy-workflow-service/internal/models"
	"github.com/SAP-F-2025/copy-workflow-service/internal/repositories"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ExamPostgreSQL struct{ base }

func (e *ExamPostgreSQL) Create(ctx context.Context, tx *gorm.DB, exam *models.Exam) error {
	return e.conn(ctx, tx).Create(exam).Error
}

func (e *ExamPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id string) (*models.Exam, error) {
	var exam models.Exam
	if err := e.conn(ctx, tx).First(&exam, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &exam, nil
}

type CopyPostgreSQL struct{ base }

func (c *CopyPostgreSQL) Create(ctx context.Context, tx *gorm.DB, cp *models.Copy) error {
	return c.conn(ctx, tx).Create(cp).Error
}

func (c *CopyPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id string) (*models.Copy, error) {
	var cp models.Copy
	if err := c.conn(ctx, tx).First(&cp, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &cp, nil
}

// LockByID reads the copy with SELECT ... FOR UPDATE.
func (c *CopyPostgreSQL) LockByID(ctx context.Context, tx *gorm.DB, id string) (*models.Copy, error) {
	var cp models.Copy
	if err := c.conn(ctx, tx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&cp, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &cp, nil
}

func (c *CopyPostgreSQL) Update(ctx context.Context, tx *gorm.DB, cp *models.Copy) error {
	return c.conn(ctx, tx).Save(cp).Error
}

func (c *CopyPostgreSQL) Delete(ctx context.Context, tx *gorm.DB, id string) error {
	return c.conn(ctx, tx).Delete(&models.Copy{}, "id = ?", id).Error
}

func (c *CopyPostgreSQL) List(ctx context.Context, tx *gorm.DB, filters repositories.CopyFilters) ([]*models.Copy, int64, error) {
	var copies []*models.Copy
	var total int64

	query := c.conn(ctx, tx).Model(&models.Copy{})
	if filters.ExamID != "" {
		query = query.Where("exam_id = ?", filters.ExamID)
	}
	if filters.Status != nil {
		query = query.Where("status = ?", *filters.Status)
	}
	if filters.AssignedTo != nil {
		query = query.Where("assigned_corrector = ?", *filters.AssignedTo)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit, offset := repositories.NormalizePaging(filters.Limit, filters.Offset)
	if err := query.Order("anonymous_id ASC").Limit(limit).Offset(offset).Find(&copies).Error; err != nil {
		return nil, 0, err
	}
	return copies, total, nil
}

func (c *CopyPostgreSQL) ExistsByAnonymousID(ctx context.Context, tx *gorm.DB, examID, anonymousID string) (bool, error) {
	var count int64
	err := c.conn(ctx, tx).Model(&models.Copy{}).
		Where("exam_id = ? AND anonymous_id = ?", examID, anonymousID).
		Count(&count).Error
	return count > 0, err
}

// LockReadyUnassigned locks every dispatchable copy of the exam, ordered
// by id so concurrent dispatches acquire row locks in the same order.
func (c *CopyPostgreSQL) LockReadyUnassigned(ctx context.Context, tx *gorm.DB, examID string) ([]*models.Copy, error) {
	var copies []*models.Copy
	err := c.conn(ctx, tx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("exam_id = ? AND status = ? AND assigned_corrector IS NULL", examID, models.CopyStatusReady).
		Order("id ASC").
		Find(&copies).Error
	return copies, err
}

func (c *CopyPostgreSQL) Assign(ctx context.Context, tx *gorm.DB, copyID, correctorID, runID string, at time.Time) (bool, error) {
	result := c.conn(ctx, tx).Model(&models.Copy{}).
		Where("id = ? AND status = ? AND assigned_corrector IS NULL", copyID, models.CopyStatusReady).
		Updates(map[string]interface{}{
			"assigned_corrector": correctorID,
			"assigned_at":        at,
			"dispatch_run_id":    runID,
			"updated_at":         at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (c *CopyPostgreSQL) CountByCorrector(ctx context.Context, tx *gorm.DB, examID string) (map[string]int, error) {
	var rows []struct {
		AssignedCorrector string
		Total             int
	}
	err := c.conn(ctx, tx).Model(&models.Copy{}).
		Select("assigned_corrector, COUNT(*) AS total").
		Where("exam_id = ? AND assigned_corrector IS NOT NULL", examID).
		Group("assigned_corrector").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	loads := make(map[string]int, len(rows))
	for _, row := range rows {
		loads[row.AssignedCorrector] = row.Total
	}
	return loads, nil
}

type BookletPostgreSQL struct{ base }

func (b *BookletPostgreSQL) Create(ctx context.Context, tx *gorm.DB, booklet *models.Booklet) error {
	return b.conn(ctx, tx).Create(booklet).Error
}

func (b *BookletPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id string) (*models.Booklet, error) {
	var booklet models.Booklet
	if err := b.conn(ctx, tx).First(&booklet, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &booklet, nil
}

func (b *BookletPostgreSQL) Link(ctx context.Context, tx *gorm.DB, link *models.CopyBooklet) error {
	return b.conn(ctx, tx).Create(link).Error
}

func (b *BookletPostgreSQL) ListForCopy(ctx context.Context, tx *gorm.DB, copyID string) ([]*models.Booklet, error) {
	var booklets []*models.Booklet
	err := b.conn(ctx, tx).
		Joins("JOIN copy_booklets ON copy_booklets.booklet_id = booklets.id").
		Where("copy_booklets.copy_id = ?", copyID).
		Order("copy_booklets.position ASC").
		Find(&booklets).Error
	return booklets, err
}

func (b *BookletPostgreSQL) PageCount(ctx context.Context, tx *gorm.DB, copyID string) (int, error) {
	var total int64
	err := b.conn(ctx, tx).Model(&models.Booklet{}).
		Select("COALESCE(SUM(booklets.page_count), 0)").
		Joins("JOIN copy_booklets ON copy_booklets.booklet_id = booklets.id").
		Where("copy_booklets.copy_id = ?", copyID).
		Row().Scan(&total)
	return int(total), err
}

func (b *BookletPostgreSQL) LinkedElsewhere(ctx context.Context, tx *gorm.DB, bookletID, copyID string) ([]string, error) {
	var ids []string
	err := b.conn(ctx, tx).Model(&models.CopyBooklet{}).
		Joins("JOIN copies ON copies.id = copy_booklets.copy_id").
		Where("copy_booklets.booklet_id = ? AND copy_booklets.copy_id <> ? AND copies.status <> ?",
			bookletID, copyID, models.CopyStatusStaging).
		Pluck("copy_booklets.copy_id", &ids).Error
	return ids, err
}

func (b *BookletPostgreSQL) UnlinkCopy(ctx context.Context, tx *gorm.DB, copyID string) error {
	return b.conn(ctx, tx).Delete(&models.CopyBooklet{}, "copy_id = ?", copyID).Error
}
