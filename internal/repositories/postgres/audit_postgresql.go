package postgres

import (
	"context"

	"github.com/SAP-F-2025/copy-workflow-service/internal/models"
	"github.com/SAP-F-2025/copy-workflow-service/internal/repositories"
	"gorm.io/gorm"
)

type AuditPostgreSQL struct{ base }

func (a *AuditPostgreSQL) Append(ctx context.Context, tx *gorm.DB, event *models.AuditEvent) error {
	return a.conn(ctx, tx).Create(event).Error
}

func (a *AuditPostgreSQL) LastForCopy(ctx context.Context, tx *gorm.DB, copyID string) (*models.AuditEvent, error) {
	var events []*models.AuditEvent
	if err := a.conn(ctx, tx).
		Where("copy_id = ?", copyID).
		Order("id DESC").
		Limit(1).
		Find(&events).Error; err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	return events[0], nil
}

func (a *AuditPostgreSQL) ListForCopy(ctx context.Context, tx *gorm.DB, copyID string) ([]*models.AuditEvent, error) {
	var events []*models.AuditEvent
	err := a.conn(ctx, tx).Where("copy_id = ?", copyID).Order("id ASC").Find(&events).Error
	return events, err
}

func (a *AuditPostgreSQL) Query(ctx context.Context, tx *gorm.DB, filters repositories.AuditFilters) ([]*models.AuditEvent, int64, error) {
	var events []*models.AuditEvent
	var total int64

	query := a.conn(ctx, tx).Model(&models.AuditEvent{})
	if filters.CopyID != "" {
		query = query.Where("copy_id = ?", filters.CopyID)
	}
	if filters.ExamID != "" {
		query = query.Where("copy_id IN (?)",
			a.conn(ctx, tx).Model(&models.Copy{}).Select("id").Where("exam_id = ?", filters.ExamID))
	}
	if filters.ActorID != "" {
		query = query.Where("actor_id = ?", filters.ActorID)
	}
	if filters.Action != nil {
		query = query.Where("action = ?", *filters.Action)
	}
	if filters.From != nil {
		query = query.Where("occurred_at >= ?", *filters.From)
	}
	if filters.To != nil {
		query = query.Where("occurred_at < ?", *filters.To)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit, offset := repositories.NormalizePaging(filters.Limit, filters.Offset)
	if err := query.Order("occurred_at ASC, id ASC").Limit(limit).Offset(offset).Find(&events).Error; err != nil {
		return nil, 0, err
	}
	return events, total, nil
}
