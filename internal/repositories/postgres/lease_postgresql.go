package postgres

import (
	"context"
	"time"

	"github.com/SAP-F-2025/copy-workflow-service/internal/models"
	"gorm.io/gorm"
)

type LeasePostgreSQL struct{ base }

func (l *LeasePostgreSQL) GetByCopy(ctx context.Context, tx *gorm.DB, copyID string) (*models.Lease, error) {
	var leases []*models.Lease
	if err := l.conn(ctx, tx).Where("copy_id = ?", copyID).Limit(1).Find(&leases).Error; err != nil {
		return nil, err
	}
	if len(leases) == 0 {
		return nil, nil
	}
	return leases[0], nil
}

func (l *LeasePostgreSQL) Create(ctx context.Context, tx *gorm.DB, lease *models.Lease) error {
	return l.conn(ctx, tx).Create(lease).Error
}

func (l *LeasePostgreSQL) Update(ctx context.Context, tx *gorm.DB, lease *models.Lease) error {
	return l.conn(ctx, tx).Save(lease).Error
}

func (l *LeasePostgreSQL) DeleteByCopy(ctx context.Context, tx *gorm.DB, copyID string) error {
	return l.conn(ctx, tx).Delete(&models.Lease{}, "copy_id = ?", copyID).Error
}

func (l *LeasePostgreSQL) ListExpired(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]*models.Lease, error) {
	var leases []*models.Lease
	query := l.conn(ctx, tx).Where("expires_at <= ?", now).Order("expires_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&leases).Error
	return leases, err
}

type DraftPostgreSQL struct{ base }

func (d *DraftPostgreSQL) Get(ctx context.Context, tx *gorm.DB, copyID, ownerID string) (*models.Draft, error) {
	var drafts []*models.Draft
	if err := d.conn(ctx, tx).
		Where("copy_id = ? AND owner_id = ?", copyID, ownerID).
		Limit(1).
		Find(&drafts).Error; err != nil {
		return nil, err
	}
	if len(drafts) == 0 {
		return nil, nil
	}
	return drafts[0], nil
}

func (d *DraftPostgreSQL) Create(ctx context.Context, tx *gorm.DB, draft *models.Draft) error {
	return d.conn(ctx, tx).Create(draft).Error
}

func (d *DraftPostgreSQL) Update(ctx context.Context, tx *gorm.DB, draft *models.Draft) error {
	return d.conn(ctx, tx).Save(draft).Error
}

func (d *DraftPostgreSQL) Delete(ctx context.Context, tx *gorm.DB, copyID, ownerID string) (bool, error) {
	result := d.conn(ctx, tx).Delete(&models.Draft{}, "copy_id = ? AND owner_id = ?", copyID, ownerID)
	return result.RowsAffected > 0, result.Error
}

func (d *DraftPostgreSQL) DeleteByCopy(ctx context.Context, tx *gorm.DB, copyID string) error {
	return d.conn(ctx, tx).Delete(&models.Draft{}, "copy_id = ?", copyID).Error
}
