package repositories

import (
	"context"
	"time"

	"github.com/SAP-F-2025/copy-workflow-service/internal/models"
	"gorm.io/gorm"
)

// LeaseRepository. Lookups return (nil, nil) when no lease exists, since
// an absent lease is an ordinary state.
type LeaseRepository interface {
	GetByCopy(ctx context.Context, tx *gorm.DB, copyID string) (*models.Lease, error)
	Create(ctx context.Context, tx *gorm.DB, lease *models.Lease) error
	Update(ctx context.Context, tx *gorm.DB, lease *models.Lease) error
	DeleteByCopy(ctx context.Context, tx *gorm.DB, copyID string) error
	ListExpired(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]*models.Lease, error)
}

type DraftRepository interface {
	Get(ctx context.Context, tx *gorm.DB, copyID, ownerID string) (*models.Draft, error)
	Create(ctx context.Context, tx *gorm.DB, draft *models.Draft) error
	Update(ctx context.Context, tx *gorm.DB, draft *models.Draft) error
	Delete(ctx context.Context, tx *gorm.DB, copyID, ownerID string) (bool, error)
	DeleteByCopy(ctx context.Context, tx *gorm.DB, copyID string) error
}
