package repositories

import (
	"context"

	"github.com/SAP-F-2025/copy-workflow-service/internal/models"
	"gorm.io/gorm"
)

// AuditRepository is append-only; there is no update or delete.
type AuditRepository interface {
	Append(ctx context.Context, tx *gorm.DB, event *models.AuditEvent) error
	LastForCopy(ctx context.Context, tx *gorm.DB, copyID string) (*models.AuditEvent, error)
	ListForCopy(ctx context.Context, tx *gorm.DB, copyID string) ([]*models.AuditEvent, error)
	Query(ctx context.Context, tx *gorm.DB, filters AuditFilters) ([]*models.AuditEvent, int64, error)
}
