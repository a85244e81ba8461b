package repositories

import (
	"context"

	"github.com/SAP-F-2025/copy-workflow-service/internal/models"
	"gorm.io/gorm"
)

type FinalizeJobRepository interface {
	Create(ctx context.Context, tx *gorm.DB, job *models.FinalizeJob) error
	GetByID(ctx context.Context, tx *gorm.DB, id string) (*models.FinalizeJob, error)
	// FindPending returns the queued or running job for copyID, if any.
	FindPending(ctx context.Context, tx *gorm.DB, copyID string) (*models.FinalizeJob, error)
	// ClaimNextRunnable picks one runnable job (SKIP LOCKED), marks it
	// running and increments its attempt counter.
	ClaimNextRunnable(ctx context.Context, tx *gorm.DB, policy RunnablePolicy) (*models.FinalizeJob, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id string, updates map[string]interface{}) error
}

type DispatchRunRepository interface {
	Create(ctx context.Context, tx *gorm.DB, run *models.DispatchRun) error
	GetByID(ctx context.Context, tx *gorm.DB, id string) (*models.DispatchRun, error)
}

type ArtifactRepository interface {
	GetByCopy(ctx context.Context, tx *gorm.DB, copyID string) (*models.CopyArtifact, error)
	GetByID(ctx context.Context, tx *gorm.DB, id string) (*models.CopyArtifact, error)
	Create(ctx context.Context, tx *gorm.DB, artifact *models.CopyArtifact) error
}
