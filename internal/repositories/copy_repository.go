package repositories

import (
	"context"
	"time"

	"github.com/SAP-F-2025/copy-workflow-service/internal/models"
	"gorm.io/gorm"
)

type ExamRepository interface {
	Create(ctx context.Context, tx *gorm.DB, exam *models.Exam) error
	GetByID(ctx context.Context, tx *gorm.DB, id string) (*models.Exam, error)
}

// CopyRepository. The copy row is the mutual-exclusion root for every
// write on a copy; LockByID must be called inside a transaction.
type CopyRepository interface {
	Create(ctx context.Context, tx *gorm.DB, cp *models.Copy) error
	GetByID(ctx context.Context, tx *gorm.DB, id string) (*models.Copy, error)
	LockByID(ctx context.Context, tx *gorm.DB, id string) (*models.Copy, error)
	Update(ctx context.Context, tx *gorm.DB, cp *models.Copy) error
	Delete(ctx context.Context, tx *gorm.DB, id string) error
	List(ctx context.Context, tx *gorm.DB, filters CopyFilters) ([]*models.Copy, int64, error)
	ExistsByAnonymousID(ctx context.Context, tx *gorm.DB, examID, anonymousID string) (bool, error)

	// Dispatch
	LockReadyUnassigned(ctx context.Context, tx *gorm.DB, examID string) ([]*models.Copy, error)
	Assign(ctx context.Context, tx *gorm.DB, copyID, correctorID, runID string, at time.Time) (bool, error)
	CountByCorrector(ctx context.Context, tx *gorm.DB, examID string) (map[string]int, error)
}

type BookletRepository interface {
	Create(ctx context.Context, tx *gorm.DB, booklet *models.Booklet) error
	GetByID(ctx context.Context, tx *gorm.DB, id string) (*models.Booklet, error)
	Link(ctx context.Context, tx *gorm.DB, link *models.CopyBooklet) error
	ListForCopy(ctx context.Context, tx *gorm.DB, copyID string) ([]*models.Booklet, error)
	PageCount(ctx context.Context, tx *gorm.DB, copyID string) (int, error)
	// LinkedElsewhere returns ids of copies other than copyID, not in
	// Staging, that already hold bookletID.
	LinkedElsewhere(ctx context.Context, tx *gorm.DB, bookletID, copyID string) ([]string, error)
	UnlinkCopy(ctx context.Context, tx *gorm.DB, copyID string) error
}
