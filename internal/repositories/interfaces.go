package repositories

import (
	"time"

	"github.com/SAP-F-2025/copy-workflow-service/internal/models"
)

// Repository gives access to every workflow table. All methods take an
// optional *gorm.DB transaction; nil means the base connection.
type Repository interface {
	Exam() ExamRepository
	Copy() CopyRepository
	Booklet() BookletRepository
	Annotation() AnnotationRepository
	Score() ScoreRepository
	Lease() LeaseRepository
	Draft() DraftRepository
	Audit() AuditRepository
	FinalizeJob() FinalizeJobRepository
	DispatchRun() DispatchRunRepository
	Artifact() ArtifactRepository
}

// ===== SHARED FILTER STRUCTS =====

type CopyFilters struct {
	ExamID     string             `json:"exam_id"`
	Status     *models.CopyStatus `json:"status"`
	AssignedTo *string            `json:"assigned_to"`
	Limit      int                `json:"limit"`
	Offset     int                `json:"offset"`
}

type AuditFilters struct {
	CopyID  string              `json:"copy_id"`
	ExamID  string              `json:"exam_id"`
	ActorID string              `json:"actor_id"`
	Action  *models.AuditAction `json:"action"`
	From    *time.Time          `json:"from"`
	To      *time.Time          `json:"to"`
	Limit   int                 `json:"limit"`
	Offset  int                 `json:"offset"`
}

// RunnablePolicy controls which finalize jobs a worker may claim.
type RunnablePolicy struct {
	Now          time.Time
	StaleRunning time.Duration
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

func NormalizePaging(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
