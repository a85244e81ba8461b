package services

import (
	"context"
	"time"

	"github.com/SAP-F-2025/copy-workflow-service/internal/models"
	"github.com/SAP-F-2025/copy-workflow-service/internal/repositories"
)

// CopyService covers intake and administrative edits of copies.
type CopyService interface {
	RegisterExam(ctx context.Context, actorID string, req *CreateExamRequest) (*models.Exam, error)
	GetExam(ctx context.Context, examID string) (*models.Exam, error)

	ImportCopy(ctx context.Context, actorID string, req *ImportCopyRequest) (*models.Copy, error)
	AttachBooklet(ctx context.Context, actorID, copyID string, req *BookletRequest) (*models.Booklet, error)
	ValidateCopy(ctx context.Context, actorID, copyID string) (*models.Copy, error)
	DeleteStagingCopy(ctx context.Context, actorID, copyID string) error
	IdentifyStudent(ctx context.Context, actorID, copyID, studentID string) (*models.Copy, error)
	SetAppreciation(ctx context.Context, copyID, actorID, token, text string) (*models.Copy, error)
	ClearAssignment(ctx context.Context, actorID, copyID string) (*models.Copy, error)

	GetCopy(ctx context.Context, copyID string) (*models.Copy, error)
	ListCopies(ctx context.Context, filters repositories.CopyFilters) ([]*models.Copy, int64, error)
}

// LeaseService grants exclusive editing rights on a copy.
type LeaseService interface {
	Acquire(ctx context.Context, copyID, ownerID string, ttl time.Duration) (*LeaseGrant, error)
	Heartbeat(ctx context.Context, copyID, ownerID, token string, ttl time.Duration) (*LeaseGrant, error)
	Release(ctx context.Context, copyID, ownerID, token string) error
	// ForceExpireStale unlocks every copy whose lease has lapsed and
	// returns how many were unlocked.
	ForceExpireStale(ctx context.Context) (int, error)
}

type AnnotationService interface {
	Create(ctx context.Context, copyID, actorID, token string, req *CreateAnnotationRequest) (*models.Annotation, error)
	Update(ctx context.Context, annotationID, actorID, token string, raw map[string]interface{}) (*models.Annotation, error)
	Delete(ctx context.Context, annotationID, actorID, token string) error
	List(ctx context.Context, copyID string) ([]*models.Annotation, error)

	SetQuestionScore(ctx context.Context, copyID, actorID, token string, req *QuestionScoreRequest) (*models.QuestionScore, error)
	SetQuestionRemark(ctx context.Context, copyID, actorID, token string, req *QuestionRemarkRequest) (*models.QuestionRemark, error)
	ListScores(ctx context.Context, copyID string) ([]*models.QuestionScore, error)
	ListRemarks(ctx context.Context, copyID string) ([]*models.QuestionRemark, error)
	ScoreSummary(ctx context.Context, copyID string) (*ScoreSummary, error)
}

type DraftService interface {
	Put(ctx context.Context, copyID, ownerID, token string, req *PutDraftRequest) (*models.Draft, error)
	Get(ctx context.Context, copyID, ownerID string) (*models.Draft, error)
	Delete(ctx context.Context, copyID, ownerID string) error
}

type FinalizeService interface {
	Finalize(ctx context.Context, copyID, actorID, token string) (*FinalizeResult, error)
	Submit(ctx context.Context, copyID, actorID, token string) (*models.FinalizeJob, error)
	JobStatus(ctx context.Context, jobID string) (*models.FinalizeJob, error)
	// ProcessNext runs at most one queued job. It reports whether a job
	// was claimed.
	ProcessNext(ctx context.Context) (bool, error)
}

type DispatchService interface {
	Dispatch(ctx context.Context, actorID string, req *DispatchRequest) (*DispatchResult, error)
	GetRun(ctx context.Context, runID string) (*models.DispatchRun, error)
}

type AuditService interface {
	Query(ctx context.Context, filters repositories.AuditFilters) (*AuditPage, error)
	History(ctx context.Context, copyID string) ([]*models.AuditEvent, error)
	VerifyChain(ctx context.Context, copyID string) (*ChainVerification, error)
	ExportXLSX(ctx context.Context, filters repositories.AuditFilters) ([]byte, error)
}

type ServiceManager interface {
	Copy() CopyService
	Lease() LeaseService
	Annotation() AnnotationService
	Draft() DraftService
	Finalize() FinalizeService
	Dispatch() DispatchService
	Audit() AuditService
}
