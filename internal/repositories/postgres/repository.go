package postgres

import (
	"context"

	"github.com/SAP-F-2025/copy-workflow-service/internal/repositories"
	"gorm.io/gorm"
)

// base resolves the connection a repository call should use.
type base struct {
	db *gorm.DB
}

func (b base) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx.WithContext(ctx)
	}
	return b.db.WithContext(ctx)
}

type repository struct {
	exam        repositories.ExamRepository
	copy        repositories.CopyRepository
	booklet     repositories.BookletRepository
	annotation  repositories.AnnotationRepository
	score       repositories.ScoreRepository
	lease       repositories.LeaseRepository
	draft       repositories.DraftRepository
	audit       repositories.AuditRepository
	finalizeJob repositories.FinalizeJobRepository
	dispatchRun repositories.DispatchRunRepository
	artifact    repositories.ArtifactRepository
}

func NewRepository(db *gorm.DB) repositories.Repository {
	b := base{db: db}
	return &repository{
		exam:        &ExamPostgreSQL{base: b},
		copy:        &CopyPostgreSQL{base: b},
		booklet:     &BookletPostgreSQL{base: b},
		annotation:  &AnnotationPostgreSQL{base: b},
		score:       &ScorePostgreSQL{base: b},
		lease:       &LeasePostgreSQL{base: b},
		draft:       &DraftPostgreSQL{base: b},
		audit:       &AuditPostgreSQL{base: b},
		finalizeJob: &FinalizeJobPostgreSQL{base: b},
		dispatchRun: &DispatchRunPostgreSQL{base: b},
		artifact:    &ArtifactPostgreSQL{base: b},
	}
}

func (r *repository) Exam() repositories.ExamRepository               { return r.exam }
func (r *repository) Copy() repositories.CopyRepository               { return r.copy }
func (r *repository) Booklet() repositories.BookletRepository         { return r.booklet }
func (r *repository) Annotation() repositories.AnnotationRepository   { return r.annotation }
func (r *repository) Score() repositories.ScoreRepository             { return r.score }
func (r *repository) Lease() repositories.LeaseRepository             { return r.lease }
func (r *repository) Draft() repositories.DraftRepository             { return r.draft }
func (r *repository) Audit() repositories.AuditRepository             { return r.audit }
func (r *repository) FinalizeJob() repositories.FinalizeJobRepository { return r.finalizeJob }
func (r *repository) DispatchRun() repositories.DispatchRunRepository { return r.dispatchRun }
func (r *repository) Artifact() repositories.ArtifactRepository       { return r.artifact }
