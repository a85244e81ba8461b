package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/SAP-F-2025/copy-workflow-service/internal/artifacts"
	"github.com/SAP-F-2025/copy-workflow-service/internal/cache"
	apperrors "github.com/SAP-F-2025/copy-workflow-service/internal/errors"
	"github.com/SAP-F-2025/copy-workflow-service/internal/flattener"
	"github.com/SAP-F-2025/copy-workflow-service/internal/models"
	"github.com/SAP-F-2025/copy-workflow-service/internal/repositories"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	artifactContentType  = "application/pdf"
	failureRecordTimeout = 5 * time.Second
)

// FinalizeResult describes a graded copy. Idempotent is set when the copy
// was already Graded and nothing was written.
type FinalizeResult struct {
	CopyID          string    `json:"copy_id"`
	FinalScore      float64   `json:"final_score"`
	Artifact        string    `json:"artifact"`
	AnnotationCount int       `json:"annotation_count"`
	GradedAt        time.Time `json:"graded_at"`
	Idempotent      bool      `json:"idempotent"`
}

type finalizeService struct {
	*workflow
	flattener flattener.Flattener
	store     artifacts.Store
	cache     cache.CacheService
}

func gradedResult(cp *models.Copy, annotationCount int, idempotent bool) *FinalizeResult {
	result := &FinalizeResult{CopyID: cp.ID, AnnotationCount: annotationCount, Idempotent: idempotent}
	if cp.FinalScore != nil {
		result.FinalScore = *cp.FinalScore
	}
	if cp.FinalArtifact != nil {
		result.Artifact = *cp.FinalArtifact
	}
	if cp.GradedAt != nil {
		result.GradedAt = *cp.GradedAt
	}
	return result
}

// Finalize grades the copy synchronously.
func (s *finalizeService) Finalize(ctx context.Context, copyID, actorID, token string) (*FinalizeResult, error) {
	return s.finalizeAttempt(ctx, copyID, actorID, token, 1)
}

// finalizeAttempt grades in two copy transactions. The first checks the
// lease and snapshots what gets flattened; the flattener then runs with no
// row lock or transaction held; the second re-checks the lease and the
// snapshot before the copy is graded.
func (s *finalizeService) finalizeAttempt(ctx context.Context, copyID, actorID, token string, attempt int) (*FinalizeResult, error) {
	var result *FinalizeResult
	timeout := s.opts.RequestTimeout + s.opts.FlattenTimeout
	err := s.runFor(ctx, timeout, "finalize", actorID, copyID, func(ctx context.Context) error {
		var snap *gradingSnapshot
		err := s.inCopyTx(ctx, copyID, func(tx *gorm.DB, cp *models.Copy, cs *changeSet) error {
			if cp.IsGraded() {
				result = gradedResult(cp, 0, true)
				return nil
			}
			if _, err := s.requireLease(ctx, tx, cp, actorID, token); err != nil {
				return err
			}
			var err error
			snap, err = s.takeSnapshot(ctx, tx, cp)
			return err
		})
		if err != nil || result != nil {
			return err
		}

		data, err := s.flattener.Flatten(ctx, flattener.Request{
			CopyID:      copyID,
			Pages:       snap.pages,
			Annotations: snapshot(snap.annotations),
		})
		if err != nil {
			failure := &finalizeFailure{category: string(flattener.CategoryOf(err))}
			err = apperrors.Wrap(apperrors.CodeFlattenFailed, err, "flattener failed").With("attempt", attempt)
			s.recordFailure(ctx, copyID, actorID, attempt, failure, err)
			return err
		}

		var failure *finalizeFailure
		err = s.inCopyTx(ctx, copyID, func(tx *gorm.DB, cp *models.Copy, cs *changeSet) error {
			if cp.IsGraded() {
				result = gradedResult(cp, 0, true)
				return nil
			}
			lease, err := s.requireLease(ctx, tx, cp, actorID, token)
			if err != nil {
				return err
			}
			if err := s.verifySnapshot(ctx, tx, cp.ID, snap); err != nil {
				return err
			}
			result, failure, err = s.grade(ctx, tx, cp, lease, cs, snap, data, actorID, attempt)
			return err
		})
		if err != nil && failure != nil {
			s.recordFailure(ctx, copyID, actorID, attempt, failure, err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if !result.Idempotent {
		if cacheErr := s.cache.Delete(ctx, scoreCacheKey(copyID)); cacheErr != nil {
			s.logger.Warn("Score cache invalidation failed", "copy_id", copyID, "error", cacheErr)
		}
	}
	return result, nil
}

// finalizeFailure marks errors raised after the lease was verified; only
// those produce a finalize_failed event.
type finalizeFailure struct {
	category string
}

// gradingSnapshot is what the artifact is rendered from.
type gradingSnapshot struct {
	exam        *models.Exam
	annotations []*models.Annotation
	pages       []string
}

func (s *finalizeService) takeSnapshot(ctx context.Context, tx *gorm.DB, cp *models.Copy) (*gradingSnapshot, error) {
	annotations, err := s.repo.Annotation().ListByCopy(ctx, tx, cp.ID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to snapshot annotations")
	}
	exam, err := s.repo.Exam().GetByID(ctx, tx, cp.ExamID)
	if err != nil {
		return nil, notFoundOr(err, "exam")
	}
	pages, err := s.pageRefs(ctx, tx, cp.ID)
	if err != nil {
		return nil, err
	}
	return &gradingSnapshot{exam: exam, annotations: annotations, pages: pages}, nil
}

// verifySnapshot fails with VersionConflict when an annotation was created,
// changed or deleted while the artifact was being flattened.
func (s *finalizeService) verifySnapshot(ctx context.Context, tx *gorm.DB, copyID string, snap *gradingSnapshot) error {
	current, err := s.repo.Annotation().ListByCopy(ctx, tx, copyID)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, err, "failed to reload annotations")
	}
	versions := make(map[string]int, len(snap.annotations))
	for _, a := range snap.annotations {
		versions[a.ID] = a.Version
	}
	stale := len(current) != len(versions)
	for _, a := range current {
		if v, ok := versions[a.ID]; !ok || v != a.Version {
			stale = true
			break
		}
	}
	if stale {
		return apperrors.New(apperrors.CodeVersionConflict, "annotations changed while the copy was being flattened").
			With("copy_id", copyID)
	}
	return nil
}

func (s *finalizeService) grade(ctx context.Context, tx *gorm.DB, cp *models.Copy, lease *models.Lease, cs *changeSet, snap *gradingSnapshot, data []byte, actorID string, attempt int) (*FinalizeResult, *finalizeFailure, error) {
	internal := &finalizeFailure{category: "internal"}
	annotations := snap.annotations
	finalScore := ComputeFinalScore(scoreDeltas(annotations), snap.exam.ScaleMax())

	now := s.now()
	digest := artifacts.Digest(data)
	envelope, err := json.Marshal(models.ArtifactEnvelope{
		CopyID:          cp.ID,
		AnonymousID:     cp.AnonymousID,
		FinalScore:      finalScore,
		AnnotationCount: len(annotations),
		PageCount:       len(snap.pages),
		Digest:          digest,
		FlattenedAt:     now,
	})
	if err != nil {
		return nil, internal, apperrors.Wrap(apperrors.CodeInternal, err, "failed to encode artifact envelope")
	}
	ref, err := s.store.Put(ctx, tx, &models.CopyArtifact{
		ID:          uuid.NewString(),
		CopyID:      cp.ID,
		Digest:      digest,
		ContentType: artifactContentType,
		Data:        data,
		Envelope:    datatypes.JSON(envelope),
		CreatedAt:   now,
	})
	if err != nil {
		return nil, &finalizeFailure{category: "storage"}, err
	}

	if cp.FinalArtifact != nil && *cp.FinalArtifact != "" {
		return nil, internal, apperrors.New(apperrors.CodeInvariantViolation, "final artifact already set").
			With("copy_id", cp.ID)
	}
	if err := ApplyTransition(cp, TransitionFinalize, now); err != nil {
		return nil, internal, err
	}
	cp.FinalArtifact = &ref
	cp.FinalScore = &finalScore
	if err := s.saveCopy(ctx, tx, cp); err != nil {
		return nil, internal, err
	}
	if err := s.repo.Lease().DeleteByCopy(ctx, tx, cp.ID); err != nil {
		return nil, internal, apperrors.Wrap(apperrors.CodeInternal, err, "failed to delete lease")
	}
	if err := s.repo.Draft().DeleteByCopy(ctx, tx, cp.ID); err != nil {
		return nil, internal, apperrors.Wrap(apperrors.CodeInternal, err, "failed to delete drafts")
	}

	if err := cs.record(cp.ID, actorID, models.AuditFinalize, map[string]interface{}{
		"transition":       string(TransitionFinalize),
		"lease_id":         lease.ID,
		"final_score":      finalScore,
		"annotation_count": len(annotations),
		"artifact_digest":  digest,
		"attempt":          attempt,
	}); err != nil {
		return nil, internal, err
	}
	return gradedResult(cp, len(annotations), false), nil, nil
}

func (s *finalizeService) pageRefs(ctx context.Context, tx *gorm.DB, copyID string) ([]string, error) {
	booklets, err := s.repo.Booklet().ListForCopy(ctx, tx, copyID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to list booklets")
	}
	var pages []string
	for _, booklet := range booklets {
		refs, err := booklet.PageRefs()
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInvariantViolation, err, "booklet pages are unreadable")
		}
		pages = append(pages, refs...)
	}
	return pages, nil
}

func snapshot(annotations []*models.Annotation) []flattener.Annotation {
	out := make([]flattener.Annotation, 0, len(annotations))
	for _, a := range annotations {
		item := flattener.Annotation{
			ID:         a.ID,
			PageIndex:  a.PageIndex,
			X:          a.X,
			Y:          a.Y,
			W:          a.W,
			H:          a.H,
			Type:       string(a.Type),
			ScoreDelta: a.ScoreDelta,
			Version:    a.Version,
		}
		if a.Content != nil {
			item.Content = *a.Content
		}
		out = append(out, item)
	}
	return out
}

// recordFailure appends finalize_failed in its own transaction, after the
// failed attempt rolled back.
func (s *finalizeService) recordFailure(ctx context.Context, copyID, actorID string, attempt int, failure *finalizeFailure, cause error) {
	// The attempt may have failed on its own deadline.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureRecordTimeout)
	defer cancel()

	err := s.inCopyTx(ctx, copyID, func(tx *gorm.DB, cp *models.Copy, cs *changeSet) error {
		if cp.IsGraded() {
			return nil
		}
		return cs.record(copyID, actorID, models.AuditFinalizeFailed, map[string]interface{}{
			"category": failure.category,
			"code":     string(apperrors.CodeOf(cause)),
			"attempt":  attempt,
		})
	})
	if err != nil {
		s.logger.Error("Failed to record finalize failure", "copy_id", copyID, "error", err)
	}
}

// ===== JOBS =====

// Submit queues a finalize job. A job already queued or running for the
// copy is returned instead of a new one.
func (s *finalizeService) Submit(ctx context.Context, copyID, actorID, token string) (*models.FinalizeJob, error) {
	var job *models.FinalizeJob
	err := s.run(ctx, "submit_finalize", actorID, copyID, func(ctx context.Context) error {
		return s.inCopyTx(ctx, copyID, func(tx *gorm.DB, cp *models.Copy, cs *changeSet) error {
			now := s.now()
			if cp.IsGraded() {
				job = &models.FinalizeJob{
					ID:          uuid.NewString(),
					CopyID:      copyID,
					RequestedBy: actorID,
					Status:      models.FinalizeJobSucceeded,
					MaxAttempts: s.opts.FinalizeMaxAttempts,
					NextRunAt:   now,
					FinishedAt:  &now,
					CreatedAt:   now,
					UpdatedAt:   now,
				}
				return s.createJob(ctx, tx, job)
			}

			if _, err := s.requireLease(ctx, tx, cp, actorID, token); err != nil {
				return err
			}
			pending, err := s.repo.FinalizeJob().FindPending(ctx, tx, copyID)
			if err != nil {
				return apperrors.Wrap(apperrors.CodeInternal, err, "failed to look up finalize jobs")
			}
			if pending != nil {
				job = pending
				return nil
			}

			job = &models.FinalizeJob{
				ID:          uuid.NewString(),
				CopyID:      copyID,
				RequestedBy: actorID,
				LeaseToken:  token,
				Status:      models.FinalizeJobQueued,
				MaxAttempts: s.opts.FinalizeMaxAttempts,
				NextRunAt:   now,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			return s.createJob(ctx, tx, job)
		})
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (s *finalizeService) createJob(ctx context.Context, tx *gorm.DB, job *models.FinalizeJob) error {
	if err := s.repo.FinalizeJob().Create(ctx, tx, job); err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, err, "failed to create finalize job")
	}
	return nil
}

func (s *finalizeService) JobStatus(ctx context.Context, jobID string) (*models.FinalizeJob, error) {
	var job *models.FinalizeJob
	err := s.run(ctx, "finalize_job_status", "", jobID, func(ctx context.Context) error {
		var err error
		job, err = s.repo.FinalizeJob().GetByID(ctx, nil, jobID)
		if err != nil {
			return notFoundOr(err, "finalize job")
		}
		return nil
	})
	return job, err
}

// ProcessNext claims one runnable job and executes it. It reports whether
// a job was claimed; job failures are recorded on the job, not returned.
func (s *finalizeService) ProcessNext(ctx context.Context) (bool, error) {
	job, err := s.repo.FinalizeJob().ClaimNextRunnable(ctx, nil, repositories.RunnablePolicy{
		Now:          s.now(),
		StaleRunning: s.opts.FinalizeStaleRunning,
	})
	if err != nil {
		return false, apperrors.Wrap(apperrors.CodeInternal, err, "failed to claim finalize job")
	}
	if job == nil {
		return false, nil
	}

	logger := s.logger.With("job_id", job.ID, "copy_id", job.CopyID, "attempt", job.Attempts)

	var runErr error
	if job.Attempts > job.MaxAttempts {
		runErr = apperrors.New(apperrors.CodeInternal, "attempts exhausted")
	} else {
		_, runErr = s.finalizeAttempt(ctx, job.CopyID, job.RequestedBy, job.LeaseToken, job.Attempts)
	}

	now := s.now()
	updates := map[string]interface{}{
		"locked_at":  nil,
		"updated_at": now,
	}
	switch {
	case runErr == nil:
		updates["status"] = models.FinalizeJobSucceeded
		updates["finished_at"] = now
		updates["last_error_code"] = ""
		updates["last_error"] = ""
		logger.Info("Finalize job succeeded")
	case IsRetryable(runErr) && job.Attempts < job.MaxAttempts:
		updates["status"] = models.FinalizeJobQueued
		updates["next_run_at"] = now.Add(s.opts.FinalizeBackoff)
		updates["last_error_code"] = string(apperrors.CodeOf(runErr))
		updates["last_error"] = runErr.Error()
		logger.Warn("Finalize job will retry", "error", runErr, "next_run_at", now.Add(s.opts.FinalizeBackoff))
	default:
		updates["status"] = models.FinalizeJobFailed
		updates["finished_at"] = now
		updates["last_error_code"] = string(apperrors.CodeOf(runErr))
		updates["last_error"] = runErr.Error()
		logger.Error("Finalize job failed", "error", runErr)
	}

	if err := s.repo.FinalizeJob().UpdateFields(ctx, nil, job.ID, updates); err != nil {
		return true, apperrors.Wrap(apperrors.CodeInternal, err, "failed to record finalize job outcome")
	}
	return true, nil
}
