package postgres

import (
	"context"
	"errors"

	"github.com/SAP-F-2025/copy-workflow-service/internal/models"
	"github.com/SAP-F-2025/copy-workflow-service/internal/repositories"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type FinalizeJobPostgreSQL struct{ base }

func (f *FinalizeJobPostgreSQL) Create(ctx context.Context, tx *gorm.DB, job *models.FinalizeJob) error {
	return f.conn(ctx, tx).Create(job).Error
}

func (f *FinalizeJobPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id string) (*models.FinalizeJob, error) {
	var job models.FinalizeJob
	if err := f.conn(ctx, tx).First(&job, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

func (f *FinalizeJobPostgreSQL) FindPending(ctx context.Context, tx *gorm.DB, copyID string) (*models.FinalizeJob, error) {
	var jobs []*models.FinalizeJob
	if err := f.conn(ctx, tx).
		Where("copy_id = ? AND status IN ?", copyID,
			[]models.FinalizeJobStatus{models.FinalizeJobQueued, models.FinalizeJobRunning}).
		Order("created_at ASC").
		Limit(1).
		Find(&jobs).Error; err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	return jobs[0], nil
}

func (f *FinalizeJobPostgreSQL) ClaimNextRunnable(ctx context.Context, tx *gorm.DB, policy repositories.RunnablePolicy) (*models.FinalizeJob, error) {
	now := policy.Now
	staleCutoff := now.Add(-policy.StaleRunning)

	var claimed *models.FinalizeJob
	err := f.conn(ctx, tx).Transaction(func(txx *gorm.DB) error {
		var job models.FinalizeJob
		qErr := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where(`
				(status = ? AND next_run_at <= ?)
				OR (status = ? AND locked_at IS NOT NULL AND locked_at < ?)
			`, models.FinalizeJobQueued, now, models.FinalizeJobRunning, staleCutoff).
			Order("next_run_at ASC, created_at ASC").
			First(&job).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}

		uErr := txx.Model(&models.FinalizeJob{}).
			Where("id = ?", job.ID).
			Updates(map[string]interface{}{
				"status":     models.FinalizeJobRunning,
				"attempts":   gorm.Expr("attempts + 1"),
				"locked_at":  now,
				"updated_at": now,
			}).Error
		if uErr != nil {
			return uErr
		}

		job.Status = models.FinalizeJobRunning
		job.Attempts++
		job.LockedAt = &now
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (f *FinalizeJobPostgreSQL) UpdateFields(ctx context.Context, tx *gorm.DB, id string, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	return f.conn(ctx, tx).Model(&models.FinalizeJob{}).Where("id = ?", id).Updates(updates).Error
}

type DispatchRunPostgreSQL struct{ base }

func (d *DispatchRunPostgreSQL) Create(ctx context.Context, tx *gorm.DB, run *models.DispatchRun) error {
	return d.conn(ctx, tx).Create(run).Error
}

func (d *DispatchRunPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id string) (*models.DispatchRun, error) {
	var run models.DispatchRun
	if err := d.conn(ctx, tx).First(&run, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

type ArtifactPostgreSQL struct{ base }

func (a *ArtifactPostgreSQL) GetByCopy(ctx context.Context, tx *gorm.DB, copyID string) (*models.CopyArtifact, error) {
	var artifacts []*models.CopyArtifact
	if err := a.conn(ctx, tx).Where("copy_id = ?", copyID).Limit(1).Find(&artifacts).Error; err != nil {
		return nil, err
	}
	if len(artifacts) == 0 {
		return nil, nil
	}
	return artifacts[0], nil
}

func (a *ArtifactPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id string) (*models.CopyArtifact, error) {
	var artifact models.CopyArtifact
	if err := a.conn(ctx, tx).First(&artifact, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &artifact, nil
}

func (a *ArtifactPostgreSQL) Create(ctx context.Context, tx *gorm.DB, artifact *models.CopyArtifact) error {
	return a.conn(ctx, tx).Create(artifact).Error
}
