package services

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	apperrors "github.com/SAP-F-2025/copy-workflow-service/internal/errors"
	"github.com/SAP-F-2025/copy-workflow-service/internal/flattener"
	"github.com/SAP-F-2025/copy-workflow-service/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

// S1
func TestFinalizeHappyPath(t *testing.T) {
	env := newTestEnv(t)
	cp := env.readyCopy(env.exam(20).ID, 2)
	grant := env.acquire(cp.ID, "t1")
	env.annotate(cp.ID, "t1", grant.Token, 2)

	result, err := env.finalizer.Finalize(env.ctx, cp.ID, "t1", grant.Token)
	require.NoError(t, err)
	assert.False(t, result.Idempotent)
	assert.Equal(t, 2.0, result.FinalScore)
	assert.Equal(t, 1, result.AnnotationCount)

	stored := env.reload(cp.ID)
	assert.Equal(t, models.CopyStatusGraded, stored.Status)
	require.NotNil(t, stored.FinalScore)
	assert.Equal(t, 2.0, *stored.FinalScore)
	require.NotNil(t, stored.FinalArtifact)
	assert.Equal(t, result.Artifact, *stored.FinalArtifact)
	require.NotNil(t, stored.GradedAt)

	lease, err := env.repo.Lease().GetByCopy(env.ctx, nil, cp.ID)
	require.NoError(t, err)
	assert.Nil(t, lease)

	artifact, err := env.repo.Artifact().GetByCopy(env.ctx, nil, cp.ID)
	require.NoError(t, err)
	require.NotNil(t, artifact)
	assert.Contains(t, string(artifact.Data), "annotations=1")

	assert.Equal(t, []models.AuditAction{models.AuditLock, models.AuditCreateAnnotation, models.AuditFinalize},
		env.actionsSince(cp.ID, models.AuditValidate))
}

// S7
func TestFinalizeIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	cp := env.readyCopy(env.exam(20).ID, 1)
	grant := env.acquire(cp.ID, "t1")
	env.annotate(cp.ID, "t1", grant.Token, 5)

	first, err := env.finalizer.Finalize(env.ctx, cp.ID, "t1", grant.Token)
	require.NoError(t, err)
	eventsAfterFirst := len(env.history(cp.ID))

	second, err := env.finalizer.Finalize(env.ctx, cp.ID, "t1", grant.Token)
	require.NoError(t, err)
	assert.True(t, second.Idempotent)
	assert.Equal(t, first.Artifact, second.Artifact)
	assert.Equal(t, first.FinalScore, second.FinalScore)

	job, err := env.finalizer.Submit(env.ctx, cp.ID, "t1", grant.Token)
	require.NoError(t, err)
	assert.Equal(t, models.FinalizeJobSucceeded, job.Status)

	assert.Len(t, env.history(cp.ID), eventsAfterFirst)
	assert.Equal(t, first.Artifact, *env.reload(cp.ID).FinalArtifact)
	assert.EqualValues(t, 1, env.flattener.calls)
}

func TestGradedCopyIsImmutable(t *testing.T) {
	env := newTestEnv(t)
	exam := env.exam(20, models.GradingQuestion{ID: "q1", MaxScore: 5})
	cp := env.readyCopy(exam.ID, 1)
	grant := env.acquire(cp.ID, "t1")
	a1 := env.annotate(cp.ID, "t1", grant.Token, 1)
	_, err := env.finalizer.Finalize(env.ctx, cp.ID, "t1", grant.Token)
	require.NoError(t, err)

	_, err = env.annotations.Update(env.ctx, a1.ID, "t1", grant.Token, map[string]interface{}{"x": 0.2})
	assert.True(t, IsTransition(err))
	err = env.annotations.Delete(env.ctx, a1.ID, "t1", grant.Token)
	assert.True(t, IsTransition(err))
	_, err = env.annotations.SetQuestionScore(env.ctx, cp.ID, "t1", grant.Token, &QuestionScoreRequest{QuestionID: "q1", Score: 1})
	assert.True(t, IsTransition(err))
	_, err = env.copies.SetAppreciation(env.ctx, cp.ID, "t1", grant.Token, "late")
	assert.True(t, IsTransition(err))
	_, err = env.copies.IdentifyStudent(env.ctx, "admin", cp.ID, "S-1")
	assert.ErrorIs(t, err, apperrors.ErrAlreadyGraded)
	_, err = env.leases.Heartbeat(env.ctx, cp.ID, "t1", grant.Token, 0)
	assert.ErrorIs(t, err, apperrors.ErrLeaseExpired)

	stored, err := env.repo.Annotation().GetByID(env.ctx, nil, a1.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.Version)
}

func TestFinalizeFailureRollsBack(t *testing.T) {
	env := newTestEnv(t)
	cp := env.readyCopy(env.exam(20).ID, 1)
	grant := env.acquire(cp.ID, "t1")
	env.annotate(cp.ID, "t1", grant.Token, 2)
	env.flattener.failNext(flattener.Fatal(errors.New("corrupt page")))

	_, err := env.finalizer.Finalize(env.ctx, cp.ID, "t1", grant.Token)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrFlattenFailed)
	assert.False(t, IsRetryable(err))

	stored := env.reload(cp.ID)
	assert.Equal(t, models.CopyStatusLocked, stored.Status)
	assert.Nil(t, stored.FinalArtifact)
	assert.Nil(t, stored.FinalScore)

	artifact, err := env.repo.Artifact().GetByCopy(env.ctx, nil, cp.ID)
	require.NoError(t, err)
	assert.Nil(t, artifact)

	trail := env.history(cp.ID)
	last := trail[len(trail)-1]
	assert.Equal(t, models.AuditFinalizeFailed, last.Action)
	assert.JSONEq(t, `{"attempt":1,"category":"fatal","code":"FlattenFailed"}`, string(last.Metadata))

	// The lease survives, so the corrector can try again.
	result, err := env.finalizer.Finalize(env.ctx, cp.ID, "t1", grant.Token)
	require.NoError(t, err)
	assert.Equal(t, 2.0, result.FinalScore)
}

func TestFinalizeFlattensWithoutHoldingTheCopy(t *testing.T) {
	env := newTestEnv(t)
	cp := env.readyCopy(env.exam(20).ID, 1)
	grant := env.acquire(cp.ID, "t1")
	a1 := env.annotate(cp.ID, "t1", grant.Token, 2)

	// A second tab of the same corrector edits while the artifact renders.
	env.flattener.during = func() {
		_, err := env.annotations.Update(env.ctx, a1.ID, "t1", grant.Token, map[string]interface{}{"score_delta": 3.0})
		require.NoError(t, err)
	}
	_, err := env.finalizer.Finalize(env.ctx, cp.ID, "t1", grant.Token)
	assert.ErrorIs(t, err, apperrors.ErrVersionConflict)

	stored := env.reload(cp.ID)
	assert.Equal(t, models.CopyStatusLocked, stored.Status)
	assert.Nil(t, stored.FinalArtifact)
	artifact, err := env.repo.Artifact().GetByCopy(env.ctx, nil, cp.ID)
	require.NoError(t, err)
	assert.Nil(t, artifact)

	env.flattener.during = nil
	result, err := env.finalizer.Finalize(env.ctx, cp.ID, "t1", grant.Token)
	require.NoError(t, err)
	assert.Equal(t, 3.0, result.FinalScore)
	assert.Equal(t, []models.AuditAction{models.AuditLock, models.AuditCreateAnnotation, models.AuditUpdateAnnotation, models.AuditFinalize},
		env.actionsSince(cp.ID, models.AuditValidate))
}

func TestFinalizeRechecksLeaseAfterFlatten(t *testing.T) {
	env := newTestEnv(t)
	cp := env.readyCopy(env.exam(20).ID, 1)
	grant, err := env.leases.Acquire(env.ctx, cp.ID, "t1", time.Minute)
	require.NoError(t, err)
	env.annotate(cp.ID, "t1", grant.Token, 2)

	env.flattener.during = func() { env.clock.Advance(2 * time.Minute) }
	_, err = env.finalizer.Finalize(env.ctx, cp.ID, "t1", grant.Token)
	assert.ErrorIs(t, err, apperrors.ErrLeaseExpired)

	stored := env.reload(cp.ID)
	assert.Equal(t, models.CopyStatusLocked, stored.Status)
	assert.Nil(t, stored.FinalArtifact)
}

func TestFinalizeRejectsReadyCopy(t *testing.T) {
	env := newTestEnv(t)
	cp := env.readyCopy(env.exam(20).ID, 1)

	_, err := env.finalizer.Finalize(env.ctx, cp.ID, "t1", "")
	assert.Equal(t, apperrors.CodeTransition, apperrors.CodeOf(err))
	assert.Equal(t, models.CopyStatusReady, env.reload(cp.ID).Status)
}

func TestFinalizeJobRetriesTransientFailures(t *testing.T) {
	env := newTestEnv(t)
	cp := env.readyCopy(env.exam(20).ID, 1)
	grant := env.acquire(cp.ID, "t1")
	env.annotate(cp.ID, "t1", grant.Token, 3)
	env.flattener.failNext(flattener.Transient(errors.New("503 from flattener")))

	job, err := env.finalizer.Submit(env.ctx, cp.ID, "t1", grant.Token)
	require.NoError(t, err)
	assert.Equal(t, models.FinalizeJobQueued, job.Status)

	duplicate, err := env.finalizer.Submit(env.ctx, cp.ID, "t1", grant.Token)
	require.NoError(t, err)
	assert.Equal(t, job.ID, duplicate.ID)

	claimed, err := env.finalizer.ProcessNext(env.ctx)
	require.NoError(t, err)
	assert.True(t, claimed)

	status, err := env.finalizer.JobStatus(env.ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FinalizeJobQueued, status.Status)
	assert.Equal(t, 1, status.Attempts)
	assert.Equal(t, string(apperrors.CodeFlattenFailed), status.LastErrorCode)

	// Backoff has not elapsed yet.
	claimed, err = env.finalizer.ProcessNext(env.ctx)
	require.NoError(t, err)
	assert.False(t, claimed)

	env.clock.Advance(11 * time.Second)
	claimed, err = env.finalizer.ProcessNext(env.ctx)
	require.NoError(t, err)
	assert.True(t, claimed)

	status, err = env.finalizer.JobStatus(env.ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FinalizeJobSucceeded, status.Status)
	assert.Equal(t, 2, status.Attempts)
	assert.Equal(t, models.CopyStatusGraded, env.reload(cp.ID).Status)

	var attempts []float64
	for _, ev := range env.history(cp.ID) {
		if ev.Action == models.AuditFinalizeFailed || ev.Action == models.AuditFinalize {
			attempts = append(attempts, metadataNumber(t, ev.Metadata, "attempt"))
		}
	}
	assert.Equal(t, []float64{1, 2}, attempts)
}

func TestFinalizeJobFailsWhenLeaseLapses(t *testing.T) {
	env := newTestEnv(t)
	cp := env.readyCopy(env.exam(20).ID, 1)
	grant, err := env.leases.Acquire(env.ctx, cp.ID, "t1", time.Minute)
	require.NoError(t, err)
	env.flattener.failNext(flattener.Transient(errors.New("timeout")))

	job, err := env.finalizer.Submit(env.ctx, cp.ID, "t1", grant.Token)
	require.NoError(t, err)
	_, err = env.finalizer.ProcessNext(env.ctx)
	require.NoError(t, err)

	env.clock.Advance(2 * time.Minute)
	claimed, err := env.finalizer.ProcessNext(env.ctx)
	require.NoError(t, err)
	assert.True(t, claimed)

	status, err := env.finalizer.JobStatus(env.ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FinalizeJobFailed, status.Status)
	assert.Equal(t, string(apperrors.CodeLeaseExpired), status.LastErrorCode)
	assert.NotEqual(t, models.CopyStatusGraded, env.reload(cp.ID).Status)
}

func TestFinalizeJobGivesUpAfterMaxAttempts(t *testing.T) {
	env := newTestEnv(t, func(d *Dependencies) { d.Options.FinalizeMaxAttempts = 2 })
	cp := env.readyCopy(env.exam(20).ID, 1)
	grant := env.acquire(cp.ID, "t1")
	env.flattener.failNext(
		flattener.Transient(errors.New("first")),
		flattener.Transient(errors.New("second")),
	)

	job, err := env.finalizer.Submit(env.ctx, cp.ID, "t1", grant.Token)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		claimed, err := env.finalizer.ProcessNext(env.ctx)
		require.NoError(t, err)
		require.True(t, claimed)
		env.clock.Advance(time.Minute)
	}

	status, err := env.finalizer.JobStatus(env.ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FinalizeJobFailed, status.Status)
	assert.Equal(t, 2, status.Attempts)
	require.NotNil(t, status.FinishedAt)

	claimed, err := env.finalizer.ProcessNext(env.ctx)
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestJobStatusUnknown(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.finalizer.JobStatus(env.ctx, "missing")
	assert.True(t, IsNotFound(err))
}

func metadataNumber(t *testing.T, raw datatypes.JSON, key string) float64 {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &m))
	v, ok := m[key].(float64)
	require.True(t, ok, "metadata %s missing %q", raw, key)
	return v
}
