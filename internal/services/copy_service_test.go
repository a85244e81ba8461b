package services

import (
	"strings"
	"testing"

	apperrors "github.com/SAP-F-2025/copy-workflow-service/internal/errors"
	"github.com/SAP-F-2025/copy-workflow-service/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterExam(t *testing.T) {
	env := newTestEnv(t)

	exam := env.exam(0, models.GradingQuestion{ID: "q1", MaxScore: 3})
	assert.Equal(t, models.DefaultExamMaxScore, exam.MaxScore)
	q, err := exam.FindQuestion("q1")
	require.NoError(t, err)
	require.NotNil(t, q)

	_, err = env.copies.RegisterExam(env.ctx, "admin", &CreateExamRequest{
		Name: "dup",
		Questions: []models.GradingQuestion{
			{ID: "q1", MaxScore: 1},
			{ID: "q2", Children: []models.GradingQuestion{{ID: "q1", MaxScore: 1}}},
		},
	})
	assert.True(t, IsValidation(err))

	_, err = env.copies.RegisterExam(env.ctx, "admin", &CreateExamRequest{})
	assert.True(t, IsValidation(err))
}

func TestImportAndValidate(t *testing.T) {
	env := newTestEnv(t)
	exam := env.exam(20)

	cp := env.stagingCopy(exam.ID, 3)
	assert.Equal(t, models.CopyStatusStaging, cp.Status)

	_, err := env.copies.ImportCopy(env.ctx, "importer", &ImportCopyRequest{ExamID: exam.ID, AnonymousID: cp.AnonymousID})
	assert.True(t, IsValidation(err))

	validated, err := env.copies.ValidateCopy(env.ctx, "admin", cp.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CopyStatusReady, validated.Status)
	require.NotNil(t, validated.ValidatedAt)

	_, err = env.copies.ValidateCopy(env.ctx, "admin", cp.ID)
	assert.Equal(t, apperrors.CodeTransition, apperrors.CodeOf(err))

	assert.Equal(t, []models.AuditAction{models.AuditImport, models.AuditValidate}, env.actions(cp.ID))
}

func TestValidateRequiresPages(t *testing.T) {
	env := newTestEnv(t)
	exam := env.exam(20)
	cp := env.stagingCopy(exam.ID, 0)

	_, err := env.copies.ValidateCopy(env.ctx, "admin", cp.ID)
	assert.Equal(t, apperrors.CodeTransition, apperrors.CodeOf(err))

	booklet, err := env.copies.AttachBooklet(env.ctx, "importer", cp.ID, &BookletRequest{Pages: []string{"scan://p0"}})
	require.NoError(t, err)
	assert.Equal(t, 1, booklet.PageCount)

	_, err = env.copies.ValidateCopy(env.ctx, "admin", cp.ID)
	require.NoError(t, err)

	_, err = env.copies.AttachBooklet(env.ctx, "importer", cp.ID, &BookletRequest{Pages: []string{"scan://p1"}})
	assert.Equal(t, apperrors.CodeTransition, apperrors.CodeOf(err))
}

func TestValidateRejectsSharedBooklet(t *testing.T) {
	env := newTestEnv(t)
	exam := env.exam(20)

	owner := env.stagingCopy(exam.ID, 0)
	booklet, err := env.copies.AttachBooklet(env.ctx, "importer", owner.ID, &BookletRequest{Pages: []string{"scan://a", "scan://b"}})
	require.NoError(t, err)

	other := env.stagingCopy(exam.ID, 0)
	_, err = env.copies.AttachBooklet(env.ctx, "importer", other.ID, &BookletRequest{BookletID: booklet.ID})
	require.NoError(t, err)

	_, err = env.copies.ValidateCopy(env.ctx, "admin", owner.ID)
	require.NoError(t, err)

	_, err = env.copies.ValidateCopy(env.ctx, "admin", other.ID)
	assert.True(t, IsValidation(err))
	assert.Equal(t, models.CopyStatusStaging, env.reload(other.ID).Status)
}

func TestDeleteStagingCopy(t *testing.T) {
	env := newTestEnv(t)
	exam := env.exam(20)
	cp := env.stagingCopy(exam.ID, 2)

	require.NoError(t, env.copies.DeleteStagingCopy(env.ctx, "admin", cp.ID))
	_, err := env.copies.GetCopy(env.ctx, cp.ID)
	assert.True(t, IsNotFound(err))

	// The trail outlives the copy.
	assert.Equal(t, []models.AuditAction{models.AuditImport, models.AuditDeleteCopy}, env.actions(cp.ID))

	ready := env.readyCopy(exam.ID, 1)
	err = env.copies.DeleteStagingCopy(env.ctx, "admin", ready.ID)
	assert.Equal(t, apperrors.CodeTransition, apperrors.CodeOf(err))
}

func TestIdentifyStudentHashesAuditMetadata(t *testing.T) {
	env := newTestEnv(t)
	cp := env.readyCopy(env.exam(20).ID, 1)

	updated, err := env.copies.IdentifyStudent(env.ctx, "admin", cp.ID, "S-2025-0042")
	require.NoError(t, err)
	require.NotNil(t, updated.StudentID)
	assert.Equal(t, "S-2025-0042", *updated.StudentID)

	trail := env.history(cp.ID)
	last := trail[len(trail)-1]
	assert.Equal(t, models.AuditIdentify, last.Action)
	assert.NotContains(t, string(last.Metadata), "S-2025-0042")
	assert.Contains(t, string(last.Metadata), HashIdentity("test-salt", "S-2025-0042"))

	_, err = env.copies.IdentifyStudent(env.ctx, "admin", cp.ID, "  ")
	assert.True(t, IsValidation(err))
}

func TestSetAppreciation(t *testing.T) {
	env := newTestEnv(t)
	cp := env.readyCopy(env.exam(20).ID, 1)

	_, err := env.copies.SetAppreciation(env.ctx, cp.ID, "t1", "", "Solid work")
	assert.True(t, IsTransition(err))

	grant := env.acquire(cp.ID, "t1")
	updated, err := env.copies.SetAppreciation(env.ctx, cp.ID, "t1", grant.Token, "Solid work")
	require.NoError(t, err)
	assert.Equal(t, "Solid work", updated.GlobalAppreciation)

	_, err = env.copies.SetAppreciation(env.ctx, cp.ID, "t1", grant.Token, strings.Repeat("é", 1001))
	assert.True(t, IsValidation(err))

	trail := env.history(cp.ID)
	last := trail[len(trail)-1]
	assert.Equal(t, models.AuditUpdateAppreciation, last.Action)
	assert.JSONEq(t, `{"length":10}`, string(last.Metadata))
}

func TestClearAssignmentRules(t *testing.T) {
	env := newTestEnv(t)
	exam := env.exam(20)
	cp := env.readyCopy(exam.ID, 1)

	// Nothing assigned: no-op without an event.
	_, err := env.copies.ClearAssignment(env.ctx, "admin", cp.ID)
	require.NoError(t, err)
	assert.Equal(t, []models.AuditAction{models.AuditImport, models.AuditValidate}, env.actions(cp.ID))

	env.acquire(cp.ID, "t1")
	_, err = env.copies.ClearAssignment(env.ctx, "admin", cp.ID)
	assert.Equal(t, apperrors.CodeTransition, apperrors.CodeOf(err))
}
