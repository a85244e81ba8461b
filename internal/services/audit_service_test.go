package services

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/SAP-F-2025/copy-workflow-service/internal/events"
	"github.com/SAP-F-2025/copy-workflow-service/internal/models"
	"github.com/SAP-F-2025/copy-workflow-service/internal/repositories"
	"github.com/SAP-F-2025/copy-workflow-service/internal/requestctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func gradedCopy(t *testing.T, env *testEnv) *models.Copy {
	t.Helper()
	cp := env.readyCopy(env.exam(20).ID, 2)
	grant := env.acquire(cp.ID, "t1")
	env.annotate(cp.ID, "t1", grant.Token, 2)
	_, err := env.finalizer.Finalize(env.ctx, cp.ID, "t1", grant.Token)
	require.NoError(t, err)
	return env.reload(cp.ID)
}

func TestVerifyChainOnIntactTrail(t *testing.T) {
	env := newTestEnv(t)
	cp := gradedCopy(t, env)

	result, err := env.audit.VerifyChain(env.ctx, cp.ID)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Nil(t, result.BrokenAt)
	assert.Equal(t, len(env.history(cp.ID)), result.Events)

	trail := env.history(cp.ID)
	assert.Empty(t, trail[0].PrevHash)
	for i := 1; i < len(trail); i++ {
		assert.Equal(t, trail[i-1].Hash, trail[i].PrevHash)
		assert.False(t, trail[i].OccurredAt.Before(trail[i-1].OccurredAt))
	}
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	t.Run("edited row", func(t *testing.T) {
		env := newTestEnv(t)
		cp := gradedCopy(t, env)
		trail := env.history(cp.ID)
		target := trail[2]

		require.NoError(t, env.db.Model(&models.AuditEvent{}).
			Where("id = ?", target.ID).
			Update("actor_id", "mallory").Error)

		result, err := env.audit.VerifyChain(env.ctx, cp.ID)
		require.NoError(t, err)
		assert.False(t, result.Valid)
		require.NotNil(t, result.BrokenAt)
		assert.Equal(t, target.ID, *result.BrokenAt)
	})

	t.Run("deleted row", func(t *testing.T) {
		env := newTestEnv(t)
		cp := gradedCopy(t, env)
		trail := env.history(cp.ID)

		require.NoError(t, env.db.Delete(&models.AuditEvent{}, trail[1].ID).Error)

		result, err := env.audit.VerifyChain(env.ctx, cp.ID)
		require.NoError(t, err)
		assert.False(t, result.Valid)
		require.NotNil(t, result.BrokenAt)
		assert.Equal(t, trail[2].ID, *result.BrokenAt)
		assert.Contains(t, result.Reason, "prev_hash")
	})
}

func TestAuditCarriesCorrelationID(t *testing.T) {
	env := newTestEnv(t)
	exam := env.exam(20)
	ctx := requestctx.WithRequestData(context.Background(), &requestctx.RequestData{CorrelationID: "req-42", ActorID: "importer"})

	cp, err := env.copies.ImportCopy(ctx, "importer", &ImportCopyRequest{
		ExamID:      exam.ID,
		AnonymousID: "anon-req",
		Booklets:    []BookletRequest{{Pages: []string{"scan://x"}}},
	})
	require.NoError(t, err)

	trail := env.history(cp.ID)
	require.Len(t, trail, 1)
	assert.Equal(t, "req-42", trail[0].RequestID)

	published := env.publisher.GetPublishedEvents()
	last := published[len(published)-1]
	assert.Equal(t, events.TypeForAction("import"), last.Type)
	assert.Equal(t, "req-42", last.Metadata["request_id"])
}

func TestAuditPublishesAfterCommit(t *testing.T) {
	env := newTestEnv(t)
	cp := env.readyCopy(env.exam(20).ID, 1)

	published := env.publisher.GetPublishedEvents()
	var forCopy []events.WorkflowEvent
	for _, ev := range published {
		if ev.Data.CopyID == cp.ID {
			forCopy = append(forCopy, ev)
		}
	}
	require.Len(t, forCopy, 2)
	assert.Equal(t, "import", forCopy[0].Data.Action)
	assert.Equal(t, "validate", forCopy[1].Data.Action)
	assert.Equal(t, env.history(cp.ID)[1].Hash, forCopy[1].Data.Hash)

	// A rejected operation rolls back and publishes nothing.
	before := len(env.publisher.GetPublishedEvents())
	_, err := env.copies.ValidateCopy(env.ctx, "admin", cp.ID)
	require.Error(t, err)
	assert.Len(t, env.publisher.GetPublishedEvents(), before)
}

func TestAuditPublishFailureIsTolerated(t *testing.T) {
	env := newTestEnv(t)
	env.publisher.FailWith = errors.New("broker down")

	cp := env.readyCopy(env.exam(20).ID, 1)
	assert.Equal(t, []models.AuditAction{models.AuditImport, models.AuditValidate}, env.actions(cp.ID))
	assert.Empty(t, env.publisher.GetPublishedEvents())
}

func TestAuditQuery(t *testing.T) {
	env := newTestEnv(t)
	exam := env.exam(20)
	first := env.readyCopy(exam.ID, 1)
	start := env.clock.Now()

	env.clock.Advance(time.Hour)
	second := env.readyCopy(exam.ID, 1)
	env.acquire(second.ID, "t2")
	other := env.readyCopy(env.exam(10).ID, 1)

	t.Run("by exam", func(t *testing.T) {
		page, err := env.audit.Query(env.ctx, repositories.AuditFilters{ExamID: exam.ID})
		require.NoError(t, err)
		assert.EqualValues(t, 5, page.Total)
		for _, ev := range page.Events {
			assert.NotEqual(t, other.ID, ev.CopyID)
		}
	})

	t.Run("by actor and action", func(t *testing.T) {
		action := models.AuditLock
		page, err := env.audit.Query(env.ctx, repositories.AuditFilters{ActorID: "t2", Action: &action})
		require.NoError(t, err)
		require.EqualValues(t, 1, page.Total)
		assert.Equal(t, second.ID, page.Events[0].CopyID)
	})

	t.Run("by time window", func(t *testing.T) {
		to := start.Add(time.Minute)
		page, err := env.audit.Query(env.ctx, repositories.AuditFilters{ExamID: exam.ID, To: &to})
		require.NoError(t, err)
		assert.EqualValues(t, 2, page.Total)
		for _, ev := range page.Events {
			assert.Equal(t, first.ID, ev.CopyID)
		}
	})

	t.Run("paging", func(t *testing.T) {
		page, err := env.audit.Query(env.ctx, repositories.AuditFilters{ExamID: exam.ID, Limit: 2, Offset: 4})
		require.NoError(t, err)
		assert.EqualValues(t, 5, page.Total)
		assert.Len(t, page.Events, 1)
		assert.Equal(t, 2, page.Limit)
	})

	t.Run("inverted window", func(t *testing.T) {
		from := start
		to := start.Add(-time.Minute)
		_, err := env.audit.Query(env.ctx, repositories.AuditFilters{From: &from, To: &to})
		assert.True(t, IsValidation(err))
	})
}

func TestExportXLSX(t *testing.T) {
	env := newTestEnv(t)
	cp := gradedCopy(t, env)
	trail := env.history(cp.ID)

	data, err := env.audit.ExportXLSX(env.ctx, repositories.AuditFilters{CopyID: cp.ID})
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Audit")
	require.NoError(t, err)
	require.Len(t, rows, len(trail)+1)
	assert.Equal(t, "Sequence", rows[0][0])
	assert.Equal(t, string(models.AuditImport), rows[1][3])
	assert.Equal(t, string(models.AuditFinalize), rows[len(rows)-1][3])
	assert.Equal(t, trail[len(trail)-1].Hash, rows[len(rows)-1][8])
}

func TestSanitizeMetadata(t *testing.T) {
	got := SanitizeMetadata(map[string]interface{}{
		"corrector_id":   "k1",
		"previous_owner": "t1",
		"username":       "jdoe",
		"lease_token":    "abc",
		"nested":         map[string]interface{}{"email": "jdoe@example.org"},
	}, "salt")

	// Actor ids are opaque principal ids, like the actor_id column.
	assert.Equal(t, "k1", got["corrector_id"])
	assert.Equal(t, "t1", got["previous_owner"])
	assert.Equal(t, HashIdentity("salt", "jdoe"), got["username"])
	assert.Equal(t, "[REDACTED]", got["lease_token"])
	assert.Equal(t, map[string]interface{}{"email": HashIdentity("salt", "jdoe@example.org")}, got["nested"])
	assert.Empty(t, SanitizeMetadata(nil, "salt"))
}
