package services

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"testing"

	apperrors "github.com/SAP-F-2025/copy-workflow-service/internal/errors"
	"github.com/SAP-F-2025/copy-workflow-service/internal/models"
	"github.com/SAP-F-2025/copy-workflow-service/internal/repositories"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// S6
func TestDispatchFairness(t *testing.T) {
	env := newTestEnv(t)
	exam := env.exam(20)
	for i := 0; i < 10; i++ {
		env.readyCopy(exam.ID, 1)
	}

	result, err := env.dispatcher.Dispatch(env.ctx, "admin", &DispatchRequest{
		ExamID:       exam.ID,
		CorrectorIDs: []string{"k3", "k1", "k2"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.RunID)
	assert.Len(t, result.Assignments, 10)

	loads := lo.Values(result.RunLoads)
	sort.Ints(loads)
	assert.Equal(t, []int{3, 3, 4}, loads)
	assert.Equal(t, result.RunLoads, result.ExamLoads)

	copies, total, err := env.copies.ListCopies(env.ctx, repositories.CopyFilters{ExamID: exam.ID})
	require.NoError(t, err)
	assert.EqualValues(t, 10, total)
	for _, cp := range copies {
		require.NotNil(t, cp.AssignedCorrector)
		require.NotNil(t, cp.DispatchRunID)
		assert.Equal(t, result.RunID, *cp.DispatchRunID)
		assert.Equal(t, models.CopyStatusReady, cp.Status)

		trail := env.history(cp.ID)
		last := trail[len(trail)-1]
		assert.Equal(t, models.AuditAssign, last.Action)
		assert.Equal(t, "admin", last.ActorID)
	}

	run, err := env.dispatcher.GetRun(env.ctx, result.RunID)
	require.NoError(t, err)
	assert.Equal(t, 10, run.CopyCount)
	assert.JSONEq(t, `["k1","k2","k3"]`, string(run.CorrectorIDs))
}

func TestDispatchNeverReassigns(t *testing.T) {
	env := newTestEnv(t)
	exam := env.exam(20)
	for i := 0; i < 4; i++ {
		env.readyCopy(exam.ID, 1)
	}

	first, err := env.dispatcher.Dispatch(env.ctx, "admin", &DispatchRequest{ExamID: exam.ID, CorrectorIDs: []string{"k1", "k2"}})
	require.NoError(t, err)
	assert.Len(t, first.Assignments, 4)

	late := env.readyCopy(exam.ID, 1)
	second, err := env.dispatcher.Dispatch(env.ctx, "admin", &DispatchRequest{ExamID: exam.ID, CorrectorIDs: []string{"k3"}})
	require.NoError(t, err)
	require.Len(t, second.Assignments, 1)
	assert.Equal(t, Assignment{CopyID: late.ID, CorrectorID: "k3"}, second.Assignments[0])
	assert.Equal(t, map[string]int{"k1": 2, "k2": 2, "k3": 1}, second.ExamLoads)

	empty, err := env.dispatcher.Dispatch(env.ctx, "admin", &DispatchRequest{ExamID: exam.ID, CorrectorIDs: []string{"k4"}})
	require.NoError(t, err)
	assert.Empty(t, empty.RunID)
	assert.Empty(t, empty.Assignments)
}

func TestDispatchSkipsStagingAndLocked(t *testing.T) {
	env := newTestEnv(t)
	exam := env.exam(20)
	env.stagingCopy(exam.ID, 1)
	locked := env.readyCopy(exam.ID, 1)
	env.acquire(locked.ID, "t1")
	ready := env.readyCopy(exam.ID, 1)

	result, err := env.dispatcher.Dispatch(env.ctx, "admin", &DispatchRequest{ExamID: exam.ID, CorrectorIDs: []string{"k1"}})
	require.NoError(t, err)
	require.Len(t, result.Assignments, 1)
	assert.Equal(t, ready.ID, result.Assignments[0].CopyID)
}

func TestDispatchErrors(t *testing.T) {
	env := newTestEnv(t)
	exam := env.exam(20)

	_, err := env.dispatcher.Dispatch(env.ctx, "admin", &DispatchRequest{ExamID: exam.ID, CorrectorIDs: []string{" ", ""}})
	assert.ErrorIs(t, err, apperrors.ErrNoCorrectors)

	_, err = env.dispatcher.Dispatch(env.ctx, "admin", &DispatchRequest{ExamID: "missing", CorrectorIDs: []string{"k1"}})
	assert.True(t, IsNotFound(err))

	cp := env.readyCopy(exam.ID, 1)
	for _, bad := range [][]string{{"k1", "jane doe"}, {strings.Repeat("k", 65)}} {
		_, err = env.dispatcher.Dispatch(env.ctx, "admin", &DispatchRequest{ExamID: exam.ID, CorrectorIDs: bad})
		assert.True(t, IsValidation(err), "correctors %q", bad)
	}
	assert.Nil(t, env.reload(cp.ID).AssignedCorrector)

	_, err = env.dispatcher.GetRun(env.ctx, "missing")
	assert.True(t, IsNotFound(err))
}

func TestClearAssignmentAllowsRedispatch(t *testing.T) {
	env := newTestEnv(t)
	exam := env.exam(20)
	cp := env.readyCopy(exam.ID, 1)

	_, err := env.dispatcher.Dispatch(env.ctx, "admin", &DispatchRequest{ExamID: exam.ID, CorrectorIDs: []string{"k1"}})
	require.NoError(t, err)

	cleared, err := env.copies.ClearAssignment(env.ctx, "admin", cp.ID)
	require.NoError(t, err)
	assert.Nil(t, cleared.AssignedCorrector)

	result, err := env.dispatcher.Dispatch(env.ctx, "admin", &DispatchRequest{ExamID: exam.ID, CorrectorIDs: []string{"k2"}})
	require.NoError(t, err)
	require.Len(t, result.Assignments, 1)
	assert.Equal(t, "k2", result.Assignments[0].CorrectorID)

	assert.Equal(t, []models.AuditAction{models.AuditAssign, models.AuditUnassign, models.AuditAssign},
		env.actionsSince(cp.ID, models.AuditValidate))
}

func TestPlanAssignments(t *testing.T) {
	copies := make([]string, 0, 25)
	for i := 0; i < 25; i++ {
		copies = append(copies, fmt.Sprintf("copy-%02d", i))
	}
	correctors := []string{"a", "b", "c", "d"}

	t.Run("deterministic for a run id", func(t *testing.T) {
		shuffled := append([]string(nil), copies...)
		slices.Reverse(shuffled)
		assert.Equal(t, PlanAssignments("run-1", copies, correctors), PlanAssignments("run-1", shuffled, correctors))
	})

	t.Run("different runs shuffle differently", func(t *testing.T) {
		assert.NotEqual(t, PlanAssignments("run-1", copies, correctors), PlanAssignments("run-2", copies, correctors))
	})

	t.Run("max-min fair", func(t *testing.T) {
		for n := 0; n <= len(copies); n++ {
			for k := 1; k <= len(correctors); k++ {
				plan := PlanAssignments(fmt.Sprintf("run-%d-%d", n, k), copies[:n], correctors[:k])
				assert.Len(t, plan, n)
				if n == 0 {
					continue
				}
				loads := lo.CountValuesBy(plan, func(a Assignment) string { return a.CorrectorID })
				counts := make([]int, 0, k)
				for _, c := range correctors[:k] {
					counts = append(counts, loads[c])
				}
				assert.LessOrEqual(t, lo.Max(counts)-lo.Min(counts), 1, "n=%d k=%d", n, k)
			}
		}
	})

	t.Run("each copy once", func(t *testing.T) {
		plan := PlanAssignments("run-x", copies, correctors)
		ids := lo.Map(plan, func(a Assignment, _ int) string { return a.CopyID })
		assert.ElementsMatch(t, copies, ids)
	})
}

func TestNormalizeCorrectors(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, NormalizeCorrectors([]string{" c", "a", "b", "a ", ""}))
	assert.Empty(t, NormalizeCorrectors(nil))
}
