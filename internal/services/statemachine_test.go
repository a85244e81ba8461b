package services

import (
	"testing"
	"time"

	apperrors "github.com/SAP-F-2025/copy-workflow-service/internal/errors"
	"github.com/SAP-F-2025/copy-workflow-service/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckTransition(t *testing.T) {
	tests := []struct {
		name     string
		from     models.CopyStatus
		t        Transition
		expected models.CopyStatus
		code     apperrors.Code
	}{
		{"validate staging", models.CopyStatusStaging, TransitionValidate, models.CopyStatusReady, ""},
		{"validate ready", models.CopyStatusReady, TransitionValidate, models.CopyStatusReady, apperrors.CodeTransition},
		{"assign ready", models.CopyStatusReady, TransitionAssign, models.CopyStatusReady, ""},
		{"assign staging", models.CopyStatusStaging, TransitionAssign, models.CopyStatusStaging, apperrors.CodeTransition},
		{"lock ready", models.CopyStatusReady, TransitionLock, models.CopyStatusLocked, ""},
		{"lock locked", models.CopyStatusLocked, TransitionLock, models.CopyStatusLocked, ""},
		{"lock staging", models.CopyStatusStaging, TransitionLock, models.CopyStatusStaging, apperrors.CodeTransition},
		{"unlock locked", models.CopyStatusLocked, TransitionUnlock, models.CopyStatusReady, ""},
		{"unlock ready", models.CopyStatusReady, TransitionUnlock, models.CopyStatusReady, apperrors.CodeTransition},
		{"finalize locked", models.CopyStatusLocked, TransitionFinalize, models.CopyStatusGraded, ""},
		{"finalize ready", models.CopyStatusReady, TransitionFinalize, models.CopyStatusReady, apperrors.CodeTransition},
		{"graded is terminal", models.CopyStatusGraded, TransitionUnlock, models.CopyStatusGraded, apperrors.CodeAlreadyGraded},
		{"graded cannot relock", models.CopyStatusGraded, TransitionLock, models.CopyStatusGraded, apperrors.CodeAlreadyGraded},
		{"unknown transition", models.CopyStatusReady, Transition("reopen"), models.CopyStatusReady, apperrors.CodeTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			to, err := CheckTransition(tt.from, tt.t)
			assert.Equal(t, tt.expected, to)
			if tt.code == "" {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.code, apperrors.CodeOf(err))
		})
	}
}

func TestApplyTransitionStampsTimestamps(t *testing.T) {
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	cp := &models.Copy{Status: models.CopyStatusStaging}

	require.NoError(t, ApplyTransition(cp, TransitionValidate, now))
	require.NotNil(t, cp.ValidatedAt)
	assert.Equal(t, models.CopyStatusReady, cp.Status)

	require.NoError(t, ApplyTransition(cp, TransitionLock, now.Add(time.Minute)))
	require.NotNil(t, cp.LockedAt)
	assert.Equal(t, now.Add(time.Minute), *cp.LockedAt)

	require.NoError(t, ApplyTransition(cp, TransitionFinalize, now.Add(2*time.Minute)))
	require.NotNil(t, cp.GradedAt)
	assert.Equal(t, models.CopyStatusGraded, cp.Status)

	err := ApplyTransition(cp, TransitionUnlock, now.Add(3*time.Minute))
	assert.ErrorIs(t, err, apperrors.ErrAlreadyGraded)
	assert.Equal(t, models.CopyStatusGraded, cp.Status)
	assert.Equal(t, now.Add(2*time.Minute), cp.UpdatedAt)
}
