package services

import (
	"time"

	apperrors "github.com/SAP-F-2025/copy-workflow-service/internal/errors"
	"github.com/SAP-F-2025/copy-workflow-service/internal/models"
)

// Transition names a copy lifecycle move. Every applied transition is
// recorded in the audit log under the same name.
type Transition string

const (
	TransitionValidate Transition = "validate"
	TransitionAssign   Transition = "assign"
	TransitionLock     Transition = "lock"
	TransitionUnlock   Transition = "unlock"
	TransitionFinalize Transition = "finalize"
)

type transitionRule struct {
	from []models.CopyStatus
	to   models.CopyStatus
}

var transitions = map[Transition]transitionRule{
	TransitionValidate: {from: []models.CopyStatus{models.CopyStatusStaging}, to: models.CopyStatusReady},
	TransitionAssign:   {from: []models.CopyStatus{models.CopyStatusReady}, to: models.CopyStatusReady},
	TransitionLock:     {from: []models.CopyStatus{models.CopyStatusReady, models.CopyStatusLocked}, to: models.CopyStatusLocked},
	TransitionUnlock:   {from: []models.CopyStatus{models.CopyStatusLocked}, to: models.CopyStatusReady},
	TransitionFinalize: {from: []models.CopyStatus{models.CopyStatusLocked}, to: models.CopyStatusGraded},
}

// CheckTransition returns the target status of t from the given status.
// Graded is terminal and reported as AlreadyGraded.
func CheckTransition(from models.CopyStatus, t Transition) (models.CopyStatus, error) {
	if from == models.CopyStatusGraded {
		return from, apperrors.ErrAlreadyGraded.With("transition", string(t))
	}
	rule, ok := transitions[t]
	if !ok {
		return from, apperrors.Newf(apperrors.CodeTransition, "unknown transition %q", t)
	}
	for _, allowed := range rule.from {
		if allowed == from {
			return rule.to, nil
		}
	}
	return from, apperrors.Newf(apperrors.CodeTransition, "cannot %s a copy in status %s", t, from).
		With("transition", string(t)).
		With("status", string(from))
}

// ApplyTransition moves cp along t and stamps the transition timestamp.
// Ownership and lease preconditions are the caller's responsibility.
func ApplyTransition(cp *models.Copy, t Transition, now time.Time) error {
	to, err := CheckTransition(cp.Status, t)
	if err != nil {
		return err
	}
	cp.Status = to
	cp.UpdatedAt = now

	switch t {
	case TransitionValidate:
		cp.ValidatedAt = &now
	case TransitionAssign:
		cp.AssignedAt = &now
	case TransitionLock:
		cp.LockedAt = &now
	case TransitionFinalize:
		cp.GradedAt = &now
	}
	return nil
}
