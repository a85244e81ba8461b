package services

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"math/rand"
	"sort"
	"strings"

	apperrors "github.com/SAP-F-2025/copy-workflow-service/internal/errors"
	"github.com/SAP-F-2025/copy-workflow-service/internal/models"
	"github.com/SAP-F-2025/copy-workflow-service/internal/validator"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type DispatchRequest struct {
	ExamID       string   `json:"exam_id" validate:"required,max=36"`
	CorrectorIDs []string `json:"corrector_ids"`
}

// dispatchTargets is the corrector list once normalised.
type dispatchTargets struct {
	CorrectorIDs []string `json:"corrector_ids" validate:"dive,actor_id"`
}

type Assignment struct {
	CopyID      string `json:"copy_id"`
	CorrectorID string `json:"corrector_id"`
}

type DispatchResult struct {
	RunID       string         `json:"run_id,omitempty"`
	ExamID      string         `json:"exam_id"`
	Assignments []Assignment   `json:"assignments"`
	RunLoads    map[string]int `json:"run_loads"`
	ExamLoads   map[string]int `json:"exam_loads"`
}

type dispatchService struct {
	*workflow
	validator *validator.Validator
}

// NormalizeCorrectors trims, deduplicates and sorts corrector ids so the
// dispatch order does not depend on how the caller listed them.
func NormalizeCorrectors(ids []string) []string {
	trimmed := lo.FilterMap(ids, func(id string, _ int) (string, bool) {
		id = strings.TrimSpace(id)
		return id, id != ""
	})
	unique := lo.Uniq(trimmed)
	sort.Strings(unique)
	return unique
}

func dispatchSeed(runID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(runID))
	return int64(h.Sum64())
}

// PlanAssignments shuffles copyIDs with a seed derived from runID and
// deals them to correctors round-robin. Loads differ by at most one and
// the same inputs always give the same plan.
func PlanAssignments(runID string, copyIDs, correctors []string) []Assignment {
	if len(copyIDs) == 0 || len(correctors) == 0 {
		return []Assignment{}
	}

	order := append([]string(nil), copyIDs...)
	sort.Strings(order)
	rng := rand.New(rand.NewSource(dispatchSeed(runID)))
	rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

	plan := make([]Assignment, len(order))
	for i, copyID := range order {
		plan[i] = Assignment{CopyID: copyID, CorrectorID: correctors[i%len(correctors)]}
	}
	return plan
}

// Dispatch assigns every Ready, unassigned copy of the exam in one
// transaction. Copies that already have a corrector are left alone.
func (s *dispatchService) Dispatch(ctx context.Context, actorID string, req *DispatchRequest) (*DispatchResult, error) {
	var result *DispatchResult
	err := s.run(ctx, "dispatch", actorID, req.ExamID, func(ctx context.Context) error {
		if err := s.validator.ValidateStruct(req); err != nil {
			return err
		}
		correctors := NormalizeCorrectors(req.CorrectorIDs)
		if len(correctors) == 0 {
			return apperrors.ErrNoCorrectors.With("exam_id", req.ExamID)
		}
		if err := s.validator.ValidateStruct(&dispatchTargets{CorrectorIDs: correctors}); err != nil {
			return err
		}
		if _, err := s.repo.Exam().GetByID(ctx, nil, req.ExamID); err != nil {
			return notFoundOr(err, "exam")
		}

		return s.inTx(ctx, func(tx *gorm.DB, cs *changeSet) error {
			copies, err := s.repo.Copy().LockReadyUnassigned(ctx, tx, req.ExamID)
			if err != nil {
				return apperrors.Wrap(apperrors.CodeInternal, err, "failed to load dispatchable copies")
			}

			result = &DispatchResult{ExamID: req.ExamID, Assignments: []Assignment{}, RunLoads: map[string]int{}}
			if len(copies) > 0 {
				if err := s.assign(ctx, tx, cs, actorID, req.ExamID, correctors, copies, result); err != nil {
					return err
				}
			}

			result.ExamLoads, err = s.repo.Copy().CountByCorrector(ctx, tx, req.ExamID)
			if err != nil {
				return apperrors.Wrap(apperrors.CodeInternal, err, "failed to count corrector loads")
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *dispatchService) assign(ctx context.Context, tx *gorm.DB, cs *changeSet, actorID, examID string, correctors []string, copies []*models.Copy, result *DispatchResult) error {
	runID := uuid.NewString()
	now := s.now()

	for _, cp := range copies {
		if _, err := CheckTransition(cp.Status, TransitionAssign); err != nil {
			return err
		}
	}
	copyIDs := lo.Map(copies, func(c *models.Copy, _ int) string { return c.ID })
	plan := PlanAssignments(runID, copyIDs, correctors)

	for _, a := range plan {
		ok, err := s.repo.Copy().Assign(ctx, tx, a.CopyID, a.CorrectorID, runID, now)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeInternal, err, "failed to assign copy")
		}
		if !ok {
			return apperrors.New(apperrors.CodeInvariantViolation, "copy changed during dispatch").
				With("copy_id", a.CopyID)
		}
		if err := cs.record(a.CopyID, actorID, models.AuditAssign, map[string]interface{}{
			"transition":   string(TransitionAssign),
			"run_id":       runID,
			"corrector_id": a.CorrectorID,
		}); err != nil {
			return err
		}
	}

	correctorJSON, err := json.Marshal(correctors)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, err, "failed to encode correctors")
	}
	if err := s.repo.DispatchRun().Create(ctx, tx, &models.DispatchRun{
		ID:           runID,
		ExamID:       examID,
		CorrectorIDs: datatypes.JSON(correctorJSON),
		CopyCount:    len(plan),
		CreatedBy:    actorID,
		CreatedAt:    now,
	}); err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, err, "failed to record dispatch run")
	}

	result.RunID = runID
	result.Assignments = plan
	result.RunLoads = lo.CountValuesBy(plan, func(a Assignment) string { return a.CorrectorID })
	return nil
}

func (s *dispatchService) GetRun(ctx context.Context, runID string) (*models.DispatchRun, error) {
	var run *models.DispatchRun
	err := s.run(ctx, "get_dispatch_run", "", runID, func(ctx context.Context) error {
		var err error
		run, err = s.repo.DispatchRun().GetByID(ctx, nil, runID)
		if err != nil {
			return notFoundOr(err, "dispatch run")
		}
		return nil
	})
	return run, err
}
