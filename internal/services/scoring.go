package services

import (
	"context"
	"errors"
	"math"

	"github.com/SAP-F-2025/copy-workflow-service/internal/cache"
	apperrors "github.com/SAP-F-2025/copy-workflow-service/internal/errors"
	"github.com/SAP-F-2025/copy-workflow-service/internal/models"
	"github.com/samber/lo"
)

// FinalScoreScale is the scale every final score is expressed on.
const FinalScoreScale = 20.0

// ComputeFinalScore scales the sum of score deltas from the exam maximum
// onto /20, clamps it to [0, 20] and rounds to two decimals.
func ComputeFinalScore(deltas []float64, examMax float64) float64 {
	if examMax <= 0 {
		examMax = models.DefaultExamMaxScore
	}
	scaled := lo.Sum(deltas) * FinalScoreScale / examMax
	scaled = math.Max(0, math.Min(FinalScoreScale, scaled))
	return math.Round(scaled*100) / 100
}

func scoreDeltas(annotations []*models.Annotation) []float64 {
	return lo.FilterMap(annotations, func(a *models.Annotation, _ int) (float64, bool) {
		if a.ScoreDelta == nil {
			return 0, false
		}
		return *a.ScoreDelta, true
	})
}

// ScoreSummary is the on-demand score view of a copy.
type ScoreSummary struct {
	CopyID          string   `json:"copy_id"`
	Status          string   `json:"status"`
	AnnotationCount int      `json:"annotation_count"`
	AnnotationTotal float64  `json:"annotation_total"`
	ScaledScore     float64  `json:"scaled_score"`
	QuestionTotal   float64  `json:"question_total"`
	QuestionMax     float64  `json:"question_max"`
	FinalScore      *float64 `json:"final_score,omitempty"`
}

func scoreCacheKey(copyID string) string {
	return "score:" + copyID
}

// ScoreSummary reads the score totals through the cache. Status and final
// score always come from the copy row, so lifecycle changes never need to
// invalidate the cache. Cache failures fall back to the database.
func (s *annotationService) ScoreSummary(ctx context.Context, copyID string) (*ScoreSummary, error) {
	var summary *ScoreSummary
	err := s.run(ctx, "score_summary", "", copyID, func(ctx context.Context) error {
		cp, err := s.repo.Copy().GetByID(ctx, nil, copyID)
		if err != nil {
			return notFoundOr(err, "copy")
		}

		var cached ScoreSummary
		switch err := s.cache.Get(ctx, scoreCacheKey(copyID), &cached); {
		case err == nil:
			summary = &cached
		case !errors.Is(err, cache.ErrCacheMiss):
			s.logger.Warn("Score cache read failed", "copy_id", copyID, "error", err)
		}

		if summary == nil {
			computed, err := s.computeTotals(ctx, cp)
			if err != nil {
				return err
			}
			if err := s.cache.Set(ctx, scoreCacheKey(copyID), computed, s.opts.ScoreCacheTTL); err != nil {
				s.logger.Warn("Score cache write failed", "copy_id", copyID, "error", err)
			}
			summary = computed
		}
		summary.Status = string(cp.Status)
		summary.FinalScore = cp.FinalScore
		return nil
	})
	return summary, err
}

// computeTotals builds the cacheable part of the summary.
func (s *annotationService) computeTotals(ctx context.Context, cp *models.Copy) (*ScoreSummary, error) {
	exam, err := s.repo.Exam().GetByID(ctx, nil, cp.ExamID)
	if err != nil {
		return nil, notFoundOr(err, "exam")
	}
	annotations, err := s.repo.Annotation().ListByCopy(ctx, nil, cp.ID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to list annotations")
	}
	scores, err := s.repo.Score().ListScores(ctx, nil, cp.ID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to list scores")
	}

	deltas := scoreDeltas(annotations)
	return &ScoreSummary{
		CopyID:          cp.ID,
		AnnotationCount: len(annotations),
		AnnotationTotal: lo.Sum(deltas),
		ScaledScore:     ComputeFinalScore(deltas, exam.ScaleMax()),
		QuestionTotal:   lo.SumBy(scores, func(q *models.QuestionScore) float64 { return q.Score }),
		QuestionMax:     lo.SumBy(scores, func(q *models.QuestionScore) float64 { return q.MaxScore }),
	}, nil
}

func (s *annotationService) invalidateScore(ctx context.Context, copyID string) {
	if err := s.cache.Delete(ctx, scoreCacheKey(copyID)); err != nil {
		s.logger.Warn("Score cache invalidation failed", "copy_id", copyID, "error", err)
	}
}
