package services

import (
	"context"
	"math"
	"sort"

	"github.com/SAP-F-2025/copy-workflow-service/internal/cache"
	apperrors "github.com/SAP-F-2025/copy-workflow-service/internal/errors"
	"github.com/SAP-F-2025/copy-workflow-service/internal/models"
	"github.com/SAP-F-2025/copy-workflow-service/internal/validator"
	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
	"gorm.io/gorm"
)

const remarkMaxLength = 2000

type CreateAnnotationRequest struct {
	PageIndex  int      `json:"page_index" validate:"gte=0"`
	X          float64  `json:"x" validate:"gte=0,lt=1"`
	Y          float64  `json:"y" validate:"gte=0,lt=1"`
	W          float64  `json:"w" validate:"gt=0,lte=1"`
	H          float64  `json:"h" validate:"gt=0,lte=1"`
	Type       string   `json:"type" validate:"required,annotation_type"`
	Content    *string  `json:"content,omitempty" validate:"omitempty,max=4000"`
	ScoreDelta *float64 `json:"score_delta,omitempty"`
}

// AnnotationPatch is a partial update. Version, when present, must equal
// the stored version.
type AnnotationPatch struct {
	PageIndex  *int     `mapstructure:"page_index"`
	X          *float64 `mapstructure:"x"`
	Y          *float64 `mapstructure:"y"`
	W          *float64 `mapstructure:"w"`
	H          *float64 `mapstructure:"h"`
	Type       *string  `mapstructure:"type"`
	Content    *string  `mapstructure:"content"`
	ScoreDelta *float64 `mapstructure:"score_delta"`
	Version    *int     `mapstructure:"version"`

	clearContent    bool
	clearScoreDelta bool
}

type QuestionScoreRequest struct {
	QuestionID string  `json:"question_id" validate:"required,max=64"`
	Score      float64 `json:"score" validate:"gte=0"`
}

type QuestionRemarkRequest struct {
	QuestionID string `json:"question_id" validate:"required,max=64"`
	Remark     string `json:"remark"`
}

type annotationService struct {
	*workflow
	validator *validator.Validator
	cache     cache.CacheService
}

// DecodeAnnotationPatch decodes a loosely typed update body. Unknown keys
// are rejected and an explicit null clears content or score_delta.
func DecodeAnnotationPatch(raw map[string]interface{}) (*AnnotationPatch, error) {
	var patch AnnotationPatch
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      &patch,
		ErrorUnused: true,
		TagName:     "mapstructure",
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, validationFailed("patch", err.Error(), nil)
	}

	if v, ok := raw["version"].(float64); ok && v != math.Trunc(v) {
		return nil, validationFailed("version", "must be an integer", v)
	}
	if v, ok := raw["content"]; ok && v == nil {
		patch.clearContent = true
	}
	if v, ok := raw["score_delta"]; ok && v == nil {
		patch.clearScoreDelta = true
	}
	return &patch, nil
}

// apply writes the patch onto a and returns the names of changed fields.
func (p *AnnotationPatch) apply(a *models.Annotation) []string {
	var changed []string
	if p.PageIndex != nil && *p.PageIndex != a.PageIndex {
		a.PageIndex = *p.PageIndex
		changed = append(changed, "page_index")
	}
	for _, f := range []struct {
		name string
		src  *float64
		dst  *float64
	}{
		{"x", p.X, &a.X}, {"y", p.Y, &a.Y}, {"w", p.W, &a.W}, {"h", p.H, &a.H},
	} {
		if f.src != nil && *f.src != *f.dst {
			*f.dst = *f.src
			changed = append(changed, f.name)
		}
	}
	if p.Type != nil && models.AnnotationType(*p.Type) != a.Type {
		a.Type = models.AnnotationType(*p.Type)
		changed = append(changed, "type")
	}
	switch {
	case p.clearContent && a.Content != nil:
		a.Content = nil
		changed = append(changed, "content")
	case p.Content != nil:
		a.Content = p.Content
		changed = append(changed, "content")
	}
	switch {
	case p.clearScoreDelta && a.ScoreDelta != nil:
		a.ScoreDelta = nil
		changed = append(changed, "score_delta")
	case p.ScoreDelta != nil:
		a.ScoreDelta = p.ScoreDelta
		changed = append(changed, "score_delta")
	}
	sort.Strings(changed)
	return changed
}

func (s *annotationService) validatePlacement(ctx context.Context, tx *gorm.DB, copyID string, req *CreateAnnotationRequest) error {
	if err := s.validator.ValidateStruct(req); err != nil {
		return err
	}
	if err := s.validator.Annotation().ValidateScoreDelta(req.ScoreDelta); err != nil {
		return err
	}
	pageCount, err := s.repo.Booklet().PageCount(ctx, tx, copyID)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, err, "failed to count pages")
	}
	return s.validator.Annotation().ValidateRect(validator.Rect{
		PageIndex: req.PageIndex,
		X:         req.X,
		Y:         req.Y,
		W:         req.W,
		H:         req.H,
	}, pageCount)
}

func (s *annotationService) Create(ctx context.Context, copyID, actorID, token string, req *CreateAnnotationRequest) (*models.Annotation, error) {
	var created *models.Annotation
	err := s.run(ctx, "create_annotation", actorID, copyID, func(ctx context.Context) error {
		return s.inCopyTx(ctx, copyID, func(tx *gorm.DB, cp *models.Copy, cs *changeSet) error {
			if _, err := s.requireLease(ctx, tx, cp, actorID, token); err != nil {
				return err
			}
			if err := s.validatePlacement(ctx, tx, copyID, req); err != nil {
				return err
			}

			now := s.now()
			annotation := &models.Annotation{
				ID:         uuid.NewString(),
				CopyID:     copyID,
				PageIndex:  req.PageIndex,
				X:          req.X,
				Y:          req.Y,
				W:          req.W,
				H:          req.H,
				Type:       models.AnnotationType(req.Type),
				Content:    req.Content,
				ScoreDelta: req.ScoreDelta,
				Version:    0,
				CreatedBy:  actorID,
				UpdatedBy:  actorID,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if err := s.repo.Annotation().Create(ctx, tx, annotation); err != nil {
				return apperrors.Wrap(apperrors.CodeInternal, err, "failed to create annotation")
			}

			created = annotation
			return cs.record(copyID, actorID, models.AuditCreateAnnotation, map[string]interface{}{
				"annotation_id":   annotation.ID,
				"page_index":      annotation.PageIndex,
				"type":            string(annotation.Type),
				"has_score_delta": annotation.ScoreDelta != nil,
			})
		})
	})
	if err != nil {
		return nil, err
	}
	s.invalidateScore(ctx, copyID)
	return created, nil
}

// Update applies a patch under optimistic concurrency. Without a version
// the patch wins over concurrent edits unless versions are required.
func (s *annotationService) Update(ctx context.Context, annotationID, actorID, token string, raw map[string]interface{}) (*models.Annotation, error) {
	var updated *models.Annotation
	var copyID string
	err := s.run(ctx, "update_annotation", actorID, annotationID, func(ctx context.Context) error {
		patch, err := DecodeAnnotationPatch(raw)
		if err != nil {
			return err
		}
		if patch.Version == nil && s.opts.RequireAnnotationVersion {
			return validationFailed("version", "is required", nil)
		}

		current, err := s.repo.Annotation().GetByID(ctx, nil, annotationID)
		if err != nil {
			return notFoundOr(err, "annotation")
		}
		copyID = current.CopyID

		return s.inCopyTx(ctx, copyID, func(tx *gorm.DB, cp *models.Copy, cs *changeSet) error {
			if _, err := s.requireLease(ctx, tx, cp, actorID, token); err != nil {
				return err
			}
			annotation, err := s.repo.Annotation().GetByID(ctx, tx, annotationID)
			if err != nil {
				return notFoundOr(err, "annotation")
			}
			if patch.Version != nil && *patch.Version != annotation.Version {
				return apperrors.ErrVersionConflict.
					With("annotation_id", annotationID).
					With("expected_version", *patch.Version).
					With("current_version", annotation.Version)
			}

			changed := patch.apply(annotation)
			if len(changed) == 0 && patch.Version == nil {
				return validationFailed("patch", "contains no changes", nil)
			}
			if err := s.validatePlacement(ctx, tx, copyID, &CreateAnnotationRequest{
				PageIndex:  annotation.PageIndex,
				X:          annotation.X,
				Y:          annotation.Y,
				W:          annotation.W,
				H:          annotation.H,
				Type:       string(annotation.Type),
				Content:    annotation.Content,
				ScoreDelta: annotation.ScoreDelta,
			}); err != nil {
				return err
			}

			fromVersion := annotation.Version
			annotation.Version = fromVersion + 1
			annotation.UpdatedBy = actorID
			annotation.UpdatedAt = s.now()

			ok, err := s.repo.Annotation().UpdateIfVersion(ctx, tx, annotation, fromVersion)
			if err != nil {
				return apperrors.Wrap(apperrors.CodeInternal, err, "failed to update annotation")
			}
			if !ok {
				return apperrors.ErrVersionConflict.With("annotation_id", annotationID)
			}

			updated = annotation
			return cs.record(copyID, actorID, models.AuditUpdateAnnotation, map[string]interface{}{
				"annotation_id":  annotation.ID,
				"from_version":   fromVersion,
				"to_version":     annotation.Version,
				"changed_fields": changed,
			})
		})
	})
	if err != nil {
		return nil, err
	}
	s.invalidateScore(ctx, copyID)
	return updated, nil
}

func (s *annotationService) Delete(ctx context.Context, annotationID, actorID, token string) error {
	var copyID string
	err := s.run(ctx, "delete_annotation", actorID, annotationID, func(ctx context.Context) error {
		current, err := s.repo.Annotation().GetByID(ctx, nil, annotationID)
		if err != nil {
			return notFoundOr(err, "annotation")
		}
		copyID = current.CopyID

		return s.inCopyTx(ctx, copyID, func(tx *gorm.DB, cp *models.Copy, cs *changeSet) error {
			if _, err := s.requireLease(ctx, tx, cp, actorID, token); err != nil {
				return err
			}
			annotation, err := s.repo.Annotation().GetByID(ctx, tx, annotationID)
			if err != nil {
				return notFoundOr(err, "annotation")
			}
			if err := s.repo.Annotation().Delete(ctx, tx, annotationID); err != nil {
				return apperrors.Wrap(apperrors.CodeInternal, err, "failed to delete annotation")
			}
			return cs.record(copyID, actorID, models.AuditDeleteAnnotation, map[string]interface{}{
				"annotation_id": annotation.ID,
				"version":       annotation.Version,
			})
		})
	})
	if err != nil {
		return err
	}
	s.invalidateScore(ctx, copyID)
	return nil
}

func (s *annotationService) List(ctx context.Context, copyID string) ([]*models.Annotation, error) {
	var annotations []*models.Annotation
	err := s.run(ctx, "list_annotations", "", copyID, func(ctx context.Context) error {
		if _, err := s.repo.Copy().GetByID(ctx, nil, copyID); err != nil {
			return notFoundOr(err, "copy")
		}
		var err error
		annotations, err = s.repo.Annotation().ListByCopy(ctx, nil, copyID)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeInternal, err, "failed to list annotations")
		}
		return nil
	})
	return annotations, err
}

// ===== QUESTION SCORES AND REMARKS =====

func (s *annotationService) gradingQuestion(ctx context.Context, tx *gorm.DB, cp *models.Copy, questionID string) (*models.GradingQuestion, error) {
	exam, err := s.repo.Exam().GetByID(ctx, tx, cp.ExamID)
	if err != nil {
		return nil, notFoundOr(err, "exam")
	}
	question, err := exam.FindQuestion(questionID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvariantViolation, err, "exam grading structure is unreadable")
	}
	return question, nil
}

func (s *annotationService) SetQuestionScore(ctx context.Context, copyID, actorID, token string, req *QuestionScoreRequest) (*models.QuestionScore, error) {
	var saved *models.QuestionScore
	err := s.run(ctx, "set_question_score", actorID, copyID, func(ctx context.Context) error {
		if err := s.validator.ValidateStruct(req); err != nil {
			return err
		}
		return s.inCopyTx(ctx, copyID, func(tx *gorm.DB, cp *models.Copy, cs *changeSet) error {
			if _, err := s.requireLease(ctx, tx, cp, actorID, token); err != nil {
				return err
			}
			question, err := s.gradingQuestion(ctx, tx, cp, req.QuestionID)
			if err != nil {
				return err
			}
			if err := s.validator.Annotation().ValidateQuestionScore(question, req.QuestionID, req.Score); err != nil {
				return err
			}

			existing, err := s.repo.Score().GetScore(ctx, tx, copyID, req.QuestionID)
			if err != nil {
				return apperrors.Wrap(apperrors.CodeInternal, err, "failed to load score")
			}

			now := s.now()
			action := models.AuditUpdateScore
			if existing == nil {
				action = models.AuditCreateScore
				existing = &models.QuestionScore{
					ID:         uuid.NewString(),
					CopyID:     copyID,
					QuestionID: req.QuestionID,
					CreatedAt:  now,
				}
			}
			previous := existing.Score
			existing.Score = req.Score
			existing.MaxScore = question.MaxScore
			existing.UpdatedBy = actorID
			existing.UpdatedAt = now
			if err := s.repo.Score().SaveScore(ctx, tx, existing); err != nil {
				return apperrors.Wrap(apperrors.CodeInternal, err, "failed to save score")
			}

			saved = existing
			metadata := map[string]interface{}{
				"question_id": req.QuestionID,
				"score":       req.Score,
				"max_score":   question.MaxScore,
			}
			if action == models.AuditUpdateScore {
				metadata["previous_score"] = previous
			}
			return cs.record(copyID, actorID, action, metadata)
		})
	})
	if err != nil {
		return nil, err
	}
	s.invalidateScore(ctx, copyID)
	return saved, nil
}

func (s *annotationService) SetQuestionRemark(ctx context.Context, copyID, actorID, token string, req *QuestionRemarkRequest) (*models.QuestionRemark, error) {
	var saved *models.QuestionRemark
	err := s.run(ctx, "set_question_remark", actorID, copyID, func(ctx context.Context) error {
		if err := s.validator.ValidateStruct(req); err != nil {
			return err
		}
		if err := s.validator.Annotation().ValidateText("remark", req.Remark, remarkMaxLength); err != nil {
			return err
		}
		return s.inCopyTx(ctx, copyID, func(tx *gorm.DB, cp *models.Copy, cs *changeSet) error {
			if _, err := s.requireLease(ctx, tx, cp, actorID, token); err != nil {
				return err
			}
			question, err := s.gradingQuestion(ctx, tx, cp, req.QuestionID)
			if err != nil {
				return err
			}
			if question == nil {
				return validationFailed("question_id", "is not part of the exam grading structure", req.QuestionID)
			}

			existing, err := s.repo.Score().GetRemark(ctx, tx, copyID, req.QuestionID, actorID)
			if err != nil {
				return apperrors.Wrap(apperrors.CodeInternal, err, "failed to load remark")
			}

			now := s.now()
			action := models.AuditUpdateRemark
			if existing == nil {
				action = models.AuditCreateRemark
				existing = &models.QuestionRemark{
					ID:         uuid.NewString(),
					CopyID:     copyID,
					QuestionID: req.QuestionID,
					CreatedBy:  actorID,
					CreatedAt:  now,
				}
			}
			existing.Remark = req.Remark
			existing.UpdatedAt = now
			if err := s.repo.Score().SaveRemark(ctx, tx, existing); err != nil {
				return apperrors.Wrap(apperrors.CodeInternal, err, "failed to save remark")
			}

			saved = existing
			return cs.record(copyID, actorID, action, map[string]interface{}{
				"question_id": req.QuestionID,
				"length":      len([]rune(req.Remark)),
			})
		})
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

func (s *annotationService) ListScores(ctx context.Context, copyID string) ([]*models.QuestionScore, error) {
	var scores []*models.QuestionScore
	err := s.run(ctx, "list_scores", "", copyID, func(ctx context.Context) error {
		var err error
		scores, err = s.repo.Score().ListScores(ctx, nil, copyID)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeInternal, err, "failed to list scores")
		}
		return nil
	})
	return scores, err
}

func (s *annotationService) ListRemarks(ctx context.Context, copyID string) ([]*models.QuestionRemark, error) {
	var remarks []*models.QuestionRemark
	err := s.run(ctx, "list_remarks", "", copyID, func(ctx context.Context) error {
		var err error
		remarks, err = s.repo.Score().ListRemarks(ctx, nil, copyID)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeInternal, err, "failed to list remarks")
		}
		return nil
	})
	return remarks, err
}
