package services

import (
	"context"
	"encoding/json"
	"strings"
	"unicode/utf8"

	apperrors "github.com/SAP-F-2025/copy-workflow-service/internal/errors"
	"github.com/SAP-F-2025/copy-workflow-service/internal/models"
	"github.com/SAP-F-2025/copy-workflow-service/internal/repositories"
	"github.com/SAP-F-2025/copy-workflow-service/internal/validator"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type CreateExamRequest struct {
	Name      string                   `json:"name" validate:"required,max=200"`
	MaxScore  float64                  `json:"max_score" validate:"gte=0"`
	Questions []models.GradingQuestion `json:"questions"`
}

type BookletRequest struct {
	BookletID string   `json:"booklet_id,omitempty" validate:"omitempty,max=36"`
	Pages     []string `json:"pages" validate:"omitempty,dive,page_ref"`
}

type ImportCopyRequest struct {
	ExamID      string           `json:"exam_id" validate:"required,max=36"`
	AnonymousID string           `json:"anonymous_id" validate:"required,max=32"`
	Booklets    []BookletRequest `json:"booklets" validate:"dive"`
}

type copyService struct {
	*workflow
	validator *validator.Validator
}

func (s *copyService) RegisterExam(ctx context.Context, actorID string, req *CreateExamRequest) (*models.Exam, error) {
	var exam *models.Exam
	err := s.run(ctx, "register_exam", actorID, "", func(ctx context.Context) error {
		if err := s.validator.ValidateStruct(req); err != nil {
			return err
		}
		if err := validateGradingStructure(req.Questions, map[string]bool{}); err != nil {
			return err
		}

		structure, err := json.Marshal(lo.Ternary(req.Questions == nil, []models.GradingQuestion{}, req.Questions))
		if err != nil {
			return apperrors.Wrap(apperrors.CodeInternal, err, "failed to encode grading structure")
		}
		now := s.now()
		exam = &models.Exam{
			ID:               uuid.NewString(),
			Name:             strings.TrimSpace(req.Name),
			MaxScore:         lo.Ternary(req.MaxScore > 0, req.MaxScore, models.DefaultExamMaxScore),
			GradingStructure: datatypes.JSON(structure),
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := s.repo.Exam().Create(ctx, nil, exam); err != nil {
			return apperrors.Wrap(apperrors.CodeInternal, err, "failed to create exam")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return exam, nil
}

func validateGradingStructure(questions []models.GradingQuestion, seen map[string]bool) error {
	for _, q := range questions {
		id := strings.TrimSpace(q.ID)
		if id == "" {
			return validationFailed("questions.id", "question id is required", nil)
		}
		if seen[id] {
			return validationFailed("questions.id", "duplicate question id", id)
		}
		seen[id] = true
		if q.MaxScore < 0 {
			return validationFailed("questions.max_score", "must not be negative", q.MaxScore)
		}
		if err := validateGradingStructure(q.Children, seen); err != nil {
			return err
		}
	}
	return nil
}

func (s *copyService) GetExam(ctx context.Context, examID string) (*models.Exam, error) {
	var exam *models.Exam
	err := s.run(ctx, "get_exam", "", examID, func(ctx context.Context) error {
		var err error
		exam, err = s.repo.Exam().GetByID(ctx, nil, examID)
		if err != nil {
			return notFoundOr(err, "exam")
		}
		return nil
	})
	return exam, err
}

// ImportCopy creates a Staging copy together with its booklets.
func (s *copyService) ImportCopy(ctx context.Context, actorID string, req *ImportCopyRequest) (*models.Copy, error) {
	var created *models.Copy
	err := s.run(ctx, "import_copy", actorID, req.AnonymousID, func(ctx context.Context) error {
		if err := s.validator.ValidateStruct(req); err != nil {
			return err
		}
		if _, err := s.repo.Exam().GetByID(ctx, nil, req.ExamID); err != nil {
			return notFoundOr(err, "exam")
		}

		return s.inTx(ctx, func(tx *gorm.DB, cs *changeSet) error {
			exists, err := s.repo.Copy().ExistsByAnonymousID(ctx, tx, req.ExamID, req.AnonymousID)
			if err != nil {
				return apperrors.Wrap(apperrors.CodeInternal, err, "failed to check anonymous id")
			}
			if exists {
				return validationFailed("anonymous_id", "anonymous id already used in this exam", req.AnonymousID)
			}

			now := s.now()
			cp := &models.Copy{
				ID:          uuid.NewString(),
				ExamID:      req.ExamID,
				AnonymousID: req.AnonymousID,
				Status:      models.CopyStatusStaging,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := s.repo.Copy().Create(ctx, tx, cp); err != nil {
				return apperrors.Wrap(apperrors.CodeInternal, err, "failed to create copy")
			}

			pages := 0
			for i := range req.Booklets {
				booklet, err := s.linkBooklet(ctx, tx, cp, &req.Booklets[i], i)
				if err != nil {
					return err
				}
				pages += booklet.PageCount
			}

			created = cp
			return cs.record(cp.ID, actorID, models.AuditImport, map[string]interface{}{
				"anonymous_id":  cp.AnonymousID,
				"booklet_count": len(req.Booklets),
				"page_count":    pages,
			})
		})
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// linkBooklet links an existing booklet when req names one, otherwise it
// creates a new booklet from the given pages.
func (s *copyService) linkBooklet(ctx context.Context, tx *gorm.DB, cp *models.Copy, req *BookletRequest, position int) (*models.Booklet, error) {
	now := s.now()
	var booklet *models.Booklet

	if req.BookletID != "" {
		existing, err := s.repo.Booklet().GetByID(ctx, tx, req.BookletID)
		if err != nil {
			return nil, notFoundOr(err, "booklet")
		}
		if existing.ExamID != cp.ExamID {
			return nil, validationFailed("booklet_id", "booklet belongs to another exam", req.BookletID)
		}
		booklet = existing
	} else {
		if len(req.Pages) == 0 {
			return nil, validationFailed("pages", "booklet needs at least one page", nil)
		}
		pages, err := json.Marshal(req.Pages)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to encode pages")
		}
		booklet = &models.Booklet{
			ID:        uuid.NewString(),
			ExamID:    cp.ExamID,
			Pages:     datatypes.JSON(pages),
			PageCount: len(req.Pages),
			CreatedAt: now,
		}
		if err := s.repo.Booklet().Create(ctx, tx, booklet); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to create booklet")
		}
	}

	link := &models.CopyBooklet{CopyID: cp.ID, BookletID: booklet.ID, Position: position, CreatedAt: now}
	if err := s.repo.Booklet().Link(ctx, tx, link); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to link booklet")
	}
	return booklet, nil
}

// AttachBooklet adds a booklet to a copy that is still in Staging.
func (s *copyService) AttachBooklet(ctx context.Context, actorID, copyID string, req *BookletRequest) (*models.Booklet, error) {
	var attached *models.Booklet
	err := s.run(ctx, "attach_booklet", actorID, copyID, func(ctx context.Context) error {
		if err := s.validator.ValidateStruct(req); err != nil {
			return err
		}
		return s.inCopyTx(ctx, copyID, func(tx *gorm.DB, cp *models.Copy, cs *changeSet) error {
			if cp.Status != models.CopyStatusStaging {
				if cp.IsGraded() {
					return apperrors.ErrAlreadyGraded.With("copy_id", copyID)
				}
				return apperrors.Newf(apperrors.CodeTransition, "booklets can only be attached in Staging, copy is %s", cp.Status).
					With("copy_id", copyID)
			}

			linked, err := s.repo.Booklet().ListForCopy(ctx, tx, copyID)
			if err != nil {
				return apperrors.Wrap(apperrors.CodeInternal, err, "failed to list booklets")
			}
			if req.BookletID != "" && lo.ContainsBy(linked, func(b *models.Booklet) bool { return b.ID == req.BookletID }) {
				return validationFailed("booklet_id", "booklet already attached to this copy", req.BookletID)
			}

			booklet, err := s.linkBooklet(ctx, tx, cp, req, len(linked))
			if err != nil {
				return err
			}
			cp.UpdatedAt = s.now()
			if err := s.saveCopy(ctx, tx, cp); err != nil {
				return err
			}

			attached = booklet
			return cs.record(copyID, actorID, models.AuditAttachBooklet, map[string]interface{}{
				"booklet_id": booklet.ID,
				"page_count": booklet.PageCount,
				"position":   len(linked),
			})
		})
	})
	if err != nil {
		return nil, err
	}
	return attached, nil
}

// ValidateCopy moves a copy from Staging to Ready. The copy must have at
// least one page and none of its booklets may already belong to another
// validated copy.
func (s *copyService) ValidateCopy(ctx context.Context, actorID, copyID string) (*models.Copy, error) {
	var validated *models.Copy
	err := s.run(ctx, "validate_copy", actorID, copyID, func(ctx context.Context) error {
		return s.inCopyTx(ctx, copyID, func(tx *gorm.DB, cp *models.Copy, cs *changeSet) error {
			if _, err := CheckTransition(cp.Status, TransitionValidate); err != nil {
				return err
			}

			booklets, err := s.repo.Booklet().ListForCopy(ctx, tx, copyID)
			if err != nil {
				return apperrors.Wrap(apperrors.CodeInternal, err, "failed to list booklets")
			}
			pages := lo.SumBy(booklets, func(b *models.Booklet) int { return b.PageCount })
			if pages == 0 {
				return apperrors.New(apperrors.CodeTransition, "copy has no pages").With("copy_id", copyID)
			}

			for _, b := range booklets {
				others, err := s.repo.Booklet().LinkedElsewhere(ctx, tx, b.ID, copyID)
				if err != nil {
					return apperrors.Wrap(apperrors.CodeInternal, err, "failed to check booklet ownership")
				}
				if len(others) > 0 {
					return validationFailed("booklets", "booklet already belongs to another copy", b.ID)
				}
			}

			if err := ApplyTransition(cp, TransitionValidate, s.now()); err != nil {
				return err
			}
			if err := s.saveCopy(ctx, tx, cp); err != nil {
				return err
			}

			validated = cp
			return cs.record(copyID, actorID, models.AuditValidate, map[string]interface{}{
				"transition":    string(TransitionValidate),
				"booklet_count": len(booklets),
				"page_count":    pages,
			})
		})
	})
	if err != nil {
		return nil, err
	}
	return validated, nil
}

// DeleteStagingCopy removes a copy that was never validated together with
// everything hanging off it. Its audit rows are kept.
func (s *copyService) DeleteStagingCopy(ctx context.Context, actorID, copyID string) error {
	return s.run(ctx, "delete_copy", actorID, copyID, func(ctx context.Context) error {
		return s.inCopyTx(ctx, copyID, func(tx *gorm.DB, cp *models.Copy, cs *changeSet) error {
			if cp.Status != models.CopyStatusStaging || cp.ValidatedAt != nil {
				if cp.IsGraded() {
					return apperrors.ErrAlreadyGraded.With("copy_id", copyID)
				}
				return apperrors.Newf(apperrors.CodeTransition, "only never-validated Staging copies can be deleted, copy is %s", cp.Status).
					With("copy_id", copyID)
			}

			if err := cs.record(copyID, actorID, models.AuditDeleteCopy, map[string]interface{}{
				"anonymous_id": cp.AnonymousID,
			}); err != nil {
				return err
			}

			cascade := []func() error{
				func() error { return s.repo.Annotation().DeleteByCopy(ctx, tx, copyID) },
				func() error { return s.repo.Score().DeleteByCopy(ctx, tx, copyID) },
				func() error { return s.repo.Draft().DeleteByCopy(ctx, tx, copyID) },
				func() error { return s.repo.Lease().DeleteByCopy(ctx, tx, copyID) },
				func() error { return s.repo.Booklet().UnlinkCopy(ctx, tx, copyID) },
				func() error { return s.repo.Copy().Delete(ctx, tx, copyID) },
			}
			for _, step := range cascade {
				if err := step(); err != nil {
					return apperrors.Wrap(apperrors.CodeInternal, err, "failed to delete copy")
				}
			}
			return nil
		})
	})
}

// IdentifyStudent records who wrote the copy. The audit trail only ever
// sees a salted hash of the student id.
func (s *copyService) IdentifyStudent(ctx context.Context, actorID, copyID, studentID string) (*models.Copy, error) {
	var updated *models.Copy
	err := s.run(ctx, "identify_student", actorID, copyID, func(ctx context.Context) error {
		studentID = strings.TrimSpace(studentID)
		if studentID == "" || len(studentID) > 64 {
			return validationFailed("student_id", "student id must be 1 to 64 characters", nil)
		}
		return s.inCopyTx(ctx, copyID, func(tx *gorm.DB, cp *models.Copy, cs *changeSet) error {
			if cp.IsGraded() {
				return apperrors.ErrAlreadyGraded.With("copy_id", copyID)
			}
			cp.StudentID = &studentID
			cp.UpdatedAt = s.now()
			if err := s.saveCopy(ctx, tx, cp); err != nil {
				return err
			}

			updated = cp
			return cs.record(copyID, actorID, models.AuditIdentify, map[string]interface{}{
				"student_id": studentID,
			})
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// SetAppreciation replaces the global appreciation under the caller's lease.
func (s *copyService) SetAppreciation(ctx context.Context, copyID, actorID, token, text string) (*models.Copy, error) {
	var updated *models.Copy
	err := s.run(ctx, "update_appreciation", actorID, copyID, func(ctx context.Context) error {
		if err := s.validator.Annotation().ValidateText("global_appreciation", text, s.opts.AppreciationMaxLength); err != nil {
			return err
		}
		return s.inCopyTx(ctx, copyID, func(tx *gorm.DB, cp *models.Copy, cs *changeSet) error {
			if _, err := s.requireLease(ctx, tx, cp, actorID, token); err != nil {
				return err
			}
			cp.GlobalAppreciation = text
			cp.UpdatedAt = s.now()
			if err := s.saveCopy(ctx, tx, cp); err != nil {
				return err
			}

			updated = cp
			return cs.record(copyID, actorID, models.AuditUpdateAppreciation, map[string]interface{}{
				"length": utf8.RuneCountInString(text),
			})
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ClearAssignment drops the corrector of a Ready copy so the next dispatch
// run can pick it up again.
func (s *copyService) ClearAssignment(ctx context.Context, actorID, copyID string) (*models.Copy, error) {
	var updated *models.Copy
	err := s.run(ctx, "clear_assignment", actorID, copyID, func(ctx context.Context) error {
		return s.inCopyTx(ctx, copyID, func(tx *gorm.DB, cp *models.Copy, cs *changeSet) error {
			if cp.IsGraded() {
				return apperrors.ErrAlreadyGraded.With("copy_id", copyID)
			}
			if cp.Status != models.CopyStatusReady {
				return apperrors.Newf(apperrors.CodeTransition, "assignment can only be cleared on a Ready copy, copy is %s", cp.Status).
					With("copy_id", copyID)
			}
			updated = cp
			if cp.AssignedCorrector == nil {
				return nil
			}

			previous := *cp.AssignedCorrector
			cp.AssignedCorrector = nil
			cp.AssignedAt = nil
			cp.DispatchRunID = nil
			cp.UpdatedAt = s.now()
			if err := s.saveCopy(ctx, tx, cp); err != nil {
				return err
			}
			return cs.record(copyID, actorID, models.AuditUnassign, map[string]interface{}{
				"corrector_id": previous,
			})
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *copyService) GetCopy(ctx context.Context, copyID string) (*models.Copy, error) {
	var cp *models.Copy
	err := s.run(ctx, "get_copy", "", copyID, func(ctx context.Context) error {
		var err error
		cp, err = s.repo.Copy().GetByID(ctx, nil, copyID)
		if err != nil {
			return notFoundOr(err, "copy")
		}
		return nil
	})
	return cp, err
}

func (s *copyService) ListCopies(ctx context.Context, filters repositories.CopyFilters) ([]*models.Copy, int64, error) {
	var (
		copies []*models.Copy
		total  int64
	)
	err := s.run(ctx, "list_copies", "", filters.ExamID, func(ctx context.Context) error {
		var err error
		copies, total, err = s.repo.Copy().List(ctx, nil, filters)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeInternal, err, "failed to list copies")
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return copies, total, nil
}
