package validator

import (
	"encoding/json"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/SAP-F-2025/copy-workflow-service/internal/errors"
	"github.com/SAP-F-2025/copy-workflow-service/internal/models"
)

// geometryEpsilon absorbs float rounding in x+w and y+h sums sent by
// browsers.
const geometryEpsilon = 1e-9

// Rect is an annotation placement in normalised page coordinates.
type Rect struct {
	PageIndex int
	X         float64
	Y         float64
	W         float64
	H         float64
}

// AnnotationValidator handles checks that span several fields or need
// data loaded from storage (page count, grading structure).
type AnnotationValidator struct{}

func NewAnnotationValidator() *AnnotationValidator {
	return &AnnotationValidator{}
}

// ValidateRect enforces (x, y) in [0,1), (w, h) in (0,1], x+w <= 1,
// y+h <= 1 and page_index in [0, pageCount).
func (v *AnnotationValidator) ValidateRect(r Rect, pageCount int) error {
	var errs ValidationErrors

	if r.PageIndex < 0 || r.PageIndex >= pageCount {
		errs = append(errs, *errors.NewValidationErrorWithRule("page_index",
			fmt.Sprintf("must be in [0, %d)", pageCount), "page_range", r.PageIndex))
	}
	if !(r.X >= 0 && r.X < 1) {
		errs = append(errs, *errors.NewValidationErrorWithRule("x", "must be in [0, 1)", "unit_interval", r.X))
	}
	if !(r.Y >= 0 && r.Y < 1) {
		errs = append(errs, *errors.NewValidationErrorWithRule("y", "must be in [0, 1)", "unit_interval", r.Y))
	}
	if !(r.W > 0 && r.W <= 1) {
		errs = append(errs, *errors.NewValidationErrorWithRule("w", "must be in (0, 1]", "unit_interval", r.W))
	}
	if !(r.H > 0 && r.H <= 1) {
		errs = append(errs, *errors.NewValidationErrorWithRule("h", "must be in (0, 1]", "unit_interval", r.H))
	}
	if len(errs) == 0 {
		if r.X+r.W > 1+geometryEpsilon {
			errs = append(errs, *errors.NewValidationErrorWithRule("w", "x + w must not exceed 1", "page_bounds", r.W))
		}
		if r.Y+r.H > 1+geometryEpsilon {
			errs = append(errs, *errors.NewValidationErrorWithRule("h", "y + h must not exceed 1", "page_bounds", r.H))
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ValidateScoreDelta rejects non-finite deltas.
func (v *AnnotationValidator) ValidateScoreDelta(delta *float64) error {
	if delta == nil {
		return nil
	}
	if math.IsNaN(*delta) || math.IsInf(*delta, 0) {
		return ValidationErrors{*errors.NewValidationErrorWithRule("score_delta", "must be a finite number", "finite", nil)}
	}
	return nil
}

// ValidateQuestionScore checks score against the named question of the
// grading structure.
func (v *AnnotationValidator) ValidateQuestionScore(question *models.GradingQuestion, questionID string, score float64) error {
	if question == nil {
		return ValidationErrors{*errors.NewValidationErrorWithRule("question_id",
			"is not part of the exam grading structure", "grading_structure", questionID)}
	}
	if math.IsNaN(score) || score < 0 || score > question.MaxScore {
		return ValidationErrors{*errors.NewValidationErrorWithRule("score",
			fmt.Sprintf("must be in [0, %g]", question.MaxScore), "score_range", score)}
	}
	return nil
}

// ValidateDraftPayload requires a JSON document no larger than maxBytes.
func (v *AnnotationValidator) ValidateDraftPayload(payload []byte, maxBytes int) error {
	if len(payload) == 0 {
		return ValidationErrors{*errors.NewValidationErrorWithRule("payload", "is required", "required", nil)}
	}
	if maxBytes > 0 && len(payload) > maxBytes {
		return ValidationErrors{*errors.NewValidationErrorWithRule("payload",
			fmt.Sprintf("must be at most %d bytes", maxBytes), "max", len(payload))}
	}
	if !json.Valid(payload) {
		return ValidationErrors{*errors.NewValidationErrorWithRule("payload", "must be valid JSON", "json", nil)}
	}
	return nil
}

// ValidateText bounds free text by rune count.
func (v *AnnotationValidator) ValidateText(field, text string, maxLen int) error {
	if maxLen > 0 && utf8.RuneCountInString(text) > maxLen {
		return ValidationErrors{*errors.NewValidationErrorWithRule(field,
			fmt.Sprintf("must be at most %d characters", maxLen), "max", utf8.RuneCountInString(text))}
	}
	return nil
}
