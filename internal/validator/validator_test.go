package validator

import (
	"testing"

	"github.com/SAP-F-2025/copy-workflow-service/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type annotationRequest struct {
	Type    string `json:"type" validate:"required,annotation_type"`
	ActorID string `json:"actor_id" validate:"required,actor_id"`
	Page    string `json:"page" validate:"omitempty,page_ref"`
}

func TestValidateStructCustomTags(t *testing.T) {
	v := New()

	require.NoError(t, v.ValidateStruct(&annotationRequest{Type: "score_delta", ActorID: "t1"}))

	err := v.ValidateStruct(&annotationRequest{Type: "Score Delta", ActorID: "has space"})
	require.Error(t, err)

	errs, ok := err.(ValidationErrors)
	require.True(t, ok)
	fields := make([]string, 0, len(errs))
	for _, e := range errs {
		fields = append(fields, e.Field)
	}
	assert.ElementsMatch(t, []string{"type", "actor_id"}, fields)
}

func TestValidateRect(t *testing.T) {
	av := NewAnnotationValidator()

	tests := []struct {
		name    string
		rect    Rect
		pages   int
		wantErr bool
	}{
		{"inside page", Rect{PageIndex: 0, X: 0.1, Y: 0.1, W: 0.2, H: 0.1}, 1, false},
		{"touches right edge", Rect{PageIndex: 1, X: 0.7, Y: 0, W: 0.3, H: 1}, 2, false},
		{"float rounding tolerated", Rect{X: 0.1, Y: 0.2, W: 0.9 - 0.0000000000001, H: 0.8}, 1, false},
		{"x equals one", Rect{X: 1, Y: 0, W: 0.1, H: 0.1}, 1, true},
		{"zero width", Rect{X: 0.5, Y: 0.5, W: 0, H: 0.1}, 1, true},
		{"overflows right", Rect{X: 0.8, Y: 0.1, W: 0.3, H: 0.1}, 1, true},
		{"overflows bottom", Rect{X: 0.1, Y: 0.8, W: 0.1, H: 0.3}, 1, true},
		{"page out of range", Rect{PageIndex: 3, X: 0.1, Y: 0.1, W: 0.1, H: 0.1}, 3, true},
		{"negative page", Rect{PageIndex: -1, X: 0.1, Y: 0.1, W: 0.1, H: 0.1}, 3, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := av.ValidateRect(tt.rect, tt.pages)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateQuestionScore(t *testing.T) {
	av := NewAnnotationValidator()
	q := &models.GradingQuestion{ID: "q1", MaxScore: 4}

	assert.NoError(t, av.ValidateQuestionScore(q, "q1", 0))
	assert.NoError(t, av.ValidateQuestionScore(q, "q1", 4))
	assert.Error(t, av.ValidateQuestionScore(q, "q1", 4.5))
	assert.Error(t, av.ValidateQuestionScore(q, "q1", -1))
	assert.Error(t, av.ValidateQuestionScore(nil, "q9", 1))
}

func TestValidateDraftPayload(t *testing.T) {
	av := NewAnnotationValidator()

	assert.NoError(t, av.ValidateDraftPayload([]byte(`{"notes":"x"}`), 64))
	assert.Error(t, av.ValidateDraftPayload(nil, 64))
	assert.Error(t, av.ValidateDraftPayload([]byte(`{"notes":`), 64))
	assert.Error(t, av.ValidateDraftPayload([]byte(`{"notes":"0123456789"}`), 8))
}

func TestValidateText(t *testing.T) {
	av := NewAnnotationValidator()

	assert.NoError(t, av.ValidateText("appreciation", "très bien", 9))
	assert.Error(t, av.ValidateText("appreciation", "très bien!", 9))
}
