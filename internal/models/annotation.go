package models

import "time"

// AnnotationType is an open enumeration; the constants are the kinds the
// grading UI ships with.
type AnnotationType string

const (
	AnnotationComment    AnnotationType = "comment"
	AnnotationError      AnnotationType = "error"
	AnnotationCorrection AnnotationType = "correction"
	AnnotationScoreDelta AnnotationType = "score_delta"
	AnnotationHighlight  AnnotationType = "highlight"
)

// Annotation is a mark on a copy page in normalised coordinates.
type Annotation struct {
	ID         string         `json:"id" gorm:"primaryKey;size:36"`
	CopyID     string         `json:"copy_id" gorm:"not null;size:36;index:idx_annotations_copy_page,priority:1"`
	PageIndex  int            `json:"page_index" gorm:"not null;index:idx_annotations_copy_page,priority:2"`
	X          float64        `json:"x" gorm:"not null"`
	Y          float64        `json:"y" gorm:"not null"`
	W          float64        `json:"w" gorm:"not null"`
	H          float64        `json:"h" gorm:"not null"`
	Type       AnnotationType `json:"type" gorm:"not null;size:32"`
	Content    *string        `json:"content,omitempty" gorm:"type:text"`
	ScoreDelta *float64       `json:"score_delta,omitempty"`
	Version    int            `json:"version" gorm:"not null;default:0"`

	CreatedBy string    `json:"created_by" gorm:"not null;size:64"`
	UpdatedBy string    `json:"updated_by" gorm:"size:64"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Annotation) TableName() string { return "annotations" }

type QuestionScore struct {
	ID         string    `json:"id" gorm:"primaryKey;size:36"`
	CopyID     string    `json:"copy_id" gorm:"not null;size:36;uniqueIndex:idx_question_scores_copy_question,priority:1"`
	QuestionID string    `json:"question_id" gorm:"not null;size:64;uniqueIndex:idx_question_scores_copy_question,priority:2"`
	Score      float64   `json:"score" gorm:"not null"`
	MaxScore   float64   `json:"max_score" gorm:"not null"`
	UpdatedBy  string    `json:"updated_by" gorm:"not null;size:64"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (QuestionScore) TableName() string { return "question_scores" }

type QuestionRemark struct {
	ID         string    `json:"id" gorm:"primaryKey;size:36"`
	CopyID     string    `json:"copy_id" gorm:"not null;size:36;uniqueIndex:idx_question_remarks_owner,priority:1"`
	QuestionID string    `json:"question_id" gorm:"not null;size:64;uniqueIndex:idx_question_remarks_owner,priority:2"`
	CreatedBy  string    `json:"created_by" gorm:"not null;size:64;uniqueIndex:idx_question_remarks_owner,priority:3"`
	Remark     string    `json:"remark" gorm:"type:text"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (QuestionRemark) TableName() string { return "question_remarks" }
