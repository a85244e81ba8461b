package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

type CopyStatus string

const (
	CopyStatusStaging CopyStatus = "Staging"
	CopyStatusReady   CopyStatus = "Ready"
	CopyStatusLocked  CopyStatus = "Locked"
	CopyStatusGraded  CopyStatus = "Graded"
)

// Copy is one student's scanned submission moving through the grading workflow.
type Copy struct {
	ID          string     `json:"id" gorm:"primaryKey;size:36"`
	ExamID      string     `json:"exam_id" gorm:"not null;size:36;index:idx_copies_exam_status,priority:1;uniqueIndex:idx_copies_exam_anonymous,priority:1"`
	AnonymousID string     `json:"anonymous_id" gorm:"not null;size:32;uniqueIndex:idx_copies_exam_anonymous,priority:2"`
	StudentID   *string    `json:"student_id,omitempty" gorm:"size:64;index"`
	Status      CopyStatus `json:"status" gorm:"not null;size:16;default:Staging;index:idx_copies_exam_status,priority:2;index:idx_copies_corrector_status,priority:2"`

	// Dispatch
	AssignedCorrector *string    `json:"assigned_corrector,omitempty" gorm:"size:64;index:idx_copies_corrector_status,priority:1"`
	AssignedAt        *time.Time `json:"assigned_at,omitempty"`
	DispatchRunID     *string    `json:"dispatch_run_id,omitempty" gorm:"size:36;index"`

	// Transition timestamps
	ValidatedAt *time.Time `json:"validated_at,omitempty"`
	LockedAt    *time.Time `json:"locked_at,omitempty"`
	GradedAt    *time.Time `json:"graded_at,omitempty"`

	// Set exactly once on entry to Graded
	FinalArtifact *string  `json:"final_artifact,omitempty" gorm:"size:512"`
	FinalScore    *float64 `json:"final_score,omitempty"`

	GlobalAppreciation string `json:"global_appreciation" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Copy) TableName() string { return "copies" }

func (c *Copy) IsGraded() bool { return c.Status == CopyStatusGraded }

// Booklet is a page group produced by the import pipeline. It is shared
// between copies through CopyBooklet, never owned by one.
type Booklet struct {
	ID        string         `json:"id" gorm:"primaryKey;size:36"`
	ExamID    string         `json:"exam_id" gorm:"not null;size:36;index"`
	Pages     datatypes.JSON `json:"pages" gorm:"type:jsonb"` // []string, page-ordered image refs
	PageCount int            `json:"page_count" gorm:"not null;default:0"`
	CreatedAt time.Time      `json:"created_at"`
}

func (Booklet) TableName() string { return "booklets" }

// PageRefs decodes the ordered page image references.
func (b *Booklet) PageRefs() ([]string, error) {
	var refs []string
	if len(b.Pages) == 0 {
		return refs, nil
	}
	if err := json.Unmarshal(b.Pages, &refs); err != nil {
		return nil, err
	}
	return refs, nil
}

type CopyBooklet struct {
	CopyID    string    `json:"copy_id" gorm:"primaryKey;size:36"`
	BookletID string    `json:"booklet_id" gorm:"primaryKey;size:36;index"`
	Position  int       `json:"position" gorm:"not null;default:0"`
	CreatedAt time.Time `json:"created_at"`
}

func (CopyBooklet) TableName() string { return "copy_booklets" }
