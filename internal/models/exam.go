package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

const DefaultExamMaxScore = 20.0

type Exam struct {
	ID               string         `json:"id" gorm:"primaryKey;size:36"`
	Name             string         `json:"name" gorm:"not null;size:200"`
	MaxScore         float64        `json:"max_score" gorm:"not null;default:20"`
	GradingStructure datatypes.JSON `json:"grading_structure" gorm:"type:jsonb"` // []GradingQuestion
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

func (Exam) TableName() string { return "exams" }

// GradingQuestion is one node of an exam's grading structure. Parts of a
// question are nested under Children.
type GradingQuestion struct {
	ID       string            `json:"id"`
	Label    string            `json:"label,omitempty"`
	MaxScore float64           `json:"max_score"`
	Children []GradingQuestion `json:"children,omitempty"`
}

func (e *Exam) Questions() ([]GradingQuestion, error) {
	var questions []GradingQuestion
	if len(e.GradingStructure) == 0 {
		return questions, nil
	}
	if err := json.Unmarshal(e.GradingStructure, &questions); err != nil {
		return nil, err
	}
	return questions, nil
}

// FindQuestion walks the grading structure depth-first.
func (e *Exam) FindQuestion(id string) (*GradingQuestion, error) {
	questions, err := e.Questions()
	if err != nil {
		return nil, err
	}
	return findQuestion(questions, id), nil
}

func findQuestion(questions []GradingQuestion, id string) *GradingQuestion {
	for i := range questions {
		if questions[i].ID == id {
			return &questions[i]
		}
		if found := findQuestion(questions[i].Children, id); found != nil {
			return found
		}
	}
	return nil
}

// ScaleMax returns the exam maximum used to scale scores onto /20.
func (e *Exam) ScaleMax() float64 {
	if e == nil || e.MaxScore <= 0 {
		return DefaultExamMaxScore
	}
	return e.MaxScore
}
