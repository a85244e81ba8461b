package models

import (
	"time"

	"gorm.io/datatypes"
)

type FinalizeJobStatus string

const (
	FinalizeJobQueued    FinalizeJobStatus = "queued"
	FinalizeJobRunning   FinalizeJobStatus = "running"
	FinalizeJobSucceeded FinalizeJobStatus = "succeeded"
	FinalizeJobFailed    FinalizeJobStatus = "failed"
)

// FinalizeJob is a durable request to finalise a copy, consumed by the
// worker pool.
type FinalizeJob struct {
	ID            string            `json:"id" gorm:"primaryKey;size:36"`
	CopyID        string            `json:"copy_id" gorm:"not null;size:36;index"`
	RequestedBy   string            `json:"requested_by" gorm:"not null;size:64"`
	LeaseToken    string            `json:"-" gorm:"size:64"`
	Status        FinalizeJobStatus `json:"status" gorm:"not null;size:16;index:idx_finalize_jobs_runnable,priority:1"`
	Attempts      int               `json:"attempts" gorm:"not null;default:0"`
	MaxAttempts   int               `json:"max_attempts" gorm:"not null;default:3"`
	LastErrorCode string            `json:"last_error_code,omitempty" gorm:"size:32"`
	LastError     string            `json:"last_error,omitempty" gorm:"type:text"`
	NextRunAt     time.Time         `json:"next_run_at" gorm:"index:idx_finalize_jobs_runnable,priority:2"`
	LockedAt      *time.Time        `json:"locked_at,omitempty"`
	FinishedAt    *time.Time        `json:"finished_at,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

func (FinalizeJob) TableName() string { return "finalize_jobs" }

func (j *FinalizeJob) Done() bool {
	return j.Status == FinalizeJobSucceeded || j.Status == FinalizeJobFailed
}

// DispatchRun records one atomic batch of assignments.
type DispatchRun struct {
	ID           string         `json:"id" gorm:"primaryKey;size:36"`
	ExamID       string         `json:"exam_id" gorm:"not null;size:36;index"`
	CorrectorIDs datatypes.JSON `json:"corrector_ids" gorm:"type:jsonb"` // []string in dispatch order
	CopyCount    int            `json:"copy_count" gorm:"not null"`
	CreatedBy    string         `json:"created_by" gorm:"not null;size:64"`
	CreatedAt    time.Time      `json:"created_at"`
}

func (DispatchRun) TableName() string { return "dispatch_runs" }

// CopyArtifact is the flattened output of a graded copy, written once.
type CopyArtifact struct {
	ID          string         `json:"id" gorm:"primaryKey;size:36"`
	CopyID      string         `json:"copy_id" gorm:"not null;size:36;uniqueIndex"`
	Digest      string         `json:"digest" gorm:"not null;size:64"`
	Size        int64          `json:"size"`
	ContentType string         `json:"content_type" gorm:"size:100"`
	Location    string         `json:"location" gorm:"size:512"`
	Data        []byte         `json:"-"`
	Envelope    datatypes.JSON `json:"envelope" gorm:"type:jsonb"`
	CreatedAt   time.Time      `json:"created_at"`
}

func (CopyArtifact) TableName() string { return "copy_artifacts" }

// ArtifactEnvelope is the descriptive header stored next to artifact bytes.
type ArtifactEnvelope struct {
	CopyID          string    `json:"copy_id"`
	AnonymousID     string    `json:"anonymous_id"`
	FinalScore      float64   `json:"final_score"`
	AnnotationCount int       `json:"annotation_count"`
	PageCount       int       `json:"page_count"`
	Digest          string    `json:"digest"`
	FlattenedAt     time.Time `json:"flattened_at"`
}
