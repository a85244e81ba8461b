package models

import (
	"time"

	"gorm.io/datatypes"
)

type AuditAction string

const (
	AuditImport             AuditAction = "import"
	AuditAttachBooklet      AuditAction = "attach_booklet"
	AuditValidate           AuditAction = "validate"
	AuditIdentify           AuditAction = "identify"
	AuditDeleteCopy         AuditAction = "delete_copy"
	AuditAssign             AuditAction = "assign"
	AuditUnassign           AuditAction = "unassign"
	AuditLock               AuditAction = "lock"
	AuditHeartbeat          AuditAction = "heartbeat"
	AuditUnlock             AuditAction = "unlock"
	AuditExpiredUnlock      AuditAction = "expired_unlock"
	AuditCreateAnnotation   AuditAction = "create_ann"
	AuditUpdateAnnotation   AuditAction = "update_ann"
	AuditDeleteAnnotation   AuditAction = "delete_ann"
	AuditCreateScore        AuditAction = "create_score"
	AuditUpdateScore        AuditAction = "update_score"
	AuditCreateRemark       AuditAction = "create_remark"
	AuditUpdateRemark       AuditAction = "update_remark"
	AuditUpdateAppreciation AuditAction = "update_appreciation"
	AuditDraftSave          AuditAction = "draft_save"
	AuditDraftDelete        AuditAction = "draft_delete"
	AuditFinalize           AuditAction = "finalize"
	AuditFinalizeFailed     AuditAction = "finalize_failed"
)

// SystemActor is recorded for events no corrector or admin triggered.
const SystemActor = "system"

// AuditEvent is append-only. Rows for one copy form a hash chain through
// PrevHash so edits or deletions are detectable.
type AuditEvent struct {
	ID         uint           `json:"id" gorm:"primaryKey;autoIncrement"`
	CopyID     string         `json:"copy_id" gorm:"not null;size:36;index:idx_audit_events_copy_time,priority:1"`
	ActorID    string         `json:"actor_id" gorm:"not null;size:64;index"`
	Action     AuditAction    `json:"action" gorm:"not null;size:32;index"`
	OccurredAt time.Time      `json:"occurred_at" gorm:"not null;index:idx_audit_events_copy_time,priority:2"`
	RequestID  string         `json:"request_id,omitempty" gorm:"size:64"`
	Metadata   datatypes.JSON `json:"metadata" gorm:"type:jsonb"`
	PrevHash   string         `json:"prev_hash" gorm:"size:64"`
	Hash       string         `json:"hash" gorm:"not null;size:64"`
}

func (AuditEvent) TableName() string { return "audit_events" }
