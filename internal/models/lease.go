package models

import (
	"time"

	"gorm.io/datatypes"
)

// Lease is the exclusive right of one corrector to mutate a copy. The
// token is the capability; it is only ever handed back to the owner.
type Lease struct {
	ID          string    `json:"id" gorm:"primaryKey;size:36"`
	CopyID      string    `json:"copy_id" gorm:"not null;size:36;uniqueIndex"`
	OwnerID     string    `json:"owner_id" gorm:"not null;size:64;index"`
	Token       string    `json:"-" gorm:"not null;size:64"`
	ExpiresAt   time.Time `json:"expires_at" gorm:"not null;index"`
	RefreshedAt time.Time `json:"refreshed_at"`
	CreatedAt   time.Time `json:"created_at"`
}

func (Lease) TableName() string { return "copy_leases" }

// Active reports whether the lease is valid at now.
func (l *Lease) Active(now time.Time) bool {
	return now.Before(l.ExpiresAt)
}

// Draft is a corrector's autosaved, non-authoritative work on a copy.
type Draft struct {
	ID        string         `json:"id" gorm:"primaryKey;size:36"`
	CopyID    string         `json:"copy_id" gorm:"not null;size:36;uniqueIndex:idx_copy_drafts_owner,priority:1"`
	OwnerID   string         `json:"owner_id" gorm:"not null;size:64;uniqueIndex:idx_copy_drafts_owner,priority:2"`
	ClientID  string         `json:"client_id" gorm:"not null;size:64"`
	Payload   datatypes.JSON `json:"payload" gorm:"type:jsonb"`
	Version   int            `json:"version" gorm:"not null;default:1"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func (Draft) TableName() string { return "copy_drafts" }
