package entity

import (
	"time"

	"github.com/google/uuid"

	"lms-calendar-api/core/entity"
)

// SyncState is per-integration sync bookkeeping. Not user-visible; it bounds the
// cost of repeated imports and lets a crashed import resume from the last
// committed page cursor.
type SyncState struct {
	entity.BaseEntity
	IntegrationID uuid.UUID  `db:"integration_id" json:"integration_id"`
	LastSyncAt    *time.Time `db:"last_sync_at" json:"last_sync_at"`
	PageCursor    string     `db:"page_cursor" json:"page_cursor"`
	LastError     string     `db:"last_error" json:"last_error"`
}

func (SyncState) TableName() string {
	return "calendar_sync_states"
}
