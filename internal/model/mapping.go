package model

import (
	"time"

	"github.com/google/uuid"
)

type MappingStatus string

const (
	MappingStatusPending MappingStatus = "PENDING"
	MappingStatusActive  MappingStatus = "ACTIVE"
	MappingStatusFailed  MappingStatus = "FAILED"
	// MappingStatusInactive marks a link whose remote record was deleted.
	MappingStatusInactive MappingStatus = "INACTIVE"
)

// SystemMapping links a POS id to a CRM id for one entity type.
type SystemMapping struct {
	ID           uuid.UUID     `db:"id" json:"id"`
	BusinessID   uuid.UUID     `db:"business_id" json:"business_id"`
	EntityType   EntityType    `db:"entity_type" json:"entity_type"`
	PosID        string        `db:"pos_id" json:"pos_id"`
	CrmID        string        `db:"crm_id" json:"crm_id"`
	SyncStatus   MappingStatus `db:"sync_status" json:"sync_status"`
	LastSyncedAt *time.Time    `db:"last_synced_at" json:"last_synced_at,omitempty"`
	CreatedAt    time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time     `db:"updated_at" json:"updated_at"`
}

// MappingStats summarizes mappings of one business.
type MappingStats struct {
	ByEntity map[EntityType]int    `json:"by_entity"`
	ByStatus map[MappingStatus]int `json:"by_status"`
	Total    int                   `json:"total"`
}
