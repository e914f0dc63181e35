package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type QueueStatus string

const (
	QueueStatusPending    QueueStatus = "PENDING"
	QueueStatusProcessing QueueStatus = "PROCESSING"
	QueueStatusRetry      QueueStatus = "RETRY"
	QueueStatusFailed     QueueStatus = "FAILED"
	QueueStatusCompleted  QueueStatus = "COMPLETED"
)

// LiveStatuses are the states in which a row still owns its entity.
// At most one row per (entity_type, entity_id) may be in one of them.
var LiveStatuses = []QueueStatus{QueueStatusPending, QueueStatusProcessing, QueueStatusRetry}

func (s QueueStatus) Live() bool {
	for _, ls := range LiveStatuses {
		if ls == s {
			return true
		}
	}
	return false
}

func (s QueueStatus) Terminal() bool {
	return s == QueueStatusFailed || s == QueueStatusCompleted
}

// SyncQueueEntry is one outbound POS -> CRM job.
type SyncQueueEntry struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	BusinessID   uuid.UUID       `db:"business_id" json:"business_id"`
	EntityType   EntityType      `db:"entity_type" json:"entity_type"`
	EntityID     uuid.UUID       `db:"entity_id" json:"entity_id"`
	Operation    Operation       `db:"operation" json:"operation"`
	Priority     Priority        `db:"priority" json:"priority"`
	Status       QueueStatus     `db:"status" json:"status"`
	RetryCount   int             `db:"retry_count" json:"retry_count"`
	Payload      json.RawMessage `db:"payload" json:"payload,omitempty"`
	ErrorMessage *string         `db:"error_message" json:"error_message,omitempty"`
	ScheduledFor time.Time       `db:"scheduled_for" json:"scheduled_for"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
	ProcessedAt  *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
}

// QueueStats counts rows per status.
type QueueStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Retry      int `json:"retry"`
	Failed     int `json:"failed"`
	Completed  int `json:"completed"`
	Total      int `json:"total"`
}

// Add increments the counter for status by n.
func (s *QueueStats) Add(status QueueStatus, n int) {
	switch status {
	case QueueStatusPending:
		s.Pending += n
	case QueueStatusProcessing:
		s.Processing += n
	case QueueStatusRetry:
		s.Retry += n
	case QueueStatusFailed:
		s.Failed += n
	case QueueStatusCompleted:
		s.Completed += n
	}
	s.Total += n
}

// QueueEntryFilter narrows queue listings.
type QueueEntryFilter struct {
	BusinessID *uuid.UUID
	Status     *QueueStatus
	EntityType *EntityType
	Limit      int
}
