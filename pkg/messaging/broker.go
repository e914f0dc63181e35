package messaging

import (
	"context"
	"time"
)

// SyncEventsChannel carries sync outcome notifications.
const SyncEventsChannel = "sync-events"

// Broker defines the interface for message brokers
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}

// SyncEvent is published when a queue row reaches a terminal state or is
// rescheduled.
type SyncEvent struct {
	ID         string    `json:"id"`
	BusinessID string    `json:"business_id"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Operation  string    `json:"operation"`
	Status     string    `json:"status"`
	RetryCount int       `json:"retry_count"`
	Error      string    `json:"error,omitempty"`
	RemoteID   string    `json:"remote_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
