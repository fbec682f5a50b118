package updatelog

import (
	"time"

	"github.com/google/uuid"
)

// EventType is the raw signal stored with an entry. Retirement is not a
// raw type; it is inferred from the change set.
type EventType string

const (
	EventCreated EventType = "created"
	EventUpdated EventType = "updated"
)

// Entry is one immutable row of the patient update log. EventID is a
// UUIDv7, so byte order is arrival order.
type Entry struct {
	EventID     uuid.UUID `json:"event_id"`
	HealthID    string    `json:"health_id"`
	EventType   EventType `json:"event_type"`
	ChangeSet   []byte    `json:"change_set"`
	RequestedBy string    `json:"requested_by,omitempty"`
	ApprovedBy  string    `json:"approved_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
