package domain

import "time"

type EventType string

const (
	EventConflictDetected EventType = "conflict_detected"
	EventFieldResolved    EventType = "field_resolved"
	EventConflictResolved EventType = "conflict_resolved"
)

// SyncEvent describes a side effect of conflict resolution. Events are emitted
// after the corresponding write succeeded.
type SyncEvent struct {
	Type       EventType        `json:"type"`
	DeviceID   string           `json:"device_id"`
	ConflictID string           `json:"conflict_id,omitempty"`
	FieldName  string           `json:"field_name"`
	Strategy   MergeStrategy    `json:"strategy,omitempty"`
	Choice     ResolutionChoice `json:"choice,omitempty"`
	Value      *Value           `json:"value,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}
