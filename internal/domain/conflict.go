package domain

import "time"

// FieldConflict is one field on which the local and remote snapshots disagree.
// RecommendedStrategy is advisory; callers may override it before resolving.
type FieldConflict struct {
	FieldName           string        `json:"field_name"`
	LocalValue          Value         `json:"local_value"`
	RemoteValue         Value         `json:"remote_value"`
	RecommendedStrategy MergeStrategy `json:"recommended_strategy"`
}

type ResolutionChoice string

const (
	ResolutionUseLocal  ResolutionChoice = "use_local"
	ResolutionUseRemote ResolutionChoice = "use_remote"
	ResolutionCustom    ResolutionChoice = "custom"
)

// ConflictRecord is a conflict persisted for manual review. It moves one way
// from detected (ResolvedAt nil) to resolved and is never deleted.
type ConflictRecord struct {
	ID               string           `json:"id"`
	DeviceID         string           `json:"device_id"`
	FieldName        string           `json:"field_name"`
	LocalValue       Value            `json:"local_value"`
	RemoteValue      Value            `json:"remote_value"`
	Strategy         MergeStrategy    `json:"resolution_strategy"`
	DetectedAt       time.Time        `json:"detected_at"`
	ResolvedAt       *time.Time       `json:"resolved_at"`
	ResolvedBy       *string          `json:"resolved_by"`
	ResolutionNotes  *string          `json:"resolution_notes"`
	ResolutionChoice ResolutionChoice `json:"resolution_choice,omitempty"`
	ResolvedValue    *Value           `json:"resolved_value,omitempty"`
}

func (c *ConflictRecord) IsResolved() bool {
	return c.ResolvedAt != nil
}

// Resolution is what MarkConflictResolved stamps onto a record.
type Resolution struct {
	Choice     ResolutionChoice
	Value      Value
	ResolverID string
	Notes      string
	ResolvedAt time.Time
}

type ManualResolution struct {
	Resolution  ResolutionChoice `json:"resolution" validate:"required,oneof=use_local use_remote custom"`
	CustomValue *Value           `json:"custom_value,omitempty"`
	ResolverID  string           `json:"resolver_id,omitempty" validate:"max=128"`
	Notes       string           `json:"notes,omitempty" validate:"max=2000"`
}

type FieldFailure struct {
	FieldName string        `json:"field_name"`
	Strategy  MergeStrategy `json:"strategy"`
	Error     string        `json:"error"`
}

// ResolveSummary counts successful resolutions only; failed fields are listed
// separately.
type ResolveSummary struct {
	AutoResolved int            `json:"auto_resolved"`
	ManualReview int            `json:"manual_review"`
	ConflictIDs  []string       `json:"conflict_ids,omitempty"`
	Failures     []FieldFailure `json:"failures,omitempty"`
}
