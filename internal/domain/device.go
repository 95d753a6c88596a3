package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"
)

var ErrInvalidSnapshot = errors.New("invalid snapshot: expected an object of fields")

// Snapshot is one side of a device's state at a point in time.
// Absent fields read as null.
type Snapshot map[string]Value

func (s Snapshot) Get(field string) Value {
	if s == nil {
		return Null()
	}
	return s[field]
}

// Clone returns a shallow copy. Values are immutable, so that is a full copy.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

func (s *Snapshot) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*s = nil
		return nil
	}
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return ErrInvalidSnapshot
	}

	var fields map[string]Value
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return errors.Join(ErrInvalidSnapshot, err)
	}
	*s = fields
	return nil
}

// SnapshotFromMap converts a decoded JSON object into a Snapshot.
func SnapshotFromMap(m map[string]any) (Snapshot, error) {
	out := make(Snapshot, len(m))
	for k, raw := range m {
		v, err := FromAny(raw)
		if err != nil {
			return nil, errors.Join(ErrInvalidSnapshot, err)
		}
		out[k] = v
	}
	return out, nil
}

// ToMap is the inverse of SnapshotFromMap.
func (s Snapshot) ToMap() map[string]any {
	out := make(map[string]any, len(s))
	for k, v := range s {
		out[k] = v.Any()
	}
	return out
}

type Device struct {
	ID        string    `json:"id"`
	Fields    Snapshot  `json:"fields"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type RegisterDeviceRequest struct {
	ID     string   `json:"id" validate:"omitempty,max=128"`
	Fields Snapshot `json:"fields" validate:"required"`
}

// SyncRequest carries the remote snapshot fetched from the IoT platform.
// When Local is omitted the stored device fields are used.
type SyncRequest struct {
	Local  Snapshot `json:"local,omitempty"`
	Remote Snapshot `json:"remote" validate:"required"`
}

type DetectRequest struct {
	Local  Snapshot `json:"local" validate:"required"`
	Remote Snapshot `json:"remote" validate:"required"`
}

type SyncResult struct {
	DeviceID  string          `json:"device_id"`
	Conflicts []FieldConflict `json:"conflicts"`
	Summary   *ResolveSummary `json:"summary"`
	SyncedAt  time.Time       `json:"synced_at"`
}
