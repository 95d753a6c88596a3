package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"device-sync-server/internal/domain"
)

// MemoryStore keeps devices and conflicts in process memory. It is meant for
// local development and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	devices   map[string]*domain.Device
	conflicts map[string]*domain.ConflictRecord
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		devices:   make(map[string]*domain.Device),
		conflicts: make(map[string]*domain.ConflictRecord),
	}
}

func (s *MemoryStore) Create(ctx context.Context, device *domain.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.devices[device.ID]; exists {
		return ErrDeviceExists
	}
	s.devices[device.ID] = copyDevice(device)
	return nil
}

func (s *MemoryStore) FindByID(ctx context.Context, deviceID string) (*domain.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, exists := s.devices[deviceID]
	if !exists {
		return nil, ErrDeviceNotFound
	}
	return copyDevice(d), nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*domain.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	devices := make([]*domain.Device, 0, len(s.devices))
	for _, d := range s.devices {
		devices = append(devices, copyDevice(d))
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })
	return devices, nil
}

func (s *MemoryStore) UpdateDeviceField(ctx context.Context, deviceID, field string, value domain.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, exists := s.devices[deviceID]
	if !exists {
		return ErrDeviceNotFound
	}
	if d.Fields == nil {
		d.Fields = domain.Snapshot{}
	}
	d.Fields[field] = value
	d.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) InsertConflict(ctx context.Context, record *domain.ConflictRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *record
	s.conflicts[record.ID] = &c
	return nil
}

func (s *MemoryStore) GetConflict(ctx context.Context, conflictID string) (*domain.ConflictRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, exists := s.conflicts[conflictID]
	if !exists {
		return nil, ErrConflictNotFound
	}
	out := *c
	return &out, nil
}

func (s *MemoryStore) ListUnresolvedConflicts(ctx context.Context, deviceID string) ([]*domain.ConflictRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.ConflictRecord
	for _, c := range s.conflicts {
		if c.DeviceID == deviceID && !c.IsResolved() {
			rec := *c
			out = append(out, &rec)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *MemoryStore) MarkConflictResolved(ctx context.Context, conflictID string, resolution domain.Resolution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, exists := s.conflicts[conflictID]
	if !exists || c.IsResolved() {
		return ErrConflictNotFound
	}
	applyResolution(c, resolution)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func copyDevice(d *domain.Device) *domain.Device {
	out := *d
	out.Fields = d.Fields.Clone()
	return &out
}

func applyResolution(c *domain.ConflictRecord, resolution domain.Resolution) {
	resolvedAt := resolution.ResolvedAt
	value := resolution.Value

	c.ResolvedAt = &resolvedAt
	c.ResolutionChoice = resolution.Choice
	c.ResolvedValue = &value
	if resolution.ResolverID != "" {
		resolver := resolution.ResolverID
		c.ResolvedBy = &resolver
	}
	if resolution.Notes != "" {
		notes := resolution.Notes
		c.ResolutionNotes = &notes
	}
}

func sortNewestFirst(records []*domain.ConflictRecord) {
	sort.Slice(records, func(i, j int) bool {
		if !records[i].DetectedAt.Equal(records[j].DetectedAt) {
			return records[i].DetectedAt.After(records[j].DetectedAt)
		}
		return records[i].ID < records[j].ID
	})
}
