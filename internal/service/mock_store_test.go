package service

import (
	"context"
	"errors"
	"sort"
	"sync"

	"device-sync-server/internal/domain"
	"device-sync-server/internal/repository"
)

var errStoreDown = errors.New("store unavailable")

type fieldUpdate struct {
	DeviceID string
	Field    string
	Value    domain.Value
}

// mockStore records every call so tests can assert on the exact writes.
// failUpdate and failInsert inject errors per field name.
type mockStore struct {
	mu         sync.Mutex
	devices    map[string]*domain.Device
	conflicts  map[string]*domain.ConflictRecord
	updates    []fieldUpdate
	inserts    []*domain.ConflictRecord
	failUpdate map[string]error
	failInsert map[string]error
}

func newMockStore() *mockStore {
	return &mockStore{
		devices:    make(map[string]*domain.Device),
		conflicts:  make(map[string]*domain.ConflictRecord),
		failUpdate: make(map[string]error),
		failInsert: make(map[string]error),
	}
}

func (m *mockStore) Create(ctx context.Context, device *domain.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.devices[device.ID]; exists {
		return repository.ErrDeviceExists
	}
	d := *device
	d.Fields = device.Fields.Clone()
	m.devices[device.ID] = &d
	return nil
}

func (m *mockStore) FindByID(ctx context.Context, deviceID string) (*domain.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, exists := m.devices[deviceID]
	if !exists {
		return nil, repository.ErrDeviceNotFound
	}
	out := *d
	out.Fields = d.Fields.Clone()
	return &out, nil
}

func (m *mockStore) List(ctx context.Context) ([]*domain.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Device
	for _, d := range m.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockStore) UpdateDeviceField(ctx context.Context, deviceID, field string, value domain.Value) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failUpdate[field]; err != nil {
		return err
	}
	m.updates = append(m.updates, fieldUpdate{DeviceID: deviceID, Field: field, Value: value})
	if d, exists := m.devices[deviceID]; exists {
		if d.Fields == nil {
			d.Fields = domain.Snapshot{}
		}
		d.Fields[field] = value
	}
	return nil
}

func (m *mockStore) InsertConflict(ctx context.Context, record *domain.ConflictRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failInsert[record.FieldName]; err != nil {
		return err
	}
	c := *record
	m.inserts = append(m.inserts, &c)
	m.conflicts[record.ID] = &c
	return nil
}

func (m *mockStore) GetConflict(ctx context.Context, conflictID string) (*domain.ConflictRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, exists := m.conflicts[conflictID]
	if !exists {
		return nil, repository.ErrConflictNotFound
	}
	out := *c
	return &out, nil
}

func (m *mockStore) ListUnresolvedConflicts(ctx context.Context, deviceID string) ([]*domain.ConflictRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.ConflictRecord
	for _, c := range m.conflicts {
		if c.DeviceID == deviceID && c.ResolvedAt == nil {
			rec := *c
			out = append(out, &rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.After(out[j].DetectedAt) })
	return out, nil
}

func (m *mockStore) MarkConflictResolved(ctx context.Context, conflictID string, resolution domain.Resolution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, exists := m.conflicts[conflictID]
	if !exists || c.ResolvedAt != nil {
		return repository.ErrConflictNotFound
	}
	at := resolution.ResolvedAt
	value := resolution.Value
	c.ResolvedAt = &at
	c.ResolutionChoice = resolution.Choice
	c.ResolvedValue = &value
	return nil
}

func (m *mockStore) device(id string) *domain.Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.devices[id]
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.SyncEvent
	err    error
}

func (r *recordingSink) Publish(ctx context.Context, event *domain.SyncEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *event)
	return r.err
}

func (r *recordingSink) types() []domain.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}
