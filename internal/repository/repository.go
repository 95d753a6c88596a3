package repository

import (
	"context"
	"errors"

	"device-sync-server/internal/domain"
)

var (
	ErrDeviceNotFound   = errors.New("device not found")
	ErrDeviceExists     = errors.New("device already exists")
	ErrConflictNotFound = errors.New("conflict not found")
)

// SyncStore is everything conflict resolution needs from storage.
type SyncStore interface {
	UpdateDeviceField(ctx context.Context, deviceID, field string, value domain.Value) error
	InsertConflict(ctx context.Context, record *domain.ConflictRecord) error
	GetConflict(ctx context.Context, conflictID string) (*domain.ConflictRecord, error)
	// ListUnresolvedConflicts returns records with no resolved_at, newest first.
	ListUnresolvedConflicts(ctx context.Context, deviceID string) ([]*domain.ConflictRecord, error)
	MarkConflictResolved(ctx context.Context, conflictID string, resolution domain.Resolution) error
}

type DeviceRepository interface {
	Create(ctx context.Context, device *domain.Device) error
	FindByID(ctx context.Context, deviceID string) (*domain.Device, error)
	List(ctx context.Context) ([]*domain.Device, error)
}

// Store is a backend that serves both device CRUD and conflict persistence.
type Store interface {
	SyncStore
	DeviceRepository
	Close() error
}
