package service

import (
	"context"
	"errors"
	"time"

	"device-sync-server/internal/domain"
	"device-sync-server/internal/repository"

	"github.com/google/uuid"
)

// DeviceService owns the device registry and runs one sync pass per request:
// detect against the stored (or supplied) local snapshot, then resolve.
type DeviceService struct {
	repo     repository.DeviceRepository
	detector *ConflictDetector
}

func NewDeviceService(repo repository.DeviceRepository, detector *ConflictDetector) *DeviceService {
	return &DeviceService{
		repo:     repo,
		detector: detector,
	}
}

func (s *DeviceService) Register(ctx context.Context, req *domain.RegisterDeviceRequest) (*domain.Device, error) {
	deviceID := req.ID
	if deviceID == "" {
		deviceID = uuid.New().String()
	}
	now := time.Now().UTC()

	device := &domain.Device{
		ID:        deviceID,
		Fields:    req.Fields.Clone(),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Create(ctx, device); err != nil {
		return nil, err
	}

	return device, nil
}

func (s *DeviceService) Get(ctx context.Context, deviceID string) (*domain.Device, error) {
	device, err := s.repo.FindByID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, repository.ErrDeviceNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}
	return device, nil
}

func (s *DeviceService) List(ctx context.Context) ([]*domain.Device, error) {
	devices, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	if devices == nil {
		devices = []*domain.Device{}
	}
	return devices, nil
}

// Sync reconciles a device against a remote snapshot. The result is returned
// even when some fields failed; the error is then a *BatchError.
func (s *DeviceService) Sync(ctx context.Context, deviceID string, req *domain.SyncRequest) (*domain.SyncResult, error) {
	local := req.Local
	if local == nil {
		device, err := s.Get(ctx, deviceID)
		if err != nil {
			return nil, err
		}
		local = device.Fields
	}

	conflicts := s.detector.DetectConflicts(local, req.Remote)

	summary, err := s.detector.ResolveConflicts(ctx, deviceID, conflicts)
	result := &domain.SyncResult{
		DeviceID:  deviceID,
		Conflicts: conflicts,
		Summary:   summary,
		SyncedAt:  time.Now().UTC(),
	}

	return result, err
}
