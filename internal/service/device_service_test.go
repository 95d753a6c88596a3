package service

import (
	"context"
	"errors"
	"testing"

	"device-sync-server/internal/domain"
	"device-sync-server/internal/repository"
)

func newTestDeviceService(store *mockStore) *DeviceService {
	return NewDeviceService(store, NewConflictDetector(store, nil))
}

func TestDeviceService_Register(t *testing.T) {
	store := newMockStore()
	service := newTestDeviceService(store)

	req := &domain.RegisterDeviceRequest{
		Fields: domain.Snapshot{"name": domain.String("Sensor")},
	}

	device, err := service.Register(context.Background(), req)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if device.ID == "" {
		t.Error("expected device ID to be generated")
	}
	if !device.Fields["name"].Equal(domain.String("Sensor")) {
		t.Errorf("expected name Sensor, got %s", device.Fields["name"])
	}

	req.Fields["name"] = domain.String("changed")
	stored := store.device(device.ID)
	if !stored.Fields["name"].Equal(domain.String("Sensor")) {
		t.Error("expected stored fields to be independent of the request")
	}

	_, err = service.Register(context.Background(), &domain.RegisterDeviceRequest{ID: device.ID, Fields: domain.Snapshot{}})
	if !errors.Is(err, repository.ErrDeviceExists) {
		t.Errorf("expected ErrDeviceExists, got %v", err)
	}
}

func TestDeviceService_GetAndList(t *testing.T) {
	store := newMockStore()
	service := newTestDeviceService(store)
	ctx := context.Background()

	store.Create(ctx, &domain.Device{ID: "d2"})
	store.Create(ctx, &domain.Device{ID: "d1"})

	list, err := service.List(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(list) != 2 || list[0].ID != "d1" {
		t.Errorf("expected 2 devices starting with d1, got %d", len(list))
	}

	if _, err := service.Get(ctx, "d1"); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if _, err := service.Get(ctx, "d9"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("expected ErrDeviceNotFound, got %v", err)
	}

	empty, err := newTestDeviceService(newMockStore()).List(ctx)
	if err != nil || empty == nil {
		t.Errorf("expected empty non-nil list, got %#v, %v", empty, err)
	}
}

func TestDeviceService_SyncUsesStoredFields(t *testing.T) {
	store := newMockStore()
	service := newTestDeviceService(store)
	ctx := context.Background()

	store.Create(ctx, &domain.Device{ID: "dev-1", Fields: domain.Snapshot{
		"name":   domain.String("Local Device"),
		"status": domain.String("online"),
		"tags":   strs("a", "b"),
	}})

	result, err := service.Sync(ctx, "dev-1", &domain.SyncRequest{
		Remote: domain.Snapshot{
			"name":   domain.String("Cloud Name"),
			"status": domain.String("offline"),
			"tags":   strs("b", "c"),
		},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(result.Conflicts) != 3 {
		t.Fatalf("expected 3 conflicts, got %d", len(result.Conflicts))
	}
	if result.Summary.AutoResolved != 3 || result.Summary.ManualReview != 0 {
		t.Errorf("expected 3/0, got %d/%d", result.Summary.AutoResolved, result.Summary.ManualReview)
	}

	device := store.device("dev-1")
	if !device.Fields["name"].Equal(domain.String("Local Device")) {
		t.Errorf("expected local name kept, got %s", device.Fields["name"])
	}
	if !device.Fields["status"].Equal(domain.String("offline")) {
		t.Errorf("expected remote status, got %s", device.Fields["status"])
	}
	if !device.Fields["tags"].Equal(strs("a", "b", "c")) {
		t.Errorf("expected merged tags, got %s", device.Fields["tags"])
	}
}

func TestDeviceService_SyncWithExplicitLocal(t *testing.T) {
	store := newMockStore()
	service := newTestDeviceService(store)

	result, err := service.Sync(context.Background(), "unregistered", &domain.SyncRequest{
		Local:  domain.Snapshot{"metadata": obj("a", 1.0)},
		Remote: domain.Snapshot{"metadata": obj("a", 2.0)},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.Summary.ManualReview != 1 || len(store.inserts) != 1 {
		t.Errorf("expected one queued conflict, got %#v", result.Summary)
	}
}

func TestDeviceService_SyncUnknownDevice(t *testing.T) {
	service := newTestDeviceService(newMockStore())

	_, err := service.Sync(context.Background(), "missing", &domain.SyncRequest{Remote: domain.Snapshot{}})
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("expected ErrDeviceNotFound, got %v", err)
	}
}

func TestDeviceService_SyncPartialFailureKeepsResult(t *testing.T) {
	store := newMockStore()
	store.failUpdate["status"] = errStoreDown
	service := newTestDeviceService(store)
	ctx := context.Background()

	store.Create(ctx, &domain.Device{ID: "dev-1", Fields: domain.Snapshot{
		"status":        domain.String("online"),
		"battery_level": domain.Number(90),
	}})

	result, err := service.Sync(ctx, "dev-1", &domain.SyncRequest{
		Remote: domain.Snapshot{
			"status":        domain.String("offline"),
			"battery_level": domain.Number(30),
		},
	})

	var batchErr *BatchError
	if !errors.As(err, &batchErr) {
		t.Fatalf("expected *BatchError, got %v", err)
	}
	if result == nil || result.Summary.AutoResolved != 1 || len(result.Summary.Failures) != 1 {
		t.Fatalf("expected result with one success and one failure, got %#v", result)
	}
	if !store.device("dev-1").Fields["battery_level"].Equal(domain.Number(30)) {
		t.Error("expected battery_level to be updated")
	}
}
