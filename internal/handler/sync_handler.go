package handler

import (
	"errors"
	"log"
	"net/http"

	"device-sync-server/internal/domain"
	"device-sync-server/internal/service"
	"device-sync-server/pkg/response"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

// SyncHandler serves sync passes, detection previews and the manual review
// queue.
type SyncHandler struct {
	devices  *service.DeviceService
	detector *service.ConflictDetector
	validate *validator.Validate
}

func NewSyncHandler(devices *service.DeviceService, detector *service.ConflictDetector) *SyncHandler {
	return &SyncHandler{
		devices:  devices,
		detector: detector,
		validate: validator.New(),
	}
}

// Sync answers 200 even when some fields failed; they are listed in
// summary.failures.
func (h *SyncHandler) Sync(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["id"]

	var req domain.SyncRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	result, err := h.devices.Sync(r.Context(), deviceID, &req)
	if err != nil {
		var batchErr *service.BatchError
		if !errors.As(err, &batchErr) || result == nil {
			writeServiceError(w, err, "Failed to sync device")
			return
		}
		log.Printf("[Sync] device %s: %v", deviceID, batchErr)
	}

	response.Success(w, result)
}

func (h *SyncHandler) Detect(w http.ResponseWriter, r *http.Request) {
	var req domain.DetectRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	response.Success(w, h.detector.DetectConflicts(req.Local, req.Remote))
}

func (h *SyncHandler) ListConflicts(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["id"]

	conflicts, err := h.detector.GetUnresolvedConflicts(r.Context(), deviceID)
	if err != nil {
		writeServiceError(w, err, "Failed to list conflicts")
		return
	}

	response.Success(w, conflicts)
}

func (h *SyncHandler) GetConflict(w http.ResponseWriter, r *http.Request) {
	conflictID := mux.Vars(r)["id"]

	conflict, err := h.detector.GetConflict(r.Context(), conflictID)
	if err != nil {
		writeServiceError(w, err, "Failed to get conflict")
		return
	}

	response.Success(w, conflict)
}

func (h *SyncHandler) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	conflictID := mux.Vars(r)["id"]

	var req domain.ManualResolution
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	conflict, err := h.detector.ManuallyResolveConflict(r.Context(), conflictID, req)
	if err != nil {
		writeServiceError(w, err, "Failed to resolve conflict")
		return
	}

	response.Success(w, conflict)
}
