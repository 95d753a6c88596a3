package handler

import (
	"net/http"

	"device-sync-server/internal/domain"
	"device-sync-server/internal/service"
	"device-sync-server/pkg/response"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

type DeviceHandler struct {
	service  *service.DeviceService
	validate *validator.Validate
}

func NewDeviceHandler(service *service.DeviceService) *DeviceHandler {
	return &DeviceHandler{
		service:  service,
		validate: validator.New(),
	}
}

func (h *DeviceHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterDeviceRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	device, err := h.service.Register(r.Context(), &req)
	if err != nil {
		writeServiceError(w, err, "Failed to register device")
		return
	}

	response.Created(w, device)
}

func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	devices, err := h.service.List(r.Context())
	if err != nil {
		writeServiceError(w, err, "Failed to list devices")
		return
	}

	response.Success(w, devices)
}

func (h *DeviceHandler) Get(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["id"]
	if deviceID == "" {
		response.BadRequest(w, "Device ID is required")
		return
	}

	device, err := h.service.Get(r.Context(), deviceID)
	if err != nil {
		writeServiceError(w, err, "Failed to get device")
		return
	}

	response.Success(w, device)
}
