package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"device-sync-server/internal/domain"
	"device-sync-server/internal/repository"
	"device-sync-server/internal/service"
	"device-sync-server/pkg/response"

	"github.com/go-playground/validator/v10"
)

type fieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// decodeAndValidate reads a JSON body into dst and runs struct validation.
// It writes the 400 response itself and reports whether the handler may
// continue.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, validate *validator.Validate, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, domain.ErrInvalidSnapshot) {
			response.BadRequest(w, domain.ErrInvalidSnapshot.Error())
			return false
		}
		response.BadRequest(w, "Invalid request payload")
		return false
	}

	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			details := make([]fieldError, 0, len(verrs))
			for _, fe := range verrs {
				details = append(details, fieldError{Field: fe.Field(), Rule: fe.Tag()})
			}
			response.ErrorWithDetails(w, http.StatusBadRequest, "Validation failed", details)
			return false
		}
		response.BadRequest(w, err.Error())
		return false
	}

	return true
}

// writeServiceError maps service and repository errors onto status codes.
func writeServiceError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrDeviceNotFound), errors.Is(err, repository.ErrDeviceNotFound):
		response.NotFound(w, service.ErrDeviceNotFound.Error())
	case errors.Is(err, service.ErrConflictNotFound):
		response.NotFound(w, service.ErrConflictNotFound.Error())
	case errors.Is(err, repository.ErrDeviceExists):
		response.Conflict(w, repository.ErrDeviceExists.Error())
	case errors.Is(err, service.ErrMissingCustomValue), errors.Is(err, service.ErrUnknownResolution):
		response.BadRequest(w, err.Error())
	default:
		log.Printf("[ERROR] %s: %v", fallback, err)
		response.InternalError(w, fallback)
	}
}
