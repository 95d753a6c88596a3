package service

import (
	"errors"
	"fmt"

	"device-sync-server/internal/domain"
)

var (
	ErrConflictNotFound   = errors.New("conflict not found or already resolved")
	ErrDeviceNotFound     = errors.New("device not found")
	ErrMissingCustomValue = errors.New("custom resolution requires a custom_value")
	ErrNotAutoResolvable  = errors.New("strategy cannot be applied automatically")
	ErrMergeTypeMismatch  = errors.New("merge requires two arrays or two objects")
	ErrUnknownStrategy    = errors.New("unknown merge strategy")
	ErrUnknownResolution  = errors.New("unknown resolution")
)

// PersistenceError is a storage failure while resolving a single field.
type PersistenceError struct {
	Op    string
	Field string
	Err   error
}

func (e *PersistenceError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s failed for field %q: %v", e.Op, e.Field, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// BatchError lists the fields that could not be resolved in one
// ResolveConflicts call. Other fields in the batch were still processed.
type BatchError struct {
	DeviceID string
	Errs     []error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("%d field(s) failed to resolve for device %s: %v", len(e.Errs), e.DeviceID, errors.Join(e.Errs...))
}

func (e *BatchError) Unwrap() []error {
	return e.Errs
}

func failureFor(c domain.FieldConflict, err error) domain.FieldFailure {
	return domain.FieldFailure{
		FieldName: c.FieldName,
		Strategy:  c.RecommendedStrategy,
		Error:     err.Error(),
	}
}
