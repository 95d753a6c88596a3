package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"device-sync-server/internal/domain"
	"device-sync-server/internal/repository"

	"github.com/google/uuid"
)

// ConflictDetector compares local and remote device snapshots field by field
// and resolves the differences according to a strategy table. It holds no
// mutable state between calls.
type ConflictDetector struct {
	store    repository.SyncStore
	table    *domain.StrategyTable
	fallback MergeFallback
	events   EventSink
	now      func() time.Time
	debug    bool
}

type DetectorOption func(*ConflictDetector)

func WithMergeFallback(f MergeFallback) DetectorOption {
	return func(d *ConflictDetector) { d.fallback = f }
}

func WithEventSink(sink EventSink) DetectorOption {
	return func(d *ConflictDetector) { d.events = sink }
}

// WithDebug logs every per-field decision.
func WithDebug(enabled bool) DetectorOption {
	return func(d *ConflictDetector) { d.debug = enabled }
}

func WithClock(now func() time.Time) DetectorOption {
	return func(d *ConflictDetector) { d.now = now }
}

func NewConflictDetector(store repository.SyncStore, table *domain.StrategyTable, opts ...DetectorOption) *ConflictDetector {
	if table == nil {
		table = domain.DefaultStrategyTable()
	}

	d := &ConflictDetector{
		store:    store,
		table:    table,
		fallback: MergeFallbackPreferRemote,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *ConflictDetector) Table() *domain.StrategyTable {
	return d.table
}

// DetectConflicts reports every configured field whose values differ, in
// table order. Null and absent are the same value.
func (d *ConflictDetector) DetectConflicts(local, remote domain.Snapshot) []domain.FieldConflict {
	return d.DetectFieldConflicts(local, remote, d.table.Fields())
}

// DetectFieldConflicts runs detection over an explicit field list. Fields
// missing from the table are recommended for prompt review.
func (d *ConflictDetector) DetectFieldConflicts(local, remote domain.Snapshot, fields []string) []domain.FieldConflict {
	conflicts := make([]domain.FieldConflict, 0)
	seen := make(map[string]struct{}, len(fields))

	for _, field := range fields {
		if _, dup := seen[field]; dup {
			continue
		}
		seen[field] = struct{}{}

		localValue := local.Get(field)
		remoteValue := remote.Get(field)
		if localValue.Equal(remoteValue) {
			continue
		}

		conflicts = append(conflicts, domain.FieldConflict{
			FieldName:           field,
			LocalValue:          localValue,
			RemoteValue:         remoteValue,
			RecommendedStrategy: d.table.Lookup(field),
		})
	}

	return conflicts
}

// ApplyStrategy is ApplyStrategy with the detector's merge fallback policy.
func (d *ConflictDetector) ApplyStrategy(local, remote domain.Value, strategy domain.MergeStrategy) (domain.Value, error) {
	return applyStrategy(local, remote, strategy, d.fallback)
}

// ResolveConflicts applies auto-resolvable strategies to the device and queues
// manual and prompt conflicts for review. Each field is handled on its own: a
// failure is recorded in the summary and the batch carries on. The returned
// error is a *BatchError when any field failed.
func (d *ConflictDetector) ResolveConflicts(ctx context.Context, deviceID string, conflicts []domain.FieldConflict) (*domain.ResolveSummary, error) {
	summary := &domain.ResolveSummary{}
	var errs []error

	for _, c := range conflicts {
		if d.debug {
			log.Printf("[Sync] device %s field %s: local=%s remote=%s strategy=%s",
				deviceID, c.FieldName, c.LocalValue, c.RemoteValue, c.RecommendedStrategy)
		}

		if c.RecommendedStrategy.NeedsReview() {
			id, err := d.queueForReview(ctx, deviceID, c)
			if err != nil {
				errs = append(errs, err)
				summary.Failures = append(summary.Failures, failureFor(c, err))
				continue
			}
			summary.ManualReview++
			summary.ConflictIDs = append(summary.ConflictIDs, id)
			continue
		}

		if err := d.autoResolve(ctx, deviceID, c); err != nil {
			errs = append(errs, err)
			summary.Failures = append(summary.Failures, failureFor(c, err))
			continue
		}
		summary.AutoResolved++
	}

	if len(errs) > 0 {
		log.Printf("[Sync] device %s: %d auto-resolved, %d queued, %d failed",
			deviceID, summary.AutoResolved, summary.ManualReview, len(errs))
		return summary, &BatchError{DeviceID: deviceID, Errs: errs}
	}

	return summary, nil
}

func (d *ConflictDetector) queueForReview(ctx context.Context, deviceID string, c domain.FieldConflict) (string, error) {
	record := &domain.ConflictRecord{
		ID:          uuid.New().String(),
		DeviceID:    deviceID,
		FieldName:   c.FieldName,
		LocalValue:  c.LocalValue,
		RemoteValue: c.RemoteValue,
		Strategy:    c.RecommendedStrategy,
		DetectedAt:  d.now().UTC(),
	}

	if err := d.store.InsertConflict(ctx, record); err != nil {
		return "", &PersistenceError{Op: "insert conflict", Field: c.FieldName, Err: err}
	}

	d.publish(ctx, &domain.SyncEvent{
		Type:       domain.EventConflictDetected,
		DeviceID:   deviceID,
		ConflictID: record.ID,
		FieldName:  c.FieldName,
		Strategy:   c.RecommendedStrategy,
		OccurredAt: record.DetectedAt,
	})

	return record.ID, nil
}

func (d *ConflictDetector) autoResolve(ctx context.Context, deviceID string, c domain.FieldConflict) error {
	resolved, err := d.ApplyStrategy(c.LocalValue, c.RemoteValue, c.RecommendedStrategy)
	if err != nil {
		return fmt.Errorf("field %q: %w", c.FieldName, err)
	}

	if err := d.store.UpdateDeviceField(ctx, deviceID, c.FieldName, resolved); err != nil {
		return &PersistenceError{Op: "update device field", Field: c.FieldName, Err: err}
	}

	d.publish(ctx, &domain.SyncEvent{
		Type:       domain.EventFieldResolved,
		DeviceID:   deviceID,
		FieldName:  c.FieldName,
		Strategy:   c.RecommendedStrategy,
		Value:      &resolved,
		OccurredAt: d.now().UTC(),
	})

	return nil
}

// ManuallyResolveConflict applies a reviewer's decision to a pending conflict:
// the chosen value is written to the device, then the record is closed.
func (d *ConflictDetector) ManuallyResolveConflict(ctx context.Context, conflictID string, req domain.ManualResolution) (*domain.ConflictRecord, error) {
	record, err := d.store.GetConflict(ctx, conflictID)
	if err != nil {
		if errors.Is(err, repository.ErrConflictNotFound) {
			return nil, ErrConflictNotFound
		}
		return nil, &PersistenceError{Op: "get conflict", Err: err}
	}
	if record.IsResolved() {
		return nil, ErrConflictNotFound
	}

	var value domain.Value
	switch req.Resolution {
	case domain.ResolutionUseLocal:
		value = record.LocalValue
	case domain.ResolutionUseRemote:
		value = record.RemoteValue
	case domain.ResolutionCustom:
		if req.CustomValue == nil {
			return nil, ErrMissingCustomValue
		}
		value = *req.CustomValue
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownResolution, req.Resolution)
	}

	if err := d.store.UpdateDeviceField(ctx, record.DeviceID, record.FieldName, value); err != nil {
		return nil, &PersistenceError{Op: "update device field", Field: record.FieldName, Err: err}
	}

	resolution := domain.Resolution{
		Choice:     req.Resolution,
		Value:      value,
		ResolverID: req.ResolverID,
		Notes:      req.Notes,
		ResolvedAt: d.now().UTC(),
	}
	if err := d.store.MarkConflictResolved(ctx, conflictID, resolution); err != nil {
		if errors.Is(err, repository.ErrConflictNotFound) {
			return nil, ErrConflictNotFound
		}
		return nil, &PersistenceError{Op: "mark conflict resolved", Field: record.FieldName, Err: err}
	}

	record.ResolvedAt = &resolution.ResolvedAt
	record.ResolutionChoice = resolution.Choice
	record.ResolvedValue = &value
	if req.ResolverID != "" {
		record.ResolvedBy = &req.ResolverID
	}
	if req.Notes != "" {
		record.ResolutionNotes = &req.Notes
	}

	d.publish(ctx, &domain.SyncEvent{
		Type:       domain.EventConflictResolved,
		DeviceID:   record.DeviceID,
		ConflictID: record.ID,
		FieldName:  record.FieldName,
		Strategy:   record.Strategy,
		Choice:     resolution.Choice,
		Value:      &value,
		OccurredAt: resolution.ResolvedAt,
	})

	return record, nil
}

func (d *ConflictDetector) GetUnresolvedConflicts(ctx context.Context, deviceID string) ([]*domain.ConflictRecord, error) {
	records, err := d.store.ListUnresolvedConflicts(ctx, deviceID)
	if err != nil {
		return nil, &PersistenceError{Op: "list unresolved conflicts", Err: err}
	}
	if records == nil {
		records = []*domain.ConflictRecord{}
	}
	return records, nil
}

func (d *ConflictDetector) GetConflict(ctx context.Context, conflictID string) (*domain.ConflictRecord, error) {
	record, err := d.store.GetConflict(ctx, conflictID)
	if err != nil {
		if errors.Is(err, repository.ErrConflictNotFound) {
			return nil, ErrConflictNotFound
		}
		return nil, &PersistenceError{Op: "get conflict", Err: err}
	}
	return record, nil
}

func (d *ConflictDetector) publish(ctx context.Context, event *domain.SyncEvent) {
	if d.events == nil {
		return
	}
	if err := d.events.Publish(ctx, event); err != nil {
		log.Printf("[Sync] failed to publish %s event for device %s: %v", event.Type, event.DeviceID, err)
	}
}
