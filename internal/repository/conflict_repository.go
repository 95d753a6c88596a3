package repository

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"device-sync-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

type conflictDoc struct {
	ID               string                  `json:"_id"`
	Rev              string                  `json:"_rev,omitempty"`
	DocType          string                  `json:"doc_type"`
	ConflictID       string                  `json:"conflict_id"`
	DeviceID         string                  `json:"device_id"`
	FieldName        string                  `json:"field_name"`
	LocalValue       domain.Value            `json:"local_value"`
	RemoteValue      domain.Value            `json:"remote_value"`
	Strategy         domain.MergeStrategy    `json:"resolution_strategy"`
	DetectedAt       time.Time               `json:"detected_at"`
	ResolvedAt       *time.Time              `json:"resolved_at"`
	ResolvedBy       *string                 `json:"resolved_by"`
	ResolutionNotes  *string                 `json:"resolution_notes"`
	ResolutionChoice domain.ResolutionChoice `json:"resolution_choice,omitempty"`
	ResolvedValue    *domain.Value           `json:"resolved_value,omitempty"`
}

func conflictDocID(conflictID string) string {
	return fmt.Sprintf("conflict:%s", conflictID)
}

func newConflictDoc(c *domain.ConflictRecord) conflictDoc {
	return conflictDoc{
		ID:               conflictDocID(c.ID),
		DocType:          docTypeConflict,
		ConflictID:       c.ID,
		DeviceID:         c.DeviceID,
		FieldName:        c.FieldName,
		LocalValue:       c.LocalValue,
		RemoteValue:      c.RemoteValue,
		Strategy:         c.Strategy,
		DetectedAt:       c.DetectedAt,
		ResolvedAt:       c.ResolvedAt,
		ResolvedBy:       c.ResolvedBy,
		ResolutionNotes:  c.ResolutionNotes,
		ResolutionChoice: c.ResolutionChoice,
		ResolvedValue:    c.ResolvedValue,
	}
}

func (d *conflictDoc) toDomain() *domain.ConflictRecord {
	return &domain.ConflictRecord{
		ID:               d.ConflictID,
		DeviceID:         d.DeviceID,
		FieldName:        d.FieldName,
		LocalValue:       d.LocalValue,
		RemoteValue:      d.RemoteValue,
		Strategy:         d.Strategy,
		DetectedAt:       d.DetectedAt,
		ResolvedAt:       d.ResolvedAt,
		ResolvedBy:       d.ResolvedBy,
		ResolutionNotes:  d.ResolutionNotes,
		ResolutionChoice: d.ResolutionChoice,
		ResolvedValue:    d.ResolvedValue,
	}
}

func (s *CouchStore) InsertConflict(ctx context.Context, record *domain.ConflictRecord) error {
	doc := newConflictDoc(record)

	if _, err := s.db.Put(ctx, doc.ID, doc); err != nil {
		return fmt.Errorf("failed to create conflict: %w", err)
	}

	return nil
}

func (s *CouchStore) getConflictDoc(ctx context.Context, conflictID string) (*conflictDoc, error) {
	var doc conflictDoc
	if err := s.db.Get(ctx, conflictDocID(conflictID)).ScanDoc(&doc); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil, ErrConflictNotFound
		}
		return nil, fmt.Errorf("failed to find conflict: %w", err)
	}
	return &doc, nil
}

func (s *CouchStore) GetConflict(ctx context.Context, conflictID string) (*domain.ConflictRecord, error) {
	doc, err := s.getConflictDoc(ctx, conflictID)
	if err != nil {
		return nil, err
	}
	return doc.toDomain(), nil
}

func (s *CouchStore) ListUnresolvedConflicts(ctx context.Context, deviceID string) ([]*domain.ConflictRecord, error) {
	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"doc_type":    docTypeConflict,
			"device_id":   deviceID,
			"resolved_at": nil,
		},
		"sort": []map[string]string{
			{"doc_type": "desc"},
			{"device_id": "desc"},
			{"resolved_at": "desc"},
			{"detected_at": "desc"},
		},
		"use_index": []string{conflictIndexDDoc, conflictIndexName},
	}

	var conflicts []*domain.ConflictRecord
	err := s.findAll(ctx, query, func(rows *kivik.ResultSet) error {
		var doc conflictDoc
		if err := rows.ScanDoc(&doc); err != nil {
			return err
		}
		conflicts = append(conflicts, doc.toDomain())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicts: %w", err)
	}

	sortNewestFirst(conflicts)
	return conflicts, nil
}

func (s *CouchStore) MarkConflictResolved(ctx context.Context, conflictID string, resolution domain.Resolution) error {
	doc, err := s.getConflictDoc(ctx, conflictID)
	if err != nil {
		return err
	}
	if doc.ResolvedAt != nil {
		return ErrConflictNotFound
	}

	record := doc.toDomain()
	applyResolution(record, resolution)

	updated := newConflictDoc(record)
	updated.Rev = doc.Rev

	if _, err := s.db.Put(ctx, updated.ID, updated); err != nil {
		if kivik.HTTPStatus(err) == http.StatusConflict {
			return fmt.Errorf("conflict %s was modified concurrently: %w", conflictID, err)
		}
		return fmt.Errorf("failed to mark conflict as resolved: %w", err)
	}

	return nil
}
