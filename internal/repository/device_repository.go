package repository

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sort"
	"time"

	"device-sync-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

const (
	docTypeDevice   = "device"
	docTypeConflict = "conflict"

	conflictIndexDDoc = "conflicts"
	conflictIndexName = "by_device_unresolved_detected"
)

// CouchStore keeps devices and conflict records as documents in one CouchDB
// database. Device docs are "device:<id>", conflict docs "conflict:<id>".
type CouchStore struct {
	client   *kivik.Client
	db       *kivik.DB
	pageSize int
}

var _ Store = (*CouchStore)(nil)

type deviceDoc struct {
	ID        string          `json:"_id"`
	Rev       string          `json:"_rev,omitempty"`
	DocType   string          `json:"doc_type"`
	DeviceID  string          `json:"device_id"`
	Fields    domain.Snapshot `json:"fields"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// OpenCouchStore connects to CouchDB and creates the database and indexes if
// they are missing.
func OpenCouchStore(ctx context.Context, url, dbName string) (*CouchStore, error) {
	client, err := kivik.New("couch", url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to CouchDB: %w", err)
	}

	err = withBootstrapRetry(ctx, "couchdb", func() error {
		exists, err := client.DBExists(ctx, dbName)
		if err != nil {
			return fmt.Errorf("failed to check database existence: %w", err)
		}
		if exists {
			return nil
		}
		if err := client.CreateDB(ctx, dbName); err != nil {
			return fmt.Errorf("failed to create database: %w", err)
		}
		log.Printf("[INFO] Created database: %s", dbName)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s := &CouchStore{client: client, db: client.DB(dbName), pageSize: couchPageSize}

	index := map[string]interface{}{
		"fields": []string{"doc_type", "device_id", "resolved_at", "detected_at"},
	}
	if err := s.db.CreateIndex(ctx, conflictIndexDDoc, conflictIndexName, index); err != nil {
		log.Printf("[WARN] failed to create conflict index: %v", err)
	}

	return s, nil
}

func deviceDocID(deviceID string) string {
	return fmt.Sprintf("device:%s", deviceID)
}

func (s *CouchStore) Create(ctx context.Context, device *domain.Device) error {
	doc := deviceDoc{
		ID:        deviceDocID(device.ID),
		DocType:   docTypeDevice,
		DeviceID:  device.ID,
		Fields:    device.Fields,
		CreatedAt: device.CreatedAt,
		UpdatedAt: device.UpdatedAt,
	}
	if doc.Fields == nil {
		doc.Fields = domain.Snapshot{}
	}

	if _, err := s.db.Put(ctx, doc.ID, doc); err != nil {
		if kivik.HTTPStatus(err) == http.StatusConflict {
			return ErrDeviceExists
		}
		return fmt.Errorf("failed to create device: %w", err)
	}

	return nil
}

func (s *CouchStore) FindByID(ctx context.Context, deviceID string) (*domain.Device, error) {
	var doc deviceDoc
	if err := s.db.Get(ctx, deviceDocID(deviceID)).ScanDoc(&doc); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("failed to find device: %w", err)
	}

	return doc.toDomain(), nil
}

func (s *CouchStore) List(ctx context.Context) ([]*domain.Device, error) {
	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"doc_type": docTypeDevice,
		},
	}

	var devices []*domain.Device
	err := s.findAll(ctx, query, func(rows *kivik.ResultSet) error {
		var doc deviceDoc
		if err := rows.ScanDoc(&doc); err != nil {
			return err
		}
		devices = append(devices, doc.toDomain())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })
	return devices, nil
}

// UpdateDeviceField rewrites a single field on the raw document so members
// this service does not model are preserved.
func (s *CouchStore) UpdateDeviceField(ctx context.Context, deviceID, field string, value domain.Value) error {
	docID := deviceDocID(deviceID)

	var rawDoc map[string]interface{}
	if err := s.db.Get(ctx, docID).ScanDoc(&rawDoc); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return ErrDeviceNotFound
		}
		return fmt.Errorf("failed to fetch device for update: %w", err)
	}

	fields, ok := rawDoc["fields"].(map[string]interface{})
	if !ok {
		fields = make(map[string]interface{})
	}
	fields[field] = value.Any()
	rawDoc["fields"] = fields
	rawDoc["updated_at"] = time.Now().UTC()

	if _, err := s.db.Put(ctx, docID, rawDoc); err != nil {
		return fmt.Errorf("failed to update device field: %w", err)
	}

	return nil
}

func (s *CouchStore) Close() error {
	return s.client.Close()
}

func (d *deviceDoc) toDomain() *domain.Device {
	fields := d.Fields
	if fields == nil {
		fields = domain.Snapshot{}
	}
	return &domain.Device{
		ID:        d.DeviceID,
		Fields:    fields,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}
