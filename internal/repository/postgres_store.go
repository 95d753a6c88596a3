package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"device-sync-server/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS devices (
    id          TEXT PRIMARY KEY,
    fields      JSONB NOT NULL DEFAULT '{}'::jsonb,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS device_sync_conflicts (
    id                  UUID PRIMARY KEY,
    device_id           TEXT NOT NULL,
    field_name          TEXT NOT NULL,
    local_value         JSONB,
    remote_value        JSONB,
    resolution_strategy TEXT NOT NULL,
    detected_at         TIMESTAMPTZ NOT NULL,
    resolved_at         TIMESTAMPTZ,
    resolved_by         TEXT,
    resolution_notes    TEXT,
    resolution_choice   TEXT,
    resolved_value      JSONB
);

CREATE INDEX IF NOT EXISTS device_sync_conflicts_unresolved_idx
    ON device_sync_conflicts (device_id, detected_at DESC)
    WHERE resolved_at IS NULL;
`

const conflictColumns = `id::text, device_id, field_name, local_value, remote_value, resolution_strategy,
    detected_at, resolved_at, resolved_by, resolution_notes, resolution_choice, resolved_value`

// PostgresStore keeps devices as JSONB rows and conflicts in
// device_sync_conflicts.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

func OpenPostgresStore(ctx context.Context, databaseURL string, maxConns int) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres url: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	err = withBootstrapRetry(ctx, "postgres", func() error {
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("failed to ping postgres: %w", err)
		}
		if _, err := pool.Exec(ctx, postgresSchema); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, err
	}

	log.Printf("[INFO] Postgres store ready")
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Create(ctx context.Context, device *domain.Device) error {
	fields := device.Fields
	if fields == nil {
		fields = domain.Snapshot{}
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to encode device fields: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
        INSERT INTO devices (id, fields, created_at, updated_at)
        VALUES (@id, @fields::jsonb, @created_at, @updated_at)`,
		pgx.NamedArgs{
			"id":         device.ID,
			"fields":     string(data),
			"created_at": device.CreatedAt,
			"updated_at": device.UpdatedAt,
		})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDeviceExists
		}
		return fmt.Errorf("failed to create device: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, deviceID string) (*domain.Device, error) {
	var (
		d      domain.Device
		fields []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, fields, created_at, updated_at FROM devices WHERE id = $1`, deviceID,
	).Scan(&d.ID, &fields, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("failed to find device: %w", err)
	}

	if err := json.Unmarshal(fields, &d.Fields); err != nil {
		return nil, fmt.Errorf("failed to decode device fields: %w", err)
	}
	return &d, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*domain.Device, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, fields, created_at, updated_at FROM devices ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	var devices []*domain.Device
	for rows.Next() {
		var (
			d      domain.Device
			fields []byte
		)
		if err := rows.Scan(&d.ID, &fields, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		if err := json.Unmarshal(fields, &d.Fields); err != nil {
			return nil, fmt.Errorf("failed to decode fields of device %s: %w", d.ID, err)
		}
		devices = append(devices, &d)
	}
	return devices, rows.Err()
}

func (s *PostgresStore) UpdateDeviceField(ctx context.Context, deviceID, field string, value domain.Value) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode value: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
        UPDATE devices
        SET fields = jsonb_set(fields, ARRAY[$2::text], $3::jsonb, true),
            updated_at = now()
        WHERE id = $1`,
		deviceID, field, string(data))
	if err != nil {
		return fmt.Errorf("failed to update device field: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

func (s *PostgresStore) InsertConflict(ctx context.Context, record *domain.ConflictRecord) error {
	local, err := json.Marshal(record.LocalValue)
	if err != nil {
		return fmt.Errorf("failed to encode local value: %w", err)
	}
	remote, err := json.Marshal(record.RemoteValue)
	if err != nil {
		return fmt.Errorf("failed to encode remote value: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
        INSERT INTO device_sync_conflicts
            (id, device_id, field_name, local_value, remote_value, resolution_strategy, detected_at)
        VALUES (@id, @device_id, @field_name, @local::jsonb, @remote::jsonb, @strategy, @detected_at)`,
		pgx.NamedArgs{
			"id":          record.ID,
			"device_id":   record.DeviceID,
			"field_name":  record.FieldName,
			"local":       string(local),
			"remote":      string(remote),
			"strategy":    string(record.Strategy),
			"detected_at": record.DetectedAt,
		})
	if err != nil {
		return fmt.Errorf("failed to create conflict: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetConflict(ctx context.Context, conflictID string) (*domain.ConflictRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+conflictColumns+` FROM device_sync_conflicts WHERE id::text = $1`, conflictID)

	record, err := scanConflict(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConflictNotFound
		}
		return nil, fmt.Errorf("failed to find conflict: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) ListUnresolvedConflicts(ctx context.Context, deviceID string) ([]*domain.ConflictRecord, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT `+conflictColumns+`
        FROM device_sync_conflicts
        WHERE device_id = $1 AND resolved_at IS NULL
        ORDER BY detected_at DESC, id`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicts: %w", err)
	}
	defer rows.Close()

	var out []*domain.ConflictRecord
	for rows.Next() {
		record, err := scanConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conflict: %w", err)
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkConflictResolved(ctx context.Context, conflictID string, resolution domain.Resolution) error {
	value, err := json.Marshal(resolution.Value)
	if err != nil {
		return fmt.Errorf("failed to encode resolved value: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
        UPDATE device_sync_conflicts
        SET resolved_at = @resolved_at,
            resolved_by = NULLIF(@resolved_by, ''),
            resolution_notes = NULLIF(@notes, ''),
            resolution_choice = @choice,
            resolved_value = @value::jsonb
        WHERE id::text = @id AND resolved_at IS NULL`,
		pgx.NamedArgs{
			"id":          conflictID,
			"resolved_at": resolution.ResolvedAt,
			"resolved_by": resolution.ResolverID,
			"notes":       resolution.Notes,
			"choice":      string(resolution.Choice),
			"value":       string(value),
		})
	if err != nil {
		return fmt.Errorf("failed to mark conflict as resolved: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflictNotFound
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanConflict(row pgx.Row) (*domain.ConflictRecord, error) {
	var (
		c                    domain.ConflictRecord
		local, remote        []byte
		strategy             string
		choice               *string
		resolvedValue        []byte
		resolvedAt           *time.Time
		resolvedBy, resNotes *string
	)

	if err := row.Scan(&c.ID, &c.DeviceID, &c.FieldName, &local, &remote, &strategy,
		&c.DetectedAt, &resolvedAt, &resolvedBy, &resNotes, &choice, &resolvedValue); err != nil {
		return nil, err
	}

	if err := decodeJSONB(local, &c.LocalValue); err != nil {
		return nil, err
	}
	if err := decodeJSONB(remote, &c.RemoteValue); err != nil {
		return nil, err
	}
	if resolvedValue != nil {
		var v domain.Value
		if err := decodeJSONB(resolvedValue, &v); err != nil {
			return nil, err
		}
		c.ResolvedValue = &v
	}

	c.Strategy = domain.MergeStrategy(strategy)
	c.ResolvedAt = resolvedAt
	c.ResolvedBy = resolvedBy
	c.ResolutionNotes = resNotes
	if choice != nil {
		c.ResolutionChoice = domain.ResolutionChoice(*choice)
	}
	return &c, nil
}

// decodeJSONB treats SQL NULL as a null value.
func decodeJSONB(data []byte, v *domain.Value) error {
	if data == nil {
		*v = domain.Null()
		return nil
	}
	return json.Unmarshal(data, v)
}
