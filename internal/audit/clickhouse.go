package audit

import (
	"context"
	"fmt"
	"log"
	"time"

	"device-sync-server/internal/domain"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/codeGROOVE-dev/retry"
)

const createEventsTable = `
CREATE TABLE IF NOT EXISTS device_sync_events (
    occurred_at  DateTime64(3, 'UTC'),
    event_type   LowCardinality(String),
    device_id    String,
    conflict_id  String,
    field_name   String,
    strategy     LowCardinality(String),
    choice       LowCardinality(String),
    value        String
) ENGINE = MergeTree
ORDER BY (device_id, occurred_at)
`

const insertEvent = `
INSERT INTO device_sync_events (occurred_at, event_type, device_id, conflict_id, field_name, strategy, choice, value)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`

// execer is the part of the ClickHouse connection the sink needs.
type execer interface {
	Exec(ctx context.Context, query string, args ...any) error
	Close() error
}

// ClickHouseSink appends every sync event to an audit table.
type ClickHouseSink struct {
	conn execer
}

type Config struct {
	Addr     string
	Database string
	Username string
	Password string
}

func NewClickHouseSink(ctx context.Context, cfg Config) (*ClickHouseSink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := waitReady(ctx, conn.Ping, time.Second); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	sink := &ClickHouseSink{conn: conn}
	if err := sink.initSchema(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	log.Printf("[INFO] ClickHouse audit sink ready at %s", cfg.Addr)
	return sink, nil
}

func (s *ClickHouseSink) initSchema(ctx context.Context) error {
	if err := s.conn.Exec(ctx, createEventsTable); err != nil {
		return fmt.Errorf("failed to create device_sync_events: %w", err)
	}
	return nil
}

func (s *ClickHouseSink) Publish(ctx context.Context, event *domain.SyncEvent) error {
	value := ""
	if event.Value != nil {
		value = event.Value.String()
	}

	err := s.conn.Exec(ctx, insertEvent,
		event.OccurredAt.UTC(),
		string(event.Type),
		event.DeviceID,
		event.ConflictID,
		event.FieldName,
		string(event.Strategy),
		string(event.Choice),
		value,
	)
	if err != nil {
		return fmt.Errorf("failed to insert sync event: %w", err)
	}

	return nil
}

func (s *ClickHouseSink) Close() error {
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close ClickHouse connection: %w", err)
	}
	log.Printf("[INFO] ClickHouse connection closed")
	return nil
}

// waitReady pings until the server answers, giving up after five attempts or
// when ctx is cancelled.
func waitReady(ctx context.Context, ping func(context.Context) error, delay time.Duration) error {
	return retry.Do(func() error {
		if err := ping(ctx); err != nil {
			log.Printf("[WARN] ClickHouse ping failed: %v", err)
			return err
		}
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(5),
		retry.Delay(delay),
		retry.MaxDelay(15*time.Second),
	)
}
