package audit

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"device-sync-server/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type execCall struct {
	query string
	args  []any
}

type fakeConn struct {
	calls  []execCall
	err    error
	closed bool
}

func (f *fakeConn) Exec(ctx context.Context, query string, args ...any) error {
	f.calls = append(f.calls, execCall{query: query, args: args})
	return f.err
}

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

func TestClickHouseSink_Publish(t *testing.T) {
	conn := &fakeConn{}
	sink := &ClickHouseSink{conn: conn}

	at := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	value := domain.Object(map[string]domain.Value{"sensor_type": domain.String("humidity")})

	err := sink.Publish(context.Background(), &domain.SyncEvent{
		Type:       domain.EventConflictResolved,
		DeviceID:   "dev-1",
		ConflictID: "c1",
		FieldName:  "metadata",
		Strategy:   domain.StrategyManual,
		Choice:     domain.ResolutionUseRemote,
		Value:      &value,
		OccurredAt: at,
	})
	require.NoError(t, err)
	require.Len(t, conn.calls, 1)

	call := conn.calls[0]
	assert.True(t, strings.Contains(call.query, "INSERT INTO device_sync_events"))
	assert.Equal(t, []any{at, "conflict_resolved", "dev-1", "c1", "metadata", "manual", "use_remote", `{"sensor_type":"humidity"}`}, call.args)
}

func TestClickHouseSink_PublishWithoutValue(t *testing.T) {
	conn := &fakeConn{}
	sink := &ClickHouseSink{conn: conn}

	require.NoError(t, sink.Publish(context.Background(), &domain.SyncEvent{
		Type:     domain.EventConflictDetected,
		DeviceID: "dev-1",
	}))
	require.Len(t, conn.calls, 1)
	assert.Equal(t, "", conn.calls[0].args[7])
}

func TestClickHouseSink_Errors(t *testing.T) {
	execErr := errors.New("table is read only")
	conn := &fakeConn{err: execErr}
	sink := &ClickHouseSink{conn: conn}

	err := sink.Publish(context.Background(), &domain.SyncEvent{Type: domain.EventFieldResolved, DeviceID: "dev-1"})
	assert.ErrorIs(t, err, execErr)

	assert.ErrorIs(t, sink.initSchema(context.Background()), execErr)

	require.NoError(t, sink.Close())
	assert.True(t, conn.closed)
}

func TestWaitReady_RetriesUntilPingSucceeds(t *testing.T) {
	calls := 0
	err := waitReady(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	}, time.Millisecond)

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWaitReady_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	start := time.Now()
	err := waitReady(ctx, func(context.Context) error {
		calls++
		cancel()
		return errors.New("connection refused")
	}, time.Minute)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), 5*time.Second)
}
