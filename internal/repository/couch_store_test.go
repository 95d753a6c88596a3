package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"testing"
	"time"

	"device-sync-server/internal/domain"

	"github.com/go-kivik/kivik/v4/driver"
	"github.com/go-kivik/kivik/v4/mockdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type findQuery struct {
	Selector map[string]interface{} `json:"selector"`
	Sort     []map[string]string    `json:"sort"`
	Limit    int                    `json:"limit"`
	Bookmark string                 `json:"bookmark"`
	UseIndex []string               `json:"use_index"`
}

// bookmarkRows serves one page of raw docs and the bookmark for the next.
type bookmarkRows struct {
	docs     [][]byte
	bookmark string
}

func (r *bookmarkRows) Next(row *driver.Row) error {
	if len(r.docs) == 0 {
		return io.EOF
	}
	row.Doc = bytes.NewReader(r.docs[0])
	r.docs = r.docs[1:]
	return nil
}

func (r *bookmarkRows) Close() error      { return nil }
func (r *bookmarkRows) UpdateSeq() string { return "" }
func (r *bookmarkRows) Offset() int64     { return 0 }
func (r *bookmarkRows) TotalRows() int64  { return 0 }
func (r *bookmarkRows) Bookmark() string  { return r.bookmark }

// pagingServer answers _find like CouchDB: at most limit docs per call, with
// the bookmark encoding the next offset.
type pagingServer struct {
	docs       [][]byte
	noBookmark bool
	queries    []findQuery
}

func (p *pagingServer) find(_ context.Context, arg interface{}, _ driver.Options) (driver.Rows, error) {
	raw, err := json.Marshal(arg)
	if err != nil {
		return nil, err
	}
	var q findQuery
	if err := json.Unmarshal(raw, &q); err != nil {
		return nil, err
	}
	p.queries = append(p.queries, q)

	offset := 0
	if q.Bookmark != "" {
		if offset, err = strconv.Atoi(q.Bookmark); err != nil {
			return nil, err
		}
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 25
	}
	end := min(offset+limit, len(p.docs))

	rows := &bookmarkRows{docs: p.docs[offset:end]}
	if !p.noBookmark {
		rows.bookmark = strconv.Itoa(end)
	}
	return rows, nil
}

func newMockCouchStore(t *testing.T, pageSize, finds int, server *pagingServer) *CouchStore {
	t.Helper()
	client, mock := mockdb.NewT(t)
	db := mock.NewDB()
	mock.ExpectDB().WillReturn(db)
	for i := 0; i < finds; i++ {
		db.ExpectFind().WillExecute(server.find)
	}
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
	})
	return &CouchStore{client: client, db: client.DB("devices"), pageSize: pageSize}
}

func conflictDocJSON(t *testing.T, id, deviceID string, detectedAt time.Time) []byte {
	t.Helper()
	raw, err := json.Marshal(newConflictDoc(&domain.ConflictRecord{
		ID:          id,
		DeviceID:    deviceID,
		FieldName:   "metadata",
		LocalValue:  domain.String("local"),
		RemoteValue: domain.String("remote"),
		Strategy:    domain.StrategyManual,
		DetectedAt:  detectedAt,
	}))
	require.NoError(t, err)
	return raw
}

func TestCouchStore_ListUnresolvedConflictsPagesPastDefaultLimit(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	server := &pagingServer{}
	for i := 0; i < 30; i++ {
		id := fmt.Sprintf("c-%02d", i)
		server.docs = append(server.docs, conflictDocJSON(t, id, "dev-1", base.Add(time.Duration(i)*time.Minute)))
	}

	s := newMockCouchStore(t, 10, 4, server)

	conflicts, err := s.ListUnresolvedConflicts(context.Background(), "dev-1")
	require.NoError(t, err)
	require.Len(t, conflicts, 30)
	assert.Equal(t, "c-29", conflicts[0].ID)
	assert.Equal(t, "c-00", conflicts[29].ID)
	for i := 1; i < len(conflicts); i++ {
		assert.False(t, conflicts[i].DetectedAt.After(conflicts[i-1].DetectedAt))
	}

	require.Len(t, server.queries, 4)
	for i, q := range server.queries {
		assert.Equal(t, 10, q.Limit)
		if i == 0 {
			assert.Empty(t, q.Bookmark)
		} else {
			assert.Equal(t, strconv.Itoa(i*10), q.Bookmark)
		}
		assert.Equal(t, "dev-1", q.Selector["device_id"])
		assert.Contains(t, q.Selector, "resolved_at")
		assert.Nil(t, q.Selector["resolved_at"])
		require.NotEmpty(t, q.Sort)
		assert.Equal(t, map[string]string{"detected_at": "desc"}, q.Sort[len(q.Sort)-1])
		assert.Equal(t, []string{conflictIndexDDoc, conflictIndexName}, q.UseIndex)
	}
}

func TestCouchStore_ListUnresolvedConflictsSkipsMalformedDocs(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	server := &pagingServer{docs: [][]byte{
		conflictDocJSON(t, "c-1", "dev-1", base),
		[]byte(`{"doc_type":"conflict","device_id":"dev-1","detected_at":"not-a-time"}`),
		conflictDocJSON(t, "c-2", "dev-1", base.Add(time.Minute)),
	}}

	s := newMockCouchStore(t, 10, 1, server)

	conflicts, err := s.ListUnresolvedConflicts(context.Background(), "dev-1")
	require.NoError(t, err)
	require.Len(t, conflicts, 2)
	assert.Equal(t, "c-2", conflicts[0].ID)
	assert.Equal(t, "c-1", conflicts[1].ID)
}

func TestCouchStore_ListFailsWithoutBookmarkOnFullPage(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	server := &pagingServer{
		noBookmark: true,
		docs: [][]byte{
			conflictDocJSON(t, "c-1", "dev-1", base),
			conflictDocJSON(t, "c-2", "dev-1", base),
		},
	}

	s := newMockCouchStore(t, 2, 1, server)

	_, err := s.ListUnresolvedConflicts(context.Background(), "dev-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "paging bookmark")
}

func TestCouchStore_ListUnresolvedConflictsFindError(t *testing.T) {
	client, mock := mockdb.NewT(t)
	db := mock.NewDB()
	mock.ExpectDB().WillReturn(db)
	db.ExpectFind().WillReturnError(errors.New("couch unavailable"))

	s := &CouchStore{client: client, db: client.DB("devices"), pageSize: 10}

	_, err := s.ListUnresolvedConflicts(context.Background(), "dev-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "couch unavailable")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCouchStore_ListDevicesPages(t *testing.T) {
	now := time.Now().UTC()
	server := &pagingServer{}
	for i := 11; i >= 0; i-- {
		raw, err := json.Marshal(deviceDoc{
			ID:        deviceDocID(fmt.Sprintf("dev-%02d", i)),
			DocType:   docTypeDevice,
			DeviceID:  fmt.Sprintf("dev-%02d", i),
			Fields:    domain.Snapshot{"status": domain.String("active")},
			CreatedAt: now,
			UpdatedAt: now,
		})
		require.NoError(t, err)
		server.docs = append(server.docs, raw)
	}

	s := newMockCouchStore(t, 5, 3, server)

	devices, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 12)
	assert.Equal(t, "dev-00", devices[0].ID)
	assert.Equal(t, "dev-11", devices[11].ID)
	assert.Len(t, server.queries, 3)
	assert.Equal(t, docTypeDevice, server.queries[0].Selector["doc_type"])
}
