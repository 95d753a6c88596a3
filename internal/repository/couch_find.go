package repository

import (
	"context"
	"fmt"
	"log"

	"github.com/go-kivik/kivik/v4"
)

// CouchDB answers an unbounded _find with at most 25 docs.
const couchPageSize = 100

// findAll runs a Mango query page by page, following the bookmark until a
// short page comes back. Rows that fail to scan are logged and skipped.
func (s *CouchStore) findAll(ctx context.Context, query map[string]interface{}, scan func(rows *kivik.ResultSet) error) error {
	limit := s.pageSize
	if limit <= 0 {
		limit = couchPageSize
	}

	bookmark := ""
	for {
		page := make(map[string]interface{}, len(query)+2)
		for k, v := range query {
			page[k] = v
		}
		page["limit"] = limit
		if bookmark != "" {
			page["bookmark"] = bookmark
		}

		n, next, err := s.findPage(ctx, page, scan)
		if err != nil {
			return err
		}
		if n < limit {
			return nil
		}
		if next == "" || next == bookmark {
			return fmt.Errorf("full page of %d docs returned without a paging bookmark", n)
		}
		bookmark = next
	}
}

func (s *CouchStore) findPage(ctx context.Context, page map[string]interface{}, scan func(rows *kivik.ResultSet) error) (int, string, error) {
	rows := s.db.Find(ctx, page)
	defer rows.Close()

	n := 0
	for rows.Next() {
		n++
		if err := scan(rows); err != nil {
			id, _ := rows.ID()
			log.Printf("[WARN] skipping malformed document %s: %v", id, err)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, "", err
	}

	meta, err := rows.Metadata()
	if err != nil {
		return 0, "", err
	}
	return n, meta.Bookmark, nil
}
