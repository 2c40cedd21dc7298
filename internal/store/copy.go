package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/enexport/internal/core"
)

// recordSource adapts a batch of records to pgx.CopyFromSource.
type recordSource struct {
	downloadID pgtype.UUID
	firstRow   int64
	records    []core.Record

	idx    int
	values []any
	err    error
}

func newRecordSource(id uuid.UUID, firstRow int64, records []core.Record) *recordSource {
	return &recordSource{
		downloadID: pgUUID(id),
		firstRow:   firstRow,
		records:    records,
		idx:        -1,
	}
}

func (r *recordSource) Next() bool {
	if r.err != nil {
		return false
	}
	r.idx++
	if r.idx >= len(r.records) {
		return false
	}

	rec := r.records[r.idx]
	doc, err := rec.MarshalJSON()
	if err != nil {
		r.err = fmt.Errorf("encode row %d: %w", r.firstRow+int64(r.idx), err)
		return false
	}

	r.values = []any{
		r.downloadID,
		r.firstRow + int64(r.idx),
		rec.Value("Supporter Email"),
		rec.Value("Campaign Type"),
		rec.Value("Campaign ID"),
		doc,
	}
	return true
}

func (r *recordSource) Values() ([]any, error) { return r.values, r.err }

func (r *recordSource) Err() error { return r.err }

// CopyRecords writes records with COPY. firstRow is the 1-based row number
// of records[0] within the download.
func (s *Store) CopyRecords(ctx context.Context, db DBTX, id uuid.UUID, firstRow int64, records []core.Record) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	if db == nil {
		db = s.db
	}
	n, err := db.CopyFrom(ctx, pgx.Identifier(transactionsTable), transactionColumns, newRecordSource(id, firstRow, records))
	if err != nil {
		return n, fmt.Errorf("copy %d records from row %d: %w", len(records), firstRow, err)
	}
	return n, nil
}
