// Package store persists downloaded transactions in PostgreSQL.
//
// Each download gets a row in en_downloads. Its records go to
// en_transactions with COPY, in batches, inside one transaction: a download
// that fails leaves its en_downloads row marked failed and no records.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultBatchSize is the number of records sent per COPY.
const DefaultBatchSize = 1000

// Download status values.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// DBTX is the interface for database operations.
// Satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
}

// Tx is a DBTX that can be committed or rolled back.
type Tx interface {
	DBTX
	Commit(context.Context) error
	Rollback(context.Context) error
}

// Store writes downloads and their records.
type Store struct {
	db        DBTX
	begin     func(context.Context) (Tx, error)
	batchSize int
}

// New creates a Store on a connection pool. batchSize <= 0 uses DefaultBatchSize.
func New(pool *pgxpool.Pool, batchSize int) *Store {
	return newStore(pool, func(ctx context.Context) (Tx, error) {
		return pool.Begin(ctx)
	}, batchSize)
}

func newStore(db DBTX, begin func(context.Context) (Tx, error), batchSize int) *Store {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Store{db: db, begin: begin, batchSize: batchSize}
}

// Download is the metadata row of one export.
type Download struct {
	ID        uuid.UUID
	StartDate time.Time
	EndDate   time.Time
	Expected  *int
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// BeginDownload records a download as running.
func (s *Store) BeginDownload(ctx context.Context, d Download) error {
	var expected pgtype.Int4
	if d.Expected != nil {
		expected = pgtype.Int4{Int32: int32(*d.Expected), Valid: true}
	}

	_, err := s.db.Exec(ctx, insertDownloadSQL,
		pgUUID(d.ID),
		pgtype.Date{Time: d.StartDate, Valid: true},
		pgtype.Date{Time: d.EndDate, Valid: true},
		StatusRunning,
		expected,
	)
	if err != nil {
		return fmt.Errorf("insert download %s: %w", d.ID, err)
	}
	return nil
}

// FinishDownload sets the final status. A nil cause marks it completed.
func (s *Store) FinishDownload(ctx context.Context, id uuid.UUID, received int64, cause error) error {
	status := StatusCompleted
	var errText pgtype.Text
	if cause != nil {
		status = StatusFailed
		errText = pgtype.Text{String: cause.Error(), Valid: true}
	}

	_, err := s.db.Exec(ctx, finishDownloadSQL, pgUUID(id), status, received, errText)
	if err != nil {
		return fmt.Errorf("finish download %s: %w", id, err)
	}
	return nil
}

func pgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}
