package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/enexport/internal/core"
	"github.com/JonMunkholm/enexport/internal/logging"
)

// Source is a running download. *download.Session satisfies it.
type Source interface {
	ID() string
	ExpectedCount() (int, bool)
	Next(ctx context.Context) (core.Record, error)
}

// ImportResult summarizes a stored download.
type ImportResult struct {
	DownloadID uuid.UUID `json:"download_id"`
	Records    int64     `json:"records"`
	Expected   *int      `json:"expected,omitempty"`
}

// Import drains src into the database. Records are committed only if the
// download completes; otherwise the download row is marked failed with the
// download's error, which is also returned.
func (s *Store) Import(ctx context.Context, src Source, start, end time.Time) (ImportResult, error) {
	id, err := uuid.Parse(src.ID())
	if err != nil {
		id = uuid.New()
	}
	res := ImportResult{DownloadID: id}
	if n, ok := src.ExpectedCount(); ok {
		res.Expected = &n
	}

	log := logging.FromContext(ctx).With("download_id", id.String())

	if err := s.BeginDownload(ctx, Download{ID: id, StartDate: start, EndDate: end, Expected: res.Expected}); err != nil {
		return res, err
	}

	received, importErr := s.copyAll(ctx, id, src)
	res.Records = received

	if finishErr := s.FinishDownload(context.WithoutCancel(ctx), id, received, importErr); finishErr != nil {
		if importErr == nil {
			return res, finishErr
		}
		log.Error("failed to record download failure", "error", finishErr)
	}
	if importErr != nil {
		return res, importErr
	}

	log.Info("download stored", "records", received)
	return res, nil
}

// copyAll streams src into en_transactions inside one transaction and
// returns the number of records received.
func (s *Store) copyAll(ctx context.Context, id uuid.UUID, src Source) (int64, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(context.WithoutCancel(ctx)) // No-op if already committed

	var (
		received int64
		batch    = make([]core.Record, 0, s.batchSize)
	)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if _, err := s.CopyRecords(ctx, tx, id, received-int64(len(batch))+1, batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for {
		rec, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return received, err
		}

		received++
		batch = append(batch, rec)
		if len(batch) >= s.batchSize {
			if err := flush(); err != nil {
				return received, err
			}
		}
	}

	if err := flush(); err != nil {
		return received, err
	}
	if err := tx.Commit(ctx); err != nil {
		return received, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return received, nil
}
