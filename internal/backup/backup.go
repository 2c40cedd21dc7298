// Package backup provides sinks that keep an unmodified copy of a downloaded
// export: a local file, or an object in S3-compatible storage.
//
// Sinks are plain io.WriteCloser values. The download pipeline owns them once
// handed over and closes them when the body ends or the download fails.
package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Layouts used in default backup names.
const (
	timestampLayout = "2006-01-02-15-04"
	dateLayout      = "2006-01-02"
)

// FileName returns the default backup name for a download started at now
// covering start..end: "2024-03-05-14-30_2024-03-01_2024-03-04.csv".
// The end date is omitted when the range is a single day. now is rendered
// in UTC; start and end keep their own location.
func FileName(now, start, end time.Time) string {
	name := now.UTC().Format(timestampLayout) + "_" + start.Format(dateLayout)
	if end.Format(dateLayout) != start.Format(dateLayout) {
		name += "_" + end.Format(dateLayout)
	}
	return name + ".csv"
}

// CreateFile creates dir if needed and opens name inside it for writing,
// truncating an existing file.
func CreateFile(dir, name string) (*os.File, string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", fmt.Errorf("create backup dir: %w", err)
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return nil, "", fmt.Errorf("create backup file: %w", err)
	}
	return f, path, nil
}

// Factory opens a sink for a backup called name and returns the sink and
// where the copy ends up.
type Factory func(ctx context.Context, name string) (io.WriteCloser, string, error)

// DirFactory stores backups as files in dir.
func DirFactory(dir string) Factory {
	return func(_ context.Context, name string) (io.WriteCloser, string, error) {
		return CreateFile(dir, name)
	}
}
