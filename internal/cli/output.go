package cli

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/JonMunkholm/enexport/internal/core"
)

// recordSink writes records in one output format.
type recordSink interface {
	Write(rec core.Record) error
	// Close finishes the output. header is used when no record was written.
	Close(header []string) error
}

func newRecordSink(format string, w io.Writer) (recordSink, error) {
	switch format {
	case "ndjson", "":
		return &ndjsonSink{enc: json.NewEncoder(w)}, nil
	case "csv":
		return &csvSink{w: csv.NewWriter(w)}, nil
	case "count":
		return &countSink{w: w}, nil
	default:
		return nil, &core.ArgumentError{Message: fmt.Sprintf("unsupported format %q (expected ndjson|csv|count)", format)}
	}
}

type ndjsonSink struct {
	enc *json.Encoder
}

func (s *ndjsonSink) Write(rec core.Record) error { return s.enc.Encode(rec) }

func (s *ndjsonSink) Close([]string) error { return nil }

type csvSink struct {
	w     *csv.Writer
	names []string
}

func (s *csvSink) Write(rec core.Record) error {
	if s.names == nil {
		s.names = rec.Names()
		if err := s.w.Write(s.names); err != nil {
			return err
		}
	}
	row := make([]string, len(s.names))
	for i, name := range s.names {
		row[i] = rec.Value(name)
	}
	return s.w.Write(row)
}

func (s *csvSink) Close(header []string) error {
	if names := core.NamedColumns(header); s.names == nil && len(names) > 0 {
		s.w.Write(names)
	}
	s.w.Flush()
	return s.w.Error()
}

type countSink struct {
	w io.Writer
	n int
}

func (s *countSink) Write(core.Record) error {
	s.n++
	return nil
}

func (s *countSink) Close([]string) error {
	_, err := fmt.Fprintln(s.w, s.n)
	return err
}

// openOutput returns stdout for "" or "-", otherwise creates path.
func (a *app) openOutput(path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return a.stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}
