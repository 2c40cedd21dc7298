package web

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/JonMunkholm/enexport/internal/config"
	"github.com/JonMunkholm/enexport/internal/core"
	"github.com/JonMunkholm/enexport/internal/download"
	"github.com/JonMunkholm/enexport/internal/enapi"
	"github.com/JonMunkholm/enexport/internal/logging"
)

// flushEvery is how many streamed records are written between flushes.
const flushEvery = 100

// Response headers describing a download.
const (
	headerDownloadID    = "X-Download-ID"
	headerExpectedCount = "X-Expected-Count"
	trailerError        = "X-Download-Error"
)

// exportQuery is a parsed /api/transactions or /api/imports query.
type exportQuery struct {
	start, end string
	format     string
	opts       enapi.Options
}

// parseExportQuery reads start, end, delimiter, charset and format.
// Bad values are argument errors.
func (s *Server) parseExportQuery(r *http.Request) (exportQuery, error) {
	q := r.URL.Query()
	eq := exportQuery{
		start:  q.Get("start"),
		end:    q.Get("end"),
		format: q.Get("format"),
		opts:   s.defaults,
	}

	switch eq.format {
	case "":
		eq.format = "ndjson"
	case "ndjson", "csv":
	default:
		return eq, &core.ArgumentError{Message: "format must be ndjson or csv"}
	}

	if v := q.Get("delimiter"); v != "" {
		d, err := config.ParseDelimiter(v)
		if err != nil {
			return eq, &core.ArgumentError{Message: err.Error()}
		}
		eq.opts.Delimiter = d
	}
	if v := q.Get("charset"); v != "" {
		enc, err := core.LookupEncoding(v)
		if err != nil {
			return eq, &core.ArgumentError{Message: err.Error()}
		}
		eq.opts.Encoding = enc
	}
	return eq, nil
}

// handleHealth reports liveness and download slot usage.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   enapi.Version,
		"downloads": s.limiter.Status(),
		"storage":   s.store != nil,
	})
}

// handleTransactions streams an export as NDJSON or CSV.
//
// Failures before the first record get a JSON error and a matching status.
// Later failures end an NDJSON stream with an {"error": ...} line; both
// formats also set the X-Download-Error trailer.
func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	eq, err := s.parseExportQuery(r)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}

	if err := s.limiter.Acquire(r.Context()); err != nil {
		w.Header().Set("Retry-After", "30")
		s.respondError(w, r, err, statusFor(err))
		return
	}
	defer s.limiter.Release()

	sess, err := s.client.DownloadTransactions(r.Context(), eq.start, eq.end, eq.opts)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	defer sess.Close()

	// Vendor and schema errors arrive with the first bytes of the body;
	// wait for them before committing to a 200.
	first, err := sess.Next(r.Context())
	if err != nil && !errors.Is(err, io.EOF) {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	empty := errors.Is(err, io.EOF)

	h := w.Header()
	h.Set(headerDownloadID, sess.ID())
	if n, ok := sess.ExpectedCount(); ok {
		h.Set(headerExpectedCount, strconv.Itoa(n))
	}
	h.Set("Trailer", trailerError)

	var out recordWriter
	if eq.format == "csv" {
		h.Set("Content-Type", "text/csv; charset=utf-8")
		out = newCSVRecordWriter(w)
	} else {
		h.Set("Content-Type", "application/x-ndjson")
		out = newNDJSONRecordWriter(w)
	}
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	log := logging.FromContext(r.Context()).With("download_id", sess.ID())

	var streamErr error
	if empty {
		streamErr = out.Header(core.NamedColumns(sess.Header()))
	} else {
		streamErr = s.stream(r, sess, first, out, rc)
	}

	if streamErr != nil {
		log.Warn("export stream failed", "error", streamErr, "records", sess.Emitted())
		h.Set(trailerError, core.MapError(streamErr).Code)
		if err := out.Fail(streamErr); err != nil {
			log.Debug("write stream error", "error", err)
		}
	}
	if err := out.Flush(); err != nil {
		log.Debug("flush export", "error", err)
	}
}

// stream writes first and every following record of sess to out.
func (s *Server) stream(r *http.Request, sess *download.Session, first core.Record, out recordWriter, rc *http.ResponseController) error {
	if err := out.Header(first.Names()); err != nil {
		return err
	}
	rec := first
	for n := 1; ; n++ {
		if err := out.Write(rec); err != nil {
			return err
		}
		if n%flushEvery == 0 {
			if err := out.Flush(); err != nil {
				return err
			}
			// Not every writer can flush; buffered output still arrives.
			_ = rc.Flush()
		}

		var err error
		rec, err = sess.Next(r.Context())
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// handleImport downloads a range into Postgres and reports what was stored.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.respondError(w, r, errStorageDisabled, http.StatusNotImplemented)
		return
	}

	eq, err := s.parseExportQuery(r)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	start, end, err := s.client.CheckDates(eq.start, eq.end)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}

	if err := s.limiter.Acquire(r.Context()); err != nil {
		w.Header().Set("Retry-After", "30")
		s.respondError(w, r, err, statusFor(err))
		return
	}
	defer s.limiter.Release()

	sess, err := s.client.DownloadTransactions(r.Context(), eq.start, eq.end, eq.opts)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	defer sess.Close()

	res, err := s.store.Import(r.Context(), sess, start, end)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}

	writeJSON(w, http.StatusCreated, res)
}

// recordWriter renders streamed records in one output format.
type recordWriter interface {
	// Header is called once before the first record with the column names.
	Header(names []string) error
	Write(rec core.Record) error
	// Fail reports an error after the status line was sent.
	Fail(err error) error
	Flush() error
}

type ndjsonRecordWriter struct {
	enc *json.Encoder
}

func newNDJSONRecordWriter(w io.Writer) *ndjsonRecordWriter {
	return &ndjsonRecordWriter{enc: json.NewEncoder(w)}
}

func (n *ndjsonRecordWriter) Header([]string) error { return nil }

func (n *ndjsonRecordWriter) Write(rec core.Record) error { return n.enc.Encode(rec) }

func (n *ndjsonRecordWriter) Fail(err error) error {
	return n.enc.Encode(map[string]ErrorResponse{"error": newErrorResponse(err)})
}

func (n *ndjsonRecordWriter) Flush() error { return nil }

type csvRecordWriter struct {
	w     *csv.Writer
	names []string
}

func newCSVRecordWriter(w io.Writer) *csvRecordWriter {
	return &csvRecordWriter{w: csv.NewWriter(w)}
}

func (c *csvRecordWriter) Header(names []string) error {
	c.names = names
	if len(names) == 0 {
		return nil
	}
	return c.w.Write(names)
}

func (c *csvRecordWriter) Write(rec core.Record) error {
	row := make([]string, len(c.names))
	for i, name := range c.names {
		row[i] = rec.Value(name)
	}
	return c.w.Write(row)
}

// Fail is a no-op; CSV has no in-band error, the trailer carries it.
func (c *csvRecordWriter) Fail(error) error { return nil }

func (c *csvRecordWriter) Flush() error {
	c.w.Flush()
	return c.w.Error()
}
