// Package download runs EN transaction exports: it requests the export,
// pipes the body through a core.TransactionStream, tees the raw bytes to an
// optional backup sink, and reconciles the record count at the end.
//
// A download moves through these states:
//
//	Validating → Requesting → Streaming → Reconciling → Completed | Failed
//
// Start covers Validating and Requesting and returns their errors directly.
// Everything after that is reported through the Session exactly once.
package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/encoding"

	"github.com/JonMunkholm/enexport/internal/core"
	"github.com/JonMunkholm/enexport/internal/logging"
)

const (
	// DefaultChunkSize is the read size used on the response body.
	DefaultChunkSize = 32 * 1024

	// DefaultRecordQueue is how many parsed records may wait for the consumer.
	DefaultRecordQueue = 256

	// DefaultUserAgent identifies this client to EN.
	DefaultUserAgent = "go enexport"
)

// Request describes one export download. Start and End are validated,
// inclusive days; Start takes ownership of Backup and always closes it.
type Request struct {
	Start time.Time
	End   time.Time
	Token string

	Delimiter       rune
	Encoding        encoding.Encoding
	MandatoryFields []string

	// Backup receives the raw body, unmodified. Optional.
	Backup io.WriteCloser
	// BackupName is used in logs only.
	BackupName string
}

// Downloader issues export requests. It is safe for concurrent use.
type Downloader struct {
	client      *http.Client
	baseURL     string
	userAgent   string
	location    *time.Location
	chunkSize   int
	backupQueue int
	recordQueue int
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithHTTPClient sets the client used for export requests.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Downloader) { d.client = c }
}

// WithBaseURL overrides the export endpoint.
func WithBaseURL(u string) Option {
	return func(d *Downloader) { d.baseURL = u }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(d *Downloader) { d.userAgent = ua }
}

// WithLocation sets the zone export dates are rendered in.
func WithLocation(loc *time.Location) Option {
	return func(d *Downloader) { d.location = loc }
}

// WithChunkSize sets the body read size.
func WithChunkSize(n int) Option {
	return func(d *Downloader) { d.chunkSize = n }
}

// WithQueues sets the backup and record queue capacities. Values <= 0 keep
// the defaults.
func WithQueues(backup, records int) Option {
	return func(d *Downloader) {
		d.backupQueue = backup
		d.recordQueue = records
	}
}

// New creates a Downloader with defaults for every unset option.
func New(opts ...Option) *Downloader {
	d := &Downloader{
		client:      http.DefaultClient,
		baseURL:     DefaultBaseURL,
		userAgent:   DefaultUserAgent,
		chunkSize:   DefaultChunkSize,
		backupQueue: DefaultBackupQueue,
		recordQueue: DefaultRecordQueue,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.location == nil {
		loc, err := time.LoadLocation(DefaultTimeZone)
		if err != nil {
			loc = time.UTC
		}
		d.location = loc
	}
	if d.chunkSize <= 0 {
		d.chunkSize = DefaultChunkSize
	}
	if d.recordQueue <= 0 {
		d.recordQueue = DefaultRecordQueue
	}
	return d
}

// Location returns the zone export dates are rendered in.
func (d *Downloader) Location() *time.Location { return d.location }

// Start validates req, issues the request and, on a success status, returns
// a Session streaming the records. Validation, transport and status errors
// are returned here; later failures surface through the Session.
func (d *Downloader) Start(ctx context.Context, req Request) (*Session, error) {
	id := uuid.New().String()
	ctx = logging.ContextWithDownloadID(ctx, id)
	log := logging.FromContext(ctx)

	closeBackup := func() {
		if req.Backup != nil {
			_ = req.Backup.Close()
		}
	}

	// Validating
	if err := validate(req); err != nil {
		closeBackup()
		return nil, err
	}

	// Requesting
	rawURL, err := BuildURL(d.baseURL, req.Token, req.Start, req.End, d.location)
	if err != nil {
		closeBackup()
		return nil, &core.ArgumentError{Message: err.Error()}
	}

	sessCtx, cancel := context.WithCancelCause(ctx)

	httpReq, err := http.NewRequestWithContext(sessCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		cancel(err)
		closeBackup()
		return nil, &core.ArgumentError{Message: err.Error()}
	}
	httpReq.Header.Set("User-Agent", d.userAgent)

	log.Debug("requesting export", "url", RedactURL(rawURL))
	resp, err := d.client.Do(httpReq)
	if err != nil {
		cancel(err)
		closeBackup()
		return nil, transportError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		err := &core.TransportError{StatusCode: resp.StatusCode, Status: resp.Status}
		cancel(err)
		closeBackup()
		return nil, err
	}

	stream := core.NewTransactionStream(core.StreamOptions{
		Delimiter:       req.Delimiter,
		Encoding:        req.Encoding,
		MandatoryFields: req.MandatoryFields,
	})

	expected, hasExpected, err := expectedCount(resp.Header)
	if err != nil {
		_ = resp.Body.Close()
		cancel(err)
		closeBackup()
		return nil, err
	}
	if hasExpected {
		if err := stream.SetExpectedCount(expected); err != nil {
			_ = resp.Body.Close()
			cancel(err)
			closeBackup()
			return nil, fmt.Errorf("set expected count: %w", err)
		}
		log.Info("received response, expecting records", "expected", expected)
	} else {
		log.Warn("server did not send the Total header")
	}

	s := &Session{
		id:          id,
		ctx:         sessCtx,
		cancel:      cancel,
		log:         log,
		stream:      stream,
		body:        resp.Body,
		counter:     core.NewCountingReader(resp.Body, resp.ContentLength),
		chunkSize:   d.chunkSize,
		records:     make(chan core.Record, d.recordQueue),
		done:        make(chan struct{}),
		expected:    expected,
		hasExpected: hasExpected,
		started:     time.Now(),
	}
	if req.Backup != nil {
		s.tee = newBackupTee(req.Backup, d.backupQueue)
		log.Info("saving downloaded transactions into backup", "backup", req.BackupName)
	}
	s.state.Store(int32(StateStreaming))

	go s.run()

	return s, nil
}

func validate(req Request) error {
	switch {
	case req.Start.IsZero() || req.End.IsZero():
		return &core.ArgumentError{Message: "start and end dates are required"}
	case req.Start.After(req.End):
		return &core.ArgumentError{Message: fmt.Sprintf("start %s is after end %s",
			req.Start.Format(time.DateOnly), req.End.Format(time.DateOnly))}
	case req.Token == "":
		return &core.AuthError{Message: "private token is required"}
	case req.Delimiter == '"' || req.Delimiter == '\n' || req.Delimiter == '\r':
		return &core.ArgumentError{Message: fmt.Sprintf("invalid CSV delimiter %q", req.Delimiter)}
	}
	return nil
}
