// Package enapi is the entry point for Engaging Networks data exports.
//
// A Client holds the account credentials and the policy for which date
// ranges may be exported. DownloadTransactions turns a pair of YYYY-MM-DD
// strings into a running download.Session:
//
//	c := enapi.New(enapi.Config{PrivateToken: token})
//	s, err := c.DownloadTransactions(ctx, "2024-03-01", "2024-03-31", enapi.Options{BackupDir: "backup"})
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//	for rec, err := range s.All(ctx) {
//		...
//	}
package enapi

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	_ "time/tzdata" // EN's zone must resolve on hosts without zoneinfo

	"golang.org/x/text/encoding"

	"github.com/JonMunkholm/enexport/internal/backup"
	"github.com/JonMunkholm/enexport/internal/core"
	"github.com/JonMunkholm/enexport/internal/download"
	"github.com/JonMunkholm/enexport/internal/logging"
)

const (
	// Version is reported in the User-Agent of every export request.
	Version = "1.0.2"

	// TimeZone is the zone EN interprets export dates in.
	TimeZone = download.DefaultTimeZone

	dateLayout = "2006-01-02"
)

var datePattern = regexp.MustCompile(`^\d{4}-\d\d-\d\d$`)

// Config configures a Client. Zero values select the EN defaults.
type Config struct {
	PrivateToken string
	PublicToken  string

	BaseURL  string
	Location *time.Location

	// MaxLookback rejects ranges starting earlier than this before today.
	// Zero disables the check.
	MaxLookback time.Duration

	HTTPClient  *http.Client
	ChunkSize   int
	RecordQueue int
	BackupQueue int

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Options tune a single download.
type Options struct {
	// PrivateToken overrides the client token for this download.
	PrivateToken string

	// Delimiter is the account's export delimiter. Zero means comma.
	Delimiter rune
	// Encoding of the export. Nil means UTF-8.
	Encoding encoding.Encoding
	// MandatoryFields overrides the default mandatory columns.
	MandatoryFields []string

	// BackupDir stores the raw export in this directory, named by
	// backup.FileName unless BackupFileName is set.
	BackupDir      string
	BackupFileName string

	// NewBackup opens a sink for the generated backup name. It is used
	// when BackupDir is empty, e.g. with backup.S3Factory.
	NewBackup backup.Factory

	// Backup is any sink for the raw export, used when neither BackupDir
	// nor NewBackup is set. The download takes ownership and closes it.
	Backup     io.WriteCloser
	BackupName string
}

// Client downloads exports for one EN account.
type Client struct {
	privateToken string
	publicToken  string
	location     *time.Location
	maxLookback  time.Duration
	now          func() time.Time
	downloader   *download.Downloader
}

// New creates a Client.
func New(cfg Config) *Client {
	loc := cfg.Location
	if loc == nil {
		var err error
		if loc, err = time.LoadLocation(TimeZone); err != nil {
			loc = time.UTC
		}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	opts := []download.Option{
		download.WithLocation(loc),
		download.WithUserAgent("go enexport v" + Version),
		download.WithQueues(cfg.BackupQueue, cfg.RecordQueue),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, download.WithBaseURL(cfg.BaseURL))
	}
	if cfg.ChunkSize > 0 {
		opts = append(opts, download.WithChunkSize(cfg.ChunkSize))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, download.WithHTTPClient(cfg.HTTPClient))
	}

	return &Client{
		privateToken: cfg.PrivateToken,
		publicToken:  cfg.PublicToken,
		location:     loc,
		maxLookback:  cfg.MaxLookback,
		now:          now,
		downloader:   download.New(opts...),
	}
}

// PublicToken returns the configured public token. Exports do not use it.
func (c *Client) PublicToken() string { return c.publicToken }

// Location returns the EN time zone used for dates.
func (c *Client) Location() *time.Location { return c.location }

// DownloadTransactions starts an export of the transactions between
// dateStart and dateEnd, both inclusive YYYY-MM-DD days in EN time.
func (c *Client) DownloadTransactions(ctx context.Context, dateStart, dateEnd string, opts Options) (*download.Session, error) {
	start, end, err := c.CheckDates(dateStart, dateEnd)
	if err != nil {
		closeSink(opts.Backup)
		return nil, err
	}

	token := opts.PrivateToken
	if token == "" {
		token = c.privateToken
	}
	if token == "" {
		closeSink(opts.Backup)
		return nil, &core.AuthError{Message: "private token is required"}
	}

	// The end date is inclusive; say so in the logs.
	logging.FromContext(ctx).Info("downloading transactions",
		"start", start.Format(time.RFC3339),
		"end", end.AddDate(0, 0, 1).Add(-time.Millisecond).Format("2006-01-02T15:04:05.000Z07:00"),
	)

	req := download.Request{
		Start:           start,
		End:             end,
		Token:           token,
		Delimiter:       opts.Delimiter,
		Encoding:        opts.Encoding,
		MandatoryFields: opts.MandatoryFields,
		Backup:          opts.Backup,
		BackupName:      opts.BackupName,
	}

	newBackup := opts.NewBackup
	if opts.BackupDir != "" {
		newBackup = backup.DirFactory(opts.BackupDir)
	}
	if newBackup != nil {
		closeSink(opts.Backup)
		name := opts.BackupFileName
		if name == "" {
			name = backup.FileName(c.now(), start, end)
		}
		sink, location, err := newBackup(ctx, name)
		if err != nil {
			return nil, &core.BackupWriteError{Err: err}
		}
		req.Backup = sink
		req.BackupName = location
	}

	return c.downloader.Start(ctx, req)
}

// CheckDates parses and validates an export range. Both dates are days in
// EN time; the end must be before the start of today there, since the
// current day is still changing.
func (c *Client) CheckDates(dateStart, dateEnd string) (start, end time.Time, err error) {
	if !datePattern.MatchString(dateStart) || !datePattern.MatchString(dateEnd) {
		return start, end, &core.ArgumentError{Message: "dateStart and dateEnd should be YYYY-MM-DD date strings"}
	}

	start, errStart := time.ParseInLocation(dateLayout, dateStart, c.location)
	end, errEnd := time.ParseInLocation(dateLayout, dateEnd, c.location)
	if errStart != nil || errEnd != nil {
		return start, end, &core.ArgumentError{
			Message: fmt.Sprintf("dateStart or dateEnd are invalid dates: %s, %s", dateStart, dateEnd),
		}
	}

	if start.After(end) {
		return start, end, &core.ArgumentError{
			Message: fmt.Sprintf("dateStart is after dateEnd: %s is after %s", dateStart, dateEnd),
		}
	}

	now := c.now().In(c.location)
	startOfToday := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, c.location)
	if !end.Before(startOfToday) {
		return start, end, &core.ArgumentError{
			Message: fmt.Sprintf("dateEnd is later than the beginning of a current day in EN timezone (%s)",
				startOfToday.Format(dateLayout)),
		}
	}

	if c.maxLookback > 0 && start.Before(startOfToday.Add(-c.maxLookback)) {
		return start, end, &core.ArgumentError{
			Message: fmt.Sprintf("dateStart %s is more than %s before today", dateStart, c.maxLookback),
		}
	}

	return start, end, nil
}

func closeSink(w io.WriteCloser) {
	if w == nil {
		return
	}
	if err := w.Close(); err != nil {
		slog.Debug("close unused backup sink", "error", err)
	}
}
