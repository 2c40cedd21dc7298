package download

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	_ "time/tzdata" // EN's zone must resolve on hosts without zoneinfo

	"github.com/JonMunkholm/enexport/internal/core"
)

const (
	// DefaultBaseURL is the EN data service export endpoint.
	DefaultBaseURL = "https://www.e-activist.com/ea-dataservice/export.service"

	// DefaultTimeZone is the zone EN interprets export dates in.
	DefaultTimeZone = "America/New_York"

	// DateLayout renders dates the way the export service expects (MMDDYYYY).
	DateLayout = "01022006"

	// TotalHeader carries the number of records in the export. EN omits it
	// for ranges that include the current day.
	TotalHeader = "Total"
)

// BuildURL returns the export URL for a token and an inclusive date range.
// Dates are rendered in loc; a nil loc uses the times' own location.
func BuildURL(baseURL, token string, start, end time.Time, loc *time.Location) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	if loc != nil {
		start = start.In(loc)
		end = end.In(loc)
	}

	q := u.Query()
	q.Set("type", "csv")
	q.Set("token", token)
	q.Set("startDate", start.Format(DateLayout))
	q.Set("endDate", end.Format(DateLayout))
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// RedactURL replaces the token query value so the URL can be logged.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if q.Has("token") {
		q.Set("token", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// expectedCount reads the Total header. ok is false when EN did not send it.
func expectedCount(h http.Header) (n int, ok bool, err error) {
	raw := strings.TrimSpace(h.Get(TotalHeader))
	if raw == "" {
		return 0, false, nil
	}
	n, err = strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false, &core.TransportError{Err: fmt.Errorf("invalid %s header %q", TotalHeader, raw)}
	}
	return n, true, nil
}

// transportError wraps a client error, keeping the token out of the message.
func transportError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		ue.URL = RedactURL(ue.URL)
	}
	return &core.TransportError{Err: err}
}
