package core

// errors.go defines the failure taxonomy for a transaction download.
//
// Every failure a session can end with has its own type so callers can
// discriminate with errors.As and still get the diagnostic context (row
// number, counts, status code) without re-running the download:
//
//   - ArgumentError: malformed or out-of-policy date range
//   - AuthError: no private token available
//   - TransportError: connection failure or non-success HTTP status
//   - VendorError: in-band "ERROR:" payload returned with HTTP 200
//   - SchemaError: mandatory columns missing from the header row
//   - ParseError: CSV grammar failure or field count mismatch
//   - BackupWriteError: the raw backup sink failed
//   - IntegrityError: received record count differs from the Total header

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error for logging and user-facing codes.
type Kind string

const (
	KindUnknown   Kind = "unknown"
	KindArgument  Kind = "argument"
	KindAuth      Kind = "auth"
	KindTransport Kind = "transport"
	KindVendor    Kind = "vendor"
	KindSchema    Kind = "schema"
	KindParse     Kind = "parse"
	KindBackup    Kind = "backup"
	KindIntegrity Kind = "integrity"
)

// ArgumentError reports an invalid download request, usually a date range.
type ArgumentError struct {
	Message string
}

func (e *ArgumentError) Error() string {
	return "invalid argument: " + e.Message
}

// AuthError reports a missing credential.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return "auth: " + e.Message
}

// TransportError reports a connection failure or an unexpected HTTP status.
// StatusCode is zero when no response was received.
type TransportError struct {
	StatusCode int
	Status     string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("EN server responded with %s", e.status())
	}
	if e.Err == nil {
		return "transport error"
	}
	return "transport error: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// status renders "404 Not Found" even when Status only carries the reason.
func (e *TransportError) status() string {
	code := fmt.Sprintf("%d", e.StatusCode)
	switch {
	case e.Status == "":
		return code
	case strings.HasPrefix(e.Status, code):
		return e.Status
	default:
		return code + " " + e.Status
	}
}

// VendorError carries the message of an in-band vendor error payload.
type VendorError struct {
	Message string
}

func (e *VendorError) Error() string {
	return "EN returned " + e.Message
}

// SchemaError lists mandatory columns absent from the header row.
type SchemaError struct {
	Missing []string
}

func (e *SchemaError) Error() string {
	return "missing mandatory fields in transactions file header: " + strings.Join(e.Missing, ", ")
}

// ParseError reports a malformed row. Row is the 1-based data row number
// within the whole stream; the header row is row 0.
//
// For field count mismatches Got and Want hold the counts and Err is nil.
type ParseError struct {
	Row  int
	Got  int
	Want int
	Err  error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("error parsing row %d: %v", e.Row, e.Err)
	}
	return fmt.Sprintf("error parsing row %d: %d fields instead of %d", e.Row, e.Got, e.Want)
}

func (e *ParseError) Unwrap() error { return e.Err }

// BackupWriteError wraps a failure of the raw backup sink.
type BackupWriteError struct {
	Err error
}

func (e *BackupWriteError) Error() string {
	return "backup write failed: " + e.Err.Error()
}

func (e *BackupWriteError) Unwrap() error { return e.Err }

// IntegrityError reports a mismatch between the declared and received counts.
type IntegrityError struct {
	Expected int
	Received int
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("record count mismatch: expected %d vs received %d", e.Expected, e.Received)
}

// KindOf returns the Kind of the first taxonomy error in err's chain.
func KindOf(err error) Kind {
	var (
		argErr       *ArgumentError
		authErr      *AuthError
		transportErr *TransportError
		vendorErr    *VendorError
		schemaErr    *SchemaError
		parseErr     *ParseError
		backupErr    *BackupWriteError
		integrityErr *IntegrityError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &backupErr):
		return KindBackup
	case errors.As(err, &argErr):
		return KindArgument
	case errors.As(err, &authErr):
		return KindAuth
	case errors.As(err, &vendorErr):
		return KindVendor
	case errors.As(err, &schemaErr):
		return KindSchema
	case errors.As(err, &parseErr):
		return KindParse
	case errors.As(err, &integrityErr):
		return KindIntegrity
	case errors.As(err, &transportErr):
		return KindTransport
	default:
		return KindUnknown
	}
}
