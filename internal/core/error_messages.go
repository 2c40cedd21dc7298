package core

// # Error Codes Reference
//
// Every failure surfaced to a user carries a code that can be quoted to
// support. Codes are derived from the error type first; plain errors fall
// back to pattern matching on the message.
//
//	ARG001  - Invalid request: date range malformed or out of policy
//	AUTH001 - Missing token: no EN private token configured
//	NET001  - Connection failed: EN could not be reached
//	NET002  - Bad status: EN answered with a non-success status
//	VEN001  - EN error: EN reported an error inside the export
//	SCH001  - Not a transactions file: mandatory columns missing
//	CSV001  - Malformed CSV: grammar error on a row
//	CSV002  - Column count mismatch on a row
//	BAK001  - Backup failed: the raw copy could not be written
//	INT001  - Incomplete download: record count differs from EN's total
//	LIM001  - System busy: too many downloads in progress
//	CAN001  - Download cancelled
//	TMO001  - Download timed out
//	DB001   - Database unavailable
//	ERR000  - Unknown error
//
// # Pattern Matching
//
// Patterns are matched case-insensitively using strings.Contains and the
// first match wins, so specific patterns come before general ones.

import (
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

var kindMessages = map[Kind]UserMessage{
	KindArgument: {
		Message: "The requested date range is not valid",
		Action:  "Use YYYY-MM-DD dates that end before today (EN time zone)",
		Code:    "ARG001",
	},
	KindAuth: {
		Message: "No EN private token is configured",
		Action:  "Set EN_PRIVATE_TOKEN or pass a token with the request",
		Code:    "AUTH001",
	},
	KindVendor: {
		Message: "EN reported an error instead of sending the export",
		Action:  "Check the EN message; quota and token problems are reported this way",
		Code:    "VEN001",
	},
	KindSchema: {
		Message: "The downloaded file is not a transactions export",
		Action:  "Verify the token belongs to the right account and export settings",
		Code:    "SCH001",
	},
	KindBackup: {
		Message: "The backup copy could not be written",
		Action:  "Check free space and permissions of the backup location",
		Code:    "BAK001",
	},
	KindIntegrity: {
		Message: "The download ended before all records were received",
		Action:  "Run the download again",
		Code:    "INT001",
	},
}

var (
	transportMessage = UserMessage{
		Message: "Unable to reach EN",
		Action:  "Check the network connection and try again",
		Code:    "NET001",
	}
	statusMessage = UserMessage{
		Message: "EN refused the export request",
		Action:  "Check the token and the export service URL",
		Code:    "NET002",
	}
	grammarMessage = UserMessage{
		Message: "The export contains malformed CSV",
		Action:  "Check the configured delimiter matches the EN export settings",
		Code:    "CSV001",
	}
	widthMessage = UserMessage{
		Message: "A row has a different number of columns than the header",
		Action:  "Check the configured delimiter matches the EN export settings",
		Code:    "CSV002",
	}
)

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error patterns (case-insensitive) for errors
// that are not part of the download taxonomy.
var errorPatterns = []errorPattern{
	{
		pattern: "too many concurrent downloads",
		msg: UserMessage{
			Message: "Too many downloads in progress",
			Action:  "Please wait a moment and try again",
			Code:    "LIM001",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "The download was cancelled",
			Action:  "Start a new download when ready",
			Code:    "CAN001",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "The download timed out",
			Action:  "Try a shorter date range or raise the request timeout",
			Code:    "TMO001",
		},
	},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB001",
		},
	},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts an error into a user-friendly message.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	switch kind := KindOf(err); kind {
	case KindTransport:
		var te *TransportError
		if errors.As(err, &te) && te.StatusCode != 0 {
			return statusMessage
		}
		// Cancellation surfaces as a transport error; the pattern says more.
		if msg, ok := matchPattern(err); ok {
			return msg
		}
		return transportMessage
	case KindParse:
		var pe *ParseError
		if errors.As(err, &pe) && pe.Err == nil {
			return widthMessage
		}
		return grammarMessage
	default:
		if msg, ok := kindMessages[kind]; ok {
			return msg
		}
	}

	if msg, ok := matchPattern(err); ok {
		return msg
	}
	return defaultMessage
}

func matchPattern(err error) (UserMessage, bool) {
	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg, true
		}
	}
	return UserMessage{}, false
}

// FormatUserError returns a single-line user message for err.
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}
