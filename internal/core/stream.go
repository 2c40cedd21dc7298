package core

// stream.go composes the reassembler and the parser into the transform that
// sits behind a download: raw bytes in, records out.
//
// The stream is single pass. The first error is latched and returned by
// every later call, so a failed stream never emits another record.
//
// Before any CSV parsing the stream sniffs the start of the payload for the
// vendor error channel: EN answers some failures with HTTP 200 and a body of
// "\n\nERROR: <message>". The sniff runs once, at offset zero. A matching
// payload is held until its message line is complete.

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
)

const (
	// vendorErrorSentinel opens an in-band EN error payload.
	vendorErrorSentinel = "\n\nERROR:"

	// maxVendorMessage caps how much of an error payload is buffered and
	// reported.
	maxVendorMessage = 4096
)

var (
	// ErrStreamClosed is returned by Write and Close after a successful Close.
	ErrStreamClosed = errors.New("transaction stream closed")

	// ErrExpectedCountSet is returned when the expected count is set twice.
	ErrExpectedCountSet = errors.New("expected record count already set")
)

type streamState int

const (
	stateSniffing streamState = iota
	stateStreaming
	stateFailed
	stateClosed
)

// StreamOptions configures a TransactionStream. The zero value parses UTF-8
// comma-separated data with DefaultMandatoryFields.
type StreamOptions struct {
	Delimiter       rune
	Encoding        encoding.Encoding
	MandatoryFields []string
}

// TransactionStream converts a chunked CSV payload into records.
// It is not safe for concurrent use; feed it from one goroutine.
type TransactionStream struct {
	lines  *LineReassembler
	parser *RecordParser

	state streamState
	sniff []byte
	err   error

	expected    int
	hasExpected bool
}

// NewTransactionStream creates a stream for one download.
func NewTransactionStream(opts StreamOptions) *TransactionStream {
	return &TransactionStream{
		lines:  NewLineReassembler(opts.Encoding),
		parser: NewRecordParser(opts.Delimiter, opts.MandatoryFields),
	}
}

// SetExpectedCount records the number of records the server declared.
// Without it the stream never checks the final count.
func (s *TransactionStream) SetExpectedCount(n int) error {
	if s.hasExpected {
		return ErrExpectedCountSet
	}
	s.expected = n
	s.hasExpected = true
	return nil
}

// ExpectedCount returns the declared count and whether one was set.
func (s *TransactionStream) ExpectedCount() (int, bool) {
	return s.expected, s.hasExpected
}

// Count returns the number of records emitted so far.
func (s *TransactionStream) Count() int { return s.parser.Count() }

// Header returns the header row once it has been parsed.
func (s *TransactionStream) Header() []string { return s.parser.Header() }

// Err returns the latched error, if any.
func (s *TransactionStream) Err() error { return s.err }

// Write consumes a chunk and returns the records it completed, in row order.
func (s *TransactionStream) Write(chunk []byte) ([]Record, error) {
	switch s.state {
	case stateFailed:
		return nil, s.err
	case stateClosed:
		return nil, ErrStreamClosed
	case stateSniffing:
		s.sniff = append(s.sniff, chunk...)
		if len(s.sniff) < len(vendorErrorSentinel) && strings.HasPrefix(vendorErrorSentinel, string(s.sniff)) {
			return nil, nil
		}
		if bytes.HasPrefix(s.sniff, []byte(vendorErrorSentinel)) {
			// The whole payload is the message; Close reports shorter ones.
			if len(s.sniff)-len("\n\n") < maxVendorMessage {
				return nil, nil
			}
			return nil, s.fail(s.vendorError())
		}
		chunk = s.sniff
		s.sniff = nil
		s.state = stateStreaming
	}

	return s.feed(chunk)
}

// Close flushes the trailing line, then checks the received count against
// the expected one when the server declared it. On an *IntegrityError the
// records completed by the flush are returned along with the error.
func (s *TransactionStream) Close() ([]Record, error) {
	switch s.state {
	case stateFailed:
		return nil, s.err
	case stateClosed:
		return nil, ErrStreamClosed
	}

	var out []Record
	if s.state == stateSniffing {
		if bytes.HasPrefix(s.sniff, []byte(vendorErrorSentinel)) {
			return nil, s.fail(s.vendorError())
		}
		// Shorter than the sentinel and still a prefix of it: plain data.
		s.state = stateStreaming
		recs, err := s.feed(s.sniff)
		s.sniff = nil
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}

	line, ok, err := s.lines.Finish()
	if err != nil {
		return nil, s.fail(&ParseError{Row: s.parser.Count() + 1, Err: fmt.Errorf("decode: %w", err)})
	}
	if ok {
		recs, err := s.parser.Parse([]string{line})
		if err != nil {
			return nil, s.fail(err)
		}
		out = append(out, recs...)
	}

	recs, err := s.parser.Flush()
	if err != nil {
		return nil, s.fail(err)
	}
	out = append(out, recs...)

	// The flushed records were parsed fine; they go out with the error.
	if s.hasExpected && s.parser.Count() != s.expected {
		return out, s.fail(&IntegrityError{Expected: s.expected, Received: s.parser.Count()})
	}

	s.state = stateClosed
	return out, nil
}

func (s *TransactionStream) feed(chunk []byte) ([]Record, error) {
	lines, err := s.lines.Feed(chunk)
	if err != nil {
		return nil, s.fail(&ParseError{Row: s.parser.Count() + 1, Err: fmt.Errorf("decode: %w", err)})
	}
	if len(lines) == 0 {
		return nil, nil
	}

	records, err := s.parser.Parse(lines)
	if err != nil {
		return nil, s.fail(err)
	}
	return records, nil
}

// vendorError builds the error from the buffered payload after the leading
// blank lines, every line of it, up to maxVendorMessage bytes.
func (s *TransactionStream) vendorError() error {
	msg := s.sniff[len("\n\n"):]
	if len(msg) > maxVendorMessage {
		msg = msg[:maxVendorMessage]
	}
	s.sniff = nil
	return &VendorError{Message: strings.TrimSpace(strings.ToValidUTF8(string(msg), ""))}
}

func (s *TransactionStream) fail(err error) error {
	s.state = stateFailed
	s.err = err
	return err
}
