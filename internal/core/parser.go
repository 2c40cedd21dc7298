package core

// parser.go turns batches of complete lines into records.
//
// The first row of a stream is the header. Its names key every record; an
// empty name marks a column to drop (EN exports end with one). Records are
// built only from rows as wide as the header.
//
// A quoted field may contain newlines, so a batch of complete lines can end
// in the middle of a record. The parser keeps such a tail and prepends it to
// the next batch, which keeps the output independent of chunking.

import (
	"encoding/csv"
	"errors"
	"io"
	"strings"
)

// DefaultDelimiter is the field separator used when none is configured.
const DefaultDelimiter = ','

// MaxRecordBytes is the largest record, in decoded bytes, the parser holds
// while waiting for a quoted field to close.
const MaxRecordBytes = 4 << 20

// ErrRecordTooLarge is the cause of a ParseError for a record that grew past
// MaxRecordBytes, usually because of an unclosed quote.
var ErrRecordTooLarge = errors.New("record too large: quoted field never closed")

// RecordParser parses CSV lines into records. It is not safe for concurrent use.
type RecordParser struct {
	delimiter rune
	mandatory []string

	header  []string
	columns []int    // positions of named columns
	names   []string // names at those positions
	count   int

	carry     string
	scanned   int // bytes of carry already seen by scan
	scan      boundaryScanner
	maxRecord int
}

// NewRecordParser creates a parser. A zero delimiter means comma and a nil
// mandatory list means DefaultMandatoryFields.
func NewRecordParser(delimiter rune, mandatory []string) *RecordParser {
	if delimiter == 0 {
		delimiter = DefaultDelimiter
	}
	if mandatory == nil {
		mandatory = DefaultMandatoryFields
	}
	return &RecordParser{
		delimiter: delimiter,
		mandatory: mandatory,
		maxRecord: MaxRecordBytes,
	}
}

// Parse parses a batch of complete lines. On error nothing from the batch
// is returned or counted.
func (p *RecordParser) Parse(lines []string) ([]Record, error) {
	if len(lines) == 0 {
		return nil, nil
	}

	text := p.carry + strings.Join(lines, "\n") + "\n"
	cut := 0
	if n := p.scan.boundary(text[p.scanned:], p.delimiter); n > 0 {
		cut = p.scanned + n
	}
	p.carry = text[cut:]
	p.scanned = len(p.carry)

	before := p.count
	records, err := p.parse(text[:cut])
	if err != nil {
		return nil, err
	}
	if len(p.carry) > p.maxRecord {
		err := &ParseError{Row: p.rowNumber(0), Err: ErrRecordTooLarge}
		p.count = before
		return nil, err
	}
	return records, nil
}

// Flush parses whatever is still held back, typically a record whose quoted
// field was never closed. The resulting grammar error is the one it deserves.
func (p *RecordParser) Flush() ([]Record, error) {
	if p.carry == "" {
		return nil, nil
	}
	text := p.carry
	p.carry = ""
	p.scanned = 0
	p.scan = boundaryScanner{}
	return p.parse(text)
}

// Count returns the number of records built so far.
func (p *RecordParser) Count() int { return p.count }

// Header returns a copy of the captured header row, or nil.
func (p *RecordParser) Header() []string {
	if p.header == nil {
		return nil
	}
	out := make([]string, len(p.header))
	copy(out, p.header)
	return out
}

func (p *RecordParser) parse(text string) ([]Record, error) {
	if text == "" {
		return nil, nil
	}

	rows, err := p.readRows(text)
	if err != nil {
		return nil, err
	}

	if p.header == nil {
		if len(rows) == 0 {
			return nil, nil
		}
		if err := p.setHeader(rows[0]); err != nil {
			return nil, err
		}
		rows = rows[1:]
	}

	records := make([]Record, 0, len(rows))
	for i, row := range rows {
		if err := ValidateRow(row, len(p.header), p.count+i+1); err != nil {
			return nil, err
		}
		records = append(records, p.build(row))
	}
	p.count += len(records)

	return records, nil
}

// readRows runs text through the CSV grammar. Field counts are checked
// afterwards so the error can name both widths.
func (p *RecordParser) readRows(text string) ([][]string, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.Comma = p.delimiter
	r.FieldsPerRecord = -1

	var rows [][]string
	for {
		row, err := r.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			var csvErr *csv.ParseError
			if errors.As(err, &csvErr) {
				err = csvErr.Err
			}
			return nil, &ParseError{Row: p.rowNumber(len(rows)), Err: err}
		}
		rows = append(rows, row)
	}
}

// rowNumber converts a row index within the current batch into a data row
// number within the stream. The header is row 0.
func (p *RecordParser) rowNumber(i int) int {
	if p.header == nil {
		return i
	}
	return p.count + i + 1
}

func (p *RecordParser) setHeader(header []string) error {
	header = CleanHeader(header)
	if _, err := ValidateHeaders(header, p.mandatory); err != nil {
		return err
	}

	p.header = header
	for i, name := range header {
		if name == "" {
			continue
		}
		p.columns = append(p.columns, i)
		p.names = append(p.names, name)
	}
	return nil
}

func (p *RecordParser) build(row []string) Record {
	values := make([]string, len(p.columns))
	for i, pos := range p.columns {
		values[i] = row[pos]
	}
	return NewRecord(p.names, values)
}

// Scanner states for boundaryScanner.
const (
	scanFieldStart = iota
	scanUnquoted
	scanQuoted
	scanQuoteInQuoted
)

// boundaryScanner finds newlines that end records, i.e. ones not inside a
// quoted field. Its state carries over between calls.
type boundaryScanner struct {
	state int
}

// boundary scans text and returns the offset just past the last newline in
// it that ends a record, or 0 if there is none.
func (s *boundaryScanner) boundary(text string, delimiter rune) int {
	boundary := 0
	for i, c := range text {
		switch s.state {
		case scanFieldStart, scanUnquoted, scanQuoteInQuoted:
			switch {
			case c == '\n':
				boundary = i + 1
				s.state = scanFieldStart
			case c == delimiter:
				s.state = scanFieldStart
			case c == '"' && s.state == scanFieldStart:
				s.state = scanQuoted
			case c == '"' && s.state == scanQuoteInQuoted:
				s.state = scanQuoted
			default:
				s.state = scanUnquoted
			}
		case scanQuoted:
			if c == '"' {
				s.state = scanQuoteInQuoted
			}
		}
	}
	return boundary
}

// recordBoundary is boundary on a fresh scanner.
func recordBoundary(text string, delimiter rune) int {
	var s boundaryScanner
	return s.boundary(text, delimiter)
}
