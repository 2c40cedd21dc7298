package core

// validation.go holds the structural checks applied to an export.
//
// Validation happens at two levels:
//  1. Header validation: the mandatory columns must be present, once per stream
//  2. Row validation: every data row must have exactly as many fields as the header
//
// Neither level attempts recovery. The expected-count check downstream needs
// an exact record count, so a skipped row would hide a corrupted download.

import (
	"strings"
)

// DefaultMandatoryFields is the minimal set of columns without which a file
// is not a transactions export.
var DefaultMandatoryFields = []string{"Supporter Email", "Campaign Type", "Campaign ID"}

// byteOrderMark is stripped from the first header cell when present.
const byteOrderMark = "\uFEFF"

// HeaderIndex maps column names to their position in a row.
type HeaderIndex map[string]int

// MakeHeaderIndex creates a HeaderIndex from a header row.
// Empty names are skipped; for duplicate names the first position wins.
func MakeHeaderIndex(header []string) HeaderIndex {
	idx := make(HeaderIndex, len(header))
	for i, h := range header {
		if h == "" {
			continue
		}
		if _, ok := idx[h]; !ok {
			idx[h] = i
		}
	}
	return idx
}

// NamedColumns returns the header without its empty names, which is the
// column set every record carries.
func NamedColumns(header []string) []string {
	names := make([]string, 0, len(header))
	for _, name := range header {
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}

// CleanHeader removes artifacts that should never be part of a column name.
// Only the byte order mark is removed; names are otherwise matched exactly.
func CleanHeader(header []string) []string {
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], byteOrderMark)
	}
	return header
}

// ValidateHeaders checks that every mandatory column exists in the header.
// Returns a *SchemaError listing all missing columns.
func ValidateHeaders(header []string, mandatory []string) (HeaderIndex, error) {
	idx := MakeHeaderIndex(header)
	var missing []string

	for _, name := range mandatory {
		if _, ok := idx[name]; !ok {
			missing = append(missing, name)
		}
	}

	if len(missing) > 0 {
		return nil, &SchemaError{Missing: missing}
	}

	return idx, nil
}

// ValidateRow checks a data row against the header width.
// row is the 1-based data row number used in the error.
func ValidateRow(fields []string, headerLen, row int) error {
	if len(fields) != headerLen {
		return &ParseError{Row: row, Got: len(fields), Want: headerLen}
	}
	return nil
}
