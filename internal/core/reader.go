package core

import (
	"errors"
	"io"
	"iter"
)

// DefaultReadSize is the chunk size ReadTransactions reads with.
const DefaultReadSize = 32 * 1024

// ReadTransactions parses a saved export, such as a backup file, with the
// same rules as a live download. When expected is non-negative the final
// count is checked against it as if it were the Total header.
//
// The sequence yields records in row order and ends with at most one error.
func ReadTransactions(r io.Reader, opts StreamOptions, expected int) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		s := NewTransactionStream(opts)
		if expected >= 0 {
			if err := s.SetExpectedCount(expected); err != nil {
				yield(Record{}, err)
				return
			}
		}

		emit := func(recs []Record, err error) bool {
			for _, rec := range recs {
				if !yield(rec, nil) {
					return false
				}
			}
			if err != nil {
				yield(Record{}, err)
				return false
			}
			return true
		}

		buf := make([]byte, DefaultReadSize)
		for {
			n, err := r.Read(buf)
			if n > 0 && !emit(s.Write(buf[:n])) {
				return
			}
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				yield(Record{}, err)
				return
			}
		}
		emit(s.Close())
	}
}
