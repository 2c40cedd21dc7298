package core

// reassembler.go turns network chunks into complete text lines.
//
// Chunks arrive with no alignment to lines or characters. The reassembler
// keeps two kinds of leftovers between calls:
//
//   - undecoded bytes of a multi-byte character split by the chunk boundary
//   - decoded text after the last newline seen so far
//
// Feeding the same bytes in any chunking yields the same lines.

import (
	"errors"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// decodeBufSize is the scratch buffer used per Transform call.
const decodeBufSize = 4096

// LineReassembler buffers partial lines across chunk boundaries.
// It is not safe for concurrent use.
type LineReassembler struct {
	decoder   transform.Transformer
	undecoded []byte
	pending   strings.Builder
	buf       []byte
}

// NewLineReassembler creates a reassembler decoding input with enc.
// A nil encoding means UTF-8.
func NewLineReassembler(enc encoding.Encoding) *LineReassembler {
	if enc == nil {
		enc = unicode.UTF8
	}
	return &LineReassembler{
		decoder: enc.NewDecoder(),
		buf:     make([]byte, decodeBufSize),
	}
}

// Feed decodes chunk and returns every line completed by it, without
// terminators. Text after the last newline is kept for the next call.
func (r *LineReassembler) Feed(chunk []byte) ([]string, error) {
	text, err := r.decode(chunk, false)
	if err != nil {
		return nil, err
	}

	i := strings.LastIndexByte(text, '\n')
	if i < 0 {
		r.pending.WriteString(text)
		return nil, nil
	}

	r.pending.WriteString(text[:i])
	complete := r.pending.String()
	r.pending.Reset()
	r.pending.WriteString(text[i+1:])

	return splitLines(complete), nil
}

// Finish flushes the decoder and returns the trailing unterminated line,
// if any. A character still incomplete at end of input decodes to U+FFFD.
// The reassembler is reset and can be reused afterwards.
func (r *LineReassembler) Finish() (string, bool, error) {
	text, err := r.decode(nil, true)
	if err != nil {
		return "", false, err
	}
	r.pending.WriteString(text)

	line := strings.TrimSuffix(r.pending.String(), "\r")
	r.pending.Reset()
	r.undecoded = nil
	r.decoder.Reset()

	if line == "" {
		return "", false, nil
	}
	return line, true, nil
}

// Pending reports how many decoded bytes are buffered awaiting a newline.
func (r *LineReassembler) Pending() int {
	return r.pending.Len()
}

// decode runs chunk through the stateful decoder. Trailing bytes that do
// not yet form a full character are held back unless atEOF is set.
func (r *LineReassembler) decode(chunk []byte, atEOF bool) (string, error) {
	src := chunk
	if len(r.undecoded) > 0 {
		src = append(r.undecoded, chunk...)
		r.undecoded = nil
	}

	var out strings.Builder
	for {
		nDst, nSrc, err := r.decoder.Transform(r.buf, src, atEOF)
		out.Write(r.buf[:nDst])
		src = src[nSrc:]

		switch {
		case err == nil:
			return out.String(), nil
		case errors.Is(err, transform.ErrShortDst):
			continue
		case errors.Is(err, transform.ErrShortSrc) && !atEOF:
			r.undecoded = append([]byte(nil), src...)
			return out.String(), nil
		default:
			return out.String(), err
		}
	}
}

// splitLines splits on '\n' and drops a trailing '\r' from each line.
func splitLines(text string) []string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}
