package core

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

const streamHeader = "Supporter ID,Supporter Email,Campaign Type,Campaign ID,Note,\n"

func streamBody(rows int) string {
	var b strings.Builder
	b.WriteString(streamHeader)
	for i := 1; i <= rows; i++ {
		fmt.Fprintf(&b, "%d,u%d@example.org,FUN,%d,\"Grüße, line\n%d\",\n", i, i, i, i)
	}
	return b.String()
}

// runStream feeds data in chunks of size n and closes the stream.
func runStream(s *TransactionStream, data []byte, n int) ([]Record, error) {
	var out []Record
	for len(data) > 0 {
		k := min(n, len(data))
		recs, err := s.Write(data[:k])
		out = append(out, recs...)
		if err != nil {
			return out, err
		}
		data = data[k:]
	}
	recs, err := s.Close()
	out = append(out, recs...)
	return out, err
}

func TestTransactionStream_ChunkingIndependent(t *testing.T) {
	data := []byte(streamBody(5))

	want, err := runStream(NewTransactionStream(StreamOptions{}), data, len(data))
	if err != nil {
		t.Fatalf("single chunk: %v", err)
	}
	if len(want) != 5 {
		t.Fatalf("single chunk produced %d records, want 5", len(want))
	}
	if got := want[0].Value("Note"); got != "Grüße, line\n1" {
		t.Fatalf("Note = %q", got)
	}

	for n := 1; n < len(data); n++ {
		got, err := runStream(NewTransactionStream(StreamOptions{}), data, n)
		if err != nil {
			t.Fatalf("chunk size %d: %v", n, err)
		}
		if len(got) != len(want) {
			t.Fatalf("chunk size %d: %d records, want %d", n, len(got), len(want))
		}
		for i := range got {
			if !got[i].Equal(want[i]) {
				t.Fatalf("chunk size %d: record %d = %v, want %v", n, i, got[i].Map(), want[i].Map())
			}
		}
	}
}

func TestTransactionStream_ExpectedCount(t *testing.T) {
	s := NewTransactionStream(StreamOptions{})
	if err := s.SetExpectedCount(3); err != nil {
		t.Fatalf("SetExpectedCount failed: %v", err)
	}
	if err := s.SetExpectedCount(4); !errors.Is(err, ErrExpectedCountSet) {
		t.Errorf("second SetExpectedCount = %v, want ErrExpectedCountSet", err)
	}
	if n, ok := s.ExpectedCount(); n != 3 || !ok {
		t.Errorf("ExpectedCount = (%d, %v), want (3, true)", n, ok)
	}

	recs, err := runStream(s, []byte(streamBody(3)), 16)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 3 || s.Count() != 3 {
		t.Errorf("got %d records (Count %d), want 3", len(recs), s.Count())
	}
}

func TestTransactionStream_IntegrityError(t *testing.T) {
	s := NewTransactionStream(StreamOptions{})
	s.SetExpectedCount(10)

	recs, err := runStream(s, []byte(streamBody(2)), 8)
	var ie *IntegrityError
	if !errors.As(err, &ie) {
		t.Fatalf("expected IntegrityError, got %v", err)
	}
	if ie.Expected != 10 || ie.Received != 2 {
		t.Errorf("IntegrityError = %+v", ie)
	}
	if len(recs) != 2 {
		t.Errorf("got %d records, want 2", len(recs))
	}
	if got := err.Error(); got != "record count mismatch: expected 10 vs received 2" {
		t.Errorf("Error() = %q", got)
	}
}

func TestTransactionStream_NoTrailingNewline(t *testing.T) {
	body := strings.TrimSuffix(streamBody(2), "\n")

	s := NewTransactionStream(StreamOptions{})
	s.SetExpectedCount(2)
	recs, err := runStream(s, []byte(body), 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 2 {
		t.Errorf("got %d records, want 2", len(recs))
	}
}

func TestTransactionStream_VendorError(t *testing.T) {
	body := "\n\nERROR: Too many requests, try later\n"

	for _, n := range []int{1, 3, 9, len(body)} {
		t.Run(fmt.Sprintf("chunk %d", n), func(t *testing.T) {
			s := NewTransactionStream(StreamOptions{})
			recs, err := runStream(s, []byte(body), n)

			var ve *VendorError
			if !errors.As(err, &ve) {
				t.Fatalf("expected VendorError, got %v", err)
			}
			if ve.Message != "ERROR: Too many requests, try later" {
				t.Errorf("Message = %q", ve.Message)
			}
			if len(recs) != 0 {
				t.Errorf("got %d records, want 0", len(recs))
			}
		})
	}
}

func TestTransactionStream_VendorErrorWithoutNewline(t *testing.T) {
	s := NewTransactionStream(StreamOptions{})
	_, err := runStream(s, []byte("\n\nERROR: quota"), 4)

	var ve *VendorError
	if !errors.As(err, &ve) {
		t.Fatalf("expected VendorError, got %v", err)
	}
	if ve.Message != "ERROR: quota" {
		t.Errorf("Message = %q", ve.Message)
	}
}

func TestTransactionStream_VendorErrorKeepsEveryLine(t *testing.T) {
	body := "\n\nERROR: quota exceeded\nretry after 2024-01-02\n"

	for _, n := range []int{2, 8, len(body)} {
		t.Run(fmt.Sprintf("chunk %d", n), func(t *testing.T) {
			_, err := runStream(NewTransactionStream(StreamOptions{}), []byte(body), n)
			var ve *VendorError
			if !errors.As(err, &ve) {
				t.Fatalf("expected VendorError, got %v", err)
			}
			if want := "ERROR: quota exceeded\nretry after 2024-01-02"; ve.Message != want {
				t.Errorf("Message = %q, want %q", ve.Message, want)
			}
		})
	}
}

func TestTransactionStream_VendorErrorCapped(t *testing.T) {
	body := "\n\nERROR: " + strings.Repeat("x", 2*maxVendorMessage)

	s := NewTransactionStream(StreamOptions{})
	_, err := s.Write([]byte(body))
	var ve *VendorError
	if !errors.As(err, &ve) {
		t.Fatalf("expected VendorError from Write, got %v", err)
	}
	if len(ve.Message) != maxVendorMessage {
		t.Errorf("message length = %d, want %d", len(ve.Message), maxVendorMessage)
	}
}

func TestTransactionStream_SentinelOnlyAtStart(t *testing.T) {
	body := streamHeader + "\n\nERROR: not a vendor error,x,FUN,1,n,\n"

	s := NewTransactionStream(StreamOptions{})
	recs, err := runStream(s, []byte(body), 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 1 {
		t.Errorf("got %d records, want 1", len(recs))
	}
}

func TestTransactionStream_ShortPayloadIsData(t *testing.T) {
	// Shorter than the sentinel and a prefix of it.
	s := NewTransactionStream(StreamOptions{})
	recs, err := runStream(s, []byte("\n\n"), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("got %d records, want 0", len(recs))
	}
}

func TestTransactionStream_ErrorLatches(t *testing.T) {
	s := NewTransactionStream(StreamOptions{})

	_, err := s.Write([]byte("Name,Email\nx,y\n"))
	var se *SchemaError
	if !errors.As(err, &se) {
		t.Fatalf("expected SchemaError, got %v", err)
	}

	recs, err2 := s.Write([]byte(streamBody(1)))
	if err2 != err || recs != nil {
		t.Errorf("Write after failure = (%v, %v), want latched error", recs, err2)
	}
	if _, err3 := s.Close(); err3 != err {
		t.Errorf("Close after failure = %v, want latched error", err3)
	}
	if s.Err() != err {
		t.Errorf("Err = %v", s.Err())
	}
}

func TestTransactionStream_WriteAfterClose(t *testing.T) {
	s := NewTransactionStream(StreamOptions{})
	if _, err := runStream(s, []byte(streamBody(1)), 64); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.Write([]byte("x")); !errors.Is(err, ErrStreamClosed) {
		t.Errorf("Write after Close = %v, want ErrStreamClosed", err)
	}
	if _, err := s.Close(); !errors.Is(err, ErrStreamClosed) {
		t.Errorf("second Close = %v, want ErrStreamClosed", err)
	}
}

func TestTransactionStream_RowMismatchStopsStream(t *testing.T) {
	body := streamHeader + "1,a@example.org,FUN,1,n,\n2,b@example.org\n3,c@example.org,FUN,3,n,\n"

	s := NewTransactionStream(StreamOptions{})
	recs, err := runStream(s, []byte(body), 1)

	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if pe.Row != 2 {
		t.Errorf("Row = %d, want 2", pe.Row)
	}
	if len(recs) != 1 {
		t.Errorf("got %d records, want only the row before the bad one", len(recs))
	}
}

func TestTransactionStream_Header(t *testing.T) {
	s := NewTransactionStream(StreamOptions{})
	if s.Header() != nil {
		t.Error("Header before any data should be nil")
	}
	if _, err := runStream(s, []byte(streamBody(0)), 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := s.Header(); len(got) != 6 || got[1] != "Supporter Email" {
		t.Errorf("Header = %q", got)
	}
}
