package download

// tee.go fans the response body out to the backup sink.
//
// The session goroutine reads the body and hands each chunk to the parser
// and to a bounded queue drained by a writer goroutine. When the queue is
// full the reader blocks, so a slow sink pauses the download instead of
// growing memory. Both paths see chunks in the order they were read.

import (
	"context"
	"io"
)

// DefaultBackupQueue is the number of chunks that may wait for the sink.
const DefaultBackupQueue = 8

type backupTee struct {
	sink   io.WriteCloser
	chunks chan []byte
	done   chan struct{}

	// Written only by the writer goroutine before done is closed.
	err     error
	written int64
}

func newBackupTee(sink io.WriteCloser, queue int) *backupTee {
	if queue <= 0 {
		queue = DefaultBackupQueue
	}
	return &backupTee{
		sink:   sink,
		chunks: make(chan []byte, queue),
		done:   make(chan struct{}),
	}
}

// start launches the writer. onErr is called once, on the first write error.
func (t *backupTee) start(onErr func(error)) {
	go func() {
		defer close(t.done)
		for chunk := range t.chunks {
			if t.err != nil {
				continue
			}
			n, err := t.sink.Write(chunk)
			t.written += int64(n)
			if err != nil {
				t.err = err
				onErr(err)
			}
		}
	}()
}

// send queues a chunk. It returns false if ctx ended first, which is how a
// failed sink stops the reader.
func (t *backupTee) send(ctx context.Context, chunk []byte) bool {
	select {
	case t.chunks <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// finish drains the queue, closes the sink and returns the first error.
// It must be called exactly once, after the last send.
func (t *backupTee) finish() (int64, error) {
	close(t.chunks)
	<-t.done

	closeErr := t.sink.Close()
	if t.err != nil {
		return t.written, t.err
	}
	return t.written, closeErr
}
