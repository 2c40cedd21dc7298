package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JonMunkholm/enexport/internal/core"
)

// ErrCanceled is the terminal error of a session stopped by Close or by the
// caller's context before the body ended.
var ErrCanceled = errors.New("download canceled")

// State is the lifecycle position of a download.
type State int32

const (
	StateValidating State = iota
	StateRequesting
	StateStreaming
	StateReconciling
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateValidating:
		return "validating"
	case StateRequesting:
		return "requesting"
	case StateStreaming:
		return "streaming"
	case StateReconciling:
		return "reconciling"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Session is one running download. Records are delivered in row order
// through Next or All; the terminal error, if any, is reported once the
// records queued before it have been consumed.
//
// Next and All must be used from one goroutine. Close, Err, State and
// Progress may be called from any goroutine.
type Session struct {
	id     string
	ctx    context.Context
	cancel context.CancelCauseFunc
	log    *slog.Logger

	stream    *core.TransactionStream
	body      io.ReadCloser
	counter   *core.CountingReader
	tee       *backupTee
	chunkSize int

	records chan core.Record
	done    chan struct{}

	expected    int
	hasExpected bool
	started     time.Time

	state   atomic.Int32
	emitted atomic.Int64

	mu       sync.Mutex
	terminal bool
	err      error
}

// ID returns the session id used in logs.
func (s *Session) ID() string { return s.id }

// ExpectedCount returns the Total header value and whether EN sent it.
func (s *Session) ExpectedCount() (int, bool) { return s.expected, s.hasExpected }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Emitted returns the number of records handed to the consumer queue.
func (s *Session) Emitted() int64 { return s.emitted.Load() }

// Progress returns body progress as a percentage, or 0 when the length is unknown.
func (s *Session) Progress() int { return s.counter.Progress() }

// BytesRead returns the number of body bytes read so far.
func (s *Session) BytesRead() int64 { return s.counter.BytesRead() }

// Done is closed once the session reached a terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the terminal error, or nil while running or after success.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Header returns the header row once the session is done. It is nil before.
func (s *Session) Header() []string {
	select {
	case <-s.done:
		return s.stream.Header()
	default:
		return nil
	}
}

// Next returns the next record. At the end it returns io.EOF on success or
// the terminal error on failure.
func (s *Session) Next(ctx context.Context) (core.Record, error) {
	select {
	case rec, ok := <-s.records:
		if ok {
			return rec, nil
		}
		<-s.done
		if err := s.Err(); err != nil {
			return core.Record{}, err
		}
		return core.Record{}, io.EOF
	case <-ctx.Done():
		return core.Record{}, ctx.Err()
	}
}

// All yields every record, then the terminal error if there is one.
// Stopping the iteration early closes the session.
func (s *Session) All(ctx context.Context) iter.Seq2[core.Record, error] {
	return func(yield func(core.Record, error) bool) {
		for {
			rec, err := s.Next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(core.Record{}, err)
				return
			}
			if !yield(rec, nil) {
				s.Close()
				return
			}
		}
	}
}

// Close cancels the download if it is still running and waits for the
// pipeline to stop. It is safe to call more than once.
func (s *Session) Close() error {
	s.cancel(fmt.Errorf("%w: %w", ErrCanceled, context.Canceled))
	<-s.done
	return nil
}

// Wait blocks until the session is done and returns its terminal error.
// Records not consumed are discarded.
func (s *Session) Wait(ctx context.Context) error {
	for {
		_, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// fail latches err as the terminal error and cancels the transfer. Later
// calls are logged and dropped; it reports whether err was the first.
func (s *Session) fail(err error) bool {
	s.mu.Lock()
	if s.terminal {
		s.mu.Unlock()
		s.log.Debug("suppressed error after terminal state", "error", err)
		return false
	}
	s.terminal = true
	s.err = err
	s.state.Store(int32(StateFailed))
	s.mu.Unlock()

	s.cancel(err)
	s.log.Error("download failed",
		"kind", core.KindOf(err),
		"error", err,
		"records", s.emitted.Load(),
		"bytes", s.counter.BytesRead(),
	)
	return true
}

func (s *Session) complete() {
	s.mu.Lock()
	if s.terminal {
		s.mu.Unlock()
		return
	}
	s.terminal = true
	s.state.Store(int32(StateCompleted))
	s.mu.Unlock()

	s.cancel(nil)
	s.log.Info("download completed",
		"records", s.emitted.Load(),
		"bytes", s.counter.BytesRead(),
		"duration", time.Since(s.started).Round(time.Millisecond),
	)
}

func (s *Session) run() {
	defer close(s.done)
	defer close(s.records)
	defer s.body.Close()

	if s.tee != nil {
		s.tee.start(func(err error) {
			s.fail(&core.BackupWriteError{Err: err})
		})
		defer s.closeTee()
	}

	buf := make([]byte, s.chunkSize)
	for {
		n, readErr := s.counter.Read(buf)
		if n > 0 {
			// buf is reused; both consumers get their own copy.
			chunk := make([]byte, n)
			copy(chunk, buf[:n])

			if s.tee != nil && !s.tee.send(s.ctx, chunk) {
				s.abort()
				return
			}

			recs, err := s.stream.Write(chunk)
			if err != nil {
				s.fail(err)
				return
			}
			if !s.emit(recs) {
				s.abort()
				return
			}
		}

		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			if s.ctx.Err() != nil {
				s.abort()
			} else {
				s.fail(transportError(readErr))
			}
			return
		}
	}

	// The sink has to hold every byte before the download counts as done.
	if err := s.closeTee(); err != nil {
		s.fail(&core.BackupWriteError{Err: err})
		return
	}
	if s.ctx.Err() != nil {
		s.abort()
		return
	}

	s.state.Store(int32(StateReconciling))
	recs, err := s.stream.Close()
	if !s.emit(recs) {
		s.abort()
		return
	}
	if err != nil {
		s.fail(err)
		return
	}
	s.complete()
}

// emit queues records for the consumer. It returns false once the session
// context ends, after which nothing more is queued.
func (s *Session) emit(recs []core.Record) bool {
	for _, rec := range recs {
		if s.ctx.Err() != nil {
			return false
		}
		select {
		case s.records <- rec:
			s.emitted.Add(1)
		case <-s.ctx.Done():
			return false
		}
	}
	return true
}

// abort ends a session whose context was cancelled. When a failure already
// caused the cancellation it stays the terminal error.
func (s *Session) abort() {
	cause := context.Cause(s.ctx)
	switch {
	case cause == nil:
		s.fail(ErrCanceled)
		return
	case errors.Is(cause, ErrCanceled):
		s.fail(cause)
		return
	}
	s.fail(fmt.Errorf("%w: %w", ErrCanceled, cause))
}

// closeTee finishes the backup once. Later calls return nil.
func (s *Session) closeTee() error {
	if s.tee == nil {
		return nil
	}
	tee := s.tee
	s.tee = nil
	written, err := tee.finish()
	if err == nil {
		s.log.Debug("backup written", "bytes", written)
	}
	return err
}
