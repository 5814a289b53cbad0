// Package pty runs one interactive shell channel behind bounded queues.
//
// A Session bridges a raw byte channel (an SSH shell or a local PTY) to
// input/output/resize queues that the connection registry and the I/O bridge
// consume. Teardown is cooperative: Close signals the pump goroutines, which
// exit at their next blocking point.
package pty

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

// ErrSessionClosed is returned once the session has been torn down.
var ErrSessionClosed = errors.New("pty session closed")

const (
	// DefaultQueueDepth bounds the input and output queues when the caller
	// passes zero.
	DefaultQueueDepth = 256

	// outputPollBound is how long ReadOutput waits for data before
	// returning empty, so callers can poll without busy-spinning.
	outputPollBound = time.Millisecond

	// readBufSize matches the per-read buffer the output pump hands to the
	// channel.
	readBufSize = 8192

	resizeQueueDepth = 16
)

// Channel is the raw bidirectional byte stream a Session drives. The SSH
// shell and the local PTY both satisfy it.
type Channel interface {
	io.Reader
	io.Writer
	Resize(cols, rows int) error
	Close() error
}

// Winsize is one queued terminal resize.
type Winsize struct {
	Cols int
	Rows int
}

// Session owns the queues for one shell channel. At most one Session exists
// per connection ID; the registry replaces a Session wholesale rather than
// reusing it.
type Session struct {
	// Generation disambiguates this session from its predecessors on the
	// same connection ID. Set by the registry, starting at 1.
	Generation uint64

	ch     Channel
	input  chan []byte
	output chan []byte
	resize chan Winsize
	done   chan struct{}

	// Input that overflowed the bounded queue, drained in arrival order by
	// a single background goroutine so bytes are never reordered.
	pendMu   sync.Mutex
	pending  [][]byte
	draining bool

	closeOnce sync.Once
}

// Start wraps ch in a Session and spawns its pump goroutines. inputDepth and
// outputDepth bound the queues; zero selects DefaultQueueDepth.
func Start(ch Channel, generation uint64, inputDepth, outputDepth int) *Session {
	if inputDepth <= 0 {
		inputDepth = DefaultQueueDepth
	}
	if outputDepth <= 0 {
		outputDepth = DefaultQueueDepth
	}
	s := &Session{
		Generation: generation,
		ch:         ch,
		input:      make(chan []byte, inputDepth),
		output:     make(chan []byte, outputDepth),
		resize:     make(chan Winsize, resizeQueueDepth),
		done:       make(chan struct{}),
	}
	go s.writePump()
	go s.readPump()
	go s.resizePump()
	return s
}

// Done is closed when the session tears down. The bridge's output pump
// selects on it.
func (s *Session) Done() <-chan struct{} { return s.done }

// Closed reports whether teardown has been signalled.
func (s *Session) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// WriteInput queues keystrokes for the shell. The fast path is a
// non-blocking send; when the queue is full the bytes move to an overflow
// list drained by a background goroutine, so the caller never stalls. Under
// backpressure input is delayed but neither dropped nor reordered, unless
// the session closes before the drain lands.
func (s *Session) WriteInput(data []byte) error {
	if s.Closed() {
		return ErrSessionClosed
	}
	// The caller may reuse its buffer; own the bytes before queueing.
	owned := make([]byte, len(data))
	copy(owned, data)

	s.pendMu.Lock()
	defer s.pendMu.Unlock()
	if !s.draining {
		select {
		case s.input <- owned:
			return nil
		default:
		}
	}
	s.pending = append(s.pending, owned)
	if !s.draining {
		s.draining = true
		go s.drainPending()
	}
	return nil
}

func (s *Session) drainPending() {
	for {
		s.pendMu.Lock()
		if len(s.pending) == 0 {
			s.draining = false
			s.pendMu.Unlock()
			return
		}
		next := s.pending[0]
		s.pending = s.pending[1:]
		s.pendMu.Unlock()

		select {
		case s.input <- next:
		case <-s.done:
			return
		}
	}
}

// ReadOutput returns queued shell output. It returns immediately when data
// is buffered, otherwise waits up to one millisecond and returns nil.
// After teardown it returns ErrSessionClosed, though output queued before
// the close may still be drained first.
func (s *Session) ReadOutput(ctx context.Context) ([]byte, error) {
	select {
	case data := <-s.output:
		return data, nil
	default:
	}

	timer := time.NewTimer(outputPollBound)
	defer timer.Stop()

	select {
	case data := <-s.output:
		return data, nil
	case <-timer.C:
		return nil, nil
	case <-s.done:
		return nil, ErrSessionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Resize queues a window-size change. Only the latest pending size matters,
// so a full queue drops the oldest entry.
func (s *Session) Resize(cols, rows int) error {
	if s.Closed() {
		return ErrSessionClosed
	}
	ws := Winsize{Cols: cols, Rows: rows}
	select {
	case s.resize <- ws:
		return nil
	default:
	}
	select {
	case <-s.resize:
	default:
	}
	select {
	case s.resize <- ws:
	default:
	}
	return nil
}

// Close tears the session down: signals the pumps and closes the underlying
// channel. Idempotent.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.ch.Close()
	})
	return err
}

func (s *Session) writePump() {
	for {
		select {
		case <-s.done:
			return
		case data := <-s.input:
			if _, err := s.ch.Write(data); err != nil {
				_ = s.Close()
				return
			}
		}
	}
}

func (s *Session) readPump() {
	buf := make([]byte, readBufSize)
	for {
		n, err := s.ch.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case s.output <- chunk:
			case <-s.done:
				return
			}
		}
		if err != nil {
			// EOF or a dropped connection; no further output will come.
			_ = s.Close()
			return
		}
	}
}

func (s *Session) resizePump() {
	for {
		select {
		case <-s.done:
			return
		case ws := <-s.resize:
			// A failed resize is not fatal to the shell.
			_ = s.ch.Resize(ws.Cols, ws.Rows)
		}
	}
}
