package bridge

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/rshell/backend/internal/pty"
)

const (
	// flushSize and flushInterval drive output coalescing: small reads
	// accumulate until the buffer passes flushSize or flushInterval has
	// elapsed since the last flush, whichever comes first.
	flushSize     = 4 * 1024
	flushInterval = 5 * time.Millisecond
)

// outputPump forwards one PTY session's output to one bridge client,
// coalescing small reads into larger frames. It captures its *pty.Session at
// start, so a session replaced in the registry can never be read by the old
// pump.
type outputPump struct {
	connID string
	sess   *pty.Session
	emit   func(Message) bool // false means downstream is gone

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	gate   chan struct{} // non-nil while paused, closed on resume
	exited chan struct{}
}

func startOutputPump(connID string, sess *pty.Session, emit func(Message) bool) *outputPump {
	ctx, cancel := context.WithCancel(context.Background())
	p := &outputPump{
		connID: connID,
		sess:   sess,
		emit:   emit,
		ctx:    ctx,
		cancel: cancel,
		exited: make(chan struct{}),
	}
	go p.run()
	return p
}

// Pause parks the pump after its next flush. Idempotent.
func (p *outputPump) Pause() {
	p.mu.Lock()
	if p.gate == nil {
		p.gate = make(chan struct{})
	}
	p.mu.Unlock()
}

// Resume releases a paused pump. Idempotent.
func (p *outputPump) Resume() {
	p.mu.Lock()
	if p.gate != nil {
		close(p.gate)
		p.gate = nil
	}
	p.mu.Unlock()
}

// Stop cancels the pump. It does not touch the session; session lifetime is
// the registry's concern.
func (p *outputPump) Stop() {
	p.cancel()
	p.Resume() // release a parked pump so it can observe the cancel
}

func (p *outputPump) pauseGate() chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gate
}

func (p *outputPump) run() {
	defer close(p.exited)

	var buf bytes.Buffer
	lastFlush := time.Now()

	flush := func() bool {
		if buf.Len() == 0 {
			lastFlush = time.Now()
			return true
		}
		ok := p.emit(Message{
			Type:         TypeOutput,
			ConnectionID: p.connID,
			Data:         buf.String(),
		})
		buf.Reset()
		lastFlush = time.Now()
		return ok
	}

	for {
		if gate := p.pauseGate(); gate != nil {
			// Paused: hand over what we have, then park. Input keeps
			// flowing; only output delivery stops.
			if !flush() {
				return
			}
			select {
			case <-gate:
			case <-p.ctx.Done():
				return
			}
		}

		data, err := p.sess.ReadOutput(p.ctx)
		if err != nil {
			// Session closed or pump cancelled. Deliver the tail.
			flush()
			return
		}
		buf.Write(data)

		if buf.Len() >= flushSize || (buf.Len() > 0 && time.Since(lastFlush) >= flushInterval) {
			if !flush() {
				return
			}
		}
	}
}
