// Package registry owns every live transport connection and PTY session,
// keyed by caller-chosen connection IDs. It is the single mutator of its
// maps; all other packages reach connections through it.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/rshell/backend/internal/pty"
	"github.com/rshell/backend/internal/transport"
)

var (
	// ErrNotFound is returned for any operation on an unknown connection ID.
	ErrNotFound = errors.New("connection not found")
	// ErrPtyNotFound is returned for PTY operations on a connection with no
	// active session.
	ErrPtyNotFound = errors.New("no pty session for connection")
	// ErrPtyUnsupported is returned when a PTY is requested on a transport
	// that cannot open an interactive shell.
	ErrPtyUnsupported = errors.New("transport does not support pty sessions")
)

// shellOpener is the capability StartPty needs from a transport handle. Of
// the built-in clients only SSH provides it.
type shellOpener interface {
	OpenShell(cols, rows int) (transport.ShellChannel, error)
}

type conn struct {
	client transport.Client

	// opMu serializes operations on transports that cannot interleave
	// requests on one stream. FTP takes it exclusively; SSH and SFTP
	// share-read it.
	opMu sync.RWMutex
}

type pendingConnect struct {
	cancel context.CancelFunc
}

// Registry is the connection/session table. The zero value is not usable;
// construct with New.
type Registry struct {
	mu      sync.RWMutex
	conns   map[string]*conn
	pending map[string]*pendingConnect
	ptys    map[string]*pty.Session
	gens    map[string]uint64

	dial DialFunc

	inputDepth  int
	outputDepth int
}

// DialFunc establishes a transport connection. The default is
// transport.Dial.
type DialFunc func(ctx context.Context, cfg transport.Config) (transport.Client, error)

// New returns an empty registry. The depth arguments bound each PTY
// session's input and output queues; zero selects the pty package default.
func New(inputDepth, outputDepth int) *Registry {
	return NewWithDialer(inputDepth, outputDepth, transport.Dial)
}

// NewWithDialer is New with a custom dialer, for callers that wrap or fake
// transport establishment.
func NewWithDialer(inputDepth, outputDepth int, dial DialFunc) *Registry {
	return &Registry{
		conns:       make(map[string]*conn),
		pending:     make(map[string]*pendingConnect),
		ptys:        make(map[string]*pty.Session),
		gens:        make(map[string]uint64),
		dial:        dial,
		inputDepth:  inputDepth,
		outputDepth: outputDepth,
	}
}

// Create dials cfg and registers the resulting handle under id. While the
// dial is in flight the id is Pending and CancelPending can abort it. The
// pending entry is removed once the dial resolves, whatever the outcome; a
// handle whose dial was cancelled is disconnected and never inserted.
//
// Concurrent Creates for one id are not deduplicated: the last successful
// dial wins the map slot. IDs are caller-chosen and expected to be unique
// per UI session.
func (r *Registry) Create(ctx context.Context, id string, cfg transport.Config) error {
	cctx, cancel := context.WithCancel(ctx)
	mine := &pendingConnect{cancel: cancel}

	r.mu.Lock()
	if old, ok := r.pending[id]; ok {
		old.cancel()
	}
	r.pending[id] = mine
	r.mu.Unlock()

	client, err := r.dial(cctx, cfg)
	cancelled := cctx.Err() != nil
	cancel()

	r.mu.Lock()
	if r.pending[id] == mine {
		delete(r.pending, id)
	}
	if err == nil && !cancelled {
		var replaced *conn
		if old, ok := r.conns[id]; ok {
			replaced = old
		}
		r.conns[id] = &conn{client: client}
		r.mu.Unlock()
		if replaced != nil {
			_ = replaced.client.Disconnect()
		}
		log.Info().Str("connection_id", id).Str("protocol", cfg.Protocol.String()).Msg("connection established")
		return nil
	}
	r.mu.Unlock()

	if err == nil && cancelled {
		// The dial won the race after cancellation signalled. Discard.
		_ = client.Disconnect()
	}
	if err != nil {
		return err
	}
	return &transport.ConnectError{
		Kind:   transport.KindCanceled,
		Target: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Err:    context.Canceled,
	}
}

// CancelPending aborts an in-flight Create for id. Returns true when a
// pending dial existed and was signalled; false when there was nothing to
// cancel (including a dial that already resolved, an inherent race).
func (r *Registry) CancelPending(id string) bool {
	r.mu.Lock()
	p, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	p.cancel()
	log.Debug().Str("connection_id", id).Msg("pending connection cancelled")
	return true
}

// Get returns the live transport handle for id.
func (r *Registry) Get(id string) (transport.Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	return c.client, true
}

// Use runs fn against the connection's handle under the exclusivity rule the
// protocol requires: FTP holds the connection exclusively for the duration
// of fn, SSH and SFTP take a shared read lock so independent operations may
// interleave.
func (r *Registry) Use(id string, fn func(transport.Client) error) error {
	r.mu.RLock()
	c, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	if c.client.Protocol() == transport.ProtocolFTP {
		c.opMu.Lock()
		defer c.opMu.Unlock()
	} else {
		c.opMu.RLock()
		defer c.opMu.RUnlock()
	}
	return fn(c.client)
}

// Close tears down the connection for id: any PTY session first, then the
// transport handle.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	c, ok := r.conns[id]
	delete(r.conns, id)
	sess := r.ptys[id]
	delete(r.ptys, id)
	r.mu.Unlock()

	if sess != nil {
		_ = sess.Close()
	}
	if !ok {
		return ErrNotFound
	}
	log.Info().Str("connection_id", id).Msg("connection closed")
	return c.client.Disconnect()
}

// List returns the ids of all live connections, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// ConnectionType reports the protocol of the connection for id, so generic
// file-operation dispatch can route without a typed handle.
func (r *Registry) ConnectionType(id string) (transport.Protocol, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	if !ok {
		return 0, false
	}
	return c.client.Protocol(), true
}

// StartPty opens an interactive shell on the connection's transport and
// registers it as the id's PTY session, replacing and cancelling any
// predecessor. The returned session carries the new generation, which starts
// at 1 per id and strictly increases on every call.
//
// The predecessor is cancelled before the new channel opens, so there is a
// brief window with no session for the id; its pumps observe cancellation
// and exit before the new session's queues carry data.
func (r *Registry) StartPty(id string, cols, rows int) (*pty.Session, error) {
	r.mu.Lock()
	c, ok := r.conns[id]
	if !ok {
		r.mu.Unlock()
		return nil, ErrNotFound
	}
	opener, canShell := c.client.(shellOpener)
	if !canShell {
		r.mu.Unlock()
		return nil, ErrPtyUnsupported
	}
	old := r.ptys[id]
	delete(r.ptys, id)
	r.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	ch, err := opener.OpenShell(cols, rows)
	if err != nil {
		return nil, fmt.Errorf("open shell for %q: %w", id, err)
	}

	return r.register(id, ch), nil
}

// StartLocalPty registers a PTY session over a local shell under id. No
// transport connection is involved; generation rules are identical to
// StartPty.
func (r *Registry) StartLocalPty(id, shell string, cols, rows int) (*pty.Session, error) {
	r.mu.Lock()
	old := r.ptys[id]
	delete(r.ptys, id)
	r.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	// Reserve the generation before the shell spawns so the session never
	// carries a stale number. A failed spawn burns a generation, which
	// keeps the counter monotonic either way.
	r.mu.Lock()
	gen := r.gens[id] + 1
	r.gens[id] = gen
	r.mu.Unlock()

	sess, err := pty.StartLocal(shell, gen, cols, rows, r.inputDepth, r.outputDepth)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	displaced := r.ptys[id]
	r.ptys[id] = sess
	r.mu.Unlock()

	if displaced != nil {
		_ = displaced.Close()
	}
	log.Info().Str("connection_id", id).Uint64("generation", gen).Msg("local pty started")
	return sess, nil
}

func (r *Registry) register(id string, ch transport.ShellChannel) *pty.Session {
	r.mu.Lock()
	gen := r.gens[id] + 1
	r.gens[id] = gen
	sess := pty.Start(ch, gen, r.inputDepth, r.outputDepth)
	// A concurrent start may have registered between the old session's
	// removal and here. Whichever insert lands second wins; the displaced
	// session must still be torn down.
	displaced := r.ptys[id]
	r.ptys[id] = sess
	r.mu.Unlock()

	if displaced != nil {
		_ = displaced.Close()
	}
	log.Info().Str("connection_id", id).Uint64("generation", gen).Msg("pty started")
	return sess
}

// Pty returns the current PTY session for id. The bridge's output pump
// captures the session once at start so a later replacement cannot be read
// by a stale pump.
func (r *Registry) Pty(id string) (*pty.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.ptys[id]
	return sess, ok
}

// WriteToPty queues keystrokes for the id's session.
func (r *Registry) WriteToPty(id string, data []byte) error {
	sess, ok := r.Pty(id)
	if !ok {
		return ErrPtyNotFound
	}
	return sess.WriteInput(data)
}

// ReadFromPty returns queued terminal output for the id's session, empty
// when nothing arrived within the poll bound. A session that tore itself
// down (remote EOF) is removed from the table on first observation.
func (r *Registry) ReadFromPty(ctx context.Context, id string) ([]byte, error) {
	sess, ok := r.Pty(id)
	if !ok {
		return nil, ErrPtyNotFound
	}
	data, err := sess.ReadOutput(ctx)
	if errors.Is(err, pty.ErrSessionClosed) {
		r.dropPty(id, sess)
	}
	return data, err
}

// ClosePty cancels and removes the id's session, reporting whether a
// session was actually torn down. When expected is non-nil and does not
// match the session's current generation the close is stale and ignored:
// the session it meant to kill is already gone.
func (r *Registry) ClosePty(id string, expected *uint64) bool {
	r.mu.Lock()
	sess, ok := r.ptys[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	if expected != nil && *expected != sess.Generation {
		cur := sess.Generation
		r.mu.Unlock()
		log.Debug().Str("connection_id", id).
			Uint64("expected", *expected).Uint64("current", cur).
			Msg("stale pty close ignored")
		return false
	}
	delete(r.ptys, id)
	r.mu.Unlock()
	_ = sess.Close()
	log.Debug().Str("connection_id", id).Msg("pty closed")
	return true
}

// ResizePty queues a window-size change for the id's session.
func (r *Registry) ResizePty(id string, cols, rows int) error {
	sess, ok := r.Pty(id)
	if !ok {
		return ErrPtyNotFound
	}
	return sess.Resize(cols, rows)
}

// dropPty removes sess from the table if it is still the registered session
// for id.
func (r *Registry) dropPty(id string, sess *pty.Session) {
	r.mu.Lock()
	if r.ptys[id] == sess {
		delete(r.ptys, id)
	}
	r.mu.Unlock()
}
