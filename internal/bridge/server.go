package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/rshell/backend/internal/pty"
	"github.com/rshell/backend/internal/registry"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	sendDepth  = 64
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The bridge listens on loopback only; the desktop shell is the sole
	// expected peer and carries no useful Origin header.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server bridges WebSocket clients to PTY sessions held by the registry.
// It binds the first free loopback port in [portStart, portEnd].
type Server struct {
	reg       *registry.Registry
	portStart int
	portEnd   int

	mu   sync.Mutex
	port int
	ln   net.Listener
	srv  *http.Server
}

func NewServer(reg *registry.Registry, portStart, portEnd int) *Server {
	return &Server{reg: reg, portStart: portStart, portEnd: portEnd}
}

// Start binds a loopback port and begins serving. It returns once the
// listener is live; the accept loop runs in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return fmt.Errorf("bridge already started on port %d", s.port)
	}

	var ln net.Listener
	var err error
	for p := s.portStart; p <= s.portEnd; p++ {
		ln, err = net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", p))
		if err == nil {
			break
		}
	}
	if ln == nil {
		return fmt.Errorf("bridge: no free port in %d-%d: %w", s.portStart, s.portEnd, err)
	}
	port := ln.Addr().(*net.TCPAddr).Port

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWS)
	srv := &http.Server{Handler: mux}

	s.ln = ln
	s.srv = srv
	s.port = port
	log.Info().Int("port", port).Msg("terminal bridge listening")

	go func() {
		if serveErr := srv.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			log.Error().Err(serveErr).Msg("terminal bridge stopped")
		}
	}()
	return nil
}

// Port returns the bound port, or 0 if the bridge has not started.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.ln = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Close()
}

// bridgeClient is one WebSocket peer. All writes to the socket funnel through
// the send channel so the writer goroutine is the only caller of WriteMessage.
type bridgeClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once

	mu    sync.Mutex
	pumps map[string]*outputPump
}

func (c *bridgeClient) close() {
	c.once.Do(func() { close(c.done) })
}

// enqueue hands a frame to the writer goroutine. It reports false when the
// client is gone or its send queue is full.
func (c *bridgeClient) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	case <-c.done:
		return false
	}
}

func (c *bridgeClient) sendJSON(msg Message) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("client", c.id).Msg("marshal bridge message")
		return false
	}
	return c.enqueue(data)
}

func (c *bridgeClient) sendError(connID, text string) {
	c.sendJSON(Message{Type: TypeError, ConnectionID: connID, Message: text})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &bridgeClient{
		id:    uuid.New().String(),
		conn:  conn,
		send:  make(chan []byte, sendDepth),
		done:  make(chan struct{}),
		pumps: make(map[string]*outputPump),
	}
	log.Debug().Str("client", c.id).Msg("bridge client connected")

	go c.writeLoop()
	s.readLoop(c)

	c.close()
	c.mu.Lock()
	for _, p := range c.pumps {
		p.Stop()
	}
	c.pumps = nil
	c.mu.Unlock()
	conn.Close()
	log.Debug().Str("client", c.id).Msg("bridge client disconnected")
}

func (c *bridgeClient) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (s *Server) readLoop(c *bridgeClient) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		switch msgType {
		case websocket.BinaryMessage:
			// Hot path: keystrokes arrive as raw binary frames to skip
			// JSON decoding on every keypress.
			id, keys, ok := parseInputFrame(data)
			if !ok {
				continue
			}
			if err := s.reg.WriteToPty(id, keys); err != nil {
				log.Debug().Err(err).Str("connection", id).Msg("drop input for absent pty")
			}
		case websocket.TextMessage:
			var msg Message
			if err := json.Unmarshal(data, &msg); err != nil {
				c.sendError("", "malformed message")
				continue
			}
			s.dispatch(c, msg)
		}
	}
}

func (s *Server) dispatch(c *bridgeClient, msg Message) {
	switch msg.Type {
	case TypeStartPty:
		s.startPty(c, msg)
	case TypeInput:
		// JSON fallback for peers that do not speak binary input frames.
		if err := s.reg.WriteToPty(msg.ConnectionID, []byte(msg.Data)); err != nil {
			c.sendError(msg.ConnectionID, err.Error())
		}
	case TypeResize:
		if err := s.reg.ResizePty(msg.ConnectionID, msg.Cols, msg.Rows); err != nil {
			c.sendError(msg.ConnectionID, err.Error())
			return
		}
		c.sendJSON(Message{Type: TypeSuccess, ConnectionID: msg.ConnectionID})
	case TypePause:
		if p := c.pump(msg.ConnectionID); p != nil {
			p.Pause()
		}
	case TypeResume:
		if p := c.pump(msg.ConnectionID); p != nil {
			p.Resume()
		}
	case TypeClose:
		// A stale close (generation mismatch) must not touch the pump:
		// the live session's output keeps flowing.
		if s.reg.ClosePty(msg.ConnectionID, msg.Generation) {
			c.stopPump(msg.ConnectionID)
		}
		c.sendJSON(Message{Type: TypeSuccess, ConnectionID: msg.ConnectionID})
	default:
		c.sendError(msg.ConnectionID, fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

func (s *Server) startPty(c *bridgeClient, msg Message) {
	cols, rows := msg.Cols, msg.Rows
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}
	var sess *pty.Session
	var err error
	if msg.Shell != "" {
		sess, err = s.reg.StartLocalPty(msg.ConnectionID, msg.Shell, cols, rows)
	} else {
		sess, err = s.reg.StartPty(msg.ConnectionID, cols, rows)
	}
	if err != nil {
		c.sendError(msg.ConnectionID, err.Error())
		return
	}

	// Capture the session in the pump now. If a later start_pty replaces
	// it, that request installs its own pump and this one is stopped, so
	// a stale pump can never read the replacement session.
	pump := startOutputPump(msg.ConnectionID, sess, c.sendJSON)
	c.installPump(msg.ConnectionID, pump)

	gen := sess.Generation
	c.sendJSON(Message{
		Type:         TypePtyStarted,
		ConnectionID: msg.ConnectionID,
		Generation:   &gen,
	})
}

func (c *bridgeClient) installPump(connID string, p *outputPump) {
	c.mu.Lock()
	if c.pumps == nil {
		// Client already torn down.
		c.mu.Unlock()
		p.Stop()
		return
	}
	old := c.pumps[connID]
	c.pumps[connID] = p
	c.mu.Unlock()
	if old != nil {
		old.Stop()
	}
}

func (c *bridgeClient) pump(connID string) *outputPump {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pumps[connID]
}

func (c *bridgeClient) stopPump(connID string) {
	c.mu.Lock()
	p := c.pumps[connID]
	delete(c.pumps, connID)
	c.mu.Unlock()
	if p != nil {
		p.Stop()
	}
}
