package bridge

// Wire protocol. Terminal keystrokes ride a binary fast path; everything
// else is a JSON text frame tagged by "type".
//
// Binary input frame: [1 command byte][36-byte connection id][keystrokes].
// The fixed-width id avoids length-prefix parsing on the hottest path.

const (
	cmdInput byte = 0x00

	connIDLen      = 36
	minBinaryFrame = 1 + connIDLen
)

// Control message types.
const (
	TypeStartPty   = "start_pty"
	TypeInput      = "input"
	TypeOutput     = "output"
	TypeResize     = "resize"
	TypePause      = "pause"
	TypeResume     = "resume"
	TypeClose      = "close"
	TypeError      = "error"
	TypeSuccess    = "success"
	TypePtyStarted = "pty_started"
)

// Message is the JSON control frame. Fields are populated per type:
// start_pty and resize carry cols/rows (start_pty may also carry a shell
// path, which spawns a local PTY instead of a remote one), output carries
// data, close may carry
// the generation the sender believes is current, pty_started always carries
// the new generation.
type Message struct {
	Type         string  `json:"type"`
	ConnectionID string  `json:"connection_id,omitempty"`
	Data         string  `json:"data,omitempty"`
	Cols         int     `json:"cols,omitempty"`
	Rows         int     `json:"rows,omitempty"`
	Shell        string  `json:"shell,omitempty"`
	Generation   *uint64 `json:"generation,omitempty"`
	Message      string  `json:"message,omitempty"`
}

// parseInputFrame splits a binary input frame into connection id and
// keystroke bytes. ok is false when the frame is malformed or not an input
// command.
func parseInputFrame(frame []byte) (id string, keys []byte, ok bool) {
	if len(frame) < minBinaryFrame || frame[0] != cmdInput {
		return "", nil, false
	}
	return string(frame[1 : 1+connIDLen]), frame[minBinaryFrame:], true
}
