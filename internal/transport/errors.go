package transport

import "fmt"

// ConnectErrorKind classifies why a connection attempt failed.
type ConnectErrorKind int

const (
	// KindTimeout — the handshake exceeded the dial timeout.
	KindTimeout ConnectErrorKind = iota + 1
	// KindAuthFailed — the server rejected the supplied credentials.
	KindAuthFailed
	// KindKeyError — a private-key credential could not be used (file
	// missing, unreadable, or undecryptable).
	KindKeyError
	// KindNetworkError — connection refused, DNS failure, or any other
	// lower-level transport error.
	KindNetworkError
	// KindCanceled — the dial was aborted by the caller.
	KindCanceled
)

func (k ConnectErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindAuthFailed:
		return "auth failed"
	case KindKeyError:
		return "key error"
	case KindNetworkError:
		return "network error"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// ConnectError wraps a failed dial with its classification and target.
type ConnectError struct {
	Kind   ConnectErrorKind
	Target string // host:port
	Err    error
}

func (e *ConnectError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("connect %s: %s", e.Target, e.Kind)
	}
	return fmt.Sprintf("connect %s: %s: %v", e.Target, e.Kind, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

func connectErr(kind ConnectErrorKind, target string, err error) *ConnectError {
	return &ConnectError{Kind: kind, Target: target, Err: err}
}

// ExecError is returned when a remote command exits unsuccessfully.
// ExitCode is -1 when the server never reported an exit status.
type ExecError struct {
	Cmd      string
	ExitCode int
	Err      error
}

func (e *ExecError) Error() string {
	if e.ExitCode >= 0 {
		return fmt.Sprintf("command %q exited with code %d", e.Cmd, e.ExitCode)
	}
	return fmt.Sprintf("command %q failed: %v", e.Cmd, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }
