// Package transport wraps the SSH, SFTP and FTP protocol clients behind one
// uniform contract so the connection registry can manage them without knowing
// which protocol is on the wire.
//
// Supported clients:
//   - SSHClient  — command execution, PTY shells, ad hoc SFTP transfers
//   - SFTPClient — full file operations over a dedicated SSH transport
//   - FTPClient  — file operations over FTP or explicit-TLS FTPS
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Protocol identifies a transport variant. The set is closed: dispatch on it
// is compile-time checked, never string matching.
type Protocol int

const (
	ProtocolSSH Protocol = iota + 1
	ProtocolSFTP
	ProtocolFTP
)

func (p Protocol) String() string {
	switch p {
	case ProtocolSSH:
		return "ssh"
	case ProtocolSFTP:
		return "sftp"
	case ProtocolFTP:
		return "ftp"
	default:
		return "unknown"
	}
}

// ParseProtocol maps a wire/config string to a Protocol.
func ParseProtocol(s string) (Protocol, error) {
	switch s {
	case "ssh":
		return ProtocolSSH, nil
	case "sftp":
		return ProtocolSFTP, nil
	case "ftp":
		return ProtocolFTP, nil
	default:
		return 0, fmt.Errorf("unsupported protocol: %q", s)
	}
}

// AuthMethod selects how a Credential authenticates.
type AuthMethod int

const (
	AuthPassword AuthMethod = iota + 1
	AuthPublicKey
)

// Credential is a password or a private-key file reference. Secrets are never
// persisted; they live only for the duration of the dial.
type Credential struct {
	Method     AuthMethod
	Password   string
	KeyPath    string
	Passphrase string
}

// Config carries everything needed to open one connection.
type Config struct {
	Protocol   Protocol
	Host       string
	Port       int
	Username   string
	Credential Credential

	// Timeout bounds the dial + handshake + auth phase.
	// Zero means DefaultDialTimeout.
	Timeout time.Duration

	// FTP only
	Secure    bool // explicit TLS (FTPS)
	Anonymous bool
}

// ErrUnsupported is returned by operations a protocol does not implement
// (e.g. ExecuteCommand on FTP, ListDir on a plain SSH handle).
var ErrUnsupported = errors.New("operation not supported by this protocol")

// Client is the uniform contract all transports satisfy. Disconnect is
// idempotent on every implementation. FTP clients multiplex one control/data
// stream and must not serve two operations concurrently; the registry holds
// an exclusive lock for them. SSH and SFTP clients tolerate concurrent calls.
type Client interface {
	Protocol() Protocol

	// ExecuteCommand runs cmd on the remote host and returns its stdout.
	// SSH only.
	ExecuteCommand(cmd string) (string, error)

	// ListDir returns the entries of a remote directory, directories first,
	// case-insensitive name order, "." and ".." excluded.
	ListDir(path string) ([]Entry, error)

	// Download reads the whole remote file into memory.
	Download(remotePath string) ([]byte, error)

	// Upload writes data to remotePath and returns the byte count written.
	Upload(data []byte, remotePath string) (int64, error)

	Mkdir(path string) error
	Delete(path string, isDir bool) error
	Rename(oldPath, newPath string) error

	Disconnect() error
}

// Dial opens and authenticates a connection for cfg, dispatching on the
// protocol tag. The context bounds the whole handshake; cancellation aborts
// the dial.
func Dial(ctx context.Context, cfg Config) (Client, error) {
	switch cfg.Protocol {
	case ProtocolSSH:
		return DialSSH(ctx, cfg)
	case ProtocolSFTP:
		return DialSFTP(ctx, cfg)
	case ProtocolFTP:
		return DialFTP(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported protocol tag: %d", cfg.Protocol)
	}
}
