package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	cryptossh "golang.org/x/crypto/ssh"
)

// DefaultDialTimeout bounds the TCP connect + SSH handshake + auth phase.
const DefaultDialTimeout = 10 * time.Second

// SSHClient is an authenticated SSH connection. Command execution opens a
// fresh channel per call, so concurrent ExecuteCommand calls on one client
// may interleave freely.
type SSHClient struct {
	mu     sync.Mutex
	client *cryptossh.Client
	addr   string
}

// DialSSH opens an SSH connection and authenticates with cfg's credential.
// The dial is raced against ctx; a cancelled context aborts the attempt.
func DialSSH(ctx context.Context, cfg Config) (*SSHClient, error) {
	client, addr, err := dialSSHTransport(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &SSHClient{client: client, addr: addr}, nil
}

func (c *SSHClient) Protocol() Protocol { return ProtocolSSH }

// ExecuteCommand runs cmd on a fresh session channel and returns its stdout.
// A zero exit status is success. Servers that close the channel without
// reporting an exit status are tolerated: non-empty output counts as success.
func (c *SSHClient) ExecuteCommand(cmd string) (string, error) {
	client, err := c.live()
	if err != nil {
		return "", err
	}

	sess, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("ssh: new session: %w", err)
	}
	defer sess.Close()

	out, err := sess.Output(cmd)
	if err == nil {
		return string(out), nil
	}

	var missing *cryptossh.ExitMissingError
	if errors.As(err, &missing) {
		if len(out) > 0 {
			return string(out), nil
		}
		return "", &ExecError{Cmd: cmd, ExitCode: -1, Err: err}
	}

	var exit *cryptossh.ExitError
	if errors.As(err, &exit) {
		return "", &ExecError{Cmd: cmd, ExitCode: exit.ExitStatus(), Err: err}
	}

	return "", &ExecError{Cmd: cmd, ExitCode: -1, Err: err}
}

// ListDir is not served on a plain SSH handle; use an SFTP connection.
func (c *SSHClient) ListDir(string) ([]Entry, error) { return nil, ErrUnsupported }

func (c *SSHClient) Mkdir(string) error          { return ErrUnsupported }
func (c *SSHClient) Delete(string, bool) error   { return ErrUnsupported }
func (c *SSHClient) Rename(string, string) error { return ErrUnsupported }

// Download fetches a remote file through an ephemeral SFTP subsystem channel
// opened for just this transfer.
func (c *SSHClient) Download(remotePath string) ([]byte, error) {
	client, err := c.live()
	if err != nil {
		return nil, err
	}
	sub, err := sftp.NewClient(client)
	if err != nil {
		return nil, fmt.Errorf("ssh: open sftp subsystem: %w", err)
	}
	defer sub.Close()
	return sftpDownload(sub, remotePath)
}

// Upload writes data to remotePath through an ephemeral SFTP subsystem
// channel. Returns the byte count written.
func (c *SSHClient) Upload(data []byte, remotePath string) (int64, error) {
	client, err := c.live()
	if err != nil {
		return 0, err
	}
	sub, err := sftp.NewClient(client)
	if err != nil {
		return 0, fmt.Errorf("ssh: open sftp subsystem: %w", err)
	}
	defer sub.Close()
	return sftpUpload(sub, data, remotePath)
}

// Disconnect closes the connection. Safe to call on a never-connected or
// already-disconnected client.
func (c *SSHClient) Disconnect() error {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()
	if client == nil {
		return nil
	}
	return client.Close()
}

func (c *SSHClient) live() (*cryptossh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil, errors.New("ssh: not connected")
	}
	return c.client, nil
}

// ShellChannel is an interactive byte stream with window control. The PTY
// session layer pumps it.
type ShellChannel interface {
	io.Reader
	io.Writer
	Resize(cols, rows int) error
	Close() error
}

// Shell is an interactive shell channel with a remote PTY attached. It feeds
// the PTY session queues: Write sends keystrokes, Read yields terminal
// output.
type Shell struct {
	mu     sync.Mutex
	sess   *cryptossh.Session
	stdin  io.WriteCloser
	stdout io.Reader
}

// OpenShell requests a PTY of the given size on a fresh session channel and
// starts the user's login shell on it.
func (c *SSHClient) OpenShell(cols, rows int) (ShellChannel, error) {
	client, err := c.live()
	if err != nil {
		return nil, err
	}

	sess, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("ssh: new session: %w", err)
	}

	modes := cryptossh.TerminalModes{
		cryptossh.ECHO:          1,
		cryptossh.TTY_OP_ISPEED: 14400,
		cryptossh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty("xterm-256color", rows, cols, modes); err != nil {
		sess.Close()
		return nil, fmt.Errorf("ssh: request pty: %w", err)
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("ssh: stdin pipe: %w", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("ssh: stdout pipe: %w", err)
	}

	if err := sess.Shell(); err != nil {
		sess.Close()
		return nil, fmt.Errorf("ssh: start login shell: %w", err)
	}

	return &Shell{sess: sess, stdin: stdin, stdout: stdout}, nil
}

func (s *Shell) Read(p []byte) (int, error) { return s.stdout.Read(p) }

func (s *Shell) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stdin.Write(p)
}

func (s *Shell) Resize(cols, rows int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess.WindowChange(rows, cols)
}

func (s *Shell) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.stdin.Close()
	return s.sess.Close()
}

// dialSSHTransport performs the shared SSH dial for both the SSH and SFTP
// clients. The network dial runs in a goroutine and is raced against ctx so
// a user cancel aborts promptly (the losing connect is closed, not leaked).
func dialSSHTransport(ctx context.Context, cfg Config) (*cryptossh.Client, string, error) {
	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))

	authMethod, err := authMethodFromCredential(cfg.Credential)
	if err != nil {
		return nil, addr, connectErr(KindKeyError, addr, err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}

	clientCfg := &cryptossh.ClientConfig{
		User:            cfg.Username,
		Auth:            []cryptossh.AuthMethod{authMethod},
		HostKeyCallback: cryptossh.InsecureIgnoreHostKey(), //nolint:gosec // user-driven desktop client, host pinning is the UI's call
		Timeout:         timeout,
	}

	type dialResult struct {
		client *cryptossh.Client
		err    error
	}
	ch := make(chan dialResult, 1)
	go func() {
		cl, err := cryptossh.Dial("tcp", addr, clientCfg)
		ch <- dialResult{cl, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		// The dial goroutine still owns the in-flight connect; close it
		// when it lands so nothing leaks.
		go func() {
			if r := <-ch; r.client != nil {
				_ = r.client.Close()
			}
		}()
		return nil, addr, connectErr(KindCanceled, addr, ctx.Err())
	case <-timer.C:
		go func() {
			if r := <-ch; r.client != nil {
				_ = r.client.Close()
			}
		}()
		return nil, addr, connectErr(KindTimeout, addr, fmt.Errorf("handshake exceeded %s", timeout))
	case r := <-ch:
		if r.err != nil {
			return nil, addr, connectErr(classifySSHDialError(r.err), addr, r.err)
		}
		return r.client, addr, nil
	}
}

func classifySSHDialError(err error) ConnectErrorKind {
	msg := err.Error()
	if strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "no supported methods remain") {
		return KindAuthFailed
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return KindTimeout
	}
	return KindNetworkError
}

// authMethodFromCredential builds the SSH auth method. Key problems are
// reported with distinct messages: a missing file reads differently from a
// key that exists but cannot be decrypted.
func authMethodFromCredential(cred Credential) (cryptossh.AuthMethod, error) {
	switch cred.Method {
	case AuthPassword:
		return cryptossh.Password(cred.Password), nil
	case AuthPublicKey:
		keyPath := expandHome(cred.KeyPath)
		pem, err := os.ReadFile(keyPath)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("key file not found: %s", cred.KeyPath)
			}
			return nil, fmt.Errorf("read key file %s: %w", cred.KeyPath, err)
		}

		var signer cryptossh.Signer
		if cred.Passphrase != "" {
			signer, err = cryptossh.ParsePrivateKeyWithPassphrase(pem, []byte(cred.Passphrase))
		} else {
			signer, err = cryptossh.ParsePrivateKey(pem)
		}
		if err != nil {
			var missing *cryptossh.PassphraseMissingError
			if errors.As(err, &missing) {
				return nil, fmt.Errorf("key %s is encrypted and requires a passphrase", cred.KeyPath)
			}
			if strings.Contains(err.Error(), "decryption") || strings.Contains(err.Error(), "incorrect") {
				return nil, fmt.Errorf("decrypt key %s: wrong passphrase", cred.KeyPath)
			}
			return nil, fmt.Errorf("parse key %s: %w", cred.KeyPath, err)
		}
		return cryptossh.PublicKeys(signer), nil
	default:
		return nil, fmt.Errorf("unsupported auth method: %d", cred.Method)
	}
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return home + path[1:]
		}
	}
	return path
}

var _ Client = (*SSHClient)(nil)
var _ ShellChannel = (*Shell)(nil)
