package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/jlaffaye/ftp"
)

// ftpAnonymousUser / ftpAnonymousPass are the conventional credentials for
// anonymous FTP logins.
const (
	ftpAnonymousUser = "anonymous"
	ftpAnonymousPass = "anonymous@"
)

// FTPClient serves file operations over FTP or explicit-TLS FTPS. The plain
// and secured variants are one capability; callers never see which is
// active. FTP multiplexes a single control/data stream, so this client must
// not serve two operations concurrently; the registry serializes access.
type FTPClient struct {
	mu   sync.Mutex
	conn *ftp.ServerConn
}

// DialFTP connects, authenticates (mapping Anonymous to the conventional
// anonymous credentials) and switches the session to binary transfer mode.
func DialFTP(ctx context.Context, cfg Config) (*FTPClient, error) {
	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}

	opts := []ftp.DialOption{
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(timeout),
	}
	if cfg.Secure {
		opts = append(opts, ftp.DialWithExplicitTLS(&tls.Config{
			ServerName:         cfg.Host,
			InsecureSkipVerify: true, //nolint:gosec // user-driven desktop client; cert pinning is the UI's call
		}))
	}

	conn, err := ftp.Dial(addr, opts...)
	if err != nil {
		return nil, connectErr(classifyFTPDialError(ctx, err), addr, err)
	}

	user, pass := cfg.Username, cfg.Credential.Password
	if cfg.Anonymous {
		user, pass = ftpAnonymousUser, ftpAnonymousPass
	}
	if err := conn.Login(user, pass); err != nil {
		_ = conn.Quit()
		return nil, connectErr(KindAuthFailed, addr, fmt.Errorf("login as %q: %w", user, err))
	}

	if err := conn.Type(ftp.TransferTypeBinary); err != nil {
		_ = conn.Quit()
		return nil, connectErr(KindNetworkError, addr, fmt.Errorf("set binary mode: %w", err))
	}

	return &FTPClient{conn: conn}, nil
}

func (c *FTPClient) Protocol() Protocol { return ProtocolFTP }

func (c *FTPClient) ExecuteCommand(string) (string, error) { return "", ErrUnsupported }

func (c *FTPClient) ListDir(path string) ([]Entry, error) {
	conn, err := c.live()
	if err != nil {
		return nil, err
	}

	raw, err := conn.List(path)
	if err != nil {
		return nil, fmt.Errorf("ftp: list %q: %w", path, err)
	}

	entries := make([]Entry, 0, len(raw))
	for _, e := range raw {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		entries = append(entries, Entry{
			Name:    e.Name,
			Type:    ftpEntryType(e.Type),
			Size:    int64(e.Size),
			ModTime: e.Time.UTC(),
		})
	}
	SortEntries(entries)
	return entries, nil
}

func (c *FTPClient) Download(remotePath string) ([]byte, error) {
	conn, err := c.live()
	if err != nil {
		return nil, err
	}

	resp, err := conn.Retr(remotePath)
	if err != nil {
		return nil, fmt.Errorf("ftp: retrieve %q: %w", remotePath, err)
	}
	defer resp.Close()

	var buf bytes.Buffer
	chunk := make([]byte, transferChunkSize)
	for {
		n, readErr := resp.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, fmt.Errorf("ftp: read %q: %w", remotePath, readErr)
		}
	}
	return buf.Bytes(), nil
}

func (c *FTPClient) Upload(data []byte, remotePath string) (int64, error) {
	conn, err := c.live()
	if err != nil {
		return 0, err
	}
	if err := conn.Stor(remotePath, bytes.NewReader(data)); err != nil {
		return 0, fmt.Errorf("ftp: store %q: %w", remotePath, err)
	}
	return int64(len(data)), nil
}

func (c *FTPClient) Mkdir(path string) error {
	conn, err := c.live()
	if err != nil {
		return err
	}
	if err := conn.MakeDir(path); err != nil {
		return fmt.Errorf("ftp: mkdir %q: %w", path, err)
	}
	return nil
}

func (c *FTPClient) Delete(path string, isDir bool) error {
	conn, err := c.live()
	if err != nil {
		return err
	}
	if isDir {
		if err := conn.RemoveDirRecur(path); err != nil {
			return fmt.Errorf("ftp: remove dir %q: %w", path, err)
		}
		return nil
	}
	if err := conn.Delete(path); err != nil {
		return fmt.Errorf("ftp: delete %q: %w", path, err)
	}
	return nil
}

func (c *FTPClient) Rename(oldPath, newPath string) error {
	conn, err := c.live()
	if err != nil {
		return err
	}
	if err := conn.Rename(oldPath, newPath); err != nil {
		return fmt.Errorf("ftp: rename %q to %q: %w", oldPath, newPath, err)
	}
	return nil
}

// Disconnect sends QUIT and drops the connection. Idempotent.
func (c *FTPClient) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	_ = conn.Quit()
	return nil
}

func (c *FTPClient) live() (*ftp.ServerConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, errors.New("ftp: not connected")
	}
	return c.conn, nil
}

func ftpEntryType(t ftp.EntryType) EntryType {
	switch t {
	case ftp.EntryTypeFolder:
		return EntryDir
	case ftp.EntryTypeLink:
		return EntrySymlink
	default:
		return EntryFile
	}
}

func classifyFTPDialError(ctx context.Context, err error) ConnectErrorKind {
	if ctx.Err() != nil {
		return KindCanceled
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return KindTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindNetworkError
}

var _ Client = (*FTPClient)(nil)
