package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/pkg/sftp"
	cryptossh "golang.org/x/crypto/ssh"
)

// transferChunkSize bounds per-chunk memory during streamed copies.
const transferChunkSize = 32 * 1024

// SFTPClient is an SFTP session over a dedicated SSH connection. The
// underlying subsystem tolerates concurrent requests on one channel, so
// multiple list/download calls may run at once.
type SFTPClient struct {
	mu     sync.Mutex
	client *cryptossh.Client
	sftp   *sftp.Client
}

// DialSFTP opens an SSH connection and the SFTP subsystem on it.
func DialSFTP(ctx context.Context, cfg Config) (*SFTPClient, error) {
	client, addr, err := dialSSHTransport(ctx, cfg)
	if err != nil {
		return nil, err
	}

	sub, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return nil, connectErr(KindNetworkError, addr, fmt.Errorf("open sftp subsystem: %w", err))
	}

	return &SFTPClient{client: client, sftp: sub}, nil
}

func (c *SFTPClient) Protocol() Protocol { return ProtocolSFTP }

func (c *SFTPClient) ExecuteCommand(string) (string, error) { return "", ErrUnsupported }

// ListDir returns the entries of dirPath, directories first, in
// case-insensitive name order.
func (c *SFTPClient) ListDir(dirPath string) ([]Entry, error) {
	sub, err := c.live()
	if err != nil {
		return nil, err
	}

	infos, err := sub.ReadDir(dirPath)
	if err != nil {
		return nil, fmt.Errorf("sftp: readdir %q: %w", dirPath, err)
	}

	entries := make([]Entry, 0, len(infos))
	for _, fi := range infos {
		name := fi.Name()
		if name == "." || name == ".." {
			continue
		}
		entries = append(entries, Entry{
			Name:    name,
			Type:    entryTypeOf(fi.Mode()),
			Size:    fi.Size(),
			Mode:    fi.Mode().String(),
			ModTime: fi.ModTime().UTC(),
		})
	}
	SortEntries(entries)
	return entries, nil
}

func (c *SFTPClient) Download(remotePath string) ([]byte, error) {
	sub, err := c.live()
	if err != nil {
		return nil, err
	}
	return sftpDownload(sub, remotePath)
}

func (c *SFTPClient) Upload(data []byte, remotePath string) (int64, error) {
	sub, err := c.live()
	if err != nil {
		return 0, err
	}
	return sftpUpload(sub, data, remotePath)
}

func (c *SFTPClient) Mkdir(path string) error {
	sub, err := c.live()
	if err != nil {
		return err
	}
	if err := sub.Mkdir(path); err != nil {
		return fmt.Errorf("sftp: mkdir %q: %w", path, err)
	}
	return nil
}

// Delete removes a file, or a directory tree when isDir is set. SFTP's rmdir
// primitive only takes empty directories, so directory deletion walks the
// tree and removes children first.
func (c *SFTPClient) Delete(path string, isDir bool) error {
	sub, err := c.live()
	if err != nil {
		return err
	}
	if !isDir {
		if err := sub.Remove(path); err != nil {
			return fmt.Errorf("sftp: remove %q: %w", path, err)
		}
		return nil
	}
	return deleteTree(sub, path)
}

func (c *SFTPClient) Rename(oldPath, newPath string) error {
	sub, err := c.live()
	if err != nil {
		return err
	}
	if err := sub.Rename(oldPath, newPath); err != nil {
		return fmt.Errorf("sftp: rename %q to %q: %w", oldPath, newPath, err)
	}
	return nil
}

// Disconnect closes the subsystem and the SSH transport. Idempotent.
func (c *SFTPClient) Disconnect() error {
	c.mu.Lock()
	sub, client := c.sftp, c.client
	c.sftp, c.client = nil, nil
	c.mu.Unlock()
	if sub == nil && client == nil {
		return nil
	}
	if sub != nil {
		_ = sub.Close()
	}
	if client != nil {
		return client.Close()
	}
	return nil
}

func (c *SFTPClient) live() (*sftp.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sftp == nil {
		return nil, errors.New("sftp: not connected")
	}
	return c.sftp, nil
}

// deleteTree removes path and everything under it, deepest entries first.
func deleteTree(sub *sftp.Client, root string) error {
	var paths []string
	walker := sub.Walk(root)
	for walker.Step() {
		if walker.Err() != nil {
			return fmt.Errorf("sftp: walk %q: %w", walker.Path(), walker.Err())
		}
		paths = append(paths, walker.Path())
	}

	// Longest paths first so children go before their parents.
	sort.Slice(paths, func(i, j int) bool { return len(paths[i]) > len(paths[j]) })

	for _, p := range paths {
		fi, err := sub.Lstat(p)
		if err != nil {
			return fmt.Errorf("sftp: stat %q: %w", p, err)
		}
		if fi.IsDir() {
			err = sub.RemoveDirectory(p)
		} else {
			err = sub.Remove(p)
		}
		if err != nil {
			return fmt.Errorf("sftp: delete %q: %w", p, err)
		}
	}
	return nil
}

func sftpDownload(sub *sftp.Client, remotePath string) ([]byte, error) {
	f, err := sub.Open(remotePath)
	if err != nil {
		return nil, fmt.Errorf("sftp: open %q: %w", remotePath, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	chunk := make([]byte, transferChunkSize)
	for {
		n, readErr := f.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, fmt.Errorf("sftp: read %q: %w", remotePath, readErr)
		}
	}
	return buf.Bytes(), nil
}

func sftpUpload(sub *sftp.Client, data []byte, remotePath string) (int64, error) {
	f, err := sub.Create(remotePath)
	if err != nil {
		return 0, fmt.Errorf("sftp: create %q: %w", remotePath, err)
	}
	defer f.Close()

	var written int64
	for off := 0; off < len(data); off += transferChunkSize {
		end := off + transferChunkSize
		if end > len(data) {
			end = len(data)
		}
		n, err := f.Write(data[off:end])
		written += int64(n)
		if err != nil {
			return written, fmt.Errorf("sftp: write %q: %w", remotePath, err)
		}
	}
	return written, nil
}

func entryTypeOf(mode os.FileMode) EntryType {
	switch {
	case mode.IsDir():
		return EntryDir
	case mode&os.ModeSymlink != 0:
		return EntrySymlink
	default:
		return EntryFile
	}
}

var _ Client = (*SFTPClient)(nil)
