package pty

import (
	"fmt"
	"os"
	"os/exec"

	creackpty "github.com/creack/pty"
)

// DefaultShell is used when no shell is configured for local sessions.
const DefaultShell = "/bin/bash"

// localChannel adapts a creack/pty master file to the Channel contract.
type localChannel struct {
	cmd  *exec.Cmd
	ptmx *os.File
}

// StartLocal launches shell on a local pseudo-terminal of the given size and
// returns a Session over it. The UI's local-terminal tab uses this; it needs
// no transport connection.
func StartLocal(shell string, generation uint64, cols, rows, inputDepth, outputDepth int) (*Session, error) {
	if shell == "" {
		shell = DefaultShell
	}
	cmd := exec.Command(shell)
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	ptmx, err := creackpty.StartWithSize(cmd, &creackpty.Winsize{
		Cols: uint16(cols),
		Rows: uint16(rows),
	})
	if err != nil {
		return nil, fmt.Errorf("start local shell %q: %w", shell, err)
	}

	ch := &localChannel{cmd: cmd, ptmx: ptmx}
	return Start(ch, generation, inputDepth, outputDepth), nil
}

func (c *localChannel) Read(p []byte) (int, error)  { return c.ptmx.Read(p) }
func (c *localChannel) Write(p []byte) (int, error) { return c.ptmx.Write(p) }

func (c *localChannel) Resize(cols, rows int) error {
	return creackpty.Setsize(c.ptmx, &creackpty.Winsize{
		Cols: uint16(cols),
		Rows: uint16(rows),
	})
}

// Close ends the shell process and releases the PTY. Kill before Wait avoids
// orphaned subprocesses.
func (c *localChannel) Close() error {
	if c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
	err := c.ptmx.Close()
	_ = c.cmd.Wait()
	return err
}

var _ Channel = (*localChannel)(nil)
