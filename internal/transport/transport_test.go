package transport

import (
	"errors"
	"testing"
	"time"
)

func TestParseProtocol(t *testing.T) {
	cases := []struct {
		in      string
		want    Protocol
		wantErr bool
	}{
		{"ssh", ProtocolSSH, false},
		{"sftp", ProtocolSFTP, false},
		{"ftp", ProtocolFTP, false},
		{"SSH", 0, true},
		{"telnet", 0, true},
		{"", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseProtocol(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParseProtocol(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseProtocol(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseProtocol(%q): got %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestProtocolString(t *testing.T) {
	if ProtocolSSH.String() != "ssh" || ProtocolSFTP.String() != "sftp" || ProtocolFTP.String() != "ftp" {
		t.Fatal("protocol string forms changed")
	}
	if Protocol(0).String() != "unknown" {
		t.Fatal("zero protocol should render as unknown")
	}
}

func TestSortEntriesDirectoriesFirst(t *testing.T) {
	entries := []Entry{
		{Name: "zebra.txt", Type: EntryFile},
		{Name: "Alpha", Type: EntryDir},
		{Name: "beta.log", Type: EntryFile},
		{Name: "charlie", Type: EntryDir},
		{Name: "link", Type: EntrySymlink},
	}
	SortEntries(entries)

	wantOrder := []string{"Alpha", "charlie", "beta.log", "link", "zebra.txt"}
	for i, name := range wantOrder {
		if entries[i].Name != name {
			t.Fatalf("position %d: got %q, want %q (full: %v)", i, entries[i].Name, name, entryNames(entries))
		}
	}
}

func TestSortEntriesCaseInsensitive(t *testing.T) {
	entries := []Entry{
		{Name: "bravo", Type: EntryFile},
		{Name: "ALPHA", Type: EntryFile},
		{Name: "Charlie", Type: EntryFile},
	}
	SortEntries(entries)
	if entries[0].Name != "ALPHA" || entries[1].Name != "bravo" || entries[2].Name != "Charlie" {
		t.Fatalf("unexpected order: %v", entryNames(entries))
	}
}

func TestSortEntriesDeterministic(t *testing.T) {
	make3 := func() []Entry {
		return []Entry{
			{Name: "b", Type: EntryDir},
			{Name: "a", Type: EntryFile},
			{Name: "c", Type: EntryDir},
		}
	}
	first := make3()
	second := make3()
	SortEntries(first)
	SortEntries(second)
	for i := range first {
		if first[i].Name != second[i].Name {
			t.Fatal("sorting the same input twice produced different orders")
		}
	}
}

func entryNames(entries []Entry) []string {
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names
}

func TestEntryTypeMarshalText(t *testing.T) {
	b, err := EntryDir.MarshalText()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != "dir" {
		t.Fatalf("got %q, want dir", b)
	}
}

func TestConnectErrorMessage(t *testing.T) {
	err := connectErr(KindAuthFailed, "example.com:22", errors.New("permission denied"))
	msg := err.Error()
	if msg != "connect example.com:22: auth failed: permission denied" {
		t.Fatalf("unexpected message: %q", msg)
	}
	if !errors.Is(err, err.Err) {
		t.Fatal("ConnectError should unwrap to its cause")
	}
}

func TestExecErrorMessage(t *testing.T) {
	withCode := &ExecError{Cmd: "ls /missing", ExitCode: 2}
	if withCode.Error() != `command "ls /missing" exited with code 2` {
		t.Fatalf("unexpected message: %q", withCode.Error())
	}
	noCode := &ExecError{Cmd: "true", ExitCode: -1, Err: errors.New("channel closed")}
	if noCode.Error() != `command "true" failed: channel closed` {
		t.Fatalf("unexpected message: %q", noCode.Error())
	}
}

func TestConfigZeroTimeoutUsesDefault(t *testing.T) {
	var cfg Config
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	if timeout != 10*time.Second {
		t.Fatalf("default dial timeout: got %s, want 10s", timeout)
	}
}
