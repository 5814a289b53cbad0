package stats

import (
	"errors"
	"strings"
	"testing"
)

const freeSample = `              total        used        free      shared  buff/cache   available
Mem:          15885        4211        6402         412        5271       10930
Swap:          2047         128        1919
`

const freeOldSample = `             total       used       free     shared    buffers     cached
Mem:          3953       3825        127          0        103       1757
Swap:         4095         12       4083
`

const dfSample = `Filesystem     1024-blocks      Used Available Capacity Mounted on
/dev/nvme0n1p2   487652352 201534208 261281280      44% /
tmpfs              7942644         8   7942636       1% /dev/shm
/dev/sda1         976728060 494085632 482642428      51% /data
`

const psSample = `USER         PID %CPU %MEM    VSZ   RSS TTY      STAT START   TIME COMMAND
root           1  0.0  0.1 168404 11820 ?        Ss   Jan01   1:23 /sbin/init splash
postgres    1234 12.5  3.2 884216 521844 ?       Ssl  Jan02  44:10 postgres: writer process
deploy      5678  0.3  0.8 712345  65432 ?       Sl   10:15   0:02 node server.js --port 3000
garbage line that does not parse
`

const netDevSample = `Inter-|   Receive                                                |  Transmit
 face |bytes    packets errs drop fifo frame compressed multicast|bytes    packets errs drop fifo colls carrier compressed
    lo: 1442184571 1594426    0    0    0     0          0         0 1442184571 1594426    0    0    0     0       0          0
  eth0: 9876543210 8765432    0    1    0     0          0      1234 1234567890 2345678    0    0    0     0       0          0
`

const loadavgSample = "0.52 0.58 0.59 2/1189 40245\n"

// scriptRunner maps command substrings to canned output.
type scriptRunner struct {
	replies map[string]string
	ran     []string
	fail    bool
}

func (r *scriptRunner) ExecuteCommand(cmd string) (string, error) {
	r.ran = append(r.ran, cmd)
	if r.fail {
		return "", errors.New("connection lost")
	}
	for key, out := range r.replies {
		if strings.Contains(cmd, key) {
			return out, nil
		}
	}
	return "", errors.New("no canned reply")
}

func TestParseFree(t *testing.T) {
	mem, swap := parseFree(freeSample)
	if mem.Total != 15885 || mem.Used != 4211 || mem.Free != 6402 || mem.Available != 10930 {
		t.Fatalf("mem: %+v", mem)
	}
	if swap.Total != 2047 || swap.Used != 128 || swap.Free != 1919 || swap.Available != 0 {
		t.Fatalf("swap: %+v", swap)
	}
}

func TestParseFreeWithoutAvailableColumn(t *testing.T) {
	mem, _ := parseFree(freeOldSample)
	if mem.Total != 3953 {
		t.Fatalf("mem total: got %d, want 3953", mem.Total)
	}
	if mem.Available != 0 {
		t.Fatalf("old free has no available column, got %d", mem.Available)
	}
}

func TestParseDF(t *testing.T) {
	disks := parseDF(dfSample)
	if len(disks) != 2 {
		t.Fatalf("got %d disks, want 2 (tmpfs excluded): %+v", len(disks), disks)
	}
	root := disks[0]
	if root.Filesystem != "/dev/nvme0n1p2" || root.MountedOn != "/" {
		t.Fatalf("root disk: %+v", root)
	}
	if root.TotalKB != 487652352 || root.UsedKB != 201534208 || root.AvailableKB != 261281280 {
		t.Fatalf("root sizes: %+v", root)
	}
	if root.UsePercent != 44 {
		t.Fatalf("root use percent: got %v, want 44", root.UsePercent)
	}
	if disks[1].MountedOn != "/data" {
		t.Fatalf("second disk: %+v", disks[1])
	}
}

func TestParsePS(t *testing.T) {
	procs := parsePS(psSample)
	if len(procs) != 3 {
		t.Fatalf("got %d processes, want 3: %+v", len(procs), procs)
	}
	if procs[0].User != "root" || procs[0].PID != "1" {
		t.Fatalf("first process: %+v", procs[0])
	}
	if procs[0].Command != "/sbin/init splash" {
		t.Fatalf("command with spaces: %q", procs[0].Command)
	}
	if procs[1].CPU != 12.5 || procs[1].Mem != 3.2 {
		t.Fatalf("numeric columns: %+v", procs[1])
	}
}

func TestParseNetDev(t *testing.T) {
	ifaces := parseNetDev(netDevSample)
	if len(ifaces) != 1 {
		t.Fatalf("got %d interfaces, want 1 (lo excluded): %+v", len(ifaces), ifaces)
	}
	eth := ifaces[0]
	if eth.Name != "eth0" {
		t.Fatalf("name: %q", eth.Name)
	}
	if eth.RxBytes != 9876543210 || eth.RxPackets != 8765432 {
		t.Fatalf("rx counters: %+v", eth)
	}
	if eth.TxBytes != 1234567890 || eth.TxPackets != 2345678 {
		t.Fatalf("tx counters: %+v", eth)
	}
}

func TestParseLoadAvg(t *testing.T) {
	if got := parseLoadAvg(loadavgSample); got != "0.52 0.58 0.59" {
		t.Fatalf("got %q", got)
	}
}

func TestCollect(t *testing.T) {
	r := &scriptRunner{replies: map[string]string{
		"free -m":       freeSample,
		"top -bn1":      "  37.5\n",
		"df -kP /":      dfSample,
		"uptime":        "up 3 days, 4 hours\n",
		"/proc/loadavg": loadavgSample,
	}}
	s, err := Collect(r)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if s.CPUPercent != 37.5 {
		t.Fatalf("cpu: %v", s.CPUPercent)
	}
	if s.Memory.Total != 15885 || s.Swap.Total != 2047 {
		t.Fatalf("memory: %+v swap: %+v", s.Memory, s.Swap)
	}
	if s.RootDisk.MountedOn != "/" {
		t.Fatalf("root disk: %+v", s.RootDisk)
	}
	if s.Uptime != "up 3 days, 4 hours" {
		t.Fatalf("uptime: %q", s.Uptime)
	}
	if s.LoadAverage != "0.52 0.58 0.59" {
		t.Fatalf("load: %q", s.LoadAverage)
	}
}

func TestCollectUnreachableHost(t *testing.T) {
	if _, err := Collect(&scriptRunner{fail: true}); err == nil {
		t.Fatal("collect must fail when the first probe fails")
	}
}

func TestProcessesSortKey(t *testing.T) {
	r := &scriptRunner{replies: map[string]string{"ps aux": psSample}}
	if _, err := Processes(r, "mem"); err != nil {
		t.Fatalf("processes: %v", err)
	}
	if !strings.Contains(r.ran[0], "--sort=-%mem") {
		t.Fatalf("mem sort not requested: %q", r.ran[0])
	}
	if _, err := Processes(r, "anything"); err != nil {
		t.Fatalf("processes: %v", err)
	}
	if !strings.Contains(r.ran[1], "--sort=-%cpu") {
		t.Fatalf("cpu sort not requested: %q", r.ran[1])
	}
}

func TestKillProcessValidation(t *testing.T) {
	r := &scriptRunner{replies: map[string]string{"kill": ""}}

	if err := KillProcess(r, "1234", ""); err != nil {
		t.Fatalf("default signal: %v", err)
	}
	if got := r.ran[len(r.ran)-1]; got != "kill -TERM 1234" {
		t.Fatalf("command: %q", got)
	}

	if err := KillProcess(r, "1234", "KILL"); err != nil {
		t.Fatalf("kill signal: %v", err)
	}

	if err := KillProcess(r, "12; rm -rf /", "TERM"); err == nil {
		t.Fatal("non-numeric pid must be rejected")
	}
	if err := KillProcess(r, "1234", "TERM; reboot"); err == nil {
		t.Fatal("unknown signal must be rejected")
	}
}
