// Package stats scrapes system health off a connected host by running
// standard Unix tools over the connection's transport and parsing their text
// output. Scraping is best effort: a probe that fails or returns something
// unparseable degrades to zero values rather than failing the whole report.
package stats

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// Runner executes a shell command on the target host. transport handles that
// support ExecuteCommand satisfy it.
type Runner interface {
	ExecuteCommand(cmd string) (string, error)
}

const (
	cpuCmd    = `top -bn1 | grep 'Cpu(s)' | sed 's/.*, *\([0-9.]*\)%* id.*/\1/' | awk '{print 100 - $1}'`
	memCmd    = "free -m"
	loadCmd   = "cat /proc/loadavg"
	uptimeCmd = "uptime -p 2>/dev/null || uptime"
	rootDFCmd = "df -kP /"
	dfCmd     = "df -kP"
	netCmd    = "cat /proc/net/dev"

	processLimit = 50
)

// MemoryStats are megabytes, straight from free -m.
type MemoryStats struct {
	Total     uint64 `json:"total"`
	Used      uint64 `json:"used"`
	Free      uint64 `json:"free"`
	Available uint64 `json:"available"`
}

// DiskStats describe one filesystem in KiB, from df -kP.
type DiskStats struct {
	Filesystem  string  `json:"filesystem"`
	MountedOn   string  `json:"mounted_on"`
	TotalKB     uint64  `json:"total_kb"`
	UsedKB      uint64  `json:"used_kb"`
	AvailableKB uint64  `json:"available_kb"`
	UsePercent  float64 `json:"use_percent"`
}

type SystemStats struct {
	CPUPercent  float64     `json:"cpu_percent"`
	Memory      MemoryStats `json:"memory"`
	Swap        MemoryStats `json:"swap"`
	RootDisk    DiskStats   `json:"root_disk"`
	Uptime      string      `json:"uptime"`
	LoadAverage string      `json:"load_average"`
}

type Process struct {
	User    string  `json:"user"`
	PID     string  `json:"pid"`
	CPU     float64 `json:"cpu"`
	Mem     float64 `json:"mem"`
	Command string  `json:"command"`
}

// Interface carries the cumulative counters of one network interface from
// /proc/net/dev. Loopback is excluded.
type Interface struct {
	Name      string `json:"name"`
	RxBytes   uint64 `json:"rx_bytes"`
	TxBytes   uint64 `json:"tx_bytes"`
	RxPackets uint64 `json:"rx_packets"`
	TxPackets uint64 `json:"tx_packets"`
}

// Collect gathers a full system report. The first probe doubles as a
// connectivity check: if it fails, the host is unreachable for scraping and
// Collect returns its error. Later probe failures degrade individual fields.
func Collect(r Runner) (SystemStats, error) {
	var s SystemStats

	memOut, err := r.ExecuteCommand(memCmd)
	if err != nil {
		return s, fmt.Errorf("probe memory: %w", err)
	}
	s.Memory, s.Swap = parseFree(memOut)

	if out, err := r.ExecuteCommand(cpuCmd); err == nil {
		s.CPUPercent, _ = strconv.ParseFloat(strings.TrimSpace(out), 64)
	} else {
		log.Debug().Err(err).Msg("cpu probe failed")
	}

	if out, err := r.ExecuteCommand(rootDFCmd); err == nil {
		if disks := parseDF(out); len(disks) > 0 {
			s.RootDisk = disks[0]
		}
	} else {
		log.Debug().Err(err).Msg("root disk probe failed")
	}

	if out, err := r.ExecuteCommand(uptimeCmd); err == nil {
		s.Uptime = strings.TrimSpace(out)
	}

	if out, err := r.ExecuteCommand(loadCmd); err == nil {
		s.LoadAverage = parseLoadAvg(out)
	}

	return s, nil
}

// Processes returns the top processes by CPU or memory share. sortBy is
// "cpu" or "mem"; anything else sorts by CPU.
func Processes(r Runner, sortBy string) ([]Process, error) {
	key := "-%cpu"
	if sortBy == "mem" {
		key = "-%mem"
	}
	out, err := r.ExecuteCommand(fmt.Sprintf("ps aux --sort=%s | head -%d", key, processLimit+1))
	if err != nil {
		return nil, fmt.Errorf("probe processes: %w", err)
	}
	return parsePS(out), nil
}

// NetworkInterfaces returns the counters of every non-loopback interface.
func NetworkInterfaces(r Runner) ([]Interface, error) {
	out, err := r.ExecuteCommand(netCmd)
	if err != nil {
		return nil, fmt.Errorf("probe network: %w", err)
	}
	return parseNetDev(out), nil
}

// DiskUsage returns every mounted filesystem except pseudo mounts.
func DiskUsage(r Runner) ([]DiskStats, error) {
	out, err := r.ExecuteCommand(dfCmd)
	if err != nil {
		return nil, fmt.Errorf("probe disks: %w", err)
	}
	return parseDF(out), nil
}

// KillProcess sends a signal to a remote process. pid must be numeric and
// signal one of the permitted names; both come from the UI and are never
// interpolated unchecked.
func KillProcess(r Runner, pid, signal string) error {
	if _, err := strconv.ParseUint(pid, 10, 32); err != nil {
		return fmt.Errorf("invalid pid %q", pid)
	}
	switch signal {
	case "":
		signal = "TERM"
	case "TERM", "KILL", "HUP", "INT", "USR1", "USR2":
	default:
		return fmt.Errorf("invalid signal %q", signal)
	}
	_, err := r.ExecuteCommand(fmt.Sprintf("kill -%s %s", signal, pid))
	if err != nil {
		return fmt.Errorf("kill pid %s: %w", pid, err)
	}
	return nil
}

// parseFree reads the Mem and Swap rows of free -m. The available column is
// absent on old procps; it stays zero there.
func parseFree(out string) (mem, swap MemoryStats) {
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		row := MemoryStats{
			Total: parseUint(fields[1]),
			Used:  parseUint(fields[2]),
			Free:  parseUint(fields[3]),
		}
		switch {
		case strings.HasPrefix(fields[0], "Mem"):
			if len(fields) >= 7 {
				row.Available = parseUint(fields[6])
			}
			mem = row
		case strings.HasPrefix(fields[0], "Swap"):
			swap = row
		}
	}
	return mem, swap
}

// parseDF reads POSIX df output (df -kP). Pseudo filesystems with no device
// backing are skipped.
func parseDF(out string) []DiskStats {
	var disks []DiskStats
	for i, line := range strings.Split(out, "\n") {
		if i == 0 {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 6 {
			continue
		}
		fs := fields[0]
		if fs == "tmpfs" || fs == "devtmpfs" || fs == "overlay" || fs == "none" {
			continue
		}
		disks = append(disks, DiskStats{
			Filesystem:  fs,
			MountedOn:   fields[5],
			TotalKB:     parseUint(fields[1]),
			UsedKB:      parseUint(fields[2]),
			AvailableKB: parseUint(fields[3]),
			UsePercent:  parsePercent(fields[4]),
		})
	}
	return disks
}

// parsePS reads `ps aux` output. The command spans the 11th field to end of
// line, so splitting on whitespace and rejoining keeps embedded spaces.
func parsePS(out string) []Process {
	var procs []Process
	for i, line := range strings.Split(out, "\n") {
		if i == 0 {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 11 {
			continue
		}
		cpu, _ := strconv.ParseFloat(fields[2], 64)
		mem, _ := strconv.ParseFloat(fields[3], 64)
		procs = append(procs, Process{
			User:    fields[0],
			PID:     fields[1],
			CPU:     cpu,
			Mem:     mem,
			Command: strings.Join(fields[10:], " "),
		})
	}
	return procs
}

// parseNetDev reads /proc/net/dev. Layout per interface line:
// name: rx_bytes rx_packets ... (8 rx columns) tx_bytes tx_packets ...
func parseNetDev(out string) []Interface {
	var ifaces []Interface
	for _, line := range strings.Split(out, "\n") {
		name, rest, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" || name == "lo" {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) < 10 {
			continue
		}
		ifaces = append(ifaces, Interface{
			Name:      name,
			RxBytes:   parseUint(fields[0]),
			RxPackets: parseUint(fields[1]),
			TxBytes:   parseUint(fields[8]),
			TxPackets: parseUint(fields[9]),
		})
	}
	return ifaces
}

// parseLoadAvg returns the three load figures from /proc/loadavg.
func parseLoadAvg(out string) string {
	fields := strings.Fields(out)
	if len(fields) < 3 {
		return strings.TrimSpace(out)
	}
	return strings.Join(fields[:3], " ")
}

func parseUint(s string) uint64 {
	v, _ := strconv.ParseUint(s, 10, 64)
	return v
}

func parsePercent(s string) float64 {
	v, _ := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
	return v
}
