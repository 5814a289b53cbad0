package stats

import (
	"fmt"
	"sort"
	"strings"
)

// Log source discovery and reading. A source is a file under /var/log, a
// running systemd unit's journal, or a docker container; its id carries the
// kind as a prefix so a single read path serves all three.

const (
	defaultTailLines = 50
	defaultReadLines = 200
	defaultGrepLimit = 500
	logFileListCmd   = "find /var/log -type f -name '*.log' 2>/dev/null | head -50"
	journalUnitsCmd  = "systemctl list-units --type=service --state=running --no-pager --no-legend 2>/dev/null | awk '{print $1}' | head -30"
	dockerPsCmd      = "docker ps --format '{{.Names}}\t{{.Status}}' 2>/dev/null | head -20"
	logFileSearchCmd = "find /var/log -maxdepth 3 -type f \\( " +
		"-name '*.log' -o -name '*.log.*' -o " +
		"-name 'syslog' -o -name 'syslog.*' -o " +
		"-name 'messages' -o -name 'messages.*' -o " +
		"-name 'auth.log' -o -name 'auth.log.*' -o " +
		"-name 'secure' -o -name 'secure.*' -o " +
		"-name 'kern.log' -o -name 'daemon.log' -o " +
		"-name 'dmesg' -o -name 'mail.log' -o " +
		"-name 'cron' -o -name 'cron.log' -o " +
		"-name 'boot.log' -o -name 'dpkg.log' -o " +
		"-name 'yum.log' -o -name 'alternatives.log' " +
		"\\) -readable 2>/dev/null | head -80"
)

// LogSource is one readable log stream. ID is "<type>:<path or unit>", for
// example "file:/var/log/syslog", "journal:sshd" or "docker:web".
type LogSource struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"source_type"`
	Path     string `json:"path"`
	Category string `json:"category"`
	Size     string `json:"size_human,omitempty"`
}

// TailLog returns the last lines of a log file. lines <= 0 defaults to 50.
func TailLog(r Runner, path string, lines int) (string, error) {
	if lines <= 0 {
		lines = defaultTailLines
	}
	out, err := r.ExecuteCommand(fmt.Sprintf("tail -n %d %s", lines, shellQuote(path)))
	if err != nil {
		return "", fmt.Errorf("tail %s: %w", path, err)
	}
	return out, nil
}

// ListLogFiles returns the plain *.log files under /var/log.
func ListLogFiles(r Runner) ([]string, error) {
	out, err := r.ExecuteCommand(logFileListCmd)
	if err != nil {
		return nil, fmt.Errorf("list log files: %w", err)
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// DiscoverLogSources probes the host for every readable log stream: files
// under /var/log, journals of running services, docker container logs.
// Each probe is best effort; a host without systemd or docker just
// contributes nothing from that probe.
func DiscoverLogSources(r Runner) []LogSource {
	var sources []LogSource

	if out, err := r.ExecuteCommand(logFileSearchCmd); err == nil {
		var filePaths []string
		for _, line := range strings.Split(out, "\n") {
			path := strings.TrimSpace(line)
			if path == "" {
				continue
			}
			name := path
			if i := strings.LastIndex(path, "/"); i >= 0 {
				name = path[i+1:]
			}
			sources = append(sources, LogSource{
				ID:       "file:" + path,
				Name:     name,
				Type:     "file",
				Path:     path,
				Category: categorizeLogFile(name),
			})
			filePaths = append(filePaths, path)
		}
		fillLogSizes(r, sources, filePaths)
	}

	if out, err := r.ExecuteCommand(journalUnitsCmd); err == nil {
		for _, line := range strings.Split(out, "\n") {
			unit := strings.TrimSuffix(strings.TrimSpace(line), ".service")
			if unit == "" {
				continue
			}
			sources = append(sources, LogSource{
				ID:       "journal:" + unit,
				Name:     unit,
				Type:     "journal",
				Path:     unit,
				Category: "journal",
			})
		}
	}

	if out, err := r.ExecuteCommand(dockerPsCmd); err == nil &&
		!strings.Contains(out, "command not found") &&
		!strings.Contains(out, "Cannot connect") {
		for _, line := range strings.Split(out, "\n") {
			name, _, _ := strings.Cut(strings.TrimSpace(line), "\t")
			if name == "" {
				continue
			}
			sources = append(sources, LogSource{
				ID:       "docker:" + name,
				Name:     name,
				Type:     "docker",
				Path:     name,
				Category: "docker",
			})
		}
	}

	sortLogSources(sources)
	return sources
}

// fillLogSizes annotates file sources with human sizes from one batched du
// call. Sizes are cosmetic; a failed probe leaves them empty.
func fillLogSizes(r Runner, sources []LogSource, paths []string) {
	if len(paths) == 0 {
		return
	}
	quoted := make([]string, len(paths))
	for i, p := range paths {
		quoted[i] = shellQuote(p)
	}
	out, err := r.ExecuteCommand(fmt.Sprintf("du -h %s 2>/dev/null", strings.Join(quoted, " ")))
	if err != nil {
		return
	}
	sizes := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		size, path, found := strings.Cut(line, "\t")
		if !found {
			continue
		}
		sizes[strings.TrimSpace(path)] = strings.TrimSpace(size)
	}
	for i := range sources {
		if sources[i].Type == "file" {
			sources[i].Size = sizes[sources[i].Path]
		}
	}
}

// ReadLog returns the tail of a source identified by its prefixed id.
// lines <= 0 defaults to 200.
func ReadLog(r Runner, sourceID string, lines int) (string, error) {
	if lines <= 0 {
		lines = defaultReadLines
	}
	kind, target := splitSourceID(sourceID)

	var cmd string
	switch kind {
	case "journal":
		cmd = fmt.Sprintf("journalctl -u %s -n %d --no-pager 2>/dev/null", shellQuote(target), lines)
	case "docker":
		cmd = fmt.Sprintf("docker logs --tail %d %s 2>&1", lines, shellQuote(target))
	default:
		cmd = fmt.Sprintf("tail -n %d %s 2>/dev/null", lines, shellQuote(target))
	}
	out, err := r.ExecuteCommand(cmd)
	if err != nil {
		return "", fmt.Errorf("read log %s: %w", sourceID, err)
	}
	return out, nil
}

// SearchLog greps a source for query, returning at most limit matching
// lines (newest last). regex switches between extended-regex and fixed-
// string matching; either way the match is case-insensitive and lines come
// back number-prefixed.
func SearchLog(r Runner, sourceID, query string, regex bool, limit int) (string, error) {
	if limit <= 0 {
		limit = defaultGrepLimit
	}
	flag := "-nF"
	if regex {
		flag = "-nE"
	}
	kind, target := splitSourceID(sourceID)
	q := shellQuote(query)

	var cmd string
	switch kind {
	case "journal":
		cmd = fmt.Sprintf("journalctl -u %s --no-pager 2>/dev/null | grep %s -i %s | tail -n %d",
			shellQuote(target), flag, q, limit)
	case "docker":
		cmd = fmt.Sprintf("docker logs %s 2>&1 | grep %s -i %s | tail -n %d",
			shellQuote(target), flag, q, limit)
	default:
		cmd = fmt.Sprintf("grep %s -i %s %s 2>/dev/null | tail -n %d",
			flag, q, shellQuote(target), limit)
	}
	out, err := r.ExecuteCommand(cmd)
	if err != nil {
		return "", fmt.Errorf("search log %s: %w", sourceID, err)
	}
	return out, nil
}

// splitSourceID separates the kind prefix from the target. A bare path with
// no prefix reads as a file.
func splitSourceID(id string) (kind, target string) {
	kind, target, found := strings.Cut(id, ":")
	if !found || (kind != "file" && kind != "journal" && kind != "docker") {
		return "file", id
	}
	return kind, target
}

func categorizeLogFile(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "auth"), strings.Contains(lower, "secure"),
		strings.Contains(lower, "faillog"):
		return "auth"
	case strings.Contains(lower, "kern"), strings.Contains(lower, "dmesg"):
		return "kernel"
	case strings.Contains(lower, "syslog"), strings.Contains(lower, "messages"),
		strings.Contains(lower, "boot"):
		return "system"
	case strings.Contains(lower, "cron"):
		return "cron"
	case strings.Contains(lower, "mail"):
		return "mail"
	case strings.Contains(lower, "dpkg"), strings.Contains(lower, "yum"),
		strings.Contains(lower, "apt"):
		return "package"
	case strings.Contains(lower, "nginx"), strings.Contains(lower, "apache"),
		strings.Contains(lower, "httpd"):
		return "web"
	default:
		return "application"
	}
}

// sortLogSources orders files first grouped by category, then journals,
// then docker containers, each block by name.
func sortLogSources(sources []LogSource) {
	rank := func(t string) int {
		switch t {
		case "file":
			return 0
		case "journal":
			return 1
		default:
			return 2
		}
	}
	sort.SliceStable(sources, func(i, j int) bool {
		a, b := sources[i], sources[j]
		if ra, rb := rank(a.Type), rank(b.Type); ra != rb {
			return ra < rb
		}
		if a.Type == "file" && a.Category != b.Category {
			return a.Category < b.Category
		}
		return a.Name < b.Name
	})
}

// shellQuote single-quotes s for interpolation into a remote shell command.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
