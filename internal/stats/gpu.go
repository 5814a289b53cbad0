package stats

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// GPU probing. NVIDIA hosts answer nvidia-smi CSV queries; AMD hosts answer
// rocm-smi, with a sysfs readout as the fallback for bare amdgpu drivers.

const (
	nvidiaDetectCmd = "which nvidia-smi 2>/dev/null && nvidia-smi --query-gpu=index,name,driver_version --format=csv,noheader 2>/dev/null"
	nvidiaCudaCmd   = `nvidia-smi | sed -n 's/.*CUDA Version: \([0-9.]*\).*/\1/p' | head -1`
	nvidiaStatsCmd  = "nvidia-smi --query-gpu=index,name,utilization.gpu,memory.used,memory.total,temperature.gpu,power.draw,power.limit,fan.speed,utilization.encoder,utilization.decoder --format=csv,noheader,nounits 2>/dev/null"

	rocmDetectCmd = "which rocm-smi 2>/dev/null && rocm-smi --showid --showproductname 2>/dev/null"
	rocmStatsCmd  = "rocm-smi --showuse --showmeminfo vram --showtemp --showpower --showfan --json 2>/dev/null"

	sysfsDetectCmd = "ls /sys/class/drm/card*/device/gpu_busy_percent 2>/dev/null | head -1"
	sysfsCountCmd  = "ls -d /sys/class/drm/card[0-9]*/device/gpu_busy_percent 2>/dev/null | wc -l"
)

// sysfsStatsCmd reads each amdgpu card's utilization, VRAM and hwmon
// sensors into one pipe-separated line per card.
const sysfsStatsCmd = `
for card in /sys/class/drm/card[0-9]*; do
    if [ -f "$card/device/gpu_busy_percent" ]; then
        idx=$(basename $card | sed 's/card//')
        util=$(cat "$card/device/gpu_busy_percent" 2>/dev/null || echo "0")
        vram_used=$(cat "$card/device/mem_info_vram_used" 2>/dev/null || echo "0")
        vram_total=$(cat "$card/device/mem_info_vram_total" 2>/dev/null || echo "0")
        hwmon=$(ls -d "$card/device/hwmon/hwmon"* 2>/dev/null | head -1)
        if [ -n "$hwmon" ]; then
            temp=$(cat "$hwmon/temp1_input" 2>/dev/null || echo "0")
            power=$(cat "$hwmon/power1_average" 2>/dev/null || echo "0")
            fan=$(cat "$hwmon/fan1_input" 2>/dev/null || echo "0")
            fan_max=$(cat "$hwmon/fan1_max" 2>/dev/null || echo "1")
        else
            temp="0"
            power="0"
            fan="0"
            fan_max="1"
        fi
        echo "$idx|$util|$vram_used|$vram_total|$temp|$power|$fan|$fan_max"
    fi
done
`

// GPUInfo identifies one installed GPU.
type GPUInfo struct {
	Index         int    `json:"index"`
	Name          string `json:"name"`
	Vendor        string `json:"vendor"`
	DriverVersion string `json:"driver_version,omitempty"`
	CudaVersion   string `json:"cuda_version,omitempty"`
}

// GPUDetection reports whether the host has a usable GPU and how it was
// found.
type GPUDetection struct {
	Available bool      `json:"available"`
	Vendor    string    `json:"vendor"`
	GPUs      []GPUInfo `json:"gpus"`
	Method    string    `json:"detection_method"`
}

// GPUStats is a point-in-time readout of one GPU. Memory figures are MiB.
// Pointer fields are absent when the vendor tooling does not report them.
type GPUStats struct {
	Index         int      `json:"index"`
	Name          string   `json:"name"`
	Vendor        string   `json:"vendor"`
	Utilization   float64  `json:"utilization"`
	MemoryUsedMB  uint64   `json:"memory_used"`
	MemoryTotalMB uint64   `json:"memory_total"`
	MemoryPercent float64  `json:"memory_percent"`
	Temperature   *float64 `json:"temperature,omitempty"`
	PowerDraw     *float64 `json:"power_draw,omitempty"`
	PowerLimit    *float64 `json:"power_limit,omitempty"`
	FanSpeed      *float64 `json:"fan_speed,omitempty"`
	EncoderUtil   *float64 `json:"encoder_util,omitempty"`
	DecoderUtil   *float64 `json:"decoder_util,omitempty"`
}

// DetectGPU probes NVIDIA then AMD tooling then the amdgpu sysfs interface.
// A host with none of them yields Available false rather than an error.
func DetectGPU(r Runner) GPUDetection {
	if out, err := r.ExecuteCommand(nvidiaDetectCmd); err == nil {
		if gpus := parseNvidiaDetect(out, ""); len(gpus) > 0 {
			cuda := cudaVersion(r)
			for i := range gpus {
				gpus[i].CudaVersion = cuda
			}
			return GPUDetection{Available: true, Vendor: "nvidia", GPUs: gpus, Method: "nvidia-smi"}
		}
	}

	if out, err := r.ExecuteCommand(rocmDetectCmd); err == nil {
		if gpus := parseRocmDetect(out); len(gpus) > 0 {
			return GPUDetection{Available: true, Vendor: "amd", GPUs: gpus, Method: "rocm-smi"}
		}
	}

	if out, err := r.ExecuteCommand(sysfsDetectCmd); err == nil &&
		strings.Contains(out, "gpu_busy_percent") {
		count := 1
		if out, err := r.ExecuteCommand(sysfsCountCmd); err == nil {
			if n, convErr := strconv.Atoi(strings.TrimSpace(out)); convErr == nil && n > 0 {
				count = n
			}
		}
		gpus := make([]GPUInfo, count)
		for i := range gpus {
			gpus[i] = GPUInfo{Index: i, Name: fmt.Sprintf("AMD GPU %d", i), Vendor: "amd"}
		}
		return GPUDetection{Available: true, Vendor: "amd", GPUs: gpus, Method: "sysfs"}
	}

	return GPUDetection{Vendor: "unknown", Method: "none"}
}

// GPUStatsReport samples every GPU the host exposes, in the same probe
// order as DetectGPU.
func GPUStatsReport(r Runner) ([]GPUStats, error) {
	if out, err := r.ExecuteCommand(nvidiaStatsCmd); err == nil {
		if gpus := parseNvidiaStats(out); len(gpus) > 0 {
			return gpus, nil
		}
	}
	if out, err := r.ExecuteCommand(rocmStatsCmd); err == nil {
		if gpus := parseRocmStats(out); len(gpus) > 0 {
			return gpus, nil
		}
	}
	if out, err := r.ExecuteCommand(sysfsStatsCmd); err == nil {
		if gpus := parseSysfsStats(out); len(gpus) > 0 {
			return gpus, nil
		}
	}
	return nil, fmt.Errorf("no gpu detected or drivers not installed")
}

func cudaVersion(r Runner) string {
	out, err := r.ExecuteCommand(nvidiaCudaCmd)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}

// parseNvidiaDetect reads "index, name, driver_version" CSV lines. The
// `which` prelude echoes the binary path first; that line is skipped.
func parseNvidiaDetect(out, cuda string) []GPUInfo {
	out = strings.TrimSpace(out)
	if out == "" || strings.Contains(out, "not found") || strings.Contains(out, "No such file") {
		return nil
	}
	var gpus []GPUInfo
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "nvidia-smi") || strings.TrimSpace(line) == "" {
			continue
		}
		parts := splitCSV(line)
		if len(parts) < 2 {
			continue
		}
		info := GPUInfo{
			Index:       atoiDefault(parts[0], 0),
			Name:        parts[1],
			Vendor:      "nvidia",
			CudaVersion: cuda,
		}
		if len(parts) >= 3 {
			info.DriverVersion = parts[2]
		}
		gpus = append(gpus, info)
	}
	return gpus
}

// parseRocmDetect reads rocm-smi --showid --showproductname output, which
// names cards as "GPU[N] : Card series: ...".
func parseRocmDetect(out string) []GPUInfo {
	out = strings.TrimSpace(out)
	if out == "" || strings.Contains(out, "not found") || !strings.Contains(out, "GPU") {
		return nil
	}
	index := 0
	name := ""
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "rocm-smi") || strings.TrimSpace(line) == "" ||
			strings.HasPrefix(line, "=") {
			continue
		}
		if start := strings.Index(line, "GPU["); start >= 0 {
			if end := strings.Index(line[start:], "]"); end > 4 {
				index = atoiDefault(line[start+4:start+end], index)
			}
		}
		if strings.Contains(line, "Card series:") || strings.Contains(line, "Card model:") {
			if _, after, found := strings.Cut(line, ":"); found {
				name = strings.TrimSpace(after)
			}
		}
	}
	if name == "" {
		name = "AMD GPU"
	}
	return []GPUInfo{{Index: index, Name: name, Vendor: "amd"}}
}

// parseNvidiaStats reads the eleven-column nounits CSV from nvidia-smi.
// Columns past memory.total are optional; "[N/A]" readings parse to nil.
func parseNvidiaStats(out string) []GPUStats {
	out = strings.TrimSpace(out)
	if out == "" || strings.Contains(out, "not found") || strings.Contains(out, "Failed") {
		return nil
	}
	var gpus []GPUStats
	for _, line := range strings.Split(out, "\n") {
		parts := splitCSV(line)
		if len(parts) < 5 {
			continue
		}
		memUsed := parseUint(parts[3])
		memTotal := parseUint(parts[4])
		g := GPUStats{
			Index:         atoiDefault(parts[0], 0),
			Name:          parts[1],
			Vendor:        "nvidia",
			Utilization:   floatDefault(parts[2]),
			MemoryUsedMB:  memUsed,
			MemoryTotalMB: memTotal,
			MemoryPercent: memPercent(memUsed, memTotal),
		}
		if len(parts) > 5 {
			g.Temperature = floatPtr(parts[5])
		}
		if len(parts) > 6 {
			g.PowerDraw = floatPtr(parts[6])
		}
		if len(parts) > 7 {
			g.PowerLimit = floatPtr(parts[7])
		}
		if len(parts) > 8 {
			g.FanSpeed = floatPtr(parts[8])
		}
		if len(parts) > 9 {
			g.EncoderUtil = floatPtr(parts[9])
		}
		if len(parts) > 10 {
			g.DecoderUtil = floatPtr(parts[10])
		}
		gpus = append(gpus, g)
	}
	return gpus
}

// parseRocmStats reads rocm-smi's JSON, keyed "cardN" with string values.
// VRAM figures are bytes and convert to MiB.
func parseRocmStats(out string) []GPUStats {
	out = strings.TrimSpace(out)
	if !strings.HasPrefix(out, "{") {
		return nil
	}
	var cards map[string]map[string]string
	if err := json.Unmarshal([]byte(out), &cards); err != nil {
		return nil
	}
	var gpus []GPUStats
	for key, fields := range cards {
		if !strings.HasPrefix(key, "card") {
			continue
		}
		memUsed := parseUint(fields["VRAM Total Used Memory (B)"]) / (1024 * 1024)
		memTotal := parseUint(fields["VRAM Total Memory (B)"]) / (1024 * 1024)
		index := atoiDefault(strings.TrimPrefix(key, "card"), 0)
		gpus = append(gpus, GPUStats{
			Index:         index,
			Name:          fmt.Sprintf("AMD GPU %d", index),
			Vendor:        "amd",
			Utilization:   floatDefault(strings.TrimSuffix(fields["GPU use (%)"], "%")),
			MemoryUsedMB:  memUsed,
			MemoryTotalMB: memTotal,
			MemoryPercent: memPercent(memUsed, memTotal),
			Temperature:   floatPtr(fields["Temperature (Sensor edge) (C)"]),
			PowerDraw:     floatPtr(fields["Average Graphics Package Power (W)"]),
			FanSpeed:      floatPtr(strings.TrimSuffix(fields["Fan speed (%)"], "%")),
		})
	}
	sortGPUStats(gpus)
	return gpus
}

// parseSysfsStats reads the pipe-separated card lines produced by
// sysfsStatsCmd. Temperature arrives in millidegrees, power in microwatts
// and fan speed as a fraction of its maximum.
func parseSysfsStats(out string) []GPUStats {
	var gpus []GPUStats
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		parts := strings.Split(strings.TrimSpace(line), "|")
		if len(parts) < 8 {
			continue
		}
		memUsed := parseUint(parts[2]) / (1024 * 1024)
		memTotal := parseUint(parts[3]) / (1024 * 1024)
		index := atoiDefault(parts[0], 0)
		g := GPUStats{
			Index:         index,
			Name:          fmt.Sprintf("AMD GPU %d", index),
			Vendor:        "amd",
			Utilization:   floatDefault(parts[1]),
			MemoryUsedMB:  memUsed,
			MemoryTotalMB: memTotal,
			MemoryPercent: memPercent(memUsed, memTotal),
		}
		if t, err := strconv.ParseFloat(parts[4], 64); err == nil {
			v := t / 1000.0
			g.Temperature = &v
		}
		if p, err := strconv.ParseFloat(parts[5], 64); err == nil {
			v := p / 1_000_000.0
			g.PowerDraw = &v
		}
		fan, fanErr := strconv.ParseFloat(parts[6], 64)
		max, maxErr := strconv.ParseFloat(parts[7], 64)
		if fanErr == nil && maxErr == nil && max > 0 {
			v := fan / max * 100.0
			g.FanSpeed = &v
		}
		gpus = append(gpus, g)
	}
	return gpus
}

func sortGPUStats(gpus []GPUStats) {
	sort.Slice(gpus, func(i, j int) bool { return gpus[i].Index < gpus[j].Index })
}

func splitCSV(line string) []string {
	parts := strings.Split(line, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func atoiDefault(s string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return v
}

func floatDefault(s string) float64 {
	v, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return v
}

func floatPtr(s string) *float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil
	}
	return &v
}

func memPercent(used, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(used) / float64(total) * 100.0
}
