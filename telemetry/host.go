package telemetry

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const hostSampleInterval = 3 * time.Second

// HostSample is one host-level telemetry record.
type HostSample struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemUsageMB  float64 `json:"mem_usage_mb"`
	MemTotalMB  float64 `json:"mem_total_mb"`
	DiskUsedGB  float64 `json:"disk_used_gb"`
	DiskTotalGB float64 `json:"disk_total_gb"`
}

// HostSampler reads aggregate CPU and memory figures from /proc and disk
// figures for the data mount from df.
type HostSampler struct {
	DataMount string

	prevTotal uint64
	prevBusy  uint64
}

type cpuTicks struct {
	total uint64
	busy  uint64
}

// Sample takes one host measurement. CPU percent is computed against the
// previous call, so the first sample reports 0.
func (s *HostSampler) Sample() HostSample {
	var sample HostSample

	if ticks, err := readCPUTicks(); err == nil {
		totalDelta := ticks.total - s.prevTotal
		busyDelta := ticks.busy - s.prevBusy
		if s.prevTotal > 0 && totalDelta > 0 {
			sample.CPUPercent = float64(busyDelta) / float64(totalDelta) * 100.0
		}
		s.prevTotal = ticks.total
		s.prevBusy = ticks.busy
	}

	if totalKB, availKB, err := readMemInfo(); err == nil {
		sample.MemTotalMB = float64(totalKB) / 1024.0
		sample.MemUsageMB = float64(totalKB-availKB) / 1024.0
	}

	if total, used, err := diskUsage(s.DataMount); err == nil {
		sample.DiskTotalGB = float64(total) / (1 << 30)
		sample.DiskUsedGB = float64(used) / (1 << 30)
	}

	return sample
}

// Stream emits a host sample every few seconds until ctx is cancelled. The
// first record is sent immediately so subscribers see data without waiting a
// full tick.
func (s *HostSampler) Stream(ctx context.Context) <-chan HostSample {
	out := make(chan HostSample)

	go func() {
		defer close(out)

		// Prime the counters so the first pushed sample has a real delta.
		s.Sample()

		ticker := time.NewTicker(hostSampleInterval)
		defer ticker.Stop()

		for {
			select {
			case out <- s.Sample():
			case <-ctx.Done():
				return
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

func readCPUTicks() (cpuTicks, error) {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return cpuTicks{}, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "cpu ") {
			return parseCPULine(line)
		}
	}

	return cpuTicks{}, fmt.Errorf("no aggregate cpu line in /proc/stat")
}

// parseCPULine parses the aggregate cpu line of /proc/stat. Busy time is
// everything except idle and iowait.
func parseCPULine(line string) (cpuTicks, error) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return cpuTicks{}, fmt.Errorf("malformed cpu line: %q", line)
	}

	var ticks cpuTicks
	for i, field := range fields[1:] {
		value, err := strconv.ParseUint(field, 10, 64)
		if err != nil {
			return cpuTicks{}, fmt.Errorf("malformed cpu field %q: %w", field, err)
		}
		ticks.total += value
		// Fields 4 and 5 are idle and iowait.
		if i != 3 && i != 4 {
			ticks.busy += value
		}
	}

	return ticks, nil
}

func readMemInfo() (totalKB, availKB uint64, err error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		value, parseErr := strconv.ParseUint(fields[1], 10, 64)
		if parseErr != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			totalKB = value
		case "MemAvailable:":
			availKB = value
		}
	}

	if totalKB == 0 {
		return 0, 0, fmt.Errorf("no MemTotal in /proc/meminfo")
	}
	return totalKB, availKB, nil
}

func diskUsage(mount string) (total, used uint64, err error) {
	out, err := exec.Command("df", "-B1", mount).Output()
	if err != nil {
		return 0, 0, fmt.Errorf("df failed for %s: %w", mount, err)
	}
	return parseDFOutput(string(out))
}

func parseDFOutput(out string) (total, used uint64, err error) {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) < 2 {
		return 0, 0, fmt.Errorf("unexpected df output: %q", out)
	}

	fields := strings.Fields(lines[1])
	if len(fields) < 3 {
		return 0, 0, fmt.Errorf("unexpected df line: %q", lines[1])
	}

	total, err = strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed df total %q: %w", fields[1], err)
	}
	used, err = strconv.ParseUint(fields[2], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed df used %q: %w", fields[2], err)
	}

	return total, used, nil
}
