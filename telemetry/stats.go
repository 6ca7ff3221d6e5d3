package telemetry

import (
	"context"
	"encoding/json"
	"io"
	"time"
)

// ContainerStats is the subset of the engine's stats record the panel uses.
type ContainerStats struct {
	Read        time.Time   `json:"read"`
	CPUStats    cpuStats    `json:"cpu_stats"`
	PrecpuStats cpuStats    `json:"precpu_stats"`
	MemoryStats memoryStats `json:"memory_stats"`
}

type cpuStats struct {
	CPUUsage       cpuUsage `json:"cpu_usage"`
	SystemCPUUsage uint64   `json:"system_cpu_usage"`
	OnlineCPUs     uint32   `json:"online_cpus"`
}

type cpuUsage struct {
	TotalUsage  uint64   `json:"total_usage"`
	PercpuUsage []uint64 `json:"percpu_usage"`
}

type memoryStats struct {
	Usage uint64 `json:"usage"`
	Limit uint64 `json:"limit"`
}

const bytesPerMiB = 1 << 20

// CPUPercent computes the container's CPU use since the previous sample,
// scaled across online CPUs and clamped to [0, 100]. Returns 0 when the
// system counter has not advanced (first sample, or a counter reset).
func (s *ContainerStats) CPUPercent() float64 {
	cpuDelta := float64(s.CPUStats.CPUUsage.TotalUsage) - float64(s.PrecpuStats.CPUUsage.TotalUsage)
	systemDelta := float64(s.CPUStats.SystemCPUUsage) - float64(s.PrecpuStats.SystemCPUUsage)
	if systemDelta <= 0 || cpuDelta < 0 {
		return 0
	}

	onlineCPUs := float64(s.CPUStats.OnlineCPUs)
	if onlineCPUs == 0 {
		onlineCPUs = float64(len(s.CPUStats.CPUUsage.PercpuUsage))
	}
	if onlineCPUs == 0 {
		return 0
	}

	percent := (cpuDelta / systemDelta) * onlineCPUs * 100.0
	if percent < 0 {
		return 0
	}
	if percent > 100 {
		return 100
	}
	return percent
}

// Sample is one telemetry record as pushed to subscribers.
type Sample struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemUsageMB float64 `json:"mem_usage_mb"`
	MemLimitMB float64 `json:"mem_limit_mb"`
}

// SampleOf reduces a raw stats record to the published figures.
func SampleOf(stats *ContainerStats) Sample {
	return Sample{
		CPUPercent: stats.CPUPercent(),
		MemUsageMB: float64(stats.MemoryStats.Usage) / bytesPerMiB,
		MemLimitMB: float64(stats.MemoryStats.Limit) / bytesPerMiB,
	}
}

// StreamStats decodes the engine's newline-delimited JSON stats stream and
// emits one Sample per record until the stream ends or ctx is cancelled.
func StreamStats(ctx context.Context, r io.ReadCloser) <-chan Sample {
	out := make(chan Sample)

	go func() {
		defer close(out)
		defer r.Close()

		stop := context.AfterFunc(ctx, func() { r.Close() })
		defer stop()

		decoder := json.NewDecoder(r)
		for {
			var stats ContainerStats
			if err := decoder.Decode(&stats); err != nil {
				return
			}
			select {
			case out <- SampleOf(&stats):
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
