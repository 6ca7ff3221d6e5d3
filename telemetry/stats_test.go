package telemetry

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCPUPercent(t *testing.T) {
	tests := []struct {
		name     string
		stats    ContainerStats
		expected float64
	}{
		{
			name: "half of one cpu on a four cpu host",
			stats: ContainerStats{
				CPUStats: cpuStats{
					CPUUsage:       cpuUsage{TotalUsage: 1_500_000},
					SystemCPUUsage: 8_000_000,
					OnlineCPUs:     4,
				},
				PrecpuStats: cpuStats{
					CPUUsage:       cpuUsage{TotalUsage: 1_000_000},
					SystemCPUUsage: 4_000_000,
				},
			},
			expected: 50,
		},
		{
			name: "clamped to 100",
			stats: ContainerStats{
				CPUStats: cpuStats{
					CPUUsage:       cpuUsage{TotalUsage: 10_000_000},
					SystemCPUUsage: 5_000_000,
					OnlineCPUs:     2,
				},
				PrecpuStats: cpuStats{
					CPUUsage:       cpuUsage{TotalUsage: 0},
					SystemCPUUsage: 4_000_000,
				},
			},
			expected: 100,
		},
		{
			name: "zero system delta reports zero",
			stats: ContainerStats{
				CPUStats: cpuStats{
					CPUUsage:       cpuUsage{TotalUsage: 2_000_000},
					SystemCPUUsage: 4_000_000,
					OnlineCPUs:     4,
				},
				PrecpuStats: cpuStats{
					CPUUsage:       cpuUsage{TotalUsage: 1_000_000},
					SystemCPUUsage: 4_000_000,
				},
			},
			expected: 0,
		},
		{
			name: "counter reset reports zero",
			stats: ContainerStats{
				CPUStats: cpuStats{
					CPUUsage:       cpuUsage{TotalUsage: 100},
					SystemCPUUsage: 8_000_000,
					OnlineCPUs:     4,
				},
				PrecpuStats: cpuStats{
					CPUUsage:       cpuUsage{TotalUsage: 1_000_000},
					SystemCPUUsage: 4_000_000,
				},
			},
			expected: 0,
		},
		{
			name: "falls back to percpu count when online_cpus missing",
			stats: ContainerStats{
				CPUStats: cpuStats{
					CPUUsage:       cpuUsage{TotalUsage: 1_500_000, PercpuUsage: []uint64{1, 2}},
					SystemCPUUsage: 8_000_000,
				},
				PrecpuStats: cpuStats{
					CPUUsage:       cpuUsage{TotalUsage: 1_000_000},
					SystemCPUUsage: 4_000_000,
				},
			},
			expected: 25,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, tt.stats.CPUPercent(), 0.001)
		})
	}
}

func TestSampleOf(t *testing.T) {
	stats := &ContainerStats{
		MemoryStats: memoryStats{
			Usage: 512 * bytesPerMiB,
			Limit: 6 * 1024 * bytesPerMiB,
		},
	}

	sample := SampleOf(stats)

	assert.InDelta(t, 512, sample.MemUsageMB, 0.001)
	assert.InDelta(t, 6144, sample.MemLimitMB, 0.001)
	assert.Zero(t, sample.CPUPercent)
}

func TestStreamStats(t *testing.T) {
	records := `{"memory_stats":{"usage":1048576,"limit":2097152}}
{"memory_stats":{"usage":2097152,"limit":2097152}}
`
	samples := StreamStats(context.Background(), io.NopCloser(strings.NewReader(records)))

	var got []Sample
	for sample := range samples {
		got = append(got, sample)
	}

	require.Len(t, got, 2)
	assert.InDelta(t, 1, got[0].MemUsageMB, 0.001)
	assert.InDelta(t, 2, got[1].MemUsageMB, 0.001)
}

func TestStreamStatsStopsOnMalformedRecord(t *testing.T) {
	samples := StreamStats(context.Background(), io.NopCloser(strings.NewReader("not json")))

	_, ok := <-samples
	assert.False(t, ok)
}
