package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCPULine(t *testing.T) {
	// user nice system idle iowait irq softirq
	ticks, err := parseCPULine("cpu  100 0 50 800 50 10 5")
	require.NoError(t, err)

	assert.Equal(t, uint64(1015), ticks.total)
	assert.Equal(t, uint64(165), ticks.busy)
}

func TestParseCPULineMalformed(t *testing.T) {
	_, err := parseCPULine("cpu 1 2")
	assert.Error(t, err)

	_, err = parseCPULine("cpu a b c d e")
	assert.Error(t, err)
}

func TestParseDFOutput(t *testing.T) {
	out := `Filesystem        1B-blocks         Used    Available Use% Mounted on
/dev/sda1     1000000000000 250000000000 750000000000  25% /host-data
`
	total, used, err := parseDFOutput(out)
	require.NoError(t, err)

	assert.Equal(t, uint64(1000000000000), total)
	assert.Equal(t, uint64(250000000000), used)
}

func TestParseDFOutputMalformed(t *testing.T) {
	_, _, err := parseDFOutput("Filesystem 1B-blocks Used\n")
	assert.Error(t, err)
}

func TestHostSamplerFirstSampleReportsZeroCPU(t *testing.T) {
	var s HostSampler
	sample := s.Sample()
	assert.Zero(t, sample.CPUPercent)
}
