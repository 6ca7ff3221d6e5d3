package telemetry

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatLogLine(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "plain line unchanged",
			input:    "Server started on port 27015",
			expected: "Server started on port 27015",
		},
		{
			name:     "trailing whitespace stripped",
			input:    "loading map  \t\r",
			expected: "loading map",
		},
		{
			name:     "timestamp compressed to seconds with tab",
			input:    "2024-01-02T15:04:05.123456789Z listening",
			expected: "2024-01-02T15:04:05Z\tlistening",
		},
		{
			name:     "timestamp without fraction",
			input:    "2024-01-02T15:04:05Z listening",
			expected: "2024-01-02T15:04:05Z\tlistening",
		},
		{
			name:     "ansi color codes stripped",
			input:    "\x1b[32mINFO\x1b[0m ready",
			expected: "INFO ready",
		},
		{
			name:     "timestamp inside line untouched",
			input:    "saved at 2024-01-02T15:04:05.1Z checkpoint",
			expected: "saved at 2024-01-02T15:04:05.1Z checkpoint",
		},
		{
			name:     "only whitespace becomes empty",
			input:    "   ",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatLogLine(tt.input))
		})
	}
}

func TestFormatLogLineIdempotent(t *testing.T) {
	inputs := []string{
		"2024-01-02T15:04:05.123456789Z listening",
		"\x1b[31merror\x1b[0m something broke  ",
		"plain line",
	}

	for _, input := range inputs {
		once := FormatLogLine(input)
		assert.Equal(t, once, FormatLogLine(once), "input %q", input)
	}
}

func TestFrameDecoderSingleFrame(t *testing.T) {
	// stdout frame carrying "Hello".
	frame := []byte{0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x05, 'H', 'e', 'l', 'l', 'o'}

	var d FrameDecoder
	lines := d.Feed(frame)

	assert.Equal(t, []string{"Hello"}, lines)
}

func TestFrameDecoderSplitAcrossReads(t *testing.T) {
	frame := []byte{0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x05, 'H', 'e', 'l', 'l', 'o'}

	// Feed byte by byte: nothing may be emitted until the frame completes.
	var d FrameDecoder
	for i := 0; i < len(frame)-1; i++ {
		assert.Empty(t, d.Feed(frame[i:i+1]), "byte %d", i)
	}
	assert.Equal(t, []string{"Hello"}, d.Feed(frame[len(frame)-1:]))
}

func TestFrameDecoderMultipleFramesOneRead(t *testing.T) {
	var buf []byte
	buf = append(buf, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x04, 'o', 'n', 'e', '\n')
	buf = append(buf, 0x02, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x03, 't', 'w', 'o')

	var d FrameDecoder
	assert.Equal(t, []string{"one", "two"}, d.Feed(buf))
}

func TestFrameDecoderDropsEmptyLines(t *testing.T) {
	payload := "line one\n\nline two\n"
	frame := append([]byte{0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, byte(len(payload))}, payload...)

	var d FrameDecoder
	assert.Equal(t, []string{"line one", "line two"}, d.Feed(frame))
}

func TestTTYSplitterBuffersPartialLines(t *testing.T) {
	var s ttySplitter

	assert.Empty(t, s.Feed([]byte("hel")))
	assert.Equal(t, []string{"hello"}, s.Feed([]byte("lo\nwor")))
	assert.Equal(t, []string{"world"}, s.Flush())
	assert.Empty(t, s.Flush())
}

func TestStreamLogsEmitsAndCloses(t *testing.T) {
	frame := []byte{0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x05, 'H', 'e', 'l', 'l', 'o'}
	r := io.NopCloser(strings.NewReader(string(frame)))

	lines := StreamLogs(context.Background(), r, false)

	var got []string
	for line := range lines {
		got = append(got, line)
	}
	assert.Equal(t, []string{"Hello"}, got)
}

func TestStreamLogsTTYFlushesTrailingLine(t *testing.T) {
	r := io.NopCloser(strings.NewReader("first\nlast without newline"))

	lines := StreamLogs(context.Background(), r, true)

	var got []string
	for line := range lines {
		got = append(got, line)
	}
	assert.Equal(t, []string{"first", "last without newline"}, got)
}

func TestStreamLogsCancellation(t *testing.T) {
	// A pipe with no writer blocks forever; cancellation must end the stream.
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	lines := StreamLogs(ctx, pr, false)
	cancel()

	select {
	case _, ok := <-lines:
		require.False(t, ok, "expected closed channel")
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not terminate after cancellation")
	}
}
