// Package telemetry turns the container engine's raw log and stats streams
// into per-subscriber push streams, and samples host-level CPU, memory and
// disk figures.
package telemetry

import (
	"context"
	"encoding/binary"
	"io"
	"regexp"
	"strings"
)

// frameHeaderLen is the engine's multiplexed log frame header:
// [1 B stream type][3 B pad][4 B big-endian payload length].
const frameHeaderLen = 8

var (
	ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*m`)
	// Leading engine timestamp with fractional seconds, e.g.
	// "2024-01-02T15:04:05.123456789Z ". Rewritten to a second-precision
	// timestamp and a tab, so a second application never matches again.
	leadingTimestamp = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2})(?:\.\d+)?Z `)
)

// FormatLogLine normalizes one raw log line: ANSI SGR escape sequences are
// stripped, trailing whitespace is dropped, and a leading engine timestamp is
// compressed to second precision with a tab separator. Idempotent after the
// first application.
func FormatLogLine(line string) string {
	line = ansiEscape.ReplaceAllString(line, "")
	line = leadingTimestamp.ReplaceAllString(line, "${1}Z\t")
	return strings.TrimRight(line, " \t\r\n")
}

// FrameDecoder incrementally decodes the engine's multiplexed log framing.
// Bytes are accumulated until a complete frame (header plus payload) is
// available; partial frames are never emitted.
type FrameDecoder struct {
	buf []byte
}

// Feed appends raw bytes and returns the normalized lines of every frame that
// is now complete. Empty lines are dropped.
func (d *FrameDecoder) Feed(p []byte) []string {
	d.buf = append(d.buf, p...)

	var lines []string
	for {
		if len(d.buf) < frameHeaderLen {
			break
		}
		payloadLen := int(binary.BigEndian.Uint32(d.buf[4:frameHeaderLen]))
		if len(d.buf) < frameHeaderLen+payloadLen {
			break
		}
		payload := d.buf[frameHeaderLen : frameHeaderLen+payloadLen]
		lines = appendPayloadLines(lines, string(payload))
		d.buf = d.buf[frameHeaderLen+payloadLen:]
	}

	return lines
}

func appendPayloadLines(lines []string, payload string) []string {
	for _, raw := range strings.Split(payload, "\n") {
		line := FormatLogLine(raw)
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// ttySplitter splits a raw TTY byte stream into lines. Unlike the framed
// decoder it buffers partial lines across reads.
type ttySplitter struct {
	partial []byte
}

func (s *ttySplitter) Feed(p []byte) []string {
	s.partial = append(s.partial, p...)

	var lines []string
	for {
		idx := strings.IndexByte(string(s.partial), '\n')
		if idx < 0 {
			break
		}
		line := FormatLogLine(string(s.partial[:idx]))
		if line != "" {
			lines = append(lines, line)
		}
		s.partial = s.partial[idx+1:]
	}

	return lines
}

// Flush returns the trailing unterminated line, if any.
func (s *ttySplitter) Flush() []string {
	if len(s.partial) == 0 {
		return nil
	}
	line := FormatLogLine(string(s.partial))
	s.partial = nil
	if line == "" {
		return nil
	}
	return []string{line}
}

type lineFeeder interface {
	Feed(p []byte) []string
}

// StreamLogs reads the raw log stream and emits normalized lines until the
// stream ends or ctx is cancelled. The reader is closed on every exit path;
// cancellation closes it immediately so a blocked read terminates.
func StreamLogs(ctx context.Context, r io.ReadCloser, tty bool) <-chan string {
	out := make(chan string)

	go func() {
		defer close(out)
		defer r.Close()

		// Closing the reader is what actually unblocks Read below.
		stop := context.AfterFunc(ctx, func() { r.Close() })
		defer stop()

		var feeder lineFeeder
		var splitter *ttySplitter
		if tty {
			splitter = &ttySplitter{}
			feeder = splitter
		} else {
			feeder = &FrameDecoder{}
		}

		buf := make([]byte, 4096)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				for _, line := range feeder.Feed(buf[:n]) {
					select {
					case out <- line:
					case <-ctx.Done():
						return
					}
				}
			}
			if err != nil {
				if splitter != nil {
					for _, line := range splitter.Flush() {
						select {
						case out <- line:
						case <-ctx.Done():
						}
					}
				}
				return
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	return out
}
