package telemetry

import (
	"bufio"
	"context"
	"io"
	"net"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEngineSocket serves one canned HTTP response over a unix socket and
// records the request line it received.
func fakeEngineSocket(t *testing.T, response string) (string, <-chan string) {
	t.Helper()

	socketPath := filepath.Join(t.TempDir(), "engine.sock")
	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	requestLine := make(chan string, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		reader := bufio.NewReader(conn)
		first := ""
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			if first == "" {
				first = strings.TrimSpace(line)
			}
			if line == "\r\n" {
				break
			}
		}
		requestLine <- first

		conn.Write([]byte(response))
	}()

	return socketPath, requestLine
}

func TestOpenSocketLogsChunked(t *testing.T) {
	response := "HTTP/1.1 200 OK\r\n" +
		"Content-Type: application/vnd.docker.raw-stream\r\n" +
		"Transfer-Encoding: chunked\r\n\r\n" +
		"5\r\nhello\r\n" +
		"6\r\n world\r\n" +
		"0\r\n\r\n"
	socketPath, requestLine := fakeEngineSocket(t, response)

	stream, err := OpenSocketLogs(context.Background(), socketPath, "game-panel-mc", 500)
	require.NoError(t, err)
	defer stream.Close()

	data, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	request := <-requestLine
	assert.Contains(t, request, "GET /containers/game-panel-mc/logs?")
	assert.Contains(t, request, "follow=1")
	assert.Contains(t, request, "timestamps=1")
	assert.Contains(t, request, "tail=500")
}

func TestOpenSocketLogsUnchunked(t *testing.T) {
	response := "HTTP/1.1 200 OK\r\n" +
		"Content-Type: application/vnd.docker.raw-stream\r\n\r\n" +
		"raw bytes"
	socketPath, requestLine := fakeEngineSocket(t, response)

	stream, err := OpenSocketLogs(context.Background(), socketPath, "game-panel-mc", 500)
	require.NoError(t, err)
	defer stream.Close()

	buf := make([]byte, 9)
	_, err = io.ReadFull(stream, buf)
	require.NoError(t, err)
	assert.Equal(t, "raw bytes", string(buf))
	<-requestLine
}

func TestOpenSocketLogsRejectedStatus(t *testing.T) {
	response := "HTTP/1.1 404 Not Found\r\nContent-Length: 0\r\n\r\n"
	socketPath, requestLine := fakeEngineSocket(t, response)

	_, err := OpenSocketLogs(context.Background(), socketPath, "ghost", 500)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected")
	<-requestLine
}

func TestOpenSocketLogsMissingSocket(t *testing.T) {
	_, err := OpenSocketLogs(context.Background(), filepath.Join(t.TempDir(), "absent.sock"), "mc", 500)
	assert.Error(t, err)
}
