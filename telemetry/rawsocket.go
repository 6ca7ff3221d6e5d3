package telemetry

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http/httputil"
	"net/textproto"
	"net/url"
	"strings"
)

// socketLogStream is a raw log stream read straight off the engine's unix
// socket, bypassing the SDK. Closing it tears down the underlying connection.
type socketLogStream struct {
	conn net.Conn
	body io.Reader
}

func (s *socketLogStream) Read(p []byte) (int, error) { return s.body.Read(p) }
func (s *socketLogStream) Close() error               { return s.conn.Close() }

// OpenSocketLogs dials the engine socket directly and issues a follow-mode
// logs request for the named container. The SDK buffers follow streams
// aggressively; reading the chunked response off the socket keeps lines
// flowing as they are written.
func OpenSocketLogs(ctx context.Context, socketPath, containerName string, tail int) (io.ReadCloser, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to dial engine socket: %w", err)
	}

	query := url.Values{}
	query.Set("follow", "1")
	query.Set("stdout", "1")
	query.Set("stderr", "1")
	query.Set("timestamps", "1")
	query.Set("tail", fmt.Sprintf("%d", tail))

	request := fmt.Sprintf(
		"GET /containers/%s/logs?%s HTTP/1.1\r\nHost: localhost\r\nConnection: keep-alive\r\n\r\n",
		url.PathEscape(containerName), query.Encode(),
	)
	if _, err := conn.Write([]byte(request)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to write logs request: %w", err)
	}

	reader := bufio.NewReader(conn)
	tp := textproto.NewReader(reader)

	statusLine, err := tp.ReadLine()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to read response status: %w", err)
	}
	if !strings.Contains(statusLine, " 200 ") {
		conn.Close()
		return nil, fmt.Errorf("engine rejected logs request: %s", statusLine)
	}

	headers, err := tp.ReadMIMEHeader()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to read response headers: %w", err)
	}

	var body io.Reader = reader
	if strings.EqualFold(headers.Get("Transfer-Encoding"), "chunked") {
		body = httputil.NewChunkedReader(reader)
	}

	return &socketLogStream{conn: conn, body: body}, nil
}
