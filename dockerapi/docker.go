// Package dockerapi wraps the Docker engine client with the typed operations
// the control plane needs: container lifecycle, image pulls and the raw log
// and stats streams consumed by the telemetry fabric.
package dockerapi

import (
	"context"
	"fmt"

	"github.com/docker/docker/client"
)

// Client wraps the Docker client with additional functionality.
type Client struct {
	cli        *client.Client
	socketPath string
}

// NewClient creates a new Docker client from the socket path.
func NewClient(socketPath string) (*Client, error) {
	if socketPath == "" {
		socketPath = "/var/run/docker.sock"
	}

	cli, err := client.NewClientWithOpts(
		client.WithHost(fmt.Sprintf("unix://%s", socketPath)),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	ctx := context.Background()
	if _, err := cli.Ping(ctx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("failed to ping Docker daemon: %w", err)
	}

	return &Client{cli: cli, socketPath: socketPath}, nil
}

// Close closes the Docker client connection.
func (c *Client) Close() error {
	return c.cli.Close()
}

// SocketPath returns the engine socket path the client was created with.
func (c *Client) SocketPath() string {
	return c.socketPath
}
