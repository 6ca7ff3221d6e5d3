package dockerapi

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/errdefs"
	"github.com/docker/go-units"

	"github.com/aypapol/gamehost"
)

// Managed game containers carry these labels so the scheduler can tell them
// apart from the panel's own infrastructure containers.
const (
	LabelManaged  = "gamehost.managed"
	LabelServerID = "gamehost.server_id"

	// ComposeProjectLabel marks containers owned by the compose
	// orchestration rather than by the scheduler. ComposeServiceLabel
	// carries the service name within that project.
	ComposeProjectLabel = "com.docker.compose.project"
	ComposeServiceLabel = "com.docker.compose.service"
)

const memoryReservationBytes = 512 * units.MiB

// ContainerSpec holds configuration for creating a game container.
type ContainerSpec struct {
	Name        string
	Image       string
	Env         []string
	Binds       map[string]string // host path -> container path
	Labels      map[string]string
	MemoryBytes int64
	NanoCPUs    int64
}

// ContainerInfo is the lightweight listing entry.
type ContainerInfo struct {
	ID     string
	Name   string
	State  string
	Labels map[string]string
}

// Running reports whether the container's state is running.
func (i ContainerInfo) Running() bool {
	return i.State == "running"
}

// ContainerDetail is the inspected state of a single container.
type ContainerDetail struct {
	ID           string
	Name         string
	Running      bool
	Paused       bool
	ExitCode     int
	RestartCount int
	StartedAt    *time.Time
	TTY          bool
	Labels       map[string]string
}

// ListContainers lists containers, optionally including stopped ones.
func (c *Client) ListContainers(ctx context.Context, includeStopped bool) ([]ContainerInfo, error) {
	containers, err := c.cli.ContainerList(ctx, container.ListOptions{All: includeStopped})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	infos := make([]ContainerInfo, 0, len(containers))
	for _, cnt := range containers {
		name := ""
		if len(cnt.Names) > 0 {
			name = strings.TrimPrefix(cnt.Names[0], "/")
		}
		infos = append(infos, ContainerInfo{
			ID:     cnt.ID,
			Name:   name,
			State:  cnt.State,
			Labels: cnt.Labels,
		})
	}

	return infos, nil
}

// ListByLabel lists containers matching all given label filters.
func (c *Client) ListByLabel(ctx context.Context, labelFilters map[string]string, includeStopped bool) ([]ContainerInfo, error) {
	filterArgs := filters.NewArgs()
	for key, value := range labelFilters {
		filterArgs.Add("label", fmt.Sprintf("%s=%s", key, value))
	}

	containers, err := c.cli.ContainerList(ctx, container.ListOptions{
		All:     includeStopped,
		Filters: filterArgs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	infos := make([]ContainerInfo, 0, len(containers))
	for _, cnt := range containers {
		name := ""
		if len(cnt.Names) > 0 {
			name = strings.TrimPrefix(cnt.Names[0], "/")
		}
		infos = append(infos, ContainerInfo{
			ID:     cnt.ID,
			Name:   name,
			State:  cnt.State,
			Labels: cnt.Labels,
		})
	}

	return infos, nil
}

// Inspect returns the detailed state of a container by name or ID.
func (c *Client) Inspect(ctx context.Context, name string) (*ContainerDetail, error) {
	info, err := c.cli.ContainerInspect(ctx, name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, fmt.Errorf("container %s: %w", name, gamehost.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to inspect container %s: %w", name, err)
	}

	detail := &ContainerDetail{
		ID:           info.ID,
		Name:         strings.TrimPrefix(info.Name, "/"),
		Running:      info.State.Running,
		Paused:       info.State.Paused,
		ExitCode:     info.State.ExitCode,
		RestartCount: info.RestartCount,
		TTY:          info.Config.Tty,
		Labels:       info.Config.Labels,
	}

	if info.State.StartedAt != "" {
		if startedAt, err := time.Parse(time.RFC3339Nano, info.State.StartedAt); err == nil {
			detail.StartedAt = &startedAt
		}
	}

	return detail, nil
}

// Create creates a game container. Game containers use host networking (the
// game binds its own port on the host), an unless-stopped restart policy, a
// 512 MiB memory reservation under the configured limit, and rotated
// json-file logs so a chatty server cannot fill the disk.
func (c *Client) Create(ctx context.Context, spec ContainerSpec) (string, error) {
	mounts := make([]mount.Mount, 0, len(spec.Binds))
	for hostPath, containerPath := range spec.Binds {
		mounts = append(mounts, mount.Mount{
			Type:   mount.TypeBind,
			Source: hostPath,
			Target: containerPath,
		})
	}

	containerConfig := &container.Config{
		Image:  spec.Image,
		Env:    spec.Env,
		Labels: spec.Labels,
	}

	hostConfig := &container.HostConfig{
		NetworkMode:   "host",
		Mounts:        mounts,
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyUnlessStopped},
		LogConfig: container.LogConfig{
			Type: "json-file",
			Config: map[string]string{
				"max-size": "50m",
				"max-file": "3",
			},
		},
		Resources: container.Resources{
			Memory:            spec.MemoryBytes,
			MemoryReservation: memoryReservationBytes,
			NanoCPUs:          spec.NanoCPUs,
		},
	}

	resp, err := c.cli.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}

	return resp.ID, nil
}

// Start starts a container.
func (c *Client) Start(ctx context.Context, name string) error {
	return c.cli.ContainerStart(ctx, name, container.StartOptions{})
}

// Stop stops a container with the given grace period.
func (c *Client) Stop(ctx context.Context, name string, graceSeconds int) error {
	return c.cli.ContainerStop(ctx, name, container.StopOptions{Timeout: &graceSeconds})
}

// Restart restarts a container with the given grace period.
func (c *Client) Restart(ctx context.Context, name string, graceSeconds int) error {
	return c.cli.ContainerRestart(ctx, name, container.StopOptions{Timeout: &graceSeconds})
}

// Pause freezes all processes in a container.
func (c *Client) Pause(ctx context.Context, name string) error {
	return c.cli.ContainerPause(ctx, name)
}

// Unpause resumes a paused container.
func (c *Client) Unpause(ctx context.Context, name string) error {
	return c.cli.ContainerUnpause(ctx, name)
}

// Remove removes a container.
func (c *Client) Remove(ctx context.Context, name string, force bool) error {
	return c.cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: force})
}

// PullImage pulls an image, blocking until the pull completes. Pull errors
// abort a Start transition, so the progress stream is fully drained to
// surface them.
func (c *Client) PullImage(ctx context.Context, ref string) error {
	reader, err := c.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	defer reader.Close()

	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to read pull progress for %s: %w", ref, err)
	}

	return nil
}

// Logs returns the raw log stream of a container. For non-TTY containers the
// stream is multiplexed with the engine's 8-byte frame headers; the telemetry
// fabric decodes it.
func (c *Client) Logs(ctx context.Context, name string, follow bool, tail string, timestamps bool) (io.ReadCloser, error) {
	return c.cli.ContainerLogs(ctx, name, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     follow,
		Tail:       tail,
		Timestamps: timestamps,
	})
}

// Stats returns the engine's stats stream for a container: newline-delimited
// JSON objects.
func (c *Client) Stats(ctx context.Context, name string, stream bool) (io.ReadCloser, error) {
	resp, err := c.cli.ContainerStats(ctx, name, stream)
	if err != nil {
		return nil, fmt.Errorf("failed to open stats stream for %s: %w", name, err)
	}
	return resp.Body, nil
}
