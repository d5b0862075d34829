package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

// DockerRuntime implements ContainerRuntime using the Docker SDK.
type DockerRuntime struct {
	client *client.Client
}

// NewDockerRuntime creates a new Docker-based runtime.
func NewDockerRuntime() (*DockerRuntime, error) {
	// Initializes client from standard environment variables (DOCKER_HOST, etc.)
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return &DockerRuntime{client: cli}, nil
}

// Create implements ContainerRuntime.Create. The image is pulled if it is
// not present locally.
func (d *DockerRuntime) Create(ctx context.Context, spec ContainerSpec) (string, error) {
	if _, _, err := d.client.ImageInspectWithRaw(ctx, spec.Image); err != nil {
		reader, err := d.client.ImagePull(ctx, spec.Image, image.PullOptions{})
		if err != nil {
			return "", fmt.Errorf("failed to pull image %s: %w", spec.Image, err)
		}
		defer reader.Close()
		io.Copy(io.Discard, reader)
	}

	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, p := range spec.Ports {
		port := nat.Port(fmt.Sprintf("%d/tcp", p))
		exposed[port] = struct{}{}
		bindings[port] = []nat.PortBinding{{
			HostIP:   "127.0.0.1",
			HostPort: strconv.Itoa(p),
		}}
	}

	resp, err := d.client.ContainerCreate(ctx,
		&container.Config{
			Image:        spec.Image,
			Env:          envList(spec.Env),
			Labels:       spec.Labels,
			ExposedPorts: exposed,
		},
		&container.HostConfig{
			PortBindings:  bindings,
			RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyUnlessStopped},
		},
		nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("failed to create container %s: %w", spec.Name, err)
	}
	return resp.ID, nil
}

// Start implements ContainerRuntime.Start.
func (d *DockerRuntime) Start(ctx context.Context, id string) error {
	if err := d.client.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container %s: %w", id, err)
	}
	return nil
}

// Stop implements ContainerRuntime.Stop.
func (d *DockerRuntime) Stop(ctx context.Context, id string) error {
	timeout := 10
	if err := d.client.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("failed to stop container %s: %w", id, err)
	}
	return nil
}

// Remove implements ContainerRuntime.Remove.
func (d *DockerRuntime) Remove(ctx context.Context, id string) error {
	if err := d.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("failed to remove container %s: %w", id, err)
	}
	return nil
}

// Inspect implements ContainerRuntime.Inspect.
func (d *DockerRuntime) Inspect(ctx context.Context, id string) (ContainerInfo, error) {
	resp, err := d.client.ContainerInspect(ctx, id)
	if err != nil {
		return ContainerInfo{}, fmt.Errorf("failed to inspect container %s: %w", id, err)
	}

	info := ContainerInfo{
		ID:    resp.ID,
		Name:  resp.Name,
		State: StateUnknown,
	}
	if resp.State != nil {
		switch {
		case resp.State.Running:
			info.State = StateRunning
		case resp.State.Status == "created":
			info.State = StateCreated
		case resp.State.Status == "exited" || resp.State.Status == "dead":
			info.State = StateExited
		}
		if t, err := time.Parse(time.RFC3339Nano, resp.State.StartedAt); err == nil {
			info.StartedAt = t
		}
	}
	return info, nil
}

// Exec implements ContainerRuntime.Exec. The command runs attached so the
// caller gets both the exit code and the combined output.
func (d *DockerRuntime) Exec(ctx context.Context, id string, cmd []string) (ExecResult, error) {
	created, err := d.client.ContainerExecCreate(ctx, id, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          true,
	})
	if err != nil {
		return ExecResult{}, fmt.Errorf("failed to create exec in %s: %w", id, err)
	}

	attach, err := d.client.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{Tty: true})
	if err != nil {
		return ExecResult{}, fmt.Errorf("failed to attach exec in %s: %w", id, err)
	}
	defer attach.Close()

	output, err := io.ReadAll(attach.Reader)
	if err != nil {
		return ExecResult{}, fmt.Errorf("failed to read exec output: %w", err)
	}

	inspect, err := d.client.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return ExecResult{}, fmt.Errorf("failed to inspect exec: %w", err)
	}

	return ExecResult{ExitCode: inspect.ExitCode, Output: string(output)}, nil
}

// Metrics implements ContainerRuntime.Metrics with a one-shot stats sample.
func (d *DockerRuntime) Metrics(ctx context.Context, id string) (Metrics, error) {
	resp, err := d.client.ContainerStatsOneShot(ctx, id)
	if err != nil {
		return Metrics{}, fmt.Errorf("failed to sample stats for %s: %w", id, err)
	}
	defer resp.Body.Close()

	var stats container.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return Metrics{}, fmt.Errorf("failed to decode stats for %s: %w", id, err)
	}

	return Metrics{
		MemoryBytes: stats.MemoryStats.Usage,
		CPUPercent:  cpuPercent(&stats),
		SampledAt:   time.Now().UTC(),
	}, nil
}

// cpuPercent computes the usual Docker CPU percentage from consecutive
// cpu/system deltas. One-shot samples without a previous reading yield 0.
func cpuPercent(stats *container.StatsResponse) float64 {
	cpuDelta := float64(stats.CPUStats.CPUUsage.TotalUsage) - float64(stats.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(stats.CPUStats.SystemUsage) - float64(stats.PreCPUStats.SystemUsage)
	if cpuDelta <= 0 || systemDelta <= 0 {
		return 0
	}
	online := float64(stats.CPUStats.OnlineCPUs)
	if online == 0 {
		online = float64(len(stats.CPUStats.CPUUsage.PercpuUsage))
	}
	return (cpuDelta / systemDelta) * online * 100.0
}

func envList(m map[string]string) []string {
	var env []string
	for k, v := range m {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}
