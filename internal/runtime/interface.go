// Package runtime abstracts the container engine behind a small capability
// set: create, start, stop, inspect, exec, and resource metrics.
// Implementations include Docker and Kubernetes.
package runtime

import (
	"context"
	"time"
)

// ContainerState is the coarse lifecycle state of a container.
type ContainerState string

const (
	StateCreated ContainerState = "created"
	StateRunning ContainerState = "running"
	StateExited  ContainerState = "exited"
	StateUnknown ContainerState = "unknown"
)

// ContainerSpec contains the parameters for creating a container.
type ContainerSpec struct {
	Name   string
	Image  string
	Env    map[string]string
	Ports  []int // host ports to publish, mapped 1:1 into the container
	Labels map[string]string
}

// ContainerInfo is the result of inspecting a container.
type ContainerInfo struct {
	ID        string
	Name      string
	State     ContainerState
	StartedAt time.Time
}

// ExecResult is the outcome of running a command inside a container.
type ExecResult struct {
	ExitCode int
	Output   string
}

// Metrics is a point-in-time resource sample for a container.
type Metrics struct {
	MemoryBytes uint64
	CPUPercent  float64
	SampledAt   time.Time
}

// ContainerRuntime defines the container engine operations the orchestrator
// needs. Every call must honor the passed context's deadline.
type ContainerRuntime interface {
	// Create creates a container from the spec and returns its handle.
	// The container is not started.
	Create(ctx context.Context, spec ContainerSpec) (string, error)

	// Start starts a previously created container.
	Start(ctx context.Context, id string) error

	// Stop stops a running container.
	Stop(ctx context.Context, id string) error

	// Remove deletes a stopped container.
	Remove(ctx context.Context, id string) error

	// Inspect reports the container's current state.
	Inspect(ctx context.Context, id string) (ContainerInfo, error)

	// Exec runs a command inside the container and returns its result.
	Exec(ctx context.Context, id string, cmd []string) (ExecResult, error)

	// Metrics samples the container's resource usage.
	Metrics(ctx context.Context, id string) (Metrics, error)
}
