package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Fake is an in-memory ContainerRuntime used by tests across the
// orchestrator packages. Default behavior keeps a container table and
// succeeds; individual operations can be overridden with the *Fn fields
// to inject failures.
type Fake struct {
	mu         sync.Mutex
	seq        int
	containers map[string]*fakeContainer

	CreateFn  func(ctx context.Context, spec ContainerSpec) (string, error)
	StartFn   func(ctx context.Context, id string) error
	StopFn    func(ctx context.Context, id string) error
	RemoveFn  func(ctx context.Context, id string) error
	InspectFn func(ctx context.Context, id string) (ContainerInfo, error)
	ExecFn    func(ctx context.Context, id string, cmd []string) (ExecResult, error)
	MetricsFn func(ctx context.Context, id string) (Metrics, error)

	CreateCalls int
	ExecCalls   [][]string
}

type fakeContainer struct {
	spec    ContainerSpec
	state   ContainerState
	started time.Time
}

// NewFake creates an empty fake runtime.
func NewFake() *Fake {
	return &Fake{containers: make(map[string]*fakeContainer)}
}

func (f *Fake) Create(ctx context.Context, spec ContainerSpec) (string, error) {
	f.mu.Lock()
	f.CreateCalls++
	fn := f.CreateFn
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, spec)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := fmt.Sprintf("ctr-%d", f.seq)
	f.containers[id] = &fakeContainer{spec: spec, state: StateCreated}
	return id, nil
}

func (f *Fake) Start(ctx context.Context, id string) error {
	if f.StartFn != nil {
		return f.StartFn(ctx, id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return fmt.Errorf("no such container: %s", id)
	}
	c.state = StateRunning
	c.started = time.Now()
	return nil
}

func (f *Fake) Stop(ctx context.Context, id string) error {
	if f.StopFn != nil {
		return f.StopFn(ctx, id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[id]; ok {
		c.state = StateExited
	}
	return nil
}

func (f *Fake) Remove(ctx context.Context, id string) error {
	if f.RemoveFn != nil {
		return f.RemoveFn(ctx, id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.containers, id)
	return nil
}

func (f *Fake) Inspect(ctx context.Context, id string) (ContainerInfo, error) {
	if f.InspectFn != nil {
		return f.InspectFn(ctx, id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return ContainerInfo{}, fmt.Errorf("no such container: %s", id)
	}
	return ContainerInfo{ID: id, Name: c.spec.Name, State: c.state, StartedAt: c.started}, nil
}

func (f *Fake) Exec(ctx context.Context, id string, cmd []string) (ExecResult, error) {
	f.mu.Lock()
	f.ExecCalls = append(f.ExecCalls, append([]string{id}, cmd...))
	fn := f.ExecFn
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, id, cmd)
	}
	return ExecResult{ExitCode: 0}, nil
}

func (f *Fake) Metrics(ctx context.Context, id string) (Metrics, error) {
	if f.MetricsFn != nil {
		return f.MetricsFn(ctx, id)
	}
	return Metrics{MemoryBytes: 64 << 20, CPUPercent: 2.5, SampledAt: time.Now().UTC()}, nil
}

// Exists reports whether the fake still tracks the given container.
func (f *Fake) Exists(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.containers[id]
	return ok
}
