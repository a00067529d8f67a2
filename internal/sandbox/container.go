package sandbox

import (
	"context"
	"time"
)

// NetworkMode is the OS-level network posture of a hardened container
// invocation, independent of the in-isolate Permissions.Network gate.
type NetworkMode string

const (
	NetworkNone   NetworkMode = "none"
	NetworkBridge NetworkMode = "bridge"
	NetworkHost   NetworkMode = "host"
)

// ContainerLimits describes optional OS-level hardening applied around
// an isolate invocation, supplementing goja's in-process heap/timeout
// caps with process-level ones (original_source's r3e-worker runs each
// function inside its own hardened container/cgroup; this package keeps
// that as an optional seam rather than a hard dependency, since the
// teacher's own stack has no container runtime client to adapt).
type ContainerLimits struct {
	MemoryLimitMiB int
	CPUQuota       float64 // fraction of one core, e.g. 0.5
	FilesystemMode string  // "none", "readonly", "readwrite"
	Network        NetworkMode
	// HardStopTimeout must be >= the invocation's wall-clock cap + 1s,
	// per spec.md §4.4's termination guarantee; it is the outer kill
	// switch if the in-process Interrupt somehow fails to unwind.
	HardStopTimeout time.Duration
}

// ContainerRunner is the seam a deployment wires to an actual container
// or VM sandbox (gVisor, Firecracker, runc with seccomp, ...). A nil
// Runner means invocations run in-process under goja's own caps only.
type ContainerRunner interface {
	RunHardened(ctx context.Context, limits ContainerLimits, invoke func(ctx context.Context) *Result) *Result
}

// NoopRunner runs invoke in-process, applying no additional isolation
// beyond what the Executor itself enforces. It is the default when no
// ContainerRunner is configured.
type NoopRunner struct{}

func (NoopRunner) RunHardened(ctx context.Context, limits ContainerLimits, invoke func(ctx context.Context) *Result) *Result {
	hardCtx := ctx
	cancel := func() {}
	if limits.HardStopTimeout > 0 {
		hardCtx, cancel = context.WithTimeout(ctx, limits.HardStopTimeout)
	}
	defer cancel()

	done := make(chan *Result, 1)
	go func() { done <- invoke(hardCtx) }()
	select {
	case res := <-done:
		return res
	case <-hardCtx.Done():
		return &Result{Outcome: OutcomeTimeout, ErrorMessage: "hard stop: container timeout exceeded"}
	}
}
