package sandbox

import (
	"context"
	"io"
	"time"
)

// Runtime runs one-shot containers to completion. Implementations must
// kill the container and clean up its resources when ctx is cancelled,
// returning the ctx error.
type Runtime interface {
	EnsureImage(ctx context.Context, image string) error
	Run(ctx context.Context, spec RunSpec) (RunResult, error)
	Close() error
}

// ResourceCaps sets hard limits for a run (0 means runtime default).
type ResourceCaps struct {
	MemoryBytes int64
	NanoCPUs    int64
	PidsLimit   int64
}

// Mount binds a host directory into the container.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// RunSpec describes a single container run. The container gets no
// network access; the workspace mount is its only view of the host.
type RunSpec struct {
	Name       string
	Image      string
	Command    []string
	WorkingDir string
	Workspace  Mount
	Stdout     io.Writer
	Stderr     io.Writer
	Caps       ResourceCaps
}

// RunResult captures run completion metadata.
type RunResult struct {
	ExitCode int
	Started  time.Time
	Finished time.Time
}
