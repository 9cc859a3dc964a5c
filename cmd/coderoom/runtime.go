package main

import (
	"context"
	"fmt"
	"time"

	"pkt.systems/coderoom/internal/appconfig"
	"pkt.systems/coderoom/internal/sandbox"
	"pkt.systems/coderoom/internal/sandbox/containerd"
	"pkt.systems/coderoom/internal/sandbox/podman"
)

func selectRuntime(ctx context.Context, cfg appconfig.SandboxConfig) (sandbox.Runtime, func() error, error) {
	switch cfg.Runtime {
	case "podman":
		rt, err := podman.New(ctx, podman.Config{
			Address:     cfg.Podman.Address,
			UserNSMode:  cfg.Podman.UserNSMode,
			PullTimeout: time.Duration(cfg.PullTimeoutMinutes) * time.Minute,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("podman connection failed (%s): %w", cfg.Podman.Address, err)
		}
		return rt, rt.Close, nil
	case "containerd":
		rt, err := containerd.New(ctx, containerd.Config{
			Address:     cfg.Containerd.Address,
			Namespace:   cfg.Containerd.Namespace,
			PullTimeout: time.Duration(cfg.PullTimeoutMinutes) * time.Minute,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("containerd connection failed (%s): %w", cfg.Containerd.Address, err)
		}
		return rt, rt.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported sandbox.runtime %q", cfg.Runtime)
	}
}

func newSandboxService(ctx context.Context, cfg appconfig.SandboxConfig, rt sandbox.Runtime) (*sandbox.Service, error) {
	return sandbox.New(ctx, sandbox.Config{
		WorkspaceRoot: cfg.WorkspaceRoot,
		Timeout:       time.Duration(cfg.TimeoutSeconds) * time.Second,
		MemoryBytes:   int64(cfg.MemoryMB) << 20,
		NanoCPUs:      int64(cfg.CPUs * 1e9),
		PidsLimit:     int64(cfg.PidsLimit),
		Images:        toImageOverrides(cfg.Images),
	}, rt)
}
