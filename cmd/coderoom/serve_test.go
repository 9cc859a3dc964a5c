package main

import (
	"testing"
	"time"

	"pkt.systems/coderoom/internal/appconfig"
)

func TestToSandboxConfigUnits(t *testing.T) {
	cfg := toSandboxConfig(appconfig.SandboxConfig{
		Runtime:            "containerd",
		WorkspaceRoot:      "/tmp/ws",
		TimeoutSeconds:     15,
		MemoryMB:           128,
		CPUs:               0.5,
		PidsLimit:          64,
		PullTimeoutMinutes: 5,
		Images:             map[string]string{"Python": "custom/python:v1"},
	})
	if cfg.Timeout != 15*time.Second {
		t.Fatalf("timeout = %v", cfg.Timeout)
	}
	if cfg.MemoryBytes != 128<<20 {
		t.Fatalf("memory = %d", cfg.MemoryBytes)
	}
	if cfg.NanoCPUs != 500_000_000 {
		t.Fatalf("nano cpus = %d", cfg.NanoCPUs)
	}
	if cfg.PidsLimit != 64 {
		t.Fatalf("pids = %d", cfg.PidsLimit)
	}
	if cfg.PullTimeout != 5*time.Minute {
		t.Fatalf("pull timeout = %v", cfg.PullTimeout)
	}
	// Image override keys are normalized language tags.
	if cfg.Images["python"] != "custom/python:v1" {
		t.Fatalf("images = %v", cfg.Images)
	}
}
