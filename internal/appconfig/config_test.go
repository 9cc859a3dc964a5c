package appconfig

import "testing"

func TestDefaultConfigSandboxCaps(t *testing.T) {
	cfg, err := DefaultConfig()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	sb := cfg.Sandbox
	if sb.TimeoutSeconds != 15 || sb.MemoryMB != 128 || sb.CPUs != 0.5 || sb.PidsLimit != 64 {
		t.Fatalf("unexpected sandbox defaults: %+v", sb)
	}
	if sb.Runtime != "containerd" {
		t.Fatalf("runtime = %q", sb.Runtime)
	}
}
