package bootstrap

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pkt.systems/coderoom/internal/sandbox"
)

func TestImagesCoverAllowedLanguages(t *testing.T) {
	images := Images()
	allowed := sandbox.Languages()
	if len(images) != len(allowed) {
		t.Fatalf("images = %d, allowed languages = %d", len(images), len(allowed))
	}
	for i, lang := range allowed {
		if images[i].Language != lang {
			t.Fatalf("images[%d] = %s, want %s", i, images[i].Language, lang)
		}
		spec, ok := sandbox.Lookup(lang)
		if !ok {
			t.Fatalf("lookup %s failed", lang)
		}
		if images[i].Tag != spec.Image {
			t.Fatalf("tag for %s = %q, want %q", lang, images[i].Tag, spec.Image)
		}
	}
}

func TestWriteBuildContext(t *testing.T) {
	dir := t.TempDir()
	written, err := WriteBuildContext(dir, "podman")
	if err != nil {
		t.Fatalf("WriteBuildContext: %v", err)
	}
	// One Containerfile per language plus the build script.
	if len(written) != len(Images())+1 {
		t.Fatalf("written = %d files", len(written))
	}

	data, err := os.ReadFile(filepath.Join(dir, "Containerfile.python"))
	if err != nil {
		t.Fatalf("read Containerfile.python: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "FROM docker.io/library/python") {
		t.Fatalf("python Containerfile = %q", content)
	}
	if !strings.Contains(content, "USER runner") {
		t.Fatalf("expected unprivileged user, got %q", content)
	}

	script, err := os.ReadFile(filepath.Join(dir, "build.sh"))
	if err != nil {
		t.Fatalf("read build.sh: %v", err)
	}
	for _, spec := range Images() {
		if !strings.Contains(string(script), "podman build -f "+spec.Containerfile+" -t "+spec.Tag) {
			t.Fatalf("build.sh missing %s: %s", spec.Tag, script)
		}
	}
	info, err := os.Stat(filepath.Join(dir, "build.sh"))
	if err != nil {
		t.Fatalf("stat build.sh: %v", err)
	}
	if info.Mode()&0o100 == 0 {
		t.Fatalf("build.sh is not executable: %v", info.Mode())
	}
}
