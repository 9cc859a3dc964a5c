// Package bootstrap emits the build context for the language runner
// images the sandbox expects. The images are plain upstream toolchain
// images with an unprivileged user; nothing coderoom-specific runs
// inside them.
package bootstrap

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"text/template"

	"pkt.systems/coderoom/schema"
)

// ImageSpec describes one language runner image build.
type ImageSpec struct {
	Language      schema.Language
	Tag           string
	Containerfile string
	Base          string
	Run           []string
	BusyBox       bool
}

// runnerImages pins the upstream bases per language. Alpine bases use
// the busybox adduser flags.
var runnerImages = map[schema.Language]ImageSpec{
	"javascript": {Base: "docker.io/library/node:22-alpine", BusyBox: true},
	"python":     {Base: "docker.io/library/python:3.12-alpine", BusyBox: true},
	"java":       {Base: "docker.io/library/eclipse-temurin:21-jdk-alpine", BusyBox: true},
	"cpp":        {Base: "docker.io/library/gcc:14"},
	"c":          {Base: "docker.io/library/gcc:14"},
	"go":         {Base: "docker.io/library/golang:1.25-alpine", BusyBox: true},
}

// Images returns the build specs sorted by language.
func Images() []ImageSpec {
	out := make([]ImageSpec, 0, len(runnerImages))
	for lang, spec := range runnerImages {
		spec.Language = lang
		spec.Tag = fmt.Sprintf("code-runner-%s:latest", lang)
		spec.Containerfile = fmt.Sprintf("Containerfile.%s", lang)
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Language < out[j].Language })
	return out
}

// WriteBuildContext renders the Containerfiles and a build script into
// dir. Engine names the build tool invoked by the script, typically
// "podman" or "nerdctl".
func WriteBuildContext(dir, engine string) ([]string, error) {
	if engine == "" {
		engine = "podman"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	containerfileTmpl, err := loadTemplate("templates/runner.Containerfile.tmpl")
	if err != nil {
		return nil, err
	}
	buildTmpl, err := loadTemplate("templates/build.sh.tmpl")
	if err != nil {
		return nil, err
	}

	images := Images()
	written := make([]string, 0, len(images)+1)
	for _, spec := range images {
		var buf bytes.Buffer
		if err := containerfileTmpl.Execute(&buf, spec); err != nil {
			return nil, fmt.Errorf("render %s: %w", spec.Containerfile, err)
		}
		path := filepath.Join(dir, spec.Containerfile)
		if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
			return nil, err
		}
		written = append(written, path)
	}

	var buf bytes.Buffer
	if err := buildTmpl.Execute(&buf, struct {
		Engine string
		Images []ImageSpec
	}{Engine: engine, Images: images}); err != nil {
		return nil, fmt.Errorf("render build script: %w", err)
	}
	scriptPath := filepath.Join(dir, "build.sh")
	if err := os.WriteFile(scriptPath, buf.Bytes(), 0o755); err != nil {
		return nil, err
	}
	written = append(written, scriptPath)
	return written, nil
}

func loadTemplate(path string) (*template.Template, error) {
	data, err := readEmbeddedFile(path)
	if err != nil {
		return nil, err
	}
	return template.New(filepath.Base(path)).Parse(string(data))
}
