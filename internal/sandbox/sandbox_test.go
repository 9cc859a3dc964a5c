package sandbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"pkt.systems/coderoom/schema"
)

// fakeRuntime scripts container outcomes per phase.
type fakeRuntime struct {
	mu      sync.Mutex
	runs    []RunSpec
	outcome func(spec RunSpec) (RunResult, error)
}

func (f *fakeRuntime) EnsureImage(ctx context.Context, image string) error { return nil }

func (f *fakeRuntime) Run(ctx context.Context, spec RunSpec) (RunResult, error) {
	f.mu.Lock()
	f.runs = append(f.runs, spec)
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return RunResult{}, err
	}
	if f.outcome != nil {
		return f.outcome(spec)
	}
	return RunResult{ExitCode: 0}, nil
}

func (f *fakeRuntime) Close() error { return nil }

func newTestSandbox(t *testing.T, rt Runtime) *Service {
	t.Helper()
	svc, err := New(context.Background(), Config{WorkspaceRoot: t.TempDir()}, rt)
	if err != nil {
		t.Fatalf("new sandbox: %v", err)
	}
	return svc
}

func TestExecuteSuccess(t *testing.T) {
	rt := &fakeRuntime{outcome: func(spec RunSpec) (RunResult, error) {
		if _, err := spec.Stdout.Write([]byte("hello\n")); err != nil {
			t.Fatalf("stdout: %v", err)
		}
		return RunResult{ExitCode: 0}, nil
	}}
	svc := newTestSandbox(t, rt)

	res, err := svc.Execute(context.Background(), schema.ExecutionRequest{
		Code:     "console.log('hello')",
		Language: "javascript",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Status != schema.ExecOK || res.ExitCode != 0 {
		t.Fatalf("result = %+v", res)
	}
	if res.Stdout != "hello\n" {
		t.Fatalf("stdout = %q", res.Stdout)
	}
	if len(rt.runs) != 1 {
		t.Fatalf("runs = %d, want 1 (interpreted language)", len(rt.runs))
	}
	run := rt.runs[0]
	if run.Image != "code-runner-javascript:latest" {
		t.Fatalf("image = %q", run.Image)
	}
	if run.Command[0] != "node" || !strings.HasSuffix(run.Command[1], "/main.js") {
		t.Fatalf("command = %v", run.Command)
	}
	if run.Caps.MemoryBytes != 128<<20 || run.Caps.NanoCPUs != 500_000_000 || run.Caps.PidsLimit != 64 {
		t.Fatalf("caps = %+v", run.Caps)
	}
}

func TestExecuteUnsupportedLanguage(t *testing.T) {
	svc := newTestSandbox(t, &fakeRuntime{})
	_, err := svc.Execute(context.Background(), schema.ExecutionRequest{Code: "x", Language: "brainfuck"})
	if !errors.Is(err, schema.ErrUnsupportedLanguage) {
		t.Fatalf("err = %v, want ErrUnsupportedLanguage", err)
	}
}

func TestExecuteNonZeroExit(t *testing.T) {
	rt := &fakeRuntime{outcome: func(spec RunSpec) (RunResult, error) {
		if _, err := spec.Stderr.Write([]byte("boom\n")); err != nil {
			t.Fatalf("stderr: %v", err)
		}
		return RunResult{ExitCode: 3}, nil
	}}
	svc := newTestSandbox(t, rt)

	res, err := svc.Execute(context.Background(), schema.ExecutionRequest{Code: "raise SystemExit(3)", Language: "python"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Status != schema.ExecNonZeroExit || res.ExitCode != 3 {
		t.Fatalf("result = %+v", res)
	}
	if res.Stderr != "boom\n" {
		t.Fatalf("stderr = %q", res.Stderr)
	}
}

func TestExecuteTimeout(t *testing.T) {
	rt := &fakeRuntime{outcome: func(spec RunSpec) (RunResult, error) {
		return RunResult{}, context.DeadlineExceeded
	}}
	svc, err := New(context.Background(), Config{WorkspaceRoot: t.TempDir(), Timeout: 50 * time.Millisecond}, rt)
	if err != nil {
		t.Fatalf("new sandbox: %v", err)
	}

	res, err := svc.Execute(context.Background(), schema.ExecutionRequest{Code: "while(1){}", Language: "javascript"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Status != schema.ExecTimeout {
		t.Fatalf("status = %q, want timeout", res.Status)
	}
	if res.ExitCode != -1 {
		t.Fatalf("exit code = %d", res.ExitCode)
	}
}

func TestExecuteSetupFailure(t *testing.T) {
	rt := &fakeRuntime{outcome: func(spec RunSpec) (RunResult, error) {
		return RunResult{}, errors.New("image missing")
	}}
	svc := newTestSandbox(t, rt)

	res, err := svc.Execute(context.Background(), schema.ExecutionRequest{Code: "x", Language: "python"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Status != schema.ExecSetupFailure {
		t.Fatalf("status = %q, want setup-failure", res.Status)
	}
	if !strings.Contains(res.Stderr, "image missing") {
		t.Fatalf("stderr = %q", res.Stderr)
	}
}

func TestExecuteCompileThenRun(t *testing.T) {
	rt := &fakeRuntime{}
	svc := newTestSandbox(t, rt)

	res, err := svc.Execute(context.Background(), schema.ExecutionRequest{Code: "int main(){}", Language: "c"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Status != schema.ExecOK {
		t.Fatalf("status = %q", res.Status)
	}
	if len(rt.runs) != 2 {
		t.Fatalf("runs = %d, want compile + run", len(rt.runs))
	}
	compile := rt.runs[0]
	if compile.Command[0] != "gcc" {
		t.Fatalf("compile command = %v", compile.Command)
	}
	run := rt.runs[1]
	if run.Command[0] != "/work/prog" {
		t.Fatalf("run command = %v", run.Command)
	}
	// Both phases share the same workspace mount.
	if compile.Workspace.Source != run.Workspace.Source {
		t.Fatalf("workspace differs: %q vs %q", compile.Workspace.Source, run.Workspace.Source)
	}
}

func TestExecuteCompileErrorSkipsRun(t *testing.T) {
	rt := &fakeRuntime{outcome: func(spec RunSpec) (RunResult, error) {
		if _, err := spec.Stderr.Write([]byte("main.cpp:1: error\n")); err != nil {
			t.Fatalf("stderr: %v", err)
		}
		return RunResult{ExitCode: 1}, nil
	}}
	svc := newTestSandbox(t, rt)

	res, err := svc.Execute(context.Background(), schema.ExecutionRequest{Code: "int main(", Language: "cpp"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Status != schema.ExecNonZeroExit || res.ExitCode != 1 {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(res.Stderr, "error") {
		t.Fatalf("stderr = %q", res.Stderr)
	}
	if len(rt.runs) != 1 {
		t.Fatalf("runs = %d, want compile only", len(rt.runs))
	}
}

func TestExecuteStdinRedirect(t *testing.T) {
	var stdinData []byte
	rt := &fakeRuntime{outcome: func(spec RunSpec) (RunResult, error) {
		data, err := os.ReadFile(filepath.Join(spec.Workspace.Source, stdinFile))
		if err != nil {
			t.Fatalf("stdin file: %v", err)
		}
		stdinData = data
		return RunResult{ExitCode: 0}, nil
	}}
	svc := newTestSandbox(t, rt)

	if _, err := svc.Execute(context.Background(), schema.ExecutionRequest{
		Code:     "print(input())",
		Language: "python",
		Stdin:    "42\n",
	}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	run := rt.runs[0]
	if run.Command[0] != "sh" || run.Command[1] != "-c" {
		t.Fatalf("command not wrapped: %v", run.Command)
	}
	// Submitted argv stays positional after the wrapper.
	if run.Command[4] != "python3" {
		t.Fatalf("command = %v", run.Command)
	}
	if string(stdinData) != "42\n" {
		t.Fatalf("stdin file = %q", stdinData)
	}
}

func TestExecuteCleansWorkspace(t *testing.T) {
	root := t.TempDir()
	rt := &fakeRuntime{outcome: func(spec RunSpec) (RunResult, error) {
		// Entry file is present while the run is live.
		if _, err := os.Stat(filepath.Join(spec.Workspace.Source, "main.py")); err != nil {
			t.Fatalf("entry file missing during run: %v", err)
		}
		return RunResult{ExitCode: 1}, nil
	}}
	svc, err := New(context.Background(), Config{WorkspaceRoot: root}, rt)
	if err != nil {
		t.Fatalf("new sandbox: %v", err)
	}

	if _, err := svc.Execute(context.Background(), schema.ExecutionRequest{Code: "x", Language: "python"}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("read root: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("workspace left behind: %v", entries)
	}
}

func TestExecuteOutputTruncated(t *testing.T) {
	rt := &fakeRuntime{outcome: func(spec RunSpec) (RunResult, error) {
		chunk := strings.Repeat("a", 64<<10)
		for i := 0; i < 32; i++ {
			if _, err := spec.Stdout.Write([]byte(chunk)); err != nil {
				t.Fatalf("stdout: %v", err)
			}
		}
		return RunResult{ExitCode: 0}, nil
	}}
	svc := newTestSandbox(t, rt)

	res, err := svc.Execute(context.Background(), schema.ExecutionRequest{Code: "spam", Language: "javascript"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(res.Stdout) > maxOutputBytes+64 {
		t.Fatalf("stdout not capped: %d bytes", len(res.Stdout))
	}
	if !strings.HasSuffix(res.Stdout, "[output truncated]") {
		t.Fatal("missing truncation marker")
	}
}

func TestExecuteConcurrentRunsIsolated(t *testing.T) {
	// Echo each workspace's entry file back, so mixed-up workspaces or
	// shared output buffers would surface as wrong stdout.
	rt := &fakeRuntime{outcome: func(spec RunSpec) (RunResult, error) {
		data, err := os.ReadFile(filepath.Join(spec.Workspace.Source, "main.py"))
		if err != nil {
			return RunResult{}, err
		}
		if _, err := spec.Stdout.Write(data); err != nil {
			return RunResult{}, err
		}
		return RunResult{ExitCode: 0}, nil
	}}
	svc := newTestSandbox(t, rt)

	codes := []string{"print('one')", "print('two')"}
	results := make([]schema.ExecutionResult, len(codes))
	errs := make([]error, len(codes))
	var wg sync.WaitGroup
	for i, code := range codes {
		wg.Add(1)
		go func(i int, code string) {
			defer wg.Done()
			results[i], errs[i] = svc.Execute(context.Background(), schema.ExecutionRequest{Code: code, Language: "python"})
		}(i, code)
	}
	wg.Wait()

	for i, code := range codes {
		if errs[i] != nil {
			t.Fatalf("execute %d: %v", i, errs[i])
		}
		if results[i].Status != schema.ExecOK {
			t.Fatalf("result %d = %+v", i, results[i])
		}
		if results[i].Stdout != code {
			t.Fatalf("stdout %d = %q, want %q", i, results[i].Stdout, code)
		}
	}
	if len(rt.runs) != 2 {
		t.Fatalf("runs = %d", len(rt.runs))
	}
	if rt.runs[0].Workspace.Source == rt.runs[1].Workspace.Source {
		t.Fatalf("runs shared workspace %q", rt.runs[0].Workspace.Source)
	}
}

func TestImageOverride(t *testing.T) {
	rt := &fakeRuntime{}
	svc, err := New(context.Background(), Config{
		WorkspaceRoot: t.TempDir(),
		Images:        map[schema.Language]string{"python": "registry.local/py:3.12"},
	}, rt)
	if err != nil {
		t.Fatalf("new sandbox: %v", err)
	}
	if _, err := svc.Execute(context.Background(), schema.ExecutionRequest{Code: "x", Language: "python"}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if rt.runs[0].Image != "registry.local/py:3.12" {
		t.Fatalf("image = %q", rt.runs[0].Image)
	}
}
