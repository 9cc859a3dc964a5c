// Package sandbox executes untrusted code submissions in disposable
// containers. Each run gets a fresh workspace directory, a container
// with no network access and hard resource caps, and a deadline that
// covers compilation and execution together.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pkt.systems/coderoom/schema"
	"pkt.systems/pslog"
)

const (
	defaultTimeout     = 15 * time.Second
	defaultMemoryBytes = 128 << 20
	defaultNanoCPUs    = 500_000_000
	defaultPidsLimit   = 64
	defaultNamePrefix  = "coderoom-run"
	containerWorkDir   = "/work"
	stdinFile          = ".stdin"
	maxOutputBytes     = 1 << 20
)

// Config configures the execution service.
type Config struct {
	WorkspaceRoot string
	Timeout       time.Duration
	MemoryBytes   int64
	NanoCPUs      int64
	PidsLimit     int64
	NamePrefix    string
	Images        map[schema.Language]string
}

// Service runs code submissions through a container Runtime.
type Service struct {
	cfg    Config
	rt     Runtime
	ws     *workspaceManager
	logger pslog.Logger
}

// New constructs the execution service.
func New(ctx context.Context, cfg Config, rt Runtime) (*Service, error) {
	if rt == nil {
		return nil, errors.New("container runtime is required")
	}
	if strings.TrimSpace(cfg.WorkspaceRoot) == "" {
		return nil, errors.New("workspace root is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MemoryBytes <= 0 {
		cfg.MemoryBytes = defaultMemoryBytes
	}
	if cfg.NanoCPUs <= 0 {
		cfg.NanoCPUs = defaultNanoCPUs
	}
	if cfg.PidsLimit <= 0 {
		cfg.PidsLimit = defaultPidsLimit
	}
	if cfg.NamePrefix == "" {
		cfg.NamePrefix = defaultNamePrefix
	}
	ws, err := newWorkspaceManager(cfg.WorkspaceRoot)
	if err != nil {
		return nil, err
	}
	return &Service{cfg: cfg, rt: rt, ws: ws, logger: pslog.Ctx(ctx)}, nil
}

// Languages returns the execution allow list.
func (s *Service) Languages() []schema.Language { return Languages() }

// EnsureImages pulls every allow-listed language image.
func (s *Service) EnsureImages(ctx context.Context) error {
	for _, name := range Languages() {
		lang := languages[name]
		if err := s.rt.EnsureImage(ctx, s.imageFor(lang)); err != nil {
			return fmt.Errorf("image for %s: %w", name, err)
		}
	}
	return nil
}

// Close releases the underlying runtime.
func (s *Service) Close() error { return s.rt.Close() }

// Execute runs one code submission to completion. A language outside the
// allow list is the only error path; everything that happens after
// admission is reported in the result status:
//
//	ok             the program exited zero
//	nonzero-exit   compile or run exited nonzero
//	timeout        the deadline expired and the container was killed
//	setup-failure  workspace or container plumbing failed
func (s *Service) Execute(ctx context.Context, req schema.ExecutionRequest) (schema.ExecutionResult, error) {
	lang, ok := Lookup(req.Language)
	if !ok {
		return schema.ExecutionResult{}, fmt.Errorf("%w: %q", schema.ErrUnsupportedLanguage, req.Language)
	}
	log := pslog.Ctx(ctx).With("language", lang.Name, "user", req.UserID)
	started := time.Now()

	ws, err := s.ws.Create()
	if err != nil {
		log.Warn("sandbox workspace create failed", "err", err)
		return setupFailure(err, time.Since(started)), nil
	}
	defer func() {
		if err := ws.Remove(); err != nil {
			log.Warn("sandbox workspace remove failed", "err", err, "dir", ws.Dir())
		}
	}()
	log = log.With("workspace", ws.ID())

	if err := ws.WriteFile(lang.Entry, []byte(req.Code)); err != nil {
		log.Warn("sandbox entry write failed", "err", err)
		return setupFailure(err, time.Since(started)), nil
	}
	if req.Stdin != "" {
		if err := ws.WriteFile(stdinFile, []byte(req.Stdin)); err != nil {
			log.Warn("sandbox stdin write failed", "err", err)
			return setupFailure(err, time.Since(started)), nil
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	if lang.Compiled() {
		stdout := newCapWriter(maxOutputBytes)
		stderr := newCapWriter(maxOutputBytes)
		argv := expandCommand(lang.Compile, containerWorkDir, lang.Entry)
		res, err := s.runOnce(runCtx, lang, ws, "compile", argv, stdout, stderr)
		if err != nil {
			return s.classifyFailure(log, "compile", err, stdout, stderr, time.Since(started)), nil
		}
		if res.ExitCode != 0 {
			log.Info("sandbox compile rejected", "exit_code", res.ExitCode)
			return schema.ExecutionResult{
				Status:   schema.ExecNonZeroExit,
				Stdout:   stdout.String(),
				Stderr:   stderr.String(),
				ExitCode: res.ExitCode,
				Duration: time.Since(started),
			}, nil
		}
	}

	stdout := newCapWriter(maxOutputBytes)
	stderr := newCapWriter(maxOutputBytes)
	argv := expandCommand(lang.Run, containerWorkDir, lang.Entry)
	if req.Stdin != "" {
		argv = wrapStdin(argv)
	}
	res, err := s.runOnce(runCtx, lang, ws, "run", argv, stdout, stderr)
	if err != nil {
		return s.classifyFailure(log, "run", err, stdout, stderr, time.Since(started)), nil
	}

	result := schema.ExecutionResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: res.ExitCode,
		Duration: time.Since(started),
	}
	if res.ExitCode == 0 {
		result.Status = schema.ExecOK
	} else {
		result.Status = schema.ExecNonZeroExit
	}
	log.Info("sandbox run finished", "status", result.Status, "exit_code", res.ExitCode, "duration_ms", result.Duration.Milliseconds())
	return result, nil
}

func (s *Service) runOnce(ctx context.Context, lang LangSpec, ws *workspace, phase string, argv []string, stdout, stderr *capWriter) (RunResult, error) {
	return s.rt.Run(ctx, RunSpec{
		Name:       fmt.Sprintf("%s-%s-%s", s.cfg.NamePrefix, ws.ID(), phase),
		Image:      s.imageFor(lang),
		Command:    argv,
		WorkingDir: containerWorkDir,
		Workspace:  Mount{Source: ws.Dir(), Target: containerWorkDir},
		Stdout:     stdout,
		Stderr:     stderr,
		Caps: ResourceCaps{
			MemoryBytes: s.cfg.MemoryBytes,
			NanoCPUs:    s.cfg.NanoCPUs,
			PidsLimit:   s.cfg.PidsLimit,
		},
	})
}

func (s *Service) classifyFailure(log pslog.Logger, phase string, err error, stdout, stderr *capWriter, elapsed time.Duration) schema.ExecutionResult {
	if errors.Is(err, context.DeadlineExceeded) {
		log.Info("sandbox run timed out", "phase", phase, "timeout", s.cfg.Timeout.String())
		return schema.ExecutionResult{
			Status:   schema.ExecTimeout,
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			ExitCode: -1,
			Duration: elapsed,
		}
	}
	log.Warn("sandbox run failed", "phase", phase, "err", err)
	res := setupFailure(err, elapsed)
	res.Stdout = stdout.String()
	return res
}

func (s *Service) imageFor(lang LangSpec) string {
	if override, ok := s.cfg.Images[lang.Name]; ok && strings.TrimSpace(override) != "" {
		return override
	}
	return lang.Image
}

func setupFailure(err error, elapsed time.Duration) schema.ExecutionResult {
	return schema.ExecutionResult{
		Status:   schema.ExecSetupFailure,
		Stderr:   "execution environment failure: " + err.Error(),
		ExitCode: -1,
		Duration: elapsed,
	}
}

// wrapStdin redirects the stdin file into the program. The submitted
// argv stays positional; nothing user-controlled is interpolated into
// the shell string.
func wrapStdin(argv []string) []string {
	return append([]string{"sh", "-c", `exec "$@" < ` + containerWorkDir + "/" + stdinFile, "sh"}, argv...)
}

// capWriter keeps at most max bytes and drops the rest, so a runaway
// program cannot balloon the result payload.
type capWriter struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func newCapWriter(max int) *capWriter { return &capWriter{max: max} }

func (w *capWriter) Write(p []byte) (int, error) {
	room := w.max - w.buf.Len()
	if room <= 0 {
		w.truncated = true
		return len(p), nil
	}
	if len(p) > room {
		w.buf.Write(p[:room])
		w.truncated = true
		return len(p), nil
	}
	w.buf.Write(p)
	return len(p), nil
}

func (w *capWriter) String() string {
	if w.truncated {
		return w.buf.String() + "\n[output truncated]"
	}
	return w.buf.String()
}
