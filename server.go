// Package coderoom composes the collaborative code editor service: the
// durable room store, the realtime core, the sandboxed execution
// service, and the HTTP/websocket gateway.
package coderoom

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pkt.systems/coderoom/core"
	"pkt.systems/coderoom/gateway"
	"pkt.systems/coderoom/internal/auth"
	"pkt.systems/coderoom/internal/sandbox"
	sandboxcontainerd "pkt.systems/coderoom/internal/sandbox/containerd"
	sandboxpodman "pkt.systems/coderoom/internal/sandbox/podman"
	"pkt.systems/coderoom/internal/store"
	"pkt.systems/coderoom/internal/store/filestore"
	"pkt.systems/coderoom/internal/store/pgstore"
	"pkt.systems/coderoom/schema"
	"pkt.systems/pslog"
)

// Server composes the coderoom services.
type Server interface {
	Start(ctx context.Context) error
	Wait() error
	Stop(ctx context.Context) error
}

// ServerConfig configures the compositor.
type ServerConfig struct {
	HTTPAddr string
	Store    StoreConfig
	Auth     AuthConfig
	Sandbox  SandboxConfig
}

// StoreConfig selects the room store backend.
type StoreConfig struct {
	Backend     string
	Dir         string
	PostgresURL string
}

// AuthConfig defines authentication storage settings.
type AuthConfig struct {
	UserFile  string
	SeedUsers []SeedUser
}

// SeedUser seeds an initial user record.
type SeedUser struct {
	Username    string
	DisplayName string
	TokenHash   string
}

// SandboxConfig configures the execution sandbox. Runtime "none"
// disables code execution; the rest of the service still works.
type SandboxConfig struct {
	Runtime             string
	WorkspaceRoot       string
	Timeout             time.Duration
	MemoryBytes         int64
	NanoCPUs            int64
	PidsLimit           int64
	PullTimeout         time.Duration
	Images              map[schema.Language]string
	ContainerdAddress   string
	ContainerdNamespace string
	PodmanAddress       string
	PodmanUserNS        string
}

// ServerDeps captures optional dependency overrides. Zero values mean
// the server builds its own collaborators from ServerConfig.
type ServerDeps struct {
	Store     store.Store
	Verifier  auth.Verifier
	Executor  gateway.Executor
	EventSink core.EventSink
}

// New constructs a coderoom server.
func New(ctx context.Context, cfg ServerConfig, deps ServerDeps) (Server, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := pslog.Ctx(ctx)

	st := deps.Store
	if st == nil {
		built, err := newStore(ctx, cfg.Store, logger)
		if err != nil {
			return nil, err
		}
		st = built
	}

	verifier := deps.Verifier
	if verifier == nil {
		authStore, err := auth.NewStoreWithLogger(cfg.Auth.UserFile, toSeedUsers(cfg.Auth.SeedUsers), logger)
		if err != nil {
			return nil, err
		}
		verifier = authStore
	}

	hub := gateway.NewHub(logger)
	var sink core.EventSink = hub
	if deps.EventSink != nil {
		sink = eventFanout{sinks: []core.EventSink{hub, deps.EventSink}}
	}

	service, err := core.NewService(core.ServiceDeps{
		Store:     st,
		EventSink: sink,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	executor := deps.Executor
	var sandboxSvc *sandbox.Service
	if executor == nil {
		sandboxSvc, err = newSandbox(ctx, cfg.Sandbox)
		if err != nil {
			return nil, err
		}
		if sandboxSvc != nil {
			executor = sandboxSvc
		}
	}

	gw := gateway.NewServer(gateway.Config{Addr: cfg.HTTPAddr}, service, st, verifier, executor, hub)

	return &compositeServer{
		cfg:     cfg,
		gateway: gw,
		store:   st,
		sandbox: sandboxSvc,
	}, nil
}

func newStore(ctx context.Context, cfg StoreConfig, logger pslog.Logger) (store.Store, error) {
	switch cfg.Backend {
	case "", "file":
		return filestore.NewWithLogger(cfg.Dir, logger)
	case "postgres":
		return pgstore.NewWithLogger(ctx, cfg.PostgresURL, logger)
	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.Backend)
	}
}

func newSandbox(ctx context.Context, cfg SandboxConfig) (*sandbox.Service, error) {
	var rt sandbox.Runtime
	var err error
	switch cfg.Runtime {
	case "none":
		return nil, nil
	case "", "containerd":
		rt, err = sandboxcontainerd.New(ctx, sandboxcontainerd.Config{
			Address:     cfg.ContainerdAddress,
			Namespace:   cfg.ContainerdNamespace,
			PullTimeout: cfg.PullTimeout,
		})
	case "podman":
		rt, err = sandboxpodman.New(ctx, sandboxpodman.Config{
			Address:     cfg.PodmanAddress,
			UserNSMode:  cfg.PodmanUserNS,
			PullTimeout: cfg.PullTimeout,
		})
	default:
		return nil, fmt.Errorf("unsupported sandbox runtime %q", cfg.Runtime)
	}
	if err != nil {
		return nil, err
	}
	return sandbox.New(ctx, sandbox.Config{
		WorkspaceRoot: cfg.WorkspaceRoot,
		Timeout:       cfg.Timeout,
		MemoryBytes:   cfg.MemoryBytes,
		NanoCPUs:      cfg.NanoCPUs,
		PidsLimit:     cfg.PidsLimit,
		Images:        cfg.Images,
	}, rt)
}

type compositeServer struct {
	cfg     ServerConfig
	gateway *gateway.Server
	store   store.Store
	sandbox *sandbox.Service
	logger  pslog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	errCh   chan error
	started bool
}

func (s *compositeServer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		pslog.Ctx(ctx).Warn("server start rejected", "reason", "already started")
		return errors.New("server already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.errCh = make(chan error, 1)
	s.started = true
	s.logger = pslog.Ctx(s.ctx)
	s.mu.Unlock()

	log := s.logger
	log.Info(
		"server start",
		"http_addr", s.cfg.HTTPAddr,
		"store", s.cfg.Store.Backend,
		"sandbox", s.cfg.Sandbox.Runtime,
	)
	go func() {
		if err := gateway.ListenAndServe(s.ctx, s.cfg.HTTPAddr, s.gateway.Handler()); err != nil {
			log.Error("http server failed", "err", err)
			s.errCh <- err
		}
	}()
	return nil
}

func (s *compositeServer) Wait() error {
	s.mu.Lock()
	ctx := s.ctx
	errCh := s.errCh
	started := s.started
	s.mu.Unlock()
	if !started {
		return errors.New("server not started")
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil {
			pslog.Ctx(ctx).Error("server stopped", "err", err)
			_ = s.Stop(context.Background())
			return err
		}
		return nil
	}
}

func (s *compositeServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	started := s.started
	log := s.logger
	s.mu.Unlock()
	if !started {
		return nil
	}
	if log == nil {
		log = pslog.Ctx(context.Background())
	}
	log.Info("server stop requested")
	if s.sandbox != nil {
		if err := s.sandbox.Close(); err != nil {
			log.Warn("server sandbox close failed", "err", err)
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Warn("server store close failed", "err", err)
		}
	}
	if cancel != nil {
		cancel()
	}
	if ctx == nil {
		log.Info("server stop completed")
		return nil
	}
	select {
	case <-ctx.Done():
		log.Warn("server stop timed out", "err", ctx.Err())
		return ctx.Err()
	case <-s.ctx.Done():
		log.Info("server stopped")
		return nil
	}
}

func toSeedUsers(users []SeedUser) []auth.SeedUser {
	if len(users) == 0 {
		return nil
	}
	out := make([]auth.SeedUser, 0, len(users))
	for _, user := range users {
		out = append(out, auth.SeedUser{
			Username:    user.Username,
			DisplayName: user.DisplayName,
			TokenHash:   user.TokenHash,
		})
	}
	return out
}
