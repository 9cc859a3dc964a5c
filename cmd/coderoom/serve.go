package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/coderoom"
	"pkt.systems/coderoom/internal/appconfig"
	"pkt.systems/coderoom/schema"
	"pkt.systems/pslog"
)

func newServeCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the coderoom server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			switch cfg.Sandbox.Runtime {
			case "podman":
				logger.Info("sandbox runtime selected", "runtime", cfg.Sandbox.Runtime, "address", cfg.Sandbox.Podman.Address, "userns", cfg.Sandbox.Podman.UserNSMode)
			case "containerd":
				logger.Info("sandbox runtime selected", "runtime", cfg.Sandbox.Runtime, "address", cfg.Sandbox.Containerd.Address, "namespace", cfg.Sandbox.Containerd.Namespace)
			default:
				logger.Info("sandbox runtime selected", "runtime", cfg.Sandbox.Runtime)
			}

			server, err := coderoom.New(cmd.Context(), toServerConfig(cfg), coderoom.ServerDeps{})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Stop(stopCtx); err != nil {
					logger.Warn("server stop failed", "err", err)
				}
			}()
			logger.Info("http server listening", "addr", cfg.HTTP.Addr)
			if err := server.Start(ctx); err != nil {
				return err
			}
			return server.Wait()
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	return cmd
}

func toServerConfig(cfg appconfig.Config) coderoom.ServerConfig {
	return coderoom.ServerConfig{
		HTTPAddr: cfg.HTTP.Addr,
		Store: coderoom.StoreConfig{
			Backend:     cfg.Store.Backend,
			Dir:         cfg.Store.Dir,
			PostgresURL: cfg.Store.PostgresURL,
		},
		Auth: coderoom.AuthConfig{
			UserFile:  cfg.Auth.UserFile,
			SeedUsers: toSeedUsers(cfg.Auth.SeedUsers),
		},
		Sandbox: toSandboxConfig(cfg.Sandbox),
	}
}

func toSandboxConfig(cfg appconfig.SandboxConfig) coderoom.SandboxConfig {
	return coderoom.SandboxConfig{
		Runtime:             cfg.Runtime,
		WorkspaceRoot:       cfg.WorkspaceRoot,
		Timeout:             time.Duration(cfg.TimeoutSeconds) * time.Second,
		MemoryBytes:         int64(cfg.MemoryMB) << 20,
		NanoCPUs:            int64(cfg.CPUs * 1e9),
		PidsLimit:           int64(cfg.PidsLimit),
		PullTimeout:         time.Duration(cfg.PullTimeoutMinutes) * time.Minute,
		Images:              toImageOverrides(cfg.Images),
		ContainerdAddress:   cfg.Containerd.Address,
		ContainerdNamespace: cfg.Containerd.Namespace,
		PodmanAddress:       cfg.Podman.Address,
		PodmanUserNS:        cfg.Podman.UserNSMode,
	}
}

func toImageOverrides(images map[string]string) map[schema.Language]string {
	if len(images) == 0 {
		return nil
	}
	out := make(map[schema.Language]string, len(images))
	for lang, image := range images {
		out[schema.NormalizeLanguage(schema.Language(lang))] = image
	}
	return out
}

func toSeedUsers(seeds []appconfig.SeedUser) []coderoom.SeedUser {
	if len(seeds) == 0 {
		return nil
	}
	out := make([]coderoom.SeedUser, 0, len(seeds))
	for _, seed := range seeds {
		out = append(out, coderoom.SeedUser{
			Username:    seed.Username,
			DisplayName: seed.DisplayName,
			TokenHash:   seed.TokenHash,
		})
	}
	return out
}
