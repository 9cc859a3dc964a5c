package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"pkt.systems/coderoom/internal/appconfig"
	"pkt.systems/coderoom/internal/auth"
	"pkt.systems/coderoom/internal/store/filestore"
	"pkt.systems/coderoom/internal/store/pgstore"
	"pkt.systems/coderoom/schema"
	"pkt.systems/pslog"
)

// doctorSnippets are minimal programs that print "ok" per language.
var doctorSnippets = map[schema.Language]string{
	"javascript": `console.log("ok");`,
	"python":     `print("ok")`,
	"java":       `public class Main { public static void main(String[] args) { System.out.println("ok"); } }`,
	"cpp":        `#include <iostream>` + "\n" + `int main() { std::cout << "ok" << std::endl; return 0; }`,
	"c":          `#include <stdio.h>` + "\n" + `int main(void) { printf("ok\n"); return 0; }`,
	"go":         `package main` + "\n\n" + `import "fmt"` + "\n\n" + `func main() { fmt.Println("ok") }`,
}

func newDoctorCmd() *cobra.Command {
	var cfgPath string
	var language string
	var skipPull bool
	var skipRun bool
	var runTimeout time.Duration
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run coderoom diagnostics",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())

			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			configPath := cfgPath
			if strings.TrimSpace(configPath) == "" {
				defaultPath, err := appconfig.DefaultConfigPath()
				if err != nil {
					return err
				}
				configPath = defaultPath
			}
			logger.Info("doctor start", "config", configPath)

			if err := checkStore(cmd.Context(), cfg, logger); err != nil {
				return err
			}
			logger.Info("doctor store ok", "backend", cfg.Store.Backend)

			authStore, err := auth.NewStoreWithLogger(cfg.Auth.UserFile, nil, logger)
			if err != nil {
				return err
			}
			logger.Info("doctor auth ok", "users", len(authStore.Usernames()))

			if cfg.Sandbox.Runtime == "none" {
				logger.Info("doctor complete", "sandbox", "disabled")
				return nil
			}

			if err := checkWorkspace(cfg.Sandbox.WorkspaceRoot, logger); err != nil {
				return err
			}

			rt, closeFn, err := selectRuntime(cmd.Context(), cfg.Sandbox)
			if err != nil {
				return err
			}
			if closeFn != nil {
				defer func() { _ = closeFn() }()
			}
			logger.Info("doctor runtime ok", "runtime", cfg.Sandbox.Runtime)

			svc, err := newSandboxService(cmd.Context(), cfg.Sandbox, rt)
			if err != nil {
				return err
			}

			if !skipPull {
				pullCtx, cancel := context.WithTimeout(cmd.Context(), time.Duration(cfg.Sandbox.PullTimeoutMinutes)*time.Minute)
				defer cancel()
				if err := svc.EnsureImages(pullCtx); err != nil {
					return fmt.Errorf("doctor image check: %w", err)
				}
				logger.Info("doctor images ok", "languages", len(svc.Languages()))
			}

			if skipRun {
				logger.Info("doctor complete")
				return nil
			}

			lang := schema.NormalizeLanguage(schema.Language(language))
			snippet, ok := doctorSnippets[lang]
			if !ok {
				return fmt.Errorf("no doctor snippet for language %q", lang)
			}
			runCtx, cancel := context.WithTimeout(cmd.Context(), runTimeout)
			defer cancel()
			result, err := svc.Execute(runCtx, schema.ExecutionRequest{
				Code:     snippet,
				Language: lang,
				UserID:   "doctor",
			})
			if err != nil {
				return fmt.Errorf("doctor execution: %w", err)
			}
			if result.Status != schema.ExecOK || !strings.Contains(result.Stdout, "ok") {
				return fmt.Errorf("doctor execution failed (status %s, exit %d): %s", result.Status, result.ExitCode, strings.TrimSpace(result.Stderr))
			}
			logger.Info("doctor execution ok", "language", lang, "duration_ms", result.Duration.Milliseconds())
			logger.Info("doctor complete")
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&language, "language", "javascript", "language used for the execution check")
	cmd.Flags().BoolVar(&skipPull, "skip-pull", false, "skip pulling language images")
	cmd.Flags().BoolVar(&skipRun, "skip-run", false, "skip the sandboxed execution check")
	cmd.Flags().DurationVar(&runTimeout, "run-timeout", 60*time.Second, "timeout for the execution check")
	return cmd
}

func checkStore(ctx context.Context, cfg appconfig.Config, logger pslog.Logger) error {
	switch cfg.Store.Backend {
	case "", "file":
		st, err := filestore.NewWithLogger(cfg.Store.Dir, logger)
		if err != nil {
			return fmt.Errorf("doctor store: %w", err)
		}
		return st.Close()
	case "postgres":
		st, err := pgstore.NewWithLogger(ctx, cfg.Store.PostgresURL, logger)
		if err != nil {
			return fmt.Errorf("doctor store: %w", err)
		}
		return st.Close()
	default:
		return fmt.Errorf("unsupported store backend %q", cfg.Store.Backend)
	}
}

// checkWorkspace verifies the workspace root exists on a writable
// filesystem with some headroom for compile artifacts.
func checkWorkspace(root string, logger pslog.Logger) error {
	const minFreeBytes = 256 << 20
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("doctor workspace: %w", err)
	}
	var fs unix.Statfs_t
	if err := unix.Statfs(root, &fs); err != nil {
		return fmt.Errorf("doctor workspace statfs: %w", err)
	}
	if fs.Flags&unix.ST_RDONLY != 0 {
		return fmt.Errorf("doctor workspace: %s is on a read-only filesystem", root)
	}
	free := fs.Bavail * uint64(fs.Bsize)
	if free < minFreeBytes {
		return fmt.Errorf("doctor workspace: only %d bytes free under %s", free, root)
	}
	logger.Info("doctor workspace ok", "root", root, "free_bytes", free)
	return nil
}
