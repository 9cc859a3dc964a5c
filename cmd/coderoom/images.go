package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/coderoom/bootstrap"
	"pkt.systems/coderoom/internal/appconfig"
	"pkt.systems/pslog"
)

func newImagesCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "images",
		Short: "Manage sandbox language images",
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file")

	cmd.AddCommand(newImagesPullCmd(&cfgPath))
	cmd.AddCommand(newImagesImportCmd(&cfgPath))
	cmd.AddCommand(newImagesBootstrapCmd())

	return cmd
}

// newImagesBootstrapCmd writes Containerfiles and a build script for
// the language runner images.
func newImagesBootstrapCmd() *cobra.Command {
	var dir string
	var engine string
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Write build context for the language runner images",
		RunE: func(cmd *cobra.Command, args []string) error {
			written, err := bootstrap.WriteBuildContext(dir, engine)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, path := range written {
				_, _ = fmt.Fprintln(out, path)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "runner-images", "output directory for the build context")
	cmd.Flags().StringVar(&engine, "engine", "podman", "build tool invoked by the generated script")
	return cmd
}

func newImagesPullCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "pull",
		Short: "Pull every language image",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(*cfgPath)
			if err != nil {
				return err
			}
			if cfg.Sandbox.Runtime == "none" {
				return errors.New("sandbox runtime is disabled")
			}
			rt, closeFn, err := selectRuntime(cmd.Context(), cfg.Sandbox)
			if err != nil {
				return err
			}
			if closeFn != nil {
				defer func() { _ = closeFn() }()
			}
			svc, err := newSandboxService(cmd.Context(), cfg.Sandbox, rt)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(cfg.Sandbox.PullTimeoutMinutes)*time.Minute)
			defer cancel()
			if err := svc.EnsureImages(ctx); err != nil {
				return err
			}
			logger.Info("images pulled", "languages", len(svc.Languages()))
			return nil
		},
	}
}

// newImagesImportCmd loads an OCI image archive into the runtime. Useful
// on hosts without registry access; containerd only.
func newImagesImportCmd(cfgPath *string) *cobra.Command {
	var tags []string
	cmd := &cobra.Command{
		Use:   "import <archive.tar>",
		Short: "Import an OCI image archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(*cfgPath)
			if err != nil {
				return err
			}
			rt, closeFn, err := selectRuntime(cmd.Context(), cfg.Sandbox)
			if err != nil {
				return err
			}
			if closeFn != nil {
				defer func() { _ = closeFn() }()
			}
			importer, ok := rt.(interface {
				Import(ctx context.Context, tarPath string, tags []string) error
			})
			if !ok {
				return fmt.Errorf("sandbox runtime %q cannot import archives", cfg.Sandbox.Runtime)
			}
			if err := importer.Import(cmd.Context(), args[0], tags); err != nil {
				return err
			}
			logger.Info("image imported", "archive", args[0], "tags", tags)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&tags, "tag", nil, "tag to apply to the imported image (repeatable)")
	return cmd
}
