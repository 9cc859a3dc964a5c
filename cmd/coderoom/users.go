package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"pkt.systems/coderoom/internal/appconfig"
	"pkt.systems/coderoom/internal/auth"
	"pkt.systems/pslog"
)

func newUsersCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage coderoom users",
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file")

	cmd.AddCommand(newUsersListCmd(&cfgPath))
	cmd.AddCommand(newUsersAddCmd(&cfgPath))
	cmd.AddCommand(newUsersDeleteCmd(&cfgPath))
	cmd.AddCommand(newUsersResetTokenCmd(&cfgPath))

	return cmd
}

func openUserStore(cmd *cobra.Command, cfgPath string) (*auth.Store, error) {
	cfg, err := appconfig.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	logger := pslog.Ctx(cmd.Context())
	return auth.NewStoreWithLogger(cfg.Auth.UserFile, toAuthSeeds(cfg.Auth.SeedUsers), logger)
}

func toAuthSeeds(seeds []appconfig.SeedUser) []auth.SeedUser {
	if len(seeds) == 0 {
		return nil
	}
	out := make([]auth.SeedUser, 0, len(seeds))
	for _, seed := range seeds {
		out = append(out, auth.SeedUser{
			Username:    seed.Username,
			DisplayName: seed.DisplayName,
			TokenHash:   seed.TokenHash,
		})
	}
	return out
}

func newUsersListCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openUserStore(cmd, *cfgPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, name := range store.Usernames() {
				_, _ = fmt.Fprintln(out, name)
			}
			return nil
		},
	}
}

func newUsersAddCmd(cfgPath *string) *cobra.Command {
	var displayName string
	cmd := &cobra.Command{
		Use:   "add <username>",
		Short: "Add a user and mint their bearer token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openUserStore(cmd, *cfgPath)
			if err != nil {
				return err
			}
			token, err := store.AddUser(args[0], displayName)
			if err != nil {
				return err
			}
			printToken(cmd.OutOrStdout(), args[0], token)
			return nil
		},
	}
	cmd.Flags().StringVar(&displayName, "display-name", "", "display name shown to other participants")
	return cmd
}

func newUsersDeleteCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <username>",
		Short: "Remove a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openUserStore(cmd, *cfgPath)
			if err != nil {
				return err
			}
			if err := store.RemoveUser(args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "removed user: %s\n", args[0])
			return nil
		},
	}
}

func newUsersResetTokenCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-token <username>",
		Short: "Replace a user's bearer token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openUserStore(cmd, *cfgPath)
			if err != nil {
				return err
			}
			token, err := store.ResetToken(args[0])
			if err != nil {
				return err
			}
			printToken(cmd.OutOrStdout(), args[0], token)
			return nil
		},
	}
}

func printToken(w io.Writer, username, token string) {
	_, _ = fmt.Fprintf(w, "username: %s\n", username)
	_, _ = fmt.Fprintf(w, "token: %s\n", token)
	_, _ = fmt.Fprintln(w, "the token is shown once; only its hash is stored")
}
