package main

import (
	"fmt"

	"github.com/danmuck/wagate/internal/config"
	"github.com/danmuck/wagate/internal/credstore"
	"github.com/spf13/cobra"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create and check gateway configuration",
	}
	cmd.AddCommand(configInitCmd(), configValidateCmd(), configIdentityCmd())
	return cmd
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a default config file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := pathArg(args)
			if err := config.WriteTemplate(path, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	return cmd
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [path]",
		Short: "Load a config file and report problems",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := pathArg(args)
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: ok\n", path)
			fmt.Fprintf(out, "  listen_addr  %s\n", cfg.ListenAddr)
			fmt.Fprintf(out, "  transport    %s\n", cfg.Transport.Kind)
			fmt.Fprintf(out, "  credentials  %s (sealed=%v)\n", cfg.Credentials.Path, cfg.Credentials.AgeIdentityFile != "")
			fmt.Fprintf(out, "  own_number   %s\n", valueOrNone(cfg.OwnNumber))
			return nil
		},
	}
}

func configIdentityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "identity <path>",
		Short: "Generate an age identity for sealing stored credentials",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			identity, err := credstore.GenerateIdentityFile(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\npublic key: %s\n", args[0], identity.Recipient())
			return nil
		},
	}
}

func pathArg(args []string) string {
	if len(args) == 0 {
		return defaultConfigPath
	}
	return args[0]
}

func valueOrNone(v string) string {
	if v == "" {
		return "(none)"
	}
	return v
}
