package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/prior-auth-mcp-server/internal/config"
	"github.com/prior-auth-mcp-server/internal/setup"
)

// newSetupCmd builds the "setup" subcommand that registers this binary with a desktop MCP
// client.
func newSetupCmd() *cobra.Command {
	var configPath string

	resolvePath := func() (string, error) {
		if configPath != "" {
			return configPath, nil
		}
		return setup.ClientConfigPath()
	}

	root := &cobra.Command{
		Use:          "setup",
		Short:        "Register the prior-auth MCP server with a desktop MCP client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "client config file (defaults to the desktop client's location)")

	var opts setup.Options
	register := &cobra.Command{
		Use:   "register",
		Short: "Add or replace the prior-auth entry in the client config",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := resolvePath()
			if err != nil {
				return err
			}
			if opts.BinaryPath == "" {
				if opts.BinaryPath, err = os.Executable(); err != nil {
					return fmt.Errorf("failed to locate this binary: %w", err)
				}
			}
			if opts.DataDir == "" {
				opts.DataDir = config.LoadLiteConfig().DataDir
			}

			entry, err := setup.Register(path, opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %q in %s\n  command: %s\n  data dir: %s\n",
				setup.ServerName, path, entry.Command, opts.DataDir)
			fmt.Fprintln(cmd.OutOrStdout(), "Restart the client to load the new configuration.")
			return nil
		},
	}
	register.Flags().StringVar(&opts.BinaryPath, "binary", "", "server binary (defaults to this executable)")
	register.Flags().StringVar(&opts.DataDir, "data-dir", "", "data directory passed as PRIOR_AUTH_DATA_DIR")
	register.Flags().StringVar(&opts.DetectionEndpoint, "detection-endpoint", "", "detection model endpoint passed as PRIOR_AUTH_DETECTION_ENDPOINT")

	unregister := &cobra.Command{
		Use:   "unregister",
		Short: "Remove the prior-auth entry from the client config",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := resolvePath()
			if err != nil {
				return err
			}
			removed, err := setup.Unregister(path)
			if err != nil {
				return err
			}
			if !removed {
				fmt.Fprintf(cmd.OutOrStdout(), "%q was not registered in %s\n", setup.ServerName, path)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %q from %s\n", setup.ServerName, path)
			return nil
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the registration and data directory state as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := resolvePath()
			if err != nil {
				return err
			}
			st, err := setup.Inspect(path, config.LoadLiteConfig().DataDir)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		},
	}

	root.AddCommand(register, unregister, status)
	return root
}
