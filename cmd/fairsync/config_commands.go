package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"fairsync/internal/config"
)

func newConfigCommand() *cobra.Command {
	configCmd := &cobra.Command{
		Use:         "config",
		Short:       "Manage fairsync configuration",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	configCmd.AddCommand(newConfigInitCommand())
	configCmd.AddCommand(newConfigValidateCommand())

	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a sample configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := targetPath
			if path == "" {
				defaultPath, err := config.DefaultConfigPath()
				if err != nil {
					return fmt.Errorf("resolve default config path: %w", err)
				}
				path = defaultPath
			}
			expanded, err := config.ExpandPath(path)
			if err != nil {
				return fmt.Errorf("expand config path: %w", err)
			}
			if !overwrite {
				if _, statErr := os.Stat(expanded); statErr == nil {
					return fmt.Errorf("config file already exists at %s (use --force to overwrite)", expanded)
				}
			}
			if err := config.CreateSample(expanded); err != nil {
				return fmt.Errorf("write sample config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote sample configuration to %s\n", expanded)
			return nil
		},
	}

	cmd.Flags().StringVar(&targetPath, "path", "", "Destination for the sample config")
	cmd.Flags().BoolVar(&overwrite, "force", false, "Overwrite an existing config file")

	return cmd
}

func newConfigValidateCommand() *cobra.Command {
	var targetPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, resolvedPath, found, err := config.Load(targetPath)
			if err != nil {
				return fmt.Errorf("configuration invalid: %w", err)
			}
			out := cmd.OutOrStdout()
			if found {
				fmt.Fprintf(out, "Configuration at %s is valid\n", resolvedPath)
			} else {
				fmt.Fprintln(out, "No config file found; built-in defaults are valid")
			}
			fmt.Fprintf(out, "Backend:  %s\n", cfg.Backend.BaseURL)
			fmt.Fprintf(out, "Data dir: %s\n", cfg.Paths.DataDir)
			fmt.Fprintf(out, "Ntfy:     %s\n", yesNo(cfg.Notifications.NtfyTopic != ""))
			return nil
		},
	}

	cmd.Flags().StringVar(&targetPath, "path", "", "Configuration file to validate")

	return cmd
}
