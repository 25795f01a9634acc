package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"trackguard/internal/config"
)

func newRootCommand() *cobra.Command {
	var configFlag string

	rootCmd := &cobra.Command{
		Use:           "trackguard",
		Short:         "TrackGuard fingerprint-protection daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")

	rootCmd.AddCommand(newRunCommand(&configFlag))
	rootCmd.AddCommand(newStatusCommand(&configFlag))
	rootCmd.AddCommand(newConfigCommand(&configFlag))

	return rootCmd
}

func loadConfig(path string) (*config.Config, error) {
	cfg, resolved, _, err := config.Load(path)
	if err != nil {
		if resolved != "" {
			return nil, fmt.Errorf("load config %s: %w", resolved, err)
		}
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
