// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Strata Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/stratalab/strata/internal/config"
	"github.com/stratalab/strata/internal/logging"
)

// NewRootCmd creates the root command for the Strata CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "strata",
		Short: "Strata - modular analysis workbench",
		Long: `Strata is a modular analysis workbench. This CLI manages its
plugin catalog: local discovery, remote sources, verified installs, and
enable/disable state.`,
		SilenceUsage: true,
	}

	// Global flags; names map to config keys with hyphens as underscores.
	pf := cmd.PersistentFlags()
	pf.String("config", config.DefaultPath(), "config file path")
	pf.String("plugins-dir", "", "plugins directory (default: XDG_DATA_HOME/strata/plugins)")
	pf.String("state-dir", "", "state directory (default: XDG_CONFIG_HOME/strata)")
	pf.String("interpreter", "", "interpreter for dependency checks and installs")
	pf.Duration("probe-timeout", 0, "per-source probe timeout")
	pf.String("metrics-addr", "", "metrics/health HTTP address (empty = disabled)")
	pf.String("log-format", "", "log format (json or text)")

	cmd.AddCommand(NewPluginsCmd())

	return cmd
}

// loadConfig builds the effective configuration for a command invocation and
// installs the default logger.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(path, cmd.Flags())
	if err != nil {
		return nil, err
	}

	logging.SetDefault("strata", version, cfg.LogFormat)
	return cfg, nil
}
