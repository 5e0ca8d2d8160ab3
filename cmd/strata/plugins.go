// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Strata Contributors

package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/stratalab/strata/internal/config"
	"github.com/stratalab/strata/internal/observability"
	"github.com/stratalab/strata/internal/plugin"
	"github.com/stratalab/strata/pkg/errutil"
)

// hostLogger is the headless HostCallbacks implementation: the CLI has no
// menus to mutate, so callbacks are logged for the host process to observe.
type hostLogger struct{}

func (hostLogger) OnPluginsChanged() {
	slog.Info("host notified: plugin set changed")
}

func (hostLogger) RemoveMenuEntry(pluginID string, rec plugin.PluginRecord) {
	slog.Info("host notified: remove menu entry", "plugin", pluginID, "category", string(rec.Category))
}

func (hostLogger) RemoveHardwareEntry(name, icon string) {
	slog.Info("host notified: remove hardware entry", "name", name, "icon", icon)
}

// managerFor constructs the plugin manager context from configuration.
func managerFor(cfg *config.Config) *plugin.Manager {
	return plugin.NewManager(
		cfg.PluginsDir,
		cfg.StateDir,
		cfg.SourcePointers(),
		cfg.Interpreter,
		plugin.WithHostCallbacks(hostLogger{}),
		plugin.WithProbeTimeout(cfg.ProbeTimeout),
	)
}

// startMetrics starts the observability server when configured. The returned
// stop function is safe to call unconditionally.
func startMetrics(cfg *config.Config) (func(), error) {
	if cfg.MetricsAddr == "" {
		return func() {}, nil
	}
	srv := observability.NewServer(cfg.MetricsAddr, func() bool { return true }, plugin.RegisterMetrics)
	if _, err := srv.Start(); err != nil {
		return nil, err
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Stop(ctx); err != nil {
			slog.Warn("error stopping observability server", "error", err)
		}
	}, nil
}

// NewPluginsCmd creates the plugins command group.
func NewPluginsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Manage the plugin catalog",
	}

	cmd.AddCommand(
		newScanCmd(),
		newListCmd(),
		newFetchCmd(),
		newInstallCmd(),
		newUpdateCmd(),
		newUninstallCmd(),
		newEnableCmd(),
		newDisableCmd(),
		newDepsCmd(),
		newSchemaCmd(),
	)
	return cmd
}

func newScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Rescan local plugin directories and rebuild the index",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			m := managerFor(cfg)

			catalog, err := m.Rescan(cmd.Context())
			if err != nil {
				return err
			}
			for _, cat := range plugin.Categories {
				for _, rec := range catalog[cat] {
					marker := " "
					if rec.Broken {
						marker = "!"
					}
					cmd.Printf("%s %-10s %-24s %s\n", marker, cat, rec.ID, rec.Version)
				}
			}
			return nil
		},
	}
}

func newListCmd() *cobra.Command {
	var withRemote bool
	var category string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show the merged local+remote catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			m := managerFor(cfg)

			if _, err := m.Rescan(cmd.Context()); err != nil {
				return err
			}
			if withRemote {
				if _, err := m.FetchRemote(cmd.Context()); err != nil {
					errutil.LogWarn(slog.Default(), "remote fetch failed, listing local only", err)
				}
			}

			entries := m.MergedAll()
			if category != "" {
				entries = m.Merged(plugin.Category(category))
			}
			for _, e := range entries {
				status := string(e.Kind)
				if e.UpdateAvailable() {
					status = "update"
				}
				enabled := " "
				if m.Enabled(e.ID) {
					enabled = "*"
				}
				cmd.Printf("%s %-7s %-24s %s\n", enabled, status, e.ID, e.DisplayName())
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&withRemote, "remote", false, "include remote sources")
	cmd.Flags().StringVar(&category, "category", "", "limit to one category")
	return cmd
}

func newFetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Race all remote sources and show the selected catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			stopMetrics, err := startMetrics(cfg)
			if err != nil {
				return err
			}
			defer stopMetrics()

			m := managerFor(cfg)
			sel, err := m.FetchRemote(cmd.Context())
			if err != nil {
				return err
			}

			cmd.Printf("selected source %q (index version %s, %s)\n",
				sel.Source.Name, sel.Version, sel.Elapsed.Round(time.Millisecond))
			for _, st := range sel.Statuses {
				cmd.Printf("  %s\n", st)
			}
			for _, cat := range plugin.Categories {
				for _, rec := range sel.Records[cat] {
					cmd.Printf("  %-10s %-24s %s\n", cat, rec.ID, rec.Version)
				}
			}
			return nil
		},
	}
}

func newInstallCmd() *cobra.Command {
	var installDeps bool

	cmd := &cobra.Command{
		Use:   "install <plugin-id>",
		Short: "Download, verify, and install a plugin from the selected source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			stopMetrics, err := startMetrics(cfg)
			if err != nil {
				return err
			}
			defer stopMetrics()

			m := managerFor(cfg)
			if _, err := m.Rescan(cmd.Context()); err != nil {
				return err
			}
			if _, err := m.FetchRemote(cmd.Context()); err != nil {
				return err
			}

			outcome, err := installWithProgress(cmd, m, args[0], m.Install)
			if err != nil {
				return err
			}

			cmd.Printf("installed %s %s\n", outcome.Record.ID, outcome.Record.Version)
			if len(outcome.MissingDeps) == 0 {
				return nil
			}

			cmd.Printf("missing dependencies: %v\n", outcome.MissingDeps)
			if !installDeps {
				cmd.Println("re-run with --install-deps to install them")
				return nil
			}
			return streamDepInstall(cmd, m, outcome.MissingDeps)
		},
	}

	cmd.Flags().BoolVar(&installDeps, "install-deps", false, "install missing dependencies")
	return cmd
}

func newUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update <plugin-id>",
		Short: "Replace an installed plugin with the selected source's version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			stopMetrics, err := startMetrics(cfg)
			if err != nil {
				return err
			}
			defer stopMetrics()

			m := managerFor(cfg)
			if _, err := m.Rescan(cmd.Context()); err != nil {
				return err
			}
			if _, err := m.FetchRemote(cmd.Context()); err != nil {
				return err
			}

			outcome, err := installWithProgress(cmd, m, args[0], m.Update)
			if err != nil {
				return err
			}

			cmd.Printf("updated %s to %s\n", outcome.Record.ID, outcome.Record.Version)
			if len(outcome.MissingDeps) > 0 {
				cmd.Printf("missing dependencies: %v\n", outcome.MissingDeps)
			}
			return nil
		},
	}
}

// installWithProgress runs the install or update on a worker while this
// goroutine acts as the control loop, draining the event queue for progress
// display.
func installWithProgress(cmd *cobra.Command, m *plugin.Manager, id string, run func(context.Context, string) (*plugin.InstallOutcome, error)) (*plugin.InstallOutcome, error) {
	type result struct {
		outcome *plugin.InstallOutcome
		err     error
	}
	done := make(chan result, 1)

	go func() {
		outcome, err := run(cmd.Context(), id)
		done <- result{outcome, err}
	}()

	for {
		select {
		case ev := <-m.Events():
			if ev.Type == plugin.EventProgress && ev.PluginID == id {
				if ev.Total > 0 {
					cmd.Printf("\rdownloading %s: %d%%", id, ev.Bytes*100/ev.Total)
				} else {
					cmd.Printf("\rdownloading %s: %d bytes", id, ev.Bytes)
				}
			}
		case res := <-done:
			cmd.Println()
			return res.outcome, res.err
		}
	}
}

// streamDepInstall polls the dependency installer's output stream until the
// process exits.
func streamDepInstall(cmd *cobra.Command, m *plugin.Manager, packages []string) error {
	stream := m.InstallDependencies(cmd.Context(), packages)
	for line := range stream.Lines {
		cmd.Println(line)
	}
	res := <-stream.Result
	if res.Err != nil {
		return res.Err
	}
	if res.Code != 0 {
		return fmt.Errorf("dependency install exited with code %d", res.Code)
	}
	return nil
}

func newUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall <plugin-id>",
		Short: "Remove a plugin (deletes the file only for store-installed plugins)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			m := managerFor(cfg)
			if _, err := m.Rescan(cmd.Context()); err != nil {
				return err
			}
			if err := m.Uninstall(cmd.Context(), args[0]); err != nil {
				return err
			}
			cmd.Printf("uninstalled %s\n", args[0])
			return nil
		},
	}
}

func newEnableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enable <plugin-id>",
		Short: "Enable a plugin",
		Args:  cobra.ExactArgs(1),
		RunE:  setEnabledRunE(true),
	}
}

func newDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable <plugin-id>",
		Short: "Disable a plugin",
		Args:  cobra.ExactArgs(1),
		RunE:  setEnabledRunE(false),
	}
}

func setEnabledRunE(enabled bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		m := managerFor(cfg)
		if _, err := m.Rescan(cmd.Context()); err != nil {
			return err
		}
		if err := m.SetEnabled(args[0], enabled); err != nil {
			// State stays applied in memory; persisting failed.
			errutil.LogWarn(slog.Default(), "enabled state not persisted", err)
		}
		return nil
	}
}

func newDepsCmd() *cobra.Command {
	var install bool

	cmd := &cobra.Command{
		Use:   "deps <plugin-id>",
		Short: "Check (and optionally install) a plugin's dependencies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			m := managerFor(cfg)
			if _, err := m.Rescan(cmd.Context()); err != nil {
				return err
			}

			missing := m.CheckDependencies(cmd.Context(), args[0])
			if len(missing) == 0 {
				cmd.Println("all dependencies satisfied")
				return nil
			}
			cmd.Printf("missing: %v\n", missing)
			if !install {
				return nil
			}
			return streamDepInstall(cmd, m, missing)
		},
	}

	cmd.Flags().BoolVar(&install, "install", false, "install missing dependencies")
	return cmd
}

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema for remote index files",
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := plugin.GenerateIndexSchema()
			if err != nil {
				return err
			}
			cmd.Println(string(data))
			return nil
		},
	}
}
