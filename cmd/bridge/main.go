// Command bridge connects a Chrome instance to the TaskingBot action queue and
// exposes the same engine locally over an HTTP panel API and MCP.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"taskingbot-bridge/internal/config"
)

var (
	configPath   string
	workspaceDir string
	noWorkspace  bool
	logLevel     string
)

var rootCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Execute remote browser actions against a live Chrome tab",
	Long: `bridge drives a Chrome tab over the DevTools protocol.

It polls the remote action queue for pending batches, runs each action in
order against the host tab, and reports one composite result per batch.
The same engine is available locally through the panel HTTP API and MCP tools.

Configuration is layered: defaults, then .taskingbot/config.yaml found by
walking up from the working directory, then --config, then flags.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Explicit config file (overrides the workspace config)")
	rootCmd.PersistentFlags().StringVar(&workspaceDir, "workspace-dir", "", "Workspace root instead of walking up from the working directory")
	rootCmd.PersistentFlags().BoolVar(&noWorkspace, "no-workspace", false, "Skip .taskingbot workspace discovery")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override server.log_level (debug|info|warn|error)")
}

func loadConfig() (config.Config, string, error) {
	cfg, wsDir, err := config.LoadWithWorkspace(configPath, config.WorkspaceOptions{
		Disable:     noWorkspace,
		ExplicitDir: workspaceDir,
	})
	if err != nil {
		return cfg, wsDir, fmt.Errorf("load config: %w", err)
	}
	return cfg, wsDir, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
