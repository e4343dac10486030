package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"taskingbot-bridge/internal/panel"
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Poll the remote action queue and execute batches on the host tab",
	Long: `Poll the remote queue every remote.poll_interval, run each pending batch
in order and report one composite result. A heartbeat is sent every
remote.heartbeat_interval while a session token is available.

The panel HTTP API runs alongside unless --no-panel is given, so pending
confirmations can be answered locally.`,
	RunE: runPoll,
}

func init() {
	pollCmd.Flags().String("panel-addr", "", "Override panel.listen")
	pollCmd.Flags().Bool("no-panel", false, "Do not start the panel HTTP API")
	pollCmd.Flags().Bool("share-screen", false, "Stream the host tab for screen_capture actions")
	rootCmd.AddCommand(pollCmd)
}

func runPoll(cmd *cobra.Command, _ []string) error {
	cfg, wsDir, err := loadConfig()
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("panel-addr"); addr != "" {
		cfg.Panel.Listen = addr
	}
	noPanel, _ := cmd.Flags().GetBool("no-panel")
	share, _ := cmd.Flags().GetBool("share-screen")

	a, err := newApp(cfg, wsDir, appOptions{shareScreen: share})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			a.logger.Warn("shutdown incomplete", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	p, err := a.newPoller(ctx)
	if err != nil {
		return err
	}
	tasks := []func(context.Context) error{p.Run}
	if !noPanel {
		svc := a.newPanel()
		tasks = append(tasks, func(ctx context.Context) error {
			return panel.Serve(ctx, cfg.Panel.Listen, panel.Handler(svc), a.logger)
		})
	}
	return runAll(ctx, cancel, tasks)
}
