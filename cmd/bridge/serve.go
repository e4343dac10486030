package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	mcpserver "taskingbot-bridge/internal/mcp"
	"taskingbot-bridge/internal/panel"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve MCP tools and the panel API, optionally polling the remote queue",
	Long: `Start the MCP server (stdio by default, SSE when --sse-port or mcp.sse_port
is set) next to the panel HTTP API. With --poll the remote action queue is
polled in the same process, sharing the host tab and fact ledger.

Over stdio all logs go to server.log_file; stdout is reserved for MCP.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().Int("sse-port", 0, "Serve MCP over SSE on this port instead of stdio")
	serveCmd.Flags().String("panel-addr", "", "Override panel.listen")
	serveCmd.Flags().Bool("no-panel", false, "Do not start the panel HTTP API")
	serveCmd.Flags().Bool("poll", false, "Also poll the remote action queue")
	serveCmd.Flags().Bool("share-screen", false, "Stream the host tab for screen_capture actions")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, wsDir, err := loadConfig()
	if err != nil {
		return err
	}
	if port, _ := cmd.Flags().GetInt("sse-port"); port > 0 {
		cfg.MCP.SSEPort = port
	}
	if addr, _ := cmd.Flags().GetString("panel-addr"); addr != "" {
		cfg.Panel.Listen = addr
	}
	noPanel, _ := cmd.Flags().GetBool("no-panel")
	poll, _ := cmd.Flags().GetBool("poll")
	share, _ := cmd.Flags().GetBool("share-screen")

	a, err := newApp(cfg, wsDir, appOptions{stdio: cfg.MCP.SSEPort == 0, shareScreen: share})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			a.logger.Warn("shutdown incomplete", zap.Error(err))
		}
	}()

	svc := a.newPanel()
	server, err := mcpserver.NewServer(cfg, svc, a.engine, a.logger)
	if err != nil {
		return fmt.Errorf("init mcp server: %w", err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var tasks []func(context.Context) error
	if cfg.MCP.SSEPort > 0 {
		tasks = append(tasks, func(ctx context.Context) error { return server.StartSSE(ctx, cfg.MCP.SSEPort) })
	} else {
		tasks = append(tasks, server.Start)
	}
	if !noPanel {
		tasks = append(tasks, func(ctx context.Context) error {
			return panel.Serve(ctx, cfg.Panel.Listen, panel.Handler(svc), a.logger)
		})
	}
	if poll {
		p, err := a.newPoller(ctx)
		if err != nil {
			return err
		}
		tasks = append(tasks, p.Run)
	}

	return runAll(ctx, cancel, tasks)
}

// runAll runs every task until the first one returns, then cancels the rest
// and waits for them.
func runAll(ctx context.Context, cancel context.CancelFunc, tasks []func(context.Context) error) error {
	errCh := make(chan error, len(tasks))
	for _, task := range tasks {
		go func(task func(context.Context) error) { errCh <- task(ctx) }(task)
	}

	first := <-errCh
	cancel()
	for i := 1; i < len(tasks); i++ {
		<-errCh
	}
	if first != nil && !errors.Is(first, context.Canceled) {
		return first
	}
	return nil
}
