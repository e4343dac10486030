package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"taskingbot-bridge/internal/config"
	"taskingbot-bridge/internal/mangle"
	"taskingbot-bridge/internal/panel"
)

// Server exposes the panel service and the fact ledger as MCP tools.
type Server struct {
	cfg       config.Config
	panel     *panel.Service
	engine    *mangle.Engine
	logger    *zap.Logger
	tools     map[string]Tool
	mcpServer *mcpserver.MCPServer
}

// Tool describes the contract for MCP tool implementations.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// NewServer constructs the MCP server and registers all tools. engine may be
// nil when the fact ledger is disabled.
func NewServer(cfg config.Config, svc *panel.Service, engine *mangle.Engine, logger *zap.Logger) (*Server, error) {
	if svc == nil {
		return nil, errors.New("panel service is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	mcpSrv := mcpserver.NewMCPServer(
		cfg.Server.Name,
		cfg.Server.Version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithLogging(),
		mcpserver.WithPromptCapabilities(false),
		mcpserver.WithRecovery(),
	)

	server := &Server{
		cfg:       cfg,
		panel:     svc,
		engine:    engine,
		logger:    logger.With(zap.String("component", "mcp")),
		tools:     make(map[string]Tool),
		mcpServer: mcpSrv,
	}

	server.registerAllTools()
	server.registerAllResources()
	return server, nil
}

// Start serves over stdio until ctx ends.
func (s *Server) Start(ctx context.Context) error {
	stdio := mcpserver.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// StartSSE hosts the server over HTTP using SSE endpoints with graceful shutdown.
func (s *Server) StartSSE(ctx context.Context, port int) error {
	sseServer := mcpserver.NewSSEServer(s.mcpServer, mcpserver.WithBaseURL("http://localhost:"+strconv.Itoa(port)))

	mux := http.NewServeMux()
	mux.Handle("/sse", sseServer.SSEHandler())
	mux.Handle("/message", sseServer.MessageHandler())

	httpServer := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("mcp sse listening", zap.Int("port", port))

	select {
	case <-ctx.Done():
		s.logger.Info("mcp sse shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// ExecuteTool executes a tool directly (used by the CLI and tests).
func (s *Server) ExecuteTool(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	tool, exists := s.tools[name]
	if !exists {
		return nil, fmt.Errorf("tool not found: %s", name)
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	return tool.Execute(ctx, args)
}

// ToolNames lists the registered tools.
func (s *Server) ToolNames() []string {
	names := make([]string, 0, len(s.tools))
	for name := range s.tools {
		names = append(names, name)
	}
	return names
}

func (s *Server) registerAllTools() {
	// Action execution
	s.registerTool(&PerformActionsTool{panel: s.panel})
	s.registerTool(&ExtractActionsTool{panel: s.panel})

	// Page monitor
	s.registerTool(&GetLogsTool{panel: s.panel})
	s.registerTool(&GetPageInfoTool{panel: s.panel})

	// Confirmations
	s.registerTool(&PendingConfirmationsTool{panel: s.panel})
	s.registerTool(&ResolveConfirmationTool{panel: s.panel})

	// Fact ledger
	s.registerTool(&QueryFactsTool{engine: s.engine})
	s.registerTool(&ReadFactsTool{engine: s.engine})
	s.registerTool(&SubmitRuleTool{engine: s.engine})
}

func (s *Server) registerTool(tool Tool) {
	s.tools[tool.Name()] = tool

	schema, err := json.Marshal(tool.InputSchema())
	if err != nil {
		schema = json.RawMessage(`{"type":"object"}`)
	}

	mcpTool := mcp.NewToolWithRawSchema(tool.Name(), tool.Description(), schema)
	s.mcpServer.AddTool(mcpTool, s.wrapTool(tool))
}

func (s *Server) wrapTool(tool Tool) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		if args == nil {
			args = map[string]interface{}{}
		}

		start := time.Now()
		result, err := tool.Execute(ctx, args)
		if err != nil {
			s.logger.Warn("tool failed", zap.String("tool", tool.Name()), zap.Error(err))
			return &mcp.CallToolResult{
				Content: []mcp.Content{mcp.NewTextContent(fmt.Sprintf("tool %s failed: %v", tool.Name(), err))},
				IsError: true,
			}, nil
		}
		s.logger.Debug("tool finished", zap.String("tool", tool.Name()), zap.Duration("elapsed", time.Since(start)))

		payload := marshalToolPayload(tool.Name(), result)
		return &mcp.CallToolResult{
			Content: []mcp.Content{mcp.NewTextContent(string(payload))},
			IsError: false,
		}, nil
	}
}

func marshalToolPayload(toolName string, result interface{}) []byte {
	payload, marshalErr := json.Marshal(result)
	if marshalErr == nil {
		return payload
	}

	fallback := map[string]interface{}{
		"success": false,
		"error":   fmt.Sprintf("tool %s returned non-serializable payload: %v", toolName, marshalErr),
	}
	payload, fallbackErr := json.Marshal(fallback)
	if fallbackErr == nil {
		return payload
	}

	return []byte(fmt.Sprintf(`{"success":false,"error":"tool %s failed to encode payload"}`, toolName))
}
