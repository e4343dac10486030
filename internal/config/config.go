package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// WorkspaceDirName is the directory name for project-level bridge config.
	WorkspaceDirName = ".taskingbot"
	// WorkspaceConfigFile is the config file name inside the workspace directory.
	WorkspaceConfigFile = "config.yaml"
	// MaxSearchDepth limits how many parent directories to walk when discovering a workspace.
	MaxSearchDepth = 10
)

// WorkspaceOptions controls workspace discovery behavior.
type WorkspaceOptions struct {
	// Disable skips workspace discovery entirely (--no-workspace flag).
	Disable bool
	// ExplicitDir uses this directory as workspace root instead of walking up (--workspace-dir flag).
	ExplicitDir string
}

// Config captures all tunable settings for the bridge.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Browser  BrowserConfig  `yaml:"browser"`
	Engine   EngineConfig   `yaml:"engine"`
	Policy   PolicyConfig   `yaml:"policy"`
	Remote   RemoteConfig   `yaml:"remote"`
	Auth     AuthConfig     `yaml:"auth"`
	Claims   ClaimsConfig   `yaml:"claims"`
	Mangle   MangleConfig   `yaml:"mangle"`
	Recorder RecorderConfig `yaml:"recorder"`
	MCP      MCPConfig      `yaml:"mcp"`
	Panel    PanelConfig    `yaml:"panel"`
}

type ServerConfig struct {
	Name     string `yaml:"name"`
	Version  string `yaml:"version"`
	LogFile  string `yaml:"log_file"`
	LogLevel string `yaml:"log_level"`
}

// BrowserConfig configures how we attach to or launch Chrome for Rod.
type BrowserConfig struct {
	// Control endpoint for Rod (e.g., ws://localhost:9222). Required when launch is empty.
	DebuggerURL string `yaml:"debugger_url"`
	// Optional launch command to start Chrome (e.g., ["chrome", "--remote-debugging-port=9222"]).
	Launch []string `yaml:"launch"`
	// Headless controls whether Chrome runs in headless mode (default: true).
	Headless *bool `yaml:"headless"`
	// Page the host tab opens on start (default: about:blank).
	StartURL string `yaml:"start_url"`
	// Default navigation timeout (e.g., "15s").
	DefaultNavigationTimeout string `yaml:"default_navigation_timeout"`
	// Enable trace/request id extraction from response headers.
	EnableHeaderIngestion bool `yaml:"enable_header_ingestion"`
	// Optional throttle (ms) to sample high-frequency console/network events.
	EventThrottleMs int `yaml:"event_throttle_ms"`
	ViewportWidth   int `yaml:"viewport_width"`
	ViewportHeight  int `yaml:"viewport_height"`
}

// EngineConfig tunes the action executor.
type EngineConfig struct {
	// Spacing between wait-for lookups (default: 150ms).
	PollInterval string `yaml:"poll_interval"`
	// Delay between synthetic pointer events (default: 30ms).
	PointerDelay string `yaml:"pointer_delay"`
	// Settle delay after clicks and value changes (default: 100ms).
	SettleDelay string `yaml:"settle_delay"`
	// Wait after opening a custom dropdown (default: 300ms).
	DropdownWait string `yaml:"dropdown_wait"`
	// Timeout applied to waitFor lookups without an explicit timeoutMs (default: 10s).
	DefaultWaitTimeout string `yaml:"default_wait_timeout"`
	// Serialized size budget of one result's data (default: 16384 bytes).
	DataBudget int `yaml:"data_budget"`
	// Retained console/network entries per page (default: 50).
	LogWindow int `yaml:"log_window"`
	// Maximum screenshot width in pixels (default: 1024).
	ScreenshotMaxWidth int `yaml:"screenshot_max_width"`
}

// PolicyConfig controls how sensitive actions are confirmed.
type PolicyConfig struct {
	// ConfirmMode is one of prompt | allow | deny | panel.
	ConfirmMode string `yaml:"confirm_mode"`
	// How long a panel confirmation waits before counting as denied (default: 2m).
	ConfirmTimeout string `yaml:"confirm_timeout"`
}

// RemoteConfig points at the remote action queue.
type RemoteConfig struct {
	BaseURL           string   `yaml:"base_url"`
	PendingPath       string   `yaml:"pending_path"`
	ReportPath        string   `yaml:"report_path"`
	HeartbeatPath     string   `yaml:"heartbeat_path"`
	PollInterval      string   `yaml:"poll_interval"`
	HeartbeatInterval string   `yaml:"heartbeat_interval"`
	RequestTimeout    string   `yaml:"request_timeout"`
	ExtensionID       string   `yaml:"extension_id"`
	Capabilities      []string `yaml:"capabilities"`
}

// AuthConfig lists where the session token may be found, checked in order.
type AuthConfig struct {
	TokenEnv   string `yaml:"token_env"`
	TokenFile  string `yaml:"token_file"`
	DotenvPath string `yaml:"dotenv_path"`
	DotenvKey  string `yaml:"dotenv_key"`
}

// ClaimsConfig selects the batch claim backend.
type ClaimsConfig struct {
	// Backend is memory | redis.
	Backend   string `yaml:"backend"`
	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`
	Prefix    string `yaml:"prefix"`
	TTL       string `yaml:"ttl"`
}

// MangleConfig controls the embedded fact ledger.
type MangleConfig struct {
	Enable          bool   `yaml:"enable"`
	SchemaPath      string `yaml:"schema_path"`
	FactBufferLimit int    `yaml:"fact_buffer_limit"`
}

// RecorderConfig controls per-batch JSONL traces.
type RecorderConfig struct {
	Enable bool   `yaml:"enable"`
	Dir    string `yaml:"dir"`
	Keep   int    `yaml:"keep"`
}

type MCPConfig struct {
	// When set, starts an SSE server on this port instead of stdio-only.
	SSEPort int `yaml:"sse_port"`
}

// PanelConfig configures the local HTTP API used by panel consumers.
type PanelConfig struct {
	Listen string `yaml:"listen"`
}

// DefaultConfig provides reasonable defaults for local development.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Name:     "taskingbot-bridge",
			Version:  "0.3.0",
			LogFile:  "taskingbot-bridge.log",
			LogLevel: "info",
		},
		Browser: BrowserConfig{
			StartURL:                 "about:blank",
			DefaultNavigationTimeout: "15s",
			EnableHeaderIngestion:    true,
			ViewportWidth:            1920,
			ViewportHeight:           1080,
		},
		Engine: EngineConfig{
			PollInterval:       "150ms",
			PointerDelay:       "30ms",
			SettleDelay:        "100ms",
			DropdownWait:       "300ms",
			DefaultWaitTimeout: "10s",
			DataBudget:         16384,
			LogWindow:          50,
			ScreenshotMaxWidth: 1024,
		},
		Policy: PolicyConfig{
			ConfirmMode:    "prompt",
			ConfirmTimeout: "2m",
		},
		Remote: RemoteConfig{
			BaseURL:           "https://tasking.tech",
			PendingPath:       "/api/extension/actions/pending",
			ReportPath:        "/api/extension/actions/report",
			HeartbeatPath:     "/api/extension/heartbeat",
			PollInterval:      "2s",
			HeartbeatInterval: "15s",
			RequestTimeout:    "30s",
			ExtensionID:       "taskingbot-bridge",
			Capabilities: []string{
				"click", "type", "select", "set_value", "upload_file", "scroll", "extract",
				"submit", "focus", "hover", "wait", "navigate", "open_tab", "screenshot",
				"screen_capture", "get_form_fields", "get_page_info", "get_console_logs",
				"get_network_logs",
			},
		},
		Auth: AuthConfig{
			TokenEnv:  "TASKINGBOT_TOKEN",
			DotenvKey: "TASKINGBOT_TOKEN",
		},
		Claims: ClaimsConfig{
			Backend: "memory",
			Prefix:  "taskingbot:batch",
			TTL:     "10m",
		},
		Mangle: MangleConfig{
			Enable:          true,
			FactBufferLimit: 2048,
		},
		Recorder: RecorderConfig{
			Enable: false,
			Dir:    "traces",
			Keep:   3,
		},
		Panel: PanelConfig{
			Listen: "127.0.0.1:8787",
		},
	}
}

// Load reads YAML config from disk and overlays defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, errors.New("config path is required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// DiscoverWorkspace walks up from startDir looking for a .taskingbot/config.yaml file.
// Returns the workspace root directory (parent of .taskingbot/) or empty string if not found.
func DiscoverWorkspace(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving start directory: %w", err)
	}

	for i := 0; i < MaxSearchDepth; i++ {
		candidate := filepath.Join(dir, WorkspaceDirName, WorkspaceConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", nil
}

// LoadWithWorkspace implements multi-layer config merge:
//
//	DefaultConfig() <- .taskingbot/config.yaml <- explicit --config <- CLI flags
//
// Returns the merged config and the workspace directory (empty if none found).
func LoadWithWorkspace(explicitConfig string, opts WorkspaceOptions) (Config, string, error) {
	cfg := DefaultConfig()
	wsDir := ""

	if !opts.Disable {
		var err error
		if opts.ExplicitDir != "" {
			candidate := filepath.Join(opts.ExplicitDir, WorkspaceDirName, WorkspaceConfigFile)
			if _, statErr := os.Stat(candidate); statErr == nil {
				wsDir = opts.ExplicitDir
			}
		} else {
			cwd, cwdErr := os.Getwd()
			if cwdErr != nil {
				return cfg, "", fmt.Errorf("getting working directory: %w", cwdErr)
			}
			wsDir, err = DiscoverWorkspace(cwd)
			if err != nil {
				return cfg, "", fmt.Errorf("discovering workspace: %w", err)
			}
		}

		if wsDir != "" {
			wsConfigPath := filepath.Join(wsDir, WorkspaceDirName, WorkspaceConfigFile)
			raw, err := os.ReadFile(wsConfigPath)
			if err != nil {
				return cfg, "", fmt.Errorf("reading workspace config %s: %w", wsConfigPath, err)
			}
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, "", fmt.Errorf("parsing workspace config %s: %w", wsConfigPath, err)
			}
			cfg = resolveWorkspacePaths(cfg, wsDir)
		}
	}

	if explicitConfig != "" {
		raw, err := os.ReadFile(explicitConfig)
		if err != nil {
			return cfg, wsDir, fmt.Errorf("reading explicit config %s: %w", explicitConfig, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, wsDir, fmt.Errorf("parsing explicit config %s: %w", explicitConfig, err)
		}
	}

	return cfg, wsDir, cfg.Validate()
}

// InitWorkspace creates a .taskingbot/ directory with template files at root.
func InitWorkspace(root string) error {
	wsDir := filepath.Join(root, WorkspaceDirName)

	if _, err := os.Stat(wsDir); err == nil {
		return fmt.Errorf("workspace directory already exists: %s", wsDir)
	}

	dirs := []string{
		wsDir,
		filepath.Join(wsDir, "schemas"),
		filepath.Join(wsDir, "data"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}

	templateConfig := `# taskingbot-bridge project-level configuration
# Values here override defaults but are overridden by --config and CLI flags.

# remote:
#   base_url: "https://tasking.tech"
#   poll_interval: "2s"

# auth:
#   dotenv_path: ".env"
#   dotenv_key: "TASKINGBOT_TOKEN"

# policy:
#   confirm_mode: "prompt"   # prompt | allow | deny | panel

# claims:
#   backend: "redis"
#   redis_addr: "localhost:6379"

# recorder:
#   enable: true
#   dir: "data/traces"

# browser:
#   headless: false
#   viewport_width: 1280
#   viewport_height: 720
`
	configPath := filepath.Join(wsDir, WorkspaceConfigFile)
	if err := os.WriteFile(configPath, []byte(templateConfig), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	gitignoreContent := "# Runtime data (logs, traces) - do not version control\ndata/\n"
	gitignorePath := filepath.Join(wsDir, ".gitignore")
	if err := os.WriteFile(gitignorePath, []byte(gitignoreContent), 0644); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}

	return nil
}

// resolveWorkspacePaths resolves relative paths in the config against the workspace directory.
func resolveWorkspacePaths(cfg Config, wsDir string) Config {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(wsDir, p)
	}

	cfg.Server.LogFile = resolve(cfg.Server.LogFile)
	cfg.Mangle.SchemaPath = resolve(cfg.Mangle.SchemaPath)
	cfg.Recorder.Dir = resolve(cfg.Recorder.Dir)
	cfg.Auth.TokenFile = resolve(cfg.Auth.TokenFile)
	cfg.Auth.DotenvPath = resolve(cfg.Auth.DotenvPath)
	return cfg
}

// Validate ensures required fields exist so the bridge can start deterministically.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return errors.New("server.name is required")
	}
	switch c.Policy.ConfirmMode {
	case "", "prompt", "allow", "deny", "panel":
	default:
		return fmt.Errorf("policy.confirm_mode %q must be prompt, allow, deny or panel", c.Policy.ConfirmMode)
	}
	switch c.Claims.Backend {
	case "", "memory":
	case "redis":
		if c.Claims.RedisAddr == "" {
			return errors.New("claims.redis_addr is required when claims.backend is redis")
		}
	default:
		return fmt.Errorf("claims.backend %q must be memory or redis", c.Claims.Backend)
	}
	if c.Remote.BaseURL != "" && !strings.HasPrefix(c.Remote.BaseURL, "http://") && !strings.HasPrefix(c.Remote.BaseURL, "https://") {
		return fmt.Errorf("remote.base_url %q must be an http(s) URL", c.Remote.BaseURL)
	}
	return nil
}

// parseDuration returns raw parsed, or fallback when empty/invalid/non-positive.
func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// NavigationTimeout returns the parsed navigation timeout with a sane default.
func (b BrowserConfig) NavigationTimeout() time.Duration {
	return parseDuration(b.DefaultNavigationTimeout, 15*time.Second)
}

// IsHeadless returns whether Chrome should run in headless mode (default: true).
func (b BrowserConfig) IsHeadless() bool {
	if b.Headless == nil {
		return true
	}
	return *b.Headless
}

// GetViewportWidth returns the viewport width with a sane default.
func (b BrowserConfig) GetViewportWidth() int {
	if b.ViewportWidth <= 0 {
		return 1920
	}
	return b.ViewportWidth
}

// GetViewportHeight returns the viewport height with a sane default.
func (b BrowserConfig) GetViewportHeight() int {
	if b.ViewportHeight <= 0 {
		return 1080
	}
	return b.ViewportHeight
}

func (e EngineConfig) GetPollInterval() time.Duration {
	return parseDuration(e.PollInterval, 150*time.Millisecond)
}

func (e EngineConfig) GetPointerDelay() time.Duration {
	return parseDuration(e.PointerDelay, 30*time.Millisecond)
}

func (e EngineConfig) GetSettleDelay() time.Duration {
	return parseDuration(e.SettleDelay, 100*time.Millisecond)
}

func (e EngineConfig) GetDropdownWait() time.Duration {
	return parseDuration(e.DropdownWait, 300*time.Millisecond)
}

func (e EngineConfig) GetDefaultWaitTimeout() time.Duration {
	return parseDuration(e.DefaultWaitTimeout, 10*time.Second)
}

// GetDataBudget returns the per-result data budget with a sane default.
func (e EngineConfig) GetDataBudget() int {
	if e.DataBudget <= 0 {
		return 16384
	}
	return e.DataBudget
}

func (e EngineConfig) GetLogWindow() int {
	if e.LogWindow <= 0 {
		return 50
	}
	return e.LogWindow
}

func (e EngineConfig) GetScreenshotMaxWidth() int {
	if e.ScreenshotMaxWidth <= 0 {
		return 1024
	}
	return e.ScreenshotMaxWidth
}

// GetConfirmTimeout returns how long a panel confirmation may stay pending.
func (p PolicyConfig) GetConfirmTimeout() time.Duration {
	return parseDuration(p.ConfirmTimeout, 2*time.Minute)
}

func (r RemoteConfig) GetPollInterval() time.Duration {
	return parseDuration(r.PollInterval, 2*time.Second)
}

func (r RemoteConfig) GetHeartbeatInterval() time.Duration {
	return parseDuration(r.HeartbeatInterval, 15*time.Second)
}

func (r RemoteConfig) GetRequestTimeout() time.Duration {
	return parseDuration(r.RequestTimeout, 30*time.Second)
}

// GetTTL returns how long a batch claim is held.
func (c ClaimsConfig) GetTTL() time.Duration {
	return parseDuration(c.TTL, 10*time.Minute)
}

// GetKeep returns how many batch traces are retained.
func (r RecorderConfig) GetKeep() int {
	if r.Keep <= 0 {
		return 3
	}
	return r.Keep
}
