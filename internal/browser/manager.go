package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"taskingbot-bridge/internal/automation"
	"taskingbot-bridge/internal/config"
)

// ErrNotConnected is returned when no browser is attached.
var ErrNotConnected = errors.New("browser not connected")

// EventSink receives normalized page telemetry.
type EventSink interface {
	ConsoleEvent(level, message string, at time.Time)
	NetworkRequest(requestID, method, url string, keys []string, at time.Time)
	NetworkResponse(url string, status int, at time.Time)
	NetworkFailure(url, reason string, at time.Time)
	Navigation(tabID, url string, at time.Time)
}

// Manager owns the Chrome connection, the host tab actions run against and
// any tabs opened on the way.
type Manager struct {
	cfg       config.BrowserConfig
	logWindow int
	sink      EventSink
	logger    *zap.Logger

	startMu    sync.Mutex
	mu         sync.RWMutex
	browser    *rod.Browser
	controlURL string
	tabs       map[string]*Tab
	hostID     string
	streamCtx  context.Context
	stopStream context.CancelFunc
}

func NewManager(cfg config.BrowserConfig, logWindow int, sink EventSink, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:       cfg,
		logWindow: logWindow,
		sink:      sink,
		logger:    logger.With(zap.String("component", "browser")),
		tabs:      make(map[string]*Tab),
	}
}

// Start connects to an existing Chrome or launches one with rod's launcher.
// A healthy connection is reused.
func (m *Manager) Start(ctx context.Context) error {
	m.startMu.Lock()
	defer m.startMu.Unlock()

	m.mu.RLock()
	current := m.browser
	m.mu.RUnlock()
	if current != nil {
		if _, err := current.Version(); err == nil {
			return nil
		}
		m.logger.Warn("stale browser connection detected, reconnecting")
		_ = current.Close()
		m.mu.Lock()
		m.browser = nil
		m.controlURL = ""
		m.tabs = make(map[string]*Tab)
		m.hostID = ""
		m.mu.Unlock()
	}

	controlURL := m.cfg.DebuggerURL
	if controlURL == "" {
		url, err := m.launch()
		if err != nil {
			return err
		}
		controlURL = url
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.browser = browser
	m.controlURL = controlURL
	m.streamCtx = streamCtx
	m.stopStream = cancel
	m.mu.Unlock()
	m.logger.Info("browser connected", zap.String("control_url", controlURL))
	return nil
}

func (m *Manager) launch() (string, error) {
	l := launcher.New().Headless(m.cfg.IsHeadless())
	bin := ""
	if len(m.cfg.Launch) > 0 {
		bin = m.cfg.Launch[0]
		l = l.Bin(bin)
		for _, rawFlag := range m.cfg.Launch[1:] {
			name, val, hasVal := strings.Cut(strings.TrimLeft(rawFlag, "-"), "=")
			if hasVal {
				l = l.Set(flags.Flag(name), val)
			} else {
				l = l.Set(flags.Flag(name))
			}
		}
	}
	url, err := l.Launch()
	if err == nil {
		return url, nil
	}
	// Retry with rod's defaults for port and profile.
	fallback := launcher.New().Headless(m.cfg.IsHeadless())
	if bin != "" {
		fallback = fallback.Bin(bin)
	}
	alt, altErr := fallback.Launch()
	if altErr != nil {
		return "", fmt.Errorf("launch chrome: %w (fallback: %v)", err, altErr)
	}
	return alt, nil
}

// ControlURL returns the DevTools websocket URL of the connected browser.
func (m *Manager) ControlURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.controlURL
}

func (m *Manager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser != nil
}

// Shutdown stops event streams, closes opened tabs and disconnects. A browser
// that was attached through debugger_url keeps its host tab.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopStream != nil {
		m.stopStream()
		m.stopStream = nil
	}
	var err error
	for id, tab := range m.tabs {
		if id == m.hostID && m.cfg.DebuggerURL != "" {
			delete(m.tabs, id)
			continue
		}
		if cerr := tab.page.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("close tab %s: %w", id, cerr))
		}
		delete(m.tabs, id)
	}
	m.hostID = ""
	if m.browser != nil {
		if m.cfg.DebuggerURL == "" {
			err = multierr.Append(err, m.browser.Close())
		}
		m.browser = nil
	}
	m.controlURL = ""
	m.logger.Info("browser shutdown complete")
	return err
}

// Host returns the page batches run against. When attached to a running
// browser the first regular page is adopted; otherwise one is opened on the
// configured start URL.
func (m *Manager) Host(ctx context.Context) (*Tab, error) {
	m.mu.RLock()
	browser := m.browser
	host := m.tabs[m.hostID]
	m.mu.RUnlock()
	if browser == nil {
		return nil, ErrNotConnected
	}
	if host != nil {
		return host, nil
	}

	var page *rod.Page
	if m.cfg.DebuggerURL != "" {
		pages, err := browser.Context(ctx).Pages()
		if err != nil {
			return nil, fmt.Errorf("list pages: %w", err)
		}
		for _, p := range pages {
			info, err := p.Info()
			if err == nil && !isInternalScript(info.URL) {
				page = p
				break
			}
		}
	}
	if page == nil {
		start := coalesceNonEmpty(m.cfg.StartURL, "about:blank")
		p, err := m.createPage(ctx, browser, start)
		if err != nil {
			return nil, err
		}
		page = p
	}

	tab := m.track(page)
	m.mu.Lock()
	m.hostID = tab.meta.ID
	m.mu.Unlock()
	m.logger.Info("host tab ready", zap.String("tab_id", tab.meta.ID), zap.String("target_id", tab.meta.TargetID))
	return tab, nil
}

// OpenTab opens url in a new tab and waits for it to load. It satisfies
// automation.TabOpener.
func (m *Manager) OpenTab(ctx context.Context, url string) (automation.Page, automation.PageInfo, error) {
	m.mu.RLock()
	browser := m.browser
	m.mu.RUnlock()
	if browser == nil {
		return nil, automation.PageInfo{}, ErrNotConnected
	}

	page, err := m.createPage(ctx, browser, url)
	if err != nil {
		return nil, automation.PageInfo{}, err
	}
	tab := m.track(page)
	if err := page.Context(ctx).Timeout(m.cfg.NavigationTimeout()).WaitLoad(); err != nil {
		m.logger.Debug("new tab did not finish loading", zap.String("url", url), zap.Error(err))
	}
	info, err := tab.Info(ctx)
	if err != nil {
		info = automation.PageInfo{TabID: tab.meta.ID, URL: url}
	}
	m.logger.Info("tab opened", zap.String("tab_id", tab.meta.ID), zap.String("url", info.URL))
	return tab, info, nil
}

// CloseTab closes a tab opened by the bridge and stops its event stream. The
// host tab is never closed. It satisfies automation.TabOpener.
func (m *Manager) CloseTab(id string) error {
	m.mu.Lock()
	tab, ok := m.tabs[id]
	if ok && id != m.hostID {
		delete(m.tabs, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown tab %s", id)
	}
	if id == m.hostID {
		return errors.New("refusing to close the host tab")
	}
	if tab.stopStream != nil {
		tab.stopStream()
	}
	if err := tab.page.Close(); err != nil {
		return fmt.Errorf("close tab %s: %w", id, err)
	}
	m.logger.Debug("tab closed", zap.String("tab_id", id))
	return nil
}

func (m *Manager) createPage(ctx context.Context, browser *rod.Browser, url string) (*rod.Page, error) {
	page, err := browser.Context(ctx).Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             m.cfg.GetViewportWidth(),
		Height:            m.cfg.GetViewportHeight(),
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		m.logger.Warn("failed to set viewport", zap.Error(err))
	}
	return page, nil
}

func (m *Manager) track(page *rod.Page) *Tab {
	tab := newTab(uuid.NewString(), page, m.logWindow, m.cfg.NavigationTimeout())
	m.mu.Lock()
	m.tabs[tab.meta.ID] = tab
	streamCtx := m.streamCtx
	m.mu.Unlock()
	if streamCtx == nil {
		streamCtx = context.Background()
	}
	tabCtx, cancel := context.WithCancel(streamCtx)
	tab.stopStream = cancel
	m.startEventStream(tabCtx, tab)
	return tab
}
