package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"taskingbot-bridge/internal/automation"
	"taskingbot-bridge/internal/browser"
	"taskingbot-bridge/internal/claim"
	"taskingbot-bridge/internal/config"
	"taskingbot-bridge/internal/credentials"
	"taskingbot-bridge/internal/logging"
	"taskingbot-bridge/internal/mangle"
	"taskingbot-bridge/internal/panel"
	"taskingbot-bridge/internal/policy"
	"taskingbot-bridge/internal/poller"
	"taskingbot-bridge/internal/recorder"
	"taskingbot-bridge/internal/remote"
)

// appOptions selects how the process is wired.
type appOptions struct {
	// stdio is set when stdin/stdout carry the MCP protocol.
	stdio bool
	// shareScreen starts a screencast of the host tab for screen_capture.
	shareScreen bool
}

// app holds the long-lived components shared by every command.
type app struct {
	cfg    config.Config
	wsDir  string
	opts   appOptions
	logger *zap.Logger

	engine     *mangle.Engine
	facts      *mangle.Recorder
	browser    *browser.Manager
	screencast *browser.Screencast
	exec       *automation.Executor
	gate       *policy.Gate
	confirms   *policy.Queue
	traces     *recorder.Recorder

	closers []func() error
}

func newApp(cfg config.Config, wsDir string, opts appOptions) (*app, error) {
	logger, closeLog, err := logging.New(cfg.Server, logging.Options{Stdio: opts.stdio, Level: logLevel})
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	a := &app{cfg: cfg, wsDir: wsDir, opts: opts, logger: logger}
	a.closers = append(a.closers, func() error { closeLog(); return nil })

	a.engine, err = mangle.NewEngine(cfg.Mangle, logger)
	if err != nil {
		a.Close(context.Background())
		return nil, fmt.Errorf("init fact ledger: %w", err)
	}
	a.facts = mangle.NewRecorder(a.engine, logger)

	a.traces, err = recorder.FromConfig(cfg.Recorder, logger)
	if err != nil {
		a.Close(context.Background())
		return nil, fmt.Errorf("init trace recorder: %w", err)
	}

	a.browser = browser.NewManager(cfg.Browser, cfg.Engine.GetLogWindow(), a.facts, logger)
	a.screencast = browser.NewScreencast(cfg.Engine.GetScreenshotMaxWidth(), logger)
	a.exec = automation.NewExecutor(
		automation.OptionsFromConfig(cfg.Engine, cfg.Remote.GetRequestTimeout()),
		a.browser, a.screencast, logger,
	)

	var confirmer policy.Confirmer
	confirmer, a.confirms = newConfirmer(cfg.Policy, opts.stdio, os.Stdin, os.Stderr, logger)
	a.gate = policy.NewGate(confirmer, logger)

	logger.Info("bridge initialized",
		zap.String("workspace", wsDir),
		zap.String("remote", cfg.Remote.BaseURL),
		zap.String("confirm_mode", cfg.Policy.ConfirmMode),
		zap.Bool("ledger", cfg.Mangle.Enable),
		zap.Bool("traces", a.traces != nil),
	)
	return a, nil
}

// newConfirmer maps policy.confirm_mode onto a confirmer. The terminal prompt
// is unusable while stdin carries MCP, so confirmations then go to the panel
// queue. A non-nil queue is returned whenever the panel answers them.
func newConfirmer(cfg config.PolicyConfig, stdio bool, in io.Reader, out io.Writer, logger *zap.Logger) (policy.Confirmer, *policy.Queue) {
	switch strings.ToLower(strings.TrimSpace(cfg.ConfirmMode)) {
	case "allow":
		return policy.Static(true), nil
	case "deny":
		return policy.Static(false), nil
	case "panel":
		q := policy.NewQueue(cfg.GetConfirmTimeout())
		return q, q
	default:
		if stdio {
			logger.Warn("confirm_mode prompt is unavailable over stdio; routing confirmations to the panel")
			q := policy.NewQueue(cfg.GetConfirmTimeout())
			return q, q
		}
		return policy.NewPrompt(in, out), nil
	}
}

// observers are attached to every runner.
func (a *app) observers() []automation.Observer {
	obs := []automation.Observer{a.facts}
	if a.traces != nil {
		obs = append(obs, a.traces)
	}
	return obs
}

// newRunner builds a runner. trackTabs routes navigation into new tabs so
// the host tab is never navigated away by a remote batch.
func (a *app) newRunner(trackTabs bool) *automation.Runner {
	return automation.NewRunner(a.exec, a.gate, automation.RunnerOptions{
		DataBudget: a.cfg.Engine.GetDataBudget(),
		TrackTabs:  trackTabs,
	}, a.logger, a.observers()...)
}

// hostPage connects to Chrome on first use and returns the host tab. The
// connection outlives the request that opened it.
func (a *app) hostPage(ctx context.Context) (automation.Page, error) {
	if err := a.browser.Start(context.WithoutCancel(ctx)); err != nil {
		return nil, err
	}
	tab, err := a.browser.Host(ctx)
	if err != nil {
		return nil, err
	}
	if a.opts.shareScreen && !a.screencast.Active() {
		if err := a.screencast.Start(context.WithoutCancel(ctx), tab); err != nil {
			a.logger.Warn("screen share unavailable", zap.Error(err))
		}
	}
	return tab, nil
}

func (a *app) newPanel() *panel.Service {
	return panel.NewService(a.newRunner(false), a.hostPage, a.confirms, a.cfg.Engine.GetLogWindow(), a.logger)
}

// newPoller wires the remote queue. The claim store is released by Close.
func (a *app) newPoller(ctx context.Context) (*poller.Poller, error) {
	tokens := credentials.FromConfig(a.cfg.Auth)
	if _, err := tokens.Token(ctx); errors.Is(err, credentials.ErrNoToken) {
		a.logger.Warn("no session token found; polling stays idle until one appears",
			zap.String("token_env", a.cfg.Auth.TokenEnv),
			zap.String("token_file", a.cfg.Auth.TokenFile),
			zap.String("dotenv_path", a.cfg.Auth.DotenvPath),
		)
	}
	claims, closeClaims, err := claim.FromConfig(ctx, a.cfg.Claims, a.logger)
	if err != nil {
		return nil, fmt.Errorf("init claims: %w", err)
	}
	a.closers = append(a.closers, closeClaims)

	client := remote.New(a.cfg.Remote, tokens, a.logger)
	return poller.New(client, tokens, a.newRunner(true), a.hostPage, claims, poller.OptionsFromConfig(a.cfg), a.logger), nil
}

// Close stops the screencast, the browser and every other resource, in
// reverse order of acquisition.
func (a *app) Close(ctx context.Context) error {
	var errs error
	if a.screencast != nil {
		a.screencast.Stop()
	}
	if a.browser != nil {
		errs = multierr.Append(errs, a.browser.Shutdown(ctx))
	}
	if a.traces != nil {
		errs = multierr.Append(errs, a.traces.Close())
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, a.closers[i]())
	}
	a.closers = nil
	return errs
}
