// Package panel is the local control surface: run actions on demand, read the
// page monitor and answer pending confirmations. The HTTP API and the MCP
// tools both sit on top of Service.
package panel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"taskingbot-bridge/internal/action"
	"taskingbot-bridge/internal/automation"
	"taskingbot-bridge/internal/pagelog"
	"taskingbot-bridge/internal/policy"
)

var (
	// ErrNoActions is returned when a request carries nothing to run.
	ErrNoActions = errors.New("no actions to perform")
	// ErrNoConfirmations means confirmations are not routed to the panel.
	ErrNoConfirmations = errors.New("panel confirmations are not enabled")
)

// Performed is the answer to PerformActions.
type Performed struct {
	BatchID string          `json:"batchId"`
	Status  string          `json:"status"`
	Results []action.Result `json:"results"`
	Report  string          `json:"report"`
}

// Logs is the page monitor snapshot returned by GetLogs.
type Logs struct {
	ConsoleLogs []pagelog.ConsoleEntry `json:"consoleLogs"`
	NetworkLogs []pagelog.NetworkEntry `json:"networkLogs"`
	URL         string                 `json:"url"`
	Title       string                 `json:"title"`
}

// Service runs panel requests against the host page.
type Service struct {
	runner    *automation.Runner
	pages     automation.PageFunc
	confirms  *policy.Queue
	logWindow int
	logger    *zap.Logger
}

// NewService wires the panel. confirms may be nil when confirmations are
// answered elsewhere.
func NewService(runner *automation.Runner, pages automation.PageFunc, confirms *policy.Queue, logWindow int, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if logWindow <= 0 {
		logWindow = pagelog.DefaultCapacity
	}
	return &Service{
		runner:    runner,
		pages:     pages,
		confirms:  confirms,
		logWindow: logWindow,
		logger:    logger.With(zap.String("component", "panel")),
	}
}

// PerformActions runs the actions as one locally created batch.
func (s *Service) PerformActions(ctx context.Context, actions []action.Action) (Performed, error) {
	if len(actions) == 0 {
		return Performed{}, ErrNoActions
	}
	page, err := s.pages(ctx)
	if err != nil {
		return Performed{}, fmt.Errorf("host page: %w", err)
	}
	batch := action.NewBatch(actions)
	results := s.runner.Run(ctx, page, batch)
	return Performed{
		BatchID: batch.ID,
		Status:  action.Outcome(results),
		Results: results,
		Report:  action.BuildReport(batch, results, time.Now()),
	}, nil
}

// GetLogs returns the retained console and network entries of the host page.
func (s *Service) GetLogs(ctx context.Context) (Logs, error) {
	page, err := s.pages(ctx)
	if err != nil {
		return Logs{}, fmt.Errorf("host page: %w", err)
	}
	out := Logs{ConsoleLogs: []pagelog.ConsoleEntry{}, NetworkLogs: []pagelog.NetworkEntry{}}
	if buf := page.Logs(); buf != nil {
		out.ConsoleLogs = buf.Console(s.logWindow)
		out.NetworkLogs = buf.Network(s.logWindow)
	}
	if info, err := page.Info(ctx); err == nil {
		out.URL = info.URL
		out.Title = info.Title
	} else {
		s.logger.Debug("page info unavailable", zap.Error(err))
	}
	return out, nil
}

// PageInfo describes the host page.
func (s *Service) PageInfo(ctx context.Context) (automation.PageInfo, error) {
	page, err := s.pages(ctx)
	if err != nil {
		return automation.PageInfo{}, fmt.Errorf("host page: %w", err)
	}
	return page.Info(ctx)
}

// PendingConfirmations lists confirmations waiting for an answer.
func (s *Service) PendingConfirmations() []policy.Request {
	if s.confirms == nil {
		return []policy.Request{}
	}
	return s.confirms.Pending()
}

// ResolveConfirmation answers one pending confirmation.
func (s *Service) ResolveConfirmation(id string, allow bool) error {
	if s.confirms == nil {
		return ErrNoConfirmations
	}
	if err := s.confirms.Resolve(id, allow); err != nil {
		return err
	}
	s.logger.Info("confirmation resolved", zap.String("confirmation_id", id), zap.Bool("allow", allow))
	return nil
}
