// Package poller drives the remote action queue: fetch a pending batch, run
// it against the host page, report the composite outcome. A separate
// heartbeat keeps the bridge registered.
package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"taskingbot-bridge/internal/action"
	"taskingbot-bridge/internal/automation"
	"taskingbot-bridge/internal/claim"
	"taskingbot-bridge/internal/config"
	"taskingbot-bridge/internal/credentials"
	"taskingbot-bridge/internal/remote"
)

// State is the poller's position in its cycle.
type State int32

const (
	Idle State = iota
	Polling
	Dispatching
	Reporting
)

func (s State) String() string {
	switch s {
	case Polling:
		return "polling"
	case Dispatching:
		return "dispatching"
	case Reporting:
		return "reporting"
	}
	return "idle"
}

// Outcome describes how one tick ended.
type Outcome string

const (
	OutcomeBusy         Outcome = "busy"
	OutcomeNoToken      Outcome = "no_token"
	OutcomeEmpty        Outcome = "empty"
	OutcomeUnauthorized Outcome = "unauthorized"
	OutcomeTransport    Outcome = "transport_error"
	OutcomeClaimed      Outcome = "already_claimed"
	OutcomeNoPage       Outcome = "no_page"
	OutcomeReported     Outcome = "reported"
	OutcomeReportFailed Outcome = "report_failed"
)

// Queue is the remote side of the cycle.
type Queue interface {
	FetchPending(ctx context.Context) (action.Batch, error)
	Report(ctx context.Context, r remote.Report) error
	Heartbeat(ctx context.Context, h remote.Heartbeat) error
}

// Options tunes the poller.
type Options struct {
	Interval          time.Duration
	HeartbeatInterval time.Duration
	ClaimTTL          time.Duration
	ExtensionID       string
	Capabilities      []string
}

// OptionsFromConfig reads the poll settings.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Interval:          cfg.Remote.GetPollInterval(),
		HeartbeatInterval: cfg.Remote.GetHeartbeatInterval(),
		ClaimTTL:          cfg.Claims.GetTTL(),
		ExtensionID:       cfg.Remote.ExtensionID,
		Capabilities:      cfg.Remote.Capabilities,
	}
}

// Poller runs one cycle at a time. The busy flag makes overlapping ticks
// no-ops.
type Poller struct {
	queue  Queue
	tokens credentials.Source
	runner *automation.Runner
	pages  automation.PageFunc
	claims claim.Store
	opts   Options
	owner  string
	logger *zap.Logger

	busy  atomic.Bool
	state atomic.Int32
	now   func() time.Time
}

func New(queue Queue, tokens credentials.Source, runner *automation.Runner, pages automation.PageFunc, claims claim.Store, opts Options, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if claims == nil {
		claims = claim.NewMemory()
	}
	return &Poller{
		queue:  queue,
		tokens: tokens,
		runner: runner,
		pages:  pages,
		claims: claims,
		opts:   opts,
		owner:  "poller-" + uuid.NewString(),
		logger: logger.With(zap.String("component", "poller")),
		now:    time.Now,
	}
}

// State returns the current cycle state.
func (p *Poller) State() State {
	return State(p.state.Load())
}

// Owner is the id this poller claims batches under.
func (p *Poller) Owner() string { return p.owner }

// Run ticks until ctx ends. The heartbeat runs on its own timer. Run returns
// only after in-flight ticks and heartbeats finish.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("poller started",
		zap.Duration("interval", p.opts.Interval),
		zap.Duration("heartbeat_interval", p.opts.HeartbeatInterval),
		zap.String("owner", p.owner),
	)
	poll := time.NewTicker(p.opts.Interval)
	defer poll.Stop()
	beat := time.NewTicker(p.opts.HeartbeatInterval)
	defer beat.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	p.Beat(ctx)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped")
			return ctx.Err()
		case <-poll.C:
			// the busy flag drops ticks that arrive mid-batch
			wg.Add(1)
			go func() {
				defer wg.Done()
				p.Tick(ctx)
			}()
		case <-beat.C:
			wg.Add(1)
			go func() {
				defer wg.Done()
				p.Beat(ctx)
			}()
		}
	}
}

// Tick runs one cycle: credentials, fetch, claim, dispatch, report.
func (p *Poller) Tick(ctx context.Context) Outcome {
	if !p.busy.CompareAndSwap(false, true) {
		return OutcomeBusy
	}
	defer func() {
		p.state.Store(int32(Idle))
		p.busy.Store(false)
	}()
	p.state.Store(int32(Polling))

	if _, err := p.tokens.Token(ctx); err != nil {
		if !errors.Is(err, credentials.ErrNoToken) {
			p.logger.Warn("token lookup failed", zap.Error(err))
		}
		return OutcomeNoToken
	}

	batch, err := p.queue.FetchPending(ctx)
	switch {
	case errors.Is(err, remote.ErrNoBatch):
		return OutcomeEmpty
	case errors.Is(err, remote.ErrUnauthorized), errors.Is(err, credentials.ErrNoToken):
		p.logger.Debug("session rejected, skipping cycle")
		return OutcomeUnauthorized
	case err != nil:
		p.logger.Warn("fetch pending failed", zap.Error(err))
		return OutcomeTransport
	}

	log := p.logger.With(zap.String("batch_id", batch.ID))
	ok, err := p.claims.Claim(ctx, batch.ID, p.owner, p.opts.ClaimTTL)
	if err != nil {
		log.Warn("claim failed", zap.Error(err))
		return OutcomeTransport
	}
	if !ok {
		log.Info("batch already claimed, skipping")
		return OutcomeClaimed
	}

	page, err := p.pages(ctx)
	if err != nil {
		log.Warn("no page to run batch on", zap.Error(err))
		if rerr := p.claims.Release(ctx, batch.ID, p.owner); rerr != nil {
			log.Warn("claim release failed", zap.Error(rerr))
		}
		return OutcomeNoPage
	}

	p.state.Store(int32(Dispatching))
	results := p.runner.Run(ctx, page, batch)

	p.state.Store(int32(Reporting))
	report := remote.Report{
		ID:     batch.ID,
		Result: action.BuildReport(batch, results, p.now()),
		Status: action.Outcome(results),
	}
	if err := p.queue.Report(ctx, report); err != nil {
		log.Warn("report failed", zap.Error(err))
		return OutcomeReportFailed
	}
	log.Info("batch reported", zap.String("status", report.Status), zap.Int("results", len(results)))
	return OutcomeReported
}

// Beat sends one heartbeat with the host tab's context. Missing credentials
// skip it silently.
func (p *Poller) Beat(ctx context.Context) {
	if _, err := p.tokens.Token(ctx); err != nil {
		return
	}
	hb := remote.Heartbeat{ExtensionID: p.opts.ExtensionID, Capabilities: p.opts.Capabilities}
	if hb.Capabilities == nil {
		hb.Capabilities = []string{}
	}
	if page, err := p.pages(ctx); err == nil {
		if info, err := page.Info(ctx); err == nil {
			hb.TabURL = info.URL
			hb.TabTitle = info.Title
		}
	}
	if err := p.queue.Heartbeat(ctx, hb); err != nil {
		p.logger.Debug("heartbeat failed", zap.Error(err))
	}
}
