package automation

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"taskingbot-bridge/internal/action"
)

// Gate decides whether an action may run. A refusal carries the blocked or
// skipped result to report in its place.
type Gate interface {
	Check(ctx context.Context, a action.Action) (action.Result, bool)
}

// Observer is notified as a batch progresses. Implementations must not block.
type Observer interface {
	BatchStarted(b action.Batch)
	ActionFinished(batchID string, a action.Action, r action.Result, elapsed time.Duration)
	BatchFinished(b action.Batch, results []action.Result)
}

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	// DataBudget bounds the serialized size of each result payload.
	DataBudget int
	// TrackTabs routes navigate and open_tab into a new tab that later actions
	// of the same batch then target.
	TrackTabs bool
}

// Runner executes batches strictly in order. It never retries and never stops
// early: every action yields exactly one result.
type Runner struct {
	exec      *Executor
	gate      Gate
	opts      RunnerOptions
	observers []Observer
	logger    *zap.Logger
}

func NewRunner(exec *Executor, gate Gate, opts RunnerOptions, logger *zap.Logger, observers ...Observer) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		exec:      exec,
		gate:      gate,
		opts:      opts,
		observers: observers,
		logger:    logger.With(zap.String("component", "runner")),
	}
}

// Observe adds an observer.
func (r *Runner) Observe(o Observer) {
	r.observers = append(r.observers, o)
}

// Run executes every action of the batch against page. The returned slice has
// the same length and id order as batch.Actions. Batches on an Exclusive page
// run one at a time; tabs the batch tracked are closed when it ends.
func (r *Runner) Run(ctx context.Context, page Page, batch action.Batch) []action.Result {
	log := r.logger.With(zap.String("batch_id", batch.ID))
	if ex, ok := page.(Exclusive); ok {
		if err := ex.Acquire(ctx); err != nil {
			log.Warn("page busy, batch abandoned", zap.Error(err))
			return r.abandon(batch, fmt.Errorf("page busy: %w", err))
		}
		defer ex.Release()
	}

	log.Info("batch started", zap.Int("actions", len(batch.Actions)))
	for _, o := range r.observers {
		o.BatchStarted(batch)
	}

	current := page
	var opened []string
	results := make([]action.Result, 0, len(batch.Actions))
	for _, a := range batch.Actions {
		var res action.Result
		var tabID string
		res, current, tabID = r.step(ctx, current, batch.ID, a)
		if tabID != "" {
			opened = append(opened, tabID)
		}
		results = append(results, res)
	}
	r.closeTabs(log, opened)

	log.Info("batch finished", zap.String("outcome", action.Outcome(results)))
	for _, o := range r.observers {
		o.BatchFinished(batch, results)
	}
	return results
}

// RunOne executes a single action as a one-action batch.
func (r *Runner) RunOne(ctx context.Context, page Page, batchID string, a action.Action) action.Result {
	return r.Run(ctx, page, action.Batch{ID: batchID, Actions: []action.Action{a}})[0]
}

// abandon fails every action with err without touching the page.
func (r *Runner) abandon(batch action.Batch, err error) []action.Result {
	for _, o := range r.observers {
		o.BatchStarted(batch)
	}
	results := make([]action.Result, 0, len(batch.Actions))
	for _, a := range batch.Actions {
		res := action.Result{ID: a.ID, Type: a.Type, Status: action.StatusFailed, Error: err.Error()}
		for _, o := range r.observers {
			o.ActionFinished(batch.ID, a, res, 0)
		}
		results = append(results, res)
	}
	for _, o := range r.observers {
		o.BatchFinished(batch, results)
	}
	return results
}

func (r *Runner) closeTabs(log *zap.Logger, ids []string) {
	for _, id := range ids {
		if err := r.exec.CloseTab(id); err != nil {
			log.Warn("failed to close tracked tab", zap.String("tab_id", id), zap.Error(err))
		}
	}
}

// step runs one action and returns its result, the page later actions should
// target, and the id of a tab it opened for them.
func (r *Runner) step(ctx context.Context, page Page, batchID string, a action.Action) (action.Result, Page, string) {
	start := time.Now()
	log := r.logger.With(
		zap.String("batch_id", batchID),
		zap.String("action_id", a.ID),
		zap.String("action_type", string(a.Type)),
	)

	next := page
	var opened string
	var res action.Result
	if r.gate != nil {
		if refusal, ok := r.gate.Check(ctx, a); !ok {
			res = refusal
			log.Info("action refused", zap.String("status", string(res.Status)), zap.String("reason", res.Error))
		}
	}
	if res.Status == "" {
		var data map[string]interface{}
		var err error
		if r.opts.TrackTabs && (a.Type == action.Navigate || a.Type == action.OpenTab) {
			data, next, err = r.openTracked(ctx, page, a)
			if err == nil {
				opened, _ = data["tabId"].(string)
			}
		} else {
			data, err = r.safeExecute(ctx, page, a)
		}
		res = action.Result{ID: a.ID, Type: a.Type, Status: action.StatusSuccess, Data: action.Bound(data, r.opts.DataBudget)}
		if err != nil {
			res.Status = action.StatusFailed
			res.Data = nil
			res.Error = err.Error()
			log.Warn("action failed", zap.Error(err))
		} else {
			log.Debug("action succeeded", zap.Duration("elapsed", time.Since(start)))
		}
	}
	if res.ID == "" {
		res.ID = a.ID
	}
	if res.Type == "" {
		res.Type = a.Type
	}

	for _, o := range r.observers {
		o.ActionFinished(batchID, a, res, time.Since(start))
	}
	return res, next, opened
}

// openTracked opens the navigation target in a new tab and hands that tab to
// the rest of the batch. The host page is never navigated away.
func (r *Runner) openTracked(ctx context.Context, page Page, a action.Action) (map[string]interface{}, Page, error) {
	url := a.URL()
	if url == "" {
		return nil, page, fmt.Errorf("%s: missing url", a.Type)
	}
	tab, info, err := r.exec.OpenTab(ctx, url)
	if err != nil {
		return nil, page, fmt.Errorf("open tab %s: %w", url, err)
	}
	data := tabData(info, url)
	data["tracked"] = true
	return data, tab, nil
}

func (r *Runner) safeExecute(ctx context.Context, page Page, a action.Action) (data map[string]interface{}, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("action handler panicked",
				zap.String("action_id", a.ID),
				zap.Any("panic", p),
				zap.ByteString("stack", debug.Stack()),
			)
			data = nil
			err = fmt.Errorf("internal error: %v", p)
		}
	}()
	return r.exec.Execute(ctx, page, a)
}
