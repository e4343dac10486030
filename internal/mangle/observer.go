package mangle

import (
	"context"
	"time"

	"go.uber.org/zap"

	"taskingbot-bridge/internal/action"
)

// Recorder turns batch progress into ledger facts. It satisfies the runner's
// observer contract.
type Recorder struct {
	engine *Engine
	logger *zap.Logger
}

func NewRecorder(engine *Engine, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{engine: engine, logger: logger}
}

func (r *Recorder) BatchStarted(action.Batch) {}

func (r *Recorder) ActionFinished(batchID string, a action.Action, res action.Result, _ time.Duration) {
	now := time.Now()
	facts := []Fact{{
		Predicate: "action_result",
		Args:      []interface{}{batchID, res.ID, string(a.Type), string(res.Status)},
		Timestamp: now,
	}}
	if res.Error != "" {
		facts = append(facts, Fact{
			Predicate: "action_error",
			Args:      []interface{}{batchID, res.ID, res.Error},
			Timestamp: now,
		})
	}
	r.add(facts)
}

func (r *Recorder) BatchFinished(b action.Batch, results []action.Result) {
	r.add([]Fact{{
		Predicate: "batch_outcome",
		Args:      []interface{}{b.ID, action.Outcome(results), len(results)},
		Timestamp: time.Now(),
	}})
}

// ConsoleEvent records a console message of the active page.
func (r *Recorder) ConsoleEvent(level, message string, at time.Time) {
	r.add([]Fact{{Predicate: "console_event", Args: []interface{}{level, message, at.UnixMilli()}, Timestamp: at}})
}

// NetworkRequest records an outgoing request and the correlation keys found
// on it.
func (r *Recorder) NetworkRequest(requestID, method, url string, keys []string, at time.Time) {
	facts := []Fact{{Predicate: "net_request", Args: []interface{}{requestID, method, url, at.UnixMilli()}, Timestamp: at}}
	for _, k := range keys {
		facts = append(facts, Fact{Predicate: "net_correlation", Args: []interface{}{url, k}, Timestamp: at})
	}
	r.add(facts)
}

// NetworkResponse records a response status.
func (r *Recorder) NetworkResponse(url string, status int, at time.Time) {
	r.add([]Fact{{Predicate: "net_response", Args: []interface{}{url, status, at.UnixMilli()}, Timestamp: at}})
}

// NetworkFailure records a request that produced no response.
func (r *Recorder) NetworkFailure(url, reason string, at time.Time) {
	r.add([]Fact{{Predicate: "net_failure", Args: []interface{}{url, reason, at.UnixMilli()}, Timestamp: at}})
}

// Navigation records a committed navigation of a tab.
func (r *Recorder) Navigation(tabID, url string, at time.Time) {
	r.add([]Fact{
		{Predicate: "navigation_event", Args: []interface{}{tabID, url, at.UnixMilli()}, Timestamp: at},
		{Predicate: "current_url", Args: []interface{}{tabID, url}, Timestamp: at},
	})
}

func (r *Recorder) add(facts []Fact) {
	if r == nil || r.engine == nil {
		return
	}
	if err := r.engine.AddFacts(context.Background(), facts); err != nil {
		r.logger.Debug("fact insertion failed", zap.Error(err))
	}
}
