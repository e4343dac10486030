// Package recorder writes one JSONL trace per batch and keeps only the newest
// few on disk.
package recorder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"taskingbot-bridge/internal/action"
	"taskingbot-bridge/internal/config"
)

const (
	DefaultKeep = 3
	DefaultDir  = "traces"

	EventBatchStart   = "batch_start"
	EventActionResult = "action_result"
	EventBatchReport  = "batch_report"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// Event is a single trace line.
type Event struct {
	Timestamp time.Time   `json:"ts"`
	Type      string      `json:"type"`
	BatchID   string      `json:"batch_id"`
	Data      interface{} `json:"data"`
}

type trace struct {
	file    *os.File
	encoder *json.Encoder
}

// Recorder traces batches as they run. Several batches may be open at once;
// each gets its own file.
type Recorder struct {
	mu     sync.Mutex
	dir    string
	keep   int
	open   map[string]*trace
	logger *zap.Logger
	now    func() time.Time
}

// New creates the trace directory if needed.
func New(dir string, keep int, logger *zap.Logger) (*Recorder, error) {
	if dir == "" {
		dir = DefaultDir
	}
	if keep <= 0 {
		keep = DefaultKeep
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create trace dir: %w", err)
	}
	return &Recorder{
		dir:    dir,
		keep:   keep,
		open:   make(map[string]*trace),
		logger: logger.With(zap.String("component", "recorder")),
		now:    time.Now,
	}, nil
}

// FromConfig returns nil when tracing is disabled.
func FromConfig(cfg config.RecorderConfig, logger *zap.Logger) (*Recorder, error) {
	if !cfg.Enable {
		return nil, nil
	}
	return New(cfg.Dir, cfg.GetKeep(), logger)
}

// Dir is where traces are written.
func (r *Recorder) Dir() string { return r.dir }

// BatchStarted rotates old traces and opens a new one for the batch.
func (r *Recorder) BatchStarted(b action.Batch) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.open[b.ID]; ok {
		_ = t.file.Close()
		delete(r.open, b.ID)
	}
	if err := r.rotate(); err != nil {
		r.logger.Warn("trace rotation failed", zap.Error(err))
	}

	now := r.now()
	name := fmt.Sprintf("trace_%d_%s.jsonl", now.UnixMilli(), safeName(b.ID))
	f, err := os.Create(filepath.Join(r.dir, name))
	if err != nil {
		r.logger.Warn("trace create failed", zap.String("batch_id", b.ID), zap.Error(err))
		return
	}
	t := &trace{file: f, encoder: json.NewEncoder(f)}
	r.open[b.ID] = t
	r.write(t, EventBatchStart, b.ID, map[string]interface{}{
		"count":   len(b.Actions),
		"actions": b.Actions,
	})
}

// ActionFinished appends the action's result.
func (r *Recorder) ActionFinished(batchID string, a action.Action, res action.Result, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.open[batchID]
	if !ok {
		return
	}
	r.write(t, EventActionResult, batchID, map[string]interface{}{
		"action":     a,
		"result":     res,
		"elapsed_ms": elapsed.Milliseconds(),
	})
}

// BatchFinished writes the composite report and closes the trace.
func (r *Recorder) BatchFinished(b action.Batch, results []action.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.open[b.ID]
	if !ok {
		return
	}
	r.write(t, EventBatchReport, b.ID, map[string]interface{}{
		"status": action.Outcome(results),
		"report": action.BuildReport(b, results, r.now()),
	})
	if err := t.file.Close(); err != nil {
		r.logger.Warn("trace close failed", zap.String("batch_id", b.ID), zap.Error(err))
	}
	delete(r.open, b.ID)
}

func (r *Recorder) write(t *trace, eventType, batchID string, data interface{}) {
	evt := Event{Timestamp: r.now().UTC(), Type: eventType, BatchID: batchID, Data: data}
	if err := t.encoder.Encode(evt); err != nil {
		r.logger.Debug("trace write failed", zap.String("batch_id", batchID), zap.Error(err))
	}
}

// rotate keeps the newest keep-1 traces so the next one stays within keep.
// Open traces are never removed.
func (r *Recorder) rotate() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return err
	}
	openNames := make(map[string]bool, len(r.open))
	for _, t := range r.open {
		openNames[filepath.Base(t.file.Name())] = true
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" || !strings.HasPrefix(e.Name(), "trace_") {
			continue
		}
		if openNames[e.Name()] {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Sort(sort.Reverse(byStamp(names)))

	var errs error
	for i := r.keep - 1 - len(openNames); i < len(names); i++ {
		if i < 0 {
			continue
		}
		errs = multierr.Append(errs, os.Remove(filepath.Join(r.dir, names[i])))
	}
	return errs
}

// Close finishes any traces still open.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs error
	for id, t := range r.open {
		errs = multierr.Append(errs, t.file.Close())
		delete(r.open, id)
	}
	return errs
}

func safeName(id string) string {
	name := unsafeName.ReplaceAllString(id, "_")
	if name == "" {
		return "batch"
	}
	if len(name) > 64 {
		name = name[:64]
	}
	return name
}

// byStamp orders trace names by their millisecond stamp.
type byStamp []string

func (s byStamp) Len() int      { return len(s) }
func (s byStamp) Swap(i, j int) { s[i], s[j] = s[j], s[i] }
func (s byStamp) Less(i, j int) bool {
	return stamp(s[i]) < stamp(s[j])
}

func stamp(name string) int64 {
	var ms int64
	rest := strings.TrimPrefix(name, "trace_")
	for _, c := range rest {
		if c < '0' || c > '9' {
			break
		}
		ms = ms*10 + int64(c-'0')
	}
	return ms
}
