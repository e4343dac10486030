package mangle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/mangle/ast"

	"taskingbot-bridge/internal/action"
	"taskingbot-bridge/internal/config"
)

func newTestEngine(t *testing.T, limit int) *Engine {
	t.Helper()
	engine, err := NewEngine(config.MangleConfig{Enable: true, FactBufferLimit: limit}, nil)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return engine
}

func TestEngineEmbeddedSchema(t *testing.T) {
	engine := newTestEngine(t, 1000)
	if !engine.Ready() {
		t.Fatal("engine not ready after embedded schema load")
	}
}

func TestEngineLoadSchemaError(t *testing.T) {
	_, err := NewEngine(config.MangleConfig{Enable: true, SchemaPath: "/nonexistent/bridge.mg"}, nil)
	if err == nil {
		t.Fatal("expected error for missing schema file")
	}
}

func TestEngineAddFacts(t *testing.T) {
	engine := newTestEngine(t, 1000)
	ctx := context.Background()
	facts := []Fact{
		{Predicate: "console_event", Args: []interface{}{"error", "Failed to load resource", int64(1234567890)}},
		{Predicate: "net_failure", Args: []interface{}{"https://api.example.com/data", "net::ERR_FAILED", int64(1234567800)}},
	}
	if err := engine.AddFacts(ctx, facts); err != nil {
		t.Fatalf("AddFacts failed: %v", err)
	}

	if got := len(engine.Facts()); got != 2 {
		t.Errorf("expected 2 facts, got %d", got)
	}
	console := engine.FactsByPredicate("console_event")
	if len(console) != 1 {
		t.Fatalf("expected 1 console_event, got %d", len(console))
	}
	if console[0].Timestamp.IsZero() {
		t.Error("expected timestamp to be filled in")
	}
}

func TestEngineQuery(t *testing.T) {
	engine := newTestEngine(t, 1000)
	ctx := context.Background()
	_ = engine.AddFacts(ctx, []Fact{
		{Predicate: "current_url", Args: []interface{}{"tab-1", "https://example.com/cart"}},
		{Predicate: "current_url", Args: []interface{}{"tab-2", "https://example.com/help"}},
	})

	results, err := engine.Query(ctx, `current_url("tab-1", URL).`)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0]["URL"] != "https://example.com/cart" {
		t.Errorf("expected cart url, got %v", results[0]["URL"])
	}
}

func TestEngineQueryParseError(t *testing.T) {
	engine := newTestEngine(t, 1000)
	if _, err := engine.Query(context.Background(), "this is not ( valid"); err == nil {
		t.Error("expected parse error")
	}
}

func TestEngineDerivedFacts(t *testing.T) {
	engine := newTestEngine(t, 1000)
	rec := NewRecorder(engine, nil)

	rec.ActionFinished("b1", action.Action{ID: "a1", Type: action.Click},
		action.Result{ID: "a1", Type: action.Click, Status: action.StatusSuccess}, time.Millisecond)
	rec.ActionFinished("b1", action.Action{ID: "a2", Type: action.TypeText},
		action.Result{ID: "a2", Type: action.TypeText, Status: action.StatusFailed, Error: "element not found"}, time.Millisecond)
	rec.BatchFinished(action.Batch{ID: "b1"}, []action.Result{
		{ID: "a1", Status: action.StatusSuccess},
		{ID: "a2", Status: action.StatusFailed},
	})

	ctx := context.Background()
	failed, err := engine.Evaluate(ctx, "failed_action")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(failed) != 1 {
		t.Fatalf("expected 1 failed_action, got %d", len(failed))
	}
	if failed[0].Args[1] != "a2" || failed[0].Args[2] != "type" {
		t.Errorf("unexpected failed_action args %v", failed[0].Args)
	}

	reasons, err := engine.Evaluate(ctx, "failed_with_reason")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(reasons) != 1 || reasons[0].Args[2] != "element not found" {
		t.Errorf("expected one failure reason, got %v", reasons)
	}

	batches, err := engine.Evaluate(ctx, "batch_failed")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(batches) != 1 || batches[0].Args[0] != "b1" {
		t.Errorf("expected b1 to be failed, got %v", batches)
	}
}

func TestRecorderNavigationAndNetwork(t *testing.T) {
	engine := newTestEngine(t, 1000)
	rec := NewRecorder(engine, nil)
	now := time.Now()

	rec.Navigation("tab-1", "https://example.com", now)
	rec.NetworkRequest("r1", "GET", "https://example.com/api", []string{"request_id:abc"}, now)
	rec.NetworkFailure("https://example.com/api", "net::ERR_ABORTED", now)
	rec.ConsoleEvent("exception", "boom", now)

	if got := len(engine.FactsByPredicate("navigation_event")); got != 1 {
		t.Errorf("expected 1 navigation_event, got %d", got)
	}
	if got := len(engine.FactsByPredicate("net_correlation")); got != 1 {
		t.Errorf("expected 1 net_correlation, got %d", got)
	}
	errs, err := engine.Evaluate(context.Background(), "console_error")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(errs) != 1 || errs[0].Args[0] != "boom" {
		t.Errorf("expected exception to surface as console_error, got %v", errs)
	}
}

func TestRecorderNilEngine(t *testing.T) {
	var rec *Recorder
	rec.add([]Fact{{Predicate: "console_event"}})
	NewRecorder(nil, nil).ConsoleEvent("log", "ignored", time.Now())
}

func TestEngineTemporalQuery(t *testing.T) {
	engine := newTestEngine(t, 1000)
	base := time.Now()
	_ = engine.AddFacts(context.Background(), []Fact{
		{Predicate: "console_event", Args: []interface{}{"log", "first", int64(1)}, Timestamp: base.Add(-2 * time.Second)},
		{Predicate: "console_event", Args: []interface{}{"log", "second", int64(2)}, Timestamp: base},
		{Predicate: "console_event", Args: []interface{}{"log", "third", int64(3)}, Timestamp: base.Add(2 * time.Second)},
	})

	got := engine.QueryTemporal("console_event", base.Add(-time.Second), base.Add(time.Second))
	if len(got) != 1 || got[0].Args[1] != "second" {
		t.Errorf("expected only the second event, got %v", got)
	}
	if all := engine.QueryTemporal("console_event", time.Time{}, time.Time{}); len(all) != 3 {
		t.Errorf("expected 3 events with open bounds, got %d", len(all))
	}
}

func TestEngineAddRule(t *testing.T) {
	engine := newTestEngine(t, 1000)
	rule := `
Decl click_failure(BatchID, ActionID).

click_failure(B, A) :- failed_action(B, A, "click").
`
	if err := engine.AddRule(rule); err != nil {
		t.Fatalf("AddRule failed: %v", err)
	}
	rec := NewRecorder(engine, nil)
	rec.ActionFinished("b9", action.Action{ID: "c1", Type: action.Click},
		action.Result{ID: "c1", Status: action.StatusFailed, Error: "x"}, 0)

	facts, err := engine.Evaluate(context.Background(), "click_failure")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(facts) != 1 {
		t.Errorf("expected 1 click_failure, got %d", len(facts))
	}
}

func TestEngineAddRuleParseError(t *testing.T) {
	engine := newTestEngine(t, 1000)
	if err := engine.AddRule("not a rule ((("); err == nil {
		t.Error("expected parse error")
	}
}

func TestEngineDisabled(t *testing.T) {
	engine, err := NewEngine(config.MangleConfig{Enable: false}, nil)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	if !engine.Ready() {
		t.Error("disabled engine should report ready")
	}
	if err := engine.AddFacts(context.Background(), []Fact{{Predicate: "console_event"}}); err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
	if len(engine.Facts()) != 0 {
		t.Error("disabled engine should not store facts")
	}
	if _, err := engine.Query(context.Background(), "current_url(T, U)."); !errors.Is(err, ErrNotReady) {
		t.Errorf("expected ErrNotReady, got %v", err)
	}
	if _, err := engine.Evaluate(context.Background(), "failed_action"); !errors.Is(err, ErrNotReady) {
		t.Errorf("expected ErrNotReady, got %v", err)
	}
	if err := engine.AddRule("Decl x(A)."); err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
}

func TestEngineBufferLimit(t *testing.T) {
	engine := newTestEngine(t, 5)
	ctx := context.Background()
	for i := 0; i < 8; i++ {
		_ = engine.AddFacts(ctx, []Fact{{Predicate: "batch_outcome", Args: []interface{}{"b", "completed", i}}})
	}
	facts := engine.Facts()
	if len(facts) != 5 {
		t.Fatalf("expected 5 facts after eviction, got %d", len(facts))
	}
	if facts[0].Args[2] != 3 {
		t.Errorf("expected oldest retained fact to be 3, got %v", facts[0].Args[2])
	}
	if got := len(engine.FactsByPredicate("batch_outcome")); got != 5 {
		t.Errorf("expected index rebuilt with 5 entries, got %d", got)
	}
}

func TestEngineSamplingRateThresholds(t *testing.T) {
	tests := []struct {
		fill int
		want float64
	}{
		{0, 1.0},
		{60, 0.8},
		{75, 0.5},
		{90, 0.2},
		{99, 0.1},
	}
	for _, tt := range tests {
		engine := newTestEngine(t, 100)
		engine.facts = make([]Fact, tt.fill)
		engine.updateSamplingRate()
		if engine.SamplingRate() != tt.want {
			t.Errorf("fill %d: expected %v, got %v", tt.fill, tt.want, engine.SamplingRate())
		}
	}
}

func TestEngineActionFactsNeverSampled(t *testing.T) {
	engine := newTestEngine(t, 100)
	engine.samplingRate = 0.1
	for i := 0; i < 50; i++ {
		if !engine.shouldAcceptFact(Fact{Predicate: "action_result"}) {
			t.Fatal("action_result must never be sampled out")
		}
	}
}

func TestToConstantTypes(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want interface{}
	}{
		{"string", "hello", "hello"},
		{"int", 42, int64(42)},
		{"int64", int64(7), int64(7)},
		{"float", 1.5, 1.5},
		{"bool", true, "true"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := convertConstant(toConstant(tt.in))
			if got != tt.want {
				t.Errorf("expected %v (%T), got %v (%T)", tt.want, tt.want, got, got)
			}
		})
	}
	if got := convertConstant(ast.Variable{Symbol: "X"}); got != "X" {
		t.Errorf("expected variable symbol, got %v", got)
	}
}
