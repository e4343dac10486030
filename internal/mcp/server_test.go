package mcp

import (
	"context"
	"encoding/json"
	"sort"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"taskingbot-bridge/internal/automation"
	"taskingbot-bridge/internal/config"
	"taskingbot-bridge/internal/mangle"
	"taskingbot-bridge/internal/pagelog"
	"taskingbot-bridge/internal/panel"
	"taskingbot-bridge/internal/policy"
)

type stubPage struct {
	automation.Page
	logs *pagelog.Buffer
}

func (p stubPage) Info(context.Context) (automation.PageInfo, error) {
	return automation.PageInfo{URL: "https://app.example.com/", Title: "App", Width: 1280, Height: 720}, nil
}

func (p stubPage) Logs() *pagelog.Buffer { return p.logs }

type fixture struct {
	server *Server
	engine *mangle.Engine
	logs   *pagelog.Buffer
	queue  *policy.Queue
}

func setupTestServer(t *testing.T, withEngine bool) fixture {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.Name = "test-server"

	var engine *mangle.Engine
	var observers []automation.Observer
	if withEngine {
		var err error
		engine, err = mangle.NewEngine(config.MangleConfig{Enable: true, FactBufferLimit: 1000}, nil)
		if err != nil {
			t.Fatalf("NewEngine failed: %v", err)
		}
		observers = append(observers, mangle.NewRecorder(engine, nil))
	}

	logs := pagelog.NewBuffer(10)
	queue := policy.NewQueue(5 * time.Second)
	exec := automation.NewExecutor(automation.Options{}, nil, nil, nil)
	runner := automation.NewRunner(exec, policy.NewGate(queue, nil), automation.RunnerOptions{DataBudget: 4096}, nil, observers...)
	pages := func(context.Context) (automation.Page, error) { return stubPage{logs: logs}, nil }
	svc := panel.NewService(runner, pages, queue, 0, nil)

	server, err := NewServer(cfg, svc, engine, nil)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	return fixture{server: server, engine: engine, logs: logs, queue: queue}
}

func execTool(t *testing.T, s *Server, name string, args map[string]interface{}) map[string]interface{} {
	t.Helper()
	result, err := s.ExecuteTool(context.Background(), name, args)
	if err != nil {
		t.Fatalf("%s failed: %v", name, err)
	}
	m, ok := result.(map[string]interface{})
	if !ok {
		t.Fatalf("%s: expected map payload, got %T", name, result)
	}
	return m
}

func TestNewServer(t *testing.T) {
	f := setupTestServer(t, false)
	names := f.server.ToolNames()
	sort.Strings(names)
	want := []string{
		"extract-actions", "get-logs", "get-page-info", "pending-confirmations",
		"perform-actions", "query-facts", "read-facts", "resolve-confirmation", "submit-rule",
	}
	if len(names) != len(want) {
		t.Fatalf("expected %d tools, got %v", len(want), names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("expected tool %q, got %q", want[i], names[i])
		}
	}

	if _, err := NewServer(config.DefaultConfig(), nil, nil, nil); err == nil {
		t.Error("expected error without a panel service")
	}
	if _, err := f.server.ExecuteTool(context.Background(), "nope", nil); err == nil {
		t.Error("expected error for unknown tool")
	}
}

func TestToolSchemasAreObjects(t *testing.T) {
	f := setupTestServer(t, false)
	for name, tool := range f.server.tools {
		t.Run(name, func(t *testing.T) {
			if tool.Description() == "" {
				t.Error("expected non-empty description")
			}
			if tool.InputSchema()["type"] != "object" {
				t.Errorf("expected object schema, got %v", tool.InputSchema()["type"])
			}
		})
	}
}

func TestPerformActionsTool(t *testing.T) {
	f := setupTestServer(t, true)

	t.Run("runs batch", func(t *testing.T) {
		out := execTool(t, f.server, "perform-actions", map[string]interface{}{
			"actions": []interface{}{
				map[string]interface{}{"id": "w", "type": "wait", "ms": 0},
				map[string]interface{}{"id": "x", "type": "teleport"},
			},
		})
		if out["success"] != true || out["status"] != "failed" {
			t.Errorf("unexpected payload %v", out)
		}
	})

	t.Run("accepts json string", func(t *testing.T) {
		out := execTool(t, f.server, "perform-actions", map[string]interface{}{
			"actions": `{"actions":[{"type":"wait","ms":0}]}`,
		})
		if out["status"] != "completed" {
			t.Errorf("expected completed, got %v", out["status"])
		}
	})

	t.Run("missing actions", func(t *testing.T) {
		out := execTool(t, f.server, "perform-actions", map[string]interface{}{})
		if out["success"] != false {
			t.Errorf("expected failure payload, got %v", out)
		}
	})

	t.Run("facts recorded", func(t *testing.T) {
		out := execTool(t, f.server, "query-facts", map[string]interface{}{"query": `failed_action(B, A, T).`})
		if out["success"] != true || out["count"].(int) != 1 {
			t.Fatalf("expected one failed action, got %v", out)
		}
		row := out["results"].([]mangle.QueryResult)[0]
		if row["A"] != "x" {
			t.Errorf("expected failed action x, got %v", row["A"])
		}
	})
}

func TestExtractActionsTool(t *testing.T) {
	f := setupTestServer(t, false)
	text := "Sure, waiting now.\n[ACTIONS][{\"type\":\"wait\",\"ms\":0}][/ACTIONS]"

	out := execTool(t, f.server, "extract-actions", map[string]interface{}{"text": text})
	if out["count"] != 1 || out["clean_text"] != "Sure, waiting now." {
		t.Errorf("unexpected extraction %v", out)
	}
	if _, ran := out["status"]; ran {
		t.Error("expected actions not to run without run:true")
	}

	out = execTool(t, f.server, "extract-actions", map[string]interface{}{"text": text, "run": true})
	if out["status"] != "completed" {
		t.Errorf("expected extracted actions to run, got %v", out)
	}

	out = execTool(t, f.server, "extract-actions", map[string]interface{}{"text": "no actions here"})
	if out["count"] != 0 {
		t.Errorf("expected no actions, got %v", out["count"])
	}
}

func TestGetLogsTool(t *testing.T) {
	f := setupTestServer(t, false)
	now := time.Now()
	f.logs.AddConsole(pagelog.ConsoleEntry{Level: "log", Message: "hello", Timestamp: now})
	f.logs.AddConsole(pagelog.ConsoleEntry{Level: "error", Message: "boom", Timestamp: now})

	out := execTool(t, f.server, "get-logs", map[string]interface{}{})
	if got := len(out["consoleLogs"].([]pagelog.ConsoleEntry)); got != 2 {
		t.Errorf("expected 2 console entries, got %d", got)
	}
	if out["url"] != "https://app.example.com/" {
		t.Errorf("unexpected url %v", out["url"])
	}

	out = execTool(t, f.server, "get-logs", map[string]interface{}{"errors_only": true})
	console := out["consoleLogs"].([]pagelog.ConsoleEntry)
	if len(console) != 1 || console[0].Message != "boom" {
		t.Errorf("expected only the error entry, got %+v", console)
	}

	info := execTool(t, f.server, "get-page-info", nil)
	page := info["page"].(automation.PageInfo)
	if page.Title != "App" || page.Width != 1280 {
		t.Errorf("unexpected page info %+v", page)
	}
}

func TestConfirmationTools(t *testing.T) {
	f := setupTestServer(t, false)

	done := make(chan map[string]interface{}, 1)
	go func() {
		result, _ := f.server.ExecuteTool(context.Background(), "perform-actions", map[string]interface{}{
			"actions": []interface{}{map[string]interface{}{"id": "s", "type": "wait", "ms": 0, "confirm": true}},
		})
		done <- result.(map[string]interface{})
	}()

	var pending []policy.Request
	deadline := time.Now().Add(3 * time.Second)
	for len(pending) == 0 && time.Now().Before(deadline) {
		out := execTool(t, f.server, "pending-confirmations", nil)
		pending = out["confirmations"].([]policy.Request)
		if len(pending) == 0 {
			time.Sleep(10 * time.Millisecond)
		}
	}
	if len(pending) != 1 {
		t.Fatalf("expected one pending confirmation, got %d", len(pending))
	}

	out := execTool(t, f.server, "resolve-confirmation", map[string]interface{}{"id": pending[0].ID, "allow": false})
	if out["success"] != true {
		t.Fatalf("resolve failed: %v", out)
	}
	result := <-done
	if result["status"] != "failed" {
		t.Errorf("expected denied batch to be failed, got %v", result["status"])
	}

	out = execTool(t, f.server, "resolve-confirmation", map[string]interface{}{"id": "missing", "allow": true})
	if out["success"] != false {
		t.Errorf("expected failure for unknown id, got %v", out)
	}
}

func TestFactToolsWithoutLedger(t *testing.T) {
	f := setupTestServer(t, false)
	for _, name := range []string{"query-facts", "read-facts", "submit-rule"} {
		out := execTool(t, f.server, name, map[string]interface{}{"query": "x(A).", "rule": "y(A) :- x(A)."})
		if out["success"] != false {
			t.Errorf("%s: expected failure without ledger, got %v", name, out)
		}
	}
}

func TestSubmitRuleAndReadFacts(t *testing.T) {
	f := setupTestServer(t, true)
	execTool(t, f.server, "perform-actions", map[string]interface{}{
		"actions": []interface{}{map[string]interface{}{"id": "x", "type": "teleport"}},
	})

	out := execTool(t, f.server, "submit-rule", map[string]interface{}{"rule": "Decl unsupported(ActionID).\nunsupported(A) :- action_result(_, A, _, \"failed\")."})
	if out["success"] != true {
		t.Fatalf("submit-rule failed: %v", out)
	}

	out = execTool(t, f.server, "read-facts", map[string]interface{}{"predicate": "unsupported"})
	if out["count"].(int) != 1 {
		t.Errorf("expected derived fact, got %v", out)
	}

	out = execTool(t, f.server, "read-facts", map[string]interface{}{"predicate": "action_result", "limit": 1})
	if out["count"].(int) != 1 {
		t.Errorf("expected limit to apply, got %v", out["count"])
	}
}

func TestBatchFactsResource(t *testing.T) {
	f := setupTestServer(t, true)
	out := execTool(t, f.server, "perform-actions", map[string]interface{}{
		"actions": []interface{}{map[string]interface{}{"id": "w", "type": "wait", "ms": 0}},
	})
	batchID := out["batch_id"].(string)

	req := mcp.ReadResourceRequest{}
	req.Params.URI = "taskingbot://batch/" + batchID + "/facts"
	req.Params.Arguments = map[string]any{"batchId": batchID}
	contents, err := f.server.handleBatchFactsResource(context.Background(), req)
	if err != nil {
		t.Fatalf("resource read failed: %v", err)
	}
	text := contents[0].(mcp.TextResourceContents).Text
	var payload struct {
		Count int           `json:"count"`
		Facts []mangle.Fact `json:"facts"`
	}
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		t.Fatal(err)
	}
	// action_result + batch_outcome
	if payload.Count != 2 {
		t.Errorf("expected 2 facts for batch, got %d", payload.Count)
	}
	if payload.Facts[0].Predicate != "action_result" {
		t.Errorf("expected chronological order, got %s first", payload.Facts[0].Predicate)
	}
}
