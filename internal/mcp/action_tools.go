package mcp

import (
	"context"
	"errors"
	"fmt"

	"taskingbot-bridge/internal/action"
	"taskingbot-bridge/internal/panel"
)

// decodeActionsArg accepts the actions argument as an array, an object with
// an actions array, or a JSON string of either.
func decodeActionsArg(args map[string]interface{}) ([]action.Action, error) {
	switch v := args["actions"].(type) {
	case nil:
		return nil, errors.New("actions is required")
	case string:
		return action.DecodeJSON([]byte(v))
	case []interface{}:
		return action.DecodeAll(action.ListFrom(v)), nil
	case map[string]interface{}:
		return action.DecodeAll(action.ListFrom(v)), nil
	default:
		return nil, fmt.Errorf("actions must be an array, got %T", v)
	}
}

func performedPayload(out panel.Performed) map[string]interface{} {
	return map[string]interface{}{
		"success":  true,
		"batch_id": out.BatchID,
		"status":   out.Status,
		"results":  out.Results,
		"report":   out.Report,
	}
}

type PerformActionsTool struct {
	panel *panel.Service
}

func (t *PerformActionsTool) Name() string { return "perform-actions" }
func (t *PerformActionsTool) Description() string {
	return `Run a batch of browser actions on the host page, in order.

Every action yields exactly one result (success, failed, blocked or skipped);
a failure never stops the batch. Navigation and sensitive actions pass the
policy gate first.

ACTION VERBS:
click, type, select, set_value, upload_file, scroll, extract, submit, focus,
hover, wait, navigate, open_tab, screenshot, screen_capture, get_form_fields,
get_page_info, get_console_logs, get_network_logs.

TARGETING: selector (CSS, or XPath starting with // or xpath:), text/label
(visible text, aria-label, placeholder, label), or x/y coordinates.
Add waitFor:true with timeoutMs to poll for late elements.

Returns: {batch_id, status: completed|failed, results: [{id,type,status,data,error}], report}`
}
func (t *PerformActionsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"actions": map[string]interface{}{
				"type":        "array",
				"description": "Actions such as {\"type\":\"click\",\"selector\":\"#submit\"}",
				"items":       map[string]interface{}{"type": "object"},
			},
		},
		"required": []string{"actions"},
	}
}
func (t *PerformActionsTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	actions, err := decodeActionsArg(args)
	if err != nil {
		return failure(err), nil
	}
	out, err := t.panel.PerformActions(ctx, actions)
	if err != nil {
		return failure(err), nil
	}
	return performedPayload(out), nil
}

type ExtractActionsTool struct {
	panel *panel.Service
}

func (t *ExtractActionsTool) Name() string { return "extract-actions" }
func (t *ExtractActionsTool) Description() string {
	return `Parse actions embedded in assistant text.

Looks for an [ACTIONS]...[/ACTIONS] block first, then a fenced json block that
mentions "actions". The payload may be an array or {actions: [...]}.

Set run:true to perform the extracted actions immediately.

Returns: {clean_text, count, actions} and, when run, the batch outcome.`
}
func (t *ExtractActionsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"text": map[string]interface{}{
				"type":        "string",
				"description": "Assistant message text",
			},
			"run": map[string]interface{}{
				"type":        "boolean",
				"description": "Perform the extracted actions (default: false)",
			},
		},
		"required": []string{"text"},
	}
}
func (t *ExtractActionsTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	clean, actions := action.ExtractFromText(getStringArg(args, "text"))
	if actions == nil {
		actions = []action.Action{}
	}
	payload := map[string]interface{}{
		"success":    true,
		"clean_text": clean,
		"count":      len(actions),
		"actions":    actions,
	}
	if !getBoolArg(args, "run", false) || len(actions) == 0 {
		return payload, nil
	}
	out, err := t.panel.PerformActions(ctx, actions)
	if err != nil {
		return failure(err), nil
	}
	for k, v := range performedPayload(out) {
		payload[k] = v
	}
	return payload, nil
}

type GetLogsTool struct {
	panel *panel.Service
}

func (t *GetLogsTool) Name() string { return "get-logs" }
func (t *GetLogsTool) Description() string {
	return `Read the page monitor of the host tab: recent console messages
(log/info/warn/error/debug plus uncaught exceptions) and fetch/xhr requests.

Returns: {consoleLogs, networkLogs, url, title}`
}
func (t *GetLogsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"errors_only": map[string]interface{}{
				"type":        "boolean",
				"description": "Keep only console errors and failed requests",
			},
		},
	}
}
func (t *GetLogsTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	logs, err := t.panel.GetLogs(ctx)
	if err != nil {
		return failure(err), nil
	}
	if getBoolArg(args, "errors_only", false) {
		console := logs.ConsoleLogs[:0]
		for _, e := range logs.ConsoleLogs {
			if e.IsError() {
				console = append(console, e)
			}
		}
		network := logs.NetworkLogs[:0]
		for _, e := range logs.NetworkLogs {
			if e.IsError() {
				network = append(network, e)
			}
		}
		logs.ConsoleLogs, logs.NetworkLogs = console, network
	}
	return map[string]interface{}{
		"success":     true,
		"consoleLogs": logs.ConsoleLogs,
		"networkLogs": logs.NetworkLogs,
		"url":         logs.URL,
		"title":       logs.Title,
	}, nil
}

type GetPageInfoTool struct {
	panel *panel.Service
}

func (t *GetPageInfoTool) Name() string { return "get-page-info" }
func (t *GetPageInfoTool) Description() string {
	return `Describe the host tab: url, title, viewport size and scroll offsets.`
}
func (t *GetPageInfoTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *GetPageInfoTool) Execute(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	info, err := t.panel.PageInfo(ctx)
	if err != nil {
		return failure(err), nil
	}
	return map[string]interface{}{"success": true, "page": info}, nil
}

type PendingConfirmationsTool struct {
	panel *panel.Service
}

func (t *PendingConfirmationsTool) Name() string { return "pending-confirmations" }
func (t *PendingConfirmationsTool) Description() string {
	return `List sensitive actions waiting for a human decision.

Only populated when policy.confirm_mode is "panel". Unanswered requests are
denied once the confirmation timeout elapses.

Returns: {confirmations: [{id, action_id, type, summary, created_at, expires_at}]}`
}
func (t *PendingConfirmationsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *PendingConfirmationsTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	pending := t.panel.PendingConfirmations()
	return map[string]interface{}{"success": true, "count": len(pending), "confirmations": pending}, nil
}

type ResolveConfirmationTool struct {
	panel *panel.Service
}

func (t *ResolveConfirmationTool) Name() string { return "resolve-confirmation" }
func (t *ResolveConfirmationTool) Description() string {
	return `Approve or deny a pending confirmation by id.

A denied action is reported as skipped with "User denied confirmation."`
}
func (t *ResolveConfirmationTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"id": map[string]interface{}{
				"type":        "string",
				"description": "Confirmation id from pending-confirmations",
			},
			"allow": map[string]interface{}{
				"type":        "boolean",
				"description": "true to run the action, false to skip it",
			},
		},
		"required": []string{"id", "allow"},
	}
}
func (t *ResolveConfirmationTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	id := getStringArg(args, "id")
	if id == "" {
		return failure(errors.New("id is required")), nil
	}
	allow := getBoolArg(args, "allow", false)
	if err := t.panel.ResolveConfirmation(id, allow); err != nil {
		return failure(err), nil
	}
	return map[string]interface{}{"success": true, "id": id, "allow": allow}, nil
}
