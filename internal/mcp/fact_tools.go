package mcp

import (
	"context"
	"errors"

	"taskingbot-bridge/internal/mangle"
)

var errLedgerDisabled = errors.New("fact ledger is disabled (set mangle.enable)")

type QueryFactsTool struct {
	engine *mangle.Engine
}

func (t *QueryFactsTool) Name() string { return "query-facts" }
func (t *QueryFactsTool) Description() string {
	return `Query the fact ledger with a single Datalog atom.

RECORDED PREDICATES:
action_result(BatchID, ActionID, Type, Status), action_error(BatchID, ActionID, Error),
batch_outcome(BatchID, Status, Count), console_event(Level, Message, Ts),
net_request(ID, Method, URL, Ts), net_response(URL, Status, Ts), net_failure(URL, Reason, Ts),
net_correlation(URL, Key), navigation_event(TabID, URL, Ts), current_url(TabID, URL).

DERIVED PREDICATES:
failed_action(BatchID, ActionID, Type), blocked_action(...), skipped_action(...),
batch_failed(BatchID), console_error(Message, Ts), network_error(URL, Ts),
failed_with_reason(BatchID, ActionID, Error).

EXAMPLE: failed_action(B, A, T).

Returns: {results: [{Var: value}], count}`
}
func (t *QueryFactsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Datalog atom ending with a period",
			},
		},
		"required": []string{"query"},
	}
}
func (t *QueryFactsTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if t.engine == nil {
		return failure(errLedgerDisabled), nil
	}
	query := getStringArg(args, "query")
	if query == "" {
		return failure(errors.New("query is required")), nil
	}
	results, err := t.engine.Query(ctx, query)
	if err != nil {
		return failure(err), nil
	}
	return map[string]interface{}{"success": true, "count": len(results), "results": results}, nil
}

type ReadFactsTool struct {
	engine *mangle.Engine
}

func (t *ReadFactsTool) Name() string { return "read-facts" }
func (t *ReadFactsTool) Description() string {
	return `Read the most recent recorded facts, optionally for one predicate.
Derived predicates are evaluated on demand.`
}
func (t *ReadFactsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"predicate": map[string]interface{}{
				"type":        "string",
				"description": "Predicate name such as action_result or failed_action",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum facts to return (default 50, max 500)",
			},
		},
	}
}
func (t *ReadFactsTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if t.engine == nil {
		return failure(errLedgerDisabled), nil
	}
	predicate := getStringArg(args, "predicate")
	limit := clampLimit(getIntArg(args, "limit", 0), 50, 500)

	var facts []mangle.Fact
	if predicate == "" {
		facts = t.engine.Facts()
	} else {
		facts = t.engine.FactsByPredicate(predicate)
		if len(facts) == 0 {
			derived, err := t.engine.Evaluate(ctx, predicate)
			if err != nil {
				return failure(err), nil
			}
			facts = derived
		}
	}
	if len(facts) > limit {
		facts = facts[len(facts)-limit:]
	}
	return map[string]interface{}{"success": true, "predicate": predicate, "count": len(facts), "facts": facts}, nil
}

type SubmitRuleTool struct {
	engine *mangle.Engine
}

func (t *SubmitRuleTool) Name() string { return "submit-rule" }
func (t *SubmitRuleTool) Description() string {
	return `Add a Datalog rule over the recorded predicates, then query it with
query-facts or read-facts.

EXAMPLE: click_failure(B, A) :- failed_action(B, A, "click").`
}
func (t *SubmitRuleTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"rule": map[string]interface{}{
				"type":        "string",
				"description": "Mangle rule source",
			},
		},
		"required": []string{"rule"},
	}
}
func (t *SubmitRuleTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	if t.engine == nil {
		return failure(errLedgerDisabled), nil
	}
	rule := getStringArg(args, "rule")
	if rule == "" {
		return failure(errors.New("rule is required")), nil
	}
	if err := t.engine.AddRule(rule); err != nil {
		return failure(err), nil
	}
	return map[string]interface{}{"success": true}, nil
}
