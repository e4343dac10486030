package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"taskingbot-bridge/internal/mangle"
)

const (
	resourceMIMEJSON = "application/json"
)

func (s *Server) registerAllResources() {
	if s == nil || s.mcpServer == nil {
		return
	}

	s.mcpServer.AddResource(
		mcp.NewResource(
			"taskingbot://about",
			"TaskingBot Bridge About",
			mcp.WithMIMEType(resourceMIMEJSON),
			mcp.WithResourceDescription("Bridge info and usage notes."),
		),
		s.handleAboutResource,
	)

	s.mcpServer.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"taskingbot://batch/{batchId}/facts{?predicate,limit}",
			"Batch Facts",
			mcp.WithTemplateMIMEType(resourceMIMEJSON),
			mcp.WithTemplateDescription("Facts recorded for one batch (optionally filtered by predicate)."),
		),
		s.handleBatchFactsResource,
	)
}

func (s *Server) handleAboutResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	payload := map[string]interface{}{
		"name":    s.cfg.Server.Name,
		"version": s.cfg.Server.Version,
		"remote":  s.cfg.Remote.BaseURL,
		"notes": []string{
			"perform-actions runs a batch on the host tab; every action yields one result.",
			"Sensitive actions wait for a decision when policy.confirm_mode is panel.",
			"Batch facts are keyed by batch id; use the batch facts template for a single batch.",
		},
		"ledger":       s.engine != nil,
		"timestamp_ms": time.Now().UnixMilli(),
	}

	text, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: resourceMIMEJSON,
			Text:     string(text),
		},
	}, nil
}

func (s *Server) handleBatchFactsResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	if s.engine == nil {
		return nil, errLedgerDisabled
	}

	batchID := argString(request.Params.Arguments["batchId"])
	if batchID == "" {
		return nil, fmt.Errorf("missing batchId")
	}
	predicate := argString(request.Params.Arguments["predicate"])
	limit := clampLimit(getIntArg(request.Params.Arguments, "limit", 0), 25, 500)

	facts := selectRecentBatchFacts(s.engine, batchID, predicate, limit)

	payload := map[string]interface{}{
		"batch_id":  batchID,
		"predicate": predicate,
		"limit":     limit,
		"count":     len(facts),
		"facts":     facts,
	}
	text, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: resourceMIMEJSON,
			Text:     string(text),
		},
	}, nil
}

// selectRecentBatchFacts returns up to limit facts whose first argument is
// batchID, oldest first.
func selectRecentBatchFacts(engine *mangle.Engine, batchID, predicate string, limit int) []mangle.Fact {
	if engine == nil || batchID == "" || limit <= 0 {
		return []mangle.Fact{}
	}

	var source []mangle.Fact
	if predicate != "" {
		source = engine.FactsByPredicate(predicate)
	} else {
		source = engine.Facts()
	}

	out := make([]mangle.Fact, 0, min(limit, len(source)))
	for i := len(source) - 1; i >= 0 && len(out) < limit; i-- {
		f := source[i]
		if len(f.Args) == 0 {
			continue
		}
		if fmt.Sprintf("%v", f.Args[0]) != batchID {
			continue
		}
		out = append(out, f)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
