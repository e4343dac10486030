package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskingbot-bridge/internal/action"
	"taskingbot-bridge/internal/dom"
)

const (
	defaultWaitMs      = 500
	defaultScrollPx    = 500
	defaultExtractMax  = 100
	extractTextLimit   = 5000
	pageInfoHeadingMax = 20
)

func (e *Executor) scroll(ctx context.Context, page Page, a action.Action) (map[string]interface{}, error) {
	p, _ := a.Params.(action.ScrollParams)
	if !a.Target.Empty() {
		el, err := e.resolve(ctx, page, a.Target)
		if err != nil {
			return nil, fmt.Errorf("scroll: %w", err)
		}
		selector := e.selectorFor(ctx, page, el)
		if err := page.Call(ctx, el.Ref(), "scrollIntoView"); err != nil {
			return nil, fmt.Errorf("scroll to %s: %w", selector, err)
		}
		return map[string]interface{}{"selector": selector, "scrolled": "into_view"}, nil
	}

	switch strings.ToLower(p.To) {
	case "top", "bottom":
		if err := page.ScrollTo(ctx, strings.ToLower(p.To)); err != nil {
			return nil, fmt.Errorf("scroll to %s: %w", p.To, err)
		}
		return e.scrollState(ctx, page, map[string]interface{}{"scrolled": strings.ToLower(p.To)})
	case "":
	default:
		return nil, fmt.Errorf("%w: scroll target %q", ErrUnsupported, p.To)
	}

	amount := float64(p.Amount)
	if amount <= 0 {
		amount = defaultScrollPx
	}
	var dx, dy float64
	direction := strings.ToLower(p.Direction)
	switch direction {
	case "", "down":
		direction, dy = "down", amount
	case "up":
		dy = -amount
	case "right":
		dx = amount
	case "left":
		dx = -amount
	default:
		return nil, fmt.Errorf("%w: scroll direction %q", ErrUnsupported, p.Direction)
	}
	if err := page.ScrollBy(ctx, dx, dy); err != nil {
		return nil, fmt.Errorf("scroll %s: %w", direction, err)
	}
	return e.scrollState(ctx, page, map[string]interface{}{"direction": direction, "amount": amount})
}

func (e *Executor) scrollState(ctx context.Context, page Page, data map[string]interface{}) (map[string]interface{}, error) {
	info, err := page.Info(ctx)
	if err != nil {
		return data, nil
	}
	data["scrollX"] = info.ScrollX
	data["scrollY"] = info.ScrollY
	return data, nil
}

func (e *Executor) extract(ctx context.Context, page Page, a action.Action) (map[string]interface{}, error) {
	p, _ := a.Params.(action.ExtractParams)
	if a.Target.Empty() {
		doc, err := page.Snapshot(ctx)
		if err != nil {
			return nil, fmt.Errorf("extract: snapshot: %w", err)
		}
		body, _ := doc.First("body")
		if body == nil {
			return map[string]interface{}{"text": "", "url": doc.URL, "title": doc.Title}, nil
		}
		return map[string]interface{}{
			"text":  clip(body.Text(), extractTextLimit),
			"url":   doc.URL,
			"title": doc.Title,
		}, nil
	}

	if p.All && a.Target.Selector != "" {
		return e.extractAll(ctx, page, a.Target, p)
	}

	el, err := e.resolve(ctx, page, a.Target)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	value, ok := readValue(el, p.Attribute)
	if !ok {
		return nil, fmt.Errorf("extract: %s has no attribute %q", e.selectorFor(ctx, page, el), p.Attribute)
	}
	data := map[string]interface{}{
		"selector": e.selectorFor(ctx, page, el),
		"tag":      el.Tag(),
	}
	if p.Attribute != "" {
		data["attribute"] = p.Attribute
		data["value"] = value
	} else {
		data["text"] = value
	}
	return data, nil
}

func (e *Executor) extractAll(ctx context.Context, page Page, t action.Target, p action.ExtractParams) (map[string]interface{}, error) {
	loc := e.locator(t)
	loc.Text = ""
	first, err := dom.NewResolver(page, e.opts.PollInterval).Resolve(ctx, loc)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	matches, err := first.Document().Query(t.Selector)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	limit := p.Limit
	if limit <= 0 {
		limit = defaultExtractMax
	}
	values := make([]string, 0, len(matches))
	for _, el := range matches {
		if len(values) >= limit {
			break
		}
		if v, ok := readValue(el, p.Attribute); ok {
			values = append(values, v)
		}
	}
	data := map[string]interface{}{
		"selector": t.Selector,
		"count":    len(matches),
		"values":   values,
	}
	if p.Attribute != "" {
		data["attribute"] = p.Attribute
	}
	return data, nil
}

// readValue returns the text of el, or the named attribute. The live value of
// form controls is used for the "value" attribute.
func readValue(el *dom.Element, attr string) (string, bool) {
	switch attr {
	case "":
		if el.Tag() == "input" || el.Tag() == "textarea" || el.Tag() == "select" {
			if v := el.Value(); v != "" {
				return v, true
			}
		}
		return clip(el.Label(), extractTextLimit), true
	case "value":
		return el.Value(), true
	case "text", "textContent", "innerText":
		return clip(el.Text(), extractTextLimit), true
	}
	return el.Attr(attr)
}

func (e *Executor) wait(ctx context.Context, page Page, a action.Action) (map[string]interface{}, error) {
	p, ok := a.Params.(action.WaitParams)
	if !ok {
		p.Ms = -1
	}
	if a.Target.Empty() {
		ms := p.Ms
		if ms < 0 {
			ms = defaultWaitMs
		}
		if err := sleep(ctx, time.Duration(ms)*time.Millisecond); err != nil {
			return nil, err
		}
		return map[string]interface{}{"waitedMs": ms}, nil
	}

	// an explicit wait only ends at its own timeout, if any
	loc := dom.Locator{
		Selector: a.Target.Selector,
		Text:     a.Target.Text,
		X:        a.Target.X,
		Y:        a.Target.Y,
		WaitFor:  true,
		Timeout:  time.Duration(a.Target.TimeoutMs) * time.Millisecond,
	}
	start := time.Now()
	el, err := dom.NewResolver(page, e.opts.PollInterval).Resolve(ctx, loc)
	if err != nil {
		if errors.Is(err, dom.ErrTimeout) {
			return nil, err
		}
		return nil, fmt.Errorf("wait: %w", err)
	}
	return map[string]interface{}{
		"waitedMs": time.Since(start).Milliseconds(),
		"selector": e.selectorFor(ctx, page, el),
		"found":    true,
	}, nil
}

func (e *Executor) formFields(ctx context.Context, page Page, a action.Action) (map[string]interface{}, error) {
	p, _ := a.Params.(action.FormFieldsParams)
	doc, err := page.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("get_form_fields: snapshot: %w", err)
	}
	scope := p.Scope
	if scope == "" {
		scope = a.Target.Selector
	}
	fields, err := dom.FormFields(ctx, doc, dom.NewSynthesizer(page), scope)
	if err != nil {
		return nil, fmt.Errorf("get_form_fields: %w", err)
	}
	if fields == nil {
		fields = []dom.Field{}
	}
	return map[string]interface{}{
		"url":    doc.URL,
		"title":  doc.Title,
		"count":  len(fields),
		"fields": fields,
	}, nil
}

func (e *Executor) pageInfo(ctx context.Context, page Page, _ action.Action) (map[string]interface{}, error) {
	info, err := page.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("get_page_info: %w", err)
	}
	doc, err := page.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("get_page_info: snapshot: %w", err)
	}
	summary := dom.Summarize(doc)
	if summary.URL == "" {
		summary.URL = info.URL
	}
	if summary.Title == "" {
		summary.Title = info.Title
	}
	if len(summary.Headings) > pageInfoHeadingMax {
		summary.Headings = summary.Headings[:pageInfoHeadingMax]
	}
	return map[string]interface{}{
		"url":      summary.URL,
		"title":    summary.Title,
		"viewport": map[string]interface{}{"width": info.Width, "height": info.Height},
		"scroll":   map[string]interface{}{"x": info.ScrollX, "y": info.ScrollY},
		"headings": summary.Headings,
		"forms":    summary.Forms,
		"links":    summary.Links,
		"buttons":  summary.Buttons,
		"inputs":   summary.Inputs,
		"images":   summary.Images,
		"text":     summary.Text,
	}, nil
}

func (e *Executor) consoleLogs(_ context.Context, page Page, a action.Action) (map[string]interface{}, error) {
	buf := page.Logs()
	if buf == nil {
		return map[string]interface{}{"logs": []interface{}{}, "count": 0}, nil
	}
	logs := buf.Console(e.window(a))
	errCount := 0
	for _, l := range logs {
		if l.IsError() {
			errCount++
		}
	}
	return map[string]interface{}{"logs": logs, "count": len(logs), "errors": errCount}, nil
}

func (e *Executor) networkLogs(_ context.Context, page Page, a action.Action) (map[string]interface{}, error) {
	buf := page.Logs()
	if buf == nil {
		return map[string]interface{}{"logs": []interface{}{}, "count": 0}, nil
	}
	logs := buf.Network(e.window(a))
	failed := 0
	for _, l := range logs {
		if l.IsError() {
			failed++
		}
	}
	return map[string]interface{}{"logs": logs, "count": len(logs), "failed": failed}, nil
}

func (e *Executor) window(a action.Action) int {
	if p, ok := a.Params.(action.LogParams); ok && p.Limit > 0 && p.Limit < e.opts.LogWindow {
		return p.Limit
	}
	return e.opts.LogWindow
}

func clip(s string, limit int) string {
	if r := []rune(s); len(r) > limit {
		return string(r[:limit])
	}
	return s
}
