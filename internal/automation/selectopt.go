package automation

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"taskingbot-bridge/internal/action"
	"taskingbot-bridge/internal/dom"
)

// optionPatterns are scanned in priority order when a custom dropdown opens.
var optionPatterns = []string{
	`[role="option"]`,
	`[role="menuitem"]`,
	`[role="menuitemradio"]`,
	`[role="treeitem"]`,
	`[data-value]`,
	`[data-option]`,
	`li`,
	`[class*="option"]`,
	`[class*="item"]`,
	`[class*="choice"]`,
}

func (e *Executor) selectOption(ctx context.Context, page Page, a action.Action) (map[string]interface{}, error) {
	p, _ := a.Params.(action.SelectParams)
	want := strings.TrimSpace(p.Value)
	if want == "" {
		return nil, fmt.Errorf("select on %s: no value given", e.locator(a.Target))
	}
	el, err := e.resolve(ctx, page, a.Target)
	if err != nil {
		return nil, fmt.Errorf("select: %w", err)
	}

	if el.Tag() == "select" {
		return e.selectNative(ctx, page, el, want)
	}
	switch el.InputType() {
	case "radio", "checkbox":
		return e.selectToggle(ctx, page, el, want)
	}
	return e.selectCustom(ctx, page, el, want)
}

func (e *Executor) selectNative(ctx context.Context, page Page, el *dom.Element, want string) (map[string]interface{}, error) {
	selector := e.selectorFor(ctx, page, el)
	opts := dom.Options(el)
	idx := matchOption(opts, want)
	if idx < 0 {
		texts := make([]string, 0, len(opts))
		for _, o := range opts {
			texts = append(texts, o.Text)
		}
		return nil, fmt.Errorf("%w: option %q in %s (available: %s)", dom.ErrNotFound, want, selector, strings.Join(texts, ", "))
	}
	if err := page.SelectOption(ctx, el.Ref(), idx); err != nil {
		return nil, fmt.Errorf("select %q in %s: %w", want, selector, err)
	}
	return map[string]interface{}{
		"selector": selector,
		"selected": opts[idx].Text,
		"value":    opts[idx].Value,
		"method":   "native",
	}, nil
}

// matchOption tries exact value, then case-insensitive exact text, then
// case-insensitive substring text.
func matchOption(opts []dom.Option, want string) int {
	for i, o := range opts {
		if o.Value == want {
			return i
		}
	}
	lower := strings.ToLower(want)
	for i, o := range opts {
		if strings.ToLower(o.Text) == lower {
			return i
		}
	}
	for i, o := range opts {
		if strings.Contains(strings.ToLower(o.Text), lower) {
			return i
		}
	}
	return -1
}

// selectToggle handles radio groups and checkboxes. A radio target picks the
// group member whose value or label matches; a checkbox is set from a
// boolean-ish value.
func (e *Executor) selectToggle(ctx context.Context, page Page, el *dom.Element, want string) (map[string]interface{}, error) {
	target := el
	checked := true
	if el.InputType() == "radio" {
		if name := el.Name(); name != "" {
			lower := strings.ToLower(want)
			group, _ := el.Document().Query(`input[type="radio"][name="` + cssEscape(name) + `"]`)
			for _, r := range group {
				if r.Value() == want || strings.ToLower(dom.FieldLabel(r)) == lower {
					target = r
					break
				}
			}
		}
	} else {
		switch strings.ToLower(want) {
		case "false", "off", "no", "0", "unchecked":
			checked = false
		}
	}

	selector := e.selectorFor(ctx, page, target)
	if target.Ref() < 0 {
		return nil, fmt.Errorf("%w: %s is not on the live page", dom.ErrNotFound, selector)
	}
	if target.Checked() != checked {
		if err := page.SetChecked(ctx, target.Ref(), checked); err != nil {
			return nil, fmt.Errorf("toggle %s: %w", selector, err)
		}
		if err := e.dispatchAll(ctx, page, target.Ref(), evt("mouse", "click", true), evt("input", "input", true), evt("event", "change", true)); err != nil {
			return nil, fmt.Errorf("toggle %s: %w", selector, err)
		}
	}
	return map[string]interface{}{
		"selector": selector,
		"selected": want,
		"checked":  checked,
		"method":   target.InputType(),
	}, nil
}

// selectCustom drives a scripted dropdown: open the trigger, then look for a
// matching option by exact text, substring text and data-value, retrying once
// after another animation wait. Matches are not checked for ownership by the
// opened trigger.
func (e *Executor) selectCustom(ctx context.Context, page Page, trigger *dom.Element, want string) (map[string]interface{}, error) {
	triggerSelector := e.selectorFor(ctx, page, trigger)
	if err := e.pointerClick(ctx, page, trigger); err != nil {
		return nil, fmt.Errorf("open dropdown %s: %w", triggerSelector, err)
	}
	if err := sleep(ctx, e.opts.DropdownWait); err != nil {
		return nil, err
	}

	passes := []struct {
		name  string
		match func(*dom.Element) bool
	}{
		{"exact", func(el *dom.Element) bool { return strings.EqualFold(el.Text(), want) }},
		{"contains", func(el *dom.Element) bool {
			return strings.Contains(strings.ToLower(el.Text()), strings.ToLower(want))
		}},
		{"data-value", func(el *dom.Element) bool {
			return el.AttrOr("data-value", "") == want || el.AttrOr("data-option", "") == want
		}},
		{"retry", func(el *dom.Element) bool {
			return strings.Contains(strings.ToLower(el.Text()), strings.ToLower(want))
		}},
	}

	for i, pass := range passes {
		if i == len(passes)-1 {
			if err := sleep(ctx, e.opts.DropdownWait); err != nil {
				return nil, err
			}
		}
		doc, err := page.Snapshot(ctx)
		if err != nil {
			return nil, fmt.Errorf("snapshot after opening %s: %w", triggerSelector, err)
		}
		option := findOption(doc, trigger, pass.match)
		if option == nil {
			continue
		}
		selector := e.selectorFor(ctx, page, option)
		if err := e.pointerClick(ctx, page, option); err != nil {
			return nil, fmt.Errorf("click option %s: %w", selector, err)
		}
		_ = sleep(ctx, e.opts.SettleDelay)
		e.logger.Debug("custom dropdown option chosen", zap.String("pass", pass.name), zap.String("selector", selector))
		return map[string]interface{}{
			"selector": selector,
			"trigger":  triggerSelector,
			"selected": option.Text(),
			"method":   "custom:" + pass.name,
		}, nil
	}

	if doc, err := page.Snapshot(ctx); err == nil {
		if again := doc.ByRef(trigger.Ref()); again != nil {
			_ = e.pointerClick(ctx, page, again)
		}
	}
	return nil, fmt.Errorf("%w: option %q in dropdown %s after 4 passes", dom.ErrNotFound, want, triggerSelector)
}

// findOption scans optionPatterns in order and returns the first visible,
// live match that is not the trigger itself.
func findOption(doc *dom.Document, trigger *dom.Element, match func(*dom.Element) bool) *dom.Element {
	for _, pattern := range optionPatterns {
		candidates, err := doc.Query(pattern)
		if err != nil {
			continue
		}
		for _, el := range candidates {
			if el.Ref() < 0 || el.Ref() == trigger.Ref() || el.Hidden() {
				continue
			}
			if match(el) {
				return el
			}
		}
	}
	return nil
}

func cssEscape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}
