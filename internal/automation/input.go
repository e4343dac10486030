package automation

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"go.uber.org/zap"

	"taskingbot-bridge/internal/action"
	"taskingbot-bridge/internal/dom"
)

const (
	maxClickAncestors = 5
	maxUploadBytes    = 25 << 20
)

func (e *Executor) click(ctx context.Context, page Page, a action.Action) (map[string]interface{}, error) {
	el, err := e.resolve(ctx, page, a.Target)
	if err != nil {
		return nil, fmt.Errorf("click: %w", err)
	}

	target := el
	if !isInteractive(el) {
		for i, p := 0, el.Parent(); i < maxClickAncestors && p != nil; i, p = i+1, p.Parent() {
			if isInteractive(p) && p.Ref() >= 0 {
				target = p
				break
			}
		}
	}

	selector := e.selectorFor(ctx, page, target)
	if err := e.pointerClick(ctx, page, target); err != nil {
		return nil, fmt.Errorf("click %s: %w", selector, err)
	}
	if !target.Same(el) {
		if err := page.Call(ctx, el.Ref(), "click"); err != nil {
			e.logger.Debug("direct click on original node failed", zap.String("selector", selector), zap.Error(err))
		}
	}
	_ = sleep(ctx, e.opts.SettleDelay)

	return map[string]interface{}{
		"tag":      target.Tag(),
		"selector": selector,
		"text":     describe(target),
	}, nil
}

// pointerClick replays the pointer lifecycle a real click produces. Disabled
// state is cleared first.
func (e *Executor) pointerClick(ctx context.Context, page Page, el *dom.Element) error {
	ref := el.Ref()
	if el.Disabled() {
		if err := page.Call(ctx, ref, "enable"); err != nil {
			return fmt.Errorf("enable: %w", err)
		}
	}
	_ = page.Call(ctx, ref, "scrollIntoView")

	steps := []func() error{
		func() error { return page.Dispatch(ctx, ref, evt("pointer", "pointerenter", false)) },
		func() error { return page.Dispatch(ctx, ref, evt("pointer", "pointerover", true)) },
		func() error { return page.Dispatch(ctx, ref, evt("pointer", "pointermove", true)) },
		func() error {
			return e.dispatchAll(ctx, page, ref, evt("pointer", "pointerdown", true), evt("mouse", "mousedown", true))
		},
		func() error { return page.Call(ctx, ref, "focus") },
		func() error {
			return e.dispatchAll(ctx, page, ref, evt("pointer", "pointerup", true), evt("mouse", "mouseup", true))
		},
		func() error { return page.Call(ctx, ref, "click") },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
		if err := sleep(ctx, e.opts.PointerDelay); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) typeText(ctx context.Context, page Page, a action.Action) (map[string]interface{}, error) {
	p, _ := a.Params.(action.TypeParams)
	el, err := e.resolve(ctx, page, a.Target)
	if err != nil {
		return nil, fmt.Errorf("type: %w", err)
	}
	selector := e.selectorFor(ctx, page, el)
	if !isTypable(el) {
		return nil, fmt.Errorf("%w: %s (<%s>) does not accept text", ErrUnsupported, selector, el.Tag())
	}

	value := p.Text
	if !p.Clear {
		value = el.Value() + p.Text
	}
	key := "Backspace"
	if r := []rune(p.Text); len(r) > 0 {
		key = string(r[len(r)-1])
	}

	ref := el.Ref()
	_ = page.Call(ctx, ref, "focus")
	if err := page.SetValue(ctx, ref, value); err != nil {
		return nil, fmt.Errorf("type into %s: %w", selector, err)
	}
	if err := e.dispatchAll(ctx, page, ref,
		evt("input", "input", true),
		evt("event", "change", true),
		Event{Kind: "keyboard", Name: "keydown", Key: key, Bubbles: true},
		Event{Kind: "keyboard", Name: "keyup", Key: key, Bubbles: true},
		evt("focus", "blur", false),
		evt("focus", "focusout", true),
	); err != nil {
		return nil, fmt.Errorf("type into %s: %w", selector, err)
	}

	return map[string]interface{}{
		"tag":      el.Tag(),
		"selector": selector,
		"length":   len([]rune(p.Text)),
		"cleared":  p.Clear,
	}, nil
}

func (e *Executor) setValue(ctx context.Context, page Page, a action.Action) (map[string]interface{}, error) {
	p, _ := a.Params.(action.SetValueParams)
	el, err := e.resolve(ctx, page, a.Target)
	if err != nil {
		return nil, fmt.Errorf("set_value: %w", err)
	}
	selector := e.selectorFor(ctx, page, el)
	if el.Tag() != "input" && el.Tag() != "textarea" {
		return nil, fmt.Errorf("%w: %s (<%s>) has no value", ErrUnsupported, selector, el.Tag())
	}

	ref := el.Ref()
	if err := page.SetValue(ctx, ref, p.Value); err != nil {
		return nil, fmt.Errorf("set_value on %s: %w", selector, err)
	}
	if err := e.dispatchAll(ctx, page, ref, evt("input", "input", true), evt("event", "change", true)); err != nil {
		return nil, fmt.Errorf("set_value on %s: %w", selector, err)
	}
	if el.InputType() == "range" {
		// sliders only redraw their thumb on pointer activity
		if err := e.dispatchAll(ctx, page, ref, evt("pointer", "pointerdown", true), evt("pointer", "pointerup", true)); err != nil {
			return nil, fmt.Errorf("set_value on %s: %w", selector, err)
		}
	}
	return map[string]interface{}{"selector": selector, "value": p.Value, "inputType": el.InputType()}, nil
}

func (e *Executor) uploadFile(ctx context.Context, page Page, a action.Action) (map[string]interface{}, error) {
	p, _ := a.Params.(action.UploadParams)
	if p.Base64 == "" && p.URL == "" {
		return nil, errors.New("upload_file requires base64 or url")
	}
	el, err := e.resolve(ctx, page, a.Target)
	if err != nil {
		return nil, fmt.Errorf("upload_file: %w", err)
	}
	selector := e.selectorFor(ctx, page, el)
	if el.InputType() != "file" {
		return nil, fmt.Errorf("%w: %s is not a file input", ErrUnsupported, selector)
	}

	file, err := e.loadFile(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("upload_file: %w", err)
	}
	ref := el.Ref()
	if err := page.SetFiles(ctx, ref, []File{file}); err != nil {
		return nil, fmt.Errorf("upload_file to %s: %w", selector, err)
	}
	if err := e.dispatchAll(ctx, page, ref, evt("event", "change", true), evt("input", "input", true)); err != nil {
		return nil, fmt.Errorf("upload_file to %s: %w", selector, err)
	}
	return map[string]interface{}{
		"selector": selector,
		"filename": file.Name,
		"mimeType": file.MimeType,
		"size":     len(file.Data),
	}, nil
}

func (e *Executor) loadFile(ctx context.Context, p action.UploadParams) (File, error) {
	f := File{Name: p.Filename, MimeType: p.MimeType}
	if p.Base64 != "" {
		raw := p.Base64
		if i := strings.Index(raw, ";base64,"); i >= 0 && strings.HasPrefix(raw, "data:") {
			if f.MimeType == "" {
				f.MimeType = raw[len("data:"):i]
			}
			raw = raw[i+len(";base64,"):]
		}
		data, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return f, fmt.Errorf("decode base64 payload: %w", err)
		}
		f.Data = data
	} else {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
		if err != nil {
			return f, fmt.Errorf("build download request: %w", err)
		}
		resp, err := e.opts.HTTPClient.Do(req)
		if err != nil {
			return f, fmt.Errorf("download %s: %w", p.URL, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return f, fmt.Errorf("download %s: status %d", p.URL, resp.StatusCode)
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxUploadBytes+1))
		if err != nil {
			return f, fmt.Errorf("read download: %w", err)
		}
		if len(data) > maxUploadBytes {
			return f, fmt.Errorf("download %s exceeds %d bytes", p.URL, maxUploadBytes)
		}
		f.Data = data
		if f.MimeType == "" {
			if ct, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err == nil {
				f.MimeType = ct
			}
		}
		if f.Name == "" {
			f.Name = path.Base(req.URL.Path)
		}
	}
	if f.Name == "" || f.Name == "/" || f.Name == "." {
		f.Name = "upload"
	}
	if f.MimeType == "" {
		f.MimeType = "application/octet-stream"
	}
	return f, nil
}

func (e *Executor) submit(ctx context.Context, page Page, a action.Action) (map[string]interface{}, error) {
	el, err := e.resolve(ctx, page, a.Target)
	if err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}
	form := el.Closest("form")
	if form == nil && el.Tag() == "input" {
		if id := el.AttrOr("form", ""); id != "" {
			form, _ = el.Document().First(`form[id="` + cssEscape(id) + `"]`)
		}
	}
	if form != nil && form.Ref() >= 0 {
		selector := e.selectorFor(ctx, page, form)
		for _, method := range []string{"requestSubmit", "submit"} {
			err := page.Call(ctx, form.Ref(), method)
			if err == nil {
				return map[string]interface{}{"selector": selector, "method": method}, nil
			}
			e.logger.Debug("form submit attempt failed", zap.String("method", method), zap.Error(err))
		}
	}
	selector := e.selectorFor(ctx, page, el)
	if err := e.pointerClick(ctx, page, el); err != nil {
		return nil, fmt.Errorf("submit via click on %s: %w", selector, err)
	}
	return map[string]interface{}{"selector": selector, "method": "click"}, nil
}

func (e *Executor) focus(ctx context.Context, page Page, a action.Action) (map[string]interface{}, error) {
	el, err := e.resolve(ctx, page, a.Target)
	if err != nil {
		return nil, fmt.Errorf("focus: %w", err)
	}
	selector := e.selectorFor(ctx, page, el)
	if err := page.Call(ctx, el.Ref(), "focus"); err != nil {
		return nil, fmt.Errorf("focus %s: %w", selector, err)
	}
	_ = page.Dispatch(ctx, el.Ref(), evt("focus", "focusin", true))
	return map[string]interface{}{"selector": selector, "tag": el.Tag()}, nil
}

func (e *Executor) clear(ctx context.Context, page Page, a action.Action) (map[string]interface{}, error) {
	el, err := e.resolve(ctx, page, a.Target)
	if err != nil {
		return nil, fmt.Errorf("clear: %w", err)
	}
	selector := e.selectorFor(ctx, page, el)
	if !isTypable(el) {
		return nil, fmt.Errorf("%w: %s (<%s>) cannot be cleared", ErrUnsupported, selector, el.Tag())
	}
	ref := el.Ref()
	if err := page.SetValue(ctx, ref, ""); err != nil {
		return nil, fmt.Errorf("clear %s: %w", selector, err)
	}
	if err := e.dispatchAll(ctx, page, ref, evt("input", "input", true), evt("event", "change", true)); err != nil {
		return nil, fmt.Errorf("clear %s: %w", selector, err)
	}
	return map[string]interface{}{"selector": selector}, nil
}

func (e *Executor) hover(ctx context.Context, page Page, a action.Action) (map[string]interface{}, error) {
	el, err := e.resolve(ctx, page, a.Target)
	if err != nil {
		return nil, fmt.Errorf("hover: %w", err)
	}
	selector := e.selectorFor(ctx, page, el)
	ref := el.Ref()
	_ = page.Call(ctx, ref, "scrollIntoView")
	if err := e.dispatchAll(ctx, page, ref,
		evt("pointer", "pointerover", true),
		evt("pointer", "pointerenter", false),
		evt("mouse", "mouseover", true),
		evt("mouse", "mouseenter", false),
		evt("pointer", "pointermove", true),
		evt("mouse", "mousemove", true),
	); err != nil {
		return nil, fmt.Errorf("hover %s: %w", selector, err)
	}
	return map[string]interface{}{"selector": selector, "tag": el.Tag(), "text": describe(el)}, nil
}
