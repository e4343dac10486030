package automation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"taskingbot-bridge/internal/action"
	"taskingbot-bridge/internal/config"
	"taskingbot-bridge/internal/dom"
)

// ErrUnsupported means the action type is unknown or the target element does
// not support the verb.
var ErrUnsupported = errors.New("unsupported")

// Options tunes the executor's timing and payload sizes.
type Options struct {
	PollInterval       time.Duration
	PointerDelay       time.Duration
	SettleDelay        time.Duration
	DropdownWait       time.Duration
	DefaultWaitTimeout time.Duration
	ScreenshotMaxWidth int
	LogWindow          int
	HTTPClient         *http.Client
}

// OptionsFromConfig maps the engine section onto executor options.
func OptionsFromConfig(cfg config.EngineConfig, requestTimeout time.Duration) Options {
	return Options{
		PollInterval:       cfg.GetPollInterval(),
		PointerDelay:       cfg.GetPointerDelay(),
		SettleDelay:        cfg.GetSettleDelay(),
		DropdownWait:       cfg.GetDropdownWait(),
		DefaultWaitTimeout: cfg.GetDefaultWaitTimeout(),
		ScreenshotMaxWidth: cfg.GetScreenshotMaxWidth(),
		LogWindow:          cfg.GetLogWindow(),
		HTTPClient:         &http.Client{Timeout: requestTimeout},
	}
}

type handler func(ctx context.Context, page Page, a action.Action) (map[string]interface{}, error)

// Executor runs single actions against a page, one handler per canonical type.
type Executor struct {
	opts     Options
	opener   TabOpener
	sharer   ScreenSharer
	logger   *zap.Logger
	handlers map[action.Type]handler
}

// NewExecutor builds an executor. opener and sharer may be nil; open_tab and
// screen sharing are then unavailable.
func NewExecutor(opts Options, opener TabOpener, sharer ScreenSharer, logger *zap.Logger) *Executor {
	if opts.PollInterval <= 0 {
		opts.PollInterval = dom.DefaultPollInterval
	}
	if opts.ScreenshotMaxWidth <= 0 {
		opts.ScreenshotMaxWidth = 1024
	}
	if opts.LogWindow <= 0 {
		opts.LogWindow = 50
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Executor{
		opts:   opts,
		opener: opener,
		sharer: sharer,
		logger: logger.With(zap.String("component", "executor")),
	}
	e.handlers = map[action.Type]handler{
		action.Click:          e.click,
		action.TypeText:       e.typeText,
		action.Select:         e.selectOption,
		action.SetValue:       e.setValue,
		action.UploadFile:     e.uploadFile,
		action.Scroll:         e.scroll,
		action.Extract:        e.extract,
		action.Submit:         e.submit,
		action.Focus:          e.focus,
		action.Clear:          e.clear,
		action.Hover:          e.hover,
		action.Wait:           e.wait,
		action.Navigate:       e.navigate,
		action.OpenTab:        e.openTab,
		action.Screenshot:     e.screenshot,
		action.ScreenCapture:  e.screenCapture,
		action.GetFormFields:  e.formFields,
		action.GetPageInfo:    e.pageInfo,
		action.GetConsoleLogs: e.consoleLogs,
		action.GetNetworkLogs: e.networkLogs,
	}
	return e
}

// Execute runs one action. Failures are returned as errors carrying the
// attempted locator; they never panic past this call.
func (e *Executor) Execute(ctx context.Context, page Page, a action.Action) (map[string]interface{}, error) {
	h, ok := e.handlers[a.Type]
	if !ok {
		raw := a.RawType
		if raw == "" {
			raw = string(a.Type)
		}
		return nil, fmt.Errorf("%w: unknown action type %q", ErrUnsupported, raw)
	}
	if page == nil {
		return nil, errors.New("no page available")
	}
	return h(ctx, page, a)
}

// OpenTab exposes the opener for callers that route navigation themselves.
func (e *Executor) OpenTab(ctx context.Context, url string) (Page, PageInfo, error) {
	if e.opener == nil {
		return nil, PageInfo{}, fmt.Errorf("%w: no tab opener configured", ErrUnsupported)
	}
	return e.opener.OpenTab(ctx, url)
}

// CloseTab closes a tab previously returned by OpenTab.
func (e *Executor) CloseTab(id string) error {
	if e.opener == nil {
		return fmt.Errorf("%w: no tab opener configured", ErrUnsupported)
	}
	return e.opener.CloseTab(id)
}

func (e *Executor) locator(t action.Target) dom.Locator {
	loc := dom.Locator{
		Selector: t.Selector,
		Text:     t.Text,
		X:        t.X,
		Y:        t.Y,
		WaitFor:  t.WaitFor,
		Timeout:  time.Duration(t.TimeoutMs) * time.Millisecond,
	}
	if loc.WaitFor && loc.Timeout <= 0 {
		loc.Timeout = e.opts.DefaultWaitTimeout
	}
	return loc
}

// resolve finds the target element and checks it is linked to the live page.
func (e *Executor) resolve(ctx context.Context, page Page, t action.Target) (*dom.Element, error) {
	el, err := dom.NewResolver(page, e.opts.PollInterval).Resolve(ctx, e.locator(t))
	if err != nil {
		return nil, err
	}
	if el.Ref() < 0 {
		return nil, fmt.Errorf("%w: %s matched a node that is not on the live page", dom.ErrNotFound, e.locator(t))
	}
	return el, nil
}

func (e *Executor) selectorFor(ctx context.Context, page Page, el *dom.Element) string {
	return dom.NewSynthesizer(page).Synthesize(ctx, el)
}

func (e *Executor) dispatchAll(ctx context.Context, page Page, ref int, events ...Event) error {
	for _, ev := range events {
		if err := page.Dispatch(ctx, ref, ev); err != nil {
			return fmt.Errorf("dispatch %s: %w", ev.Name, err)
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func describe(el *dom.Element) string {
	text := el.Label()
	if r := []rune(text); len(r) > 80 {
		text = string(r[:80])
	}
	return text
}

func evt(kind, name string, bubbles bool) Event {
	return Event{Kind: kind, Name: name, Bubbles: bubbles}
}

var interactiveRoles = map[string]bool{
	"button": true, "link": true, "menuitem": true, "menuitemradio": true, "menuitemcheckbox": true,
	"tab": true, "option": true, "checkbox": true, "radio": true, "switch": true, "combobox": true,
	"treeitem": true,
}

// isInteractive reports native controls, clickable roles and elements with a
// click handler.
func isInteractive(el *dom.Element) bool {
	switch el.Tag() {
	case "button", "select", "textarea", "summary", "option", "label":
		return true
	case "input":
		return el.InputType() != "hidden"
	case "a":
		if _, ok := el.Attr("href"); ok {
			return true
		}
	}
	if interactiveRoles[el.Role()] {
		return true
	}
	if _, ok := el.Attr("onclick"); ok {
		return true
	}
	_, ok := el.Attr(dom.AttrClickable)
	return ok
}

func isTypable(el *dom.Element) bool {
	switch el.Tag() {
	case "textarea":
		return true
	case "input":
		switch el.InputType() {
		case "button", "submit", "reset", "checkbox", "radio", "file", "image", "hidden", "range", "color":
			return false
		}
		return true
	}
	if strings.EqualFold(el.AttrOr("contenteditable", ""), "true") || el.AttrOr("contenteditable", "x") == "" {
		return true
	}
	switch el.Role() {
	case "textbox", "searchbox", "combobox":
		return true
	}
	return false
}
