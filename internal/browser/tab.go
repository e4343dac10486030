package browser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"

	"taskingbot-bridge/internal/automation"
	"taskingbot-bridge/internal/dom"
	"taskingbot-bridge/internal/pagelog"
)

const screenshotQuality = 80

// TabMeta is the public metadata of a tracked tab.
type TabMeta struct {
	ID         string    `json:"id"`
	TargetID   string    `json:"target_id,omitempty"`
	URL        string    `json:"url,omitempty"`
	Title      string    `json:"title,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

// Tab drives one live page through CDP. It implements automation.Page, and
// its Turn admits one batch at a time.
type Tab struct {
	automation.Turn

	page       *rod.Page
	stopStream context.CancelFunc
	logs       *pagelog.Buffer
	navTimeout time.Duration

	mu   sync.Mutex
	meta TabMeta
}

var (
	_ automation.Page      = (*Tab)(nil)
	_ automation.Exclusive = (*Tab)(nil)
	_ automation.TabOpener = (*Manager)(nil)
)

func newTab(id string, page *rod.Page, logWindow int, navTimeout time.Duration) *Tab {
	now := time.Now()
	return &Tab{
		page:       page,
		logs:       pagelog.NewBuffer(logWindow),
		navTimeout: navTimeout,
		meta: TabMeta{
			ID:         id,
			TargetID:   string(page.TargetID),
			CreatedAt:  now,
			LastActive: now,
		},
	}
}

// Meta returns a copy of the tab metadata.
func (t *Tab) Meta() TabMeta {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.meta
}

func (t *Tab) update(fn func(*TabMeta)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.meta)
}

// Rod exposes the underlying page.
func (t *Tab) Rod() *rod.Page { return t.page }

func (t *Tab) Logs() *pagelog.Buffer { return t.logs }

func (t *Tab) eval(ctx context.Context, js string, out interface{}, args ...interface{}) error {
	res, err := t.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           js,
		JSArgs:       args,
		ByValue:      true,
		AwaitPromise: true,
		UserGesture:  true,
	})
	if err != nil {
		return err
	}
	if out == nil || res == nil || res.Value.Nil() {
		return nil
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return json.Unmarshal(raw, out)
}

// Snapshot serializes the live DOM with state annotations and parses it.
func (t *Tab) Snapshot(ctx context.Context) (*dom.Document, error) {
	var snap struct {
		HTML  string `json:"html"`
		URL   string `json:"url"`
		Title string `json:"title"`
	}
	if err := t.eval(ctx, jsSnapshot, &snap); err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	doc, err := dom.ParseString(snap.HTML)
	if err != nil {
		return nil, err
	}
	doc.URL = snap.URL
	if snap.Title != "" {
		doc.Title = snap.Title
	}
	t.update(func(m *TabMeta) {
		m.URL = snap.URL
		m.Title = snap.Title
		m.LastActive = time.Now()
	})
	return doc, nil
}

func (t *Tab) ElementAt(ctx context.Context, x, y float64) (int, error) {
	ref := -1
	if err := t.eval(ctx, jsElementAt, &ref, x, y); err != nil {
		return -1, err
	}
	return ref, nil
}

func (t *Tab) Stamp(ctx context.Context, ref int, name, value string) error {
	return t.eval(ctx, jsStamp, nil, ref, name, value)
}

func (t *Tab) Info(ctx context.Context) (automation.PageInfo, error) {
	var info struct {
		URL     string  `json:"url"`
		Title   string  `json:"title"`
		Width   float64 `json:"width"`
		Height  float64 `json:"height"`
		ScrollX float64 `json:"scrollX"`
		ScrollY float64 `json:"scrollY"`
	}
	if err := t.eval(ctx, jsInfo, &info); err != nil {
		return automation.PageInfo{}, fmt.Errorf("page info: %w", err)
	}
	return automation.PageInfo{
		TabID:   t.Meta().ID,
		URL:     info.URL,
		Title:   info.Title,
		Width:   info.Width,
		Height:  info.Height,
		ScrollX: info.ScrollX,
		ScrollY: info.ScrollY,
	}, nil
}

func (t *Tab) Dispatch(ctx context.Context, ref int, ev automation.Event) error {
	return t.eval(ctx, jsDispatch, nil, ref, ev.Kind, ev.Name, ev.Key, ev.Bubbles)
}

func (t *Tab) Call(ctx context.Context, ref int, method string) error {
	return t.eval(ctx, jsCall, nil, ref, method)
}

func (t *Tab) SetValue(ctx context.Context, ref int, value string) error {
	return t.eval(ctx, jsSetValue, nil, ref, value)
}

func (t *Tab) SetChecked(ctx context.Context, ref int, checked bool) error {
	return t.eval(ctx, jsSetChecked, nil, ref, checked)
}

func (t *Tab) SelectOption(ctx context.Context, ref int, index int) error {
	return t.eval(ctx, jsSelectOption, nil, ref, index)
}

// SetFiles assigns in-memory files to a file input through a DataTransfer.
func (t *Tab) SetFiles(ctx context.Context, ref int, files []automation.File) error {
	payload := make([]map[string]string, 0, len(files))
	for _, f := range files {
		payload = append(payload, map[string]string{
			"name": f.Name,
			"type": f.MimeType,
			"data": base64.StdEncoding.EncodeToString(f.Data),
		})
	}
	var n int
	if err := t.eval(ctx, jsSetFiles, &n, ref, payload); err != nil {
		return err
	}
	if n != len(files) {
		return fmt.Errorf("file input accepted %d of %d files", n, len(files))
	}
	return nil
}

func (t *Tab) ScrollBy(ctx context.Context, dx, dy float64) error {
	return t.eval(ctx, jsScrollBy, nil, dx, dy)
}

func (t *Tab) ScrollTo(ctx context.Context, position string) error {
	return t.eval(ctx, jsScrollTo, nil, position)
}

// Navigate loads url and waits for the load event, bounded by the navigation
// timeout.
func (t *Tab) Navigate(ctx context.Context, url string) error {
	p := t.page.Context(ctx)
	if t.navTimeout > 0 {
		p = p.Timeout(t.navTimeout)
	}
	if err := p.Navigate(url); err != nil {
		return err
	}
	if err := p.WaitLoad(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

// Screenshot captures a JPEG, scaled so its width does not exceed maxWidth.
func (t *Tab) Screenshot(ctx context.Context, maxWidth int, fullPage bool) ([]byte, error) {
	var m struct {
		Width        float64 `json:"width"`
		Height       float64 `json:"height"`
		ScrollX      float64 `json:"scrollX"`
		ScrollY      float64 `json:"scrollY"`
		ScrollWidth  float64 `json:"scrollWidth"`
		ScrollHeight float64 `json:"scrollHeight"`
	}
	if err := t.eval(ctx, jsInfo, &m); err != nil {
		return nil, fmt.Errorf("measure page: %w", err)
	}
	clip := &proto.PageViewport{X: m.ScrollX, Y: m.ScrollY, Width: m.Width, Height: m.Height, Scale: 1}
	if fullPage {
		clip.X, clip.Y = 0, 0
		clip.Width = math.Max(m.Width, m.ScrollWidth)
		clip.Height = math.Max(m.Height, m.ScrollHeight)
	}
	if maxWidth > 0 && clip.Width > float64(maxWidth) {
		clip.Scale = float64(maxWidth) / clip.Width
	}
	if clip.Width <= 0 || clip.Height <= 0 {
		clip = nil
	}

	res, err := proto.PageCaptureScreenshot{
		Format:                proto.PageCaptureScreenshotFormatJpeg,
		Quality:               gson.Int(screenshotQuality),
		Clip:                  clip,
		CaptureBeyondViewport: fullPage,
	}.Call(t.page.Context(ctx))
	if err != nil {
		return nil, err
	}
	return res.Data, nil
}

func (t *Tab) String() string {
	m := t.Meta()
	return strings.TrimSpace(m.ID + " " + m.URL)
}
