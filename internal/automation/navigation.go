package automation

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"taskingbot-bridge/internal/action"
)

const screenshotMime = "image/jpeg"

func (e *Executor) navigate(ctx context.Context, page Page, a action.Action) (map[string]interface{}, error) {
	p, _ := a.Params.(action.NavigateParams)
	if p.URL == "" {
		return nil, errors.New("navigate: missing url")
	}
	if p.NewTab {
		return e.openTab(ctx, page, action.Action{ID: a.ID, Type: action.OpenTab, Params: action.OpenTabParams{URL: p.URL}})
	}
	if err := page.Navigate(ctx, p.URL); err != nil {
		return nil, fmt.Errorf("navigate to %s: %w", p.URL, err)
	}
	info, err := page.Info(ctx)
	if err != nil {
		return map[string]interface{}{"url": p.URL}, nil
	}
	return map[string]interface{}{"url": info.URL, "title": info.Title}, nil
}

func (e *Executor) openTab(ctx context.Context, _ Page, a action.Action) (map[string]interface{}, error) {
	url := a.URL()
	if url == "" {
		return nil, errors.New("open_tab: missing url")
	}
	_, info, err := e.OpenTab(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open_tab %s: %w", url, err)
	}
	return tabData(info, url), nil
}

func tabData(info PageInfo, requested string) map[string]interface{} {
	data := map[string]interface{}{
		"url":    info.URL,
		"title":  info.Title,
		"opened": true,
	}
	if info.URL == "" {
		data["url"] = requested
	}
	if info.TabID != "" {
		data["tabId"] = info.TabID
	}
	return data
}

func (e *Executor) screenshot(ctx context.Context, page Page, a action.Action) (map[string]interface{}, error) {
	p, _ := a.Params.(action.ScreenshotParams)
	img, err := page.Screenshot(ctx, e.opts.ScreenshotMaxWidth, p.FullPage)
	if err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return imageData(img, "tab"), nil
}

// screenCapture prefers a frame from an active screen share and falls back to
// a tab screenshot.
func (e *Executor) screenCapture(ctx context.Context, page Page, a action.Action) (map[string]interface{}, error) {
	if e.sharer != nil {
		frame, ok, err := e.sharer.ShareFrame(ctx)
		switch {
		case err != nil:
			e.logger.Debug("screen share frame unavailable", zap.Error(err))
		case ok && len(frame) > 0:
			return imageData(frame, "screen_share"), nil
		}
	}
	img, err := page.Screenshot(ctx, e.opts.ScreenshotMaxWidth, false)
	if err != nil {
		return nil, fmt.Errorf("screen_capture: %w", err)
	}
	return imageData(img, "tab"), nil
}

func imageData(img []byte, source string) map[string]interface{} {
	return map[string]interface{}{
		"screenshot":    true,
		action.ImageKey: base64.StdEncoding.EncodeToString(img),
		"mime_type":     screenshotMime,
		"source":        source,
		"bytes":         len(img),
	}
}
