package browser

import (
	"context"
	"strings"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"taskingbot-bridge/internal/correlation"
	"taskingbot-bridge/internal/pagelog"
)

// maxTrackedRequests bounds the request-id to URL map of one tab.
const maxTrackedRequests = 1000

// startEventStream feeds navigation, console and fetch/XHR events of tab into
// its log buffer and the event sink until ctx ends.
func (m *Manager) startEventStream(ctx context.Context, tab *Tab) {
	page := tab.page
	tabID := tab.meta.ID
	throttler := newEventThrottler(m.cfg.EventThrottleMs)
	captureHeaders := m.cfg.EnableHeaderIngestion
	log := m.logger.With(zap.String("tab_id", tabID))

	waitNav := page.Context(ctx).EachEvent(func(ev *proto.PageFrameNavigated) {
		if ev.Frame == nil || ev.Frame.ParentID != "" {
			return
		}
		now := time.Now()
		tab.logs.Reset()
		tab.update(func(meta *TabMeta) {
			meta.URL = ev.Frame.URL
			meta.LastActive = now
		})
		if m.sink != nil {
			m.sink.Navigation(tabID, ev.Frame.URL, now)
		}
		log.Debug("navigated", zap.String("url", ev.Frame.URL))
	})

	urls := make(map[proto.NetworkRequestID]string)
	waitRest := page.Context(ctx).EachEvent(
		func(ev *proto.RuntimeConsoleAPICalled) {
			if !throttler.Allow("console") {
				return
			}
			now := time.Now()
			entry := pagelog.ConsoleEntry{Level: string(ev.Type), Message: stringifyConsoleArgs(ev.Args), Timestamp: now}
			if ev.StackTrace != nil && len(ev.StackTrace.CallFrames) > 0 {
				entry.Source = ev.StackTrace.CallFrames[0].URL
			}
			if isInternalScript(entry.Source) {
				return
			}
			tab.logs.AddConsole(entry)
			if m.sink != nil {
				m.sink.ConsoleEvent(entry.Level, entry.Message, now)
			}
		},
		func(ev *proto.RuntimeExceptionThrown) {
			if ev.ExceptionDetails == nil {
				return
			}
			now := time.Now()
			d := ev.ExceptionDetails
			desc := ""
			if d.Exception != nil {
				desc = d.Exception.Description
			}
			entry := pagelog.ConsoleEntry{
				Level:     "exception",
				Message:   coalesceNonEmpty(desc, d.Text),
				Source:    d.URL,
				Timestamp: now,
			}
			tab.logs.AddConsole(entry)
			if m.sink != nil {
				m.sink.ConsoleEvent(entry.Level, entry.Message, now)
			}
		},
		func(ev *proto.NetworkRequestWillBeSent) {
			if ev.Request == nil || !isPageRequest(string(ev.Type)) || isInternalScript(ev.Request.URL) {
				return
			}
			now := time.Now()
			var keys []string
			if captureHeaders {
				keys = correlation.Strings(correlation.FromHeaders(flattenHeaders(ev.Request.Headers)))
			}
			if len(urls) > maxTrackedRequests {
				urls = make(map[proto.NetworkRequestID]string)
			}
			urls[ev.RequestID] = ev.Request.URL
			tab.logs.StartRequest(pagelog.NetworkEntry{
				RequestID: string(ev.RequestID),
				Type:      strings.ToLower(string(ev.Type)),
				URL:       ev.Request.URL,
				Method:    ev.Request.Method,
				TraceKeys: keys,
				Timestamp: now,
			})
			if m.sink != nil && throttler.Allow("net_request") {
				m.sink.NetworkRequest(string(ev.RequestID), ev.Request.Method, ev.Request.URL, keys, now)
			}
		},
		func(ev *proto.NetworkResponseReceived) {
			url, ok := urls[ev.RequestID]
			if !ok || ev.Response == nil {
				return
			}
			var keys []string
			if captureHeaders {
				keys = correlation.Strings(correlation.FromHeaders(flattenHeaders(ev.Response.Headers)))
			}
			tab.logs.SetResponse(string(ev.RequestID), ev.Response.Status, keys)
			if m.sink != nil && throttler.Allow("net_response") {
				m.sink.NetworkResponse(url, ev.Response.Status, time.Now())
			}
		},
		func(ev *proto.NetworkLoadingFinished) {
			if _, ok := urls[ev.RequestID]; !ok {
				return
			}
			delete(urls, ev.RequestID)
			tab.logs.FinishRequest(string(ev.RequestID), time.Now())
		},
		func(ev *proto.NetworkLoadingFailed) {
			url, ok := urls[ev.RequestID]
			if !ok {
				return
			}
			delete(urls, ev.RequestID)
			now := time.Now()
			reason := ev.ErrorText
			if ev.Canceled {
				reason = coalesceNonEmpty(reason, "canceled")
			}
			tab.logs.FailRequest(string(ev.RequestID), now, reason)
			if m.sink != nil {
				m.sink.NetworkFailure(url, coalesceNonEmpty(reason, "request failed"), now)
			}
		},
	)

	go waitNav()
	go waitRest()
}

func flattenHeaders(h proto.NetworkHeaders) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v.Str()
	}
	return out
}
