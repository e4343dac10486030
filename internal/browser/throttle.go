package browser

import (
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod/lib/proto"
)

// eventThrottler samples high-frequency event streams per key. A nil
// throttler allows everything.
type eventThrottler struct {
	interval time.Duration
	mu       sync.Mutex
	last     map[string]time.Time
}

func newEventThrottler(ms int) *eventThrottler {
	if ms <= 0 {
		return nil
	}
	return &eventThrottler{
		interval: time.Duration(ms) * time.Millisecond,
		last:     make(map[string]time.Time),
	}
}

func (t *eventThrottler) Allow(key string) bool {
	if t == nil {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	if last, ok := t.last[key]; ok && now.Sub(last) < t.interval {
		return false
	}
	t.last[key] = now
	return true
}

func stringifyConsoleArgs(args []*proto.RuntimeRemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		if a == nil {
			continue
		}
		if !a.Value.Nil() {
			parts = append(parts, a.Value.String())
			continue
		}
		if a.Description != "" {
			parts = append(parts, a.Description)
		}
	}
	return strings.Join(parts, " ")
}

func coalesceNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// isInternalScript reports browser-internal URLs that are never page traffic.
func isInternalScript(url string) bool {
	for _, prefix := range []string{"chrome://", "chrome-extension://", "devtools://", "about:", "data:", "blob:"} {
		if strings.HasPrefix(url, prefix) {
			return true
		}
	}
	return false
}

// isPageRequest keeps the request kinds the page issues from script.
func isPageRequest(resourceType string) bool {
	switch strings.ToLower(resourceType) {
	case "xhr", "fetch":
		return true
	}
	return false
}
