package pagelog

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultCapacity is the retention cap of each buffer.
const DefaultCapacity = 50

// ConsoleEntry is one console message or uncaught error.
type ConsoleEntry struct {
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Source    string    `json:"source,omitempty"`
	Timestamp time.Time `json:"ts"`
}

// IsError reports entries that should surface first.
func (e ConsoleEntry) IsError() bool {
	return e.Level == "error" || e.Level == "exception" || e.Level == "assert"
}

// NetworkEntry is one completed or failed request.
type NetworkEntry struct {
	RequestID  string    `json:"-"`
	Type       string    `json:"type"`
	URL        string    `json:"url"`
	Method     string    `json:"method"`
	Status     int       `json:"status"`
	OK         bool      `json:"ok"`
	DurationMs int64     `json:"duration"`
	Error      string    `json:"error,omitempty"`
	TraceKeys  []string  `json:"trace,omitempty"`
	Timestamp  time.Time `json:"ts"`
}

// IsError reports failed requests and error statuses.
func (e NetworkEntry) IsError() bool {
	return e.Error != "" || e.Status >= 400 || (!e.OK && e.Status == 0)
}

type ring[T any] struct {
	items []T
	cap   int
}

func (r *ring[T]) push(v T) {
	r.items = append(r.items, v)
	if len(r.items) > r.cap {
		r.items = append([]T(nil), r.items[len(r.items)-r.cap:]...)
	}
}

func (r *ring[T]) tail(n int) []T {
	if n <= 0 || n > len(r.items) {
		n = len(r.items)
	}
	out := make([]T, n)
	copy(out, r.items[len(r.items)-n:])
	return out
}

// Buffer holds the most recent console and network observations of one page.
// It is safe for concurrent use by event streams and readers.
type Buffer struct {
	mu      sync.Mutex
	console ring[ConsoleEntry]
	network ring[NetworkEntry]
	pending map[string]NetworkEntry
}

// NewBuffer creates a buffer keeping capacity entries of each kind.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		console: ring[ConsoleEntry]{cap: capacity},
		network: ring[NetworkEntry]{cap: capacity},
		pending: make(map[string]NetworkEntry),
	}
}

// AddConsole records a console entry.
func (b *Buffer) AddConsole(e ConsoleEntry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	e.Level = strings.ToLower(e.Level)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.console.push(e)
}

// StartRequest tracks an in-flight request until FinishRequest or FailRequest.
func (b *Buffer) StartRequest(e NetworkEntry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) > 4*b.network.cap {
		b.pending = make(map[string]NetworkEntry)
	}
	b.pending[e.RequestID] = e
}

// SetResponse attaches status information to an in-flight request.
func (b *Buffer) SetResponse(requestID string, status int, traceKeys []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.pending[requestID]
	if !ok {
		return
	}
	e.Status = status
	e.OK = status >= 200 && status < 400
	e.TraceKeys = traceKeys
	b.pending[requestID] = e
}

// FinishRequest moves a request into the retained window.
func (b *Buffer) FinishRequest(requestID string, at time.Time) {
	b.complete(requestID, at, "")
}

// FailRequest records a request that never produced a response.
func (b *Buffer) FailRequest(requestID string, at time.Time, reason string) {
	if reason == "" {
		reason = "request failed"
	}
	b.complete(requestID, at, reason)
}

func (b *Buffer) complete(requestID string, at time.Time, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.pending[requestID]
	if !ok {
		return
	}
	delete(b.pending, requestID)
	if !at.IsZero() {
		e.DurationMs = at.Sub(e.Timestamp).Milliseconds()
	}
	if reason != "" {
		e.Error = reason
		e.OK = false
	}
	b.network.push(e)
}

// AddNetwork records a finished request directly.
func (b *Buffer) AddNetwork(e NetworkEntry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.network.push(e)
}

// Console returns up to limit most recent entries, errors first, each group
// in chronological order.
func (b *Buffer) Console(limit int) []ConsoleEntry {
	b.mu.Lock()
	out := b.console.tail(limit)
	b.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].IsError() && !out[j].IsError()
	})
	return out
}

// Network returns up to limit most recent entries, failures first.
func (b *Buffer) Network(limit int) []NetworkEntry {
	b.mu.Lock()
	out := b.network.tail(limit)
	b.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].IsError() && !out[j].IsError()
	})
	return out
}

// Reset drops everything; called on navigation and reload.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.console.items = nil
	b.network.items = nil
	b.pending = make(map[string]NetworkEntry)
}
