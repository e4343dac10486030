package policy

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskingbot-bridge/internal/action"
)

// ErrUnknownConfirmation is returned when resolving an id that is not pending.
var ErrUnknownConfirmation = errors.New("unknown confirmation")

// Static answers every confirmation the same way.
type Static bool

func (s Static) Confirm(context.Context, action.Action, string) (bool, error) {
	return bool(s), nil
}

// Prompt asks on a terminal. Only an explicit "y" or "yes" approves.
type Prompt struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

func NewPrompt(in io.Reader, out io.Writer) *Prompt {
	return &Prompt{in: bufio.NewReader(in), out: out}
}

func (p *Prompt) Confirm(ctx context.Context, _ action.Action, summary string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.out, "Allow TaskingBot to perform this action?\n\n  %s\n\n[y/N]: ", summary)

	type answer struct {
		line string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := p.in.ReadString('\n')
		ch <- answer{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case a := <-ch:
		if a.err != nil && a.line == "" {
			return false, fmt.Errorf("read confirmation: %w", a.err)
		}
		switch strings.ToLower(strings.TrimSpace(a.line)) {
		case "y", "yes":
			return true, nil
		}
		return false, nil
	}
}

// Request is one confirmation waiting for a human decision.
type Request struct {
	ID        string    `json:"id"`
	ActionID  string    `json:"action_id"`
	Type      string    `json:"type"`
	Summary   string    `json:"summary"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`

	answer chan bool
}

// Queue parks confirmations until a panel consumer resolves them over HTTP or
// MCP. Unanswered requests count as denied once the timeout elapses.
type Queue struct {
	mu      sync.Mutex
	pending map[string]*Request
	timeout time.Duration
	notify  func(Request)
}

// NewQueue builds a queue; timeout <= 0 waits until the caller's context ends.
func NewQueue(timeout time.Duration) *Queue {
	return &Queue{pending: make(map[string]*Request), timeout: timeout}
}

// OnRequest registers a callback invoked for every new pending request.
func (q *Queue) OnRequest(fn func(Request)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.notify = fn
}

func (q *Queue) Confirm(ctx context.Context, a action.Action, summary string) (bool, error) {
	now := time.Now()
	req := &Request{
		ID:        uuid.NewString(),
		ActionID:  a.ID,
		Type:      string(a.Type),
		Summary:   summary,
		CreatedAt: now,
		answer:    make(chan bool, 1),
	}
	if q.timeout > 0 {
		req.ExpiresAt = now.Add(q.timeout)
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}

	q.mu.Lock()
	q.pending[req.ID] = req
	notify := q.notify
	q.mu.Unlock()
	defer q.remove(req.ID)

	if notify != nil {
		notify(*req)
	}

	select {
	case ok := <-req.answer:
		return ok, nil
	case <-ctx.Done():
		return false, nil
	}
}

// Pending lists open requests, oldest first.
func (q *Queue) Pending() []Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Request, 0, len(q.pending))
	for _, r := range q.pending {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Resolve answers a pending request.
func (q *Queue) Resolve(id string, allow bool) error {
	q.mu.Lock()
	req, ok := q.pending[id]
	if ok {
		delete(q.pending, id)
	}
	q.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConfirmation, id)
	}
	req.answer <- allow
	return nil
}

func (q *Queue) remove(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.pending, id)
}
