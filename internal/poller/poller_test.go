package poller

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"taskingbot-bridge/internal/action"
	"taskingbot-bridge/internal/automation"
	"taskingbot-bridge/internal/claim"
	"taskingbot-bridge/internal/credentials"
	"taskingbot-bridge/internal/remote"
)

// stubPage answers Info only; batches in these tests never touch the DOM.
type stubPage struct {
	automation.Page
}

func (stubPage) Info(context.Context) (automation.PageInfo, error) {
	return automation.PageInfo{URL: "https://app.example.com/inbox", Title: "Inbox"}, nil
}

type fakeQueue struct {
	mu         sync.Mutex
	batch      action.Batch
	fetchErr   error
	reportErr  error
	fetches    int
	reports    []remote.Report
	heartbeats []remote.Heartbeat
	block      chan struct{}
}

func (q *fakeQueue) FetchPending(ctx context.Context) (action.Batch, error) {
	q.mu.Lock()
	q.fetches++
	block := q.block
	q.mu.Unlock()
	if block != nil {
		<-block
	}
	if q.fetchErr != nil {
		return action.Batch{}, q.fetchErr
	}
	return q.batch, nil
}

func (q *fakeQueue) Report(_ context.Context, r remote.Report) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.reports = append(q.reports, r)
	return q.reportErr
}

func (q *fakeQueue) Heartbeat(_ context.Context, h remote.Heartbeat) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.heartbeats = append(q.heartbeats, h)
	return nil
}

func waitBatch(id string) action.Batch {
	return action.Batch{ID: id, Actions: []action.Action{
		{ID: "w1", Type: action.Wait, Params: action.WaitParams{Ms: 0}},
		{ID: "w2", Type: action.Wait, Params: action.WaitParams{Ms: 0}},
	}}
}

func newTestPoller(q *fakeQueue, tokens credentials.Source, claims claim.Store) *Poller {
	exec := automation.NewExecutor(automation.Options{}, nil, nil, nil)
	runner := automation.NewRunner(exec, nil, automation.RunnerOptions{DataBudget: 4096, TrackTabs: true}, nil)
	pages := func(context.Context) (automation.Page, error) { return stubPage{}, nil }
	return New(q, tokens, runner, pages, claims, Options{ExtensionID: "bridge", Capabilities: []string{"click"}}, nil)
}

func TestTickNoTokenSkipsFetch(t *testing.T) {
	q := &fakeQueue{batch: waitBatch("b1")}
	p := newTestPoller(q, credentials.Chain{}, nil)

	if got := p.Tick(context.Background()); got != OutcomeNoToken {
		t.Errorf("expected %s, got %s", OutcomeNoToken, got)
	}
	if q.fetches != 0 {
		t.Errorf("expected no fetch without credentials, got %d", q.fetches)
	}
	if p.State() != Idle {
		t.Errorf("expected idle after tick, got %s", p.State())
	}
}

func TestTickSilentOutcomes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Outcome
	}{
		{"empty queue", remote.ErrNoBatch, OutcomeEmpty},
		{"unauthorized", remote.ErrUnauthorized, OutcomeUnauthorized},
		{"transport", errors.New("connection refused"), OutcomeTransport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &fakeQueue{fetchErr: tt.err}
			p := newTestPoller(q, credentials.Static("tok"), nil)
			if got := p.Tick(context.Background()); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
			if len(q.reports) != 0 {
				t.Errorf("expected no report, got %d", len(q.reports))
			}
		})
	}
}

func TestTickRunsAndReports(t *testing.T) {
	q := &fakeQueue{batch: waitBatch("b-42")}
	p := newTestPoller(q, credentials.Static("tok"), nil)
	p.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	if got := p.Tick(context.Background()); got != OutcomeReported {
		t.Fatalf("expected %s, got %s", OutcomeReported, got)
	}
	if len(q.reports) != 1 {
		t.Fatalf("expected one report, got %d", len(q.reports))
	}
	r := q.reports[0]
	if r.ID != "b-42" || r.Status != "completed" {
		t.Errorf("unexpected report %+v", r)
	}
	if !strings.Contains(r.Result, "batch: b-42") || !strings.Contains(r.Result, "count: 2") {
		t.Errorf("unexpected report body %q", r.Result)
	}
	if !strings.Contains(r.Result, "timestamp: 2026-01-02T03:04:05.000Z") {
		t.Errorf("expected report timestamp, got %q", r.Result)
	}
}

func TestTickFailedBatchStatus(t *testing.T) {
	batch := waitBatch("b-fail")
	batch.Actions = append(batch.Actions, action.Action{ID: "x", Type: "teleport"})
	q := &fakeQueue{batch: batch}
	p := newTestPoller(q, credentials.Static("tok"), nil)

	p.Tick(context.Background())
	if len(q.reports) != 1 || q.reports[0].Status != "failed" {
		t.Fatalf("expected failed report, got %+v", q.reports)
	}
	if !strings.Contains(q.reports[0].Result, "count: 3") {
		t.Errorf("expected every action reported, got %q", q.reports[0].Result)
	}
}

func TestTickSkipsClaimedBatch(t *testing.T) {
	q := &fakeQueue{batch: waitBatch("b-dup")}
	claims := claim.NewMemory()
	p := newTestPoller(q, credentials.Static("tok"), claims)

	if got := p.Tick(context.Background()); got != OutcomeReported {
		t.Fatalf("expected first tick to report, got %s", got)
	}
	if got := p.Tick(context.Background()); got != OutcomeClaimed {
		t.Errorf("expected redelivered batch to be skipped, got %s", got)
	}
	if len(q.reports) != 1 {
		t.Errorf("expected a single report, got %d", len(q.reports))
	}
}

func TestTickReleasesClaimWithoutPage(t *testing.T) {
	q := &fakeQueue{batch: waitBatch("b-nopage")}
	claims := claim.NewMemory()
	p := newTestPoller(q, credentials.Static("tok"), claims)
	p.pages = func(context.Context) (automation.Page, error) { return nil, errors.New("browser not connected") }

	if got := p.Tick(context.Background()); got != OutcomeNoPage {
		t.Fatalf("expected %s, got %s", OutcomeNoPage, got)
	}
	if ok, _ := claims.Claim(context.Background(), "b-nopage", "other", time.Minute); !ok {
		t.Error("expected claim to be released when no page was available")
	}
}

func TestTickIsNotReentrant(t *testing.T) {
	q := &fakeQueue{fetchErr: remote.ErrNoBatch, block: make(chan struct{})}
	p := newTestPoller(q, credentials.Static("tok"), nil)

	done := make(chan Outcome)
	go func() { done <- p.Tick(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	for p.State() != Polling && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := p.Tick(context.Background()); got != OutcomeBusy {
		t.Errorf("expected overlapping tick to be dropped, got %s", got)
	}
	close(q.block)
	if got := <-done; got != OutcomeEmpty {
		t.Errorf("expected first tick to finish empty, got %s", got)
	}
}

func TestBeat(t *testing.T) {
	q := &fakeQueue{}
	p := newTestPoller(q, credentials.Static("tok"), nil)
	p.Beat(context.Background())
	if len(q.heartbeats) != 1 {
		t.Fatalf("expected one heartbeat, got %d", len(q.heartbeats))
	}
	hb := q.heartbeats[0]
	if hb.ExtensionID != "bridge" || hb.TabURL != "https://app.example.com/inbox" || hb.TabTitle != "Inbox" {
		t.Errorf("unexpected heartbeat %+v", hb)
	}

	silent := newTestPoller(&fakeQueue{}, credentials.Chain{}, nil)
	silent.Beat(context.Background())
	if n := len(silent.queue.(*fakeQueue).heartbeats); n != 0 {
		t.Errorf("expected no heartbeat without credentials, got %d", n)
	}
}

func TestRunWaitsForInFlightTick(t *testing.T) {
	q := &fakeQueue{fetchErr: remote.ErrNoBatch, block: make(chan struct{})}
	p := newTestPoller(q, credentials.Static("tok"), nil)
	p.opts.Interval = time.Millisecond
	p.opts.HeartbeatInterval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for p.State() != Polling && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if p.State() != Polling {
		t.Fatal("expected a tick to start")
	}
	cancel()

	select {
	case err := <-done:
		t.Fatalf("expected Run to wait for the tick, returned %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(q.block)
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected Run to return once the tick finished")
	}
	if p.State() != Idle {
		t.Errorf("expected idle after Run, got %s", p.State())
	}
}
