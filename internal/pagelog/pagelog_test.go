package pagelog

import (
	"fmt"
	"testing"
	"time"
)

func TestConsoleRetentionAndOrdering(t *testing.T) {
	b := NewBuffer(3)
	b.AddConsole(ConsoleEntry{Level: "log", Message: "m1"})
	b.AddConsole(ConsoleEntry{Level: "ERROR", Message: "m2"})
	b.AddConsole(ConsoleEntry{Level: "info", Message: "m3"})
	b.AddConsole(ConsoleEntry{Level: "warn", Message: "m4"})

	got := b.Console(0)
	if len(got) != 3 {
		t.Fatalf("expected 3 retained entries, got %d", len(got))
	}
	want := []string{"m2", "m3", "m4"}
	for i, msg := range want {
		if got[i].Message != msg {
			t.Errorf("position %d: expected %s, got %s", i, msg, got[i].Message)
		}
	}

	limited := b.Console(2)
	if len(limited) != 2 || limited[0].Message != "m3" {
		t.Errorf("expected the two most recent, got %+v", limited)
	}
}

func TestNetworkLifecycle(t *testing.T) {
	b := NewBuffer(10)
	start := time.Now()
	b.StartRequest(NetworkEntry{RequestID: "1", Type: "fetch", URL: "/ok", Method: "GET", Timestamp: start})
	b.StartRequest(NetworkEntry{RequestID: "2", Type: "xhr", URL: "/boom", Method: "POST", Timestamp: start})
	b.StartRequest(NetworkEntry{RequestID: "3", Type: "fetch", URL: "/gone", Method: "GET", Timestamp: start})

	b.SetResponse("1", 200, nil)
	b.FinishRequest("1", start.Add(40*time.Millisecond))
	b.SetResponse("2", 500, []string{"trace_id:abc"})
	b.FinishRequest("2", start.Add(10*time.Millisecond))
	b.FailRequest("3", start.Add(5*time.Millisecond), "net::ERR_NAME_NOT_RESOLVED")
	b.FinishRequest("unknown", start)

	got := b.Network(0)
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	if got[0].URL != "/boom" || got[1].URL != "/gone" || got[2].URL != "/ok" {
		t.Errorf("expected failures first in chronological order, got %s %s %s", got[0].URL, got[1].URL, got[2].URL)
	}
	if got[2].DurationMs != 40 || !got[2].OK {
		t.Errorf("unexpected ok entry %+v", got[2])
	}
	if got[1].Error == "" || got[1].OK {
		t.Errorf("expected failed entry, got %+v", got[1])
	}
	if len(got[0].TraceKeys) != 1 {
		t.Errorf("expected trace keys on /boom, got %v", got[0].TraceKeys)
	}
}

func TestReset(t *testing.T) {
	b := NewBuffer(5)
	for i := 0; i < 5; i++ {
		b.AddConsole(ConsoleEntry{Level: "log", Message: fmt.Sprint(i)})
		b.AddNetwork(NetworkEntry{URL: fmt.Sprint(i), OK: true, Status: 200})
	}
	b.StartRequest(NetworkEntry{RequestID: "x"})
	b.Reset()
	if len(b.Console(0)) != 0 || len(b.Network(0)) != 0 {
		t.Error("expected empty buffers after reset")
	}
	b.FinishRequest("x", time.Now())
	if len(b.Network(0)) != 0 {
		t.Error("pending requests must be dropped on reset")
	}
}
