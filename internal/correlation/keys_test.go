package correlation

import (
	"strings"
	"testing"
)

func TestFromHeader(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
		want  []Key
	}{
		{"request id", "X-Request-Id", "REQ-12345", []Key{{Kind: RequestID, Value: "req-12345"}}},
		{"correlation id", "x-correlation-id", "corr-abc-789", []Key{{Kind: CorrelationID, Value: "corr-abc-789"}}},
		{"traceparent", "traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-00", []Key{{Kind: TraceID, Value: "4bf92f3577b34da6a3ce929d0e0e4736"}}},
		{"cloud trace context", "x-cloud-trace-context", "105445aa7843bc8bf206b12000100000/123;o=1", []Key{{Kind: TraceID, Value: "105445aa7843bc8bf206b12000100000"}}},
		{"b3 single", "b3", "80f198ee56343ba864fe8b2a57d3eff7-e457b5a2e4d86bd1-1", []Key{{Kind: TraceID, Value: "80f198ee56343ba864fe8b2a57d3eff7"}}},
		{"malformed traceparent", "traceparent", "not-a-trace", nil},
		{"unsupported header", "content-type", "application/json", nil},
		{"empty value", "x-request-id", "  ", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromHeader(tt.key, tt.value)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d keys, got %d: %#v", len(tt.want), len(got), got)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("key[%d]: expected %#v, got %#v", i, tt.want[i], got[i])
				}
			}
		})
	}
}

func TestFromHeadersDedupesAndSorts(t *testing.T) {
	keys := FromHeaders(map[string]string{
		"X-Request-Id":  "abc123",
		"request-id":    "ABC123",
		"traceparent":   "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
		"X-Trace-Id":    "4bf92f3577b34da6a3ce929d0e0e4736",
		"Cache-Control": "no-cache",
	})
	got := strings.Join(Strings(keys), ",")
	expected := "request_id:abc123,trace_id:4bf92f3577b34da6a3ce929d0e0e4736"
	if got != expected {
		t.Errorf("expected %q, got %q", expected, got)
	}
	if Strings(nil) != nil {
		t.Error("expected nil for no keys")
	}
}
