// Package correlation pulls request and trace ids out of response headers so a
// network log entry can be matched against server-side logs.
package correlation

import (
	"regexp"
	"sort"
	"strings"
)

// Kind names the id family a key belongs to.
type Kind string

const (
	RequestID     Kind = "request_id"
	CorrelationID Kind = "correlation_id"
	TraceID       Kind = "trace_id"
)

// Key is one normalized id found on a response.
type Key struct {
	Kind  Kind
	Value string
}

func (k Key) String() string {
	return string(k.Kind) + ":" + k.Value
}

var (
	traceparentPattern = regexp.MustCompile(`(?i)^([0-9a-f]{2})-([0-9a-f]{32})-([0-9a-f]{16})-([0-9a-f]{2})$`)
	cloudTracePattern  = regexp.MustCompile(`(?i)^([0-9a-f]{32})(?:/[0-9]+)?(?:;o=\d+)?$`)
	b3SinglePattern    = regexp.MustCompile(`(?i)^([0-9a-f]{16,32})-[0-9a-f]{16}(?:-[01d](?:-[0-9a-f]{16})?)?$`)
)

var headerKinds = map[string]Kind{
	"x-request-id":     RequestID,
	"request-id":       RequestID,
	"x-amzn-requestid": RequestID,
	"x-correlation-id": CorrelationID,
	"correlation-id":   CorrelationID,
	"x-trace-id":       TraceID,
	"x-b3-traceid":     TraceID,
}

// FromHeader extracts keys from one header pair. Unrelated headers yield nil.
func FromHeader(name, value string) []Key {
	name = strings.ToLower(strings.TrimSpace(name))
	value = normalize(value)
	if name == "" || value == "" {
		return nil
	}
	if kind, ok := headerKinds[name]; ok {
		return []Key{{Kind: kind, Value: value}}
	}

	var id string
	switch name {
	case "traceparent":
		id = submatch(traceparentPattern, value, 2)
	case "x-cloud-trace-context":
		id = submatch(cloudTracePattern, value, 1)
	case "b3":
		id = submatch(b3SinglePattern, value, 1)
	}
	if id == "" {
		return nil
	}
	return []Key{{Kind: TraceID, Value: id}}
}

// FromHeaders scans a whole header map and returns the distinct keys sorted
// by their string form.
func FromHeaders(headers map[string]string) []Key {
	seen := make(map[Key]struct{})
	out := make([]Key, 0, 2)
	for name, value := range headers {
		for _, k := range FromHeader(name, value) {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Strings renders keys as "kind:value".
func Strings(keys []Key) []string {
	if len(keys) == 0 {
		return nil
	}
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}

func submatch(re *regexp.Regexp, value string, group int) string {
	m := re.FindStringSubmatch(value)
	if len(m) <= group {
		return ""
	}
	return normalize(m[group])
}

func normalize(value string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	v = strings.Trim(v, "\"'`")
	return strings.TrimRight(v, ".,;:)]}")
}
