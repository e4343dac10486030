package action

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	// ReportDataLimit caps the serialized data of one report line.
	ReportDataLimit = 2000
	// ReportArrayWindow keeps only the most recent entries of array payloads.
	ReportArrayWindow = 50
	// ImageKey marks a data payload as an image; such payloads are never truncated.
	ImageKey = "image_base64"
)

// BuildReport renders results as the bounded textual report posted back to the
// remote service, one result per line.
func BuildReport(batch Batch, results []Result, now time.Time) string {
	id := batch.ID
	if id == "" {
		id = "unknown"
	}
	lines := make([]string, 0, len(results)+5)
	lines = append(lines,
		"[ACTION_REPORT]",
		"timestamp: "+now.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		"batch: "+id,
		fmt.Sprintf("count: %d", len(results)),
	)
	for _, r := range results {
		lines = append(lines, reportLine(r))
	}
	lines = append(lines, "[/ACTION_REPORT]")
	return strings.Join(lines, "\n")
}

func reportLine(r Result) string {
	id := r.ID
	if id == "" {
		id = "n/a"
	}
	typ := string(r.Type)
	if typ == "" {
		typ = "unknown"
	}
	status := string(r.Status)
	if status == "" {
		status = "unknown"
	}
	parts := []string{"- id=" + id, "type=" + typ, "status=" + status}
	if r.Error != "" {
		parts = append(parts, fmt.Sprintf("error=%q", r.Error))
	}
	if detail := SummarizeData(r.Data); detail != "" {
		parts = append(parts, "data="+detail)
	}
	return strings.Join(parts, " ")
}

// SummarizeData serializes a result payload for a report line. Array values are
// reduced to their last ReportArrayWindow entries and the JSON is cut at
// ReportDataLimit characters with a "..." marker, unless the payload is an image.
func SummarizeData(data map[string]interface{}) string {
	if data == nil {
		return ""
	}
	if IsImage(data) {
		return safeStringify(data)
	}
	windowed := make(map[string]interface{}, len(data))
	for k, v := range data {
		windowed[k] = tailSlice(v, ReportArrayWindow)
	}
	return Truncate(safeStringify(windowed), ReportDataLimit)
}

// IsImage reports whether the payload carries image data.
func IsImage(data map[string]interface{}) bool {
	if data == nil {
		return false
	}
	v, ok := data[ImageKey]
	if !ok {
		return false
	}
	s, ok := v.(string)
	return ok && s != ""
}

// Truncate cuts text to limit runes, appending "..." when anything was dropped.
func Truncate(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}

// Bound enforces the serialized-size budget on a result payload. Oversize
// payloads are replaced by an explicit truncation marker; images are exempt.
func Bound(data map[string]interface{}, budget int) map[string]interface{} {
	if data == nil || budget <= 0 || IsImage(data) {
		return data
	}
	serialized := safeStringify(data)
	if len(serialized) <= budget {
		return data
	}

	// The marker itself must fit: escaping and multibyte runes make the
	// preview cost more than its rune count, so search on the encoded size.
	runes := []rune(serialized)
	marker := func(n int) (map[string]interface{}, bool) {
		out := map[string]interface{}{
			"truncated":     true,
			"originalBytes": len(serialized),
			"preview":       string(runes[:n]) + "...",
		}
		return out, len(safeStringify(out)) <= budget
	}
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if _, ok := marker(mid); ok {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	out, ok := marker(lo)
	if !ok {
		delete(out, "preview")
	}
	return out
}

func tailSlice(v interface{}, window int) interface{} {
	switch arr := v.(type) {
	case []interface{}:
		if len(arr) > window {
			return arr[len(arr)-window:]
		}
	case []map[string]interface{}:
		if len(arr) > window {
			return arr[len(arr)-window:]
		}
	case []string:
		if len(arr) > window {
			return arr[len(arr)-window:]
		}
	}
	return v
}

func safeStringify(v interface{}) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}
