package action

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cast"
)

// Decode builds a typed Action from a loosely-typed wire payload. It never
// fails: missing fields take their defaults and unknown verbs keep their
// normalized name with UnknownParams. index seeds the default id.
func Decode(fields map[string]interface{}, index int) Action {
	raw := RawType(fields)
	a := Action{
		ID:      toString(fields["id"]),
		Type:    Normalize(raw),
		RawType: raw,
		Confirm: cast.ToBool(fields["confirm"]),
	}
	if a.ID == "" {
		a.ID = defaultID(index)
	}

	a.Target = Target{
		Selector:  firstString(fields, "selector", "css", "xpath"),
		X:         optionalFloat(fields, "x"),
		Y:         optionalFloat(fields, "y"),
		WaitFor:   cast.ToBool(fields["waitFor"]) || cast.ToBool(fields["wait_for"]),
		TimeoutMs: cast.ToInt(firstValue(fields, "timeoutMs", "timeout_ms", "timeout")),
	}
	if xp := toString(fields["xpath"]); xp != "" && a.Target.Selector == xp && !strings.HasPrefix(xp, "/") {
		a.Target.Selector = "xpath:" + xp
	}

	text := toString(fields["text"])
	description := firstString(fields, "target", "label")

	switch a.Type {
	case TypeText:
		// text is the literal to enter; the element is described by target/label.
		a.Target.Text = description
		clear := true
		if v, ok := fields["clear"]; ok && v != nil {
			clear = cast.ToBool(v)
		}
		value := cast.ToString(fields["text"])
		if value == "" {
			value = cast.ToString(fields["value"])
		}
		a.Params = TypeParams{Text: value, Clear: clear}
	case Select:
		a.Target.Text = description
		value := toString(fields["value"])
		if value == "" {
			value = firstString(fields, "option", "text")
		}
		a.Params = SelectParams{Value: value}
	case SetValue:
		a.Target.Text = description
		value := toString(fields["value"])
		if value == "" {
			value = text
		}
		a.Params = SetValueParams{Value: value}
	default:
		a.Target.Text = text
		if a.Target.Text == "" {
			a.Target.Text = description
		}
		a.Params = decodeParams(a.Type, fields)
	}
	return a
}

// DecodeAll decodes a list of wire actions, assigning positional default ids.
func DecodeAll(items []map[string]interface{}) []Action {
	out := make([]Action, 0, len(items))
	for i, item := range items {
		out = append(out, Decode(item, i))
	}
	return out
}

// DecodeJSON accepts either a JSON array of actions or an object with an
// "actions" array.
func DecodeJSON(raw []byte) ([]Action, error) {
	var parsed interface{}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode actions: %w", err)
	}
	return DecodeAll(ListFrom(parsed)), nil
}

// ListFrom extracts wire action objects from an array or {actions: [...]}.
func ListFrom(parsed interface{}) []map[string]interface{} {
	var items []interface{}
	switch v := parsed.(type) {
	case []interface{}:
		items = v
	case map[string]interface{}:
		if arr, ok := v["actions"].([]interface{}); ok {
			items = arr
		}
	}
	out := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out
}

func decodeParams(t Type, fields map[string]interface{}) Params {
	switch t {
	case Click:
		return ClickParams{}
	case UploadFile:
		return UploadParams{
			Base64:   firstString(fields, "base64", "data"),
			URL:      firstString(fields, "url", "href"),
			MimeType: firstString(fields, "mimeType", "mime_type"),
			Filename: firstString(fields, "filename", "fileName"),
		}
	case Scroll:
		return ScrollParams{
			Direction: strings.ToLower(toString(fields["direction"])),
			Amount:    cast.ToInt(firstValue(fields, "amount", "pixels")),
			To:        strings.ToLower(toString(fields["to"])),
		}
	case Extract:
		mode := strings.ToLower(toString(fields["mode"]))
		return ExtractParams{
			All:       cast.ToBool(fields["all"]) || cast.ToBool(fields["multiple"]) || mode == "all",
			Attribute: firstString(fields, "attribute", "attr"),
			Limit:     cast.ToInt(fields["limit"]),
		}
	case Submit:
		return SubmitParams{}
	case Focus:
		return FocusParams{}
	case Clear:
		return ClearParams{}
	case Hover:
		return HoverParams{}
	case Wait:
		ms := -1
		if v := firstValue(fields, "ms", "duration", "milliseconds"); v != nil {
			if n, err := cast.ToIntE(v); err == nil {
				ms = n
			}
		}
		return WaitParams{Ms: ms}
	case Navigate:
		return NavigateParams{
			URL:    firstString(fields, "url", "href"),
			NewTab: cast.ToBool(fields["newTab"]) || cast.ToBool(fields["new_tab"]),
		}
	case OpenTab:
		return OpenTabParams{URL: firstString(fields, "url", "href")}
	case Screenshot:
		return ScreenshotParams{FullPage: cast.ToBool(fields["fullPage"])}
	case ScreenCapture:
		return ScreenCaptureParams{}
	case GetFormFields:
		return FormFieldsParams{Scope: firstString(fields, "scope", "form")}
	case GetPageInfo:
		return PageInfoParams{}
	case GetConsoleLogs, GetNetworkLogs:
		return LogParams{Limit: cast.ToInt(firstValue(fields, "limit", "count"))}
	}
	return UnknownParams{Fields: fields}
}

func firstValue(fields map[string]interface{}, keys ...string) interface{} {
	for _, k := range keys {
		if v, ok := fields[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func firstString(fields map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if s := toString(fields[k]); s != "" {
			return s
		}
	}
	return ""
}

func optionalFloat(fields map[string]interface{}, key string) *float64 {
	v, ok := fields[key]
	if !ok || v == nil {
		return nil
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return nil
	}
	return &f
}

func toString(v interface{}) string {
	if v == nil {
		return ""
	}
	return strings.TrimSpace(cast.ToString(v))
}
