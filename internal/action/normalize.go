package action

import "strings"

var aliases = map[string]Type{
	"tap":   Click,
	"press": Click,

	"input": TypeText,

	"goto": Navigate,
	"open": Navigate,

	"open-tab":     OpenTab,
	"open_url":     OpenTab,
	"open-url":     OpenTab,
	"open_new_tab": OpenTab,

	"select_option": Select,
	"choose":        Select,

	"console_logs":    GetConsoleLogs,
	"get_console_log": GetConsoleLogs,
	"get_console":     GetConsoleLogs,
	"console":         GetConsoleLogs,

	"network_logs":    GetNetworkLogs,
	"get_network_log": GetNetworkLogs,
	"get_network":     GetNetworkLogs,
	"network":         GetNetworkLogs,
}

// Normalize maps a raw verb onto its canonical type. Matching is
// case-insensitive; unknown verbs pass through lower-cased so the executor can
// name them in its failure. Normalize(Normalize(x)) == Normalize(x).
func Normalize(raw string) Type {
	key := strings.ToLower(strings.TrimSpace(raw))
	if canonical, ok := aliases[key]; ok {
		return canonical
	}
	return Type(key)
}

// RawType picks the verb field from a loose wire payload: type, then action,
// then kind.
func RawType(fields map[string]interface{}) string {
	for _, key := range []string{"type", "action", "kind"} {
		if v, ok := fields[key]; ok && v != nil {
			if s := toString(v); s != "" {
				return s
			}
		}
	}
	return ""
}

// Known reports whether t is part of the canonical vocabulary.
func Known(t Type) bool {
	_, ok := canonical[t]
	return ok
}

var canonical = map[Type]struct{}{
	Click: {}, TypeText: {}, Select: {}, SetValue: {}, UploadFile: {}, Scroll: {},
	Extract: {}, Submit: {}, Focus: {}, Clear: {}, Hover: {}, Wait: {},
	Navigate: {}, OpenTab: {}, Screenshot: {}, ScreenCapture: {},
	GetFormFields: {}, GetPageInfo: {}, GetConsoleLogs: {}, GetNetworkLogs: {},
}
