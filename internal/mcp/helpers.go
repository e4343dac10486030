package mcp

import (
	"fmt"

	"github.com/spf13/cast"
)

func getStringArg(args map[string]interface{}, key string) string {
	return argString(args[key])
}

func getIntArg(args map[string]interface{}, key string, fallback int) int {
	val, ok := args[key]
	if !ok || val == nil {
		return fallback
	}
	n, err := cast.ToIntE(val)
	if err != nil {
		return fallback
	}
	return n
}

func getBoolArg(args map[string]interface{}, key string, fallback bool) bool {
	val, ok := args[key]
	if !ok || val == nil {
		return fallback
	}
	b, err := cast.ToBoolE(val)
	if err != nil {
		return fallback
	}
	return b
}

func argString(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case []string:
		if len(value) == 0 {
			return ""
		}
		return value[0]
	default:
		return fmt.Sprintf("%v", value)
	}
}

func clampLimit(limit, fallback, ceiling int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > ceiling {
		return ceiling
	}
	return limit
}

func failure(err error) map[string]interface{} {
	return map[string]interface{}{"success": false, "error": err.Error()}
}
