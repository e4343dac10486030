package action

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	actionsBlock = regexp.MustCompile(`(?is)\[ACTIONS\](.*?)\[/ACTIONS\]`)
	jsonFence    = regexp.MustCompile("(?is)```json(.*?)```")
)

// ExtractFromText pulls an action list out of assistant text. An
// [ACTIONS]...[/ACTIONS] block wins; otherwise a ```json fence that mentions
// "actions" is tried. The matched block is removed from the returned text.
func ExtractFromText(text string) (string, []Action) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	clean := text
	var items []map[string]interface{}

	if m := actionsBlock.FindStringSubmatch(clean); m != nil {
		items = parseActionJSON(m[1])
		clean = strings.TrimSpace(strings.Replace(clean, m[0], "", 1))
	}
	if len(items) == 0 {
		if m := jsonFence.FindStringSubmatch(clean); m != nil && strings.Contains(m[1], `"actions"`) {
			items = parseActionJSON(m[1])
			clean = strings.TrimSpace(strings.Replace(clean, m[0], "", 1))
		}
	}
	if len(items) == 0 {
		return clean, nil
	}
	return clean, DecodeAll(items)
}

func parseActionJSON(raw string) []map[string]interface{} {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	var parsed interface{}
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return nil
	}
	return ListFrom(parsed)
}
