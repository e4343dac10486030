package policy

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"taskingbot-bridge/internal/action"
)

const (
	ReasonMissingURL  = "Missing url for navigation."
	ReasonUnsafeURL   = "Blocked: unsafe URL scheme."
	ReasonDestructive = "Destructive actions are blocked."
	ReasonDenied      = "User denied confirmation."

	summaryTextLimit = 80
)

var (
	destructivePattern = regexp.MustCompile(`(?i)(delete|destroy|remove|clear|erase|drop)`)
	sensitiveTypes     = regexp.MustCompile(`(?i)(login|sign[_-]?in|signin|signup|register|create[_-]?account|payment|purchase|checkout|billing|email)`)
	sensitiveHosts     = regexp.MustCompile(`(?i)mail\.google\.com|gmail\.com|accounts\.google\.com`)
	sensitiveSelectors = regexp.MustCompile(`(?i)password|passcode|credit-card|card-number`)

	unsafeSchemes = []string{"javascript:", "file:", "chrome:", "data:"}
)

// Confirmer asks a human whether a sensitive action may run.
type Confirmer interface {
	Confirm(ctx context.Context, a action.Action, summary string) (bool, error)
}

// Gate evaluates the pre-dispatch checks in order: URL safety, the destructive
// denylist, then confirmation of sensitive actions.
type Gate struct {
	confirmer Confirmer
	logger    *zap.Logger
}

// NewGate builds a gate. A nil confirmer denies every sensitive action.
func NewGate(confirmer Confirmer, logger *zap.Logger) *Gate {
	if confirmer == nil {
		confirmer = Static(false)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{confirmer: confirmer, logger: logger.With(zap.String("component", "policy"))}
}

// Check returns a refusal result and false when a must not run. The returned
// result is only meaningful when the action is refused.
func (g *Gate) Check(ctx context.Context, a action.Action) (action.Result, bool) {
	refuse := func(status action.Status, reason string) (action.Result, bool) {
		g.logger.Info("action refused",
			zap.String("action_id", a.ID),
			zap.String("action_type", string(a.Type)),
			zap.String("status", string(status)),
			zap.String("reason", reason))
		return action.Result{ID: a.ID, Type: a.Type, Status: status, Error: reason}, false
	}

	if ok, reason := CheckURL(a); !ok {
		return refuse(action.StatusBlocked, reason)
	}
	if IsDestructive(a) {
		return refuse(action.StatusBlocked, ReasonDestructive)
	}
	if IsSensitive(a) {
		approved, err := g.confirmer.Confirm(ctx, a, Summary(a))
		if err != nil {
			g.logger.Warn("confirmation failed", zap.String("action_id", a.ID), zap.Error(err))
		}
		if err != nil || !approved {
			return refuse(action.StatusSkipped, ReasonDenied)
		}
	}
	return action.Result{}, true
}

// CheckURL permits everything except navigation without a target or to an
// unsafe scheme.
func CheckURL(a action.Action) (bool, string) {
	switch a.Type {
	case action.Wait, action.Screenshot, action.ScreenCapture, action.GetConsoleLogs, action.GetNetworkLogs:
		return true, ""
	case action.Navigate, action.OpenTab:
		target := strings.ToLower(strings.TrimSpace(a.URL()))
		if target == "" {
			return false, ReasonMissingURL
		}
		for _, scheme := range unsafeSchemes {
			if strings.HasPrefix(target, scheme) {
				return false, ReasonUnsafeURL
			}
		}
	}
	return true, ""
}

// IsDestructive matches the canonical type against the denylist.
func IsDestructive(a action.Action) bool {
	return destructivePattern.MatchString(string(a.Type))
}

// IsSensitive reports actions that need a human in the loop.
func IsSensitive(a action.Action) bool {
	if a.Confirm {
		return true
	}
	if sensitiveTypes.MatchString(string(a.Type)) {
		return true
	}
	if sensitiveHosts.MatchString(a.URL()) {
		return true
	}
	return sensitiveSelectors.MatchString(a.Target.Selector)
}

// Summary renders the one-line description shown when asking for confirmation.
func Summary(a action.Action) string {
	typ := string(a.Type)
	if typ == "" {
		typ = "action"
	}
	parts := []string{typ}
	if u := a.URL(); u != "" {
		parts = append(parts, "url="+u)
	}
	if a.Target.Selector != "" {
		parts = append(parts, "selector="+a.Target.Selector)
	}
	text := a.Target.Text
	if p, ok := a.Params.(action.TypeParams); ok && p.Text != "" {
		text = p.Text
	}
	if text != "" {
		if runes := []rune(text); len(runes) > summaryTextLimit {
			text = string(runes[:summaryTextLimit])
		}
		parts = append(parts, fmt.Sprintf(`text="%s"`, text))
	}
	return strings.Join(parts, " ")
}
