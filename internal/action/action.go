package action

import (
	"fmt"
	"math/rand"
	"time"
)

// Type is a canonical action verb.
type Type string

const (
	Click          Type = "click"
	TypeText       Type = "type"
	Select         Type = "select"
	SetValue       Type = "set_value"
	UploadFile     Type = "upload_file"
	Scroll         Type = "scroll"
	Extract        Type = "extract"
	Submit         Type = "submit"
	Focus          Type = "focus"
	Clear          Type = "clear"
	Hover          Type = "hover"
	Wait           Type = "wait"
	Navigate       Type = "navigate"
	OpenTab        Type = "open_tab"
	Screenshot     Type = "screenshot"
	ScreenCapture  Type = "screen_capture"
	GetFormFields  Type = "get_form_fields"
	GetPageInfo    Type = "get_page_info"
	GetConsoleLogs Type = "get_console_logs"
	GetNetworkLogs Type = "get_network_logs"
)

// Status is the outcome class of one action.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusBlocked Status = "blocked"
	StatusSkipped Status = "skipped"
)

// Target describes how the element an action operates on should be found.
// Resolution order is coordinates, then selector, then free text.
type Target struct {
	Selector  string   `json:"selector,omitempty"`
	Text      string   `json:"text,omitempty"`
	X         *float64 `json:"x,omitempty"`
	Y         *float64 `json:"y,omitempty"`
	WaitFor   bool     `json:"waitFor,omitempty"`
	TimeoutMs int      `json:"timeoutMs,omitempty"`
}

// HasPoint reports whether both coordinates were supplied.
func (t Target) HasPoint() bool {
	return t.X != nil && t.Y != nil
}

// Empty reports whether no locating information was supplied at all.
func (t Target) Empty() bool {
	return t.Selector == "" && t.Text == "" && !t.HasPoint()
}

// Action is one instruction. It is immutable once dispatched; handlers only read it.
type Action struct {
	ID      string `json:"id"`
	Type    Type   `json:"type"`
	Target  Target `json:"target"`
	Params  Params `json:"params,omitempty"`
	Confirm bool   `json:"confirm,omitempty"`
	// RawType keeps the verb as it arrived on the wire, before normalization.
	RawType string `json:"raw_type,omitempty"`
}

// URL returns the navigation target of navigate/open_tab actions.
func (a Action) URL() string {
	switch p := a.Params.(type) {
	case NavigateParams:
		return p.URL
	case OpenTabParams:
		return p.URL
	case UploadParams:
		return p.URL
	}
	return ""
}

// Result is the outcome of exactly one Action.
type Result struct {
	ID     string                 `json:"id"`
	Type   Type                   `json:"type"`
	Status Status                 `json:"status"`
	Data   map[string]interface{} `json:"data,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

// OK reports whether the action succeeded.
func (r Result) OK() bool {
	return r.Status == StatusSuccess
}

// Batch is an ordered list of actions reported as one unit.
type Batch struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	Actions   []Action  `json:"actions"`
}

// NewBatch wraps actions in a batch with a locally generated id.
func NewBatch(actions []Action) Batch {
	now := time.Now()
	return Batch{
		ID:        fmt.Sprintf("batch_%d_%d", now.UnixMilli(), rand.Intn(1000)),
		CreatedAt: now.UTC(),
		Actions:   actions,
	}
}

// Outcome folds per-action results into the batch status reported upstream:
// completed only when every action succeeded.
func Outcome(results []Result) string {
	for _, r := range results {
		if r.Status != StatusSuccess {
			return "failed"
		}
	}
	return "completed"
}

func defaultID(index int) string {
	return fmt.Sprintf("action_%d_%d", time.Now().UnixMilli(), index)
}
