package action

// Params is the verb-specific part of an Action. Each canonical type has its
// own variant carrying only the fields it uses.
type Params interface {
	verb() Type
}

type ClickParams struct{}

// TypeParams carries the literal text to enter. Clear defaults to true.
type TypeParams struct {
	Text  string `json:"text"`
	Clear bool   `json:"clear"`
}

// SelectParams names the option (value or visible text) to choose.
type SelectParams struct {
	Value string `json:"value"`
}

type SetValueParams struct {
	Value string `json:"value"`
}

// UploadParams supplies the file either inline (Base64) or by URL.
type UploadParams struct {
	Base64   string `json:"base64,omitempty"`
	URL      string `json:"url,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// ScrollParams scrolls the target into view when one is given, otherwise the
// window by Direction/Amount, or to the top/bottom when To is set.
type ScrollParams struct {
	Direction string `json:"direction,omitempty"`
	Amount    int    `json:"amount,omitempty"`
	To        string `json:"to,omitempty"`
}

// ExtractParams reads text (or Attribute) from the first match, or from all
// matches when All is set.
type ExtractParams struct {
	All       bool   `json:"all,omitempty"`
	Attribute string `json:"attribute,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

type SubmitParams struct{}

type FocusParams struct{}

type ClearParams struct{}

type HoverParams struct{}

// WaitParams sleeps for Ms milliseconds. A negative Ms means unset.
type WaitParams struct {
	Ms int `json:"ms"`
}

type NavigateParams struct {
	URL    string `json:"url"`
	NewTab bool   `json:"newTab,omitempty"`
}

type OpenTabParams struct {
	URL string `json:"url"`
}

type ScreenshotParams struct {
	FullPage bool `json:"fullPage,omitempty"`
}

type ScreenCaptureParams struct{}

type FormFieldsParams struct {
	// Scope optionally restricts discovery to a form selector.
	Scope string `json:"scope,omitempty"`
}

type PageInfoParams struct{}

// LogParams bounds the log window returned to the caller.
type LogParams struct {
	Limit int `json:"limit,omitempty"`
}

// UnknownParams is carried by verbs outside the canonical vocabulary so the
// executor can report them precisely.
type UnknownParams struct {
	Fields map[string]interface{} `json:"fields,omitempty"`
}

func (ClickParams) verb() Type         { return Click }
func (TypeParams) verb() Type          { return TypeText }
func (SelectParams) verb() Type        { return Select }
func (SetValueParams) verb() Type      { return SetValue }
func (UploadParams) verb() Type        { return UploadFile }
func (ScrollParams) verb() Type        { return Scroll }
func (ExtractParams) verb() Type       { return Extract }
func (SubmitParams) verb() Type        { return Submit }
func (FocusParams) verb() Type         { return Focus }
func (ClearParams) verb() Type         { return Clear }
func (HoverParams) verb() Type         { return Hover }
func (WaitParams) verb() Type          { return Wait }
func (NavigateParams) verb() Type      { return Navigate }
func (OpenTabParams) verb() Type       { return OpenTab }
func (ScreenshotParams) verb() Type    { return Screenshot }
func (ScreenCaptureParams) verb() Type { return ScreenCapture }
func (FormFieldsParams) verb() Type    { return GetFormFields }
func (PageInfoParams) verb() Type      { return GetPageInfo }
func (LogParams) verb() Type           { return GetConsoleLogs }
func (UnknownParams) verb() Type       { return "" }
