package dom

import (
	"context"
	"strings"
)

// Option is one entry of a select control.
type Option struct {
	Value    string `json:"value"`
	Text     string `json:"text"`
	Selected bool   `json:"selected,omitempty"`
}

// Field describes one form control for a caller that cannot see the page.
type Field struct {
	Tag         string   `json:"tag"`
	Type        string   `json:"type,omitempty"`
	Name        string   `json:"name,omitempty"`
	ID          string   `json:"id,omitempty"`
	Selector    string   `json:"selector"`
	Label       string   `json:"label,omitempty"`
	Placeholder string   `json:"placeholder,omitempty"`
	Value       string   `json:"value,omitempty"`
	Checked     bool     `json:"checked,omitempty"`
	Required    bool     `json:"required,omitempty"`
	Disabled    bool     `json:"disabled,omitempty"`
	Options     []Option `json:"options,omitempty"`
}

const fieldSelector = `input, select, textarea, [contenteditable="true"], [role="combobox"], [role="textbox"]`

// FormFields lists the visible form controls under scope (the whole document
// when scope is empty).
func FormFields(ctx context.Context, doc *Document, synth *Synthesizer, scope string) ([]Field, error) {
	candidates := doc.find(fieldSelector)
	if scope != "" {
		root, err := doc.First(scope)
		if err != nil {
			return nil, err
		}
		if root == nil {
			return nil, nil
		}
		candidates = root.Find(fieldSelector)
	}

	fields := make([]Field, 0, len(candidates))
	for _, el := range candidates {
		if el.Hidden() {
			continue
		}
		switch el.InputType() {
		case "submit", "button", "reset", "image":
			continue
		}
		f := Field{
			Tag:         el.Tag(),
			Type:        el.InputType(),
			Name:        el.Name(),
			ID:          el.ID(),
			Selector:    synth.Synthesize(ctx, el),
			Label:       FieldLabel(el),
			Placeholder: el.AttrOr("placeholder", ""),
			Disabled:    el.Disabled(),
		}
		_, f.Required = el.Attr("required")
		switch {
		case el.Tag() == "select":
			f.Options = Options(el)
			for _, o := range f.Options {
				if o.Selected {
					f.Value = o.Value
				}
			}
		case f.Type == "checkbox" || f.Type == "radio":
			f.Checked = el.Checked()
			f.Value = el.AttrOr("value", "on")
		case f.Type == "password":
			// never echo secrets back to the caller
		default:
			f.Value = el.Value()
		}
		fields = append(fields, f)
	}
	return fields, nil
}

// Options lists the options of a select element.
func Options(sel *Element) []Option {
	opts := sel.Find("option")
	out := make([]Option, 0, len(opts))
	for _, o := range opts {
		text := o.Text()
		value, ok := o.Attr("value")
		if !ok {
			value = text
		}
		out = append(out, Option{Value: value, Text: text, Selected: o.Selected()})
	}
	return out
}

// FieldLabel discovers the human label of a control using, in order: a
// label[for] pointing at its id, a wrapping label, aria-labelledby, and
// aria-label.
func FieldLabel(el *Element) string {
	doc := el.Document()
	if id := el.ID(); id != "" {
		if label, err := doc.First(`label[for="` + cssString(id) + `"]`); err == nil && label != nil {
			if text := label.Text(); text != "" {
				return text
			}
		}
	}
	if wrapper := el.Parent(); wrapper != nil {
		if label := wrapper.Closest("label"); label != nil {
			if text := label.Text(); text != "" {
				return text
			}
		}
	}
	if ids := strings.Fields(el.AttrOr("aria-labelledby", "")); len(ids) > 0 {
		parts := make([]string, 0, len(ids))
		for _, id := range ids {
			if ref, err := doc.First(`[id="` + cssString(id) + `"]`); err == nil && ref != nil {
				if text := ref.Text(); text != "" {
					parts = append(parts, text)
				}
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, " ")
		}
	}
	return collapse(el.AttrOr("aria-label", ""))
}

// Summary is a structural overview of a page.
type Summary struct {
	URL      string   `json:"url"`
	Title    string   `json:"title"`
	Headings []string `json:"headings,omitempty"`
	Forms    int      `json:"forms"`
	Links    int      `json:"links"`
	Buttons  int      `json:"buttons"`
	Inputs   int      `json:"inputs"`
	Images   int      `json:"images"`
	Text     string   `json:"text,omitempty"`
}

const summaryTextLimit = 1000

// Summarize counts the interactive structure of a document.
func Summarize(doc *Document) Summary {
	s := Summary{
		URL:     doc.URL,
		Title:   doc.Title,
		Forms:   doc.Count("form"),
		Links:   doc.Count("a[href]"),
		Buttons: doc.Count(`button, input[type="button"], input[type="submit"], [role="button"]`),
		Inputs:  doc.Count("input, select, textarea"),
		Images:  doc.Count("img"),
	}
	for _, h := range doc.find("h1, h2, h3") {
		if h.Hidden() {
			continue
		}
		if text := h.Text(); text != "" {
			s.Headings = append(s.Headings, text)
		}
		if len(s.Headings) >= 20 {
			break
		}
	}
	if body, _ := doc.First("body"); body != nil {
		text := []rune(body.Text())
		if len(text) > summaryTextLimit {
			text = text[:summaryTextLimit]
		}
		s.Text = string(text)
	}
	return s
}
