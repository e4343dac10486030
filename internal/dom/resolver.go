package dom

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound means no element matched the locator.
	ErrNotFound = errors.New("element not found")
	// ErrTimeout means a wait-for lookup exhausted its budget.
	ErrTimeout = errors.New("timed out waiting for element")
)

// DefaultPollInterval is the spacing between wait-for lookups.
const DefaultPollInterval = 150 * time.Millisecond

// Source yields fresh snapshots of a live page.
type Source interface {
	Snapshot(ctx context.Context) (*Document, error)
	// ElementAt returns the ref of the element under a viewport point in the
	// latest snapshot, or -1 when the point is empty.
	ElementAt(ctx context.Context, x, y float64) (int, error)
}

// Locator is everything the resolver may use to find an element.
type Locator struct {
	Selector string
	Text     string
	X, Y     *float64
	WaitFor  bool
	Timeout  time.Duration
}

func (l Locator) String() string {
	parts := make([]string, 0, 3)
	if l.X != nil && l.Y != nil {
		parts = append(parts, fmt.Sprintf("x=%.0f y=%.0f", *l.X, *l.Y))
	}
	if l.Selector != "" {
		parts = append(parts, "selector="+l.Selector)
	}
	if l.Text != "" {
		parts = append(parts, fmt.Sprintf("text=%q", l.Text))
	}
	if len(parts) == 0 {
		return "no target"
	}
	return strings.Join(parts, " ")
}

// category is one bucket of the text search, scanned in priority order.
type category struct {
	name     string
	selector string
	// exactOnly categories take part only in the exact-match pass.
	exactOnly bool
}

var textCategories = []category{
	{name: "button", selector: `button, input[type="button"], input[type="submit"], input[type="reset"], [role="button"]`},
	{name: "link", selector: `a, [role="link"]`},
	{name: "form", selector: `select, textarea, input, option`},
	{name: "label", selector: `label`},
	{name: "aria", selector: `[role="menuitem"], [role="menuitemradio"], [role="menuitemcheckbox"], [role="tab"], [role="option"], [role="checkbox"], [role="radio"], [role="switch"], [role="treeitem"], [role="combobox"], [role="listitem"]`},
	{name: "clickable", selector: "[" + AttrClickable + `], [onclick], [tabindex], summary`},
	{name: "text", selector: `span, div, li, td, th, p, h1, h2, h3, h4, h5, h6, dt, dd, strong, em, b`, exactOnly: true},
}

const attributeCandidates = `input, textarea, select, button, [role], [contenteditable]`

// Resolver locates elements in snapshots of a live page.
type Resolver struct {
	src  Source
	poll time.Duration
}

// NewResolver builds a resolver; poll <= 0 uses DefaultPollInterval.
func NewResolver(src Source, poll time.Duration) *Resolver {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Resolver{src: src, poll: poll}
}

// Resolve finds the element for loc. With WaitFor set, selector lookups are
// retried every poll interval until Timeout elapses; a zero Timeout waits until
// ctx is done.
func (r *Resolver) Resolve(ctx context.Context, loc Locator) (*Element, error) {
	if loc.X != nil && loc.Y != nil {
		return r.resolvePoint(ctx, loc)
	}
	if loc.Selector == "" && loc.Text == "" {
		return nil, fmt.Errorf("%w: no target given", ErrNotFound)
	}
	if !loc.WaitFor {
		return r.resolveOnce(ctx, loc)
	}

	waitCtx := ctx
	if loc.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, loc.Timeout)
		defer cancel()
	}
	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()
	for {
		el, err := r.resolveOnce(waitCtx, loc)
		if err == nil {
			return el, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w after %s: %s", ErrTimeout, loc.Timeout, loc)
		case <-ticker.C:
		}
	}
}

func (r *Resolver) resolveOnce(ctx context.Context, loc Locator) (*Element, error) {
	doc, err := r.src.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	if loc.Selector != "" {
		el, err := doc.First(loc.Selector)
		if err != nil {
			return nil, err
		}
		if el != nil {
			return el, nil
		}
		if loc.Text == "" {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, loc)
		}
	}
	if el := FindByText(doc, loc.Text); el != nil {
		return el, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, loc)
}

func (r *Resolver) resolvePoint(ctx context.Context, loc Locator) (*Element, error) {
	doc, err := r.src.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	ref, err := r.src.ElementAt(ctx, *loc.X, *loc.Y)
	if err != nil {
		return nil, fmt.Errorf("element at point: %w", err)
	}
	if ref < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, loc)
	}
	el := doc.ByRef(ref)
	if el == nil {
		return nil, fmt.Errorf("%w: %s (ref %d not in snapshot)", ErrNotFound, loc, ref)
	}
	return el, nil
}

// FindByText runs the three-pass text search over the interactive categories:
// exact case-insensitive text, then substring, then placeholder/title/aria-label
// on form-like elements. Within a pass the first category with a match wins.
func FindByText(doc *Document, text string) *Element {
	needle := strings.ToLower(collapse(text))
	if needle == "" {
		return nil
	}

	for _, cat := range textCategories {
		for _, el := range doc.find(cat.selector) {
			if el.Hidden() {
				continue
			}
			if strings.ToLower(el.Label()) == needle {
				return preferControl(el)
			}
		}
	}

	for _, cat := range textCategories {
		if cat.exactOnly {
			continue
		}
		for _, el := range doc.find(cat.selector) {
			if el.Hidden() {
				continue
			}
			if strings.Contains(strings.ToLower(el.Label()), needle) {
				return preferControl(el)
			}
		}
	}

	for _, el := range doc.find(attributeCandidates) {
		if el.Hidden() {
			continue
		}
		for _, attr := range []string{"placeholder", "title", "aria-label"} {
			if v, ok := el.Attr(attr); ok && strings.Contains(strings.ToLower(v), needle) {
				return el
			}
		}
	}
	return nil
}

// preferControl maps a matched label onto the control it labels.
func preferControl(el *Element) *Element {
	if el.Tag() != "label" {
		return el
	}
	if control := LabelledControl(el); control != nil {
		return control
	}
	return el
}

// LabelledControl returns the control a label points at via for= or nesting.
func LabelledControl(label *Element) *Element {
	if forID, ok := label.Attr("for"); ok && forID != "" {
		if el, err := label.doc.First(`[id="` + cssString(forID) + `"]`); err == nil && el != nil {
			return el
		}
	}
	if nested := label.Find("input, select, textarea"); len(nested) > 0 {
		return nested[0]
	}
	return nil
}
