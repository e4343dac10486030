package dom

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// Attributes written by the live snapshot script onto the cloned DOM. They
// carry state that plain serialization loses (live values, visibility) and the
// ref linking each cloned node back to its live element.
const (
	AttrRef       = "data-bridge-ref"
	AttrValue     = "data-bridge-value"
	AttrChecked   = "data-bridge-checked"
	AttrSelected  = "data-bridge-selected"
	AttrClickable = "data-bridge-clickable"
	AttrHidden    = "data-bridge-hidden"
	AttrDisabled  = "data-bridge-disabled"
	// MarkerAttr is stamped onto elements that have no other stable locator.
	MarkerAttr = "data-bridge-id"
)

// ErrInvalidSelector is returned when a CSS or XPath expression does not parse.
var ErrInvalidSelector = errors.New("invalid selector")

// Document is a parsed snapshot of a live page.
type Document struct {
	doc   *goquery.Document
	URL   string
	Title string
}

// Parse reads a serialized snapshot.
func Parse(r io.Reader) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	d := &Document{doc: doc}
	d.Title = strings.TrimSpace(doc.Find("title").First().Text())
	return d, nil
}

// ParseString is Parse over an in-memory snapshot.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// Root returns the document node.
func (d *Document) Root() *html.Node {
	if len(d.doc.Nodes) == 0 {
		return nil
	}
	return d.doc.Nodes[0]
}

// Query returns every element matching selector in document order. Selectors
// starting with "/" or "(" or prefixed "xpath:" are evaluated as XPath, anything
// else as CSS.
func (d *Document) Query(selector string) ([]*Element, error) {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidSelector)
	}
	if expr, ok := xpathExpr(selector); ok {
		nodes, err := htmlquery.QueryAll(d.Root(), expr)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidSelector, selector, err)
		}
		out := make([]*Element, 0, len(nodes))
		for _, n := range nodes {
			if n.Type == html.ElementNode {
				out = append(out, d.wrap(n))
			}
		}
		return out, nil
	}
	matcher, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidSelector, selector, err)
	}
	return d.wrapAll(d.doc.FindMatcher(matcher)), nil
}

// First returns the first match of selector, or nil.
func (d *Document) First(selector string) (*Element, error) {
	els, err := d.Query(selector)
	if err != nil || len(els) == 0 {
		return nil, err
	}
	return els[0], nil
}

// ByRef returns the element carrying the given live ref.
func (d *Document) ByRef(ref int) *Element {
	sel := d.doc.Find("[" + AttrRef + `="` + strconv.Itoa(ref) + `"]`)
	if sel.Length() == 0 {
		return nil
	}
	return d.wrap(sel.Nodes[0])
}

// Count returns the number of elements matching a CSS selector, ignoring
// invalid selectors.
func (d *Document) Count(selector string) int {
	return d.doc.Find(selector).Length()
}

func (d *Document) find(selector string) []*Element {
	return d.wrapAll(d.doc.Find(selector))
}

func (d *Document) wrapAll(sel *goquery.Selection) []*Element {
	out := make([]*Element, 0, sel.Length())
	for _, n := range sel.Nodes {
		out = append(out, d.wrap(n))
	}
	return out
}

func (d *Document) wrap(n *html.Node) *Element {
	return &Element{node: n, doc: d}
}

func xpathExpr(selector string) (string, bool) {
	if strings.HasPrefix(selector, "xpath:") {
		return strings.TrimSpace(strings.TrimPrefix(selector, "xpath:")), true
	}
	if strings.HasPrefix(selector, "/") || strings.HasPrefix(selector, "(") {
		return selector, true
	}
	return "", false
}

// Element is one node of a snapshot.
type Element struct {
	node *html.Node
	doc  *Document
}

// Node exposes the underlying html node.
func (e *Element) Node() *html.Node { return e.node }

// Document returns the snapshot the element belongs to.
func (e *Element) Document() *Document { return e.doc }

// Same reports whether two wrappers point at the same node.
func (e *Element) Same(other *Element) bool {
	return e != nil && other != nil && e.node == other.node
}

// Ref returns the live element index, or -1 when the node is not linked.
func (e *Element) Ref() int {
	v, ok := e.Attr(AttrRef)
	if !ok {
		return -1
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return -1
	}
	return n
}

// Tag returns the lower-case tag name.
func (e *Element) Tag() string {
	return strings.ToLower(e.node.Data)
}

// Attr returns an attribute value.
func (e *Element) Attr(name string) (string, bool) {
	for _, a := range e.node.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

// AttrOr returns an attribute value or fallback when absent.
func (e *Element) AttrOr(name, fallback string) string {
	if v, ok := e.Attr(name); ok {
		return v
	}
	return fallback
}

// SetAttr sets (or replaces) an attribute on the snapshot node.
func (e *Element) SetAttr(name, value string) {
	for i, a := range e.node.Attr {
		if a.Key == name {
			e.node.Attr[i].Val = value
			return
		}
	}
	e.node.Attr = append(e.node.Attr, html.Attribute{Key: name, Val: value})
}

func (e *Element) ID() string   { return strings.TrimSpace(e.AttrOr("id", "")) }
func (e *Element) Name() string { return strings.TrimSpace(e.AttrOr("name", "")) }
func (e *Element) Role() string { return strings.ToLower(strings.TrimSpace(e.AttrOr("role", ""))) }

// InputType returns the lower-case type attribute of inputs ("text" when unset).
func (e *Element) InputType() string {
	if e.Tag() != "input" {
		return ""
	}
	t := strings.ToLower(strings.TrimSpace(e.AttrOr("type", "")))
	if t == "" {
		return "text"
	}
	return t
}

// Classes returns the class list.
func (e *Element) Classes() []string {
	return strings.Fields(e.AttrOr("class", ""))
}

// Text returns the whitespace-collapsed text content.
func (e *Element) Text() string {
	return collapse(goquery.NewDocumentFromNode(e.node).Text())
}

// Label returns the text a user would read on the element: the value of
// button-like inputs, otherwise the text content.
func (e *Element) Label() string {
	switch e.InputType() {
	case "button", "submit", "reset":
		return collapse(e.AttrOr("value", ""))
	}
	return e.Text()
}

// Value returns the live value captured at snapshot time, falling back to the
// value attribute.
func (e *Element) Value() string {
	if v, ok := e.Attr(AttrValue); ok {
		return v
	}
	if e.Tag() == "textarea" {
		return e.Text()
	}
	return e.AttrOr("value", "")
}

func (e *Element) Checked() bool {
	if v, ok := e.Attr(AttrChecked); ok {
		return v == "true"
	}
	_, ok := e.Attr("checked")
	return ok
}

func (e *Element) Selected() bool {
	if v, ok := e.Attr(AttrSelected); ok {
		return v == "true"
	}
	_, ok := e.Attr("selected")
	return ok
}

// Disabled reports native or ARIA disabling.
func (e *Element) Disabled() bool {
	if _, ok := e.Attr("disabled"); ok {
		return true
	}
	if _, ok := e.Attr(AttrDisabled); ok {
		return true
	}
	return strings.EqualFold(e.AttrOr("aria-disabled", ""), "true")
}

// Hidden reports whether the live element was not rendered.
func (e *Element) Hidden() bool {
	_, ok := e.Attr(AttrHidden)
	if ok {
		return true
	}
	if _, ok := e.Attr("hidden"); ok {
		return true
	}
	return e.InputType() == "hidden"
}

// Parent returns the parent element, or nil at the top.
func (e *Element) Parent() *Element {
	for p := e.node.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode {
			return e.doc.wrap(p)
		}
		if p.Type == html.DocumentNode {
			return nil
		}
	}
	return nil
}

// Closest returns the nearest ancestor-or-self matching tag.
func (e *Element) Closest(tag string) *Element {
	for cur := e; cur != nil; cur = cur.Parent() {
		if cur.Tag() == tag {
			return cur
		}
	}
	return nil
}

// Find returns descendants matching a CSS selector.
func (e *Element) Find(selector string) []*Element {
	return e.doc.wrapAll(goquery.NewDocumentFromNode(e.node).Find(selector))
}

// NthOfType returns the 1-based position of the element among its siblings
// with the same tag.
func (e *Element) NthOfType() int {
	pos := 1
	for s := e.node.PrevSibling; s != nil; s = s.PrevSibling {
		if s.Type == html.ElementNode && s.Data == e.node.Data {
			pos++
		}
	}
	return pos
}

// SiblingsOfType counts siblings (including self) sharing the tag.
func (e *Element) SiblingsOfType() int {
	if e.node.Parent == nil {
		return 1
	}
	n := 0
	for s := e.node.Parent.FirstChild; s != nil; s = s.NextSibling {
		if s.Type == html.ElementNode && s.Data == e.node.Data {
			n++
		}
	}
	return n
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
