package dom

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	minPathDepth = 3
	maxPathDepth = 8
)

// Stamper writes a marker attribute onto the live element behind a ref.
type Stamper interface {
	Stamp(ctx context.Context, ref int, name, value string) error
}

var (
	generatedPrefix = regexp.MustCompile(`^(css-|sc-|jsx-|svelte-|emotion-|styled-|tw-|_)`)
	hexRun          = regexp.MustCompile(`[0-9a-fA-F]{5,}`)
	utilityChars    = regexp.MustCompile(`[:/\[\]@!%.]`)
)

// isGeneratedClass reports class names emitted by CSS-in-JS and module
// bundlers (or utility frameworks) that change between builds.
func isGeneratedClass(cls string) bool {
	if generatedPrefix.MatchString(cls) || utilityChars.MatchString(cls) {
		return true
	}
	for _, run := range hexRun.FindAllString(cls, -1) {
		if strings.ContainsAny(run, "0123456789") {
			return true
		}
	}
	return false
}

// Synthesizer derives selectors that uniquely identify an element at the
// moment of synthesis.
type Synthesizer struct {
	stamper Stamper
	newID   func() string
}

// NewSynthesizer builds a synthesizer. stamper may be nil for offline
// documents; the marker is then only applied to the snapshot.
func NewSynthesizer(stamper Stamper) *Synthesizer {
	return &Synthesizer{stamper: stamper, newID: uuid.NewString}
}

// Synthesize returns a selector that resolves back to el in its document. It
// tries the id, a verified-unique name, an ancestor path widened from 3 to 8
// levels, and finally stamps a fresh marker attribute. It never fails: a
// stamping error on the live page still yields the marker selector.
func (s *Synthesizer) Synthesize(ctx context.Context, el *Element) string {
	doc := el.Document()

	if id := el.ID(); id != "" {
		sel := "#" + cssIdent(id)
		if unique(doc, sel, el) {
			return sel
		}
	}

	if name := el.Name(); name != "" {
		sel := el.Tag() + `[name="` + cssString(name) + `"]`
		if unique(doc, sel, el) {
			return sel
		}
	}

	for depth := minPathDepth; depth <= maxPathDepth; depth++ {
		sel, complete := structuralPath(el, depth)
		if unique(doc, sel, el) {
			return sel
		}
		if complete {
			break
		}
	}

	marker := s.newID()
	el.SetAttr(MarkerAttr, marker)
	if s.stamper != nil {
		if ref := el.Ref(); ref >= 0 {
			_ = s.stamper.Stamp(ctx, ref, MarkerAttr, marker)
		}
	}
	return "[" + MarkerAttr + `="` + marker + `"]`
}

// structuralPath builds "tag.class:nth-of-type(n) > ..." for el and up to depth
// ancestors. complete is true when the path already reaches the root element,
// so deeper attempts cannot add anything.
func structuralPath(el *Element, depth int) (string, bool) {
	segments := make([]string, 0, depth+1)
	cur := el
	for i := 0; i <= depth && cur != nil; i++ {
		segments = append(segments, segment(cur))
		cur = cur.Parent()
	}
	for i, j := 0, len(segments)-1; i < j; i, j = i+1, j-1 {
		segments[i], segments[j] = segments[j], segments[i]
	}
	return strings.Join(segments, " > "), cur == nil
}

func segment(el *Element) string {
	var b strings.Builder
	b.WriteString(el.Tag())
	for _, cls := range el.Classes() {
		if !isGeneratedClass(cls) {
			b.WriteString("." + cssIdent(cls))
			break
		}
	}
	if el.Tag() != "html" && el.Tag() != "body" {
		b.WriteString(":nth-of-type(" + strconv.Itoa(el.NthOfType()) + ")")
	}
	return b.String()
}

func unique(doc *Document, selector string, el *Element) bool {
	matches, err := doc.Query(selector)
	return err == nil && len(matches) == 1 && matches[0].Same(el)
}

// cssIdent escapes an identifier for use after # or . in a selector.
func cssIdent(s string) string {
	var b strings.Builder
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9' && i == 0:
			b.WriteString(`\3` + string(r) + " ")
		case r == '-' || r == '_' || r >= 0x80 ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		default:
			b.WriteRune('\\')
			b.WriteRune(r)
		}
	}
	return b.String()
}

// cssString escapes a value for use inside a double-quoted attribute selector.
func cssString(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}
