package dom

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type staticSource struct {
	html  string
	calls atomic.Int32
	// appearAfter switches to later once this many snapshots were taken.
	appearAfter int32
	later       string
	pointRef    int
}

func (s *staticSource) Snapshot(ctx context.Context) (*Document, error) {
	n := s.calls.Add(1)
	if s.later != "" && n > s.appearAfter {
		return ParseString(s.later)
	}
	return ParseString(s.html)
}

func (s *staticSource) ElementAt(ctx context.Context, x, y float64) (int, error) {
	return s.pointRef, nil
}

func mustParse(t *testing.T, src string) *Document {
	t.Helper()
	doc, err := ParseString(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return doc
}

func TestQueryCSSAndXPath(t *testing.T) {
	doc := mustParse(t, `<html><head><title> Shop </title></head><body>
		<div id="a"><span class="x">one</span><span class="x">two</span></div>
	</body></html>`)

	if doc.Title != "Shop" {
		t.Errorf("expected title Shop, got %q", doc.Title)
	}
	css, err := doc.Query("span.x")
	if err != nil || len(css) != 2 {
		t.Fatalf("expected 2 css matches, got %d (%v)", len(css), err)
	}
	xp, err := doc.Query("//div[@id='a']/span[2]")
	if err != nil || len(xp) != 1 || xp[0].Text() != "two" {
		t.Fatalf("unexpected xpath result %v (%v)", xp, err)
	}
	prefixed, err := doc.Query("xpath://span")
	if err != nil || len(prefixed) != 2 {
		t.Fatalf("expected 2 prefixed xpath matches, got %d (%v)", len(prefixed), err)
	}
	if _, err := doc.Query("div[["); !errors.Is(err, ErrInvalidSelector) {
		t.Errorf("expected ErrInvalidSelector, got %v", err)
	}
}

func TestFindByTextPrefersButtonCategory(t *testing.T) {
	doc := mustParse(t, `<body>
		<div>Submit</div>
		<a href="/x">Submit your order</a>
		<button id="go">Submit</button>
	</body>`)
	el := FindByText(doc, "submit")
	if el == nil || el.Tag() != "button" {
		t.Fatalf("expected button, got %+v", el)
	}
}

func TestFindByTextExactBeatsSubstring(t *testing.T) {
	// The button only contains "Save" as a substring; the link matches exactly.
	// Exact matching runs across every category before substring matching.
	doc := mustParse(t, `<body>
		<button>Save draft</button>
		<a href="#">Save</a>
	</body>`)
	el := FindByText(doc, "Save")
	if el == nil || el.Tag() != "a" {
		t.Fatalf("expected exact link match, got %v", el)
	}
}

func TestFindByTextSubstringAndAttributes(t *testing.T) {
	doc := mustParse(t, `<body>
		<button>Continue to payment</button>
		<input id="email" placeholder="Your email address">
	</body>`)
	if el := FindByText(doc, "continue"); el == nil || el.Tag() != "button" {
		t.Errorf("expected substring button match, got %v", el)
	}
	if el := FindByText(doc, "email address"); el == nil || el.ID() != "email" {
		t.Errorf("expected placeholder match, got %v", el)
	}
	if el := FindByText(doc, "nothing like this"); el != nil {
		t.Errorf("expected no match, got %v", el)
	}
}

func TestFindByTextLabelMapsToControl(t *testing.T) {
	doc := mustParse(t, `<body>
		<label for="country">Country</label><select id="country"><option>USA</option></select>
	</body>`)
	el := FindByText(doc, "Country")
	if el == nil || el.Tag() != "select" {
		t.Fatalf("expected the labelled select, got %v", el)
	}
}

func TestFindByTextSkipsHidden(t *testing.T) {
	doc := mustParse(t, `<body>
		<button data-bridge-hidden="true">Next</button>
		<a href="#">Next</a>
	</body>`)
	if el := FindByText(doc, "next"); el == nil || el.Tag() != "a" {
		t.Errorf("expected visible link, got %v", el)
	}
}

func TestResolveOrder(t *testing.T) {
	page := `<body><button id="b" data-bridge-ref="4">Go</button><a data-bridge-ref="5" href="#">Go</a></body>`
	x, y := 10.0, 20.0

	t.Run("coordinates win", func(t *testing.T) {
		r := NewResolver(&staticSource{html: page, pointRef: 5}, 0)
		el, err := r.Resolve(context.Background(), Locator{X: &x, Y: &y, Selector: "#b"})
		if err != nil || el.Tag() != "a" {
			t.Fatalf("expected point match on link, got %v (%v)", el, err)
		}
	})

	t.Run("empty point", func(t *testing.T) {
		r := NewResolver(&staticSource{html: page, pointRef: -1}, 0)
		_, err := r.Resolve(context.Background(), Locator{X: &x, Y: &y})
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("selector before text", func(t *testing.T) {
		r := NewResolver(&staticSource{html: page}, 0)
		el, err := r.Resolve(context.Background(), Locator{Selector: "a", Text: "Go"})
		if err != nil || el.Tag() != "a" {
			t.Fatalf("expected selector match, got %v (%v)", el, err)
		}
	})

	t.Run("missing selector names the locator", func(t *testing.T) {
		r := NewResolver(&staticSource{html: page}, 0)
		_, err := r.Resolve(context.Background(), Locator{Selector: "#missing"})
		if !errors.Is(err, ErrNotFound) || !strings.Contains(err.Error(), "#missing") {
			t.Fatalf("expected not found naming #missing, got %v", err)
		}
	})
}

func TestResolveWaitFor(t *testing.T) {
	src := &staticSource{
		html:        `<body></body>`,
		later:       `<body><div id="late" data-bridge-ref="1">ready</div></body>`,
		appearAfter: 2,
	}
	r := NewResolver(src, 5*time.Millisecond)
	el, err := r.Resolve(context.Background(), Locator{Selector: "#late", WaitFor: true, Timeout: time.Second})
	if err != nil || el.ID() != "late" {
		t.Fatalf("expected late element, got %v (%v)", el, err)
	}
	if src.calls.Load() < 3 {
		t.Errorf("expected polling, got %d snapshots", src.calls.Load())
	}

	never := NewResolver(&staticSource{html: `<body></body>`}, 5*time.Millisecond)
	_, err = never.Resolve(context.Background(), Locator{Selector: "#late", WaitFor: true, Timeout: 30 * time.Millisecond})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

type recordingStamper struct {
	ref         int
	name, value string
}

func (s *recordingStamper) Stamp(ctx context.Context, ref int, name, value string) error {
	s.ref, s.name, s.value = ref, name, value
	return nil
}

func TestSynthesizeRoundTrip(t *testing.T) {
	doc := mustParse(t, `<html><body>
		<div id="main">
			<form>
				<input name="q">
				<input name="dup"><input name="dup">
				<ul class="list css-1x9f3a">
					<li><span>a</span></li>
					<li><span>b</span></li>
				</ul>
			</form>
		</div>
		<p data-bridge-ref="9"></p><p data-bridge-ref="10"></p>
		<section><div><div><div><div><div><div><div><div><div><em data-bridge-ref="11">deep</em></div></div></div></div></div></div></div></div></div></section>
		<section><div><div><div><div><div><div><div><div><div><em>deep</em></div></div></div></div></div></div></div></div></div></section>
	</body></html>`)

	stamper := &recordingStamper{}
	synth := NewSynthesizer(stamper)
	ctx := context.Background()

	all, err := doc.Query("*")
	if err != nil {
		t.Fatalf("query all: %v", err)
	}
	for _, el := range all {
		sel := synth.Synthesize(ctx, el)
		matches, err := doc.Query(sel)
		if err != nil {
			t.Fatalf("selector %q for <%s> does not parse: %v", sel, el.Tag(), err)
		}
		if len(matches) != 1 || !matches[0].Same(el) {
			t.Errorf("selector %q for <%s> matched %d elements", sel, el.Tag(), len(matches))
		}
	}

	main, _ := doc.First("div")
	if got := synth.Synthesize(ctx, main); got != "#main" {
		t.Errorf("expected id selector, got %q", got)
	}
	q, _ := doc.First("input")
	if got := synth.Synthesize(ctx, q); got != `input[name="q"]` {
		t.Errorf("expected name selector, got %q", got)
	}
	dup, _ := doc.Query(`input[name="dup"]`)
	if got := synth.Synthesize(ctx, dup[1]); strings.Contains(got, "name=") {
		t.Errorf("duplicate name must not be used, got %q", got)
	}
	span, _ := doc.Query("li span")
	if got := synth.Synthesize(ctx, span[1]); strings.Contains(got, "css-1x9f3a") || !strings.Contains(got, ".list") {
		t.Errorf("expected path using the stable class only, got %q", got)
	}
}

func TestSynthesizeStampsWhenPathsAreAmbiguous(t *testing.T) {
	// The two <em> elements sit under identical structures deeper than the
	// widest path, so only a stamped marker can tell them apart.
	inner := `<div><div><div><div><div><div><div><div><div>%s</div></div></div></div></div></div></div></div></div>`
	doc := mustParse(t, `<html><body><section>`+
		strings.Replace(inner, "%s", `<em data-bridge-ref="11">deep</em>`, 1)+
		`</section><section>`+
		strings.Replace(inner, "%s", `<em>deep</em>`, 1)+
		`</section></body></html>`)

	stamper := &recordingStamper{}
	synth := NewSynthesizer(stamper)
	synth.newID = func() string { return "fixed-id" }

	em, _ := doc.First("em")
	sel := synth.Synthesize(context.Background(), em)
	if sel != `[data-bridge-id="fixed-id"]` {
		t.Fatalf("expected marker selector, got %q", sel)
	}
	if stamper.ref != 11 || stamper.name != MarkerAttr || stamper.value != "fixed-id" {
		t.Errorf("expected live stamp on ref 11, got %+v", stamper)
	}
	matches, _ := doc.Query(sel)
	if len(matches) != 1 || !matches[0].Same(em) {
		t.Errorf("marker selector should resolve back to the element")
	}
}

func TestCSSIdentEscapes(t *testing.T) {
	doc := mustParse(t, `<body><div id="123:weird.id">x</div></body>`)
	el, _ := doc.First("div")
	sel := NewSynthesizer(nil).Synthesize(context.Background(), el)
	matches, err := doc.Query(sel)
	if err != nil || len(matches) != 1 {
		t.Fatalf("escaped selector %q failed: %v", sel, err)
	}
}

func TestFormFields(t *testing.T) {
	doc := mustParse(t, `<body><form id="f">
		<label for="first">First name</label><input id="first" name="first" value="Ann">
		<label>Email <input type="email" name="email" required></label>
		<span id="pw-label">Secret</span><input type="password" name="pw" aria-labelledby="pw-label" data-bridge-value="hunter2">
		<input type="checkbox" name="tos" aria-label="Accept terms" data-bridge-checked="true">
		<select name="country"><option value="us">USA</option><option value="fr" selected>France</option></select>
		<input type="hidden" name="csrf" value="t">
		<button type="submit">Send</button>
	</form></body>`)

	fields, err := FormFields(context.Background(), doc, NewSynthesizer(nil), "#f")
	if err != nil {
		t.Fatalf("FormFields: %v", err)
	}
	if len(fields) != 5 {
		t.Fatalf("expected 5 fields, got %d: %+v", len(fields), fields)
	}
	byName := map[string]Field{}
	for _, f := range fields {
		byName[f.Name] = f
	}
	if f := byName["first"]; f.Label != "First name" || f.Value != "Ann" || f.Selector != "#first" {
		t.Errorf("unexpected first field %+v", f)
	}
	if f := byName["email"]; !strings.HasPrefix(f.Label, "Email") || !f.Required {
		t.Errorf("unexpected email field %+v", f)
	}
	if f := byName["pw"]; f.Label != "Secret" || f.Value != "" {
		t.Errorf("unexpected password field %+v", f)
	}
	if f := byName["tos"]; f.Label != "Accept terms" || !f.Checked {
		t.Errorf("unexpected checkbox field %+v", f)
	}
	if f := byName["country"]; len(f.Options) != 2 || f.Value != "fr" {
		t.Errorf("unexpected select field %+v", f)
	}
}

func TestSummarize(t *testing.T) {
	doc := mustParse(t, `<html><head><title>Home</title></head><body>
		<h1>Welcome</h1><h2 data-bridge-hidden="true">Hidden</h2>
		<form><input><button>Go</button></form><a href="/a">A</a><img src="x.png">
	</body></html>`)
	doc.URL = "https://example.com/"
	s := Summarize(doc)
	if s.Title != "Home" || s.URL != "https://example.com/" {
		t.Errorf("unexpected identity %+v", s)
	}
	if s.Forms != 1 || s.Links != 1 || s.Buttons != 1 || s.Inputs != 1 || s.Images != 1 {
		t.Errorf("unexpected counts %+v", s)
	}
	if len(s.Headings) != 1 || s.Headings[0] != "Welcome" {
		t.Errorf("unexpected headings %v", s.Headings)
	}
}
