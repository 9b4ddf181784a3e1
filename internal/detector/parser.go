package detector

import (
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/0x6d61/xssprobe/internal/engine"
)

// DiscoverOptions toggles the injection point sources.
type DiscoverOptions struct {
	Parameters   bool
	Forms        bool
	HiddenInputs bool
	PseudoStatic bool
	Links        bool
}

// AllSources enables every discovery source.
func AllSources() DiscoverOptions {
	return DiscoverOptions{Parameters: true, Forms: true, HiddenInputs: true, PseudoStatic: true, Links: true}
}

// Discover lists the injection points of page. base is the request that
// fetched the page; its headers and cookies are carried into every point.
func Discover(page engine.Page, base engine.ScanTarget, opts DiscoverOptions) []engine.InjectionPoint {
	doc, _ := goquery.NewDocumentFromReader(strings.NewReader(page.Body))

	var points []engine.InjectionPoint
	if opts.Parameters {
		for _, p := range ParseURLParameters(base) {
			points = append(points, locateReflection(doc, p))
		}
		points = append(points, ParseBodyParameters(base)...)
	}
	if doc == nil {
		return withTokens(points)
	}
	if opts.Forms || opts.HiddenInputs {
		points = append(points, parseForms(doc, base, opts)...)
	}
	if opts.HiddenInputs {
		points = append(points, parseLooseHiddenInputs(doc, base)...)
	}
	if opts.PseudoStatic {
		points = append(points, ParsePathSegments(base)...)
	}
	if opts.Links {
		points = append(points, parseLinks(doc, base)...)
	}
	return withTokens(points)
}

func withTokens(points []engine.InjectionPoint) []engine.InjectionPoint {
	for i := range points {
		points[i].Token = engine.NewToken()
	}
	return points
}

// ParseURLParameters extracts one point per query parameter value.
func ParseURLParameters(target engine.ScanTarget) []engine.InjectionPoint {
	parsed, err := url.Parse(target.URL)
	if err != nil {
		return nil
	}
	return pointsFromValues(parsed.Query(), engine.KindURLParam, parsed.Path, target)
}

// ParseBodyParameters extracts points from an
// application/x-www-form-urlencoded request body.
func ParseBodyParameters(target engine.ScanTarget) []engine.InjectionPoint {
	if target.Body == "" || !isFormURLEncoded(target.ContentType) {
		return nil
	}
	values, err := url.ParseQuery(target.Body)
	if err != nil {
		return nil
	}
	loc := ""
	if u, err := url.Parse(target.URL); err == nil {
		loc = u.Path
	}
	return pointsFromValues(values, engine.KindFormField, loc, target)
}

// ParsePathSegments returns one point per non-empty path segment. The
// final segment's extension is preserved on injection.
func ParsePathSegments(target engine.ScanTarget) []engine.InjectionPoint {
	u, err := url.Parse(target.URL)
	if err != nil {
		return nil
	}
	var points []engine.InjectionPoint
	segs := strings.Split(strings.TrimPrefix(u.Path, "/"), "/")
	for i, seg := range segs {
		if seg == "" {
			continue
		}
		points = append(points, engine.InjectionPoint{
			Name:         seg,
			Value:        seg,
			Kind:         engine.KindPathSegment,
			LocationPath: u.Path,
			Index:        i,
			Target:       target,
		})
	}
	return points
}

// pointsFromValues converts url.Values into points, sorted by name. The
// first value of a repeated key is used.
func pointsFromValues(values url.Values, kind engine.PointKind, loc string, target engine.ScanTarget) []engine.InjectionPoint {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	points := make([]engine.InjectionPoint, 0, len(names))
	for _, name := range names {
		points = append(points, engine.InjectionPoint{
			Name:         name,
			Value:        values.Get(name),
			Kind:         kind,
			LocationPath: loc,
			Target:       target,
		})
	}
	return points
}

// minReflectionLen keeps short values such as "1" from matching
// unrelated markup.
const minReflectionLen = 3

// locateReflection refines a query parameter into a DOM attribute or
// text point when its current value already appears in the page.
func locateReflection(doc *goquery.Document, p engine.InjectionPoint) engine.InjectionPoint {
	if doc == nil || len(p.Value) < minReflectionLen {
		return p
	}
	var found bool
	doc.Find("body *").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		for _, a := range s.Get(0).Attr {
			if strings.Contains(a.Val, p.Value) {
				p.Kind = engine.KindDOMAttribute
				found = true
			}
		}
		if !found && strings.Contains(ownText(s), p.Value) {
			p.Kind = engine.KindDOMText
			found = true
		}
		if found {
			p.Element = elementOf(s)
			p.Markup, _ = goquery.OuterHtml(s)
			p.LocationPath = domPath(s)
		}
		return !found
	})
	return p
}

// ownText returns the text of s's direct text children only.
func ownText(s *goquery.Selection) string {
	var b strings.Builder
	s.Contents().Each(func(_ int, c *goquery.Selection) {
		if goquery.NodeName(c) == "#text" {
			b.WriteString(c.Text())
		}
	})
	return b.String()
}

// skippedInputTypes never carry user text.
var skippedInputTypes = map[string]bool{
	"submit": true, "button": true, "image": true, "reset": true, "file": true,
}

// parseForms emits a point per named field of every form. Hidden fields
// are governed by opts.HiddenInputs, the rest by opts.Forms.
func parseForms(doc *goquery.Document, base engine.ScanTarget, opts DiscoverOptions) []engine.InjectionPoint {
	var points []engine.InjectionPoint
	doc.Find("form").Each(func(_ int, form *goquery.Selection) {
		target := formTarget(form, base)

		form.Find("input, select, textarea").Each(func(_ int, field *goquery.Selection) {
			name := fieldName(field)
			if name == "" {
				return
			}
			kind := engine.KindFormField
			typ := strings.ToLower(field.AttrOr("type", "text"))
			if goquery.NodeName(field) == "input" {
				if skippedInputTypes[typ] {
					return
				}
				if typ == "hidden" {
					kind = engine.KindHiddenField
				}
			}
			if (kind == engine.KindHiddenField && !opts.HiddenInputs) ||
				(kind == engine.KindFormField && !opts.Forms) {
				return
			}

			markup, _ := goquery.OuterHtml(field)
			points = append(points, engine.InjectionPoint{
				Name:         name,
				Value:        fieldValue(field),
				Kind:         kind,
				LocationPath: domPath(field),
				Markup:       markup,
				Element:      elementOf(field),
				Target:       target,
			})
		})
	})
	return points
}

// formTarget builds the request a form submits: the action resolved
// against the page, the declared method and the fields' default values.
func formTarget(form *goquery.Selection, base engine.ScanTarget) engine.ScanTarget {
	action := resolve(base.URL, form.AttrOr("action", ""))
	method := strings.ToUpper(strings.TrimSpace(form.AttrOr("method", http.MethodGet)))
	if method != http.MethodPost {
		method = http.MethodGet
	}

	values := url.Values{}
	form.Find("input, select, textarea").Each(func(_ int, field *goquery.Selection) {
		if name := fieldName(field); name != "" && !skippedInputTypes[strings.ToLower(field.AttrOr("type", ""))] {
			values.Set(name, fieldValue(field))
		}
	})

	t := engine.ScanTarget{
		URL:     action,
		Method:  method,
		Headers: base.Headers,
		Cookies: base.Cookies,
	}
	if method == http.MethodPost {
		t.Body = values.Encode()
		t.ContentType = "application/x-www-form-urlencoded"
	} else if u, err := url.Parse(action); err == nil {
		q := u.Query()
		for k := range values {
			q.Set(k, values.Get(k))
		}
		u.RawQuery = q.Encode()
		t.URL = u.String()
	}
	return t
}

func fieldName(field *goquery.Selection) string {
	return strings.TrimSpace(field.AttrOr("name", ""))
}

func fieldValue(field *goquery.Selection) string {
	switch goquery.NodeName(field) {
	case "textarea":
		return field.Text()
	case "select":
		opt := field.Find("option[selected]").First()
		if opt.Length() == 0 {
			opt = field.Find("option").First()
		}
		if v, ok := opt.Attr("value"); ok {
			return v
		}
		return strings.TrimSpace(opt.Text())
	default:
		return field.AttrOr("value", "")
	}
}

// parseLooseHiddenInputs covers hidden inputs outside any form. They are
// probed as GET parameters on the page path, named by name or id.
func parseLooseHiddenInputs(doc *goquery.Document, base engine.ScanTarget) []engine.InjectionPoint {
	pageURL, err := url.Parse(base.URL)
	if err != nil {
		return nil
	}
	pageURL.RawQuery = ""
	pageURL.Fragment = ""

	var points []engine.InjectionPoint
	doc.Find("input").Each(func(_ int, in *goquery.Selection) {
		if !strings.EqualFold(in.AttrOr("type", ""), "hidden") || in.Closest("form").Length() > 0 {
			return
		}
		name := fieldName(in)
		if name == "" {
			name = strings.TrimSpace(in.AttrOr("id", ""))
		}
		if name == "" {
			return
		}
		markup, _ := goquery.OuterHtml(in)
		points = append(points, engine.InjectionPoint{
			Name:         name,
			Value:        in.AttrOr("value", ""),
			Kind:         engine.KindHiddenField,
			LocationPath: domPath(in),
			Markup:       markup,
			Element:      elementOf(in),
			Target: engine.ScanTarget{
				URL:     pageURL.String(),
				Method:  http.MethodGet,
				Headers: base.Headers,
				Cookies: base.Cookies,
			},
		})
	})
	return points
}

// parseLinks emits a query parameter point for every same-host link that
// carries a query string. Each link URL and parameter pair is used once.
func parseLinks(doc *goquery.Document, base engine.ScanTarget) []engine.InjectionPoint {
	pageURL, err := url.Parse(base.URL)
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var points []engine.InjectionPoint
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		link, err := url.Parse(resolve(base.URL, a.AttrOr("href", "")))
		if err != nil || link.RawQuery == "" || !strings.EqualFold(link.Hostname(), pageURL.Hostname()) {
			return
		}
		link.Fragment = ""
		if link.String() == pageURL.String() {
			return
		}
		target := engine.ScanTarget{
			URL:     link.String(),
			Method:  http.MethodGet,
			Headers: base.Headers,
			Cookies: base.Cookies,
		}
		for _, p := range ParseURLParameters(target) {
			key := link.String() + "\x00" + p.Name
			if seen[key] {
				continue
			}
			seen[key] = true
			p.LocationPath = link.String()
			points = append(points, p)
		}
	})
	return points
}

func resolve(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return base
	}
	return b.ResolveReference(r).String()
}

// isFormURLEncoded checks whether the content type indicates
// application/x-www-form-urlencoded. An empty content type is treated as
// form-urlencoded for convenience (common in simple POST requests).
func isFormURLEncoded(contentType string) bool {
	if contentType == "" {
		return true
	}
	// Strip parameters like "; charset=utf-8"
	mediaType := strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
	return strings.EqualFold(mediaType, "application/x-www-form-urlencoded")
}
