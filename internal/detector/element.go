package detector

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/0x6d61/xssprobe/internal/engine"
)

// ErrNoElement is returned by ParseElement when the fragment holds no tag.
var ErrNoElement = errors.New("detector: fragment contains no element")

// documentWrappers are synthesized by the HTML parser around fragments.
var documentWrappers = map[string]bool{"html": true, "head": true, "body": true}

// ParseElement returns the first element of an HTML fragment.
func ParseElement(fragment string) (*engine.Element, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return nil, fmt.Errorf("detector: parsing fragment: %w", err)
	}

	var found *goquery.Selection
	doc.Find("*").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if documentWrappers[goquery.NodeName(s)] {
			return true
		}
		found = s
		return false
	})
	if found == nil {
		return nil, ErrNoElement
	}
	return elementOf(found), nil
}

// elementOf converts the first node of s to an engine.Element.
func elementOf(s *goquery.Selection) *engine.Element {
	if s.Length() == 0 {
		return nil
	}
	node := s.Get(0)
	el := &engine.Element{
		Tag:        strings.ToLower(node.Data),
		Attributes: make(map[string]string, len(node.Attr)),
	}
	for _, a := range node.Attr {
		el.Attributes[strings.ToLower(a.Key)] = a.Val
	}
	return el
}

// domPath renders s as a selector chain such as "html > body > form#login > input".
func domPath(s *goquery.Selection) string {
	var parts []string
	for n := s.Get(0); n != nil && n.Type == html.ElementNode; n = n.Parent {
		sel := strings.ToLower(n.Data)
		for _, a := range n.Attr {
			switch a.Key {
			case "id":
				if a.Val != "" {
					sel += "#" + a.Val
				}
			case "class":
				if fields := strings.Fields(a.Val); len(fields) > 0 {
					sel += "." + strings.Join(fields, ".")
				}
			}
		}
		parts = append([]string{sel}, parts...)
	}
	return strings.Join(parts, " > ")
}

// markerAttributePrefixes are attribute names that betray a front-end
// framework even when its globals are not referenced in inline script.
var markerAttributePrefixes = []string{"ng-", "data-ng-", "v-", "data-v-", "data-react", "x-data"}

var scriptIdentifier = regexp.MustCompile(`(?:^|[^\w$.])([A-Za-z_$][\w$]*)\s*[.(]`)

// ExtractGlobals lists the page-level markers used for framework
// fingerprinting: script file names, framework attribute names, svelte
// class hashes and identifiers dereferenced or called in inline scripts.
func ExtractGlobals(doc *goquery.Document) []string {
	seen := make(map[string]bool)
	add := func(s string) {
		if s != "" {
			seen[s] = true
		}
	}

	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok {
			add(strings.ToLower(path.Base(strings.SplitN(src, "?", 2)[0])))
			return
		}
		for _, m := range scriptIdentifier.FindAllStringSubmatch(s.Text(), -1) {
			add(m[1])
		}
	})

	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		for _, a := range s.Get(0).Attr {
			key := strings.ToLower(a.Key)
			for _, prefix := range markerAttributePrefixes {
				if strings.HasPrefix(key, prefix) {
					add(key)
				}
			}
			if key == "class" {
				for _, c := range strings.Fields(a.Val) {
					if strings.HasPrefix(c, "svelte-") {
						add(c)
					}
				}
			}
		}
	})

	globals := make([]string, 0, len(seen))
	for g := range seen {
		globals = append(globals, g)
	}
	sort.Strings(globals)
	return globals
}

// PageGlobals parses body and returns ExtractGlobals of the document, or
// nil when body cannot be parsed.
func PageGlobals(body string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil
	}
	return ExtractGlobals(doc)
}
