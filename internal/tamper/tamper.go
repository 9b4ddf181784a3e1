// Package tamper provides reversible payload transforms that help XSS
// probes slip past input filters and Web Application Firewalls.
//
// Each Tamper rewrites a payload into JavaScript or markup that evaluates
// to the same string, and can undo its own rewrite so the generator can
// verify that the uniqueness token is still recoverable.
//
// Built-in tampers:
//   - charcode:      String.fromCharCode(..)+String.fromCharCode(..)
//   - eval:          eval(<charcode form>)
//   - concat:        "a"+"b"+"c"
//   - template:      `payload`
//   - split-string:  two-character chunks joined by +
//   - split-array:   ["ab","cd"].join('')
//   - split-object:  Object.values({"0":"ab","2":"cd"}).join('')
//   - chunk-fixed:   four-character segments
//   - chunk-dynamic: segments of 2,5,3,6,4 characters
//
// Usage:
//
//	chain := tamper.BuildChain("concat")
//	out := chain.Apply(payload)
//	back, err := chain.Reverse(out)
package tamper

import (
	"fmt"
	"sort"
	"strings"
)

// Kind groups tampers by the WAF bypass technique they implement.
type Kind string

const (
	KindObfuscation Kind = "obfuscation"
	KindSplitting   Kind = "splitting"
	KindChunking    Kind = "chunking"
)

// Technique returns the bypass technique name a WAF fingerprint must
// permit before tampers of this kind are used. Obfuscation is always on.
func (k Kind) Technique() string {
	switch k {
	case KindSplitting:
		return "splitting"
	case KindChunking:
		return "chunked"
	default:
		return "obfuscation"
	}
}

// Tamper transforms a payload string.
type Tamper interface {
	// Name returns the tamper's short identifier (e.g. "concat").
	Name() string
	// Kind returns the technique family.
	Kind() Kind
	// Apply transforms the payload.
	Apply(s string) string
	// Reverse undoes Apply.
	Reverse(s string) (string, error)
}

// Segmenter is implemented by tampers that split a payload into
// delivery segments without changing its text.
type Segmenter interface {
	Segments(s string) []string
}

// Chain applies multiple tampers sequentially.
type Chain []Tamper

// Apply runs each tamper in order.
func (c Chain) Apply(s string) string {
	for _, t := range c {
		s = t.Apply(s)
	}
	return s
}

// Reverse undoes the chain, last tamper first.
func (c Chain) Reverse(s string) (string, error) {
	for i := len(c) - 1; i >= 0; i-- {
		out, err := c[i].Reverse(s)
		if err != nil {
			return "", fmt.Errorf("tamper %s: %w", c[i].Name(), err)
		}
		s = out
	}
	return s, nil
}

// order fixes the generation order; registry iteration order is random.
var order = []string{
	"charcode", "eval", "concat", "template",
	"split-string", "split-array", "split-object",
	"chunk-fixed", "chunk-dynamic",
}

// registry maps tamper names to their constructors.
var registry = map[string]func() Tamper{
	"charcode":      func() Tamper { return charCodeTamper{} },
	"eval":          func() Tamper { return evalTamper{} },
	"concat":        func() Tamper { return concatTamper{} },
	"template":      func() Tamper { return templateTamper{} },
	"split-string":  func() Tamper { return splitStringTamper{} },
	"split-array":   func() Tamper { return splitArrayTamper{} },
	"split-object":  func() Tamper { return splitObjectTamper{} },
	"chunk-fixed":   func() Tamper { return fixedChunkTamper{size: 4} },
	"chunk-dynamic": func() Tamper { return dynamicChunkTamper{} },
}

// Lookup returns the Tamper for the given name, or nil if not found.
func Lookup(name string) Tamper {
	fn, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil
	}
	return fn()
}

// Available returns all registered tamper names in alphabetical order.
func Available() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ByKind returns the tampers of kind k in generation order.
func ByKind(k Kind) []Tamper {
	var out []Tamper
	for _, name := range order {
		if t := Lookup(name); t != nil && t.Kind() == k {
			out = append(out, t)
		}
	}
	return out
}

// BuildChain constructs a Chain from the given tamper names.
// Names that are not registered are silently ignored.
func BuildChain(names ...string) Chain {
	var chain Chain
	for _, name := range names {
		if t := Lookup(name); t != nil {
			chain = append(chain, t)
		}
	}
	return chain
}
