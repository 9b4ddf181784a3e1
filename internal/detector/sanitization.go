package detector

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/0x6d61/xssprobe/internal/engine"
)

type namedPattern struct {
	name string
	re   *regexp.Regexp
}

// sanitizer lists the escape routines of one context family.
type sanitizer struct {
	family    engine.ContextType
	patterns  []namedPattern
	functions []string
}

var sanitizers = []sanitizer{
	{
		family: engine.ContextHTML,
		patterns: []namedPattern{
			{"htmlspecialchars", regexp.MustCompile(`(?i)htmlspecialchars`)},
			{"htmlentities", regexp.MustCompile(`(?i)htmlentities`)},
			{"strip_tags", regexp.MustCompile(`(?i)strip_tags`)},
			{"sanitize", regexp.MustCompile(`(?i)sanitize`)},
		},
		functions: []string{"escapeHTML", "sanitizeHTML", "cleanHTML", "purifyHTML"},
	},
	{
		family: engine.ContextJavaScript,
		patterns: []namedPattern{
			{"escape()", regexp.MustCompile(`(?i)escape\s*\(`)},
			{"encodeURI()", regexp.MustCompile(`(?i)encodeURI\s*\(`)},
			{"encodeURIComponent()", regexp.MustCompile(`(?i)encodeURIComponent\s*\(`)},
			{"sanitize()", regexp.MustCompile(`(?i)sanitize\s*\(`)},
		},
		functions: []string{"escapeJS", "sanitizeJS", "cleanJS", "purifyJS"},
	},
	{
		family: engine.ContextCSS,
		patterns: []namedPattern{
			{"sanitize()", regexp.MustCompile(`(?i)sanitize\s*\(`)},
			{"clean()", regexp.MustCompile(`(?i)clean\s*\(`)},
			{"purify()", regexp.MustCompile(`(?i)purify\s*\(`)},
		},
		functions: []string{"sanitizeCSS", "cleanCSS", "purifyCSS"},
	},
}

// detectSanitization returns the escape routines referenced in content,
// each named once, in table order.
func detectSanitization(content string) []string {
	var methods []string
	seen := make(map[string]bool)
	hit := func(name string) {
		if !seen[name] {
			seen[name] = true
			methods = append(methods, name)
		}
	}
	for _, s := range sanitizers {
		for _, p := range s.patterns {
			if p.re.MatchString(content) {
				hit(p.name)
			}
		}
		for _, fn := range s.functions {
			if strings.Contains(content, fn) {
				hit(fn)
			}
		}
	}
	return methods
}

var escapedTokens = []*regexp.Regexp{
	regexp.MustCompile(`&[a-zA-Z]+;`),
	regexp.MustCompile(`\\[^a-zA-Z]`),
	regexp.MustCompile(`%[0-9A-Fa-f]{2}`),
}

// SanitizationDensity is the number of escaped tokens in content divided
// by its length in characters, clamped to [0,1]. It is a rough indicator
// of how much of the content passed through an escaper.
func SanitizationDensity(content string) float64 {
	n := utf8.RuneCountInString(content)
	if n == 0 {
		return 0
	}
	matches := 0
	for _, re := range escapedTokens {
		matches += len(re.FindAllStringIndex(content, -1))
	}
	d := float64(matches) / float64(n)
	if d > 1 {
		return 1
	}
	return d
}
