// Package detector classifies the markup context of injection points and
// discovers the points themselves on a fetched page.
package detector

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/0x6d61/xssprobe/internal/engine"
	"github.com/0x6d61/xssprobe/internal/payload"
)

// contextRule decides membership in one context type. Any matching
// content pattern, attribute name or tag name is enough.
type contextRule struct {
	ctx        engine.ContextType
	patterns   []*regexp.Regexp
	attributes []string
	tags       []string
}

var eventAttributes = []string{
	"onerror", "onload", "onclick", "onmouseover",
	"onmouseout", "onkeypress", "onkeydown", "onkeyup",
}

// contextRules is evaluated in order; types are additive.
var contextRules = []contextRule{
	{
		ctx: engine.ContextHTML,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`<[^>]*>`),
			regexp.MustCompile(`&[a-zA-Z]+;`),
			regexp.MustCompile(`&#[xX]?[0-9a-fA-F]+;`),
		},
		attributes: append([]string{"href", "src", "onfocus", "onblur"}, eventAttributes...),
	},
	{
		ctx: engine.ContextJavaScript,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`),
			regexp.MustCompile(`(?i)javascript:`),
			regexp.MustCompile(`(?i)on\w+\s*=`),
			regexp.MustCompile(`(?i)eval\s*\(`),
			regexp.MustCompile(`(?i)Function\s*\(`),
			regexp.MustCompile(`(?i)setTimeout\s*\(`),
			regexp.MustCompile(`(?i)setInterval\s*\(`),
		},
		attributes: eventAttributes,
		tags:       []string{"script"},
	},
	{
		ctx: engine.ContextCSS,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`),
			regexp.MustCompile(`(?i)style\s*=\s*["'][^"']*["']`),
			regexp.MustCompile(`(?i)url\s*\(`),
			regexp.MustCompile(`(?i)expression\s*\(`),
			regexp.MustCompile(`(?i)@import`),
		},
		attributes: []string{"style"},
		tags:       []string{"style"},
	},
}

// positionRule names a markup position the content occupies.
type positionRule struct {
	name    string
	pattern *regexp.Regexp
	tags    []string
}

var positionRules = []positionRule{
	{"attribute", regexp.MustCompile(`<[a-zA-Z][^>]*\s[\w:-]+\s*=`), nil},
	{"script", regexp.MustCompile(`(?i)<script[\s>]`), []string{"script"}},
	{"style", regexp.MustCompile(`(?i)<style[\s>]|style\s*=`), []string{"style"}},
	{"comment", regexp.MustCompile(`<!--`), nil},
	{"data-uri", regexp.MustCompile(`(?i)data:[\w/+.-]*[;,]`), nil},
}

// Classifier derives an engine.Context from markup. It performs no I/O.
type Classifier struct {
	logger *zap.Logger
}

// NewClassifier creates a Classifier.
func NewClassifier(logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{logger: logger.Named("classifier")}
}

// Classify inspects markup and, when given, the element it belongs to.
// When el is nil the first element of markup is used. Malformed input
// yields a Context with Unknown set.
func (c *Classifier) Classify(markup string, el *engine.Element) (ctx engine.Context) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("classification aborted",
				zap.Error(fmt.Errorf("%w: %v", engine.ErrClassification, r)))
			ctx = engine.Context{Unknown: true}
		}
	}()

	if !utf8.ValidString(markup) {
		c.logger.Warn("classification skipped",
			zap.Error(fmt.Errorf("%w: markup is not valid UTF-8", engine.ErrClassification)))
		return engine.Context{Unknown: true}
	}
	if el == nil && strings.Contains(markup, "<") {
		el, _ = ParseElement(markup)
	}

	for _, rule := range contextRules {
		if rule.matches(markup, el) {
			ctx.Types = append(ctx.Types, rule.ctx)
		}
	}
	for _, rule := range positionRules {
		if rule.matches(markup, el) {
			ctx.Positions = append(ctx.Positions, rule.name)
		}
	}

	if methods := detectSanitization(markup); len(methods) > 0 {
		ctx.SanitizationDetected = true
		ctx.SanitizationMethods = methods
		ctx.SanitizationEffectiveness = SanitizationDensity(markup)
	}
	if enc, ok := payload.Detect(markup); ok {
		ctx.EncodingGuess = enc
	}
	return ctx
}

func (r contextRule) matches(content string, el *engine.Element) bool {
	if el != nil {
		for _, tag := range r.tags {
			if el.Tag == tag {
				return true
			}
		}
		for _, attr := range r.attributes {
			if _, ok := el.Attributes[attr]; ok {
				return true
			}
		}
	}
	for _, re := range r.patterns {
		if re.MatchString(content) {
			return true
		}
	}
	return false
}

func (r positionRule) matches(content string, el *engine.Element) bool {
	if el != nil {
		for _, tag := range r.tags {
			if el.Tag == tag {
				return true
			}
		}
		if r.name == "attribute" && len(el.Attributes) > 0 {
			return true
		}
	}
	return r.pattern.MatchString(content)
}
