// Package analysis scores probe responses for evidence of script
// injection and aggregates them into a verdict.
package analysis

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/0x6d61/xssprobe/internal/detector"
	"github.com/0x6d61/xssprobe/internal/engine"
)

// DefaultThreshold is the confidence at which a verdict is vulnerable.
const DefaultThreshold = 0.8

// DefaultWindow is the number of bytes examined on each side of an anchor.
const DefaultWindow = 512

// maxMatchLen caps the matched text kept in evidence.
const maxMatchLen = 200

// check is one evidence pattern and the confidence it contributes.
type check struct {
	kind    engine.EvidenceKind
	pattern *regexp.Regexp
	weight  float64
}

// checks run in this order for every result.
var checks = []check{
	{engine.EvidenceReflected, regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`), 0.8},
	{engine.EvidenceDOMSink, regexp.MustCompile(`(?i)document\.write|innerHTML|outerHTML|insertAdjacentHTML`), 0.7},
	{engine.EvidenceEventHandler, regexp.MustCompile(`(?i)on\w+\s*=`), 0.6},
	{engine.EvidenceDataURI, regexp.MustCompile(`(?i)data:\s*text/html`), 0.5},
}

// Analyzer turns probe results into a verdict. The zero value is not
// usable; call New.
type Analyzer struct {
	threshold float64
	window    int
	logger    *zap.Logger
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithThreshold sets the vulnerable threshold.
func WithThreshold(t float64) Option {
	return func(a *Analyzer) { a.threshold = t }
}

// WithWindow sets how many bytes around the anchor are examined. A
// negative value examines the whole body.
func WithWindow(n int) Option {
	return func(a *Analyzer) { a.window = n }
}

// New creates an Analyzer.
func New(logger *zap.Logger, opts ...Option) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Analyzer{
		threshold: DefaultThreshold,
		window:    DefaultWindow,
		logger:    logger.Named("analysis"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze scores results. original is the uniqueness token injected into
// every probe; evidence only counts near a reflection of it, or of the
// sent payload when the token itself was transformed.
//
// Failed results contribute nothing. The verdict confidence is the
// maximum over results, so it does not depend on their order.
func (a *Analyzer) Analyze(results []engine.ProbeResult, original string) engine.Verdict {
	v := engine.Verdict{Probes: len(results)}

	for _, r := range results {
		if !r.Success || r.Err != nil {
			continue
		}
		ev, ok := a.analyzeOne(r, original)
		if !ok {
			continue
		}
		v.Evidence = append(v.Evidence, ev)
	}

	if best, ok := strongest(v.Evidence); ok {
		v.Confidence = clamp(best.Contribution)
		v.VulnClass = string(best.Kind)
	}
	v.IsVulnerable = v.Confidence >= a.threshold
	v.Recommendations = Recommend(v.Confidence, engine.EvidenceKind(v.VulnClass), a.threshold)
	return v
}

// analyzeOne applies the check table to one result. Among matching
// checks the last one whose weight is at least the running maximum wins.
func (a *Analyzer) analyzeOne(r engine.ProbeResult, original string) (ev engine.Evidence, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			a.logger.Warn("result skipped",
				zap.String("payload", r.Payload),
				zap.Error(fmt.Errorf("%w: %v", engine.ErrAnalysis, rec)),
			)
			ok = false
		}
	}()

	if !utf8.ValidString(r.Body) {
		a.logger.Warn("result skipped",
			zap.String("payload", r.Payload),
			zap.Error(fmt.Errorf("%w: response body is not valid UTF-8", engine.ErrAnalysis)),
		)
		return engine.Evidence{}, false
	}

	regions := a.regions(r.Body, original, r.Payload)
	if len(regions) == 0 {
		return engine.Evidence{}, false
	}

	var (
		best  float64
		found bool
	)
	for _, c := range checks {
		for _, region := range regions {
			m := c.pattern.FindString(region)
			if m == "" {
				continue
			}
			if c.weight >= best {
				best = c.weight
				found = true
				ev = engine.Evidence{
					Kind:                      c.kind,
					Contribution:              c.weight,
					Payload:                   r.Payload,
					Transform:                 r.Transform,
					Match:                     truncate(m, maxMatchLen),
					SanitizationEffectiveness: detector.SanitizationDensity(region),
				}
			}
			break
		}
	}
	return ev, found
}

// regions returns the parts of body around each occurrence of the first
// anchor found.
func (a *Analyzer) regions(body string, anchors ...string) []string {
	for _, anchor := range anchors {
		if anchor == "" || !strings.Contains(body, anchor) {
			continue
		}
		if a.window < 0 {
			return []string{body}
		}
		var out []string
		for off := 0; ; {
			i := strings.Index(body[off:], anchor)
			if i < 0 {
				break
			}
			start := off + i
			end := start + len(anchor)
			out = append(out, body[max(0, start-a.window):min(len(body), end+a.window)])
			off = end
		}
		return out
	}
	return nil
}

// strongest picks the highest contribution, breaking ties by kind rank.
func strongest(evidence []engine.Evidence) (engine.Evidence, bool) {
	if len(evidence) == 0 {
		return engine.Evidence{}, false
	}
	sorted := append([]engine.Evidence(nil), evidence...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Contribution != sorted[j].Contribution {
			return sorted[i].Contribution > sorted[j].Contribution
		}
		return sorted[i].Kind.Rank() < sorted[j].Kind.Rank()
	})
	return sorted[0], true
}

func clamp(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
