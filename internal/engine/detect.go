package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/0x6d61/xssprobe/internal/dispatch"
)

// --------------------------------------------------------------------------
// Stage hooks (wired by the caller to break import cycles)
// --------------------------------------------------------------------------

// FingerprintFunc infers the target environment from response headers and
// page globals.
type FingerprintFunc func(headers http.Header, globals []string) Environment

// ClassifyFunc classifies the markup surrounding an injection point.
type ClassifyFunc func(markup string, el *Element) Context

// GenerateFunc selects a base payload for the point and expands it into
// the variants to probe.
type GenerateFunc func(p InjectionPoint, c Context, env Environment) []Variant

// SegmentFunc cuts a request body into transfer chunks for variants that
// use a chunking transform. It returns nil for other variants.
type SegmentFunc func(v Variant, body string) []string

// AnalyzeFunc scores probe results. original is the point's token.
type AnalyzeFunc func(results []ProbeResult, original string) Verdict

var errNotWired = errors.New("engine: detector has no generator or analyzer")

// --------------------------------------------------------------------------
// Detector
// --------------------------------------------------------------------------

// Detector runs the per-point detection pipeline: fingerprint, classify,
// generate, dispatch, analyze. The environment is cached per host until
// Reset.
type Detector struct {
	dispatcher  *dispatch.Dispatcher
	fingerprint FingerprintFunc
	classify    ClassifyFunc
	generate    GenerateFunc
	segment     SegmentFunc
	analyze     AnalyzeFunc
	logger      *zap.Logger

	mu  sync.Mutex
	env map[string]Environment
}

// DetectorOption configures a Detector.
type DetectorOption func(*Detector)

// WithFingerprinter sets the environment fingerprinting stage.
func WithFingerprinter(fn FingerprintFunc) DetectorOption {
	return func(d *Detector) { d.fingerprint = fn }
}

// WithClassifier sets the context classification stage.
func WithClassifier(fn ClassifyFunc) DetectorOption {
	return func(d *Detector) { d.classify = fn }
}

// WithGenerator sets the payload generation stage.
func WithGenerator(fn GenerateFunc) DetectorOption {
	return func(d *Detector) { d.generate = fn }
}

// WithSegmenter sets the body chunking used for chunked variants.
func WithSegmenter(fn SegmentFunc) DetectorOption {
	return func(d *Detector) { d.segment = fn }
}

// WithAnalyzer sets the result analysis stage.
func WithAnalyzer(fn AnalyzeFunc) DetectorOption {
	return func(d *Detector) { d.analyze = fn }
}

// WithDetectorLogger sets the logger.
func WithDetectorLogger(l *zap.Logger) DetectorOption {
	return func(d *Detector) { d.logger = l }
}

// NewDetector creates a Detector that sends probes through dispatcher.
// The dispatcher must be started for Detect to make progress.
func NewDetector(dispatcher *dispatch.Dispatcher, opts ...DetectorOption) *Detector {
	d := &Detector{
		dispatcher: dispatcher,
		logger:     zap.NewNop(),
		env:        make(map[string]Environment),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.Named("detector")
	return d
}

// Dispatcher returns the dispatcher probes are sent through.
func (d *Detector) Dispatcher() *dispatch.Dispatcher { return d.dispatcher }

// Reset drops every cached environment.
func (d *Detector) Reset() {
	d.mu.Lock()
	d.env = make(map[string]Environment)
	d.mu.Unlock()
}

// Environment returns the fingerprint of page's host, computing it on
// first use.
func (d *Detector) Environment(page Page) Environment {
	host := hostOf(page.URL)

	d.mu.Lock()
	defer d.mu.Unlock()
	if env, ok := d.env[host]; ok {
		return env
	}
	env := Environment{Server: "unknown", Charset: "utf-8"}
	if d.fingerprint != nil {
		env = d.fingerprint(page.Headers, page.Globals)
	}
	d.env[host] = env
	return env
}

// Detect probes one injection point of page. It never panics and never
// returns an error: any failure yields a non-vulnerable verdict with zero
// confidence and Error set.
func (d *Detector) Detect(ctx context.Context, point InjectionPoint, page Page) (v Verdict) {
	log := d.logger.With(zap.String("parameter", point.Name), zap.Stringer("kind", point.Kind))
	defer func() {
		if r := recover(); r != nil {
			log.Error("detection panicked", zap.Any("panic", r))
			v = failedVerdict(point, fmt.Errorf("engine: detection panicked: %v", r))
		}
	}()

	if err := ctx.Err(); err != nil {
		return failedVerdict(point, err)
	}
	if d.generate == nil || d.analyze == nil {
		return failedVerdict(point, errNotWired)
	}

	env := d.Environment(page)
	pctx := Context{Unknown: true}
	if d.classify != nil {
		pctx = d.classify(point.Markup, point.Element)
	}

	variants := d.generate(point, pctx, env)
	log.Debug("variants generated",
		zap.Int("count", len(variants)),
		zap.Strings("context", contextNames(pctx)),
	)
	if len(variants) == 0 {
		return Verdict{Point: point, Context: pctx}
	}

	tickets := make([]*dispatch.Ticket, len(variants))
	for i, variant := range variants {
		tickets[i] = d.dispatcher.Enqueue(d.probe(point, variant))
	}

	results := make([]ProbeResult, len(variants))
	for i, t := range tickets {
		out := t.Wait(ctx)
		results[i] = ProbeResult{
			Payload:   variants[i].Materialized,
			Transform: variants[i].Transform(),
			Success:   out.Err == nil,
			Body:      out.Body,
			Cached:    out.Cached,
			Err:       out.Err,
		}
	}

	v = d.analyze(results, point.Token)
	v.Point = point
	v.Context = pctx
	if err := ctx.Err(); err != nil {
		v.Error = err.Error()
	}

	log.Debug("point analyzed",
		zap.Bool("vulnerable", v.IsVulnerable),
		zap.Float64("confidence", v.Confidence),
		zap.Int("probes", v.Probes),
	)
	return v
}

// probe builds the request carrying variant to point.
func (d *Detector) probe(point InjectionPoint, variant Variant) *dispatch.ProbeRequest {
	target := point.Inject(variant.Materialized)
	req := dispatch.NewProbeRequest(target.Method, target.URL, target.Headers, target.Body)
	req.Cookies = target.Cookies
	req.ContentType = target.ContentType
	if d.segment != nil && req.Method == http.MethodPost && req.Body != "" {
		req.BodyChunks = d.segment(variant, req.Body)
	}
	req.Sign()
	return req
}

func failedVerdict(point InjectionPoint, err error) Verdict {
	return Verdict{Point: point, Context: Context{Unknown: true}, Error: err.Error()}
}

func contextNames(c Context) []string {
	names := make([]string, len(c.Types))
	for i, t := range c.Types {
		names[i] = string(t)
	}
	return names
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}
