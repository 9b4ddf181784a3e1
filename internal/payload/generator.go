package payload

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/0x6d61/xssprobe/internal/engine"
	"github.com/0x6d61/xssprobe/internal/tamper"
)

// Options controls variant generation.
type Options struct {
	// Token is substituted for TokenPlaceholder in the base template.
	Token string

	// MinConfidence discards variants scoring below it.
	MinConfidence float64

	// Combine additionally encodes every obfuscation and splitting
	// variant with each encoder.
	Combine bool

	// Blacklist drops variants containing any of these substrings.
	Blacklist []string
}

// Generator expands base payloads into probe variants.
type Generator struct {
	encoders []Encoder
	logger   *zap.Logger
}

// NewGenerator creates a Generator using every built-in encoder.
func NewGenerator(logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{encoders: Encoders(), logger: logger.Named("generator")}
}

// Generate returns the identity rendering of p plus one variant per
// encoder and per obfuscation tamper. Splitting and chunking tampers are
// added only when env's WAF permits the technique. Equivalent variants are
// not merged.
func (g *Generator) Generate(p Payload, ctx engine.Context, env engine.Environment, opts Options) []engine.Variant {
	raw := p.Materialize(opts.Token)

	candidates := []engine.Variant{{Materialized: raw}}
	for _, enc := range g.encoders {
		candidates = append(candidates, engine.Variant{
			TransformChain: []string{enc.Name()},
			Materialized:   enc.Encode(raw),
		})
	}

	var tampers []tamper.Tamper
	tampers = append(tampers, tamper.ByKind(tamper.KindObfuscation)...)
	for _, kind := range []tamper.Kind{tamper.KindSplitting, tamper.KindChunking} {
		if env.WAF.Allows(kind.Technique()) {
			tampers = append(tampers, tamper.ByKind(kind)...)
		}
	}

	for _, t := range tampers {
		tampered := t.Apply(raw)
		v := engine.Variant{
			TransformChain: []string{t.Name()},
			Materialized:   tampered,
		}
		if seg, ok := t.(tamper.Segmenter); ok {
			v.Segments = seg.Segments(tampered)
			candidates = append(candidates, v)
			continue
		}
		candidates = append(candidates, v)

		if !opts.Combine {
			continue
		}
		for _, enc := range g.encoders {
			candidates = append(candidates, engine.Variant{
				TransformChain: []string{t.Name(), enc.Name()},
				Materialized:   enc.Encode(tampered),
			})
		}
	}

	out := make([]engine.Variant, 0, len(candidates))
	for _, v := range candidates {
		v.ParentPayloadID = p.ID
		v.Raw = raw
		v.Confidence = Confidence(v.Materialized, ctx, env)

		if v.Confidence < opts.MinConfidence {
			continue
		}
		if hit := blacklisted(v.Materialized, opts.Blacklist); hit != "" {
			g.logger.Debug("variant dropped by server blacklist",
				zap.String("transform", v.Transform()), zap.String("sequence", hit))
			continue
		}
		if back, err := Reverse(v); err != nil || (opts.Token != "" && !strings.Contains(back, opts.Token)) {
			g.logger.Warn("variant does not recover its token",
				zap.String("transform", v.Transform()), zap.Error(err))
			continue
		}
		out = append(out, v)
	}

	g.logger.Debug("variants generated",
		zap.String("payload", p.ID),
		zap.Int("candidates", len(candidates)),
		zap.Int("kept", len(out)))
	return out
}

func blacklisted(s string, seqs []string) string {
	for _, seq := range seqs {
		if seq != "" && strings.Contains(s, seq) {
			return seq
		}
	}
	return ""
}

// Confidence scores a candidate payload: 0.5 base, +0.2 when the context
// was identified, +0.1 when a WAF was identified and +0.1 when the payload
// is longer than ten characters. The result is clamped to [0,1].
func Confidence(materialized string, ctx engine.Context, env engine.Environment) float64 {
	// Summed in tenths so thresholds such as 0.8 compare exactly.
	tenths := 5
	if ctx.Identified() {
		tenths += 2
	}
	if env.WAF != nil {
		tenths++
	}
	if utf8.RuneCountInString(materialized) > 10 {
		tenths++
	}
	return math.Min(1, float64(tenths)/10)
}

// Reverse undoes v's transform chain and returns the recovered payload.
func Reverse(v engine.Variant) (string, error) {
	s := v.Materialized
	for i := len(v.TransformChain) - 1; i >= 0; i-- {
		name := v.TransformChain[i]
		var err error
		switch {
		case LookupEncoder(name) != nil:
			s, err = LookupEncoder(name).Decode(s)
		case tamper.Lookup(name) != nil:
			s, err = tamper.Lookup(name).Reverse(s)
		default:
			err = fmt.Errorf("unknown transform %q", name)
		}
		if err != nil {
			return "", fmt.Errorf("payload: reversing %s: %w", name, err)
		}
	}
	return s, nil
}

// SegmentBody cuts body into transfer chunks using the chunking tamper in
// v's chain. It returns nil for variants without one.
func SegmentBody(v engine.Variant, body string) []string {
	for _, name := range v.TransformChain {
		if seg, ok := tamper.Lookup(name).(tamper.Segmenter); ok {
			return seg.Segments(body)
		}
	}
	return nil
}
