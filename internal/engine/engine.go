// Package engine provides the XSS detection pipeline and scan orchestration.
package engine

import (
	"errors"
	"net/http"
	"time"
)

// Sentinel errors for failures that are recovered inside the pipeline.
var (
	// ErrClassification marks markup the context classifier could not process.
	ErrClassification = errors.New("classification failure")

	// ErrAnalysis marks a probe response the analyzer could not process.
	ErrAnalysis = errors.New("analysis failure")

	// ErrOutOfScope is returned by Scan when the target is not allow-listed.
	ErrOutOfScope = errors.New("target not in scope")
)

// ScanTarget represents a single request template to scan.
type ScanTarget struct {
	URL         string
	Method      string
	Headers     map[string]string
	Body        string
	ContentType string
	Cookies     map[string]string
}

// PointKind indicates where an injection point was found.
type PointKind int

const (
	KindURLParam PointKind = iota
	KindHiddenField
	KindFormField
	KindDOMAttribute
	KindDOMText
	KindPathSegment
)

// String returns a human-readable name for the kind.
func (k PointKind) String() string {
	names := [...]string{
		"urlParam", "hiddenField", "formField",
		"domAttribute", "domText", "pathSegment",
	}
	if int(k) < len(names) {
		return names[k]
	}
	return "unknown"
}

// Element is the minimal view of a DOM element the classifier needs.
type Element struct {
	Tag        string
	Attributes map[string]string
}

// InjectionPoint is a single input location being probed. It is treated as
// immutable once discovered.
type InjectionPoint struct {
	Name         string
	Value        string
	Kind         PointKind
	LocationPath string

	// Token is the uniqueness token embedded in every payload sent to
	// this point.
	Token string

	// Index is the path segment index for KindPathSegment points.
	Index int

	// Markup and Element describe the surrounding markup when known.
	Markup  string
	Element *Element

	// Target is the request the value is injected into.
	Target ScanTarget
}

// Page is a fetched document together with the response metadata used for
// environment fingerprinting.
type Page struct {
	URL     string
	Status  int
	Headers http.Header
	Body    string
	Globals []string
}

// ContextType is a markup context an injection point may sit in.
type ContextType string

const (
	ContextHTML       ContextType = "html"
	ContextJavaScript ContextType = "javascript"
	ContextCSS        ContextType = "css"
)

// Encoding names a pre-existing encoding layer on a value.
type Encoding string

const (
	EncodingNone    Encoding = ""
	EncodingURL     Encoding = "url"
	EncodingHTML    Encoding = "html"
	EncodingUnicode Encoding = "unicode"
	EncodingHex     Encoding = "hex"
	EncodingBase64  Encoding = "base64"
)

// Context is the classified surrounding of an injection point.
type Context struct {
	Types                     []ContextType
	Positions                 []string
	SanitizationDetected      bool
	SanitizationMethods       []string
	SanitizationEffectiveness float64
	EncodingGuess             Encoding

	// Unknown is set when classification failed on malformed input.
	Unknown bool
}

// Has reports whether t is one of the context's types.
func (c Context) Has(t ContextType) bool {
	for _, ct := range c.Types {
		if ct == t {
			return true
		}
	}
	return false
}

// Dominant returns the first classified type, or "" if none matched.
func (c Context) Dominant() ContextType {
	if len(c.Types) == 0 {
		return ""
	}
	return c.Types[0]
}

// Identified reports whether classification produced at least one type.
func (c Context) Identified() bool {
	return !c.Unknown && len(c.Types) > 0
}

// WAF is an identified web application firewall.
type WAF struct {
	Name             string
	BypassTechniques []string
}

// Allows reports whether the WAF permits the named bypass technique.
func (w *WAF) Allows(technique string) bool {
	if w == nil {
		return false
	}
	for _, t := range w.BypassTechniques {
		if t == technique {
			return true
		}
	}
	return false
}

// SecurityHeaders summarises the protective headers of a response.
type SecurityHeaders struct {
	XSSProtection      bool
	XSSProtectionMode  string
	CSRFToken          bool
	FrameOptions       string
	ContentTypeOptions bool
	StrictTransport    bool
	Present            []string
}

// Environment is the fingerprint of the target's server stack.
type Environment struct {
	Server     string
	Frameworks []string
	WAF        *WAF
	CSP        map[string][]string
	Charset    string
	Security   SecurityHeaders
}

// Variant is one transformed rendering of a base payload.
type Variant struct {
	ParentPayloadID string
	TransformChain  []string
	Materialized    string

	// Raw is the token-bearing payload before any transform.
	Raw string

	// Segments holds chunk boundaries for chunking transforms.
	Segments []string

	Confidence float64
}

// Transform returns the chain as a single display string.
func (v Variant) Transform() string {
	if len(v.TransformChain) == 0 {
		return "none"
	}
	s := v.TransformChain[0]
	for _, t := range v.TransformChain[1:] {
		s += ">" + t
	}
	return s
}

// ProbeResult is the outcome of one dispatched variant.
type ProbeResult struct {
	Payload   string
	Transform string
	Success   bool
	Body      string
	Cached    bool
	Err       error
}

// EvidenceKind names an evidence pattern family.
type EvidenceKind string

const (
	EvidenceReflected    EvidenceKind = "reflected"
	EvidenceDOMSink      EvidenceKind = "dom"
	EvidenceEventHandler EvidenceKind = "event"
	EvidenceDataURI      EvidenceKind = "data"
)

// Rank returns the fixed tie-break order of the kind; lower wins.
func (k EvidenceKind) Rank() int {
	switch k {
	case EvidenceReflected:
		return 0
	case EvidenceDOMSink:
		return 1
	case EvidenceEventHandler:
		return 2
	case EvidenceDataURI:
		return 3
	default:
		return 4
	}
}

// Evidence is a pattern match in a probe response.
type Evidence struct {
	Kind                      EvidenceKind
	Contribution              float64
	Payload                   string
	Transform                 string
	Match                     string
	SanitizationEffectiveness float64
}

// Recommendation is remediation advice attached to a verdict.
type Recommendation struct {
	Level   string
	Message string
	Action  string
}

// Verdict is the terminal output of one Detect call.
type Verdict struct {
	Point           InjectionPoint
	IsVulnerable    bool
	Confidence      float64
	VulnClass       string
	Evidence        []Evidence
	Context         Context
	Recommendations []Recommendation
	Probes          int
	Error           string
}

// Severity represents the severity level of a finding.
type Severity int

const (
	SeverityCritical Severity = iota
	SeverityHigh
	SeverityMedium
	SeverityLow
	SeverityInfo
)

// String returns the severity name.
func (s Severity) String() string {
	names := [...]string{"CRITICAL", "HIGH", "MEDIUM", "LOW", "INFO"}
	if int(s) < len(names) {
		return names[s]
	}
	return "UNKNOWN"
}

// Severity classifies the verdict by confidence.
func (v Verdict) Severity() Severity {
	switch {
	case v.Confidence >= 0.9:
		return SeverityCritical
	case v.Confidence >= 0.7:
		return SeverityHigh
	case v.Confidence >= 0.5:
		return SeverityMedium
	case v.Confidence > 0:
		return SeverityLow
	default:
		return SeverityInfo
	}
}

// ScanResult holds the complete result of a scan.
type ScanResult struct {
	SessionID    string
	Target       ScanTarget
	Environment  Environment
	Verdicts     []Verdict
	StartTime    time.Time
	EndTime      time.Time
	RequestCount int64
	Errors       []error
}

// Vulnerable returns the verdicts flagged as vulnerable.
func (r *ScanResult) Vulnerable() []Verdict {
	var out []Verdict
	for _, v := range r.Verdicts {
		if v.IsVulnerable {
			out = append(out, v)
		}
	}
	return out
}
