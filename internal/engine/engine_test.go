package engine

import (
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestPointKindString(t *testing.T) {
	tests := []struct {
		kind PointKind
		want string
	}{
		{KindURLParam, "urlParam"},
		{KindHiddenField, "hiddenField"},
		{KindFormField, "formField"},
		{KindDOMAttribute, "domAttribute"},
		{KindDOMText, "domText"},
		{KindPathSegment, "pathSegment"},
		{PointKind(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("PointKind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestSeverity(t *testing.T) {
	tests := []struct {
		confidence float64
		want       string
	}{
		{0.95, "CRITICAL"},
		{0.8, "HIGH"},
		{0.5, "MEDIUM"},
		{0.2, "LOW"},
		{0, "INFO"},
	}
	for _, tt := range tests {
		v := Verdict{Confidence: tt.confidence}
		if got := v.Severity().String(); got != tt.want {
			t.Errorf("Severity(%.2f) = %q, want %q", tt.confidence, got, tt.want)
		}
	}
}

func TestContextHelpers(t *testing.T) {
	c := Context{Types: []ContextType{ContextJavaScript, ContextHTML}}
	if !c.Has(ContextHTML) || c.Has(ContextCSS) {
		t.Errorf("Has() mismatch for %v", c.Types)
	}
	if c.Dominant() != ContextJavaScript {
		t.Errorf("Dominant() = %q, want javascript", c.Dominant())
	}
	if !c.Identified() {
		t.Error("Identified() = false, want true")
	}
	if (Context{Unknown: true, Types: c.Types}).Identified() {
		t.Error("unknown context reported as identified")
	}
	if (Context{}).Dominant() != "" {
		t.Error("empty context has a dominant type")
	}
}

func TestWAFAllows(t *testing.T) {
	var none *WAF
	if none.Allows("encoding") {
		t.Error("nil WAF allows a technique")
	}
	w := &WAF{Name: "cloudflare", BypassTechniques: []string{"encoding", "chunked"}}
	if !w.Allows("chunked") || w.Allows("splitting") {
		t.Errorf("Allows mismatch for %v", w.BypassTechniques)
	}
}

func TestVariantTransform(t *testing.T) {
	if got := (Variant{}).Transform(); got != "none" {
		t.Errorf("Transform() = %q, want none", got)
	}
	v := Variant{TransformChain: []string{"charcode", "url"}}
	if got := v.Transform(); got != "charcode>url" {
		t.Errorf("Transform() = %q, want charcode>url", got)
	}
}

func TestEvidenceRank(t *testing.T) {
	order := []EvidenceKind{EvidenceReflected, EvidenceDOMSink, EvidenceEventHandler, EvidenceDataURI, "other"}
	for i := 1; i < len(order); i++ {
		if order[i-1].Rank() >= order[i].Rank() {
			t.Errorf("%s does not rank before %s", order[i-1], order[i])
		}
	}
}

func TestScanResultVulnerable(t *testing.T) {
	r := &ScanResult{Verdicts: []Verdict{
		{Point: InjectionPoint{Name: "a"}, IsVulnerable: true},
		{Point: InjectionPoint{Name: "b"}},
		{Point: InjectionPoint{Name: "c"}, IsVulnerable: true},
	}}
	got := r.Vulnerable()
	if len(got) != 2 || got[0].Point.Name != "a" || got[1].Point.Name != "c" {
		t.Errorf("Vulnerable() = %+v", got)
	}
}

func TestNewToken(t *testing.T) {
	a, b := NewToken(), NewToken()
	if a == b {
		t.Fatal("tokens are not unique")
	}
	if len(a) != 12 || !strings.HasPrefix(a, "xp") {
		t.Errorf("token %q, want xp + 10 characters", a)
	}
	if url.QueryEscape(a) != a {
		t.Errorf("token %q changes under URL encoding", a)
	}
}

func TestInject(t *testing.T) {
	base := ScanTarget{
		URL:     "http://shop.test/items/42/view.html?q=old&page=2",
		Method:  "GET",
		Headers: map[string]string{"X-Test": "1"},
	}

	q := InjectionPoint{Name: "q", Kind: KindURLParam, Target: base}
	got := q.Inject("<b>")
	u, err := url.Parse(got.URL)
	if err != nil {
		t.Fatal(err)
	}
	if u.Query().Get("q") != "<b>" || u.Query().Get("page") != "2" {
		t.Errorf("query = %v", u.Query())
	}
	got.Headers["X-Test"] = "changed"
	if base.Headers["X-Test"] != "1" {
		t.Error("Inject shares the header map with its point")
	}

	seg := InjectionPoint{Name: "segment", Kind: KindPathSegment, Index: 1, Target: base}
	if got := seg.Inject("zz").URL; !strings.Contains(got, "/items/42zz/view.html") {
		t.Errorf("path injection = %q", got)
	}

	form := InjectionPoint{
		Name: "comment",
		Kind: KindFormField,
		Target: ScanTarget{
			URL:    "http://shop.test/post",
			Method: "POST",
			Body:   "comment=hi&id=7",
		},
	}
	posted := form.Inject("x y")
	vals, _ := url.ParseQuery(posted.Body)
	if vals.Get("comment") != "x y" || vals.Get("id") != "7" {
		t.Errorf("body = %q", posted.Body)
	}
	if posted.ContentType != "application/x-www-form-urlencoded" {
		t.Errorf("ContentType = %q", posted.ContentType)
	}
}

func TestReportFor_NoEvidence(t *testing.T) {
	now := time.Unix(100, 0)
	r := ReportFor(Verdict{VulnClass: "dom", Point: InjectionPoint{Name: "x"}}, now)
	if r.Type != "dom" || r.Parameter != "x" || r.Payload != "" || !r.Timestamp.Equal(now) {
		t.Errorf("ReportFor() = %+v", r)
	}
}

func TestSentinels(t *testing.T) {
	for _, err := range []error{ErrClassification, ErrAnalysis, ErrOutOfScope} {
		if !errors.Is(err, err) || err.Error() == "" {
			t.Errorf("bad sentinel %v", err)
		}
	}
}
