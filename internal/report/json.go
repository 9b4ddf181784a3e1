package report

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/0x6d61/xssprobe/internal/engine"
)

// JSONReporter outputs structured JSON.
type JSONReporter struct {
	// Compact outputs single-line JSON when true (no indentation).
	Compact bool
}

// Format returns "json".
func (r *JSONReporter) Format() string {
	return "json"
}

type jsonOutput struct {
	SchemaVersion string          `json:"schema_version"`
	Tool          string          `json:"tool"`
	SessionID     string          `json:"session_id,omitempty"`
	Target        jsonTarget      `json:"target"`
	Environment   jsonEnvironment `json:"environment"`
	Scan          jsonScan        `json:"scan"`
	Verdicts      []jsonVerdict   `json:"verdicts"`
	Summary       jsonSummary     `json:"summary"`
	Errors        []string        `json:"errors,omitempty"`
}

type jsonTarget struct {
	URL    string `json:"url"`
	Method string `json:"method"`
}

type jsonEnvironment struct {
	Server     string              `json:"server"`
	WAF        string              `json:"waf,omitempty"`
	Frameworks []string            `json:"frameworks,omitempty"`
	Charset    string              `json:"charset,omitempty"`
	CSP        map[string][]string `json:"csp,omitempty"`
}

type jsonScan struct {
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DurationSeconds float64   `json:"duration_seconds"`
	TotalRequests   int64     `json:"total_requests"`
}

type jsonVerdict struct {
	Parameter       jsonPoint            `json:"parameter"`
	Vulnerable      bool                 `json:"vulnerable"`
	Confidence      float64              `json:"confidence"`
	Severity        string               `json:"severity"`
	VulnClass       string               `json:"vuln_class,omitempty"`
	Context         []string             `json:"context,omitempty"`
	Evidence        []jsonEvidence       `json:"evidence,omitempty"`
	Recommendations []jsonRecommendation `json:"recommendations,omitempty"`
	Probes          int                  `json:"probes"`
	Error           string               `json:"error,omitempty"`
}

type jsonPoint struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Location string `json:"location,omitempty"`
	URL      string `json:"url"`
}

type jsonEvidence struct {
	Kind         string  `json:"kind"`
	Contribution float64 `json:"contribution"`
	Payload      string  `json:"payload"`
	Transform    string  `json:"transform"`
	Match        string  `json:"match"`
}

type jsonRecommendation struct {
	Level   string `json:"level"`
	Message string `json:"message"`
	Action  string `json:"action"`
}

type jsonSummary struct {
	InjectionPoints int `json:"injection_points"`
	Vulnerable      int `json:"vulnerable"`
	Failed          int `json:"failed"`
}

// Generate writes JSON scan results to w. Every verdict is listed,
// vulnerable or not.
func (r *JSONReporter) Generate(ctx context.Context, result *engine.ScanResult, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	env := result.Environment
	output := jsonOutput{
		SchemaVersion: "1.0",
		Tool:          "xssprobe",
		SessionID:     result.SessionID,
		Target: jsonTarget{
			URL:    result.Target.URL,
			Method: methodOf(result.Target),
		},
		Environment: jsonEnvironment{
			Server:     env.Server,
			Frameworks: env.Frameworks,
			Charset:    env.Charset,
			CSP:        env.CSP,
		},
		Scan: jsonScan{
			StartTime:       result.StartTime,
			EndTime:         result.EndTime,
			DurationSeconds: result.EndTime.Sub(result.StartTime).Seconds(),
			TotalRequests:   result.RequestCount,
		},
		Verdicts: make([]jsonVerdict, 0, len(result.Verdicts)),
		Summary:  jsonSummary{InjectionPoints: len(result.Verdicts)},
	}
	if env.WAF != nil {
		output.Environment.WAF = env.WAF.Name
	}

	for _, v := range result.Verdicts {
		if v.IsVulnerable {
			output.Summary.Vulnerable++
		}
		if v.Error != "" {
			output.Summary.Failed++
		}
		output.Verdicts = append(output.Verdicts, toJSONVerdict(v))
	}

	if len(result.Errors) > 0 {
		output.Errors = make([]string, len(result.Errors))
		for i, e := range result.Errors {
			output.Errors[i] = e.Error()
		}
	}

	enc := json.NewEncoder(w)
	if !r.Compact {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(output)
}

func toJSONVerdict(v engine.Verdict) jsonVerdict {
	out := jsonVerdict{
		Parameter: jsonPoint{
			Name:     v.Point.Name,
			Kind:     v.Point.Kind.String(),
			Location: v.Point.LocationPath,
			URL:      v.Point.Target.URL,
		},
		Vulnerable: v.IsVulnerable,
		Confidence: v.Confidence,
		Severity:   v.Severity().String(),
		VulnClass:  v.VulnClass,
		Probes:     v.Probes,
		Error:      v.Error,
	}
	if !v.Context.Unknown {
		for _, t := range v.Context.Types {
			out.Context = append(out.Context, string(t))
		}
	}
	for _, e := range v.Evidence {
		out.Evidence = append(out.Evidence, jsonEvidence{
			Kind:         string(e.Kind),
			Contribution: e.Contribution,
			Payload:      e.Payload,
			Transform:    e.Transform,
			Match:        e.Match,
		})
	}
	for _, rec := range v.Recommendations {
		out.Recommendations = append(out.Recommendations, jsonRecommendation(rec))
	}
	return out
}
