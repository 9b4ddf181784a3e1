package report

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/0x6d61/xssprobe/internal/engine"
)

const (
	doubleLine = "\u2550" // ═
	singleLine = "\u2500" // ─
	lineWidth  = 50
)

// TextReporter outputs plain terminal text.
type TextReporter struct {
	// Verbose controls detail level: 0=findings only, 1=+environment and
	// clean points, 2=+recommendations.
	Verbose int
}

// Format returns "text".
func (r *TextReporter) Format() string {
	return "text"
}

// Generate writes formatted scan results to w.
func (r *TextReporter) Generate(ctx context.Context, result *engine.ScanResult, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b := &strings.Builder{}

	doubleBar := strings.Repeat(doubleLine, lineWidth)
	singleBar := strings.Repeat(singleLine, lineWidth)

	fmt.Fprintln(b, doubleBar)
	fmt.Fprintln(b, "xssprobe - XSS Probe Results")
	fmt.Fprintln(b, doubleBar)

	fmt.Fprintf(b, "Target: %s\n", result.Target.URL)
	fmt.Fprintf(b, "Method: %s\n", methodOf(result.Target))

	env := result.Environment
	if env.Server != "" && env.Server != "unknown" {
		fmt.Fprintf(b, "Server: %s\n", env.Server)
	}
	if env.WAF != nil {
		fmt.Fprintf(b, "WAF:    %s\n", env.WAF.Name)
	}
	if r.Verbose >= 1 && len(env.Frameworks) > 0 {
		fmt.Fprintf(b, "Frameworks: %s\n", strings.Join(env.Frameworks, ", "))
	}

	duration := result.EndTime.Sub(result.StartTime)
	fmt.Fprintf(b, "Duration: %.1fs\n", duration.Seconds())
	fmt.Fprintf(b, "Requests: %d\n", result.RequestCount)

	vulnerable := result.Vulnerable()
	if len(vulnerable) == 0 {
		fmt.Fprintln(b, singleBar)
		fmt.Fprintln(b, "No vulnerabilities found.")
	}
	for _, v := range vulnerable {
		rep := engine.ReportFor(v, result.EndTime)
		fmt.Fprintln(b, singleBar)
		fmt.Fprintf(b, "[%s] %s XSS Found!\n", v.Severity().String(), className(v.VulnClass))
		fmt.Fprintf(b, "  Parameter:  %s (%s)\n", v.Point.Name, v.Point.Kind.String())
		if c := contextNames(v.Context); c != "" {
			fmt.Fprintf(b, "  Context:    %s\n", c)
		}
		fmt.Fprintf(b, "  Payload:    %s\n", rep.Payload)
		fmt.Fprintf(b, "  Transform:  %s\n", rep.PayloadType)
		fmt.Fprintf(b, "  Confidence: %.0f%%\n", v.Confidence*100)
		fmt.Fprintf(b, "  Evidence:   %s\n", rep.Description)
		if r.Verbose >= 2 {
			for _, rec := range v.Recommendations {
				fmt.Fprintf(b, "  Advice:     [%s] %s\n", rec.Level, rec.Message)
			}
		}
	}

	if r.Verbose >= 1 {
		var clean []engine.Verdict
		for _, v := range result.Verdicts {
			if !v.IsVulnerable && v.Error == "" {
				clean = append(clean, v)
			}
		}
		if len(clean) > 0 {
			fmt.Fprintln(b, singleBar)
			fmt.Fprintln(b, "Not vulnerable:")
			for _, v := range clean {
				fmt.Fprintf(b, "  - %s (%s) confidence %.0f%%\n", v.Point.Name, v.Point.Kind.String(), v.Confidence*100)
			}
		}
	}

	if len(result.Errors) > 0 {
		fmt.Fprintln(b, singleBar)
		fmt.Fprintln(b, "Errors:")
		for _, e := range result.Errors {
			fmt.Fprintf(b, "  - %s\n", e.Error())
		}
	}

	fmt.Fprintln(b, doubleBar)
	fmt.Fprintf(b, "Summary: %d of %d injection point(s) vulnerable\n", len(vulnerable), len(result.Verdicts))
	fmt.Fprintln(b, doubleBar)

	_, err := io.WriteString(w, b.String())
	return err
}

func methodOf(t engine.ScanTarget) string {
	if t.Method == "" {
		return "GET"
	}
	return strings.ToUpper(t.Method)
}

// className turns a vulnerability class into a heading word.
func className(class string) string {
	switch class {
	case "reflected":
		return "Reflected"
	case "dom":
		return "DOM-based"
	case "event":
		return "Event handler"
	case "data":
		return "Data URI"
	case "stored":
		return "Stored"
	default:
		return "Possible"
	}
}

func contextNames(c engine.Context) string {
	if c.Unknown || len(c.Types) == 0 {
		return ""
	}
	names := make([]string, len(c.Types))
	for i, t := range c.Types {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}
