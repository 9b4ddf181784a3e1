// Package fingerprint infers the target's server, front-end frameworks,
// WAF and security headers from a response. It never sends requests.
package fingerprint

import (
	"net/http"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/0x6d61/xssprobe/internal/engine"
)

// UnknownServer is reported when no server signature matches.
const UnknownServer = "unknown"

// Fingerprinter builds an engine.Environment from response metadata.
type Fingerprinter struct {
	frameworks map[string][]string
	logger     *zap.Logger
}

// New creates a Fingerprinter. A nil frameworks table selects
// DefaultFrameworks.
func New(frameworks map[string][]string, logger *zap.Logger) *Fingerprinter {
	if frameworks == nil {
		frameworks = DefaultFrameworks()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fingerprinter{frameworks: frameworks, logger: logger.Named("fingerprint")}
}

// Fingerprint never fails; fields it cannot determine keep their
// "unknown" or empty defaults.
func (f *Fingerprinter) Fingerprint(headers http.Header, globals []string) engine.Environment {
	env := engine.Environment{
		Server:     detectServer(headers),
		Frameworks: f.detectFrameworks(globals),
		WAF:        detectWAF(headers),
		CSP:        ParseCSP(headers.Get("Content-Security-Policy")),
		Charset:    detectCharset(headers.Get("Content-Type")),
		Security:   detectSecurity(headers),
	}

	fields := []zap.Field{
		zap.String("server", env.Server),
		zap.Strings("frameworks", env.Frameworks),
		zap.String("charset", env.Charset),
	}
	if env.WAF != nil {
		fields = append(fields, zap.String("waf", env.WAF.Name))
	}
	f.logger.Debug("environment fingerprinted", fields...)
	return env
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func detectServer(headers http.Header) string {
	candidates := []string{headers.Get("Server"), headers.Get("X-Powered-By")}
	for _, sig := range serverSignatures {
		for _, value := range candidates {
			for _, m := range sig.markers {
				if value != "" && containsFold(value, m) {
					return sig.name
				}
			}
		}
	}
	return UnknownServer
}

// headerLines renders headers as sorted "Name: value" lines so that WAF
// markers can match either a header name or its value.
func headerLines(headers http.Header) []string {
	var lines []string
	for name, values := range headers {
		for _, v := range values {
			lines = append(lines, name+": "+v)
		}
	}
	sort.Strings(lines)
	return lines
}

func detectWAF(headers http.Header) *engine.WAF {
	lines := headerLines(headers)
	for _, sig := range wafSignatures {
		for _, m := range sig.markers {
			for _, line := range lines {
				if containsFold(line, m) {
					return &engine.WAF{
						Name:             sig.name,
						BypassTechniques: append([]string(nil), sig.bypass...),
					}
				}
			}
		}
	}
	return nil
}

func (f *Fingerprinter) detectFrameworks(globals []string) []string {
	names := make([]string, 0, len(f.frameworks))
	for name := range f.frameworks {
		names = append(names, name)
	}
	sort.Strings(names)

	var found []string
	for _, name := range names {
		if matchesAny(globals, f.frameworks[name]) {
			found = append(found, name)
		}
	}
	return found
}

func matchesAny(globals, markers []string) bool {
	for _, g := range globals {
		lg := strings.ToLower(g)
		for _, m := range markers {
			if m != "" && strings.HasPrefix(lg, strings.ToLower(m)) {
				return true
			}
		}
	}
	return false
}

// ParseCSP splits a Content-Security-Policy value into directives. Only
// directives with at least one source are kept. It returns nil for an
// empty policy.
func ParseCSP(policy string) map[string][]string {
	if strings.TrimSpace(policy) == "" {
		return nil
	}
	directives := make(map[string][]string)
	for _, part := range strings.Split(policy, ";") {
		fields := strings.Fields(part)
		if len(fields) < 2 {
			continue
		}
		directives[strings.ToLower(fields[0])] = fields[1:]
	}
	return directives
}

var charsetParam = regexp.MustCompile(`(?i)charset=([^;]+)`)

func detectCharset(contentType string) string {
	m := charsetParam.FindStringSubmatch(contentType)
	if m == nil {
		return "utf-8"
	}
	cs := strings.ToLower(strings.Trim(strings.TrimSpace(m[1]), `"'`))
	if cs == "" {
		return "utf-8"
	}
	return cs
}

func detectSecurity(headers http.Header) engine.SecurityHeaders {
	var sec engine.SecurityHeaders

	for _, h := range securityHeaders {
		if headers.Get(h) != "" {
			sec.Present = append(sec.Present, h)
		}
	}

	if xss := strings.TrimSpace(headers.Get("X-XSS-Protection")); xss != "" {
		switch {
		case strings.HasPrefix(xss, "0"):
			sec.XSSProtectionMode = "disabled"
		case containsFold(xss, "mode=block"):
			sec.XSSProtection = true
			sec.XSSProtectionMode = "block"
		default:
			sec.XSSProtection = true
			sec.XSSProtectionMode = "filter"
		}
	}

	sec.CSRFToken = headers.Get("X-CSRF-Token") != "" || headers.Get("X-XSRF-Token") != ""
	for _, c := range headers.Values("Set-Cookie") {
		if containsFold(c, "xsrf-token") || containsFold(c, "csrf") {
			sec.CSRFToken = true
		}
	}

	sec.FrameOptions = strings.ToUpper(strings.TrimSpace(headers.Get("X-Frame-Options")))
	sec.ContentTypeOptions = strings.EqualFold(strings.TrimSpace(headers.Get("X-Content-Type-Options")), "nosniff")
	sec.StrictTransport = headers.Get("Strict-Transport-Security") != ""
	return sec
}
