// Package scope decides which hosts, paths, methods and parameters may be
// probed. Anything not matched by a target is out of scope.
package scope

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/0x6d61/xssprobe/internal/engine"
)

// Parameters filters parameter names. "*" in Include matches every name.
type Parameters struct {
	Include []string `mapstructure:"include" yaml:"include"`
	Exclude []string `mapstructure:"exclude" yaml:"exclude"`
}

// DefaultParameters includes everything except common session and CSRF
// token names.
func DefaultParameters() Parameters {
	return Parameters{Include: []string{"*"}, Exclude: []string{"token", "session"}}
}

// Target is one allow-listed site.
type Target struct {
	Domain            string     `mapstructure:"domain" yaml:"domain"`
	IncludeSubdomains bool       `mapstructure:"include_subdomains" yaml:"include_subdomains"`
	Paths             []string   `mapstructure:"paths" yaml:"paths"`
	ExcludePaths      []string   `mapstructure:"exclude_paths" yaml:"exclude_paths"`
	Methods           []string   `mapstructure:"methods" yaml:"methods"`
	Parameters        Parameters `mapstructure:"parameters" yaml:"parameters"`
}

// TargetFor derives a target from a URL. With includeSubdomains the
// target covers the registrable domain (eTLD+1) of the host; IP
// addresses and single-label hosts are used as is.
func TargetFor(rawURL string, includeSubdomains bool) (Target, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Target{}, fmt.Errorf("scope: %w", err)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return Target{}, fmt.Errorf("scope: URL has no host: %s", rawURL)
	}

	domain := host
	if includeSubdomains && net.ParseIP(host) == nil && strings.Contains(host, ".") {
		if root, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
			domain = root
		}
	}
	return Target{
		Domain:            domain,
		IncludeSubdomains: includeSubdomains,
		Parameters:        DefaultParameters(),
	}, nil
}

// Scope is an immutable allow-list.
type Scope struct {
	targets []Target
}

// New creates a Scope. An empty target list allows nothing.
func New(targets []Target) *Scope {
	cp := make([]Target, len(targets))
	for i, t := range targets {
		t.Domain = normalizeDomain(t.Domain)
		cp[i] = t
	}
	return &Scope{targets: cp}
}

// Targets returns a copy of the allow-list.
func (s *Scope) Targets() []Target {
	return append([]Target(nil), s.targets...)
}

// Check returns nil when a request of method to rawURL touching param
// is allowed by some target. An empty param skips the parameter filter.
// Denials wrap engine.ErrOutOfScope.
func (s *Scope) Check(rawURL, method, param string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", engine.ErrOutOfScope, err)
	}
	host := strings.ToLower(u.Hostname())
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}

	reason := "no target matches host " + host
	for _, t := range s.targets {
		if !t.matchesHost(host) {
			continue
		}
		switch {
		case !t.matchesPath(path):
			reason = "path " + path + " excluded"
		case !matchesMethod(t.Methods, method):
			reason = "method " + method + " not allowed"
		case param != "" && !t.Parameters.matches(param):
			reason = "parameter " + param + " excluded"
		default:
			return nil
		}
	}
	return fmt.Errorf("%w: %s", engine.ErrOutOfScope, reason)
}

// CheckPoint applies Check to an injection point's request.
func (s *Scope) CheckPoint(p engine.InjectionPoint) error {
	return s.Check(p.Target.URL, p.Target.Method, p.Name)
}

// Allows is Check reduced to a boolean.
func (s *Scope) Allows(rawURL, method, param string) bool {
	return s.Check(rawURL, method, param) == nil
}

func normalizeDomain(d string) string {
	d = strings.ToLower(strings.TrimSpace(d))
	d = strings.TrimPrefix(d, "*.")
	d = strings.TrimPrefix(d, ".")
	if h, _, err := net.SplitHostPort(d); err == nil {
		d = h
	}
	return d
}

// matchesHost accepts the domain itself and, when enabled, hosts ending
// in "." plus the domain. A bare suffix such as "evilexample.com" never
// matches "example.com".
func (t Target) matchesHost(host string) bool {
	if t.Domain == "" {
		return false
	}
	if host == t.Domain {
		return true
	}
	return t.IncludeSubdomains && strings.HasSuffix(host, "."+t.Domain)
}

func (t Target) matchesPath(path string) bool {
	for _, ex := range t.ExcludePaths {
		if ex != "" && strings.HasPrefix(path, ex) {
			return false
		}
	}
	if len(t.Paths) == 0 {
		return true
	}
	for _, p := range t.Paths {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func matchesMethod(methods []string, method string) bool {
	if len(methods) == 0 {
		return true
	}
	if method == "" {
		method = "GET"
	}
	for _, m := range methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

func (p Parameters) matches(name string) bool {
	for _, ex := range p.Exclude {
		if strings.EqualFold(ex, name) {
			return false
		}
	}
	if len(p.Include) == 0 {
		return true
	}
	for _, in := range p.Include {
		if in == "*" || strings.EqualFold(in, name) {
			return true
		}
	}
	return false
}
