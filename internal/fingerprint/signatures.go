package fingerprint

// signature maps a product name to the substrings that reveal it.
type signature struct {
	name    string
	markers []string
}

// serverSignatures is matched against the Server and X-Powered-By headers.
var serverSignatures = []signature{
	{"apache", []string{"Apache"}},
	{"nginx", []string{"nginx"}},
	{"iis", []string{"IIS", "ASP.NET"}},
	{"tomcat", []string{"Tomcat", "JSP"}},
	{"jetty", []string{"Jetty"}},
}

// wafSignature identifies a firewall and the bypass techniques known to
// work against it, in the order they should be tried.
type wafSignature struct {
	signature
	bypass []string
}

// wafSignatures is matched against every "Name: value" header line.
var wafSignatures = []wafSignature{
	{signature{"modsecurity", []string{"mod_security", "ModSecurity", "NOYB"}},
		[]string{"encoding", "obfuscation", "splitting"}},
	{signature{"cloudflare", []string{"cloudflare", "cf-ray"}},
		[]string{"encoding", "obfuscation", "splitting", "chunked"}},
	{signature{"aws", []string{"AWS WAF", "x-amzn-RequestId", "x-amz-cf-id"}},
		[]string{"encoding", "obfuscation", "splitting", "chunked"}},
	{signature{"akamai", []string{"AkamaiGHost", "Akamai-Origin-Hop", "Akamai"}},
		[]string{"encoding", "obfuscation", "splitting", "chunked"}},
}

// DefaultFrameworks returns the built-in framework marker table. Markers
// are compared as case-insensitive prefixes of page globals.
func DefaultFrameworks() map[string][]string {
	return map[string][]string{
		"vue":         {"__VUE__", "vue", "v-app", "data-v-"},
		"react":       {"__REACT_DEVTOOLS_GLOBAL_HOOK__", "react", "data-reactroot"},
		"angular":     {"angular", "ng-", "data-ng-"},
		"svelte":      {"__svelte", "svelte-"},
		"jquery":      {"jquery"},
		"bootstrap":   {"bootstrap"},
		"materialize": {"materialize"},
	}
}

// securityHeaders are reported in Environment.Security.Present.
var securityHeaders = []string{
	"X-XSS-Protection",
	"X-Frame-Options",
	"X-Content-Type-Options",
	"Content-Security-Policy",
	"Strict-Transport-Security",
}

// blacklists holds the character sequences each server is known to
// mangle or reject; variants containing them are not worth sending.
var blacklists = map[string][]string{
	"apache": {"..", "<!--"},
	"nginx":  {"$", `\`},
	"iis":    {"..", `\`},
}

// Blacklist returns the sequences to avoid for server, or nil.
func Blacklist(server string) []string {
	return blacklists[server]
}
