// Package testutil provides a mock web application with known cross-site
// scripting behaviour for integration tests of the probe engine.
//
// SECURITY NOTE: This package is for testing only. Several endpoints
// deliberately write request input into responses unescaped.
package testutil

import (
	"fmt"
	"html/template"
	"net/http"
	"net/http/httptest"
	"strings"
)

// Paths served by NewVulnServer.
const (
	PathIndex   = "/"
	PathReflect = "/reflect"
	PathEscaped = "/escaped"
	PathDOM     = "/dom"
	PathWAF     = "/waf"
	PathPost    = "/post"
	PathStatic  = "/path/"
)

// Static pages and the escaping endpoint go through html/template.
var tmplMap = template.Must(template.New("").Parse(`
{{define "index"}}<html><head><title>Shop</title></head><body>
<h1>Shop</h1>
<a href="/reflect?q=shoes">Search shoes</a>
<form action="/post" method="post">
<input type="text" name="comment" value="">
<input type="hidden" name="csrf" value="t0k3n">
<input type="submit" value="Send">
</form>
</body></html>{{end}}
{{define "escaped"}}<html><body><h1>Search</h1><p>Results for {{.}}</p></body></html>{{end}}
{{define "post-form"}}<html><body><form method="post"><textarea name="comment"></textarea></form></body></html>{{end}}
`))

// NewVulnServer creates a mock HTTP server simulating an application with
// a mix of vulnerable and safe endpoints. The returned *httptest.Server
// should be closed after use.
func NewVulnServer() *httptest.Server {
	mux := http.NewServeMux()

	mux.HandleFunc(PathIndex, handleIndex)
	mux.HandleFunc(PathReflect, handleReflect)
	mux.HandleFunc(PathEscaped, handleEscaped)
	mux.HandleFunc(PathDOM, handleDOM)
	mux.HandleFunc(PathWAF, handleWAF)
	mux.HandleFunc(PathPost, handlePost)
	mux.HandleFunc(PathStatic, handleStatic)

	return httptest.NewServer(mux)
}

// execTemplate renders a named template with optional data to the ResponseWriter.
func execTemplate(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	tmplMap.ExecuteTemplate(w, name, data) //nolint:errcheck
}

// writeRaw writes an HTML page with s embedded verbatim.
func writeRaw(w http.ResponseWriter, format, s string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, format, s)
}

// handleIndex serves a landing page with a link and a form. Any other
// path not claimed by a more specific route is a 404.
func handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != PathIndex {
		http.NotFound(w, r)
		return
	}
	execTemplate(w, "index", nil)
}

// handleReflect writes q into the page unescaped.
//
// GET /reflect?q=X
func handleReflect(w http.ResponseWriter, r *http.Request) {
	writeRaw(w, "<html><body><h1>Search</h1><p>Results for %s</p></body></html>", r.URL.Query().Get("q"))
}

// handleEscaped writes q HTML-escaped.
//
// GET /escaped?q=X
func handleEscaped(w http.ResponseWriter, r *http.Request) {
	execTemplate(w, "escaped", r.URL.Query().Get("q"))
}

// handleDOM places q into a script string consumed by document.write,
// after removing angle brackets.
//
// GET /dom?q=X
func handleDOM(w http.ResponseWriter, r *http.Request) {
	q := strings.NewReplacer("<", "", ">", "").Replace(r.URL.Query().Get("q"))
	w.Header().Set("Content-Type", "application/javascript")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "var q = \"%s\"; document.write(q);", q)
}

// handleWAF sits behind a simulated Cloudflare edge that rejects any
// request whose query contains a script tag. Other input is reflected.
//
// GET /waf?q=X
func handleWAF(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Server", "cloudflare")
	w.Header().Set("CF-Ray", "8a1b2c3d4e5f-AMS")

	q := r.URL.Query().Get("q")
	if strings.Contains(strings.ToLower(q), "<script") {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, "<html><body><h1>Access denied</h1></body></html>")
		return
	}
	writeRaw(w, "<html><body><p>You searched for %s</p></body></html>", q)
}

// handlePost reflects the submitted comment unescaped.
//
// GET  /post: comment form
// POST /post (comment=X): "Thanks for X"
func handlePost(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		execTemplate(w, "post-form", nil)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	writeRaw(w, "<html><body><p>Thanks for %s</p></body></html>", r.PostForm.Get("comment"))
}

// handleStatic serves pseudo-static category pages and reflects the
// category segment unescaped.
//
// GET /path/{category}/page.html
func handleStatic(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, PathStatic)
	category, ok := strings.CutSuffix(rest, "/page.html")
	if !ok || category == "" {
		http.NotFound(w, r)
		return
	}
	writeRaw(w, "<html><body><h1>Category</h1><p>Browsing %s</p></body></html>", category)
}
