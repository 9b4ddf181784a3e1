// Intentionally vulnerable web application for testing xssprobe.
// DO NOT deploy this in any production environment.
package main

import (
	"fmt"
	"html"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
)

// guestbook keeps posted comments in memory, unescaped.
var guestbook struct {
	sync.Mutex
	entries []string
}

func main() {
	addr := os.Getenv("ADDR")
	if addr == "" {
		addr = ":8080"
	}

	// Vulnerable endpoints
	http.HandleFunc("/search", searchHandler)
	http.HandleFunc("/profile", profileHandler)
	http.HandleFunc("/guestbook", guestbookHandler)
	http.HandleFunc("/dom", domHandler)

	// Safe endpoint (escaped output)
	http.HandleFunc("/safe/search", safeSearchHandler)

	// Health check
	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		fmt.Fprint(w, "OK")
	})

	// Index
	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<!DOCTYPE html>
<html><head><title>Vulnerable Test App</title></head>
<body>
<h1>xssprobe Test Server</h1>
<p>WARNING: This is an intentionally vulnerable application for testing only.</p>
<h2>Reflected</h2>
<ul>
<li><a href="/search?q=widget">/search?q=widget</a> - Search, reflected as text</li>
<li><a href="/profile?name=alice">/profile?name=alice</a> - Profile, reflected into an attribute</li>
</ul>
<h2>Stored</h2>
<ul>
<li><a href="/guestbook">/guestbook</a> - Guestbook (POST: comment)</li>
</ul>
<h2>DOM</h2>
<ul>
<li><a href="/dom?q=widget">/dom?q=widget</a> - Script string passed to document.write</li>
</ul>
<h2>Safe</h2>
<ul>
<li><a href="/safe/search?q=widget">/safe/search?q=widget</a></li>
</ul>
</body></html>`)
	})

	log.Printf("Vulnerable test server starting on %s", addr)
	log.Fatal(http.ListenAndServe(addr, nil))
}

// ==================== Vulnerable Handlers ====================

func searchHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	w.Header().Set("Content-Type", "text/html")
	// VULNERABLE: query echoed without escaping
	fmt.Fprintf(w, "<html><body><h1>Search</h1><p>Results for %s</p></body></html>", q)
}

func profileHandler(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	w.Header().Set("Content-Type", "text/html")
	// VULNERABLE: value placed inside a quoted attribute without escaping
	fmt.Fprintf(w, `<html><body><h1>Profile</h1><form><input type="text" name="name" value="%s"></form></body></html>`, name)
}

func guestbookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", 400)
			return
		}
		if c := r.PostForm.Get("comment"); c != "" {
			guestbook.Lock()
			guestbook.entries = append(guestbook.entries, c)
			guestbook.Unlock()
		}
	}

	guestbook.Lock()
	entries := append([]string(nil), guestbook.entries...)
	guestbook.Unlock()

	w.Header().Set("Content-Type", "text/html")
	fmt.Fprint(w, `<html><body><h1>Guestbook</h1>
<form method="post" action="/guestbook"><textarea name="comment"></textarea><input type="submit" value="Sign"></form>
<ul>`)
	for _, e := range entries {
		// VULNERABLE: stored comment rendered raw
		fmt.Fprintf(w, "<li>%s</li>", e)
	}
	fmt.Fprint(w, "</ul></body></html>")
}

func domHandler(w http.ResponseWriter, r *http.Request) {
	q := strings.NewReplacer("<", "", ">", "").Replace(r.URL.Query().Get("q"))
	w.Header().Set("Content-Type", "text/html")
	// VULNERABLE: attacker-controlled string written by document.write
	fmt.Fprintf(w, `<html><body><script>var q = "%s"; document.write(q);</script></body></html>`, q)
}

// ==================== Safe Handlers ====================

func safeSearchHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	w.Header().Set("Content-Type", "text/html")
	fmt.Fprintf(w, "<html><body><h1>Search</h1><p>Results for %s</p></body></html>", html.EscapeString(q))
}
