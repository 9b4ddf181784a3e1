package testutil

import (
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
)

func get(t *testing.T, rawURL string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(rawURL)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

func TestVulnServer_Index(t *testing.T) {
	srv := NewVulnServer()
	defer srv.Close()

	resp, body := get(t, srv.URL+"/")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	for _, want := range []string{`action="/post"`, `name="comment"`, `type="hidden"`, `/reflect?q=shoes`} {
		if !strings.Contains(body, want) {
			t.Errorf("index missing %q", want)
		}
	}

	if resp, _ := get(t, srv.URL+"/missing"); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown path status = %d, want 404", resp.StatusCode)
	}
}

func TestVulnServer_Reflect(t *testing.T) {
	srv := NewVulnServer()
	defer srv.Close()

	_, body := get(t, srv.URL+"/reflect?q="+url.QueryEscape("<script>alert(1)</script>"))
	if !strings.Contains(body, "<script>alert(1)</script>") {
		t.Errorf("input not reflected raw, got: %s", body)
	}
}

func TestVulnServer_Escaped(t *testing.T) {
	srv := NewVulnServer()
	defer srv.Close()

	_, body := get(t, srv.URL+"/escaped?q="+url.QueryEscape("<script>alert(1)</script>"))
	if strings.Contains(body, "<script>") {
		t.Errorf("input reflected unescaped, got: %s", body)
	}
	if !strings.Contains(body, "&lt;script&gt;") {
		t.Errorf("escaped input missing, got: %s", body)
	}
}

func TestVulnServer_DOM(t *testing.T) {
	srv := NewVulnServer()
	defer srv.Close()

	resp, body := get(t, srv.URL+"/dom?q="+url.QueryEscape("<b>hi</b>"))
	if ct := resp.Header.Get("Content-Type"); ct != "application/javascript" {
		t.Errorf("Content-Type = %q", ct)
	}
	if body != `var q = "bhi/b"; document.write(q);` {
		t.Errorf("body = %q", body)
	}
}

func TestVulnServer_WAF(t *testing.T) {
	srv := NewVulnServer()
	defer srv.Close()

	resp, _ := get(t, srv.URL+"/waf?q="+url.QueryEscape("<SCRIPT>alert(1)</SCRIPT>"))
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
	if resp.Header.Get("Server") != "cloudflare" || resp.Header.Get("CF-Ray") == "" {
		t.Errorf("edge headers missing: %v", resp.Header)
	}

	resp, body := get(t, srv.URL+"/waf?q="+url.QueryEscape("<img src=x>"))
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, "<img src=x>") {
		t.Errorf("non-script input: status %d, body %s", resp.StatusCode, body)
	}
}

func TestVulnServer_Post(t *testing.T) {
	srv := NewVulnServer()
	defer srv.Close()

	resp, err := http.PostForm(srv.URL+"/post", url.Values{"comment": {"<i>x</i>"}})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "Thanks for <i>x</i>") {
		t.Errorf("comment not reflected, got: %s", body)
	}

	_, form := get(t, srv.URL+"/post")
	if !strings.Contains(form, "<textarea") {
		t.Errorf("GET /post did not serve the form, got: %s", form)
	}
}

func TestVulnServer_Static(t *testing.T) {
	srv := NewVulnServer()
	defer srv.Close()

	_, body := get(t, srv.URL+"/path/shoes/page.html")
	if !strings.Contains(body, "Browsing shoes") {
		t.Errorf("category not reflected, got: %s", body)
	}

	resp, _ := get(t, srv.URL+"/path/shoes/other.html")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
