package engine

import (
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/google/uuid"
)

// NewToken returns a short uniqueness token that survives the encodings
// applied by the variant generator unchanged (lowercase alphanumerics only).
func NewToken() string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	return "xp" + id[:10]
}

// Inject returns a copy of the point's target with value placed at the
// injection location.
func (p InjectionPoint) Inject(value string) ScanTarget {
	t := cloneTarget(p.Target)

	switch p.Kind {
	case KindPathSegment:
		t.URL = injectPath(t.URL, p.Index, value)
	case KindFormField, KindHiddenField:
		if strings.EqualFold(t.Method, http.MethodPost) || t.Body != "" {
			t.Body = setFormValue(t.Body, p.Name, value)
			if t.ContentType == "" {
				t.ContentType = "application/x-www-form-urlencoded"
			}
		} else {
			t.URL = setQueryValue(t.URL, p.Name, value)
		}
	default:
		t.URL = setQueryValue(t.URL, p.Name, value)
	}
	return t
}

func setQueryValue(rawURL, name, value string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Set(name, value)
	u.RawQuery = q.Encode()
	return u.String()
}

func setFormValue(body, name, value string) string {
	values, err := url.ParseQuery(body)
	if err != nil {
		values = url.Values{}
	}
	values.Set(name, value)
	return values.Encode()
}

// injectPath appends value to path segment i. When the segment is the final
// file name, value goes before the extension.
func injectPath(rawURL string, i int, value string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	segs := strings.Split(strings.TrimPrefix(u.EscapedPath(), "/"), "/")
	if i < 0 || i >= len(segs) {
		return rawURL
	}

	seg := segs[i]
	ext := ""
	if i == len(segs)-1 {
		ext = path.Ext(seg)
		seg = strings.TrimSuffix(seg, ext)
	}
	segs[i] = seg + url.PathEscape(value) + ext

	escaped := "/" + strings.Join(segs, "/")
	unescaped, err := url.PathUnescape(escaped)
	if err != nil {
		return rawURL
	}
	u.Path = unescaped
	u.RawPath = escaped
	return u.String()
}

func cloneTarget(t ScanTarget) ScanTarget {
	out := t
	if t.Headers != nil {
		out.Headers = make(map[string]string, len(t.Headers))
		for k, v := range t.Headers {
			out.Headers[k] = v
		}
	}
	if t.Cookies != nil {
		out.Cookies = make(map[string]string, len(t.Cookies))
		for k, v := range t.Cookies {
			out.Cookies[k] = v
		}
	}
	return out
}
