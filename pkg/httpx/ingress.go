package httpx

import (
	"net/http"
	"strings"
)

// Canonicalize rewrites recognised path variants onto one route before the
// router sees them. Repeated slashes and a trailing slash are dropped first,
// so "//webhook/pix/" and "/webhook/pix" hit the same alias entry.
func Canonicalize(aliases map[string]string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := CleanPath(r.URL.Path)
			if to, ok := aliases[p]; ok {
				p = to
			}
			if p != r.URL.Path {
				r.URL.Path = p
				r.URL.RawPath = ""
			}
			next.ServeHTTP(w, r)
		})
	}
}

func CleanPath(p string) string {
	if p == "" {
		return "/"
	}
	var b strings.Builder
	b.Grow(len(p))
	prevSlash := false
	for i := 0; i < len(p); i++ {
		c := p[i]
		if c == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteByte(c)
	}
	out := b.String()
	if len(out) > 1 {
		out = strings.TrimSuffix(out, "/")
	}
	if !strings.HasPrefix(out, "/") {
		out = "/" + out
	}
	return out
}

// MergeAliases combines alias tables; later tables win.
func MergeAliases(tables ...map[string]string) map[string]string {
	out := map[string]string{}
	for _, t := range tables {
		for k, v := range t {
			out[k] = v
		}
	}
	return out
}
