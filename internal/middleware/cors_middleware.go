package middleware

import (
	"net/http"
	"strings"
)

// OriginPolicy is the browser origin allow-list shared by CORS and the
// websocket handshake.
type OriginPolicy struct {
	origins  map[string]bool
	wildcard bool
}

// NewOriginPolicy parses a comma separated origin list. "*" admits every
// origin.
func NewOriginPolicy(allowedOrigins string) *OriginPolicy {
	p := &OriginPolicy{origins: make(map[string]bool)}
	for _, o := range strings.Split(allowedOrigins, ",") {
		o = strings.TrimSpace(o)
		if o == "*" {
			p.wildcard = true
		} else if o != "" {
			p.origins[o] = true
		}
	}
	return p
}

// Listed reports whether origin is named explicitly.
func (p *OriginPolicy) Listed(origin string) bool {
	return origin != "" && p.origins[origin]
}

func (p *OriginPolicy) Allows(origin string) bool {
	return p.wildcard || p.Listed(origin)
}

// CORSMiddleware answers preflight requests from the UI origin. With an
// explicit origin list, credentials are allowed; a wildcard never carries
// them.
func CORSMiddleware(allowedOrigins, allowedMethods, allowedHeaders string) func(http.Handler) http.Handler {
	policy := NewOriginPolicy(allowedOrigins)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			switch {
			case policy.Listed(origin):
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Add("Vary", "Origin")
			case policy.wildcard:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			}

			w.Header().Set("Access-Control-Allow-Methods", allowedMethods)
			w.Header().Set("Access-Control-Allow-Headers", allowedHeaders)
			w.Header().Set("Access-Control-Max-Age", "3600")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
