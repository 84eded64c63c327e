// Package server provides HTTP middleware shared by walscope's listeners:
// origin checks, CORS and response security headers.
package server

import (
	"net/http"
	"strings"
)

// OriginAllowed reports whether origin matches one of allowed. Entries may be
// an exact origin, "*", or a wildcard host suffix such as "*.example.com".
// An empty origin never matches.
func OriginAllowed(origin string, allowed []string) bool {
	if origin == "" {
		return false
	}
	for _, a := range allowed {
		switch {
		case a == "*", a == origin:
			return true
		case strings.HasPrefix(a, "*.") && strings.HasSuffix(origin, a[1:]):
			return true
		}
	}
	return false
}

// CSPConfig holds Content-Security-Policy directives.
type CSPConfig struct {
	DefaultSrc     []string
	ConnectSrc     []string
	FrameAncestors []string
	BaseURI        []string
	FormAction     []string
}

// APICSPConfig returns a policy for endpoints that only serve JSON and
// WebSocket traffic.
func APICSPConfig() CSPConfig {
	return CSPConfig{
		DefaultSrc:     []string{"'none'"},
		ConnectSrc:     []string{"'self'"},
		FrameAncestors: []string{"'none'"},
		BaseURI:        []string{"'none'"},
		FormAction:     []string{"'none'"},
	}
}

// Header builds the Content-Security-Policy header value.
func (cfg CSPConfig) Header() string {
	var directives []string
	add := func(name string, values []string) {
		if len(values) > 0 {
			directives = append(directives, name+" "+strings.Join(values, " "))
		}
	}
	add("default-src", cfg.DefaultSrc)
	add("connect-src", cfg.ConnectSrc)
	add("frame-ancestors", cfg.FrameAncestors)
	add("base-uri", cfg.BaseURI)
	add("form-action", cfg.FormAction)
	return strings.Join(directives, "; ")
}

// SecurityHeaders adds standard security headers and the CSP from cfg.
func SecurityHeaders(cfg CSPConfig, next http.Handler) http.Handler {
	csp := cfg.Header()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cache-Control", "no-store")
		if csp != "" {
			h.Set("Content-Security-Policy", csp)
		}
		next.ServeHTTP(w, r)
	})
}

// CORSConfig holds CORS middleware configuration.
type CORSConfig struct {
	// AllowedOrigins lists origins allowed to read responses. Empty means
	// no cross-origin access is granted.
	AllowedOrigins []string
}

// CORS grants cross-origin read access to allowed origins. Preflight
// requests from other origins are refused; their simple requests are served
// without CORS headers, so browsers block the response.
func CORS(cfg CORSConfig, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if !OriginAllowed(origin, cfg.AllowedOrigins) {
			if r.Method == http.MethodOptions && origin != "" {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
		h.Add("Vary", "Origin")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
