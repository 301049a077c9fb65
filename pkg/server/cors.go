package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/getmockd/gqlgateway/pkg/config"
)

// corsMiddleware adds CORS headers to every route and answers preflight
// requests itself.
type corsMiddleware struct {
	handler http.Handler
	config  config.CORSConfig
}

func newCORSMiddleware(handler http.Handler, cfg config.CORSConfig) *corsMiddleware {
	return &corsMiddleware{handler: handler, config: cfg}
}

func (m *corsMiddleware) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	w.Header().Add("Vary", "Origin")

	allowOrigin := m.allowOrigin(origin)
	if allowOrigin == "" {
		// Disallowed origins are still served; the browser blocks the response.
		m.handler.ServeHTTP(w, r)
		return
	}

	w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
	w.Header().Set("Access-Control-Allow-Methods", joinOr(m.config.AllowedMethods, "GET, POST, OPTIONS"))
	w.Header().Set("Access-Control-Allow-Headers", joinOr(m.config.AllowedHeaders, "Content-Type, Authorization"))
	w.Header().Set("Access-Control-Expose-Headers", "X-TraceId")
	if m.config.MaxAge > 0 {
		w.Header().Set("Access-Control-Max-Age", strconv.Itoa(m.config.MaxAge))
	}
	if m.config.AllowCredentials {
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	}

	if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	m.handler.ServeHTTP(w, r)
}

func (m *corsMiddleware) allowed(origin string) bool {
	if len(m.config.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range m.config.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// allowOrigin returns the Access-Control-Allow-Origin value for origin, or
// "" when it is not allowed. With credentials the origin is echoed, never *.
func (m *corsMiddleware) allowOrigin(origin string) string {
	if origin == "" || !m.allowed(origin) {
		return ""
	}
	if m.config.AllowCredentials {
		return origin
	}
	for _, o := range m.config.AllowedOrigins {
		if o == "*" {
			return "*"
		}
	}
	if len(m.config.AllowedOrigins) == 0 {
		return "*"
	}
	return origin
}

func joinOr(values []string, fallback string) string {
	if len(values) == 0 {
		return fallback
	}
	return strings.Join(values, ", ")
}
