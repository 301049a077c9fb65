package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/getmockd/gqlgateway/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCORSMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	tests := []struct {
		name        string
		cfg         config.CORSConfig
		method      string
		origin      string
		preflight   bool
		wantStatus  int
		wantOrigin  string
		wantCreds   string
		wantMethods string
	}{
		{
			name:        "wildcard preflight",
			cfg:         config.Default().Server.CORS,
			method:      http.MethodOptions,
			origin:      "https://app.example",
			preflight:   true,
			wantStatus:  http.StatusNoContent,
			wantOrigin:  "*",
			wantMethods: "GET, POST, OPTIONS",
		},
		{
			name:        "listed origin is echoed",
			cfg:         config.CORSConfig{AllowedOrigins: []string{"https://app.example"}},
			method:      http.MethodPost,
			origin:      "https://app.example",
			wantStatus:  http.StatusTeapot,
			wantOrigin:  "https://app.example",
			wantMethods: "GET, POST, OPTIONS",
		},
		{
			name:       "unlisted origin gets no headers",
			cfg:        config.CORSConfig{AllowedOrigins: []string{"https://app.example"}},
			method:     http.MethodOptions,
			origin:     "https://evil.example",
			preflight:  true,
			wantStatus: http.StatusTeapot,
		},
		{
			name:        "credentials echo the origin",
			cfg:         config.CORSConfig{AllowedOrigins: []string{"*"}, AllowCredentials: true},
			method:      http.MethodGet,
			origin:      "https://app.example",
			wantStatus:  http.StatusTeapot,
			wantOrigin:  "https://app.example",
			wantCreds:   "true",
			wantMethods: "GET, POST, OPTIONS",
		},
		{
			name:       "same origin request",
			cfg:        config.Default().Server.CORS,
			method:     http.MethodPost,
			wantStatus: http.StatusTeapot,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			rec := httptest.NewRecorder()
			newCORSMiddleware(next, tt.cfg).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, tt.wantCreds, rec.Header().Get("Access-Control-Allow-Credentials"))
			assert.Equal(t, tt.wantMethods, rec.Header().Get("Access-Control-Allow-Methods"))
			assert.Equal(t, "Origin", rec.Header().Get("Vary"))
		})
	}
}

func TestServer_CORSPreflight(t *testing.T) {
	_, base, _ := startServer(t, testConfig())

	req, err := http.NewRequest(http.MethodOptions, base+"/", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "content-type")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, OPTIONS", resp.Header.Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type, Authorization", resp.Header.Get("Access-Control-Allow-Headers"))
	assert.Equal(t, "86400", resp.Header.Get("Access-Control-Max-Age"))

	cross, _ := postQuery(t, base, `{ version }`, http.Header{"Origin": {"https://app.example"}})
	assert.Equal(t, "*", cross.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "X-TraceId", cross.Header.Get("Access-Control-Expose-Headers"))
}

func TestServer_CORSDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Server.CORS.Enabled = false
	_, base, _ := startServer(t, cfg)

	req, err := http.NewRequest(http.MethodOptions, base+"/", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}
