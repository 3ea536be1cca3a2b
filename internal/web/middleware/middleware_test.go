package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/bulkcsv/internal/config"
	"github.com/JonMunkholm/bulkcsv/internal/core"
)

// echoUser responds with the acting user and client IP from the context.
var echoUser = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte(core.UserFromContext(r.Context()) + "@" + core.IPAddressFromContext(r.Context())))
})

func serve(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func TestAPIKeyAuth(t *testing.T) {
	cfg := &config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"ann:k1", "k2"}}
	h := APIKeyAuth(cfg)(echoUser)

	tests := []struct {
		name   string
		key    string
		status int
		body   string
	}{
		{"missing", "", http.StatusUnauthorized, ""},
		{"invalid", "nope", http.StatusForbidden, ""},
		{"named key", "k1", http.StatusOK, "ann@"},
		{"bare key", "k2", http.StatusOK, "api-key-2@"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/types", nil)
			if tt.key != "" {
				req.Header.Set("X-API-Key", tt.key)
			}
			rec := serve(h, req)
			assert.Equal(t, tt.status, rec.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, rec.Body.String())
			}
		})
	}
}

func TestAPIKeyAuth_Optional(t *testing.T) {
	cfg := &config.SecurityConfig{APIKeys: []string{"ann:k1"}}
	h := APIKeyAuth(cfg)(echoUser)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "anonymous@", rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-API-Key", "k1")
	assert.Equal(t, "ann@", serve(h, req).Body.String())
}

func TestParseAPIKeys(t *testing.T) {
	keys := parseAPIKeys([]string{"ann: k1", "", "bob:", "k3"})
	require.Len(t, keys, 2)
	assert.Equal(t, "ann", keys[0].name)
	assert.Equal(t, []byte("k1"), keys[0].key)
	assert.Equal(t, "api-key-4", keys[1].name)
}

func TestTrustedRealIP(t *testing.T) {
	h := TrustedRealIP([]string{"10.0.0.0/8", "127.0.0.1", "not-a-cidr"})(echoUser)

	tests := []struct {
		name   string
		remote string
		header map[string]string
		want   string
	}{
		{"untrusted ignores headers", "203.0.113.5:4000", map[string]string{"X-Real-IP": "1.2.3.4"}, "203.0.113.5"},
		{"trusted uses X-Real-IP", "10.1.2.3:4000", map[string]string{"X-Real-IP": "1.2.3.4"}, "1.2.3.4"},
		{"trusted uses first forwarded", "127.0.0.1:4000", map[string]string{"X-Forwarded-For": "5.6.7.8, 10.0.0.1"}, "5.6.7.8"},
		{"invalid header ignored", "10.1.2.3:4000", map[string]string{"X-Real-IP": "garbage"}, "10.1.2.3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			assert.Equal(t, "anonymous@"+tt.want, serve(h, req).Body.String())
		})
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	h := Logger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("missing"))
	}))
	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/csv/Nope", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "status=404")
	assert.Contains(t, out, "bytes=7")
	assert.Contains(t, out, "path=/api/csv/Nope")
}

func TestResponseWriter_Flushes(t *testing.T) {
	rec := httptest.NewRecorder()
	ww := &responseWriter{ResponseWriter: rec, status: http.StatusOK}

	require.NoError(t, http.NewResponseController(ww).Flush())
	assert.True(t, rec.Flushed)
}

func TestParseProxies(t *testing.T) {
	proxies := parseProxies([]string{" 10.0.0.0/8 ", "192.168.1.7", "::1", "", "bogus"})
	assert.Len(t, proxies, 3)

	for _, tt := range []struct {
		addr string
		want bool
	}{
		{"10.200.0.1", true},
		{"192.168.1.7", true},
		{"192.168.1.8", false},
		{"::1", true},
		{"::ffff:10.0.0.5", true},
	} {
		addr, ok := remoteAddr(tt.addr)
		assert.True(t, ok, tt.addr)
		assert.Equal(t, tt.want, trusted(addr, proxies), tt.addr)
	}
}
