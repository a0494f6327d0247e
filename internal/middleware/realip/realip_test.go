package realip

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func resolve(cfg Config, remote string, headers map[string]string) string {
	var got string
	h := Middleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClientIP(r)
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil)
	req.RemoteAddr = remote
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	h.ServeHTTP(httptest.NewRecorder(), req)
	return got
}

func TestMiddleware(t *testing.T) {
	trusting := Config{TrustProxy: true, TrustedProxies: []string{"10.0.0.0/8", "192.168.1.1"}}

	tests := []struct {
		name    string
		cfg     Config
		remote  string
		headers map[string]string
		want    string
	}{
		{
			name:    "proxy headers ignored when not trusting",
			cfg:     Config{TrustedProxies: []string{"10.0.0.0/8"}},
			remote:  "10.0.0.1:1234",
			headers: map[string]string{"X-Forwarded-For": "203.0.113.9"},
			want:    "10.0.0.1",
		},
		{
			name:    "trusted peer",
			cfg:     trusting,
			remote:  "10.0.0.1:1234",
			headers: map[string]string{"X-Forwarded-For": "203.0.113.9"},
			want:    "203.0.113.9",
		},
		{
			name:    "untrusted peer cannot spoof",
			cfg:     trusting,
			remote:  "198.51.100.7:1234",
			headers: map[string]string{"X-Forwarded-For": "203.0.113.9"},
			want:    "198.51.100.7",
		},
		{
			name:    "nearest untrusted hop wins",
			cfg:     trusting,
			remote:  "10.0.0.1:1234",
			headers: map[string]string{"X-Forwarded-For": "1.1.1.1, 203.0.113.9, 10.0.0.2"},
			want:    "203.0.113.9",
		},
		{
			name:    "all hops trusted",
			cfg:     trusting,
			remote:  "10.0.0.1:1234",
			headers: map[string]string{"X-Forwarded-For": "10.0.0.3, 10.0.0.2"},
			want:    "10.0.0.3",
		},
		{
			name:    "single address entry",
			cfg:     trusting,
			remote:  "192.168.1.1:80",
			headers: map[string]string{"X-Real-IP": "203.0.113.10"},
			want:    "203.0.113.10",
		},
		{
			name:   "no headers",
			cfg:    trusting,
			remote: "10.0.0.1:1234",
			want:   "10.0.0.1",
		},
		{
			name:    "ipv4 mapped peer",
			cfg:     trusting,
			remote:  "[::ffff:10.0.0.1]:1234",
			headers: map[string]string{"X-Forwarded-For": "203.0.113.9"},
			want:    "203.0.113.9",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolve(tt.cfg, tt.remote, tt.headers))
		})
	}
}

func TestClientIP_WithoutMiddleware(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.1:5555"
	assert.Equal(t, "203.0.113.1", ClientIP(req))

	req.RemoteAddr = "203.0.113.1"
	assert.Equal(t, "203.0.113.1", ClientIP(req))
}

func TestNewResolver_SkipsInvalidRanges(t *testing.T) {
	res := newResolver(Config{TrustProxy: true, TrustedProxies: []string{"nonsense", "10.0.0.0/8", " 2001:db8::1 "}})
	assert.Len(t, res.prefixes, 2)
	assert.True(t, res.trusted("10.200.0.1"))
	assert.True(t, res.trusted("2001:db8::1"))
	assert.False(t, res.trusted("2001:db8::2"))
}
