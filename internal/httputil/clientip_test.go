package httputil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		expected   string
	}{
		{"direct ipv4", "203.0.113.5:4312", nil, "203.0.113.5"},
		{"direct ipv6", "[2001:db8::1]:4312", nil, "2001:db8::1"},
		{"no port", "203.0.113.5", nil, "203.0.113.5"},
		{"bracketed without port", "[2001:db8::1]", nil, "2001:db8::1"},
		{
			"forwarded header from public peer is ignored",
			"203.0.113.5:4312",
			map[string]string{"X-Forwarded-For": "198.51.100.7"},
			"203.0.113.5",
		},
		{
			"forwarded chain behind local proxy",
			"127.0.0.1:5000",
			map[string]string{"X-Forwarded-For": "198.51.100.7, 10.0.0.2"},
			"198.51.100.7",
		},
		{
			"forwarded ipv6 behind private proxy",
			"10.0.0.2:5000",
			map[string]string{"X-Forwarded-For": "2001:db8::2"},
			"2001:db8::2",
		},
		{
			"real ip behind loopback proxy",
			"[::1]:5000",
			map[string]string{"X-Real-IP": "198.51.100.9"},
			"198.51.100.9",
		},
		{
			"forwarded wins over real ip",
			"192.168.1.10:5000",
			map[string]string{"X-Forwarded-For": "198.51.100.7", "X-Real-IP": "198.51.100.9"},
			"198.51.100.7",
		},
		{
			"empty forwarded entry falls back to peer",
			"127.0.0.1:5000",
			map[string]string{"X-Forwarded-For": " , 198.51.100.7"},
			"127.0.0.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/health", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.expected, GetClientIP(r))
		})
	}
}
