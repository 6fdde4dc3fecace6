package httputil

import (
	"net"
	"net/http"
	"strings"
)

// GetClientIP returns the address of the client that made r. Forwarding
// headers are honoured only when the direct peer is a loopback or private
// address, which is where a reverse proxy in front of the API would sit.
func GetClientIP(r *http.Request) string {
	peer := remoteHost(r.RemoteAddr)
	if !isProxyAddress(peer) {
		return peer
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return peer
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return strings.Trim(addr, "[]")
	}
	return host
}

func isProxyAddress(host string) bool {
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate()
}
